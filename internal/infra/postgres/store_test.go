package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/gestor-ciclista/gestor-api/internal/domain"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewStore(mock, zap.NewNop()), mock
}

var ciclistaCols = []string{
	"id", "nome", "email", "telefone", "data_nascimento", "morada", "codigo_postal",
	"localidade", "nif", "numero_socio", "tipo_bicicleta", "marca_bicicleta",
	"modelo_bicicleta", "numero_quadro", "foto_url", "observacoes", "ativo",
	"created_at", "updated_at",
}

func TestBuildUpdate_SortsAndNullifies(t *testing.T) {
	set, args, err := buildUpdate(map[string]any{
		"nome":            "Rui Costa",
		"email":           "",
		"data_nascimento": "1990-05-01",
	}, ciclistaUpdatable)
	require.NoError(t, err)

	assert.Equal(t, "data_nascimento = $2::date, email = $3, nome = $4, updated_at = now()", set)
	assert.Equal(t, []any{"1990-05-01", nil, "Rui Costa"}, args)
}

func TestBuildUpdate_RejectsUnknownColumn(t *testing.T) {
	_, _, err := buildUpdate(map[string]any{"id": "x"}, ciclistaUpdatable)
	assert.Error(t, err)
}

func TestWriteError(t *testing.T) {
	var conflict *domain.ErrConflict
	assert.ErrorAs(t, writeError("insert invoice", &pgconn.PgError{Code: "23505"}), &conflict)

	var ve *domain.ErrValidation
	err := writeError("insert invoice", &pgconn.PgError{Code: "23503", ColumnName: "ciclista_id"})
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "ciclista_id", ve.Field)

	err = writeError("insert invoice", errors.New("conn reset"))
	assert.EqualError(t, err, "insert invoice: conn reset")
}

func TestPageBounds(t *testing.T) {
	limit, offset := pageBounds(3, 25)
	assert.Equal(t, 25, limit)
	assert.Equal(t, 50, offset)

	limit, offset = pageBounds(0, 0)
	assert.Equal(t, 20, limit)
	assert.Equal(t, 0, offset)
}

func TestGetCiclista(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM ciclistas WHERE id::text = $1")).
		WithArgs("c-1").
		WillReturnRows(pgxmock.NewRows(ciclistaCols).AddRow(
			"c-1", "Joana Silva", "joana@example.pt", "912345678", "1988-02-14", "Rua A",
			"1000-100", "Lisboa", "123456789", "42", "Estrada", "Specialized", "Tarmac",
			"WSBC123", "", "", true, now, now,
		))

	c, err := store.GetCiclista(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, "Joana Silva", c.Nome)
	assert.Equal(t, "123456789", c.NIF)
	assert.True(t, c.Ativo)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCiclista_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM ciclistas WHERE id::text = $1")).
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows(ciclistaCols))

	_, err := store.GetCiclista(context.Background(), "missing")
	var nf *domain.ErrNotFound
	assert.ErrorAs(t, err, &nf)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteCiclista_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM ciclistas")).
		WithArgs("c-9").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := store.DeleteCiclista(context.Background(), "c-9")
	var nf *domain.ErrNotFound
	assert.ErrorAs(t, err, &nf)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountCiclistas(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FILTER (WHERE ativo)")).
		WillReturnRows(pgxmock.NewRows([]string{"total", "ativos"}).AddRow(12, 9))

	total, ativos, err := store.CountCiclistas(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, total)
	assert.Equal(t, 9, ativos)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindCiclistaByNIFOrEmail_Empty(t *testing.T) {
	store, mock := newMockStore(t)

	c, err := store.FindCiclistaByNIFOrEmail(context.Background(), "", "")
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertAuditLog(t *testing.T) {
	store, mock := newMockStore(t)
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_logs")).
		WithArgs(ts, "admin@clube.pt", domain.ActionCiclistaEliminado, `Ciclista "Rui" eliminado`,
			pgxmock.AnyArg(), domain.EntityCiclista, "c-1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.InsertAuditLog(context.Background(), &domain.AuditLog{
		Timestamp:  ts,
		UserEmail:  "admin@clube.pt",
		Action:     domain.ActionCiclistaEliminado,
		Details:    `Ciclista "Rui" eliminado`,
		EntityType: domain.EntityCiclista,
		EntityID:   "c-1",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProfile_Missing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM profiles WHERE id::text = $1")).
		WithArgs("u-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "email", "role", "created_at"}))

	p, err := store.GetProfile(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateProfileRole_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE profiles SET role")).
		WithArgs("u-1", "admin").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.UpdateProfileRole(context.Background(), "u-1", domain.RoleAdmin)
	var nf *domain.ErrNotFound
	assert.ErrorAs(t, err, &nf)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountAdmins(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE role = 'admin'")).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(2))

	n, err := store.CountAdmins(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMaxInvoiceSeq(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM invoices WHERE numero LIKE $1")).
		WithArgs("FT2026/%").
		WillReturnRows(pgxmock.NewRows([]string{"coalesce"}).AddRow(12))

	n, err := store.MaxInvoiceSeq(context.Background(), 2026)
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
