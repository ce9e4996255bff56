// Package supabasetest runs an in-memory stand-in for the subset of the
// Supabase APIs the gestor uses: PostgREST filters on /rest/v1, the GoTrue
// password/refresh/signup/logout/admin endpoints on /auth/v1 and object
// upload/delete on /storage/v1.
package supabasetest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Server is a fake Supabase project.
type Server struct {
	*httptest.Server

	jwtSecret []byte

	mu       sync.Mutex
	tables   map[string][]map[string]any
	users    []*user
	objects  map[string][]byte
	requests int
	failNext int
	maxRows  int
}

type user struct {
	ID        string
	Email     string
	Password  string
	CreatedAt time.Time
}

// NewServer starts a fake signing access tokens with jwtSecret.
func NewServer(jwtSecret string) *Server {
	s := &Server{
		jwtSecret: []byte(jwtSecret),
		tables:    make(map[string][]map[string]any),
		objects:   make(map[string][]byte),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// Seed appends rows to a table.
func (s *Server) Seed(table string, rows ...map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		s.tables[table] = append(s.tables[table], s.withDefaults(r))
	}
}

// Rows returns a copy of a table.
func (s *Server) Rows(table string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, len(s.tables[table]))
	for i, r := range s.tables[table] {
		out[i] = copyRow(r)
	}
	return out
}

// AddUser registers an auth user and returns its ID.
func (s *Server) AddUser(email, password string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &user{ID: uuid.NewString(), Email: email, Password: password, CreatedAt: time.Now().UTC()}
	s.users = append(s.users, u)
	return u.ID
}

// Token signs an access token for userID the way Supabase Auth does.
func (s *Server) Token(userID, email string) string {
	claims := jwt.MapClaims{
		"sub":   userID,
		"email": email,
		"aud":   "authenticated",
		"role":  "authenticated",
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		panic(err)
	}
	return tok
}

// Object returns a stored object by "<bucket>/<path>".
func (s *Server) Object(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[key]
	return b, ok
}

// Requests reports how many requests the fake has served.
func (s *Server) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// MaxRows caps every GET response at n rows, like PostgREST max-rows.
func (s *Server) MaxRows(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxRows = n
}

// FailNext makes the next n requests answer 503.
func (s *Server) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++

	if s.failNext > 0 {
		s.failNext--
		http.Error(w, `{"message":"unavailable"}`, http.StatusServiceUnavailable)
		return
	}
	if r.Header.Get("apikey") == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "No API key found in request"})
		return
	}

	switch {
	case strings.HasPrefix(r.URL.Path, "/rest/v1/"):
		s.serveRest(w, r, strings.TrimPrefix(r.URL.Path, "/rest/v1/"))
	case strings.HasPrefix(r.URL.Path, "/auth/v1/"):
		s.serveAuth(w, r, strings.TrimPrefix(r.URL.Path, "/auth/v1/"))
	case strings.HasPrefix(r.URL.Path, "/storage/v1/object/"):
		s.serveStorage(w, r, strings.TrimPrefix(r.URL.Path, "/storage/v1/object/"))
	default:
		http.NotFound(w, r)
	}
}

// ============================================================
// PostgREST
// ============================================================

var reservedParams = map[string]bool{"select": true, "order": true, "limit": true, "offset": true, "or": true}

func (s *Server) serveRest(w http.ResponseWriter, r *http.Request, table string) {
	q := r.URL.Query()
	prefer := r.Header.Get("Prefer")

	switch r.Method {
	case http.MethodGet:
		matched := s.filter(table, q)
		sortRows(matched, q.Get("order"))
		total := len(matched)
		offset := 0
		fmt.Sscan(q.Get("offset"), &offset)
		matched = paginate(matched, q, s.maxRows)
		if strings.Contains(prefer, "count=exact") {
			w.Header().Set("Content-Range", fmt.Sprintf("%d-%d/%d", offset, offset+max(len(matched)-1, 0), total))
		}
		writeJSON(w, http.StatusOK, matched)

	case http.MethodPost:
		rows, err := decodeRows(r.Body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
			return
		}
		upsert := strings.Contains(prefer, "merge-duplicates")
		var out []map[string]any
		for _, row := range rows {
			if upsert {
				if existing := s.findByID(table, row["id"]); existing != nil {
					for k, v := range row {
						existing[k] = v
					}
					out = append(out, copyRow(existing))
					continue
				}
			}
			row = s.withDefaults(row)
			s.tables[table] = append(s.tables[table], row)
			out = append(out, copyRow(row))
		}
		s.writeRepresentation(w, http.StatusCreated, prefer, out)

	case http.MethodPatch:
		var updates map[string]any
		if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
			return
		}
		var out []map[string]any
		for _, row := range s.tables[table] {
			if !matchAll(row, q) {
				continue
			}
			for k, v := range updates {
				row[k] = v
			}
			row["updated_at"] = now()
			out = append(out, copyRow(row))
		}
		s.writeRepresentation(w, http.StatusOK, prefer, out)

	case http.MethodDelete:
		kept := s.tables[table][:0]
		for _, row := range s.tables[table] {
			if !matchAll(row, q) {
				kept = append(kept, row)
			}
		}
		s.tables[table] = kept
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) writeRepresentation(w http.ResponseWriter, status int, prefer string, rows []map[string]any) {
	if !strings.Contains(prefer, "return=representation") {
		w.WriteHeader(status)
		return
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	writeJSON(w, status, rows)
}

func (s *Server) filter(table string, q url.Values) []map[string]any {
	out := []map[string]any{}
	for _, row := range s.tables[table] {
		if matchAll(row, q) {
			out = append(out, copyRow(row))
		}
	}
	return out
}

func (s *Server) findByID(table string, id any) map[string]any {
	if id == nil {
		return nil
	}
	for _, row := range s.tables[table] {
		if fmt.Sprint(row["id"]) == fmt.Sprint(id) {
			return row
		}
	}
	return nil
}

func (s *Server) withDefaults(row map[string]any) map[string]any {
	row = copyRow(row)
	if _, ok := row["id"]; !ok {
		row["id"] = uuid.NewString()
	}
	ts := now()
	if _, ok := row["created_at"]; !ok {
		row["created_at"] = ts
	}
	if _, ok := row["updated_at"]; !ok {
		row["updated_at"] = ts
	}
	return row
}

func matchAll(row map[string]any, q url.Values) bool {
	for key, vals := range q {
		if reservedParams[key] {
			continue
		}
		for _, v := range vals {
			if !matchCond(row, key, v) {
				return false
			}
		}
	}
	if or := q.Get("or"); or != "" {
		return matchOr(row, strings.TrimSuffix(strings.TrimPrefix(or, "("), ")"))
	}
	return true
}

func matchOr(row map[string]any, expr string) bool {
	for _, cond := range splitTopLevel(expr) {
		if matchExpr(row, cond) {
			return true
		}
	}
	return false
}

func matchExpr(row map[string]any, cond string) bool {
	if strings.HasPrefix(cond, "and(") {
		for _, c := range splitTopLevel(strings.TrimSuffix(strings.TrimPrefix(cond, "and("), ")")) {
			if !matchExpr(row, c) {
				return false
			}
		}
		return true
	}
	parts := strings.SplitN(cond, ".", 2)
	if len(parts) != 2 {
		return false
	}
	return matchCond(row, parts[0], parts[1])
}

// matchCond evaluates one "op.value" filter on a column.
func matchCond(row map[string]any, column, filter string) bool {
	op, value, ok := strings.Cut(filter, ".")
	if !ok {
		return false
	}
	value = unquote(value)
	raw, present := row[column]
	if op == "is" {
		return value == "null" && (!present || raw == nil)
	}
	if !present || raw == nil {
		return false
	}
	got := fmt.Sprint(raw)

	switch op {
	case "eq":
		return got == value
	case "neq":
		return got != value
	case "gt":
		return got > value
	case "gte":
		return got >= value
	case "lt":
		return got < value
	case "lte":
		return got <= value
	case "ilike", "like":
		return ilike(got, value)
	}
	return false
}

func ilike(s, pattern string) bool {
	s, pattern = strings.ToLower(s), strings.ToLower(pattern)
	prefix := strings.HasPrefix(pattern, "*")
	suffix := strings.HasSuffix(pattern, "*")
	core := strings.Trim(pattern, "*")
	switch {
	case prefix && suffix:
		return strings.Contains(s, core)
	case prefix:
		return strings.HasSuffix(s, core)
	case suffix:
		return strings.HasPrefix(s, core)
	}
	return s == core
}

// unquote strips PostgREST double quotes and their backslash escapes.
func unquote(v string) string {
	if len(v) < 2 || v[0] != '"' || v[len(v)-1] != '"' {
		return v
	}
	var b strings.Builder
	inner := v[1 : len(v)-1]
	for i := 0; i < len(inner); i++ {
		if inner[i] == '\\' && i+1 < len(inner) {
			i++
		}
		b.WriteByte(inner[i])
	}
	return b.String()
}

func splitTopLevel(expr string) []string {
	var parts []string
	depth, start := 0, 0
	inQuote, escaped := false, false
	for i, ch := range expr {
		if escaped {
			escaped = false
			continue
		}
		switch {
		case inQuote && ch == '\\':
			escaped = true
		case ch == '"':
			inQuote = !inQuote
		case inQuote:
		case ch == '(':
			depth++
		case ch == ')':
			depth--
		case ch == ',' && depth == 0:
			parts = append(parts, expr[start:i])
			start = i + 1
		}
	}
	return append(parts, expr[start:])
}

func sortRows(rows []map[string]any, order string) {
	if order == "" {
		return
	}
	keys := strings.Split(order, ",")
	sort.SliceStable(rows, func(i, j int) bool {
		for _, k := range keys {
			col, dir, _ := strings.Cut(k, ".")
			a, b := fmt.Sprint(rows[i][col]), fmt.Sprint(rows[j][col])
			if a == b {
				continue
			}
			if dir == "desc" {
				return a > b
			}
			return a < b
		}
		return false
	})
}

func paginate(rows []map[string]any, q url.Values, maxRows int) []map[string]any {
	offset, limit := 0, len(rows)
	fmt.Sscan(q.Get("offset"), &offset)
	if v := q.Get("limit"); v != "" {
		fmt.Sscan(v, &limit)
	}
	if maxRows > 0 && limit > maxRows {
		limit = maxRows
	}
	if offset > len(rows) {
		return []map[string]any{}
	}
	end := offset + limit
	if end > len(rows) {
		end = len(rows)
	}
	return rows[offset:end]
}

func decodeRows(body io.Reader) ([]map[string]any, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	raw = []byte(strings.TrimSpace(string(raw)))
	if len(raw) > 0 && raw[0] == '[' {
		var rows []map[string]any
		return rows, json.Unmarshal(raw, &rows)
	}
	var row map[string]any
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, err
	}
	return []map[string]any{row}, nil
}

// ============================================================
// GoTrue
// ============================================================

func (s *Server) serveAuth(w http.ResponseWriter, r *http.Request, path string) {
	switch {
	case r.Method == http.MethodPost && path == "token":
		var body struct {
			Email        string `json:"email"`
			Password     string `json:"password"`
			RefreshToken string `json:"refresh_token"`
		}
		json.NewDecoder(r.Body).Decode(&body)

		var u *user
		switch r.URL.Query().Get("grant_type") {
		case "password":
			u = s.userByEmail(body.Email)
			if u != nil && u.Password != body.Password {
				u = nil
			}
		case "refresh_token":
			u = s.userByID(strings.TrimPrefix(body.RefreshToken, "refresh-"))
		}
		if u == nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
		writeJSON(w, http.StatusOK, s.session(u))

	case r.Method == http.MethodPost && path == "signup":
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if s.userByEmail(body.Email) != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"msg": "User already registered"})
			return
		}
		u := &user{ID: uuid.NewString(), Email: body.Email, Password: body.Password, CreatedAt: time.Now().UTC()}
		s.users = append(s.users, u)
		writeJSON(w, http.StatusOK, s.session(u))

	case r.Method == http.MethodPost && path == "logout":
		w.WriteHeader(http.StatusNoContent)

	case r.Method == http.MethodGet && path == "admin/users":
		users := make([]map[string]any, 0, len(s.users))
		for _, u := range s.users {
			users = append(users, authUserJSON(u))
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": users})

	default:
		http.NotFound(w, r)
	}
}

func (s *Server) session(u *user) map[string]any {
	return map[string]any{
		"access_token":  s.Token(u.ID, u.Email),
		"refresh_token": "refresh-" + u.ID,
		"token_type":    "bearer",
		"expires_in":    3600,
		"user":          authUserJSON(u),
	}
}

func authUserJSON(u *user) map[string]any {
	return map[string]any{"id": u.ID, "email": u.Email, "created_at": u.CreatedAt.Format(time.RFC3339Nano)}
}

func (s *Server) userByEmail(email string) *user {
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return u
		}
	}
	return nil
}

func (s *Server) userByID(id string) *user {
	for _, u := range s.users {
		if u.ID == id {
			return u
		}
	}
	return nil
}

// ============================================================
// Storage
// ============================================================

func (s *Server) serveStorage(w http.ResponseWriter, r *http.Request, key string) {
	switch r.Method {
	case http.MethodPost, http.MethodPut:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		s.objects[key] = data
		writeJSON(w, http.StatusOK, map[string]string{"Key": key})
	case http.MethodDelete:
		if _, ok := s.objects[key]; !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "Object not found"})
			return
		}
		delete(s.objects, key)
		writeJSON(w, http.StatusOK, map[string]string{"message": "Successfully deleted"})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func copyRow(r map[string]any) map[string]any {
	out := make(map[string]any, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
