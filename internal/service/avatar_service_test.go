package service

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/gestor-ciclista/gestor-api/internal/domain"

	"github.com/chai2010/webp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// pngHeader is a PNG signature plus an IHDR chunk declaring a w x h
// 8-bit grayscale canvas, with no pixel data.
func pngHeader(w, h uint32) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], w)
	binary.BigEndian.PutUint32(ihdr[4:], h)
	ihdr[8] = 8 // bit depth
	chunk := append([]byte("IHDR"), ihdr...)

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	buf.Write(chunk)
	binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func newAvatarService(store *memStore, storage *memStorage, auditor *recordingAuditor) *AvatarService {
	return NewAvatarService(store, storage, auditor, 64, 1<<20, testMetrics(), nop())
}

func TestAvatarUpload_ReplacesPhoto(t *testing.T) {
	store, storage, auditor := newMemStore(), newMemStorage(), &recordingAuditor{}
	store.ciclistas["c-1"] = &domain.Ciclista{ID: "c-1", Nome: "Rui Costa", FotoURL: storageBase + "c-1/old.webp"}
	storage.objects["c-1/old.webp"] = []byte("old")
	svc := newAvatarService(store, storage, auditor)

	c, err := svc.Upload(context.Background(), admin, "c-1", pngBytes(t, 120, 80), nil)
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(c.FotoURL, storageBase+"c-1/"))
	assert.True(t, strings.HasSuffix(c.FotoURL, ".webp"))
	assert.Equal(t, []string{"c-1/old.webp"}, storage.removed)

	path, _ := storage.ObjectPath(c.FotoURL)
	cfg, err := webp.DecodeConfig(bytes.NewReader(storage.objects[path]))
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Width)
	assert.Equal(t, 64, cfg.Height)

	require.Len(t, auditor.entries, 1)
	e := auditor.entries[0]
	assert.Equal(t, domain.ActionFotoAtualizada, e.Action)
	assert.Equal(t, "c-1", e.EntityID)
}

func TestAvatarUpload_RejectsUnsupported(t *testing.T) {
	store := newMemStore()
	store.ciclistas["c-1"] = &domain.Ciclista{ID: "c-1", Nome: "Rui Costa"}
	svc := newAvatarService(store, newMemStorage(), &recordingAuditor{})

	_, err := svc.Upload(context.Background(), admin, "c-1", []byte("%PDF-1.4 not an image"), nil)
	var um *domain.ErrUnsupportedMedia
	assert.ErrorAs(t, err, &um)
}

func TestAvatarUpload_TooLarge(t *testing.T) {
	svc := NewAvatarService(newMemStore(), newMemStorage(), &recordingAuditor{}, 64, 10, testMetrics(), nop())

	_, err := svc.Upload(context.Background(), admin, "c-1", pngBytes(t, 10, 10), nil)
	var tl *domain.ErrPayloadTooLarge
	require.ErrorAs(t, err, &tl)
	assert.Equal(t, int64(10), tl.Limit)
}

func TestAvatarUpload_RejectsHugeCanvas(t *testing.T) {
	store, storage := newMemStore(), newMemStorage()
	store.ciclistas["c-1"] = &domain.Ciclista{ID: "c-1", Nome: "Rui Costa"}
	svc := newAvatarService(store, storage, &recordingAuditor{})

	_, err := svc.Upload(context.Background(), admin, "c-1", pngHeader(12000, 12000), nil)
	var ve *domain.ErrValidation
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "file", ve.Field)
	assert.Empty(t, storage.objects)
}

func TestCheckDimensions(t *testing.T) {
	assert.NoError(t, checkDimensions(pngBytes(t, 20, 10)))
	assert.NoError(t, checkDimensions(pngHeader(6000, 6000)))
	assert.Error(t, checkDimensions(pngHeader(8000, 6000)))
	assert.Error(t, checkDimensions([]byte("\x89PNG\r\n\x1a\n")))
}

func TestAvatarDelete(t *testing.T) {
	store, storage, auditor := newMemStore(), newMemStorage(), &recordingAuditor{}
	store.ciclistas["c-1"] = &domain.Ciclista{ID: "c-1", Nome: "Rui Costa", FotoURL: storageBase + "c-1/a.webp"}
	svc := newAvatarService(store, storage, auditor)

	c, err := svc.Delete(context.Background(), admin, "c-1")
	require.NoError(t, err)
	assert.Empty(t, c.FotoURL)
	assert.Equal(t, []string{"c-1/a.webp"}, storage.removed)
	assert.Equal(t, []string{domain.ActionFotoRemovida}, auditor.actions())

	_, err = svc.Delete(context.Background(), admin, "c-1")
	var nf *domain.ErrNotFound
	assert.ErrorAs(t, err, &nf)
}

func TestCropBounds(t *testing.T) {
	b := image.Rect(0, 0, 200, 100)

	assert.Equal(t, image.Rect(50, 0, 150, 100), CropBounds(b, nil), "centre square")
	assert.Equal(t, image.Rect(10, 20, 60, 70), CropBounds(b, &domain.CropRect{X: 10, Y: 20, Width: 50, Height: 50}))
	assert.Equal(t, image.Rect(180, 65, 200, 85), CropBounds(b, &domain.CropRect{X: 180, Y: 50, Width: 90, Height: 90}), "clamped then squared")
	assert.Equal(t, image.Rect(35, 10, 65, 40), CropBounds(b, &domain.CropRect{X: 10, Y: 10, Width: 80, Height: 30}), "wide crop is centre-squared")
	assert.Equal(t, image.Rect(50, 0, 150, 100), CropBounds(b, &domain.CropRect{X: 500, Y: 500, Width: 10, Height: 10}), "outside falls back")
}
