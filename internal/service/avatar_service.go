package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"time"

	"github.com/gestor-ciclista/gestor-api/internal/domain"
	"github.com/gestor-ciclista/gestor-api/internal/infra/observability"
	"github.com/gestor-ciclista/gestor-api/internal/port"

	"github.com/chai2010/webp"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

var avatarTracer = otel.Tracer("service/avatars")

const (
	avatarContentType = "image/webp"
	avatarQuality     = 85

	// maxAvatarPixels bounds the decoded canvas; a few KB of PNG can
	// declare a canvas of gigabytes.
	maxAvatarPixels = 40_000_000
)

// AvatarService processes and stores member photos.
type AvatarService struct {
	store    port.CiclistaStore
	storage  port.ObjectStorage
	audit    Auditor
	size     int
	maxBytes int64
	metrics  *observability.Metrics
	logger   *zap.Logger
}

func NewAvatarService(store port.CiclistaStore, storage port.ObjectStorage, audit Auditor, size int, maxBytes int64, metrics *observability.Metrics, logger *zap.Logger) *AvatarService {
	return &AvatarService{
		store:    store,
		storage:  storage,
		audit:    audit,
		size:     size,
		maxBytes: maxBytes,
		metrics:  metrics,
		logger:   logger,
	}
}

// MaxBytes is the upload size limit.
func (s *AvatarService) MaxBytes() int64 { return s.maxBytes }

// Upload crops, resizes and re-encodes data as a square WebP, stores it
// under <ciclista_id>/<uuid>.webp and points foto_url at it. The previous
// photo object is removed afterwards.
func (s *AvatarService) Upload(ctx context.Context, actor *domain.Principal, ciclistaID string, data []byte, crop *domain.CropRect) (*domain.Ciclista, error) {
	ctx, span := avatarTracer.Start(ctx, "AvatarService.Upload")
	defer span.End()
	span.SetAttributes(attribute.String("ciclista.id", ciclistaID), attribute.Int("upload.bytes", len(data)))

	start := time.Now()
	defer func() { s.metrics.RecordRequestDuration("avatars.upload", time.Since(start)) }()

	if int64(len(data)) > s.maxBytes {
		s.metrics.IncrAvatarUpload("too_large")
		return nil, &domain.ErrPayloadTooLarge{Limit: s.maxBytes}
	}
	mt := mimetype.Detect(data)
	if !domain.AvatarMediaTypes[mt.String()] {
		s.metrics.IncrAvatarUpload("unsupported")
		return nil, &domain.ErrUnsupportedMedia{MediaType: mt.String()}
	}
	if err := checkDimensions(data); err != nil {
		s.metrics.IncrAvatarUpload("invalid")
		return nil, err
	}

	c, err := s.store.GetCiclista(ctx, ciclistaID)
	if err != nil {
		return nil, err
	}

	encoded, err := s.process(data, crop)
	if err != nil {
		s.metrics.IncrAvatarUpload("invalid")
		return nil, err
	}

	path := fmt.Sprintf("%s/%s.webp", c.ID, uuid.NewString())
	url, err := s.storage.PutObject(ctx, path, avatarContentType, encoded)
	if err != nil {
		s.metrics.IncrAvatarUpload("error")
		s.metrics.IncrExternalError("storage")
		return nil, fmt.Errorf("store avatar: %w", err)
	}

	updated, err := s.store.UpdateCiclista(ctx, c.ID, map[string]any{"foto_url": url})
	if err != nil {
		s.removeObject(ctx, path)
		return nil, fmt.Errorf("update foto_url: %w", err)
	}

	if c.FotoURL != "" {
		if old, ok := s.storage.ObjectPath(c.FotoURL); ok && old != path {
			s.removeObject(ctx, old)
		}
	}

	s.metrics.IncrAvatarUpload("ok")
	s.audit.Record(domain.AuditLog{
		UserEmail: actor.Actor(),
		Action:    domain.ActionFotoAtualizada,
		Details:   fmt.Sprintf("Foto do ciclista %q atualizada (ID: %s)", c.Nome, c.ID),
		Changes: []domain.FieldChange{
			{Field: "foto_url", OldValue: nullableString(c.FotoURL), NewValue: url},
		},
		EntityType: domain.EntityCiclista,
		EntityID:   c.ID,
	})
	return updated, nil
}

// Delete removes the member photo and clears foto_url.
func (s *AvatarService) Delete(ctx context.Context, actor *domain.Principal, ciclistaID string) (*domain.Ciclista, error) {
	ctx, span := avatarTracer.Start(ctx, "AvatarService.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("ciclista.id", ciclistaID))

	c, err := s.store.GetCiclista(ctx, ciclistaID)
	if err != nil {
		return nil, err
	}
	if c.FotoURL == "" {
		return nil, &domain.ErrNotFound{Resource: "foto", ID: ciclistaID}
	}

	if path, ok := s.storage.ObjectPath(c.FotoURL); ok {
		if err := s.storage.RemoveObject(ctx, path); err != nil {
			s.metrics.IncrExternalError("storage")
			return nil, fmt.Errorf("remove avatar: %w", err)
		}
	}

	updated, err := s.store.UpdateCiclista(ctx, c.ID, map[string]any{"foto_url": nil})
	if err != nil {
		return nil, fmt.Errorf("clear foto_url: %w", err)
	}

	s.audit.Record(domain.AuditLog{
		UserEmail: actor.Actor(),
		Action:    domain.ActionFotoRemovida,
		Details:   fmt.Sprintf("Foto do ciclista %q removida (ID: %s)", c.Nome, c.ID),
		Changes: []domain.FieldChange{
			{Field: "foto_url", OldValue: c.FotoURL, NewValue: nil},
		},
		EntityType: domain.EntityCiclista,
		EntityID:   c.ID,
	})
	return updated, nil
}

func (s *AvatarService) process(data []byte, crop *domain.CropRect) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &domain.ErrValidation{Field: "file", Message: "Imagem inválida ou corrompida"}
	}

	dst := image.NewRGBA(image.Rect(0, 0, s.size, s.size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, CropBounds(src.Bounds(), crop), draw.Src, nil)

	var buf bytes.Buffer
	if err := webp.Encode(&buf, dst, &webp.Options{Quality: avatarQuality}); err != nil {
		return nil, fmt.Errorf("encode webp: %w", err)
	}
	return buf.Bytes(), nil
}

// checkDimensions reads only the image header and rejects canvases above
// maxAvatarPixels before anything is decoded.
func checkDimensions(data []byte) error {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return &domain.ErrValidation{Field: "file", Message: "Imagem inválida ou corrompida"}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > maxAvatarPixels {
		return &domain.ErrValidation{Field: "file", Message: "Dimensões da imagem demasiado grandes"}
	}
	return nil
}

func (s *AvatarService) removeObject(ctx context.Context, path string) {
	if err := s.storage.RemoveObject(ctx, path); err != nil {
		s.logger.Warn("avatar: object not removed", zap.String("path", path), zap.Error(err))
	}
}

// CropBounds returns the square source rectangle to scale: the largest
// square centred in the requested crop (clamped to the image), or in the
// whole image when crop is nil, empty or outside it.
func CropBounds(b image.Rectangle, crop *domain.CropRect) image.Rectangle {
	area := b
	if crop != nil && crop.Width > 0 && crop.Height > 0 {
		r := image.Rect(
			b.Min.X+crop.X, b.Min.Y+crop.Y,
			b.Min.X+crop.X+crop.Width, b.Min.Y+crop.Y+crop.Height,
		).Intersect(b)
		if !r.Empty() {
			area = r
		}
	}

	side := area.Dx()
	if area.Dy() < side {
		side = area.Dy()
	}
	x := area.Min.X + (area.Dx()-side)/2
	y := area.Min.Y + (area.Dy()-side)/2
	return image.Rect(x, y, x+side, y+side)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
