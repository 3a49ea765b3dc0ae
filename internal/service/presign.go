// presign.go — выдача presigned URL: PUT регистрирует ключ в scan gate,
// GET выдаётся только для CLEAN-объектов.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"slices"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/upload-broker/internal/storage/presign"
)

// presignTotal — выданные и отклонённые presign-запросы.
var presignTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ub_presign_total",
	Help: "Количество presign-запросов (по операции и результату).",
}, []string{"op", "result"})

// PresignedURL — выписанный URL.
type PresignedURL struct {
	URL       string
	Key       string
	ExpiresAt time.Time
}

// PresignService — выдача presigned PUT/GET URL.
type PresignService struct {
	backend   presign.Backend
	gate      *ScanGate
	keyPrefix string
	// allowed — разрешённые media type в нижнем регистре (пусто — любые)
	allowed []string
	now     func() time.Time
	logger  *slog.Logger
}

// NewPresignService создаёт сервис presign.
func NewPresignService(
	backend presign.Backend,
	gate *ScanGate,
	keyPrefix string,
	allowedContentTypes []string,
	logger *slog.Logger,
) *PresignService {
	return &PresignService{
		backend:   backend,
		gate:      gate,
		keyPrefix: keyPrefix,
		allowed:   allowedContentTypes,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.With(slog.String("component", "presign_service")),
	}
}

// PresignPut регистрирует ключ в статусе PENDING и выписывает PUT URL.
// Размер объекта на этом уровне не проверяется.
func (s *PresignService) PresignPut(ctx context.Context, key, contentType string) (*PresignedURL, error) {
	if err := ValidateKey(key, s.keyPrefix); err != nil {
		presignTotal.WithLabelValues(presign.OpPut, "invalid").Inc()
		return nil, err
	}
	ct, err := s.checkContentType(contentType)
	if err != nil {
		presignTotal.WithLabelValues(presign.OpPut, "invalid").Inc()
		return nil, err
	}

	if _, err := s.gate.Register(ctx, key, ct); err != nil {
		presignTotal.WithLabelValues(presign.OpPut, "rejected").Inc()
		return nil, err
	}

	issued := s.now()
	url, err := s.backend.PresignPut(ctx, key, ct, presign.TTL)
	if err != nil {
		presignTotal.WithLabelValues(presign.OpPut, "error").Inc()
		return nil, fmt.Errorf("подпись PUT %s: %w", key, err)
	}

	presignTotal.WithLabelValues(presign.OpPut, "ok").Inc()
	s.logger.Debug("Выписан PUT URL",
		slog.String("key", key),
		slog.String("content_type", ct),
		slog.String("backend", s.backend.Name()),
	)
	return &PresignedURL{URL: url, Key: key, ExpiresAt: issued.Add(presign.TTL)}, nil
}

// PresignGet выписывает GET URL, если scan gate разрешает доступ.
func (s *PresignService) PresignGet(ctx context.Context, key string) (*PresignedURL, error) {
	if err := ValidateKey(key, ""); err != nil {
		presignTotal.WithLabelValues(presign.OpGet, "invalid").Inc()
		return nil, err
	}

	if _, err := s.gate.Authorize(ctx, key); err != nil {
		presignTotal.WithLabelValues(presign.OpGet, "blocked").Inc()
		return nil, err
	}

	issued := s.now()
	url, err := s.backend.PresignGet(ctx, key, presign.TTL)
	if err != nil {
		presignTotal.WithLabelValues(presign.OpGet, "error").Inc()
		return nil, fmt.Errorf("подпись GET %s: %w", key, err)
	}

	presignTotal.WithLabelValues(presign.OpGet, "ok").Inc()
	return &PresignedURL{URL: url, Key: key, ExpiresAt: issued.Add(presign.TTL)}, nil
}

// checkContentType разбирает MIME-тип и сверяет его со списком разрешённых.
// Возвращает тип в исходной записи: он входит в подпись PUT.
func (s *PresignService) checkContentType(contentType string) (string, error) {
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		return "", fmt.Errorf("%w: пустой тип", ErrInvalidContentType)
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidContentType, contentType, err)
	}
	if len(s.allowed) > 0 && !slices.Contains(s.allowed, mediaType) {
		return "", fmt.Errorf("%w: %s не разрешён", ErrInvalidContentType, mediaType)
	}
	return contentType, nil
}
