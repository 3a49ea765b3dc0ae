// gate.go — scan gate: статусы антивирусной проверки объектов
// и решение о выдаче GET presign.
//
// Статус меняется только через CAS по предыдущему статусу, поэтому
// два сканера не могут взять один объект. Кэшируются только CLEAN-вердикты.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/upload-broker/internal/domain/model"
	"github.com/bigkaa/goartstore/upload-broker/internal/domain/scan"
	"github.com/bigkaa/goartstore/upload-broker/internal/queue"
	"github.com/bigkaa/goartstore/upload-broker/internal/repository"
	"github.com/bigkaa/goartstore/upload-broker/internal/storage/presign"
)

// Prometheus-метрики scan gate.
var (
	gateDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ub_gate_decisions_total",
		Help: "Решения scan gate по запросам GET presign.",
	}, []string{"decision"})

	scanTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ub_scan_transitions_total",
		Help: "Переходы статусов сканирования.",
	}, []string{"from", "to"})

	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ub_uploads_total",
		Help: "Зафиксированные загрузки объектов (по источнику).",
	}, []string{"source"})
)

// Источники факта загрузки.
const (
	UploadSourcePut   = "put"
	UploadSourceProbe = "probe"
)

// ScanGate — хранилище статусов + политика доступа.
type ScanGate struct {
	repo        repository.ObjectRepository
	backend     presign.Backend
	publisher   queue.Publisher
	cache       *VerdictCache
	keyPrefix   string
	maxAttempts int
	now         func() time.Time
	logger      *slog.Logger
}

// NewScanGate создаёт scan gate.
// maxAttempts — лимит попыток сканирования (0 — без лимита).
func NewScanGate(
	repo repository.ObjectRepository,
	backend presign.Backend,
	publisher queue.Publisher,
	cache *VerdictCache,
	keyPrefix string,
	maxAttempts int,
	logger *slog.Logger,
) *ScanGate {
	return &ScanGate{
		repo:        repo,
		backend:     backend,
		publisher:   publisher,
		cache:       cache,
		keyPrefix:   keyPrefix,
		maxAttempts: maxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logger.With(slog.String("component", "scan_gate")),
	}
}

// MaxAttempts возвращает лимит попыток сканирования.
func (g *ScanGate) MaxAttempts() int { return g.maxAttempts }

// Register регистрирует ключ в статусе PENDING.
func (g *ScanGate) Register(ctx context.Context, key, contentType string) (*model.Object, error) {
	now := g.now()
	obj, err := g.repo.Register(ctx, &model.Object{
		Key:          key,
		ContentType:  contentType,
		SubmissionID: SubmissionIDFromKey(key, g.keyPrefix),
		CreatedAt:    now,
	})
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyUploaded) {
			return nil, fmt.Errorf("%w: %s", ErrObjectExists, key)
		}
		return nil, fmt.Errorf("регистрация ключа %s: %w", key, err)
	}
	return obj, nil
}

// MarkUploaded фиксирует запись байтов объекта и публикует задание на сканирование.
func (g *ScanGate) MarkUploaded(ctx context.Context, key string, size int64, source string) (*model.Object, error) {
	obj, err := g.repo.MarkUploaded(ctx, key, size, g.now())
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		case errors.Is(err, repository.ErrAlreadyUploaded):
			return nil, fmt.Errorf("%w: %s", ErrObjectExists, key)
		default:
			return nil, fmt.Errorf("отметка загрузки %s: %w", key, err)
		}
	}

	uploadsTotal.WithLabelValues(source).Inc()
	g.logger.Info("Объект загружен, ожидает сканирования",
		slog.String("key", key),
		slog.Int64("size", size),
		slog.String("source", source),
	)
	g.publish(ctx, obj)
	return obj, nil
}

// GetStatus возвращает объект с текущим статусом.
func (g *ScanGate) GetStatus(ctx context.Context, key string) (*model.Object, error) {
	if obj, ok := g.cache.Get(key); ok {
		return obj, nil
	}
	obj, err := g.repo.Get(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("получение статуса %s: %w", key, err)
	}
	g.cache.Set(obj)
	return obj, nil
}

// SetStatus переводит объект в статус to из текущего.
// Переход проверяется автоматом и применяется CAS по прочитанному статусу.
// В SCANNING переводится только загруженный объект.
func (g *ScanGate) SetStatus(ctx context.Context, key string, to model.ScanStatus, detail string) (*model.Object, error) {
	cur, err := g.repo.Get(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("получение статуса %s: %w", key, err)
	}
	if to == model.ScanScanning && !cur.Uploaded() {
		return nil, fmt.Errorf("%w: %s", ErrNotUploaded, key)
	}
	return g.transition(ctx, cur, to, detail)
}

// Claim переводит загруженный объект PENDING → SCANNING для сканера.
func (g *ScanGate) Claim(ctx context.Context, key string) (*model.Object, error) {
	cur, err := g.repo.Get(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("получение статуса %s: %w", key, err)
	}
	if !cur.Uploaded() {
		return nil, fmt.Errorf("%w: %s", ErrNotUploaded, key)
	}
	if cur.Status != model.ScanPending {
		return nil, fmt.Errorf("%w: %s в статусе %s", ErrConflict, key, cur.Status)
	}
	return g.transition(ctx, cur, model.ScanScanning, "")
}

// ListPending возвращает загруженные PENDING-объекты, старые первыми.
func (g *ScanGate) ListPending(ctx context.Context, limit int) ([]*model.Object, error) {
	objs, err := g.repo.List(ctx, repository.ListFilter{
		Status:       model.ScanPending,
		UploadedOnly: true,
		Limit:        limit,
	})
	if err != nil {
		return nil, fmt.Errorf("выборка PENDING: %w", err)
	}
	return objs, nil
}

// Authorize решает, можно ли выдать GET presign для ключа.
// nil — объект CLEAN. Иначе ErrNotFound, ErrScanPending, ErrScanRejected или ErrScanFailed.
func (g *ScanGate) Authorize(ctx context.Context, key string) (*model.Object, error) {
	if obj, ok := g.cache.Get(key); ok {
		gateDecisionsTotal.WithLabelValues(scan.AccessAllow.String()).Inc()
		return obj, nil
	}

	obj, err := g.repo.Get(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			gateDecisionsTotal.WithLabelValues("not_found").Inc()
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("получение статуса %s: %w", key, err)
	}

	if !obj.Uploaded() {
		return nil, g.probeUpload(ctx, obj)
	}

	decision := scan.Decide(obj.Status, obj.ScanAttempts, g.maxAttempts)
	gateDecisionsTotal.WithLabelValues(decision.String()).Inc()

	switch decision {
	case scan.AccessAllow:
		g.cache.Set(obj)
		return obj, nil
	case scan.AccessRejected:
		g.logger.Warn("Запрос GET presign для заражённого объекта",
			slog.Bool("audit", true),
			slog.String("key", key),
			slog.String("detail", obj.ScanDetail),
		)
		return nil, fmt.Errorf("%w: %s", ErrScanRejected, key)
	case scan.AccessFailed:
		return nil, fmt.Errorf("%w: %s (попыток %d)", ErrScanFailed, key, obj.ScanAttempts)
	default:
		return nil, fmt.Errorf("%w: %s в статусе %s", ErrScanPending, key, obj.Status)
	}
}

// probeUpload проверяет наличие байтов в хранилище для ключа без отметки загрузки.
// Найденный объект отмечается загруженным и уходит на сканирование.
func (g *ScanGate) probeUpload(ctx context.Context, obj *model.Object) error {
	info, err := g.backend.Stat(ctx, obj.Key)
	if err != nil {
		if errors.Is(err, presign.ErrObjectNotFound) {
			gateDecisionsTotal.WithLabelValues("not_found").Inc()
			return fmt.Errorf("%w: %s", ErrNotFound, obj.Key)
		}
		return fmt.Errorf("проверка наличия %s: %w", obj.Key, err)
	}

	if _, err := g.MarkUploaded(ctx, obj.Key, info.Size, UploadSourceProbe); err != nil &&
		!errors.Is(err, ErrObjectExists) {
		return err
	}
	gateDecisionsTotal.WithLabelValues(scan.AccessPending.String()).Inc()
	return fmt.Errorf("%w: %s", ErrScanPending, obj.Key)
}

// transition проверяет и применяет переход cur.Status → to.
func (g *ScanGate) transition(ctx context.Context, cur *model.Object, to model.ScanStatus, detail string) (*model.Object, error) {
	if err := scan.Validate(cur.Status, to, cur.ScanAttempts, g.maxAttempts); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTransition, err)
	}

	obj, err := g.repo.Transition(ctx, cur.Key, cur.Status, to, detail, g.now())
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, fmt.Errorf("%w: %s", ErrNotFound, cur.Key)
		case errors.Is(err, repository.ErrConflict):
			return nil, fmt.Errorf("%w: %s (ожидался %s)", ErrConflict, cur.Key, cur.Status)
		default:
			return nil, fmt.Errorf("переход %s %s → %s: %w", cur.Key, cur.Status, to, err)
		}
	}

	scanTransitionsTotal.WithLabelValues(string(cur.Status), string(to)).Inc()
	g.logger.Info("Статус сканирования изменён",
		slog.String("key", obj.Key),
		slog.String("from", string(cur.Status)),
		slog.String("to", string(to)),
		slog.Int("attempts", obj.ScanAttempts),
	)

	switch to {
	case model.ScanClean:
		g.cache.Set(obj)
	case model.ScanInfected:
		g.logger.Warn("Обнаружена угроза",
			slog.Bool("audit", true),
			slog.String("key", obj.Key),
			slog.String("detail", detail),
		)
	case model.ScanPending:
		g.publish(ctx, obj)
	}
	return obj, nil
}

// publish отправляет задание на сканирование. Ошибка только логируется:
// объект остаётся доступен сканерам через ListPending.
func (g *ScanGate) publish(ctx context.Context, obj *model.Object) {
	job := queue.ScanJob{
		Key:         obj.Key,
		ContentType: obj.ContentType,
		Size:        obj.Size,
		Attempt:     obj.ScanAttempts + 1,
		EnqueuedAt:  g.now(),
	}
	if err := g.publisher.PublishScanJob(ctx, job); err != nil {
		g.logger.Warn("Ошибка публикации задания на сканирование",
			slog.String("key", obj.Key),
			slog.String("error", err.Error()),
		)
	}
}
