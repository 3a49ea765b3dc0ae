// reaper.go — фоновая обработка зависших и неудачных сканирований.
//
// Каждый запуск выполняет две фазы:
//  1. SCANNING дольше scanTimeout → ERROR (сканер пропал)
//  2. ERROR с оставшимися попытками → PENDING + повторная публикация задания
//
// ERROR без попыток остаётся конечным: GET presign для него отдаёт 500.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/upload-broker/internal/domain/model"
	"github.com/bigkaa/goartstore/upload-broker/internal/domain/scan"
	"github.com/bigkaa/goartstore/upload-broker/internal/repository"
)

// Prometheus-метрики reaper.
var (
	reaperRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ub_reaper_runs_total",
		Help: "Общее количество запусков reaper.",
	})

	reaperDemotedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ub_reaper_demoted_total",
		Help: "Зависшие SCANNING, переведённые в ERROR.",
	})

	reaperRequeuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ub_reaper_requeued_total",
		Help: "ERROR-объекты, возвращённые в очередь сканирования.",
	})

	reaperDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ub_reaper_duration_seconds",
		Help:    "Длительность одного запуска reaper в секундах.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	})
)

// reaperBatch — максимум объектов одного статуса за запуск.
const reaperBatch = 1000

// timeoutDetail — вердикт для сканирования, не завершённого вовремя.
const timeoutDetail = "scan timeout"

// ReaperResult — результат одного запуска.
type ReaperResult struct {
	Demoted  int
	Requeued int
	Errors   int
	Duration time.Duration
}

// Reaper — фоновый сервис повторной постановки сканирований.
type Reaper struct {
	gate        *ScanGate
	repo        repository.ObjectRepository
	scanTimeout time.Duration
	interval    time.Duration
	logger      *slog.Logger

	mu     sync.Mutex // защита от параллельного RunOnce
	cancel context.CancelFunc
	done   chan struct{}
}

// NewReaper создаёт reaper.
func NewReaper(
	gate *ScanGate,
	repo repository.ObjectRepository,
	scanTimeout time.Duration,
	interval time.Duration,
	logger *slog.Logger,
) *Reaper {
	return &Reaper{
		gate:        gate,
		repo:        repo,
		scanTimeout: scanTimeout,
		interval:    interval,
		logger:      logger.With(slog.String("component", "reaper")),
	}
}

// Start запускает фоновую горутину с периодическим тикером.
func (r *Reaper) Start(ctx context.Context) {
	rctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.run(rctx)

	r.logger.Info("Reaper запущен",
		slog.String("interval", r.interval.String()),
		slog.String("scan_timeout", r.scanTimeout.String()),
	)
}

// Stop останавливает фоновую горутину и дожидается её завершения.
func (r *Reaper) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	r.logger.Info("Reaper остановлен")
}

func (r *Reaper) run(ctx context.Context) {
	defer close(r.done)

	r.RunOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один цикл обработки.
func (r *Reaper) RunOnce(ctx context.Context) *ReaperResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	result := &ReaperResult{}

	demoted, errs := r.demoteStale(ctx)
	result.Demoted = demoted
	result.Errors += errs

	requeued, errs := r.requeueFailed(ctx)
	result.Requeued = requeued
	result.Errors += errs

	result.Duration = time.Since(start)

	reaperRunsTotal.Inc()
	reaperDemotedTotal.Add(float64(demoted))
	reaperRequeuedTotal.Add(float64(requeued))
	reaperDurationSeconds.Observe(result.Duration.Seconds())

	if demoted > 0 || requeued > 0 || result.Errors > 0 {
		r.logger.Info("Reaper завершён",
			slog.Int("demoted", result.Demoted),
			slog.Int("requeued", result.Requeued),
			slog.Int("errors", result.Errors),
			slog.Duration("duration", result.Duration),
		)
	}
	return result
}

// demoteStale переводит зависшие SCANNING в ERROR.
func (r *Reaper) demoteStale(ctx context.Context) (count, errs int) {
	cutoff := r.gate.now().Add(-r.scanTimeout)
	stale, err := r.repo.List(ctx, repository.ListFilter{
		Status:        model.ScanScanning,
		EnteredBefore: cutoff,
		Limit:         reaperBatch,
	})
	if err != nil {
		r.logger.Error("Reaper: ошибка выборки SCANNING", slog.String("error", err.Error()))
		return 0, 1
	}

	for _, obj := range stale {
		if _, err := r.gate.transition(ctx, obj, model.ScanError, timeoutDetail); err != nil {
			// Сканер успел сообщить результат
			if errors.Is(err, ErrConflict) {
				continue
			}
			r.logger.Error("Reaper: ошибка перевода в ERROR",
				slog.String("key", obj.Key),
				slog.String("error", err.Error()),
			)
			errs++
			continue
		}
		r.logger.Warn("Сканирование не завершено вовремя",
			slog.String("key", obj.Key),
			slog.Int("attempts", obj.ScanAttempts),
		)
		count++
	}
	return count, errs
}

// requeueFailed возвращает ERROR с оставшимися попытками в PENDING.
// Исчерпанные объекты отсекаются в самом хранилище и не занимают пакет.
func (r *Reaper) requeueFailed(ctx context.Context) (count, errs int) {
	failed, err := r.repo.List(ctx, repository.ListFilter{
		Status:      model.ScanError,
		MaxAttempts: r.gate.MaxAttempts(),
		Limit:       reaperBatch,
	})
	if err != nil {
		r.logger.Error("Reaper: ошибка выборки ERROR", slog.String("error", err.Error()))
		return 0, 1
	}

	for _, obj := range failed {
		if scan.Exhausted(obj.ScanAttempts, r.gate.MaxAttempts()) {
			continue
		}
		if _, err := r.gate.transition(ctx, obj, model.ScanPending, ""); err != nil {
			if errors.Is(err, ErrConflict) {
				continue
			}
			r.logger.Error("Reaper: ошибка повторной постановки",
				slog.String("key", obj.Key),
				slog.String("error", err.Error()),
			)
			errs++
			continue
		}
		count++
	}
	return count, errs
}
