// Пакет queue — публикация заданий на антивирусную проверку.
// Сканер получает задание, когда байты объекта записаны в хранилище.
// Потеря задания не блокирует объект: сканеры в pull-режиме
// забирают PENDING-объекты через GET /api/v1/scan/pending.
package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// publishedTotal — результаты публикации заданий.
var publishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ub_scan_jobs_published_total",
	Help: "Количество опубликованных заданий на сканирование (по бэкенду и результату).",
}, []string{"backend", "result"})

// ScanJob — задание на сканирование объекта.
type ScanJob struct {
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Attempt     int       `json:"attempt"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// Publisher публикует задания на сканирование.
type Publisher interface {
	PublishScanJob(ctx context.Context, job ScanJob) error
	Close() error
}

// LogPublisher только пишет задание в лог.
// Используется, когда сканеры работают в pull-режиме.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher создаёт LogPublisher.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With(slog.String("component", "scan_queue"))}
}

// PublishScanJob пишет задание в лог.
func (p *LogPublisher) PublishScanJob(_ context.Context, job ScanJob) error {
	p.logger.Info("Объект готов к сканированию",
		slog.String("key", job.Key),
		slog.String("content_type", job.ContentType),
		slog.Int64("size", job.Size),
		slog.Int("attempt", job.Attempt),
	)
	publishedTotal.WithLabelValues("log", "ok").Inc()
	return nil
}

// Close ничего не делает.
func (p *LogPublisher) Close() error { return nil }
