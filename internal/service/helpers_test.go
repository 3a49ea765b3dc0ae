package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bigkaa/goartstore/upload-broker/internal/notify"
	"github.com/bigkaa/goartstore/upload-broker/internal/queue"
	"github.com/bigkaa/goartstore/upload-broker/internal/repository"
	"github.com/bigkaa/goartstore/upload-broker/internal/storage/presign"
)

const scenarioKey = "submissions/11111111-1111-1111-1111-111111111111/report.pdf"

// --- Mock бэкенда хранилища ---

type mockBackend struct {
	mu      sync.Mutex
	objects map[string]int64
	statErr error
}

func newMockBackend() *mockBackend {
	return &mockBackend{objects: make(map[string]int64)}
}

func (b *mockBackend) Name() string { return "mock" }

func (b *mockBackend) PresignPut(_ context.Context, key, _ string, _ time.Duration) (string, error) {
	return "https://store.test/" + key + "?op=put", nil
}

func (b *mockBackend) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://store.test/" + key + "?op=get", nil
}

func (b *mockBackend) Stat(_ context.Context, key string) (*presign.ObjectInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.statErr != nil {
		return nil, b.statErr
	}
	size, ok := b.objects[key]
	if !ok {
		return nil, presign.ErrObjectNotFound
	}
	return &presign.ObjectInfo{Size: size}, nil
}

func (b *mockBackend) put(key string, size int64) {
	b.mu.Lock()
	b.objects[key] = size
	b.mu.Unlock()
}

// --- Mock очереди ---

type mockPublisher struct {
	mu   sync.Mutex
	jobs []queue.ScanJob
	err  error
}

func (p *mockPublisher) PublishScanJob(_ context.Context, job queue.ScanJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.jobs = append(p.jobs, job)
	return nil
}

func (p *mockPublisher) Close() error { return nil }

func (p *mockPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.jobs)
}

// --- Mock уведомлений ---

type mockNotifier struct {
	mu   sync.Mutex
	sent []notify.Message
	err  error
}

func (n *mockNotifier) Send(_ context.Context, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *mockNotifier) setErr(err error) {
	n.mu.Lock()
	n.err = err
	n.mu.Unlock()
}

func (n *mockNotifier) count(kind string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, m := range n.sent {
		if m.Kind == kind {
			c++
		}
	}
	return c
}

var errWebhookDown = errors.New("webhook вернул статус 503")

// gateFixture — scan gate на in-memory хранилище.
type gateFixture struct {
	gate      *ScanGate
	repo      *repository.MemoryObjectRepository
	backend   *mockBackend
	publisher *mockPublisher
}

func newGateFixture(maxAttempts int) *gateFixture {
	repo := repository.NewMemoryObjectRepository()
	backend := newMockBackend()
	publisher := &mockPublisher{}
	gate := NewScanGate(repo, backend, publisher, NewVerdictCache(100, time.Minute),
		"submissions/", maxAttempts, slog.Default())
	return &gateFixture{gate: gate, repo: repo, backend: backend, publisher: publisher}
}

// uploaded регистрирует и отмечает загруженным ключ.
func (f *gateFixture) uploaded(ctx context.Context, key string) error {
	if _, err := f.gate.Register(ctx, key, "application/pdf"); err != nil {
		return err
	}
	f.backend.put(key, 10)
	_, err := f.gate.MarkUploaded(ctx, key, 10, UploadSourcePut)
	return err
}
