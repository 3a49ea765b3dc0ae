package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bigkaa/goartstore/upload-broker/internal/domain/model"
)

// MemoryObjectRepository — in-memory хранилище статусов (dev, тесты).
// Конкурентные чтения под RLock, CAS-переходы под Lock.
type MemoryObjectRepository struct {
	mu      sync.RWMutex
	objects map[string]*model.Object
}

// NewMemoryObjectRepository создаёт пустое in-memory хранилище статусов.
func NewMemoryObjectRepository() *MemoryObjectRepository {
	return &MemoryObjectRepository{objects: make(map[string]*model.Object)}
}

// Register регистрирует ключ в статусе PENDING.
func (r *MemoryObjectRepository) Register(_ context.Context, obj *model.Object) (*model.Object, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.objects[obj.Key]; ok {
		if existing.Uploaded() {
			return nil, ErrAlreadyUploaded
		}
		existing.ContentType = obj.ContentType
		existing.SubmissionID = obj.SubmissionID
		existing.UpdatedAt = obj.CreatedAt
		return existing.Clone(), nil
	}

	stored := &model.Object{
		Key:             obj.Key,
		ContentType:     obj.ContentType,
		SubmissionID:    obj.SubmissionID,
		Status:          model.ScanPending,
		StatusChangedAt: obj.CreatedAt,
		CreatedAt:       obj.CreatedAt,
		UpdatedAt:       obj.CreatedAt,
	}
	r.objects[obj.Key] = stored
	return stored.Clone(), nil
}

// Get возвращает копию объекта.
func (r *MemoryObjectRepository) Get(_ context.Context, key string) (*model.Object, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return o.Clone(), nil
}

// MarkUploaded фиксирует загрузку.
func (r *MemoryObjectRepository) MarkUploaded(_ context.Context, key string, size int64, at time.Time) (*model.Object, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	if o.Uploaded() {
		return nil, ErrAlreadyUploaded
	}
	uploadedAt := at
	o.UploadedAt = &uploadedAt
	o.Size = size
	o.UpdatedAt = at
	return o.Clone(), nil
}

// Transition — CAS по статусу под эксклюзивной блокировкой.
func (r *MemoryObjectRepository) Transition(
	_ context.Context, key string, from, to model.ScanStatus, detail string, at time.Time,
) (*model.Object, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	if o.Status != from {
		return nil, ErrConflict
	}

	o.Status = to
	o.ScanDetail = detail
	o.StatusChangedAt = at
	o.UpdatedAt = at
	if to == model.ScanScanning {
		o.ScanAttempts++
		startedAt := at
		o.ScanStartedAt = &startedAt
	}
	return o.Clone(), nil
}

// List возвращает объекты по фильтру, старые первыми.
func (r *MemoryObjectRepository) List(_ context.Context, filter ListFilter) ([]*model.Object, error) {
	r.mu.RLock()
	var result []*model.Object
	for _, o := range r.objects {
		if o.Status != filter.Status {
			continue
		}
		if !filter.EnteredBefore.IsZero() && !o.StatusChangedAt.Before(filter.EnteredBefore) {
			continue
		}
		if filter.UploadedOnly && !o.Uploaded() {
			continue
		}
		if !filter.attemptsLeft(o) {
			continue
		}
		result = append(result, o.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].StatusChangedAt.Equal(result[j].StatusChangedAt) {
			return result[i].Key < result[j].Key
		}
		return result[i].StatusChangedAt.Before(result[j].StatusChangedAt)
	})
	if limit := filter.limit(); len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// CheckReady — in-memory хранилище всегда готово.
func (r *MemoryObjectRepository) CheckReady() (status string, message string) {
	return "ok", "in-memory хранилище"
}

// MemorySubmissionRepository — in-memory хранилище submission (dev, тесты).
type MemorySubmissionRepository struct {
	mu      sync.RWMutex
	records map[string]*model.SubmissionRecord
}

// NewMemorySubmissionRepository создаёт пустое in-memory хранилище submission.
func NewMemorySubmissionRepository() *MemorySubmissionRepository {
	return &MemorySubmissionRepository{records: make(map[string]*model.SubmissionRecord)}
}

// Create сохраняет новую запись.
func (r *MemorySubmissionRepository) Create(_ context.Context, rec *model.SubmissionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[rec.ID]; ok {
		return ErrConflict
	}
	rec.UpdatedAt = rec.CreatedAt
	r.records[rec.ID] = rec.Clone()
	return nil
}

// GetByID возвращает копию записи.
func (r *MemorySubmissionRepository) GetByID(_ context.Context, id string) (*model.SubmissionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// UpdateNotify записывает результат попытки notify.
func (r *MemorySubmissionRepository) UpdateNotify(
	_ context.Context, id string, status model.StepStatus, errMsg string, at time.Time,
) (*model.SubmissionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	rec.NotifyStatus = status
	rec.NotifyError = errMsg
	rec.NotifyAttempts++
	rec.UpdatedAt = at
	return rec.Clone(), nil
}

// UpdateReceipt записывает результат попытки receipt.
func (r *MemorySubmissionRepository) UpdateReceipt(
	_ context.Context, id string, status model.StepStatus, at time.Time,
) (*model.SubmissionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	rec.ReceiptStatus = status
	rec.ReceiptAttempts++
	rec.UpdatedAt = at
	return rec.Clone(), nil
}
