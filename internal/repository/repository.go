// Пакет repository — хранилища статусов сканирования и записей submission.
// PostgreSQL (pgx, чистый SQL), Redis (go-redis, Lua CAS) и in-memory реализации
// одного контракта: сервисный слой не знает, какой бэкенд выбран.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bigkaa/goartstore/upload-broker/internal/domain/model"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — CAS не прошёл: текущий статус отличается от ожидаемого,
	// либо запись с таким ID уже существует.
	ErrConflict = errors.New("конфликт изменения записи")
	// ErrAlreadyUploaded — объект уже загружен и не может быть перерегистрирован.
	ErrAlreadyUploaded = errors.New("объект уже загружен")
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ListFilter — параметры выборки объектов.
type ListFilter struct {
	// Status — обязательный фильтр по статусу
	Status model.ScanStatus
	// EnteredBefore — объекты, перешедшие в текущий статус раньше указанного
	// момента (zero — без фильтра)
	EnteredBefore time.Time
	// UploadedOnly — только объекты с записанными байтами
	UploadedOnly bool
	// MaxAttempts — только объекты с ScanAttempts < MaxAttempts (<= 0 — без фильтра)
	MaxAttempts int
	// Limit — максимум записей (<= 0 — DefaultListLimit)
	Limit int
}

// DefaultListLimit — лимит выборки по умолчанию.
const DefaultListLimit = 100

// attemptsLeft сообщает, проходит ли объект фильтр по попыткам.
func (f ListFilter) attemptsLeft(o *model.Object) bool {
	return f.MaxAttempts <= 0 || o.ScanAttempts < f.MaxAttempts
}

func (f ListFilter) limit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}

// ObjectRepository — хранилище объектов и их статусов сканирования.
// Все переходы статуса выполняются через compare-and-swap.
type ObjectRepository interface {
	// Register регистрирует ключ в статусе PENDING (presign PUT).
	// Повторная регистрация незагруженного ключа обновляет content type.
	// Для загруженного объекта возвращает ErrAlreadyUploaded.
	Register(ctx context.Context, obj *model.Object) (*model.Object, error)
	// Get возвращает объект по ключу или ErrNotFound.
	Get(ctx context.Context, key string) (*model.Object, error)
	// MarkUploaded фиксирует факт загрузки и размер.
	// ErrNotFound — ключ не зарегистрирован, ErrAlreadyUploaded — уже отмечен.
	MarkUploaded(ctx context.Context, key string, size int64, at time.Time) (*model.Object, error)
	// Transition атомарно переводит объект from → to.
	// Переход в SCANNING увеличивает scan_attempts и фиксирует scan_started_at.
	// ErrNotFound — ключа нет, ErrConflict — текущий статус не from.
	Transition(ctx context.Context, key string, from, to model.ScanStatus, detail string, at time.Time) (*model.Object, error)
	// List возвращает объекты по фильтру, старые первыми.
	List(ctx context.Context, filter ListFilter) ([]*model.Object, error)
}

// SubmissionRepository — хранилище записей submission (сага persist/notify/receipt).
type SubmissionRepository interface {
	// Create сохраняет новую запись. ErrConflict — ID уже занят.
	Create(ctx context.Context, rec *model.SubmissionRecord) error
	// GetByID возвращает запись или ErrNotFound.
	GetByID(ctx context.Context, id string) (*model.SubmissionRecord, error)
	// UpdateNotify записывает результат попытки notify (attempts увеличивается).
	UpdateNotify(ctx context.Context, id string, status model.StepStatus, errMsg string, at time.Time) (*model.SubmissionRecord, error)
	// UpdateReceipt записывает результат попытки receipt (attempts увеличивается).
	UpdateReceipt(ctx context.Context, id string, status model.StepStatus, at time.Time) (*model.SubmissionRecord, error)
}
