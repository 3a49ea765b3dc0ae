package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/upload-broker/internal/domain/model"
)

// objectColumns — список столбцов scan_objects для SELECT/RETURNING.
const objectColumns = `key, content_type, size, submission_id, uploaded_at, status,
	scan_attempts, scan_started_at, scan_detail, status_changed_at, created_at, updated_at`

// objectRepo — реализация ObjectRepository через pgx.
type objectRepo struct {
	db DBTX
}

// NewObjectRepository создаёт PostgreSQL-хранилище статусов.
func NewObjectRepository(db DBTX) ObjectRepository {
	return &objectRepo{db: db}
}

// scanObject читает строку scan_objects в модель.
func scanObject(row pgx.Row) (*model.Object, error) {
	o := &model.Object{}
	var status string
	err := row.Scan(
		&o.Key, &o.ContentType, &o.Size, &o.SubmissionID, &o.UploadedAt, &status,
		&o.ScanAttempts, &o.ScanStartedAt, &o.ScanDetail, &o.StatusChangedAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Status = model.ScanStatus(status)
	return o, nil
}

// Register вставляет PENDING-запись или обновляет незагруженную.
// Условие WHERE в ON CONFLICT не даёт перезаписать загруженный объект:
// в этом случае строка не возвращается.
func (r *objectRepo) Register(ctx context.Context, obj *model.Object) (*model.Object, error) {
	query := fmt.Sprintf(`
		INSERT INTO scan_objects (key, content_type, submission_id, status, status_changed_at, created_at, updated_at)
		VALUES ($1, $2, $3, 'PENDING', $4, $4, $4)
		ON CONFLICT (key) DO UPDATE
		SET content_type = EXCLUDED.content_type,
		    submission_id = EXCLUDED.submission_id,
		    updated_at = EXCLUDED.updated_at
		WHERE scan_objects.uploaded_at IS NULL
		RETURNING %s`, objectColumns)

	o, err := scanObject(r.db.QueryRow(ctx, query, obj.Key, obj.ContentType, obj.SubmissionID, obj.CreatedAt))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAlreadyUploaded
		}
		return nil, fmt.Errorf("ошибка регистрации объекта: %w", err)
	}
	return o, nil
}

// Get возвращает объект по ключу или ErrNotFound.
func (r *objectRepo) Get(ctx context.Context, key string) (*model.Object, error) {
	query := fmt.Sprintf(`SELECT %s FROM scan_objects WHERE key = $1`, objectColumns)

	o, err := scanObject(r.db.QueryRow(ctx, query, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения объекта: %w", err)
	}
	return o, nil
}

// MarkUploaded фиксирует загрузку, если она ещё не зафиксирована.
func (r *objectRepo) MarkUploaded(ctx context.Context, key string, size int64, at time.Time) (*model.Object, error) {
	query := fmt.Sprintf(`
		UPDATE scan_objects
		SET uploaded_at = $2, size = $3, updated_at = $2
		WHERE key = $1 AND uploaded_at IS NULL
		RETURNING %s`, objectColumns)

	o, err := scanObject(r.db.QueryRow(ctx, query, key, at, size))
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("ошибка отметки загрузки: %w", err)
	}
	// Строка не обновлена: либо ключа нет, либо он уже загружен
	if _, getErr := r.Get(ctx, key); getErr != nil {
		return nil, getErr
	}
	return nil, ErrAlreadyUploaded
}

// Transition — CAS по статусу: UPDATE ... WHERE status = $from.
func (r *objectRepo) Transition(
	ctx context.Context, key string, from, to model.ScanStatus, detail string, at time.Time,
) (*model.Object, error) {
	query := fmt.Sprintf(`
		UPDATE scan_objects
		SET status = $3::text,
		    scan_detail = $4,
		    status_changed_at = $5,
		    updated_at = $5,
		    scan_attempts = scan_attempts + CASE WHEN $3::text = 'SCANNING' THEN 1 ELSE 0 END,
		    scan_started_at = CASE WHEN $3::text = 'SCANNING' THEN $5 ELSE scan_started_at END
		WHERE key = $1 AND status = $2
		RETURNING %s`, objectColumns)

	o, err := scanObject(r.db.QueryRow(ctx, query, key, string(from), string(to), detail, at))
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("ошибка перехода статуса: %w", err)
	}
	if _, getErr := r.Get(ctx, key); getErr != nil {
		return nil, getErr
	}
	return nil, ErrConflict
}

// List возвращает объекты в статусе filter.Status, старые первыми.
func (r *objectRepo) List(ctx context.Context, filter ListFilter) ([]*model.Object, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM scan_objects
		WHERE status = $1
		  AND ($2::timestamptz IS NULL OR status_changed_at < $2)
		  AND (NOT $3 OR uploaded_at IS NOT NULL)
		  AND ($5 <= 0 OR scan_attempts < $5)
		ORDER BY status_changed_at ASC
		LIMIT $4`, objectColumns)

	var before *time.Time
	if !filter.EnteredBefore.IsZero() {
		before = &filter.EnteredBefore
	}

	rows, err := r.db.Query(ctx, query, string(filter.Status), before, filter.UploadedOnly, filter.limit(), filter.MaxAttempts)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки объектов: %w", err)
	}
	defer rows.Close()

	var result []*model.Object
	for rows.Next() {
		o, err := scanObject(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования объекта: %w", err)
		}
		result = append(result, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации результатов: %w", err)
	}
	return result, nil
}
