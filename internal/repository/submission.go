package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bigkaa/goartstore/upload-broker/internal/domain/model"
)

// submissionColumns — список столбцов submissions для SELECT/RETURNING.
const submissionColumns = `id, client_submission_id, email, notes, attachments,
	notify_status, notify_attempts, notify_error, receipt_status, receipt_attempts,
	created_at, updated_at`

// pgUniqueViolation — SQLSTATE нарушения уникальности.
const pgUniqueViolation = "23505"

// submissionRepo — реализация SubmissionRepository через pgx.
type submissionRepo struct {
	db DBTX
}

// NewSubmissionRepository создаёт PostgreSQL-хранилище submission.
func NewSubmissionRepository(db DBTX) SubmissionRepository {
	return &submissionRepo{db: db}
}

// scanSubmission читает строку submissions в модель.
// attachments хранится в JSONB и декодируется pgx напрямую в срез.
func scanSubmission(row pgx.Row) (*model.SubmissionRecord, error) {
	rec := &model.SubmissionRecord{}
	var notifyStatus, receiptStatus string
	err := row.Scan(
		&rec.ID, &rec.ClientSubmissionID, &rec.Email, &rec.Notes, &rec.Attachments,
		&notifyStatus, &rec.NotifyAttempts, &rec.NotifyError, &receiptStatus, &rec.ReceiptAttempts,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.NotifyStatus = model.StepStatus(notifyStatus)
	rec.ReceiptStatus = model.StepStatus(receiptStatus)
	return rec, nil
}

// Create сохраняет новую запись submission.
func (r *submissionRepo) Create(ctx context.Context, rec *model.SubmissionRecord) error {
	attachments := rec.Attachments
	if attachments == nil {
		attachments = []model.Attachment{}
	}

	query := `
		INSERT INTO submissions (id, client_submission_id, email, notes, attachments,
			notify_status, receipt_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`

	_, err := r.db.Exec(ctx, query,
		rec.ID, rec.ClientSubmissionID, rec.Email, rec.Notes, attachments,
		string(rec.NotifyStatus), string(rec.ReceiptStatus), rec.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrConflict
		}
		return fmt.Errorf("ошибка создания submission: %w", err)
	}
	rec.UpdatedAt = rec.CreatedAt
	return nil
}

// GetByID возвращает запись submission или ErrNotFound.
func (r *submissionRepo) GetByID(ctx context.Context, id string) (*model.SubmissionRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM submissions WHERE id = $1`, submissionColumns)

	rec, err := scanSubmission(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения submission: %w", err)
	}
	return rec, nil
}

// UpdateNotify записывает результат попытки notify.
func (r *submissionRepo) UpdateNotify(
	ctx context.Context, id string, status model.StepStatus, errMsg string, at time.Time,
) (*model.SubmissionRecord, error) {
	query := fmt.Sprintf(`
		UPDATE submissions
		SET notify_status = $2, notify_error = $3, notify_attempts = notify_attempts + 1, updated_at = $4
		WHERE id = $1
		RETURNING %s`, submissionColumns)

	return r.update(ctx, query, id, string(status), errMsg, at)
}

// UpdateReceipt записывает результат попытки receipt.
func (r *submissionRepo) UpdateReceipt(
	ctx context.Context, id string, status model.StepStatus, at time.Time,
) (*model.SubmissionRecord, error) {
	query := fmt.Sprintf(`
		UPDATE submissions
		SET receipt_status = $2, receipt_attempts = receipt_attempts + 1, updated_at = $3
		WHERE id = $1
		RETURNING %s`, submissionColumns)

	return r.update(ctx, query, id, string(status), at)
}

func (r *submissionRepo) update(ctx context.Context, query string, args ...any) (*model.SubmissionRecord, error) {
	rec, err := scanSubmission(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка обновления submission: %w", err)
	}
	return rec, nil
}
