// submission.go — серверная сага submission: persist → notify → receipt.
// Состояние шагов хранится в записи, поэтому каждый шаг повторяется
// независимо и не зависит от памяти клиента.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/upload-broker/internal/domain/model"
	"github.com/bigkaa/goartstore/upload-broker/internal/notify"
	"github.com/bigkaa/goartstore/upload-broker/internal/repository"
)

// SubmissionMetadata — метаданные, заданные пользователем.
type SubmissionMetadata struct {
	Email        string
	Notes        string
	SubmissionID string
}

// SubmissionService — сага submission.
type SubmissionService struct {
	repo     repository.SubmissionRepository
	notifier notify.Notifier
	now      func() time.Time
	logger   *slog.Logger
}

// NewSubmissionService создаёт сервис саги.
func NewSubmissionService(repo repository.SubmissionRepository, notifier notify.Notifier, logger *slog.Logger) *SubmissionService {
	return &SubmissionService{
		repo:     repo,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.With(slog.String("component", "submission_service")),
	}
}

// Persist сохраняет вложения и метаданные, возвращает запись с каноническим ID.
func (s *SubmissionService) Persist(ctx context.Context, attachments []model.Attachment, meta SubmissionMetadata) (*model.SubmissionRecord, error) {
	if err := validateAttachments(attachments); err != nil {
		return nil, err
	}
	email, err := normalizeEmail(meta.Email)
	if err != nil {
		return nil, err
	}

	now := s.now()
	rec := &model.SubmissionRecord{
		ID:                 uuid.NewString(),
		ClientSubmissionID: meta.SubmissionID,
		Email:              email,
		Notes:              meta.Notes,
		Attachments:        attachments,
		NotifyStatus:       model.StepPending,
		ReceiptStatus:      model.StepPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("сохранение submission: %w", err)
	}

	s.logger.Info("Submission сохранён",
		slog.String("upload_id", rec.ID),
		slog.String("client_submission_id", rec.ClientSubmissionID),
		slog.Int("attachments", len(attachments)),
	)
	return rec, nil
}

// Get возвращает запись submission.
func (s *SubmissionService) Get(ctx context.Context, id string) (*model.SubmissionRecord, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: submission %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("получение submission %s: %w", id, err)
	}
	return rec, nil
}

// Notify отправляет уведомление о submission.
// Неизвестный orderId создаёт запись (persist мог не пройти).
// Повтор после успешной отправки не отправляет повторно.
func (s *SubmissionService) Notify(ctx context.Context, orderID, email string, attachments []model.Attachment) (*model.SubmissionRecord, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, fmt.Errorf("%w: пустой orderId", ErrInvalidRequest)
	}
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}

	rec, err := s.getOrCreate(ctx, orderID, email, attachments)
	if err != nil {
		return nil, err
	}
	if rec.NotifyStatus == model.StepSent {
		return rec, nil
	}

	if email == "" {
		email = rec.Email
	}
	if email == "" {
		return nil, fmt.Errorf("%w: не задан email", ErrInvalidRequest)
	}
	if len(attachments) == 0 {
		attachments = rec.Attachments
	}

	msg := notify.Message{
		Kind: notify.KindNotify,
		Text: fmt.Sprintf("Новая загрузка %s от %s: файлов %d", orderID, email, len(attachments)),
		Props: map[string]any{
			"orderId":     orderID,
			"email":       email,
			"attachments": attachments,
		},
	}

	if sendErr := s.notifier.Send(ctx, msg); sendErr != nil {
		if _, err := s.repo.UpdateNotify(ctx, orderID, model.StepFailed, sendErr.Error(), s.now()); err != nil {
			s.logger.Error("Ошибка записи статуса notify",
				slog.String("order_id", orderID),
				slog.String("error", err.Error()),
			)
		}
		s.logger.Warn("Notify не доставлен",
			slog.String("order_id", orderID),
			slog.String("error", sendErr.Error()),
		)
		return nil, fmt.Errorf("%w: %v", ErrNotifyFailed, sendErr)
	}

	updated, err := s.repo.UpdateNotify(ctx, orderID, model.StepSent, "", s.now())
	if err != nil {
		return nil, fmt.Errorf("запись статуса notify %s: %w", orderID, err)
	}
	s.logger.Info("Notify отправлен",
		slog.String("order_id", orderID),
		slog.Int("attempts", updated.NotifyAttempts),
	)
	return updated, nil
}

// Receipt отправляет подтверждение после успешного notify.
func (s *SubmissionService) Receipt(ctx context.Context, orderID, email string) (*model.SubmissionRecord, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}

	rec, err := s.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if rec.NotifyStatus != model.StepSent {
		return nil, fmt.Errorf("%w: notify в статусе %s", ErrNotifyRequired, rec.NotifyStatus)
	}
	if rec.ReceiptStatus == model.StepSent {
		return rec, nil
	}
	if email == "" {
		email = rec.Email
	}

	msg := notify.Message{
		Kind: notify.KindReceipt,
		Text: fmt.Sprintf("Подтверждение получения %s для %s", orderID, email),
		Props: map[string]any{
			"orderId": orderID,
			"email":   email,
		},
	}

	if sendErr := s.notifier.Send(ctx, msg); sendErr != nil {
		if _, err := s.repo.UpdateReceipt(ctx, orderID, model.StepFailed, s.now()); err != nil {
			s.logger.Error("Ошибка записи статуса receipt",
				slog.String("order_id", orderID),
				slog.String("error", err.Error()),
			)
		}
		return nil, fmt.Errorf("%w: %v", ErrNotifyFailed, sendErr)
	}

	updated, err := s.repo.UpdateReceipt(ctx, orderID, model.StepSent, s.now())
	if err != nil {
		return nil, fmt.Errorf("запись статуса receipt %s: %w", orderID, err)
	}
	return updated, nil
}

// getOrCreate возвращает запись по ID или создаёт её из данных notify.
func (s *SubmissionService) getOrCreate(ctx context.Context, id, email string, attachments []model.Attachment) (*model.SubmissionRecord, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("получение submission %s: %w", id, err)
	}

	now := s.now()
	rec = &model.SubmissionRecord{
		ID:                 id,
		ClientSubmissionID: id,
		Email:              email,
		Attachments:        attachments,
		NotifyStatus:       model.StepPending,
		ReceiptStatus:      model.StepPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return s.Get(ctx, id)
		}
		return nil, fmt.Errorf("создание submission %s: %w", id, err)
	}
	s.logger.Info("Submission создан при notify", slog.String("order_id", id))
	return rec, nil
}

// validateAttachments проверяет дескрипторы вложений.
func validateAttachments(attachments []model.Attachment) error {
	if len(attachments) == 0 {
		return fmt.Errorf("%w: нет вложений", ErrInvalidRequest)
	}
	for i, a := range attachments {
		if strings.TrimSpace(a.Key) == "" {
			return fmt.Errorf("%w: attachments[%d]: пустой r2Key", ErrInvalidRequest, i)
		}
		if a.Size < 0 {
			return fmt.Errorf("%w: attachments[%d]: отрицательный размер", ErrInvalidRequest, i)
		}
	}
	return nil
}

// normalizeEmail проверяет адрес. Пустой адрес допустим.
func normalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", nil
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return "", fmt.Errorf("%w: email %q: %v", ErrInvalidRequest, email, err)
	}
	return addr.Address, nil
}
