package coordinator

import (
	"errors"
	"fmt"

	"github.com/bigkaa/goartstore/upload-broker/internal/api/types"
)

var (
	// ErrCancelled — submission отменён вызывающим кодом.
	ErrCancelled = errors.New("submission cancelled")
	// ErrSubmissionInProgress — координатор уже выполняет submission.
	ErrSubmissionInProgress = errors.New("submission already in progress")
	// ErrNoFiles — пустой список файлов.
	ErrNoFiles = errors.New("no files to submit")
	// ErrFileTooLarge — файл превышает допустимый размер.
	ErrFileTooLarge = errors.New("file too large")

	// Ответы presign GET для объектов без чистого вердикта
	ErrScanPending  = errors.New("scan in progress")
	ErrScanRejected = errors.New("object rejected by antivirus scan")
	ErrNotFound     = errors.New("object not found")
	ErrScanFailed   = errors.New("scan failed")
)

// Stage — этап submission, на котором произошла ошибка.
type Stage string

const (
	StageValidate Stage = "validate"
	StagePresign  Stage = "presign"
	StageUpload   Stage = "upload"
	StagePersist  Stage = "persist"
	StageNotify   Stage = "notify"
	StageReceipt  Stage = "receipt"
)

// StageError — ошибка этапа submission с привязкой к файлу.
type StageError struct {
	Stage Stage
	// File — имя файла; пусто для этапов уровня submission
	File string
	Err  error
}

func (e *StageError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s %q: %v", e.Stage, e.File, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// PartialError — файлы загружены, уведомление не отправлено.
// Содержит всё необходимое для повтора notify без повторной загрузки.
type PartialError struct {
	OrderID     string
	Attachments []types.UploadedAttachment
	// Err — *StageError этапа notify
	Err error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("файлы сохранены (%d), уведомление для %s не отправлено: %v",
		len(e.Attachments), e.OrderID, e.Err)
}

func (e *PartialError) Unwrap() error {
	return e.Err
}

// HTTPError — ответ брокера с неуспешным статусом.
type HTTPError struct {
	StatusCode int
	Message    string
	Code       string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("брокер вернул статус %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("брокер вернул статус %d: %s", e.StatusCode, e.Message)
}
