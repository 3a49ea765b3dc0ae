package model

import "time"

// Attachment — описание загруженного файла в составе submission.
type Attachment struct {
	// Key — ключ объекта в хранилище (r2Key в API)
	Key string `json:"r2Key"`
	// Filename — оригинальное имя файла
	Filename string `json:"filename"`
	// Size — размер в байтах
	Size int64 `json:"size"`
	// ContentType — MIME-тип
	ContentType string `json:"contentType"`
}

// StepStatus — статус шага саги (notify, receipt).
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepSent    StepStatus = "sent"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// SubmissionRecord — серверная запись submission.
// Хранит вложения, метаданные и состояние шагов notify/receipt,
// чтобы повторы шагов не зависели от памяти клиента.
type SubmissionRecord struct {
	// ID — канонический идентификатор (uploadId / orderId)
	ID string
	// ClientSubmissionID — идентификатор, сгенерированный клиентом (префикс ключей)
	ClientSubmissionID string
	// Email — адрес для уведомлений (может быть пустым)
	Email string
	// Notes — произвольный текст от пользователя
	Notes string
	// Attachments — вложения submission
	Attachments []Attachment

	// NotifyStatus — статус шага notify
	NotifyStatus StepStatus
	// NotifyAttempts — количество попыток notify
	NotifyAttempts int
	// NotifyError — текст последней ошибки notify
	NotifyError string

	// ReceiptStatus — статус шага receipt
	ReceiptStatus StepStatus
	// ReceiptAttempts — количество попыток receipt
	ReceiptAttempts int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone возвращает независимую копию записи.
func (r *SubmissionRecord) Clone() *SubmissionRecord {
	c := *r
	c.Attachments = append([]Attachment(nil), r.Attachments...)
	return &c
}
