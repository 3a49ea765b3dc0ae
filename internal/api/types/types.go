// Пакет types — DTO запросов и ответов HTTP API Upload Broker.
// Используются и обработчиками сервера, и клиентом submission coordinator,
// поэтому описывают контракт, а не внутренние модели.
package types

import (
	"time"

	"github.com/bigkaa/goartstore/upload-broker/internal/domain/model"
)

// UploadedAttachment — дескриптор загруженного файла в API.
type UploadedAttachment = model.Attachment

// PresignPutRequest — тело POST /s3/presign-put.
type PresignPutRequest struct {
	Key         string `json:"key"`
	ContentType string `json:"contentType"`
}

// PresignPutResponse — ответ POST /s3/presign-put.
type PresignPutResponse struct {
	URL       string    `json:"url"`
	Key       string    `json:"key"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// PresignGetRequest — тело POST /s3/presign.
type PresignGetRequest struct {
	Key string `json:"key"`
}

// PresignGetResponse — ответ POST /s3/presign при статусе CLEAN.
type PresignGetResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SubmissionMetadata — метаданные submission, заданные пользователем.
type SubmissionMetadata struct {
	Email        string `json:"email,omitempty"`
	Notes        string `json:"notes,omitempty"`
	SubmissionID string `json:"submissionId,omitempty"`
}

// PersistRequest — тело POST /api/uploads.
type PersistRequest struct {
	Attachments []UploadedAttachment `json:"attachments"`
	Metadata    SubmissionMetadata   `json:"metadata"`
}

// PersistResponse — ответ POST /api/uploads.
type PersistResponse struct {
	UploadID string `json:"uploadId"`
}

// NotifyRequest — тело POST /api/turnitin/notify.
type NotifyRequest struct {
	OrderID     string               `json:"orderId"`
	Email       string               `json:"email"`
	Attachments []UploadedAttachment `json:"attachments"`
}

// ReceiptRequest — тело POST /api/turnitin/receipt.
type ReceiptRequest struct {
	OrderID string `json:"orderId"`
	Email   string `json:"email"`
}

// StepResponse — ответ notify/receipt.
type StepResponse struct {
	OK      bool   `json:"ok"`
	OrderID string `json:"orderId"`
}

// SubmissionResponse — ответ GET /api/uploads/{id}.
type SubmissionResponse struct {
	ID                 string               `json:"id"`
	ClientSubmissionID string               `json:"clientSubmissionId,omitempty"`
	Email              string               `json:"email,omitempty"`
	Notes              string               `json:"notes,omitempty"`
	Attachments        []UploadedAttachment `json:"attachments"`
	NotifyStatus       string               `json:"notifyStatus"`
	NotifyAttempts     int                  `json:"notifyAttempts"`
	NotifyError        string               `json:"notifyError,omitempty"`
	ReceiptStatus      string               `json:"receiptStatus"`
	ReceiptAttempts    int                  `json:"receiptAttempts"`
	CreatedAt          time.Time            `json:"createdAt"`
	UpdatedAt          time.Time            `json:"updatedAt"`
}

// ScanClaimRequest — тело POST /api/v1/scan/claim.
type ScanClaimRequest struct {
	Key string `json:"key"`
}

// ScanResultRequest — тело POST /api/v1/scan/result.
type ScanResultRequest struct {
	Key    string `json:"key"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// ObjectStatus — статус объекта для сканеров.
type ObjectStatus struct {
	Key           string     `json:"key"`
	Status        string     `json:"status"`
	ContentType   string     `json:"contentType"`
	Size          int64      `json:"size"`
	Attempts      int        `json:"attempts"`
	Detail        string     `json:"detail,omitempty"`
	UploadedAt    *time.Time `json:"uploadedAt,omitempty"`
	ScanStartedAt *time.Time `json:"scanStartedAt,omitempty"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// PendingListResponse — ответ GET /api/v1/scan/pending.
type PendingListResponse struct {
	Items []ObjectStatus `json:"items"`
	Total int            `json:"total"`
}

// HealthStatus — ответ health-эндпоинтов.
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version,omitempty"`
	Service   string            `json:"service,omitempty"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ObjectStatusFromModel преобразует доменную модель в DTO.
func ObjectStatusFromModel(o *model.Object) ObjectStatus {
	return ObjectStatus{
		Key:           o.Key,
		Status:        string(o.Status),
		ContentType:   o.ContentType,
		Size:          o.Size,
		Attempts:      o.ScanAttempts,
		Detail:        o.ScanDetail,
		UploadedAt:    o.UploadedAt,
		ScanStartedAt: o.ScanStartedAt,
		UpdatedAt:     o.UpdatedAt,
	}
}

// SubmissionFromModel преобразует запись submission в DTO.
func SubmissionFromModel(r *model.SubmissionRecord) SubmissionResponse {
	attachments := r.Attachments
	if attachments == nil {
		attachments = []UploadedAttachment{}
	}
	return SubmissionResponse{
		ID:                 r.ID,
		ClientSubmissionID: r.ClientSubmissionID,
		Email:              r.Email,
		Notes:              r.Notes,
		Attachments:        attachments,
		NotifyStatus:       string(r.NotifyStatus),
		NotifyAttempts:     r.NotifyAttempts,
		NotifyError:        r.NotifyError,
		ReceiptStatus:      string(r.ReceiptStatus),
		ReceiptAttempts:    r.ReceiptAttempts,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}
