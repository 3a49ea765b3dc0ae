// Пакет errors — конструкторы стандартных ошибок Upload Broker.
// Единый формат: {"error": "...", "code": "..."}.
// Поле error — человекочитаемое сообщение (клиенты исторически читают именно его),
// code — машиночитаемый код. Все HTTP-ответы с ошибками должны использовать WriteError.
package errors //nolint:revive // конфликт имени со stdlib, импортируется как apierrors

import (
	"encoding/json"
	"net/http"
)

// Коды ошибок, определённые в OpenAPI контракте.
const (
	CodeValidationError   = "VALIDATION_ERROR"
	CodeNotFound          = "NOT_FOUND"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeForbidden         = "FORBIDDEN"
	CodeScanInProgress    = "SCAN_IN_PROGRESS"
	CodeScanRejected      = "SCAN_REJECTED"
	CodeScanFailed        = "SCAN_FAILED"
	CodeObjectExists      = "OBJECT_EXISTS"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeConflict          = "CONFLICT"
	CodeNotifyFailed      = "NOTIFY_FAILED"
	CodeNotifyRequired    = "NOTIFY_REQUIRED"
	CodePayloadTooLarge   = "PAYLOAD_TOO_LARGE"
	CodeInternalError     = "INTERNAL_ERROR"
)

// Сообщения, на которые опираются клиенты.
const (
	MsgScanInProgress = "scan in progress"
	MsgScanFailed     = "scan failed"
)

// ErrorBody — структура тела ответа ошибки.
// Экспортирована для клиента submission coordinator.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorBody{
		Error: message,
		Code:  code,
	})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// ScanInProgress — 202 проверка ещё не завершена, клиенту повторить позже.
func ScanInProgress(w http.ResponseWriter) {
	WriteError(w, http.StatusAccepted, CodeScanInProgress, MsgScanInProgress)
}

// ScanRejected — 403 объект заражён, URL не выдаётся.
func ScanRejected(w http.ResponseWriter) {
	WriteError(w, http.StatusForbidden, CodeScanRejected, "object rejected by antivirus scan")
}

// ScanFailed — 500 проверка окончательно провалилась.
func ScanFailed(w http.ResponseWriter) {
	WriteError(w, http.StatusInternalServerError, CodeScanFailed, MsgScanFailed)
}

// ObjectExists — 409 объект уже загружен (объекты неизменяемы).
func ObjectExists(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeObjectExists, message)
}

// InvalidTransition — 409 недопустимый переход статуса сканирования.
func InvalidTransition(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeInvalidTransition, message)
}

// Conflict — 409 конкурентное изменение (CAS не прошёл).
func Conflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeConflict, message)
}

// NotifyFailed — 502 внешний канал уведомлений не ответил.
func NotifyFailed(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadGateway, CodeNotifyFailed, message)
}

// NotifyRequired — 409 receipt до успешного notify.
func NotifyRequired(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeNotifyRequired, message)
}

// PayloadTooLarge — 413 тело PUT превышает лимит размера объекта.
func PayloadTooLarge(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestEntityTooLarge, CodePayloadTooLarge, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
