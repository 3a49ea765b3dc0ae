// submissions.go — persist, notify, receipt и чтение записи submission.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/goartstore/upload-broker/internal/api/types"
	"github.com/bigkaa/goartstore/upload-broker/internal/service"
)

// SubmissionsHandler — обработчик саги submission.
type SubmissionsHandler struct {
	svc    *service.SubmissionService
	logger *slog.Logger
}

// NewSubmissionsHandler создаёт обработчик.
func NewSubmissionsHandler(svc *service.SubmissionService, logger *slog.Logger) *SubmissionsHandler {
	return &SubmissionsHandler{svc: svc, logger: logger.With(slog.String("component", "submissions_handler"))}
}

// Persist — POST /api/uploads.
func (h *SubmissionsHandler) Persist(w http.ResponseWriter, r *http.Request) {
	var req types.PersistRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rec, err := h.svc.Persist(r.Context(), req.Attachments, service.SubmissionMetadata{
		Email:        req.Metadata.Email,
		Notes:        req.Metadata.Notes,
		SubmissionID: req.Metadata.SubmissionID,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, types.PersistResponse{UploadID: rec.ID})
}

// Get — GET /api/uploads/{id}.
func (h *SubmissionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, types.SubmissionFromModel(rec))
}

// Notify — POST /api/turnitin/notify.
func (h *SubmissionsHandler) Notify(w http.ResponseWriter, r *http.Request) {
	var req types.NotifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rec, err := h.svc.Notify(r.Context(), req.OrderID, req.Email, req.Attachments)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, types.StepResponse{OK: true, OrderID: rec.ID})
}

// Receipt — POST /api/turnitin/receipt.
func (h *SubmissionsHandler) Receipt(w http.ResponseWriter, r *http.Request) {
	var req types.ReceiptRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rec, err := h.svc.Receipt(r.Context(), req.OrderID, req.Email)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, types.StepResponse{OK: true, OrderID: rec.ID})
}
