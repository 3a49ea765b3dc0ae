package handlers

import (
	"log/slog"
	"net/http"

	"github.com/bigkaa/goartstore/upload-broker/internal/api/types"
	"github.com/bigkaa/goartstore/upload-broker/internal/service"
)

// PresignHandler — POST /s3/presign-put и POST /s3/presign.
type PresignHandler struct {
	svc    *service.PresignService
	logger *slog.Logger
}

// NewPresignHandler создаёт обработчик presign.
func NewPresignHandler(svc *service.PresignService, logger *slog.Logger) *PresignHandler {
	return &PresignHandler{svc: svc, logger: logger.With(slog.String("component", "presign_handler"))}
}

// PresignPut выписывает PUT URL и регистрирует ключ.
func (h *PresignHandler) PresignPut(w http.ResponseWriter, r *http.Request) {
	var req types.PresignPutRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.svc.PresignPut(r.Context(), req.Key, req.ContentType)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, types.PresignPutResponse{
		URL:       res.URL,
		Key:       res.Key,
		ExpiresAt: res.ExpiresAt,
	})
}

// PresignGet выписывает GET URL для CLEAN-объекта.
// 202 — сканирование не завершено, 403 — заражён, 404 — не загружен, 500 — проверка провалилась.
func (h *PresignHandler) PresignGet(w http.ResponseWriter, r *http.Request) {
	var req types.PresignGetRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.svc.PresignGet(r.Context(), req.Key)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, types.PresignGetResponse{
		URL:       res.URL,
		ExpiresAt: res.ExpiresAt,
	})
}
