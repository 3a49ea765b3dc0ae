// objects.go — PUT/GET /objects/* для local-бэкенда.
// Запрос авторизуется токеном из query (?token=), выписанным presign-сервисом.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/upload-broker/internal/api/errors"
	"github.com/bigkaa/goartstore/upload-broker/internal/service"
	"github.com/bigkaa/goartstore/upload-broker/internal/storage/filestore"
	"github.com/bigkaa/goartstore/upload-broker/internal/storage/presign"
)

// ObjectsHandler — приём и отдача байтов объектов по подписанным URL.
type ObjectsHandler struct {
	backend *presign.LocalBackend
	gate    *service.ScanGate
	logger  *slog.Logger
}

// NewObjectsHandler создаёт обработчик.
func NewObjectsHandler(backend *presign.LocalBackend, gate *service.ScanGate, logger *slog.Logger) *ObjectsHandler {
	return &ObjectsHandler{
		backend: backend,
		gate:    gate,
		logger:  logger.With(slog.String("component", "objects_handler")),
	}
}

// Put принимает тело объекта. После записи объект отмечается загруженным
// и уходит на сканирование.
func (h *ObjectsHandler) Put(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	token := r.URL.Query().Get("token")

	res, err := h.backend.Put(token, key, r.Header.Get("Content-Type"), r.Body)
	if err != nil {
		h.writeObjectError(w, key, err)
		return
	}

	if _, err := h.gate.MarkUploaded(r.Context(), key, res.Size, service.UploadSourcePut); err != nil {
		// Байты уже записаны, клиенту отвечаем успехом
		h.logger.Error("Ошибка отметки загрузки",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}

	w.Header().Set("ETag", `"`+res.Checksum+`"`)
	w.WriteHeader(http.StatusOK)
}

// Get отдаёт объект по GET-токену (поддерживает Range через http.ServeContent).
func (h *ObjectsHandler) Get(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	token := r.URL.Query().Get("token")

	f, err := h.backend.Open(token, key)
	if err != nil {
		h.writeObjectError(w, key, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		h.writeObjectError(w, key, err)
		return
	}

	if obj, err := h.gate.GetStatus(r.Context(), key); err == nil && obj.ContentType != "" {
		w.Header().Set("Content-Type", obj.ContentType)
	}
	http.ServeContent(w, r, path.Base(key), info.ModTime(), f)
}

// writeObjectError отображает ошибки бэкенда в HTTP-ответ.
func (h *ObjectsHandler) writeObjectError(w http.ResponseWriter, key string, err error) {
	switch {
	case errors.Is(err, presign.ErrTokenInvalid),
		errors.Is(err, presign.ErrTokenUsed),
		errors.Is(err, presign.ErrContentTypeMismatch):
		apierrors.Forbidden(w, err.Error())
	case errors.Is(err, filestore.ErrExists):
		apierrors.ObjectExists(w, err.Error())
	case errors.Is(err, filestore.ErrTooLarge):
		apierrors.PayloadTooLarge(w, err.Error())
	case errors.Is(err, filestore.ErrNotFound):
		apierrors.NotFound(w, err.Error())
	case errors.Is(err, filestore.ErrInvalidKey):
		apierrors.ValidationError(w, err.Error())
	default:
		h.logger.Error("Ошибка работы с объектом",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "внутренняя ошибка сервера")
	}
}
