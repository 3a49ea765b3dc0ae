// Пакет handlers — HTTP-обработчики Upload Broker.
// handler.go — сборка маршрутов и общие вспомогательные функции.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/upload-broker/internal/api/errors"
	"github.com/bigkaa/goartstore/upload-broker/internal/api/middleware"
	"github.com/bigkaa/goartstore/upload-broker/internal/service"
)

// ScopeScanWrite — scope сканеров для /api/v1/scan/*.
const ScopeScanWrite = "scan:write"

// maxJSONBody — лимит тела JSON-запроса.
const maxJSONBody = 1 << 20

// APIHandler — корневой обработчик, регистрирует все маршруты.
type APIHandler struct {
	health      *HealthHandler
	presign     *PresignHandler
	scan        *ScanHandler
	submissions *SubmissionsHandler
	// objects — nil для s3-бэкенда
	objects *ObjectsHandler
	// auth — nil, если аутентификация выключена
	auth   *middleware.JWTAuth
	logger *slog.Logger
}

// NewAPIHandler создаёт корневой обработчик.
func NewAPIHandler(
	health *HealthHandler,
	presign *PresignHandler,
	scan *ScanHandler,
	submissions *SubmissionsHandler,
	objects *ObjectsHandler,
	auth *middleware.JWTAuth,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:      health,
		presign:     presign,
		scan:        scan,
		submissions: submissions,
		objects:     objects,
		auth:        auth,
		logger:      logger.With(slog.String("component", "api_handler")),
	}
}

// RegisterRoutes регистрирует маршруты в chi-роутере.
func (h *APIHandler) RegisterRoutes(r chi.Router) {
	r.Get("/health/live", h.health.HealthLive)
	r.Get("/health/ready", h.health.HealthReady)
	r.Get("/metrics", h.health.GetMetrics)

	// Клиентское API
	r.Group(func(r chi.Router) {
		if h.auth != nil {
			r.Use(h.auth.Middleware())
		}
		r.Post("/s3/presign-put", h.presign.PresignPut)
		r.Post("/s3/presign", h.presign.PresignGet)
		r.Post("/api/uploads", h.submissions.Persist)
		r.Get("/api/uploads/{id}", h.submissions.Get)
		r.Post("/api/turnitin/notify", h.submissions.Notify)
		r.Post("/api/turnitin/receipt", h.submissions.Receipt)
	})

	// Контракт сканеров
	r.Route("/api/v1/scan", func(r chi.Router) {
		if h.auth != nil {
			r.Use(h.auth.Middleware(), middleware.RequireScope(ScopeScanWrite))
		}
		r.Post("/claim", h.scan.Claim)
		r.Post("/result", h.scan.Result)
		r.Get("/status", h.scan.Status)
		r.Get("/pending", h.scan.Pending)
	})

	// Подписанные URL local-бэкенда: авторизация токеном в URL
	if h.objects != nil {
		r.Put("/objects/*", h.objects.Put)
		r.Get("/objects/*", h.objects.Get)
		r.Head("/objects/*", h.objects.Get)
	}
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON читает тело запроса в dst. Ошибку пишет в ответ сам.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			apierrors.ValidationError(w, "пустое тело запроса")
			return false
		}
		apierrors.ValidationError(w, fmt.Sprintf("некорректный JSON: %s", err.Error()))
		return false
	}
	return true
}

// writeServiceError отображает ошибку сервисного слоя в HTTP-ответ.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidKey),
		errors.Is(err, service.ErrInvalidContentType),
		errors.Is(err, service.ErrInvalidRequest):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, err.Error())
	case errors.Is(err, service.ErrScanPending):
		apierrors.ScanInProgress(w)
	case errors.Is(err, service.ErrScanRejected):
		apierrors.ScanRejected(w)
	case errors.Is(err, service.ErrScanFailed):
		apierrors.ScanFailed(w)
	case errors.Is(err, service.ErrObjectExists):
		apierrors.ObjectExists(w, err.Error())
	case errors.Is(err, service.ErrInvalidTransition):
		apierrors.InvalidTransition(w, err.Error())
	case errors.Is(err, service.ErrConflict), errors.Is(err, service.ErrNotUploaded):
		apierrors.Conflict(w, err.Error())
	case errors.Is(err, service.ErrNotifyFailed):
		apierrors.NotifyFailed(w, err.Error())
	case errors.Is(err, service.ErrNotifyRequired):
		apierrors.NotifyRequired(w, err.Error())
	default:
		logger.Error("Внутренняя ошибка", slog.String("error", err.Error()))
		apierrors.InternalError(w, "внутренняя ошибка сервера")
	}
}
