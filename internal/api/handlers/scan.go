// scan.go — контракт сканеров: claim, result, status, pending.
package handlers

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/oapi-codegen/runtime"

	apierrors "github.com/bigkaa/goartstore/upload-broker/internal/api/errors"
	"github.com/bigkaa/goartstore/upload-broker/internal/api/middleware"
	"github.com/bigkaa/goartstore/upload-broker/internal/api/types"
	"github.com/bigkaa/goartstore/upload-broker/internal/domain/model"
	"github.com/bigkaa/goartstore/upload-broker/internal/domain/scan"
	"github.com/bigkaa/goartstore/upload-broker/internal/service"
)

// Границы limit для GET /api/v1/scan/pending.
const (
	defaultPendingLimit = 50
	maxPendingLimit     = 500
)

// ScanHandler — обработчик контракта сканеров.
type ScanHandler struct {
	gate   *service.ScanGate
	logger *slog.Logger
}

// NewScanHandler создаёт обработчик контракта сканеров.
func NewScanHandler(gate *service.ScanGate, logger *slog.Logger) *ScanHandler {
	return &ScanHandler{gate: gate, logger: logger.With(slog.String("component", "scan_handler"))}
}

// Claim — POST /api/v1/scan/claim: PENDING → SCANNING.
func (h *ScanHandler) Claim(w http.ResponseWriter, r *http.Request) {
	var req types.ScanClaimRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	obj, err := h.gate.Claim(r.Context(), req.Key)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.logger.Info("Объект взят в сканирование",
		slog.String("key", obj.Key),
		slog.String("scanner", middleware.SubjectFromContext(r.Context())),
		slog.Int("attempt", obj.ScanAttempts),
	)
	writeJSON(w, http.StatusOK, types.ObjectStatusFromModel(obj))
}

// Result — POST /api/v1/scan/result: SCANNING → CLEAN | INFECTED | ERROR.
func (h *ScanHandler) Result(w http.ResponseWriter, r *http.Request) {
	var req types.ScanResultRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	status, err := scan.ParseStatus(req.Status)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	switch status {
	case model.ScanClean, model.ScanInfected, model.ScanError:
	default:
		apierrors.ValidationError(w, fmt.Sprintf("сканер не может установить статус %s", status))
		return
	}

	obj, err := h.gate.SetStatus(r.Context(), req.Key, status, req.Detail)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, types.ObjectStatusFromModel(obj))
}

// Status — GET /api/v1/scan/status?key=...
func (h *ScanHandler) Status(w http.ResponseWriter, r *http.Request) {
	var key string
	if err := runtime.BindQueryParameter("form", true, true, "key", r.URL.Query(), &key); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("параметр key: %s", err.Error()))
		return
	}

	obj, err := h.gate.GetStatus(r.Context(), key)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, types.ObjectStatusFromModel(obj))
}

// Pending — GET /api/v1/scan/pending?limit=N: загруженные PENDING-объекты.
func (h *ScanHandler) Pending(w http.ResponseWriter, r *http.Request) {
	var limit *int
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &limit); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("параметр limit: %s", err.Error()))
		return
	}

	n := defaultPendingLimit
	if limit != nil {
		n = *limit
	}
	if n < 1 || n > maxPendingLimit {
		apierrors.ValidationError(w, fmt.Sprintf("limit должен быть от 1 до %d", maxPendingLimit))
		return
	}

	objs, err := h.gate.ListPending(r.Context(), n)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	items := make([]types.ObjectStatus, 0, len(objs))
	for _, o := range objs {
		items = append(items, types.ObjectStatusFromModel(o))
	}
	writeJSON(w, http.StatusOK, types.PendingListResponse{Items: items, Total: len(items)})
}
