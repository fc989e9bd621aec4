package evaluator

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/auth"
	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/models"
)

// StateLister 设备状态只读接口
type StateLister interface {
	List(ctx context.Context, tenantID string) ([]models.DeviceState, error)
	Get(ctx context.Context, tenantID, deviceID string) (*models.DeviceState, error)
}

// AlertLister OPEN 报警只读接口
type AlertLister interface {
	ListOpen(ctx context.Context, tenantID string) ([]models.Alert, error)
}

type apiError struct {
	Error string `json:"error"`
}

type handler struct {
	states StateLister
	alerts AlertLister
	logger *zap.Logger
}

// NewRouter 构建评估服务的只读运维路由
func NewRouter(states StateLister, alerts AlertLister, registry *prometheus.Registry, logger *zap.Logger) http.Handler {
	h := &handler{
		states: states,
		alerts: alerts,
		logger: logger,
	}

	r := chi.NewRouter()
	r.Get("/eval/v1/tenant/{tenantID}/devices", h.listStates)
	r.Get("/eval/v1/tenant/{tenantID}/devices/{deviceID}", h.getState)
	r.Get("/eval/v1/tenant/{tenantID}/alerts", h.listAlerts)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return r
}

// guard 能力 + 租户隔离双重校验
func guard(w http.ResponseWriter, r *http.Request, cap auth.Capability) (string, bool) {
	tenantID := chi.URLParam(r, "tenantID")

	caps := auth.FromRequest(r)
	if err := caps.Require(cap); err != nil {
		writeJSON(w, http.StatusForbidden, apiError{Error: "forbidden"})
		return "", false
	}
	if caps.Claims.TenantID != tenantID {
		writeJSON(w, http.StatusForbidden, apiError{Error: "forbidden"})
		return "", false
	}

	return tenantID, true
}

// listStates 租户全部设备的派生状态
func (h *handler) listStates(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := guard(w, r, auth.CapReadState)
	if !ok {
		return
	}

	states, err := h.states.List(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("Failed to list device states",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, apiError{Error: "internal"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"devices": states})
}

// getState 单设备派生状态
func (h *handler) getState(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := guard(w, r, auth.CapReadState)
	if !ok {
		return
	}
	deviceID := chi.URLParam(r, "deviceID")

	state, err := h.states.Get(r.Context(), tenantID, deviceID)
	if err != nil {
		h.logger.Error("Failed to get device state",
			zap.String("tenant_id", tenantID),
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, apiError{Error: "internal"})
		return
	}
	if state == nil {
		writeJSON(w, http.StatusNotFound, apiError{Error: "not_found"})
		return
	}

	writeJSON(w, http.StatusOK, state)
}

// listAlerts 租户全部 OPEN 报警
func (h *handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := guard(w, r, auth.CapReadAlerts)
	if !ok {
		return
	}

	alerts, err := h.alerts.ListOpen(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("Failed to list open alerts",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, apiError{Error: "internal"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"alerts": alerts})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
