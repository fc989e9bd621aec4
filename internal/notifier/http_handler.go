package notifier

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	goredis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/auth"
	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/config"
	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/models"
	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/report"
	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/repository"
)

type apiError struct {
	Error string `json:"error"`
}

// testDeliveryRequest 合成测试事件请求体
type testDeliveryRequest struct {
	DeviceID  string `json:"device_id"`
	AlertType string `json:"alert_type"`
	Severity  int    `json:"severity"`
	Message   string `json:"message"`
}

type handler struct {
	cfg         *config.Config
	jobRepo     *repository.DeliveryJobRepository
	router      *Router
	redisClient *goredis.Client
	logger      *zap.Logger
}

// NewHTTPRouter 构建通知服务路由
func NewHTTPRouter(
	cfg *config.Config,
	jobRepo *repository.DeliveryJobRepository,
	notificationRouter *Router,
	redisClient *goredis.Client,
	registry *prometheus.Registry,
	logger *zap.Logger,
) http.Handler {
	h := &handler{
		cfg:         cfg,
		jobRepo:     jobRepo,
		router:      notificationRouter,
		redisClient: redisClient,
		logger:      logger,
	}

	r := chi.NewRouter()
	r.Get("/notify/v1/tenant/{tenantID}/jobs", h.listJobs)
	r.Get("/notify/v1/tenant/{tenantID}/jobs/{jobID}/attempts", h.listAttempts)
	r.Get("/notify/v1/tenant/{tenantID}/jobs/export", h.exportJobs)
	r.Post("/notify/v1/tenant/{tenantID}/test-delivery", h.testDelivery)
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

// listJobs 按租户列出投递任务，支持 status 过滤（逗号分隔）
func (h *handler) listJobs(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := guard(w, r, auth.CapReadDelivery)
	if !ok {
		return
	}

	var statuses []string
	if raw := r.URL.Query().Get("status"); raw != "" {
		statuses = strings.Split(raw, ",")
	}

	jobs, err := h.jobRepo.ListJobs(r.Context(), tenantID, statuses, 200)
	if err != nil {
		h.logger.Error("Failed to list delivery jobs",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, apiError{Error: "internal"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

// listAttempts 任务的全部投递尝试（审计）
func (h *handler) listAttempts(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := guard(w, r, auth.CapReadDelivery)
	if !ok {
		return
	}
	jobID := chi.URLParam(r, "jobID")

	attempts, err := h.jobRepo.ListAttempts(r.Context(), tenantID, jobID)
	if err != nil {
		h.logger.Error("Failed to list delivery attempts",
			zap.String("tenant_id", tenantID),
			zap.String("job_id", jobID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, apiError{Error: "internal"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"attempts": attempts})
}

// exportJobs 投递历史 Excel 导出
func (h *handler) exportJobs(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := guard(w, r, auth.CapReadDelivery)
	if !ok {
		return
	}

	jobs, err := h.jobRepo.ListJobs(r.Context(), tenantID, nil, 500)
	if err != nil {
		h.logger.Error("Failed to list delivery jobs for export",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, apiError{Error: "internal"})
		return
	}

	attemptsByJob := make(map[string][]models.DeliveryAttempt, len(jobs))
	for i := range jobs {
		attempts, err := h.jobRepo.ListAttempts(r.Context(), tenantID, jobs[i].JobID)
		if err != nil {
			h.logger.Error("Failed to list attempts for export",
				zap.String("job_id", jobs[i].JobID),
				zap.Error(err),
			)
			continue
		}
		attemptsByJob[jobs[i].JobID] = attempts
	}

	data, err := report.GenerateDeliveryExport(jobs, attemptsByJob)
	if err != nil {
		h.logger.Error("Failed to generate delivery export", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, apiError{Error: "internal"})
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="delivery_history_%s.xlsx"`, time.Now().Format("20060102_150405")))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// testDelivery 合成事件走完整路由路径
// 每租户每分钟限 5 次（Redis INCR + EXPIRE 窗口）
func (h *handler) testDelivery(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := guard(w, r, auth.CapTestDelivery)
	if !ok {
		return
	}

	allowed, err := h.allowTest(r, tenantID)
	if err != nil {
		h.logger.Error("Test-delivery rate check failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, apiError{Error: "internal"})
		return
	}
	if !allowed {
		writeJSON(w, http.StatusTooManyRequests, apiError{Error: "test_rate_limited"})
		return
	}

	var req testDeliveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "bad_request"})
		return
	}
	if req.DeviceID == "" {
		req.DeviceID = "test-device"
	}
	if req.AlertType == "" {
		req.AlertType = models.AlertTypeThreshold
	}
	if req.Severity == 0 {
		req.Severity = 3
	}
	if req.Message == "" {
		req.Message = "synthetic test notification"
	}

	event := models.NotificationEvent{
		EventID:   uuid.NewString(),
		TenantID:  tenantID,
		AlertID:   "test-" + uuid.NewString(),
		DeviceID:  req.DeviceID,
		AlertType: req.AlertType,
		Severity:  req.Severity,
		Message:   req.Message,
		EmittedAt: time.Now(),
	}

	if err := h.router.Route(r.Context(), &event); err != nil {
		h.logger.Error("Test delivery routing failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, apiError{Error: "internal"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":   "routed",
		"event_id": event.EventID,
	})
}

// allowTest 每租户固定窗口限额
// 第一个 INCR 开窗并设置 60s 过期；计数超限则拒绝
func (h *handler) allowTest(r *http.Request, tenantID string) (bool, error) {
	key := "pulse:testrate:" + tenantID

	count, err := h.redisClient.Incr(r.Context(), key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to incr test counter: %w", err)
	}
	if count == 1 {
		if err := h.redisClient.Expire(r.Context(), key, time.Minute).Err(); err != nil {
			return false, fmt.Errorf("failed to set test counter expiry: %w", err)
		}
	}

	return count <= int64(h.cfg.Notifier.TestRatePerMin), nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
