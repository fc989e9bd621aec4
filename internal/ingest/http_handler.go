package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/auth"
	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/models"
)

// QuarantineLister 隔离记录只读接口（repository.QuarantineRepository 实现）
type QuarantineLister interface {
	List(ctx context.Context, tenantID string, limit int) ([]models.QuarantineRecord, error)
}

// apiError 统一错误响应体
type apiError struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// batchItem 批量端点的子消息（独立携带认证凭证）
type batchItem struct {
	TenantID       string             `json:"tenant_id"`
	DeviceID       string             `json:"device_id"`
	MsgType        string             `json:"msg_type"`
	ProvisionToken string             `json:"provision_token"`
	SiteID         string             `json:"site_id"`
	Seq            int64              `json:"seq"`
	Metrics        map[string]float64 `json:"metrics"`
}

// batchRequest 批量端点请求体
type batchRequest struct {
	Messages []batchItem `json:"messages"`
}

// batchResult 单条子消息的处理结果
type batchResult struct {
	Index   int    `json:"index"`
	Outcome string `json:"outcome"`
	Reason  string `json:"reason,omitempty"`
}

// batchResponse 批量端点响应：逐条结果 + 汇总
type batchResponse struct {
	Accepted    int           `json:"accepted"`
	Quarantined int           `json:"quarantined"`
	Rejected    int           `json:"rejected"`
	Results     []batchResult `json:"results"`
}

type handler struct {
	gateway    *Gateway
	quarantine QuarantineLister
	logger     *zap.Logger
}

// NewRouter 构建入库服务路由
func NewRouter(gateway *Gateway, quarantineRepo QuarantineLister, registry *prometheus.Registry, logger *zap.Logger) http.Handler {
	h := &handler{
		gateway:    gateway,
		quarantine: quarantineRepo,
		logger:     logger,
	}

	r := chi.NewRouter()
	r.Post("/ingest/v1/tenant/{tenantID}/device/{deviceID}/telemetry", h.ingestOne)
	r.Post("/ingest/v1/batch", h.ingestBatch)
	r.Get("/ingest/v1/tenant/{tenantID}/quarantine", h.listQuarantine)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return r
}

// ingestOne 单条遥测入库
// 202 表示已进入批量写缓冲；认证、限流、校验分别映射 401 / 429 / 422
func (h *handler) ingestOne(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	deviceID := chi.URLParam(r, "deviceID")

	msgType := r.URL.Query().Get("msg_type")
	if msgType == "" {
		msgType = models.MsgTypeTelemetry
	}

	body, err := readBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "bad_request", Reason: err.Error()})
		return
	}

	msg := models.IngestMessage{
		TenantID:       tenantID,
		DeviceID:       deviceID,
		MsgType:        msgType,
		ProvisionToken: r.Header.Get("X-Provision-Token"),
		Payload:        body,
		ReceivedAt:     time.Now(),
	}

	res, err := h.gateway.SubmitWait(r.Context(), msg)
	if err != nil {
		if errors.Is(err, ErrQueueFull) {
			writeJSON(w, http.StatusTooManyRequests, apiError{Error: "queue_full"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, apiError{Error: "internal"})
		return
	}

	h.writeOutcome(w, res)
}

// ingestBatch 批量入库：上限内逐条独立校验，返回逐条结果
// 部分成功是预期的正常情况
func (h *handler) ingestBatch(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "bad_request", Reason: err.Error()})
		return
	}

	var req batchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "bad_request", Reason: "malformed batch body"})
		return
	}

	if len(req.Messages) == 0 {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "bad_request", Reason: "empty batch"})
		return
	}
	if max := h.gateway.cfg.Ingest.BatchMax; len(req.Messages) > max {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "batch_too_large"})
		return
	}

	resp := batchResponse{Results: make([]batchResult, 0, len(req.Messages))}
	for i, item := range req.Messages {
		payload, merr := json.Marshal(models.TelemetryPayload{
			SiteID:  item.SiteID,
			Seq:     item.Seq,
			Metrics: item.Metrics,
		})
		if merr != nil {
			resp.Rejected++
			resp.Results = append(resp.Results, batchResult{Index: i, Outcome: string(OutcomeRejected), Reason: "marshal"})
			continue
		}

		res := h.gateway.Process(r.Context(), &models.IngestMessage{
			TenantID:       item.TenantID,
			DeviceID:       item.DeviceID,
			MsgType:        item.MsgType,
			ProvisionToken: item.ProvisionToken,
			Payload:        payload,
			ReceivedAt:     time.Now(),
		})

		result := batchResult{Index: i, Outcome: string(res.Outcome)}
		if res.Err != nil {
			result.Reason = res.Err.Error()
		}
		resp.Results = append(resp.Results, result)

		switch res.Outcome {
		case OutcomeAccepted:
			resp.Accepted++
		case OutcomeQuarantined:
			resp.Quarantined++
		default:
			resp.Rejected++
		}
	}

	writeJSON(w, http.StatusAccepted, resp)
}

// listQuarantine 隔离记录只读查询（排障用，需要能力授权）
func (h *handler) listQuarantine(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	caps := auth.FromRequest(r)
	if err := caps.Require(auth.CapReadQuarantine); err != nil {
		writeJSON(w, http.StatusForbidden, apiError{Error: "forbidden"})
		return
	}
	// 租户隔离：声明与路径必须一致
	if caps.Claims.TenantID != tenantID {
		writeJSON(w, http.StatusForbidden, apiError{Error: "forbidden"})
		return
	}

	records, err := h.quarantine.List(r.Context(), tenantID, 100)
	if err != nil {
		h.logger.Error("Failed to list quarantine records",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, apiError{Error: "internal"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"records": records})
}

// writeOutcome 状态机终态到 HTTP 状态码的映射
func (h *handler) writeOutcome(w http.ResponseWriter, res ProcessResult) {
	switch {
	case res.Outcome == OutcomeAccepted:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	case errors.Is(res.Err, ErrAuth):
		writeJSON(w, http.StatusUnauthorized, apiError{Error: "auth_failed"})
	case errors.Is(res.Err, ErrRateLimited):
		writeJSON(w, http.StatusTooManyRequests, apiError{Error: "rate_limited"})
	case errors.Is(res.Err, ErrValidation):
		writeJSON(w, http.StatusUnprocessableEntity, apiError{Error: "validation_failed", Reason: res.Err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, apiError{Error: "internal"})
	}
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	var buf json.RawMessage
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
