package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/config"
	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/models"
)

// Outcome 单条消息的处理结果（状态机终态）
type Outcome string

const (
	OutcomeAccepted    Outcome = "ACCEPTED"
	OutcomeQuarantined Outcome = "QUARANTINED"
	OutcomeRejected    Outcome = "REJECTED"
)

// ProcessResult 消息终态及对应错误
type ProcessResult struct {
	Outcome Outcome
	Err     error
}

// QuarantineSink 隔离记录写入接口
type QuarantineSink interface {
	Insert(ctx context.Context, rec *models.QuarantineRecord) error
}

// queuedMessage 队列元素；done 非空时处理结果回传给提交方
type queuedMessage struct {
	msg  models.IngestMessage
	done chan ProcessResult
}

// Gateway 入库网关
// 每条消息走 RECEIVED -> AUTH_CHECKED -> RATE_CHECKED -> VALIDATED ->
// {ACCEPTED | QUARANTINED | REJECTED} 状态机。
// REJECTED（认证/限流失败）不落库；QUARANTINED 仅在非严格模式下落库
type Gateway struct {
	cfg         *config.Config
	authCache   *AuthCache
	rateLimiter *RateLimiter
	batchWriter *BatchWriter
	quarantine  QuarantineSink
	validator   *Validator
	metrics     *Metrics
	logger      *zap.Logger

	queue chan queuedMessage
	wg    sync.WaitGroup
}

// NewGateway 创建入库网关
func NewGateway(
	cfg *config.Config,
	authCache *AuthCache,
	rateLimiter *RateLimiter,
	batchWriter *BatchWriter,
	quarantine QuarantineSink,
	metrics *Metrics,
	logger *zap.Logger,
) *Gateway {
	return &Gateway{
		cfg:         cfg,
		authCache:   authCache,
		rateLimiter: rateLimiter,
		batchWriter: batchWriter,
		quarantine:  quarantine,
		validator:   NewValidator(cfg.Ingest.MaxPayloadSize),
		metrics:     metrics,
		logger:      logger,
		queue:       make(chan queuedMessage, cfg.Ingest.QueueSize),
	}
}

// Start 启动工作协程池
func (g *Gateway) Start(ctx context.Context) {
	for i := 0; i < g.cfg.Ingest.Workers; i++ {
		g.wg.Add(1)
		go g.worker(ctx)
	}

	g.logger.Info("Ingestion gateway started",
		zap.Int("workers", g.cfg.Ingest.Workers),
		zap.Int("queue_size", g.cfg.Ingest.QueueSize),
	)
}

// Wait 等待全部工作协程退出（ctx 取消后调用）
func (g *Gateway) Wait() {
	g.wg.Wait()
}

// Submit 异步提交消息；队列满返回 ErrQueueFull（限流类错误，不阻塞）
func (g *Gateway) Submit(msg models.IngestMessage) error {
	select {
	case g.queue <- queuedMessage{msg: msg}:
		g.metrics.QueueDepth.Set(float64(len(g.queue)))
		return nil
	default:
		g.metrics.Rejected.WithLabelValues("queue_full").Inc()
		return ErrQueueFull
	}
}

// SubmitWait 提交消息并等待处理结果（HTTP 端点需要精确的拒收码）
func (g *Gateway) SubmitWait(ctx context.Context, msg models.IngestMessage) (ProcessResult, error) {
	done := make(chan ProcessResult, 1)

	select {
	case g.queue <- queuedMessage{msg: msg, done: done}:
		g.metrics.QueueDepth.Set(float64(len(g.queue)))
	default:
		g.metrics.Rejected.WithLabelValues("queue_full").Inc()
		return ProcessResult{}, ErrQueueFull
	}

	select {
	case <-ctx.Done():
		return ProcessResult{}, ctx.Err()
	case res := <-done:
		return res, nil
	}
}

// worker 队列消费协程
func (g *Gateway) worker(ctx context.Context) {
	defer g.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case item := <-g.queue:
			res := g.Process(ctx, &item.msg)
			if item.done != nil {
				item.done <- res
			}
		}
	}
}

// Process 执行单条消息的状态机
func (g *Gateway) Process(ctx context.Context, msg *models.IngestMessage) ProcessResult {
	// AUTH_CHECKED
	siteID, err := g.authCache.Validate(ctx, msg.TenantID, msg.DeviceID, msg.ProvisionToken)
	if err != nil {
		g.metrics.Rejected.WithLabelValues("auth").Inc()
		return ProcessResult{Outcome: OutcomeRejected, Err: ErrAuth}
	}

	// RATE_CHECKED
	if !g.rateLimiter.Admit(msg.TenantID, msg.DeviceID) {
		g.metrics.Rejected.WithLabelValues("rate_limit").Inc()
		return ProcessResult{Outcome: OutcomeRejected, Err: ErrRateLimited}
	}

	// VALIDATED
	payload, err := g.validator.Validate(msg)
	if err != nil {
		g.quarantineMessage(ctx, msg, err)
		return ProcessResult{Outcome: OutcomeQuarantined, Err: err}
	}

	// ACCEPTED
	ts := msg.ReceivedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	g.batchWriter.Add(models.TelemetryRecord{
		Time:     ts,
		TenantID: msg.TenantID,
		DeviceID: msg.DeviceID,
		SiteID:   firstNonEmpty(payload.SiteID, siteID),
		MsgType:  msg.MsgType,
		Sequence: payload.Seq,
		Metrics:  payload.Metrics,
	})

	g.metrics.Accepted.Inc()
	return ProcessResult{Outcome: OutcomeAccepted}
}

// quarantineMessage 落盘隔离记录（严格模式只记日志）
func (g *Gateway) quarantineMessage(ctx context.Context, msg *models.IngestMessage, cause error) {
	g.metrics.Quarantined.Inc()

	reason := cause.Error()
	if errors.Is(cause, ErrValidation) {
		g.logger.Debug("Message quarantined",
			zap.String("tenant_id", msg.TenantID),
			zap.String("device_id", msg.DeviceID),
			zap.String("reason", reason),
		)
	}

	if g.cfg.Mode == config.ModeStrict {
		return
	}

	rec := &models.QuarantineRecord{
		TenantID:   msg.TenantID,
		DeviceID:   msg.DeviceID,
		Reason:     reason,
		RawPayload: msg.Payload,
		Time:       time.Now(),
	}
	if err := g.quarantine.Insert(ctx, rec); err != nil {
		g.logger.Error("Failed to persist quarantine record",
			zap.String("tenant_id", msg.TenantID),
			zap.String("device_id", msg.DeviceID),
			zap.Error(err),
		)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
