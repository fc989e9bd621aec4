package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/config"
	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/models"
	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/notifier/channels"
	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/repository"
)

// DeliveryWorker 投递工作器
// 周期性原子认领到期的 PENDING 任务，指数退避重试，
// 每次尝试无论成败都写入 delivery_attempts 审计
type DeliveryWorker struct {
	cfg      *config.Config
	jobRepo  *repository.DeliveryJobRepository
	registry *channels.Registry
	metrics  *Metrics
	logger   *zap.Logger
}

// NewDeliveryWorker 创建投递工作器
func NewDeliveryWorker(
	cfg *config.Config,
	jobRepo *repository.DeliveryJobRepository,
	registry *channels.Registry,
	metrics *Metrics,
	logger *zap.Logger,
) *DeliveryWorker {
	return &DeliveryWorker{
		cfg:      cfg,
		jobRepo:  jobRepo,
		registry: registry,
		metrics:  metrics,
		logger:   logger,
	}
}

// Start 启动认领循环；阻塞到上下文取消
func (w *DeliveryWorker) Start(ctx context.Context) error {
	w.logger.Info("Delivery worker started",
		zap.Duration("interval", w.cfg.Notifier.WorkerInterval),
		zap.Int("claim_batch", w.cfg.Notifier.ClaimBatch),
	)

	// 启动时立即扫一轮
	w.RunOnce(ctx, time.Now())

	ticker := time.NewTicker(w.cfg.Notifier.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Delivery worker stopped")
			return nil
		case <-ticker.C:
			w.RunOnce(ctx, time.Now())
		}
	}
}

// RunOnce 认领并处理一批到期任务
func (w *DeliveryWorker) RunOnce(ctx context.Context, now time.Time) {
	jobs, err := w.jobRepo.ClaimDue(ctx, now, w.cfg.Notifier.ClaimBatch)
	if err != nil {
		w.logger.Error("Failed to claim delivery jobs", zap.Error(err))
		return
	}
	if len(jobs) == 0 {
		return
	}
	w.metrics.JobsClaimed.Add(float64(len(jobs)))

	for i := range jobs {
		select {
		case <-ctx.Done():
			return
		default:
		}
		w.processJob(ctx, &jobs[i], now)
	}
}

// processJob 执行一次投递尝试并落终态或重排
func (w *DeliveryWorker) processJob(ctx context.Context, job *models.DeliveryJob, now time.Time) {
	attemptNo := job.AttemptCount + 1

	start := time.Now()
	sendErr := w.attempt(ctx, job)
	latency := time.Since(start).Milliseconds()

	attempt := &models.DeliveryAttempt{
		JobID:       job.JobID,
		TenantID:    job.TenantID,
		AttemptNo:   attemptNo,
		Succeeded:   sendErr == nil,
		LatencyMS:   latency,
		AttemptedAt: now,
	}
	if sendErr != nil {
		msg := sendErr.Error()
		attempt.Error = &msg
	}
	if err := w.jobRepo.AppendAttempt(ctx, attempt); err != nil {
		w.logger.Error("Failed to record delivery attempt",
			zap.String("job_id", job.JobID),
			zap.Error(err),
		)
	}

	if sendErr == nil {
		w.metrics.Attempts.WithLabelValues(job.Transport, "ok").Inc()
		if err := w.jobRepo.MarkSucceeded(ctx, job.TenantID, job.JobID, attemptNo); err != nil {
			w.logger.Error("Failed to mark job succeeded", zap.String("job_id", job.JobID), zap.Error(err))
		}
		return
	}

	w.metrics.Attempts.WithLabelValues(job.Transport, "error").Inc()
	w.logger.Warn("Delivery attempt failed",
		zap.String("job_id", job.JobID),
		zap.String("transport", job.Transport),
		zap.Int("attempt", attemptNo),
		zap.Int("max_attempts", job.MaxAttempts),
		zap.Error(sendErr),
	)

	if attemptNo >= job.MaxAttempts {
		w.metrics.JobsFailed.Inc()
		if err := w.jobRepo.MarkFailed(ctx, job.TenantID, job.JobID, attemptNo); err != nil {
			w.logger.Error("Failed to mark job failed", zap.String("job_id", job.JobID), zap.Error(err))
		}
		return
	}

	nextAt := now.Add(w.Backoff(attemptNo))
	if err := w.jobRepo.Reschedule(ctx, job.TenantID, job.JobID, attemptNo, nextAt); err != nil {
		w.logger.Error("Failed to reschedule job", zap.String("job_id", job.JobID), zap.Error(err))
	}
}

// attempt 解码任务载荷并经通道适配器投递
func (w *DeliveryWorker) attempt(ctx context.Context, job *models.DeliveryJob) error {
	var event models.NotificationEvent
	if err := json.Unmarshal(job.PayloadJSON, &event); err != nil {
		return fmt.Errorf("invalid job payload: %w", err)
	}

	sender, err := w.registry.Get(job.Transport)
	if err != nil {
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, w.cfg.Notifier.DeliveryTimeout)
	defer cancel()

	return sender.Send(sendCtx, job.TransportConf, &event)
}

// Backoff 第 n 次失败后的等待时间：base * 2^(n-1)，封顶 MaxBackoff
func (w *DeliveryWorker) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}

	backoff := w.cfg.Notifier.BaseBackoff
	for i := 1; i < attempts; i++ {
		backoff *= 2
		if backoff >= w.cfg.Notifier.MaxBackoff {
			return w.cfg.Notifier.MaxBackoff
		}
	}
	if backoff > w.cfg.Notifier.MaxBackoff {
		backoff = w.cfg.Notifier.MaxBackoff
	}

	return backoff
}
