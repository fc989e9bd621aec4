package escalation

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	rediscommon "github.com/andrewcho-dev/opsconductor-pulse-sub007/common/redis"
	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/config"
	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/models"
	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/repository"
)

const dueBatchSize = 200

// Engine 报警升级引擎
// 每个 tick 扫描升级到期的 OPEN 报警，推进级别并发出通知事件。
// 级别推进走条件更新：重复 tick 和并发实例下同一级别恰好推进一次，
// 未到期的报警重复扫描是空操作
type Engine struct {
	cfg            *config.Config
	alertRepo      *repository.AlertRepository
	escalationRepo *repository.EscalationRepository
	oncallRepo     *repository.OnCallRepository
	redisClient    *goredis.Client
	metrics        *Metrics
	logger         *zap.Logger
}

// NewEngine 创建升级引擎
func NewEngine(
	cfg *config.Config,
	alertRepo *repository.AlertRepository,
	escalationRepo *repository.EscalationRepository,
	oncallRepo *repository.OnCallRepository,
	redisClient *goredis.Client,
	metrics *Metrics,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		cfg:            cfg,
		alertRepo:      alertRepo,
		escalationRepo: escalationRepo,
		oncallRepo:     oncallRepo,
		redisClient:    redisClient,
		metrics:        metrics,
		logger:         logger,
	}
}

// Tick 执行一轮升级扫描
func (e *Engine) Tick(ctx context.Context, now time.Time) error {
	e.metrics.Ticks.Inc()

	due, err := e.alertRepo.ListDueForEscalation(ctx, now, dueBatchSize)
	if err != nil {
		return fmt.Errorf("failed to list due alerts: %w", err)
	}

	for i := range due {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := e.escalate(ctx, &due[i], now); err != nil {
			e.metrics.ResolveErrors.Inc()
			e.logger.Error("Failed to escalate alert",
				zap.String("tenant_id", due[i].TenantID),
				zap.String("alert_id", due[i].ID),
				zap.Error(err),
			)
			// 单条失败不影响其余，下个 tick 重试
		}
	}

	return nil
}

// escalate 推进单条报警的升级级别
func (e *Engine) escalate(ctx context.Context, alert *models.Alert, now time.Time) error {
	if alert.PolicyID == nil {
		return e.notifyOnce(ctx, alert, now)
	}

	policy, err := e.escalationRepo.GetPolicy(ctx, alert.TenantID, *alert.PolicyID)
	if err != nil {
		return fmt.Errorf("failed to load escalation policy: %w", err)
	}

	// escalation_level 是已通知过的级别数；本次要通知的是 levels[level]
	if alert.EscalationLevel >= len(policy.Levels) {
		// 已过最后一级：停止升级，清空到期时间
		advanced, err := e.alertRepo.AdvanceEscalation(ctx, alert.TenantID, alert.ID, alert.EscalationLevel, nil)
		if err != nil {
			return err
		}
		if !advanced {
			e.metrics.Skipped.Inc()
		}
		return nil
	}

	level := policy.Levels[alert.EscalationLevel]

	targetType, targetValue, err := e.resolveTarget(ctx, alert.TenantID, &level, now)
	if err != nil {
		return fmt.Errorf("failed to resolve target for level %d: %w", level.LevelNo, err)
	}

	// 级别 N+1 在级别 N 的延迟之后到期；没有下一级则停止
	var nextAt *time.Time
	if alert.EscalationLevel+1 < len(policy.Levels) {
		t := now.Add(time.Duration(level.DelayMinutes) * time.Minute)
		nextAt = &t
	}

	// 先推进再发事件：并发 tick 只有赢家发出通知
	advanced, err := e.alertRepo.AdvanceEscalation(ctx, alert.TenantID, alert.ID, alert.EscalationLevel, nextAt)
	if err != nil {
		return err
	}
	if !advanced {
		e.metrics.Skipped.Inc()
		return nil
	}
	e.metrics.Advanced.Inc()

	return e.emit(ctx, alert, level.LevelNo, targetType, targetValue, now)
}

// notifyOnce 无策略报警（如 NO_HEARTBEAT）发一次级别0事件后不再升级
// 路由规则和集成路由照常消费该事件
func (e *Engine) notifyOnce(ctx context.Context, alert *models.Alert, now time.Time) error {
	advanced, err := e.alertRepo.AdvanceEscalation(ctx, alert.TenantID, alert.ID, alert.EscalationLevel, nil)
	if err != nil {
		return err
	}
	if !advanced {
		e.metrics.Skipped.Inc()
		return nil
	}
	e.metrics.Advanced.Inc()

	return e.emit(ctx, alert, alert.EscalationLevel, "", "", now)
}

// emit 发布通知事件到事件流
func (e *Engine) emit(ctx context.Context, alert *models.Alert, levelNo int, targetType, targetValue string, now time.Time) error {
	event := models.NotificationEvent{
		EventID:     uuid.NewString(),
		TenantID:    alert.TenantID,
		AlertID:     alert.ID,
		DeviceID:    alert.DeviceID,
		AlertType:   alert.AlertType,
		Severity:    alert.Severity,
		Level:       levelNo,
		TargetType:  targetType,
		TargetValue: targetValue,
		Message:     alert.Message,
		EmittedAt:   now,
	}

	if _, err := rediscommon.PublishJSONToStream(ctx, e.redisClient, e.cfg.Escalation.EventStream, event); err != nil {
		return fmt.Errorf("failed to publish notification event: %w", err)
	}
	e.metrics.EventsEmitted.Inc()

	e.logger.Info("Alert escalated",
		zap.String("tenant_id", alert.TenantID),
		zap.String("alert_id", alert.ID),
		zap.Int("level", levelNo),
		zap.String("target_type", targetType),
		zap.String("target_value", targetValue),
	)

	return nil
}

// resolveTarget 解析级别的通知目标
// user/email 直接取字面值；schedule 解析为当前值班人
func (e *Engine) resolveTarget(ctx context.Context, tenantID string, level *models.EscalationLevel, now time.Time) (string, string, error) {
	switch level.TargetType {
	case models.TargetTypeUser, models.TargetTypeEmail:
		return level.TargetType, level.TargetValue, nil
	case models.TargetTypeSchedule:
		schedule, err := e.oncallRepo.GetSchedule(ctx, tenantID, level.TargetValue)
		if err != nil {
			return "", "", fmt.Errorf("failed to load oncall schedule: %w", err)
		}
		overrides, err := e.oncallRepo.ListActiveOverrides(ctx, schedule.ScheduleID, now)
		if err != nil {
			return "", "", fmt.Errorf("failed to load oncall overrides: %w", err)
		}
		responder, err := ResolveOnCall(schedule, overrides, now)
		if err != nil {
			return "", "", err
		}
		return models.TargetTypeUser, responder, nil
	default:
		return "", "", fmt.Errorf("unknown target type %q", level.TargetType)
	}
}
