package evaluator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/config"
	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/models"
	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/repository"
)

// Evaluator 设备状态评估器
// 每个 tick 从遥测存储推导设备状态机，生成去重后的报警。
// 状态转换只依据持久化的时间戳，tick 对崩溃重启是幂等的
type Evaluator struct {
	cfg           *config.Config
	deviceRepo    *repository.DeviceRepository
	telemetryRepo *repository.TelemetryRepository
	stateRepo     *repository.DeviceStateRepository
	alertRepo     *repository.AlertRepository
	ruleRepo      *repository.AlertRuleRepository
	metrics       *Metrics
	logger        *zap.Logger
}

// NewEvaluator 创建评估器
func NewEvaluator(
	cfg *config.Config,
	deviceRepo *repository.DeviceRepository,
	telemetryRepo *repository.TelemetryRepository,
	stateRepo *repository.DeviceStateRepository,
	alertRepo *repository.AlertRepository,
	ruleRepo *repository.AlertRuleRepository,
	metrics *Metrics,
	logger *zap.Logger,
) *Evaluator {
	return &Evaluator{
		cfg:           cfg,
		deviceRepo:    deviceRepo,
		telemetryRepo: telemetryRepo,
		stateRepo:     stateRepo,
		alertRepo:     alertRepo,
		ruleRepo:      ruleRepo,
		metrics:       metrics,
		logger:        logger,
	}
}

// Tick 执行一轮全量评估
// 单设备失败只记日志和计数，不中断其他设备
func (e *Evaluator) Tick(ctx context.Context, now time.Time) error {
	e.metrics.Ticks.Inc()

	tenants, err := e.deviceRepo.ListTenants(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tenants: %w", err)
	}

	for _, tenantID := range tenants {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := e.evaluateTenant(ctx, tenantID, now); err != nil {
			e.logger.Error("Failed to evaluate tenant",
				zap.String("tenant_id", tenantID),
				zap.Error(err),
			)
			// 继续处理其他租户，不中断
		}
	}

	return nil
}

// evaluateTenant 评估单租户的全部设备
func (e *Evaluator) evaluateTenant(ctx context.Context, tenantID string, now time.Time) error {
	devices, err := e.deviceRepo.ListDevices(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}

	contacts, err := e.telemetryRepo.LatestContacts(ctx, tenantID, e.cfg.Evaluator.LookbackWindow)
	if err != nil {
		return fmt.Errorf("failed to load latest contacts: %w", err)
	}

	states, err := e.stateRepo.List(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to list device states: %w", err)
	}
	stateByDevice := make(map[string]*models.DeviceState, len(states))
	for i := range states {
		stateByDevice[states[i].DeviceID] = &states[i]
	}

	rules, err := e.ruleRepo.ListEnabled(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to list alert rules: %w", err)
	}

	for _, device := range devices {
		if err := e.evaluateDevice(ctx, tenantID, device.DeviceID, contacts[device.DeviceID], stateByDevice[device.DeviceID], rules, now); err != nil {
			e.metrics.EvalErrors.Inc()
			e.logger.Error("Failed to evaluate device",
				zap.String("tenant_id", tenantID),
				zap.String("device_id", device.DeviceID),
				zap.Error(err),
			)
			// 单设备错误隔离，下个 tick 自动重试
		}
	}

	return nil
}

// evaluateDevice 推导单设备状态并评估报警
func (e *Evaluator) evaluateDevice(
	ctx context.Context,
	tenantID, deviceID string,
	contact *repository.DeviceContact,
	prev *models.DeviceState,
	rules []models.AlertRule,
	now time.Time,
) error {
	next := models.DeviceState{
		TenantID: tenantID,
		DeviceID: deviceID,
	}

	// 合并已存状态与回看窗口内的最新联系
	if prev != nil {
		next.LastHeartbeatAt = prev.LastHeartbeatAt
		next.LastTelemetryAt = prev.LastTelemetryAt
		next.LatestMetrics = prev.LatestMetrics
	}
	if contact != nil {
		if later(contact.LastHeartbeatAt, next.LastHeartbeatAt) {
			next.LastHeartbeatAt = contact.LastHeartbeatAt
		}
		if later(contact.LastTelemetryAt, next.LastTelemetryAt) {
			next.LastTelemetryAt = contact.LastTelemetryAt
		}
		if contact.LatestMetrics != nil {
			next.LatestMetrics = contact.LatestMetrics
		}
	}

	lastSeen := next.LastSeen()
	if lastSeen == nil {
		// 从未联系过的设备不参与 NO_HEARTBEAT 评估
		return nil
	}

	elapsed := now.Sub(*lastSeen)
	switch {
	case elapsed > e.cfg.Evaluator.OfflineWindow:
		next.Status = models.DeviceStatusOffline
	case elapsed > e.cfg.Evaluator.HeartbeatWindow:
		next.Status = models.DeviceStatusStale
	default:
		next.Status = models.DeviceStatusOnline
	}

	if err := e.stateRepo.Upsert(ctx, &next); err != nil {
		return fmt.Errorf("failed to upsert device state: %w", err)
	}

	if err := e.evaluateHeartbeat(ctx, tenantID, deviceID, &next, now); err != nil {
		return err
	}

	return e.evaluateThresholds(ctx, tenantID, deviceID, next.LatestMetrics, rules, now)
}

// evaluateHeartbeat NO_HEARTBEAT 报警：进入 STALE/OFFLINE 开启，恢复 ONLINE 自动关闭
func (e *Evaluator) evaluateHeartbeat(ctx context.Context, tenantID, deviceID string, state *models.DeviceState, now time.Time) error {
	fp := Fingerprint(tenantID, deviceID, models.AlertTypeNoHeartbeat, "")

	if state.Status == models.DeviceStatusOnline {
		closed, err := e.alertRepo.CloseByFingerprint(ctx, tenantID, deviceID, fp)
		if err != nil {
			return fmt.Errorf("failed to close heartbeat alert: %w", err)
		}
		if closed {
			e.metrics.AlertsClosed.WithLabelValues(models.AlertTypeNoHeartbeat).Inc()
			e.logger.Info("Heartbeat alert closed",
				zap.String("tenant_id", tenantID),
				zap.String("device_id", deviceID),
			)
		}
		return nil
	}

	triggered := now
	created, err := e.alertRepo.CreateIfAbsent(ctx, tenantID, &models.Alert{
		ID:               uuid.NewString(),
		TenantID:         tenantID,
		DeviceID:         deviceID,
		AlertType:        models.AlertTypeNoHeartbeat,
		Fingerprint:      fp,
		Severity:         3,
		Confidence:       1.0,
		Message:          fmt.Sprintf("device %s has not been seen since %s", deviceID, state.LastSeen().Format(time.RFC3339)),
		NextEscalationAt: &triggered, // 无策略：升级引擎发一次级别0通知后停止
		TriggeredAt:      triggered,
	})
	if err != nil {
		return fmt.Errorf("failed to create heartbeat alert: %w", err)
	}
	if created {
		e.metrics.AlertsOpened.WithLabelValues(models.AlertTypeNoHeartbeat).Inc()
		e.logger.Info("Heartbeat alert opened",
			zap.String("tenant_id", tenantID),
			zap.String("device_id", deviceID),
			zap.String("status", state.Status),
		)
	}

	return nil
}

// evaluateThresholds 阈值报警：规则逐条独立评估，一台设备可同时持有多个不同指纹的报警
func (e *Evaluator) evaluateThresholds(ctx context.Context, tenantID, deviceID string, metrics map[string]float64, rules []models.AlertRule, now time.Time) error {
	for _, rule := range rules {
		fp := Fingerprint(tenantID, deviceID, models.AlertTypeThreshold, rule.RuleID)

		if !rule.Violated(metrics) {
			closed, err := e.alertRepo.CloseByFingerprint(ctx, tenantID, deviceID, fp)
			if err != nil {
				return fmt.Errorf("failed to close threshold alert: %w", err)
			}
			if closed {
				e.metrics.AlertsClosed.WithLabelValues(models.AlertTypeThreshold).Inc()
			}
			continue
		}

		ruleID := rule.RuleID
		triggered := now
		created, err := e.alertRepo.CreateIfAbsent(ctx, tenantID, &models.Alert{
			ID:               uuid.NewString(),
			TenantID:         tenantID,
			DeviceID:         deviceID,
			AlertType:        models.AlertTypeThreshold,
			RuleID:           &ruleID,
			Fingerprint:      fp,
			Severity:         rule.Severity,
			Confidence:       1.0,
			Message:          fmt.Sprintf("metric %s %s %g violated by device %s", rule.Metric, rule.Operator, rule.Value, deviceID),
			PolicyID:         rule.PolicyID,
			NextEscalationAt: &triggered, // 级别0在下个升级 tick 立即到期
			TriggeredAt:      triggered,
		})
		if err != nil {
			return fmt.Errorf("failed to create threshold alert: %w", err)
		}
		if created {
			e.metrics.AlertsOpened.WithLabelValues(models.AlertTypeThreshold).Inc()
			e.logger.Info("Threshold alert opened",
				zap.String("tenant_id", tenantID),
				zap.String("device_id", deviceID),
				zap.String("rule_id", rule.RuleID),
				zap.String("metric", rule.Metric),
			)
		}
	}

	return nil
}

// later 判断 a 是否晚于 b（nil 视为最早）
func later(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.After(*b)
}
