package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/models"
)

// AlertRepository 报警仓库（alerts 表）
// (tenant_id, device_id, fingerprint) 上的部分唯一索引（WHERE status='OPEN'）
// 是至多一条 OPEN 记录不变式的最终防线
type AlertRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertRepository 创建报警仓库
func NewAlertRepository(db *sql.DB, logger *zap.Logger) *AlertRepository {
	return &AlertRepository{
		db:     db,
		logger: logger,
	}
}

// CreateIfAbsent 创建报警；同指纹已有 OPEN 记录时不插入
// 返回是否实际创建
func (r *AlertRepository) CreateIfAbsent(ctx context.Context, tenantID string, alert *models.Alert) (bool, error) {
	if tenantID == "" {
		return false, fmt.Errorf("tenant_id is required")
	}
	if alert.TenantID != tenantID {
		return false, fmt.Errorf("alert.tenant_id must match tenant_id parameter")
	}

	query := `
		INSERT INTO alerts (
			id, tenant_id, device_id, alert_type, rule_id, fingerprint,
			status, severity, confidence, message, policy_id,
			escalation_level, next_escalation_at, triggered_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16
		)
		ON CONFLICT (tenant_id, device_id, fingerprint) WHERE status = 'OPEN'
		DO NOTHING
	`

	now := time.Now()
	res, err := r.db.ExecContext(ctx, query,
		alert.ID,
		alert.TenantID,
		alert.DeviceID,
		alert.AlertType,
		alert.RuleID,
		alert.Fingerprint,
		models.AlertStatusOpen,
		alert.Severity,
		alert.Confidence,
		alert.Message,
		alert.PolicyID,
		alert.EscalationLevel,
		alert.NextEscalationAt,
		alert.TriggeredAt,
		now,
		now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create alert: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	return affected > 0, nil
}

// HasOpenByFingerprint 查询同指纹是否已有 OPEN 报警
func (r *AlertRepository) HasOpenByFingerprint(ctx context.Context, tenantID, deviceID, fingerprint string) (bool, error) {
	if tenantID == "" {
		return false, fmt.Errorf("tenant_id is required")
	}

	query := `
		SELECT EXISTS (
			SELECT 1 FROM alerts
			WHERE tenant_id = $1 AND device_id = $2 AND fingerprint = $3 AND status = 'OPEN'
		)
	`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, tenantID, deviceID, fingerprint).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check open alert: %w", err)
	}

	return exists, nil
}

// CloseByFingerprint 关闭同指纹的 OPEN 报警（条件消除时自动恢复）
// 返回是否实际关闭了记录
func (r *AlertRepository) CloseByFingerprint(ctx context.Context, tenantID, deviceID, fingerprint string) (bool, error) {
	if tenantID == "" {
		return false, fmt.Errorf("tenant_id is required")
	}

	query := `
		UPDATE alerts
		SET status = 'CLOSED', closed_at = $4, updated_at = $4
		WHERE tenant_id = $1 AND device_id = $2 AND fingerprint = $3 AND status = 'OPEN'
	`

	res, err := r.db.ExecContext(ctx, query, tenantID, deviceID, fingerprint, time.Now())
	if err != nil {
		return false, fmt.Errorf("failed to close alert: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	return affected > 0, nil
}

// ListOpen 列出租户全部 OPEN 报警
func (r *AlertRepository) ListOpen(ctx context.Context, tenantID string) ([]models.Alert, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}

	query := `
		SELECT id, tenant_id, device_id, alert_type, rule_id, fingerprint,
		       status, severity, confidence, message, policy_id,
		       escalation_level, next_escalation_at, triggered_at,
		       acknowledged_at, closed_at, created_at, updated_at
		FROM alerts
		WHERE tenant_id = $1 AND status = 'OPEN'
		ORDER BY triggered_at
	`

	return r.queryAlerts(ctx, query, tenantID)
}

// ListDueForEscalation 列出升级到期的 OPEN 报警（next_escalation_at <= now）
func (r *AlertRepository) ListDueForEscalation(ctx context.Context, now time.Time, limit int) ([]models.Alert, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, tenant_id, device_id, alert_type, rule_id, fingerprint,
		       status, severity, confidence, message, policy_id,
		       escalation_level, next_escalation_at, triggered_at,
		       acknowledged_at, closed_at, created_at, updated_at
		FROM alerts
		WHERE status = 'OPEN'
		  AND next_escalation_at IS NOT NULL
		  AND next_escalation_at <= $1
		ORDER BY next_escalation_at
		LIMIT $2
	`

	return r.queryAlerts(ctx, query, now, limit)
}

// AdvanceEscalation 推进升级级别（条件更新实现幂等）
// 只在 escalation_level 仍等于 fromLevel 时生效，并发/重复 tick 下恰好推进一次；
// next_escalation_at 只向前推进
func (r *AlertRepository) AdvanceEscalation(ctx context.Context, tenantID, alertID string, fromLevel int, nextAt *time.Time) (bool, error) {
	if tenantID == "" {
		return false, fmt.Errorf("tenant_id is required")
	}

	query := `
		UPDATE alerts
		SET escalation_level = escalation_level + 1,
		    next_escalation_at = $4,
		    updated_at = $5
		WHERE tenant_id = $1 AND id = $2 AND status = 'OPEN'
		  AND escalation_level = $3
		  AND ($4 IS NULL OR next_escalation_at IS NULL OR $4 > next_escalation_at)
	`

	res, err := r.db.ExecContext(ctx, query, tenantID, alertID, fromLevel, nextAt, time.Now())
	if err != nil {
		return false, fmt.Errorf("failed to advance escalation: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	return affected > 0, nil
}

// queryAlerts 通用查询与扫描
func (r *AlertRepository) queryAlerts(ctx context.Context, query string, args ...interface{}) ([]models.Alert, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		var a models.Alert
		var ruleID, policyID sql.NullString
		var nextEsc, ackAt, closedAt sql.NullTime
		if err := rows.Scan(
			&a.ID, &a.TenantID, &a.DeviceID, &a.AlertType, &ruleID, &a.Fingerprint,
			&a.Status, &a.Severity, &a.Confidence, &a.Message, &policyID,
			&a.EscalationLevel, &nextEsc, &a.TriggeredAt,
			&ackAt, &closedAt, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		if ruleID.Valid {
			a.RuleID = &ruleID.String
		}
		if policyID.Valid {
			a.PolicyID = &policyID.String
		}
		if nextEsc.Valid {
			t := nextEsc.Time
			a.NextEscalationAt = &t
		}
		if ackAt.Valid {
			t := ackAt.Time
			a.AcknowledgedAt = &t
		}
		if closedAt.Valid {
			t := closedAt.Time
			a.ClosedAt = &t
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alerts: %w", err)
	}

	return alerts, nil
}
