package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/models"
)

// OnCallRepository 值班表仓库（oncall_schedules / oncall_overrides 表，只读）
type OnCallRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewOnCallRepository 创建值班表仓库
func NewOnCallRepository(db *sql.DB, logger *zap.Logger) *OnCallRepository {
	return &OnCallRepository{
		db:     db,
		logger: logger,
	}
}

// GetSchedule 获取值班表（轮换定义，responders 为 JSONB 数组）
func (r *OnCallRepository) GetSchedule(ctx context.Context, tenantID, scheduleID string) (*models.OnCallSchedule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}

	query := `
		SELECT schedule_id, tenant_id, name, timezone, handoff_hour, rotation_days, rotation_start, responders
		FROM oncall_schedules
		WHERE tenant_id = $1 AND schedule_id = $2
	`

	var s models.OnCallSchedule
	var respondersRaw []byte
	err := r.db.QueryRowContext(ctx, query, tenantID, scheduleID).Scan(
		&s.ScheduleID, &s.TenantID, &s.Name, &s.Timezone,
		&s.HandoffHour, &s.RotationDays, &s.RotationStart, &respondersRaw,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("oncall schedule not found: schedule_id=%s, tenant_id=%s", scheduleID, tenantID)
		}
		return nil, fmt.Errorf("failed to get oncall schedule: %w", err)
	}

	if len(respondersRaw) > 0 {
		if err := json.Unmarshal(respondersRaw, &s.Responders); err != nil {
			return nil, fmt.Errorf("failed to unmarshal responders: %w", err)
		}
	}

	return &s, nil
}

// ListActiveOverrides 列出给定时刻生效的替换记录
func (r *OnCallRepository) ListActiveOverrides(ctx context.Context, scheduleID string, at time.Time) ([]models.OnCallOverride, error) {
	query := `
		SELECT override_id, schedule_id, responder, start_at, end_at
		FROM oncall_overrides
		WHERE schedule_id = $1 AND start_at <= $2 AND end_at > $2
		ORDER BY start_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, scheduleID, at)
	if err != nil {
		return nil, fmt.Errorf("failed to list oncall overrides: %w", err)
	}
	defer rows.Close()

	var overrides []models.OnCallOverride
	for rows.Next() {
		var o models.OnCallOverride
		if err := rows.Scan(&o.OverrideID, &o.ScheduleID, &o.Responder, &o.StartAt, &o.EndAt); err != nil {
			return nil, fmt.Errorf("failed to scan oncall override: %w", err)
		}
		overrides = append(overrides, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate oncall overrides: %w", err)
	}

	return overrides, nil
}
