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

// DeviceStateRepository 设备健康状态仓库（device_state 表）
type DeviceStateRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDeviceStateRepository 创建设备状态仓库
func NewDeviceStateRepository(db *sql.DB, logger *zap.Logger) *DeviceStateRepository {
	return &DeviceStateRepository{
		db:     db,
		logger: logger,
	}
}

// Get 获取单个设备状态；不存在时返回 nil
func (r *DeviceStateRepository) Get(ctx context.Context, tenantID, deviceID string) (*models.DeviceState, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}

	query := `
		SELECT tenant_id, device_id, status, last_heartbeat_at, last_telemetry_at, latest_metrics, updated_at
		FROM device_state
		WHERE tenant_id = $1 AND device_id = $2
	`

	var s models.DeviceState
	var hb, tel sql.NullTime
	var raw []byte
	err := r.db.QueryRowContext(ctx, query, tenantID, deviceID).Scan(
		&s.TenantID, &s.DeviceID, &s.Status, &hb, &tel, &raw, &s.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get device state: %w", err)
	}

	if hb.Valid {
		t := hb.Time
		s.LastHeartbeatAt = &t
	}
	if tel.Valid {
		t := tel.Time
		s.LastTelemetryAt = &t
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &s.LatestMetrics); err != nil {
			return nil, fmt.Errorf("failed to unmarshal latest metrics: %w", err)
		}
	}

	return &s, nil
}

// List 列出租户全部设备状态
func (r *DeviceStateRepository) List(ctx context.Context, tenantID string) ([]models.DeviceState, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}

	query := `
		SELECT tenant_id, device_id, status, last_heartbeat_at, last_telemetry_at, latest_metrics, updated_at
		FROM device_state
		WHERE tenant_id = $1
		ORDER BY device_id
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list device states: %w", err)
	}
	defer rows.Close()

	var states []models.DeviceState
	for rows.Next() {
		var s models.DeviceState
		var hb, tel sql.NullTime
		var raw []byte
		if err := rows.Scan(&s.TenantID, &s.DeviceID, &s.Status, &hb, &tel, &raw, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan device state: %w", err)
		}
		if hb.Valid {
			t := hb.Time
			s.LastHeartbeatAt = &t
		}
		if tel.Valid {
			t := tel.Time
			s.LastTelemetryAt = &t
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &s.LatestMetrics); err != nil {
				r.logger.Warn("Failed to unmarshal latest metrics",
					zap.String("device_id", s.DeviceID),
					zap.Error(err),
				)
			}
		}
		states = append(states, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate device states: %w", err)
	}

	return states, nil
}

// Upsert 写入设备状态
// 时间戳只向前推进：GREATEST 保证旧 tick 的回写不会让状态回退
func (r *DeviceStateRepository) Upsert(ctx context.Context, s *models.DeviceState) error {
	if s.TenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}

	metricsJSON, err := json.Marshal(s.LatestMetrics)
	if err != nil {
		return fmt.Errorf("failed to marshal latest metrics: %w", err)
	}

	query := `
		INSERT INTO device_state (
			tenant_id, device_id, status, last_heartbeat_at, last_telemetry_at, latest_metrics, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, device_id) DO UPDATE SET
			status = EXCLUDED.status,
			last_heartbeat_at = GREATEST(device_state.last_heartbeat_at, EXCLUDED.last_heartbeat_at),
			last_telemetry_at = GREATEST(device_state.last_telemetry_at, EXCLUDED.last_telemetry_at),
			latest_metrics = EXCLUDED.latest_metrics,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		s.TenantID,
		s.DeviceID,
		s.Status,
		s.LastHeartbeatAt,
		s.LastTelemetryAt,
		metricsJSON,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert device state: %w", err)
	}

	return nil
}
