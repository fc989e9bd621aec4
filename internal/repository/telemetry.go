package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/models"
)

// TelemetryRepository 遥测时序数据仓库（telemetry 表，按时间分区）
type TelemetryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTelemetryRepository 创建遥测仓库
func NewTelemetryRepository(db *sql.DB, logger *zap.Logger) *TelemetryRepository {
	return &TelemetryRepository{
		db:     db,
		logger: logger,
	}
}

// InsertRows 逐行插入（小批量路径，单条调用开销低）
// 冲突键 (tenant_id, device_id, time) 已存在时跳过
func (r *TelemetryRepository) InsertRows(ctx context.Context, records []models.TelemetryRecord) error {
	query := `
		INSERT INTO telemetry (
			time, tenant_id, device_id, site_id, msg_type, sequence, metrics
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, device_id, time) DO NOTHING
	`

	for i := range records {
		rec := &records[i]
		metricsJSON, err := json.Marshal(rec.Metrics)
		if err != nil {
			return fmt.Errorf("failed to marshal metrics: %w", err)
		}

		_, err = r.db.ExecContext(ctx, query,
			rec.Time,
			rec.TenantID,
			rec.DeviceID,
			rec.SiteID,
			rec.MsgType,
			rec.Sequence,
			metricsJSON,
		)
		if err != nil {
			return fmt.Errorf("failed to insert telemetry row: %w", err)
		}
	}

	return nil
}

// CopyRows 走 COPY 协议批量插入（大批量路径）
func (r *TelemetryRepository) CopyRows(ctx context.Context, records []models.TelemetryRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin copy transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("telemetry",
		"time", "tenant_id", "device_id", "site_id", "msg_type", "sequence", "metrics",
	))
	if err != nil {
		return fmt.Errorf("failed to prepare copy statement: %w", err)
	}

	for i := range records {
		rec := &records[i]
		metricsJSON, err := json.Marshal(rec.Metrics)
		if err != nil {
			stmt.Close()
			return fmt.Errorf("failed to marshal metrics: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			rec.Time, rec.TenantID, rec.DeviceID, rec.SiteID, rec.MsgType, rec.Sequence, string(metricsJSON),
		); err != nil {
			stmt.Close()
			return fmt.Errorf("failed to buffer copy row: %w", err)
		}
	}

	// 空 Exec 刷出缓冲数据
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("failed to flush copy buffer: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("failed to close copy statement: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit copy transaction: %w", err)
	}

	return nil
}

// DeviceContact 设备在回看窗口内的最近联系情况
type DeviceContact struct {
	DeviceID        string
	LastHeartbeatAt *time.Time
	LastTelemetryAt *time.Time
	LatestMetrics   map[string]float64
}

// LatestContacts 查询租户全部设备在回看窗口内的最后心跳/遥测时间及最新指标快照
// 窗口内无记录的设备不出现在结果中
func (r *TelemetryRepository) LatestContacts(ctx context.Context, tenantID string, lookback time.Duration) (map[string]*DeviceContact, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}

	since := time.Now().Add(-lookback)

	query := `
		SELECT
			device_id,
			MAX(time) FILTER (WHERE msg_type = 'heartbeat') AS last_heartbeat_at,
			MAX(time) FILTER (WHERE msg_type <> 'heartbeat') AS last_telemetry_at
		FROM telemetry
		WHERE tenant_id = $1 AND time >= $2
		GROUP BY device_id
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest contacts: %w", err)
	}
	defer rows.Close()

	contacts := make(map[string]*DeviceContact)
	for rows.Next() {
		var c DeviceContact
		var hb, tel sql.NullTime
		if err := rows.Scan(&c.DeviceID, &hb, &tel); err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		if hb.Valid {
			t := hb.Time
			c.LastHeartbeatAt = &t
		}
		if tel.Valid {
			t := tel.Time
			c.LastTelemetryAt = &t
		}
		contacts[c.DeviceID] = &c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate contacts: %w", err)
	}

	// 最新指标快照单独取（每设备窗口内最新一条带 metrics 的记录）
	metricsQuery := `
		SELECT DISTINCT ON (device_id) device_id, metrics
		FROM telemetry
		WHERE tenant_id = $1 AND time >= $2
		ORDER BY device_id, time DESC
	`

	mrows, err := r.db.QueryContext(ctx, metricsQuery, tenantID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest metrics: %w", err)
	}
	defer mrows.Close()

	for mrows.Next() {
		var deviceID string
		var raw []byte
		if err := mrows.Scan(&deviceID, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan metrics: %w", err)
		}
		c, ok := contacts[deviceID]
		if !ok {
			continue
		}
		if len(raw) > 0 {
			var metrics map[string]float64
			if err := json.Unmarshal(raw, &metrics); err != nil {
				r.logger.Warn("Failed to unmarshal metrics snapshot",
					zap.String("tenant_id", tenantID),
					zap.String("device_id", deviceID),
					zap.Error(err),
				)
				continue
			}
			c.LatestMetrics = metrics
		}
	}
	if err := mrows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate metrics: %w", err)
	}

	return contacts, nil
}
