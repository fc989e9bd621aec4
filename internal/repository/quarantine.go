package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/models"
)

// QuarantineRepository 隔离记录仓库（仅写一次，供排障只读查询）
type QuarantineRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewQuarantineRepository 创建隔离记录仓库
func NewQuarantineRepository(db *sql.DB, logger *zap.Logger) *QuarantineRepository {
	return &QuarantineRepository{
		db:     db,
		logger: logger,
	}
}

// Insert 写入隔离记录
func (r *QuarantineRepository) Insert(ctx context.Context, rec *models.QuarantineRecord) error {
	if rec.TenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}

	query := `
		INSERT INTO quarantine (tenant_id, device_id, reason, raw_payload, time)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.ExecContext(ctx, query,
		rec.TenantID,
		rec.DeviceID,
		rec.Reason,
		[]byte(rec.RawPayload),
		rec.Time,
	)
	if err != nil {
		return fmt.Errorf("failed to insert quarantine record: %w", err)
	}

	return nil
}

// List 按租户列出最近的隔离记录（排障用）
func (r *QuarantineRepository) List(ctx context.Context, tenantID string, limit int) ([]models.QuarantineRecord, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, tenant_id, device_id, reason, raw_payload, time
		FROM quarantine
		WHERE tenant_id = $1
		ORDER BY time DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list quarantine records: %w", err)
	}
	defer rows.Close()

	var records []models.QuarantineRecord
	for rows.Next() {
		var rec models.QuarantineRecord
		var raw []byte
		if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.DeviceID, &rec.Reason, &raw, &rec.Time); err != nil {
			return nil, fmt.Errorf("failed to scan quarantine record: %w", err)
		}
		rec.RawPayload = raw
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate quarantine records: %w", err)
	}

	return records, nil
}
