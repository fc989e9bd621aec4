package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/models"
)

// DeviceRepository 设备注册表仓库（本核心只读）
type DeviceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDeviceRepository 创建设备注册表仓库
func NewDeviceRepository(db *sql.DB, logger *zap.Logger) *DeviceRepository {
	return &DeviceRepository{
		db:     db,
		logger: logger,
	}
}

// GetDevice 根据 (tenant_id, device_id) 获取设备注册信息
func (r *DeviceRepository) GetDevice(ctx context.Context, tenantID, deviceID string) (*models.Device, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}

	query := `
		SELECT tenant_id, device_id, site_id, token_hash, revoked, active
		FROM devices
		WHERE tenant_id = $1 AND device_id = $2
	`

	var d models.Device
	err := r.db.QueryRowContext(ctx, query, tenantID, deviceID).Scan(
		&d.TenantID,
		&d.DeviceID,
		&d.SiteID,
		&d.TokenHash,
		&d.Revoked,
		&d.Active,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("device not found: tenant_id=%s, device_id=%s", tenantID, deviceID)
		}
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	return &d, nil
}

// ListDevices 列出租户的全部有效设备
func (r *DeviceRepository) ListDevices(ctx context.Context, tenantID string) ([]models.Device, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}

	query := `
		SELECT tenant_id, device_id, site_id, token_hash, revoked, active
		FROM devices
		WHERE tenant_id = $1 AND active = TRUE
		ORDER BY device_id
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var devices []models.Device
	for rows.Next() {
		var d models.Device
		if err := rows.Scan(&d.TenantID, &d.DeviceID, &d.SiteID, &d.TokenHash, &d.Revoked, &d.Active); err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate devices: %w", err)
	}

	return devices, nil
}

// ListTenants 列出有有效设备的租户ID（评估器按租户分组扫描）
func (r *DeviceRepository) ListTenants(ctx context.Context) ([]string, error) {
	query := `
		SELECT DISTINCT tenant_id
		FROM devices
		WHERE active = TRUE
		ORDER BY tenant_id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tenants: %w", err)
	}

	return tenants, nil
}
