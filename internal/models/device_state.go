package models

import "time"

// 设备健康状态
const (
	DeviceStatusOnline  = "ONLINE"
	DeviceStatusStale   = "STALE"
	DeviceStatusOffline = "OFFLINE"
)

// DeviceState 设备健康状态（对应 device_state 表，每个 (tenant_id, device_id) 一行）
// 状态只由 last_heartbeat_at / last_telemetry_at 的时间差推导，
// 没有更新的时间戳时状态不会回退
type DeviceState struct {
	TenantID        string             `json:"tenant_id" db:"tenant_id"`
	DeviceID        string             `json:"device_id" db:"device_id"`
	Status          string             `json:"status" db:"status"`
	LastHeartbeatAt *time.Time         `json:"last_heartbeat_at,omitempty" db:"last_heartbeat_at"`
	LastTelemetryAt *time.Time         `json:"last_telemetry_at,omitempty" db:"last_telemetry_at"`
	LatestMetrics   map[string]float64 `json:"latest_metrics" db:"latest_metrics"` // JSONB
	UpdatedAt       time.Time          `json:"updated_at" db:"updated_at"`
}

// LastSeen 返回 max(last_heartbeat_at, last_telemetry_at)；两者皆空返回 nil
func (s *DeviceState) LastSeen() *time.Time {
	switch {
	case s.LastHeartbeatAt == nil:
		return s.LastTelemetryAt
	case s.LastTelemetryAt == nil:
		return s.LastHeartbeatAt
	case s.LastTelemetryAt.After(*s.LastHeartbeatAt):
		return s.LastTelemetryAt
	default:
		return s.LastHeartbeatAt
	}
}

// Device 设备注册表记录（devices 表，本核心只读）
type Device struct {
	TenantID      string `json:"tenant_id" db:"tenant_id"`
	DeviceID      string `json:"device_id" db:"device_id"`
	SiteID        string `json:"site_id" db:"site_id"`
	TokenHash     string `json:"-" db:"token_hash"`
	Revoked       bool   `json:"revoked" db:"revoked"`
	Active        bool   `json:"active" db:"active"`
}
