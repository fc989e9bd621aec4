package models

import (
	"encoding/json"
	"time"
)

// 消息类型白名单
const (
	MsgTypeHeartbeat = "heartbeat"
	MsgTypeTelemetry = "telemetry"
	MsgTypeStatus    = "status"
)

// TelemetryRecord 遥测记录（对应 telemetry 表，按时间分区）
// 写入后不可变，(tenant_id, device_id, time) 唯一
type TelemetryRecord struct {
	Time     time.Time          `json:"time" db:"time"`
	TenantID string             `json:"tenant_id" db:"tenant_id"`
	DeviceID string             `json:"device_id" db:"device_id"`
	SiteID   string             `json:"site_id" db:"site_id"`
	MsgType  string             `json:"msg_type" db:"msg_type"`
	Sequence int64              `json:"seq" db:"sequence"`
	Metrics  map[string]float64 `json:"metrics" db:"metrics"` // JSONB
}

// QuarantineRecord 隔离记录（对应 quarantine 表）
// 仅写一次，评估器永不读取
type QuarantineRecord struct {
	ID         int64           `json:"id" db:"id"`
	TenantID   string          `json:"tenant_id" db:"tenant_id"`
	DeviceID   string          `json:"device_id" db:"device_id"`
	Reason     string          `json:"reason" db:"reason"`
	RawPayload json.RawMessage `json:"raw_payload" db:"raw_payload"`
	Time       time.Time       `json:"time" db:"time"`
}

// IngestMessage 入库前的原始遥测消息（网关状态机的处理单元）
type IngestMessage struct {
	TenantID       string          `json:"tenant_id"`
	DeviceID       string          `json:"device_id"`
	MsgType        string          `json:"msg_type"`
	ProvisionToken string          `json:"provision_token"`
	Payload        json.RawMessage `json:"payload"`
	ReceivedAt     time.Time       `json:"received_at"`
}

// TelemetryPayload HTTP/MQTT 消息体
type TelemetryPayload struct {
	SiteID  string             `json:"site_id"`
	Seq     int64              `json:"seq"`
	Metrics map[string]float64 `json:"metrics"`
}
