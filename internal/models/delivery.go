package models

import (
	"encoding/json"
	"time"
)

// 投递任务状态
const (
	JobStatusPending    = "PENDING"
	JobStatusInProgress = "IN_PROGRESS"
	JobStatusSucceeded  = "SUCCEEDED"
	JobStatusFailed     = "FAILED"
)

// 投递通道类型
const (
	ChannelWebhook   = "webhook"
	ChannelSlack     = "slack"
	ChannelTeams     = "teams"
	ChannelPagerDuty = "pagerduty"
	ChannelEmail     = "email"
	ChannelSNMP      = "snmp"
	ChannelMQTT      = "mqtt"
)

// NotificationRoutingRule 通知路由规则（notification_routing_rules 表，CRUD 层写入）
// 规则独立评估，一条报警可扇出到多个通道
type NotificationRoutingRule struct {
	RuleID          string          `json:"rule_id" db:"rule_id"`
	TenantID        string          `json:"tenant_id" db:"tenant_id"`
	MinSeverity     int             `json:"min_severity" db:"min_severity"`
	AlertTypes      []string        `json:"alert_types"` // 空表示全部
	ThrottleSeconds int             `json:"throttle_seconds" db:"throttle_seconds"`
	Channel         string          `json:"channel" db:"channel"`
	ChannelConfig   json.RawMessage `json:"channel_config" db:"channel_config"` // JSONB
	Enabled         bool            `json:"enabled" db:"enabled"`
}

// Matches 判断事件是否命中本规则（severity 过滤 ∧ 类型过滤）
func (r *NotificationRoutingRule) Matches(ev *NotificationEvent) bool {
	if !r.Enabled {
		return false
	}
	if ev.Severity < r.MinSeverity {
		return false
	}
	if len(r.AlertTypes) == 0 {
		return true
	}
	for _, t := range r.AlertTypes {
		if t == ev.AlertType {
			return true
		}
	}
	return false
}

// IntegrationRoute 旧式集成路由（integration_routes 表）
// 命中后入队 DeliveryJob，由 DeliveryWorker 异步投递
type IntegrationRoute struct {
	RouteID       string          `json:"route_id" db:"route_id"`
	TenantID      string          `json:"tenant_id" db:"tenant_id"`
	MinSeverity   int             `json:"min_severity" db:"min_severity"`
	AlertTypes    []string        `json:"alert_types"`
	Transport     string          `json:"transport" db:"transport"` // webhook, snmp, email, mqtt
	TransportConf json.RawMessage `json:"transport_conf" db:"transport_conf"` // JSONB
	MaxAttempts   int             `json:"max_attempts" db:"max_attempts"`
	Enabled       bool            `json:"enabled" db:"enabled"`
}

// Matches 判断事件是否命中本路由
func (r *IntegrationRoute) Matches(ev *NotificationEvent) bool {
	if !r.Enabled {
		return false
	}
	if ev.Severity < r.MinSeverity {
		return false
	}
	if len(r.AlertTypes) == 0 {
		return true
	}
	for _, t := range r.AlertTypes {
		if t == ev.AlertType {
			return true
		}
	}
	return false
}

// DeliveryJob 投递任务（delivery_jobs 表）
// PENDING 任务由 DeliveryWorker 原子认领，终态后不再变更
type DeliveryJob struct {
	JobID         string          `json:"job_id" db:"job_id"`
	TenantID      string          `json:"tenant_id" db:"tenant_id"`
	AlertID       string          `json:"alert_id" db:"alert_id"`
	RouteID       string          `json:"route_id" db:"route_id"`
	Transport     string          `json:"transport" db:"transport"`
	TransportConf json.RawMessage `json:"transport_conf" db:"transport_conf"`
	PayloadJSON   json.RawMessage `json:"payload" db:"payload"`
	Status        string          `json:"status" db:"status"`
	AttemptCount  int             `json:"attempt_count" db:"attempt_count"`
	MaxAttempts   int             `json:"max_attempts" db:"max_attempts"`
	NextAttemptAt time.Time       `json:"next_attempt_at" db:"next_attempt_at"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// DeliveryAttempt 投递尝试记录（delivery_attempts 表，仅追加）
type DeliveryAttempt struct {
	AttemptID   int64     `json:"attempt_id" db:"attempt_id"`
	JobID       string    `json:"job_id" db:"job_id"`
	TenantID    string    `json:"tenant_id" db:"tenant_id"`
	AttemptNo   int       `json:"attempt_no" db:"attempt_no"`
	Succeeded   bool      `json:"succeeded" db:"succeeded"`
	LatencyMS   int64     `json:"latency_ms" db:"latency_ms"`
	Error       *string   `json:"error,omitempty" db:"error"`
	AttemptedAt time.Time `json:"attempted_at" db:"attempted_at"`
}
