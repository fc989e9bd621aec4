package models

import "time"

// 报警类型
const (
	AlertTypeNoHeartbeat = "NO_HEARTBEAT"
	AlertTypeThreshold   = "THRESHOLD"
)

// 报警状态
const (
	AlertStatusOpen         = "OPEN"
	AlertStatusAcknowledged = "ACKNOWLEDGED"
	AlertStatusClosed       = "CLOSED"
)

// 阈值比较算子
const (
	OpGT  = "GT"
	OpLT  = "LT"
	OpGTE = "GTE"
	OpLTE = "LTE"
)

// Alert 报警记录（对应 alerts 表）
// 同一 (tenant_id, device_id, fingerprint) 最多一条 OPEN 记录
type Alert struct {
	ID               string     `json:"id" db:"id"`
	TenantID         string     `json:"tenant_id" db:"tenant_id"`
	DeviceID         string     `json:"device_id" db:"device_id"`
	AlertType        string     `json:"alert_type" db:"alert_type"`
	RuleID           *string    `json:"rule_id,omitempty" db:"rule_id"`
	Fingerprint      string     `json:"fingerprint" db:"fingerprint"`
	Status           string     `json:"status" db:"status"`
	Severity         int        `json:"severity" db:"severity"`     // 1-5
	Confidence       float64    `json:"confidence" db:"confidence"` // 0.0-1.0
	Message          string     `json:"message" db:"message"`
	PolicyID         *string    `json:"policy_id,omitempty" db:"policy_id"`
	EscalationLevel  int        `json:"escalation_level" db:"escalation_level"`
	NextEscalationAt *time.Time `json:"next_escalation_at,omitempty" db:"next_escalation_at"`
	TriggeredAt      time.Time  `json:"triggered_at" db:"triggered_at"`
	AcknowledgedAt   *time.Time `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	ClosedAt         *time.Time `json:"closed_at,omitempty" db:"closed_at"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}

// AlertRule 租户阈值规则（alert_rules 表，CRUD 层写入，本核心只读）
type AlertRule struct {
	RuleID   string  `json:"rule_id" db:"rule_id"`
	TenantID string  `json:"tenant_id" db:"tenant_id"`
	Metric   string  `json:"metric" db:"metric"`
	Operator string  `json:"operator" db:"operator"` // GT, LT, GTE, LTE
	Value    float64 `json:"value" db:"value"`
	Severity int     `json:"severity" db:"severity"`
	PolicyID *string `json:"policy_id,omitempty" db:"policy_id"`
	Enabled  bool    `json:"enabled" db:"enabled"`
}

// Violated 判断最新指标快照是否违反本规则
// 指标缺失时不判违反
func (r *AlertRule) Violated(metrics map[string]float64) bool {
	v, ok := metrics[r.Metric]
	if !ok {
		return false
	}
	switch r.Operator {
	case OpGT:
		return v > r.Value
	case OpLT:
		return v < r.Value
	case OpGTE:
		return v >= r.Value
	case OpLTE:
		return v <= r.Value
	}
	return false
}
