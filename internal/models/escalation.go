package models

import "time"

// 升级通知目标类型
const (
	TargetTypeUser     = "user"
	TargetTypeEmail    = "email"
	TargetTypeSchedule = "schedule"
)

// EscalationPolicy 升级策略（escalation_policies 表，CRUD 层写入）
type EscalationPolicy struct {
	PolicyID string            `json:"policy_id" db:"policy_id"`
	TenantID string            `json:"tenant_id" db:"tenant_id"`
	Name     string            `json:"name" db:"name"`
	Levels   []EscalationLevel `json:"levels"`
}

// EscalationLevel 升级策略的一级
// 级别严格有序，N+1 级只在 N 级的 delay 过后触发
type EscalationLevel struct {
	PolicyID     string `json:"policy_id" db:"policy_id"`
	LevelNo      int    `json:"level_no" db:"level_no"`
	DelayMinutes int    `json:"delay_minutes" db:"delay_minutes"`
	TargetType   string `json:"target_type" db:"target_type"` // user, email, schedule
	TargetValue  string `json:"target_value" db:"target_value"`
}

// OnCallSchedule 值班表（oncall_schedules 表）
// 轮换计算只依赖 (schedule, instant)，不依赖外部日历
type OnCallSchedule struct {
	ScheduleID    string    `json:"schedule_id" db:"schedule_id"`
	TenantID      string    `json:"tenant_id" db:"tenant_id"`
	Name          string    `json:"name" db:"name"`
	Timezone      string    `json:"timezone" db:"timezone"`
	HandoffHour   int       `json:"handoff_hour" db:"handoff_hour"` // 0-23，当地时间
	RotationDays  int       `json:"rotation_days" db:"rotation_days"`
	RotationStart time.Time `json:"rotation_start" db:"rotation_start"`
	Responders    []string  `json:"responders"` // 按轮换顺序
}

// OnCallOverride 值班替换（oncall_overrides 表）
// 生效中的替换总是优先于计算出的轮换值班人
type OnCallOverride struct {
	OverrideID string    `json:"override_id" db:"override_id"`
	ScheduleID string    `json:"schedule_id" db:"schedule_id"`
	Responder  string    `json:"responder" db:"responder"`
	StartAt    time.Time `json:"start_at" db:"start_at"`
	EndAt      time.Time `json:"end_at" db:"end_at"`
}

// Active 判断替换在给定时刻是否生效（[start, end) 区间）
func (o *OnCallOverride) Active(at time.Time) bool {
	return !at.Before(o.StartAt) && at.Before(o.EndAt)
}

// NotificationEvent 升级引擎发出的通知事件（经 Redis Streams 传给路由器）
type NotificationEvent struct {
	EventID     string    `json:"event_id"`
	TenantID    string    `json:"tenant_id"`
	AlertID     string    `json:"alert_id"`
	DeviceID    string    `json:"device_id"`
	AlertType   string    `json:"alert_type"`
	Severity    int       `json:"severity"`
	Level       int       `json:"level"`
	TargetType  string    `json:"target_type"`
	TargetValue string    `json:"target_value"`
	Message     string    `json:"message"`
	EmittedAt   time.Time `json:"emitted_at"`
}
