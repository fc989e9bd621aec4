package escalation

import (
	"fmt"
	"time"

	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/models"
)

// ResolveOnCall 解析给定时刻的值班人
// (schedule, at) 的纯函数：任何节点在任何时刻计算都得到同一个人。
// 生效中的替换记录优先于轮换计算结果
func ResolveOnCall(schedule *models.OnCallSchedule, overrides []models.OnCallOverride, at time.Time) (string, error) {
	for i := range overrides {
		if overrides[i].Active(at) {
			return overrides[i].Responder, nil
		}
	}

	if len(schedule.Responders) == 0 {
		return "", fmt.Errorf("schedule %s has no responders", schedule.ScheduleID)
	}
	if schedule.RotationDays <= 0 {
		return "", fmt.Errorf("schedule %s has invalid rotation_days %d", schedule.ScheduleID, schedule.RotationDays)
	}

	loc, err := time.LoadLocation(schedule.Timezone)
	if err != nil {
		return "", fmt.Errorf("failed to load timezone %q: %w", schedule.Timezone, err)
	}

	// 轮换锚点：rotation_start 当天在当地时区的 handoff_hour 整点
	start := schedule.RotationStart.In(loc)
	anchor := time.Date(start.Year(), start.Month(), start.Day(), schedule.HandoffHour, 0, 0, 0, loc)

	local := at.In(loc)
	if local.Before(anchor) {
		// 轮换开始前的时刻归首位值班人
		return schedule.Responders[0], nil
	}

	// 按当地日历天数计算第几个轮换周期，跨夏令时也以交接时刻为界
	days := daysBetween(anchor, local)
	period := days / schedule.RotationDays
	idx := period % len(schedule.Responders)

	return schedule.Responders[idx], nil
}

// daysBetween 计算从 anchor 到 at 经过了多少个完整的当地日（AddDate 跨夏令时安全）
func daysBetween(anchor, at time.Time) int {
	// 先按 24h 估算再校正，避免逐日循环
	days := int(at.Sub(anchor) / (24 * time.Hour))
	for anchor.AddDate(0, 0, days+1).Before(at) || anchor.AddDate(0, 0, days+1).Equal(at) {
		days++
	}
	for days > 0 && anchor.AddDate(0, 0, days).After(at) {
		days--
	}
	return days
}
