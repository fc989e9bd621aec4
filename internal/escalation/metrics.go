package escalation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 升级引擎指标
type Metrics struct {
	Ticks          prometheus.Counter
	Advanced       prometheus.Counter
	Skipped        prometheus.Counter
	EventsEmitted  prometheus.Counter
	ResolveErrors  prometheus.Counter
}

// NewMetrics 注册升级引擎指标
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Ticks: factory.NewCounter(prometheus.CounterOpts{
			Name: "pulse_escalation_ticks_total",
			Help: "Escalation scan ticks executed.",
		}),
		Advanced: factory.NewCounter(prometheus.CounterOpts{
			Name: "pulse_escalation_advanced_total",
			Help: "Alerts advanced to the next escalation level.",
		}),
		Skipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "pulse_escalation_skipped_total",
			Help: "Due alerts skipped (already advanced by a concurrent tick).",
		}),
		EventsEmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "pulse_escalation_events_total",
			Help: "Notification events published to the alert event stream.",
		}),
		ResolveErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "pulse_escalation_resolve_errors_total",
			Help: "Failures resolving policy, schedule, or target for a due alert.",
		}),
	}
}
