package notifier

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 通知路由与投递指标
type Metrics struct {
	EventsConsumed prometheus.Counter
	EventsInvalid  prometheus.Counter
	Routed         *prometheus.CounterVec
	Throttled      prometheus.Counter
	SendOutcomes   *prometheus.CounterVec
	JobsEnqueued   prometheus.Counter
	JobsClaimed    prometheus.Counter
	Attempts       *prometheus.CounterVec
	JobsFailed     prometheus.Counter
}

// NewMetrics 注册通知指标
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EventsConsumed: factory.NewCounter(prometheus.CounterOpts{
			Name: "pulse_notifier_events_consumed_total",
			Help: "Notification events read from the alert event stream.",
		}),
		EventsInvalid: factory.NewCounter(prometheus.CounterOpts{
			Name: "pulse_notifier_events_invalid_total",
			Help: "Stream entries that could not be decoded (acked and skipped).",
		}),
		Routed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_notifier_routed_total",
			Help: "Events matched to a routing rule, by channel.",
		}, []string{"channel"}),
		Throttled: factory.NewCounter(prometheus.CounterOpts{
			Name: "pulse_notifier_throttled_total",
			Help: "Channel sends suppressed by a throttle window.",
		}),
		SendOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_notifier_sends_total",
			Help: "Direct channel send outcomes, by channel and result.",
		}, []string{"channel", "result"}),
		JobsEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "pulse_delivery_jobs_enqueued_total",
			Help: "Delivery jobs enqueued for integration routes.",
		}),
		JobsClaimed: factory.NewCounter(prometheus.CounterOpts{
			Name: "pulse_delivery_jobs_claimed_total",
			Help: "Delivery jobs atomically claimed by the worker.",
		}),
		Attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_delivery_attempts_total",
			Help: "Delivery attempts, by transport and result.",
		}, []string{"transport", "result"}),
		JobsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "pulse_delivery_jobs_failed_total",
			Help: "Delivery jobs terminally failed after exhausting attempts.",
		}),
	}
}
