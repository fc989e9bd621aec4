package evaluator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 评估器指标
type Metrics struct {
	Ticks        prometheus.Counter
	EvalErrors   prometheus.Counter
	AlertsOpened *prometheus.CounterVec
	AlertsClosed *prometheus.CounterVec
}

// NewMetrics 注册评估器指标
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Ticks: factory.NewCounter(prometheus.CounterOpts{
			Name: "pulse_eval_ticks_total",
			Help: "Evaluation ticks executed.",
		}),
		EvalErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "pulse_eval_errors_total",
			Help: "Per-device evaluation failures (isolated, retried next tick).",
		}),
		AlertsOpened: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_alerts_opened_total",
			Help: "Alerts opened, by type.",
		}, []string{"alert_type"}),
		AlertsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_alerts_closed_total",
			Help: "Alerts auto-closed, by type.",
		}, []string{"alert_type"}),
	}
}
