package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 入库管道指标
type Metrics struct {
	Accepted       prometheus.Counter
	Rejected       *prometheus.CounterVec
	Quarantined    prometheus.Counter
	QueueDepth     prometheus.Gauge
	RecordsWritten prometheus.Counter
	BatchesFlushed prometheus.Counter
	WriteErrors    prometheus.Counter
	FlushLatency   prometheus.Gauge
}

// NewMetrics 注册入库管道指标
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Accepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "pulse_ingest_accepted_total",
			Help: "Messages accepted into the telemetry batch buffer.",
		}),
		Rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_ingest_rejected_total",
			Help: "Messages rejected at the gateway, by reason.",
		}, []string{"reason"}),
		Quarantined: factory.NewCounter(prometheus.CounterOpts{
			Name: "pulse_ingest_quarantined_total",
			Help: "Messages quarantined for validation failures.",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pulse_ingest_queue_depth",
			Help: "Current depth of the bounded intake queue.",
		}),
		RecordsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "pulse_batch_records_written_total",
			Help: "Telemetry records written by the batch writer.",
		}),
		BatchesFlushed: factory.NewCounter(prometheus.CounterOpts{
			Name: "pulse_batch_flushes_total",
			Help: "Batch flushes executed.",
		}),
		WriteErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "pulse_batch_write_errors_total",
			Help: "Batch flushes that failed.",
		}),
		FlushLatency: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pulse_batch_last_flush_latency_seconds",
			Help: "Latency of the most recent batch flush.",
		}),
	}
}
