package cloudsync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Uploaded            *prometheus.CounterVec
	Mirrored            *prometheus.CounterVec
	Failures            *prometheus.CounterVec
	Pending             prometheus.Gauge
	ConsecutiveFailures prometheus.Gauge
	Healthy             prometheus.Gauge
	LastSuccess         prometheus.Gauge
	BatchSeconds        prometheus.Histogram
}

const (
	ns        = "workplace"
	subsystem = "cloudsync"

	LabelKind      = "kind"
	LabelOperation = "operation"

	KindSession     = "session"
	KindClientVisit = "client_visit"

	OpSync      = "sync"
	OpMirror    = "mirror"
	OpHeartbeat = "heartbeat"
	OpClose     = "close_checkpoints"
)

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Uploaded: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "uploaded_records_total", Namespace: ns, Subsystem: subsystem,
			Help: "Finalized records confirmed by the remote store and marked synced locally.",
		}, []string{LabelKind}),
		Mirrored: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "mirrored_records_total", Namespace: ns, Subsystem: subsystem,
			Help: "In-progress checkpoint records pushed to the remote store.",
		}, []string{LabelKind}),
		Failures: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "failures_total", Namespace: ns, Subsystem: subsystem,
			Help: "Failed remote operations.",
		}, []string{LabelOperation}),
		Pending: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "pending_records", Namespace: ns, Subsystem: subsystem,
			Help: "Finalized records waiting for upload, as of the last heartbeat.",
		}),
		ConsecutiveFailures: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "consecutive_failures", Namespace: ns, Subsystem: subsystem,
			Help: "Remote failures since the last successful sync.",
		}),
		Healthy: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "healthy", Namespace: ns, Subsystem: subsystem,
			Help: "1 while the last sync attempt succeeded.",
		}),
		LastSuccess: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "last_success_timestamp_seconds", Namespace: ns, Subsystem: subsystem,
			Help: "Unix time of the last successful sync (an empty queue counts).",
		}),
		BatchSeconds: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name: "batch_seconds", Namespace: ns, Subsystem: subsystem,
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			Help:    "Time to upload one batch to the remote store.",
		}),
	}
}
