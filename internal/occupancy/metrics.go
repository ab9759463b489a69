package occupancy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Transitions       *prometheus.CounterVec
	SessionsFinalized *prometheus.CounterVec
	SessionsDiscarded *prometheus.CounterVec
	Checkpoints       *prometheus.CounterVec
	SessionDuration   *prometheus.HistogramVec
	Recovered         prometheus.Counter
}

const (
	ns        = "workplace"
	subsystem = "occupancy"

	LabelZoneType = "zone_type"
	LabelState    = "state"
	LabelReason   = "reason"

	ReasonNoLink   = "no_linked_employee"
	ReasonTooShort = "too_short"
)

// NewMetrics registers the engine collectors on reg. A nil reg keeps them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Transitions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "transitions_total", Namespace: ns, Subsystem: subsystem,
			Help: "Zone state transitions, by the state entered.",
		}, []string{LabelZoneType, LabelState}),
		SessionsFinalized: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "sessions_finalized_total", Namespace: ns, Subsystem: subsystem,
			Help: "Sessions and client visits written as finalized records.",
		}, []string{LabelZoneType}),
		SessionsDiscarded: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "sessions_discarded_total", Namespace: ns, Subsystem: subsystem,
			Help: "Completed sessions that were not persisted.",
		}, []string{LabelZoneType, LabelReason}),
		Checkpoints: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "checkpoints_total", Namespace: ns, Subsystem: subsystem,
			Help: "In-progress checkpoint writes (inserts and in-place updates).",
		}, []string{LabelZoneType}),
		SessionDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name: "session_duration_seconds", Namespace: ns, Subsystem: subsystem,
			Buckets: []float64{5, 30, 60, 300, 900, 1800, 3600, 7200, 14400},
			Help:    "Duration of finalized sessions.",
		}, []string{LabelZoneType}),
		Recovered: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "recovered_checkpoints_total", Namespace: ns, Subsystem: subsystem,
			Help: "Checkpoint rows closed by crash recovery at startup.",
		}),
	}
}
