package presence

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics ingestion counters shared by the consumer and the processors.
type Metrics struct {
	mu sync.RWMutex

	MessagesReceived int64
	FramesAccepted   int64
	FramesReplaced   int64
	MessagesFailed   int64

	ErrorsParse  int64
	ErrorsTopic  int64
	ErrorsCamera int64

	FramesProcessed int64
	FramesStale     int64
	ZoneReloads     int64

	LastFrameTime time.Time
	StartTime     time.Time
}

func NewMetrics(start time.Time) *Metrics {
	return &Metrics{StartTime: start}
}

// MetricsSnapshot point-in-time copy of the counters.
type MetricsSnapshot struct {
	MessagesReceived int64
	FramesAccepted   int64
	FramesReplaced   int64
	MessagesFailed   int64

	ErrorsParse  int64
	ErrorsTopic  int64
	ErrorsCamera int64

	FramesProcessed int64
	FramesStale     int64
	ZoneReloads     int64

	LastFrameTime time.Time
	StartTime     time.Time
}

func (m *Metrics) GetSnapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return MetricsSnapshot{
		MessagesReceived: m.MessagesReceived,
		FramesAccepted:   m.FramesAccepted,
		FramesReplaced:   m.FramesReplaced,
		MessagesFailed:   m.MessagesFailed,
		ErrorsParse:      m.ErrorsParse,
		ErrorsTopic:      m.ErrorsTopic,
		ErrorsCamera:     m.ErrorsCamera,
		FramesProcessed:  m.FramesProcessed,
		FramesStale:      m.FramesStale,
		ZoneReloads:      m.ZoneReloads,
		LastFrameTime:    m.LastFrameTime,
		StartTime:        m.StartTime,
	}
}

func (m *Metrics) IncrementReceived() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesReceived++
}

func (m *Metrics) IncrementAccepted(at time.Time, replaced bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FramesAccepted++
	if replaced {
		m.FramesReplaced++
	}
	m.LastFrameTime = at
}

func (m *Metrics) IncrementFailed(errorType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesFailed++
	switch errorType {
	case "parse":
		m.ErrorsParse++
	case "topic":
		m.ErrorsTopic++
	case "camera":
		m.ErrorsCamera++
	}
}

func (m *Metrics) IncrementProcessed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FramesProcessed++
}

func (m *Metrics) IncrementStale() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FramesStale++
}

func (m *Metrics) IncrementReloads() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ZoneReloads++
}

// Register exposes the counters to Prometheus.
func (m *Metrics) Register(reg prometheus.Registerer) {
	counter := func(name, help string, read func(MetricsSnapshot) int64) {
		promauto.With(reg).NewCounterFunc(prometheus.CounterOpts{
			Name: name, Namespace: "workplace", Subsystem: "presence", Help: help,
		}, func() float64 { return float64(read(m.GetSnapshot())) })
	}
	counter("messages_received_total", "Detection messages received from the broker.",
		func(s MetricsSnapshot) int64 { return s.MessagesReceived })
	counter("frames_accepted_total", "Frames stored in a camera slot.",
		func(s MetricsSnapshot) int64 { return s.FramesAccepted })
	counter("frames_replaced_total", "Frames overwritten before a processor read them.",
		func(s MetricsSnapshot) int64 { return s.FramesReplaced })
	counter("messages_failed_total", "Messages rejected by the consumer.",
		func(s MetricsSnapshot) int64 { return s.MessagesFailed })
	counter("frames_processed_total", "Frames applied to an occupancy engine.",
		func(s MetricsSnapshot) int64 { return s.FramesProcessed })
	counter("frames_stale_total", "Processor ticks skipped because the camera's latest frame was too old.",
		func(s MetricsSnapshot) int64 { return s.FramesStale })
}
