package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"workplace-monitor/internal/models"
	"workplace-monitor/internal/occupancy"

	"github.com/coder/quartz"
	"go.uber.org/zap"
)

// LiveSource the occupancy state read on every publish.
type LiveSource interface {
	Snapshot() []occupancy.TrackerSnapshot
	DisplayDailyTotal(ctx context.Context, zoneID int64) (time.Duration, error)
}

// LiveZone the cached display record of one zone.
type LiveZone struct {
	ZoneID            int64                `json:"zone_id"`
	ZoneType          string               `json:"zone_type"`
	State             string               `json:"state"`
	Status            models.DisplayStatus `json:"status"`
	ElapsedSeconds    float64              `json:"elapsed_seconds"`
	DailyTotalSeconds float64              `json:"daily_total_seconds"`
	UpdatedAt         time.Time            `json:"updated_at"`
}

const eventTimeout = 2 * time.Second

const (
	EventCheckpoint = "checkpoint"
	EventFinalized  = "finalized"
)

// SessionMessage the stream entry for one engine write.
type SessionMessage struct {
	Event    string `json:"event"`
	ZoneType string `json:"zone_type"`
	occupancy.SessionEvent
}

type LiveConfig struct {
	Interval time.Duration
	TTL      time.Duration
	// queued session events; further events are dropped while it is full
	Buffer int
}

// LivePublisher mirrors zone status into Redis for display clients and
// forwards session events to a stream. It implements occupancy.Listener.
type LivePublisher struct {
	config  LiveConfig
	source  LiveSource
	kv      KVStore
	stream  StreamWriter
	clock   quartz.Clock
	logger  *zap.Logger
	events  chan SessionMessage
	dropped atomic.Int64
}

func NewLivePublisher(cfg LiveConfig, source LiveSource, kv KVStore, stream StreamWriter, clock quartz.Clock, logger *zap.Logger) *LivePublisher {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	return &LivePublisher{
		config: cfg,
		source: source,
		kv:     kv,
		stream: stream,
		clock:  clock,
		logger: logger,
		events: make(chan SessionMessage, cfg.Buffer),
	}
}

func LiveKey(zoneID int64) string {
	return fmt.Sprintf("occupancy:zone:%d:live", zoneID)
}

func (p *LivePublisher) OnCheckpoint(ev occupancy.SessionEvent) {
	p.enqueue(EventCheckpoint, ev)
}

func (p *LivePublisher) OnSessionFinalized(ev occupancy.SessionEvent) {
	p.enqueue(EventFinalized, ev)
}

func (p *LivePublisher) enqueue(kind string, ev occupancy.SessionEvent) {
	msg := SessionMessage{Event: kind, ZoneType: ev.ZoneType.String(), SessionEvent: ev}
	select {
	case p.events <- msg:
	default:
		if n := p.dropped.Add(1); n == 1 || n%100 == 0 {
			p.logger.Warn("Session event queue full, dropping events", zap.Int64("dropped", n))
		}
	}
}

// Dropped events lost to a full queue.
func (p *LivePublisher) Dropped() int64 {
	return p.dropped.Load()
}

// Run publishes until ctx is done, then flushes queued events.
func (p *LivePublisher) Run(ctx context.Context) error {
	ticker := p.clock.NewTicker(p.config.Interval, "cache", "live")
	defer ticker.Stop()

	p.logger.Info("Live publisher started",
		zap.Duration("interval", p.config.Interval),
		zap.Duration("ttl", p.config.TTL),
	)

	for {
		select {
		case <-ctx.Done():
			p.flush(ctx)
			return nil
		case msg := <-p.events:
			p.publishEvent(ctx, msg)
		case <-ticker.C:
			if err := p.PublishLive(ctx); err != nil {
				p.logger.Warn("Failed to update live cache", zap.Error(err))
			}
		}
	}
}

func (p *LivePublisher) flush(ctx context.Context) {
	for {
		select {
		case msg := <-p.events:
			p.publishEvent(ctx, msg)
		default:
			return
		}
	}
}

func (p *LivePublisher) publishEvent(ctx context.Context, msg SessionMessage) {
	if p.stream == nil {
		return
	}
	// events raised by the shutdown finalize still have to go out
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eventTimeout)
	defer cancel()
	id, err := p.stream.PublishJSON(ctx, msg)
	if err != nil {
		p.logger.Warn("Failed to publish session event",
			zap.Int64("zone_id", msg.ZoneID),
			zap.String("event", msg.Event),
			zap.Error(err),
		)
		return
	}
	p.logger.Debug("Published session event",
		zap.Int64("zone_id", msg.ZoneID),
		zap.String("event", msg.Event),
		zap.String("stream_id", id),
	)
}

// PublishLive writes one live record per tracked zone.
func (p *LivePublisher) PublishLive(ctx context.Context) error {
	now := p.clock.Now()
	for _, snap := range p.source.Snapshot() {
		live := LiveZone{
			ZoneID:         snap.ZoneID,
			ZoneType:       snap.ZoneType,
			State:          snap.State,
			Status:         snap.Status,
			ElapsedSeconds: snap.Elapsed.Seconds(),
			UpdatedAt:      now,
		}
		total, err := p.source.DisplayDailyTotal(ctx, snap.ZoneID)
		if err != nil {
			p.logger.Warn("Failed to compute daily total", zap.Int64("zone_id", snap.ZoneID), zap.Error(err))
		} else {
			live.DailyTotalSeconds = total.Seconds()
		}

		data, err := json.Marshal(live)
		if err != nil {
			return fmt.Errorf("failed to marshal live zone: %w", err)
		}
		if err := p.kv.Set(ctx, LiveKey(snap.ZoneID), string(data), p.config.TTL); err != nil {
			return fmt.Errorf("failed to set live zone %d: %w", snap.ZoneID, err)
		}
	}
	return nil
}

// GetLive reads a zone's cached record; ErrCacheMiss when it expired or was never written.
func GetLive(ctx context.Context, kv KVStore, zoneID int64) (*LiveZone, error) {
	raw, err := kv.Get(ctx, LiveKey(zoneID))
	if err != nil {
		return nil, err
	}
	var live LiveZone
	if err := json.Unmarshal([]byte(raw), &live); err != nil {
		return nil, fmt.Errorf("failed to unmarshal live zone: %w", err)
	}
	return &live, nil
}
