package presence

import (
	"context"
	"fmt"
	"time"

	"workplace-monitor/internal/models"
	"workplace-monitor/internal/occupancy"

	"github.com/coder/quartz"
	"go.uber.org/zap"
)

// ZoneSource loads a camera's configured zones.
type ZoneSource interface {
	ListZonesByCamera(ctx context.Context, cameraID int64) ([]models.Zone, error)
}

// ZoneUpdater the camera's occupancy engine.
type ZoneUpdater interface {
	Update(ctx context.Context, zoneID int64, present bool, zoneType models.ZoneType, linkedZoneID *int64) error
	Remove(ctx context.Context, zoneID int64) error
}

// ZoneBinder keeps the zone to camera index used by cross-camera queries.
type ZoneBinder interface {
	BindZones(zones []models.Zone)
	UnbindZone(zoneID int64)
}

type ProcessorConfig struct {
	FrameInterval      time.Duration
	ZoneReloadInterval time.Duration
	// frames older than this are not applied; zero disables the check
	StaleAfter time.Duration
}

// Processor feeds one camera's latest frame into its engine on every tick.
type Processor struct {
	cameraID int64
	config   ProcessorConfig
	slot     *FrameSlot
	engine   ZoneUpdater
	zones    ZoneSource
	binder   ZoneBinder
	clock    quartz.Clock
	logger   *zap.Logger
	metrics  *Metrics

	current    []models.Zone
	last       *Frame
	lastSeq    uint64
	nextReload time.Time
	stale      bool
}

func NewProcessor(cameraID int64, cfg ProcessorConfig, slot *FrameSlot, engine ZoneUpdater, zones ZoneSource, binder ZoneBinder, clock quartz.Clock, logger *zap.Logger, metrics *Metrics) *Processor {
	if metrics == nil {
		metrics = NewMetrics(clock.Now())
	}
	return &Processor{
		cameraID: cameraID,
		config:   cfg,
		slot:     slot,
		engine:   engine,
		zones:    zones,
		binder:   binder,
		clock:    clock,
		logger:   logger.With(zap.Int64("camera_id", cameraID)),
		metrics:  metrics,
	}
}

// Run ticks until ctx is done. A returned error is a local store failure.
func (p *Processor) Run(ctx context.Context) error {
	if err := p.reload(ctx, p.clock.Now()); err != nil {
		return err
	}

	ticker := p.clock.NewTicker(p.config.FrameInterval, "presence", "frame")
	defer ticker.Stop()

	p.logger.Info("Frame processor started",
		zap.Int("zones", len(p.current)),
		zap.Duration("frame_interval", p.config.FrameInterval),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.Step(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

// Step processes the latest frame once.
func (p *Processor) Step(ctx context.Context) error {
	now := p.clock.Now()
	if !now.Before(p.nextReload) {
		if err := p.reload(ctx, now); err != nil {
			return err
		}
	}

	if f, seq, ok := p.slot.Latest(p.lastSeq); ok {
		p.last = f
		p.lastSeq = seq
	}
	if p.last == nil {
		return nil
	}

	if p.config.StaleAfter > 0 && now.Sub(p.last.ReceivedAt) > p.config.StaleAfter {
		if !p.stale {
			p.logger.Warn("No recent frames, holding zone state",
				zap.Time("last_frame", p.last.ReceivedAt),
			)
			p.stale = true
		}
		p.metrics.IncrementStale()
		return nil
	}
	if p.stale {
		p.logger.Info("Frames resumed")
		p.stale = false
	}

	present := ZonePresence(p.current, p.last)
	for _, z := range p.current {
		if err := p.engine.Update(ctx, z.ID, present[z.ID], z.ZoneType, z.LinkedEmployeeID); err != nil {
			return err
		}
	}
	p.metrics.IncrementProcessed()
	return nil
}

func (p *Processor) reload(ctx context.Context, now time.Time) error {
	zones, err := p.zones.ListZonesByCamera(ctx, p.cameraID)
	if err != nil {
		return fmt.Errorf("%w: load zones for camera %d: %w", occupancy.ErrLocalStore, p.cameraID, err)
	}

	keep := make(map[int64]bool, len(zones))
	for _, z := range zones {
		keep[z.ID] = true
	}
	for _, z := range p.current {
		if keep[z.ID] {
			continue
		}
		if err := p.engine.Remove(ctx, z.ID); err != nil {
			return err
		}
		if p.binder != nil {
			p.binder.UnbindZone(z.ID)
		}
		p.logger.Info("Zone removed", zap.Int64("zone_id", z.ID))
	}

	if p.binder != nil {
		p.binder.BindZones(zones)
	}
	if len(zones) != len(p.current) {
		p.logger.Debug("Zones loaded", zap.Int("zones", len(zones)))
	}
	p.current = zones
	p.nextReload = now.Add(p.config.ZoneReloadInterval)
	p.metrics.IncrementReloads()
	return nil
}
