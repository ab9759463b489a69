package occupancy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"workplace-monitor/internal/models"

	"github.com/coder/quartz"
	"go.uber.org/zap"
)

// ErrLocalStore marks failures of the local durable store. They are not
// retried: the process cannot guarantee correctness without its local store.
var ErrLocalStore = errors.New("local store failure")

// Store the local persistence the engine writes through.
type Store interface {
	GetZone(ctx context.Context, zoneID int64) (*models.Zone, error)
	CreateSession(ctx context.Context, rec *models.Session) error
	UpdateSessionCheckpoint(ctx context.Context, id int64, end time.Time, duration float64) error
	FinalizeSession(ctx context.Context, id int64, end time.Time, duration float64) error
	CreateClientVisit(ctx context.Context, rec *models.ClientVisit) error
	UpdateClientVisitCheckpoint(ctx context.Context, id int64, exit time.Time, duration float64) error
	FinalizeClientVisit(ctx context.Context, id int64, exit time.Time, duration float64) error
}

type writeOp func(ctx context.Context) error

type Option func(*Engine)

func WithClock(c quartz.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithListener(l Listener) Option {
	return func(e *Engine) { e.listeners = append(e.listeners, l) }
}

// WithAsyncWrites moves store writes off the frame path onto a single writer
// goroutine fed by a FIFO of the given size. Writes keep their order. The
// first store error is passed to onFatal and later writes are skipped.
func WithAsyncWrites(buffer int, onFatal func(error)) Option {
	return func(e *Engine) {
		e.asyncBuffer = buffer
		e.onFatal = onFatal
	}
}

// Engine tracks the zones of one camera. All trackers share one mutex; zones
// never move between cameras, so engines do not contend with each other.
type Engine struct {
	cameraID  int64
	store     Store
	settings  Settings
	clock     quartz.Clock
	logger    *zap.Logger
	metrics   *Metrics
	listeners listeners

	mu       sync.Mutex
	trackers map[int64]*Tracker
	closed   bool

	asyncBuffer int
	onFatal     func(error)
	writes      chan writeOp
	writerDone  chan struct{}
	failed      atomic.Bool
}

func NewEngine(cameraID int64, store Store, settings Settings, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		cameraID: cameraID,
		store:    store,
		settings: settings,
		clock:    quartz.NewReal(),
		logger:   logger.With(zap.Int64("camera_id", cameraID)),
		trackers: make(map[int64]*Tracker),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(nil)
	}
	if e.asyncBuffer > 0 {
		e.writes = make(chan writeOp, e.asyncBuffer)
		e.writerDone = make(chan struct{})
		go e.runWriter()
	}
	return e
}

// tracker is the get-or-create accessor; callers hold e.mu.
func (e *Engine) tracker(zoneID int64) *Tracker {
	t, ok := e.trackers[zoneID]
	if !ok {
		t = newTracker(zoneID)
		e.trackers[zoneID] = t
	}
	return t
}

// Update feeds one presence sample for a zone. linkedZoneID is only used for
// client zones. A non-nil error wraps ErrLocalStore.
func (e *Engine) Update(ctx context.Context, zoneID int64, present bool, zoneType models.ZoneType, linkedZoneID *int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}

	now := e.clock.Now()
	t := e.tracker(zoneID)
	t.ZoneType = zoneType
	t.LinkedZoneID = linkedZoneID
	th := e.settings.For(zoneType)

	switch t.State {
	case StateVacant:
		if present {
			t.State = StateCheckingEntry
			t.EntryStartTime = now
			e.transitioned(t)
		}

	case StateCheckingEntry:
		if !present {
			// left before confirmation, nothing to keep
			t.State = StateVacant
			t.EntryStartTime = time.Time{}
			e.transitioned(t)
			return nil
		}
		if now.Sub(t.EntryStartTime) >= th.Entry {
			t.State = StateOccupied
			// backdated to first detection so the confirmation window counts
			t.TimerStartTime = t.EntryStartTime
			t.AccumulatedTime = 0
			t.SessionStart = now.Add(-th.Entry)
			t.LastCheckpointTime = now
			e.transitioned(t)
			e.logger.Info("Zone entry confirmed",
				zap.Int64("zone_id", zoneID),
				zap.String("zone_type", zoneType.String()),
			)
		}

	case StateOccupied:
		if !present {
			t.pause(now)
			t.State = StateCheckingExit
			t.ExitStartTime = now
			e.transitioned(t)
			return nil
		}
		if now.Sub(t.LastCheckpointTime) >= e.settings.CheckpointInterval {
			t.LastCheckpointTime = now
			return e.checkpoint(ctx, t, now)
		}

	case StateCheckingExit:
		if present {
			// back within the grace window: resume, the gap is not counted
			t.State = StateOccupied
			t.TimerStartTime = now
			t.ExitStartTime = time.Time{}
			e.transitioned(t)
			return nil
		}
		if now.Sub(t.ExitStartTime) >= th.Exit {
			err := e.finalize(ctx, t, now, false)
			t.reset()
			e.transitioned(t)
			return err
		}
	}
	return nil
}

func (e *Engine) transitioned(t *Tracker) {
	e.metrics.Transitions.WithLabelValues(t.ZoneType.String(), t.State.String()).Inc()
	e.logger.Debug("Zone state changed",
		zap.Int64("zone_id", t.ZoneID),
		zap.String("state", t.State.String()),
	)
}

// pendingRecord is what a write needs from a tracker, copied while e.mu is held.
type pendingRecord struct {
	zoneID   int64
	zoneType models.ZoneType
	linked   *int64
	start    time.Time
	end      time.Time
	duration float64
	ref      *checkpointRef
}

func (e *Engine) pending(t *Tracker, now time.Time) pendingRecord {
	return pendingRecord{
		zoneID:   t.ZoneID,
		zoneType: t.ZoneType,
		linked:   t.LinkedZoneID,
		start:    t.SessionStart,
		end:      now,
		duration: t.Elapsed(now).Seconds(),
		ref:      t.checkpoint,
	}
}

func (e *Engine) checkpoint(ctx context.Context, t *Tracker, now time.Time) error {
	if t.checkpoint == nil {
		t.checkpoint = &checkpointRef{}
	}
	rec := e.pending(t, now)
	return e.write(ctx, func(ctx context.Context) error {
		return e.persistCheckpoint(ctx, rec)
	})
}

// finalize closes the tracker's session. On shutdown, sessions below the
// noise floor are dropped unless a checkpoint row already exists for them.
func (e *Engine) finalize(ctx context.Context, t *Tracker, now time.Time, shutdown bool) error {
	t.pause(now)
	rec := e.pending(t, now)

	hasCheckpoint := rec.ref != nil
	switch {
	case shutdown && !hasCheckpoint && t.AccumulatedTime < e.settings.MinSessionDuration:
		e.discard(rec, ReasonTooShort)
		return nil
	case !hasCheckpoint && t.AccumulatedTime <= 0:
		e.discard(rec, ReasonTooShort)
		return nil
	}

	return e.write(ctx, func(ctx context.Context) error {
		return e.persistFinal(ctx, rec)
	})
}

func (e *Engine) discard(rec pendingRecord, reason string) {
	e.metrics.SessionsDiscarded.WithLabelValues(rec.zoneType.String(), reason).Inc()
	e.logger.Debug("Session discarded",
		zap.Int64("zone_id", rec.zoneID),
		zap.String("reason", reason),
		zap.Float64("duration_seconds", rec.duration),
	)
}

func (e *Engine) persistCheckpoint(ctx context.Context, rec pendingRecord) error {
	ev := SessionEvent{
		CameraID:        e.cameraID,
		ZoneID:          rec.zoneID,
		ZoneType:        rec.zoneType,
		Start:           rec.start,
		End:             rec.end,
		DurationSeconds: rec.duration,
		Checkpoint:      true,
	}

	if rec.zoneType == models.ZoneTypeClient {
		employeeID, err := e.linkedEmployee(ctx, rec.linked)
		if err != nil {
			return err
		}
		if employeeID == nil {
			// reported once, when the visit completes
			return nil
		}
		ev.EmployeeID = employeeID
		if rec.ref.id == 0 {
			v := &models.ClientVisit{
				ZoneID:          rec.zoneID,
				EmployeeID:      *employeeID,
				EnterTime:       rec.start,
				ExitTime:        &rec.end,
				DurationSeconds: rec.duration,
				IsCheckpoint:    true,
			}
			if err := e.store.CreateClientVisit(ctx, v); err != nil {
				return e.storeErr("create client visit checkpoint", rec.zoneID, err)
			}
			rec.ref.id = v.ID
		} else if err := e.store.UpdateClientVisitCheckpoint(ctx, rec.ref.id, rec.end, rec.duration); err != nil {
			return e.storeErr("update client visit checkpoint", rec.zoneID, err)
		}
	} else {
		employeeID, err := e.zoneEmployee(ctx, rec.zoneID)
		if err != nil {
			return err
		}
		ev.EmployeeID = employeeID
		if rec.ref.id == 0 {
			s := &models.Session{
				ZoneID:          rec.zoneID,
				EmployeeID:      employeeID,
				StartTime:       rec.start,
				EndTime:         &rec.end,
				DurationSeconds: rec.duration,
				IsCheckpoint:    true,
			}
			if err := e.store.CreateSession(ctx, s); err != nil {
				return e.storeErr("create session checkpoint", rec.zoneID, err)
			}
			rec.ref.id = s.ID
		} else if err := e.store.UpdateSessionCheckpoint(ctx, rec.ref.id, rec.end, rec.duration); err != nil {
			return e.storeErr("update session checkpoint", rec.zoneID, err)
		}
	}

	ev.RecordID = rec.ref.id
	e.metrics.Checkpoints.WithLabelValues(rec.zoneType.String()).Inc()
	e.listeners.checkpoint(ev)
	return nil
}

func (e *Engine) persistFinal(ctx context.Context, rec pendingRecord) error {
	var checkpointID int64
	if rec.ref != nil {
		checkpointID = rec.ref.id
	}
	ev := SessionEvent{
		CameraID:        e.cameraID,
		ZoneID:          rec.zoneID,
		ZoneType:        rec.zoneType,
		Start:           rec.start,
		End:             rec.end,
		DurationSeconds: rec.duration,
	}

	if rec.zoneType == models.ZoneTypeClient {
		employeeID, err := e.linkedEmployee(ctx, rec.linked)
		if err != nil {
			return err
		}
		switch {
		case checkpointID != 0:
			// credited when the checkpoint was created
			if err := e.store.FinalizeClientVisit(ctx, checkpointID, rec.end, rec.duration); err != nil {
				return e.storeErr("finalize client visit", rec.zoneID, err)
			}
			ev.RecordID = checkpointID
		case employeeID == nil:
			e.metrics.SessionsDiscarded.WithLabelValues(rec.zoneType.String(), ReasonNoLink).Inc()
			e.logger.Warn("Client visit discarded: zone has no linked employee",
				zap.Int64("zone_id", rec.zoneID),
				zap.Float64("duration_seconds", rec.duration),
			)
			return nil
		default:
			v := &models.ClientVisit{
				ZoneID:          rec.zoneID,
				EmployeeID:      *employeeID,
				EnterTime:       rec.start,
				ExitTime:        &rec.end,
				DurationSeconds: rec.duration,
			}
			if err := e.store.CreateClientVisit(ctx, v); err != nil {
				return e.storeErr("create client visit", rec.zoneID, err)
			}
			ev.RecordID = v.ID
		}
		ev.EmployeeID = employeeID
		e.logger.Info("Client visit saved",
			zap.Int64("zone_id", rec.zoneID),
			zap.Float64("duration_seconds", rec.duration),
			zap.Duration("net_service_time", e.settings.NetServiceTime(time.Duration(rec.duration*float64(time.Second)))),
		)
	} else {
		employeeID, err := e.zoneEmployee(ctx, rec.zoneID)
		if err != nil {
			return err
		}
		ev.EmployeeID = employeeID
		if checkpointID != 0 {
			if err := e.store.FinalizeSession(ctx, checkpointID, rec.end, rec.duration); err != nil {
				return e.storeErr("finalize session", rec.zoneID, err)
			}
			ev.RecordID = checkpointID
		} else {
			s := &models.Session{
				ZoneID:          rec.zoneID,
				EmployeeID:      employeeID,
				StartTime:       rec.start,
				EndTime:         &rec.end,
				DurationSeconds: rec.duration,
			}
			if err := e.store.CreateSession(ctx, s); err != nil {
				return e.storeErr("create session", rec.zoneID, err)
			}
			ev.RecordID = s.ID
		}
		e.logger.Info("Work session saved",
			zap.Int64("zone_id", rec.zoneID),
			zap.Float64("duration_seconds", rec.duration),
		)
	}

	e.metrics.SessionsFinalized.WithLabelValues(rec.zoneType.String()).Inc()
	e.metrics.SessionDuration.WithLabelValues(rec.zoneType.String()).Observe(rec.duration)
	e.listeners.finalized(ev)
	return nil
}

// zoneEmployee the employee assigned to an employee zone, nil when unassigned.
func (e *Engine) zoneEmployee(ctx context.Context, zoneID int64) (*int64, error) {
	zone, err := e.store.GetZone(ctx, zoneID)
	if err != nil {
		return nil, e.storeErr("get zone", zoneID, err)
	}
	if zone == nil {
		return nil, nil
	}
	return zone.EmployeeID, nil
}

// linkedEmployee resolves a client zone's link (an employee zone id) to the
// employee assigned there.
func (e *Engine) linkedEmployee(ctx context.Context, linkedZoneID *int64) (*int64, error) {
	if linkedZoneID == nil {
		return nil, nil
	}
	return e.zoneEmployee(ctx, *linkedZoneID)
}

func (e *Engine) storeErr(op string, zoneID int64, err error) error {
	return fmt.Errorf("%w: %s for zone %d: %w", ErrLocalStore, op, zoneID, err)
}

func (e *Engine) write(ctx context.Context, op writeOp) error {
	if e.writes == nil {
		return op(ctx)
	}
	select {
	case e.writes <- op:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) runWriter() {
	defer close(e.writerDone)
	// writes must land even while the caller is shutting down
	ctx := context.Background()
	for op := range e.writes {
		if e.failed.Load() {
			continue
		}
		if err := op(ctx); err != nil {
			e.failed.Store(true)
			e.logger.Error("Local store write failed", zap.Error(err))
			if e.onFatal != nil {
				e.onFatal(err)
			}
		}
	}
}

// Remove force-finalizes a zone that is no longer configured and forgets it.
func (e *Engine) Remove(ctx context.Context, zoneID int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.trackers[zoneID]
	if !ok {
		return nil
	}
	delete(e.trackers, zoneID)
	if e.closed || !t.active() {
		return nil
	}
	return e.finalize(ctx, t, e.clock.Now(), true)
}

// Shutdown force-finalizes every open session and waits for pending writes.
// Later updates are ignored.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true

	now := e.clock.Now()
	var errs []error
	saved := 0
	for _, id := range e.zoneIDs() {
		t := e.trackers[id]
		if !t.active() {
			continue
		}
		if err := e.finalize(ctx, t, now, true); err != nil {
			errs = append(errs, err)
		}
		t.reset()
		saved++
	}
	e.mu.Unlock()

	if e.writes != nil {
		close(e.writes)
		select {
		case <-e.writerDone:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("camera %d: pending writes not drained: %w", e.cameraID, ctx.Err()))
		}
	}

	e.logger.Info("Occupancy engine shut down", zap.Int("active_sessions", saved))
	return errors.Join(errs...)
}

func (e *Engine) zoneIDs() []int64 {
	ids := make([]int64, 0, len(e.trackers))
	for id := range e.trackers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ZoneStatus the externally visible status; VACANT for unknown zones.
func (e *Engine) ZoneStatus(zoneID int64) models.DisplayStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.trackers[zoneID]; ok {
		return t.DisplayStatus()
	}
	return models.DisplayVacant
}

// ZoneElapsed live elapsed time of the zone's current session.
func (e *Engine) ZoneElapsed(zoneID int64) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.trackers[zoneID]; ok {
		return t.Elapsed(e.clock.Now())
	}
	return 0
}

func (e *Engine) Tracker(zoneID int64) (TrackerSnapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.trackers[zoneID]
	if !ok {
		return TrackerSnapshot{}, false
	}
	return t.snapshot(e.clock.Now()), true
}

// Trackers snapshots every known zone, ordered by zone id.
func (e *Engine) Trackers() []TrackerSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.clock.Now()
	out := make([]TrackerSnapshot, 0, len(e.trackers))
	for _, id := range e.zoneIDs() {
		out = append(out, e.trackers[id].snapshot(now))
	}
	return out
}
