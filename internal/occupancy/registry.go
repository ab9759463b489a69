package occupancy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"workplace-monitor/internal/models"

	"github.com/coder/quartz"
	"go.uber.org/zap"
)

// RegistryStore the local store queries behind daily totals and recovery.
type RegistryStore interface {
	Store
	GetEmployeeByZone(ctx context.Context, zoneID int64) (*models.Employee, error)
	ListZonesByEmployee(ctx context.Context, employeeID int64) ([]models.Zone, error)
	SumSessionDurationByZone(ctx context.Context, zoneID int64, day string) (float64, error)
	SumClientVisitDurationByZone(ctx context.Context, zoneID int64, day string) (float64, error)
	SumSessionDurationByEmployee(ctx context.Context, employeeID int64, day string) (float64, error)
	CountClientVisitsByEmployee(ctx context.Context, employeeID int64, day string) (int64, error)
	CloseOpenCheckpoints(ctx context.Context) (int64, error)
}

// Registry owns one Engine per camera and answers cross-camera questions.
type Registry struct {
	store    RegistryStore
	settings Settings
	clock    quartz.Clock
	logger   *zap.Logger
	metrics  *Metrics
	opts     []Option

	mu         sync.RWMutex
	engines    map[int64]*Engine
	zoneCamera map[int64]int64
	zoneTypes  map[int64]models.ZoneType
}

// NewRegistry creates an empty registry; opts are applied to every engine it creates.
func NewRegistry(store RegistryStore, settings Settings, clock quartz.Clock, logger *zap.Logger, metrics *Metrics, opts ...Option) *Registry {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Registry{
		store:      store,
		settings:   settings,
		clock:      clock,
		logger:     logger,
		metrics:    metrics,
		opts:       opts,
		engines:    make(map[int64]*Engine),
		zoneCamera: make(map[int64]int64),
		zoneTypes:  make(map[int64]models.ZoneType),
	}
}

func (r *Registry) Settings() Settings {
	return r.settings
}

// Recover closes checkpoint rows left behind by an unclean stop. Run it once,
// before the first frame is processed.
func (r *Registry) Recover(ctx context.Context) (int64, error) {
	n, err := r.store.CloseOpenCheckpoints(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: crash recovery: %w", ErrLocalStore, err)
	}
	if n > 0 {
		r.metrics.Recovered.Add(float64(n))
		r.logger.Warn("Recovered checkpoints left open by previous run", zap.Int64("count", n))
	}
	return n, nil
}

// Engine returns the camera's engine, creating it on first use.
func (r *Registry) Engine(cameraID int64) *Engine {
	r.mu.RLock()
	e, ok := r.engines[cameraID]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.engines[cameraID]; ok {
		return e
	}
	opts := append([]Option{WithClock(r.clock), WithMetrics(r.metrics)}, r.opts...)
	e = NewEngine(cameraID, r.store, r.settings, r.logger, opts...)
	r.engines[cameraID] = e
	return e
}

// BindZones records which camera owns each zone, for lookups by zone id.
func (r *Registry) BindZones(zones []models.Zone) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, z := range zones {
		r.zoneCamera[z.ID] = z.CameraID
		r.zoneTypes[z.ID] = z.ZoneType
	}
}

// UnbindZone drops a zone from the lookup index.
func (r *Registry) UnbindZone(zoneID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.zoneCamera, zoneID)
	delete(r.zoneTypes, zoneID)
}

func (r *Registry) engineForZone(zoneID int64) *Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cameraID, ok := r.zoneCamera[zoneID]
	if !ok {
		return nil
	}
	return r.engines[cameraID]
}

// Engines returns every engine ordered by camera id.
func (r *Registry) Engines() []*Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Engine, 0, len(r.engines))
	for _, e := range r.engines {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].cameraID < out[j].cameraID })
	return out
}

func (r *Registry) ZoneStatus(zoneID int64) models.DisplayStatus {
	if e := r.engineForZone(zoneID); e != nil {
		return e.ZoneStatus(zoneID)
	}
	return models.DisplayVacant
}

func (r *Registry) ZoneElapsed(zoneID int64) time.Duration {
	if e := r.engineForZone(zoneID); e != nil {
		return e.ZoneElapsed(zoneID)
	}
	return 0
}

// Snapshot every tracker of every camera.
func (r *Registry) Snapshot() []TrackerSnapshot {
	var out []TrackerSnapshot
	for _, e := range r.Engines() {
		out = append(out, e.Trackers()...)
	}
	return out
}

func (r *Registry) today() string {
	return models.DateKey(r.clock.Now())
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// ZoneDailyTotal today's finalized time on one zone plus its live session.
func (r *Registry) ZoneDailyTotal(ctx context.Context, zoneID int64) (time.Duration, error) {
	r.mu.RLock()
	zoneType := r.zoneTypes[zoneID]
	r.mu.RUnlock()

	sum := r.store.SumSessionDurationByZone
	if zoneType == models.ZoneTypeClient {
		sum = r.store.SumClientVisitDurationByZone
	}
	persisted, err := sum(ctx, zoneID, r.today())
	if err != nil {
		return 0, fmt.Errorf("%w: zone daily total: %w", ErrLocalStore, err)
	}
	return secondsToDuration(persisted) + r.ZoneElapsed(zoneID), nil
}

// EmployeeDailyTotal today's work time of an employee across every zone
// assigned to them, including live sessions on any camera.
func (r *Registry) EmployeeDailyTotal(ctx context.Context, employeeID int64) (time.Duration, error) {
	persisted, err := r.store.SumSessionDurationByEmployee(ctx, employeeID, r.today())
	if err != nil {
		return 0, fmt.Errorf("%w: employee daily total: %w", ErrLocalStore, err)
	}
	zones, err := r.store.ListZonesByEmployee(ctx, employeeID)
	if err != nil {
		return 0, fmt.Errorf("%w: employee zones: %w", ErrLocalStore, err)
	}

	total := secondsToDuration(persisted)
	for _, z := range zones {
		if z.ZoneType != models.ZoneTypeEmployee {
			continue
		}
		total += r.ZoneElapsed(z.ID)
	}
	return total, nil
}

// DisplayDailyTotal is the total shown next to a zone: the assigned employee's
// combined total, or the zone's own total when nobody is assigned.
func (r *Registry) DisplayDailyTotal(ctx context.Context, zoneID int64) (time.Duration, error) {
	employee, err := r.store.GetEmployeeByZone(ctx, zoneID)
	if err != nil {
		return 0, fmt.Errorf("%w: employee by zone: %w", ErrLocalStore, err)
	}
	if employee != nil {
		return r.EmployeeDailyTotal(ctx, employee.ID)
	}
	return r.ZoneDailyTotal(ctx, zoneID)
}

// ClientsServed counts today's finalized client visits credited to the employee.
func (r *Registry) ClientsServed(ctx context.Context, employeeID int64) (int64, error) {
	n, err := r.store.CountClientVisitsByEmployee(ctx, employeeID, r.today())
	if err != nil {
		return 0, fmt.Errorf("%w: clients served: %w", ErrLocalStore, err)
	}
	return n, nil
}

// NetServiceTime display-only client service time; see Settings.NetServiceTime.
func (r *Registry) NetServiceTime(d time.Duration) time.Duration {
	return r.settings.NetServiceTime(d)
}

// Shutdown force-finalizes every engine. Errors are joined; every engine is attempted.
func (r *Registry) Shutdown(ctx context.Context) error {
	var errs []error
	for _, e := range r.Engines() {
		if err := e.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
