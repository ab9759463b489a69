package occupancy

import (
	"context"
	"errors"
	"sync"
	"time"

	"workplace-monitor/internal/models"
)

// fakeStore keeps records in memory and counts writes.
type fakeStore struct {
	mu       sync.Mutex
	zones    map[int64]*models.Zone
	sessions map[int64]*models.Session
	visits   map[int64]*models.ClientVisit
	nextID   int64
	writes   int
	failWith error
}

func newFakeStore(zones ...models.Zone) *fakeStore {
	f := &fakeStore{
		zones:    make(map[int64]*models.Zone),
		sessions: make(map[int64]*models.Session),
		visits:   make(map[int64]*models.ClientVisit),
	}
	for i := range zones {
		z := zones[i]
		f.zones[z.ID] = &z
	}
	return f
}

func (f *fakeStore) GetZone(_ context.Context, zoneID int64) (*models.Zone, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	z, ok := f.zones[zoneID]
	if !ok {
		return nil, nil
	}
	cp := *z
	return &cp, nil
}

func (f *fakeStore) CreateSession(_ context.Context, rec *models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.writes++
	f.nextID++
	rec.ID = f.nextID
	rec.SessionDate = models.DateKey(rec.StartTime)
	cp := *rec
	f.sessions[rec.ID] = &cp
	return nil
}

func (f *fakeStore) UpdateSessionCheckpoint(_ context.Context, id int64, end time.Time, duration float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	s, ok := f.sessions[id]
	if !ok || !s.IsCheckpoint {
		return errors.New("no checkpoint row")
	}
	s.EndTime = &end
	s.DurationSeconds = duration
	return nil
}

func (f *fakeStore) FinalizeSession(_ context.Context, id int64, end time.Time, duration float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	s, ok := f.sessions[id]
	if !ok {
		return errors.New("no row")
	}
	s.EndTime = &end
	s.DurationSeconds = duration
	s.IsCheckpoint = false
	return nil
}

func (f *fakeStore) CreateClientVisit(_ context.Context, rec *models.ClientVisit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.writes++
	f.nextID++
	rec.ID = f.nextID
	rec.VisitDate = models.DateKey(rec.EnterTime)
	cp := *rec
	f.visits[rec.ID] = &cp
	return nil
}

func (f *fakeStore) UpdateClientVisitCheckpoint(_ context.Context, id int64, exit time.Time, duration float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	v, ok := f.visits[id]
	if !ok || !v.IsCheckpoint {
		return errors.New("no checkpoint row")
	}
	v.ExitTime = &exit
	v.DurationSeconds = duration
	return nil
}

func (f *fakeStore) FinalizeClientVisit(_ context.Context, id int64, exit time.Time, duration float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	v, ok := f.visits[id]
	if !ok {
		return errors.New("no row")
	}
	v.ExitTime = &exit
	v.DurationSeconds = duration
	v.IsCheckpoint = false
	return nil
}

func (f *fakeStore) allSessions() []models.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Session
	for id := int64(1); id <= f.nextID; id++ {
		if s, ok := f.sessions[id]; ok {
			out = append(out, *s)
		}
	}
	return out
}

func (f *fakeStore) allVisits() []models.ClientVisit {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ClientVisit
	for id := int64(1); id <= f.nextID; id++ {
		if v, ok := f.visits[id]; ok {
			out = append(out, *v)
		}
	}
	return out
}
