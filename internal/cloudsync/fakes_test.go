package cloudsync

import (
	"context"
	"errors"
	"sort"
	"sync"

	"workplace-monitor/internal/models"
)

var errRemoteDown = errors.New("dial tcp 10.0.0.5:5432: connect: connection refused")

type fakeLocal struct {
	mu       sync.Mutex
	sessions map[int64]*models.Session
	visits   map[int64]*models.ClientVisit
	// marks silently lost, as when the process dies after the remote commit
	dropMarks int
	listErr   error
}

func newFakeLocal() *fakeLocal {
	return &fakeLocal{
		sessions: make(map[int64]*models.Session),
		visits:   make(map[int64]*models.ClientVisit),
	}
}

func (f *fakeLocal) addSession(s models.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s.ID] = &s
}

func (f *fakeLocal) addVisit(v models.ClientVisit) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visits[v.ID] = &v
}

func (f *fakeLocal) session(id int64) models.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.sessions[id]
}

func sortedKeys[T any](m map[int64]T) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func (f *fakeLocal) listSessions(limit int, checkpoint bool) []models.Session {
	var out []models.Session
	for _, id := range sortedKeys(f.sessions) {
		s := f.sessions[id]
		if s.IsCheckpoint != checkpoint || (!checkpoint && s.IsSynced) {
			continue
		}
		out = append(out, *s)
		if len(out) == limit {
			break
		}
	}
	return out
}

func (f *fakeLocal) listVisits(limit int, checkpoint bool) []models.ClientVisit {
	var out []models.ClientVisit
	for _, id := range sortedKeys(f.visits) {
		v := f.visits[id]
		if v.IsCheckpoint != checkpoint || (!checkpoint && v.IsSynced) {
			continue
		}
		out = append(out, *v)
		if len(out) == limit {
			break
		}
	}
	return out
}

func (f *fakeLocal) ListUnsyncedSessions(_ context.Context, limit int) ([]models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.listSessions(limit, false), nil
}

func (f *fakeLocal) ListUnsyncedClientVisits(_ context.Context, limit int) ([]models.ClientVisit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.listVisits(limit, false), nil
}

func (f *fakeLocal) ListCheckpointSessions(_ context.Context, limit int) ([]models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listSessions(limit, true), nil
}

func (f *fakeLocal) ListCheckpointClientVisits(_ context.Context, limit int) ([]models.ClientVisit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listVisits(limit, true), nil
}

func (f *fakeLocal) MarkSessionsSynced(_ context.Context, ids []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dropMarks > 0 {
		f.dropMarks--
		return nil
	}
	for _, id := range ids {
		if s, ok := f.sessions[id]; ok && !s.IsCheckpoint {
			s.IsSynced = true
		}
	}
	return nil
}

func (f *fakeLocal) MarkClientVisitsSynced(_ context.Context, ids []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		if v, ok := f.visits[id]; ok && !v.IsCheckpoint {
			v.IsSynced = true
		}
	}
	return nil
}

func (f *fakeLocal) CountPending(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.listSessions(-1, false)) + len(f.listVisits(-1, false))), nil
}

type remoteKey struct {
	branchID int64
	localID  int64
}

type remoteRow struct {
	duration     float64
	isCheckpoint bool
	writes       int
}

// fakeRemote mimics the composite-key upsert of the PostgreSQL store.
type fakeRemote struct {
	mu       sync.Mutex
	sessions map[remoteKey]*remoteRow
	visits   map[remoteKey]*remoteRow
	down     bool
	events   []string
	closed   bool
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		sessions: make(map[remoteKey]*remoteRow),
		visits:   make(map[remoteKey]*remoteRow),
	}
}

func (f *fakeRemote) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func upsert(rows map[remoteKey]*remoteRow, key remoteKey, duration float64, mirror bool) {
	row, ok := rows[key]
	if !ok {
		rows[key] = &remoteRow{duration: duration, isCheckpoint: mirror, writes: 1}
		return
	}
	if mirror && !row.isCheckpoint {
		return
	}
	row.duration = duration
	row.isCheckpoint = mirror
	row.writes++
}

func (f *fakeRemote) UpsertSessions(_ context.Context, branchID int64, sessions []models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errRemoteDown
	}
	f.events = append(f.events, "upsert_sessions")
	for _, s := range sessions {
		upsert(f.sessions, remoteKey{branchID, s.ID}, s.DurationSeconds, false)
	}
	return nil
}

func (f *fakeRemote) UpsertClientVisits(_ context.Context, branchID int64, visits []models.ClientVisit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errRemoteDown
	}
	f.events = append(f.events, "upsert_client_visits")
	for _, v := range visits {
		upsert(f.visits, remoteKey{branchID, v.ID}, v.DurationSeconds, false)
	}
	return nil
}

func (f *fakeRemote) MirrorSessions(_ context.Context, branchID int64, sessions []models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errRemoteDown
	}
	f.events = append(f.events, "mirror_sessions")
	for _, s := range sessions {
		upsert(f.sessions, remoteKey{branchID, s.ID}, s.DurationSeconds, true)
	}
	return nil
}

func (f *fakeRemote) MirrorClientVisits(_ context.Context, branchID int64, visits []models.ClientVisit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errRemoteDown
	}
	for _, v := range visits {
		upsert(f.visits, remoteKey{branchID, v.ID}, v.DurationSeconds, true)
	}
	return nil
}

func (f *fakeRemote) CloseBranchCheckpoints(_ context.Context, branchID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "close_checkpoints")
	var n int64
	for key, row := range f.sessions {
		if key.branchID == branchID && row.isCheckpoint {
			row.isCheckpoint = false
			n++
		}
	}
	return n, nil
}

func (f *fakeRemote) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "close")
	f.closed = true
	return nil
}

func (f *fakeRemote) session(branchID, localID int64) (remoteRow, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.sessions[remoteKey{branchID, localID}]
	if !ok {
		return remoteRow{}, false
	}
	return *row, true
}

func (f *fakeRemote) sessionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func (f *fakeRemote) eventLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

type fakeReporter struct {
	mu       sync.Mutex
	statuses []models.BranchStatus
	err      error
}

func (f *fakeReporter) ReportStatus(_ context.Context, status models.BranchStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeReporter) last() (models.BranchStatus, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return models.BranchStatus{}, 0
	}
	return f.statuses[len(f.statuses)-1], len(f.statuses)
}
