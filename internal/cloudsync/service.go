package cloudsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"workplace-monitor/internal/models"
	"workplace-monitor/internal/occupancy"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LocalStore the queue side of store-and-forward.
type LocalStore interface {
	ListUnsyncedSessions(ctx context.Context, limit int) ([]models.Session, error)
	ListUnsyncedClientVisits(ctx context.Context, limit int) ([]models.ClientVisit, error)
	ListCheckpointSessions(ctx context.Context, limit int) ([]models.Session, error)
	ListCheckpointClientVisits(ctx context.Context, limit int) ([]models.ClientVisit, error)
	MarkSessionsSynced(ctx context.Context, ids []int64) error
	MarkClientVisitsSynced(ctx context.Context, ids []int64) error
	CountPending(ctx context.Context) (int64, error)
}

// RemoteStore the central store. Upserts are keyed by (branch_id, local_id).
type RemoteStore interface {
	UpsertSessions(ctx context.Context, branchID int64, sessions []models.Session) error
	UpsertClientVisits(ctx context.Context, branchID int64, visits []models.ClientVisit) error
	MirrorSessions(ctx context.Context, branchID int64, sessions []models.Session) error
	MirrorClientVisits(ctx context.Context, branchID int64, visits []models.ClientVisit) error
	CloseBranchCheckpoints(ctx context.Context, branchID int64) (int64, error)
	Close() error
}

// Config sync loop settings
type Config struct {
	BranchID           int64
	Tick               time.Duration
	Interval           time.Duration
	MaxInterval        time.Duration
	Jitter             time.Duration
	HeartbeatInterval  time.Duration
	CheckpointInterval time.Duration
	BatchSize          int
	MaxBatches         int
	BatchPause         time.Duration
	RequestTimeout     time.Duration
	// drain the local queue without a remote; never use in a real deployment
	MockMode bool
}

// failures beyond this are only logged every failureLogSample attempts
const (
	failureLogFirst  = 5
	failureLogSample = 10
)

type mode int

const (
	modeRemote mode = iota
	modeMock
	modeIdle
)

// Health connection health as reported by the heartbeat.
type Health struct {
	Healthy             bool          `json:"healthy"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastSuccess         *time.Time    `json:"last_successful_upload,omitempty"`
	LastError           string        `json:"last_error,omitempty"`
	PendingCount        int64         `json:"pending_count"`
	NextInterval        time.Duration `json:"-"`
	Mode                string        `json:"mode"`
}

// SyncResult outcome of one finalized-record pass.
type SyncResult struct {
	Sessions     int
	ClientVisits int
	Batches      int
	// remote failure that ended the pass; it has already been recorded
	RemoteErr error
}

// Service the store-and-forward loop: finalized-record sync with adaptive
// backoff, checkpoint mirroring and heartbeats, each on its own schedule.
type Service struct {
	cfg     Config
	local   LocalStore
	remote  RemoteStore
	status  StatusReporter
	clock   quartz.Clock
	logger  *zap.Logger
	metrics *Metrics
	backoff *Backoff
	mode    mode

	mu            sync.Mutex
	healthy       bool
	lastSuccess   *time.Time
	lastErr       string
	pending       int64
	nextSync      time.Time
	nextMirror    time.Time
	nextHeartbeat time.Time
}

// NewService wires the loop. remote and status may be nil.
func NewService(cfg Config, local LocalStore, remote RemoteStore, status StatusReporter, clock quartz.Clock, logger *zap.Logger, metrics *Metrics) *Service {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	m := modeRemote
	if remote == nil {
		m = modeIdle
		if cfg.MockMode {
			m = modeMock
		}
	}
	return &Service{
		cfg:     cfg,
		local:   local,
		remote:  remote,
		status:  status,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
		backoff: NewBackoff(cfg.Interval, cfg.MaxInterval, cfg.Jitter),
		mode:    m,
		healthy: true,
	}
}

func (m mode) String() string {
	switch m {
	case modeMock:
		return "mock"
	case modeIdle:
		return "disconnected"
	default:
		return "remote"
	}
}

// Run drives the loop until ctx is done. It returns an error only when the
// local store fails; remote failures are absorbed into health and backoff.
func (s *Service) Run(ctx context.Context) error {
	switch s.mode {
	case modeMock:
		s.logger.Warn("Cloud sync in MOCK mode: records are marked synced without being uploaded")
	case modeIdle:
		s.logger.Warn("No remote store configured, finalized records stay queued locally")
	}

	ticker := s.clock.NewTicker(s.cfg.Tick, "cloudsync", "tick")
	defer ticker.Stop()

	s.logger.Info("Cloud sync started",
		zap.Int64("branch_id", s.cfg.BranchID),
		zap.String("mode", s.mode.String()),
		zap.Duration("interval", s.cfg.Interval),
	)

	for {
		if err := s.runDue(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Service) runDue(ctx context.Context) error {
	now := s.clock.Now()

	s.mu.Lock()
	heartbeatDue := !now.Before(s.nextHeartbeat)
	syncDue := !now.Before(s.nextSync)
	mirrorDue := !now.Before(s.nextMirror)
	s.mu.Unlock()

	if heartbeatDue {
		s.Heartbeat(ctx)
		s.mu.Lock()
		s.nextHeartbeat = now.Add(s.cfg.HeartbeatInterval)
		s.mu.Unlock()
	}

	if s.mode != modeIdle && syncDue {
		if _, err := s.SyncOnce(ctx); err != nil {
			return err
		}
		s.mu.Lock()
		s.nextSync = s.clock.Now().Add(s.backoff.Interval())
		s.mu.Unlock()
	}

	if s.mode == modeRemote && mirrorDue {
		if _, err := s.MirrorOnce(ctx); err != nil {
			return err
		}
		next := s.cfg.CheckpointInterval
		if wait := s.backoff.Interval(); wait > next {
			next = wait
		}
		s.mu.Lock()
		s.nextMirror = s.clock.Now().Add(next)
		s.mu.Unlock()
	}
	return nil
}

func localErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", occupancy.ErrLocalStore, op, err)
}

// SyncOnce uploads finalized records in batches until the queue is empty,
// a remote call fails, or the per-pass batch cap is reached.
func (s *Service) SyncOnce(ctx context.Context) (SyncResult, error) {
	var res SyncResult
	if s.mode == modeIdle {
		return res, nil
	}

	for res.Batches < s.cfg.MaxBatches {
		if res.Batches > 0 {
			if err := s.pause(ctx); err != nil {
				return res, nil
			}
		}

		sessions, err := s.local.ListUnsyncedSessions(ctx, s.cfg.BatchSize)
		if err != nil {
			return res, localErr("list unsynced sessions", err)
		}
		visits, err := s.local.ListUnsyncedClientVisits(ctx, s.cfg.BatchSize)
		if err != nil {
			return res, localErr("list unsynced client visits", err)
		}
		if len(sessions) == 0 && len(visits) == 0 {
			// an empty queue means we are fully synced
			s.recordSuccess()
			return res, nil
		}

		batchID := uuid.NewString()
		start := s.clock.Now()

		if len(sessions) > 0 {
			if err := s.uploadSessions(ctx, sessions); err != nil {
				res.RemoteErr = s.failed(OpSync, err, batchID)
				return res, nil
			}
			if err := s.local.MarkSessionsSynced(ctx, sessionIDs(sessions)); err != nil {
				return res, localErr("mark sessions synced", err)
			}
			res.Sessions += len(sessions)
			s.metrics.Uploaded.WithLabelValues(KindSession).Add(float64(len(sessions)))
		}
		if len(visits) > 0 {
			if err := s.uploadClientVisits(ctx, visits); err != nil {
				res.RemoteErr = s.failed(OpSync, err, batchID)
				return res, nil
			}
			if err := s.local.MarkClientVisitsSynced(ctx, clientVisitIDs(visits)); err != nil {
				return res, localErr("mark client visits synced", err)
			}
			res.ClientVisits += len(visits)
			s.metrics.Uploaded.WithLabelValues(KindClientVisit).Add(float64(len(visits)))
		}

		res.Batches++
		s.metrics.BatchSeconds.Observe(s.clock.Since(start).Seconds())
		s.recordSuccess()
		s.logger.Info("Uploaded batch",
			zap.String("batch_id", batchID),
			zap.Int("batch", res.Batches),
			zap.Int("sessions", len(sessions)),
			zap.Int("client_visits", len(visits)),
			zap.Bool("mock", s.mode == modeMock),
		)

		if len(sessions) < s.cfg.BatchSize && len(visits) < s.cfg.BatchSize {
			return res, nil
		}
	}

	s.logger.Info("Per-pass batch cap reached, continuing next cycle",
		zap.Int("batches", res.Batches),
	)
	return res, nil
}

func (s *Service) uploadSessions(ctx context.Context, sessions []models.Session) error {
	if s.mode == modeMock {
		return nil
	}
	rctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()
	return s.remote.UpsertSessions(rctx, s.cfg.BranchID, sessions)
}

func (s *Service) uploadClientVisits(ctx context.Context, visits []models.ClientVisit) error {
	if s.mode == modeMock {
		return nil
	}
	rctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()
	return s.remote.UpsertClientVisits(rctx, s.cfg.BranchID, visits)
}

func (s *Service) pause(ctx context.Context) error {
	if s.cfg.BatchPause <= 0 {
		return ctx.Err()
	}
	t := s.clock.NewTimer(s.cfg.BatchPause, "cloudsync", "batch_pause")
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// MirrorOnce pushes every in-progress record to the remote store. Returns the
// number of records mirrored.
func (s *Service) MirrorOnce(ctx context.Context) (int, error) {
	if s.mode != modeRemote {
		return 0, nil
	}
	limit := s.cfg.BatchSize * s.cfg.MaxBatches

	sessions, err := s.local.ListCheckpointSessions(ctx, limit)
	if err != nil {
		return 0, localErr("list checkpoint sessions", err)
	}
	visits, err := s.local.ListCheckpointClientVisits(ctx, limit)
	if err != nil {
		return 0, localErr("list checkpoint client visits", err)
	}
	if len(sessions) == 0 && len(visits) == 0 {
		return 0, nil
	}

	rctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()
	if err := s.remote.MirrorSessions(rctx, s.cfg.BranchID, sessions); err != nil {
		s.failed(OpMirror, err, "")
		return 0, nil
	}
	if err := s.remote.MirrorClientVisits(rctx, s.cfg.BranchID, visits); err != nil {
		s.failed(OpMirror, err, "")
		return len(sessions), nil
	}

	s.metrics.Mirrored.WithLabelValues(KindSession).Add(float64(len(sessions)))
	s.metrics.Mirrored.WithLabelValues(KindClientVisit).Add(float64(len(visits)))
	s.logger.Debug("Mirrored checkpoints",
		zap.Int("sessions", len(sessions)),
		zap.Int("client_visits", len(visits)),
	)
	return len(sessions) + len(visits), nil
}

// Heartbeat reports health and queue depth. Failures are logged and ignored.
func (s *Service) Heartbeat(ctx context.Context) {
	pending, err := s.local.CountPending(ctx)
	if err != nil {
		s.logger.Error("Failed to count pending records", zap.Error(err))
	} else {
		s.mu.Lock()
		s.pending = pending
		s.mu.Unlock()
		s.metrics.Pending.Set(float64(pending))
	}

	if s.status == nil {
		return
	}

	h := s.Health()
	status := models.BranchStatus{
		BranchID:             s.cfg.BranchID,
		Status:               "online",
		Healthy:              h.Healthy,
		ConsecutiveFailures:  h.ConsecutiveFailures,
		PendingCount:         h.PendingCount,
		LastSuccessfulUpload: h.LastSuccess,
		Timestamp:            s.clock.Now(),
	}
	if !h.Healthy {
		status.Status = "degraded"
	}

	rctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()
	if err := s.status.ReportStatus(rctx, status); err != nil {
		s.metrics.Failures.WithLabelValues(OpHeartbeat).Inc()
		s.logger.Warn("Failed to send status report", zap.Error(err))
		return
	}
	s.logger.Debug("Status reported",
		zap.Int64("pending", status.PendingCount),
		zap.Bool("healthy", status.Healthy),
	)
}

// Shutdown runs after the occupancy engines have finalized and after Run has
// returned: one last sync pass, then the remote checkpoint close, then the
// remote pool is released.
func (s *Service) Shutdown(ctx context.Context) error {
	res, err := s.SyncOnce(ctx)
	if err != nil {
		s.logger.Error("Final sync pass failed", zap.Error(err))
	} else {
		s.logger.Info("Final sync pass done",
			zap.Int("sessions", res.Sessions),
			zap.Int("client_visits", res.ClientVisits),
			zap.NamedError("remote_error", res.RemoteErr),
		)
	}

	if s.remote == nil {
		return err
	}

	n, cerr := s.remote.CloseBranchCheckpoints(ctx, s.cfg.BranchID)
	if cerr != nil {
		s.metrics.Failures.WithLabelValues(OpClose).Inc()
		s.logger.Warn("Failed to close remote checkpoints", zap.Error(cerr))
	} else if n > 0 {
		s.logger.Info("Closed remote checkpoints", zap.Int64("count", n))
	}

	if cerr := s.remote.Close(); cerr != nil {
		s.logger.Warn("Failed to close remote store", zap.Error(cerr))
	}
	return err
}

// failed records a remote failure and returns it.
func (s *Service) failed(op string, err error, batchID string) error {
	wait := s.backoff.Failure()
	n := s.backoff.Failures()

	s.mu.Lock()
	s.healthy = false
	s.lastErr = err.Error()
	s.mu.Unlock()

	s.metrics.Failures.WithLabelValues(op).Inc()
	s.metrics.Healthy.Set(0)
	s.metrics.ConsecutiveFailures.Set(float64(n))

	fields := []zap.Field{
		zap.String("operation", op),
		zap.Int("consecutive_failures", n),
		zap.Duration("next_retry", wait),
		zap.Error(err),
	}
	if batchID != "" {
		fields = append(fields, zap.String("batch_id", batchID))
	}
	if n <= failureLogFirst || n%failureLogSample == 0 {
		s.logger.Warn("Cloud sync failed", fields...)
	} else {
		s.logger.Debug("Cloud sync failed", fields...)
	}
	return err
}

func (s *Service) recordSuccess() {
	prev := s.backoff.Failures()
	s.backoff.Success()
	now := s.clock.Now()

	s.mu.Lock()
	s.healthy = true
	s.lastErr = ""
	s.lastSuccess = &now
	s.mu.Unlock()

	s.metrics.Healthy.Set(1)
	s.metrics.ConsecutiveFailures.Set(0)
	s.metrics.LastSuccess.Set(float64(now.Unix()))
	if prev > 0 {
		s.logger.Info("Cloud sync recovered", zap.Int("failed_attempts", prev))
	}
}

// Health snapshot for the heartbeat and the status API.
func (s *Service) Health() Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := Health{
		Healthy:             s.healthy,
		ConsecutiveFailures: s.backoff.Failures(),
		LastError:           s.lastErr,
		PendingCount:        s.pending,
		NextInterval:        s.backoff.Interval(),
		Mode:                s.mode.String(),
	}
	if s.lastSuccess != nil {
		t := *s.lastSuccess
		h.LastSuccess = &t
	}
	return h
}

func sessionIDs(sessions []models.Session) []int64 {
	ids := make([]int64, len(sessions))
	for i := range sessions {
		ids[i] = sessions[i].ID
	}
	return ids
}

func clientVisitIDs(visits []models.ClientVisit) []int64 {
	ids := make([]int64, len(visits))
	for i := range visits {
		ids[i] = visits[i].ID
	}
	return ids
}
