package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"workplace-monitor/common/database"
	rediscommon "workplace-monitor/common/redis"
	"workplace-monitor/internal/cache"
	"workplace-monitor/internal/cloudsync"
	"workplace-monitor/internal/config"
	httpapi "workplace-monitor/internal/http"
	"workplace-monitor/internal/occupancy"
	"workplace-monitor/internal/presence"
	"workplace-monitor/internal/report"
	"workplace-monitor/internal/repository"

	"github.com/coder/quartz"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// engine writes queued behind the frame path, per camera
const writeBuffer = 1024

// Broker the MQTT connection the presence consumer subscribes through.
type Broker interface {
	presence.Subscriber
	Connect(ctx context.Context) error
	Disconnect()
}

// Deps resources opened by the caller. The service closes them on Stop.
// Remote, Reporter, Redis and Broker are optional.
type Deps struct {
	LocalDB  *sql.DB
	Local    *repository.LocalStore
	Remote   cloudsync.RemoteStore
	Reporter cloudsync.StatusReporter
	Redis    *redis.Client
	Broker   Broker
	Metrics  *prometheus.Registry
	Clock    quartz.Clock
}

// registrySource lets the live publisher be created before the registry it reads.
type registrySource struct {
	*occupancy.Registry
}

// MonitorService runs the edge pipeline: presence ingestion, the occupancy
// engines, the live cache, cloud sync and the HTTP API.
type MonitorService struct {
	config *config.Config
	logger *zap.Logger
	deps   Deps
	clock  quartz.Clock

	registry  *occupancy.Registry
	consumer  *presence.Consumer
	presence  *presence.Metrics
	live      *cache.LivePublisher
	sync      *cloudsync.Service
	server    *Server
	router    *httpapi.Router
	errChan   chan error
	fatalOnce sync.Once

	stopIngest context.CancelFunc
	stopLive   context.CancelFunc
	stopSync   context.CancelFunc
	ingestWG   sync.WaitGroup
	liveWG     sync.WaitGroup
	syncWG     sync.WaitGroup
	serverWG   sync.WaitGroup
}

// NewMonitorService wires the components without starting them.
func NewMonitorService(cfg *config.Config, deps Deps, logger *zap.Logger) (*MonitorService, error) {
	if deps.Local == nil {
		return nil, fmt.Errorf("local store is required")
	}
	if deps.Clock == nil {
		deps.Clock = quartz.NewReal()
	}
	if deps.Metrics == nil {
		deps.Metrics = prometheus.NewRegistry()
	}

	s := &MonitorService{
		config:  cfg,
		logger:  logger,
		deps:    deps,
		clock:   deps.Clock,
		errChan: make(chan error, 1),
	}

	settings := occupancy.Settings{
		Employee:           occupancy.Thresholds{Entry: cfg.Occupancy.EntryThreshold, Exit: cfg.Occupancy.ExitThreshold},
		Client:             occupancy.Thresholds{Entry: cfg.Occupancy.ClientEntryThreshold, Exit: cfg.Occupancy.ClientExitThreshold},
		CheckpointInterval: cfg.Occupancy.CheckpointInterval,
		MinSessionDuration: cfg.Occupancy.MinSessionDuration,
	}
	opts := []occupancy.Option{occupancy.WithAsyncWrites(writeBuffer, s.fatal)}

	source := &registrySource{}
	if deps.Redis != nil {
		s.live = cache.NewLivePublisher(cache.LiveConfig{
			Interval: cfg.Live.Interval,
			TTL:      cfg.Live.TTL,
		},
			source,
			cache.NewRedisKVStore(deps.Redis),
			cache.NewRedisStream(deps.Redis, cfg.Live.EventStream, cfg.Live.StreamMaxLen),
			s.clock,
			logger.Named("live"),
		)
		opts = append(opts, occupancy.WithListener(s.live))
		live := s.live
		promauto.With(deps.Metrics).NewCounterFunc(prometheus.CounterOpts{
			Name: "events_dropped_total", Namespace: "workplace", Subsystem: "live",
			Help: "Session events dropped because the publish queue was full.",
		}, func() float64 { return float64(live.Dropped()) })
	}

	s.registry = occupancy.NewRegistry(deps.Local, settings, s.clock, logger.Named("occupancy"),
		occupancy.NewMetrics(deps.Metrics), opts...)
	source.Registry = s.registry

	s.presence = presence.NewMetrics(s.clock.Now())
	s.presence.Register(deps.Metrics)
	if deps.Broker != nil {
		s.consumer = presence.NewConsumer(presence.ConsumerConfig{
			Topic: cfg.Presence.Topic,
			QoS:   cfg.MQTT.QoS,
		}, deps.Broker, s.clock, logger.Named("presence"), s.presence)
	}

	s.sync = cloudsync.NewService(cloudsync.Config{
		BranchID:           cfg.Sync.BranchID,
		Tick:               cfg.Sync.Tick,
		Interval:           cfg.Sync.Interval,
		MaxInterval:        cfg.Sync.MaxInterval,
		Jitter:             cfg.Sync.Jitter,
		HeartbeatInterval:  cfg.Sync.HeartbeatInterval,
		CheckpointInterval: cfg.Sync.CheckpointInterval,
		BatchSize:          cfg.Sync.BatchSize,
		MaxBatches:         cfg.Sync.MaxBatches,
		BatchPause:         cfg.Sync.BatchPause,
		MockMode:           cfg.Sync.MockMode,
	}, deps.Local, deps.Remote, deps.Reporter, s.clock, logger.Named("cloudsync"), cloudsync.NewMetrics(deps.Metrics))

	s.router = httpapi.NewRouter(logger)
	s.router.RegisterMonitorRoutes(httpapi.NewMonitorHandler(
		s.registry,
		deps.Local,
		s.sync,
		report.NewGenerator(deps.Local, logger.Named("report")),
		s.clock,
		logger,
	))
	s.router.RegisterMetrics(promhttp.HandlerFor(deps.Metrics, promhttp.HandlerOpts{}))
	s.server = NewServer(cfg.HTTP.Addr, s.router, logger)

	return s, nil
}

// Errors delivers the first fatal error. The caller is expected to Stop.
func (s *MonitorService) Errors() <-chan error {
	return s.errChan
}

func (s *MonitorService) Registry() *occupancy.Registry {
	return s.registry
}

func (s *MonitorService) Consumer() *presence.Consumer {
	return s.consumer
}

func (s *MonitorService) Handler() http.Handler {
	return s.router
}

func (s *MonitorService) fatal(err error) {
	s.fatalOnce.Do(func() {
		s.logger.Error("Fatal component error", zap.Error(err))
		s.errChan <- err
	})
}

// Start recovers leftover checkpoints and launches every component.
func (s *MonitorService) Start(ctx context.Context) error {
	s.logger.Info("Starting workplace monitor components")

	if _, err := s.registry.Recover(ctx); err != nil {
		return err
	}

	zones, err := s.deps.Local.ListZones(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to list zones: %w", occupancy.ErrLocalStore, err)
	}
	cameras := make(map[int64]struct{})
	for _, z := range zones {
		cameras[z.CameraID] = struct{}{}
	}
	ids := make([]int64, 0, len(cameras))
	for id := range cameras {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if s.live != nil {
		liveCtx, stopLive := context.WithCancel(ctx)
		s.stopLive = stopLive
		s.liveWG.Add(1)
		go func() {
			defer s.liveWG.Done()
			if err := s.live.Run(liveCtx); err != nil {
				s.logger.Error("Live publisher stopped", zap.Error(err))
			}
		}()
	}

	syncCtx, stopSync := context.WithCancel(ctx)
	s.stopSync = stopSync
	s.syncWG.Add(1)
	go func() {
		defer s.syncWG.Done()
		if err := s.sync.Run(syncCtx); err != nil {
			s.fatal(err)
		}
	}()

	s.serverWG.Add(1)
	go func() {
		defer s.serverWG.Done()
		if err := s.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.fatal(fmt.Errorf("http server: %w", err))
		}
	}()

	ingestCtx, stopIngest := context.WithCancel(ctx)
	s.stopIngest = stopIngest

	if s.consumer != nil {
		for _, id := range ids {
			p := presence.NewProcessor(id, presence.ProcessorConfig{
				FrameInterval:      s.config.Presence.FrameInterval,
				ZoneReloadInterval: s.config.Presence.ZoneReloadInterval,
				StaleAfter:         s.config.Presence.StaleAfter,
			}, s.consumer.Slot(id), s.registry.Engine(id), s.deps.Local, s.registry, s.clock, s.logger.Named("presence"), s.presence)
			s.ingestWG.Add(1)
			go func() {
				defer s.ingestWG.Done()
				if err := p.Run(ingestCtx); err != nil {
					s.fatal(err)
				}
			}()
		}

		// Connect retries until ingestCtx ends
		s.ingestWG.Add(1)
		go func() {
			defer s.ingestWG.Done()
			if err := s.deps.Broker.Connect(ingestCtx); err != nil {
				if ingestCtx.Err() == nil {
					s.fatal(fmt.Errorf("failed to connect to MQTT: %w", err))
				}
				return
			}
			if err := s.consumer.Start(ingestCtx); err != nil {
				s.fatal(err)
			}
		}()
	} else {
		s.logger.Warn("No MQTT broker configured, presence ingestion disabled")
	}
	s.logger.Info("Presence ingestion started", zap.Int("cameras", len(ids)), zap.Int("zones", len(zones)))

	s.logger.Info("Workplace monitor started")
	return nil
}

// Stop shuts down in dependency order: ingestion, engine finalize, live
// cache, sync loop, final sync, HTTP, then the connections. Each wait is
// bounded by the shutdown timeout.
func (s *MonitorService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping workplace monitor")
	var errs []error

	if s.stopIngest != nil {
		s.stopIngest()
	}
	s.wait(ctx, &s.ingestWG, "ingestion")
	if s.consumer != nil {
		if err := s.consumer.Stop(); err != nil {
			s.logger.Warn("Error stopping presence consumer", zap.Error(err))
		}
	}

	finalizeCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	if err := s.registry.Shutdown(finalizeCtx); err != nil {
		s.logger.Error("Error finalizing sessions", zap.Error(err))
		errs = append(errs, err)
	}
	cancel()

	if s.stopLive != nil {
		s.stopLive()
	}
	s.wait(ctx, &s.liveWG, "live publisher")

	if s.stopSync != nil {
		s.stopSync()
	}
	s.wait(ctx, &s.syncWG, "cloud sync")

	syncCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	if err := s.sync.Shutdown(syncCtx); err != nil {
		errs = append(errs, err)
	}
	cancel()

	httpCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	if err := s.server.Stop(httpCtx); err != nil {
		s.logger.Warn("Error stopping HTTP server", zap.Error(err))
	}
	cancel()
	s.wait(ctx, &s.serverWG, "http server")

	if s.deps.Broker != nil {
		s.deps.Broker.Disconnect()
	}
	if s.deps.Redis != nil {
		if err := rediscommon.Close(s.deps.Redis); err != nil {
			s.logger.Warn("Error closing redis", zap.Error(err))
		}
	}
	if err := database.Close(s.deps.LocalDB); err != nil {
		errs = append(errs, fmt.Errorf("failed to close local store: %w", err))
	}

	s.logger.Info("Workplace monitor stopped")
	return errors.Join(errs...)
}

func (s *MonitorService) wait(ctx context.Context, wg *sync.WaitGroup, name string) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(s.config.ShutdownTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		s.logger.Warn("Timed out waiting for component to stop", zap.String("component", name))
	case <-ctx.Done():
		s.logger.Warn("Shutdown cancelled while waiting for component", zap.String("component", name))
	}
}
