package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"workplace-monitor/common/database"
	applogger "workplace-monitor/common/logger"
	mqttcommon "workplace-monitor/common/mqtt"
	rediscommon "workplace-monitor/common/redis"
	"workplace-monitor/internal/cloudsync"
	"workplace-monitor/internal/config"
	"workplace-monitor/internal/repository"
	"workplace-monitor/internal/service"

	"github.com/coder/retry"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

const version = "1.0.0"

func main() {
	// a missing .env is fine; the environment wins either way
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := applogger.NewLogger(cfg.Log.Level, cfg.Log.Format, "workplace-monitor")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting workplace-monitor",
		zap.String("version", version),
		zap.Int64("branch_id", cfg.Sync.BranchID),
		zap.String("local_db", cfg.LocalDB.Path),
		zap.String("mqtt_broker", cfg.MQTT.Broker),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	localDB, err := database.NewSQLiteDB(&cfg.LocalDB)
	if err != nil {
		logger.Fatal("Failed to open local store", zap.Error(err))
	}
	local := repository.NewLocalStore(localDB, logger.Named("local"))
	if err := local.Migrate(ctx); err != nil {
		logger.Fatal("Failed to migrate local store", zap.Error(err))
	}

	metrics := prometheus.NewRegistry()
	metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	deps := service.Deps{
		LocalDB: localDB,
		Local:   local,
		Metrics: metrics,
		Broker:  mqttcommon.NewClient(&cfg.MQTT, logger.Named("mqtt")),
	}

	if cfg.RemoteDB.Configured() {
		remoteDB, err := database.OpenPostgresDB(&cfg.RemoteDB)
		if err != nil {
			logger.Fatal("Failed to open remote store", zap.Error(err))
		}
		remote := repository.NewRemoteStore(remoteDB, logger.Named("remote"))
		go ensureRemoteSchema(ctx, remote, logger)
		deps.Remote = remote
		deps.Reporter = remote
	} else {
		logger.Warn("REMOTE_DB_HOST not set, running without a cloud store")
	}
	if cfg.Sync.StatusURL != "" {
		deps.Reporter = cloudsync.NewHTTPStatusReporter(cfg.Sync.StatusURL, cfg.Sync.APIToken, 10*time.Second)
	}

	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	if err := rediscommon.Ping(ctx, redisClient); err != nil {
		logger.Warn("Redis unavailable, live display cache disabled", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		rediscommon.Close(redisClient)
	} else {
		deps.Redis = redisClient
	}

	monitor, err := service.NewMonitorService(cfg, deps, logger)
	if err != nil {
		logger.Fatal("Failed to create workplace monitor", zap.Error(err))
	}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if err := monitor.Start(ctx); err != nil {
		logger.Fatal("Failed to start workplace monitor", zap.Error(err))
	}

	exitCode := 0
	select {
	case sig := <-sigCh:
		logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-monitor.Errors():
		logger.Error("Fatal error, shutting down", zap.Error(err))
		exitCode = 1
	}

	// ingestion stops first inside Stop; ctx stays live so the final finalize can write
	if err := monitor.Stop(ctx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
		exitCode = 1
	}
	cancel()

	logger.Info("Service stopped")
	logger.Sync()
	os.Exit(exitCode)
}

// ensureRemoteSchema retries until the cloud store accepts the DDL. Sync
// failures before then are absorbed by the sync backoff.
func ensureRemoteSchema(ctx context.Context, remote *repository.RemoteStore, logger *zap.Logger) {
	for r := retry.New(time.Second, time.Minute); r.Wait(ctx); {
		attempt, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := remote.Ping(attempt)
		if err == nil {
			err = remote.EnsureSchema(attempt)
		}
		cancel()
		if err == nil {
			logger.Info("Remote schema ready")
			return
		}
		logger.Warn("Remote store not ready, retrying", zap.Error(err))
	}
}
