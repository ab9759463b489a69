package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"workplace-monitor/common/config"

	"github.com/google/uuid"
)

// Config workplace monitor service configuration
type Config struct {
	LocalDB  config.SQLiteConfig
	RemoteDB config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	Occupancy struct {
		EntryThreshold       time.Duration // employee zones
		ExitThreshold        time.Duration
		ClientEntryThreshold time.Duration // client zones filter passers-by
		ClientExitThreshold  time.Duration
		CheckpointInterval   time.Duration
		MinSessionDuration   time.Duration // noise floor on shutdown-finalize
	}

	Sync struct {
		BranchID           int64
		Tick               time.Duration
		Interval           time.Duration // base interval, also the backoff base
		MaxInterval        time.Duration // backoff cap
		Jitter             time.Duration
		HeartbeatInterval  time.Duration
		CheckpointInterval time.Duration // checkpoint mirroring cadence
		BatchSize          int
		MaxBatches         int // per tick
		BatchPause         time.Duration
		MockMode           bool
		StatusURL          string
		APIToken           string
	}

	Presence struct {
		Topic              string
		FrameInterval      time.Duration
		ZoneReloadInterval time.Duration
		StaleAfter         time.Duration // frames older than this are ignored
	}

	Live struct {
		Interval     time.Duration
		TTL          time.Duration
		EventStream  string
		StreamMaxLen int64
	}

	HTTP struct {
		Addr string
	}

	Log struct {
		Level  string
		Format string
	}

	ShutdownTimeout time.Duration
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.LocalDB.Path = getEnv("LOCAL_DB_PATH", "./data/workplace.db")
	cfg.LocalDB.BusyTimeout = 5 * time.Second
	cfg.LocalDB.LoadFromEnv("LOCAL_DB")

	// the remote store is optional: REMOTE_DB_HOST unset or empty means none
	cfg.RemoteDB.Host = ""
	cfg.RemoteDB.Port = 5432
	cfg.RemoteDB.User = "postgres"
	cfg.RemoteDB.Password = ""
	cfg.RemoteDB.Database = "workplace"
	cfg.RemoteDB.SSLMode = "require"
	cfg.RemoteDB.MaxConns = 4
	cfg.RemoteDB.MaxIdle = 2
	cfg.RemoteDB.ConnectTimeout = 10 * time.Second
	cfg.RemoteDB.LoadFromEnv("REMOTE_DB")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	// broker drops the older connection when two boxes share a client id
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "workplace-monitor-"+uuid.NewString()[:8])
	cfg.MQTT.QoS = 1
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.Occupancy.EntryThreshold = getEnvDuration("ENTRY_THRESHOLD", 3*time.Second)
	cfg.Occupancy.ExitThreshold = getEnvDuration("EXIT_THRESHOLD", 10*time.Second)
	cfg.Occupancy.ClientEntryThreshold = getEnvDuration("CLIENT_ENTRY_THRESHOLD", 30*time.Second)
	cfg.Occupancy.ClientExitThreshold = getEnvDuration("CLIENT_EXIT_THRESHOLD", 30*time.Second)
	cfg.Occupancy.CheckpointInterval = getEnvDuration("CHECKPOINT_INTERVAL", 60*time.Second)
	cfg.Occupancy.MinSessionDuration = getEnvDuration("MIN_SESSION_DURATION", time.Second)

	cfg.Sync.BranchID = int64(getEnvInt("BRANCH_ID", 1))
	cfg.Sync.Tick = getEnvDuration("SYNC_TICK", time.Second)
	cfg.Sync.Interval = getEnvDuration("SYNC_INTERVAL", 10*time.Second)
	cfg.Sync.MaxInterval = getEnvDuration("SYNC_MAX_INTERVAL", 5*time.Minute)
	cfg.Sync.Jitter = getEnvDuration("SYNC_JITTER", 2*time.Second)
	cfg.Sync.HeartbeatInterval = getEnvDuration("HEARTBEAT_INTERVAL", 30*time.Second)
	cfg.Sync.CheckpointInterval = getEnvDuration("CHECKPOINT_SYNC_INTERVAL", 30*time.Second)
	cfg.Sync.BatchSize = getEnvInt("SYNC_BATCH_SIZE", 50)
	cfg.Sync.MaxBatches = getEnvInt("SYNC_MAX_BATCHES", 20)
	cfg.Sync.BatchPause = getEnvDuration("SYNC_BATCH_PAUSE", 200*time.Millisecond)
	cfg.Sync.MockMode = getEnvBool("SYNC_MOCK_MODE", false)
	cfg.Sync.StatusURL = getEnv("STATUS_URL", "")
	cfg.Sync.APIToken = getEnv("CLOUD_API_TOKEN", "")

	cfg.Presence.Topic = getEnv("PRESENCE_TOPIC", "presence/+/detections")
	cfg.Presence.FrameInterval = getEnvDuration("FRAME_INTERVAL", 100*time.Millisecond)
	cfg.Presence.ZoneReloadInterval = getEnvDuration("ZONE_RELOAD_INTERVAL", 60*time.Second)
	cfg.Presence.StaleAfter = getEnvDuration("FRAME_STALE_AFTER", 2*time.Second)

	cfg.Live.Interval = getEnvDuration("LIVE_INTERVAL", time.Second)
	cfg.Live.TTL = getEnvDuration("LIVE_TTL", 10*time.Second)
	cfg.Live.EventStream = getEnv("SESSION_EVENT_STREAM", "occupancy:sessions")
	cfg.Live.StreamMaxLen = int64(getEnvInt("SESSION_EVENT_STREAM_MAXLEN", 10000))

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8090")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	cfg.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the engine or sync loop cannot run with.
func (c *Config) Validate() error {
	positive := []struct {
		name  string
		value time.Duration
	}{
		{"ENTRY_THRESHOLD", c.Occupancy.EntryThreshold},
		{"EXIT_THRESHOLD", c.Occupancy.ExitThreshold},
		{"CLIENT_ENTRY_THRESHOLD", c.Occupancy.ClientEntryThreshold},
		{"CLIENT_EXIT_THRESHOLD", c.Occupancy.ClientExitThreshold},
		{"CHECKPOINT_INTERVAL", c.Occupancy.CheckpointInterval},
		{"SYNC_TICK", c.Sync.Tick},
		{"SYNC_INTERVAL", c.Sync.Interval},
		{"SYNC_MAX_INTERVAL", c.Sync.MaxInterval},
		{"HEARTBEAT_INTERVAL", c.Sync.HeartbeatInterval},
		{"CHECKPOINT_SYNC_INTERVAL", c.Sync.CheckpointInterval},
		{"FRAME_INTERVAL", c.Presence.FrameInterval},
		{"ZONE_RELOAD_INTERVAL", c.Presence.ZoneReloadInterval},
		{"LIVE_INTERVAL", c.Live.Interval},
		{"SHUTDOWN_TIMEOUT", c.ShutdownTimeout},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", p.name, p.value)
		}
	}
	if c.Occupancy.MinSessionDuration < 0 {
		return fmt.Errorf("MIN_SESSION_DURATION must not be negative")
	}
	if c.Sync.MaxInterval < c.Sync.Interval {
		return fmt.Errorf("SYNC_MAX_INTERVAL (%s) must be >= SYNC_INTERVAL (%s)", c.Sync.MaxInterval, c.Sync.Interval)
	}
	if c.Sync.BatchSize <= 0 || c.Sync.MaxBatches <= 0 {
		return fmt.Errorf("SYNC_BATCH_SIZE and SYNC_MAX_BATCHES must be positive")
	}
	if c.Sync.Jitter < 0 || c.Sync.BatchPause < 0 {
		return fmt.Errorf("SYNC_JITTER and SYNC_BATCH_PAUSE must not be negative")
	}
	if c.LocalDB.Path == "" {
		return fmt.Errorf("LOCAL_DB_PATH is required")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("10s") or plain seconds ("10", "0.5").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultValue
}
