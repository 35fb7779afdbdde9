// Package config assembles the scheduler's runtime Config from environment
// variables using golly's typed env accessors, the same idiom the teacher's
// cobra flags use for CLI-sourced settings.
package config

import (
	"fmt"
	"strings"
	"time"

	"oss.nandlabs.io/golly/config"
)

// WorkerEnvironment selects the ProcessFactory variant.
type WorkerEnvironment string

const (
	WorkerDocker     WorkerEnvironment = "DOCKER"
	WorkerKubernetes WorkerEnvironment = "KUBERNETES"
)

// Config holds every environment-sourced setting the scheduler needs.
type Config struct {
	WorkspaceRoot string
	LocalRoot     string
	ConfigRoot    string

	DatabaseURL      string
	DatabaseUser     string
	DatabasePassword string

	WorkerEnvironment WorkerEnvironment
	WorkspaceDockerMount string
	LocalDockerMount     string
	DockerNetwork        string

	TemporalHost       string
	TemporalWorkerPorts []int

	AirbyteVersion string
	AirbyteRole    string

	TrackingStrategy string
	WebappURL        string

	LogLevel  string
	LogFormat string

	MetricsBindAddress string

	AutoMigrate bool

	MaxSubmitterWorkers    int
	DispatchInterval       time.Duration
	CleanerInterval        time.Duration
	GracefulShutdownPeriod time.Duration
	PoolCheckoutTimeout    time.Duration

	MaxAttempts      int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration

	WorkspaceMinAgeHours int
	WorkspaceMaxAgeHours int
	WorkspaceMaxSizeBytes int64

	KubeHeartbeatPort    int
	HeartbeatInterval    time.Duration
	HeartbeatMaxMisses   int
}

// FromEnv loads configuration from the process environment, applying the
// same defaults the spec enumerates in §6/§2.1.
func FromEnv() (Config, error) {
	var c Config
	c.WorkspaceRoot = config.GetEnvAsString("WORKSPACE_ROOT", "/tmp/workspace")
	c.LocalRoot = config.GetEnvAsString("LOCAL_ROOT", "/tmp/local")
	c.ConfigRoot = config.GetEnvAsString("CONFIG_ROOT", "/data/config")

	c.DatabaseURL = config.GetEnvAsString("DATABASE_URL", "")
	c.DatabaseUser = config.GetEnvAsString("DATABASE_USER", "")
	c.DatabasePassword = config.GetEnvAsString("DATABASE_PASSWORD", "")
	if c.DatabaseURL == "" {
		return c, fmt.Errorf("config: DATABASE_URL is required")
	}

	c.WorkerEnvironment = WorkerEnvironment(strings.ToUpper(config.GetEnvAsString("WORKER_ENVIRONMENT", string(WorkerDocker))))
	c.WorkspaceDockerMount = config.GetEnvAsString("WORKSPACE_DOCKER_MOUNT", "")
	c.LocalDockerMount = config.GetEnvAsString("LOCAL_DOCKER_MOUNT", "")
	c.DockerNetwork = config.GetEnvAsString("DOCKER_NETWORK", "bridge")

	c.TemporalHost = config.GetEnvAsString("TEMPORAL_HOST", "localhost:7233")
	ports := config.GetEnvAsString("TEMPORAL_WORKER_PORTS", "9001,9002,9003,9004")
	for _, p := range strings.Split(ports, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		var n int
		if _, err := fmt.Sscanf(p, "%d", &n); err != nil {
			return c, fmt.Errorf("config: invalid TEMPORAL_WORKER_PORTS entry %q: %w", p, err)
		}
		c.TemporalWorkerPorts = append(c.TemporalWorkerPorts, n)
	}

	c.AirbyteVersion = config.GetEnvAsString("AIRBYTE_VERSION", "dev")
	c.AirbyteRole = config.GetEnvAsString("AIRBYTE_ROLE", "")
	c.TrackingStrategy = config.GetEnvAsString("TRACKING_STRATEGY", "logging")
	c.WebappURL = config.GetEnvAsString("WEBAPP_URL", "")

	c.LogLevel = config.GetEnvAsString("LOG_LEVEL", "info")
	c.LogFormat = config.GetEnvAsString("LOG_FORMAT", "json")

	c.MetricsBindAddress = config.GetEnvAsString("METRICS_BIND_ADDRESS", ":9102")

	autoMigrate, err := config.GetEnvAsBool("AUTO_MIGRATE", false)
	if err != nil {
		return c, fmt.Errorf("config: AUTO_MIGRATE: %w", err)
	}
	c.AutoMigrate = autoMigrate

	maxWorkers, err := config.GetEnvAsInt("MAX_SUBMITTER_WORKERS", 4)
	if err != nil {
		return c, fmt.Errorf("config: MAX_SUBMITTER_WORKERS: %w", err)
	}
	c.MaxSubmitterWorkers = maxWorkers

	dispatchSecs, err := config.GetEnvAsInt("DISPATCH_INTERVAL_SECONDS", 5)
	if err != nil {
		return c, fmt.Errorf("config: DISPATCH_INTERVAL_SECONDS: %w", err)
	}
	c.DispatchInterval = time.Duration(dispatchSecs) * time.Second

	cleanerHours, err := config.GetEnvAsInt("CLEANER_INTERVAL_HOURS", 2)
	if err != nil {
		return c, fmt.Errorf("config: CLEANER_INTERVAL_HOURS: %w", err)
	}
	c.CleanerInterval = time.Duration(cleanerHours) * time.Hour

	gracefulSecs, err := config.GetEnvAsInt("GRACEFUL_SHUTDOWN_SECONDS", 30)
	if err != nil {
		return c, fmt.Errorf("config: GRACEFUL_SHUTDOWN_SECONDS: %w", err)
	}
	c.GracefulShutdownPeriod = time.Duration(gracefulSecs) * time.Second

	poolCheckoutSecs, err := config.GetEnvAsInt("POOL_CHECKOUT_TIMEOUT_SECONDS", 300)
	if err != nil {
		return c, fmt.Errorf("config: POOL_CHECKOUT_TIMEOUT_SECONDS: %w", err)
	}
	c.PoolCheckoutTimeout = time.Duration(poolCheckoutSecs) * time.Second

	maxAttempts, err := config.GetEnvAsInt("RETRY_MAX_ATTEMPTS", 3)
	if err != nil {
		return c, fmt.Errorf("config: RETRY_MAX_ATTEMPTS: %w", err)
	}
	c.MaxAttempts = maxAttempts

	baseDelaySecs, err := config.GetEnvAsInt("RETRY_BASE_DELAY_SECONDS", 10)
	if err != nil {
		return c, fmt.Errorf("config: RETRY_BASE_DELAY_SECONDS: %w", err)
	}
	c.RetryBaseDelay = time.Duration(baseDelaySecs) * time.Second

	maxDelayMins, err := config.GetEnvAsInt("RETRY_MAX_DELAY_MINUTES", 10)
	if err != nil {
		return c, fmt.Errorf("config: RETRY_MAX_DELAY_MINUTES: %w", err)
	}
	c.RetryMaxDelay = time.Duration(maxDelayMins) * time.Minute

	c.WorkspaceMinAgeHours, err = config.GetEnvAsInt("WORKSPACE_MIN_AGE_HOURS", 12)
	if err != nil {
		return c, fmt.Errorf("config: WORKSPACE_MIN_AGE_HOURS: %w", err)
	}
	c.WorkspaceMaxAgeHours, err = config.GetEnvAsInt("WORKSPACE_MAX_AGE_HOURS", 7*24)
	if err != nil {
		return c, fmt.Errorf("config: WORKSPACE_MAX_AGE_HOURS: %w", err)
	}
	maxSizeBytes, err := config.GetEnvAsInt64("WORKSPACE_MAX_SIZE_BYTES", 10*1024*1024*1024)
	if err != nil {
		return c, fmt.Errorf("config: WORKSPACE_MAX_SIZE_BYTES: %w", err)
	}
	c.WorkspaceMaxSizeBytes = maxSizeBytes

	c.KubeHeartbeatPort, err = config.GetEnvAsInt("KUBE_HEARTBEAT_PORT", 9000)
	if err != nil {
		return c, fmt.Errorf("config: KUBE_HEARTBEAT_PORT: %w", err)
	}
	heartbeatSecs, err := config.GetEnvAsInt("HEARTBEAT_INTERVAL_SECONDS", 30)
	if err != nil {
		return c, fmt.Errorf("config: HEARTBEAT_INTERVAL_SECONDS: %w", err)
	}
	c.HeartbeatInterval = time.Duration(heartbeatSecs) * time.Second
	c.HeartbeatMaxMisses, err = config.GetEnvAsInt("HEARTBEAT_MAX_MISSES", 3)
	if err != nil {
		return c, fmt.Errorf("config: HEARTBEAT_MAX_MISSES: %w", err)
	}

	return c, nil
}
