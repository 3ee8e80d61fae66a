package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Schedule ScheduleConfig
	Feeds    FeedsConfig
	Output   OutputConfig
	Cycle    CycleConfig
	Database DatabaseConfig
	Logging  LoggingConfig
	Metrics  MetricsConfig
}

// ScheduleConfig for the static GTFS bundle
type ScheduleConfig struct {
	Source        string // HTTP(S) URL or local file path
	CheckInterval time.Duration
}

// FeedsConfig for the live status endpoints
type FeedsConfig struct {
	DelaysURL    string
	PositionsURL string
	AlertsURL    string
}

type OutputConfig struct {
	Path     string
	Readable bool // text format instead of binary wire format
}

type CycleConfig struct {
	Period time.Duration
	Debug  bool
}

// DatabaseConfig for the optional cycle journal; an empty Host
// disables the journal entirely.
type DatabaseConfig struct {
	Host      string
	Port      string
	User      string
	Password  string
	DBName    string
	SSLMode   string
	Retention time.Duration
}

type LoggingConfig struct {
	Level      string
	FilePath   string
	WebhookURL string
}

type MetricsConfig struct {
	Addr string // empty disables the listener
}

func Load() (*Config, error) {
	cfg := &Config{
		Schedule: ScheduleConfig{
			Source:        getEnv("SCHEDULE_SOURCE", ""),
			CheckInterval: getDurationEnv("SCHEDULE_CHECK_INTERVAL", 30*time.Minute),
		},
		Feeds: FeedsConfig{
			DelaysURL:    getEnv("DELAYS_URL", ""),
			PositionsURL: getEnv("POSITIONS_URL", ""),
			AlertsURL:    getEnv("ALERTS_URL", ""),
		},
		Output: OutputConfig{
			Path:     getEnv("OUTPUT_PATH", "gtfs-rt.pb"),
			Readable: getBoolEnv("OUTPUT_READABLE", false),
		},
		Cycle: CycleConfig{
			Period: getDurationEnv("CYCLE_PERIOD", 30*time.Second),
			Debug:  getBoolEnv("DEBUG", false),
		},
		Database: DatabaseConfig{
			Host:      getEnv("DB_HOST", ""),
			Port:      getEnv("DB_PORT", "5432"),
			User:      getEnv("DB_USER", "postgres"),
			Password:  getEnv("DB_PASSWORD", ""),
			DBName:    getEnv("DB_NAME", "transitpulse"),
			SSLMode:   getEnv("DB_SSLMODE", "disable"),
			Retention: getDurationEnv("JOURNAL_RETENTION", 168*time.Hour),
		},
		Logging: LoggingConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			FilePath:   getEnv("LOG_FILE", ""),
			WebhookURL: getEnv("ALERT_WEBHOOK_URL", ""),
		},
		Metrics: MetricsConfig{
			Addr: getEnv("METRICS_ADDR", ""),
		},
	}

	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Schedule.Source == "" {
		return fmt.Errorf("SCHEDULE_SOURCE must be set")
	}
	if c.Feeds.DelaysURL == "" || c.Feeds.PositionsURL == "" || c.Feeds.AlertsURL == "" {
		return fmt.Errorf("DELAYS_URL, POSITIONS_URL and ALERTS_URL must all be set")
	}
	if c.Output.Path == "" {
		return fmt.Errorf("OUTPUT_PATH must not be empty")
	}
	if c.Cycle.Period <= 0 {
		return fmt.Errorf("CYCLE_PERIOD must be positive")
	}
	if c.Schedule.CheckInterval <= 0 {
		return fmt.Errorf("SCHEDULE_CHECK_INTERVAL must be positive")
	}
	return nil
}

// Enabled reports whether the cycle journal is configured.
func (c *DatabaseConfig) Enabled() bool {
	return c.Host != ""
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
