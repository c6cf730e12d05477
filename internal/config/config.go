package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"cptrack/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App          AppConfig          `yaml:"app"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Sync         SyncConfig         `yaml:"sync"`
	Codeforces   CodeforcesConfig   `yaml:"codeforces"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	Monitoring   MonitoringConfig   `yaml:"monitoring"`
	Logging      LoggingConfig      `yaml:"logging"`
	API          APIConfig          `yaml:"api"`
	Exports      ExportConfig       `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path   string       `yaml:"path"`
	Backup BackupConfig `yaml:"backup"`
}

// BackupConfig schedules VACUUM INTO snapshots of the sqlite file.
type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	StoragePath   string `yaml:"storage_path"`
	RetentionDays int    `yaml:"retention_days"`
}

type RedisConfig struct {
	Address       string        `yaml:"address"`
	Password      string        `yaml:"password"`
	DB            int           `yaml:"db"`
	PoolSize      int           `yaml:"pool_size"`
	DeadLetterKey string        `yaml:"dead_letter_key"`
	KeyPrefix     string        `yaml:"key_prefix"`
	RecoverAfter  time.Duration `yaml:"recover_after"`
}

// SyncConfig holds the queue policy. Durations use Go syntax ("2s", "1m").
type SyncConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	InitialDelay   time.Duration `yaml:"initial_delay"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	BackoffFactor  float64       `yaml:"backoff_factor"`
	HandlerTimeout time.Duration `yaml:"handler_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	Journal        bool          `yaml:"journal"`
}

type CodeforcesConfig struct {
	BaseURL  string        `yaml:"base_url"`
	RPS      float64       `yaml:"rps"`
	Burst    int           `yaml:"burst"`
	Timeout  time.Duration `yaml:"timeout"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type ConnectivityConfig struct {
	ProbeURL string        `yaml:"probe_url"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

type SchedulerConfig struct {
	Enabled     bool     `yaml:"enabled"`
	UserStats   string   `yaml:"user_stats"`
	Leaderboard string   `yaml:"leaderboard"`
	Colleges    []string `yaml:"colleges"`
	SeedHandles []string `yaml:"seed_handles"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	Port      int                `yaml:"port"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

// Load reads the YAML file at configPath after loading an optional .env from
// the working directory. ${VAR} references in the YAML are expanded.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Sync.MaxRetries < 0 {
		return errors.New("sync.max_retries must not be negative")
	}
	if c.Sync.BackoffFactor < 1 {
		return errors.New("sync.backoff_factor must be >= 1")
	}
	if c.Sync.MaxDelay < c.Sync.InitialDelay {
		return errors.New("sync.max_delay must be >= sync.initial_delay")
	}
	if !strings.HasPrefix(c.Codeforces.BaseURL, "http://") && !strings.HasPrefix(c.Codeforces.BaseURL, "https://") {
		return fmt.Errorf("codeforces.base_url must be an http(s) url, got %q", c.Codeforces.BaseURL)
	}

	return ValidateHandles(c.Scheduler.SeedHandles)
}

// ValidateHandles rejects empty and duplicate handles. Handles compare
// case-insensitively, as on the upstream site.
func ValidateHandles(handles []string) error {
	seen := make(map[string]bool, len(handles))
	for _, h := range handles {
		key := strings.ToLower(strings.TrimSpace(h))
		if key == "" {
			return errors.New("empty handle in scheduler.seed_handles")
		}
		if seen[key] {
			return fmt.Errorf("duplicate handle found: %s", h)
		}
		seen[key] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "cptrack"
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Redis.DeadLetterKey == "" {
		c.Redis.DeadLetterKey = "cptrack:sync:deadletter"
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "cptrack:cache:"
	}
	if c.Redis.RecoverAfter == 0 {
		c.Redis.RecoverAfter = time.Minute
	}

	// Sync defaults
	if c.Sync.MaxRetries == 0 {
		c.Sync.MaxRetries = models.DefaultMaxRetries
	}
	if c.Sync.InitialDelay == 0 {
		c.Sync.InitialDelay = models.DefaultInitialDelay
	}
	if c.Sync.MaxDelay == 0 {
		c.Sync.MaxDelay = models.DefaultMaxDelay
	}
	if c.Sync.BackoffFactor == 0 {
		c.Sync.BackoffFactor = 2
	}
	if c.Sync.HandlerTimeout == 0 {
		c.Sync.HandlerTimeout = models.DefaultHandlerTimeout
	}
	if c.Sync.PollInterval == 0 {
		c.Sync.PollInterval = models.DefaultPollInterval
	}

	// Codeforces defaults
	if c.Codeforces.BaseURL == "" {
		c.Codeforces.BaseURL = "https://codeforces.com"
	}
	c.Codeforces.BaseURL = strings.TrimRight(c.Codeforces.BaseURL, "/")
	if c.Codeforces.RPS == 0 {
		c.Codeforces.RPS = 0.5
	}
	if c.Codeforces.Burst == 0 {
		c.Codeforces.Burst = 1
	}
	if c.Codeforces.Timeout == 0 {
		c.Codeforces.Timeout = 15 * time.Second
	}
	if c.Codeforces.CacheTTL == 0 {
		c.Codeforces.CacheTTL = 10 * time.Minute
	}

	if c.Connectivity.ProbeURL == "" {
		c.Connectivity.ProbeURL = c.Codeforces.BaseURL + "/api/contest.list?gym=false"
	}
	if c.Connectivity.Interval == 0 {
		c.Connectivity.Interval = 30 * time.Second
	}
	if c.Connectivity.Timeout == 0 {
		c.Connectivity.Timeout = 5 * time.Second
	}

	if c.Scheduler.UserStats == "" {
		c.Scheduler.UserStats = "*/30 * * * *"
	}
	if c.Scheduler.Leaderboard == "" {
		c.Scheduler.Leaderboard = "0 * * * *"
	}

	if c.Database.Backup.Schedule == "" {
		c.Database.Backup.Schedule = "0 3 * * *"
	}
	if c.Database.Backup.StoragePath == "" {
		c.Database.Backup.StoragePath = "backups"
	}
	if c.Database.Backup.RetentionDays == 0 {
		c.Database.Backup.RetentionDays = 7
	}

	if c.API.RateLimit.Burst == 0 {
		c.API.RateLimit.Burst = 10
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}
