// Package config provides configuration management using Viper.
// It loads configuration from environment variables, .env files, and config files.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	defaultServerPort                = 8080
	defaultServerHost                = "0.0.0.0"
	defaultReadTimeout               = 30 * time.Second
	defaultWriteTimeout              = 30 * time.Second
	defaultShutdownTimeout           = 15 * time.Second
	defaultDatabasePath              = "./data/couchcast.db"
	defaultDatabaseConnectionTimeout = 5 * time.Second
	defaultMigrationsPath            = "file://./migrations"
	defaultLogLevel                  = "info"
	defaultLogPretty                 = false
	defaultLogMaxSizeMB              = 50
	defaultLogMaxBackups             = 3
	defaultLogMaxAgeDays             = 14

	defaultEnginePath             = "mpv"
	defaultPlaybackPollInterval   = 3 * time.Second
	defaultPlaybackReleaseDelay   = 500 * time.Millisecond
	defaultPlaybackStallTicks     = 3
	defaultPlaybackBreakerFails   = 3
	defaultPlaybackBreakerReset   = time.Minute
	defaultPlaybackPanicBackoff   = 5 * time.Second
	defaultPlaybackEventBuffer    = 16
	defaultDownloadsDirectory     = "./data/videos"
	defaultYtdlpPath              = "yt-dlp"
	defaultFFprobePath            = "ffprobe"
	defaultDownloadsFormat        = "bv*[height<=1080]+ba/b[height<=1080]/b"
	defaultDownloadsPollInterval  = 10 * time.Second
	defaultDownloadsBatchSize     = 10
	defaultDownloadsMaxConcurrent = 2
	defaultDownloadsMinFreeBytes  = 1 << 30
	defaultDownloadsShutdownGrace = 30 * time.Second
	defaultDownloadsExtractTime   = time.Minute
	defaultDownloadsDownloadTime  = 2 * time.Hour

	defaultSchedulerPriorityWeight = 1.0
	defaultSchedulerPenaltyScale   = 0.5
	defaultSchedulerBoostScale     = 0.25
	defaultSchedulerItemWindow     = 24 * time.Hour
	defaultSchedulerUserWindow     = 24 * time.Hour
	defaultSchedulerPreviewLimit   = 20

	defaultAPISkipRate  = 1.0
	defaultAPISkipBurst = 3

	envPrefix = "COUCHCAST"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Logging   LoggingConfig
	Playback  PlaybackConfig
	Downloads DownloadsConfig
	Scheduler SchedulerConfig
	API       APIConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Path              string
	ConnectionTimeout time.Duration
	MigrationsPath    string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// PlaybackConfig holds media engine and orchestrator configuration
type PlaybackConfig struct {
	EnginePath       string
	EngineArgs       []string
	PollInterval     time.Duration
	ReleaseDelay     time.Duration
	StallTicks       int // 0 disables stall detection
	BreakerThreshold int
	BreakerReset     time.Duration
	PanicBackoff     time.Duration
	EventBuffer      int
}

// DownloadsConfig holds download coordinator configuration
type DownloadsConfig struct {
	Directory       string
	YtdlpPath       string
	FFprobePath     string
	Format          string
	PollInterval    time.Duration
	BatchSize       int
	MaxConcurrent   int
	MinFreeBytes    uint64
	ShutdownGrace   time.Duration
	ExtractTimeout  time.Duration
	DownloadTimeout time.Duration
}

// SchedulerConfig holds the scoring constants
type SchedulerConfig struct {
	PriorityWeight float64
	PenaltyScale   float64
	BoostScale     float64
	ItemWindow     time.Duration
	UserWindow     time.Duration
	PreviewLimit   int
}

// APIConfig holds control API configuration
type APIConfig struct {
	CORSOrigins []string
	SkipRate    float64 // skips per second
	SkipBurst   int
}

// Load reads configuration from .env file, config files, environment variables, and defaults
func Load() (*Config, error) {
	// Load .env file if present (optional, won't error if missing)
	_ = godotenv.Load() // nolint:errcheck // .env file is optional

	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Config file settings
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/couchcast")

	// Environment variable settings
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.host", defaultServerHost)
	v.SetDefault("server.readtimeout", defaultReadTimeout)
	v.SetDefault("server.writetimeout", defaultWriteTimeout)
	v.SetDefault("server.shutdowntimeout", defaultShutdownTimeout)

	// Database defaults
	v.SetDefault("database.path", defaultDatabasePath)
	v.SetDefault("database.connectiontimeout", defaultDatabaseConnectionTimeout)
	v.SetDefault("database.migrationspath", defaultMigrationsPath)

	// Logging defaults
	v.SetDefault("logging.level", defaultLogLevel)
	v.SetDefault("logging.pretty", defaultLogPretty)
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.maxsizemb", defaultLogMaxSizeMB)
	v.SetDefault("logging.maxbackups", defaultLogMaxBackups)
	v.SetDefault("logging.maxagedays", defaultLogMaxAgeDays)

	// Playback defaults
	v.SetDefault("playback.enginepath", defaultEnginePath)
	v.SetDefault("playback.engineargs", []string{"--fs", "--no-terminal", "--really-quiet"})
	v.SetDefault("playback.pollinterval", defaultPlaybackPollInterval)
	v.SetDefault("playback.releasedelay", defaultPlaybackReleaseDelay)
	v.SetDefault("playback.stallticks", defaultPlaybackStallTicks)
	v.SetDefault("playback.breakerthreshold", defaultPlaybackBreakerFails)
	v.SetDefault("playback.breakerreset", defaultPlaybackBreakerReset)
	v.SetDefault("playback.panicbackoff", defaultPlaybackPanicBackoff)
	v.SetDefault("playback.eventbuffer", defaultPlaybackEventBuffer)

	// Download defaults
	v.SetDefault("downloads.directory", defaultDownloadsDirectory)
	v.SetDefault("downloads.ytdlppath", defaultYtdlpPath)
	v.SetDefault("downloads.ffprobepath", defaultFFprobePath)
	v.SetDefault("downloads.format", defaultDownloadsFormat)
	v.SetDefault("downloads.pollinterval", defaultDownloadsPollInterval)
	v.SetDefault("downloads.batchsize", defaultDownloadsBatchSize)
	v.SetDefault("downloads.maxconcurrent", defaultDownloadsMaxConcurrent)
	v.SetDefault("downloads.minfreebytes", uint64(defaultDownloadsMinFreeBytes))
	v.SetDefault("downloads.shutdowngrace", defaultDownloadsShutdownGrace)
	v.SetDefault("downloads.extracttimeout", defaultDownloadsExtractTime)
	v.SetDefault("downloads.downloadtimeout", defaultDownloadsDownloadTime)

	// Scheduler defaults
	v.SetDefault("scheduler.priorityweight", defaultSchedulerPriorityWeight)
	v.SetDefault("scheduler.penaltyscale", defaultSchedulerPenaltyScale)
	v.SetDefault("scheduler.boostscale", defaultSchedulerBoostScale)
	v.SetDefault("scheduler.itemwindow", defaultSchedulerItemWindow)
	v.SetDefault("scheduler.userwindow", defaultSchedulerUserWindow)
	v.SetDefault("scheduler.previewlimit", defaultSchedulerPreviewLimit)

	// API defaults
	v.SetDefault("api.corsorigins", []string{"*"})
	v.SetDefault("api.skiprate", defaultAPISkipRate)
	v.SetDefault("api.skipburst", defaultAPISkipBurst)
}

// Validate checks that configuration values are valid
func (c *Config) Validate() error {
	// Validate server port
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}

	// Validate timeout durations
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("invalid read timeout: %v (must be > 0)", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("invalid write timeout: %v (must be > 0)", c.Server.WriteTimeout)
	}
	if c.Database.ConnectionTimeout <= 0 {
		return fmt.Errorf("invalid database connection timeout: %v (must be > 0)", c.Database.ConnectionTimeout)
	}

	// Validate log level
	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, c.Logging.Level) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.Logging.Level, strings.Join(validLevels, ", "))
	}

	if err := c.Playback.validate(); err != nil {
		return err
	}
	if err := c.Downloads.validate(); err != nil {
		return err
	}
	return c.Scheduler.validate()
}

func (p *PlaybackConfig) validate() error {
	if p.EnginePath == "" {
		return errors.New("playback engine path is required")
	}
	if p.PollInterval <= 0 {
		return fmt.Errorf("invalid playback poll interval: %v (must be > 0)", p.PollInterval)
	}
	if p.ReleaseDelay < 0 {
		return fmt.Errorf("invalid playback release delay: %v (must be >= 0)", p.ReleaseDelay)
	}
	if p.StallTicks < 0 {
		return fmt.Errorf("invalid playback stall ticks: %d (must be >= 0)", p.StallTicks)
	}
	if p.BreakerThreshold < 1 {
		return fmt.Errorf("invalid playback breaker threshold: %d (must be >= 1)", p.BreakerThreshold)
	}
	if p.EventBuffer < 1 {
		return fmt.Errorf("invalid playback event buffer: %d (must be >= 1)", p.EventBuffer)
	}
	return nil
}

func (d *DownloadsConfig) validate() error {
	if d.Directory == "" {
		return errors.New("downloads directory is required")
	}
	if d.PollInterval <= 0 {
		return fmt.Errorf("invalid downloads poll interval: %v (must be > 0)", d.PollInterval)
	}
	if d.MaxConcurrent < 1 {
		return fmt.Errorf("invalid max concurrent downloads: %d (must be >= 1)", d.MaxConcurrent)
	}
	if d.BatchSize < 1 {
		return fmt.Errorf("invalid downloads batch size: %d (must be >= 1)", d.BatchSize)
	}
	if d.ShutdownGrace < 0 {
		return fmt.Errorf("invalid downloads shutdown grace: %v (must be >= 0)", d.ShutdownGrace)
	}
	return nil
}

func (s *SchedulerConfig) validate() error {
	if s.PriorityWeight <= 0 {
		return fmt.Errorf("invalid scheduler priority weight: %v (must be > 0)", s.PriorityWeight)
	}
	if s.PenaltyScale < 0 || s.BoostScale < 0 {
		return fmt.Errorf("invalid scheduler scales: penalty %v, boost %v (must be >= 0)", s.PenaltyScale, s.BoostScale)
	}
	if s.ItemWindow <= 0 || s.UserWindow <= 0 {
		return fmt.Errorf("invalid scheduler windows: item %v, user %v (must be > 0)", s.ItemWindow, s.UserWindow)
	}
	return nil
}

// contains checks if a string slice contains a specific value
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
