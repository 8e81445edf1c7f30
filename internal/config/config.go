// Package config provides the configuration structure for the voice studio.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Storage backends for generated audio.
const (
	BackendMemory = "memory"
	BackendNATS   = "nats"
)

// Default values applied to zero-valued settings.
const (
	defaultBaseURL               = "http://localhost:8000"
	defaultTimeoutSeconds        = 120
	defaultHealthIntervalSeconds = 30
	defaultMaxTextLength         = 2000
	defaultHistoryLimit          = 50
	defaultNotificationSeconds   = 4
	defaultLanguage              = "en"
	defaultFormat                = "wav"
	defaultNATSURL               = "nats://127.0.0.1:4222"
	defaultAudioBucket           = "VOICE_STUDIO_AUDIO"
	defaultLogsDir               = "logs"
	defaultDownloadDir           = "downloads"
	dotEnvFile                   = ".env"
)

var (
	// ErrInvalidBaseURL indicates that the configured base URL cannot be used.
	ErrInvalidBaseURL = errors.New("invalid base url")
	// ErrUnknownBackend indicates an unsupported storage backend.
	ErrUnknownBackend = errors.New("unknown storage backend")
	// ErrInvalidLimit indicates a non-positive or negative numeric limit.
	ErrInvalidLimit = errors.New("invalid limit")
	// ErrRequestsNeedNATS indicates a request subject without the shared NATS store.
	ErrRequestsNeedNATS = errors.New("request_subject requires the nats storage backend")
)

// StudioConfig holds the settings of the studio client itself.
type StudioConfig struct {
	BaseURL               string `toml:"base_url"                env:"VOICE_STUDIO_BASE_URL"`
	TimeoutSeconds        int    `toml:"timeout_seconds"`
	HealthIntervalSeconds int    `toml:"health_interval_seconds"`
	MaxTextLength         int    `toml:"max_text_length"`
	HistoryLimit          int    `toml:"history_limit"` // negative disables eviction
	NotificationSeconds   int    `toml:"notification_seconds"`
	DefaultLanguage       string `toml:"default_language"`
	DefaultFormat         string `toml:"default_format"`
}

// StorageConfig selects where generated audio bytes live while their handles
// are live, and the optional NATS subjects the studio announces on and serves.
type StorageConfig struct {
	Backend             string `toml:"backend"               env:"VOICE_STUDIO_STORAGE_BACKEND"`
	NATSURL             string `toml:"nats_url"              env:"VOICE_STUDIO_NATS_URL"`
	AudioBucket         string `toml:"audio_bucket"`
	AudioCreatedSubject string `toml:"audio_created_subject"`
	RequestSubject      string `toml:"request_subject"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
	DownloadDir string `toml:"download_dir"`
}

// Config is the root configuration structure.
type Config struct {
	Studio  StudioConfig  `toml:"studio"`
	Storage StorageConfig `toml:"storage"`
	Paths   PathsConfig   `toml:"paths"`
}

// Load loads the configuration through the central configurator and applies
// environment overrides and defaults.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return finish(&cfg)
}

// LoadFile loads the configuration from an explicit TOML file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config

	err = toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return finish(&cfg)
}

// Default returns a configuration built only from defaults and the environment.
func Default() (*Config, error) {
	return finish(&Config{})
}

func finish(cfg *Config) (*Config, error) {
	envErr := ApplyEnv(cfg)
	if envErr != nil {
		return nil, envErr
	}

	cfg.ApplyDefaults()

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, validateErr
	}

	return cfg, nil
}

// ApplyEnv reads an optional .env file and applies `env` tagged overrides.
func ApplyEnv(cfg *Config) error {
	dotEnvErr := godotenv.Load(dotEnvFile)
	if dotEnvErr != nil && !errors.Is(dotEnvErr, fs.ErrNotExist) {
		return fmt.Errorf("failed to read %s: %w", dotEnvFile, dotEnvErr)
	}

	err := env.Parse(cfg)
	if err != nil {
		return fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	return nil
}

// ApplyDefaults fills every zero-valued setting with its default.
func (c *Config) ApplyDefaults() {
	setString(&c.Studio.BaseURL, defaultBaseURL)
	setInt(&c.Studio.TimeoutSeconds, defaultTimeoutSeconds)
	setInt(&c.Studio.HealthIntervalSeconds, defaultHealthIntervalSeconds)
	setInt(&c.Studio.MaxTextLength, defaultMaxTextLength)
	setInt(&c.Studio.NotificationSeconds, defaultNotificationSeconds)
	setInt(&c.Studio.HistoryLimit, defaultHistoryLimit)
	setString(&c.Studio.DefaultLanguage, defaultLanguage)
	setString(&c.Studio.DefaultFormat, defaultFormat)
	setString(&c.Storage.Backend, BackendMemory)
	setString(&c.Storage.NATSURL, defaultNATSURL)
	setString(&c.Storage.AudioBucket, defaultAudioBucket)
	setString(&c.Paths.BaseLogsDir, defaultLogsDir)
	setString(&c.Paths.DownloadDir, defaultDownloadDir)
}

// Validate checks the configuration for values the studio cannot run with.
func (c *Config) Validate() error {
	parsed, err := url.Parse(c.Studio.BaseURL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBaseURL, err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" || parsed.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidBaseURL, c.Studio.BaseURL)
	}

	if c.Storage.Backend != BackendMemory && c.Storage.Backend != BackendNATS {
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Storage.Backend)
	}

	if c.Storage.RequestSubject != "" && c.Storage.Backend != BackendNATS {
		return ErrRequestsNeedNATS
	}

	if c.Studio.MaxTextLength <= 0 {
		return fmt.Errorf("%w: max_text_length must be positive, got %d", ErrInvalidLimit, c.Studio.MaxTextLength)
	}

	if c.Studio.TimeoutSeconds <= 0 {
		return fmt.Errorf("%w: timeout_seconds must be positive, got %d", ErrInvalidLimit, c.Studio.TimeoutSeconds)
	}

	return nil
}

func setString(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

func setInt(field *int, value int) {
	if *field == 0 {
		*field = value
	}
}
