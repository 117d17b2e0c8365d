package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	alarms "plantwatch/internal/alarms/domain"
	"plantwatch/internal/cache"
)

// Config is the engine configuration.
type Config struct {
	Server    ServerConfig   `yaml:"server"`
	Log       LogConfig      `yaml:"log"`
	Database  DatabaseConfig `yaml:"database"`
	NATS      NATSConfig     `yaml:"nats"`
	Badger    BadgerConfig   `yaml:"badger"`
	Engine    EngineConfig   `yaml:"engine"`
	Auth      AuthConfig     `yaml:"auth"`
	Notify    NotifyConfig   `yaml:"notify"`
	Hierarchy Hierarchy      `yaml:"hierarchy"`
}

// ServerConfig configures the operator API.
type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

// LogConfig configures zap.
type LogConfig struct {
	Level    string `yaml:"level" validate:"oneof=debug info warn error"`
	Encoding string `yaml:"encoding" validate:"oneof=json console"`
}

// DatabaseConfig enables the postgres stores when DSN is set.
type DatabaseConfig struct {
	DSN     string `yaml:"dsn"`
	Migrate bool   `yaml:"migrate"`
}

// NATSConfig configures the acquisition transport. An empty URL disables it.
type NATSConfig struct {
	URL           string `yaml:"url" validate:"omitempty,url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// BadgerConfig enables the embedded snapshot store when Path is set or InMemory is true.
type BadgerConfig struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"in_memory"`
}

// Enabled reports whether the embedded store is configured.
func (b BadgerConfig) Enabled() bool {
	return b.Path != "" || b.InMemory
}

// EngineConfig tunes the engine.
type EngineConfig struct {
	LockTimeout            time.Duration `yaml:"lock_timeout" validate:"gt=0"`
	AliveScanPeriod        time.Duration `yaml:"alive_scan_period" validate:"gt=0"`
	AliveScanDelay         time.Duration `yaml:"alive_scan_delay" validate:"gte=0"`
	OscillationCheckPeriod time.Duration `yaml:"oscillation_check_period" validate:"gt=0"`
	OscillationCheckDelay  time.Duration `yaml:"oscillation_check_delay" validate:"gte=0"`
	Oscillation            alarms.Policy `yaml:"oscillation"`
	ArchiveQueueSize       int           `yaml:"archive_queue_size" validate:"gte=0"`
	ScanMarker             string        `yaml:"scan_marker" validate:"oneof=memory postgres badger"`
}

// AuthConfig configures JWT verification of the operator API.
type AuthConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Secret   string `yaml:"secret" validate:"required_if=Enabled true"`
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`
}

// NotifyConfig configures alarm webhooks.
type NotifyConfig struct {
	WebhookURL      string        `yaml:"webhook_url" validate:"omitempty,url"`
	Markdown        bool          `yaml:"markdown"`
	ConsoleBaseURL  string        `yaml:"console_base_url" validate:"omitempty,url"`
	EscalationAfter time.Duration `yaml:"escalation_after" validate:"gte=0"`
	Cooldown        time.Duration `yaml:"cooldown" validate:"gte=0"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Server: ServerConfig{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
		Log:    LogConfig{Level: "info", Encoding: "json"},
		NATS:   NATSConfig{SubjectPrefix: "plantwatch.daq"},
		Engine: EngineConfig{
			LockTimeout:            cache.DefaultLockTimeout,
			AliveScanPeriod:        10 * time.Second,
			AliveScanDelay:         0,
			OscillationCheckPeriod: 60 * time.Second,
			OscillationCheckDelay:  30 * time.Second,
			Oscillation:            alarms.DefaultPolicy(),
			ArchiveQueueSize:       1024,
			ScanMarker:             "memory",
		},
	}
}

var validate = validator.New()

// Load reads path (optional) over the defaults, applies environment overrides and validates.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		path = os.Getenv("PLANTWATCH_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks settings and the hierarchy. Hierarchy problems are reported together.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			problems := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				problems = append(problems, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return &ValidationError{Problems: problems}
		}
		return err
	}
	if c.Engine.ScanMarker == "postgres" && c.Database.DSN == "" {
		return &ValidationError{Problems: []string{"engine.scan_marker: postgres requires database.dsn"}}
	}
	if c.Engine.ScanMarker == "badger" && !c.Badger.Enabled() {
		return &ValidationError{Problems: []string{"engine.scan_marker: badger requires badger.path or badger.in_memory"}}
	}
	return c.Hierarchy.Validate()
}

func applyEnv(cfg *Config) {
	cfg.Server.Addr = getenvDefault("PLANTWATCH_HTTP_ADDR", cfg.Server.Addr)
	cfg.Log.Level = getenvDefault("PLANTWATCH_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Encoding = getenvDefault("PLANTWATCH_LOG_ENCODING", cfg.Log.Encoding)
	cfg.Database.DSN = getenvDefault("PLANTWATCH_DATABASE_DSN", cfg.Database.DSN)
	cfg.NATS.URL = getenvDefault("PLANTWATCH_NATS_URL", cfg.NATS.URL)
	cfg.Badger.Path = getenvDefault("PLANTWATCH_BADGER_PATH", cfg.Badger.Path)
	cfg.Auth.Secret = getenvDefault("PLANTWATCH_JWT_SECRET", cfg.Auth.Secret)
	cfg.Auth.Enabled = getenvBool("PLANTWATCH_AUTH_ENABLED", cfg.Auth.Enabled)
	cfg.Notify.WebhookURL = getenvDefault("PLANTWATCH_WEBHOOK_URL", cfg.Notify.WebhookURL)
	cfg.Engine.ScanMarker = getenvDefault("PLANTWATCH_SCAN_MARKER", cfg.Engine.ScanMarker)
	cfg.Engine.LockTimeout = getenvDuration("PLANTWATCH_LOCK_TIMEOUT", cfg.Engine.LockTimeout)
	cfg.Engine.AliveScanPeriod = getenvDuration("PLANTWATCH_ALIVE_SCAN_PERIOD", cfg.Engine.AliveScanPeriod)
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// ValidationError lists every configuration problem found.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return "config: " + e.Problems[0]
	}
	return fmt.Sprintf("config: %d problems: %s", len(e.Problems), strings.Join(e.Problems, "; "))
}
