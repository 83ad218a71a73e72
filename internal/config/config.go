// Package config loads shmpub command configuration from YAML and the
// environment.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coachpo/shmpub/internal/observability"
	"github.com/coachpo/shmpub/internal/pool"
	"github.com/coachpo/shmpub/internal/session"
	"github.com/coachpo/shmpub/internal/telemetry"
)

// Environment variables consulted by Load.
const (
	EnvConfigPath  = "SHMPUB_CONFIG"
	EnvEnvironment = "SHMPUB_ENV"
	EnvLogLevel    = "SHMPUB_LOG"
)

// DefaultPath is read when neither a path nor $SHMPUB_CONFIG is given.
const DefaultPath = "config/shmpub.yaml"

// LoggingConfig selects the log level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// SessionConfig configures the pub/sub session.
type SessionConfig struct {
	Mode              string   `yaml:"mode"`
	Connect           []string `yaml:"connect"`
	Listen            []string `yaml:"listen"`
	MulticastScouting bool     `yaml:"multicastScouting"`
	ScoutAddress      string   `yaml:"scoutAddress"`
	ScoutInterval     Duration `yaml:"scoutInterval"`
	MaxReconnect      Duration `yaml:"maxReconnectInterval"`
}

// SHMConfig sizes the shared memory pool.
type SHMConfig struct {
	ElementSize   int      `yaml:"elementSize"`
	ElementNumber int      `yaml:"elementNumber"`
	Backoff       Duration `yaml:"backoff"`
	Backing       string   `yaml:"backing"`
	Name          string   `yaml:"name"`
	// DrainTimeout bounds how long shutdown waits for buffers to come back.
	DrainTimeout Duration `yaml:"drainTimeout"`
}

// PublisherConfig configures the producing commands.
type PublisherConfig struct {
	Key      string   `yaml:"key"`
	Interval Duration `yaml:"interval"`
	Window   int      `yaml:"window"`
}

// SubscriberConfig configures shmsub.
type SubscriberConfig struct {
	Key        string `yaml:"key"`
	BufferSize int    `yaml:"bufferSize"`
}

// TelemetryConfig configures OTLP exporters (metrics only).
type TelemetryConfig struct {
	OTLPEndpoint  string `yaml:"otlpEndpoint"`
	ServiceName   string `yaml:"serviceName"`
	OTLPInsecure  bool   `yaml:"otlpInsecure"`
	EnableMetrics bool   `yaml:"enableMetrics"`
}

// Config is the shmpub command configuration.
type Config struct {
	Environment Environment      `yaml:"environment"`
	Logging     LoggingConfig    `yaml:"logging"`
	Session     SessionConfig    `yaml:"session"`
	SHM         SHMConfig        `yaml:"shm"`
	Publisher   PublisherConfig  `yaml:"publisher"`
	Subscriber  SubscriberConfig `yaml:"subscriber"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Environment: EnvDev,
		Logging:     LoggingConfig{Level: "info"},
		Session: SessionConfig{
			Mode:              string(session.ModePeer),
			Connect:           nil,
			Listen:            nil,
			MulticastScouting: true,
			ScoutAddress:      session.DefaultScoutAddress,
			ScoutInterval:     Duration(time.Second),
			MaxReconnect:      Duration(10 * time.Second),
		},
		SHM: SHMConfig{
			ElementSize:   1024,
			ElementNumber: 100,
			Backoff:       Duration(pool.DefaultBackoff),
			Backing:       pool.BackingShm,
			Name:          "",
			DrainTimeout:  Duration(5 * time.Second),
		},
		Publisher: PublisherConfig{
			Key:      "demo/example/shmpub",
			Interval: 0,
			Window:   16,
		},
		Subscriber: SubscriberConfig{
			Key:        "demo/example/**",
			BufferSize: 64,
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint:  "http://localhost:4318",
			ServiceName:   "shmpub",
			OTLPInsecure:  false,
			EnableMetrics: false,
		},
	}
}

// LoadOrDefault loads configuration with precedence defaults, YAML file,
// environment. An empty path falls back to $SHMPUB_CONFIG, then DefaultPath;
// a missing file leaves the defaults in place. The boolean reports whether a
// file was read.
func LoadOrDefault(ctx context.Context, path string) (Config, bool, error) {
	cfg := Default()

	path = strings.TrimSpace(path)
	if path == "" {
		path = strings.TrimSpace(os.Getenv(EnvConfigPath))
	}
	if path == "" {
		path = DefaultPath
	}
	loaded := false
	err := cfg.loadYAML(ctx, path)
	switch {
	case err == nil:
		loaded = true
	case errors.Is(err, fs.ErrNotExist):
	default:
		return Config{}, false, fmt.Errorf("load yaml config: %w", err)
	}

	cfg.loadEnv()
	cfg.Normalise()
	if err := cfg.Validate(); err != nil {
		return Config{}, loaded, fmt.Errorf("validate config: %w", err)
	}
	return cfg, loaded, nil
}

// Parse decodes YAML onto the defaults and validates the result. The
// environment is not consulted.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Normalise()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadYAML(ctx context.Context, path string) error {
	_ = ctx
	reader, closer, err := openConfigFile(path)
	if err != nil {
		return err
	}
	defer closer()

	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}

func (c *Config) loadEnv() {
	if env := strings.TrimSpace(os.Getenv(EnvEnvironment)); env != "" {
		c.Environment = Environment(env)
	}
	if level := strings.TrimSpace(os.Getenv(EnvLogLevel)); level != "" {
		c.Logging.Level = level
	}
	if v := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); v != "" {
		c.Telemetry.OTLPEndpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAME")); v != "" {
		c.Telemetry.ServiceName = v
	}
	if os.Getenv("OTEL_METRICS_ENABLED") == "true" {
		c.Telemetry.EnableMetrics = true
	}
}

// Normalise trims and lower-cases textual settings and fills zero values
// that have a sensible default.
func (c *Config) Normalise() {
	def := Default()

	c.Environment = Environment(normalizeName(string(c.Environment)))
	if c.Environment == "" {
		c.Environment = def.Environment
	}
	c.Logging.Level = normalizeName(c.Logging.Level)
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}

	c.Session.Mode = normalizeName(c.Session.Mode)
	c.Session.Connect = trimAll(c.Session.Connect)
	c.Session.Listen = trimAll(c.Session.Listen)
	c.Session.ScoutAddress = strings.TrimSpace(c.Session.ScoutAddress)

	c.SHM.Backing = normalizeName(c.SHM.Backing)
	if c.SHM.Backing == "" {
		c.SHM.Backing = def.SHM.Backing
	}
	c.SHM.Name = strings.TrimSpace(c.SHM.Name)
	if c.SHM.DrainTimeout <= 0 {
		c.SHM.DrainTimeout = def.SHM.DrainTimeout
	}

	c.Publisher.Key = strings.TrimSpace(c.Publisher.Key)
	if c.Publisher.Window <= 0 {
		c.Publisher.Window = def.Publisher.Window
	}
	c.Subscriber.Key = strings.TrimSpace(c.Subscriber.Key)
	if c.Subscriber.BufferSize <= 0 {
		c.Subscriber.BufferSize = def.Subscriber.BufferSize
	}

	c.Telemetry.OTLPEndpoint = strings.TrimSpace(c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = strings.TrimSpace(c.Telemetry.ServiceName)
}

// Validate performs semantic validation on the configuration.
func (c Config) Validate() error {
	switch c.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("environment must be one of dev, staging, prod")
	}
	if _, err := observability.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if _, err := session.ParseMode(c.Session.Mode); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	for _, raw := range append(append([]string(nil), c.Session.Connect...), c.Session.Listen...) {
		if _, err := session.ParseEndpoint(raw); err != nil {
			return fmt.Errorf("session: %w", err)
		}
	}
	if c.Session.ScoutInterval < 0 || c.Session.MaxReconnect < 0 {
		return fmt.Errorf("session intervals must be >= 0")
	}

	if c.SHM.ElementSize <= 0 {
		return fmt.Errorf("shm elementSize must be >0")
	}
	if c.SHM.ElementNumber <= 0 {
		return fmt.Errorf("shm elementNumber must be >0")
	}
	if c.SHM.ElementSize > math.MaxInt/c.SHM.ElementNumber {
		return fmt.Errorf("shm elementSize * elementNumber overflows")
	}
	if c.SHM.Backoff < 0 {
		return fmt.Errorf("shm backoff must be >= 0")
	}
	switch c.SHM.Backing {
	case pool.BackingShm, pool.BackingHeap:
	default:
		return fmt.Errorf("shm backing must be one of shm, heap")
	}

	if c.Publisher.Key == "" {
		return fmt.Errorf("publisher key required")
	}
	if c.Publisher.Interval < 0 {
		return fmt.Errorf("publisher interval must be >= 0")
	}
	if c.Subscriber.Key == "" {
		return fmt.Errorf("subscriber key required")
	}

	if c.Telemetry.ServiceName == "" {
		return fmt.Errorf("telemetry serviceName required")
	}
	return nil
}

// PoolSpec returns the pool layout described by the shm section.
func (c Config) PoolSpec() pool.Spec {
	return pool.Spec{
		ElementSize:   c.SHM.ElementSize,
		ElementNumber: c.SHM.ElementNumber,
		Backing:       c.SHM.Backing,
		SegmentName:   c.SHM.Name,
	}
}

// SessionOptions maps the session section onto a session.Config. Logger
// and Meter are left for the caller.
func (c Config) SessionOptions() session.Config {
	return session.Config{
		Mode:                 session.Mode(c.Session.Mode),
		Connect:              append([]string(nil), c.Session.Connect...),
		Listen:               append([]string(nil), c.Session.Listen...),
		MulticastScouting:    c.Session.MulticastScouting,
		ScoutAddress:         c.Session.ScoutAddress,
		ScoutInterval:        c.Session.ScoutInterval.Std(),
		SubscriberBuffer:     c.Subscriber.BufferSize,
		MaxReconnectInterval: c.Session.MaxReconnect.Std(),
	}
}

// TelemetryOptions overlays the telemetry section on telemetry.DefaultConfig.
func (c Config) TelemetryOptions() telemetry.Config {
	out := telemetry.DefaultConfig()
	out.OTLPEndpoint = c.Telemetry.OTLPEndpoint
	out.OTLPInsecure = c.Telemetry.OTLPInsecure
	out.EnableMetrics = c.Telemetry.EnableMetrics
	out.ServiceName = c.Telemetry.ServiceName
	out.Environment = string(c.Environment)
	return out
}

// LogLevel returns the parsed logging level.
func (c Config) LogLevel() observability.Level {
	level, _ := observability.ParseLevel(c.Logging.Level)
	return level
}

func trimAll(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func openConfigFile(path string) (io.Reader, func(), error) {
	candidate := filepath.Clean(strings.TrimSpace(path))

	file, err := os.Open(candidate) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return nil, nil, fmt.Errorf("open config: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}
