package app

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ServerConfig defines how the relay backend should run.
type ServerConfig struct {
	Addr   string
	WSPath string

	// RetentionWindow is the maximum message age before pruning;
	// SweepInterval is how often the sweeper runs.
	RetentionWindow time.Duration
	SweepInterval   time.Duration

	// Per-connection inbound event limit per sliding window.
	EventLimit  int
	EventWindow time.Duration

	LogEnv   string // dev|prod
	LogDebug bool
}

// ClientConfig defines the parameters the terminal client needs.
type ClientConfig struct {
	ServerURL string
	Name      string
	Avatar    string
	Room      string
}

// fileConfig is the yaml shape of the optional config file. Durations are
// strings ("24h", "168h") parsed with time.ParseDuration.
type fileConfig struct {
	Addr      string `yaml:"addr"`
	WSPath    string `yaml:"wsPath"`
	Retention struct {
		Window        string `yaml:"window"`
		SweepInterval string `yaml:"sweepInterval"`
	} `yaml:"retention"`
	RateLimit struct {
		Burst  int    `yaml:"burst"`
		Window string `yaml:"window"`
	} `yaml:"rateLimit"`
	Logging struct {
		Env   string `yaml:"env"`
		Debug bool   `yaml:"debug"`
	} `yaml:"logging"`
}

// DefaultServerConfig mirrors the reference behavior: daily sweeps over a
// one-week retention window.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            ":8080",
		WSPath:          "/ws",
		RetentionWindow: 7 * 24 * time.Hour,
		SweepInterval:   24 * time.Hour,
		EventLimit:      30,
		EventWindow:     3 * time.Second,
		LogEnv:          "dev",
	}
}

// LoadServerConfig layers an optional yaml file and ROOMRELAY_* environment
// variables over the defaults. An empty path skips the file entirely.
func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		var fc fileConfig
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
		if fc.Addr != "" {
			cfg.Addr = fc.Addr
		}
		if fc.WSPath != "" {
			cfg.WSPath = fc.WSPath
		}
		cfg.RetentionWindow = parseDurationOr(cfg.RetentionWindow, fc.Retention.Window)
		cfg.SweepInterval = parseDurationOr(cfg.SweepInterval, fc.Retention.SweepInterval)
		if fc.RateLimit.Burst > 0 {
			cfg.EventLimit = fc.RateLimit.Burst
		}
		cfg.EventWindow = parseDurationOr(cfg.EventWindow, fc.RateLimit.Window)
		if fc.Logging.Env != "" {
			cfg.LogEnv = fc.Logging.Env
		}
		if fc.Logging.Debug {
			cfg.LogDebug = true
		}
	}

	if v := os.Getenv("ROOMRELAY_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("ROOMRELAY_WS_PATH"); v != "" {
		cfg.WSPath = v
	}
	cfg.RetentionWindow = parseDurationOr(cfg.RetentionWindow, os.Getenv("ROOMRELAY_RETENTION_WINDOW"))
	cfg.SweepInterval = parseDurationOr(cfg.SweepInterval, os.Getenv("ROOMRELAY_SWEEP_INTERVAL"))
	if v := os.Getenv("ROOMRELAY_LOG_ENV"); v != "" {
		cfg.LogEnv = v
	}

	cfg.WSPath = NormalizeWSPath(cfg.WSPath)
	return cfg, nil
}

// NormalizeWSPath guarantees the websocket path starts with '/' and falls
// back to /ws when empty.
func NormalizeWSPath(path string) string {
	if path == "" {
		return "/ws"
	}
	if path[0] != '/' {
		return "/" + path
	}
	return path
}

func parseDurationOr(def time.Duration, s string) time.Duration {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return def
}

// BuildLogger constructs the process logger for the configured environment.
func BuildLogger(env string, debug bool) (*zap.Logger, error) {
	var cfg zap.Config
	if env == "prod" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}
