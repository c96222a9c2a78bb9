package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/guardrailstack/guardrail-monitor/internal/models"
)

// Config captures the settings required to run the monitor engine.
type Config struct {
	Server       Server              `yaml:"server"`
	Logging      Logging             `yaml:"logging"`
	Monitor      Monitor             `yaml:"monitor"`
	Probe        Probe               `yaml:"probe"`
	Environments []Environment       `yaml:"environments"`
	Gates        []models.GateSpec   `yaml:"gates"`
	Notifier     Notifier            `yaml:"notifier"`
	Rollback     Rollback            `yaml:"rollback"`
	Report       Report              `yaml:"report"`
}

// Server controls the status listener and metrics endpoint.
type Server struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// Logging controls structured logging.
type Logging struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Monitor controls the polling cadence shared by all sessions.
type Monitor struct {
	Window              time.Duration `yaml:"window"`
	BurnIn              time.Duration `yaml:"burnIn"`
	FastInterval        time.Duration `yaml:"fastInterval"`
	NormalInterval      time.Duration `yaml:"normalInterval"`
	HealthRetryCount    int           `yaml:"healthRetryCount"`
	HealthRetryInterval time.Duration `yaml:"healthRetryInterval"`
}

// Probe bounds health/metrics retrieval per request.
type Probe struct {
	Timeout time.Duration `yaml:"timeout"`
}

// Environment names one monitored deployment target.
type Environment struct {
	Name       string `yaml:"name"`
	HealthURL  string `yaml:"healthURL"`
	MetricsURL string `yaml:"metricsURL"`
}

// Notifier configures the operator webhook.
type Notifier struct {
	WebhookURL   string        `yaml:"webhookURL"`
	Timeout      time.Duration `yaml:"timeout"`
	FallbackPath string        `yaml:"fallbackPath"`
}

// Rollback configures backup discovery and the restore command.
type Rollback struct {
	BackupDir string        `yaml:"backupDir"`
	Command   string        `yaml:"command"`
	Args      []string      `yaml:"args"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Report controls where final session reports are written.
type Report struct {
	Dir string `yaml:"dir"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("GUARDRAIL_MONITOR_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects structurally broken configs before any session starts.
// Gate semantics are validated separately when the evaluator is built.
func (c *Config) Validate() error {
	if len(c.Environments) == 0 {
		return fmt.Errorf("at least one environment is required")
	}
	seen := make(map[string]struct{}, len(c.Environments))
	for _, env := range c.Environments {
		if env.Name == "" {
			return fmt.Errorf("environment with empty name")
		}
		if _, dup := seen[env.Name]; dup {
			return fmt.Errorf("environment %q: duplicate name", env.Name)
		}
		seen[env.Name] = struct{}{}
		if env.HealthURL == "" {
			return fmt.Errorf("environment %q: healthURL is required", env.Name)
		}
	}
	if c.Monitor.Window <= 0 {
		return fmt.Errorf("monitor window must be positive")
	}
	if c.Monitor.FastInterval <= 0 || c.Monitor.NormalInterval <= 0 {
		return fmt.Errorf("poll intervals must be positive")
	}
	if c.Monitor.BurnIn < 0 {
		return fmt.Errorf("burn-in must not be negative")
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server: Server{
			Address:         ":50051",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: Logging{Level: "info", JSON: false},
		Monitor: Monitor{
			Window:              30 * time.Minute,
			BurnIn:              5 * time.Minute,
			FastInterval:        15 * time.Second,
			NormalInterval:      60 * time.Second,
			HealthRetryCount:    5,
			HealthRetryInterval: 10 * time.Second,
		},
		Probe: Probe{Timeout: 5 * time.Second},
		Gates: DefaultGates(),
		Notifier: Notifier{
			Timeout:      5 * time.Second,
			FallbackPath: "notifications.log",
		},
		Rollback: Rollback{
			BackupDir: "backups",
			Timeout:   5 * time.Minute,
		},
		Report: Report{Dir: "reports"},
	}
}

// DefaultGates is the conservative gate pack used when the config file does
// not declare its own. Thresholds are deliberately configuration, not code.
func DefaultGates() []models.GateSpec {
	return []models.GateSpec{
		{
			Name:             "health-consecutive",
			Kind:             models.GateKindConsecutiveFailure,
			ConsecutiveLimit: 3,
			Action:           models.GateActionAutoRollback,
			Enabled:          true,
		},
		{
			Name:      "error-rate",
			Kind:      models.GateKindRateOverWindow,
			Metric:    "error_rate",
			Threshold: 5.0,
			Window:    10 * time.Minute,
			Action:    models.GateActionAutoRollback,
			Enabled:   true,
		},
		{
			Name:      "latency-p95",
			Kind:      models.GateKindPercentileOverWindow,
			Metric:    "latency_ms",
			Threshold: 500,
			Window:    10 * time.Minute,
			Action:    models.GateActionAlert,
			Enabled:   true,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GUARDRAIL_MONITOR_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("GUARDRAIL_MONITOR_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("GUARDRAIL_MONITOR_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("GUARDRAIL_MONITOR_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("GUARDRAIL_MONITOR_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Monitor.Window = d
		}
	}
	if v := os.Getenv("GUARDRAIL_MONITOR_BURN_IN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Monitor.BurnIn = d
		}
	}
	if v := os.Getenv("GUARDRAIL_MONITOR_FAST_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Monitor.FastInterval = d
		}
	}
	if v := os.Getenv("GUARDRAIL_MONITOR_NORMAL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Monitor.NormalInterval = d
		}
	}
	if v := os.Getenv("GUARDRAIL_MONITOR_HEALTH_RETRY_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Monitor.HealthRetryCount = n
		}
	}
	if v := os.Getenv("GUARDRAIL_MONITOR_HEALTH_RETRY_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Monitor.HealthRetryInterval = d
		}
	}
	if v := os.Getenv("GUARDRAIL_MONITOR_PROBE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Probe.Timeout = d
		}
	}
	if v := os.Getenv("GUARDRAIL_MONITOR_WEBHOOK_URL"); v != "" {
		cfg.Notifier.WebhookURL = v
	}
	if v := os.Getenv("GUARDRAIL_MONITOR_BACKUP_DIR"); v != "" {
		cfg.Rollback.BackupDir = v
	}
	if v := os.Getenv("GUARDRAIL_MONITOR_ROLLBACK_COMMAND"); v != "" {
		cfg.Rollback.Command = v
	}
	if v := os.Getenv("GUARDRAIL_MONITOR_ROLLBACK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Rollback.Timeout = d
		}
	}
	if v := os.Getenv("GUARDRAIL_MONITOR_REPORT_DIR"); v != "" {
		cfg.Report.Dir = v
	}
	if v := os.Getenv("GUARDRAIL_MONITOR_ENVIRONMENT"); v != "" {
		// Single-environment override for quick local runs.
		health := os.Getenv("GUARDRAIL_MONITOR_HEALTH_URL")
		metricsURL := os.Getenv("GUARDRAIL_MONITOR_METRICS_URL")
		if health != "" {
			cfg.Environments = []Environment{{Name: v, HealthURL: health, MetricsURL: metricsURL}}
		}
	}
}
