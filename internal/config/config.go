package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr string          `yaml:"listen_addr"`
	APIKey     string          `yaml:"api_key"`
	DB         DBConfig        `yaml:"db"`
	Cache      CacheConfig     `yaml:"cache"`
	Engine     EngineConfig    `yaml:"engine"`
	Snapshot   SnapshotConfig  `yaml:"snapshot"`
	Guardrail  GuardrailConfig `yaml:"guardrail"`
	Assurance  AssuranceConfig `yaml:"assurance"`
	Logging    LoggingConfig   `yaml:"logging"`
}

type DBConfig struct {
	Driver string `yaml:"driver"` // memory | sqlite
	DSN    string `yaml:"dsn"`
}

type CacheConfig struct {
	Backend      string        `yaml:"backend"` // memory | valkey
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	TLS          bool          `yaml:"tls"`
}

type EngineConfig struct {
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

type SnapshotConfig struct {
	TTL     time.Duration `yaml:"ttl"`
	LockTTL time.Duration `yaml:"lock_ttl"`
}

type GuardrailConfig struct {
	CircuitThreshold   int     `yaml:"circuit_threshold"`
	RefusalRateAlert   float64 `yaml:"refusal_rate_alert"`
	RefusalRateMinimum int     `yaml:"refusal_rate_minimum"`
	TopicWindow        int     `yaml:"topic_window"`
	BreakdownMaxTopics int     `yaml:"breakdown_max_topics"`
}

type AssuranceConfig struct {
	ConfidenceFloor float64 `yaml:"confidence_floor"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(path string) (Config, error) {
	// #nosec G304 -- path is operator-provided config path.
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	expanded := os.ExpandEnv(string(raw))
	expanded = strings.ReplaceAll(expanded, "\r\n", "\n")

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Default returns the configuration used when a field is absent from the
// YAML file.
func Default() Config {
	return Config{
		ListenAddr: ":8080",
		DB:         DBConfig{Driver: "memory"},
		Cache:      CacheConfig{Backend: "memory"},
		Engine: EngineConfig{
			BaseURL: "https://generativelanguage.googleapis.com/v1beta",
			Model:   "gemini-2.0-flash",
			Timeout: 30 * time.Second,
		},
		Snapshot: SnapshotConfig{
			TTL:     6 * time.Hour,
			LockTTL: 30 * time.Second,
		},
		Guardrail: GuardrailConfig{
			CircuitThreshold:   5,
			RefusalRateAlert:   0.5,
			RefusalRateMinimum: 10,
			TopicWindow:        500,
			BreakdownMaxTopics: 200,
		},
		Assurance: AssuranceConfig{ConfidenceFloor: 0.6},
		Logging:   LoggingConfig{Level: "info", Format: "json"},
	}
}

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}

	switch c.DB.Driver {
	case "", "memory":
	case "sqlite":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required when db.driver is sqlite")
		}
	default:
		return fmt.Errorf("unknown db.driver %q", c.DB.Driver)
	}

	switch c.Cache.Backend {
	case "", "memory":
	case "valkey":
		if c.Cache.Addr == "" {
			return fmt.Errorf("cache.addr is required when cache.backend is valkey")
		}
	default:
		return fmt.Errorf("unknown cache.backend %q", c.Cache.Backend)
	}

	if c.Snapshot.LockTTL <= 0 {
		return fmt.Errorf("snapshot.lock_ttl must be positive")
	}
	if c.Snapshot.TTL <= 0 {
		return fmt.Errorf("snapshot.ttl must be positive")
	}
	if c.Guardrail.CircuitThreshold <= 0 {
		return fmt.Errorf("guardrail.circuit_threshold must be positive")
	}
	if c.Assurance.ConfidenceFloor < 0 || c.Assurance.ConfidenceFloor > 1 {
		return fmt.Errorf("assurance.confidence_floor must be in [0,1]")
	}

	return nil
}
