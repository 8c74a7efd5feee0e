package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "BOTGATE_CONFIG"

// DefaultConfigPaths lists where a config file is searched, first hit wins.
var DefaultConfigPaths = []string{
	"botgate.yaml",
	"botgate.yml",
	"/etc/botgate/config.yaml",
}

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Detector DetectorConfig `koanf:"detector"`
	Engine   EngineConfig   `koanf:"engine"`
	Collect  CollectConfig  `koanf:"collect"`
	Sinks    SinkConfig     `koanf:"sinks"`
	Metrics  MetricsConfig  `koanf:"metrics"`
}

type ServerConfig struct {
	Addr         string        `koanf:"addr"`
	TrustProxy   bool          `koanf:"trust_proxy"`
	MaxBodyBytes int64         `koanf:"max_body_bytes"`
	CORSOrigins  []string      `koanf:"cors_origins"`
	RateLimitRPS float64       `koanf:"rate_limit_rps"`
	RateBurst    int           `koanf:"rate_burst"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// DetectorConfig addresses the remote detection / clustering service.
type DetectorConfig struct {
	Endpoint       string        `koanf:"endpoint"`
	APIKey         string        `koanf:"api_key"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

type EngineConfig struct {
	ShortHorizon       time.Duration `koanf:"short_horizon"`
	MediumHorizon      time.Duration `koanf:"medium_horizon"`
	LongHorizon        time.Duration `koanf:"long_horizon"`
	WaitTimeout        time.Duration `koanf:"wait_timeout"`
	ChallengeThreshold float64       `koanf:"challenge_threshold"`
	BlockThreshold     float64       `koanf:"block_threshold"`
	ScheduleInterval   time.Duration `koanf:"schedule_interval"`
}

type CollectConfig struct {
	MaxRecentActions int           `koanf:"max_recent_actions"`
	SessionIdleTTL   time.Duration `koanf:"session_idle_ttl"`
}

type SinkConfig struct {
	// Enabled sinks: log, kafka, postgres.
	Outputs []string `koanf:"outputs"`

	KafkaBrokers []string `koanf:"kafka_brokers"`
	KafkaTopic   string   `koanf:"kafka_topic"`

	PostgresDSN       string        `koanf:"postgres_dsn"`
	PostgresBatchSize int           `koanf:"postgres_batch_size"`
	PostgresFlushIvl  time.Duration `koanf:"postgres_flush_interval"`
}

type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":19820",
			TrustProxy:   false,
			MaxBodyBytes: 1 << 20,
			CORSOrigins:  []string{"*"},
			RateLimitRPS: 50,
			RateBurst:    100,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Detector: DetectorConfig{
			Endpoint:       "http://localhost:8000",
			APIKey:         "",
			RequestTimeout: 10 * time.Second,
		},
		Engine: EngineConfig{
			ShortHorizon:       500 * time.Millisecond,
			MediumHorizon:      2 * time.Second,
			LongHorizon:        5 * time.Second,
			WaitTimeout:        5 * time.Second,
			ChallengeThreshold: 0.6,
			BlockThreshold:     0.85,
			ScheduleInterval:   5 * time.Second,
		},
		Collect: CollectConfig{
			MaxRecentActions: 120,
			SessionIdleTTL:   30 * time.Minute,
		},
		Sinks: SinkConfig{
			Outputs:           []string{"log"},
			KafkaBrokers:      []string{"localhost:9092"},
			KafkaTopic:        "botgate.audit",
			PostgresDSN:       "",
			PostgresBatchSize: 100,
			PostgresFlushIvl:  2 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9090",
		},
	}
}

// Load builds the effective configuration in three layers:
// built-in defaults, then an optional YAML file, then BOTGATE_* env vars.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	// BOTGATE_SERVER_ADDR -> server.addr, BOTGATE_ENGINE_WAIT_TIMEOUT ->
	// engine.wait_timeout. The first underscore separates the section.
	if err := k.Load(env.Provider("BOTGATE_", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("config env: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Engine.ChallengeThreshold < 0 || c.Engine.ChallengeThreshold > 1 {
		return fmt.Errorf("config: challenge_threshold %v out of [0,1]", c.Engine.ChallengeThreshold)
	}
	if c.Engine.BlockThreshold < 0 || c.Engine.BlockThreshold > 1 {
		return fmt.Errorf("config: block_threshold %v out of [0,1]", c.Engine.BlockThreshold)
	}
	if c.Engine.ChallengeThreshold > c.Engine.BlockThreshold {
		return fmt.Errorf("config: challenge_threshold %v exceeds block_threshold %v",
			c.Engine.ChallengeThreshold, c.Engine.BlockThreshold)
	}
	if c.Detector.Endpoint == "" {
		return fmt.Errorf("config: detector.endpoint is required")
	}
	for _, out := range c.Sinks.Outputs {
		switch out {
		case "log", "kafka", "postgres":
		default:
			return fmt.Errorf("config: unknown sink output %q", out)
		}
	}
	return nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, "BOTGATE_"))
	// Split on the first underscore only: section_rest -> section.rest.
	if i := strings.Index(key, "_"); i > 0 {
		return key[:i] + "." + key[i+1:]
	}
	return key
}
