// Package config loads and validates the pipeline daemon's runtime
// configuration: YAML with defaults applied to zero-valued fields,
// environment-variable overrides, and a fail-fast validation pass.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v2"

	"entryproc/pkg/tracing"
)

// Config is the top-level configuration document.
type Config struct {
	App      AppConfig      `yaml:"app"`
	Server   ServerConfig   `yaml:"server"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Journal  JournalConfig  `yaml:"journal"`
	Scanner  ScannerConfig  `yaml:"scanner"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Policy   PolicyConfig   `yaml:"policy"`
	Alerting AlertingConfig `yaml:"alerting"`
	Tracing  tracing.Config `yaml:"tracing"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
}

// ServerConfig controls the admin HTTP surface (/healthz, /metrics,
// /stats, /scan).
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type CatalogConfig struct {
	Path string `yaml:"path"`
	// OpenTimeout is a time.ParseDuration string, e.g. "5s".
	OpenTimeout string `yaml:"open_timeout"`
}

// JournalConfig selects and configures the change-journal source. Source
// is either "kafka" or "tail"; only the matching section needs filling in.
type JournalConfig struct {
	Source string             `yaml:"source"`
	Kafka  KafkaJournalConfig `yaml:"kafka"`
	Tail   TailJournalConfig  `yaml:"tail"`
}

type KafkaJournalConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
	TLS     bool     `yaml:"tls"`
	// DialTimeout is a time.ParseDuration string, e.g. "10s".
	DialTimeout string          `yaml:"dial_timeout"`
	Auth        KafkaAuthConfig `yaml:"auth"`
}

type KafkaAuthConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	Mechanism string `yaml:"mechanism"`
}

type TailJournalConfig struct {
	Dir  string `yaml:"dir"`
	Poll bool   `yaml:"poll"`
}

type ScannerConfig struct {
	Root string `yaml:"root"`
	// Interval is a time.ParseDuration string, e.g. "15m".
	Interval       string  `yaml:"interval"`
	MaxLoadAverage float64 `yaml:"max_load_average"`
}

// StageConfig is the YAML shape of one pipeline stage's scheduling
// policy; Mode is translated into pipeline.ConcurrencyMode by internal/app.
type StageConfig struct {
	Mode       string `yaml:"mode"`
	MaxWorkers int    `yaml:"max_workers"`
	QueueSize  int    `yaml:"queue_size"`
	Async      bool   `yaml:"async"`
}

type PipelineConfig struct {
	GetID       StageConfig   `yaml:"get_id"`
	GetInfoDB   StageConfig   `yaml:"get_info_db"`
	GetInfoFS   StageConfig   `yaml:"get_info_fs"`
	Reporting   StageConfig   `yaml:"reporting"`
	DbApply     StageConfig   `yaml:"db_apply"`
	JournalAck  StageConfig   `yaml:"journal_ack"`
	NoHSMRemove bool          `yaml:"no_hsm_remove"`
	// DeferredRemoveDelay is a time.ParseDuration string: SOFT_REMOVE sets
	// a row's removal deadline to record.time plus this delay.
	DeferredRemoveDelay string        `yaml:"deferred_remove_delay"`
	Breaker             BreakerConfig `yaml:"circuit_breaker"`
}

type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold"`
	SuccessThreshold int `yaml:"success_threshold"`
	// Timeout and ResetTimeout are time.ParseDuration strings, e.g. "60s".
	Timeout          string `yaml:"timeout"`
	HalfOpenMaxCalls int    `yaml:"half_open_max_calls"`
	ResetTimeout     string `yaml:"reset_timeout"`
}

// PolicyConfig carries the flat field-comparison rules GET_INFO_FS
// evaluates for release/archive class matching. The rule language itself
// stays out of scope; this is just enough structure to drive the
// configured internal/policy.Matcher.
type PolicyConfig struct {
	Rules []PolicyRule `yaml:"rules"`
}

type PolicyRule struct {
	Name         string            `yaml:"name"`
	ReleaseClass string            `yaml:"release_class"`
	ArchiveClass string            `yaml:"archive_class"`
	Conditions   []PolicyCondition `yaml:"conditions"`
}

type PolicyCondition struct {
	Field string `yaml:"field"`
	Op    string `yaml:"op"`
	Value string `yaml:"value"`
}

// AlertingConfig selects and configures REPORTING's alert sink. Sink is
// "kafka" or "local"; "local" is also used as the automatic fallback when
// the Kafka sink is configured but unreachable.
type AlertingConfig struct {
	Sink  string           `yaml:"sink"`
	Kafka KafkaAlertConfig `yaml:"kafka"`
	Local LocalAlertConfig `yaml:"local"`
}

type KafkaAlertConfig struct {
	Brokers     []string `yaml:"brokers"`
	Topic       string   `yaml:"topic"`
	Compression string   `yaml:"compression"`
}

type LocalAlertConfig struct {
	Path string `yaml:"path"`
}

// Load reads configFile (if non-empty), applies defaults to anything left
// zero-valued, applies environment overrides, and validates the result.
func Load(configFile string) (*Config, error) {
	cfg := &Config{}

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configFile, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", configFile, err)
		}
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "entryproc"
	}
	if cfg.App.Environment == "" {
		cfg.App.Environment = "production"
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = "info"
	}
	if cfg.App.LogFormat == "" {
		cfg.App.LogFormat = "json"
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}

	if cfg.Catalog.Path == "" {
		cfg.Catalog.Path = "/var/lib/entryproc/catalog.db"
	}
	if cfg.Catalog.OpenTimeout == "" {
		cfg.Catalog.OpenTimeout = "5s"
	}

	if cfg.Journal.Source == "" {
		cfg.Journal.Source = "tail"
	}
	if cfg.Journal.Kafka.GroupID == "" {
		cfg.Journal.Kafka.GroupID = "entryproc-pipeline"
	}
	if cfg.Journal.Kafka.DialTimeout == "" {
		cfg.Journal.Kafka.DialTimeout = "10s"
	}
	if cfg.Journal.Kafka.Auth.Mechanism == "" {
		cfg.Journal.Kafka.Auth.Mechanism = "PLAIN"
	}
	if cfg.Journal.Tail.Dir == "" {
		cfg.Journal.Tail.Dir = "/var/spool/entryproc/journal"
	}

	if cfg.Scanner.Root == "" {
		cfg.Scanner.Root = "/mnt/hsm"
	}
	if cfg.Scanner.Interval == "" {
		cfg.Scanner.Interval = "15m"
	}

	applyStageDefaults(&cfg.Pipeline.GetID, "max_threads", 8, 512)
	applyStageDefaults(&cfg.Pipeline.GetInfoDB, "id_constraint", 8, 512)
	applyStageDefaults(&cfg.Pipeline.GetInfoFS, "max_threads", 8, 512)
	applyStageDefaults(&cfg.Pipeline.Reporting, "max_threads", 2, 256)
	cfg.Pipeline.Reporting.Async = true
	applyStageDefaults(&cfg.Pipeline.DbApply, "max_threads", 4, 512)
	applyStageDefaults(&cfg.Pipeline.JournalAck, "sequential", 1, 1024)
	if cfg.Pipeline.DeferredRemoveDelay == "" {
		cfg.Pipeline.DeferredRemoveDelay = "72h"
	}

	if cfg.Pipeline.Breaker.FailureThreshold == 0 {
		cfg.Pipeline.Breaker.FailureThreshold = 5
	}
	if cfg.Pipeline.Breaker.SuccessThreshold == 0 {
		cfg.Pipeline.Breaker.SuccessThreshold = 3
	}
	if cfg.Pipeline.Breaker.Timeout == "" {
		cfg.Pipeline.Breaker.Timeout = "60s"
	}
	if cfg.Pipeline.Breaker.HalfOpenMaxCalls == 0 {
		cfg.Pipeline.Breaker.HalfOpenMaxCalls = 10
	}
	if cfg.Pipeline.Breaker.ResetTimeout == "" {
		cfg.Pipeline.Breaker.ResetTimeout = "10m"
	}

	if cfg.Alerting.Sink == "" {
		cfg.Alerting.Sink = "local"
	}
	if cfg.Alerting.Local.Path == "" {
		cfg.Alerting.Local.Path = "/var/lib/entryproc/alerts.log"
	}
	if cfg.Alerting.Kafka.Compression == "" {
		cfg.Alerting.Kafka.Compression = "none"
	}

	if cfg.Tracing.ServiceName == "" {
		defaults := tracing.DefaultConfig()
		enabled := cfg.Tracing.Enabled
		cfg.Tracing = defaults
		cfg.Tracing.Enabled = enabled
	}
	if cfg.Tracing.Headers == nil {
		cfg.Tracing.Headers = make(map[string]string)
	}
}

func applyStageDefaults(s *StageConfig, mode string, workers, queue int) {
	if s.Mode == "" {
		s.Mode = mode
	}
	if s.MaxWorkers == 0 {
		s.MaxWorkers = workers
	}
	if s.QueueSize == 0 {
		s.QueueSize = queue
	}
}

func applyEnvOverrides(cfg *Config) {
	cfg.App.LogLevel = getEnvString("ENTRYPROC_LOG_LEVEL", cfg.App.LogLevel)
	cfg.App.LogFormat = getEnvString("ENTRYPROC_LOG_FORMAT", cfg.App.LogFormat)
	cfg.App.Environment = getEnvString("ENTRYPROC_ENVIRONMENT", cfg.App.Environment)

	cfg.Server.Enabled = getEnvBool("ENTRYPROC_SERVER_ENABLED", cfg.Server.Enabled)
	cfg.Server.Host = getEnvString("ENTRYPROC_SERVER_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("ENTRYPROC_SERVER_PORT", cfg.Server.Port)

	cfg.Metrics.Enabled = getEnvBool("ENTRYPROC_METRICS_ENABLED", cfg.Metrics.Enabled)
	cfg.Metrics.Addr = getEnvString("ENTRYPROC_METRICS_ADDR", cfg.Metrics.Addr)

	cfg.Catalog.Path = getEnvString("ENTRYPROC_CATALOG_PATH", cfg.Catalog.Path)

	cfg.Journal.Source = getEnvString("ENTRYPROC_JOURNAL_SOURCE", cfg.Journal.Source)
	cfg.Journal.Kafka.GroupID = getEnvString("ENTRYPROC_KAFKA_GROUP_ID", cfg.Journal.Kafka.GroupID)
	cfg.Journal.Kafka.Auth.Password = getEnvString("ENTRYPROC_KAFKA_PASSWORD", cfg.Journal.Kafka.Auth.Password)

	cfg.Scanner.Root = getEnvString("ENTRYPROC_SCANNER_ROOT", cfg.Scanner.Root)

	cfg.Tracing.Enabled = getEnvBool("ENTRYPROC_TRACING_ENABLED", cfg.Tracing.Enabled)
	cfg.Tracing.Endpoint = getEnvString("ENTRYPROC_TRACING_ENDPOINT", cfg.Tracing.Endpoint)
}

func getEnvString(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return defaultValue
}
