package config

import (
	"bytes"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/permit-cli/internal/model"
	"github.com/sells-group/permit-cli/internal/resilience"
)

// Config holds the full application configuration.
type Config struct {
	Log         LogConfig                `yaml:"log" mapstructure:"log"`
	Store       StoreConfig              `yaml:"store" mapstructure:"store"`
	Health      HealthConfig             `yaml:"health" mapstructure:"health"`
	Fetch       FetchConfig              `yaml:"fetch" mapstructure:"fetch"`
	Retry       RetryConfig              `yaml:"retry" mapstructure:"retry"`
	Engine      EngineConfig             `yaml:"engine" mapstructure:"engine"`
	Scheduler   SchedulerConfig          `yaml:"scheduler" mapstructure:"scheduler"`
	Monitoring  MonitoringConfig         `yaml:"monitoring" mapstructure:"monitoring"`
	Server      ServerConfig             `yaml:"server" mapstructure:"server"`
	Warehouse   WarehouseConfig          `yaml:"warehouse" mapstructure:"warehouse"`
	SourcesFile string                   `yaml:"sources_file" mapstructure:"sources_file"`
	Sources     []model.SourceDescriptor `yaml:"sources" mapstructure:"sources"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// StoreConfig configures where snapshots are persisted.
type StoreConfig struct {
	Backend string   `yaml:"backend" mapstructure:"backend"` // local or s3
	Root    string   `yaml:"root" mapstructure:"root"`
	Format  string   `yaml:"format" mapstructure:"format"` // csv or xlsx
	S3      S3Config `yaml:"s3" mapstructure:"s3"`
}

// S3Config holds S3-compatible object storage settings.
type S3Config struct {
	Endpoint        string `yaml:"endpoint" mapstructure:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" mapstructure:"secret_access_key"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	Region          string `yaml:"region" mapstructure:"region"`
	Prefix          string `yaml:"prefix" mapstructure:"prefix"`
	UseSSL          bool   `yaml:"use_ssl" mapstructure:"use_ssl"`
}

// HealthConfig configures the health log.
type HealthConfig struct {
	Backend string        `yaml:"backend" mapstructure:"backend"` // file, sqlite or postgres
	Dir     string        `yaml:"dir" mapstructure:"dir"`
	DSN     string        `yaml:"dsn" mapstructure:"dsn"`
	Window  time.Duration `yaml:"window" mapstructure:"window"`
}

// FetchConfig configures outbound fetching.
type FetchConfig struct {
	Timeout     time.Duration      `yaml:"timeout" mapstructure:"timeout"`
	UserAgent   string             `yaml:"user_agent" mapstructure:"user_agent"`
	DefaultRate float64            `yaml:"default_rate" mapstructure:"default_rate"`
	HostRates   map[string]float64 `yaml:"host_rates" mapstructure:"host_rates"`
	MaxRecords  int                `yaml:"max_records" mapstructure:"max_records"`
	DaysBack    int                `yaml:"days_back" mapstructure:"days_back"`
	FTPUser     string             `yaml:"ftp_user" mapstructure:"ftp_user"`
	FTPPassword string             `yaml:"ftp_password" mapstructure:"ftp_password"`
}

// RetryConfig is the base retry policy applied to every source.
type RetryConfig struct {
	MaxRetries    int           `yaml:"max_retries" mapstructure:"max_retries"`
	InitialDelay  time.Duration `yaml:"initial_delay" mapstructure:"initial_delay"`
	BackoffFactor float64       `yaml:"backoff_factor" mapstructure:"backoff_factor"`
	MaxDelay      time.Duration `yaml:"max_delay" mapstructure:"max_delay"`
}

// EngineConfig configures cycle execution.
type EngineConfig struct {
	Concurrency   int           `yaml:"concurrency" mapstructure:"concurrency"`
	SourceTimeout time.Duration `yaml:"source_timeout" mapstructure:"source_timeout"`
}

// SchedulerConfig configures the daily trigger.
type SchedulerConfig struct {
	Spec      string        `yaml:"spec" mapstructure:"spec"`
	Timezone  string        `yaml:"timezone" mapstructure:"timezone"`
	MaxJitter time.Duration `yaml:"max_jitter" mapstructure:"max_jitter"`
}

// MonitoringConfig configures health alerting.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
}

// ServerConfig configures the admin HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// WarehouseConfig configures the optional Postgres mirror.
type WarehouseConfig struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// Load reads configuration from file and environment. An empty path searches
// the working directory for config.yaml. Inline sources are decoded by viper,
// which lowercases map keys; descriptors with case-sensitive headers or form
// fields belong in sources_file.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("PERMIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("store.backend", "local")
	v.SetDefault("store.root", "data")
	v.SetDefault("store.format", "csv")
	v.SetDefault("store.s3.region", "us-east-1")
	v.SetDefault("store.s3.use_ssl", true)
	v.SetDefault("health.backend", "file")
	v.SetDefault("health.dir", "health")
	v.SetDefault("health.dsn", "health.db")
	v.SetDefault("health.window", "48h")
	v.SetDefault("fetch.timeout", "30s")
	v.SetDefault("fetch.default_rate", 5.0)
	v.SetDefault("fetch.max_records", 5000)
	v.SetDefault("fetch.days_back", 90)
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.initial_delay", "2s")
	v.SetDefault("retry.backoff_factor", 2.0)
	v.SetDefault("engine.concurrency", 5)
	v.SetDefault("engine.source_timeout", "5m")
	v.SetDefault("scheduler.spec", "0 5 * * *")
	v.SetDefault("scheduler.timezone", "America/Chicago")
	v.SetDefault("scheduler.max_jitter", "30m")
	v.SetDefault("monitoring.check_interval_secs", 3600)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("server.port", 8080)
	v.SetDefault("warehouse.max_conns", 4)

	// Read config file (optional unless named explicitly)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if cfg.SourcesFile != "" {
		extra, err := LoadSources(cfg.SourcesFile)
		if err != nil {
			return nil, err
		}
		cfg.Sources = append(cfg.Sources, extra...)
	}

	if err := ValidateSources(cfg.Sources); err != nil {
		return nil, err
	}

	return &cfg, nil
}

type sourcesFile struct {
	Sources []model.SourceDescriptor `yaml:"sources"`
}

// LoadSources decodes source descriptors from a YAML file. Unknown fields are
// rejected.
func LoadSources(path string) ([]model.SourceDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, resilience.NewError(resilience.KindPermanent, "config: read sources file", err)
	}
	return ParseSources(data)
}

// ParseSources decodes source descriptors from YAML.
func ParseSources(data []byte) ([]model.SourceDescriptor, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f sourcesFile
	if err := dec.Decode(&f); err != nil {
		return nil, resilience.NewError(resilience.KindPermanent, "config: decode sources", err)
	}
	return f.Sources, nil
}

// ValidateSources checks every descriptor and rejects duplicate ids.
func ValidateSources(descs []model.SourceDescriptor) error {
	seen := make(map[string]bool, len(descs))
	for _, d := range descs {
		if err := d.Validate(); err != nil {
			return resilience.NewError(resilience.KindPermanent, "config: invalid source", err)
		}
		if seen[d.ID] {
			return resilience.Errorf(resilience.KindPermanent, "config: invalid source", "duplicate source id %q", d.ID)
		}
		seen[d.ID] = true
	}
	return nil
}

// Policy returns the base retry policy.
func (r RetryConfig) Policy() resilience.Policy {
	p := resilience.DefaultPolicy()
	p.MaxRetries = r.MaxRetries
	if r.InitialDelay > 0 {
		p.InitialDelay = r.InitialDelay
	}
	if r.BackoffFactor > 0 {
		p.BackoffFactor = r.BackoffFactor
	}
	p.MaxDelay = r.MaxDelay
	return p
}

// Location resolves the scheduler timezone.
func (s SchedulerConfig) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, eris.Wrapf(err, "config: load timezone %q", s.Timezone)
	}
	return loc, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
