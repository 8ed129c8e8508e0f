package config

import (
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
)

// Validate checks the settings a command mode depends on. Modes: run,
// schedule, serve, health, sources.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "sources":
	case "health":
		errs = append(errs, c.validateHealth()...)
	case "run":
		errs = append(errs, c.validateCycle()...)
	case "schedule":
		errs = append(errs, c.validateCycle()...)
		if _, err := cron.ParseStandard(c.Scheduler.Spec); err != nil {
			errs = append(errs, "scheduler.spec is invalid: "+err.Error())
		}
		if _, err := c.Scheduler.Location(); err != nil {
			errs = append(errs, "scheduler.timezone is invalid")
		}
		if c.Scheduler.MaxJitter < 0 {
			errs = append(errs, "scheduler.max_jitter must be >= 0")
		}
	case "serve":
		errs = append(errs, c.validateCycle()...)
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateCycle() []string {
	var errs []string
	errs = append(errs, c.validateHealth()...)

	switch c.Store.Backend {
	case "local":
		if c.Store.Root == "" {
			errs = append(errs, "store.root is required for the local backend")
		}
	case "s3":
		if c.Store.S3.Endpoint == "" {
			errs = append(errs, "store.s3.endpoint is required")
		}
		if c.Store.S3.Bucket == "" {
			errs = append(errs, "store.s3.bucket is required")
		}
	default:
		errs = append(errs, "store.backend must be local or s3")
	}

	switch c.Store.Format {
	case "csv", "xlsx":
	default:
		errs = append(errs, "store.format must be csv or xlsx")
	}

	if c.Engine.Concurrency < 1 || c.Engine.Concurrency > 50 {
		errs = append(errs, "engine.concurrency must be between 1 and 50")
	}
	if c.Retry.MaxRetries < 0 {
		errs = append(errs, "retry.max_retries must be >= 0")
	} else if c.Retry.BackoffFactor <= 1 {
		errs = append(errs, "retry.backoff_factor must be > 1")
	} else if err := c.Retry.Policy().Check(); err != nil {
		errs = append(errs, "retry: "+err.Error())
	}
	if c.Warehouse.Enabled && c.Warehouse.DatabaseURL == "" {
		errs = append(errs, "warehouse.database_url is required when the warehouse is enabled")
	}
	if len(c.Sources) == 0 {
		errs = append(errs, "at least one source is required")
	}
	return errs
}

func (c *Config) validateHealth() []string {
	switch c.Health.Backend {
	case "file":
		if c.Health.Dir == "" {
			return []string{"health.dir is required for the file backend"}
		}
	case "sqlite", "postgres":
		if c.Health.DSN == "" {
			return []string{"health.dsn is required for the " + c.Health.Backend + " backend"}
		}
	default:
		return []string{"health.backend must be file, sqlite or postgres"}
	}
	return nil
}
