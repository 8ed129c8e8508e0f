package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/permit-cli/internal/adapter"
	"github.com/sells-group/permit-cli/internal/config"
	"github.com/sells-group/permit-cli/internal/db"
	"github.com/sells-group/permit-cli/internal/fetcher"
	"github.com/sells-group/permit-cli/internal/health"
	"github.com/sells-group/permit-cli/internal/permitsync"
	"github.com/sells-group/permit-cli/internal/sink"
	"github.com/sells-group/permit-cli/internal/warehouse"
)

// cycleEnv holds everything the run/schedule/serve commands need.
type cycleEnv struct {
	Engine  *permitsync.Engine
	Tracker *health.Tracker
	Sink    *sink.Sink

	healthLog health.Log
	pools     []*pgxpool.Pool
}

// Close releases the health log and database pools.
func (e *cycleEnv) Close() {
	if e.healthLog != nil {
		_ = e.healthLog.Close()
	}
	for _, p := range e.pools {
		p.Close()
	}
}

// initCycle validates cfg for mode and builds the engine with its store,
// tracker, registry and optional warehouse mirror. Callers should defer
// env.Close().
func initCycle(ctx context.Context, mode string) (*cycleEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	env := &cycleEnv{}
	ok := false
	defer func() {
		if !ok {
			env.Close()
		}
	}()

	blobs, err := initBlobStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	snk, err := sink.New(blobs, sink.Options{Format: cfg.Store.Format})
	if err != nil {
		return nil, err
	}
	env.Sink = snk

	if err := initTracker(ctx, env); err != nil {
		return nil, err
	}

	httpFetcher := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:   cfg.Fetch.UserAgent,
		Timeout:     cfg.Fetch.Timeout,
		HostRates:   cfg.Fetch.HostRates,
		DefaultRate: cfg.Fetch.DefaultRate,
	})
	ftpFetcher := fetcher.NewFTPFetcher(fetcher.FTPOptions{
		Timeout:  cfg.Fetch.Timeout,
		User:     cfg.Fetch.FTPUser,
		Password: cfg.Fetch.FTPPassword,
	})
	deps := adapter.Deps{
		Fetcher:     &fetcher.Router{HTTP: httpFetcher, FTP: ftpFetcher},
		Limiters:    httpFetcher,
		HTTPTimeout: cfg.Fetch.Timeout,
		UserAgent:   cfg.Fetch.UserAgent,
	}

	reg, err := permitsync.BuildRegistry(cfg.Sources, deps, cfg.Retry.Policy())
	if err != nil {
		return nil, err
	}

	var mirror permitsync.Mirror
	if cfg.Warehouse.Enabled {
		pool, err := connectAndMigrate(ctx, cfg.Warehouse.DatabaseURL, cfg.Warehouse.MaxConns)
		if err != nil {
			return nil, eris.Wrap(err, "warehouse")
		}
		env.pools = append(env.pools, pool)
		mirror = warehouse.New(pool)
		zap.L().Info("warehouse mirror enabled")
	}

	env.Engine = permitsync.NewEngine(reg, snk, env.Tracker, mirror, permitsync.Options{
		Concurrency:   cfg.Engine.Concurrency,
		SourceTimeout: cfg.Engine.SourceTimeout,
		MaxRecords:    cfg.Fetch.MaxRecords,
		DaysBack:      cfg.Fetch.DaysBack,
	})

	ok = true
	return env, nil
}

// initHealthOnly builds just the tracker, for commands that only query health.
func initHealthOnly(ctx context.Context) (*cycleEnv, error) {
	if err := cfg.Validate("health"); err != nil {
		return nil, err
	}
	env := &cycleEnv{}
	if err := initTracker(ctx, env); err != nil {
		env.Close()
		return nil, err
	}
	return env, nil
}

func initTracker(ctx context.Context, env *cycleEnv) error {
	var log health.Log
	switch cfg.Health.Backend {
	case "sqlite":
		l, err := health.NewSQLiteLog(ctx, cfg.Health.DSN)
		if err != nil {
			return err
		}
		log = l
	case "postgres":
		pool, err := connectAndMigrate(ctx, cfg.Health.DSN, 2)
		if err != nil {
			return eris.Wrap(err, "health")
		}
		env.pools = append(env.pools, pool)
		log = health.NewPostgresLog(pool)
	default:
		l, err := health.NewFileLog(cfg.Health.Dir)
		if err != nil {
			return err
		}
		log = l
	}
	env.healthLog = log
	env.Tracker = health.NewTracker(log, health.TrackerOptions{Window: cfg.Health.Window})
	return nil
}

func initBlobStore(ctx context.Context, sc config.StoreConfig) (sink.BlobStore, error) {
	if sc.Backend != "s3" {
		local, err := sink.NewLocalStore(sc.Root)
		if err != nil {
			return nil, err
		}
		return local, nil
	}
	s3, err := sink.NewS3Store(sink.S3Options{
		Endpoint:        sc.S3.Endpoint,
		AccessKeyID:     sc.S3.AccessKeyID,
		SecretAccessKey: sc.S3.SecretAccessKey,
		Bucket:          sc.S3.Bucket,
		Region:          sc.S3.Region,
		Prefix:          sc.S3.Prefix,
		UseSSL:          sc.S3.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	if err := s3.EnsureBucket(ctx, sc.S3.Region); err != nil {
		return nil, err
	}
	return s3, nil
}

func connectAndMigrate(ctx context.Context, url string, maxConns int32) (*pgxpool.Pool, error) {
	pool, err := db.Connect(ctx, url, maxConns)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
