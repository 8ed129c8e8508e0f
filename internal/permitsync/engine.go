// Package permitsync runs acquisition cycles: every selected source is
// fetched, cleaned, persisted and recorded in the health log, with the
// fallback chain standing in for sources whose live fetch fails.
package permitsync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/permit-cli/internal/dedup"
	"github.com/sells-group/permit-cli/internal/fallback"
	"github.com/sells-group/permit-cli/internal/health"
	"github.com/sells-group/permit-cli/internal/model"
	"github.com/sells-group/permit-cli/internal/resilience"
	"github.com/sells-group/permit-cli/internal/validate"
)

// Defaults for Options.
const (
	DefaultConcurrency   = 5
	DefaultSourceTimeout = 5 * time.Minute
)

// Store persists snapshots and exposes the history the fallback chain reads.
type Store interface {
	Write(ctx context.Context, source string, date time.Time, records []model.Record, tier model.Outcome, liveErr string) (string, error)
	fallback.Snapshots
}

// HealthRecorder receives one entry per source per cycle.
type HealthRecorder interface {
	RecordSuccess(ctx context.Context, source string, count int) error
	RecordFailure(ctx context.Context, source, detail string) error
}

// Mirror copies successfully fetched records to a secondary store.
type Mirror interface {
	Mirror(ctx context.Context, source string, date time.Time, tier model.Outcome, records []model.Record) error
}

// Options tunes an Engine.
type Options struct {
	Concurrency   int
	SourceTimeout time.Duration
	MaxRecords    int
	DaysBack      int
	Validator     *validate.Validator
	Now           func() time.Time
}

// Engine runs acquisition cycles over a Registry.
type Engine struct {
	reg    *Registry
	store  Store
	health HealthRecorder
	mirror Mirror
	chain  *fallback.Chain
	opts   Options

	// inflight holds one run per source id; overlapping callers share it.
	inflight singleflight.Group
}

// RunOpts selects the sources of one cycle. Empty Sources means all.
type RunOpts struct {
	Sources []string
}

// NewEngine creates an Engine. mirror may be nil.
func NewEngine(reg *Registry, store Store, hr HealthRecorder, mirror Mirror, opts Options) *Engine {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.SourceTimeout <= 0 {
		opts.SourceTimeout = DefaultSourceTimeout
	}
	if opts.Validator == nil {
		opts.Validator = validate.New(nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		reg:    reg,
		store:  store,
		health: hr,
		mirror: mirror,
		chain:  fallback.NewChain(store),
		opts:   opts,
	}
}

// Registry returns the engine's source registry.
func (e *Engine) Registry() *Registry { return e.reg }

// RunSource runs a cycle for a single source.
func (e *Engine) RunSource(ctx context.Context, id string) (*model.Summary, error) {
	return e.RunCycle(ctx, RunOpts{Sources: []string{id}})
}

// RunCycle runs every selected source once and returns one RunResult per
// source, in registry order. A failing or panicking source never affects the
// others; the only error is an unknown source id.
func (e *Engine) RunCycle(ctx context.Context, opts RunOpts) (*model.Summary, error) {
	sources, err := e.reg.Select(opts.Sources)
	if err != nil {
		return nil, err
	}

	start := e.opts.Now()
	date := model.TruncateDay(start)
	summary := &model.Summary{
		CycleID:   uuid.New().String(),
		StartedAt: start.UTC(),
		Results:   make([]model.RunResult, len(sources)),
	}
	log := zap.L().With(zap.String("component", "permitsync.engine"), zap.String("cycle_id", summary.CycleID))
	log.Info("cycle started", zap.Int("sources", len(sources)), zap.String("date", date.Format(model.DateLayout)))

	var g errgroup.Group
	g.SetLimit(e.opts.Concurrency)
	for i, src := range sources {
		g.Go(func() error {
			summary.Results[i] = e.runShared(ctx, log, src, date)
			return nil
		})
	}
	_ = g.Wait()

	summary.Elapsed = time.Since(start)
	counts := summary.Counts()
	log.Info("cycle complete",
		zap.Int(string(model.OutcomeSuccess), counts[model.OutcomeSuccess]),
		zap.Int(string(model.OutcomeFallbackHistorical), counts[model.OutcomeFallbackHistorical]),
		zap.Int(string(model.OutcomeFallbackSynthetic), counts[model.OutcomeFallbackSynthetic]),
		zap.Int(string(model.OutcomeFailed), counts[model.OutcomeFailed]),
		zap.Duration("elapsed", summary.Elapsed),
	)
	return summary, nil
}

// runShared runs src unless a run of the same source is already in flight,
// in which case it waits for that run and reports its result. Two runs of
// one source never write its snapshot concurrently.
func (e *Engine) runShared(ctx context.Context, log *zap.Logger, src *Source, date time.Time) model.RunResult {
	v, _, shared := e.inflight.Do(src.ID(), func() (any, error) {
		return e.runSource(ctx, log, src, date), nil
	})
	if shared {
		log.Info("joined in-flight run", zap.String("source", src.ID()))
	}
	return v.(model.RunResult)
}

// runSource is the per-source boundary: any panic outside the live fetch
// turns into a failed result.
func (e *Engine) runSource(ctx context.Context, cycleLog *zap.Logger, src *Source, date time.Time) (res model.RunResult) {
	log := cycleLog.With(zap.String("source", src.ID()))
	start := time.Now()
	res = model.RunResult{Source: src.ID()}
	hr := &runHealth{rec: e.health}

	defer func() {
		if r := recover(); r != nil {
			log.Error("source panicked", zap.Any("panic", r), zap.Stack("stack"))
			res.Outcome = model.OutcomeFailed
			res.ErrorClass = string(resilience.ClassPermanent)
			res.Error = health.Truncate(fmt.Sprintf("panic: %v", r))
			if !hr.done {
				hr.failureAfterPanic(ctx, log, src.ID(), res.Error)
			}
		}
		res.Elapsed = time.Since(start)
		log.Info("source finished",
			zap.String("outcome", string(res.Outcome)),
			zap.String("path", res.Path()),
			zap.Int("records", res.Records),
			zap.Int("attempts", res.Attempts),
			zap.Duration("elapsed", res.Elapsed),
		)
	}()

	records, attempts, liveErr := e.fetchLive(ctx, src)
	res.Attempts = attempts

	var failure string
	if liveErr != nil {
		res.Live = model.LiveFailed
		res.ErrorClass = string(resilience.ClassOf(liveErr))
		res.Error = health.Truncate(liveErr.Error())
		failure = liveErr.Error()
		log.Warn("live fetch failed", zap.Int("attempts", attempts), zap.Error(liveErr))
	} else {
		fetched := len(records)
		records, res.Duplicates = dedup.New().Filter(records)
		records, res.Rejected = e.opts.Validator.FilterRecords(records, src.Desc.Jurisdiction)
		if len(records) > 0 {
			res.Live = model.LiveOK
			return e.persistLive(ctx, log, hr, src, date, records, res)
		}
		res.Live = model.LiveEmpty
		res.ErrorClass = string(resilience.ClassDataQuality)
		failure = fmt.Sprintf("no usable records (fetched %d, duplicates %d, rejected %d)", fetched, res.Duplicates, res.Rejected)
		res.Error = failure
		log.Warn("live fetch produced no usable records",
			zap.Int("fetched", fetched),
			zap.Int("duplicates", res.Duplicates),
			zap.Int("rejected", res.Rejected),
		)
	}

	return e.persistFallback(ctx, log, hr, src, date, failure, res)
}

// fetchLive runs the adapter under the retry policy and the per-source
// timeout. A panic inside the adapter becomes a transient error.
func (e *Engine) fetchLive(ctx context.Context, src *Source) (records []model.Record, attempts int, err error) {
	srcCtx, cancel := context.WithTimeout(ctx, e.opts.SourceTimeout)
	defer cancel()

	policy := src.Policy
	if policy.OnRetry == nil {
		policy.OnRetry = resilience.RetryLogger(src.ID())
	}

	records, err = resilience.ExecuteVal(srcCtx, policy, func(ctx context.Context) (recs []model.Record, err error) {
		attempts++
		defer func() {
			if r := recover(); r != nil {
				err = resilience.Errorf(resilience.KindTransient, "permitsync: fetch "+src.ID(), "adapter panic: %v", r)
			}
		}()
		return src.Adapter.Fetch(ctx, e.opts.MaxRecords, e.opts.DaysBack)
	})
	return records, attempts, err
}

func (e *Engine) persistLive(ctx context.Context, log *zap.Logger, hr *runHealth, src *Source, date time.Time, records []model.Record, res model.RunResult) model.RunResult {
	key, err := e.store.Write(ctx, src.ID(), date, records, model.OutcomeSuccess, "")
	if err != nil {
		log.Error("persist failed", zap.Error(err))
		res.Outcome = model.OutcomeFailed
		res.ErrorClass = string(resilience.ClassOf(err))
		res.Error = health.Truncate(err.Error())
		hr.failure(ctx, log, src.ID(), "persist: "+err.Error())
		return res
	}

	res.Outcome = model.OutcomeSuccess
	res.Records = len(records)
	res.SnapshotKey = key

	hr.success(ctx, log, src.ID(), len(records))
	if e.mirror != nil {
		if err := e.mirror.Mirror(ctx, src.ID(), date, model.OutcomeSuccess, records); err != nil {
			log.Warn("mirror failed", zap.Error(err))
		}
	}
	return res
}

func (e *Engine) persistFallback(ctx context.Context, log *zap.Logger, hr *runHealth, src *Source, date time.Time, failure string, res model.RunResult) model.RunResult {
	fb := e.chain.Run(ctx, src.Desc, date)
	res.Outcome = fb.Outcome
	res.Records = len(fb.Records)

	// A same-day historical snapshot is already in place.
	if fb.Snapshot != nil && fb.Snapshot.Date.Equal(date) {
		res.SnapshotKey = fb.Snapshot.Key
	} else {
		key, err := e.store.Write(ctx, src.ID(), date, fb.Records, fb.Outcome, health.Truncate(failure))
		if err != nil {
			log.Error("persist fallback failed", zap.Error(err))
			res.Outcome = model.OutcomeFailed
			res.Records = 0
			failure += "; persist: " + err.Error()
		} else {
			res.SnapshotKey = key
		}
	}

	hr.failure(ctx, log, src.ID(), failure)
	return res
}

// runHealth writes at most one health entry for a source run. Tracker errors
// are logged and never change the run's outcome.
type runHealth struct {
	rec  HealthRecorder
	done bool
}

func (h *runHealth) success(ctx context.Context, log *zap.Logger, source string, count int) {
	h.done = true
	if err := h.rec.RecordSuccess(ctx, source, count); err != nil {
		log.Warn("health: record success failed", zap.Error(err))
	}
}

func (h *runHealth) failure(ctx context.Context, log *zap.Logger, source, detail string) {
	h.done = true
	if err := h.rec.RecordFailure(ctx, source, detail); err != nil {
		log.Warn("health: record failure failed", zap.Error(err))
	}
}

// failureAfterPanic records a failure from inside a recover; a second panic
// from the recorder is swallowed.
func (h *runHealth) failureAfterPanic(ctx context.Context, log *zap.Logger, source, detail string) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("health: recorder panicked", zap.Any("panic", r))
		}
	}()
	h.failure(ctx, log, source, detail)
}
