// Package scheduler triggers acquisition cycles on a cron schedule, delaying
// each cycle by one random jitter so runs do not hit sources at the same
// minute every day.
package scheduler

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Defaults for Options.
const (
	DefaultSpec      = "0 5 * * *"
	DefaultMaxJitter = 30 * time.Minute
)

// Options configures a Scheduler.
type Options struct {
	Spec      string         // standard 5-field cron spec
	Location  *time.Location // default time.Local
	MaxJitter time.Duration  // jitter is drawn from [0, MaxJitter); negative disables

	// Jitter and Sleep are replaced in tests.
	Jitter func(max time.Duration) time.Duration
	Sleep  func(ctx context.Context, d time.Duration) error
}

// Scheduler runs a cycle function on a cron schedule.
type Scheduler struct {
	cron     *cron.Cron
	schedule cron.Schedule
	run      func(ctx context.Context)
	opts     Options
	log      *zap.Logger
}

// New creates a Scheduler that calls run once per trigger.
func New(run func(ctx context.Context), opts Options) (*Scheduler, error) {
	if opts.Spec == "" {
		opts.Spec = DefaultSpec
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.MaxJitter == 0 {
		opts.MaxJitter = DefaultMaxJitter
	}
	if opts.Jitter == nil {
		opts.Jitter = randomJitter
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}

	schedule, err := cron.ParseStandard(opts.Spec)
	if err != nil {
		return nil, eris.Wrapf(err, "scheduler: parse spec %q", opts.Spec)
	}

	log := zap.L().With(zap.String("component", "scheduler"))
	cl := cronLogger{log: log}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithLocation(opts.Location),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		schedule: schedule,
		run:      run,
		opts:     opts,
		log:      log,
	}, nil
}

// Next returns the next trigger time after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t.In(s.opts.Location))
}

// Run schedules cycles and blocks until ctx is done, then waits for a
// running cycle to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Schedule(s.schedule, cron.FuncJob(func() { s.Trigger(ctx) }))
	s.cron.Start()
	s.log.Info("scheduler started",
		zap.String("spec", s.opts.Spec),
		zap.String("location", s.opts.Location.String()),
		zap.Duration("max_jitter", s.opts.MaxJitter),
		zap.Time("next", s.Next(time.Now())),
	)

	<-ctx.Done()
	s.log.Info("scheduler stopping")
	<-s.cron.Stop().Done()
	return nil
}

// Trigger runs one scheduled cycle: wait a single jitter, then call run. A
// cancelled context during the wait skips the cycle.
func (s *Scheduler) Trigger(ctx context.Context) {
	var delay time.Duration
	if s.opts.MaxJitter > 0 {
		delay = s.opts.Jitter(s.opts.MaxJitter)
	}
	if delay > 0 {
		s.log.Info("cycle jitter", zap.Duration("delay", delay))
		if err := s.opts.Sleep(ctx, delay); err != nil {
			s.log.Info("cycle skipped", zap.Error(err))
			return
		}
	}
	s.run(ctx)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return rand.N(limit)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	log *zap.Logger
}

func (l cronLogger) fields(keysAndValues []any) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields = append(fields, zap.Any(fmt.Sprint(keysAndValues[i]), keysAndValues[i+1]))
	}
	return fields
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, l.fields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(l.fields(keysAndValues), zap.Error(err))...)
}
