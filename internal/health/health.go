// Package health keeps an append-only success/failure log per source and
// derives a healthy/unhealthy verdict from the time of the last success.
package health

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// Outcome of one logged run.
type Outcome string

// Logged outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// DefaultWindow is how long a source may go without a success before it is
// reported unhealthy.
const DefaultWindow = 48 * time.Hour

// MaxDetail is the longest failure detail kept in the log.
const MaxDetail = 100

// Record is one health log entry.
type Record struct {
	Source  string    `json:"source"`
	At      time.Time `json:"at"`
	Outcome Outcome   `json:"outcome"`
	Count   int       `json:"count,omitempty"`
	Detail  string    `json:"detail,omitempty"`
}

// Status is the derived health of a source.
type Status struct {
	Source      string     `json:"source"`
	Healthy     bool       `json:"healthy"`
	Detail      string     `json:"detail"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
}

// Log is an append-only store of health records.
type Log interface {
	Append(ctx context.Context, rec Record) error
	// LastSuccess returns the time of the newest success, or nil when the
	// source has none.
	LastSuccess(ctx context.Context, source string) (*time.Time, error)
	// History returns up to limit records, newest first.
	History(ctx context.Context, source string, limit int) ([]Record, error)
	Close() error
}

// TrackerOptions configures a Tracker.
type TrackerOptions struct {
	Window time.Duration
	Now    func() time.Time
}

// Tracker records run outcomes and answers health queries. Appends for the
// same source are serialized; different sources proceed independently.
type Tracker struct {
	log    Log
	window time.Duration
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewTracker creates a Tracker over log.
func NewTracker(log Log, opts TrackerOptions) *Tracker {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Tracker{
		log:    log,
		window: opts.Window,
		now:    opts.Now,
		locks:  make(map[string]*sync.Mutex),
	}
}

// Window returns the staleness window.
func (t *Tracker) Window() time.Duration { return t.window }

func (t *Tracker) sourceLock(source string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[source]
	if !ok {
		l = &sync.Mutex{}
		t.locks[source] = l
	}
	return l
}

func (t *Tracker) append(ctx context.Context, rec Record) error {
	if rec.Source == "" {
		return eris.New("health: source is required")
	}
	l := t.sourceLock(rec.Source)
	l.Lock()
	defer l.Unlock()
	if err := t.log.Append(ctx, rec); err != nil {
		return eris.Wrapf(err, "health: append %s for %s", rec.Outcome, rec.Source)
	}
	return nil
}

// RecordSuccess logs a successful run that produced count records.
func (t *Tracker) RecordSuccess(ctx context.Context, source string, count int) error {
	return t.append(ctx, Record{
		Source:  source,
		At:      t.now().UTC(),
		Outcome: OutcomeSuccess,
		Count:   count,
	})
}

// RecordFailure logs a failed run. The detail is flattened to one line and
// truncated to MaxDetail characters.
func (t *Tracker) RecordFailure(ctx context.Context, source, detail string) error {
	return t.append(ctx, Record{
		Source:  source,
		At:      t.now().UTC(),
		Outcome: OutcomeFailure,
		Detail:  Truncate(detail),
	})
}

// CheckHealth reports whether source has succeeded within the window.
func (t *Tracker) CheckHealth(ctx context.Context, source string) (Status, error) {
	last, err := t.log.LastSuccess(ctx, source)
	if err != nil {
		return Status{Source: source}, eris.Wrapf(err, "health: last success for %s", source)
	}
	if last == nil {
		return Status{Source: source, Detail: "no successful runs recorded"}, nil
	}

	age := t.now().Sub(*last)
	if age > t.window {
		return Status{
			Source:      source,
			Detail:      fmt.Sprintf("last success was %.1f hours ago", age.Hours()),
			LastSuccess: last,
		}, nil
	}
	return Status{
		Source:      source,
		Healthy:     true,
		Detail:      "last success: " + last.UTC().Format(time.RFC3339),
		LastSuccess: last,
	}, nil
}

// History returns up to limit records for source, newest first.
func (t *Tracker) History(ctx context.Context, source string, limit int) ([]Record, error) {
	recs, err := t.log.History(ctx, source, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "health: history for %s", source)
	}
	return recs, nil
}

// Truncate flattens detail to one line of at most MaxDetail runes.
func Truncate(detail string) string {
	detail = strings.Join(strings.Fields(detail), " ")
	r := []rune(detail)
	if len(r) > MaxDetail {
		return string(r[:MaxDetail])
	}
	return detail
}
