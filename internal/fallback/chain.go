// Package fallback produces substitute output for a source whose live fetch
// failed or came back empty: the newest real snapshot when one exists,
// otherwise a deterministic synthetic set.
package fallback

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/permit-cli/internal/model"
	"github.com/sells-group/permit-cli/internal/sink"
)

// State is a step of the fallback state machine.
type State string

// Fallback states. Historical and Synthetic are terminal.
const (
	StateLiveAttempted       State = "live_attempted"
	StateHistoricalLookup    State = "historical_lookup"
	StateSyntheticGeneration State = "synthetic_generation"
	StateHistorical          State = "fallback_historical"
	StateSynthetic           State = "fallback_synthetic"
)

// Snapshots is the read side of the persistence sink.
type Snapshots interface {
	Snapshots(ctx context.Context, source string) ([]sink.Ref, error)
	Read(ctx context.Context, ref sink.Ref) (*sink.Snapshot, error)
}

// Result is the output of one fallback run.
type Result struct {
	Outcome model.Outcome
	Records []model.Record
	// Snapshot is the adopted snapshot for a historical result.
	Snapshot *sink.Snapshot
	Trace    []State
}

// Chain runs the fallback state machine for one source at a time.
type Chain struct {
	snapshots Snapshots
}

// NewChain creates a Chain reading history from snapshots. A nil snapshots
// skips straight to synthetic generation.
func NewChain(snapshots Snapshots) *Chain {
	return &Chain{snapshots: snapshots}
}

// Run walks LiveAttempted -> HistoricalLookup -> SyntheticGeneration and
// stops at the first tier that yields records. It never fails: store errors
// are logged and fall through to synthetic data.
func (c *Chain) Run(ctx context.Context, desc model.SourceDescriptor, date time.Time) Result {
	log := zap.L().With(zap.String("component", "fallback"), zap.String("source", desc.ID))
	trace := []State{StateLiveAttempted, StateHistoricalLookup}

	if snap := c.historical(ctx, log, desc.ID); snap != nil {
		log.Info("fallback: using historical snapshot",
			zap.String("date", snap.Date.Format(model.DateLayout)),
			zap.String("tier", string(snap.Tier)),
			zap.Int("records", len(snap.Records)),
		)
		return Result{
			Outcome:  model.OutcomeFallbackHistorical,
			Records:  snap.Records,
			Snapshot: snap,
			Trace:    append(trace, StateHistorical),
		}
	}

	records := Synthesize(desc, date)
	log.Warn("fallback: no usable history, generated synthetic records", zap.Int("records", len(records)))
	return Result{
		Outcome: model.OutcomeFallbackSynthetic,
		Records: records,
		Trace:   append(trace, StateSyntheticGeneration, StateSynthetic),
	}
}

// historical returns the newest non-empty snapshot holding real data. A
// snapshot that cannot be read is skipped in favor of an older one.
func (c *Chain) historical(ctx context.Context, log *zap.Logger, source string) *sink.Snapshot {
	if c.snapshots == nil {
		return nil
	}
	refs, err := c.snapshots.Snapshots(ctx, source)
	if err != nil {
		log.Warn("fallback: historical lookup failed", zap.Error(err))
		return nil
	}
	for _, ref := range refs {
		snap, err := c.snapshots.Read(ctx, ref)
		if err != nil {
			log.Warn("fallback: skipping unreadable snapshot", zap.String("key", ref.Key), zap.Error(err))
			continue
		}
		if !realData(snap.Tier) || len(snap.Records) == 0 {
			continue
		}
		return snap
	}
	return nil
}

func realData(tier model.Outcome) bool {
	return tier == model.OutcomeSuccess || tier == model.OutcomeFallbackHistorical
}
