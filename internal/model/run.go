package model

import (
	"time"
)

// Outcome is the provenance tier of a source's output for one cycle.
type Outcome string

// Outcomes, in order of preference.
const (
	OutcomeSuccess            Outcome = "success"
	OutcomeFallbackHistorical Outcome = "fallback-historical"
	OutcomeFallbackSynthetic  Outcome = "fallback-synthetic"
	OutcomeFailed             Outcome = "failed"
)

// Outcomes lists every outcome in summary order.
var Outcomes = []Outcome{
	OutcomeSuccess,
	OutcomeFallbackHistorical,
	OutcomeFallbackSynthetic,
	OutcomeFailed,
}

// IsFallback reports whether o was produced by the fallback chain.
func (o Outcome) IsFallback() bool {
	return o == OutcomeFallbackHistorical || o == OutcomeFallbackSynthetic
}

// LiveStatus describes what the live fetch produced before any fallback.
type LiveStatus string

// Live fetch statuses.
const (
	LiveOK     LiveStatus = "ok"
	LiveEmpty  LiveStatus = "empty"
	LiveFailed LiveStatus = "failed"
)

// RunResult is produced once per source per cycle.
type RunResult struct {
	Source      string        `json:"source"`
	Outcome     Outcome       `json:"outcome"`
	Live        LiveStatus    `json:"live"`
	Records     int           `json:"records"`
	Rejected    int           `json:"rejected,omitempty"`
	Duplicates  int           `json:"duplicates,omitempty"`
	Attempts    int           `json:"attempts"`
	Elapsed     time.Duration `json:"elapsed"`
	ErrorClass  string        `json:"error_class,omitempty"`
	Error       string        `json:"error,omitempty"`
	SnapshotKey string        `json:"snapshot_key,omitempty"`
}

// Path renders the live status and final tier, e.g. "failed→fallback-synthetic".
// A successful live run renders as the outcome alone.
func (r RunResult) Path() string {
	if r.Live == LiveOK || r.Live == "" {
		return string(r.Outcome)
	}
	return string(r.Live) + "→" + string(r.Outcome)
}

// Summary aggregates the RunResults of one cycle.
type Summary struct {
	CycleID   string        `json:"cycle_id"`
	StartedAt time.Time     `json:"started_at"`
	Elapsed   time.Duration `json:"elapsed"`
	Results   []RunResult   `json:"results"`
}

// Count returns how many results ended with outcome o.
func (s *Summary) Count(o Outcome) int {
	n := 0
	for _, r := range s.Results {
		if r.Outcome == o {
			n++
		}
	}
	return n
}

// Counts returns the number of results per outcome, including zero counts.
func (s *Summary) Counts() map[Outcome]int {
	counts := make(map[Outcome]int, len(Outcomes))
	for _, o := range Outcomes {
		counts[o] = 0
	}
	for _, r := range s.Results {
		counts[r.Outcome]++
	}
	return counts
}

// Result returns the RunResult for source, if present.
func (s *Summary) Result(source string) (RunResult, bool) {
	for _, r := range s.Results {
		if r.Source == source {
			return r, true
		}
	}
	return RunResult{}, false
}
