package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/permit-cli/internal/health"
)

// HealthChecker abstracts the tracker methods needed by the collector.
type HealthChecker interface {
	CheckHealth(ctx context.Context, source string) (health.Status, error)
}

// Snapshot holds a point-in-time view of source health.
type Snapshot struct {
	Statuses    []health.Status `json:"statuses"`
	Healthy     int             `json:"healthy"`
	Unhealthy   int             `json:"unhealthy"`
	UnhealthyPc float64         `json:"unhealthy_pct"`
	CollectedAt time.Time       `json:"collected_at"`
}

// Collector gathers health status for every registered source.
type Collector struct {
	checker HealthChecker
	sources func() []string
}

// NewCollector creates a collector. sources is called on every collection so
// registry changes are picked up.
func NewCollector(checker HealthChecker, sources func() []string) *Collector {
	return &Collector{checker: checker, sources: sources}
}

// Collect checks every source in order.
func (c *Collector) Collect(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{CollectedAt: time.Now().UTC()}

	for _, id := range c.sources() {
		st, err := c.checker.CheckHealth(ctx, id)
		if err != nil {
			return nil, eris.Wrapf(err, "monitoring: check health %s", id)
		}
		snap.Statuses = append(snap.Statuses, st)
		if st.Healthy {
			snap.Healthy++
		} else {
			snap.Unhealthy++
		}
	}

	if total := len(snap.Statuses); total > 0 {
		snap.UnhealthyPc = float64(snap.Unhealthy) / float64(total)
	}
	return snap, nil
}
