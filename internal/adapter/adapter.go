// Package adapter implements the source fetch strategies. Every strategy
// satisfies Adapter, so callers never branch on how a source is scraped.
package adapter

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/permit-cli/internal/fetcher"
	"github.com/sells-group/permit-cli/internal/model"
	"github.com/sells-group/permit-cli/internal/resilience"
)

// Defaults applied when a descriptor leaves them unset.
const (
	DefaultPageSize   = 1000
	DefaultMaxRecords = 5000
	DefaultDaysBack   = 90
	maxPages          = 1000
)

var errNoFetcher = eris.New("no fetcher configured")

// Adapter fetches raw permit records from one external source. Failures
// carry a resilience.Kind (timeout, rate_limited, parse, not_found, ...).
// An empty result with a nil error means the source had no data.
type Adapter interface {
	Fetch(ctx context.Context, maxRecords, daysBack int) ([]model.Record, error)
}

// Limiters hands out the per-host rate limiter for a URL.
type Limiters interface {
	LimiterFor(rawURL string) *fetcher.AdaptiveLimiter
}

// Deps holds the shared collaborators adapters are built with. Limiters is
// used by adapters that make their own HTTP calls; it may be nil.
type Deps struct {
	Fetcher     fetcher.Fetcher
	Limiters    Limiters
	HTTPTimeout time.Duration
	UserAgent   string
	Now         func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.HTTPTimeout <= 0 {
		d.HTTPTimeout = 30 * time.Second
	}
	if d.UserAgent == "" {
		d.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"
	}
	return d
}

// New builds the adapter selected by the descriptor's strategy. Configuration
// problems are returned as permanent errors.
func New(desc model.SourceDescriptor, deps Deps) (Adapter, error) {
	deps = deps.withDefaults()

	strategy, err := model.ParseStrategy(string(desc.Strategy))
	if err != nil {
		return nil, configError(desc, err)
	}

	switch strategy {
	case model.StrategyPagedAPI:
		return newPaged(desc, deps)
	case model.StrategyStaticDocument:
		return newDocument(desc, deps)
	default:
		return newSession(desc, deps)
	}
}

func configError(desc model.SourceDescriptor, err error) error {
	return resilience.NewError(resilience.KindPermanent, "adapter: "+desc.ID, err)
}

func newBuilder(desc model.SourceDescriptor, deps Deps) builder {
	return builder{fields: desc.Fields, suffix: desc.AddressSuffix, now: deps.Now}
}

// headers expands environment references such as ${SOCRATA_APP_TOKEN}.
func headers(desc model.SourceDescriptor) map[string][]string {
	if len(desc.Headers) == 0 {
		return nil
	}
	h := make(map[string][]string, len(desc.Headers))
	for k, v := range desc.Headers {
		h[k] = []string{os.ExpandEnv(v)}
	}
	return h
}

func requireFields(desc model.SourceDescriptor) error {
	if strings.TrimSpace(desc.Fields.Identifier) == "" {
		return eris.New("fields.identifier is required")
	}
	if strings.TrimSpace(desc.Fields.Address) == "" {
		return eris.New("fields.address is required")
	}
	return nil
}

// limit caps records at maxRecords when maxRecords > 0.
func limit(records []model.Record, maxRecords int) []model.Record {
	if maxRecords > 0 && len(records) > maxRecords {
		return records[:maxRecords]
	}
	return records
}
