package resilience

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/permit-cli/internal/model"
)

// FromSettings overlays a source's configured retry settings on base.
func FromSettings(s model.RetrySettings, base Policy) (Policy, error) {
	p := base
	if s.MaxRetries != nil {
		if *s.MaxRetries < 0 {
			return Policy{}, NewError(KindPermanent, "resilience: retry settings", eris.Errorf("max_retries must be >= 0, got %d", *s.MaxRetries))
		}
		p.MaxRetries = *s.MaxRetries
	}
	if s.InitialDelay > 0 {
		p.InitialDelay = s.InitialDelay
	}
	if s.BackoffFactor != 0 {
		p.BackoffFactor = s.BackoffFactor
	}
	if len(s.Retryable) > 0 {
		kinds := make([]Kind, 0, len(s.Retryable))
		for _, raw := range s.Retryable {
			k, err := ParseKind(raw)
			if err != nil {
				return Policy{}, NewError(KindPermanent, "resilience: retry settings", err)
			}
			kinds = append(kinds, k)
		}
		p.Retryable = kinds
	}
	if err := p.Check(); err != nil {
		return Policy{}, NewError(KindPermanent, "resilience: retry settings", err)
	}
	return p, nil
}
