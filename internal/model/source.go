package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Strategy selects the adapter implementation for a source.
type Strategy string

// Fetch strategies.
const (
	StrategyPagedAPI           Strategy = "paged_api"
	StrategyStaticDocument     Strategy = "static_document"
	StrategyInteractiveSession Strategy = "interactive_session"
)

// ParseStrategy converts a configuration string to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyPagedAPI:
		return StrategyPagedAPI, nil
	case StrategyStaticDocument:
		return StrategyStaticDocument, nil
	case StrategyInteractiveSession:
		return StrategyInteractiveSession, nil
	default:
		return "", eris.Errorf("model: unknown strategy %q", s)
	}
}

// FieldMap names the source field that feeds each Record attribute. For JSON
// endpoints the values are gjson paths; for tabular documents they are header
// names or zero-based column indexes.
type FieldMap struct {
	Identifier string `yaml:"identifier" mapstructure:"identifier"`
	Address    string `yaml:"address" mapstructure:"address"`
	Category   string `yaml:"category" mapstructure:"category"`
	Value      string `yaml:"value" mapstructure:"value"`
	IssuedAt   string `yaml:"issued_at" mapstructure:"issued_at"`
	Status     string `yaml:"status" mapstructure:"status"`
}

// RetrySettings is the per-source retry policy as configured. Nil fields fall
// back to the engine defaults.
type RetrySettings struct {
	MaxRetries    *int          `yaml:"max_retries" mapstructure:"max_retries"`
	InitialDelay  time.Duration `yaml:"initial_delay" mapstructure:"initial_delay"`
	BackoffFactor float64       `yaml:"backoff_factor" mapstructure:"backoff_factor"`
	Retryable     []string      `yaml:"retryable" mapstructure:"retryable"`
}

// SessionSettings configures an interactive_session source.
type SessionSettings struct {
	SearchPath   string            `yaml:"search_path" mapstructure:"search_path"`
	FormSelector string            `yaml:"form_selector" mapstructure:"form_selector"`
	Form         map[string]string `yaml:"form" mapstructure:"form"`
	RowSelector  string            `yaml:"row_selector" mapstructure:"row_selector"`
	NextSelector string            `yaml:"next_selector" mapstructure:"next_selector"`
	DateFormat   string            `yaml:"date_format" mapstructure:"date_format"`
	MaxPages     int               `yaml:"max_pages" mapstructure:"max_pages"`
	Cloudflare   bool              `yaml:"cloudflare" mapstructure:"cloudflare"`
}

// SourceDescriptor is the static configuration of one data source.
type SourceDescriptor struct {
	ID             string            `yaml:"id" mapstructure:"id"`
	Name           string            `yaml:"name" mapstructure:"name"`
	City           string            `yaml:"city" mapstructure:"city"`
	Jurisdiction   string            `yaml:"jurisdiction" mapstructure:"jurisdiction"`
	Strategy       Strategy          `yaml:"strategy" mapstructure:"strategy"`
	Endpoint       string            `yaml:"endpoint" mapstructure:"endpoint"`
	Headers        map[string]string `yaml:"headers" mapstructure:"headers"`
	Dialect        string            `yaml:"dialect" mapstructure:"dialect"`
	Table          string            `yaml:"table" mapstructure:"table"`
	Format         string            `yaml:"format" mapstructure:"format"`
	Selector       string            `yaml:"selector" mapstructure:"selector"`
	DateField      string            `yaml:"date_field" mapstructure:"date_field"`
	PageSize       int               `yaml:"page_size" mapstructure:"page_size"`
	Fields         FieldMap          `yaml:"fields" mapstructure:"fields"`
	AddressSuffix  string            `yaml:"address_suffix" mapstructure:"address_suffix"`
	Session        SessionSettings   `yaml:"session" mapstructure:"session"`
	Retry          RetrySettings     `yaml:"retry" mapstructure:"retry"`
	SyntheticCount int               `yaml:"synthetic_count" mapstructure:"synthetic_count"`
	Disabled       bool              `yaml:"disabled" mapstructure:"disabled"`
}

// DisplayName returns Name, or ID when no name is configured.
func (d SourceDescriptor) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID
}

// Locality returns the city used for synthetic addresses.
func (d SourceDescriptor) Locality() string {
	if d.City != "" {
		return d.City
	}
	return d.DisplayName()
}

// Validate checks the fields every strategy depends on.
func (d SourceDescriptor) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return eris.New("model: source id is required")
	}
	if strings.ContainsAny(d.ID, `/\ `) {
		return eris.Errorf("model: source %q: id must not contain path separators or spaces", d.ID)
	}
	if strings.TrimSpace(d.Jurisdiction) == "" {
		return eris.Errorf("model: source %q: jurisdiction is required", d.ID)
	}
	if _, err := ParseStrategy(string(d.Strategy)); err != nil {
		return eris.Wrapf(err, "model: source %q", d.ID)
	}
	if strings.TrimSpace(d.Endpoint) == "" {
		return eris.Errorf("model: source %q: endpoint is required", d.ID)
	}
	return nil
}
