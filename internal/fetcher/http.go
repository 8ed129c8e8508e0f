package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/permit-cli/internal/resilience"
)

// maxBodyBytes bounds a single response read.
const maxBodyBytes = 256 << 20

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent string
	// Timeout bounds each HTTP call. Default: 30s.
	Timeout time.Duration
	// HostRates sets requests per second for specific hosts.
	HostRates map[string]float64
	// DefaultRate applies to hosts without an entry in HostRates. Default: 5.
	DefaultRate float64
	Transport   http.RoundTripper
}

// AdaptiveLimiter wraps a rate.Limiter with adaptive rate adjustment.
// On success it increases the rate by 20% (up to 2x initial).
// On 429 it halves the rate (down to initial/4 minimum).
type AdaptiveLimiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter creates an adaptive rate limiter that auto-tunes.
func NewAdaptiveLimiter(initialRate rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter:     rate.NewLimiter(initialRate, burst),
		maxRate:     initialRate * 2,
		minRate:     initialRate / 4,
		currentRate: initialRate,
	}
}

// Wait blocks until the limiter allows an event.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess increases the rate by 20%, up to 2x initial.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentRate = min(a.currentRate*1.2, a.maxRate)
	a.limiter.SetLimit(a.currentRate)
}

// OnRateLimit halves the rate on 429 responses.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentRate = max(a.currentRate*0.5, a.minRate)
	a.limiter.SetLimit(a.currentRate)
}

// Limit returns the current rate limit.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}

// HTTPFetcher performs single HTTP calls with per-host rate limiting. It does
// not retry; callers wrap it in a resilience policy.
type HTTPFetcher struct {
	client *http.Client
	opts   HTTPOptions

	mu       sync.Mutex
	limiters map[string]*AdaptiveLimiter
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "permit-cli/1.0"
	}
	if opts.DefaultRate <= 0 {
		opts.DefaultRate = 5
	}
	transport := opts.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConnsPerHost: 10,
			MaxConnsPerHost:     20,
			IdleConnTimeout:     90 * time.Second,
		}
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:     opts,
		limiters: make(map[string]*AdaptiveLimiter),
	}
}

// Client returns the underlying HTTP client.
func (f *HTTPFetcher) Client() *http.Client {
	return f.client
}

// LimiterFor returns the adaptive limiter for the URL's host, creating it on first use.
func (f *HTTPFetcher) LimiterFor(rawURL string) *AdaptiveLimiter {
	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = u.Host
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if lim, ok := f.limiters[host]; ok {
		return lim
	}
	rps := f.opts.DefaultRate
	if r, ok := f.opts.HostRates[host]; ok && r > 0 {
		rps = r
	}
	burst := max(int(rps), 1)
	lim := NewAdaptiveLimiter(rate.Limit(rps), burst)
	f.limiters[host] = lim
	return lim
}

func (f *HTTPFetcher) do(ctx context.Context, req *http.Request, op string) (*http.Response, error) {
	lim := f.LimiterFor(req.URL.String())
	if err := lim.Wait(ctx); err != nil {
		return nil, resilience.NewError(resilience.KindTimeout, op+": rate limiter wait", err)
	}

	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", f.opts.UserAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, resilience.NewError(resilience.Classify(err), op, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		lim.OnRateLimit()
		zap.L().Warn("fetcher: rate limited, reducing host rate",
			zap.String("host", req.URL.Host),
			zap.Float64("new_rate", float64(lim.Limit())),
		)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, resilience.HTTPError(op, resp.StatusCode, req.URL.String())
	}

	lim.OnSuccess()
	return resp, nil
}

// Download fetches the URL and returns the response body.
func (f *HTTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, resilience.NewError(resilience.KindPermanent, "fetcher: create request", err)
	}
	return f.doBody(ctx, req, "fetcher: download")
}

// Get fetches the URL with extra headers and returns the full response body.
func (f *HTTPFetcher) Get(ctx context.Context, rawURL string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, resilience.NewError(resilience.KindPermanent, "fetcher: create request", err)
	}
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	body, err := f.doBody(ctx, req, "fetcher: get")
	if err != nil {
		return nil, err
	}
	defer body.Close() //nolint:errcheck
	return readAll(body, "fetcher: read body")
}

func (f *HTTPFetcher) doBody(ctx context.Context, req *http.Request, op string) (io.ReadCloser, error) {
	resp, err := f.do(ctx, req, op)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}
