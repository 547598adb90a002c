package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/AgentOS/navigator/internal/infrastructure/resilience"
)

var (
	// ErrServerStatus marks 5xx responses so they count against the host breaker.
	ErrServerStatus = errors.New("server error status")
	// ErrTooManyRedirects is returned when a page redirects more than MaxRedirects times.
	ErrTooManyRedirects = errors.New("too many redirects")
)

const acceptHTML = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"

// ClientConfig tunes the page fetcher.
type ClientConfig struct {
	UserAgent       string
	Timeout         time.Duration
	Retries         int
	RetryWaitMin    time.Duration
	RetryWaitMax    time.Duration
	RequestsPerHost float64 // zero disables per-host limiting
	MaxRedirects    int
}

// Response is a fetched document.
type Response struct {
	URL         string // final URL after redirects
	Status      int
	ContentType string
	Body        []byte
	Elapsed     time.Duration
}

// Client wraps resty with a retrying transport, per-host rate limiting and
// per-host circuit breakers.
type Client struct {
	resty    *resty.Client
	breakers *resilience.Group
	rps      float64

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewClient creates the HTTP client used by the fetch engine
func NewClient(cfg ClientConfig) *Client {
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 10
	}
	if cfg.RetryWaitMin <= 0 {
		cfg.RetryWaitMin = 200 * time.Millisecond
	}
	if cfg.RetryWaitMax <= 0 {
		cfg.RetryWaitMax = 2 * time.Second
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.Retries
	retryClient.RetryWaitMin = cfg.RetryWaitMin
	retryClient.RetryWaitMax = cfg.RetryWaitMax
	retryClient.Logger = nil
	// hand the last response back instead of a "giving up" error so 5xx pages
	// still reach the engine with their status
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	// redirects are followed by resty so its policy applies
	retryClient.HTTPClient.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	maxRedirects := cfg.MaxRedirects
	restyClient := resty.New().
		SetTransport(&retryablehttp.RoundTripper{Client: retryClient}).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", acceptHTML).
		SetHeader("Accept-Language", "en-US,en;q=0.9").
		SetRedirectPolicy(resty.RedirectPolicyFunc(func(_ *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("%w: stopped after %d", ErrTooManyRedirects, len(via))
			}
			return nil
		}))

	breakers := resilience.NewGroup(resilience.Settings{
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Client{
		resty:    restyClient,
		breakers: breakers,
		rps:      cfg.RequestsPerHost,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Fetch loads uri. A 5xx response is returned together with an error wrapping
// ErrServerStatus.
func (c *Client) Fetch(ctx context.Context, uri string, bypassCache bool) (*Response, error) {
	target, err := url.Parse(uri)
	if err != nil {
		return nil, err
	}
	host := target.Host

	if err := c.limiter(host).Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}

	return resilience.Do(ctx, c.breakers.Get(host), func(ctx context.Context) (*Response, error) {
		req := c.resty.R().SetContext(ctx)
		if bypassCache {
			req.SetHeader("Cache-Control", "no-cache").SetHeader("Pragma", "no-cache")
		}

		resp, err := req.Get(uri)
		if err != nil {
			return nil, err
		}

		out := &Response{
			URL:         uri,
			Status:      resp.StatusCode(),
			ContentType: resp.Header().Get("Content-Type"),
			Body:        resp.Body(),
			Elapsed:     resp.Time(),
		}
		if raw := resp.RawResponse; raw != nil && raw.Request != nil && raw.Request.URL != nil {
			out.URL = raw.Request.URL.String()
		}
		if out.Status >= http.StatusInternalServerError {
			return out, fmt.Errorf("%w: %d", ErrServerStatus, out.Status)
		}
		return out, nil
	})
}

// BreakerStates reports the breaker state of every host contacted so far
func (c *Client) BreakerStates() map[string]resilience.State {
	return c.breakers.States()
}

func (c *Client) limiter(host string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	if l, ok := c.limiters[host]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Inf, 0)
	if c.rps > 0 {
		burst := int(c.rps)
		if burst < 1 {
			burst = 1
		}
		l = rate.NewLimiter(rate.Limit(c.rps), burst)
	}
	c.limiters[host] = l
	return l
}
