// Package fetcher implements the rate-limited, retrying HTTP layer of the
// scrape pipeline. One logical fetch makes up to retries+1 attempts, each
// gated by the rate limiter, with exponential backoff between attempts.
package fetcher

import (
	"context"
	"io"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Options configures the HTTP client.
type Options struct {
	// BaseURL resolves relative request paths (listing pages, detail links).
	BaseURL string

	// UserAgent identifies the client; a realistic browser string by default.
	UserAgent string

	// Timeout applies per HTTP request, not per logical fetch.
	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// RatePerSec caps outgoing requests. Burst is 1: the first acquire never
	// blocks, every later one waits out the 1/rate interval.
	RatePerSec float64

	// BackoffBase is the delay before the first retry; doubled each attempt.
	// Tests inject a small base to avoid real sleeps.
	BackoffBase time.Duration
}

// Client issues rate-limited GETs with bounded retries.
type Client struct {
	client  *http.Client
	opts    Options
	base    *url.URL
	limiter *rate.Limiter
	log     *zap.Logger

	// sleep is swappable so tests can run the backoff loop on a fake clock.
	sleep func(ctx context.Context, d time.Duration)
}

// New creates a Client from opts. The base URL must be absolute.
func New(opts Options, log *zap.Logger) (*Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 1.0
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}

	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: parse base url %q", opts.BaseURL)
	}
	if !base.IsAbs() {
		return nil, eris.Errorf("fetcher: base url must be absolute, got %q", opts.BaseURL)
	}

	return &Client{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts:    opts,
		base:    base,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), 1),
		log:     log,
		sleep:   sleepCtx,
	}, nil
}

// Resolve turns a possibly-relative href into an absolute URL against the
// configured base.
func (c *Client) Resolve(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", eris.Wrapf(err, "fetcher: parse url %q", ref)
	}
	return c.base.ResolveReference(u).String(), nil
}

// Fetch performs one logical GET. Every attempt, retries included, waits on
// the rate limiter first. Non-2xx responses count against the retry budget
// the same as transport failures. After MaxRetries+1 attempts it fails with
// a FetchError of kind exhausted wrapping the last attempt's error.
func (c *Client) Fetch(ctx context.Context, rawURL string) (string, int, error) {
	target, err := c.Resolve(rawURL)
	if err != nil {
		return "", 0, err
	}

	attempts := c.opts.MaxRetries + 1
	var lastErr *FetchError

	for attempt := 0; attempt < attempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", 0, eris.Wrap(err, "fetcher: rate limiter wait")
		}

		body, status, ferr := c.attempt(ctx, target, attempt)
		if ferr == nil {
			return body, status, nil
		}
		lastErr = ferr

		c.log.Warn("fetch attempt failed",
			zap.String("url", target),
			zap.Int("attempt", attempt+1),
			zap.String("kind", string(ferr.Kind)),
			zap.Error(ferr.Err),
		)

		if attempt < attempts-1 {
			c.sleep(ctx, backoff(c.opts.BackoffBase, attempt))
		}
		if ctx.Err() != nil {
			break
		}
	}

	return "", 0, &FetchError{
		Kind:     KindExhausted,
		URL:      target,
		Attempts: attempts,
		Err:      lastErr,
	}
}

func (c *Client) attempt(ctx context.Context, target string, attempt int) (string, int, *FetchError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", 0, &FetchError{Kind: KindConnection, URL: target, Attempts: attempt + 1, Err: err}
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", 0, &FetchError{Kind: classify(err), URL: target, Attempts: attempt + 1, Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", 0, &FetchError{
			Kind:     KindHTTPStatus,
			URL:      target,
			Attempts: attempt + 1,
			Status:   resp.StatusCode,
			Err:      eris.Errorf("http %d from %s", resp.StatusCode, target),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, &FetchError{Kind: classify(err), URL: target, Attempts: attempt + 1, Err: err}
	}

	return string(data), resp.StatusCode, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
}

// backoff computes base * 2^attempt, capped at 30s.
func backoff(base time.Duration, attempt int) time.Duration {
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if maxBackoff := 30 * time.Second; d > maxBackoff {
		d = maxBackoff
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
