package resilience

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned without calling the provider while its circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// StatusError is a transient HTTP status from a provider.
type StatusError struct {
	StatusCode int
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return "provider responded " + strconv.Itoa(e.StatusCode) + " " + http.StatusText(e.StatusCode)
}

// Config configures a provider client.
type Config struct {
	// Name identifies the provider in logs, breaker state and the registry.
	Name string

	// Timeout bounds each attempt (default: 10 seconds).
	Timeout time.Duration

	UserAgent string
	Retry     RetryPolicy
	Breaker   BreakerPolicy

	// Registry receives the outcome of every call. Optional.
	Registry *Registry

	Logger zerolog.Logger
}

// Defaults returns the configuration used for the timings and geocoding providers.
func Defaults(name string) Config {
	return Config{
		Name:    name,
		Timeout: 10 * time.Second,
		Retry:   DefaultRetryPolicy(),
		Breaker: DefaultBreakerPolicy(),
		Logger:  zerolog.Nop(),
	}
}

// Client calls one provider through a circuit breaker, retrying transient failures.
type Client struct {
	name      string
	http      *http.Client
	breaker   *gobreaker.CircuitBreaker[*http.Response]
	retry     RetryPolicy
	userAgent string
	registry  *Registry
	logger    zerolog.Logger
}

// NewClient creates a client and adds it to cfg.Registry when one is set.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	c := &Client{
		name:      cfg.Name,
		http:      &http.Client{Timeout: timeout},
		breaker:   gobreaker.NewCircuitBreaker[*http.Response](cfg.Breaker.settings(cfg.Name, cfg.Logger)), //nolint:bodyclose // type param, not response
		retry:     cfg.Retry,
		userAgent: cfg.UserAgent,
		registry:  cfg.Registry,
		logger:    cfg.Logger,
	}
	if c.registry != nil {
		c.registry.track(c)
	}
	return c
}

// Name returns the provider name.
func (c *Client) Name() string {
	return c.name
}

// State returns the breaker state.
func (c *Client) State() gobreaker.State {
	return c.breaker.State()
}

// Counts returns the breaker counters of the current generation.
func (c *Client) Counts() gobreaker.Counts {
	return c.breaker.Counts()
}

// Do sends req. Transient failures are retried with exponential backoff.
// When retries run out on a transient status, the last response is returned
// with a nil error so the caller can read it. An open circuit fails fast
// with ErrCircuitOpen. The caller closes the response body.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	hint, policy := c.retry.backOff(ctx)

	var last *http.Response
	keep := func(resp *http.Response) {
		if last != nil && last != resp {
			_ = last.Body.Close()
		}
		last = resp
	}

	attempt := func() error {
		resp, err := c.breaker.Execute(func() (*http.Response, error) { //nolint:bodyclose // returned to the caller
			return c.send(req)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(ErrCircuitOpen)
		}
		if resp != nil {
			keep(resp)
		}
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			hint.hint = statusErr.RetryAfter
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Debug().
			Err(err).
			Str("provider", c.name).
			Dur("wait", wait).
			Msg("retrying provider call")
	}

	err := backoff.RetryNotify(attempt, policy, notify)
	c.registry.observe(c.name, err)

	switch {
	case err == nil:
		return last, nil
	case last != nil && !errors.Is(err, ErrCircuitOpen):
		return last, nil
	case last != nil:
		_ = last.Body.Close()
	}
	return nil, err
}

func (c *Client) send(req *http.Request) (*http.Response, error) {
	attempt := req.Clone(req.Context())
	if c.userAgent != "" {
		attempt.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(attempt)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return resp, &StatusError{StatusCode: resp.StatusCode, RetryAfter: retryAfter(resp.Header)}
	}
	return resp, nil
}

// retryAfter reads a Retry-After header given in seconds.
func retryAfter(h http.Header) time.Duration {
	secs, err := strconv.Atoi(h.Get("Retry-After"))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
