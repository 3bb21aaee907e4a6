package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"pkgmirror/pkg/config"
	errs "pkgmirror/pkg/errors"
	"pkgmirror/pkg/logger"
	"pkgmirror/pkg/ratelimit"
)

// Options configures a Client
type Options struct {
	SearchURL   string
	RegistryURL string
	UserAgent   string
	// Token is sent as a bearer token to the registry host only
	Token string
	// Timeout bounds metadata requests
	Timeout time.Duration
	// DownloadTimeout bounds a single tarball download
	DownloadTimeout time.Duration
	Policy          ratelimit.Policy
	Logger          logger.Logger
}

// OptionsFromConfig maps the configuration onto client options
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SearchURL:       cfg.Registry.SearchURL,
		RegistryURL:     cfg.Registry.RegistryURL,
		UserAgent:       cfg.Registry.UserAgent,
		Token:           cfg.Registry.Token,
		Timeout:         cfg.Registry.Timeout,
		DownloadTimeout: cfg.Mirror.DownloadTimeout,
		Policy:          ratelimit.FromConfig(cfg.RateLimit),
	}
}

// Client talks to an npm-compatible registry. Calls are serialized and
// paced by the configured Policy. No call is retried here; failures are
// classified and returned.
type Client struct {
	http         *resty.Client
	searchURL    string
	registryURL  string
	registryHost string
	token        string
	timeout      time.Duration
	dlTimeout    time.Duration
	policy       ratelimit.Policy
	logger       logger.Logger

	mu sync.Mutex
}

// NewClient creates a registry client
func NewClient(opts Options) (*Client, error) {
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}
	if opts.Policy == nil {
		opts.Policy = ratelimit.NoDelay{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = 10 * time.Minute
	}
	if opts.UserAgent == "" {
		opts.UserAgent = config.AppName
	}

	if _, err := url.Parse(opts.SearchURL); err != nil || opts.SearchURL == "" {
		return nil, fmt.Errorf("invalid search url %q", opts.SearchURL)
	}
	regURL, err := url.Parse(opts.RegistryURL)
	if err != nil || regURL.Host == "" {
		return nil, fmt.Errorf("invalid registry url %q", opts.RegistryURL)
	}

	log := opts.Logger.WithField("component", "registry")
	cli := resty.New().
		SetHeader("User-Agent", opts.UserAgent).
		SetLogger(restyLogger{log}).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(5))

	return &Client{
		http:         cli,
		searchURL:    opts.SearchURL,
		registryURL:  strings.TrimRight(opts.RegistryURL, "/"),
		registryHost: regURL.Host,
		token:        strings.TrimSpace(opts.Token),
		timeout:      opts.Timeout,
		dlTimeout:    opts.DownloadTimeout,
		policy:       opts.Policy,
		logger:       log,
	}, nil
}

// call serializes one remote call and applies the pacing policy around it.
// The request itself runs on a context detached from cancellation so that
// an in-flight transfer completes; only the pacing waits are interruptible.
func (c *Client) call(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.policy.Before(ctx); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInterrupted, err)
	}

	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	err := fn(reqCtx)
	cancel()

	// The result stands even if the pause is cut short; callers observe
	// cancellation at their own suspension points.
	_ = c.policy.After(ctx)
	return err
}

func (c *Client) request(ctx context.Context, rawURL string) *resty.Request {
	req := c.http.R().SetContext(ctx)
	if c.token != "" && c.sameHost(rawURL) {
		req.SetAuthToken(c.token)
	}
	return req
}

func (c *Client) sameHost(rawURL string) bool {
	u, err := url.Parse(rawURL)
	return err == nil && u.Host == c.registryHost
}

func (c *Client) logRequest(method, url string, resp *resty.Response, started time.Time) {
	status := 0
	if resp != nil {
		status = resp.StatusCode()
	}
	logger.LogRequest(c.logger, method, url, status, time.Since(started))
}

// transportError classifies a failure to obtain any response
func transportError(op, item string, err error) error {
	return &errs.Error{Type: errs.ErrorTypeTransient, Op: op, Item: item, Err: err}
}

// statusError maps a non-2xx response onto the error taxonomy
func statusError(op, item string, status int, body []byte) error {
	if status >= http.StatusOK && status < http.StatusMultipleChoices {
		return nil
	}

	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		msg = "registry rejected credentials: " + msg
	case http.StatusTooManyRequests:
		msg = "rate limited by registry: " + msg
	}
	if msg == "" {
		msg = http.StatusText(status)
	}

	return &errs.Error{
		Type:    errs.ClassifyStatus(status),
		Op:      op,
		Item:    item,
		Code:    status,
		Message: msg,
	}
}

func decodeError(op, item string, err error) error {
	return &errs.Error{Type: errs.ErrorTypeFatal, Op: op, Item: item, Message: "unexpected response body", Err: err}
}

func readSnippet(r io.Reader) []byte {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return b
}

var errMissingField = errors.New("required field missing")

// restyLogger routes resty's internal messages through our logger
type restyLogger struct {
	l logger.Logger
}

func (r restyLogger) Errorf(format string, v ...interface{}) { r.l.Error(fmt.Sprintf(format, v...)) }
func (r restyLogger) Warnf(format string, v ...interface{})  { r.l.Warn(fmt.Sprintf(format, v...)) }
func (r restyLogger) Debugf(format string, v ...interface{}) { r.l.Debug(fmt.Sprintf(format, v...)) }
