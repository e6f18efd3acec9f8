// Package webhook formats post batches for Discord, Slack or generic
// receivers and delivers them over HTTP.
//
// Delivery never retries. Every outcome, including transport failures, is
// reported as a Result so callers can log status and body and decide what to
// persist.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"groupwatch/internal/metrics"
	"groupwatch/internal/model"
)

// Request limits.
const (
	DeliverTimeout = 15 * time.Second
	TestTimeout    = 10 * time.Second
	maxBodySize    = 64 * 1024

	userAgent     = "groupwatch/1.0"
	testUserAgent = "groupwatch/1.0-test"
	acceptHeader  = "application/json, text/plain, */*"

	isoLayout = "2006-01-02T15:04:05.000Z"
)

// Kind is the payload shape a receiver expects.
type Kind int

// Receiver kinds.
const (
	Generic Kind = iota
	Discord
	Slack
)

func (k Kind) String() string {
	switch k {
	case Discord:
		return "discord"
	case Slack:
		return "slack"
	default:
		return "generic"
	}
}

// Detect picks the payload shape from the webhook URL.
func Detect(rawURL string) Kind {
	switch {
	case strings.Contains(rawURL, "discord.com/api/webhooks"):
		return Discord
	case strings.Contains(rawURL, "hooks.slack.com"):
		return Slack
	default:
		return Generic
	}
}

// ErrorKind classifies a failed delivery.
type ErrorKind string

// Failure classes.
const (
	InvalidWebhookURL ErrorKind = "InvalidWebhookURL"
	NetworkError      ErrorKind = "NetworkError"
	RequestTimeout    ErrorKind = "RequestTimeout"
	DeliveryRejected  ErrorKind = "DeliveryRejected"
	// RateLimited means the request was held back locally and never sent.
	RateLimited       ErrorKind = "RateLimited"
)

// Sentinels returned by Result.Err.
var (
	ErrInvalidURL  = errors.New("invalid webhook url")
	ErrNetwork     = errors.New("webhook network error")
	ErrTimeout     = errors.New("webhook request timed out")
	ErrRejected    = errors.New("webhook rejected delivery")
	ErrRateLimited = errors.New("webhook not sent: rate limit")
)

// Target is where a batch goes and which group it describes.
type Target struct {
	URL   string
	Group model.Group
}

// Result describes one delivery attempt.
type Result struct {
	Success    bool      `json:"success"`
	Status     int       `json:"status,omitempty"`
	StatusText string    `json:"statusText,omitempty"`
	Body       string    `json:"body,omitempty"`
	Error      string    `json:"error,omitempty"`
	Kind       ErrorKind `json:"kind,omitempty"`
}

// Err returns nil for a successful delivery, otherwise an error wrapping one
// of the package sentinels.
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	var base error
	switch r.Kind {
	case InvalidWebhookURL:
		base = ErrInvalidURL
	case RequestTimeout:
		base = ErrTimeout
	case DeliveryRejected:
		base = ErrRejected
	case RateLimited:
		base = ErrRateLimited
	default:
		base = ErrNetwork
	}
	return fmt.Errorf("%w: %s", base, r.Error)
}

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options tunes a Dispatcher.
type Options struct {
	// Rate is the sustained request rate per receiver host, per second.
	// Zero disables limiting.
	Rate  float64
	Burst int
}

// Dispatcher sends payloads.
type Dispatcher struct {
	client  HTTPClient
	logger  *slog.Logger
	metrics *metrics.Metrics
	opts    Options
	now     func() time.Time

	deliverTimeout time.Duration
	testTimeout    time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a Dispatcher. m may be nil.
func New(client HTTPClient, opts Options, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if client == nil {
		client = http.DefaultClient
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	return &Dispatcher{
		client:         client,
		logger:         logger,
		metrics:        m,
		opts:           opts,
		now:            time.Now,
		deliverTimeout: DeliverTimeout,
		testTimeout:    TestTimeout,
		limiters:       make(map[string]*rate.Limiter),
	}
}

// Deliver posts the batch to t.URL.
func (d *Dispatcher) Deliver(ctx context.Context, t Target, posts []model.Post) Result {
	target, err := parseTarget(t.URL)
	if err != nil {
		return d.record(Generic, invalid(err))
	}
	kind := Detect(t.URL)
	body := Payload(kind, t.Group, posts, d.now())

	d.logger.Debug("sending webhook",
		"group_id", t.Group.ID, "kind", kind.String(), "posts", len(posts))
	return d.record(kind, d.post(ctx, target, body, userAgent, d.deliverTimeout))
}

// Test sends a synthetic payload to rawURL without touching any group.
func (d *Dispatcher) Test(ctx context.Context, rawURL string) Result {
	target, err := parseTarget(rawURL)
	if err != nil {
		return d.record(Generic, invalid(err))
	}
	kind := Detect(rawURL)
	return d.record(kind, d.post(ctx, target, TestPayload(kind, d.now()), testUserAgent, d.testTimeout))
}

func (d *Dispatcher) post(ctx context.Context, target *url.URL, payload any, agent string, timeout time.Duration) Result {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Result{Kind: NetworkError, Error: fmt.Sprintf("encode payload: %v", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := d.wait(ctx, target.Host); err != nil {
		return Result{Kind: RateLimited, Error: fmt.Sprintf("not sent, rate limit for %s: %v", target.Host, err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(raw))
	if err != nil {
		return invalid(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", agent)
	req.Header.Set("Accept", acceptHeader)

	resp, err := d.client.Do(req)
	if err != nil {
		return transportFailure(err, timeout)
	}
	defer func() { _ = resp.Body.Close() }()

	res := Result{
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		res.Body = fmt.Sprintf("Error reading body: %v", err)
	} else {
		res.Body = string(b)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		res.Success = true
		return res
	}
	res.Kind = DeliveryRejected
	res.Error = fmt.Sprintf("HTTP %d: %s", res.Status, res.StatusText)
	return res
}

func (d *Dispatcher) wait(ctx context.Context, host string) error {
	if d.opts.Rate <= 0 {
		return nil
	}
	d.mu.Lock()
	l, ok := d.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(d.opts.Rate), d.opts.Burst)
		d.limiters[host] = l
	}
	d.mu.Unlock()
	return l.Wait(ctx)
}

func (d *Dispatcher) record(kind Kind, r Result) Result {
	result := "success"
	if !r.Success {
		result = string(r.Kind)
	}
	d.metrics.RecordWebhook(kind.String(), result)
	return r
}

func parseTarget(raw string) (*url.URL, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errors.New("no webhook URL configured")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook URL format: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid webhook URL format: %q", raw)
	}
	return u, nil
}

func invalid(err error) Result {
	return Result{Kind: InvalidWebhookURL, Error: err.Error()}
}

func transportFailure(err error, timeout time.Duration) Result {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return Result{Kind: RequestTimeout, Error: fmt.Sprintf("request timed out after %s", timeout)}
	}
	return Result{Kind: NetworkError, Error: fmt.Sprintf("network error: %v", err)}
}
