// Package checker runs one group check end to end: reload the group, scrape
// its page, filter the posts, deliver them and persist the checkpoint.
package checker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"groupwatch/internal/filter"
	"groupwatch/internal/metrics"
	"groupwatch/internal/model"
	"groupwatch/internal/registry"
	"groupwatch/internal/webhook"
)

// Trigger says who asked for a check.
type Trigger int

const (
	// Scheduled checks come from the periodic scheduler and skip inactive groups.
	Scheduled Trigger = iota
	// Manual checks are operator requests and run regardless of the active flag.
	Manual
)

func (t Trigger) String() string {
	if t == Manual {
		return "manual"
	}
	return "scheduled"
}

// ErrNoPosts is returned by FetchLatest when the page yielded nothing to send.
var ErrNoPosts = errors.New("no posts found")

// Store is the subset of the registry a check needs.
type Store interface {
	FindByID(ctx context.Context, id string) (*model.Group, error)
	Upsert(ctx context.Context, g model.Group) error
}

// Scraper produces the raw posts currently visible on a group page.
type Scraper interface {
	Scrape(ctx context.Context, url string) ([]model.Post, error)
}

// Deliverer sends a batch to a webhook.
type Deliverer interface {
	Deliver(ctx context.Context, t webhook.Target, posts []model.Post) webhook.Result
}

// Report summarises a finished check.
type Report struct {
	GroupID   string          `json:"groupId"`
	Scraped   int             `json:"scraped"`
	New       int             `json:"new"`
	Delivered int             `json:"delivered"`
	Delivery  *webhook.Result `json:"delivery,omitempty"`
	Skipped   bool            `json:"skipped"`
}

// LatestReport summarises a FetchLatest call.
type LatestReport struct {
	GroupID     string
	Scraped     int
	PostFound   bool
	WebhookSent bool
	Post        *model.Post
	Delivery    *webhook.Result
}

// DeliveryError reports a failed webhook call with everything needed to
// diagnose it.
type DeliveryError struct {
	Result webhook.Result
}

func (e *DeliveryError) Error() string {
	status := "No status"
	if e.Result.Status != 0 {
		status = fmt.Sprint(e.Result.Status)
	}
	msg := e.Result.Error
	if msg == "" {
		msg = e.Result.StatusText
	}
	if msg == "" {
		msg = "Unknown webhook error"
	}
	body := e.Result.Body
	if body == "" {
		body = "No response body"
	}
	return fmt.Sprintf("Webhook failed - Status: %s, Error: %s, Response: %s", status, msg, body)
}

func (e *DeliveryError) Unwrap() error {
	return e.Result.Err()
}

// Checker coordinates group checks.
type Checker struct {
	store     Store
	scraper   Scraper
	deliverer Deliverer
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// New creates a Checker. m may be nil.
func New(store Store, scraper Scraper, deliverer Deliverer, logger *slog.Logger, m *metrics.Metrics) *Checker {
	return &Checker{
		store:     store,
		scraper:   scraper,
		deliverer: deliverer,
		logger:    logger,
		metrics:   m,
		now:       time.Now,
	}
}

// Check runs one check of group id. The checkpoint advances even when the
// scrape or the delivery fails; postCount grows only on confirmed delivery.
func (c *Checker) Check(ctx context.Context, id string, trigger Trigger) (Report, error) {
	report := Report{GroupID: id}

	g, err := c.store.FindByID(ctx, id)
	if err != nil {
		c.metrics.RecordCheck(metrics.ResultFailed, 0)
		return report, fmt.Errorf("load group: %w", err)
	}
	if !g.Active && trigger == Scheduled {
		c.logger.Debug("skipping inactive group", "group_id", id)
		c.metrics.RecordCheck(metrics.ResultSkipped, 0)
		report.Skipped = true
		return report, nil
	}

	log := c.logger.With("group_id", id, "trigger", trigger.String())
	log.Info("checking group", "name", g.Name)

	posts, scrapeErr := c.scraper.Scrape(ctx, g.URL)
	checkedAt := c.now()
	if scrapeErr != nil {
		log.Warn("scrape failed", "url", g.URL, "error", scrapeErr)
		c.metrics.RecordCheck(metrics.ResultFailed, 0)
		scrapeErr = fmt.Errorf("scrape %s: %w", g.URL, scrapeErr)
		if err := c.persist(ctx, id, checkedAt, 0); err != nil {
			return report, errors.Join(scrapeErr, err)
		}
		return report, scrapeErr
	}
	report.Scraped = len(posts)

	fresh := filter.ForGroup(posts, *g)
	report.New = len(fresh)

	var deliveryErr error
	if len(fresh) > 0 {
		res := c.deliverer.Deliver(ctx, webhook.Target{URL: g.Webhook, Group: *g}, fresh)
		report.Delivery = &res
		if res.Success {
			report.Delivered = len(fresh)
			log.Info("posts delivered", "posts", len(fresh), "status", res.Status)
		} else {
			deliveryErr = &DeliveryError{Result: res}
			log.Error("webhook delivery failed",
				"status", res.Status, "body", res.Body, "kind", string(res.Kind), "error", res.Error)
		}
	} else {
		log.Debug("no new posts", "scraped", len(posts))
	}

	if err := c.persist(ctx, id, checkedAt, report.Delivered); err != nil {
		c.metrics.RecordCheck(metrics.ResultFailed, 0)
		return report, errors.Join(deliveryErr, err)
	}

	switch {
	case deliveryErr != nil:
		c.metrics.RecordCheck(metrics.ResultFailed, 0)
	case report.Delivered > 0:
		c.metrics.RecordCheck(metrics.ResultDelivered, report.Delivered)
	default:
		c.metrics.RecordCheck(metrics.ResultNoPosts, 0)
	}
	return report, deliveryErr
}

// FetchLatest scrapes group id and sends only its newest post, ignoring the
// checkpoint. The author filter still applies.
func (c *Checker) FetchLatest(ctx context.Context, id string) (LatestReport, error) {
	report := LatestReport{GroupID: id}

	g, err := c.store.FindByID(ctx, id)
	if err != nil {
		c.metrics.RecordCheck(metrics.ResultFailed, 0)
		return report, fmt.Errorf("load group: %w", err)
	}
	log := c.logger.With("group_id", id, "trigger", "latest")

	posts, err := c.scraper.Scrape(ctx, g.URL)
	if err != nil {
		c.metrics.RecordCheck(metrics.ResultFailed, 0)
		return report, fmt.Errorf("scrape %s: %w", g.URL, err)
	}
	report.Scraped = len(posts)
	checkedAt := c.now()

	candidates := posts
	if g.SpecificUserMode {
		candidates = filter.ByAuthor(posts, g.User())
	}
	if len(candidates) == 0 {
		c.metrics.RecordCheck(metrics.ResultNoPosts, 0)
		if err := c.persist(ctx, id, checkedAt, 0); err != nil {
			return report, err
		}
		if len(posts) > 0 && g.SpecificUserMode {
			return report, fmt.Errorf("%w: no posts from user %q, found %d posts from other users", ErrNoPosts, g.User(), len(posts))
		}
		return report, fmt.Errorf("%w: check that the page is reachable and the group is visible", ErrNoPosts)
	}

	latest := candidates[0]
	report.PostFound = true
	report.Post = &latest

	res := c.deliverer.Deliver(ctx, webhook.Target{URL: g.Webhook, Group: *g}, []model.Post{latest})
	report.Delivery = &res

	delivered := 0
	if res.Success {
		delivered = 1
		report.WebhookSent = true
	}
	var deliveryErr error
	if !res.Success {
		deliveryErr = &DeliveryError{Result: res}
		log.Error("webhook delivery failed",
			"status", res.Status, "body", res.Body, "kind", string(res.Kind), "error", res.Error)
	}
	if err := c.persist(ctx, id, checkedAt, delivered); err != nil {
		c.metrics.RecordCheck(metrics.ResultFailed, 0)
		return report, errors.Join(deliveryErr, err)
	}
	if deliveryErr != nil {
		c.metrics.RecordCheck(metrics.ResultFailed, 0)
		return report, deliveryErr
	}
	log.Info("latest post delivered", "post_id", latest.ID, "author", latest.Author)
	c.metrics.RecordCheck(metrics.ResultDelivered, 1)
	return report, nil
}

// persist re-reads the group so edits made while the check ran are kept,
// then applies the checkpoint and counter. A group removed meanwhile stays removed.
func (c *Checker) persist(ctx context.Context, id string, at time.Time, delivered int) error {
	g, err := c.store.FindByID(ctx, id)
	if errors.Is(err, registry.ErrGroupNotFound) {
		c.logger.Warn("group removed during check", "group_id", id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("reload group: %w", err)
	}
	g.AdvanceCheckpoint(at)
	g.PostCount += delivered
	if err := c.store.Upsert(ctx, *g); err != nil {
		return fmt.Errorf("save group: %w", err)
	}
	return nil
}
