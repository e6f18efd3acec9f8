// Package extractor turns a rendered group page into a list of posts.
//
// Extraction is a cascade of strategies tried in priority order. The first
// strategy that finds anything wins; when none does, the whole cascade is
// retried against a fresh page snapshot a few times before giving up.
package extractor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"groupwatch/internal/filter"
	"groupwatch/internal/model"
)

// Cascade defaults.
const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 5 * time.Second
)

// Page is a snapshot of a rendered page.
type Page struct {
	URL  string
	HTML string
	// Captured is when the snapshot was taken. Strategies use it as "now".
	Captured time.Time
}

func (p Page) now() time.Time {
	if p.Captured.IsZero() {
		return time.Now()
	}
	return p.Captured
}

// Outcome is the result of one strategy: either posts were found or the
// strategy came up empty. Strategies never fail; a parse problem is Empty.
type Outcome struct {
	Posts []model.Post
}

// Found reports whether the strategy produced any posts.
func (o Outcome) Found() bool {
	return len(o.Posts) > 0
}

// Empty is the outcome of a strategy that found nothing.
var Empty = Outcome{}

// Strategy is one way of finding posts on a page.
type Strategy interface {
	Name() string
	Extract(ctx context.Context, page Page) Outcome
}

// Snapshot captures the current state of the page.
type Snapshot func(ctx context.Context) (Page, error)

// Cascade runs strategies in order until one finds posts.
type Cascade struct {
	Strategies  []Strategy
	MaxAttempts int
	RetryDelay  time.Duration
	Logger      *slog.Logger
}

// NewCascade creates a Cascade with default retry settings.
func NewCascade(logger *slog.Logger, strategies ...Strategy) *Cascade {
	return &Cascade{
		Strategies:  strategies,
		MaxAttempts: DefaultMaxAttempts,
		RetryDelay:  DefaultRetryDelay,
		Logger:      logger,
	}
}

// Run extracts posts from the page, newest first. An empty result after the
// last attempt is not an error. Errors are returned only when a snapshot
// cannot be taken or ctx ends.
func (c *Cascade) Run(ctx context.Context, snapshot Snapshot) ([]model.Post, error) {
	attempts := c.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		page, err := snapshot(ctx)
		if err != nil {
			return nil, fmt.Errorf("snapshot page: %w", err)
		}

		if posts, name := c.runOnce(ctx, page); len(posts) > 0 {
			c.logger().Debug("posts extracted",
				"url", page.URL, "strategy", name, "count", len(posts), "attempt", attempt)
			return filter.NewestFirst(posts, page.now()), nil
		}

		c.logger().Debug("no posts found", "url", page.URL, "attempt", attempt, "max_attempts", attempts)
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.RetryDelay):
		}
	}
	return []model.Post{}, nil
}

func (c *Cascade) runOnce(ctx context.Context, page Page) ([]model.Post, string) {
	for _, s := range c.Strategies {
		if ctx.Err() != nil {
			return nil, ""
		}
		if out := s.Extract(ctx, page); out.Found() {
			return out.Posts, s.Name()
		}
	}
	return nil, ""
}

func (c *Cascade) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// Default returns the built-in strategy order. bridge may be nil.
func Default(bridge *BridgeStrategy) []Strategy {
	strategies := []Strategy{FeedStrategy{}, GraphStrategy{}}
	if bridge != nil {
		strategies = append(strategies, bridge)
	}
	return append(strategies, BroadStrategy{}, TextStrategy{})
}
