// Package scrape drives one extraction surface (a background browser page)
// from launch to result and guarantees it is closed on every exit path.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"groupwatch/internal/metrics"
	"groupwatch/internal/model"
)

// Orchestrator defaults.
const (
	DefaultPollInterval = time.Second
	DefaultInitialDelay = 2 * time.Second
	DefaultSettleDelay  = 5 * time.Second
	DefaultTimeout      = 30 * time.Second
)

// groupPathMarker must appear in the resolved URL of a loaded group page.
const groupPathMarker = "facebook.com/groups/"

var (
	// ErrScrapeTimeout is returned when no result arrives before the deadline.
	ErrScrapeTimeout = errors.New("scrape timed out")
	// ErrNavigation is returned when the page did not load the group.
	ErrNavigation = errors.New("navigation failed")
)

// PageStatus is the load state of a surface.
type PageStatus struct {
	Complete bool
	URL      string
}

// Surface is one open page.
type Surface interface {
	ID() string
	Status(ctx context.Context) (PageStatus, error)
	// Trigger asks the page to extract its posts. The result arrives through
	// the Mailbox under the surface ID.
	Trigger(ctx context.Context) error
	Close() error
}

// Launcher opens surfaces.
type Launcher interface {
	Launch(ctx context.Context, url string) (Surface, error)
}

// State is a step of a single scrape.
type State int

// Scrape states.
const (
	Created State = iota
	Launching
	AwaitingLoad
	Triggered
	AwaitingResult
	Completed
	TimedOut
	LoadFailed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Launching:
		return "launching"
	case AwaitingLoad:
		return "awaiting_load"
	case Triggered:
		return "triggered"
	case AwaitingResult:
		return "awaiting_result"
	case Completed:
		return "completed"
	case TimedOut:
		return "timed_out"
	case LoadFailed:
		return "load_failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Orchestrator runs scrapes. It is safe for concurrent use; each call owns
// its own surface and mailbox slot.
type Orchestrator struct {
	launcher Launcher
	mailbox  *Mailbox
	logger   *slog.Logger
	metrics  *metrics.Metrics

	PollInterval time.Duration
	InitialDelay time.Duration
	SettleDelay  time.Duration
	Timeout      time.Duration

	// OnState, when set, is called on every state transition.
	OnState func(url string, s State)

	open atomic.Int64
}

// New creates an Orchestrator with default timings. m may be nil.
func New(launcher Launcher, mailbox *Mailbox, logger *slog.Logger, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		launcher:     launcher,
		mailbox:      mailbox,
		logger:       logger,
		metrics:      m,
		PollInterval: DefaultPollInterval,
		InitialDelay: DefaultInitialDelay,
		SettleDelay:  DefaultSettleDelay,
		Timeout:      DefaultTimeout,
	}
}

// Open returns the number of surfaces currently open.
func (o *Orchestrator) Open() int {
	return int(o.open.Load())
}

// Scrape opens url in a new surface, waits for it to load, triggers
// extraction and returns the posts it reports.
func (o *Orchestrator) Scrape(ctx context.Context, url string) ([]model.Post, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, o.Timeout)
	defer cancel()

	o.transition(url, Created)
	o.transition(url, Launching)

	surface, err := callCtx(ctx, func() (Surface, error) {
		return o.launcher.Launch(ctx, url)
	}, func(late Surface, err error) {
		if err != nil || late == nil {
			return
		}
		o.logger.Warn("page opened after deadline, closing", "url", url, "surface", late.ID())
		if err := late.Close(); err != nil {
			o.logger.Warn("close page", "url", url, "surface", late.ID(), "error", err)
		}
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, o.fail(ctx, url, err)
		}
		o.transition(url, LoadFailed)
		return nil, fmt.Errorf("%w: launch page: %v", ErrNavigation, err)
	}

	o.open.Add(1)
	o.metrics.SurfaceOpened()
	defer func() {
		if err := surface.Close(); err != nil {
			o.logger.Warn("close page", "url", url, "surface", surface.ID(), "error", err)
		}
		o.open.Add(-1)
		o.metrics.SurfaceClosed()
	}()

	results := o.mailbox.Register(surface.ID())
	defer o.mailbox.Cancel(surface.ID())

	o.transition(url, AwaitingLoad)
	if err := o.awaitLoad(ctx, surface); err != nil {
		if ctx.Err() != nil {
			return nil, o.fail(ctx, url, err)
		}
		o.transition(url, LoadFailed)
		return nil, err
	}

	if err := sleep(ctx, o.SettleDelay); err != nil {
		return nil, o.fail(ctx, url, err)
	}

	o.transition(url, Triggered)
	if _, err := callCtx(ctx, func() (struct{}, error) {
		return struct{}{}, surface.Trigger(ctx)
	}, nil); err != nil {
		// The page may still extract on its own.
		o.logger.Warn("trigger extraction", "url", url, "surface", surface.ID(), "error", err)
	}

	o.transition(url, AwaitingResult)
	select {
	case posts := <-results:
		o.transition(url, Completed)
		o.metrics.ObserveScrape(time.Since(start))
		o.logger.Debug("scrape completed", "url", url, "posts", len(posts), "elapsed", time.Since(start))
		return posts, nil
	case <-ctx.Done():
		return nil, o.fail(ctx, url, ctx.Err())
	}
}

func (o *Orchestrator) awaitLoad(ctx context.Context, surface Surface) error {
	if err := sleep(ctx, o.InitialDelay); err != nil {
		return err
	}
	for {
		status, err := callCtx(ctx, func() (PageStatus, error) {
			return surface.Status(ctx)
		}, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: page status: %v", ErrNavigation, err)
		}
		if status.Complete {
			if !strings.Contains(status.URL, groupPathMarker) {
				return fmt.Errorf("%w: page resolved to %q", ErrNavigation, status.URL)
			}
			return nil
		}
		if err := sleep(ctx, o.PollInterval); err != nil {
			return err
		}
	}
}

// fail classifies an error that happened while ctx was ending.
func (o *Orchestrator) fail(ctx context.Context, url string, cause error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		o.transition(url, TimedOut)
		return fmt.Errorf("%w after %s: %s", ErrScrapeTimeout, o.Timeout, url)
	}
	o.transition(url, LoadFailed)
	return fmt.Errorf("scrape %s: %w", url, cause)
}

func (o *Orchestrator) transition(url string, s State) {
	o.logger.Debug("scrape state", "url", url, "state", s.String())
	if o.OnState != nil {
		o.OnState(url, s)
	}
}

// callCtx runs fn in its own goroutine so a launcher or page that ignores ctx
// cannot hold the caller past the deadline. When ctx ends first, the eventual
// result of fn is handed to late, if set. A panic in fn is re-raised in the
// caller.
func callCtx[T any](ctx context.Context, fn func() (T, error), late func(T, error)) (T, error) {
	type result struct {
		v        T
		err      error
		panicked any
	}
	done := make(chan result, 1)
	go func() {
		var r result
		defer func() {
			r.panicked = recover()
			done <- r
		}()
		r.v, r.err = fn()
	}()

	select {
	case r := <-done:
		if r.panicked != nil {
			panic(r.panicked)
		}
		return r.v, r.err
	case <-ctx.Done():
		if late != nil {
			go func() {
				if r := <-done; r.panicked == nil {
					late(r.v, r.err)
				}
			}()
		}
		var zero T
		return zero, ctx.Err()
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
