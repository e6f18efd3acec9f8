// Package browser provides extraction surfaces backed by headless Chrome tabs.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"groupwatch/internal/extractor"
	"groupwatch/internal/model"
	"groupwatch/internal/scrape"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Config controls how Chrome is started.
type Config struct {
	ExecPath  string
	Headless  bool
	UserAgent string
}

// Browser owns one Chrome process. Every Launch opens a new tab in it.
type Browser struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	cascade *extractor.Cascade
	mailbox *scrape.Mailbox
	logger  *slog.Logger

	wg sync.WaitGroup
}

// New starts Chrome. Extraction results are delivered to mailbox.
func New(cfg Config, cascade *extractor.Cascade, mailbox *scrape.Mailbox, logger *slog.Logger) (*Browser, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	return &Browser{
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		cascade:       cascade,
		mailbox:       mailbox,
		logger:        logger,
	}, nil
}

func allocatorOptions(cfg Config) []chromedp.ExecAllocatorOption {
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserAgent(ua),
		chromedp.WindowSize(1920, 1080),
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}

// Close shuts Chrome down after in-flight extractions stop.
func (b *Browser) Close() error {
	b.browserCancel()
	b.wg.Wait()
	b.allocCancel()
	return nil
}

// Launch opens url in a new background tab. It returns as soon as
// navigation has started; use Status to follow the load.
func (b *Browser) Launch(ctx context.Context, url string) (scrape.Surface, error) {
	tabCtx, cancel := chromedp.NewContext(b.browserCtx)
	// The first Run allocates the tab and must not be tied to ctx, or the
	// tab would close as soon as ctx ends.
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("open tab: %w", err)
	}

	t := &tab{
		ctx:     tabCtx,
		cancel:  cancel,
		id:      string(chromedp.FromContext(tabCtx).Target.TargetID),
		browser: b,
	}

	err := t.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var res page.NavigateReturns
		if err := cdp.Execute(ctx, page.CommandNavigate, page.Navigate(url), &res); err != nil {
			return err
		}
		if res.ErrorText != "" {
			return errors.New(res.ErrorText)
		}
		return nil
	}))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("navigate %s: %w", url, err)
	}
	return t, nil
}

type tab struct {
	ctx     context.Context
	cancel  context.CancelFunc
	id      string
	browser *Browser

	extractOnce sync.Once
	closeOnce   sync.Once
}

func (t *tab) ID() string { return t.id }

// run executes actions in the tab, bounded by ctx.
func (t *tab) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (t *tab) Status(ctx context.Context) (scrape.PageStatus, error) {
	var state, location string
	err := t.run(ctx,
		chromedp.Evaluate(`document.readyState`, &state),
		chromedp.Location(&location),
	)
	if err != nil {
		return scrape.PageStatus{}, err
	}
	return scrape.PageStatus{Complete: state == "complete", URL: location}, nil
}

// Trigger starts extraction in the background. Only the first call has an
// effect. The result is always delivered, empty when extraction failed.
func (t *tab) Trigger(context.Context) error {
	t.extractOnce.Do(func() {
		t.browser.wg.Add(1)
		go func() {
			defer t.browser.wg.Done()
			t.extract()
		}()
	})
	return nil
}

func (t *tab) extract() {
	posts, err := t.browser.cascade.Run(t.ctx, t.snapshot)
	if err != nil {
		t.browser.logger.Warn("extract posts", "surface", t.id, "error", err)
		posts = []model.Post{}
	}
	if !t.browser.mailbox.Deliver(t.id, posts) {
		t.browser.logger.Debug("extraction result dropped", "surface", t.id)
	}
}

func (t *tab) snapshot(ctx context.Context) (extractor.Page, error) {
	var html, location string
	err := t.run(ctx,
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return extractor.Page{}, err
	}
	return extractor.Page{URL: location, HTML: html, Captured: time.Now()}, nil
}

func (t *tab) Close() error {
	t.closeOnce.Do(t.cancel)
	return nil
}
