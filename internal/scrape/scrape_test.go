package scrape

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"groupwatch/internal/model"
)

const bikesURL = "https://www.facebook.com/groups/bikes"

type fakeSurface struct {
	id         string
	mailbox    *Mailbox
	status     func(calls int) (PageStatus, error)
	posts      []model.Post
	deliver    bool
	triggerErr error
	panicOn    bool

	statusCalls atomic.Int32
	closes      atomic.Int32
}

func (s *fakeSurface) ID() string { return s.id }

func (s *fakeSurface) Status(context.Context) (PageStatus, error) {
	n := int(s.statusCalls.Add(1))
	return s.status(n)
}

func (s *fakeSurface) Trigger(context.Context) error {
	if s.panicOn {
		panic("page crashed")
	}
	if s.deliver {
		go s.mailbox.Deliver(s.id, s.posts)
	}
	return s.triggerErr
}

func (s *fakeSurface) Close() error {
	s.closes.Add(1)
	return nil
}

type fakeLauncher struct {
	mu       sync.Mutex
	surfaces map[string]*fakeSurface
	err      error
}

func (l *fakeLauncher) Launch(_ context.Context, url string) (Surface, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.surfaces[url], nil
}

func loadedAt(url string) func(int) (PageStatus, error) {
	return func(int) (PageStatus, error) {
		return PageStatus{Complete: true, URL: url}, nil
	}
}

func newTestOrchestrator(l Launcher, mb *Mailbox) *Orchestrator {
	o := New(l, mb, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	o.PollInterval = time.Millisecond
	o.InitialDelay = 0
	o.SettleDelay = 0
	o.Timeout = time.Second
	return o
}

func TestScrapeCompleted(t *testing.T) {
	mb := NewMailbox()
	posts := []model.Post{{ID: "p1", Content: "hello"}}
	surface := &fakeSurface{
		id:      "tab-1",
		mailbox: mb,
		status: func(n int) (PageStatus, error) {
			if n < 3 {
				return PageStatus{URL: bikesURL}, nil
			}
			return PageStatus{Complete: true, URL: bikesURL + "/?sorting_setting=CHRONOLOGICAL"}, nil
		},
		posts:   posts,
		deliver: true,
	}
	o := newTestOrchestrator(&fakeLauncher{surfaces: map[string]*fakeSurface{bikesURL: surface}}, mb)

	var states []string
	o.OnState = func(_ string, s State) { states = append(states, s.String()) }

	got, err := o.Scrape(context.Background(), bikesURL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	if diff := cmp.Diff(posts, got); diff != "" {
		t.Errorf("posts mismatch (-want +got):\n%s", diff)
	}

	wantStates := []string{"created", "launching", "awaiting_load", "triggered", "awaiting_result", "completed"}
	if diff := cmp.Diff(wantStates, states); diff != "" {
		t.Errorf("states mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(int32(3), surface.statusCalls.Load()); diff != "" {
		t.Errorf("status polls mismatch (-want +got):\n%s", diff)
	}
	assertClosedOnce(t, o, mb, surface)
}

func TestScrapeFailures(t *testing.T) {
	tests := []struct {
		name    string
		surface *fakeSurface
		wantErr error
		state   string
	}{
		{
			name: "page never finishes loading",
			surface: &fakeSurface{
				status: func(int) (PageStatus, error) { return PageStatus{URL: bikesURL}, nil },
			},
			wantErr: ErrScrapeTimeout,
			state:   "timed_out",
		},
		{
			name:    "redirected away from the group",
			surface: &fakeSurface{status: loadedAt("https://www.facebook.com/login/?next=groups")},
			wantErr: ErrNavigation,
			state:   "load_failed",
		},
		{
			name: "status check fails",
			surface: &fakeSurface{
				status: func(int) (PageStatus, error) { return PageStatus{}, errors.New("target closed") },
			},
			wantErr: ErrNavigation,
			state:   "load_failed",
		},
		{
			name:    "extraction never reports",
			surface: &fakeSurface{status: loadedAt(bikesURL)},
			wantErr: ErrScrapeTimeout,
			state:   "timed_out",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mb := NewMailbox()
			tt.surface.id = "tab-x"
			tt.surface.mailbox = mb
			o := newTestOrchestrator(&fakeLauncher{surfaces: map[string]*fakeSurface{bikesURL: tt.surface}}, mb)
			o.Timeout = 50 * time.Millisecond

			var last string
			o.OnState = func(_ string, s State) { last = s.String() }

			_, err := o.Scrape(context.Background(), bikesURL)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if diff := cmp.Diff(tt.state, last); diff != "" {
				t.Errorf("final state mismatch (-want +got):\n%s", diff)
			}
			assertClosedOnce(t, o, mb, tt.surface)
		})
	}
}

func TestScrapeTriggerErrorIsNotFatal(t *testing.T) {
	mb := NewMailbox()
	surface := &fakeSurface{
		id:         "tab-1",
		mailbox:    mb,
		status:     loadedAt(bikesURL),
		posts:      []model.Post{{ID: "auto"}},
		deliver:    true,
		triggerErr: errors.New("no receiving end"),
	}
	o := newTestOrchestrator(&fakeLauncher{surfaces: map[string]*fakeSurface{bikesURL: surface}}, mb)

	got, err := o.Scrape(context.Background(), bikesURL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	if diff := cmp.Diff(1, len(got)); diff != "" {
		t.Errorf("post count mismatch (-want +got):\n%s", diff)
	}
	assertClosedOnce(t, o, mb, surface)
}

func TestScrapeLaunchError(t *testing.T) {
	mb := NewMailbox()
	o := newTestOrchestrator(&fakeLauncher{err: errors.New("browser not running")}, mb)

	_, err := o.Scrape(context.Background(), bikesURL)
	if !errors.Is(err, ErrNavigation) {
		t.Fatalf("expected ErrNavigation, got %v", err)
	}
	if diff := cmp.Diff(0, o.Open()); diff != "" {
		t.Errorf("open surfaces mismatch (-want +got):\n%s", diff)
	}
}

func TestScrapeCancelled(t *testing.T) {
	mb := NewMailbox()
	surface := &fakeSurface{id: "tab-1", mailbox: mb, status: loadedAt(bikesURL)}
	o := newTestOrchestrator(&fakeLauncher{surfaces: map[string]*fakeSurface{bikesURL: surface}}, mb)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := o.Scrape(ctx, bikesURL)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if errors.Is(err, ErrScrapeTimeout) {
		t.Error("cancellation must not be reported as a timeout")
	}
	assertClosedOnce(t, o, mb, surface)
}

func TestScrapeClosesOnPanic(t *testing.T) {
	mb := NewMailbox()
	surface := &fakeSurface{id: "tab-1", mailbox: mb, status: loadedAt(bikesURL), panicOn: true}
	o := newTestOrchestrator(&fakeLauncher{surfaces: map[string]*fakeSurface{bikesURL: surface}}, mb)

	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected panic to propagate")
			}
		}()
		_, _ = o.Scrape(context.Background(), bikesURL)
	}()

	assertClosedOnce(t, o, mb, surface)
}

func TestConcurrentScrapesAreScoped(t *testing.T) {
	mb := NewMailbox()
	launcher := &fakeLauncher{surfaces: map[string]*fakeSurface{}}
	const n = 5
	for i := range n {
		url := fmt.Sprintf("https://www.facebook.com/groups/g%d", i)
		launcher.surfaces[url] = &fakeSurface{
			id:      fmt.Sprintf("tab-%d", i),
			mailbox: mb,
			status:  loadedAt(url),
			posts:   []model.Post{{ID: fmt.Sprintf("post-%d", i)}},
			deliver: true,
		}
	}
	o := newTestOrchestrator(launcher, mb)

	var wg sync.WaitGroup
	got := make([]string, n)
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			posts, err := o.Scrape(context.Background(), fmt.Sprintf("https://www.facebook.com/groups/g%d", i))
			errs[i] = err
			if len(posts) == 1 {
				got[i] = posts[0].ID
			}
		}(i)
	}
	wg.Wait()

	for i := range n {
		if errs[i] != nil {
			t.Errorf("scrape %d: %v", i, errs[i])
		}
		if diff := cmp.Diff(fmt.Sprintf("post-%d", i), got[i]); diff != "" {
			t.Errorf("scrape %d received another page's posts (-want +got):\n%s", i, diff)
		}
	}
	if diff := cmp.Diff(0, o.Open()); diff != "" {
		t.Errorf("open surfaces mismatch (-want +got):\n%s", diff)
	}
}

func assertClosedOnce(t *testing.T, o *Orchestrator, mb *Mailbox, s *fakeSurface) {
	t.Helper()
	if diff := cmp.Diff(int32(1), s.closes.Load()); diff != "" {
		t.Errorf("close count mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(0, o.Open()); diff != "" {
		t.Errorf("open surfaces mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(0, mb.Pending()); diff != "" {
		t.Errorf("pending mailbox slots mismatch (-want +got):\n%s", diff)
	}
}

// stuckLauncher ignores ctx and returns its surface only once released.
type stuckLauncher struct {
	surface *fakeSurface
	release chan struct{}
}

func (l *stuckLauncher) Launch(context.Context, string) (Surface, error) {
	<-l.release
	return l.surface, nil
}

func TestScrapeDeadlineIgnoresStuckLaunch(t *testing.T) {
	mb := NewMailbox()
	surface := &fakeSurface{id: "tab-1", mailbox: mb, status: loadedAt(bikesURL)}
	launcher := &stuckLauncher{surface: surface, release: make(chan struct{})}
	o := newTestOrchestrator(launcher, mb)
	o.Timeout = 50 * time.Millisecond

	start := time.Now()
	_, err := o.Scrape(context.Background(), bikesURL)
	elapsed := time.Since(start)
	if !errors.Is(err, ErrScrapeTimeout) {
		t.Fatalf("expected ErrScrapeTimeout, got %v", err)
	}
	if elapsed > time.Second {
		t.Errorf("scrape returned after %s, deadline was %s", elapsed, o.Timeout)
	}

	close(launcher.release)
	deadline := time.Now().Add(2 * time.Second)
	for surface.closes.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if diff := cmp.Diff(int32(1), surface.closes.Load()); diff != "" {
		t.Errorf("late surface close count mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(0, o.Open()); diff != "" {
		t.Errorf("open surfaces mismatch (-want +got):\n%s", diff)
	}
}

func TestScrapeDeadlineIgnoresStuckStatus(t *testing.T) {
	mb := NewMailbox()
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	surface := &fakeSurface{
		id:      "tab-1",
		mailbox: mb,
		status: func(int) (PageStatus, error) {
			<-release
			return PageStatus{Complete: true, URL: bikesURL}, nil
		},
	}
	o := newTestOrchestrator(&fakeLauncher{surfaces: map[string]*fakeSurface{bikesURL: surface}}, mb)
	o.Timeout = 50 * time.Millisecond

	start := time.Now()
	_, err := o.Scrape(context.Background(), bikesURL)
	if !errors.Is(err, ErrScrapeTimeout) {
		t.Fatalf("expected ErrScrapeTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("scrape returned after %s, deadline was %s", elapsed, o.Timeout)
	}
	assertClosedOnce(t, o, mb, surface)
}
