package extractor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"groupwatch/internal/model"
)

// fakeStrategy returns outcomes in order, then Empty.
type fakeStrategy struct {
	name     string
	outcomes []Outcome
	calls    int
}

func (f *fakeStrategy) Name() string { return f.name }

func (f *fakeStrategy) Extract(context.Context, Page) Outcome {
	f.calls++
	if f.calls > len(f.outcomes) {
		return Empty
	}
	return f.outcomes[f.calls-1]
}

type countingSnapshot struct {
	calls int
	err   error
}

func (c *countingSnapshot) take(context.Context) (Page, error) {
	c.calls++
	if c.err != nil {
		return Page{}, c.err
	}
	return Page{URL: groupURL, Captured: captured}, nil
}

func found(ids ...string) Outcome {
	var posts []model.Post
	for _, id := range ids {
		posts = append(posts, model.Post{ID: id})
	}
	return Outcome{Posts: posts}
}

func postIDs(posts []model.Post) []string {
	out := []string{}
	for _, p := range posts {
		out = append(out, p.ID)
	}
	return out
}

func TestCascadeFirstNonEmptyWins(t *testing.T) {
	first := &fakeStrategy{name: "first"}
	second := &fakeStrategy{name: "second", outcomes: []Outcome{found("a", "b")}}
	third := &fakeStrategy{name: "third", outcomes: []Outcome{found("c")}}

	c := NewCascade(nil, first, second, third)
	snap := &countingSnapshot{}

	got, err := c.Run(context.Background(), snap.take)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if diff := cmp.Diff([]string{"a", "b"}, postIDs(got)); diff != "" {
		t.Errorf("posts mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(0, third.calls); diff != "" {
		t.Errorf("later strategy should not run (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(1, snap.calls); diff != "" {
		t.Errorf("snapshot count mismatch (-want +got):\n%s", diff)
	}
}

func TestCascadeRetries(t *testing.T) {
	tests := []struct {
		name      string
		outcomes  []Outcome
		wantIDs   []string
		wantSnaps int
	}{
		{
			name:      "found on second attempt",
			outcomes:  []Outcome{Empty, found("late")},
			wantIDs:   []string{"late"},
			wantSnaps: 2,
		},
		{
			name:      "gives up after max attempts",
			outcomes:  nil,
			wantIDs:   []string{},
			wantSnaps: DefaultMaxAttempts,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &fakeStrategy{name: "only", outcomes: tt.outcomes}
			c := NewCascade(nil, s)
			c.RetryDelay = time.Millisecond
			snap := &countingSnapshot{}

			got, err := c.Run(context.Background(), snap.take)
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if got == nil {
				t.Fatal("expected non-nil result")
			}
			if diff := cmp.Diff(tt.wantIDs, postIDs(got)); diff != "" {
				t.Errorf("posts mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantSnaps, snap.calls); diff != "" {
				t.Errorf("snapshot count mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCascadeSortsNewestFirst(t *testing.T) {
	s := &fakeStrategy{name: "only", outcomes: []Outcome{{Posts: []model.Post{
		{ID: "old", Timestamp: "2025-03-01T10:00:00.000Z"},
		{ID: "undated"},
		{ID: "new", Timestamp: "2025-03-01T12:00:00.000Z"},
	}}}}

	got, err := NewCascade(nil, s).Run(context.Background(), (&countingSnapshot{}).take)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if diff := cmp.Diff([]string{"undated", "new", "old"}, postIDs(got)); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestCascadeSnapshotError(t *testing.T) {
	boom := errors.New("tab crashed")
	c := NewCascade(nil, &fakeStrategy{name: "only"})

	_, err := c.Run(context.Background(), (&countingSnapshot{err: boom}).take)
	if !errors.Is(err, boom) {
		t.Fatalf("expected snapshot error, got %v", err)
	}
}

func TestCascadeContextCancelled(t *testing.T) {
	c := NewCascade(nil, &fakeStrategy{name: "only"})
	c.RetryDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Run(ctx, (&countingSnapshot{}).take)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
