package filter

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"groupwatch/internal/model"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func at(d time.Duration) string {
	return base.Add(d).Format(time.RFC3339)
}

func ids(posts []model.Post) []string {
	out := []string{}
	for _, p := range posts {
		out = append(out, p.ID)
	}
	return out
}

func TestNewSince(t *testing.T) {
	posts := []model.Post{
		{ID: "new", Timestamp: at(time.Minute)},
		{ID: "equal", Timestamp: at(0)},
		{ID: "old", Timestamp: at(-time.Hour)},
		{ID: "garbled", Timestamp: "yesterday-ish"},
	}

	tests := []struct {
		name       string
		checkpoint time.Time
		want       []string
	}{
		{name: "zero checkpoint keeps all", checkpoint: time.Time{}, want: []string{"new", "equal", "old", "garbled"}},
		{name: "strictly after checkpoint", checkpoint: base, want: []string{"new", "garbled"}},
		{name: "checkpoint in the future", checkpoint: base.Add(time.Hour), want: []string{"garbled"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(NewSince(posts, tt.checkpoint))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("NewSince() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestByAuthor(t *testing.T) {
	posts := []model.Post{
		{ID: "1", Author: "Alice Smith"},
		{ID: "2", Author: "bob"},
		{ID: "3", Author: "  ALICE  "},
		{ID: "4", Author: ""},
	}

	tests := []struct {
		name string
		user string
		want []string
	}{
		{name: "substring, case insensitive", user: "alice", want: []string{"1", "3"}},
		{name: "exact match", user: "Bob", want: []string{"2"}},
		{name: "user is trimmed", user: "  bob ", want: []string{"2"}},
		{name: "no match", user: "carol", want: []string{}},
		{name: "empty user keeps all", user: "", want: []string{"1", "2", "3", "4"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(ByAuthor(posts, tt.user))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ByAuthor(%q) mismatch (-want +got):\n%s", tt.user, diff)
			}
		})
	}
}

func TestDedupe(t *testing.T) {
	posts := []model.Post{
		{ID: "a", Content: "Bike for sale", Author: "Alice"},
		{ID: "b", Content: "bike for sale ", Author: "alice"},
		{ID: "c", Content: "Bike for sale", Author: "Bob"},
		{ID: "d", Content: "Other", Author: "Alice"},
	}

	got := ids(Dedupe(posts))
	if diff := cmp.Diff([]string{"a", "c", "d"}, got); diff != "" {
		t.Errorf("Dedupe() mismatch (-want +got):\n%s", diff)
	}
}

func TestForGroup(t *testing.T) {
	checked := base.UnixMilli()
	user := "alice"
	posts := []model.Post{
		{ID: "1", Author: "Alice Smith", Timestamp: at(2 * time.Minute)},
		{ID: "2", Author: "bob", Timestamp: at(time.Minute)},
		{ID: "3", Author: "Alice Smith", Timestamp: at(-time.Minute)},
	}

	tests := []struct {
		name  string
		group model.Group
		want  []string
	}{
		{
			name:  "never checked, all authors",
			group: model.Group{},
			want:  []string{"1", "2", "3"},
		},
		{
			name:  "checkpoint only",
			group: model.Group{LastChecked: &checked},
			want:  []string{"1", "2"},
		},
		{
			name:  "checkpoint then author",
			group: model.Group{LastChecked: &checked, SpecificUserMode: true, SpecificUser: &user},
			want:  []string{"1"},
		},
		{
			name:  "author ignored when mode is off",
			group: model.Group{SpecificUser: &user},
			want:  []string{"1", "2", "3"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(ForGroup(posts, tt.group))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ForGroup() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNewestFirst(t *testing.T) {
	now := base.Add(30 * time.Minute)
	posts := []model.Post{
		{ID: "old", Timestamp: at(-time.Hour)},
		{ID: "undated", Timestamp: ""},
		{ID: "newest", Timestamp: at(time.Hour)},
		{ID: "mid", Timestamp: at(0)},
	}

	got := ids(NewestFirst(posts, now))
	if diff := cmp.Diff([]string{"newest", "undated", "mid", "old"}, got); diff != "" {
		t.Errorf("NewestFirst() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff("old", posts[0].ID); diff != "" {
		t.Errorf("input was reordered (-want +got):\n%s", diff)
	}
}
