// Package filter holds the pure post filtering steps applied between
// extraction and delivery.
package filter

import (
	"sort"
	"strings"
	"time"

	"groupwatch/internal/model"
)

// NewSince keeps posts published strictly after checkpoint. A zero checkpoint
// keeps everything. Posts with a missing or unparsable timestamp count as
// published now and are kept.
func NewSince(posts []model.Post, checkpoint time.Time) []model.Post {
	out := make([]model.Post, 0, len(posts))
	for _, p := range posts {
		t := p.Time()
		if checkpoint.IsZero() || t.IsZero() || t.After(checkpoint) {
			out = append(out, p)
		}
	}
	return out
}

// ByAuthor keeps posts whose author equals or contains user, ignoring case
// and surrounding whitespace. An empty user keeps everything.
func ByAuthor(posts []model.Post, user string) []model.Post {
	want := normalize(user)
	if want == "" {
		return append([]model.Post(nil), posts...)
	}

	out := make([]model.Post, 0, len(posts))
	for _, p := range posts {
		if strings.Contains(normalize(p.Author), want) {
			out = append(out, p)
		}
	}
	return out
}

// Dedupe collapses posts sharing the same normalized content and author,
// keeping the first occurrence.
func Dedupe(posts []model.Post) []model.Post {
	seen := make(map[string]struct{}, len(posts))
	out := make([]model.Post, 0, len(posts))
	for _, p := range posts {
		key := normalize(p.Content) + "\x00" + normalize(p.Author)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, p)
	}
	return out
}

// ForGroup applies the per-check filters for g: the checkpoint filter, then
// the author filter when user monitoring is enabled. Input order is preserved.
func ForGroup(posts []model.Post, g model.Group) []model.Post {
	out := NewSince(posts, g.Checkpoint())
	if g.SpecificUserMode {
		out = ByAuthor(out, g.User())
	}
	return out
}

// NewestFirst sorts posts by timestamp descending. Posts without a parsable
// timestamp are treated as published at now.
func NewestFirst(posts []model.Post, now time.Time) []model.Post {
	out := append([]model.Post(nil), posts...)
	sort.SliceStable(out, func(i, j int) bool {
		return effectiveTime(out[i], now).After(effectiveTime(out[j], now))
	})
	return out
}

func effectiveTime(p model.Post, now time.Time) time.Time {
	if t := p.Time(); !t.IsZero() {
		return t
	}
	return now
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
