// Package model defines the domain types used across the application.
package model

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// DefaultIntervalMinutes is applied to groups with a missing or invalid interval.
const DefaultIntervalMinutes = 5

// ErrInvalidGroup is returned by Group.Validate.
var ErrInvalidGroup = errors.New("invalid group")

var groupURLPattern = regexp.MustCompile(`^https?://(www\.)?facebook\.com/groups/[a-zA-Z0-9._-]+`)

// Group represents a monitored Facebook group and its delivery target.
// JSON names are the persisted names and must not change.
type Group struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	URL              string  `json:"url"`
	Webhook          string  `json:"webhook"`
	Interval         int     `json:"interval"`
	Active           bool    `json:"active"`
	LastChecked      *int64  `json:"lastChecked"`
	PostCount        int     `json:"postCount"`
	SpecificUserMode bool    `json:"specificUserMode"`
	SpecificUser     *string `json:"specificUser"`
}

// Normalize trims user input and fills defaults.
func (g *Group) Normalize() {
	g.Name = strings.TrimSpace(g.Name)
	g.URL = strings.TrimSpace(g.URL)
	g.Webhook = strings.TrimSpace(g.Webhook)
	if g.Interval <= 0 {
		g.Interval = DefaultIntervalMinutes
	}
	if g.PostCount < 0 {
		g.PostCount = 0
	}
	if !g.SpecificUserMode {
		g.SpecificUser = nil
		return
	}
	if g.SpecificUser != nil {
		u := strings.TrimSpace(*g.SpecificUser)
		g.SpecificUser = &u
	}
}

// Validate checks the group invariants that can be verified in isolation.
func (g *Group) Validate() error {
	if g.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidGroup)
	}
	if !IsGroupURL(g.URL) {
		return fmt.Errorf("%w: %q is not a Facebook group URL", ErrInvalidGroup, g.URL)
	}
	if !IsAbsoluteURL(g.Webhook) {
		return fmt.Errorf("%w: %q is not a valid webhook URL", ErrInvalidGroup, g.Webhook)
	}
	if g.SpecificUserMode && g.User() == "" {
		return fmt.Errorf("%w: specific user is required when user monitoring is enabled", ErrInvalidGroup)
	}
	if !g.SpecificUserMode && g.SpecificUser != nil {
		return fmt.Errorf("%w: specific user set while user monitoring is disabled", ErrInvalidGroup)
	}
	return nil
}

// User returns the monitored author, or "" when none is set.
func (g *Group) User() string {
	if g.SpecificUser == nil {
		return ""
	}
	return *g.SpecificUser
}

// Checkpoint returns lastChecked as a time. Never-checked groups return the zero time.
func (g *Group) Checkpoint() time.Time {
	if g.LastChecked == nil {
		return time.Time{}
	}
	return time.UnixMilli(*g.LastChecked)
}

// AdvanceCheckpoint moves lastChecked to t. Earlier times are ignored so the
// checkpoint never regresses.
func (g *Group) AdvanceCheckpoint(t time.Time) {
	ms := t.UnixMilli()
	if g.LastChecked != nil && *g.LastChecked >= ms {
		return
	}
	g.LastChecked = &ms
}

// IntervalDuration returns the check cadence.
func (g *Group) IntervalDuration() time.Duration {
	if g.Interval <= 0 {
		return DefaultIntervalMinutes * time.Minute
	}
	return time.Duration(g.Interval) * time.Minute
}

// IsGroupURL reports whether s looks like a Facebook group page URL.
func IsGroupURL(s string) bool {
	return groupURLPattern.MatchString(s)
}

// IsAbsoluteURL reports whether s parses as an absolute URL with a host.
func IsAbsoluteURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return u.IsAbs() && u.Host != ""
}

// Post is a single post extracted from a group page. Posts are never persisted.
type Post struct {
	ID        string   `json:"id"`
	Content   string   `json:"content"`
	Author    string   `json:"author"`
	Timestamp string   `json:"timestamp"`
	URL       string   `json:"url"`
	Type      string   `json:"type"`
	Images    []string `json:"images,omitempty"`
}

// Time parses Timestamp. Unparsable values return the zero time.
func (p Post) Time() time.Time {
	t, err := time.Parse(time.RFC3339Nano, p.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}
