package extractor

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ISOLayout is the timestamp format carried by posts.
const ISOLayout = "2006-01-02T15:04:05.000Z"

var (
	unixSeconds = regexp.MustCompile(`^\d{10}$`)

	relativeUnits = []struct {
		re   *regexp.Regexp
		unit time.Duration
	}{
		{regexp.MustCompile(`(?i)(\d+)\s*s`), time.Second},
		{regexp.MustCompile(`(?i)(\d+)\s*m`), time.Minute},
		{regexp.MustCompile(`(?i)(\d+)\s*h`), time.Hour},
		{regexp.MustCompile(`(?i)(\d+)\s*d`), 24 * time.Hour},
		{regexp.MustCompile(`(?i)(\d+)\s*w`), 7 * 24 * time.Hour},
	}

	dateLayouts = []string{
		time.RFC3339Nano,
		time.RFC3339,
		time.RFC1123Z,
		time.RFC1123,
		"2006-01-02 15:04:05",
		"2006-01-02",
		"Monday, January 2, 2006 at 3:04 PM",
		"January 2, 2006 at 3:04 PM",
		"January 2, 2006",
		"Jan 2, 2006",
		"2 January 2006",
	}
)

// ParseTimestamp converts the many shapes a post time takes on the page into
// an ISO timestamp. It understands unix seconds, absolute dates, "now" and
// relative forms such as "5m" or "3 hrs". Anything else resolves to now.
func ParseTimestamp(text string, now time.Time) string {
	return FormatTime(parseTime(strings.TrimSpace(text), now))
}

// FormatTime renders t in ISOLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(ISOLayout)
}

func parseTime(text string, now time.Time) time.Time {
	if unixSeconds.MatchString(text) {
		sec, err := strconv.ParseInt(text, 10, 64)
		if err == nil {
			return time.Unix(sec, 0)
		}
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t
		}
	}

	if strings.Contains(strings.ToLower(text), "now") {
		return now
	}

	for _, r := range relativeUnits {
		m := r.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		return now.Add(-time.Duration(n) * r.unit)
	}
	return now
}
