package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"groupwatch/internal/model"
)

// Interval bounds accepted from chat.
const (
	minInterval = 1
	maxInterval = 1440
)

// AddArgs holds the parsed arguments of /add.
type AddArgs struct {
	Name     string
	URL      string
	Webhook  string
	Interval int
	User     string
}

// Group builds the group to register.
func (a AddArgs) Group() model.Group {
	g := model.Group{
		Name:     a.Name,
		URL:      a.URL,
		Webhook:  a.Webhook,
		Interval: a.Interval,
	}
	if a.User != "" {
		user := a.User
		g.SpecificUserMode = true
		g.SpecificUser = &user
	}
	return g
}

// ParseAddArgs parses /add arguments.
// Format: <name...> <group_url> <webhook_url> [interval] [user...]
func ParseAddArgs(args string) (AddArgs, error) {
	parts := strings.Fields(args)
	at := -1
	for i, p := range parts {
		if model.IsGroupURL(p) {
			at = i
			break
		}
	}
	if at < 0 {
		return AddArgs{}, errors.New("usage: /add <name> <group_url> <webhook_url> [interval] [user]")
	}
	if at == 0 {
		return AddArgs{}, errors.New("group name is required")
	}
	if at+1 >= len(parts) {
		return AddArgs{}, errors.New("webhook URL is required")
	}

	out := AddArgs{
		Name:     strings.Join(parts[:at], " "),
		URL:      parts[at],
		Webhook:  parts[at+1],
		Interval: model.DefaultIntervalMinutes,
	}
	rest := parts[at+2:]
	if len(rest) > 0 {
		if mins, err := strconv.Atoi(rest[0]); err == nil {
			if mins < minInterval || mins > maxInterval {
				return AddArgs{}, fmt.Errorf("interval must be between %d and %d minutes", minInterval, maxInterval)
			}
			out.Interval = mins
			rest = rest[1:]
		}
	}
	out.User = strings.Join(rest, " ")
	return out, nil
}

// ParseRef extracts a group reference: a 1-based list position or a group id.
func ParseRef(args string) (string, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return "", errors.New("group number or id is required")
	}
	return fields[0], nil
}

// ParseIntervalArgs extracts a group reference and interval in minutes.
func ParseIntervalArgs(args string) (string, int, error) {
	parts := strings.Fields(args)
	if len(parts) < 2 {
		return "", 0, errors.New("usage: /interval <n> <minutes>")
	}
	mins, err := strconv.Atoi(parts[1])
	if err != nil || mins < minInterval || mins > maxInterval {
		return "", 0, fmt.Errorf("interval must be between %d and %d minutes", minInterval, maxInterval)
	}
	return parts[0], mins, nil
}

// resolveRef finds the group a reference points to.
func resolveRef(groups []model.Group, ref string) (model.Group, int, bool) {
	if n, err := strconv.Atoi(ref); err == nil && n >= 1 && n <= len(groups) {
		return groups[n-1], n, true
	}
	for i, g := range groups {
		if g.ID == ref {
			return g, i + 1, true
		}
	}
	return model.Group{}, 0, false
}
