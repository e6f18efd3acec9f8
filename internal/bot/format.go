package bot

import (
	"fmt"
	"strings"

	"groupwatch/internal/model"
	"groupwatch/internal/monitor"
)

const (
	statusActive = "active"
	statusPaused = "paused"
)

func status(g model.Group) string {
	if g.Active {
		return statusActive
	}
	return statusPaused
}

// FormatGroupList formats the monitored groups for display.
func FormatGroupList(groups []model.Group, monitoring bool) string {
	if len(groups) == 0 {
		return "No groups yet. Use /add <name> <group_url> <webhook_url> to add one."
	}
	var b strings.Builder
	state := "off"
	if monitoring {
		state = "on"
	}
	fmt.Fprintf(&b, "Monitoring is %s. Groups:\n", state)
	for i, g := range groups {
		fmt.Fprintf(&b, "\n%d. %s  (every %d min) [%s]\n", i+1, g.Name, g.Interval, status(g))
		if g.SpecificUserMode {
			fmt.Fprintf(&b, "   only posts by %s\n", g.User())
		}
		fmt.Fprintf(&b, "   %d posts sent\n", g.PostCount)
	}
	return b.String()
}

// FormatGroupInfo formats detailed information about a single group.
func FormatGroupInfo(g model.Group, pos int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d. %s [%s]\n", pos, g.Name, status(g))
	fmt.Fprintf(&b, "ID: %s\n", g.ID)
	fmt.Fprintf(&b, "URL: %s\n", g.URL)
	fmt.Fprintf(&b, "Webhook: %s\n", g.Webhook)
	fmt.Fprintf(&b, "Interval: every %d min\n", g.Interval)
	if g.SpecificUserMode {
		fmt.Fprintf(&b, "Author filter: %s\n", g.User())
	}
	fmt.Fprintf(&b, "Posts sent: %d\n", g.PostCount)
	if cp := g.Checkpoint(); !cp.IsZero() {
		fmt.Fprintf(&b, "Last check: %s\n", cp.UTC().Format("2006-01-02 15:04 UTC"))
	} else {
		b.WriteString("Last check: never\n")
	}
	return b.String()
}

// FormatFetchResult describes the outcome of a fetch-latest request.
func FormatFetchResult(g model.Group, resp monitor.Response) string {
	if resp.Success {
		return fmt.Sprintf("Latest post from \"%s\" sent to the webhook.", g.Name)
	}
	if resp.PostFound != nil && *resp.PostFound {
		return fmt.Sprintf("Found a post in \"%s\" but the webhook failed.\n%s", g.Name, resp.Error)
	}
	return fmt.Sprintf("Nothing sent for \"%s\": %s", g.Name, resp.Error)
}

// FormatTestResult describes the outcome of a webhook test.
func FormatTestResult(resp monitor.Response) string {
	if resp.Success {
		return fmt.Sprintf("Webhook test succeeded (HTTP %d).", resp.Status)
	}
	var b strings.Builder
	b.WriteString("Webhook test failed.\n")
	if resp.Status != 0 {
		fmt.Fprintf(&b, "Status: %d %s\n", resp.Status, resp.StatusText)
	}
	if resp.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", resp.Error)
	}
	if resp.Body != "" {
		fmt.Fprintf(&b, "Response: %s\n", resp.Body)
	}
	return b.String()
}
