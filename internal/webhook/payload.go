package webhook

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"groupwatch/internal/model"
)

// Payload branding.
const (
	DisplayName = "Facebook Groups Monitor"
	AvatarURL   = "https://static.xx.fbcdn.net/rsrc.php/v3/ys/r/TbNJQd_5E8B.png"
	Source      = "groupwatch"
)

// Embed and attachment colors.
const (
	ColorGroup    = 0x1877f2
	ColorUser     = 0x9b59b6
	ColorTest     = 0x00ff00
	SlackGroupHex = "#1877f2"
	SlackUserHex  = "#9b59b6"
	SlackTestHex  = "#00ff00"
)

const (
	noContent       = "No content"
	unknownAuthor   = "Unknown User"
	defaultPostType = "post"
	emptyBatchText  = "New post detected"
	localTimeLayout = "1/2/2006, 3:04:05 PM"

	// Discord rejects embeds with longer descriptions.
	discordDescriptionLimit = 4096

	testDescription = "This is a test message from " + DisplayName + " to verify your %s webhook is working correctly."
)

// SlackMessage is an incoming-webhook message with attachments.
type SlackMessage struct {
	Text        string            `json:"text"`
	Attachments []SlackAttachment `json:"attachments"`
}

// SlackAttachment is a legacy Slack message attachment.
type SlackAttachment struct {
	Color  string       `json:"color"`
	Fields []SlackField `json:"fields"`
	Footer string       `json:"footer"`
	TS     int64        `json:"ts"`
}

// SlackField is one attachment field.
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// GenericMessage carries the full post batch for arbitrary receivers.
type GenericMessage struct {
	Message      string        `json:"message"`
	Group        GenericGroup  `json:"group"`
	Posts        []GenericPost `json:"posts"`
	Timestamp    string        `json:"timestamp"`
	PostCount    int           `json:"postCount"`
	Source       string        `json:"source"`
	UserSpecific bool          `json:"userSpecific"`
	TargetUser   *string       `json:"targetUser"`
}

// GenericGroup describes the group a batch came from.
type GenericGroup struct {
	Name             string  `json:"name"`
	URL              string  `json:"url"`
	ID               string  `json:"id"`
	SpecificUserMode bool    `json:"specificUserMode"`
	SpecificUser     *string `json:"specificUser"`
}

// GenericPost is one post in a generic payload.
type GenericPost struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Author    string `json:"author"`
	Timestamp string `json:"timestamp"`
	URL       string `json:"url"`
	Type      string `json:"type"`
}

// GenericTest is the connectivity test payload for generic receivers.
type GenericTest struct {
	Test      bool          `json:"test"`
	Message   string        `json:"message"`
	Timestamp string        `json:"timestamp"`
	Group     TestGroup     `json:"group"`
	Posts     []GenericPost `json:"posts"`
	PostCount int           `json:"postCount"`
	Source    string        `json:"source"`
}

// TestGroup is the placeholder group of a test payload.
type TestGroup struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	ID   string `json:"id"`
}

// Payload builds the body for kind.
func Payload(kind Kind, g model.Group, posts []model.Post, now time.Time) any {
	switch kind {
	case Discord:
		return DiscordPayload(g, posts, now)
	case Slack:
		return SlackPayload(g, posts, now)
	default:
		return GenericPayload(g, posts, now)
	}
}

// DiscordPayload renders posts as a single embed.
func DiscordPayload(g model.Group, posts []model.Post, now time.Time) *discordgo.WebhookParams {
	lines := make([]string, 0, len(posts))
	for _, p := range posts {
		link := ""
		if p.URL != "" {
			link = fmt.Sprintf("[View Post](%s)", p.URL)
		}
		lines = append(lines, fmt.Sprintf("**%s**\n%s\n%s\n", orDefault(p.Author, unknownAuthor), orDefault(p.Content, noContent), link))
	}
	description := orDefault(strings.Join(lines, "\n"), emptyBatchText)

	color := ColorGroup
	footer := DisplayName
	fields := []*discordgo.MessageEmbedField{
		{Name: "Group", Value: fmt.Sprintf("[%s](%s)", g.Name, g.URL), Inline: true},
		{Name: "Posts Count", Value: fmt.Sprint(len(posts)), Inline: true},
		{Name: "Timestamp", Value: now.Format(localTimeLayout), Inline: true},
	}
	if g.SpecificUserMode {
		color = ColorUser
		footer += " - User: " + g.User()
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Monitoring", Value: "👤 " + g.User(), Inline: true})
	}

	return &discordgo.WebhookParams{
		Username:  DisplayName,
		AvatarURL: AvatarURL,
		Embeds: []*discordgo.MessageEmbed{{
			Title:       title(g),
			Description: truncate(description, discordDescriptionLimit),
			Color:       color,
			Fields:      fields,
			Footer:      &discordgo.MessageEmbedFooter{Text: footer},
		}},
	}
}

// SlackPayload renders posts as a single attachment.
func SlackPayload(g model.Group, posts []model.Post, now time.Time) SlackMessage {
	blocks := make([]string, 0, len(posts))
	for _, p := range posts {
		link := ""
		if p.URL != "" {
			link = fmt.Sprintf("<%s|View Post>", p.URL)
		}
		blocks = append(blocks, fmt.Sprintf("*%s*\n%s\n%s", orDefault(p.Author, unknownAuthor), orDefault(p.Content, noContent), link))
	}

	color := SlackGroupHex
	footer := DisplayName
	fields := []SlackField{
		{Title: "Posts", Value: orDefault(strings.Join(blocks, "\n\n"), emptyBatchText)},
		{Title: "Group", Value: fmt.Sprintf("<%s|%s>", g.URL, g.Name), Short: true},
		{Title: "Count", Value: fmt.Sprint(len(posts)), Short: true},
	}
	if g.SpecificUserMode {
		color = SlackUserHex
		footer += " - User: " + g.User()
		fields = append(fields, SlackField{Title: "User", Value: "👤 " + g.User(), Short: true})
	}

	return SlackMessage{
		Text: title(g),
		Attachments: []SlackAttachment{{
			Color:  color,
			Fields: fields,
			Footer: footer,
			TS:     now.Unix(),
		}},
	}
}

// GenericPayload carries the whole batch with group metadata.
func GenericPayload(g model.Group, posts []model.Post, now time.Time) GenericMessage {
	message := "New posts from " + g.Name
	if g.SpecificUserMode {
		message = fmt.Sprintf("New posts from %s in %s", g.User(), g.Name)
	}

	out := make([]GenericPost, 0, len(posts))
	for _, p := range posts {
		out = append(out, GenericPost{
			ID:        p.ID,
			Content:   orDefault(p.Content, noContent),
			Author:    orDefault(p.Author, unknownAuthor),
			Timestamp: p.Timestamp,
			URL:       orDefault(p.URL, g.URL),
			Type:      orDefault(p.Type, defaultPostType),
		})
	}

	var user *string
	if g.SpecificUserMode && g.User() != "" {
		u := g.User()
		user = &u
	}

	return GenericMessage{
		Message: message,
		Group: GenericGroup{
			Name:             g.Name,
			URL:              g.URL,
			ID:               g.ID,
			SpecificUserMode: g.SpecificUserMode,
			SpecificUser:     user,
		},
		Posts:        out,
		Timestamp:    now.UTC().Format(isoLayout),
		PostCount:    len(posts),
		Source:       Source,
		UserSpecific: g.SpecificUserMode,
		TargetUser:   user,
	}
}

// TestPayload builds the connectivity test body for kind.
func TestPayload(kind Kind, now time.Time) any {
	stamp := now.Format(localTimeLayout)
	switch kind {
	case Discord:
		return &discordgo.WebhookParams{
			Username:  DisplayName,
			AvatarURL: AvatarURL,
			Embeds: []*discordgo.MessageEmbed{{
				Title:       "🧪 Webhook Test",
				Description: fmt.Sprintf(testDescription, "Discord"),
				Color:       ColorTest,
				Fields: []*discordgo.MessageEmbedField{
					{Name: "Status", Value: "✅ Test Successful", Inline: true},
					{Name: "Timestamp", Value: stamp, Inline: true},
				},
				Footer: &discordgo.MessageEmbedFooter{Text: DisplayName + " - Test Mode"},
			}},
		}
	case Slack:
		return SlackMessage{
			Text: "🧪 Webhook Test",
			Attachments: []SlackAttachment{{
				Color: SlackTestHex,
				Fields: []SlackField{
					{Title: "Test Message", Value: fmt.Sprintf(testDescription, "Slack")},
					{Title: "Status", Value: "✅ Test Successful", Short: true},
					{Title: "Timestamp", Value: stamp, Short: true},
				},
				Footer: DisplayName + " - Test Mode",
				TS:     now.Unix(),
			}},
		}
	default:
		iso := now.UTC().Format(isoLayout)
		return GenericTest{
			Test:      true,
			Message:   "This is a test webhook from " + DisplayName,
			Timestamp: iso,
			Group: TestGroup{
				Name: "Test Group",
				URL:  "https://facebook.com/groups/test",
				ID:   "test_group_id",
			},
			Posts: []GenericPost{{
				ID:        "test_post_id",
				Content:   "This is a test post to verify your webhook is working correctly.",
				Author:    "Test User",
				Timestamp: iso,
				URL:       "https://facebook.com/test",
				Type:      "test",
			}},
			PostCount: 1,
			Source:    Source,
		}
	}
}

func title(g model.Group) string {
	if g.SpecificUserMode {
		return fmt.Sprintf("📢 New Posts from %s in %s", g.User(), g.Name)
	}
	return "📢 New Posts from " + g.Name
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
