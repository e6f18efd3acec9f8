package webhook

import (
	"encoding/json"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/google/go-cmp/cmp"

	"groupwatch/internal/model"
)

func userGroup(user string) model.Group {
	g := testGroup()
	g.SpecificUserMode = true
	g.SpecificUser = &user
	return g
}

func TestPayloadShape(t *testing.T) {
	tests := []struct {
		name     string
		kind     Kind
		wantKeys []string
	}{
		{name: "discord", kind: Discord, wantKeys: []string{"embeds"}},
		{name: "slack", kind: Slack, wantKeys: []string{"attachments", "text"}},
		{name: "generic", kind: Generic, wantKeys: []string{"group", "message", "posts"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := json.Marshal(Payload(tt.kind, testGroup(), []model.Post{{ID: "p1"}}, fixedNow))
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			var decoded map[string]json.RawMessage
			if err := json.Unmarshal(raw, &decoded); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			for _, k := range tt.wantKeys {
				if _, ok := decoded[k]; !ok {
					t.Errorf("payload missing %q: %s", k, raw)
				}
			}
		})
	}
}

func TestDiscordPayload(t *testing.T) {
	posts := []model.Post{
		{Author: "Alice", Content: "Selling a bike", URL: "https://www.facebook.com/groups/bikes/posts/1"},
		{},
	}

	t.Run("group mode", func(t *testing.T) {
		got := DiscordPayload(testGroup(), posts, fixedNow)
		if diff := cmp.Diff(DisplayName, got.Username); diff != "" {
			t.Errorf("username mismatch (-want +got):\n%s", diff)
		}
		embed := got.Embeds[0]
		if diff := cmp.Diff(ColorGroup, embed.Color); diff != "" {
			t.Errorf("color mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff("📢 New Posts from Bikes", embed.Title); diff != "" {
			t.Errorf("title mismatch (-want +got):\n%s", diff)
		}
		wantDesc := "**Alice**\nSelling a bike\n[View Post](https://www.facebook.com/groups/bikes/posts/1)\n" +
			"\n**Unknown User**\nNo content\n\n"
		if diff := cmp.Diff(wantDesc, embed.Description); diff != "" {
			t.Errorf("description mismatch (-want +got):\n%s", diff)
		}
		wantFields := []*discordgo.MessageEmbedField{
			{Name: "Group", Value: "[Bikes](https://www.facebook.com/groups/bikes)", Inline: true},
			{Name: "Posts Count", Value: "2", Inline: true},
			{Name: "Timestamp", Value: "3/1/2025, 12:30:00 PM", Inline: true},
		}
		if diff := cmp.Diff(wantFields, embed.Fields); diff != "" {
			t.Errorf("fields mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(DisplayName, embed.Footer.Text); diff != "" {
			t.Errorf("footer mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("user mode", func(t *testing.T) {
		got := DiscordPayload(userGroup("Alice"), posts, fixedNow).Embeds[0]
		if diff := cmp.Diff(ColorUser, got.Color); diff != "" {
			t.Errorf("color mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff("📢 New Posts from Alice in Bikes", got.Title); diff != "" {
			t.Errorf("title mismatch (-want +got):\n%s", diff)
		}
		last := got.Fields[len(got.Fields)-1]
		if diff := cmp.Diff(&discordgo.MessageEmbedField{Name: "Monitoring", Value: "👤 Alice", Inline: true}, last); diff != "" {
			t.Errorf("monitoring field mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(DisplayName+" - User: Alice", got.Footer.Text); diff != "" {
			t.Errorf("footer mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("empty batch", func(t *testing.T) {
		got := DiscordPayload(testGroup(), nil, fixedNow).Embeds[0]
		if diff := cmp.Diff(emptyBatchText, got.Description); diff != "" {
			t.Errorf("description mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestSlackPayload(t *testing.T) {
	posts := []model.Post{{Author: "Alice", Content: "hello", URL: "https://x.test/p"}}

	got := SlackPayload(userGroup("Alice"), posts, fixedNow)
	want := SlackMessage{
		Text: "📢 New Posts from Alice in Bikes",
		Attachments: []SlackAttachment{{
			Color: SlackUserHex,
			Fields: []SlackField{
				{Title: "Posts", Value: "*Alice*\nhello\n<https://x.test/p|View Post>"},
				{Title: "Group", Value: "<https://www.facebook.com/groups/bikes|Bikes>", Short: true},
				{Title: "Count", Value: "1", Short: true},
				{Title: "User", Value: "👤 Alice", Short: true},
			},
			Footer: DisplayName + " - User: Alice",
			TS:     fixedNow.Unix(),
		}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("SlackPayload() mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff(SlackGroupHex, SlackPayload(testGroup(), posts, fixedNow).Attachments[0].Color); diff != "" {
		t.Errorf("group mode color mismatch (-want +got):\n%s", diff)
	}
}

func TestGenericPayload(t *testing.T) {
	posts := []model.Post{
		{ID: "p1", Content: "hello", Author: "Alice", Timestamp: "2025-03-01T12:00:00.000Z", URL: "https://x.test/p", Type: "feed"},
		{ID: "p2"},
	}

	got := GenericPayload(testGroup(), posts, fixedNow)
	want := GenericMessage{
		Message: "New posts from Bikes",
		Group: GenericGroup{
			Name: "Bikes",
			URL:  "https://www.facebook.com/groups/bikes",
			ID:   "g1",
		},
		Posts: []GenericPost{
			{ID: "p1", Content: "hello", Author: "Alice", Timestamp: "2025-03-01T12:00:00.000Z", URL: "https://x.test/p", Type: "feed"},
			{ID: "p2", Content: "No content", Author: "Unknown User", URL: "https://www.facebook.com/groups/bikes", Type: "post"},
		},
		Timestamp: "2025-03-01T12:30:00.000Z",
		PostCount: 2,
		Source:    "groupwatch",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("GenericPayload() mismatch (-want +got):\n%s", diff)
	}

	raw, err := json.Marshal(got)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v, ok := decoded["targetUser"]; !ok || v != nil {
		t.Errorf("targetUser should be present and null, got %v (present=%v)", v, ok)
	}
}

func TestGenericPayloadUserMode(t *testing.T) {
	got := GenericPayload(userGroup("Alice"), nil, fixedNow)

	if diff := cmp.Diff("New posts from Alice in Bikes", got.Message); diff != "" {
		t.Errorf("message mismatch (-want +got):\n%s", diff)
	}
	if got.TargetUser == nil || *got.TargetUser != "Alice" {
		t.Errorf("targetUser = %v, want Alice", got.TargetUser)
	}
	if !got.UserSpecific || !got.Group.SpecificUserMode {
		t.Errorf("user mode flags not set: %+v", got)
	}
	if diff := cmp.Diff(0, got.PostCount); diff != "" {
		t.Errorf("postCount mismatch (-want +got):\n%s", diff)
	}
}

func TestTestPayload(t *testing.T) {
	t.Run("discord", func(t *testing.T) {
		got, ok := TestPayload(Discord, fixedNow).(*discordgo.WebhookParams)
		if !ok {
			t.Fatalf("unexpected payload type %T", TestPayload(Discord, fixedNow))
		}
		if diff := cmp.Diff(ColorTest, got.Embeds[0].Color); diff != "" {
			t.Errorf("color mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff("🧪 Webhook Test", got.Embeds[0].Title); diff != "" {
			t.Errorf("title mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("slack", func(t *testing.T) {
		got, ok := TestPayload(Slack, fixedNow).(SlackMessage)
		if !ok {
			t.Fatalf("unexpected payload type %T", TestPayload(Slack, fixedNow))
		}
		if diff := cmp.Diff(SlackTestHex, got.Attachments[0].Color); diff != "" {
			t.Errorf("color mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(fixedNow.Unix(), got.Attachments[0].TS); diff != "" {
			t.Errorf("ts mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("generic", func(t *testing.T) {
		got, ok := TestPayload(Generic, fixedNow).(GenericTest)
		if !ok {
			t.Fatalf("unexpected payload type %T", TestPayload(Generic, fixedNow))
		}
		if !got.Test {
			t.Error("test flag not set")
		}
		if diff := cmp.Diff(1, got.PostCount); diff != "" {
			t.Errorf("postCount mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff("test", got.Posts[0].Type); diff != "" {
			t.Errorf("post type mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{in: "short", n: 10, want: "short"},
		{in: "abcdef", n: 4, want: "abc…"},
		{in: "ééééé", n: 3, want: "éé…"},
	}

	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, truncate(tt.in, tt.n)); diff != "" {
			t.Errorf("truncate(%q, %d) mismatch (-want +got):\n%s", tt.in, tt.n, diff)
		}
	}
}
