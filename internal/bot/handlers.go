package bot

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"groupwatch/internal/model"
	"groupwatch/internal/monitor"
	"groupwatch/internal/registry"
)

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Welcome to Group Watch!

Watch Facebook groups and relay new posts to a webhook.

Quick start:
1. /add <name> <group_url> <webhook_url> to add a group
2. /test <n> to check the webhook works
3. /monitor on to start checking

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Groups:
/add <name> <group_url> <webhook_url> [interval] [user]
/list - show all groups
/info <n> - group details
/remove <n> - delete a group
/interval <n> <min> - set check interval (1-1440)
/pause <n> - pause checking
/resume <n> - resume checking

Actions:
/check <n> - send the latest post now
/test <n> - send a test message to the webhook
/monitor on|off - start or stop monitoring

<n> is the number shown by /list or the group id.
Give [user] to only relay posts by that author.`)
}

// lookup resolves a group reference and replies when it cannot.
func (b *Bot) lookup(ctx context.Context, chatID int64, ref string) (model.Group, int, bool) {
	groups, err := b.groups.Load(ctx)
	if err != nil {
		b.log.Error("load groups", "error", err)
		b.reply(chatID, "Failed to load groups.")
		return model.Group{}, 0, false
	}
	g, pos, ok := resolveRef(groups, ref)
	if !ok {
		b.reply(chatID, fmt.Sprintf("Group %s not found.", ref))
		return model.Group{}, 0, false
	}
	return g, pos, true
}

func (b *Bot) lookupArgs(ctx context.Context, chatID int64, args, usage string) (model.Group, int, bool) {
	ref, err := ParseRef(args)
	if err != nil {
		b.reply(chatID, usage)
		return model.Group{}, 0, false
	}
	return b.lookup(ctx, chatID, ref)
}

func (b *Bot) reschedule(ctx context.Context) {
	if err := b.control.Reschedule(ctx); err != nil {
		b.log.Warn("reschedule after edit", "error", err)
	}
}

func (b *Bot) handleAdd(ctx context.Context, chatID int64, args string) {
	parsed, err := ParseAddArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	g, err := b.groups.Add(ctx, parsed.Group())
	switch {
	case errors.Is(err, model.ErrInvalidGroup), errors.Is(err, registry.ErrDuplicateURL):
		b.reply(chatID, fmt.Sprintf("Cannot add group: %v", err))
		return
	case err != nil:
		b.log.Error("add group", "error", err)
		b.reply(chatID, "Failed to save group.")
		return
	}
	b.reschedule(ctx)

	text := fmt.Sprintf("Group added!\n%s (every %d min)\nURL: %s", g.Name, g.Interval, g.URL)
	if g.SpecificUserMode {
		text += fmt.Sprintf("\nOnly posts by %s will be sent.", g.User())
	}
	b.reply(chatID, text)
}

func (b *Bot) handleList(ctx context.Context, chatID int64) {
	groups, err := b.groups.Load(ctx)
	if err != nil {
		b.log.Error("load groups", "error", err)
		b.reply(chatID, "Failed to load groups.")
		return
	}
	monitoring, err := b.groups.MonitoringActive(ctx)
	if err != nil {
		b.log.Warn("read monitoring state", "error", err)
	}
	b.reply(chatID, FormatGroupList(groups, monitoring))
}

func (b *Bot) handleInfo(ctx context.Context, chatID int64, args string) {
	g, pos, ok := b.lookupArgs(ctx, chatID, args, "Usage: /info <n>")
	if !ok {
		return
	}
	msg := tgbotapi.NewMessage(chatID, FormatGroupInfo(g, pos))
	msg.DisableWebPagePreview = true
	msg.ReplyMarkup = groupKeyboard(g.ID)
	b.send(msg)
}

func (b *Bot) handleRemove(ctx context.Context, chatID int64, args string) {
	g, _, ok := b.lookupArgs(ctx, chatID, args, "Usage: /remove <n>")
	if !ok {
		return
	}
	if err := b.groups.Remove(ctx, g.ID); err != nil {
		b.log.Error("remove group", "group_id", g.ID, "error", err)
		b.reply(chatID, "Failed to remove group.")
		return
	}
	b.reschedule(ctx)
	b.reply(chatID, fmt.Sprintf("Group \"%s\" removed.", g.Name))
}

func (b *Bot) handleInterval(ctx context.Context, chatID int64, args string) {
	ref, mins, err := ParseIntervalArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	g, _, ok := b.lookup(ctx, chatID, ref)
	if !ok {
		return
	}
	if _, err := b.groups.Update(ctx, g.ID, func(g *model.Group) error {
		g.Interval = mins
		return nil
	}); err != nil {
		b.log.Error("update interval", "group_id", g.ID, "error", err)
		b.reply(chatID, "Failed to update interval.")
		return
	}
	b.reschedule(ctx)
	b.reply(chatID, fmt.Sprintf("\"%s\" will be checked every %d min.", g.Name, mins))
}

func (b *Bot) handleSetActive(ctx context.Context, chatID int64, args string, active bool) {
	usage := "Usage: /pause <n>"
	if active {
		usage = "Usage: /resume <n>"
	}
	g, _, ok := b.lookupArgs(ctx, chatID, args, usage)
	if !ok {
		return
	}
	if err := b.groups.SetActive(ctx, g.ID, active); err != nil {
		b.log.Error("set active", "group_id", g.ID, "error", err)
		b.reply(chatID, "Failed to update group.")
		return
	}
	b.reschedule(ctx)
	if active {
		b.reply(chatID, fmt.Sprintf("\"%s\" resumed.", g.Name))
		return
	}
	b.reply(chatID, fmt.Sprintf("\"%s\" paused.", g.Name))
}

func (b *Bot) handleCheck(ctx context.Context, chatID int64, args string) {
	g, _, ok := b.lookupArgs(ctx, chatID, args, "Usage: /check <n>")
	if !ok {
		return
	}
	b.reply(chatID, fmt.Sprintf("Fetching the latest post from \"%s\"...", g.Name))
	resp := b.control.Handle(ctx, monitor.Request{Action: monitor.ActionFetchLatest, GroupID: g.ID})
	b.reply(chatID, FormatFetchResult(g, resp))
}

func (b *Bot) handleTest(ctx context.Context, chatID int64, args string) {
	g, _, ok := b.lookupArgs(ctx, chatID, args, "Usage: /test <n>")
	if !ok {
		return
	}
	resp := b.control.Handle(ctx, monitor.Request{Action: monitor.ActionTestWebhook, Webhook: g.Webhook})
	b.reply(chatID, FormatTestResult(resp))
}

func (b *Bot) handleMonitor(ctx context.Context, chatID int64, args string) {
	var req monitor.Request
	switch args {
	case "on":
		req.Action = monitor.ActionStart
	case "off":
		req.Action = monitor.ActionStop
	default:
		b.reply(chatID, "Usage: /monitor on|off")
		return
	}

	resp := b.control.Handle(ctx, req)
	if !resp.Success {
		b.reply(chatID, fmt.Sprintf("Failed: %s", resp.Error))
		return
	}
	if req.Action == monitor.ActionStart {
		b.reply(chatID, "Monitoring started.")
		return
	}
	b.reply(chatID, "Monitoring stopped.")
}
