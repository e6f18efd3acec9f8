package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	cmdCheck = "check"
	cmdTest  = "test"

	cbDeleteConfirm = "delete_confirm"
	cbDelete        = "delete"
)

// groupKeyboard offers the common actions for one group. Callback data
// carries the group id, which stays valid when list positions shift.
func groupKeyboard(id string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Fetch latest", cmdCheck+":"+id),
			tgbotapi.NewInlineKeyboardButtonData("Test webhook", cmdTest+":"+id),
			tgbotapi.NewInlineKeyboardButtonData("Delete", cbDeleteConfirm+":"+id),
		),
	)
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil {
		return
	}
	chatID := cb.Message.Chat.ID

	callback := tgbotapi.NewCallback(cb.ID, "")
	if _, err := b.api.Send(callback); err != nil {
		b.log.Error("send callback ack", "error", err)
	}

	action, id, ok := strings.Cut(cb.Data, ":")
	if !ok || id == "" {
		return
	}

	b.log.Info("callback", "action", action, "group_id", id, "chat_id", chatID)

	switch action {
	case cmdCheck:
		b.handleCheck(ctx, chatID, id)
	case cmdTest:
		b.handleTest(ctx, chatID, id)
	case cbDeleteConfirm:
		g, _, ok := b.lookup(ctx, chatID, id)
		if !ok {
			return
		}
		msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("Delete \"%s\"? This cannot be undone.", g.Name))
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Yes, delete", cbDelete+":"+g.ID),
				tgbotapi.NewInlineKeyboardButtonData("Cancel", "noop:0"),
			),
		)
		b.send(msg)
	case cbDelete:
		b.handleRemove(ctx, chatID, id)
	}
}
