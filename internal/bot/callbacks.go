package bot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tgtg_watcher/internal/filter"
)

const callbackToggle = "toggle"

func toggleKeyboard() tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(toggles))
	for _, t := range toggles {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(t.Subject, callbackToggle+":"+string(t.Field)),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func (b *Bot) handleCallback(_ context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil {
		return
	}
	chatID := cb.Message.Chat.ID

	callback := tgbotapi.NewCallback(cb.ID, "")
	if _, err := b.api.Request(callback); err != nil {
		b.log.Error("send callback ack", "error", err)
	}

	action, value, ok := strings.Cut(cb.Data, ":")
	if !ok {
		return
	}

	b.log.Info("callback", "action", action, "value", value, "chat_id", chatID)

	switch action {
	case callbackToggle:
		if t, ok := toggleByField(filter.Field(value)); ok {
			b.handleToggle(chatID, t)
		}
	}
}
