package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tgtg_watcher/internal/filter"
	"tgtg_watcher/internal/model"
)

const (
	cmdStart         = "start"
	cmdStop          = "stop"
	cmdHelp          = "help"
	cmdLogin         = "login"
	cmdLoginContinue = "login_continue"
	cmdConfig        = "config"
)

// toggle binds a command to the policy flag it flips.
type toggle struct {
	Command     string
	Field       filter.Field
	Description string
	Subject     string
}

var toggles = []toggle{
	{Command: "show_unchanged", Field: filter.FieldShowUnchanged, Description: "Activate alert for unchanged stock.", Subject: "Unchanged stock"},
	{Command: "show_decrease", Field: filter.FieldShowDecrease, Description: "Activate alert for decreasing stock.", Subject: "Decreasing stock"},
	{Command: "show_decrease_to_zero", Field: filter.FieldShowDecreaseToZero, Description: "Activate alert for sold out.", Subject: "Sold out"},
	{Command: "show_increase", Field: filter.FieldShowIncrease, Description: "Activate alert for increasing stock.", Subject: "Increasing stock"},
	{Command: "show_increase_from_zero", Field: filter.FieldShowIncreaseFromZero, Description: "Activate alert for new market available.", Subject: "New market available"},
}

func toggleByCommand(cmd string) (toggle, bool) {
	for _, t := range toggles {
		if t.Command == cmd {
			return t, true
		}
	}
	return toggle{}, false
}

func toggleByField(f filter.Field) (toggle, bool) {
	for _, t := range toggles {
		if t.Field == f {
			return t, true
		}
	}
	return toggle{}, false
}

func botCommands() []tgbotapi.BotCommand {
	cmds := make([]tgbotapi.BotCommand, 0, len(toggles)+6)
	for _, t := range toggles {
		cmds = append(cmds, tgbotapi.BotCommand{Command: t.Command, Description: t.Description})
	}
	return append(cmds,
		tgbotapi.BotCommand{Command: cmdStart, Description: "Activate bot."},
		tgbotapi.BotCommand{Command: cmdLogin, Description: "Interactively login to your TooGoodToGo account."},
		tgbotapi.BotCommand{Command: cmdLoginContinue, Description: "Continue login process after clicking the link."},
		tgbotapi.BotCommand{Command: cmdStop, Description: "Deactivate bot."},
		tgbotapi.BotCommand{Command: cmdConfig, Description: "Show current configuration."},
		tgbotapi.BotCommand{Command: cmdHelp, Description: "List all commands."},
	)
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	c := &model.Chat{AccountID: b.accountID, ChatID: chatID}
	if msg.From != nil {
		c.FirstName = msg.From.FirstName
		c.LastName = msg.From.LastName
	}
	if err := b.store.AddChat(ctx, c); err != nil {
		b.log.Error("add chat", "chat_id", chatID, "error", err)
		b.reply(chatID, fmt.Sprintf("Failed to register chat: %v", err))
		return
	}
	b.log.Info("added chat", "chat_id", chatID, "first_name", c.FirstName, "last_name", c.LastName)
	b.syncChats(ctx)

	if _, err := b.api.Request(tgbotapi.NewSetMyCommands(botCommands()...)); err != nil {
		b.log.Warn("set bot commands", "error", err)
	}

	b.reply(chatID, welcomeText)

	if last := b.lastNotification(); last != "" {
		if err := b.sendHTML(ctx, chatID, last); err != nil {
			b.log.Error("resend last notification", "chat_id", chatID, "error", err)
		}
	}
}

func (b *Bot) handleStop(ctx context.Context, chatID int64) {
	b.reply(chatID, stopText)
	b.removeChat(ctx, chatID)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, FormatHelp(botCommands()))
}

func (b *Bot) handleLogin(ctx context.Context, chatID int64, args string) {
	email, err := ParseLoginArgs(args)
	if err != nil {
		b.reply(chatID, "Please use a valid email address.")
		return
	}

	var acct model.Account
	if email != "" {
		acct, err = b.accounts.UpdateAccount(b.accountID, func(a *model.Account) { a.Email = email })
		if err != nil {
			b.reply(chatID, fmt.Sprintf("Failed to save email: %v", err))
			return
		}
	} else {
		var ok bool
		acct, ok = b.accounts.Account(b.accountID)
		if !ok || acct.Email == "" {
			b.reply(chatID, "Please use a valid email address.")
			return
		}
	}

	if _, err := b.logins.RequestLogin(ctx, acct); err != nil {
		b.log.Error("request login", "error", err)
		b.reply(chatID, fmt.Sprintf("Something went wrong: %v", err))
		return
	}
	b.reply(chatID, FormatLoginStarted(acct.Email))
}

func (b *Bot) handleLoginContinue(ctx context.Context, chatID int64) {
	acct, ok := b.accounts.Account(b.accountID)
	if !ok {
		b.reply(chatID, "Account is no longer configured.")
		return
	}
	if _, err := b.logins.ConfirmLogin(ctx, acct); err != nil {
		b.log.Error("confirm login", "error", err)
		b.reply(chatID, fmt.Sprintf("Did not get an access token: %v", err))
		return
	}
	b.reply(chatID, "You are now successfully logged in!")
	if b.onLogin != nil {
		b.onLogin(b.accountID)
	}
}

func (b *Bot) handleConfig(chatID int64) {
	acct, ok := b.accounts.Account(b.accountID)
	if !ok {
		b.reply(chatID, "Account is no longer configured.")
		return
	}
	msg := tgbotapi.NewMessage(chatID, FormatConfig(acct))
	msg.ReplyMarkup = toggleKeyboard()
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send config", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleToggle(chatID int64, t toggle) {
	var on bool
	_, err := b.accounts.UpdateAccount(b.accountID, func(a *model.Account) {
		on, _ = filter.Toggle(&a.MessageFilter, t.Field)
	})
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Failed to update filter: %v", err))
		return
	}
	b.log.Info("message filter toggled", "field", string(t.Field), "enabled", on)
	b.reply(chatID, FormatToggle(t.Subject, on))
}
