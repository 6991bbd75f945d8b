package bot

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tgtg_watcher/internal/filter"
	"tgtg_watcher/internal/model"
)

const (
	markOn  = "✅"
	markOff = "🚫"
)

const welcomeText = `👋 I am the TooGoodToGo bot.
🚨 I will tell you whenever the stock of your favorites changes.
To login into your TooGoodToGo account run:
/login
Or with a new email address:
/login email@example.com

If you get tired of my spamming you can (temporarily) disable me with:
/stop`

const stopText = `😐 Ok.. I get it. Too much is too much. I'll stop bothering you now. 🤫
You can enable me again with:
/start`

// FormatLoginStarted explains the next login step.
func FormatLoginStarted(email string) string {
	return fmt.Sprintf(`Will start the login process with the email address: %s.
Open the login email on your PC and click the link.
Don't open the email on a phone that has the TooGoodToGo app installed. That won't work.
When you clicked the link run:
/login_continue`, email)
}

// FormatConfig shows whether the bot is enabled and the message filter of acct.
func FormatConfig(acct model.Account) string {
	var b strings.Builder
	b.WriteString("🔧 Of course!\n")
	fmt.Fprintf(&b, "Enabled: %s\n", mark(acct.Notifications.Telegram.Enabled))
	for _, t := range toggles {
		fmt.Fprintf(&b, "%s: %s\n",
			strings.TrimSuffix(t.Description, "."), mark(filter.Get(acct.MessageFilter, t.Field)))
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatToggle confirms a message filter change.
func FormatToggle(subject string, on bool) string {
	if on {
		return fmt.Sprintf("%s %s will be sent.", markOn, subject)
	}
	return fmt.Sprintf("❌ %s will not be sent.", subject)
}

// FormatHelp lists the bot commands.
func FormatHelp(cmds []tgbotapi.BotCommand) string {
	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, c := range cmds {
		fmt.Fprintf(&b, "/%s — %s\n", c.Command, c.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

func mark(on bool) string {
	if on {
		return markOn
	}
	return markOff
}
