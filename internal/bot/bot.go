// Package bot implements the per-account telegram bot: chat registration,
// login and filter commands, and notification delivery.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"

	"tgtg_watcher/internal/model"
	"tgtg_watcher/internal/storage"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Accounts reads and updates the accounts file.
type Accounts interface {
	Account(id string) (model.Account, bool)
	UpdateAccount(id string, fn func(a *model.Account)) (model.Account, error)
}

// Logins runs the two steps of the email login.
type Logins interface {
	RequestLogin(ctx context.Context, acct model.Account) (*model.Session, error)
	ConfirmLogin(ctx context.Context, acct model.Account) (*model.Session, error)
}

// ChatCounter receives the number of chats subscribed to an account.
type ChatCounter interface {
	SetActiveChats(count int)
}

// Bot is the telegram bot of one account.
type Bot struct {
	api       telegramAPI
	accountID string
	accounts  Accounts
	logins    Logins
	store     storage.Storage
	chats     ChatCounter
	limiter   *rate.Limiter
	log       *slog.Logger

	onLogin func(accountID string)

	mu          sync.Mutex
	lastMessage string
}

// New creates the Bot of accountID with the given telegram token.
func New(token, accountID string, accounts Accounts, logins Logins, store storage.Storage,
	chats ChatCounter, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, &http.Client{Timeout: 90 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return newBot(api, accountID, accounts, logins, store, chats, log), nil
}

func newBot(api telegramAPI, accountID string, accounts Accounts, logins Logins, store storage.Storage,
	chats ChatCounter, log *slog.Logger) *Bot {
	return &Bot{
		api:       api,
		accountID: accountID,
		accounts:  accounts,
		logins:    logins,
		store:     store,
		chats:     chats,
		// Telegram allows about 30 messages per second per bot.
		limiter: rate.NewLimiter(rate.Every(50*time.Millisecond), 1),
		log:     log.With("account_id", accountID),
	}
}

// OnLogin registers fn to be called after a login through the bot succeeded.
func (b *Bot) OnLogin(fn func(accountID string)) {
	b.onLogin = fn
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	b.syncChats(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.CallbackQuery != nil {
				b.handleCallback(ctx, update.CallbackQuery)
				continue
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			b.handleCommand(ctx, update.Message)
		}
	}
}

// Notify sends an HTML message to every subscribed chat. Chats that blocked
// the bot are unsubscribed.
func (b *Bot) Notify(ctx context.Context, html string) error {
	b.mu.Lock()
	b.lastMessage = html
	b.mu.Unlock()

	chats, err := b.store.ListChats(ctx, b.accountID)
	if err != nil {
		return fmt.Errorf("list chats: %w", err)
	}

	var errs error
	for _, c := range chats {
		if err := b.sendHTML(ctx, c.ChatID, html); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("chat %d: %w", c.ChatID, err))
		}
	}
	return errs
}

func (b *Bot) sendHTML(ctx context.Context, chatID int64, html string) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(chatID, html)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	_, err := b.api.Send(msg)
	if err == nil {
		return nil
	}
	if isBlocked(err) {
		b.log.Info("chat blocked the bot", "chat_id", chatID)
		b.removeChat(ctx, chatID)
		return nil
	}
	return err
}

func isBlocked(err error) bool {
	var tgErr *tgbotapi.Error
	return errors.As(err, &tgErr) && tgErr.Code == http.StatusForbidden
}

func (b *Bot) lastNotification() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastMessage
}

// SendMessage sends a plain text message to the given chat.
func (b *Bot) SendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.SendMessage(chatID, text)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case cmdStart:
		b.handleStart(ctx, msg)
	case cmdStop:
		b.handleStop(ctx, chatID)
	case cmdHelp:
		b.handleHelp(chatID)
	case cmdLogin:
		b.handleLogin(ctx, chatID, args)
	case cmdLoginContinue:
		b.handleLoginContinue(ctx, chatID)
	case cmdConfig:
		b.handleConfig(chatID)
	default:
		if t, ok := toggleByCommand(cmd); ok {
			b.handleToggle(chatID, t)
			return
		}
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}

func (b *Bot) syncChats(ctx context.Context) {
	n, err := b.store.CountChats(ctx, b.accountID)
	if err != nil {
		b.log.Error("count chats", "error", err)
		return
	}
	b.chats.SetActiveChats(n)
}

func (b *Bot) removeChat(ctx context.Context, chatID int64) {
	removed, err := b.store.RemoveChat(ctx, b.accountID, chatID)
	if err != nil {
		b.log.Error("remove chat", "chat_id", chatID, "error", err)
		return
	}
	if removed {
		b.log.Info("removed chat", "chat_id", chatID)
	}
	b.syncChats(ctx)
}
