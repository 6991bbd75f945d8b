package bot

import (
	"context"
	"fmt"
	"sync"

	"tgtg_watcher/internal/model"
	"tgtg_watcher/internal/notify"
)

// Channel delivers notifications through the bot of each account.
type Channel struct {
	mu   sync.RWMutex
	bots map[string]*Bot
}

// NewChannel creates an empty telegram Channel.
func NewChannel() *Channel {
	return &Channel{bots: make(map[string]*Bot)}
}

// Register makes b the delivery bot of its account.
func (c *Channel) Register(b *Bot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bots[b.accountID] = b
}

func (c *Channel) Name() string { return "telegram" }

func (c *Channel) Enabled(n model.Notifications) bool { return n.Telegram.Enabled }

// Send delivers the HTML rendering of msg to every chat of the account.
func (c *Channel) Send(ctx context.Context, acct model.Account, msg notify.Message) error {
	c.mu.RLock()
	b, ok := c.bots[acct.ID]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("telegram: no bot running: %w", notify.ErrMissingCredentials)
	}
	return b.Notify(ctx, msg.HTML)
}
