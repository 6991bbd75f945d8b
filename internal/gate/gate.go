// Package gate derives whether any notification channel of an account would
// consume a poll result.
package gate

import (
	"sync"

	"tgtg_watcher/internal/model"
)

// Open reports whether at least one channel of n is listening.
// Telegram only counts while it has active chats.
func Open(n model.Notifications, activeChats int) bool {
	return n.Console.Enabled ||
		n.Desktop.Enabled ||
		n.IFTTT.Enabled ||
		n.Gotify.Enabled ||
		n.Email.Enabled ||
		n.Ntfy.Enabled ||
		(n.Telegram.Enabled && activeChats > 0)
}

// Gate holds the listening state of one account and notifies subscribers on change.
type Gate struct {
	mu          sync.Mutex
	notify      model.Notifications
	activeChats int
	value       bool
	subs        []chan bool
}

// New creates a Gate for the given channel configuration.
func New(n model.Notifications, activeChats int) *Gate {
	return &Gate{
		notify:      n,
		activeChats: activeChats,
		value:       Open(n, activeChats),
	}
}

// Value returns the current state.
func (g *Gate) Value() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

// Update replaces the channel configuration.
func (g *Gate) Update(n model.Notifications) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.notify = n
	g.recompute()
}

// SetActiveChats replaces the number of telegram chats receiving notifications.
func (g *Gate) SetActiveChats(count int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.activeChats = count
	g.recompute()
}

// Subscribe returns a channel that yields the current state immediately and
// then every change. A slow reader only sees the latest state.
func (g *Gate) Subscribe() <-chan bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	ch := make(chan bool, 1)
	ch <- g.value
	g.subs = append(g.subs, ch)
	return ch
}

func (g *Gate) recompute() {
	v := Open(g.notify, g.activeChats)
	if v == g.value {
		return
	}
	g.value = v
	for _, ch := range g.subs {
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}
