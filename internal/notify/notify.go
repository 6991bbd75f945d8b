// Package notify renders interesting items and delivers them to the enabled
// notification channels of an account.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"tgtg_watcher/internal/model"
)

// ErrMissingCredentials is returned by a channel whose configuration lacks
// required settings.
var ErrMissingCredentials = errors.New("missing channel credentials")

// Channel is a notification backend.
type Channel interface {
	Name() string
	Enabled(n model.Notifications) bool
	Send(ctx context.Context, acct model.Account, msg Message) error
}

// DeliveryError is the failure of one channel to deliver one message.
type DeliveryError struct {
	Channel string
	ItemID  string
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s: item %s: %v", e.Channel, e.ItemID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Dispatcher fans messages out to channels. Each channel runs independently,
// so one failing channel never blocks or aborts the others.
type Dispatcher struct {
	channels []Channel
	log      *slog.Logger
	now      func() time.Time
	wg       sync.WaitGroup
}

// NewDispatcher creates a Dispatcher over the given channels.
func NewDispatcher(log *slog.Logger, channels ...Channel) *Dispatcher {
	return &Dispatcher{channels: channels, log: log, now: time.Now}
}

// Dispatch delivers items in the background.
func (d *Dispatcher) Dispatch(ctx context.Context, acct model.Account, items []model.Item) {
	if len(items) == 0 {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		_ = d.DispatchSync(ctx, acct, items)
	}()
}

// Wait blocks until background deliveries finished or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DispatchSync delivers every item to every enabled channel and returns the
// combined delivery errors. Each failure is logged.
func (d *Dispatcher) DispatchSync(ctx context.Context, acct model.Account, items []model.Item) error {
	enabled := d.enabled(acct.Notifications)
	if len(enabled) == 0 {
		return nil
	}

	loc := acct.Origin.Location()
	var (
		mu   sync.Mutex
		errs error
	)
	for _, it := range items {
		msg := Render(it, loc, d.now())

		var g errgroup.Group
		for _, ch := range enabled {
			ch := ch
			g.Go(func() error {
				if err := ch.Send(ctx, acct, msg); err != nil {
					d.log.Error("send notification",
						"account_id", acct.ID, "channel", ch.Name(), "item_id", it.ID, "error", err)
					mu.Lock()
					errs = multierr.Append(errs, &DeliveryError{Channel: ch.Name(), ItemID: it.ID, Err: err})
					mu.Unlock()
					return nil
				}
				d.log.Debug("notification sent", "account_id", acct.ID, "channel", ch.Name(), "item_id", it.ID)
				return nil
			})
		}
		_ = g.Wait()
	}
	return errs
}

func (d *Dispatcher) enabled(n model.Notifications) []Channel {
	var out []Channel
	for _, ch := range d.channels {
		if ch.Enabled(n) {
			out = append(out, ch)
		}
	}
	return out
}
