// Package detector keeps the latest snapshot of every account and reports
// the items whose stock change passes the account's message filter.
package detector

import (
	"context"
	"log/slog"
	"sync"

	"tgtg_watcher/internal/filter"
	"tgtg_watcher/internal/model"
)

// SnapshotStore persists baselines across restarts.
type SnapshotStore interface {
	LoadSnapshot(ctx context.Context, accountID string) (model.Snapshot, error)
	SaveSnapshot(ctx context.Context, accountID string, snap model.Snapshot) error
}

// Detector owns the per-account baselines. Classification and replacement of
// one account's baseline happen under that account's lock.
type Detector struct {
	store SnapshotStore
	log   *slog.Logger

	mu       sync.Mutex
	accounts map[string]*baseline
}

type baseline struct {
	mu     sync.Mutex
	loaded bool
	items  map[string]model.Item
	order  []string
}

// New creates a Detector. store may be nil to keep baselines in memory only.
func New(store SnapshotStore, log *slog.Logger) *Detector {
	return &Detector{
		store:    store,
		log:      log,
		accounts: make(map[string]*baseline),
	}
}

// Classify returns the entries of latest that the account's message filter
// considers interesting, in the order of latest, and then replaces the stored
// baseline with latest. Items missing from the baseline compare against zero.
// Repeated item ids collapse onto their first position with the last value.
func (d *Detector) Classify(ctx context.Context, acct model.Account, latest model.Snapshot) []model.Item {
	b := d.baseline(acct.ID)
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.loaded {
		d.warm(ctx, acct.ID, b)
	}

	items, order := index(latest)

	var out []model.Item
	for _, id := range order {
		cur := items[id]
		prev := b.items[id].Available
		t := filter.Classify(cur.Available, prev)
		if filter.Interesting(acct.MessageFilter, t) {
			out = append(out, cur)
		}
		d.log.Debug("classified item",
			"account_id", acct.ID, "item_id", id, "transition", t.String(),
			"previous", prev, "current", cur.Available)
	}

	b.items = items
	b.order = order
	d.persist(ctx, acct.ID, b)
	return out
}

// Baseline returns a copy of the stored snapshot of an account.
func (d *Detector) Baseline(ctx context.Context, accountID string) model.Snapshot {
	b := d.baseline(accountID)
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.loaded {
		d.warm(ctx, accountID, b)
	}
	return b.snapshot()
}

func (d *Detector) baseline(accountID string) *baseline {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, ok := d.accounts[accountID]
	if !ok {
		b = &baseline{items: map[string]model.Item{}}
		d.accounts[accountID] = b
	}
	return b
}

func (d *Detector) warm(ctx context.Context, accountID string, b *baseline) {
	b.loaded = true
	if d.store == nil {
		return
	}
	snap, err := d.store.LoadSnapshot(ctx, accountID)
	if err != nil {
		d.log.Error("load snapshot", "account_id", accountID, "error", err)
		return
	}
	b.items, b.order = index(snap)
}

func (d *Detector) persist(ctx context.Context, accountID string, b *baseline) {
	if d.store == nil {
		return
	}
	if err := d.store.SaveSnapshot(ctx, accountID, b.snapshot()); err != nil {
		d.log.Error("save snapshot", "account_id", accountID, "error", err)
	}
}

func (b *baseline) snapshot() model.Snapshot {
	snap := make(model.Snapshot, 0, len(b.order))
	for _, id := range b.order {
		snap = append(snap, b.items[id])
	}
	return snap
}

func index(snap model.Snapshot) (map[string]model.Item, []string) {
	items := make(map[string]model.Item, len(snap))
	order := make([]string, 0, len(snap))
	for _, it := range snap {
		if _, ok := items[it.ID]; !ok {
			order = append(order, it.ID)
		}
		items[it.ID] = it
	}
	return items, order
}
