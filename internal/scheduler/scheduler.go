// Package scheduler runs one polling pipeline per account: it refreshes the
// session, polls favorites while someone is listening, and hands the result
// to change detection and delivery.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"tgtg_watcher/internal/api"
	"tgtg_watcher/internal/gate"
	"tgtg_watcher/internal/model"
	"tgtg_watcher/internal/session"
)

// Lower bounds of the configurable intervals.
const (
	MinPollInterval    = 15 * time.Second
	MinRefreshInterval = time.Hour
)

// AccountSource provides the configured accounts.
type AccountSource interface {
	Accounts() []model.Account
	Account(id string) (model.Account, bool)
	Subscribe() <-chan struct{}
}

// Sessions is the session lifecycle used by pipelines.
type Sessions interface {
	Current(ctx context.Context, accountID string) (*model.Session, error)
	Refresh(ctx context.Context, accountID string) (*model.Session, error)
}

// Fetcher lists the favorite items of a user.
type Fetcher interface {
	ListFavorites(ctx context.Context, accessToken, userID string, o model.Origin) (model.Snapshot, error)
}

// Classifier selects the interesting items of a snapshot.
type Classifier interface {
	Classify(ctx context.Context, acct model.Account, latest model.Snapshot) []model.Item
}

// Notifier delivers interesting items.
type Notifier interface {
	Dispatch(ctx context.Context, acct model.Account, items []model.Item)
}

// GateSource returns the listening gate of an account.
type GateSource interface {
	Gate(accountID string) *gate.Gate
}

// Scheduler owns the per-account pipelines.
type Scheduler struct {
	accounts AccountSource
	sessions Sessions
	fetcher  Fetcher
	detector Classifier
	notifier Notifier
	gates    GateSource
	log      *slog.Logger

	minPoll    time.Duration
	minRefresh time.Duration
	newTicker  func(d time.Duration) ticker

	mu    sync.Mutex
	kicks map[string]chan struct{}
}

// New creates a Scheduler.
func New(accounts AccountSource, sessions Sessions, fetcher Fetcher, detector Classifier,
	notifier Notifier, gates GateSource, log *slog.Logger) *Scheduler {
	return &Scheduler{
		accounts:   accounts,
		sessions:   sessions,
		fetcher:    fetcher,
		detector:   detector,
		notifier:   notifier,
		gates:      gates,
		log:        log,
		minPoll:    MinPollInterval,
		minRefresh: MinRefreshInterval,
		newTicker:  newTimeTicker,
		kicks:      make(map[string]chan struct{}),
	}
}

// SetMinIntervals overrides the interval lower bounds.
func (s *Scheduler) SetMinIntervals(poll, refresh time.Duration) {
	s.minPoll = poll
	s.minRefresh = refresh
}

// Run starts a pipeline for every account, including accounts added while
// running, and blocks until ctx is cancelled and all pipelines stopped.
func (s *Scheduler) Run(ctx context.Context) {
	updates := s.accounts.Subscribe()
	started := make(map[string]bool)
	var wg sync.WaitGroup

	startNew := func() {
		for _, acct := range s.accounts.Accounts() {
			if started[acct.ID] {
				continue
			}
			started[acct.ID] = true
			kick := s.kickChan(acct.ID)
			acct := acct
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.runPipeline(ctx, acct, kick)
			}()
		}
	}

	startNew()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case <-updates:
			startNew()
		}
	}
}

// RefreshNow asks the pipeline of an account to refresh its session
// immediately, for example right after a login.
func (s *Scheduler) RefreshNow(accountID string) {
	select {
	case s.kickChan(accountID) <- struct{}{}:
	default:
	}
}

func (s *Scheduler) kickChan(accountID string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.kicks[accountID]
	if !ok {
		ch = make(chan struct{}, 1)
		s.kicks[accountID] = ch
	}
	return ch
}

func (s *Scheduler) runPipeline(ctx context.Context, acct model.Account, kick <-chan struct{}) {
	log := s.log.With("account_id", acct.ID, "email", acct.Email)
	pollEvery := clamp(acct.API.PollingMs, s.minPoll)
	refreshEvery := clamp(acct.API.AuthenticationMs, s.minRefresh)
	log.Info("pipeline started", "poll_interval", pollEvery, "refresh_interval", refreshEvery)

	var wg sync.WaitGroup
	defer wg.Wait()

	refreshed := make(chan struct{}, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.refreshLoop(ctx, acct.ID, refreshEvery, kick, refreshed, log)
	}()

	fetches := make(chan struct{}, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-fetches:
				s.fetch(ctx, acct.ID, log)
			}
		}
	}()

	gateCh := s.gates.Gate(acct.ID).Subscribe()
	polls := s.newTicker(pollEvery)
	defer polls.Stop()

	var j joinLatest
	emit := func(v joined, ok bool) {
		if !ok {
			return
		}
		if !v.Open {
			log.Debug("poll skipped, no listeners")
			return
		}
		select {
		case fetches <- struct{}{}:
		default:
			log.Debug("fetch already pending")
		}
	}

	emit(j.poll())
	for {
		select {
		case <-ctx.Done():
			log.Info("pipeline stopped")
			return
		case open := <-gateCh:
			log.Debug("listener state changed", "open", open)
			emit(j.gate(open))
		case <-polls.Chan():
			emit(j.poll())
		case <-refreshed:
			emit(j.refresh())
		}
	}
}

// refreshLoop refreshes the session immediately and then on every tick.
// Failures are logged and swallowed; only successes signal refreshed.
func (s *Scheduler) refreshLoop(ctx context.Context, accountID string, every time.Duration,
	kick <-chan struct{}, refreshed chan<- struct{}, log *slog.Logger) {
	refreshes := s.newTicker(every)
	defer refreshes.Stop()

	for {
		if _, err := s.sessions.Refresh(ctx, accountID); err != nil {
			switch {
			case ctx.Err() != nil:
				return
			case errors.Is(err, session.ErrNotLoggedIn):
				log.Warn("refresh session", "error", err)
			default:
				log.Error("refresh session", "error", err)
			}
		} else {
			log.Debug("session refreshed")
			select {
			case refreshed <- struct{}{}:
			default:
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-refreshes.Chan():
		case <-kick:
		}
	}
}

func (s *Scheduler) fetch(ctx context.Context, accountID string, log *slog.Logger) {
	acct, ok := s.accounts.Account(accountID)
	if !ok {
		log.Warn("account no longer configured")
		return
	}
	if !s.gates.Gate(accountID).Value() {
		log.Debug("poll skipped, no listeners")
		return
	}

	sess, err := s.sessions.Current(ctx, accountID)
	if err != nil {
		log.Error("load session", "error", err)
		return
	}
	if !sess.IsAuthenticated() {
		log.Debug("poll skipped, not logged in")
		return
	}

	snap, err := s.fetcher.ListFavorites(ctx, sess.AccessToken, sess.UserID, acct.Origin)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, api.ErrNoItems) {
			log.Warn("list favorites", "error", err)
		} else {
			log.Error("list favorites", "error", err)
		}
		return
	}

	items := s.detector.Classify(ctx, acct, snap)
	log.Debug("favorites polled", "items", len(snap), "interesting", len(items))
	if len(items) == 0 {
		return
	}
	log.Info("stock changed", "count", len(items))
	s.notifier.Dispatch(ctx, acct, items)
}

type ticker interface {
	Chan() <-chan time.Time
	Stop()
}

type timeTicker struct{ *time.Ticker }

func newTimeTicker(d time.Duration) ticker { return timeTicker{time.NewTicker(d)} }

func (t timeTicker) Chan() <-chan time.Time { return t.C }

func clamp(ms int64, floor time.Duration) time.Duration {
	d := time.Duration(ms) * time.Millisecond
	if d < floor {
		return floor
	}
	return d
}
