package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"tgtg_watcher/internal/api"
	"tgtg_watcher/internal/detector"
	"tgtg_watcher/internal/gate"
	"tgtg_watcher/internal/model"
	"tgtg_watcher/internal/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockAccounts struct {
	mu       sync.Mutex
	accounts map[string]model.Account
	updates  chan struct{}
}

func newMockAccounts(accts ...model.Account) *mockAccounts {
	m := &mockAccounts{accounts: make(map[string]model.Account), updates: make(chan struct{}, 1)}
	for _, a := range accts {
		m.accounts[a.ID] = a
	}
	return m
}

func (m *mockAccounts) Accounts() []model.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *mockAccounts) Account(id string) (model.Account, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	return a, ok
}

func (m *mockAccounts) Subscribe() <-chan struct{} { return m.updates }

func (m *mockAccounts) add(a model.Account) {
	m.mu.Lock()
	m.accounts[a.ID] = a
	m.mu.Unlock()
	m.updates <- struct{}{}
}

type mockSessions struct {
	mu           sync.Mutex
	refreshErr   error
	refreshCalls map[string]int
}

func (m *mockSessions) Current(_ context.Context, accountID string) (*model.Session, error) {
	return &model.Session{
		AccountID: accountID, State: model.SessionAuthenticated,
		UserID: "user-" + accountID, AccessToken: "access-" + accountID, RefreshToken: "refresh",
	}, nil
}

func (m *mockSessions) Refresh(ctx context.Context, accountID string) (*model.Session, error) {
	m.mu.Lock()
	if m.refreshCalls == nil {
		m.refreshCalls = make(map[string]int)
	}
	m.refreshCalls[accountID]++
	err := m.refreshErr
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return m.Current(ctx, accountID)
}

func (m *mockSessions) setRefreshErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshErr = err
}

func (m *mockSessions) refreshes(accountID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshCalls[accountID]
}

type mockFetcher struct {
	mu     sync.Mutex
	snaps  []model.Snapshot
	errs   []error
	tokens []string
}

func (m *mockFetcher) ListFavorites(_ context.Context, accessToken, _ string, _ model.Origin) (model.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = append(m.tokens, accessToken)
	n := len(m.tokens) - 1
	if n < len(m.errs) && m.errs[n] != nil {
		return nil, m.errs[n]
	}
	if len(m.snaps) == 0 {
		return model.Snapshot{}, nil
	}
	return m.snaps[min(n, len(m.snaps)-1)], nil
}

func (m *mockFetcher) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tokens)
}

type mockClassifier struct {
	mu    sync.Mutex
	seen  []model.Snapshot
	inner *detector.Detector
}

func (m *mockClassifier) Classify(ctx context.Context, acct model.Account, latest model.Snapshot) []model.Item {
	m.mu.Lock()
	m.seen = append(m.seen, latest)
	m.mu.Unlock()
	return m.inner.Classify(ctx, acct, latest)
}

func (m *mockClassifier) snapshots() []model.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Snapshot(nil), m.seen...)
}

type mockNotifier struct {
	mu    sync.Mutex
	items []string
}

func (m *mockNotifier) Dispatch(_ context.Context, acct model.Account, items []model.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range items {
		m.items = append(m.items, acct.ID+"/"+it.ID)
	}
}

func (m *mockNotifier) got() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.items...)
}

type harness struct {
	accounts *mockAccounts
	sessions *mockSessions
	fetcher  *mockFetcher
	detector *mockClassifier
	notifier *mockNotifier
	gates    *gate.Registry
	sched    *Scheduler
}

func newHarness(accts ...model.Account) *harness {
	h := &harness{
		accounts: newMockAccounts(accts...),
		sessions: &mockSessions{},
		fetcher:  &mockFetcher{},
		detector: &mockClassifier{inner: detector.New(nil, testLogger())},
		notifier: &mockNotifier{},
		gates:    gate.NewRegistry(),
	}
	h.gates.Sync(accts)
	h.sched = New(h.accounts, h.sessions, h.fetcher, h.detector, h.notifier, h.gates, testLogger())
	h.sched.SetMinIntervals(time.Millisecond, time.Millisecond)
	return h
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.sched.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("scheduler did not stop")
		}
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

type manualTicker struct{ ch chan time.Time }

func (m *manualTicker) Chan() <-chan time.Time { return m.ch }
func (m *manualTicker) Stop()                  {}

// manualClock hands out unbuffered tickers keyed by interval. A completed send
// means the previous tick has been fully handled by its loop.
type manualClock struct {
	mu      sync.Mutex
	tickers map[time.Duration]*manualTicker
}

func (h *harness) useManualClock() *manualClock {
	c := &manualClock{tickers: make(map[time.Duration]*manualTicker)}
	h.sched.newTicker = c.newTicker
	return c
}

func (c *manualClock) newTicker(d time.Duration) ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTicker{ch: make(chan time.Time)}
	c.tickers[d] = t
	return t
}

func (c *manualClock) tick(t *testing.T, d time.Duration, n int) {
	t.Helper()
	var mt *manualTicker
	waitFor(t, "ticker", func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		mt = c.tickers[d]
		return mt != nil
	})
	for i := 0; i < n; i++ {
		select {
		case mt.ch <- time.Now():
		case <-time.After(2 * time.Second):
			t.Fatalf("tick %d of %s not consumed", i+1, d)
		}
	}
}

func listening(id string, pollMs int64) model.Account {
	return model.Account{
		ID:            id,
		API:           model.Intervals{AuthenticationMs: 3_600_000, PollingMs: pollMs},
		MessageFilter: model.MessageFilter{ShowIncreaseFromZero: true},
		Notifications: model.Notifications{Console: model.ConsoleConfig{Enabled: true}},
	}
}

func TestPipelineDeliversInterestingItems(t *testing.T) {
	h := newHarness(listening("acc-1", 10))
	h.fetcher.snaps = []model.Snapshot{
		{{ID: "A", Available: 10}},
		{{ID: "A", Available: 10}, {ID: "B", Available: 2}},
	}
	h.run(t)

	waitFor(t, "two notifications", func() bool { return len(h.notifier.got()) >= 2 })
	if diff := cmp.Diff([]string{"acc-1/A", "acc-1/B"}, h.notifier.got()[:2]); diff != "" {
		t.Errorf("notifications mismatch (-want +got):\n%s", diff)
	}
}

const (
	testPollEvery    = 5 * time.Millisecond
	testRefreshEvery = time.Hour
)

func TestNoFetchWhileGateClosed(t *testing.T) {
	acct := listening("acc-1", 5)
	acct.Notifications = model.Notifications{}
	h := newHarness(acct)
	clock := h.useManualClock()
	h.run(t)

	waitFor(t, "refresh", func() bool { return h.sessions.refreshes("acc-1") > 0 })
	clock.tick(t, testPollEvery, 10)
	if n := h.fetcher.calls(); n != 0 {
		t.Fatalf("expected no fetch after 10 polls with the gate closed, got %d", n)
	}

	h.gates.Gate("acc-1").Update(model.Notifications{Gotify: model.GotifyConfig{Enabled: true}})
	clock.tick(t, testPollEvery, 1)
	waitFor(t, "fetch after gate opened", func() bool { return h.fetcher.calls() > 0 })
}

func TestTelegramChatsOpenGate(t *testing.T) {
	acct := listening("acc-1", 5)
	acct.Notifications = model.Notifications{Telegram: model.TelegramConfig{Enabled: true}}
	h := newHarness(acct)
	clock := h.useManualClock()
	h.run(t)

	waitFor(t, "refresh", func() bool { return h.sessions.refreshes("acc-1") > 0 })
	clock.tick(t, testPollEvery, 10)
	if n := h.fetcher.calls(); n != 0 {
		t.Fatalf("expected no fetch without active chats, got %d", n)
	}

	h.gates.Gate("acc-1").SetActiveChats(1)
	clock.tick(t, testPollEvery, 1)
	waitFor(t, "fetch after chat registered", func() bool { return h.fetcher.calls() > 0 })
}

func TestNoFetchBeforeFirstSuccessfulRefresh(t *testing.T) {
	h := newHarness(listening("acc-1", 5))
	h.sessions.setRefreshErr(session.ErrNotLoggedIn)
	clock := h.useManualClock()
	h.run(t)

	waitFor(t, "first refresh attempt", func() bool { return h.sessions.refreshes("acc-1") == 1 })
	clock.tick(t, testPollEvery, 5)
	clock.tick(t, testRefreshEvery, 1)
	waitFor(t, "second refresh attempt", func() bool { return h.sessions.refreshes("acc-1") == 2 })
	clock.tick(t, testPollEvery, 5)
	if n := h.fetcher.calls(); n != 0 {
		t.Fatalf("expected no fetch after failed refreshes, got %d", n)
	}

	h.sessions.setRefreshErr(nil)
	clock.tick(t, testRefreshEvery, 1)
	waitFor(t, "fetch after refresh", func() bool { return h.fetcher.calls() > 0 })
}

func TestFailedFetchKeepsBaseline(t *testing.T) {
	h := newHarness(listening("acc-1", 5))
	h.fetcher.errs = []error{nil, &api.StatusError{Code: 503}, api.ErrNoItems}
	h.fetcher.snaps = []model.Snapshot{
		{{ID: "A", Available: 0}},
		nil,
		nil,
		{{ID: "A", Available: 4}},
	}
	h.run(t)

	waitFor(t, "restock notification", func() bool { return len(h.notifier.got()) > 0 })

	if diff := cmp.Diff([]string{"acc-1/A"}, h.notifier.got()[:1]); diff != "" {
		t.Errorf("notifications mismatch (-want +got):\n%s", diff)
	}
	snaps := h.detector.snapshots()
	if len(snaps) < 2 {
		t.Fatalf("expected at least two classified snapshots, got %d", len(snaps))
	}
	want := []model.Snapshot{{{ID: "A", Available: 0}}, {{ID: "A", Available: 4}}}
	if diff := cmp.Diff(want, snaps[:2]); diff != "" {
		t.Errorf("classified snapshots mismatch (-want +got):\n%s", diff)
	}
}

func TestPipelinesAreIndependent(t *testing.T) {
	h := newHarness(listening("acc-1", 5))
	h.fetcher.snaps = []model.Snapshot{{{ID: "A", Available: 1}}}
	h.run(t)

	waitFor(t, "acc-1 notification", func() bool { return len(h.notifier.got()) > 0 })

	added := listening("acc-2", 5)
	h.gates.Sync([]model.Account{added})
	h.accounts.add(added)

	waitFor(t, "acc-2 notification", func() bool {
		for _, n := range h.notifier.got() {
			if n == "acc-2/A" {
				return true
			}
		}
		return false
	})
	if got := h.sessions.refreshes("acc-2"); got == 0 {
		t.Error("acc-2 pipeline did not refresh")
	}
}

func TestJoinLatest(t *testing.T) {
	var j joinLatest

	if _, ok := j.poll(); ok {
		t.Fatal("join emitted before all sources fired")
	}
	if _, ok := j.gate(true); ok {
		t.Fatal("join emitted before refresh fired")
	}
	got, ok := j.refresh()
	if !ok {
		t.Fatal("join did not emit once all sources fired")
	}
	if diff := cmp.Diff(joined{Open: true, Polls: 1, Refreshes: 1}, got); diff != "" {
		t.Errorf("joined mismatch (-want +got):\n%s", diff)
	}

	got, ok = j.poll()
	if !ok {
		t.Fatal("join should emit on every re-fire")
	}
	if diff := cmp.Diff(joined{Open: true, Polls: 2, Refreshes: 1}, got); diff != "" {
		t.Errorf("joined mismatch (-want +got):\n%s", diff)
	}

	got, _ = j.gate(false)
	if diff := cmp.Diff(joined{Open: false, Polls: 2, Refreshes: 1}, got); diff != "" {
		t.Errorf("joined mismatch (-want +got):\n%s", diff)
	}
}

func TestClamp(t *testing.T) {
	tests := []struct {
		name  string
		ms    int64
		floor time.Duration
		want  time.Duration
	}{
		{name: "below poll floor", ms: 1000, floor: MinPollInterval, want: 15 * time.Second},
		{name: "above poll floor", ms: 30000, floor: MinPollInterval, want: 30 * time.Second},
		{name: "unset refresh", ms: 0, floor: MinRefreshInterval, want: time.Hour},
		{name: "negative", ms: -5, floor: MinPollInterval, want: 15 * time.Second},
		{name: "long refresh", ms: 7_200_000, floor: MinRefreshInterval, want: 2 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, clamp(tt.ms, tt.floor)); diff != "" {
				t.Errorf("clamp mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRefreshFailuresDoNotStopPipeline(t *testing.T) {
	acct := listening("acc-1", 5)
	acct.API.AuthenticationMs = 1
	h := newHarness(acct)
	h.sessions.setRefreshErr(errors.New("upstream down"))
	h.run(t)

	waitFor(t, "repeated refresh attempts", func() bool { return h.sessions.refreshes("acc-1") >= 3 })
}
