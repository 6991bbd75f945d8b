package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"tgtg_watcher/internal/model"
)

var ignoreSessionTS = cmpopts.IgnoreFields(model.Session{}, "UpdatedAt")
var ignoreChatTS = cmpopts.IgnoreFields(model.Chat{}, "CreatedAt")

func newTestDB(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGetSessionMissing(t *testing.T) {
	s := newTestDB(t)

	got, err := s.GetSession(context.Background(), "acc-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	want := &model.Session{AccountID: "acc-1", State: model.SessionUnauthenticated}
	if diff := cmp.Diff(want, got, ignoreSessionTS); diff != "" {
		t.Errorf("session mismatch (-want +got):\n%s", diff)
	}
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	tests := []struct {
		name string
		sess model.Session
	}{
		{
			name: "pending",
			sess: model.Session{AccountID: "acc-1", State: model.SessionPending, PollingID: "poll-1"},
		},
		{
			name: "authenticated",
			sess: model.Session{
				AccountID:    "acc-1",
				State:        model.SessionAuthenticated,
				UserID:       "user-9",
				AccessToken:  "access-1",
				RefreshToken: "refresh-1",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := tt.sess
			if err := s.SaveSession(ctx, &sess); err != nil {
				t.Fatalf("save session: %v", err)
			}
			if sess.UpdatedAt.IsZero() {
				t.Error("expected UpdatedAt to be set")
			}

			got, err := s.GetSession(ctx, sess.AccountID)
			if err != nil {
				t.Fatalf("get session: %v", err)
			}
			if diff := cmp.Diff(&tt.sess, got, ignoreSessionTS); diff != "" {
				t.Errorf("session mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestUpdateAccessToken(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	if err := s.SaveSession(ctx, &model.Session{
		AccountID:    "acc-1",
		State:        model.SessionAuthenticated,
		UserID:       "user-9",
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
	}); err != nil {
		t.Fatalf("save session: %v", err)
	}

	if err := s.UpdateAccessToken(ctx, "acc-1", "access-2"); err != nil {
		t.Fatalf("update access token: %v", err)
	}

	got, err := s.GetSession(ctx, "acc-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	want := &model.Session{
		AccountID:    "acc-1",
		State:        model.SessionAuthenticated,
		UserID:       "user-9",
		AccessToken:  "access-2",
		RefreshToken: "refresh-1",
	}
	if diff := cmp.Diff(want, got, ignoreSessionTS); diff != "" {
		t.Errorf("session mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateAccessTokenRequiresAuthenticatedSession(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	if err := s.SaveSession(ctx, &model.Session{AccountID: "acc-1", State: model.SessionPending, PollingID: "p"}); err != nil {
		t.Fatalf("save session: %v", err)
	}

	for _, id := range []string{"acc-1", "unknown"} {
		err := s.UpdateAccessToken(ctx, id, "token")
		if !errors.Is(err, ErrNotAuthenticated) {
			t.Errorf("UpdateAccessToken(%q) error = %v, want ErrNotAuthenticated", id, err)
		}
	}
}

func TestChats(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	for _, c := range []model.Chat{
		{AccountID: "acc-1", ChatID: 100, FirstName: "Ada", LastName: "L"},
		{AccountID: "acc-1", ChatID: 200, FirstName: "Bob"},
		{AccountID: "acc-2", ChatID: 100, FirstName: "Other"},
		{AccountID: "acc-1", ChatID: 100, FirstName: "Ada", LastName: "Lovelace"},
	} {
		if err := s.AddChat(ctx, &c); err != nil {
			t.Fatalf("add chat: %v", err)
		}
	}

	got, err := s.ListChats(ctx, "acc-1")
	if err != nil {
		t.Fatalf("list chats: %v", err)
	}
	want := []model.Chat{
		{AccountID: "acc-1", ChatID: 100, FirstName: "Ada", LastName: "Lovelace"},
		{AccountID: "acc-1", ChatID: 200, FirstName: "Bob"},
	}
	if diff := cmp.Diff(want, got, ignoreChatTS); diff != "" {
		t.Errorf("chats mismatch (-want +got):\n%s", diff)
	}

	removed, err := s.RemoveChat(ctx, "acc-1", 100)
	if err != nil {
		t.Fatalf("remove chat: %v", err)
	}
	if !removed {
		t.Error("expected chat to be removed")
	}
	removed, err = s.RemoveChat(ctx, "acc-1", 100)
	if err != nil {
		t.Fatalf("remove chat again: %v", err)
	}
	if removed {
		t.Error("expected second removal to report false")
	}

	n, err := s.CountChats(ctx, "acc-1")
	if err != nil {
		t.Fatalf("count chats: %v", err)
	}
	if diff := cmp.Diff(1, n); diff != "" {
		t.Errorf("count mismatch (-want +got):\n%s", diff)
	}
}

func TestSnapshotReplace(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	start := time.Date(2026, 3, 1, 17, 0, 0, 0, time.UTC)
	first := model.Snapshot{
		{ID: "b", DisplayName: "Bakery", Price: model.Price{MinorUnits: 399, Decimals: 2, Currency: "EUR"}, Available: 3,
			Pickup: &model.PickupInterval{Start: start, End: start.Add(time.Hour)}},
		{ID: "a", DisplayName: "Grocer", Price: model.Price{MinorUnits: 500, Decimals: 2, Currency: "EUR"}, Available: 0},
	}
	if err := s.SaveSnapshot(ctx, "acc-1", first); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}

	got, err := s.LoadSnapshot(ctx, "acc-1")
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if diff := cmp.Diff(first, got); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}

	second := model.Snapshot{{ID: "c", DisplayName: "Cafe", Price: model.Price{MinorUnits: 250, Decimals: 2}, Available: 1}}
	if err := s.SaveSnapshot(ctx, "acc-1", second); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	got, err = s.LoadSnapshot(ctx, "acc-1")
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if diff := cmp.Diff(second, got); diff != "" {
		t.Errorf("snapshot after replace mismatch (-want +got):\n%s", diff)
	}

	other, err := s.LoadSnapshot(ctx, "acc-2")
	if err != nil {
		t.Fatalf("load other snapshot: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("expected empty snapshot for other account, got %d items", len(other))
	}
}
