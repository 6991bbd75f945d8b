package main

import (
	"errors"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"

	"tgtg_watcher/internal/model"
)

func telegramAccount(id, token string) model.Account {
	return model.Account{
		ID:    id,
		Email: id + "@example.com",
		Notifications: model.Notifications{
			Telegram: model.TelegramConfig{Enabled: true, BotToken: token},
		},
	}
}

func TestBotStarterStartsAccountsAddedLater(t *testing.T) {
	accts := []model.Account{
		telegramAccount("acc-1", "tok-1"),
		{ID: "acc-2", Notifications: model.Notifications{Console: model.ConsoleConfig{Enabled: true}}},
	}
	var started []string
	s := newBotStarter(
		func() []model.Account { return accts },
		func(acct model.Account) error {
			started = append(started, acct.ID)
			return nil
		},
	)

	if err := s.sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if diff := cmp.Diff([]string{"acc-1"}, started); diff != "" {
		t.Errorf("started mismatch (-want +got):\n%s", diff)
	}

	// A new account and a token added to an existing one after startup.
	accts = append(accts, telegramAccount("acc-3", "tok-3"))
	accts[1] = telegramAccount("acc-2", "tok-2")
	if err := s.sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	sort.Strings(started)
	if diff := cmp.Diff([]string{"acc-1", "acc-2", "acc-3"}, started); diff != "" {
		t.Errorf("started mismatch (-want +got):\n%s", diff)
	}
}

func TestBotStarterSkipsDisabledAndRetriesFailures(t *testing.T) {
	disabled := telegramAccount("acc-off", "tok")
	disabled.Notifications.Telegram.Enabled = false
	accts := []model.Account{disabled, telegramAccount("acc-1", ""), telegramAccount("acc-2", "tok-2")}

	fail := true
	var started []string
	s := newBotStarter(
		func() []model.Account { return accts },
		func(acct model.Account) error {
			if fail {
				return errors.New("unauthorized")
			}
			started = append(started, acct.ID)
			return nil
		},
	)

	if err := s.sync(); err == nil {
		t.Fatal("expected error, got nil")
	}
	if len(started) != 0 {
		t.Fatalf("expected no bot started, got %v", started)
	}

	fail = false
	if err := s.sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if err := s.sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if diff := cmp.Diff([]string{"acc-2"}, started); diff != "" {
		t.Errorf("started mismatch (-want +got):\n%s", diff)
	}
}
