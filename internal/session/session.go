// Package session manages the login state and token lifecycle of accounts.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"tgtg_watcher/internal/api"
	"tgtg_watcher/internal/model"
	"tgtg_watcher/internal/storage"
)

// Authentication errors.
var (
	ErrNotLoggedIn   = errors.New("not logged in: run the login command or /login in the telegram bot")
	ErrNoPollingID   = errors.New("no polling id issued")
	ErrTokenExchange = errors.New("token exchange returned no token pair")
)

// Authenticator is the subset of the API client used for authentication.
type Authenticator interface {
	AuthByEmail(ctx context.Context, deviceType, email string) (*api.AuthByEmailResponse, error)
	AuthByRequestPollingID(ctx context.Context, deviceType, email, pollingID string) (*api.LoginResponse, error)
	RefreshToken(ctx context.Context, refreshToken string) (*api.RefreshResponse, error)
}

// Manager drives the session state machine of accounts:
// unauthenticated -> pending -> authenticated -> (refresh) -> authenticated.
type Manager struct {
	store storage.Storage
	auth  Authenticator
	log   *slog.Logger
}

// New creates a Manager.
func New(store storage.Storage, auth Authenticator, log *slog.Logger) *Manager {
	return &Manager{store: store, auth: auth, log: log}
}

// Current returns the stored session of an account.
func (m *Manager) Current(ctx context.Context, accountID string) (*model.Session, error) {
	sess, err := m.store.GetSession(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// RequestLogin asks the API to send a login email and moves the session to pending.
// The previous token pair, if any, stays usable until the login is confirmed.
func (m *Manager) RequestLogin(ctx context.Context, acct model.Account) (*model.Session, error) {
	resp, err := m.auth.AuthByEmail(ctx, deviceType(acct), acct.Email)
	if err != nil {
		return nil, err
	}
	if resp.PollingID == "" {
		return nil, ErrNoPollingID
	}

	sess, err := m.Current(ctx, acct.ID)
	if err != nil {
		return nil, err
	}
	sess.PollingID = resp.PollingID
	if !sess.IsAuthenticated() {
		sess.State = model.SessionPending
	}
	if err := m.store.SaveSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("save pending session: %w", err)
	}

	m.log.Info("login email requested", "account_id", acct.ID, "email", acct.Email)
	return sess, nil
}

// ConfirmLogin exchanges the pending polling id for a token pair after the user
// clicked the link in the login email.
func (m *Manager) ConfirmLogin(ctx context.Context, acct model.Account) (*model.Session, error) {
	sess, err := m.Current(ctx, acct.ID)
	if err != nil {
		return nil, err
	}
	if sess.PollingID == "" {
		return nil, ErrNoPollingID
	}

	resp, err := m.auth.AuthByRequestPollingID(ctx, deviceType(acct), acct.Email, sess.PollingID)
	if err != nil {
		return nil, err
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		return nil, ErrTokenExchange
	}

	sess = &model.Session{
		AccountID:    acct.ID,
		State:        model.SessionAuthenticated,
		UserID:       resp.UserID(),
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
	}
	if err := m.store.SaveSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	m.log.Info("logged in", "account_id", acct.ID, "email", acct.Email, "user_id", sess.UserID)
	return sess, nil
}

// Login runs the full login flow. confirm blocks until the user confirmed the
// login email, or returns an error to abort.
func (m *Manager) Login(ctx context.Context, acct model.Account, confirm func(ctx context.Context) error) (*model.Session, error) {
	if _, err := m.RequestLogin(ctx, acct); err != nil {
		return nil, fmt.Errorf("request login: %w", err)
	}
	if err := confirm(ctx); err != nil {
		return nil, fmt.Errorf("confirm login: %w", err)
	}
	sess, err := m.ConfirmLogin(ctx, acct)
	if err != nil {
		return nil, fmt.Errorf("confirm login: %w", err)
	}
	return sess, nil
}

// Refresh exchanges the refresh token for a new access token. Only the access
// token changes. A failed refresh leaves the stored tokens untouched.
func (m *Manager) Refresh(ctx context.Context, accountID string) (*model.Session, error) {
	sess, err := m.Current(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if sess.RefreshToken == "" {
		return nil, ErrNotLoggedIn
	}

	m.log.Debug("refreshing session token", "account_id", accountID)
	resp, err := m.auth.RefreshToken(ctx, sess.RefreshToken)
	if err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, ErrTokenExchange
	}

	if err := m.store.UpdateAccessToken(ctx, accountID, resp.AccessToken); err != nil {
		return nil, fmt.Errorf("update access token: %w", err)
	}
	sess.AccessToken = resp.AccessToken
	return sess, nil
}

func deviceType(acct model.Account) string {
	if acct.DeviceType == "" {
		return "IOS"
	}
	return acct.DeviceType
}
