package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"tgtg_watcher/internal/model"
	"tgtg_watcher/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// ErrNotAuthenticated is returned when an access token update targets a session
// that has no token pair.
var ErrNotAuthenticated = errors.New("session is not authenticated")

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := migrations.Run(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// GetSession returns the session of an account. An account that never logged in
// yields an unauthenticated session.
func (s *SQLite) GetSession(ctx context.Context, accountID string) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT account_id, state, polling_id, user_id, access_token, refresh_token, updated_at
		 FROM sessions WHERE account_id = ?`, accountID,
	)
	var sess model.Session
	var state, updated string
	err := row.Scan(&sess.AccountID, &state, &sess.PollingID, &sess.UserID,
		&sess.AccessToken, &sess.RefreshToken, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return &model.Session{AccountID: accountID, State: model.SessionUnauthenticated}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	sess.State = model.SessionState(state)
	sess.UpdatedAt, _ = time.Parse(timeLayout, updated)
	return &sess, nil
}

// SaveSession inserts or replaces the session of an account.
func (s *SQLite) SaveSession(ctx context.Context, sess *model.Session) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (account_id, state, polling_id, user_id, access_token, refresh_token, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (account_id) DO UPDATE SET
		   state = excluded.state,
		   polling_id = excluded.polling_id,
		   user_id = excluded.user_id,
		   access_token = excluded.access_token,
		   refresh_token = excluded.refresh_token,
		   updated_at = excluded.updated_at`,
		sess.AccountID, string(sess.State), sess.PollingID, sess.UserID,
		sess.AccessToken, sess.RefreshToken, now,
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	sess.UpdatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// UpdateAccessToken replaces only the access token of an authenticated session.
func (s *SQLite) UpdateAccessToken(ctx context.Context, accountID, accessToken string) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET access_token = ?, updated_at = ?
		 WHERE account_id = ? AND state = ? AND refresh_token <> ''`,
		accessToken, now, accountID, string(model.SessionAuthenticated),
	)
	if err != nil {
		return fmt.Errorf("update access token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotAuthenticated
	}
	return nil
}

// AddChat registers a chat for an account. Registering a known chat refreshes its names.
func (s *SQLite) AddChat(ctx context.Context, c *model.Chat) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chats (account_id, chat_id, first_name, last_name, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (account_id, chat_id) DO UPDATE SET
		   first_name = excluded.first_name,
		   last_name = excluded.last_name`,
		c.AccountID, c.ChatID, c.FirstName, c.LastName, now,
	)
	if err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}
	c.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// RemoveChat unregisters a chat and reports whether it was registered.
func (s *SQLite) RemoveChat(ctx context.Context, accountID string, chatID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM chats WHERE account_id = ? AND chat_id = ?`, accountID, chatID,
	)
	if err != nil {
		return false, fmt.Errorf("delete chat: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// ListChats returns the chats registered for an account.
func (s *SQLite) ListChats(ctx context.Context, accountID string) ([]model.Chat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT account_id, chat_id, first_name, last_name, created_at
		 FROM chats WHERE account_id = ? ORDER BY created_at, chat_id`, accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("query chats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var chats []model.Chat
	for rows.Next() {
		var c model.Chat
		var created string
		if err := rows.Scan(&c.AccountID, &c.ChatID, &c.FirstName, &c.LastName, &created); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		c.CreatedAt, _ = time.Parse(timeLayout, created)
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// CountChats returns the number of chats registered for an account.
func (s *SQLite) CountChats(ctx context.Context, accountID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chats WHERE account_id = ?`, accountID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count chats: %w", err)
	}
	return count, nil
}

// LoadSnapshot returns the latest stored snapshot of an account in fetch order.
func (s *SQLite) LoadSnapshot(ctx context.Context, accountID string) (model.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT item_id, display_name, price_minor_units, price_decimals, price_currency,
		        items_available, pickup_start, pickup_end
		 FROM snapshot_items WHERE account_id = ? ORDER BY position`, accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snap model.Snapshot
	for rows.Next() {
		var it model.Item
		var start, end sql.NullString
		if err := rows.Scan(&it.ID, &it.DisplayName, &it.Price.MinorUnits, &it.Price.Decimals,
			&it.Price.Currency, &it.Available, &start, &end); err != nil {
			return nil, fmt.Errorf("scan snapshot item: %w", err)
		}
		if start.Valid && end.Valid {
			st, _ := time.Parse(time.RFC3339, start.String)
			en, _ := time.Parse(time.RFC3339, end.String)
			it.Pickup = &model.PickupInterval{Start: st, End: en}
		}
		snap = append(snap, it)
	}
	return snap, rows.Err()
}

// SaveSnapshot replaces the stored snapshot of an account.
func (s *SQLite) SaveSnapshot(ctx context.Context, accountID string, snap model.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshot_items WHERE account_id = ?`, accountID); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}

	for i, it := range snap {
		var start, end *string
		if it.Pickup != nil {
			st := it.Pickup.Start.UTC().Format(time.RFC3339)
			en := it.Pickup.End.UTC().Format(time.RFC3339)
			start, end = &st, &en
		}
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO snapshot_items
			   (account_id, item_id, position, display_name, price_minor_units, price_decimals,
			    price_currency, items_available, pickup_start, pickup_end)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			accountID, it.ID, i, it.DisplayName, it.Price.MinorUnits, it.Price.Decimals,
			it.Price.Currency, it.Available, start, end,
		)
		if err != nil {
			return fmt.Errorf("insert snapshot item: %w", err)
		}
	}
	return tx.Commit()
}
