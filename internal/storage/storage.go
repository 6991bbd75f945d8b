// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"

	"tgtg_watcher/internal/model"
)

// Storage is the interface for all persistence operations.
type Storage interface {
	GetSession(ctx context.Context, accountID string) (*model.Session, error)
	SaveSession(ctx context.Context, s *model.Session) error
	UpdateAccessToken(ctx context.Context, accountID, accessToken string) error

	AddChat(ctx context.Context, c *model.Chat) error
	RemoveChat(ctx context.Context, accountID string, chatID int64) (bool, error)
	ListChats(ctx context.Context, accountID string) ([]model.Chat, error)
	CountChats(ctx context.Context, accountID string) (int, error)

	LoadSnapshot(ctx context.Context, accountID string) (model.Snapshot, error)
	SaveSnapshot(ctx context.Context, accountID string, snap model.Snapshot) error

	Close() error
}
