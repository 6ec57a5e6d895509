package store

import (
	"context"
	"errors"
	"time"

	"github.com/pliu/inbox/internal/models"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

type Store interface {
	// User operations
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)

	// Message operations

	// SaveMessage assigns ID, Seq and (if zero) Created to msg, persists it
	// and updates the thread of the sender/recipient pair in the same unit of work.
	SaveMessage(ctx context.Context, msg *models.Message) error
	// GetThreadMessages returns messages exchanged between the two users in
	// both directions, newest first.
	GetThreadMessages(ctx context.Context, userID, otherID string, offset, limit int) ([]models.Message, error)
	GetUserThreads(ctx context.Context, userID string, offset, limit int) ([]models.Thread, error)
	MarkRead(ctx context.Context, userID string, messageIDs []string) (int64, error)
	GetUnnotifiedMessages(ctx context.Context, before time.Time) ([]models.Message, error)
	MarkNotified(ctx context.Context, messageIDs []string) error

	Close() error
}

// PairKey identifies the thread between two users regardless of direction.
func PairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}
