// Package sessions provides session persistence and per-session locking.
package sessions

import (
	"context"
	"errors"

	"github.com/relaybot/relay/pkg/models"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("sessions: not found")

// Store is the interface for session persistence. The message history a
// store holds is the session list; callers mutate it only through
// AppendMessage and ReplaceHistory.
type Store interface {
	Create(ctx context.Context, session *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	Update(ctx context.Context, session *models.Session) error
	Delete(ctx context.Context, id string) error

	GetByKey(ctx context.Context, key string) (*models.Session, error)
	GetOrCreate(ctx context.Context, channel models.ChannelType, chatID string) (*models.Session, error)
	List(ctx context.Context, opts ListOptions) ([]*models.Session, error)

	AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error
	History(ctx context.Context, sessionID string, limit int) ([]*models.Message, error)

	// ReplaceHistory swaps the full message list in one step. Compaction
	// uses it to install the summarized prefix.
	ReplaceHistory(ctx context.Context, sessionID string, msgs []*models.Message) error
}

// ListOptions configures session listing.
type ListOptions struct {
	Channel models.ChannelType
	Limit   int
	Offset  int
}
