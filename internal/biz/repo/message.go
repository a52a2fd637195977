package repo

import (
	"context"
	"time"

	"github.com/Yuanja/watch-tracker-sub002/internal/biz/domain"
)

// MessageRepo persists archived messages and their owning groups.
type MessageRepo interface {
	// Insert stores a new message. Returns domain.ErrDuplicate when a row
	// with the same external id already exists (including when a concurrent
	// writer won the uniqueness race).
	Insert(ctx context.Context, msg *domain.RawMessage) error

	// GetByExternalID returns the stored message, or nil when unseen.
	GetByExternalID(ctx context.Context, externalID string) (*domain.RawMessage, error)

	// GetByID returns the message by primary key, or nil.
	GetByID(ctx context.Context, id int64) (*domain.RawMessage, error)

	// MarkProcessed sets processed = true and clears any processing error.
	MarkProcessed(ctx context.Context, id int64) error

	// MarkFailed records a processing error and leaves processed = false so
	// the retry sweep can pick the message up again.
	MarkFailed(ctx context.Context, id int64, reason string) error

	// SetMediaPath attaches the local path of downloaded media.
	SetMediaPath(ctx context.Context, id int64, path string) error

	// ListUnprocessed returns messages eligible for (re)extraction, oldest
	// first, bounded by limit.
	ListUnprocessed(ctx context.Context, limit int) ([]*domain.RawMessage, error)

	// ListPendingMedia returns archived messages whose media download is
	// still outstanding.
	ListPendingMedia(ctx context.Context, limit int) ([]*domain.RawMessage, error)

	// Search finds messages by group, sender and keyword. Zero values relax
	// the corresponding filter. Result count is bounded by limit.
	Search(ctx context.Context, q MessageQuery) ([]*domain.RawMessage, error)
}

// MessageQuery carries the filters for a bounded message search.
type MessageQuery struct {
	GroupID int64
	Sender  string
	Keyword string
	Since   time.Time
	Limit   int
}

// GroupRepo resolves and creates conversation groups.
type GroupRepo interface {
	// GetOrCreate resolves a group by external id, creating a placeholder
	// record when the group has not been seen before.
	GetOrCreate(ctx context.Context, externalID, name string) (*domain.Group, error)

	GetByID(ctx context.Context, id int64) (*domain.Group, error)
}
