package repo

import (
	"context"
	"time"

	"github.com/Yuanja/watch-tracker-sub002/internal/biz/domain"
)

// ReviewRepo persists review queue items.
type ReviewRepo interface {
	Insert(ctx context.Context, item *domain.ReviewQueueItem) error

	GetByID(ctx context.Context, id int64) (*domain.ReviewQueueItem, error)

	// ListPending returns pending items oldest first, bounded by limit.
	ListPending(ctx context.Context, limit int) ([]*domain.ReviewQueueItem, error)

	// Transition moves a pending item to a terminal status. It must be
	// guarded by the current status: when the item is no longer pending the
	// call returns domain.ErrInvalidState, so that two concurrent
	// resolutions yield exactly one success.
	Transition(ctx context.Context, id int64, to domain.ReviewStatus, resolvedBy string, resolvedAt time.Time, resolutionJSON string) error
}
