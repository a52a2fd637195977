package repo

import (
	"context"

	"github.com/Yuanja/watch-tracker-sub002/internal/biz/domain"
)

// ListingRepo persists extracted listings.
type ListingRepo interface {
	Insert(ctx context.Context, l *domain.Listing) error

	GetByID(ctx context.Context, id int64) (*domain.Listing, error)

	// Update persists mutable listing fields (status, review metadata,
	// corrected values, soft-delete flags).
	Update(ctx context.Context, l *domain.Listing) error

	// Search finds listings by keyword, intent and price range. Zero values
	// relax the corresponding filter. Result count is bounded by limit.
	Search(ctx context.Context, q ListingQuery) ([]*domain.Listing, error)

	// ListByRawMessage returns all non-deleted listings extracted from the
	// given source message, oldest first.
	ListByRawMessage(ctx context.Context, rawMessageID int64) ([]*domain.Listing, error)

	// ListByCrossPostKey returns non-deleted listings sharing the cross-post
	// tuple, oldest first.
	ListByCrossPostKey(ctx context.Context, key domain.CrossPostKey) ([]*domain.Listing, error)

	// SoftDelete marks a listing deleted without removing the row.
	SoftDelete(ctx context.Context, id int64) error

	// CountByIntentStatus aggregates non-deleted listings per (intent,
	// status) pair for market statistics.
	CountByIntentStatus(ctx context.Context) (map[string]int, error)

	// SetEmbedding stores the listing's description embedding as an opaque
	// fixed-length vector.
	SetEmbedding(ctx context.Context, id int64, vec []float32) error
}

// ListingQuery carries the filters for a bounded listing search.
type ListingQuery struct {
	Keyword  string
	Intent   domain.Intent
	Status   domain.ListingStatus
	MinPrice *float64
	MaxPrice *float64
	Limit    int
}
