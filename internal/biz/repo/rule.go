package repo

import (
	"context"
	"time"

	"github.com/Yuanja/watch-tracker-sub002/internal/biz/domain"
)

// RuleRepo persists notification rules.
type RuleRepo interface {
	Insert(ctx context.Context, r *domain.NotificationRule) error

	// GetByID returns the rule, or nil when it does not exist. Ownership
	// checks happen in the usecase layer: a rule owned by another user is
	// reported as not-found.
	GetByID(ctx context.Context, id int64) (*domain.NotificationRule, error)

	// Update replaces the rule's mutable fields, including the parsed
	// filter set (replacement, never merge).
	Update(ctx context.Context, r *domain.NotificationRule) error

	// ListActive returns all active rules belonging to active users.
	ListActive(ctx context.Context) ([]*domain.NotificationRule, error)

	// ListByUser returns the user's rules, newest first.
	ListByUser(ctx context.Context, userID int64) ([]*domain.NotificationRule, error)

	// Touch records the last-triggered timestamp after a dispatch.
	Touch(ctx context.Context, id int64, at time.Time) error
}

// UserRepo exposes the few user attributes the pipeline needs. Account
// management itself is an external collaborator.
type UserRepo interface {
	// GetEmail returns the account email for dispatch fallback.
	GetEmail(ctx context.Context, userID int64) (string, error)

	// IsActive reports whether the user account is active.
	IsActive(ctx context.Context, userID int64) (bool, error)
}
