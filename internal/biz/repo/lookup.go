package repo

import (
	"context"

	"github.com/Yuanja/watch-tracker-sub002/internal/biz/domain"
)

// LookupRepo reads the admin-managed lookup tables. Writes happen through
// the external admin screens; the pipeline only ever reads whole sets, which
// the lookup cache replaces wholesale on refresh.
type LookupRepo interface {
	// ListEntries returns every entry of one lookup kind.
	ListEntries(ctx context.Context, kind domain.LookupKind) ([]*domain.LookupEntry, error)

	// ListJargon returns the whole jargon dictionary.
	ListJargon(ctx context.Context) ([]*domain.JargonEntry, error)
}
