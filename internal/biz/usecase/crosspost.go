package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Yuanja/watch-tracker-sub002/internal/biz/domain"
	"github.com/Yuanja/watch-tracker-sub002/internal/biz/repo"
)

// CrossPostUsecase detects the same item posted to multiple groups. Detection
// is keyed on (part number, price, currency, seller phone); listings lacking
// any key field are never considered cross-posts of anything.
type CrossPostUsecase struct {
	listingRepo repo.ListingRepo
	logger      *slog.Logger
}

// NewCrossPostUsecase creates a new cross-post usecase
func NewCrossPostUsecase(listingRepo repo.ListingRepo, logger *slog.Logger) *CrossPostUsecase {
	return &CrossPostUsecase{listingRepo: listingRepo, logger: logger}
}

// CountCrossPosts returns how many other live listings share the listing's
// cross-post key. Zero means the listing is unique or has no key.
func (uc *CrossPostUsecase) CountCrossPosts(ctx context.Context, l *domain.Listing) (int, error) {
	key, ok := domain.CrossPostKeyOf(l)
	if !ok {
		return 0, nil
	}

	siblings, err := uc.listingRepo.ListByCrossPostKey(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("failed to look up cross-posts: %w", err)
	}

	n := 0
	for _, s := range siblings {
		if s.ID != l.ID {
			n++
		}
	}
	return n, nil
}

// DeduplicateExactRepeats collapses exact repeats of the given listing down
// to the earliest one. An exact repeat shares the source message and the
// normalized key fields; later repeats are soft-deleted and the survivor
// keeps its status. Returns the surviving listing and the number removed.
//
// Cross-posting the same item to a different group produces a distinct
// source message, so those listings are never touched here; they only count
// through CountCrossPosts.
func (uc *CrossPostUsecase) DeduplicateExactRepeats(ctx context.Context, l *domain.Listing) (*domain.Listing, int, error) {
	key, ok := domain.CrossPostKeyOf(l)
	if !ok {
		return l, 0, nil
	}

	siblings, err := uc.listingRepo.ListByCrossPostKey(ctx, key)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to look up cross-posts: %w", err)
	}

	repeats := siblings[:0:0]
	present := false
	for _, s := range siblings {
		if s.RawMessageID == l.RawMessageID {
			repeats = append(repeats, s)
			present = present || s.ID == l.ID
		}
	}
	if len(repeats) == 0 {
		return l, 0, nil
	}
	if !present {
		// The listing was already collapsed by an earlier pass; report the
		// live survivor instead of the removed repeat.
		return repeats[0], 0, nil
	}
	if len(repeats) == 1 {
		return l, 0, nil
	}

	// ListByCrossPostKey orders oldest first; the first repeat survives.
	survivor := repeats[0]
	removed := 0
	for _, s := range repeats[1:] {
		if err := uc.listingRepo.SoftDelete(ctx, s.ID); err != nil {
			return nil, removed, fmt.Errorf("failed to collapse repeated listing %d: %w", s.ID, err)
		}
		uc.logger.Info("collapsed exact repeat",
			"listing_id", s.ID, "survivor_id", survivor.ID, "part_number", key.PartNumber)
		removed++
	}
	return survivor, removed, nil
}
