package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Yuanja/watch-tracker-sub002/internal/biz/domain"
	"github.com/Yuanja/watch-tracker-sub002/internal/biz/repo"
)

// ReviewUsecase drives the human-correction workflow for low-confidence
// extractions. Review items are terminal once resolved or skipped; two
// concurrent resolutions of the same item yield exactly one success.
type ReviewUsecase struct {
	reviewRepo  repo.ReviewRepo
	listingRepo repo.ListingRepo
	messageRepo repo.MessageRepo
	lookupUC    *LookupUsecase
	extractUC   *ExtractionUsecase

	assistTemplate string
	logger         *slog.Logger
}

// NewReviewUsecase creates a new review usecase
func NewReviewUsecase(
	reviewRepo repo.ReviewRepo,
	listingRepo repo.ListingRepo,
	messageRepo repo.MessageRepo,
	lookupUC *LookupUsecase,
	extractUC *ExtractionUsecase,
	assistTemplate string,
	logger *slog.Logger,
) *ReviewUsecase {
	return &ReviewUsecase{
		reviewRepo:     reviewRepo,
		listingRepo:    listingRepo,
		messageRepo:    messageRepo,
		lookupUC:       lookupUC,
		extractUC:      extractUC,
		assistTemplate: assistTemplate,
		logger:         logger,
	}
}

// ListPending returns the open review queue, oldest first.
func (uc *ReviewUsecase) ListPending(ctx context.Context, limit int) ([]*domain.ReviewQueueItem, error) {
	if limit <= 0 {
		limit = 50
	}
	return uc.reviewRepo.ListPending(ctx, limit)
}

// Get returns one review item with its listing, or ErrNotFound.
func (uc *ReviewUsecase) Get(ctx context.Context, id int64) (*domain.ReviewQueueItem, *domain.Listing, error) {
	item, err := uc.reviewRepo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if item == nil {
		return nil, nil, domain.ErrNotFound
	}
	listing, err := uc.listingRepo.GetByID(ctx, item.ListingID)
	if err != nil {
		return nil, nil, err
	}
	return item, listing, nil
}

// Resolve applies human corrections to the listing behind a pending review
// item and activates it. The corrections snapshot is persisted with the
// item for audit. Returns domain.ErrInvalidState when the item was already
// resolved or skipped.
func (uc *ReviewUsecase) Resolve(ctx context.Context, id int64, reviewer string, corrections *domain.ReviewCorrections) error {
	item, listing, err := uc.Get(ctx, id)
	if err != nil {
		return err
	}
	if !item.IsPending() {
		return domain.ErrInvalidState
	}
	if listing == nil {
		return fmt.Errorf("review item %d references missing listing %d", id, item.ListingID)
	}

	resolutionJSON := "{}"
	if corrections != nil && !corrections.IsEmpty() {
		uc.applyCorrections(ctx, listing, corrections)
		data, err := json.Marshal(corrections)
		if err != nil {
			return fmt.Errorf("failed to marshal corrections: %w", err)
		}
		resolutionJSON = string(data)
	}

	now := time.Now()

	// The status transition is the concurrency guard; it must come before
	// the listing update so a losing racer never touches the listing.
	if err := uc.reviewRepo.Transition(ctx, id, domain.ReviewResolved, reviewer, now, resolutionJSON); err != nil {
		return err
	}

	listing.Status = domain.StatusActive
	listing.NeedsHumanReview = false
	listing.ReviewedBy = reviewer
	listing.ReviewedAt = &now
	if err := uc.listingRepo.Update(ctx, listing); err != nil {
		return fmt.Errorf("failed to update reviewed listing: %w", err)
	}

	uc.logger.Info("review resolved", "review_id", id, "listing_id", listing.ID, "reviewer", reviewer)
	return nil
}

// Skip marks a pending review item skipped. The listing is left untouched
// and stays in pending_review. Returns domain.ErrInvalidState when the item
// was already resolved or skipped.
func (uc *ReviewUsecase) Skip(ctx context.Context, id int64, reviewer string) error {
	item, err := uc.reviewRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if item == nil {
		return domain.ErrNotFound
	}
	if !item.IsPending() {
		return domain.ErrInvalidState
	}

	if err := uc.reviewRepo.Transition(ctx, id, domain.ReviewSkipped, reviewer, time.Now(), "{}"); err != nil {
		return err
	}

	uc.logger.Info("review skipped", "review_id", id, "listing_id", item.ListingID, "reviewer", reviewer)
	return nil
}

// Assist re-runs extraction for a pending item with a reviewer-supplied hint
// and returns the candidate result beside the original text. Nothing is
// persisted; committing is a subsequent Resolve call.
func (uc *ReviewUsecase) Assist(ctx context.Context, id int64, hint string) (*domain.ExtractionResult, string, error) {
	item, listing, err := uc.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if !item.IsPending() {
		return nil, "", domain.ErrInvalidState
	}

	originalText := ""
	if listing != nil {
		originalText = listing.OriginalText
	}
	if originalText == "" && item.RawMessageID != nil {
		msg, err := uc.messageRepo.GetByID(ctx, *item.RawMessageID)
		if err != nil {
			return nil, "", err
		}
		if msg != nil {
			originalText = msg.Body
		}
	}
	if originalText == "" {
		return nil, "", fmt.Errorf("review item %d has no source text", id)
	}

	result, _, err := uc.extractUC.Reextract(ctx, uc.assistTemplate, originalText, hint)
	if err != nil {
		return nil, "", err
	}
	return result, originalText, nil
}

// applyCorrections overwrites listing fields with the non-nil corrections.
// Lookup names are re-resolved the same way first-pass extraction resolves
// them, so a corrected name the system does not know stays a nil reference.
func (uc *ReviewUsecase) applyCorrections(ctx context.Context, l *domain.Listing, c *domain.ReviewCorrections) {
	if c.Intent != nil {
		l.Intent = domain.ParseIntent(*c.Intent)
	}
	if c.Description != nil {
		l.Description = *c.Description
	}
	if c.PartNumber != nil {
		l.PartNumber = *c.PartNumber
	}
	if c.Quantity != nil && *c.Quantity > 0 {
		l.Quantity = *c.Quantity
	}
	if c.Category != nil {
		l.CategoryID = uc.lookupUC.Resolve(ctx, domain.LookupCategory, *c.Category)
	}
	if c.Manufacturer != nil {
		l.ManufacturerID = uc.lookupUC.Resolve(ctx, domain.LookupManufacturer, *c.Manufacturer)
	}
	if c.Unit != nil {
		l.UnitID = uc.lookupUC.Resolve(ctx, domain.LookupUnit, *c.Unit)
	}
	if c.Condition != nil {
		l.ConditionID = uc.lookupUC.Resolve(ctx, domain.LookupCondition, *c.Condition)
	}
	if c.Price != nil {
		l.Price = c.Price
	}
	if c.Currency != nil {
		l.Currency = *c.Currency
	}
}
