package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Yuanja/watch-tracker-sub002/internal/biz/domain"
	"github.com/Yuanja/watch-tracker-sub002/internal/biz/repo"
)

// ExtractionOutcome describes what happened to one processed message.
type ExtractionOutcome string

const (
	OutcomeNoListing ExtractionOutcome = "no_listing"
	OutcomeAccepted  ExtractionOutcome = "accepted"
	OutcomeReview    ExtractionOutcome = "review"
	OutcomeRejected  ExtractionOutcome = "rejected"
	OutcomeFailed    ExtractionOutcome = "failed"
)

// LowConfidencePolicy decides the fate of extractions below the review
// threshold.
type LowConfidencePolicy string

const (
	// PolicyDiscard records the listing soft-deleted so nothing surfaces.
	PolicyDiscard LowConfidencePolicy = "discard"
	// PolicyReview enqueues low-confidence extractions like the mid band.
	PolicyReview LowConfidencePolicy = "review"
)

// ExtractionConfig carries confidence gating configuration.
type ExtractionConfig struct {
	AutoAcceptThreshold float64
	ReviewThreshold     float64
	LowConfidence       LowConfidencePolicy
}

// DefaultExtractionConfig returns the default gating configuration
func DefaultExtractionConfig() ExtractionConfig {
	return ExtractionConfig{
		AutoAcceptThreshold: 0.8,
		ReviewThreshold:     0.5,
		LowConfidence:       PolicyDiscard,
	}
}

// ExtractionUsecase turns one unprocessed RawMessage into zero or more
// listings, gated on the LLM's confidence.
type ExtractionUsecase struct {
	messageRepo repo.MessageRepo
	listingRepo repo.ListingRepo
	reviewRepo  repo.ReviewRepo
	llm         repo.LLMRepo
	lookupUC    *LookupUsecase

	systemTemplate string
	cfg            ExtractionConfig
	logger         *slog.Logger
}

// NewExtractionUsecase creates a new extraction usecase
func NewExtractionUsecase(
	messageRepo repo.MessageRepo,
	listingRepo repo.ListingRepo,
	reviewRepo repo.ReviewRepo,
	llm repo.LLMRepo,
	lookupUC *LookupUsecase,
	systemTemplate string,
	cfg ExtractionConfig,
	logger *slog.Logger,
) *ExtractionUsecase {
	return &ExtractionUsecase{
		messageRepo:    messageRepo,
		listingRepo:    listingRepo,
		reviewRepo:     reviewRepo,
		llm:            llm,
		lookupUC:       lookupUC,
		systemTemplate: systemTemplate,
		cfg:            cfg,
		logger:         logger,
	}
}

// ListUnprocessed returns messages still waiting for extraction, oldest
// first, for the retry sweep.
func (uc *ExtractionUsecase) ListUnprocessed(ctx context.Context, limit int) ([]*domain.RawMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	return uc.messageRepo.ListUnprocessed(ctx, limit)
}

// Process extracts structured listings from one archived message. On LLM or
// parsing failure the message keeps processed = false with a recorded error
// so the retry sweep can re-attempt it; the error is absorbed here.
func (uc *ExtractionUsecase) Process(ctx context.Context, msg *domain.RawMessage) (ExtractionOutcome, []*domain.Listing, repo.Usage) {
	result, usage, err := uc.extract(ctx, msg.Body)
	if err != nil {
		uc.logger.Warn("extraction failed", "message_id", msg.ID, "error", err)
		if markErr := uc.messageRepo.MarkFailed(ctx, msg.ID, err.Error()); markErr != nil {
			uc.logger.Error("failed to record extraction error", "message_id", msg.ID, "error", markErr)
		}
		return OutcomeFailed, nil, usage
	}

	if !result.IsListing() {
		if err := uc.messageRepo.MarkProcessed(ctx, msg.ID); err != nil {
			uc.logger.Error("failed to mark processed", "message_id", msg.ID, "error", err)
		}
		return OutcomeNoListing, nil, usage
	}

	outcome, listings, err := uc.store(ctx, msg, result)
	if err != nil {
		uc.logger.Warn("failed to store extraction", "message_id", msg.ID, "error", err)
		if markErr := uc.messageRepo.MarkFailed(ctx, msg.ID, err.Error()); markErr != nil {
			uc.logger.Error("failed to record extraction error", "message_id", msg.ID, "error", markErr)
		}
		return OutcomeFailed, nil, usage
	}

	if err := uc.messageRepo.MarkProcessed(ctx, msg.ID); err != nil {
		uc.logger.Error("failed to mark processed", "message_id", msg.ID, "error", err)
	}

	// Embeddings are best-effort; a failure never fails the pipeline.
	for _, l := range listings {
		uc.embed(ctx, l)
	}

	return outcome, listings, usage
}

// extract runs the LLM over the jargon-expanded body and decodes its JSON.
func (uc *ExtractionUsecase) extract(ctx context.Context, body string) (*domain.ExtractionResult, repo.Usage, error) {
	expanded := uc.lookupUC.ExpandJargon(ctx, body)
	categories := strings.Join(uc.lookupUC.CategoryNames(ctx), ", ")
	systemPrompt := fmt.Sprintf(uc.systemTemplate, categories)

	text, usage, err := uc.llm.Complete(ctx, []repo.ChatTurn{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: expanded},
	}, 0.1)
	if err != nil {
		return nil, usage, fmt.Errorf("llm extraction: %w", err)
	}

	result, err := decodeExtraction(text)
	if err != nil {
		return nil, usage, err
	}
	return result, usage, nil
}

// decodeExtraction decodes the LLM's extraction JSON, tolerating a markdown
// fence around it.
func decodeExtraction(text string) (*domain.ExtractionResult, error) {
	var result domain.ExtractionResult
	if err := json.Unmarshal([]byte(stripFence(text)), &result); err != nil {
		return nil, fmt.Errorf("decode extraction: %w", err)
	}
	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 1 {
		result.Confidence = 1
	}
	return &result, nil
}

// store applies the confidence gate and persists listings (and review items
// when gated into the review band).
func (uc *ExtractionUsecase) store(ctx context.Context, msg *domain.RawMessage, result *domain.ExtractionResult) (ExtractionOutcome, []*domain.Listing, error) {
	outcome := uc.gate(result.Confidence)

	var status domain.ListingStatus
	var needsReview bool
	switch outcome {
	case OutcomeAccepted:
		status = domain.StatusActive
	case OutcomeReview:
		status = domain.StatusPendingReview
		needsReview = true
	case OutcomeRejected:
		// Recorded for provenance but soft-deleted, never surfaced.
		status = domain.StatusDeleted
	}

	intent := domain.ParseIntent(result.Intent)
	var listings []*domain.Listing
	for _, item := range result.Items {
		l := uc.buildListing(ctx, msg, intent, result.Confidence, item)
		l.Status = status
		l.NeedsHumanReview = needsReview
		if outcome == OutcomeRejected {
			l.Deleted = true
		}
		if err := uc.listingRepo.Insert(ctx, l); err != nil {
			return OutcomeFailed, nil, err
		}
		if l.Deleted {
			if err := uc.listingRepo.SoftDelete(ctx, l.ID); err != nil {
				return OutcomeFailed, nil, err
			}
		}
		listings = append(listings, l)

		if needsReview {
			if err := uc.enqueueReview(ctx, msg, l, result); err != nil {
				return OutcomeFailed, nil, err
			}
		}
	}
	return outcome, listings, nil
}

func (uc *ExtractionUsecase) gate(confidence float64) ExtractionOutcome {
	switch {
	case confidence >= uc.cfg.AutoAcceptThreshold:
		return OutcomeAccepted
	case confidence >= uc.cfg.ReviewThreshold:
		return OutcomeReview
	case uc.cfg.LowConfidence == PolicyReview:
		return OutcomeReview
	default:
		return OutcomeRejected
	}
}

func (uc *ExtractionUsecase) buildListing(ctx context.Context, msg *domain.RawMessage, intent domain.Intent, confidence float64, item domain.ExtractedItem) *domain.Listing {
	quantity := item.Quantity
	if quantity <= 0 {
		quantity = 1
	}

	return &domain.Listing{
		RawMessageID:   msg.ID,
		GroupID:        msg.GroupID,
		Intent:         intent,
		Confidence:     confidence,
		Description:    item.Description,
		PartNumber:     item.PartNumber,
		Quantity:       quantity,
		CategoryID:     uc.lookupUC.Resolve(ctx, domain.LookupCategory, item.Category),
		ManufacturerID: uc.lookupUC.Resolve(ctx, domain.LookupManufacturer, item.Manufacturer),
		UnitID:         uc.lookupUC.Resolve(ctx, domain.LookupUnit, item.Unit),
		ConditionID:    uc.lookupUC.Resolve(ctx, domain.LookupCondition, item.Condition),
		Price:          item.Price,
		Currency:       strings.ToUpper(item.Currency),
		SellerName:     msg.SenderName,
		SellerPhone:    msg.SenderPhone,
		OriginalText:   msg.Body,
	}
}

func (uc *ExtractionUsecase) enqueueReview(ctx context.Context, msg *domain.RawMessage, l *domain.Listing, result *domain.ExtractionResult) error {
	suggested, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal suggestion: %w", err)
	}

	reason := fmt.Sprintf("confidence %.2f below auto-accept threshold", result.Confidence)
	if len(result.UnresolvedTerms) > 0 {
		reason += "; unresolved terms: " + strings.Join(result.UnresolvedTerms, ", ")
	}

	msgID := msg.ID
	item := &domain.ReviewQueueItem{
		ListingID:      l.ID,
		RawMessageID:   &msgID,
		Reason:         reason,
		LLMExplanation: result.Explanation,
		SuggestedJSON:  string(suggested),
	}
	return uc.reviewRepo.Insert(ctx, item)
}

func (uc *ExtractionUsecase) embed(ctx context.Context, l *domain.Listing) {
	if l.Description == "" || l.Deleted {
		return
	}
	vec, err := uc.llm.Embed(ctx, l.Description)
	if err != nil {
		uc.logger.Debug("embedding failed", "listing_id", l.ID, "error", err)
		return
	}
	if err := uc.listingRepo.SetEmbedding(ctx, l.ID, vec); err != nil {
		uc.logger.Debug("failed to store embedding", "listing_id", l.ID, "error", err)
	}
}

// Reextract re-runs extraction for a listing with a human-supplied hint,
// returning the candidate result side by side with the original text. It
// never mutates persisted state; committing is the reviewer's resolve call.
func (uc *ExtractionUsecase) Reextract(ctx context.Context, assistTemplate, originalText, hint string) (*domain.ExtractionResult, repo.Usage, error) {
	prompt := fmt.Sprintf(assistTemplate, originalText, hint)
	categories := strings.Join(uc.lookupUC.CategoryNames(ctx), ", ")
	systemPrompt := fmt.Sprintf(uc.systemTemplate, categories)

	text, usage, err := uc.llm.Complete(ctx, []repo.ChatTurn{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: prompt},
	}, 0.1)
	if err != nil {
		return nil, usage, fmt.Errorf("llm re-extraction: %w", err)
	}

	result, err := decodeExtraction(text)
	if err != nil {
		return nil, usage, err
	}
	return result, usage, nil
}
