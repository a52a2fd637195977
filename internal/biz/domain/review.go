package domain

import "time"

// ReviewStatus is the state of a review queue item. Transitions are
// one-directional: pending -> resolved or pending -> skipped.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewResolved ReviewStatus = "resolved"
	ReviewSkipped  ReviewStatus = "skipped"
)

// ReviewQueueItem is a human-correction task for a low-confidence extraction.
// One item exists per listing that fails the auto-accept threshold. Terminal
// once resolved or skipped.
type ReviewQueueItem struct {
	ID           int64
	ListingID    int64
	RawMessageID *int64

	Reason         string
	LLMExplanation string
	SuggestedJSON  string // serialized extraction suggestion

	Status         ReviewStatus
	ResolvedBy     string
	ResolvedAt     *time.Time
	ResolutionJSON string // serialized snapshot of the applied corrections

	CreatedAt time.Time
}

// IsPending reports whether the item can still be resolved or skipped.
func (r *ReviewQueueItem) IsPending() bool {
	return r.Status == ReviewPending
}

// ReviewCorrections carries the human-corrected fields applied during
// resolution. Nil fields leave the listing value untouched.
type ReviewCorrections struct {
	Intent       *string  `json:"intent,omitempty"`
	Description  *string  `json:"description,omitempty"`
	PartNumber   *string  `json:"part_number,omitempty"`
	Quantity     *int     `json:"quantity,omitempty"`
	Category     *string  `json:"category,omitempty"`
	Manufacturer *string  `json:"manufacturer,omitempty"`
	Unit         *string  `json:"unit,omitempty"`
	Condition    *string  `json:"condition,omitempty"`
	Price        *float64 `json:"price,omitempty"`
	Currency     *string  `json:"currency,omitempty"`
}

// IsEmpty reports whether no correction was supplied at all.
func (c *ReviewCorrections) IsEmpty() bool {
	return c.Intent == nil && c.Description == nil && c.PartNumber == nil &&
		c.Quantity == nil && c.Category == nil && c.Manufacturer == nil &&
		c.Unit == nil && c.Condition == nil && c.Price == nil && c.Currency == nil
}
