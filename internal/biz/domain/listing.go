package domain

import (
	"strings"
	"time"
)

// Intent represents what the sender wants to do with the item.
type Intent string

const (
	IntentSell    Intent = "sell"
	IntentWant    Intent = "want"
	IntentUnknown Intent = "unknown"
)

// ParseIntent normalizes free text into an Intent, defaulting to unknown.
func ParseIntent(s string) Intent {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sell", "selling", "sale", "wts":
		return IntentSell
	case "want", "buy", "buying", "wtb", "iso":
		return IntentWant
	default:
		return IntentUnknown
	}
}

// ListingStatus is the lifecycle status of a listing.
type ListingStatus string

const (
	StatusActive        ListingStatus = "active"
	StatusPendingReview ListingStatus = "pending_review"
	StatusExpired       ListingStatus = "expired"
	StatusDeleted       ListingStatus = "deleted"
	StatusSold          ListingStatus = "sold"
)

// Listing is a structured trade offer extracted from exactly one RawMessage.
// Unresolved lookup names stay as nil foreign keys rather than rejecting the
// extraction. Listings are soft-deleted, never removed.
type Listing struct {
	ID           int64
	RawMessageID int64
	GroupID      int64

	Intent      Intent
	Confidence  float64
	Description string
	PartNumber  string
	Quantity    int

	CategoryID     *int64
	ManufacturerID *int64
	UnitID         *int64
	ConditionID    *int64

	Price    *float64
	Currency string

	// Provenance from the source message.
	SellerName   string
	SellerPhone  string
	OriginalText string

	Status           ListingStatus
	NeedsHumanReview bool
	ReviewedBy       string
	ReviewedAt       *time.Time

	Deleted   bool
	DeletedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CrossPostKey identifies listings that are postings of the same physical
// item. A listing without a price or part number has no key and never
// matches another listing through this mechanism.
type CrossPostKey struct {
	PartNumber  string
	Price       float64
	Currency    string
	SellerPhone string
}

// CrossPostKeyOf returns the cross-post key for a listing, or false when the
// listing lacks the fields the key is built from.
func CrossPostKeyOf(l *Listing) (CrossPostKey, bool) {
	if l.Price == nil || l.PartNumber == "" || l.SellerPhone == "" {
		return CrossPostKey{}, false
	}
	return CrossPostKey{
		PartNumber:  strings.ToUpper(strings.TrimSpace(l.PartNumber)),
		Price:       *l.Price,
		Currency:    strings.ToUpper(l.Currency),
		SellerPhone: l.SellerPhone,
	}, true
}

// IsCrossPostOf reports whether two listings share a cross-post key.
func (l *Listing) IsCrossPostOf(other *Listing) bool {
	a, ok := CrossPostKeyOf(l)
	if !ok {
		return false
	}
	b, ok := CrossPostKeyOf(other)
	if !ok {
		return false
	}
	return a == b
}
