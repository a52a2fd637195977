package domain

import (
	"strings"
	"time"
)

// NotificationRule is a user-owned alert created from natural language.
// The parsed filter fields are replaced wholesale whenever the rule text is
// re-parsed. Rules are deactivated rather than deleted.
type NotificationRule struct {
	ID     int64
	UserID int64
	Name   string

	// RuleText is the user's original natural-language description.
	RuleText string

	Intent      Intent // empty intent matches any
	Keywords    []string
	CategoryIDs []int64
	MinPrice    *float64
	MaxPrice    *float64

	Channel     string // "email", "push" or both via "email+push"
	NotifyEmail string

	Active          bool
	LastTriggeredAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ParsedRule is the transient output of parsing rule text with the LLM.
// A failed parse degrades to the zero value so the rule is still saved with
// its literal text.
type ParsedRule struct {
	Intent     Intent
	Keywords   []string
	Categories []string
	MinPrice   *float64
	MaxPrice   *float64
}

// Matches reports whether a listing satisfies the rule. Absent filter fields
// match anything; present fields must all hold.
func (r *NotificationRule) Matches(l *Listing) bool {
	if r.Intent != "" && r.Intent != IntentUnknown && r.Intent != l.Intent {
		return false
	}
	if r.MinPrice != nil {
		if l.Price == nil || *l.Price < *r.MinPrice {
			return false
		}
	}
	if r.MaxPrice != nil {
		if l.Price == nil || *l.Price > *r.MaxPrice {
			return false
		}
	}
	if len(r.Keywords) > 0 && !r.matchesKeywords(l) {
		return false
	}
	if len(r.CategoryIDs) > 0 && !r.matchesCategory(l) {
		return false
	}
	return true
}

func (r *NotificationRule) matchesKeywords(l *Listing) bool {
	haystack := strings.ToLower(l.Description + " " + l.PartNumber + " " + l.OriginalText)
	for _, kw := range r.Keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(haystack, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func (r *NotificationRule) matchesCategory(l *Listing) bool {
	if l.CategoryID == nil {
		return false
	}
	for _, id := range r.CategoryIDs {
		if id == *l.CategoryID {
			return true
		}
	}
	return false
}
