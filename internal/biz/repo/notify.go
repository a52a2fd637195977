package repo

import "context"

// PushEvent is the payload pushed to a user's personal real-time channel
// when a rule matches a new listing.
type PushEvent struct {
	Type        string `json:"type"`
	RuleID      int64  `json:"ruleId"`
	ListingID   int64  `json:"listingId"`
	Description string `json:"description"`
	RuleName    string `json:"ruleName"`
}

// EmailSender delivers a notification email. The transport itself is an
// external collaborator; failures are logged by the caller and never roll
// back the match.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Pusher publishes an event to a user's real-time channel. Failure is
// independently non-fatal.
type Pusher interface {
	Push(ctx context.Context, userID int64, event PushEvent) error
}

// MediaFetcher downloads message media to durable local storage and returns
// the stored path. A failed fetch never fails the archive operation.
type MediaFetcher interface {
	Fetch(ctx context.Context, url, mediaType string) (string, error)
}
