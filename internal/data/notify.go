package data

import (
	"context"
	"log/slog"

	"github.com/Yuanja/watch-tracker-sub002/internal/biz/repo"
)

// The email and push transports are external collaborators. These adapters
// log the delivery so the pipeline is fully exercisable without them; real
// deployments swap in implementations backed by the mail relay and the
// realtime gateway.

// logEmailSender records outbound email instead of delivering it.
type logEmailSender struct {
	from   string
	logger *slog.Logger
}

// NewLogEmailSender creates an EmailSender that only logs
func NewLogEmailSender(from string, logger *slog.Logger) repo.EmailSender {
	return &logEmailSender{from: from, logger: logger}
}

// Send logs the email
func (s *logEmailSender) Send(ctx context.Context, to, subject, body string) error {
	s.logger.Info("email dispatched",
		"from", s.from,
		"to", to,
		"subject", subject,
		"bytes", len(body),
	)
	return nil
}

// logPusher records realtime push events instead of delivering them.
type logPusher struct {
	logger *slog.Logger
}

// NewLogPusher creates a Pusher that only logs
func NewLogPusher(logger *slog.Logger) repo.Pusher {
	return &logPusher{logger: logger}
}

// Push logs the event
func (p *logPusher) Push(ctx context.Context, userID int64, event repo.PushEvent) error {
	p.logger.Info("push event dispatched",
		"user_id", userID,
		"type", event.Type,
		"rule_id", event.RuleID,
		"listing_id", event.ListingID,
	)
	return nil
}
