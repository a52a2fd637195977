package repo

import (
	"context"

	"github.com/Yuanja/watch-tracker-sub002/internal/biz/domain"
)

// ChatRepo persists chat sessions, their ordered messages and the per-user
// cost ledger.
type ChatRepo interface {
	// GetSession returns the session, or nil when it does not exist.
	GetSession(ctx context.Context, sessionID string) (*domain.ChatSession, error)

	CreateSession(ctx context.Context, s *domain.ChatSession) error

	// TouchSession updates the session's last-activity timestamp.
	TouchSession(ctx context.Context, sessionID string) error

	// AppendMessage stores one immutable message.
	AppendMessage(ctx context.Context, m *domain.ChatMessage) error

	// ListMessages returns the session's messages in insertion order.
	ListMessages(ctx context.Context, sessionID string) ([]*domain.ChatMessage, error)

	// AddCost atomically increments the user's running cost ledger. The
	// increment happens in SQL, not read-modify-write, because concurrent
	// chat, extraction and notification work touches the same row.
	AddCost(ctx context.Context, userID int64, tokens int, costUSD float64) error

	// GetCost returns the user's accumulated token and cost totals.
	GetCost(ctx context.Context, userID int64) (tokens int, costUSD float64, err error)
}
