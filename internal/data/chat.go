package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Yuanja/watch-tracker-sub002/internal/biz/domain"
	"github.com/Yuanja/watch-tracker-sub002/internal/biz/repo"
)

// chatRepo implements the Chat repository backed by sqlite
type chatRepo struct {
	db *sql.DB
}

// NewChatRepo creates a new Chat repository
func NewChatRepo(db *sql.DB) repo.ChatRepo {
	return &chatRepo{db: db}
}

// GetSession gets a session, or nil when unseen
func (r *chatRepo) GetSession(ctx context.Context, sessionID string) (*domain.ChatSession, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, created_at, updated_at FROM chat_sessions WHERE id = ?
	`, sessionID)

	var s domain.ChatSession
	var createdAt, updatedAt int64
	err := row.Scan(&s.ID, &s.UserID, &s.Title, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	s.CreatedAt = time.Unix(createdAt, 0)
	s.UpdatedAt = time.Unix(updatedAt, 0)
	return &s, nil
}

// CreateSession stores a new session
func (r *chatRepo) CreateSession(ctx context.Context, s *domain.ChatSession) error {
	now := time.Now()
	s.CreatedAt = now
	s.UpdatedAt = now
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO chat_sessions (id, user_id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, s.ID, s.UserID, s.Title, now.Unix(), now.Unix())
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// TouchSession updates session activity time
func (r *chatRepo) TouchSession(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE chat_sessions SET updated_at = ? WHERE id = ?
	`, time.Now().Unix(), sessionID)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

// AppendMessage stores one immutable message
func (r *chatRepo) AppendMessage(ctx context.Context, m *domain.ChatMessage) error {
	m.CreatedAt = time.Now()
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO chat_messages (session_id, role, content, model, prompt_tokens,
			completion_tokens, cost_usd, tool_call_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		m.SessionID, string(m.Role), m.Content, m.Model, m.PromptTokens,
		m.CompletionTokens, m.CostUSD, m.ToolCallJSON, m.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}

	m.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read message id: %w", err)
	}
	return nil
}

// ListMessages returns the session's messages in insertion order
func (r *chatRepo) ListMessages(ctx context.Context, sessionID string) ([]*domain.ChatMessage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, model, prompt_tokens, completion_tokens,
			cost_usd, tool_call_json, created_at
		FROM chat_messages
		WHERE session_id = ?
		ORDER BY id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []*domain.ChatMessage
	for rows.Next() {
		var m domain.ChatMessage
		var role string
		var createdAt int64
		if err := rows.Scan(
			&m.ID, &m.SessionID, &role, &m.Content, &m.Model, &m.PromptTokens,
			&m.CompletionTokens, &m.CostUSD, &m.ToolCallJSON, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Role = domain.ChatRole(role)
		m.CreatedAt = time.Unix(createdAt, 0)
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}

// AddCost atomically increments the user's cost ledger. The increment is one
// UPSERT so concurrent writers never lose updates.
func (r *chatRepo) AddCost(ctx context.Context, userID int64, tokens int, costUSD float64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cost_ledger (user_id, total_tokens, total_cost_usd)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			total_tokens = total_tokens + excluded.total_tokens,
			total_cost_usd = total_cost_usd + excluded.total_cost_usd
	`, userID, tokens, costUSD)
	if err != nil {
		return fmt.Errorf("failed to add cost: %w", err)
	}
	return nil
}

// GetCost returns the user's accumulated totals
func (r *chatRepo) GetCost(ctx context.Context, userID int64) (int, float64, error) {
	var tokens int
	var cost float64
	err := r.db.QueryRowContext(ctx, `
		SELECT total_tokens, total_cost_usd FROM cost_ledger WHERE user_id = ?
	`, userID).Scan(&tokens, &cost)
	if err == sql.ErrNoRows {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to query cost ledger: %w", err)
	}
	return tokens, cost, nil
}
