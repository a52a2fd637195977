package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Yuanja/watch-tracker-sub002/internal/biz/domain"
	"github.com/Yuanja/watch-tracker-sub002/internal/biz/repo"
)

// messageRepo implements the Message repository backed by sqlite
type messageRepo struct {
	db *sql.DB
}

// NewMessageRepo creates a new Message repository
func NewMessageRepo(db *sql.DB) repo.MessageRepo {
	return &messageRepo{db: db}
}

const messageColumns = `id, external_id, group_id, sender_name, sender_phone, body,
	media_type, media_url, media_path, is_forwarded, is_reply, received_at,
	processed, processing_error`

// Insert stores a new message, reporting domain.ErrDuplicate on a lost
// uniqueness race.
func (r *messageRepo) Insert(ctx context.Context, msg *domain.RawMessage) error {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (external_id, group_id, sender_name, sender_phone, body,
			media_type, media_url, media_path, is_forwarded, is_reply, received_at,
			processed, processing_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, '')
	`,
		msg.ExternalID,
		msg.GroupID,
		msg.SenderName,
		msg.SenderPhone,
		msg.Body,
		msg.MediaType,
		msg.MediaURL,
		msg.MediaPath,
		boolToInt(msg.IsForwarded),
		boolToInt(msg.IsReply),
		msg.ReceivedAt.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("failed to insert message: %w", err)
	}

	msg.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read message id: %w", err)
	}
	return nil
}

// GetByExternalID gets a message by external id
func (r *messageRepo) GetByExternalID(ctx context.Context, externalID string) (*domain.RawMessage, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE external_id = ?`, externalID)
	return scanMessage(row)
}

// GetByID gets a message by primary key
func (r *messageRepo) GetByID(ctx context.Context, id int64) (*domain.RawMessage, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	return scanMessage(row)
}

// MarkProcessed sets processed = true and clears the error
func (r *messageRepo) MarkProcessed(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE messages SET processed = 1, processing_error = '' WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("failed to mark processed: %w", err)
	}
	return nil
}

// MarkFailed records the error and leaves processed = false
func (r *messageRepo) MarkFailed(ctx context.Context, id int64, reason string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE messages SET processed = 0, processing_error = ? WHERE id = ?
	`, reason, id)
	if err != nil {
		return fmt.Errorf("failed to mark failed: %w", err)
	}
	return nil
}

// SetMediaPath attaches the downloaded media path
func (r *messageRepo) SetMediaPath(ctx context.Context, id int64, path string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE messages SET media_path = ? WHERE id = ?
	`, path, id)
	if err != nil {
		return fmt.Errorf("failed to set media path: %w", err)
	}
	return nil
}

// ListUnprocessed lists messages eligible for extraction, oldest first
func (r *messageRepo) ListUnprocessed(ctx context.Context, limit int) ([]*domain.RawMessage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE processed = 0
		ORDER BY received_at ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unprocessed: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// ListPendingMedia lists messages whose media fetch is outstanding
func (r *messageRepo) ListPendingMedia(ctx context.Context, limit int) ([]*domain.RawMessage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE media_url != '' AND media_path = ''
		ORDER BY received_at ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending media: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// Search finds messages by group, sender and keyword
func (r *messageRepo) Search(ctx context.Context, q repo.MessageQuery) ([]*domain.RawMessage, error) {
	limit := q.Limit
	if limit <= 0 || limit > 100 {
		limit = 25
	}

	query := `SELECT ` + messageColumns + ` FROM messages WHERE 1=1`
	var args []interface{}
	if q.GroupID != 0 {
		query += ` AND group_id = ?`
		args = append(args, q.GroupID)
	}
	if q.Sender != "" {
		query += ` AND (sender_name LIKE ? OR sender_phone LIKE ?)`
		args = append(args, "%"+q.Sender+"%", "%"+q.Sender+"%")
	}
	if q.Keyword != "" {
		query += ` AND body LIKE ?`
		args = append(args, "%"+q.Keyword+"%")
	}
	if !q.Since.IsZero() {
		query += ` AND received_at >= ?`
		args = append(args, q.Since.Unix())
	}
	query += ` ORDER BY received_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*domain.RawMessage, error) {
	var msg domain.RawMessage
	var isForwarded, isReply, processed int
	var receivedAt int64
	err := row.Scan(
		&msg.ID, &msg.ExternalID, &msg.GroupID, &msg.SenderName, &msg.SenderPhone,
		&msg.Body, &msg.MediaType, &msg.MediaURL, &msg.MediaPath,
		&isForwarded, &isReply, &receivedAt, &processed, &msg.ProcessingError,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}
	msg.IsForwarded = isForwarded != 0
	msg.IsReply = isReply != 0
	msg.Processed = processed != 0
	msg.ReceivedAt = time.Unix(receivedAt, 0)
	return &msg, nil
}

func scanMessages(rows *sql.Rows) ([]*domain.RawMessage, error) {
	var messages []*domain.RawMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// groupRepo implements the Group repository
type groupRepo struct {
	db *sql.DB
}

// NewGroupRepo creates a new Group repository
func NewGroupRepo(db *sql.DB) repo.GroupRepo {
	return &groupRepo{db: db}
}

// GetOrCreate resolves a group by external id, creating a placeholder when
// unseen. A lost creation race falls back to reading the winner's row.
func (r *groupRepo) GetOrCreate(ctx context.Context, externalID, name string) (*domain.Group, error) {
	g, err := r.getByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	if g != nil {
		return g, nil
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO groups (external_id, name, created_at) VALUES (?, ?, ?)
	`, externalID, name, time.Now().Unix())
	if err != nil {
		if isUniqueViolation(err) {
			return r.getByExternalID(ctx, externalID)
		}
		return nil, fmt.Errorf("failed to create group: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read group id: %w", err)
	}
	return &domain.Group{ID: id, ExternalID: externalID, Name: name, CreatedAt: time.Now()}, nil
}

// GetByID gets a group by primary key
func (r *groupRepo) GetByID(ctx context.Context, id int64) (*domain.Group, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, external_id, name, created_at FROM groups WHERE id = ?
	`, id)
	return scanGroup(row)
}

func (r *groupRepo) getByExternalID(ctx context.Context, externalID string) (*domain.Group, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, external_id, name, created_at FROM groups WHERE external_id = ?
	`, externalID)
	return scanGroup(row)
}

func scanGroup(row rowScanner) (*domain.Group, error) {
	var g domain.Group
	var createdAt int64
	err := row.Scan(&g.ID, &g.ExternalID, &g.Name, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan group: %w", err)
	}
	g.CreatedAt = time.Unix(createdAt, 0)
	return &g, nil
}
