package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Yuanja/watch-tracker-sub002/internal/biz/domain"
	"github.com/Yuanja/watch-tracker-sub002/internal/biz/repo"
)

// reviewRepo implements the Review repository backed by sqlite
type reviewRepo struct {
	db *sql.DB
}

// NewReviewRepo creates a new Review repository
func NewReviewRepo(db *sql.DB) repo.ReviewRepo {
	return &reviewRepo{db: db}
}

const reviewColumns = `id, listing_id, raw_message_id, reason, llm_explanation,
	suggested_json, status, resolved_by, resolved_at, resolution_json, created_at`

// Insert stores a new review queue item
func (r *reviewRepo) Insert(ctx context.Context, item *domain.ReviewQueueItem) error {
	item.CreatedAt = time.Now()
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO review_queue (listing_id, raw_message_id, reason, llm_explanation,
			suggested_json, status, resolved_by, resolved_at, resolution_json, created_at)
		VALUES (?, ?, ?, ?, ?, 'pending', '', NULL, '', ?)
	`,
		item.ListingID, item.RawMessageID, item.Reason, item.LLMExplanation,
		item.SuggestedJSON, item.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert review item: %w", err)
	}

	item.Status = domain.ReviewPending
	item.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read review item id: %w", err)
	}
	return nil
}

// GetByID gets a review item by primary key
func (r *reviewRepo) GetByID(ctx context.Context, id int64) (*domain.ReviewQueueItem, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+reviewColumns+` FROM review_queue WHERE id = ?`, id)
	return scanReviewItem(row)
}

// ListPending lists pending items oldest first
func (r *reviewRepo) ListPending(ctx context.Context, limit int) ([]*domain.ReviewQueueItem, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+reviewColumns+` FROM review_queue
		WHERE status = 'pending'
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending reviews: %w", err)
	}
	defer rows.Close()

	var items []*domain.ReviewQueueItem
	for rows.Next() {
		item, err := scanReviewItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Transition moves a pending item to a terminal status. The UPDATE is
// conditioned on status = 'pending' so that concurrent attempts yield
// exactly one success; the loser sees zero affected rows.
func (r *reviewRepo) Transition(ctx context.Context, id int64, to domain.ReviewStatus, resolvedBy string, resolvedAt time.Time, resolutionJSON string) error {
	if to != domain.ReviewResolved && to != domain.ReviewSkipped {
		return fmt.Errorf("cannot transition to %q: %w", to, domain.ErrInvalidState)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE review_queue
		SET status = ?, resolved_by = ?, resolved_at = ?, resolution_json = ?
		WHERE id = ? AND status = 'pending'
	`, string(to), resolvedBy, resolvedAt.Unix(), resolutionJSON, id)
	if err != nil {
		return fmt.Errorf("failed to transition review item: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		// Either the item does not exist or it already left pending.
		existing, err := r.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return domain.ErrNotFound
		}
		return domain.ErrInvalidState
	}
	return nil
}

func scanReviewItem(row rowScanner) (*domain.ReviewQueueItem, error) {
	var item domain.ReviewQueueItem
	var status string
	var rawMessageID, resolvedAt sql.NullInt64
	var createdAt int64
	err := row.Scan(
		&item.ID, &item.ListingID, &rawMessageID, &item.Reason, &item.LLMExplanation,
		&item.SuggestedJSON, &status, &item.ResolvedBy, &resolvedAt, &item.ResolutionJSON,
		&createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan review item: %w", err)
	}
	item.Status = domain.ReviewStatus(status)
	if rawMessageID.Valid {
		item.RawMessageID = &rawMessageID.Int64
	}
	if resolvedAt.Valid {
		t := time.Unix(resolvedAt.Int64, 0)
		item.ResolvedAt = &t
	}
	item.CreatedAt = time.Unix(createdAt, 0)
	return &item, nil
}
