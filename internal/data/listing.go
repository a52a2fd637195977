package data

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/Yuanja/watch-tracker-sub002/internal/biz/domain"
	"github.com/Yuanja/watch-tracker-sub002/internal/biz/repo"
)

// listingRepo implements the Listing repository backed by sqlite
type listingRepo struct {
	db *sql.DB
}

// NewListingRepo creates a new Listing repository
func NewListingRepo(db *sql.DB) repo.ListingRepo {
	return &listingRepo{db: db}
}

const listingColumns = `id, raw_message_id, group_id, intent, confidence, description,
	part_number, quantity, category_id, manufacturer_id, unit_id, condition_id,
	price, currency, seller_name, seller_phone, original_text, status,
	needs_human_review, reviewed_by, reviewed_at, deleted, deleted_at,
	created_at, updated_at`

// Insert stores a new listing
func (r *listingRepo) Insert(ctx context.Context, l *domain.Listing) error {
	now := time.Now()
	l.CreatedAt = now
	l.UpdatedAt = now

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO listings (raw_message_id, group_id, intent, confidence, description,
			part_number, quantity, category_id, manufacturer_id, unit_id, condition_id,
			price, currency, seller_name, seller_phone, original_text, status,
			needs_human_review, reviewed_by, reviewed_at, deleted, deleted_at,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '', NULL, 0, NULL, ?, ?)
	`,
		l.RawMessageID, l.GroupID, string(l.Intent), l.Confidence, l.Description,
		l.PartNumber, l.Quantity, l.CategoryID, l.ManufacturerID, l.UnitID, l.ConditionID,
		l.Price, l.Currency, l.SellerName, l.SellerPhone, l.OriginalText, string(l.Status),
		boolToInt(l.NeedsHumanReview), now.Unix(), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert listing: %w", err)
	}

	l.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read listing id: %w", err)
	}
	return nil
}

// GetByID gets a listing by primary key
func (r *listingRepo) GetByID(ctx context.Context, id int64) (*domain.Listing, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE id = ?`, id)
	return scanListing(row)
}

// Update persists mutable listing fields
func (r *listingRepo) Update(ctx context.Context, l *domain.Listing) error {
	l.UpdatedAt = time.Now()

	var reviewedAt, deletedAt interface{}
	if l.ReviewedAt != nil {
		reviewedAt = l.ReviewedAt.Unix()
	}
	if l.DeletedAt != nil {
		deletedAt = l.DeletedAt.Unix()
	}

	_, err := r.db.ExecContext(ctx, `
		UPDATE listings SET intent = ?, description = ?, part_number = ?, quantity = ?,
			category_id = ?, manufacturer_id = ?, unit_id = ?, condition_id = ?,
			price = ?, currency = ?, status = ?, needs_human_review = ?,
			reviewed_by = ?, reviewed_at = ?, deleted = ?, deleted_at = ?, updated_at = ?
		WHERE id = ?
	`,
		string(l.Intent), l.Description, l.PartNumber, l.Quantity,
		l.CategoryID, l.ManufacturerID, l.UnitID, l.ConditionID,
		l.Price, l.Currency, string(l.Status), boolToInt(l.NeedsHumanReview),
		l.ReviewedBy, reviewedAt, boolToInt(l.Deleted), deletedAt, l.UpdatedAt.Unix(),
		l.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update listing: %w", err)
	}
	return nil
}

// Search finds listings by keyword, intent, status and price range
func (r *listingRepo) Search(ctx context.Context, q repo.ListingQuery) ([]*domain.Listing, error) {
	limit := q.Limit
	if limit <= 0 || limit > 100 {
		limit = 25
	}

	query := `SELECT ` + listingColumns + ` FROM listings WHERE deleted = 0`
	var args []interface{}
	if q.Keyword != "" {
		query += ` AND (description LIKE ? OR part_number LIKE ? OR original_text LIKE ?)`
		kw := "%" + q.Keyword + "%"
		args = append(args, kw, kw, kw)
	}
	if q.Intent != "" {
		query += ` AND intent = ?`
		args = append(args, string(q.Intent))
	}
	if q.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(q.Status))
	}
	if q.MinPrice != nil {
		query += ` AND price >= ?`
		args = append(args, *q.MinPrice)
	}
	if q.MaxPrice != nil {
		query += ` AND price <= ?`
		args = append(args, *q.MaxPrice)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search listings: %w", err)
	}
	defer rows.Close()
	return scanListings(rows)
}

// ListByRawMessage lists non-deleted listings from one source message
func (r *listingRepo) ListByRawMessage(ctx context.Context, rawMessageID int64) ([]*domain.Listing, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+listingColumns+` FROM listings
		WHERE raw_message_id = ? AND deleted = 0
		ORDER BY created_at ASC, id ASC
	`, rawMessageID)
	if err != nil {
		return nil, fmt.Errorf("failed to list listings by message: %w", err)
	}
	defer rows.Close()
	return scanListings(rows)
}

// ListByCrossPostKey lists non-deleted listings sharing the cross-post tuple
func (r *listingRepo) ListByCrossPostKey(ctx context.Context, key domain.CrossPostKey) ([]*domain.Listing, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+listingColumns+` FROM listings
		WHERE deleted = 0
			AND part_number != '' AND UPPER(part_number) = ?
			AND price IS NOT NULL AND price = ?
			AND UPPER(currency) = ?
			AND seller_phone != '' AND seller_phone = ?
		ORDER BY created_at ASC, id ASC
	`, key.PartNumber, key.Price, key.Currency, key.SellerPhone)
	if err != nil {
		return nil, fmt.Errorf("failed to list cross-posts: %w", err)
	}
	defer rows.Close()
	return scanListings(rows)
}

// SoftDelete marks a listing deleted
func (r *listingRepo) SoftDelete(ctx context.Context, id int64) error {
	now := time.Now().Unix()
	_, err := r.db.ExecContext(ctx, `
		UPDATE listings SET deleted = 1, deleted_at = ?, status = ?, updated_at = ? WHERE id = ?
	`, now, string(domain.StatusDeleted), now, id)
	if err != nil {
		return fmt.Errorf("failed to soft-delete listing: %w", err)
	}
	return nil
}

// CountByIntentStatus aggregates non-deleted listings per (intent, status)
func (r *listingRepo) CountByIntentStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT intent, status, COUNT(*) FROM listings
		WHERE deleted = 0
		GROUP BY intent, status
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate listings: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var intent, status string
		var n int
		if err := rows.Scan(&intent, &status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan aggregate: %w", err)
		}
		counts[intent+"/"+status] = n
	}
	return counts, rows.Err()
}

// SetEmbedding stores the description embedding as a little-endian float32 blob
func (r *listingRepo) SetEmbedding(ctx context.Context, id int64, vec []float32) error {
	buf := new(bytes.Buffer)
	for _, v := range vec {
		if err := binary.Write(buf, binary.LittleEndian, math.Float32bits(v)); err != nil {
			return fmt.Errorf("failed to encode embedding: %w", err)
		}
	}
	_, err := r.db.ExecContext(ctx, `UPDATE listings SET embedding = ? WHERE id = ?`, buf.Bytes(), id)
	if err != nil {
		return fmt.Errorf("failed to set embedding: %w", err)
	}
	return nil
}

func scanListing(row rowScanner) (*domain.Listing, error) {
	var l domain.Listing
	var intent, status string
	var needsReview, deleted int
	var reviewedAt, deletedAt sql.NullInt64
	var createdAt, updatedAt int64
	err := row.Scan(
		&l.ID, &l.RawMessageID, &l.GroupID, &intent, &l.Confidence, &l.Description,
		&l.PartNumber, &l.Quantity, &l.CategoryID, &l.ManufacturerID, &l.UnitID, &l.ConditionID,
		&l.Price, &l.Currency, &l.SellerName, &l.SellerPhone, &l.OriginalText, &status,
		&needsReview, &l.ReviewedBy, &reviewedAt, &deleted, &deletedAt,
		&createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan listing: %w", err)
	}
	l.Intent = domain.Intent(intent)
	l.Status = domain.ListingStatus(status)
	l.NeedsHumanReview = needsReview != 0
	l.Deleted = deleted != 0
	if reviewedAt.Valid {
		t := time.Unix(reviewedAt.Int64, 0)
		l.ReviewedAt = &t
	}
	if deletedAt.Valid {
		t := time.Unix(deletedAt.Int64, 0)
		l.DeletedAt = &t
	}
	l.CreatedAt = time.Unix(createdAt, 0)
	l.UpdatedAt = time.Unix(updatedAt, 0)
	return &l, nil
}

func scanListings(rows *sql.Rows) ([]*domain.Listing, error) {
	var listings []*domain.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}
