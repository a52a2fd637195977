package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Yuanja/watch-tracker-sub002/internal/biz/domain"
	"github.com/Yuanja/watch-tracker-sub002/internal/biz/repo"
)

// ruleRepo implements the Rule repository backed by sqlite
type ruleRepo struct {
	db *sql.DB
}

// NewRuleRepo creates a new Rule repository
func NewRuleRepo(db *sql.DB) repo.RuleRepo {
	return &ruleRepo{db: db}
}

const ruleColumns = `id, user_id, name, rule_text, intent, keywords, category_ids,
	min_price, max_price, channel, notify_email, active, last_triggered_at,
	created_at, updated_at`

// Insert stores a new notification rule
func (r *ruleRepo) Insert(ctx context.Context, rule *domain.NotificationRule) error {
	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	keywords, categoryIDs, err := marshalRuleFilters(rule)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO notification_rules (user_id, name, rule_text, intent, keywords,
			category_ids, min_price, max_price, channel, notify_email, active,
			last_triggered_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)
	`,
		rule.UserID, rule.Name, rule.RuleText, string(rule.Intent), keywords,
		categoryIDs, rule.MinPrice, rule.MaxPrice, rule.Channel, rule.NotifyEmail,
		boolToInt(rule.Active), now.Unix(), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}

	rule.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read rule id: %w", err)
	}
	return nil
}

// GetByID gets a rule by primary key
func (r *ruleRepo) GetByID(ctx context.Context, id int64) (*domain.NotificationRule, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM notification_rules WHERE id = ?`, id)
	return scanRule(row)
}

// Update replaces the rule's mutable fields, parsed filters included
func (r *ruleRepo) Update(ctx context.Context, rule *domain.NotificationRule) error {
	rule.UpdatedAt = time.Now()

	keywords, categoryIDs, err := marshalRuleFilters(rule)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE notification_rules
		SET name = ?, rule_text = ?, intent = ?, keywords = ?, category_ids = ?,
			min_price = ?, max_price = ?, channel = ?, notify_email = ?, active = ?,
			updated_at = ?
		WHERE id = ?
	`,
		rule.Name, rule.RuleText, string(rule.Intent), keywords, categoryIDs,
		rule.MinPrice, rule.MaxPrice, rule.Channel, rule.NotifyEmail, boolToInt(rule.Active),
		rule.UpdatedAt.Unix(), rule.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	return nil
}

// ListActive lists active rules belonging to active users
func (r *ruleRepo) ListActive(ctx context.Context) ([]*domain.NotificationRule, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT r.id, r.user_id, r.name, r.rule_text, r.intent, r.keywords, r.category_ids,
			r.min_price, r.max_price, r.channel, r.notify_email, r.active, r.last_triggered_at,
			r.created_at, r.updated_at
		FROM notification_rules r
		JOIN users u ON u.id = r.user_id
		WHERE r.active = 1 AND u.active = 1
		ORDER BY r.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active rules: %w", err)
	}
	defer rows.Close()
	return scanRules(rows)
}

// ListByUser lists the user's rules newest first
func (r *ruleRepo) ListByUser(ctx context.Context, userID int64) ([]*domain.NotificationRule, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+ruleColumns+` FROM notification_rules
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()
	return scanRules(rows)
}

// Touch records the last-triggered timestamp
func (r *ruleRepo) Touch(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE notification_rules SET last_triggered_at = ? WHERE id = ?
	`, at.Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to touch rule: %w", err)
	}
	return nil
}

func marshalRuleFilters(rule *domain.NotificationRule) (keywords string, categoryIDs string, err error) {
	kw := rule.Keywords
	if kw == nil {
		kw = []string{}
	}
	kwBytes, err := json.Marshal(kw)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal keywords: %w", err)
	}

	cats := rule.CategoryIDs
	if cats == nil {
		cats = []int64{}
	}
	catBytes, err := json.Marshal(cats)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal category ids: %w", err)
	}
	return string(kwBytes), string(catBytes), nil
}

func scanRule(row rowScanner) (*domain.NotificationRule, error) {
	var rule domain.NotificationRule
	var intent, keywords, categoryIDs string
	var active int
	var lastTriggered sql.NullInt64
	var createdAt, updatedAt int64
	err := row.Scan(
		&rule.ID, &rule.UserID, &rule.Name, &rule.RuleText, &intent, &keywords, &categoryIDs,
		&rule.MinPrice, &rule.MaxPrice, &rule.Channel, &rule.NotifyEmail, &active, &lastTriggered,
		&createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan rule: %w", err)
	}
	rule.Intent = domain.Intent(intent)
	rule.Active = active != 0
	if err := json.Unmarshal([]byte(keywords), &rule.Keywords); err != nil {
		return nil, fmt.Errorf("failed to unmarshal keywords: %w", err)
	}
	if err := json.Unmarshal([]byte(categoryIDs), &rule.CategoryIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal category ids: %w", err)
	}
	if lastTriggered.Valid {
		t := time.Unix(lastTriggered.Int64, 0)
		rule.LastTriggeredAt = &t
	}
	rule.CreatedAt = time.Unix(createdAt, 0)
	rule.UpdatedAt = time.Unix(updatedAt, 0)
	return &rule, nil
}

func scanRules(rows *sql.Rows) ([]*domain.NotificationRule, error) {
	var rules []*domain.NotificationRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// userRepo implements the User repository
type userRepo struct {
	db *sql.DB
}

// NewUserRepo creates a new User repository
func NewUserRepo(db *sql.DB) repo.UserRepo {
	return &userRepo{db: db}
}

// GetEmail returns the account email for dispatch fallback
func (r *userRepo) GetEmail(ctx context.Context, userID int64) (string, error) {
	var email string
	err := r.db.QueryRowContext(ctx, `SELECT email FROM users WHERE id = ?`, userID).Scan(&email)
	if err == sql.ErrNoRows {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query user email: %w", err)
	}
	return email, nil
}

// IsActive reports whether the user account is active
func (r *userRepo) IsActive(ctx context.Context, userID int64) (bool, error) {
	var active int
	err := r.db.QueryRowContext(ctx, `SELECT active FROM users WHERE id = ?`, userID).Scan(&active)
	if err == sql.ErrNoRows {
		return false, domain.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to query user: %w", err)
	}
	return active != 0, nil
}
