package data

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Yuanja/watch-tracker-sub002/internal/biz/repo"

	_ "modernc.org/sqlite"
)

// Repositories contains all repositories
type Repositories struct {
	Message repo.MessageRepo
	Group   repo.GroupRepo
	Listing repo.ListingRepo
	Review  repo.ReviewRepo
	Rule    repo.RuleRepo
	User    repo.UserRepo
	Chat    repo.ChatRepo
	Lookup  repo.LookupRepo

	db *sql.DB
}

// NewRepositories opens the database and creates all repositories
func NewRepositories(dbPath string) (*Repositories, error) {
	db, err := Open(dbPath)
	if err != nil {
		return nil, err
	}

	return &Repositories{
		Message: NewMessageRepo(db),
		Group:   NewGroupRepo(db),
		Listing: NewListingRepo(db),
		Review:  NewReviewRepo(db),
		Rule:    NewRuleRepo(db),
		User:    NewUserRepo(db),
		Chat:    NewChatRepo(db),
		Lookup:  NewLookupRepo(db),
		db:      db,
	}, nil
}

// Close closes the underlying database
func (r *Repositories) Close() error {
	return r.db.Close()
}

// Open opens the sqlite database and creates the schema
func Open(dbPath string) (*sql.DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Cross-goroutine writes go through one connection; sqlite serializes
	// them without SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func createSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS groups (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			external_id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			external_id TEXT NOT NULL UNIQUE,
			group_id INTEGER NOT NULL,
			sender_name TEXT NOT NULL DEFAULT '',
			sender_phone TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL DEFAULT '',
			media_type TEXT NOT NULL DEFAULT '',
			media_url TEXT NOT NULL DEFAULT '',
			media_path TEXT NOT NULL DEFAULT '',
			is_forwarded INTEGER NOT NULL DEFAULT 0,
			is_reply INTEGER NOT NULL DEFAULT 0,
			received_at INTEGER NOT NULL,
			processed INTEGER NOT NULL DEFAULT 0,
			processing_error TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_processed ON messages(processed, received_at)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_group ON messages(group_id, received_at)`,
		`CREATE TABLE IF NOT EXISTS listings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			raw_message_id INTEGER NOT NULL,
			group_id INTEGER NOT NULL,
			intent TEXT NOT NULL,
			confidence REAL NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			part_number TEXT NOT NULL DEFAULT '',
			quantity INTEGER NOT NULL DEFAULT 1,
			category_id INTEGER,
			manufacturer_id INTEGER,
			unit_id INTEGER,
			condition_id INTEGER,
			price REAL,
			currency TEXT NOT NULL DEFAULT '',
			seller_name TEXT NOT NULL DEFAULT '',
			seller_phone TEXT NOT NULL DEFAULT '',
			original_text TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			needs_human_review INTEGER NOT NULL DEFAULT 0,
			reviewed_by TEXT NOT NULL DEFAULT '',
			reviewed_at INTEGER,
			deleted INTEGER NOT NULL DEFAULT 0,
			deleted_at INTEGER,
			embedding BLOB,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_listings_message ON listings(raw_message_id)`,
		`CREATE INDEX IF NOT EXISTS idx_listings_status ON listings(status, deleted)`,
		`CREATE INDEX IF NOT EXISTS idx_listings_crosspost ON listings(part_number, price, currency, seller_phone)`,
		`CREATE TABLE IF NOT EXISTS review_queue (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			listing_id INTEGER NOT NULL,
			raw_message_id INTEGER,
			reason TEXT NOT NULL DEFAULT '',
			llm_explanation TEXT NOT NULL DEFAULT '',
			suggested_json TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			resolved_by TEXT NOT NULL DEFAULT '',
			resolved_at INTEGER,
			resolution_json TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_review_status ON review_queue(status, created_at)`,
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email TEXT NOT NULL DEFAULT '',
			active INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS notification_rules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			rule_text TEXT NOT NULL DEFAULT '',
			intent TEXT NOT NULL DEFAULT '',
			keywords TEXT NOT NULL DEFAULT '[]',
			category_ids TEXT NOT NULL DEFAULT '[]',
			min_price REAL,
			max_price REAL,
			channel TEXT NOT NULL DEFAULT 'email',
			notify_email TEXT NOT NULL DEFAULT '',
			active INTEGER NOT NULL DEFAULT 1,
			last_triggered_at INTEGER,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rules_user ON notification_rules(user_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS chat_sessions (
			id TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			cost_usd REAL NOT NULL DEFAULT 0,
			tool_call_json TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages(session_id, id)`,
		`CREATE TABLE IF NOT EXISTS cost_ledger (
			user_id INTEGER PRIMARY KEY,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			total_cost_usd REAL NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS lookup_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			name TEXT NOT NULL,
			aliases TEXT NOT NULL DEFAULT '[]',
			UNIQUE(kind, name)
		)`,
		`CREATE TABLE IF NOT EXISTS jargon (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			term TEXT NOT NULL UNIQUE,
			expansion TEXT NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// isUniqueViolation reports whether the error is a sqlite UNIQUE constraint
// failure. Detect-and-ignore on insert, never pre-check-then-insert.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
