package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Yuanja/watch-tracker-sub002/internal/biz/domain"
	"github.com/Yuanja/watch-tracker-sub002/internal/biz/repo"
)

// lookupRepo implements the Lookup repository backed by sqlite. The lookup
// tables are written by the external admin screens; this repo only reads
// whole sets for the TTL cache.
type lookupRepo struct {
	db *sql.DB
}

// NewLookupRepo creates a new Lookup repository
func NewLookupRepo(db *sql.DB) repo.LookupRepo {
	return &lookupRepo{db: db}
}

// ListEntries returns every entry of one lookup kind
func (r *lookupRepo) ListEntries(ctx context.Context, kind domain.LookupKind) ([]*domain.LookupEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, kind, name, aliases FROM lookup_entries WHERE kind = ? ORDER BY id ASC
	`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to list lookup entries: %w", err)
	}
	defer rows.Close()

	var entries []*domain.LookupEntry
	for rows.Next() {
		var e domain.LookupEntry
		var kindStr, aliases string
		if err := rows.Scan(&e.ID, &kindStr, &e.Name, &aliases); err != nil {
			return nil, fmt.Errorf("failed to scan lookup entry: %w", err)
		}
		e.Kind = domain.LookupKind(kindStr)
		if err := json.Unmarshal([]byte(aliases), &e.Aliases); err != nil {
			return nil, fmt.Errorf("failed to unmarshal aliases: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// ListJargon returns the whole jargon dictionary
func (r *lookupRepo) ListJargon(ctx context.Context) ([]*domain.JargonEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, term, expansion FROM jargon ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list jargon: %w", err)
	}
	defer rows.Close()

	var entries []*domain.JargonEntry
	for rows.Next() {
		var e domain.JargonEntry
		if err := rows.Scan(&e.ID, &e.Term, &e.Expansion); err != nil {
			return nil, fmt.Errorf("failed to scan jargon entry: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
