package usecase

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Yuanja/watch-tracker-sub002/internal/biz/domain"
	"github.com/Yuanja/watch-tracker-sub002/internal/biz/repo"
)

// LookupUsecase resolves free-text lookup names to stored identifiers and
// expands jargon terms. All sets are read through a process-wide cache that
// expires on a fixed TTL; a refresh replaces the whole cached set, never
// mutates it in place.
type LookupUsecase struct {
	lookupRepo repo.LookupRepo
	ttl        time.Duration

	mu        sync.RWMutex
	fetchedAt time.Time
	entries   map[domain.LookupKind][]*domain.LookupEntry
	jargon    []*domain.JargonEntry
}

// NewLookupUsecase creates a new lookup usecase
func NewLookupUsecase(lookupRepo repo.LookupRepo, ttl time.Duration) *LookupUsecase {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &LookupUsecase{
		lookupRepo: lookupRepo,
		ttl:        ttl,
	}
}

// Resolve resolves a free-text name to the identifier of a lookup entry.
// Returns nil when the name is empty or does not resolve; unresolved names
// are kept as null foreign keys, not rejected.
func (uc *LookupUsecase) Resolve(ctx context.Context, kind domain.LookupKind, name string) *int64 {
	if strings.TrimSpace(name) == "" {
		return nil
	}

	entries, err := uc.cachedEntries(ctx, kind)
	if err != nil {
		return nil
	}
	for _, e := range entries {
		if e.MatchesName(name) {
			id := e.ID
			return &id
		}
	}
	return nil
}

// CategoryNames returns the known category names for prompt construction.
func (uc *LookupUsecase) CategoryNames(ctx context.Context) []string {
	entries, err := uc.cachedEntries(ctx, domain.LookupCategory)
	if err != nil {
		return nil
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names
}

// ExpandJargon expands known abbreviations in the text before the LLM sees
// it. The stored message body is never changed. Matching is word-bounded and
// case-insensitive.
func (uc *LookupUsecase) ExpandJargon(ctx context.Context, text string) string {
	jargon, err := uc.cachedJargon(ctx)
	if err != nil || len(jargon) == 0 {
		return text
	}

	expansions := make(map[string]string, len(jargon))
	for _, j := range jargon {
		expansions[strings.ToLower(j.Term)] = j.Expansion
	}

	fields := strings.Fields(text)
	changed := false
	for i, f := range fields {
		bare := strings.ToLower(strings.Trim(f, ".,;:!?()"))
		if exp, ok := expansions[bare]; ok {
			fields[i] = strings.Replace(f, strings.Trim(f, ".,;:!?()"), exp, 1)
			changed = true
		}
	}
	if !changed {
		return text
	}
	return strings.Join(fields, " ")
}

func (uc *LookupUsecase) cachedEntries(ctx context.Context, kind domain.LookupKind) ([]*domain.LookupEntry, error) {
	uc.mu.RLock()
	if uc.entries != nil && time.Since(uc.fetchedAt) < uc.ttl {
		entries := uc.entries[kind]
		uc.mu.RUnlock()
		return entries, nil
	}
	uc.mu.RUnlock()

	if err := uc.refresh(ctx); err != nil {
		return nil, err
	}

	uc.mu.RLock()
	defer uc.mu.RUnlock()
	return uc.entries[kind], nil
}

func (uc *LookupUsecase) cachedJargon(ctx context.Context) ([]*domain.JargonEntry, error) {
	uc.mu.RLock()
	if uc.jargon != nil && time.Since(uc.fetchedAt) < uc.ttl {
		jargon := uc.jargon
		uc.mu.RUnlock()
		return jargon, nil
	}
	uc.mu.RUnlock()

	if err := uc.refresh(ctx); err != nil {
		return nil, err
	}

	uc.mu.RLock()
	defer uc.mu.RUnlock()
	return uc.jargon, nil
}

// refresh reloads every cached set and swaps them in wholesale.
func (uc *LookupUsecase) refresh(ctx context.Context) error {
	kinds := []domain.LookupKind{
		domain.LookupCategory,
		domain.LookupManufacturer,
		domain.LookupUnit,
		domain.LookupCondition,
	}

	fresh := make(map[domain.LookupKind][]*domain.LookupEntry, len(kinds))
	for _, kind := range kinds {
		entries, err := uc.lookupRepo.ListEntries(ctx, kind)
		if err != nil {
			return err
		}
		fresh[kind] = entries
	}

	jargon, err := uc.lookupRepo.ListJargon(ctx)
	if err != nil {
		return err
	}
	if jargon == nil {
		jargon = []*domain.JargonEntry{}
	}

	uc.mu.Lock()
	uc.entries = fresh
	uc.jargon = jargon
	uc.fetchedAt = time.Now()
	uc.mu.Unlock()
	return nil
}
