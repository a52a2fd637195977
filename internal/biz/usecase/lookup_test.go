package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/Yuanja/watch-tracker-sub002/internal/biz/domain"
)

func TestResolveNameAndAlias(t *testing.T) {
	uc := testLookupUC()
	ctx := context.Background()

	if id := uc.Resolve(ctx, domain.LookupCategory, "dive watch"); id == nil || *id != 1 {
		t.Errorf("Expected case-insensitive name match, got %v", id)
	}
	if id := uc.Resolve(ctx, domain.LookupCategory, "DIVER"); id == nil || *id != 1 {
		t.Errorf("Expected alias match, got %v", id)
	}
	if id := uc.Resolve(ctx, domain.LookupCondition, "new old stock"); id == nil || *id != 30 {
		t.Errorf("Expected multi-word alias match, got %v", id)
	}
	if id := uc.Resolve(ctx, domain.LookupManufacturer, "Patek"); id != nil {
		t.Errorf("Unknown name must resolve to nil, got %v", id)
	}
	if id := uc.Resolve(ctx, domain.LookupManufacturer, "  "); id != nil {
		t.Errorf("Blank name must resolve to nil, got %v", id)
	}
}

func TestExpandJargonWordBounded(t *testing.T) {
	uc := testLookupUC()
	ctx := context.Background()

	got := uc.ExpandJargon(ctx, "WTS: BNIB Submariner")
	if got != "want to sell: brand new in box Submariner" {
		t.Errorf("Unexpected expansion %q", got)
	}

	// Substrings inside words stay untouched.
	got = uc.ExpandJargon(ctx, "the BNIBX model")
	if got != "the BNIBX model" {
		t.Errorf("Expected no expansion inside words, got %q", got)
	}

	got = uc.ExpandJargon(ctx, "nothing to expand here")
	if got != "nothing to expand here" {
		t.Errorf("Expected passthrough, got %q", got)
	}
}

func TestStripFence(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`{"a": 1}`, `{"a": 1}`},
		{"```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"  ```json\n{\"a\": 1}\n```  ", `{"a": 1}`},
		{"plain text", "plain text"},
	}
	for _, c := range cases {
		if got := stripFence(c.in); got != c.want {
			t.Errorf("stripFence(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestLookupCacheReplacedOnExpiry(t *testing.T) {
	repo := &mockLookupRepo{
		entries: map[domain.LookupKind][]*domain.LookupEntry{
			domain.LookupCategory: {
				{ID: 1, Kind: domain.LookupCategory, Name: "Dive Watch"},
			},
		},
	}
	ctx := context.Background()

	// A long TTL pins the first snapshot.
	uc := NewLookupUsecase(repo, time.Hour)
	if id := uc.Resolve(ctx, domain.LookupCategory, "Dive Watch"); id == nil {
		t.Fatal("Expected initial entry to resolve")
	}
	repo.entries[domain.LookupCategory] = append(repo.entries[domain.LookupCategory],
		&domain.LookupEntry{ID: 2, Kind: domain.LookupCategory, Name: "Chronograph"})
	if id := uc.Resolve(ctx, domain.LookupCategory, "Chronograph"); id != nil {
		t.Errorf("New entry must stay invisible until expiry, got %v", id)
	}

	// An expired cache is replaced wholesale on the next read.
	uc = NewLookupUsecase(repo, time.Nanosecond)
	if id := uc.Resolve(ctx, domain.LookupCategory, "Chronograph"); id == nil || *id != 2 {
		t.Errorf("Expected refreshed snapshot, got %v", id)
	}
	repo.entries[domain.LookupCategory] = repo.entries[domain.LookupCategory][:1]
	time.Sleep(time.Millisecond)
	if id := uc.Resolve(ctx, domain.LookupCategory, "Chronograph"); id != nil {
		t.Errorf("Removed entry must disappear after refresh, got %v", id)
	}
}
