package usecase

import (
	"context"
	"testing"

	"github.com/Yuanja/watch-tracker-sub002/internal/biz/domain"
)

func crossPostListing(t *testing.T, repo *mockListingRepo, msgID int64, price float64, part, phone string) *domain.Listing {
	t.Helper()
	l := &domain.Listing{
		RawMessageID: msgID,
		GroupID:      1,
		Intent:       domain.IntentSell,
		Description:  "Submariner " + part,
		PartNumber:   part,
		Price:        &price,
		Currency:     "USD",
		SellerPhone:  phone,
		Status:       domain.StatusActive,
	}
	if err := repo.Insert(context.Background(), l); err != nil {
		t.Fatalf("insert: %v", err)
	}
	return l
}

func TestDeduplicateKeepsEarliestRepeat(t *testing.T) {
	listingRepo := newMockListingRepo()
	uc := NewCrossPostUsecase(listingRepo, testLogger())

	first := crossPostListing(t, listingRepo, 1, 7500, "16610", "+111")
	second := crossPostListing(t, listingRepo, 1, 7500, "16610", "+111")
	third := crossPostListing(t, listingRepo, 1, 7500, "16610", "+111")

	survivor, removed, err := uc.DeduplicateExactRepeats(context.Background(), third)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if survivor.ID != first.ID {
		t.Errorf("Expected earliest listing %d to survive, got %d", first.ID, survivor.ID)
	}
	if removed != 2 {
		t.Errorf("Expected 2 removed, got %d", removed)
	}

	if listingRepo.listings[first.ID].Deleted {
		t.Error("Survivor must not be deleted")
	}
	if !listingRepo.listings[second.ID].Deleted || !listingRepo.listings[third.ID].Deleted {
		t.Error("Later postings must be soft-deleted")
	}
}

func TestDeduplicateCrossGroupPostingsUntouched(t *testing.T) {
	listingRepo := newMockListingRepo()
	uc := NewCrossPostUsecase(listingRepo, testLogger())

	// The same offer extracted from two different source messages, e.g.
	// posted into two groups. Both postings stay live.
	a := crossPostListing(t, listingRepo, 1, 7500, "16610", "+111")
	b := crossPostListing(t, listingRepo, 2, 7500, "16610", "+111")

	survivor, removed, err := uc.DeduplicateExactRepeats(context.Background(), b)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if removed != 0 {
		t.Errorf("Distinct source messages are not exact repeats, removed %d", removed)
	}
	if survivor.ID != b.ID {
		t.Errorf("Expected the listing itself to survive, got %d", survivor.ID)
	}
	if listingRepo.listings[a.ID].Deleted || listingRepo.listings[b.ID].Deleted {
		t.Error("Nothing should be deleted")
	}

	n, err := uc.CountCrossPosts(context.Background(), b)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected the other posting counted, got %d", n)
	}
}

func TestDeduplicateDifferentSellersUntouched(t *testing.T) {
	listingRepo := newMockListingRepo()
	uc := NewCrossPostUsecase(listingRepo, testLogger())

	a := crossPostListing(t, listingRepo, 1, 7500, "16610", "+111")
	b := crossPostListing(t, listingRepo, 1, 7500, "16610", "+222")

	_, removed, err := uc.DeduplicateExactRepeats(context.Background(), b)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if removed != 0 {
		t.Errorf("Different sellers are not cross-posts, removed %d", removed)
	}
	if listingRepo.listings[a.ID].Deleted || listingRepo.listings[b.ID].Deleted {
		t.Error("Nothing should be deleted")
	}
}

func TestDeduplicateNoKeyIsNoop(t *testing.T) {
	listingRepo := newMockListingRepo()
	uc := NewCrossPostUsecase(listingRepo, testLogger())

	// No price, so no cross-post key.
	l := &domain.Listing{Intent: domain.IntentSell, PartNumber: "16610", SellerPhone: "+111", Status: domain.StatusActive}
	if err := listingRepo.Insert(context.Background(), l); err != nil {
		t.Fatalf("insert: %v", err)
	}

	survivor, removed, err := uc.DeduplicateExactRepeats(context.Background(), l)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if survivor != l || removed != 0 {
		t.Errorf("Keyless listing must pass through untouched, got removed=%d", removed)
	}
}

func TestCountCrossPostsExcludesSelf(t *testing.T) {
	listingRepo := newMockListingRepo()
	uc := NewCrossPostUsecase(listingRepo, testLogger())

	crossPostListing(t, listingRepo, 1, 7500, "16610", "+111")
	b := crossPostListing(t, listingRepo, 2, 7500, "16610", "+111")

	n, err := uc.CountCrossPosts(context.Background(), b)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 sibling, got %d", n)
	}
}

func TestDeduplicateAlreadyCollapsedReportsSurvivor(t *testing.T) {
	listingRepo := newMockListingRepo()
	uc := NewCrossPostUsecase(listingRepo, testLogger())

	first := crossPostListing(t, listingRepo, 1, 7500, "16610", "+111")
	second := crossPostListing(t, listingRepo, 1, 7500, "16610", "+111")

	if _, _, err := uc.DeduplicateExactRepeats(context.Background(), first); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// Running the pass again with the collapsed repeat must point at the
	// live survivor, not resurrect the repeat.
	survivor, removed, err := uc.DeduplicateExactRepeats(context.Background(), second)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if survivor.ID != first.ID {
		t.Errorf("Expected survivor %d, got %d", first.ID, survivor.ID)
	}
	if removed != 0 {
		t.Errorf("Expected nothing further removed, got %d", removed)
	}
}
