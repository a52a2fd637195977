package data

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Yuanja/watch-tracker-sub002/internal/biz/domain"
	"github.com/Yuanja/watch-tracker-sub002/internal/biz/repo"
)

func testRepos(t *testing.T) *Repositories {
	t.Helper()
	repos, err := NewRepositories(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { repos.Close() })
	return repos
}

func storeMessage(t *testing.T, repos *Repositories, externalID, body string) *domain.RawMessage {
	t.Helper()
	ctx := context.Background()

	group, err := repos.Group.GetOrCreate(ctx, "grp-1", "Watch Traders")
	if err != nil {
		t.Fatalf("get or create group: %v", err)
	}

	msg := &domain.RawMessage{
		ExternalID:  externalID,
		GroupID:     group.ID,
		SenderName:  "Alice",
		SenderPhone: "+111",
		Body:        body,
		ReceivedAt:  time.Now(),
	}
	if err := repos.Message.Insert(ctx, msg); err != nil {
		t.Fatalf("insert message: %v", err)
	}
	return msg
}

func TestMessageInsertDuplicateExternalID(t *testing.T) {
	repos := testRepos(t)
	ctx := context.Background()

	first := storeMessage(t, repos, "m-1", "WTS Submariner")

	dup := &domain.RawMessage{ExternalID: "m-1", GroupID: first.GroupID, Body: "redelivery", ReceivedAt: time.Now()}
	if err := repos.Message.Insert(ctx, dup); !errors.Is(err, domain.ErrDuplicate) {
		t.Fatalf("Expected ErrDuplicate, got %v", err)
	}

	stored, err := repos.Message.GetByExternalID(ctx, "m-1")
	if err != nil {
		t.Fatalf("get by external id: %v", err)
	}
	if stored == nil || stored.Body != "WTS Submariner" {
		t.Errorf("First write must win, got %+v", stored)
	}
}

func TestMessageInsertConcurrentDuplicates(t *testing.T) {
	repos := testRepos(t)
	ctx := context.Background()

	group, err := repos.Group.GetOrCreate(ctx, "grp-1", "Watch Traders")
	if err != nil {
		t.Fatalf("group: %v", err)
	}

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = repos.Message.Insert(ctx, &domain.RawMessage{
				ExternalID: "m-1",
				GroupID:    group.ID,
				Body:       "WTS Submariner",
				ReceivedAt: time.Now(),
			})
		}(i)
	}
	wg.Wait()

	stored, duplicates := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			stored++
		case errors.Is(err, domain.ErrDuplicate):
			duplicates++
		default:
			t.Fatalf("Unexpected error: %v", err)
		}
	}
	if stored != 1 || duplicates != writers-1 {
		t.Errorf("Expected 1 insert and %d duplicates, got %d and %d", writers-1, stored, duplicates)
	}

	msgs, err := repos.Message.Search(ctx, repo.MessageQuery{Limit: 20})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(msgs) != 1 {
		t.Errorf("Expected exactly one stored row, got %d", len(msgs))
	}
}

func TestMessageGetByExternalIDUnseen(t *testing.T) {
	repos := testRepos(t)
	msg, err := repos.Message.GetByExternalID(context.Background(), "never-seen")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if msg != nil {
		t.Errorf("Expected nil for unseen id, got %+v", msg)
	}
}

func TestMessageProcessedLifecycle(t *testing.T) {
	repos := testRepos(t)
	ctx := context.Background()
	msg := storeMessage(t, repos, "m-1", "WTS Submariner")

	if err := repos.Message.MarkFailed(ctx, msg.ID, "llm timeout"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	pending, err := repos.Message.ListUnprocessed(ctx, 10)
	if err != nil {
		t.Fatalf("list unprocessed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("Failed message stays retryable, got %d pending", len(pending))
	}
	if pending[0].ProcessingError != "llm timeout" {
		t.Errorf("Expected recorded error, got %q", pending[0].ProcessingError)
	}

	if err := repos.Message.MarkProcessed(ctx, msg.ID); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	pending, _ = repos.Message.ListUnprocessed(ctx, 10)
	if len(pending) != 0 {
		t.Errorf("Processed message must leave the queue, got %d", len(pending))
	}

	stored, _ := repos.Message.GetByID(ctx, msg.ID)
	if stored.ProcessingError != "" {
		t.Errorf("MarkProcessed clears the error, got %q", stored.ProcessingError)
	}
}

func TestGroupGetOrCreateRace(t *testing.T) {
	repos := testRepos(t)
	ctx := context.Background()

	a, err := repos.Group.GetOrCreate(ctx, "grp-1", "Watch Traders")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	b, err := repos.Group.GetOrCreate(ctx, "grp-1", "different name")
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if a.ID != b.ID {
		t.Errorf("Same external id must yield the same group, got %d and %d", a.ID, b.ID)
	}
}

func storeListing(t *testing.T, repos *Repositories, msgID, groupID int64, price *float64, part, phone string, status domain.ListingStatus) *domain.Listing {
	t.Helper()
	l := &domain.Listing{
		RawMessageID: msgID,
		GroupID:      groupID,
		Intent:       domain.IntentSell,
		Confidence:   0.9,
		Description:  "Rolex Submariner " + part,
		PartNumber:   part,
		Quantity:     1,
		Price:        price,
		Currency:     "USD",
		SellerPhone:  phone,
		OriginalText: "WTS " + part,
		Status:       status,
	}
	if err := repos.Listing.Insert(context.Background(), l); err != nil {
		t.Fatalf("insert listing: %v", err)
	}
	return l
}

func TestListingCrossPostKeyQuery(t *testing.T) {
	repos := testRepos(t)
	ctx := context.Background()
	msg := storeMessage(t, repos, "m-1", "WTS")

	price := 7500.0
	a := storeListing(t, repos, msg.ID, msg.GroupID, &price, "16610", "+111", domain.StatusActive)
	b := storeListing(t, repos, msg.ID, msg.GroupID, &price, "16610", "+111", domain.StatusActive)
	storeListing(t, repos, msg.ID, msg.GroupID, &price, "16610", "+222", domain.StatusActive)
	storeListing(t, repos, msg.ID, msg.GroupID, nil, "16610", "+111", domain.StatusActive)

	key, ok := domain.CrossPostKeyOf(a)
	if !ok {
		t.Fatal("expected key")
	}
	siblings, err := repos.Listing.ListByCrossPostKey(ctx, key)
	if err != nil {
		t.Fatalf("list by key: %v", err)
	}
	if len(siblings) != 2 {
		t.Fatalf("Expected 2 listings sharing the key, got %d", len(siblings))
	}
	if siblings[0].ID != a.ID || siblings[1].ID != b.ID {
		t.Errorf("Expected oldest first [%d %d], got [%d %d]", a.ID, b.ID, siblings[0].ID, siblings[1].ID)
	}

	// Soft-deleted rows leave the result.
	if err := repos.Listing.SoftDelete(ctx, b.ID); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	siblings, _ = repos.Listing.ListByCrossPostKey(ctx, key)
	if len(siblings) != 1 {
		t.Errorf("Expected 1 after soft delete, got %d", len(siblings))
	}
}

func TestListingSearchFilters(t *testing.T) {
	repos := testRepos(t)
	ctx := context.Background()
	msg := storeMessage(t, repos, "m-1", "WTS")

	cheap := 500.0
	mid := 7500.0
	storeListing(t, repos, msg.ID, msg.GroupID, &cheap, "BEZEL-1", "+111", domain.StatusActive)
	target := storeListing(t, repos, msg.ID, msg.GroupID, &mid, "16610", "+111", domain.StatusActive)
	storeListing(t, repos, msg.ID, msg.GroupID, &mid, "16613", "+111", domain.StatusPendingReview)

	minP := 1000.0
	results, err := repos.Listing.Search(ctx, repo.ListingQuery{
		Keyword:  "submariner",
		Intent:   domain.IntentSell,
		Status:   domain.StatusActive,
		MinPrice: &minP,
		Limit:    10,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].ID != target.ID {
		t.Fatalf("Expected exactly the active 16610, got %+v", results)
	}

	// Zero-value query returns everything not deleted.
	all, err := repos.Listing.Search(ctx, repo.ListingQuery{Limit: 10})
	if err != nil {
		t.Fatalf("search all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("Expected 3 listings, got %d", len(all))
	}
}

func TestListingUpdateRoundTrip(t *testing.T) {
	repos := testRepos(t)
	ctx := context.Background()
	msg := storeMessage(t, repos, "m-1", "WTS")

	price := 7500.0
	l := storeListing(t, repos, msg.ID, msg.GroupID, &price, "16610", "+111", domain.StatusPendingReview)

	now := time.Now().Truncate(time.Second)
	catID := int64(3)
	l.Status = domain.StatusActive
	l.NeedsHumanReview = false
	l.ReviewedBy = "carol"
	l.ReviewedAt = &now
	l.CategoryID = &catID
	l.Description = "corrected description"
	if err := repos.Listing.Update(ctx, l); err != nil {
		t.Fatalf("update: %v", err)
	}

	stored, err := repos.Listing.GetByID(ctx, l.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != domain.StatusActive || stored.ReviewedBy != "carol" {
		t.Errorf("Update lost review fields: %+v", stored)
	}
	if stored.CategoryID == nil || *stored.CategoryID != 3 {
		t.Errorf("Update lost category, got %v", stored.CategoryID)
	}
	if stored.ReviewedAt == nil || !stored.ReviewedAt.Equal(now) {
		t.Errorf("Expected reviewed_at %v, got %v", now, stored.ReviewedAt)
	}
}

func TestListingCountByIntentStatus(t *testing.T) {
	repos := testRepos(t)
	ctx := context.Background()
	msg := storeMessage(t, repos, "m-1", "WTS")

	price := 7500.0
	storeListing(t, repos, msg.ID, msg.GroupID, &price, "A", "+111", domain.StatusActive)
	storeListing(t, repos, msg.ID, msg.GroupID, &price, "B", "+111", domain.StatusActive)
	deleted := storeListing(t, repos, msg.ID, msg.GroupID, &price, "C", "+111", domain.StatusActive)
	_ = repos.Listing.SoftDelete(ctx, deleted.ID)

	counts, err := repos.Listing.CountByIntentStatus(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts["sell/active"] != 2 {
		t.Errorf("Expected sell/active 2, got %d", counts["sell/active"])
	}
}

func TestListingSetEmbedding(t *testing.T) {
	repos := testRepos(t)
	msg := storeMessage(t, repos, "m-1", "WTS")
	price := 7500.0
	l := storeListing(t, repos, msg.ID, msg.GroupID, &price, "16610", "+111", domain.StatusActive)

	if err := repos.Listing.SetEmbedding(context.Background(), l.ID, []float32{0.5, -1.25, 3}); err != nil {
		t.Fatalf("set embedding: %v", err)
	}
}

func TestReviewTransitionGuard(t *testing.T) {
	repos := testRepos(t)
	ctx := context.Background()
	msg := storeMessage(t, repos, "m-1", "WTS")
	price := 7500.0
	l := storeListing(t, repos, msg.ID, msg.GroupID, &price, "16610", "+111", domain.StatusPendingReview)

	msgID := msg.ID
	item := &domain.ReviewQueueItem{
		ListingID:      l.ID,
		RawMessageID:   &msgID,
		Reason:         "confidence 0.60 below auto-accept threshold",
		LLMExplanation: "ambiguous model reference",
		SuggestedJSON:  `{"intent":"sell"}`,
	}
	if err := repos.Review.Insert(ctx, item); err != nil {
		t.Fatalf("insert: %v", err)
	}

	pending, err := repos.Review.ListPending(ctx, 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != item.ID {
		t.Fatalf("Expected the pending item, got %+v", pending)
	}

	now := time.Now()
	if err := repos.Review.Transition(ctx, item.ID, domain.ReviewResolved, "carol", now, `{"price":4200}`); err != nil {
		t.Fatalf("transition: %v", err)
	}

	// A second transition of any kind loses.
	err = repos.Review.Transition(ctx, item.ID, domain.ReviewSkipped, "dave", now, "{}")
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("Expected ErrInvalidState, got %v", err)
	}

	stored, _ := repos.Review.GetByID(ctx, item.ID)
	if stored.Status != domain.ReviewResolved || stored.ResolvedBy != "carol" {
		t.Errorf("First transition must win, got %+v", stored)
	}
	if stored.ResolutionJSON != `{"price":4200}` {
		t.Errorf("Expected resolution snapshot, got %q", stored.ResolutionJSON)
	}

	if err := repos.Review.Transition(ctx, 9999, domain.ReviewResolved, "carol", now, "{}"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for missing item, got %v", err)
	}
}

func TestRuleRoundTripAndListActive(t *testing.T) {
	repos := testRepos(t)
	ctx := context.Background()
	db := repos.db

	// Two users, one deactivated.
	if _, err := db.Exec(`INSERT INTO users (id, email, active) VALUES (7, 'dealer@example.com', 1), (8, 'gone@example.com', 0)`); err != nil {
		t.Fatalf("seed users: %v", err)
	}

	max := 8000.0
	rule := &domain.NotificationRule{
		UserID:      7,
		Name:        "subs under 8k",
		RuleText:    "tell me about submariners under 8000",
		Intent:      domain.IntentSell,
		Keywords:    []string{"submariner", "16610"},
		CategoryIDs: []int64{1, 2},
		MaxPrice:    &max,
		Channel:     "email",
		Active:      true,
	}
	if err := repos.Rule.Insert(ctx, rule); err != nil {
		t.Fatalf("insert rule: %v", err)
	}
	inactiveUserRule := &domain.NotificationRule{UserID: 8, Name: "x", RuleText: "y", Channel: "email", Active: true}
	if err := repos.Rule.Insert(ctx, inactiveUserRule); err != nil {
		t.Fatalf("insert second rule: %v", err)
	}

	stored, err := repos.Rule.GetByID(ctx, rule.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(stored.Keywords) != 2 || stored.Keywords[1] != "16610" {
		t.Errorf("Keywords lost in round trip: %v", stored.Keywords)
	}
	if len(stored.CategoryIDs) != 2 {
		t.Errorf("Category ids lost in round trip: %v", stored.CategoryIDs)
	}
	if stored.MaxPrice == nil || *stored.MaxPrice != 8000 {
		t.Errorf("Max price lost: %v", stored.MaxPrice)
	}

	// Only rules of active users dispatch.
	active, err := repos.Rule.ListActive(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].ID != rule.ID {
		t.Fatalf("Expected only the active user's rule, got %+v", active)
	}

	if err := repos.Rule.Touch(ctx, rule.ID, time.Now()); err != nil {
		t.Fatalf("touch: %v", err)
	}
	stored, _ = repos.Rule.GetByID(ctx, rule.ID)
	if stored.LastTriggeredAt == nil {
		t.Error("Expected last_triggered_at set")
	}

	email, err := repos.User.GetEmail(ctx, 7)
	if err != nil || email != "dealer@example.com" {
		t.Errorf("Expected account email, got %q err %v", email, err)
	}
}

func TestChatCostLedgerUpsert(t *testing.T) {
	repos := testRepos(t)
	ctx := context.Background()

	if err := repos.Chat.AddCost(ctx, 7, 300, 0.002); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if err := repos.Chat.AddCost(ctx, 7, 200, 0.001); err != nil {
		t.Fatalf("second add: %v", err)
	}

	tokens, cost, err := repos.Chat.GetCost(ctx, 7)
	if err != nil {
		t.Fatalf("get cost: %v", err)
	}
	if tokens != 500 {
		t.Errorf("Expected 500 tokens, got %d", tokens)
	}
	if cost < 0.0029 || cost > 0.0031 {
		t.Errorf("Expected ~0.003, got %f", cost)
	}

	// Unknown user reads as zero, not an error.
	tokens, cost, err = repos.Chat.GetCost(ctx, 99)
	if err != nil || tokens != 0 || cost != 0 {
		t.Errorf("Expected zero ledger, got %d %f %v", tokens, cost, err)
	}
}

func TestChatSessionAndMessages(t *testing.T) {
	repos := testRepos(t)
	ctx := context.Background()

	session := &domain.ChatSession{ID: "sess-1", UserID: 7, Title: "submariner search"}
	if err := repos.Chat.CreateSession(ctx, session); err != nil {
		t.Fatalf("create session: %v", err)
	}

	for i, m := range []*domain.ChatMessage{
		{SessionID: "sess-1", Role: domain.RoleUser, Content: "any subs?"},
		{SessionID: "sess-1", Role: domain.RoleAssistant, Content: "one at 7500", Model: "gpt-4o-mini", PromptTokens: 200, CompletionTokens: 100, CostUSD: 0.002, ToolCallJSON: `{"tool":"search_listings"}`},
	} {
		if err := repos.Chat.AppendMessage(ctx, m); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	msgs, err := repos.Chat.ListMessages(ctx, "sess-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != domain.RoleUser || msgs[1].Role != domain.RoleAssistant {
		t.Errorf("Order lost: %s then %s", msgs[0].Role, msgs[1].Role)
	}
	if msgs[1].ToolCallJSON == "" || msgs[1].PromptTokens != 200 {
		t.Errorf("Assistant metadata lost: %+v", msgs[1])
	}

	missing, err := repos.Chat.GetSession(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("Expected nil for missing session, got %+v err %v", missing, err)
	}
}

func TestLookupEntriesAndJargon(t *testing.T) {
	repos := testRepos(t)
	ctx := context.Background()
	db := repos.db

	if _, err := db.Exec(`INSERT INTO lookup_entries (kind, name, aliases) VALUES
		('category', 'Dive Watch', '["diver"]'),
		('category', 'Chronograph', '[]'),
		('manufacturer', 'Rolex', '[]')`); err != nil {
		t.Fatalf("seed lookups: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO jargon (term, expansion) VALUES ('WTS', 'want to sell')`); err != nil {
		t.Fatalf("seed jargon: %v", err)
	}

	cats, err := repos.Lookup.ListEntries(ctx, domain.LookupCategory)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(cats) != 2 {
		t.Fatalf("Expected 2 categories, got %d", len(cats))
	}
	if len(cats[0].Aliases) != 1 || cats[0].Aliases[0] != "diver" {
		t.Errorf("Aliases lost: %+v", cats[0])
	}

	jargon, err := repos.Lookup.ListJargon(ctx)
	if err != nil {
		t.Fatalf("list jargon: %v", err)
	}
	if len(jargon) != 1 || jargon[0].Expansion != "want to sell" {
		t.Errorf("Unexpected jargon %+v", jargon)
	}
}
