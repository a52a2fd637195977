package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Yuanja/watch-tracker-sub002/internal/biz/domain"
	"github.com/Yuanja/watch-tracker-sub002/internal/biz/repo"
)

// Shared in-memory fakes for the usecase tests.

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockMessageRepo struct {
	messages     map[int64]*domain.RawMessage
	nextID       int64
	processed    []int64
	failed       map[int64]string
	pendingMedia []*domain.RawMessage
}

func newMockMessageRepo() *mockMessageRepo {
	return &mockMessageRepo{
		messages: make(map[int64]*domain.RawMessage),
		failed:   make(map[int64]string),
	}
}

func (m *mockMessageRepo) Insert(ctx context.Context, msg *domain.RawMessage) error {
	for _, existing := range m.messages {
		if existing.ExternalID == msg.ExternalID {
			return domain.ErrDuplicate
		}
	}
	m.nextID++
	msg.ID = m.nextID
	m.messages[msg.ID] = msg
	return nil
}

func (m *mockMessageRepo) GetByExternalID(ctx context.Context, externalID string) (*domain.RawMessage, error) {
	for _, msg := range m.messages {
		if msg.ExternalID == externalID {
			return msg, nil
		}
	}
	return nil, nil
}

func (m *mockMessageRepo) GetByID(ctx context.Context, id int64) (*domain.RawMessage, error) {
	return m.messages[id], nil
}

func (m *mockMessageRepo) MarkProcessed(ctx context.Context, id int64) error {
	m.processed = append(m.processed, id)
	if msg, ok := m.messages[id]; ok {
		msg.Processed = true
		msg.ProcessingError = ""
	}
	return nil
}

func (m *mockMessageRepo) MarkFailed(ctx context.Context, id int64, reason string) error {
	m.failed[id] = reason
	return nil
}

func (m *mockMessageRepo) SetMediaPath(ctx context.Context, id int64, path string) error {
	if msg, ok := m.messages[id]; ok {
		msg.MediaPath = path
	}
	return nil
}

func (m *mockMessageRepo) ListUnprocessed(ctx context.Context, limit int) ([]*domain.RawMessage, error) {
	var out []*domain.RawMessage
	for _, msg := range m.messages {
		if !msg.Processed {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *mockMessageRepo) ListPendingMedia(ctx context.Context, limit int) ([]*domain.RawMessage, error) {
	return m.pendingMedia, nil
}

func (m *mockMessageRepo) Search(ctx context.Context, q repo.MessageQuery) ([]*domain.RawMessage, error) {
	var out []*domain.RawMessage
	for _, msg := range m.messages {
		out = append(out, msg)
	}
	return out, nil
}

type mockGroupRepo struct {
	groups map[string]*domain.Group
	nextID int64
}

func newMockGroupRepo() *mockGroupRepo {
	return &mockGroupRepo{groups: make(map[string]*domain.Group)}
}

func (m *mockGroupRepo) GetOrCreate(ctx context.Context, externalID, name string) (*domain.Group, error) {
	if g, ok := m.groups[externalID]; ok {
		return g, nil
	}
	m.nextID++
	g := &domain.Group{ID: m.nextID, ExternalID: externalID, Name: name}
	m.groups[externalID] = g
	return g, nil
}

func (m *mockGroupRepo) GetByID(ctx context.Context, id int64) (*domain.Group, error) {
	for _, g := range m.groups {
		if g.ID == id {
			return g, nil
		}
	}
	return nil, nil
}

type mockListingRepo struct {
	listings   map[int64]*domain.Listing
	nextID     int64
	embeddings map[int64][]float32
}

func newMockListingRepo() *mockListingRepo {
	return &mockListingRepo{
		listings:   make(map[int64]*domain.Listing),
		embeddings: make(map[int64][]float32),
	}
}

func (m *mockListingRepo) Insert(ctx context.Context, l *domain.Listing) error {
	m.nextID++
	l.ID = m.nextID
	l.CreatedAt = time.Now()
	copied := *l
	m.listings[l.ID] = &copied
	return nil
}

func (m *mockListingRepo) GetByID(ctx context.Context, id int64) (*domain.Listing, error) {
	if l, ok := m.listings[id]; ok {
		copied := *l
		return &copied, nil
	}
	return nil, nil
}

func (m *mockListingRepo) Update(ctx context.Context, l *domain.Listing) error {
	if _, ok := m.listings[l.ID]; !ok {
		return domain.ErrNotFound
	}
	copied := *l
	m.listings[l.ID] = &copied
	return nil
}

func (m *mockListingRepo) Search(ctx context.Context, q repo.ListingQuery) ([]*domain.Listing, error) {
	var out []*domain.Listing
	for _, l := range m.listings {
		if !l.Deleted {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *mockListingRepo) ListByRawMessage(ctx context.Context, rawMessageID int64) ([]*domain.Listing, error) {
	var out []*domain.Listing
	for _, l := range m.listings {
		if l.RawMessageID == rawMessageID && !l.Deleted {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *mockListingRepo) ListByCrossPostKey(ctx context.Context, key domain.CrossPostKey) ([]*domain.Listing, error) {
	var out []*domain.Listing
	for id := int64(1); id <= m.nextID; id++ {
		l, ok := m.listings[id]
		if !ok || l.Deleted {
			continue
		}
		if k, keyOK := domain.CrossPostKeyOf(l); keyOK && k == key {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *mockListingRepo) SoftDelete(ctx context.Context, id int64) error {
	l, ok := m.listings[id]
	if !ok {
		return domain.ErrNotFound
	}
	now := time.Now()
	l.Deleted = true
	l.DeletedAt = &now
	l.Status = domain.StatusDeleted
	return nil
}

func (m *mockListingRepo) CountByIntentStatus(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	for _, l := range m.listings {
		if !l.Deleted {
			counts[string(l.Intent)+"/"+string(l.Status)]++
		}
	}
	return counts, nil
}

func (m *mockListingRepo) SetEmbedding(ctx context.Context, id int64, vec []float32) error {
	m.embeddings[id] = vec
	return nil
}

type mockReviewRepo struct {
	items  map[int64]*domain.ReviewQueueItem
	nextID int64
}

func newMockReviewRepo() *mockReviewRepo {
	return &mockReviewRepo{items: make(map[int64]*domain.ReviewQueueItem)}
}

func (m *mockReviewRepo) Insert(ctx context.Context, item *domain.ReviewQueueItem) error {
	m.nextID++
	item.ID = m.nextID
	item.Status = domain.ReviewPending
	item.CreatedAt = time.Now()
	m.items[item.ID] = item
	return nil
}

func (m *mockReviewRepo) GetByID(ctx context.Context, id int64) (*domain.ReviewQueueItem, error) {
	if item, ok := m.items[id]; ok {
		copied := *item
		return &copied, nil
	}
	return nil, nil
}

func (m *mockReviewRepo) ListPending(ctx context.Context, limit int) ([]*domain.ReviewQueueItem, error) {
	var out []*domain.ReviewQueueItem
	for id := int64(1); id <= m.nextID; id++ {
		if item, ok := m.items[id]; ok && item.IsPending() {
			out = append(out, item)
		}
	}
	return out, nil
}

func (m *mockReviewRepo) Transition(ctx context.Context, id int64, to domain.ReviewStatus, resolvedBy string, resolvedAt time.Time, resolutionJSON string) error {
	item, ok := m.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !item.IsPending() {
		return domain.ErrInvalidState
	}
	item.Status = to
	item.ResolvedBy = resolvedBy
	item.ResolvedAt = &resolvedAt
	item.ResolutionJSON = resolutionJSON
	return nil
}

type mockRuleRepo struct {
	rules  map[int64]*domain.NotificationRule
	nextID int64
}

func newMockRuleRepo() *mockRuleRepo {
	return &mockRuleRepo{rules: make(map[int64]*domain.NotificationRule)}
}

func (m *mockRuleRepo) Insert(ctx context.Context, r *domain.NotificationRule) error {
	m.nextID++
	r.ID = m.nextID
	copied := *r
	m.rules[r.ID] = &copied
	return nil
}

func (m *mockRuleRepo) GetByID(ctx context.Context, id int64) (*domain.NotificationRule, error) {
	if r, ok := m.rules[id]; ok {
		copied := *r
		return &copied, nil
	}
	return nil, nil
}

func (m *mockRuleRepo) Update(ctx context.Context, r *domain.NotificationRule) error {
	if _, ok := m.rules[r.ID]; !ok {
		return domain.ErrNotFound
	}
	copied := *r
	m.rules[r.ID] = &copied
	return nil
}

func (m *mockRuleRepo) ListActive(ctx context.Context) ([]*domain.NotificationRule, error) {
	var out []*domain.NotificationRule
	for id := int64(1); id <= m.nextID; id++ {
		if r, ok := m.rules[id]; ok && r.Active {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockRuleRepo) ListByUser(ctx context.Context, userID int64) ([]*domain.NotificationRule, error) {
	var out []*domain.NotificationRule
	for _, r := range m.rules {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockRuleRepo) Touch(ctx context.Context, id int64, at time.Time) error {
	if r, ok := m.rules[id]; ok {
		r.LastTriggeredAt = &at
	}
	return nil
}

type mockUserRepo struct {
	emails map[int64]string
}

func (m *mockUserRepo) GetEmail(ctx context.Context, userID int64) (string, error) {
	return m.emails[userID], nil
}

func (m *mockUserRepo) IsActive(ctx context.Context, userID int64) (bool, error) {
	_, ok := m.emails[userID]
	return ok, nil
}

type mockChatRepo struct {
	sessions map[string]*domain.ChatSession
	messages map[string][]*domain.ChatMessage
	tokens   map[int64]int
	cost     map[int64]float64
}

func newMockChatRepo() *mockChatRepo {
	return &mockChatRepo{
		sessions: make(map[string]*domain.ChatSession),
		messages: make(map[string][]*domain.ChatMessage),
		tokens:   make(map[int64]int),
		cost:     make(map[int64]float64),
	}
}

func (m *mockChatRepo) GetSession(ctx context.Context, sessionID string) (*domain.ChatSession, error) {
	return m.sessions[sessionID], nil
}

func (m *mockChatRepo) CreateSession(ctx context.Context, s *domain.ChatSession) error {
	s.CreatedAt = time.Now()
	m.sessions[s.ID] = s
	return nil
}

func (m *mockChatRepo) TouchSession(ctx context.Context, sessionID string) error {
	if s, ok := m.sessions[sessionID]; ok {
		s.UpdatedAt = time.Now()
	}
	return nil
}

func (m *mockChatRepo) AppendMessage(ctx context.Context, msg *domain.ChatMessage) error {
	msg.ID = int64(len(m.messages[msg.SessionID]) + 1)
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], msg)
	return nil
}

func (m *mockChatRepo) ListMessages(ctx context.Context, sessionID string) ([]*domain.ChatMessage, error) {
	return m.messages[sessionID], nil
}

func (m *mockChatRepo) AddCost(ctx context.Context, userID int64, tokens int, costUSD float64) error {
	m.tokens[userID] += tokens
	m.cost[userID] += costUSD
	return nil
}

func (m *mockChatRepo) GetCost(ctx context.Context, userID int64) (int, float64, error) {
	return m.tokens[userID], m.cost[userID], nil
}

type mockLookupRepo struct {
	entries map[domain.LookupKind][]*domain.LookupEntry
	jargon  []*domain.JargonEntry
}

func (m *mockLookupRepo) ListEntries(ctx context.Context, kind domain.LookupKind) ([]*domain.LookupEntry, error) {
	return m.entries[kind], nil
}

func (m *mockLookupRepo) ListJargon(ctx context.Context) ([]*domain.JargonEntry, error) {
	return m.jargon, nil
}

// testLookupUC builds a lookup usecase with a small fixed vocabulary.
func testLookupUC() *LookupUsecase {
	return NewLookupUsecase(&mockLookupRepo{
		entries: map[domain.LookupKind][]*domain.LookupEntry{
			domain.LookupCategory: {
				{ID: 1, Kind: domain.LookupCategory, Name: "Dive Watch", Aliases: []string{"diver"}},
				{ID: 2, Kind: domain.LookupCategory, Name: "Chronograph"},
			},
			domain.LookupManufacturer: {
				{ID: 10, Kind: domain.LookupManufacturer, Name: "Rolex"},
				{ID: 11, Kind: domain.LookupManufacturer, Name: "Omega"},
			},
			domain.LookupUnit: {
				{ID: 20, Kind: domain.LookupUnit, Name: "pcs", Aliases: []string{"piece", "pieces"}},
			},
			domain.LookupCondition: {
				{ID: 30, Kind: domain.LookupCondition, Name: "NOS", Aliases: []string{"new old stock"}},
				{ID: 31, Kind: domain.LookupCondition, Name: "used"},
			},
		},
		jargon: []*domain.JargonEntry{
			{ID: 1, Term: "WTS", Expansion: "want to sell"},
			{ID: 2, Term: "BNIB", Expansion: "brand new in box"},
		},
	}, time.Minute)
}

// mockLLM replays scripted completions in order and records every call.
type mockLLM struct {
	replies     []string
	embedding   []float32
	embedErr    error
	completeErr error

	calls [][]repo.ChatTurn
}

func (m *mockLLM) Complete(ctx context.Context, turns []repo.ChatTurn, temperature float32) (string, repo.Usage, error) {
	m.calls = append(m.calls, turns)
	if m.completeErr != nil {
		return "", repo.Usage{}, m.completeErr
	}
	if len(m.replies) == 0 {
		return "", repo.Usage{}, fmt.Errorf("mock llm: no scripted reply for call %d", len(m.calls))
	}
	reply := m.replies[0]
	m.replies = m.replies[1:]
	return reply, repo.Usage{Model: "gpt-4o-mini", PromptTokens: 100, CompletionTokens: 50, CostUSD: 0.001}, nil
}

func (m *mockLLM) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.embedErr != nil {
		return nil, m.embedErr
	}
	if m.embedding != nil {
		return m.embedding, nil
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type mockEmailSender struct {
	sent []sentEmail
	err  error
}

type sentEmail struct {
	To      string
	Subject string
	Body    string
}

func (m *mockEmailSender) Send(ctx context.Context, to, subject, body string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentEmail{To: to, Subject: subject, Body: body})
	return nil
}

type mockPusher struct {
	events []repo.PushEvent
	err    error
}

func (m *mockPusher) Push(ctx context.Context, userID int64, event repo.PushEvent) error {
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, event)
	return nil
}

type mockMediaFetcher struct {
	path string
	err  error
}

func (m *mockMediaFetcher) Fetch(ctx context.Context, url, mediaType string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.path, nil
}
