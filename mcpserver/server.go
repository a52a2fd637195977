// Package mcpserver exposes the tracker's archive as MCP tools over stdio,
// so external agents can query listings and messages directly.
package mcpserver

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Yuanja/watch-tracker-sub002/internal/biz/domain"
	"github.com/Yuanja/watch-tracker-sub002/internal/biz/repo"
)

// TrackerMCPServer provides MCP tools over the archived data.
type TrackerMCPServer struct {
	server      *mcp.Server
	listingRepo repo.ListingRepo
	messageRepo repo.MessageRepo
	reviewRepo  repo.ReviewRepo
}

// NewServer creates a tracker MCP server and registers its tools.
func NewServer(listingRepo repo.ListingRepo, messageRepo repo.MessageRepo, reviewRepo repo.ReviewRepo) *TrackerMCPServer {
	s := &TrackerMCPServer{
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "watch-tracker",
			Version: "v1.0.0",
		}, nil),
		listingRepo: listingRepo,
		messageRepo: messageRepo,
		reviewRepo:  reviewRepo,
	}
	s.registerTools()
	return s
}

// Run serves MCP over stdio until ctx ends.
func (s *TrackerMCPServer) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

func (s *TrackerMCPServer) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "search_listings",
		Description: "Search active trade listings by keyword, intent (sell/want) and price range.",
	}, s.handleSearchListings)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_listing",
		Description: "Get one listing with full provenance: seller, original message text and confidence.",
	}, s.handleGetListing)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "search_messages",
		Description: "Search the raw message archive by group, sender and keyword.",
	}, s.handleSearchMessages)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "market_stats",
		Description: "Get listing counts grouped by intent and status.",
	}, s.handleMarketStats)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "review_queue",
		Description: "List extractions waiting for human review, oldest first.",
	}, s.handleReviewQueue)
}

// SearchListingsInput filters the listing search.
type SearchListingsInput struct {
	Keyword  string   `json:"keyword,omitempty" jsonschema:"description=Substring matched against description and part number"`
	Intent   string   `json:"intent,omitempty" jsonschema:"description=sell or want"`
	MinPrice *float64 `json:"min_price,omitempty"`
	MaxPrice *float64 `json:"max_price,omitempty"`
	Limit    int      `json:"limit,omitempty" jsonschema:"description=Maximum results (default 10)"`
}

// ListingSummary is one listing in a search result.
type ListingSummary struct {
	ID          int64    `json:"id"`
	Intent      string   `json:"intent"`
	Description string   `json:"description"`
	PartNumber  string   `json:"part_number,omitempty"`
	Price       *float64 `json:"price,omitempty"`
	Currency    string   `json:"currency,omitempty"`
	Status      string   `json:"status"`
}

// SearchListingsOutput is the search result.
type SearchListingsOutput struct {
	Count    int              `json:"count"`
	Listings []ListingSummary `json:"listings"`
}

func (s *TrackerMCPServer) handleSearchListings(ctx context.Context, req *mcp.CallToolRequest, input SearchListingsInput) (*mcp.CallToolResult, SearchListingsOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = 10
	}

	listings, err := s.listingRepo.Search(ctx, repo.ListingQuery{
		Keyword:  input.Keyword,
		Intent:   domain.Intent(input.Intent),
		Status:   domain.StatusActive,
		MinPrice: input.MinPrice,
		MaxPrice: input.MaxPrice,
		Limit:    limit,
	})
	if err != nil {
		return nil, SearchListingsOutput{}, fmt.Errorf("failed to search listings: %w", err)
	}

	out := SearchListingsOutput{Count: len(listings), Listings: make([]ListingSummary, 0, len(listings))}
	for _, l := range listings {
		out.Listings = append(out.Listings, summarize(l))
	}
	return nil, out, nil
}

// GetListingInput identifies one listing.
type GetListingInput struct {
	ID int64 `json:"id" jsonschema:"description=Listing id"`
}

// GetListingOutput is the full listing detail.
type GetListingOutput struct {
	ListingSummary
	Confidence   float64 `json:"confidence"`
	SellerName   string  `json:"seller_name,omitempty"`
	OriginalText string  `json:"original_text"`
	Error        string  `json:"error,omitempty"`
}

func (s *TrackerMCPServer) handleGetListing(ctx context.Context, req *mcp.CallToolRequest, input GetListingInput) (*mcp.CallToolResult, GetListingOutput, error) {
	l, err := s.listingRepo.GetByID(ctx, input.ID)
	if err != nil {
		return nil, GetListingOutput{}, fmt.Errorf("failed to load listing: %w", err)
	}
	if l == nil || l.Deleted {
		return nil, GetListingOutput{Error: fmt.Sprintf("listing %d not found", input.ID)}, nil
	}

	return nil, GetListingOutput{
		ListingSummary: summarize(l),
		Confidence:     l.Confidence,
		SellerName:     l.SellerName,
		OriginalText:   l.OriginalText,
	}, nil
}

// SearchMessagesInput filters the raw message search.
type SearchMessagesInput struct {
	GroupID int64  `json:"group_id,omitempty"`
	Sender  string `json:"sender,omitempty"`
	Keyword string `json:"keyword,omitempty"`
	Limit   int    `json:"limit,omitempty" jsonschema:"description=Maximum results (default 10)"`
}

// ArchivedMessage is one message in a search result.
type ArchivedMessage struct {
	ID         int64  `json:"id"`
	GroupID    int64  `json:"group_id"`
	Sender     string `json:"sender"`
	Body       string `json:"body"`
	ReceivedAt string `json:"received_at"`
}

// SearchMessagesOutput is the message search result.
type SearchMessagesOutput struct {
	Count    int               `json:"count"`
	Messages []ArchivedMessage `json:"messages"`
}

func (s *TrackerMCPServer) handleSearchMessages(ctx context.Context, req *mcp.CallToolRequest, input SearchMessagesInput) (*mcp.CallToolResult, SearchMessagesOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = 10
	}

	messages, err := s.messageRepo.Search(ctx, repo.MessageQuery{
		GroupID: input.GroupID,
		Sender:  input.Sender,
		Keyword: input.Keyword,
		Limit:   limit,
	})
	if err != nil {
		return nil, SearchMessagesOutput{}, fmt.Errorf("failed to search messages: %w", err)
	}

	out := SearchMessagesOutput{Count: len(messages), Messages: make([]ArchivedMessage, 0, len(messages))}
	for _, m := range messages {
		out.Messages = append(out.Messages, ArchivedMessage{
			ID:         m.ID,
			GroupID:    m.GroupID,
			Sender:     m.SenderName,
			Body:       m.Body,
			ReceivedAt: m.ReceivedAt.Format(time.RFC3339),
		})
	}
	return nil, out, nil
}

// MarketStatsInput is empty.
type MarketStatsInput struct{}

// MarketStatsOutput maps "intent/status" to a listing count.
type MarketStatsOutput struct {
	Counts map[string]int `json:"counts_by_intent_status"`
}

func (s *TrackerMCPServer) handleMarketStats(ctx context.Context, req *mcp.CallToolRequest, input MarketStatsInput) (*mcp.CallToolResult, MarketStatsOutput, error) {
	counts, err := s.listingRepo.CountByIntentStatus(ctx)
	if err != nil {
		return nil, MarketStatsOutput{}, fmt.Errorf("failed to aggregate listings: %w", err)
	}
	return nil, MarketStatsOutput{Counts: counts}, nil
}

// ReviewQueueInput bounds the queue listing.
type ReviewQueueInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"description=Maximum items (default 20)"`
}

// ReviewQueueEntry is one pending review item.
type ReviewQueueEntry struct {
	ID        int64  `json:"id"`
	ListingID int64  `json:"listing_id"`
	Reason    string `json:"reason"`
	CreatedAt string `json:"created_at"`
}

// ReviewQueueOutput is the pending review queue.
type ReviewQueueOutput struct {
	Count int                `json:"count"`
	Items []ReviewQueueEntry `json:"items"`
}

func (s *TrackerMCPServer) handleReviewQueue(ctx context.Context, req *mcp.CallToolRequest, input ReviewQueueInput) (*mcp.CallToolResult, ReviewQueueOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = 20
	}

	items, err := s.reviewRepo.ListPending(ctx, limit)
	if err != nil {
		return nil, ReviewQueueOutput{}, fmt.Errorf("failed to list review queue: %w", err)
	}

	out := ReviewQueueOutput{Count: len(items), Items: make([]ReviewQueueEntry, 0, len(items))}
	for _, item := range items {
		out.Items = append(out.Items, ReviewQueueEntry{
			ID:        item.ID,
			ListingID: item.ListingID,
			Reason:    item.Reason,
			CreatedAt: item.CreatedAt.Format(time.RFC3339),
		})
	}
	return nil, out, nil
}

func summarize(l *domain.Listing) ListingSummary {
	return ListingSummary{
		ID:          l.ID,
		Intent:      string(l.Intent),
		Description: l.Description,
		PartNumber:  l.PartNumber,
		Price:       l.Price,
		Currency:    l.Currency,
		Status:      string(l.Status),
	}
}
