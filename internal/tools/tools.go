// Package tools implements the assistant's tool surface. Each tool takes the
// loosely typed params decoded from the model's JSON and returns its result
// as text the model can read back.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/Yuanja/watch-tracker-sub002/internal/biz/domain"
	"github.com/Yuanja/watch-tracker-sub002/internal/biz/repo"
	"github.com/Yuanja/watch-tracker-sub002/internal/biz/usecase"
)

const defaultLimit = 10

// handler executes one tool for one user.
type handler func(ctx context.Context, userID int64, params map[string]any) (string, error)

// Registry dispatches parsed tool calls by name. It satisfies
// usecase.ToolExecutor.
type Registry struct {
	handlers map[string]handler
	logger   *slog.Logger
}

// NewRegistry wires the standard tool set.
func NewRegistry(
	listingRepo repo.ListingRepo,
	messageRepo repo.MessageRepo,
	notifyUC *usecase.NotificationUsecase,
	logger *slog.Logger,
) *Registry {
	r := &Registry{handlers: make(map[string]handler), logger: logger}

	r.handlers["search_listings"] = searchListings(listingRepo)
	r.handlers["search_messages"] = searchMessages(messageRepo)
	r.handlers["market_stats"] = marketStats(listingRepo)
	r.handlers["get_listing"] = getListing(listingRepo)
	r.handlers["create_notification_rule"] = createRule(notifyUC)

	return r
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute runs one tool call. An unknown tool or a failing handler produces
// an error string for the model instead of an error; the turn itself always
// continues.
func (r *Registry) Execute(ctx context.Context, userID int64, call *domain.ToolCall) string {
	h, ok := r.handlers[call.Tool]
	if !ok {
		r.logger.Warn("unsupported tool requested", "tool", call.Tool)
		return fmt.Sprintf(`{"error": "unsupported tool \"%s\", available: %s"}`,
			call.Tool, strings.Join(r.Names(), ", "))
	}

	result, err := h(ctx, userID, call.Params)
	if err != nil {
		r.logger.Warn("tool failed", "tool", call.Tool, "error", err)
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}
	return result
}

func searchListings(listingRepo repo.ListingRepo) handler {
	return func(ctx context.Context, _ int64, params map[string]any) (string, error) {
		q := repo.ListingQuery{
			Keyword: paramString(params, "keyword"),
			Intent:  domain.Intent(paramString(params, "intent")),
			Status:  domain.StatusActive,
			Limit:   paramInt(params, "limit", defaultLimit),
		}
		if v, ok := paramFloat(params, "min_price"); ok {
			q.MinPrice = &v
		}
		if v, ok := paramFloat(params, "max_price"); ok {
			q.MaxPrice = &v
		}

		listings, err := listingRepo.Search(ctx, q)
		if err != nil {
			return "", fmt.Errorf("search listings: %w", err)
		}

		out := make([]map[string]any, 0, len(listings))
		for _, l := range listings {
			out = append(out, listingSummary(l))
		}
		return encode(map[string]any{"count": len(out), "listings": out})
	}
}

func searchMessages(messageRepo repo.MessageRepo) handler {
	return func(ctx context.Context, _ int64, params map[string]any) (string, error) {
		q := repo.MessageQuery{
			GroupID: int64(paramInt(params, "group_id", 0)),
			Sender:  paramString(params, "sender"),
			Keyword: paramString(params, "keyword"),
			Limit:   paramInt(params, "limit", defaultLimit),
		}

		messages, err := messageRepo.Search(ctx, q)
		if err != nil {
			return "", fmt.Errorf("search messages: %w", err)
		}

		out := make([]map[string]any, 0, len(messages))
		for _, m := range messages {
			out = append(out, map[string]any{
				"id":          m.ID,
				"group_id":    m.GroupID,
				"sender":      m.SenderName,
				"body":        m.Body,
				"received_at": m.ReceivedAt.Format("2006-01-02 15:04"),
			})
		}
		return encode(map[string]any{"count": len(out), "messages": out})
	}
}

func marketStats(listingRepo repo.ListingRepo) handler {
	return func(ctx context.Context, _ int64, _ map[string]any) (string, error) {
		counts, err := listingRepo.CountByIntentStatus(ctx)
		if err != nil {
			return "", fmt.Errorf("aggregate listings: %w", err)
		}
		return encode(map[string]any{"counts_by_intent_status": counts})
	}
}

func getListing(listingRepo repo.ListingRepo) handler {
	return func(ctx context.Context, _ int64, params map[string]any) (string, error) {
		id := int64(paramInt(params, "id", 0))
		if id <= 0 {
			return "", fmt.Errorf("missing listing id")
		}

		l, err := listingRepo.GetByID(ctx, id)
		if err != nil {
			return "", fmt.Errorf("get listing: %w", err)
		}
		if l == nil || l.Deleted {
			return encode(map[string]any{"error": fmt.Sprintf("listing %d not found", id)})
		}

		detail := listingSummary(l)
		detail["seller_name"] = l.SellerName
		detail["original_text"] = l.OriginalText
		detail["confidence"] = l.Confidence
		return encode(detail)
	}
}

func createRule(notifyUC *usecase.NotificationUsecase) handler {
	return func(ctx context.Context, userID int64, params map[string]any) (string, error) {
		name := paramString(params, "name")
		ruleText := paramString(params, "rule_text")
		if ruleText == "" {
			return "", fmt.Errorf("missing rule_text")
		}
		if name == "" {
			name = ruleText
		}

		rule, err := notifyUC.CreateRule(ctx, userID, name, ruleText, "email", "")
		if err != nil {
			return "", fmt.Errorf("create rule: %w", err)
		}

		return encode(map[string]any{
			"rule_id":  rule.ID,
			"name":     rule.Name,
			"intent":   rule.Intent,
			"keywords": rule.Keywords,
			"active":   rule.Active,
		})
	}
}

func listingSummary(l *domain.Listing) map[string]any {
	out := map[string]any{
		"id":          l.ID,
		"intent":      l.Intent,
		"description": l.Description,
		"status":      l.Status,
	}
	if l.PartNumber != "" {
		out["part_number"] = l.PartNumber
	}
	if l.Price != nil {
		out["price"] = *l.Price
		out["currency"] = l.Currency
	}
	return out
}

func encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode tool result: %w", err)
	}
	return string(data), nil
}

// JSON numbers decode as float64; tolerate strings the model emits anyway.

func paramString(params map[string]any, key string) string {
	if v, ok := params[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func paramFloat(params map[string]any, key string) (float64, bool) {
	switch v := params[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

func paramInt(params map[string]any, key string, fallback int) int {
	if v, ok := paramFloat(params, key); ok && v > 0 {
		return int(v)
	}
	return fallback
}
