// Package api exposes the management HTTP surface: review workflow, rules,
// listing queries and the assistant chat.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Yuanja/watch-tracker-sub002/internal/biz/domain"
	"github.com/Yuanja/watch-tracker-sub002/internal/biz/repo"
	"github.com/Yuanja/watch-tracker-sub002/internal/biz/usecase"
	"github.com/Yuanja/watch-tracker-sub002/internal/metrics"
	"github.com/Yuanja/watch-tracker-sub002/internal/service"
)

// Handler bundles the usecases behind the management API.
type Handler struct {
	reviewUC    *usecase.ReviewUsecase
	notifyUC    *usecase.NotificationUsecase
	agentUC     *usecase.AgentUsecase
	listingRepo repo.ListingRepo
	messageRepo repo.MessageRepo
	pipeline    *service.Pipeline
	logger      *slog.Logger
}

// NewHandler creates the management API handler.
func NewHandler(
	reviewUC *usecase.ReviewUsecase,
	notifyUC *usecase.NotificationUsecase,
	agentUC *usecase.AgentUsecase,
	listingRepo repo.ListingRepo,
	messageRepo repo.MessageRepo,
	pipeline *service.Pipeline,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		reviewUC:    reviewUC,
		notifyUC:    notifyUC,
		agentUC:     agentUC,
		listingRepo: listingRepo,
		messageRepo: messageRepo,
		pipeline:    pipeline,
		logger:      logger,
	}
}

// Router builds the chi router with all management routes mounted.
func (h *Handler) Router(gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(90 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler(gatherer))

	r.Route("/api", func(r chi.Router) {
		r.Route("/review", func(r chi.Router) {
			r.Get("/", h.listReview)
			r.Get("/{id}", h.getReview)
			r.Post("/{id}/resolve", h.resolveReview)
			r.Post("/{id}/skip", h.skipReview)
			r.Post("/{id}/assist", h.assistReview)
		})

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", h.listRules)
			r.Post("/", h.createRule)
			r.Put("/{id}", h.updateRule)
			r.Post("/{id}/activate", h.setRuleActive(true))
			r.Post("/{id}/deactivate", h.setRuleActive(false))
		})

		r.Route("/listings", func(r chi.Router) {
			r.Get("/", h.searchListings)
			r.Get("/{id}", h.getListing)
		})

		r.Post("/messages/{id}/reprocess", h.reprocessMessage)

		r.Route("/chat", func(r chi.Router) {
			r.Post("/", h.chat)
			r.Get("/cost", h.chatCost)
			r.Get("/{sessionID}", h.chatHistory)
		})
	})

	return r
}

func (h *Handler) listReview(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := h.reviewUC.ListPending(r.Context(), limit)
	if err != nil {
		h.serverError(w, "failed to list review queue", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) getReview(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	item, listing, err := h.reviewUC.Get(r.Context(), id)
	if err != nil {
		h.domainError(w, err, "failed to load review item")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": item, "listing": listing})
}

type resolveRequest struct {
	ResolvedBy  string                    `json:"resolved_by"`
	Corrections *domain.ReviewCorrections `json:"corrections"`
}

func (h *Handler) resolveReview(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req resolveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ResolvedBy == "" {
		writeError(w, http.StatusBadRequest, "resolved_by is required")
		return
	}

	if err := h.reviewUC.Resolve(r.Context(), id, req.ResolvedBy, req.Corrections); err != nil {
		h.domainError(w, err, "failed to resolve review item")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

func (h *Handler) skipReview(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req resolveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ResolvedBy == "" {
		writeError(w, http.StatusBadRequest, "resolved_by is required")
		return
	}

	if err := h.reviewUC.Skip(r.Context(), id, req.ResolvedBy); err != nil {
		h.domainError(w, err, "failed to skip review item")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "skipped"})
}

type assistRequest struct {
	Hint string `json:"hint"`
}

func (h *Handler) assistReview(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req assistRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, originalText, err := h.reviewUC.Assist(r.Context(), id, req.Hint)
	if err != nil {
		h.domainError(w, err, "assist failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"original_text": originalText,
		"suggestion":    result,
	})
}

func (h *Handler) listRules(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}
	rules, err := h.notifyUC.ListRules(r.Context(), userID)
	if err != nil {
		h.serverError(w, "failed to list rules", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

type ruleRequest struct {
	Name        string `json:"name"`
	RuleText    string `json:"rule_text"`
	Channel     string `json:"channel"`
	NotifyEmail string `json:"notify_email"`
}

func (h *Handler) createRule(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}
	var req ruleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.RuleText == "" {
		writeError(w, http.StatusBadRequest, "rule_text is required")
		return
	}
	if req.Name == "" {
		req.Name = req.RuleText
	}

	rule, err := h.notifyUC.CreateRule(r.Context(), userID, req.Name, req.RuleText, req.Channel, req.NotifyEmail)
	if err != nil {
		h.serverError(w, "failed to create rule", err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (h *Handler) updateRule(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req ruleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.RuleText == "" {
		writeError(w, http.StatusBadRequest, "rule_text is required")
		return
	}

	rule, err := h.notifyUC.UpdateRuleText(r.Context(), userID, id, req.RuleText)
	if err != nil {
		h.domainError(w, err, "failed to update rule")
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *Handler) setRuleActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requestUser(w, r)
		if !ok {
			return
		}
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		if err := h.notifyUC.SetRuleActive(r.Context(), userID, id, active); err != nil {
			h.domainError(w, err, "failed to update rule")
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"active": active})
	}
}

func (h *Handler) searchListings(w http.ResponseWriter, r *http.Request) {
	qp := r.URL.Query()

	q := repo.ListingQuery{
		Keyword: qp.Get("keyword"),
		Intent:  domain.Intent(qp.Get("intent")),
		Status:  domain.ListingStatus(qp.Get("status")),
	}
	q.Limit, _ = strconv.Atoi(qp.Get("limit"))
	if v, err := strconv.ParseFloat(qp.Get("min_price"), 64); err == nil {
		q.MinPrice = &v
	}
	if v, err := strconv.ParseFloat(qp.Get("max_price"), 64); err == nil {
		q.MaxPrice = &v
	}

	listings, err := h.listingRepo.Search(r.Context(), q)
	if err != nil {
		h.serverError(w, "failed to search listings", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"listings": listings})
}

func (h *Handler) getListing(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	l, err := h.listingRepo.GetByID(r.Context(), id)
	if err != nil {
		h.serverError(w, "failed to load listing", err)
		return
	}
	if l == nil {
		writeError(w, http.StatusNotFound, "listing not found")
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// reprocessMessage re-queues one unprocessed message for extraction,
// clearing any recorded error on the next successful pass. A message that
// already produced listings cannot be re-run; extraction is not idempotent
// over the listing store.
func (h *Handler) reprocessMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	msg, err := h.messageRepo.GetByID(r.Context(), id)
	if err != nil {
		h.serverError(w, "failed to load message", err)
		return
	}
	if msg == nil {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	if msg.Processed {
		writeError(w, http.StatusConflict, "message already processed")
		return
	}

	h.pipeline.Submit(msg)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

func (h *Handler) chat(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}
	var req chatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	reply, err := h.agentUC.Chat(r.Context(), userID, req.SessionID, req.Message)
	if err != nil {
		h.domainError(w, err, "chat failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": reply.SessionID,
		"answer":     reply.Answer,
		"tool_used":  reply.ToolUsed,
		"tokens":     reply.Usage.TotalTokens(),
		"cost_usd":   reply.Usage.CostUSD,
	})
}

func (h *Handler) chatHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}
	sessionID := chi.URLParam(r, "sessionID")

	messages, err := h.agentUC.History(r.Context(), userID, sessionID)
	if err != nil {
		h.domainError(w, err, "failed to load history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (h *Handler) chatCost(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}
	tokens, cost, err := h.agentUC.Cost(r.Context(), userID)
	if err != nil {
		h.serverError(w, "failed to load cost", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"total_tokens": tokens, "total_cost_usd": cost})
}

// requestUser reads the authenticated user id set by the fronting proxy.
func requestUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.Header.Get("X-User-ID"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusUnauthorized, "missing or invalid X-User-ID header")
		return 0, false
	}
	return id, true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (h *Handler) domainError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrInvalidState):
		writeError(w, http.StatusConflict, "already resolved or skipped")
	default:
		h.serverError(w, msg, err)
	}
}

func (h *Handler) serverError(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, "error", err)
	writeError(w, http.StatusInternalServerError, msg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
