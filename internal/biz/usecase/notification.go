package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Yuanja/watch-tracker-sub002/internal/biz/domain"
	"github.com/Yuanja/watch-tracker-sub002/internal/biz/repo"
)

// NotificationUsecase parses natural-language alert rules and dispatches
// notifications when new active listings match them.
type NotificationUsecase struct {
	ruleRepo repo.RuleRepo
	userRepo repo.UserRepo
	llm      repo.LLMRepo
	lookupUC *LookupUsecase
	email    repo.EmailSender
	pusher   repo.Pusher

	parseTemplate string
	fromEmail     string
	logger        *slog.Logger
}

// NewNotificationUsecase creates a new notification usecase
func NewNotificationUsecase(
	ruleRepo repo.RuleRepo,
	userRepo repo.UserRepo,
	llm repo.LLMRepo,
	lookupUC *LookupUsecase,
	email repo.EmailSender,
	pusher repo.Pusher,
	parseTemplate string,
	fromEmail string,
	logger *slog.Logger,
) *NotificationUsecase {
	return &NotificationUsecase{
		ruleRepo:      ruleRepo,
		userRepo:      userRepo,
		llm:           llm,
		lookupUC:      lookupUC,
		email:         email,
		pusher:        pusher,
		parseTemplate: parseTemplate,
		fromEmail:     fromEmail,
		logger:        logger,
	}
}

// parsedRulePayload mirrors the LLM's rule-parsing JSON.
type parsedRulePayload struct {
	Intent     string   `json:"intent"`
	Keywords   []string `json:"keywords"`
	Categories []string `json:"categories"`
	MinPrice   *float64 `json:"min_price"`
	MaxPrice   *float64 `json:"max_price"`
}

// ParseRuleText turns a natural-language rule description into structured
// filters. A failed LLM call or unparseable response degrades to an empty
// filter set so the rule is still created with its literal text; the user
// can re-parse later by updating the rule.
func (uc *NotificationUsecase) ParseRuleText(ctx context.Context, text string) domain.ParsedRule {
	categories := strings.Join(uc.lookupUC.CategoryNames(ctx), ", ")
	prompt := fmt.Sprintf(uc.parseTemplate, categories)

	reply, _, err := uc.llm.Complete(ctx, []repo.ChatTurn{
		{Role: "system", Content: prompt},
		{Role: "user", Content: text},
	}, 0.0)
	if err != nil {
		uc.logger.Warn("rule parse failed, saving literal text", "error", err)
		return domain.ParsedRule{}
	}

	var payload parsedRulePayload
	if err := json.Unmarshal([]byte(stripFence(reply)), &payload); err != nil {
		uc.logger.Warn("rule parse returned invalid JSON, saving literal text", "error", err)
		return domain.ParsedRule{}
	}

	return domain.ParsedRule{
		Intent:     domain.ParseIntent(payload.Intent),
		Keywords:   payload.Keywords,
		Categories: payload.Categories,
		MinPrice:   payload.MinPrice,
		MaxPrice:   payload.MaxPrice,
	}
}

// CreateRule parses the rule text and persists a new active rule for the
// user. Parsed category names that resolve against the lookup tables become
// category filters; unknown names are dropped.
func (uc *NotificationUsecase) CreateRule(ctx context.Context, userID int64, name, ruleText, channel, notifyEmail string) (*domain.NotificationRule, error) {
	parsed := uc.ParseRuleText(ctx, ruleText)

	rule := &domain.NotificationRule{
		UserID:      userID,
		Name:        name,
		RuleText:    ruleText,
		Channel:     channel,
		NotifyEmail: notifyEmail,
		Active:      true,
	}
	uc.applyParsed(ctx, rule, parsed)

	if rule.Channel == "" {
		rule.Channel = "email"
	}
	if err := uc.ruleRepo.Insert(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to create rule: %w", err)
	}
	return rule, nil
}

// UpdateRuleText re-parses the rule text and replaces the parsed filter set
// wholesale. A rule owned by another user is reported as not-found.
func (uc *NotificationUsecase) UpdateRuleText(ctx context.Context, userID, ruleID int64, ruleText string) (*domain.NotificationRule, error) {
	rule, err := uc.getOwned(ctx, userID, ruleID)
	if err != nil {
		return nil, err
	}

	rule.RuleText = ruleText
	uc.applyParsed(ctx, rule, uc.ParseRuleText(ctx, ruleText))

	if err := uc.ruleRepo.Update(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to update rule: %w", err)
	}
	return rule, nil
}

// SetRuleActive toggles a rule without touching its filters.
func (uc *NotificationUsecase) SetRuleActive(ctx context.Context, userID, ruleID int64, active bool) error {
	rule, err := uc.getOwned(ctx, userID, ruleID)
	if err != nil {
		return err
	}
	rule.Active = active
	if err := uc.ruleRepo.Update(ctx, rule); err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	return nil
}

// ListRules returns the user's rules, newest first.
func (uc *NotificationUsecase) ListRules(ctx context.Context, userID int64) ([]*domain.NotificationRule, error) {
	return uc.ruleRepo.ListByUser(ctx, userID)
}

// Dispatch matches one newly active listing against every active rule and
// delivers on each match. Each delivery failure is logged and absorbed so a
// broken channel never blocks other rules or the pipeline.
func (uc *NotificationUsecase) Dispatch(ctx context.Context, l *domain.Listing) int {
	rules, err := uc.ruleRepo.ListActive(ctx)
	if err != nil {
		uc.logger.Error("failed to load active rules", "error", err)
		return 0
	}

	matched := 0
	for _, rule := range rules {
		if !rule.Matches(l) {
			continue
		}
		matched++
		uc.deliver(ctx, rule, l)

		if err := uc.ruleRepo.Touch(ctx, rule.ID, time.Now()); err != nil {
			uc.logger.Warn("failed to record rule trigger", "rule_id", rule.ID, "error", err)
		}
	}
	return matched
}

func (uc *NotificationUsecase) deliver(ctx context.Context, rule *domain.NotificationRule, l *domain.Listing) {
	if strings.Contains(rule.Channel, "email") {
		to := rule.NotifyEmail
		if to == "" {
			accountEmail, err := uc.userRepo.GetEmail(ctx, rule.UserID)
			if err != nil {
				uc.logger.Warn("failed to resolve account email", "rule_id", rule.ID, "error", err)
			}
			to = accountEmail
		}
		if to != "" {
			subject := fmt.Sprintf("[watch-tracker] %s: new match", rule.Name)
			if err := uc.email.Send(ctx, to, subject, uc.emailBody(rule, l)); err != nil {
				uc.logger.Warn("email delivery failed", "rule_id", rule.ID, "error", err)
			}
		}
	}

	if strings.Contains(rule.Channel, "push") {
		event := repo.PushEvent{
			Type:        "rule_match",
			RuleID:      rule.ID,
			ListingID:   l.ID,
			Description: l.Description,
			RuleName:    rule.Name,
		}
		if err := uc.pusher.Push(ctx, rule.UserID, event); err != nil {
			uc.logger.Warn("push delivery failed", "rule_id", rule.ID, "error", err)
		}
	}
}

func (uc *NotificationUsecase) emailBody(rule *domain.NotificationRule, l *domain.Listing) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Your alert %q matched a new listing.\n\n", rule.Name)
	fmt.Fprintf(&b, "Intent: %s\n", l.Intent)
	fmt.Fprintf(&b, "Description: %s\n", l.Description)
	if l.PartNumber != "" {
		fmt.Fprintf(&b, "Part number: %s\n", l.PartNumber)
	}
	if l.Price != nil {
		fmt.Fprintf(&b, "Price: %.2f %s\n", *l.Price, l.Currency)
	}
	if l.SellerName != "" {
		fmt.Fprintf(&b, "Seller: %s\n", l.SellerName)
	}
	fmt.Fprintf(&b, "\nOriginal message:\n%s\n", l.OriginalText)
	return b.String()
}

func (uc *NotificationUsecase) applyParsed(ctx context.Context, rule *domain.NotificationRule, parsed domain.ParsedRule) {
	rule.Intent = parsed.Intent
	rule.Keywords = parsed.Keywords
	rule.MinPrice = parsed.MinPrice
	rule.MaxPrice = parsed.MaxPrice

	rule.CategoryIDs = nil
	for _, name := range parsed.Categories {
		if id := uc.lookupUC.Resolve(ctx, domain.LookupCategory, name); id != nil {
			rule.CategoryIDs = append(rule.CategoryIDs, *id)
		}
	}
}

func (uc *NotificationUsecase) getOwned(ctx context.Context, userID, ruleID int64) (*domain.NotificationRule, error) {
	rule, err := uc.ruleRepo.GetByID(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if rule == nil || rule.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return rule, nil
}
