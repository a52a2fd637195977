package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Yuanja/watch-tracker-sub002/internal/biz/domain"
	"github.com/Yuanja/watch-tracker-sub002/internal/biz/repo"
)

// historyWindow bounds how many prior messages are replayed to the model.
const historyWindow = 20

// ToolExecutor runs one parsed tool call on behalf of a user and returns the
// result as text for the model. Unknown tools return a structured error
// string rather than failing the turn.
type ToolExecutor interface {
	Execute(ctx context.Context, userID int64, call *domain.ToolCall) string
}

// AgentReply is the outcome of one chat turn.
type AgentReply struct {
	SessionID string
	Answer    string
	ToolUsed  string
	Usage     repo.Usage
}

// AgentUsecase is the tool-calling chat assistant over the archive. Each turn
// makes at most two model calls: one that may request a tool, and a second
// that composes the final answer after the tool result is fed back.
type AgentUsecase struct {
	chatRepo repo.ChatRepo
	llm      repo.LLMRepo
	tools    ToolExecutor

	systemPrompt       string
	toolResultTemplate string
	logger             *slog.Logger
}

// NewAgentUsecase creates a new agent usecase
func NewAgentUsecase(
	chatRepo repo.ChatRepo,
	llm repo.LLMRepo,
	tools ToolExecutor,
	systemPrompt string,
	toolResultTemplate string,
	logger *slog.Logger,
) *AgentUsecase {
	return &AgentUsecase{
		chatRepo:           chatRepo,
		llm:                llm,
		tools:              tools,
		systemPrompt:       systemPrompt,
		toolResultTemplate: toolResultTemplate,
		logger:             logger,
	}
}

// Chat runs one turn of the assistant conversation. An empty sessionID starts
// a new session; a session owned by another user is reported as not-found.
func (uc *AgentUsecase) Chat(ctx context.Context, userID int64, sessionID, userText string) (*AgentReply, error) {
	session, err := uc.ensureSession(ctx, userID, sessionID, userText)
	if err != nil {
		return nil, err
	}

	history, err := uc.chatRepo.ListMessages(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat history: %w", err)
	}

	if err := uc.chatRepo.AppendMessage(ctx, &domain.ChatMessage{
		SessionID: session.ID,
		Role:      domain.RoleUser,
		Content:   userText,
	}); err != nil {
		return nil, fmt.Errorf("failed to store user message: %w", err)
	}

	turns := uc.buildTurns(history, userText)

	reply, usage, err := uc.llm.Complete(ctx, turns, 0.3)
	if err != nil {
		return nil, fmt.Errorf("assistant call failed: %w", err)
	}

	answer := reply
	toolUsed := ""
	toolCallJSON := ""

	if call := ParseToolCall(reply); call != nil {
		toolUsed = call.Tool
		result := uc.tools.Execute(ctx, userID, call)

		record, err := json.Marshal(domain.ToolCallRecord{
			Tool:   call.Tool,
			Params: call.Params,
			Result: result,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to record tool call: %w", err)
		}
		toolCallJSON = string(record)

		followup := append(turns,
			repo.ChatTurn{Role: "assistant", Content: reply},
			repo.ChatTurn{Role: "user", Content: fmt.Sprintf(uc.toolResultTemplate, call.Tool, result)},
		)

		final, finalUsage, err := uc.llm.Complete(ctx, followup, 0.3)
		if err != nil {
			return nil, fmt.Errorf("assistant followup failed: %w", err)
		}
		usage.Add(finalUsage)
		answer = final
	}

	if err := uc.chatRepo.AppendMessage(ctx, &domain.ChatMessage{
		SessionID:        session.ID,
		Role:             domain.RoleAssistant,
		Content:          answer,
		Model:            usage.Model,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		CostUSD:          usage.CostUSD,
		ToolCallJSON:     toolCallJSON,
	}); err != nil {
		return nil, fmt.Errorf("failed to store assistant message: %w", err)
	}

	if err := uc.chatRepo.AddCost(ctx, userID, usage.TotalTokens(), usage.CostUSD); err != nil {
		uc.logger.Warn("failed to record chat cost", "user_id", userID, "error", err)
	}
	if err := uc.chatRepo.TouchSession(ctx, session.ID); err != nil {
		uc.logger.Warn("failed to touch session", "session_id", session.ID, "error", err)
	}

	return &AgentReply{
		SessionID: session.ID,
		Answer:    answer,
		ToolUsed:  toolUsed,
		Usage:     usage,
	}, nil
}

// History returns the session transcript for its owner.
func (uc *AgentUsecase) History(ctx context.Context, userID int64, sessionID string) ([]*domain.ChatMessage, error) {
	session, err := uc.chatRepo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil || session.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return uc.chatRepo.ListMessages(ctx, sessionID)
}

// Cost returns the user's accumulated token and dollar totals.
func (uc *AgentUsecase) Cost(ctx context.Context, userID int64) (int, float64, error) {
	return uc.chatRepo.GetCost(ctx, userID)
}

func (uc *AgentUsecase) ensureSession(ctx context.Context, userID int64, sessionID, firstText string) (*domain.ChatSession, error) {
	if sessionID != "" {
		session, err := uc.chatRepo.GetSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if session == nil || session.UserID != userID {
			return nil, domain.ErrNotFound
		}
		return session, nil
	}

	session := &domain.ChatSession{
		ID:     uuid.NewString(),
		UserID: userID,
		Title:  sessionTitle(firstText),
	}
	if err := uc.chatRepo.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

func (uc *AgentUsecase) buildTurns(history []*domain.ChatMessage, userText string) []repo.ChatTurn {
	turns := []repo.ChatTurn{{Role: "system", Content: uc.systemPrompt}}

	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	for _, m := range history {
		turns = append(turns, repo.ChatTurn{Role: string(m.Role), Content: m.Content})
	}
	return append(turns, repo.ChatTurn{Role: "user", Content: userText})
}

// sessionTitle derives a short title from the opening message.
func sessionTitle(text string) string {
	const maxTitle = 60
	runes := []rune(text)
	if len(runes) <= maxTitle {
		return text
	}
	return string(runes[:maxTitle]) + "..."
}
