package domain

import "time"

// ChatRole is the author role of a chat message.
type ChatRole string

const (
	RoleSystem    ChatRole = "system"
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
)

// ChatSession is a conversation container. Gains an updated-at timestamp on
// each new exchange.
type ChatSession struct {
	ID        string
	UserID    int64
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ChatMessage is one ordered message within a session. Immutable once
// written. Assistant messages carry the model used, token counts, estimated
// cost and, when a tool was invoked during the turn, a serialized record of
// {tool, params, result}.
type ChatMessage struct {
	ID        int64
	SessionID string
	Role      ChatRole
	Content   string

	Model            string
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64

	ToolCallJSON string

	CreatedAt time.Time
}

// ToolCall is a parsed tool invocation decoded from free-form model text.
type ToolCall struct {
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params"`
}

// ToolCallRecord is the persisted trace of an executed tool call.
type ToolCallRecord struct {
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params"`
	Result string         `json:"result"`
}
