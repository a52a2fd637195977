package repo

import "context"

// ChatTurn is one role-tagged message sent to the LLM.
type ChatTurn struct {
	Role    string
	Content string
}

// Usage carries the token counts and estimated cost of one LLM call. It is
// accounted separately from the extraction payload and never serialized with
// it.
type Usage struct {
	Model            string
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
}

// Add accumulates another call's usage into u.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.CostUSD += other.CostUSD
	if u.Model == "" {
		u.Model = other.Model
	}
}

// TotalTokens returns prompt plus completion tokens.
func (u *Usage) TotalTokens() int {
	return u.PromptTokens + u.CompletionTokens
}

// LLMRepo is the hosted LLM service. Every call blocks on network I/O and
// carries a transport-level timeout; a timeout surfaces as an ordinary error.
type LLMRepo interface {
	// Complete runs a chat completion over the given turns.
	Complete(ctx context.Context, turns []ChatTurn, temperature float32) (string, Usage, error)

	// Embed returns a fixed-length embedding vector for the text.
	Embed(ctx context.Context, text string) ([]float32, error)
}
