package llm

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/Yuanja/watch-tracker-sub002/internal/biz/repo"
)

const callTimeout = 60 * time.Second

// modelRates maps model names to USD cost per 1K tokens (prompt, completion).
// Unknown models fall back to the gpt-4o-mini rate.
var modelRates = map[string][2]float64{
	"gpt-4o":                 {0.0025, 0.01},
	"gpt-4o-mini":            {0.00015, 0.0006},
	"gpt-4-turbo":            {0.01, 0.03},
	"gpt-3.5-turbo":          {0.0005, 0.0015},
	"text-embedding-3-small": {0.00002, 0},
	"text-embedding-3-large": {0.00013, 0},
}

// Client is the hosted LLM client using the OpenAI-compatible interface.
// All calls are rate limited so a burst of extraction work cannot exhaust
// the provider quota.
type Client struct {
	client         *openai.Client
	model          string
	embeddingModel string
	limiter        *rate.Limiter
}

// NewClient creates a new LLM client. baseURL may be empty for the default
// OpenAI endpoint or point at any OpenAI-compatible host.
func NewClient(apiKey, model, embeddingModel, baseURL string, requestsPerMin int) *Client {
	if model == "" {
		model = "gpt-4o-mini"
	}
	if embeddingModel == "" {
		embeddingModel = "text-embedding-3-small"
	}
	if requestsPerMin <= 0 {
		requestsPerMin = 60
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}

	return &Client{
		client:         openai.NewClientWithConfig(config),
		model:          model,
		embeddingModel: embeddingModel,
		limiter:        rate.NewLimiter(rate.Limit(float64(requestsPerMin)/60.0), requestsPerMin),
	}
}

// Complete runs a chat completion and returns the generated text plus usage.
func (c *Client) Complete(ctx context.Context, turns []repo.ChatTurn, temperature float32) (string, repo.Usage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", repo.Usage{}, fmt.Errorf("rate limit wait: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessage, len(turns))
	for i, t := range turns {
		messages[i] = openai.ChatCompletionMessage{Role: t.Role, Content: t.Content}
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: temperature,
	})
	if err != nil {
		return "", repo.Usage{}, fmt.Errorf("chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", repo.Usage{}, fmt.Errorf("no response choices")
	}

	usage := repo.Usage{
		Model:            c.model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		CostUSD:          EstimateCost(c.model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
	}
	return resp.Choices[0].Message.Content, usage, nil
}

// Embed returns the embedding vector for the text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.embeddingModel),
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embedding data")
	}
	return resp.Data[0].Embedding, nil
}

// EstimateCost estimates the USD cost of one call from the per-model
// per-1K-token rate table.
func EstimateCost(model string, promptTokens, completionTokens int) float64 {
	rates, ok := modelRates[model]
	if !ok {
		rates = modelRates["gpt-4o-mini"]
	}
	return float64(promptTokens)/1000.0*rates[0] + float64(completionTokens)/1000.0*rates[1]
}
