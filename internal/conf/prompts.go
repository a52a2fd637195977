package conf

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// PromptsConfig contains all prompt templates loaded from YAML
type PromptsConfig struct {
	Extraction ExtractionPrompts `yaml:"extraction"`
	Rules      RulePrompts       `yaml:"rules"`
	Agent      AgentPrompts      `yaml:"agent"`
}

// ExtractionPrompts contains the listing-extraction prompts
type ExtractionPrompts struct {
	// SystemTemplate receives the category list via fmt.Sprintf.
	SystemTemplate string `yaml:"system_template"`
	// AssistTemplate receives the original text and the reviewer hint.
	AssistTemplate string `yaml:"assist_template"`
}

// RulePrompts contains the notification-rule parsing prompt
type RulePrompts struct {
	// ParseTemplate receives the category list via fmt.Sprintf.
	ParseTemplate string `yaml:"parse_template"`
}

// AgentPrompts contains the tool-calling agent prompts
type AgentPrompts struct {
	SystemPrompt string `yaml:"system_prompt"`
	// ToolResultTemplate wraps a tool result for the second call.
	ToolResultTemplate string `yaml:"tool_result_template"`
}

// LoadPromptsConfig loads prompt configuration from a YAML file, falling
// back to compiled-in defaults when no file is found.
func LoadPromptsConfig(configPath string) (*PromptsConfig, error) {
	paths := []string{configPath}
	if configPath == "" {
		paths = []string{
			"configs/prompts.yaml",
			"./configs/prompts.yaml",
			"/etc/watch-tracker/prompts.yaml",
		}
		if execPath, err := os.Executable(); err == nil {
			paths = append(paths, filepath.Join(filepath.Dir(execPath), "configs", "prompts.yaml"))
		}
	}

	cfg := DefaultPromptsConfig()
	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return DefaultPromptsConfig(), fmt.Errorf("failed to parse prompts config %s: %w", path, err)
		}
		cfg.fillDefaults()
		return cfg, nil
	}

	return cfg, nil
}

// DefaultPromptsConfig returns the compiled-in prompt templates
func DefaultPromptsConfig() *PromptsConfig {
	return &PromptsConfig{
		Extraction: ExtractionPrompts{
			SystemTemplate: defaultExtractionTemplate,
			AssistTemplate: defaultAssistTemplate,
		},
		Rules: RulePrompts{
			ParseTemplate: defaultRuleParseTemplate,
		},
		Agent: AgentPrompts{
			SystemPrompt:       defaultAgentSystemPrompt,
			ToolResultTemplate: defaultToolResultTemplate,
		},
	}
}

func (c *PromptsConfig) fillDefaults() {
	if c.Extraction.SystemTemplate == "" {
		c.Extraction.SystemTemplate = defaultExtractionTemplate
	}
	if c.Extraction.AssistTemplate == "" {
		c.Extraction.AssistTemplate = defaultAssistTemplate
	}
	if c.Rules.ParseTemplate == "" {
		c.Rules.ParseTemplate = defaultRuleParseTemplate
	}
	if c.Agent.SystemPrompt == "" {
		c.Agent.SystemPrompt = defaultAgentSystemPrompt
	}
	if c.Agent.ToolResultTemplate == "" {
		c.Agent.ToolResultTemplate = defaultToolResultTemplate
	}
}

const defaultExtractionTemplate = `You are a trade-listing extractor for watch dealer group chats.
Given one chat message, decide whether it offers or seeks items for trade and extract every item.

Known categories: %s

Respond with a single JSON object, no prose, no markdown fence:
{
  "intent": "sell" | "want" | "unknown",
  "items": [
    {
      "description": "short item description",
      "category": "one of the known categories, or your best guess",
      "manufacturer": "brand name",
      "part_number": "reference or part number if present",
      "quantity": 1,
      "unit": "pcs",
      "price": 7500.0,
      "currency": "USD",
      "condition": "e.g. NOS, used, mint",
      "model": "model name",
      "reference_number": "",
      "year": 0,
      "box_papers": ""
    }
  ],
  "unresolved_terms": ["jargon you could not interpret"],
  "confidence": 0.0,
  "explanation": "one sentence on what made you certain or uncertain"
}

Rules:
1. A message with no trade content (greetings, chatter) gets "items": [] and low confidence.
2. Omit price when no figure is given; never invent one.
3. confidence is your certainty in [0,1] that the extraction is correct and complete.`

const defaultAssistTemplate = `A human reviewer is correcting an uncertain extraction.

Original message:
%s

Reviewer hint:
%s

Re-extract the listing taking the hint into account. Same JSON shape as before, no markdown fence.`

const defaultRuleParseTemplate = `Turn a user's alert description into a structured filter.

Known categories: %s

Respond with a single JSON object:
{
  "intent": "sell" | "want" | "",
  "keywords": ["words that must appear in a matching listing"],
  "categories": ["category names from the known list"],
  "min_price": null,
  "max_price": null
}

"under 8000" means max_price 8000; "over 500" means min_price 500. Leave intent empty when the user did not say whether they watch sales or wanted-ads.`

const defaultAgentSystemPrompt = `You are the assistant for a watch trade tracker. You answer questions about archived listings and messages.

You may call exactly one tool per turn. To call a tool, reply with a single line of JSON and nothing else:
{"tool": "<name>", "params": {...}}

Available tools:
- search_listings: {"keyword": string, "intent": "sell"|"want", "min_price": number, "max_price": number, "limit": int}
- search_messages: {"group_id": int, "sender": string, "keyword": string, "limit": int}
- market_stats: {}
- get_listing: {"id": int}
- create_notification_rule: {"name": string, "rule_text": string}

If you can answer without a tool, just answer. After a tool result is fed back to you, compose the final answer for the user; do not call another tool.`

const defaultToolResultTemplate = `Tool %s returned:
%s

Answer the user's question using this result.`
