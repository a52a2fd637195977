package conf

import (
	"os"
	"path/filepath"
	"strconv"
)

// Config represents application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// OpenAI configuration
	OpenAI OpenAIConfig

	// Extraction pipeline configuration
	Extraction ExtractionConfig

	// Notification configuration
	Notify NotifyConfig

	// Database path
	DBPath string

	// Media download directory
	MediaDir string

	// Prompts configuration (loaded from YAML)
	Prompts *PromptsConfig

	// Debug mode
	Debug bool
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	WebhookPort   int
	APIPort       int
	WebhookSecret string // empty disables signature verification (dev mode)
}

// OpenAIConfig contains LLM service configuration
type OpenAIConfig struct {
	APIKey         string
	Model          string
	EmbeddingModel string
	BaseURL        string // optional override for OpenAI-compatible hosts
	RequestsPerMin int
}

// ExtractionConfig contains confidence gating and worker pool configuration
type ExtractionConfig struct {
	AutoAcceptThreshold float64
	ReviewThreshold     float64

	// LowConfidencePolicy decides the fate of extractions below the review
	// threshold: "discard" or "review".
	LowConfidencePolicy string

	Workers        int
	QueueDepth     int
	LookupCacheTTL int // seconds
}

// NotifyConfig contains notification dispatch configuration
type NotifyConfig struct {
	FromEmail string
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	dbPath := os.Getenv("TRACKER_DB_PATH")
	if dbPath == "" {
		homeDir, _ := os.UserHomeDir()
		dbPath = filepath.Join(homeDir, ".watch-tracker", "tracker.db")
	}

	mediaDir := os.Getenv("TRACKER_MEDIA_DIR")
	if mediaDir == "" {
		mediaDir = filepath.Join(filepath.Dir(dbPath), "media")
	}

	promptsConfig, _ := LoadPromptsConfig(os.Getenv("PROMPTS_CONFIG_PATH"))

	return &Config{
		Server: ServerConfig{
			WebhookPort:   envInt("WEBHOOK_PORT", 8080),
			APIPort:       envInt("API_PORT", 8081),
			WebhookSecret: os.Getenv("WEBHOOK_SECRET"),
		},
		OpenAI: OpenAIConfig{
			APIKey:         os.Getenv("OPENAI_API_KEY"),
			Model:          envStr("OPENAI_MODEL", "gpt-4o-mini"),
			EmbeddingModel: envStr("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			BaseURL:        os.Getenv("OPENAI_BASE_URL"),
			RequestsPerMin: envInt("OPENAI_REQUESTS_PER_MIN", 60),
		},
		Extraction: ExtractionConfig{
			AutoAcceptThreshold: envFloat("AUTO_ACCEPT_THRESHOLD", 0.8),
			ReviewThreshold:     envFloat("REVIEW_THRESHOLD", 0.5),
			LowConfidencePolicy: envStr("LOW_CONFIDENCE_POLICY", "discard"),
			Workers:             envInt("EXTRACTION_WORKERS", 4),
			QueueDepth:          envInt("EXTRACTION_QUEUE_DEPTH", 64),
			LookupCacheTTL:      envInt("LOOKUP_CACHE_TTL_SECONDS", 300),
		},
		Notify: NotifyConfig{
			FromEmail: envStr("NOTIFY_FROM_EMAIL", "alerts@watch-tracker.local"),
		},
		DBPath:   dbPath,
		MediaDir: mediaDir,
		Prompts:  promptsConfig,
		Debug:    os.Getenv("DEBUG") == "true",
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.OpenAI.APIKey == "" {
		return &ConfigError{Field: "OPENAI_API_KEY", Message: "required"}
	}
	if c.Extraction.ReviewThreshold > c.Extraction.AutoAcceptThreshold {
		return &ConfigError{Field: "REVIEW_THRESHOLD", Message: "must not exceed AUTO_ACCEPT_THRESHOLD"}
	}
	switch c.Extraction.LowConfidencePolicy {
	case "discard", "review":
	default:
		return &ConfigError{Field: "LOW_CONFIDENCE_POLICY", Message: "must be discard or review"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}

func envStr(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func envInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}
