package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

type Config struct {
	Port        int
	LogLevel    string
	NatsURL     string
	NatsToken   string
	DatabaseURL string

	RedisURL string
	CacheTTL time.Duration

	Provider        string
	AnthropicAPIKey string
	AnthropicModel  string
	GoogleAPIKey    string
	GeminiModel     string
	MaxChars        int
	Concurrency     int
	CallTimeout     time.Duration

	FeishuAppID     string
	FeishuAppSecret string
	FeishuAppToken  string
	FeishuTableID   string

	NotionToken      string
	NotionDatabaseID string

	SlackBotToken string
	SlackChannel  string

	APIToken    string
	HistoryPath string
	DryRun      bool
}

// Load reads a .env file in the working directory, if there is one, and
// then the process environment. Variables already set win over the file.
func Load() Config {
	_ = godotenv.Load()
	return fromEnv()
}

// LoadFile is Load with an explicit env file, which must exist.
func LoadFile(path string) (Config, error) {
	if err := godotenv.Load(path); err != nil {
		return Config{}, err
	}
	return fromEnv(), nil
}

func fromEnv() Config {
	return Config{
		Port:        envInt("SCRIBE_PORT", 8760),
		LogLevel:    envStr("LOG_LEVEL", "info"),
		NatsURL:     envStr("NATS_URL", ""),
		NatsToken:   envStr("NATS_TOKEN", ""),
		DatabaseURL: envStr("DATABASE_URL", ""),

		RedisURL: envStr("REDIS_URL", ""),
		CacheTTL: time.Duration(envInt("SCRIBE_CACHE_TTL_HOURS", 168)) * time.Hour,

		Provider:        strings.ToLower(envStr("SCRIBE_PROVIDER", ProviderAnthropic)),
		AnthropicAPIKey: envStr("ANTHROPIC_API_KEY", ""),
		AnthropicModel:  envStr("SCRIBE_MODEL", "claude-sonnet-4-20250514"),
		GoogleAPIKey:    envStr("GOOGLE_API_KEY", ""),
		GeminiModel:     envStr("GEMINI_MODEL", "gemini-1.5-flash"),
		MaxChars:        envInt("SCRIBE_MAX_CHARS", 28000),
		Concurrency:     envInt("SCRIBE_CONCURRENCY", 1),
		CallTimeout:     time.Duration(envInt("SCRIBE_CALL_TIMEOUT_SECONDS", 120)) * time.Second,

		FeishuAppID:     envStr("FEISHU_APP_ID", ""),
		FeishuAppSecret: envStr("FEISHU_APP_SECRET", ""),
		FeishuAppToken:  envStr("FEISHU_BITABLE_APP_TOKEN", ""),
		FeishuTableID:   envStr("FEISHU_TABLE_ID", ""),

		NotionToken:      envStr("NOTION_TOKEN", ""),
		NotionDatabaseID: envStr("NOTION_DATABASE_ID", ""),

		SlackBotToken: envStr("SLACK_BOT_TOKEN", ""),
		SlackChannel:  envStr("SLACK_CHANNEL", ""),

		APIToken:    envStr("SCRIBE_API_TOKEN", ""),
		HistoryPath: envStr("SCRIBE_HISTORY_PATH", "~/.scribe/history.json"),
		DryRun:      envBool("SCRIBE_DRY_RUN", false),
	}
}

// Analyzer reports whether the selected provider has credentials.
func (c Config) Analyzer() bool {
	switch c.Provider {
	case ProviderGemini:
		return c.GoogleAPIKey != ""
	case ProviderAnthropic:
		return c.AnthropicAPIKey != ""
	default:
		return false
	}
}

func (c Config) Model() string {
	if c.Provider == ProviderGemini {
		return c.GeminiModel
	}
	return c.AnthropicModel
}

func (c Config) Feishu() bool {
	return c.FeishuAppID != "" && c.FeishuAppSecret != "" && c.FeishuAppToken != "" && c.FeishuTableID != ""
}

func (c Config) Notion() bool {
	return c.NotionToken != "" && c.NotionDatabaseID != ""
}

func (c Config) Slack() bool {
	return c.SlackBotToken != "" && c.SlackChannel != ""
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
