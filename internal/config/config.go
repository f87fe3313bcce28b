package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Responder modes.
const (
	ModeAuto     = "auto"
	ModeGrounded = "grounded"
	ModeRules    = "rules"
)

type Config struct {
	Port          string
	AllowedOrigin string
	// OpenAI
	OpenAIAPIKey  string
	OpenAIBaseURL string
	Model         string
	Temperature   float32
	LLMTimeout    time.Duration
	BotMode       string
	PromptPath    string
	// Menu catalog
	MenuPath  string
	MenuWatch bool
	// Conversation state
	RedisURL             string
	ConversationTTL      time.Duration
	ConversationMaxTurns int
	// Order archive
	DatabaseURL   string
	MigrationsDir string
	// Logging
	LogLevel  string
	LogFormat string
}

func Load() Config {
	_ = godotenv.Load()
	return Config{
		Port:                 getEnvDefault("PORT", "3000"),
		AllowedOrigin:        getEnvDefault("ALLOWED_ORIGIN", "*"),
		OpenAIAPIKey:         os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:        os.Getenv("OPENAI_BASE_URL"),
		Model:                getEnvDefault("OPENAI_MODEL", "gpt-4o-mini"),
		Temperature:          getEnvFloatDefault("LLM_TEMPERATURE", 0.3),
		LLMTimeout:           getEnvDurationDefault("LLM_TIMEOUT", 15*time.Second),
		BotMode:              strings.ToLower(strings.TrimSpace(getEnvDefault("BOT_MODE", ModeAuto))),
		PromptPath:           os.Getenv("PROMPT_PATH"),
		MenuPath:             getEnvDefault("MENU_PATH", "data/menu_completo.json"),
		MenuWatch:            getEnvBoolDefault("MENU_WATCH", false),
		RedisURL:             os.Getenv("REDIS_URL"),
		ConversationTTL:      getEnvDurationDefault("CONVERSATION_TTL", 30*time.Minute),
		ConversationMaxTurns: getEnvIntDefault("CONVERSATION_MAX_TURNS", 20),
		DatabaseURL:          os.Getenv("DB_URL"),
		MigrationsDir:        getEnvDefault("MIGRATIONS_DIR", "migrations"),
		LogLevel:             getEnvDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvDefault("LOG_FORMAT", "console"),
	}
}

// Mode resolves the responder mode once at startup. Grounded mode needs an API key;
// without one every mode resolves to rules.
func (c Config) Mode() string {
	if strings.TrimSpace(c.OpenAIAPIKey) == "" {
		return ModeRules
	}
	switch c.BotMode {
	case ModeAuto, ModeGrounded:
		return ModeGrounded
	default:
		return ModeRules
	}
}

// KnownMode reports whether BOT_MODE holds one of the documented values.
// Anything else resolves to rules.
func (c Config) KnownMode() bool {
	switch c.BotMode {
	case ModeAuto, ModeGrounded, ModeRules:
		return true
	}
	return false
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBoolDefault(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getEnvIntDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func getEnvFloatDefault(key string, def float32) float32 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 32); err == nil && f >= 0 {
			return float32(f)
		}
	}
	return def
}

func getEnvDurationDefault(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil && d > 0 {
			return d
		}
	}
	return def
}
