package config

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/pkg/errors"
)

type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
	ProviderOpenAI LLMProvider = "openai"
	ProviderYandex LLMProvider = "yandex"
)

type StoreBackend string

const (
	StoreFile   StoreBackend = "file"
	StoreSQLite StoreBackend = "sqlite"
	StoreMongo  StoreBackend = "mongo"
)

// FailurePolicy decides what the streaming path does when generation fails.
type FailurePolicy string

const (
	FailurePropagate FailurePolicy = "propagate"
	FailureApologize FailurePolicy = "apologize"
)

type Config struct {
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN,required"`
	AIName           string `env:"AI_NAME" envDefault:"Vethya AI"`

	// Access control seeds
	Admins    []int64 `env:"ADMINS" envSeparator:","`
	Whitelist []int64 `env:"WHITELIST" envSeparator:","`
	Blacklist []int64 `env:"BLACKLIST" envSeparator:","`

	// LLM settings
	LLMProvider        LLMProvider   `env:"LLM_PROVIDER" envDefault:"gemini"`
	GeminiAPIKey       string        `env:"GEMINI_API_KEY"`
	GeminiModel        string        `env:"GEMINI_MODEL" envDefault:"gemini-2.0-flash-exp"`
	OpenAIAPIKey       string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL      string        `env:"OPENAI_BASE_URL"`
	OpenAIModel        string        `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	YandexOAuthToken   string        `env:"YANDEX_OAUTH_TOKEN"`
	YandexFolderID     string        `env:"YANDEX_FOLDER_ID"`
	FailurePolicy      FailurePolicy `env:"GENERATION_FAILURE_POLICY" envDefault:"propagate"`
	OpenRouterReferrer string        `env:"OPENROUTER_REFERRER"`
	OpenRouterTitle    string        `env:"OPENROUTER_TITLE"`

	// Prompts
	SystemPromptPath string `env:"SYSTEM_PROMPT_PATH"`

	// Storage
	StoreBackend  StoreBackend `env:"STORE_BACKEND" envDefault:"file"`
	StoreFilePath string       `env:"STORE_FILE_PATH" envDefault:"data/store.json"`
	SQLitePath    string       `env:"SQLITE_PATH" envDefault:"data/bot.db"`
	MongoURI      string       `env:"MONGODB_URI"`
	MongoDatabase string       `env:"MONGODB_DATABASE" envDefault:"promptrelay"`
	RedisURL      string       `env:"REDIS_URL"`
	LogFilePath   string       `env:"LOG_FILE_PATH" envDefault:"logs/turns.jsonl"`

	// Relay tuning
	RateLimitWindow  time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"10s"`
	EditInterval     time.Duration `env:"EDIT_INTERVAL" envDefault:"3s"`
	MaxChainLength   int           `env:"MAX_CHAIN_LENGTH" envDefault:"10"`
	MaxContextLength int           `env:"MAX_CONTEXT_LENGTH" envDefault:"1000"`

	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	ReportSchedule string `env:"REPORT_SCHEDULE" envDefault:"0 21 * * *"`
}

func New() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Model returns the model name configured for the active provider.
func (c *Config) Model() string {
	switch c.LLMProvider {
	case ProviderOpenAI:
		return c.OpenAIModel
	case ProviderGemini:
		return c.GeminiModel
	default:
		return ""
	}
}

func (c *Config) Validate() error {
	if c.TelegramBotToken == "" {
		return errors.New("TELEGRAM_BOT_TOKEN is required")
	}
	c.LLMProvider = LLMProvider(strings.ToLower(string(c.LLMProvider)))
	switch c.LLMProvider {
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return errors.New("GEMINI_API_KEY is required for the gemini provider")
		}
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return errors.New("OPENAI_API_KEY is required for the openai provider")
		}
	case ProviderYandex:
		if c.YandexOAuthToken == "" || c.YandexFolderID == "" {
			return errors.New("YANDEX_OAUTH_TOKEN and YANDEX_FOLDER_ID are required for the yandex provider")
		}
	default:
		return errors.Errorf("unknown llm provider: %s", c.LLMProvider)
	}

	switch c.StoreBackend {
	case StoreFile, StoreSQLite:
	case StoreMongo:
		if c.MongoURI == "" {
			return errors.New("MONGODB_URI is required for the mongo store")
		}
	default:
		return errors.Errorf("unknown store backend: %s", c.StoreBackend)
	}

	switch c.FailurePolicy {
	case FailurePropagate, FailureApologize:
	default:
		return errors.Errorf("unknown generation failure policy: %s", c.FailurePolicy)
	}

	if c.MaxChainLength < 1 {
		return errors.New("MAX_CHAIN_LENGTH must be positive")
	}
	if c.EditInterval <= 0 {
		return errors.New("EDIT_INTERVAL must be positive")
	}
	return nil
}
