package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/caarlos0/env/v6"
)

type LLMProvider string

const (
	ProviderOpenAI LLMProvider = "openai"
	ProviderYandex LLMProvider = "yandex"
)

type StoreBackend string

const (
	StoreFile   StoreBackend = "file"
	StoreSQLite StoreBackend = "sqlite"
	StoreMongo  StoreBackend = "mongo"
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	TelegramBotToken   string        `env:"TELEGRAM_BOT_TOKEN"`
	AllowedUsers       []int64       `env:"ALLOWED_USERS" envSeparator:":"`
	SessionIdleTimeout time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"30m"`

	// LLM settings
	LLMProvider      LLMProvider `env:"LLM_PROVIDER" envDefault:"openai"`
	OpenAIAPIKey     string      `env:"OPENAI_API_KEY"`
	OpenAIBaseURL    string      `env:"OPENAI_BASE_URL"`
	ChatModel        string      `env:"CHAT_MODEL" envDefault:"gpt-4o"`
	SummaryModel     string      `env:"SUMMARY_MODEL" envDefault:"o1-mini"`
	ChatTemperature  float32     `env:"CHAT_TEMPERATURE" envDefault:"0"`
	YandexOAuthToken string      `env:"YANDEX_OAUTH_TOKEN"`
	YandexFolderID   string      `env:"YANDEX_FOLDER_ID"`

	// OpenRouter (optional)
	OpenRouterReferrer string `env:"OPENROUTER_REFERRER"`
	OpenRouterTitle    string `env:"OPENROUTER_TITLE"`

	// Embeddings
	EmbeddingModel     string `env:"EMBEDDING_MODEL" envDefault:"text-embedding-3-large"`
	EmbeddingMaxTokens int    `env:"EMBEDDING_MAX_TOKENS" envDefault:"8191"`

	// Memory
	TokenizerModel   string `env:"TOKENIZER_MODEL" envDefault:"gpt-4o"`
	MaxContextTokens int    `env:"MAX_CONTEXT_TOKENS" envDefault:"100000"`
	HistoryMode      string `env:"HISTORY_MODE" envDefault:"truncate"`
	SummaryLookback  int    `env:"SUMMARY_LOOKBACK" envDefault:"7"`
	TimeZone         string `env:"TIMEZONE" envDefault:"Local"`

	// Daily summaries
	SummarySchedule string `env:"SUMMARY_SCHEDULE" envDefault:"0 0 * * *"`
	SummaryOnStart  bool   `env:"SUMMARY_ON_START" envDefault:"true"`

	// Prompts; empty paths use the built-in templates
	FirstTimePromptPath     string `env:"FIRST_TIME_PROMPT_PATH"`
	ReturningPromptPath     string `env:"RETURNING_PROMPT_PATH"`
	FirstTimeOpeningPath    string `env:"FIRST_TIME_OPENING_PATH"`
	ReturningOpeningPath    string `env:"RETURNING_OPENING_PATH"`
	SummarizationPromptPath string `env:"SUMMARIZATION_PROMPT_PATH"`

	// Storage
	StoreBackend  StoreBackend `env:"STORE_BACKEND" envDefault:"file"`
	StoreDir      string       `env:"STORE_DIR" envDefault:"data"`
	SQLitePath    string       `env:"SQLITE_PATH" envDefault:"data/health-agent.db"`
	MongoURI      string       `env:"MONGO_URI"`
	MongoDatabase string       `env:"MONGO_DATABASE" envDefault:"medassistant"`

	// Observability
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"text"`
	MetricsAddr string `env:"METRICS_ADDR"`

	LogFile           string `env:"LOG_FILE"`
	LogFileMaxSizeMB  int    `env:"LOG_FILE_MAX_SIZE_MB" envDefault:"10"`
	LogFileMaxBackups int    `env:"LOG_FILE_MAX_BACKUPS" envDefault:"5"`
}

func New() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}
	return cfg
}

// Load parses the environment without validating cross-field requirements.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first configuration problem that would stop the agent
// from serving turns or running the daily batch.
func (c *Config) Validate() error {
	switch c.LLMProvider {
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY is required for provider %q", ErrInvalid, c.LLMProvider)
		}
	case ProviderYandex:
		if c.YandexOAuthToken == "" || c.YandexFolderID == "" {
			return fmt.Errorf("%w: YANDEX_OAUTH_TOKEN and YANDEX_FOLDER_ID are required for provider %q", ErrInvalid, c.LLMProvider)
		}
	default:
		return fmt.Errorf("%w: unknown llm provider %q", ErrInvalid, c.LLMProvider)
	}

	switch c.StoreBackend {
	case StoreFile, StoreSQLite:
	case StoreMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("%w: MONGO_URI is required for store backend %q", ErrInvalid, c.StoreBackend)
		}
	default:
		return fmt.Errorf("%w: unknown store backend %q", ErrInvalid, c.StoreBackend)
	}

	if c.HistoryMode != "truncate" && c.HistoryMode != "compact" {
		return fmt.Errorf("%w: HISTORY_MODE must be truncate or compact, got %q", ErrInvalid, c.HistoryMode)
	}
	if c.MaxContextTokens <= 0 {
		return fmt.Errorf("%w: MAX_CONTEXT_TOKENS must be positive", ErrInvalid)
	}
	if c.SummaryLookback <= 0 {
		return fmt.Errorf("%w: SUMMARY_LOOKBACK must be positive", ErrInvalid)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	for _, p := range []string{
		c.FirstTimePromptPath,
		c.ReturningPromptPath,
		c.FirstTimeOpeningPath,
		c.ReturningOpeningPath,
		c.SummarizationPromptPath,
	} {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("%w: prompt file: %v", ErrInvalid, err)
		}
	}
	return nil
}

// Location resolves TIMEZONE; calendar days for summaries are cut in it.
func (c *Config) Location() (*time.Location, error) {
	if c.TimeZone == "" || c.TimeZone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", c.TimeZone, err)
	}
	return loc, nil
}
