package config

import (
	"log"
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
	BackendFile   StoreBackend = "file"
	BackendSQLite StoreBackend = "sqlite"
)

type Config struct {
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN"`
	AdminUserID      int64  `env:"ADMIN_USER"`

	// Messages posted in SourceChatID are treated as source-of-truth and ingested.
	SourceChatID      int64  `env:"SOURCE_CHAT_ID"`
	EscalationChatID  int64  `env:"ESCALATION_CHAT_ID"`
	EscalationWebhook string `env:"ESCALATION_WEBHOOK_URL"`

	// LLM settings
	LLMProvider      LLMProvider   `env:"LLM_PROVIDER" envDefault:"openai"`
	OpenAIAPIKey     string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL    string        `env:"OPENAI_BASE_URL"`
	OpenAIModel      string        `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	YandexOAuthToken string        `env:"YANDEX_OAUTH_TOKEN"`
	YandexFolderID   string        `env:"YANDEX_FOLDER_ID"`
	LLMTimeout       time.Duration `env:"LLM_TIMEOUT" envDefault:"30s"`

	// OpenRouter (optional)
	OpenRouterReferrer string `env:"OPENROUTER_REFERRER"`
	OpenRouterTitle    string `env:"OPENROUTER_TITLE"`

	// Knowledge and persona
	KnowledgePaths []string `env:"KNOWLEDGE_PATHS" envSeparator:":" envDefault:"knowledge/product_info.txt:knowledge/announcements.txt"`
	ProfilePath    string   `env:"PROFILE_PATH" envDefault:"config/profile.yaml"`

	// Storage
	StoreBackend       StoreBackend `env:"STORE_BACKEND" envDefault:"file"`
	AnswersFilePath    string       `env:"ANSWERS_FILE_PATH" envDefault:"data/memory.json"`
	MessagesFilePath   string       `env:"MESSAGES_FILE_PATH" envDefault:"data/global_memory.json"`
	UnansweredFilePath string       `env:"UNANSWERED_FILE_PATH" envDefault:"data/unanswered.json"`
	SQLitePath         string       `env:"SQLITE_PATH" envDefault:"data/support.db"`
	MessageLogCap      int          `env:"MESSAGE_LOG_CAP" envDefault:"1000"`
	LogFilePath        string       `env:"LOG_FILE_PATH" envDefault:"logs/log.jsonl"`

	// Resolution policy
	CacheMinConfidence     float64 `env:"CACHE_MIN_CONFIDENCE" envDefault:"0.8"`
	ReconcileMinConfidence float64 `env:"RECONCILE_MIN_CONFIDENCE" envDefault:"0"`

	// Schedules (robfig/cron syntax)
	ReconcileSchedule string `env:"RECONCILE_SCHEDULE" envDefault:"@every 5m"`
	ReportSchedule    string `env:"REPORT_SCHEDULE" envDefault:"0 21 * * *"`
	FeedSchedule      string `env:"FEED_SCHEDULE" envDefault:"@every 15m"`
	GmailSchedule     string `env:"GMAIL_SCHEDULE" envDefault:"@every 30m"`

	// Ingestion sources (optional)
	FeedURLs             []string `env:"FEED_URLS" envSeparator:","`
	GmailCredentialsJSON string   `env:"GMAIL_CREDENTIALS_JSON"`
	GmailCredentialsPath string   `env:"GMAIL_CREDENTIALS_JSON_PATH"`
	GmailRefreshToken    string   `env:"GMAIL_REFRESH_TOKEN"`
	GmailIngestQuery     string   `env:"GMAIL_INGEST_QUERY" envDefault:"label:announcements newer_than:1d"`

	// Formatting
	MessageParseMode string `env:"MESSAGE_PARSE_MODE" envDefault:""`
}

func New() *Config {
	cfg, err := Parse()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}
	return cfg
}

// Parse reads the configuration from the environment without exiting on error.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
