package config

import (
	"strings"
	"time"

	"labeler_server/core/domain"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string
	Environment string
	LogLevel    string

	// Database
	DatabaseURL string
	SQLitePath  string
	MongoDBURL  string
	MongoDBName string
	RedisURL    string

	// Auth
	JWTSecret     string
	EncryptionKey string

	// OpenAI
	OpenAIAPIKey   string
	OpenAIBaseURL  string
	LLMModel       string
	LLMMaxTokens   int
	LLMTemperature float64
	LLMTimeout     time.Duration

	// OAuth - Google
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Timeouts
	GmailTimeout  time.Duration
	LedgerTimeout time.Duration

	// Labeling
	LabelingConcurrency  int
	LabelingQuery        string
	LabelingMaxResults   int64
	LabelingInterval     time.Duration
	LabelingDraftReplies bool

	// Cache / history
	LedgerCacheTTL time.Duration
	RunRetention   time.Duration

	// Rate limit for POST /reconcile, per user
	ReconcileRateLimit  int
	ReconcileRateWindow time.Duration

	// CORS
	AllowedOrigins []string
}

var defaults = map[string]any{
	"PORT":      "8080",
	"ENV":       "development",
	"LOG_LEVEL": "info",

	"SQLITE_PATH":      "labeler.db",
	"MONGODB_DATABASE": "labeler",

	"LLM_MODEL":       "gpt-4o-mini",
	"LLM_MAX_TOKENS":  512,
	"LLM_TEMPERATURE": 0.0,
	"LLM_TIMEOUT_SEC": 60,

	"GMAIL_TIMEOUT_SEC":  30,
	"LEDGER_TIMEOUT_SEC": 5,

	"LABELING_CONCURRENCY":   4,
	"LABELING_QUERY":         "in:inbox newer_than:2d",
	"LABELING_MAX_RESULTS":   50,
	"LABELING_INTERVAL_MIN":  15,
	"LABELING_DRAFT_REPLIES": false,

	"LEDGER_CACHE_TTL_MIN": 1440,
	"RUN_RETENTION_DAYS":   30,

	"RECONCILE_RATE_LIMIT":      10,
	"RECONCILE_RATE_WINDOW_SEC": 60,

	"ALLOWED_ORIGINS": "http://localhost:3000,http://localhost:5173",
}

// Load reads configuration from the environment. Call godotenv first if a
// .env file should be honored.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	cfg := &Config{
		Port:        v.GetString("PORT"),
		Environment: v.GetString("ENV"),
		LogLevel:    v.GetString("LOG_LEVEL"),

		// Database
		DatabaseURL: v.GetString("DATABASE_URL"),
		SQLitePath:  v.GetString("SQLITE_PATH"),
		MongoDBURL:  v.GetString("MONGODB_URL"),
		MongoDBName: v.GetString("MONGODB_DATABASE"),
		RedisURL:    v.GetString("REDIS_URL"),

		// Auth
		JWTSecret:     v.GetString("JWT_SECRET"),
		EncryptionKey: v.GetString("ENCRYPTION_KEY"),

		// OpenAI
		OpenAIAPIKey:   v.GetString("OPENAI_API_KEY"),
		OpenAIBaseURL:  v.GetString("OPENAI_BASE_URL"),
		LLMModel:       v.GetString("LLM_MODEL"),
		LLMMaxTokens:   v.GetInt("LLM_MAX_TOKENS"),
		LLMTemperature: v.GetFloat64("LLM_TEMPERATURE"),
		LLMTimeout:     seconds(v, "LLM_TIMEOUT_SEC"),

		// OAuth - Google
		GoogleClientID:     v.GetString("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: v.GetString("GOOGLE_CLIENT_SECRET"),
		GoogleRedirectURL:  v.GetString("GOOGLE_REDIRECT_URL"),

		// Timeouts
		GmailTimeout:  seconds(v, "GMAIL_TIMEOUT_SEC"),
		LedgerTimeout: seconds(v, "LEDGER_TIMEOUT_SEC"),

		// Labeling
		LabelingConcurrency:  v.GetInt("LABELING_CONCURRENCY"),
		LabelingQuery:        v.GetString("LABELING_QUERY"),
		LabelingMaxResults:   v.GetInt64("LABELING_MAX_RESULTS"),
		LabelingInterval:     time.Duration(v.GetInt("LABELING_INTERVAL_MIN")) * time.Minute,
		LabelingDraftReplies: v.GetBool("LABELING_DRAFT_REPLIES"),

		LedgerCacheTTL: time.Duration(v.GetInt("LEDGER_CACHE_TTL_MIN")) * time.Minute,
		RunRetention:   time.Duration(v.GetInt("RUN_RETENTION_DAYS")) * 24 * time.Hour,

		ReconcileRateLimit:  v.GetInt("RECONCILE_RATE_LIMIT"),
		ReconcileRateWindow: seconds(v, "RECONCILE_RATE_WINDOW_SEC"),

		// CORS
		AllowedOrigins: splitList(v.GetString("ALLOWED_ORIGINS")),
	}

	return cfg, nil
}

func seconds(v *viper.Viper, key string) time.Duration {
	return time.Duration(v.GetInt(key)) * time.Second
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks the keys every mode needs.
func (c *Config) Validate() error {
	required := []struct {
		field, value string
	}{
		{"OPENAI_API_KEY", c.OpenAIAPIKey},
		{"GOOGLE_CLIENT_ID", c.GoogleClientID},
		{"GOOGLE_CLIENT_SECRET", c.GoogleClientSecret},
		{"ENCRYPTION_KEY", c.EncryptionKey},
	}
	for _, r := range required {
		if r.value == "" {
			return &domain.ConfigurationError{Field: r.field, Reason: "required"}
		}
	}
	if c.DatabaseURL == "" && c.SQLitePath == "" {
		return &domain.ConfigurationError{Field: "DATABASE_URL", Reason: "DATABASE_URL or SQLITE_PATH is required"}
	}
	if c.LabelingConcurrency < 1 {
		return &domain.ConfigurationError{Field: "LABELING_CONCURRENCY", Reason: "must be at least 1"}
	}
	if c.LabelingMaxResults < 1 || c.LabelingMaxResults > 500 {
		return &domain.ConfigurationError{Field: "LABELING_MAX_RESULTS", Reason: "must be between 1 and 500"}
	}
	return nil
}

// ValidateServer additionally checks what the HTTP API needs.
func (c *Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.JWTSecret == "" {
		return &domain.ConfigurationError{Field: "JWT_SECRET", Reason: "required"}
	}
	if c.GoogleRedirectURL == "" {
		return &domain.ConfigurationError{Field: "GOOGLE_REDIRECT_URL", Reason: "required"}
	}
	return nil
}

// UsePostgres reports whether DATABASE_URL selects Postgres over SQLite.
func (c *Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
