package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Mode string

const (
	ModeLocal Mode = "local"
	ModeGCP   Mode = "gcp"
)

const envPrefix = "CHATSUM"

type Config struct {
	Mode Mode

	Port     string
	LogLevel string

	Storage StorageConfig
	LLM     LLMConfig
	Search  SearchConfig

	// Default page size of the per-user session listing.
	HistoryLimit int
}

type StorageConfig struct {
	Backend  string // memory, firestore, mongo, sqlite, postgres, mysql
	Database string

	MongoURL string
	SQLDSN   string

	GCPProjectID string
}

type LLMConfig struct {
	Provider string   // mock, gemini, vertex, openai, anthropic, langchain
	Fallback []string // providers tried in order when Provider fails

	Model           string
	Temperature     float64
	MaxOutputTokens int
	Timeout         time.Duration
	RetryBackoff    time.Duration

	GoogleAPIKey string
	GCPProjectID string
	GCPLocation  string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	AnthropicAPIKey string
	AnthropicModel  string
}

type SearchConfig struct {
	CaseSensitive bool
	Limit         int
}

// New returns a viper instance with defaults, CHATSUM_* env bindings and the
// env names the service historically used.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("mode", string(ModeLocal))
	v.SetDefault("port", "8000")
	v.SetDefault("log.level", "info")

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.database", "chat_summarization")
	v.SetDefault("mongo.url", "mongodb://localhost:27017")
	v.SetDefault("sql.dsn", "chatsum.db")

	v.SetDefault("gcp.project", "")
	v.SetDefault("gcp.location", "us-central1")

	v.SetDefault("llm.provider", "")
	v.SetDefault("llm.fallback", "")
	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.max_output_tokens", 8192)
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.retry_backoff", 500*time.Millisecond)

	v.SetDefault("google.api_key", "")
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5")

	v.SetDefault("search.case_sensitive", false)
	v.SetDefault("search.limit", 10)
	v.SetDefault("history.limit", 5)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	aliases := map[string]string{
		"port":              "API_PORT",
		"mongo.url":         "MONGODB_URL",
		"storage.database":  "DATABASE_NAME",
		"google.api_key":    "GOOGLE_API_KEY",
		"openai.api_key":    "OPENAI_API_KEY",
		"anthropic.api_key": "ANTHROPIC_API_KEY",
	}
	for key, alias := range aliases {
		_ = v.BindEnv(key, envName(key), alias)
	}

	return v
}

func envName(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// ReadFile merges a config file (yaml, json, toml...) into v.
func ReadFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	return nil
}

// Load builds the config from v and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var mode Mode
	switch strings.ToLower(v.GetString("mode")) {
	case "gcp":
		mode = ModeGCP
	default:
		mode = ModeLocal
	}

	cfg := &Config{
		Mode: mode,

		Port:     v.GetString("port"),
		LogLevel: v.GetString("log.level"),

		Storage: StorageConfig{
			Backend:      strings.ToLower(v.GetString("storage.backend")),
			Database:     v.GetString("storage.database"),
			MongoURL:     v.GetString("mongo.url"),
			SQLDSN:       v.GetString("sql.dsn"),
			GCPProjectID: v.GetString("gcp.project"),
		},

		LLM: LLMConfig{
			Provider:        strings.ToLower(v.GetString("llm.provider")),
			Fallback:        splitList(v.GetString("llm.fallback")),
			Model:           v.GetString("llm.model"),
			Temperature:     v.GetFloat64("llm.temperature"),
			MaxOutputTokens: v.GetInt("llm.max_output_tokens"),
			Timeout:         v.GetDuration("llm.timeout"),
			RetryBackoff:    v.GetDuration("llm.retry_backoff"),
			GoogleAPIKey:    v.GetString("google.api_key"),
			GCPProjectID:    v.GetString("gcp.project"),
			GCPLocation:     v.GetString("gcp.location"),
			OpenAIAPIKey:    v.GetString("openai.api_key"),
			OpenAIBaseURL:   v.GetString("openai.base_url"),
			OpenAIModel:     v.GetString("openai.model"),
			AnthropicAPIKey: v.GetString("anthropic.api_key"),
			AnthropicModel:  v.GetString("anthropic.model"),
		},

		Search: SearchConfig{
			CaseSensitive: v.GetBool("search.case_sensitive"),
			Limit:         v.GetInt("search.limit"),
		},

		HistoryLimit: v.GetInt("history.limit"),
	}

	// The mock keeps local mode usable without credentials.
	if cfg.LLM.Provider == "" {
		if cfg.Mode == ModeLocal {
			cfg.LLM.Provider = "mock"
		} else {
			cfg.LLM.Provider = "vertex"
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the selected backends have what they need.
func (c *Config) Validate() error {
	if c.Mode == ModeGCP && c.Storage.GCPProjectID == "" {
		return fmt.Errorf("gcp.project must be set in gcp mode")
	}

	switch c.Storage.Backend {
	case "memory":
	case "firestore":
		if c.Storage.GCPProjectID == "" {
			return fmt.Errorf("gcp.project is required for the firestore storage backend")
		}
	case "mongo":
		if c.Storage.MongoURL == "" {
			return fmt.Errorf("mongo.url is required for the mongo storage backend")
		}
	case "sqlite", "postgres", "mysql":
		if c.Storage.SQLDSN == "" {
			return fmt.Errorf("sql.dsn is required for the %s storage backend", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	for _, p := range append([]string{c.LLM.Provider}, c.LLM.Fallback...) {
		if err := c.LLM.validateProvider(p); err != nil {
			return err
		}
	}

	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("llm.timeout must be positive")
	}
	if c.LLM.MaxOutputTokens < 0 || c.LLM.MaxOutputTokens > math.MaxInt32 {
		return fmt.Errorf("llm.max_output_tokens must be between 0 and %d", math.MaxInt32)
	}
	if c.Search.Limit <= 0 {
		c.Search.Limit = 10
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 5
	}
	return nil
}

func (c LLMConfig) validateProvider(p string) error {
	switch p {
	case "mock":
	case "gemini", "langchain":
		if c.GoogleAPIKey == "" {
			return fmt.Errorf("google.api_key is required for the %s provider", p)
		}
	case "vertex":
		if c.GCPProjectID == "" || c.GCPLocation == "" {
			return fmt.Errorf("gcp.project and gcp.location are required for the vertex provider")
		}
	case "openai":
		if c.OpenAIAPIKey == "" && c.OpenAIBaseURL == "" {
			return fmt.Errorf("openai.api_key is required for the openai provider")
		}
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("anthropic.api_key is required for the anthropic provider")
		}
	default:
		return fmt.Errorf("unknown llm provider %q", p)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
