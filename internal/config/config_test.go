package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/chatsum/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load(config.New())
	require.NoError(t, err)

	assert.Equal(t, config.ModeLocal, cfg.Mode)
	assert.Equal(t, "8000", cfg.Port)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, "chat_summarization", cfg.Storage.Database)
	assert.Equal(t, "mock", cfg.LLM.Provider)
	assert.Equal(t, "gemini-2.5-flash", cfg.LLM.Model)
	assert.InDelta(t, 0.3, cfg.LLM.Temperature, 1e-9)
	assert.Equal(t, 60*time.Second, cfg.LLM.Timeout)
	assert.False(t, cfg.Search.CaseSensitive)
	assert.Equal(t, 10, cfg.Search.Limit)
	assert.Equal(t, 5, cfg.HistoryLimit)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CHATSUM_STORAGE_BACKEND", "sqlite")
	t.Setenv("CHATSUM_SQL_DSN", "/tmp/test.db")
	t.Setenv("CHATSUM_SEARCH_CASE_SENSITIVE", "true")
	t.Setenv("CHATSUM_LLM_TIMEOUT", "5s")
	t.Setenv("CHATSUM_LLM_FALLBACK", "mock, Mock")

	cfg, err := config.Load(config.New())
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, "/tmp/test.db", cfg.Storage.SQLDSN)
	assert.True(t, cfg.Search.CaseSensitive)
	assert.Equal(t, 5*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, []string{"mock", "mock"}, cfg.LLM.Fallback)
}

func TestLegacyEnvAliases(t *testing.T) {
	t.Setenv("CHATSUM_STORAGE_BACKEND", "mongo")
	t.Setenv("MONGODB_URL", "mongodb://db:27017")
	t.Setenv("DATABASE_NAME", "chats")
	t.Setenv("GOOGLE_API_KEY", "key")
	t.Setenv("CHATSUM_LLM_PROVIDER", "gemini")
	t.Setenv("API_PORT", "9000")

	cfg, err := config.Load(config.New())
	require.NoError(t, err)

	assert.Equal(t, "mongodb://db:27017", cfg.Storage.MongoURL)
	assert.Equal(t, "chats", cfg.Storage.Database)
	assert.Equal(t, "key", cfg.LLM.GoogleAPIKey)
	assert.Equal(t, "9000", cfg.Port)
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			name: "unknown backend",
			env:  map[string]string{"CHATSUM_STORAGE_BACKEND": "redis"},
			want: "unknown storage backend",
		},
		{
			name: "firestore without project",
			env:  map[string]string{"CHATSUM_STORAGE_BACKEND": "firestore"},
			want: "gcp.project",
		},
		{
			name: "gemini without key",
			env:  map[string]string{"CHATSUM_LLM_PROVIDER": "gemini"},
			want: "google.api_key",
		},
		{
			name: "unknown fallback provider",
			env:  map[string]string{"CHATSUM_LLM_FALLBACK": "cohere"},
			want: "unknown llm provider",
		},
		{
			name: "zero llm timeout",
			env:  map[string]string{"CHATSUM_LLM_TIMEOUT": "0s"},
			want: "llm.timeout must be positive",
		},
		{
			name: "max output tokens overflow",
			env:  map[string]string{"CHATSUM_LLM_MAX_OUTPUT_TOKENS": "3000000000"},
			want: "llm.max_output_tokens",
		},
		{
			name: "gcp mode without project",
			env:  map[string]string{"CHATSUM_MODE": "gcp"},
			want: "gcp.project must be set",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := config.Load(config.New())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestGCPModeDefaultsToVertex(t *testing.T) {
	t.Setenv("CHATSUM_MODE", "gcp")
	t.Setenv("CHATSUM_GCP_PROJECT", "proj")

	cfg, err := config.Load(config.New())
	require.NoError(t, err)
	assert.Equal(t, config.ModeGCP, cfg.Mode)
	assert.Equal(t, "vertex", cfg.LLM.Provider)
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatsum.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: \"7000\"\nsearch:\n  limit: 3\n"), 0o600))

	v := config.New()
	require.NoError(t, config.ReadFile(v, path))

	cfg, err := config.Load(v)
	require.NoError(t, err)
	assert.Equal(t, "7000", cfg.Port)
	assert.Equal(t, 3, cfg.Search.Limit)

	assert.Error(t, config.ReadFile(config.New(), filepath.Join(t.TempDir(), "missing.yaml")))
}
