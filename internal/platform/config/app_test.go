package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_CONFIG_FILE", "")
	t.Setenv("DATABASE_URL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "data/fault_knowledge.db", cfg.Database.URL)
	assert.Equal(t, "data/vector_index.bin", cfg.RAG.IndexPath)
	assert.Equal(t, "embedding-2", cfg.RAG.EmbeddingModel)
	assert.Equal(t, 1024, cfg.RAG.EmbeddingDims)
	assert.Equal(t, 3, cfg.RAG.DefaultTopK)
	assert.Equal(t, "glm-4.5", cfg.Generation.Model)
	assert.Equal(t, 0.7, cfg.Generation.Temperature)
	assert.Equal(t, "https://open.bigmodel.cn/api/paas/v4", cfg.OpenAI.BaseURL)
	assert.Empty(t, cfg.Redis.URL)
	assert.Empty(t, cfg.Auth.JWTSecret)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"database": {"url": "postgres://kb@localhost/kb"},
		"rag": {"default_top_k": 5, "index_path": "/var/lib/faultkb/index.bin"},
		"outbox": {"interval_seconds": 5}
	}`), 0o644))

	t.Setenv("APP_CONFIG_FILE", path)
	t.Setenv("RAG_DEFAULT_TOP_K", "7")
	t.Setenv("OPENAI_BASE_URL", "http://localhost:9999/v1/")
	t.Setenv("GENERATION_TEMPERATURE", "0.2")
	t.Setenv("OUTBOX_INTERVAL_SECONDS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://kb@localhost/kb", cfg.Database.URL)
	assert.Equal(t, "/var/lib/faultkb/index.bin", cfg.RAG.IndexPath)
	assert.Equal(t, 7, cfg.RAG.DefaultTopK)
	assert.Equal(t, "http://localhost:9999/v1", cfg.OpenAI.BaseURL)
	assert.Equal(t, 0.2, cfg.Generation.Temperature)
	assert.Equal(t, 5, cfg.Outbox.IntervalSeconds, "invalid env values are ignored")
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "dims", key: "RAG_EMBEDDING_DIMS", val: "-1"},
		{name: "temperature", key: "GENERATION_TEMPERATURE", val: "3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("APP_CONFIG_FILE", "")
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			assert.Error(t, err)
		})
	}

	t.Setenv("APP_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.json"))
	_, err := Load()
	assert.Error(t, err)
}
