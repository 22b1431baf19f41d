package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/picstash")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "./storage", cfg.StorageDir)
	assert.Equal(t, int64(52428800), cfg.MaxUploadBytes)
	assert.Equal(t, []int{512, 128}, cfg.ThumbnailSizes)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, 100, cfg.QueueSize)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.False(t, cfg.EmbeddingEnabled())
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/picstash")
	t.Setenv("ADDR", ":9000")
	t.Setenv("THUMBNAIL_SIZES", "256,100")
	t.Setenv("WORKERS", "5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, []int{256, 100}, cfg.ThumbnailSizes)
	assert.Equal(t, 5, cfg.Workers)
}

func TestLoadRejectsBadThumbnailSize(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/picstash")
	t.Setenv("THUMBNAIL_SIZES", "512,-1")

	_, err := Load()
	assert.Error(t, err)
}

func TestEmbeddingEnabled(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/picstash")
	t.Setenv("MODEL_PATH", "./model/model.onnx")
	t.Setenv("TOKENIZER_PATH", "./model/tokenizer.json")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.EmbeddingEnabled())
}
