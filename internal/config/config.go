package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
)

// Config is loaded from the environment; everything except DATABASE_URL has
// a workable default.
type Config struct {
	Addr        string `env:"ADDR" envDefault:":8080"`
	DatabaseURL string `env:"DATABASE_URL,notEmpty"`
	StorageDir  string `env:"STORAGE_DIR" envDefault:"./storage"`

	MaxUploadBytes int64 `env:"MAX_UPLOAD_BYTES" envDefault:"52428800"`
	ThumbnailSizes []int `env:"THUMBNAIL_SIZES" envSeparator:"," envDefault:"512,128"`
	Workers        int   `env:"WORKERS" envDefault:"3"`
	QueueSize      int   `env:"QUEUE_SIZE" envDefault:"100"`

	// Semantic search is enabled when both model paths are set.
	ModelPath       string `env:"MODEL_PATH"`
	TokenizerPath   string `env:"TOKENIZER_PATH"`
	OnnxLibraryPath string `env:"ONNX_LIBRARY_PATH" envDefault:"./model/libonnxruntime.so"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(cfg.ThumbnailSizes) == 0 {
		return nil, fmt.Errorf("THUMBNAIL_SIZES must name at least one size")
	}
	for _, s := range cfg.ThumbnailSizes {
		if s <= 0 {
			return nil, fmt.Errorf("thumbnail size %d is not positive", s)
		}
	}
	return cfg, nil
}

// EmbeddingEnabled reports whether the semantic search model is configured.
func (c *Config) EmbeddingEnabled() bool {
	return c.ModelPath != "" && c.TokenizerPath != ""
}
