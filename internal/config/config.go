// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Port string `env:"PORT" envDefault:"8090"`

	// Storage
	DBPath      string `env:"DB_PATH" envDefault:"minefanren.db"`
	VectorDir   string `env:"VECTOR_DIR" envDefault:"vectors"`
	ResultsPath string `env:"RESULTS_PATH" envDefault:"extractions.jsonl"`

	// Auth
	APIKey string `env:"MINEFANREN_API_KEY"`

	// LLM extraction endpoint (OpenAI-compatible). All three are required
	// for extraction and validation work.
	LLMBaseURL string        `env:"LLM_BASE_URL"`
	LLMAPIKey  string        `env:"LLM_API_KEY"`
	LLMModel   string        `env:"LLM_MODEL"`
	LLMTimeout time.Duration `env:"LLM_TIMEOUT" envDefault:"60s"`

	// Embeddings endpoint. Falls back to the LLM endpoint when unset.
	EmbeddingBaseURL string `env:"EMBEDDING_BASE_URL"`
	EmbeddingAPIKey  string `env:"EMBEDDING_API_KEY"`
	EmbeddingModel   string `env:"EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`

	// Worker pool
	WorkerCount      int `env:"WORKER_COUNT" envDefault:"4"`
	MaxQueueSize     int `env:"MAX_QUEUE_SIZE" envDefault:"100"`
	MaxConcurrentLLM int `env:"MAX_CONCURRENT_LLM" envDefault:"5"`

	// Upload limits
	MaxUploadBytes int64 `env:"MAX_UPLOAD_BYTES" envDefault:"52428800"`

	// Tokenizer
	TokenEncoding string `env:"TOKEN_ENCODING" envDefault:"cl100k_base"`

	// Job state
	JobTTL time.Duration `env:"JOB_TTL" envDefault:"1h"`

	// PDF
	PDFFallbackPdftotext bool `env:"PDF_FALLBACK_PDFTOTEXT" envDefault:"true"`
}

// Load reads .env when present, then the process environment.
func Load() (Config, error) {
	return LoadFrom("")
}

// LoadFrom reads the named dotenv file before the process environment.
// An empty name falls back to .env in the working directory, which may
// be absent.
func LoadFrom(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	} else {
		_ = godotenv.Load()
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 100
	}
	if cfg.MaxConcurrentLLM <= 0 {
		cfg.MaxConcurrentLLM = 5
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 52428800
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = 1 * time.Hour
	}
	if cfg.EmbeddingBaseURL == "" {
		cfg.EmbeddingBaseURL = cfg.LLMBaseURL
	}
	if cfg.EmbeddingAPIKey == "" {
		cfg.EmbeddingAPIKey = cfg.LLMAPIKey
	}

	return cfg, nil
}

// Validate checks the settings the server cannot run without.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("MINEFANREN_API_KEY is required")
	}
	if err := c.ValidateLLM(); err != nil {
		return err
	}
	return nil
}

// ValidateLLM checks the settings extraction and validation need.
func (c Config) ValidateLLM() error {
	if c.LLMBaseURL == "" {
		return fmt.Errorf("LLM_BASE_URL is required")
	}
	if c.LLMAPIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required")
	}
	if c.LLMModel == "" {
		return fmt.Errorf("LLM_MODEL is required")
	}
	return nil
}
