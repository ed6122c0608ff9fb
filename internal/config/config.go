// Package config loads academick.toml with environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	LLM       LLMConfig       `toml:"llm"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Intent    IntentConfig    `toml:"intent"`
	Ingest    IngestConfig    `toml:"ingest"`
	Jobs      JobsConfig      `toml:"jobs"`
	Search    SearchConfig    `toml:"search"`
	Cache     CacheConfig     `toml:"cache"`
	Observer  ObserverConfig  `toml:"observer"`
	Log       LogConfig       `toml:"log"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type DatabaseConfig struct {
	Driver string `toml:"driver"` // "sqlite" or "postgres"
	Path   string `toml:"path"`
	DSN    string `toml:"dsn"`
}

// LLMConfig points at an OpenAI-compatible chat endpoint. An empty APIKey
// disables LLM chapter detection and query enhancement.
type LLMConfig struct {
	BaseURL string        `toml:"base_url"`
	Model   string        `toml:"model"`
	APIKey  string        `toml:"api_key"`
	Name    string        `toml:"name"`
	Timeout time.Duration `toml:"timeout"`
	RPM     int           `toml:"rpm"` // 0 disables
	TPM     int           `toml:"tpm"` // 0 disables
}

type EmbeddingConfig struct {
	Provider   string        `toml:"provider"` // "service" or "openai"
	URL        string        `toml:"url"`
	Model      string        `toml:"model"`
	APIKey     string        `toml:"api_key"`
	Dimensions int           `toml:"dimensions"`
	Timeout    time.Duration `toml:"timeout"`
}

type IntentConfig struct {
	Provider string        `toml:"provider"` // "service", "llm" or "none"
	URL      string        `toml:"url"`
	Timeout  time.Duration `toml:"timeout"`
}

type IngestConfig struct {
	SentenceChunkSize    int           `toml:"sentence_chunk_size"`
	SentenceChunkOverlap int           `toml:"sentence_chunk_overlap"`
	WindowChunkSize      int           `toml:"window_chunk_size"`
	WindowChunkOverlap   int           `toml:"window_chunk_overlap"`
	MinChunkLength       int           `toml:"min_chunk_length"`
	MaxPeriodRatio       float64       `toml:"max_period_ratio"`
	EmbedBatchSize       int           `toml:"embed_batch_size"`
	Workers              int           `toml:"workers"`
	PollInterval         time.Duration `toml:"poll_interval"`
	UploadDir            string        `toml:"upload_dir"`
	MaxUploadMB          int           `toml:"max_upload_mb"`
	DetectTimeout        time.Duration `toml:"detect_timeout"`
}

type JobsConfig struct {
	TTL        time.Duration `toml:"ttl"`
	MaxVisible int           `toml:"max_visible"`
}

type SearchConfig struct {
	PrefilterK         int           `toml:"prefilter_k"`
	TopNSearch         int           `toml:"top_n_search"`
	TopNDefault        int           `toml:"top_n_default"`
	BookMatchThreshold float64       `toml:"book_match_threshold"`
	EnhanceTimeout     time.Duration `toml:"enhance_timeout"`
	IntentTimeout      time.Duration `toml:"intent_timeout"`
	EmbedTimeout       time.Duration `toml:"embed_timeout"`
}

type CacheConfig struct {
	Enabled  bool          `toml:"enabled"`
	Addr     string        `toml:"addr"`
	Password string        `toml:"password"`
	DB       int           `toml:"db"`
	TTL      time.Duration `toml:"ttl"`
}

type ObserverConfig struct {
	Enabled     bool                       `toml:"enabled"`
	ServiceName string                     `toml:"service_name"`
	Pricing     map[string]ObserverPricing `toml:"pricing"`
}

type ObserverPricing struct {
	Input  float64 `toml:"input"`
	Output float64 `toml:"output"`
}

type LogConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // text or json
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Server:    ServerConfig{Addr: ":8000"},
		Database:  DatabaseConfig{Driver: "sqlite", Path: "academick.db"},
		LLM:       LLMConfig{BaseURL: "https://api.groq.com/openai/v1", Model: "llama-3.1-8b-instant", Name: "groq", Timeout: 60 * time.Second},
		Embedding: EmbeddingConfig{Provider: "service", URL: "http://localhost:8002", Model: "bge-m3", Timeout: 60 * time.Second},
		Intent:    IntentConfig{Provider: "service", URL: "http://localhost:8001", Timeout: 10 * time.Second},
		Ingest: IngestConfig{
			SentenceChunkSize:    3000,
			SentenceChunkOverlap: 1000,
			WindowChunkSize:      512,
			WindowChunkOverlap:   50,
			MinChunkLength:       300,
			MaxPeriodRatio:       0.02,
			EmbedBatchSize:       32,
			Workers:              2,
			PollInterval:         time.Second,
			UploadDir:            "uploads",
			MaxUploadMB:          100,
			DetectTimeout:        60 * time.Second,
		},
		Jobs: JobsConfig{TTL: 12 * time.Hour, MaxVisible: 10},
		Search: SearchConfig{
			PrefilterK:         50,
			TopNSearch:         10,
			TopNDefault:        6,
			BookMatchThreshold: 0.6,
			EnhanceTimeout:     30 * time.Second,
			IntentTimeout:      10 * time.Second,
			EmbedTimeout:       30 * time.Second,
		},
		Cache:    CacheConfig{Addr: "localhost:6379", TTL: time.Hour},
		Observer: ObserverConfig{ServiceName: "academick"},
		Log:      LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins). A
// missing file is not an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = "academick.toml"
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("read config: %w", err)
	default:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	str("ACADEMICK_ADDR", &cfg.Server.Addr)
	str("ACADEMICK_DB_DRIVER", &cfg.Database.Driver)
	str("ACADEMICK_DB_PATH", &cfg.Database.Path)
	str("ACADEMICK_DATABASE_URL", &cfg.Database.DSN)
	str("ACADEMICK_LLM_BASE_URL", &cfg.LLM.BaseURL)
	str("ACADEMICK_LLM_MODEL", &cfg.LLM.Model)
	str("ACADEMICK_LLM_API_KEY", &cfg.LLM.APIKey)
	str("ACADEMICK_EMBEDDING_URL", &cfg.Embedding.URL)
	str("ACADEMICK_EMBEDDING_API_KEY", &cfg.Embedding.APIKey)
	str("ACADEMICK_INTENT_URL", &cfg.Intent.URL)
	str("ACADEMICK_UPLOAD_DIR", &cfg.Ingest.UploadDir)
	str("ACADEMICK_REDIS_ADDR", &cfg.Cache.Addr)
	str("ACADEMICK_REDIS_PASSWORD", &cfg.Cache.Password)
	str("ACADEMICK_LOG_LEVEL", &cfg.Log.Level)
	str("ACADEMICK_LOG_FORMAT", &cfg.Log.Format)

	if v := os.Getenv("ACADEMICK_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ingest.Workers = n
		}
	}
	if v, ok := envBool("ACADEMICK_CACHE_ENABLED"); ok {
		cfg.Cache.Enabled = v
	}
	if v, ok := envBool("ACADEMICK_OBSERVER_ENABLED"); ok {
		cfg.Observer.Enabled = v
	}

	// Fallbacks
	if cfg.Embedding.Provider == "openai" && cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = cfg.LLM.APIKey
	}
}

func envBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

// Validate rejects settings the rest of the program cannot start with.
func (c Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, errors.New("database.path is required for sqlite"))
		}
	case "postgres":
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver %q: want sqlite or postgres", c.Database.Driver))
	}
	switch c.Embedding.Provider {
	case "service", "openai":
	default:
		errs = append(errs, fmt.Errorf("embedding.provider %q: want service or openai", c.Embedding.Provider))
	}
	switch c.Intent.Provider {
	case "service", "llm", "none":
	default:
		errs = append(errs, fmt.Errorf("intent.provider %q: want service, llm or none", c.Intent.Provider))
	}
	if c.Ingest.Workers < 1 {
		errs = append(errs, errors.New("ingest.workers must be at least 1"))
	}
	if c.Ingest.MaxUploadMB < 1 {
		errs = append(errs, errors.New("ingest.max_upload_mb must be at least 1"))
	}
	return errors.Join(errs...)
}

// MaxUploadBytes returns the upload limit in bytes.
func (c IngestConfig) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}
