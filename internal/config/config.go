package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Auth        AuthConfig                `json:"auth"`
	Completion  CompletionConfig          `json:"completion"`
	Index       IndexConfig               `json:"index"`
}

type BasicConfig struct {
	ServerAddress         string `json:"server_address"`
	ProductsPath          string `json:"products_path"`
	RetrievalTopK         int    `json:"retrieval_top_k"`
	CompletionTimeoutSecs int    `json:"completion_timeout_secs"`
	ContextCacheTTLSecs   int    `json:"context_cache_ttl_secs"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type AuthConfig struct {
	SecretEnv       string `json:"secret_env"`
	TokenTTLMinutes int    `json:"token_ttl_minutes"`
}

type CompletionConfig struct {
	BaseURL   string `json:"base_url"`
	Model     string `json:"model"`
	APIKeyEnv string `json:"api_key_env"`
	Referer   string `json:"referer"`
}

// IndexConfig selects the similarity index components.
type IndexConfig struct {
	Store    string                `json:"store"`    // memory or qdrant
	Embedder string                `json:"embedder"` // tfidf or openai
	Qdrant   *QdrantConfig         `json:"qdrant,omitempty"`
	OpenAI   *OpenAIEmbedderConfig `json:"openai,omitempty"`
}

type QdrantConfig struct {
	URL         string `json:"url"`
	APIKey      string `json:"api_key"`
	Collection  string `json:"collection"`
	TimeoutSecs int    `json:"timeout_secs"`
}

type OpenAIEmbedderConfig struct {
	BaseURL     string `json:"base_url"`
	APIKeyEnv   string `json:"api_key_env"`
	Model       string `json:"model"`
	TimeoutSecs int    `json:"timeout_secs"`
}

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.BasicConfig.ServerAddress == "" {
		cfg.BasicConfig.ServerAddress = ":8090"
	}
	if cfg.BasicConfig.RetrievalTopK <= 0 {
		cfg.BasicConfig.RetrievalTopK = 4
	}
	if cfg.BasicConfig.CompletionTimeoutSecs <= 0 {
		cfg.BasicConfig.CompletionTimeoutSecs = 60
	}
	if cfg.BasicConfig.ContextCacheTTLSecs <= 0 {
		cfg.BasicConfig.ContextCacheTTLSecs = 300
	}
	if cfg.Auth.SecretEnv == "" {
		cfg.Auth.SecretEnv = "SHOPCHAT_JWT_SECRET"
	}
	if cfg.Auth.TokenTTLMinutes <= 0 {
		cfg.Auth.TokenTTLMinutes = 60
	}
	if cfg.Completion.BaseURL == "" {
		cfg.Completion.BaseURL = "https://openrouter.ai/api/v1"
	}
	if cfg.Completion.Model == "" {
		cfg.Completion.Model = "deepseek/deepseek-chat"
	}
	if cfg.Completion.APIKeyEnv == "" {
		cfg.Completion.APIKeyEnv = "OPENROUTER_API_KEY"
	}
	if cfg.Index.Store == "" {
		cfg.Index.Store = "memory"
	}
	if cfg.Index.Embedder == "" {
		cfg.Index.Embedder = "tfidf"
	}
	if cfg.Index.Embedder == "openai" && cfg.Index.OpenAI != nil {
		if cfg.Index.OpenAI.BaseURL == "" {
			cfg.Index.OpenAI.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Index.OpenAI.APIKeyEnv == "" {
			cfg.Index.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.Index.OpenAI.Model == "" {
			cfg.Index.OpenAI.Model = "text-embedding-3-small"
		}
		if cfg.Index.OpenAI.TimeoutSecs == 0 {
			cfg.Index.OpenAI.TimeoutSecs = 30
		}
	}
}
