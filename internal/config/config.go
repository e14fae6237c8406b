package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
)

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig     `json:"server"`
	Providers []ProviderConfig `json:"providers"`
	Database  DatabaseConfig   `json:"database"`
	Embedding EmbeddingConfig  `json:"embedding"`
	Chat      ChatConfig       `json:"chat"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type ProviderConfig struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Name     string `json:"name"`
	Endpoint string `json:"endpoint"`
	APIKey   string `json:"api_key"`
	Model    string `json:"model"`
	Fallback bool   `json:"fallback,omitempty"`
}

type DatabaseConfig struct {
	// Store selects the long-term conversation store: "postgres" or "redis".
	Store    string         `json:"store"`
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
	Qdrant   QdrantConfig   `json:"qdrant"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type QdrantConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Collection string `json:"collection"`
}

type EmbeddingConfig struct {
	Provider  string `json:"provider"` // "api" or "local"
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

type ChatConfig struct {
	HistoryLimit  int    `json:"history_limit"`  // conversation turns fed into each prompt
	CacheCapacity int    `json:"cache_capacity"` // session cache entries
	TopK          int    `json:"top_k"`          // fragments per retrieval
	DefaultHops   int    `json:"default_hops"`   // hops when the caller passes zero
	Model         string `json:"model"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Chat.HistoryLimit == 0 {
		c.Chat.HistoryLimit = 10
	}
	if c.Chat.CacheCapacity == 0 {
		c.Chat.CacheCapacity = 100
	}
	if c.Chat.TopK == 0 {
		c.Chat.TopK = 3
	}
	if c.Chat.DefaultHops == 0 {
		c.Chat.DefaultHops = 3
	}
	if c.Database.Qdrant.Collection == "" {
		c.Database.Qdrant.Collection = "fragments"
	}
}
