// Package config provides configuration management for the arena engine.
//
// Configuration Loading Order:
// 1. Load from .env file (if exists)
// 2. Read environment variables, falling back to defaults
//
// Data directory priority (highest to lowest):
// 1. dataDirOverride argument passed to Load (if provided)
// 2. ARENA_DATA_DIR environment variable
// 3. "./data" (default)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/aristath/arena-engine/internal/utils"
)

// ModelConfig is one agent's entry in arena.models[].
type ModelConfig struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
	Color    string `json:"color"`
	Enabled  bool   `json:"enabled"`

	// APIKey authenticates this agent's LLM endpoint. Optional: falls back
	// to ARENA_LLM_API_KEY_<ID> (this model's ID) when empty.
	APIKey string `json:"-"`
}

// Config holds the arena engine's runtime configuration.
type Config struct {
	DataDir  string
	Port     int
	DevMode  bool
	LogLevel string

	InitialCapital       float64
	StartDate            string // YYYYMMDD
	EndDate              string // YYYYMMDD
	StopLossPct          float64
	StopProfitPct        float64
	MaxHoldings          int
	MaxPrice             float64
	AnalyzeStockCount    int
	MinCashToBuy         float64
	AIConfidenceThreshold float64
	EnableReflection     bool
	ReflectionInterval   int

	PrimaryTimeout time.Duration // per-day barrier wait before marking agents severely timed out
	GraceTimeout   time.Duration // additional wait for stragglers past PrimaryTimeout

	Models []ModelConfig

	R2BackupEnabled  bool
	R2Bucket         string
	R2Endpoint       string
	R2AccessKey      string
	R2SecretKey      string

	// MarketDataBaseURL/APIKey address the external OHLC/calendar/hot-pool
	// feed (spec's market-data fetch protocol is explicitly out of scope;
	// this is just where to reach it).
	MarketDataBaseURL string
	MarketDataAPIKey  string

	// CandidateWhitelistPath is a newline-delimited file of stock codes to
	// fall back to when the hot candidate pool can't be built for a date.
	CandidateWhitelistPath string

	// LLMBaseURLByProvider overrides the default endpoint for a provider
	// name (openai, anthropic, deepseek, ...), e.g. for an OpenAI-compatible
	// proxy. Unset providers use their well-known default base URL.
	LLMBaseURLByProvider map[string]string
}

// Load reads configuration from the environment, applying defaults for
// anything unset. dataDirOverride, if non-empty, takes priority over
// ARENA_DATA_DIR.
func Load(dataDirOverride ...string) (*Config, error) {
	_ = godotenv.Load()

	var dataDir string
	if len(dataDirOverride) > 0 && dataDirOverride[0] != "" {
		dataDir = dataDirOverride[0]
	} else {
		dataDir = getEnv("ARENA_DATA_DIR", "./data")
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("GO_PORT", 8001),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		InitialCapital:        getEnvAsFloat("ARENA_INITIAL_CAPITAL", 100000),
		StartDate:             normalizeDate(getEnv("ARENA_START_DATE", "")),
		EndDate:               normalizeDate(getEnv("ARENA_END_DATE", "")),
		StopLossPct:           getEnvAsFloat("ARENA_STOP_LOSS_PCT", 8),
		StopProfitPct:         getEnvAsFloat("ARENA_STOP_PROFIT_PCT", 20),
		MaxHoldings:           getEnvAsInt("ARENA_MAX_HOLDINGS", 5),
		MaxPrice:              getEnvAsFloat("ARENA_MAX_PRICE", 0),
		AnalyzeStockCount:     getEnvAsInt("ARENA_ANALYZE_STOCK_COUNT", 10),
		MinCashToBuy:          getEnvAsFloat("ARENA_MIN_CASH_TO_BUY", 5000),
		AIConfidenceThreshold: getEnvAsFloat("ARENA_AI_CONFIDENCE_THRESHOLD", 0.6),
		EnableReflection:      getEnvAsBool("ARENA_ENABLE_REFLECTION", true),
		ReflectionInterval:    getEnvAsInt("ARENA_REFLECTION_INTERVAL", 5),

		PrimaryTimeout: time.Duration(getEnvAsInt("ARENA_PRIMARY_TIMEOUT_SECONDS", 600)) * time.Second,
		GraceTimeout:   time.Duration(getEnvAsInt("ARENA_GRACE_TIMEOUT_SECONDS", 300)) * time.Second,

		Models: parseModels(getEnv("ARENA_MODELS", "")),

		R2BackupEnabled: getEnvAsBool("R2_BACKUP_ENABLED", false),
		R2Bucket:        getEnv("R2_BUCKET", ""),
		R2Endpoint:      getEnv("R2_ENDPOINT", ""),
		R2AccessKey:     getEnv("R2_ACCESS_KEY_ID", ""),
		R2SecretKey:     getEnv("R2_SECRET_ACCESS_KEY", ""),

		MarketDataBaseURL:      getEnv("ARENA_MARKET_DATA_URL", ""),
		MarketDataAPIKey:       getEnv("ARENA_MARKET_DATA_API_KEY", ""),
		CandidateWhitelistPath: getEnv("ARENA_WHITELIST_PATH", ""),
		LLMBaseURLByProvider:   parseProviderURLs(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks internal consistency of a loaded configuration.
func (c *Config) Validate() error {
	if c.InitialCapital <= 0 {
		return fmt.Errorf("initial_capital must be positive, got %v", c.InitialCapital)
	}
	if c.StartDate != "" && c.EndDate != "" && c.StartDate > c.EndDate {
		return fmt.Errorf("start_date %s is after end_date %s", c.StartDate, c.EndDate)
	}
	if len(c.Models) == 0 {
		return fmt.Errorf("no agents configured: set ARENA_MODELS as id:name:provider:color,...")
	}
	return nil
}

// normalizeDate accepts YYYYMMDD or YYYY-MM-DD and returns the canonical
// YYYYMMDD form persisted everywhere downstream.
func normalizeDate(s string) string {
	return strings.ReplaceAll(s, "-", "")
}

// parseModels parses "id:name:provider:color:apikey,..." into ModelConfig
// entries (apikey is optional). Every parsed entry defaults to enabled.
func parseModels(raw string) []ModelConfig {
	entries := utils.ParseCSV(raw)
	if entries == nil {
		return nil
	}
	var models []ModelConfig
	for _, entry := range entries {
		parts := strings.Split(entry, ":")
		m := ModelConfig{Enabled: true}
		if len(parts) > 0 {
			m.ID = parts[0]
		}
		if len(parts) > 1 {
			m.Name = parts[1]
		}
		if len(parts) > 2 {
			m.Provider = parts[2]
		}
		if len(parts) > 3 {
			m.Color = parts[3]
		}
		if len(parts) > 4 {
			m.APIKey = parts[4]
		}
		models = append(models, m)
	}
	return models
}

// parseProviderURLs reads ARENA_LLM_BASE_URL_<PROVIDER> overrides, e.g.
// ARENA_LLM_BASE_URL_OPENAI=https://my-proxy/v1.
func parseProviderURLs() map[string]string {
	urls := map[string]string{}
	for _, provider := range []string{"openai", "anthropic", "deepseek", "qwen", "moonshot"} {
		key := "ARENA_LLM_BASE_URL_" + strings.ToUpper(provider)
		if v := getEnv(key, ""); v != "" {
			urls[provider] = v
		}
	}
	return urls
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
