package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Supported answer-generation providers.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
)

// Config holds all configuration values.
type Config struct {
	// Assistant endpoint
	AssistantURL   string
	AssistantToken string
	UserID         string
	HistoryLimit   int

	// SurrealDB connection (assistd's message log)
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string

	// Answer generation (assistd)
	LLMProvider     string
	LLMModel        string
	OllamaHost      string
	OpenAIAPIKey    string
	AnthropicAPIKey string

	// assistd HTTP surface
	ListenAddr string

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// fileConfig is the optional ~/.fleetpilot.yaml; environment variables
// override every field.
type fileConfig struct {
	AssistantURL   string `yaml:"assistant_url"`
	AssistantToken string `yaml:"assistant_token"`
	UserID         string `yaml:"user_id"`
	HistoryLimit   int    `yaml:"history_limit"`
	LLMProvider    string `yaml:"llm_provider"`
	LLMModel       string `yaml:"llm_model"`
	LogFile        string `yaml:"log_file"`
	LogLevel       string `yaml:"log_level"`
}

// Load reads configuration: defaults, then ~/.fleetpilot.yaml, then a .env
// file in the working directory, then real environment variables.
func Load() Config {
	// Missing .env is the normal case.
	_ = godotenv.Load()

	fc := loadFile()

	cfg := Config{
		AssistantURL:   getEnv("FLEETPILOT_ASSISTANT_URL", pick(fc.AssistantURL, "http://localhost:8787")),
		AssistantToken: getEnv("FLEETPILOT_TOKEN", fc.AssistantToken),
		UserID:         getEnv("FLEETPILOT_USER_ID", fc.UserID),
		HistoryLimit:   getEnvInt("FLEETPILOT_HISTORY_LIMIT", pickInt(fc.HistoryLimit, 50)),

		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "fleet"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "assistant"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),

		LLMProvider:     getEnv("FLEETPILOT_LLM_PROVIDER", pick(fc.LLMProvider, ProviderOllama)),
		LLMModel:        getEnv("FLEETPILOT_LLM_MODEL", fc.LLMModel),
		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),

		ListenAddr: getEnv("FLEETPILOT_LISTEN_ADDR", ":8787"),

		LogFile:  getEnv("FLEETPILOT_LOG_FILE", pick(fc.LogFile, "/tmp/fleetpilot.log")),
		LogLevel: parseLogLevel(getEnv("FLEETPILOT_LOG_LEVEL", pick(fc.LogLevel, "INFO"))),
	}
	return cfg
}

// loadFile reads ~/.fleetpilot.yaml if present. A malformed file is
// ignored rather than fatal; env variables still apply.
func loadFile() fileConfig {
	var fc fileConfig
	home, err := os.UserHomeDir()
	if err != nil {
		return fc
	}
	data, err := os.ReadFile(filepath.Join(home, ".fleetpilot.yaml"))
	if err != nil {
		return fc
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		slog.Warn("ignoring malformed config file", "error", err)
		return fileConfig{}
	}
	return fc
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			return n
		}
	}
	return defaultVal
}

func pick(val, defaultVal string) string {
	if val != "" {
		return val
	}
	return defaultVal
}

func pickInt(val, defaultVal int) int {
	if val > 0 {
		return val
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
