package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the assistant.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string
	AllowAnyOrigin           bool
	LogLevel                 string
	LogFormat                string

	MemoryBackend        string
	MemoryFile           string
	MemoryDir            string
	MemoryMaxTurns       int
	MemoryMaxQueries     int
	MemoryContextTurns   int
	MemoryContextQueries int

	LLMProvider          string
	LLMBaseURL           string
	LLMAPIKey            string
	LLMModel             string
	LLMCLIPath           string
	LLMTimeout           time.Duration
	LLMRequestsPerMinute float64
	LLMMaxRetries        int
	GeminiAPIKey         string
	GeminiModel          string

	RetrievalBackend    string
	ChromaURL           string
	DatabaseURL         string
	RetrievalSQLitePath string
	RedisURL            string
	RetrievalCacheTTL   time.Duration
	EmbeddingModel      string
	CommandDocsK        int
	CommandDocsPrompt   int
	QueryDocsK          int

	QueryMaxRetries   int
	QueryDefaultLimit int
	TargetOS          string

	ShellTimeout         time.Duration
	OsqueryPath          string
	OsqueryTimeout       time.Duration
	OsqueryHealthTimeout time.Duration

	AuditDBPath string

	OutputMaxChars int
	TableMaxRows   int
	TableMaxCell   int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "lia"),
		AllowAnyOrigin:   false,
		LogLevel:         strings.ToLower(envOrDefault("APP_LOG_LEVEL", "info")),
		LogFormat:        strings.ToLower(envOrDefault("APP_LOG_FORMAT", "console")),

		MemoryBackend:        strings.ToLower(envOrDefault("MEMORY_BACKEND", "file")),
		MemoryFile:           envOrDefault("MEMORY_FILE", "lia_memory.json"),
		MemoryDir:            envOrDefault("MEMORY_DIR", "data/sessions"),
		MemoryMaxTurns:       50,
		MemoryMaxQueries:     20,
		MemoryContextTurns:   5,
		MemoryContextQueries: 3,

		LLMProvider:          strings.ToLower(envOrDefault("LLM_PROVIDER", "auto")),
		LLMBaseURL:           stringsTrimSpace("LLM_BASE_URL"),
		LLMAPIKey:            stringsTrimSpace("LLM_API_KEY"),
		LLMModel:             stringsTrimSpace("LLM_MODEL"),
		LLMCLIPath:           stringsTrimSpace("LLM_CLI_PATH"),
		LLMTimeout:           60 * time.Second,
		LLMRequestsPerMinute: 60,
		LLMMaxRetries:        2,
		GeminiAPIKey:         stringsTrimSpace("GEMINI_API_KEY"),
		GeminiModel:          envOrDefault("GEMINI_MODEL", "gemini-2.5-flash"),

		RetrievalBackend:    strings.ToLower(envOrDefault("RETRIEVAL_BACKEND", "auto")),
		ChromaURL:           stringsTrimSpace("CHROMA_URL"),
		DatabaseURL:         stringsTrimSpace("DATABASE_URL"),
		RetrievalSQLitePath: envOrDefault("RETRIEVAL_SQLITE_PATH", "data/retrieval.db"),
		RedisURL:            stringsTrimSpace("REDIS_URL"),
		RetrievalCacheTTL:   10 * time.Minute,
		EmbeddingModel:      envOrDefault("EMBEDDING_MODEL", "gemini-embedding-001"),
		CommandDocsK:        5,
		CommandDocsPrompt:   3,
		QueryDocsK:          3,

		QueryMaxRetries:   2,
		QueryDefaultLimit: 50,
		TargetOS:          stringsTrimSpace("TARGET_OS"),

		ShellTimeout:         30 * time.Second,
		OsqueryPath:          envOrDefault("OSQUERY_PATH", "osqueryi"),
		OsqueryTimeout:       30 * time.Second,
		OsqueryHealthTimeout: 5 * time.Second,

		AuditDBPath: stringsTrimSpace("AUDIT_DB_PATH"),

		OutputMaxChars: 1000,
		TableMaxRows:   50,
		TableMaxCell:   50,

		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 30 * time.Minute,
	}

	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"APP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"APP_SESSION_INACTIVITY_TIMEOUT", &cfg.SessionInactivityTimeout},
		{"LLM_TIMEOUT", &cfg.LLMTimeout},
		{"RETRIEVAL_CACHE_TTL", &cfg.RetrievalCacheTTL},
		{"SHELL_TIMEOUT", &cfg.ShellTimeout},
		{"OSQUERY_TIMEOUT", &cfg.OsqueryTimeout},
		{"OSQUERY_HEALTH_TIMEOUT", &cfg.OsqueryHealthTimeout},
	}
	for _, d := range durations {
		*d.dst, err = durationFromEnv(d.key, *d.dst)
		if err != nil {
			return Config{}, err
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"MEMORY_MAX_TURNS", &cfg.MemoryMaxTurns},
		{"MEMORY_MAX_QUERIES", &cfg.MemoryMaxQueries},
		{"MEMORY_CONTEXT_TURNS", &cfg.MemoryContextTurns},
		{"MEMORY_CONTEXT_QUERIES", &cfg.MemoryContextQueries},
		{"LLM_MAX_RETRIES", &cfg.LLMMaxRetries},
		{"COMMAND_DOCS_K", &cfg.CommandDocsK},
		{"COMMAND_DOCS_PROMPT", &cfg.CommandDocsPrompt},
		{"QUERY_DOCS_K", &cfg.QueryDocsK},
		{"QUERY_MAX_RETRIES", &cfg.QueryMaxRetries},
		{"QUERY_DEFAULT_LIMIT", &cfg.QueryDefaultLimit},
		{"OUTPUT_MAX_CHARS", &cfg.OutputMaxChars},
		{"TABLE_MAX_ROWS", &cfg.TableMaxRows},
		{"TABLE_MAX_CELL", &cfg.TableMaxCell},
	}
	for _, n := range ints {
		*n.dst, err = intFromEnv(n.key, *n.dst)
		if err != nil {
			return Config{}, err
		}
	}

	cfg.LLMRequestsPerMinute, err = floatFromEnv("LLM_REQUESTS_PER_MINUTE", cfg.LLMRequestsPerMinute)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.SessionInactivityTimeout < 5*time.Second {
		return fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if c.MemoryMaxTurns <= 0 {
		return fmt.Errorf("MEMORY_MAX_TURNS must be positive")
	}
	if c.MemoryMaxQueries <= 0 {
		return fmt.Errorf("MEMORY_MAX_QUERIES must be positive")
	}
	if c.MemoryContextTurns < 0 || c.MemoryContextTurns > c.MemoryMaxTurns {
		return fmt.Errorf("MEMORY_CONTEXT_TURNS must be between 0 and MEMORY_MAX_TURNS")
	}
	if c.MemoryContextQueries < 0 || c.MemoryContextQueries > c.MemoryMaxQueries {
		return fmt.Errorf("MEMORY_CONTEXT_QUERIES must be between 0 and MEMORY_MAX_QUERIES")
	}
	if c.LLMMaxRetries < 0 {
		return fmt.Errorf("LLM_MAX_RETRIES must be >= 0")
	}
	if c.LLMRequestsPerMinute < 0 {
		return fmt.Errorf("LLM_REQUESTS_PER_MINUTE must be >= 0")
	}
	if c.CommandDocsK <= 0 || c.QueryDocsK <= 0 {
		return fmt.Errorf("COMMAND_DOCS_K and QUERY_DOCS_K must be positive")
	}
	if c.CommandDocsPrompt <= 0 || c.CommandDocsPrompt > c.CommandDocsK {
		return fmt.Errorf("COMMAND_DOCS_PROMPT must be between 1 and COMMAND_DOCS_K")
	}
	if c.QueryMaxRetries < 0 {
		return fmt.Errorf("QUERY_MAX_RETRIES must be >= 0")
	}
	if c.QueryDefaultLimit <= 0 {
		return fmt.Errorf("QUERY_DEFAULT_LIMIT must be positive")
	}
	if c.ShellTimeout <= 0 || c.OsqueryTimeout <= 0 || c.OsqueryHealthTimeout <= 0 {
		return fmt.Errorf("execution timeouts must be positive")
	}
	if c.OutputMaxChars <= 0 || c.TableMaxRows <= 0 || c.TableMaxCell <= 3 {
		return fmt.Errorf("OUTPUT_MAX_CHARS and TABLE_MAX_ROWS must be positive, TABLE_MAX_CELL must exceed 3")
	}
	switch c.MemoryBackend {
	case "file":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("MEMORY_BACKEND=postgres requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("MEMORY_BACKEND must be file or postgres")
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("APP_LOG_FORMAT must be console or json")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
