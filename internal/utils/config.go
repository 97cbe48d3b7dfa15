package utils

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ServerPort        string
	JWTSecret         string
	AuthDevBypass     bool
	TranscriptBackend string
	Postgres          PostgresConfig
	Mongo             MongoConfig
	Redis             RedisConfig
	Logging           LoggingConfig
	LLM               LLMConfig
	Moderation        ModerationConfig
	Relay             RelayConfig
}

type PostgresConfig struct {
	DSN               string
	Host              string
	Port              int
	User              string
	Password          string
	Database          string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	ConnectTimeout    time.Duration
}

type MongoConfig struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	CacheTTL time.Duration
}

type LoggingConfig struct {
	Level        string
	Encoding     string
	Development  bool
	EnableCaller bool
	ServiceName  string
}

// LLMConfig points at an OpenAI-compatible chat completions API.
type LLMConfig struct {
	PrimaryEndpoint string
	BackupEndpoint  string
	ActiveEndpoint  string
	APIKey          string
	Model           string
	Temperature     float32
	MaxTokens       int
	SystemPrompt    string
}

func (l LLMConfig) BaseURL() string {
	if strings.TrimSpace(l.ActiveEndpoint) != "" {
		return strings.TrimRight(l.ActiveEndpoint, "/")
	}
	return strings.TrimRight(l.PrimaryEndpoint, "/")
}

type ModerationConfig struct {
	Enabled       bool
	Mode          string
	Model         string
	Timeout       time.Duration
	PolicyMessage string
	Keywords      []string
}

type RelayConfig struct {
	ResolveTimeout time.Duration
	PersistTimeout time.Duration
	HistoryTurns   int
	KeepAlive      time.Duration
}

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
)

const defaultPolicyMessage = "I can't help with that request. If you are in crisis or thinking about harming yourself, please reach out to local emergency services or a crisis line right away."

func LoadConfig() (*Config, error) {
	port := envOrDefault("PORT", "8080")
	jwtSecret := envOrDefault("JWT_SECRET", "dev-secret")

	pgPort, _ := strconv.Atoi(envOrDefault("POSTGRES_PORT", "5433"))
	maxConns := parseInt32(envOrDefault("POSTGRES_MAX_CONNS", "8"), 8)
	minConns := parseInt32(envOrDefault("POSTGRES_MIN_CONNS", "1"), 1)

	logging := LoggingConfig{
		Level:        strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
		Encoding:     strings.ToLower(envOrDefault("LOG_ENCODING", "console")),
		Development:  parseBool(envOrDefault("LOG_DEVELOPMENT", "false"), false),
		EnableCaller: parseBool(envOrDefault("LOG_CALLER", "false"), false),
		ServiceName:  envOrDefault("SERVICE_NAME", "chatrelay-gateway"),
	}

	primaryEndpoint := envOrDefault("LLM_PRIMARY_ENDPOINT", "https://api.openai.com/v1")
	backupEndpoint := envOrDefault("LLM_BACKUP_ENDPOINT", "")
	apiKey := os.Getenv("LLM_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	cfg := &Config{
		ServerPort:        port,
		JWTSecret:         jwtSecret,
		AuthDevBypass:     parseBool(envOrDefault("AUTH_DEV_BYPASS", "false"), false),
		TranscriptBackend: strings.ToLower(envOrDefault("TRANSCRIPT_BACKEND", BackendMemory)),
		Postgres: PostgresConfig{
			DSN:               os.Getenv("POSTGRES_DSN"),
			Host:              envOrDefault("POSTGRES_HOST", "localhost"),
			Port:              pgPort,
			User:              envOrDefault("POSTGRES_USER", "postgres"),
			Password:          envOrDefault("POSTGRES_PASSWORD", "postgres"),
			Database:          envOrDefault("POSTGRES_DB", "postgres"),
			MaxConns:          maxConns,
			MinConns:          minConns,
			MaxConnLifetime:   parseDuration(envOrDefault("POSTGRES_MAX_CONN_LIFETIME", "1h"), time.Hour),
			MaxConnIdleTime:   parseDuration(envOrDefault("POSTGRES_MAX_CONN_IDLE", "30m"), 30*time.Minute),
			HealthCheckPeriod: parseDuration(envOrDefault("POSTGRES_HEALTH_CHECK_PERIOD", "1m"), time.Minute),
			ConnectTimeout:    parseDuration(envOrDefault("POSTGRES_CONNECT_TIMEOUT", "5s"), 5*time.Second),
		},
		Mongo: MongoConfig{
			URI:            envOrDefault("MONGO_URI", "mongodb://localhost:27017"),
			Database:       envOrDefault("MONGO_DATABASE", "chatrelay"),
			ConnectTimeout: parseDuration(envOrDefault("MONGO_CONNECT_TIMEOUT", "5s"), 5*time.Second),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       parseInt(envOrDefault("REDIS_DB", "0"), 0),
			CacheTTL: parseDuration(envOrDefault("MODERATION_CACHE_TTL", "10m"), 10*time.Minute),
		},
		Logging: logging,
		LLM: LLMConfig{
			PrimaryEndpoint: primaryEndpoint,
			BackupEndpoint:  backupEndpoint,
			ActiveEndpoint:  envOrDefault("LLM_BASE_URL", primaryEndpoint),
			APIKey:          apiKey,
			Model:           envOrDefault("LLM_MODEL", "gpt-4o-mini"),
			Temperature:     parseFloat32(envOrDefault("LLM_TEMPERATURE", "0.3"), 0.3),
			MaxTokens:       parseInt(envOrDefault("LLM_MAX_TOKENS", "0"), 0),
			SystemPrompt:    envOrDefault("LLM_SYSTEM_PROMPT", "You are a helpful assistant."),
		},
		Moderation: ModerationConfig{
			Enabled:       parseBool(envOrDefault("MODERATION_ENABLED", "true"), true),
			Mode:          strings.ToLower(envOrDefault("MODERATION_MODE", "best_effort")),
			Model:         envOrDefault("MODERATION_MODEL", "omni-moderation-latest"),
			Timeout:       parseDuration(envOrDefault("MODERATION_TIMEOUT", "3s"), 3*time.Second),
			PolicyMessage: envOrDefault("MODERATION_POLICY_MESSAGE", defaultPolicyMessage),
			Keywords:      parseList(os.Getenv("MODERATION_KEYWORDS")),
		},
		Relay: RelayConfig{
			ResolveTimeout: parseDuration(envOrDefault("RELAY_RESOLVE_TIMEOUT", "2s"), 2*time.Second),
			PersistTimeout: parseDuration(envOrDefault("RELAY_PERSIST_TIMEOUT", "5s"), 5*time.Second),
			HistoryTurns:   parseInt(envOrDefault("RELAY_HISTORY_TURNS", "20"), 20),
			KeepAlive:      parseDuration(envOrDefault("RELAY_KEEPALIVE", "15s"), 15*time.Second),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.TranscriptBackend {
	case BackendMemory, BackendPostgres, BackendMongo:
	default:
		return fmt.Errorf("config: unsupported TRANSCRIPT_BACKEND %q", c.TranscriptBackend)
	}

	switch c.Moderation.Mode {
	case "best_effort", "enforced":
	default:
		return fmt.Errorf("config: unsupported MODERATION_MODE %q", c.Moderation.Mode)
	}

	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("config: JWT_SECRET must not be empty")
	}

	return nil
}

func (c PostgresConfig) BuildDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", c.User, c.Password, c.Host, c.Port, c.Database)
}

func envOrDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt32(value string, fallback int32) int32 {
	i, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return int32(i)
}

func parseInt(value string, fallback int) int {
	i, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || i < 0 {
		return fallback
	}
	return i
}

func parseFloat32(value string, fallback float32) float32 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 32)
	if err != nil {
		return fallback
	}
	return float32(f)
}

func parseBool(value string, fallback bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return v
}

func parseList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';'
	})

	cleaned := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return cleaned
}
