package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DatabaseURL   string
	RunMigrations bool
	LogLevel      string
	Debug         bool
	ServiceName   string
	Environment   string
	Hostname      string
	ServerPort    string
	WorkerCount   int
	BatchSize     int

	RedisURL      string
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	QuietPeriod     time.Duration
	BufferTTL       time.Duration
	BufferKeySuffix string

	EvolutionBaseURL  string
	EvolutionAPIKey   string
	EvolutionInstance string
	SendReplies       bool

	PythonAIURL string

	AdminAPIKey    string
	AllowedOrigins []string
	AgentRefresh   time.Duration
}

func LoadConfig() (*Config, error) {
	databaseUrl := os.Getenv("DATABASE_URL")
	if databaseUrl == "" {
		return nil, errors.New("DATABASE_URL is required")
	}

	quietMs := intEnv("QUIET_PERIOD_MS", 10000)
	if quietMs <= 0 {
		return nil, errors.New("QUIET_PERIOD_MS must be positive")
	}

	bufferTTL := intEnv("BUFFER_TTL_SECONDS", 3600)
	if bufferTTL <= 0 {
		return nil, errors.New("BUFFER_TTL_SECONDS must be positive")
	}

	redisDB := intEnv("REDIS_DB", 0)
	if redisDB < 0 {
		return nil, errors.New("REDIS_DB must not be negative")
	}

	return &Config{
		DatabaseURL:   databaseUrl,
		RunMigrations: boolEnv("RUN_MIGRATIONS", false),
		LogLevel:      stringEnv("LOG_LEVEL", "info"),
		Debug:         boolEnv("DEBUG", false),
		ServiceName:   stringEnv("SERVICE_NAME", "whatsapp-gateway"),
		Hostname:      stringEnv("HOSTNAME", "whatsapp-gateway"),
		Environment:   stringEnv("ENVIRONMENT", "development"),
		ServerPort:    stringEnv("SERVER_PORT", "8080"),
		WorkerCount:   intEnv("WORKER_COUNT", 10),
		BatchSize:     intEnv("BATCH_SIZE", 100),

		RedisURL:      os.Getenv("REDIS_URL"),
		RedisHost:     stringEnv("REDIS_HOST", "localhost"),
		RedisPort:     stringEnv("REDIS_PORT", "6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       redisDB,

		QuietPeriod:     time.Duration(quietMs) * time.Millisecond,
		BufferTTL:       time.Duration(bufferTTL) * time.Second,
		BufferKeySuffix: stringEnv("BUFFER_KEY_SUFFIX", "aleen"),

		EvolutionBaseURL:  strings.TrimRight(os.Getenv("EVOLUTION_API_BASE_URL"), "/"),
		EvolutionAPIKey:   os.Getenv("EVOLUTION_API_KEY"),
		EvolutionInstance: stringEnv("EVOLUTION_INSTANCE", "aleen"),
		SendReplies:       boolEnv("SEND_REPLIES", false),

		PythonAIURL: strings.TrimRight(stringEnv("PYTHON_AI_URL", "http://python-ai:8000"), "/"),

		AdminAPIKey:    os.Getenv("ADMIN_API_KEY"),
		AllowedOrigins: listEnv("ALLOWED_ORIGINS", []string{"*"}),
		AgentRefresh:   time.Duration(intEnv("AGENT_REFRESH_SECONDS", 300)) * time.Second,
	}, nil
}

// IsProduction reports whether gin should run in release mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func stringEnv(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func intEnv(name string, def int) int {
	if v := os.Getenv(name); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return parsed
		}
	}
	return def
}

func boolEnv(name string, def bool) bool {
	if v := os.Getenv(name); v != "" {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return parsed
		}
	}
	return def
}

// split by comma and trim spaces
func listEnv(name string, def []string) []string {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
