package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Client   ClientConfig
	Referee  RefereeConfig
	Stats    StatsConfig
	Kafka    KafkaConfig
	Security SecurityConfig
}

type ClientConfig struct {
	WSURL         string
	PlayerName    string
	GameType      string
	StatsURL      string
	MaxAttempts   int
	RetryInterval time.Duration
	RetryDelay    time.Duration
	MetricsAddr   string
}

type RefereeConfig struct {
	Port      int
	RateLimit float64 // new connections per second
	RateBurst int

	// How long a disconnected player keeps their seat before the match is
	// abandoned. Zero abandons immediately.
	ReconnectGrace time.Duration
}

type StatsConfig struct {
	Port      int
	DBDriver  string // sqlite or postgres
	DBDSN     string
	RedisAddr string // in-memory cache when empty
	CacheTTL  time.Duration
	RateLimit int // requests per minute per IP
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
	GroupID string
}

type SecurityConfig struct {
	AllowedOrigins []string
}

// LoadEnvFiles loads the given dotenv files, skipping any that are missing.
// Variables already set in the environment win.
func LoadEnvFiles(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load %s: %v", f, err)
		}
	}
	return nil
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		Client: ClientConfig{
			WSURL:         getEnv("WS_URL", "ws://localhost:8080/ws"),
			PlayerName:    getEnv("PLAYER_NAME", ""),
			GameType:      getEnv("GAME_TYPE", "multiplayer"),
			StatsURL:      getEnv("STATS_URL", "http://localhost:8081"),
			MaxAttempts:   getEnvInt("WS_MAX_ATTEMPTS", 5),
			RetryInterval: getEnvDuration("WS_RETRY_INTERVAL", 3*time.Second),
			RetryDelay:    getEnvDuration("SESSION_RETRY_DELAY", 3*time.Second),
			MetricsAddr:   getEnv("METRICS_ADDR", ""),
		},
		Referee: RefereeConfig{
			Port:           getEnvInt("REFEREE_PORT", 8080),
			RateLimit:      getEnvFloat("REFEREE_RATE_LIMIT", 10),
			RateBurst:      getEnvInt("REFEREE_RATE_BURST", 20),
			ReconnectGrace: getEnvDuration("REFEREE_RECONNECT_GRACE", 0),
		},
		Stats: StatsConfig{
			Port:      getEnvInt("STATS_PORT", 8081),
			DBDriver:  getEnv("DB_DRIVER", "sqlite"),
			DBDSN:     getEnv("DB_DSN", "file:statistics.db?_pragma=busy_timeout(5000)"),
			RedisAddr: getEnv("REDIS_ADDR", ""),
			CacheTTL:  getEnvDuration("STATS_CACHE_TTL", 30*time.Second),
			RateLimit: getEnvInt("STATS_RATE_LIMIT", 120),
		},
		Kafka: KafkaConfig{
			Enabled: getEnvBool("KAFKA_ENABLED", false),
			Brokers: splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
			Topic:   getEnv("KAFKA_TOPIC", "game-events"),
			GroupID: getEnv("KAFKA_GROUP_ID", "statsd"),
		},
		Security: SecurityConfig{
			AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Stats.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Stats.DBDriver)
	}
	if c.Client.MaxAttempts <= 0 {
		return fmt.Errorf("WS_MAX_ATTEMPTS must be positive, got %d", c.Client.MaxAttempts)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
