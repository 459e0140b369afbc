package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreMemory   = "memory"
	StoreMongo    = "mongo"
	StorePostgres = "postgres"

	GatewaySandbox = "sandbox"
	GatewayHTTP    = "http"
)

// Config aggregates application configuration values loaded from environment variables.
type Config struct {
	Env            string
	LogLevel       string
	HTTPAddr       string
	GRPCHealthAddr string

	StoreDriver string
	MongoURI    string
	MongoDB     string
	PostgresDSN string
	// FixturesPath seeds the memory store at startup.
	FixturesPath string

	KafkaBrokers       []string
	KafkaTopicPrefix   string
	KafkaSweepTopic    string
	KafkaGroupID       string
	OutboxPollInterval time.Duration
	RetryBackoff       []time.Duration
	IdempotencyTTL     time.Duration

	SweepInterval      time.Duration
	SweepLimit         int
	SweepConcurrency   int
	SweepLive          bool
	DefaultClaimWindow time.Duration

	GatewayMode      string
	GatewayURL       string
	GatewayAPIKey    string
	GatewayTimeout   time.Duration
	RedisAddr        string
	GatewayRateLimit int

	JWTSecret   string
	JWTIssuer   string
	OpsKeyHash  string
	CORSOrigins []string

	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3Prefix    string
	S3UseSSL    bool
}

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment win over the file.
func Load() (Config, error) {
	if err := godotenv.Load(getEnv("ENV_FILE", ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load env file: %w", err)
	}
	return FromEnv()
}

// FromEnv parses configuration from the current environment only.
func FromEnv() (Config, error) {
	cfg := Config{
		Env:              getEnv("APP_ENV", "dev"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		GRPCHealthAddr:   getEnv("GRPC_HEALTH_ADDR", ":9090"),
		StoreDriver:      strings.ToLower(getEnv("STORE_DRIVER", StoreMemory)),
		MongoURI:         os.Getenv("MONGO_URI"),
		MongoDB:          getEnv("MONGO_DB", "rentals"),
		PostgresDSN:      os.Getenv("POSTGRES_DSN"),
		FixturesPath:     os.Getenv("DEPOSIT_FIXTURES"),
		KafkaTopicPrefix: getEnv("KAFKA_TOPIC_PREFIX", ""),
		KafkaSweepTopic:  getEnv("KAFKA_SWEEP_TOPIC", "deposits.sweep_requested"),
		KafkaGroupID:     getEnv("KAFKA_GROUP_ID", "rentme-deposits"),
		GatewayMode:      strings.ToLower(getEnv("GATEWAY_MODE", GatewaySandbox)),
		GatewayURL:       os.Getenv("GATEWAY_URL"),
		GatewayAPIKey:    os.Getenv("GATEWAY_API_KEY"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		JWTIssuer:        getEnv("JWT_ISSUER", ""),
		OpsKeyHash:       os.Getenv("OPS_KEY_HASH"),
		CORSOrigins:      splitList(getEnv("CORS_ORIGINS", "")),
		S3Endpoint:       os.Getenv("S3_ENDPOINT"),
		S3AccessKey:      getEnv("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:      getEnv("S3_SECRET_KEY", "minioadmin"),
		S3Bucket:         getEnv("S3_BUCKET", "rentme-deposit-reports"),
		S3Prefix:         getEnv("S3_PREFIX", ""),
		KafkaBrokers:     splitList(getEnv("KAFKA_BROKERS", "")),
	}

	var err error
	durations := []struct {
		key string
		def time.Duration
		dst *time.Duration
	}{
		{"IDEMP_TTL", 168 * time.Hour, &cfg.IdempotencyTTL},
		{"OUTBOX_POLL_INTERVAL", 500 * time.Millisecond, &cfg.OutboxPollInterval},
		{"SWEEP_INTERVAL", 5 * time.Minute, &cfg.SweepInterval},
		{"DEFAULT_CLAIM_WINDOW", 48 * time.Hour, &cfg.DefaultClaimWindow},
		{"GATEWAY_TIMEOUT", 10 * time.Second, &cfg.GatewayTimeout},
	}
	for _, d := range durations {
		if *d.dst, err = parseDurationEnv(d.key, d.def); err != nil {
			return Config{}, err
		}
	}
	ints := []struct {
		key string
		def int
		dst *int
	}{
		{"SWEEP_LIMIT", 100, &cfg.SweepLimit},
		{"SWEEP_CONCURRENCY", 4, &cfg.SweepConcurrency},
		{"GATEWAY_RATE_LIMIT", 0, &cfg.GatewayRateLimit},
	}
	for _, n := range ints {
		if *n.dst, err = parseIntEnv(n.key, n.def); err != nil {
			return Config{}, err
		}
	}
	if cfg.SweepLive, err = parseBoolEnv("SWEEP_LIVE", false); err != nil {
		return Config{}, err
	}
	if cfg.S3UseSSL, err = parseBoolEnv("S3_USE_SSL", false); err != nil {
		return Config{}, err
	}

	retryStr := getEnv("RETRY_BACKOFF", "1s,5s,30s")
	for _, raw := range strings.Split(retryStr, ",") {
		val := strings.TrimSpace(raw)
		if val == "" {
			continue
		}
		d, err := time.ParseDuration(val)
		if err != nil {
			return Config{}, fmt.Errorf("invalid RETRY_BACKOFF component %q: %w", raw, err)
		}
		cfg.RetryBackoff = append(cfg.RetryBackoff, d)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements of the selected drivers.
func (c Config) Validate() error {
	switch c.StoreDriver {
	case StoreMemory:
	case StoreMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required for STORE_DRIVER=%s", c.StoreDriver)
		}
	case StorePostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for STORE_DRIVER=%s", c.StoreDriver)
		}
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q", c.StoreDriver)
	}
	switch c.GatewayMode {
	case GatewaySandbox:
	case GatewayHTTP:
		if c.GatewayURL == "" {
			return errors.New("GATEWAY_URL is required for GATEWAY_MODE=http")
		}
	default:
		return fmt.Errorf("invalid GATEWAY_MODE %q", c.GatewayMode)
	}
	if c.SweepLimit <= 0 {
		return errors.New("SWEEP_LIMIT must be positive")
	}
	if c.SweepConcurrency <= 0 {
		return errors.New("SWEEP_CONCURRENCY must be positive")
	}
	if c.DefaultClaimWindow <= 0 {
		return errors.New("DEFAULT_CLAIM_WINDOW must be positive")
	}
	if c.GatewayTimeout <= 0 {
		return errors.New("GATEWAY_TIMEOUT must be positive")
	}
	if c.GatewayRateLimit < 0 {
		return errors.New("GATEWAY_RATE_LIMIT must not be negative")
	}
	return nil
}

// KafkaEnabled reports whether the outbox relay and sweep trigger run.
func (c Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func (c Config) ArchiveEnabled() bool {
	return c.S3Endpoint != ""
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func parseDurationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", key, err)
	}
	return d, nil
}

func parseIntEnv(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s integer: %w", key, err)
	}
	return n, nil
}

func parseBoolEnv(key string, def bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "t", "true", "yes", "y", "on":
		return true, nil
	case "0", "f", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid %s boolean: %q", key, raw)
	}
}
