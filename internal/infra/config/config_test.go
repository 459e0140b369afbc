package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("GATEWAY_MODE", "")
	cfg, err := FromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.StoreDriver != StoreMemory || cfg.GatewayMode != GatewaySandbox {
		t.Fatalf("drivers = %s/%s", cfg.StoreDriver, cfg.GatewayMode)
	}
	if cfg.DefaultClaimWindow != 48*time.Hour || cfg.SweepLimit != 100 || cfg.SweepConcurrency != 4 {
		t.Fatalf("sweep defaults = %+v", cfg)
	}
	if cfg.SweepLive {
		t.Fatal("live sweeps must be opt-in")
	}
	if len(cfg.RetryBackoff) != 3 || cfg.RetryBackoff[2] != 30*time.Second {
		t.Fatalf("backoff = %v", cfg.RetryBackoff)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "Postgres")
	t.Setenv("POSTGRES_DSN", "postgres://localhost/rentals")
	t.Setenv("SWEEP_LIVE", "yes")
	t.Setenv("SWEEP_LIMIT", "250")
	t.Setenv("DEFAULT_CLAIM_WINDOW", "24h")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.StoreDriver != StorePostgres || !cfg.SweepLive || cfg.SweepLimit != 250 || cfg.DefaultClaimWindow != 24*time.Hour {
		t.Fatalf("cfg = %+v", cfg)
	}
	if strings.Join(cfg.KafkaBrokers, "|") != "k1:9092|k2:9092" || !cfg.KafkaEnabled() {
		t.Fatalf("brokers = %v", cfg.KafkaBrokers)
	}
}

func TestFromEnvRejectsInvalid(t *testing.T) {
	cases := map[string][2]string{
		"bad driver":        {"STORE_DRIVER", "cassandra"},
		"mongo without uri": {"STORE_DRIVER", "mongo"},
		"bad duration":      {"GATEWAY_TIMEOUT", "soon"},
		"bad int":           {"SWEEP_CONCURRENCY", "many"},
		"zero concurrency":  {"SWEEP_CONCURRENCY", "0"},
		"bad bool":          {"SWEEP_LIVE", "maybe"},
		"http gateway":      {"GATEWAY_MODE", "http"},
		"bad backoff":       {"RETRY_BACKOFF", "1s,later"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("MONGO_URI", "")
			t.Setenv("GATEWAY_URL", "")
			t.Setenv(kv[0], kv[1])
			if _, err := FromEnv(); err == nil {
				t.Fatalf("%s=%s accepted", kv[0], kv[1])
			}
		})
	}
}

func TestLoadReadsEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("SWEEP_INTERVAL=90s\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ENV_FILE", path)
	t.Setenv("SWEEP_INTERVAL", "")
	os.Unsetenv("SWEEP_INTERVAL")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SweepInterval != 90*time.Second {
		t.Fatalf("interval = %v", cfg.SweepInterval)
	}
}
