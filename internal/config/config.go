// Package config loads runtime configuration from environment variables.
package config

import (
	"log"
	"os"
	"time"
)

// Config holds every runtime setting. Required variables are enforced by
// must(); optional ones fall back to documented defaults.
type Config struct {
	Addr         string        // HTTP listen address for health and metrics
	DatabaseDSN  string        // Postgres DSN shared by all workspace schemas
	BrokerURL    string        // AMQP broker for workspace lifecycle events
	AuthorityURL string        // base URL of the central authority
	AppUUID      string        // this service's app identity at the authority
	TokenSecret  string        // signing secret for all token purposes

	AdminEmail    string // seeded admin account, optional
	AdminPassword string
	SeedDir       string // directory of JSON seed documents, optional

	PollInterval  time.Duration // tenant poll period
	BotSweep      time.Duration // bot staleness sweep period
	BotStaleness  time.Duration // lastLogin age after which a bot is disabled
	RetryBackoff  time.Duration // workspace bootstrap retry backoff
}

// Load reads configuration from the environment. Missing required
// variables abort startup.
func Load() Config {
	return Config{
		Addr:         envOr("ADDR", ":8080"),
		DatabaseDSN:  must("DATABASE_DSN"),
		BrokerURL:    envOr("BROKER_URL", ""),
		AuthorityURL: envOr("AUTHORITY_URL", ""),
		AppUUID:      envOr("APP_UUID", ""),
		TokenSecret:  must("TOKEN_SECRET"),

		AdminEmail:    os.Getenv("ADMIN_EMAIL"),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),
		SeedDir:       os.Getenv("SEED_DIR"),

		PollInterval: envDuration("POLL_INTERVAL", time.Minute),
		BotSweep:     envDuration("BOT_SWEEP_INTERVAL", time.Hour),
		BotStaleness: envDuration("BOT_STALENESS", 24*time.Hour),
		RetryBackoff: envDuration("RETRY_BACKOFF", 10*time.Second),
	}
}

func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		log.Fatalf("invalid duration for %s: %q", key, s)
	}
	return d
}
