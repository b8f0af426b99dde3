package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAppName          = "VelaPay"
	defaultAppEnv           = "development"
	defaultPort             = "8080"
	defaultLogLevel         = "info"
	defaultShutdownDelay    = 10 * time.Second
	defaultIdempotencyTTL   = 24 * time.Hour
	defaultFundRate         = 1.02
	defaultRatePerWindow    = 100
	defaultRateWindow       = time.Minute
	defaultReconcileEvery   = 30 * time.Second
	defaultCardAwaitTimeout = 5 * time.Minute

	webhookSecretPrefix = "WEBHOOK_SECRET_"

	shutdownSecondsEnvVar  = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar = "SHUTDOWN_TIMEOUT"
	idemTTLSecondsEnvVar   = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar       = "IDEMPOTENCY_TTL"
)

// Config captures application runtime configuration loaded from environment
// variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	// Providers is the ranked candidate pool; PollProviders names the subset
	// without webhook delivery that the reconciler polls.
	Providers     []string
	PollProviders []string

	// WebhookSecrets maps a webhook source name to its whsec_ signing secret.
	// AckSources lists sources whose failed events are acknowledged anyway
	// because the sender disables the endpoint after repeated failures.
	WebhookSecrets map[string]string
	AckSources     []string

	WebhookRateLimit  int
	WebhookRateWindow time.Duration

	FundRate          float64
	ReconcileInterval time.Duration
	CardAwaitTimeout  time.Duration
}

// Load reads configuration values from the environment and populates a Config
// instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:           getEnv("APP_NAME", defaultAppName),
		AppEnv:            getEnv("APP_ENV", defaultAppEnv),
		Port:              getEnv("PORT", defaultPort),
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		ShutdownPeriod:    defaultShutdownDelay,
		IdempotencyTTL:    defaultIdempotencyTTL,
		Providers:         splitList(getEnv("PROVIDERS", "sudo,maplerad")),
		PollProviders:     splitList(os.Getenv("POLL_PROVIDERS")),
		WebhookSecrets:    webhookSecretsFromEnv(),
		AckSources:        splitList(os.Getenv("WEBHOOK_ACK_SOURCES")),
		WebhookRateLimit:  defaultRatePerWindow,
		WebhookRateWindow: defaultRateWindow,
		FundRate:          defaultFundRate,
		ReconcileInterval: defaultReconcileEvery,
		CardAwaitTimeout:  defaultCardAwaitTimeout,
	}

	if v := os.Getenv(shutdownSecondsEnvVar); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", shutdownSecondsEnvVar, err)
		}
		cfg.ShutdownPeriod = time.Duration(seconds) * time.Second
	} else if v := os.Getenv(shutdownDurationEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", shutdownDurationEnvVar, err)
		}
		cfg.ShutdownPeriod = d
	}

	if v := os.Getenv(idemTTLSecondsEnvVar); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", idemTTLSecondsEnvVar, err)
		}
		cfg.IdempotencyTTL = time.Duration(seconds) * time.Second
	} else if v := os.Getenv(idemTTLDurEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", idemTTLDurEnvVar, err)
		}
		cfg.IdempotencyTTL = d
	}

	if v := os.Getenv("WEBHOOK_RATE_LIMIT"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			return Config{}, fmt.Errorf("invalid WEBHOOK_RATE_LIMIT: %q", v)
		}
		cfg.WebhookRateLimit = limit
	}

	if v := os.Getenv("CARD_FUND_RATE"); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil || rate < 1 {
			return Config{}, fmt.Errorf("invalid CARD_FUND_RATE: %q", v)
		}
		cfg.FundRate = rate
	}

	if v := os.Getenv("RECONCILE_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid RECONCILE_INTERVAL: %w", err)
		}
		cfg.ReconcileInterval = d
	}

	if v := os.Getenv("CARD_CREATE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid CARD_CREATE_TIMEOUT: %w", err)
		}
		cfg.CardAwaitTimeout = d
	}

	if len(cfg.Providers) == 0 {
		return Config{}, fmt.Errorf("PROVIDERS must name at least one provider")
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL must be set")
	}

	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("REDIS_URL must be set")
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// webhookSecretsFromEnv collects WEBHOOK_SECRET_<SOURCE> variables into a
// source-to-secret map; the source name is lowercased.
func webhookSecretsFromEnv() map[string]string {
	secrets := make(map[string]string)
	for _, entry := range os.Environ() {
		name, value, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasPrefix(name, webhookSecretPrefix) || value == "" {
			continue
		}
		source := strings.ToLower(strings.TrimPrefix(name, webhookSecretPrefix))
		if source != "" {
			secrets[source] = value
		}
	}
	return secrets
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
