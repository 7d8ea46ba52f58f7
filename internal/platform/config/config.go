package config

import (
	"os"
	"time"
)

// Server captures the process level configuration.
type Server struct {
	Addr            string
	SigningKey      string
	TokenIssuer     string
	ConfirmationTTL time.Duration
	EvalTimeout     time.Duration
	MaxBodyBytes    int64
}

const (
	defaultConfirmationTTL = 48 * time.Hour
	defaultEvalTimeout     = 200 * time.Millisecond
	defaultMaxBodyBytes    = 1 << 20
)

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	cfg := Server{
		Addr:            envOr("ENROLL_ADDR", ":8080"),
		TokenIssuer:     envOr("ENROLL_TOKEN_ISSUER", "enroll"),
		ConfirmationTTL: defaultConfirmationTTL,
		EvalTimeout:     defaultEvalTimeout,
		MaxBodyBytes:    defaultMaxBodyBytes,
	}

	cfg.SigningKey = os.Getenv("ENROLL_SIGNING_KEY")
	if cfg.SigningKey == "" {
		// Development default; must be overridden in production.
		cfg.SigningKey = "dev-secret-key-change-in-production"
	}

	if raw := os.Getenv("ENROLL_CONFIRMATION_TTL"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			cfg.ConfirmationTTL = d
		}
	}
	if raw := os.Getenv("ENROLL_EVAL_TIMEOUT"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			cfg.EvalTimeout = d
		}
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
