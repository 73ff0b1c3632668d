// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	defaultListenAddr      = "127.0.0.1:7879"
	defaultMetricsAddr     = ":9100"
	defaultRequestMaxBytes = 2048
)

type Config struct {
	ListenAddr      string
	MetricsAddr     string
	RequestMaxBytes int

	DatabaseURL string

	JWTPrivateKey string
	JWTPublicKey  string

	GoogleClientID string

	MailServerURL    string
	MailServerAPIKey string
}

// Load reads the environment and validates it. All missing required
// variables are reported together.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr:      envOr("LISTEN_ADDR", defaultListenAddr),
		MetricsAddr:     envOr("METRICS_ADDR", defaultMetricsAddr),
		RequestMaxBytes: defaultRequestMaxBytes,

		DatabaseURL:      os.Getenv("DATABASE_URL"),
		JWTPrivateKey:    unescapePEM(os.Getenv("JWT_PRIVATE_KEY")),
		JWTPublicKey:     unescapePEM(os.Getenv("JWT_PUBLIC_KEY")),
		GoogleClientID:   os.Getenv("GOOGLE_CLIENT_ID"),
		MailServerURL:    os.Getenv("MAIL_SERVER_URL"),
		MailServerAPIKey: os.Getenv("MAIL_SERVER_API_KEY"),
	}

	if raw := os.Getenv("REQUEST_MAX_BYTE"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("config: invalid REQUEST_MAX_BYTE %q", raw)
		}
		cfg.RequestMaxBytes = n
	}

	var missing []string
	for _, v := range []struct {
		name, value string
	}{
		{"DATABASE_URL", cfg.DatabaseURL},
		{"JWT_PRIVATE_KEY", cfg.JWTPrivateKey},
		{"JWT_PUBLIC_KEY", cfg.JWTPublicKey},
		{"GOOGLE_CLIENT_ID", cfg.GoogleClientID},
		{"MAIL_SERVER_URL", cfg.MailServerURL},
		{"MAIL_SERVER_API_KEY", cfg.MailServerAPIKey},
	} {
		if v.value == "" {
			missing = append(missing, v.name)
		}
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("config: missing required environment: %s", strings.Join(missing, ", "))
	}
	return cfg, nil
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

// unescapePEM restores newlines in PEM material passed through a
// single-line environment variable.
func unescapePEM(v string) string {
	return strings.ReplaceAll(v, `\n`, "\n")
}
