/*
Package configs is responsible for loading and parsing the application's configuration settings.

It configures server parameters by reading operating system environment variables
(optionally seeded from a .env file), including the running environment, the chat
and gateway listen addresses, CORS allowed origins, and the per-user message rate ceiling.
*/
package configs

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// AppConfig contains all configuration parameters required for the application to run.
// All configuration values are loaded from environment variables.
type AppConfig struct {
	// General Server Settings
	Environment string

	// ChatAddr is the TCP listen address for the newline-delimited JSON chat protocol.
	ChatAddr string

	// HTTPAddr is the listen address for the HTTP gateway (health endpoint and WebSocket bridge).
	HTTPAddr string

	// Security Settings
	AllowedOrigins []string

	// MessageRateLimit is the maximum number of chat messages a single user may
	// send within the sliding rate window.
	MessageRateLimit int
}

// LoadConfig reads and parses the application configuration from environment variables.
// A .env file in the working directory is loaded first if present; real environment
// variables take precedence. It provides default values for each configuration item
// and performs necessary type conversions and validation.
func LoadConfig() (*AppConfig, error) {
	// Missing .env is not an error; the environment may be set by the supervisor.
	_ = godotenv.Load()

	cfg := &AppConfig{}

	// --- General Server Settings ---
	// Environment
	cfg.Environment = os.Getenv("ENVIRONMENT")
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	// ChatAddr
	cfg.ChatAddr = os.Getenv("CHAT_ADDR")
	if cfg.ChatAddr == "" {
		cfg.ChatAddr = ":55556"
	}
	if err := validateAddr("CHAT_ADDR", cfg.ChatAddr); err != nil {
		return nil, err
	}

	// HTTPAddr
	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	if err := validateAddr("HTTP_ADDR", cfg.HTTPAddr); err != nil {
		return nil, err
	}

	// --- Security Settings ---
	// AllowedOrigins
	originsStr := os.Getenv("ALLOWED_ORIGINS")
	if originsStr != "" {
		origins := strings.Split(originsStr, ",")
		for _, origin := range origins {
			trimmed := strings.TrimSpace(origin)
			if trimmed != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, trimmed)
			}
		}
	} else {
		cfg.AllowedOrigins = []string{}
	}

	// MessageRateLimit
	rateStr := os.Getenv("MESSAGE_RATE_LIMIT")
	if rateStr == "" {
		rateStr = "60"
	}
	rateLimit, err := strconv.Atoi(rateStr)
	if err != nil {
		return nil, fmt.Errorf("invalid MESSAGE_RATE_LIMIT environment variable: %w", err)
	}
	if rateLimit < 1 {
		return nil, fmt.Errorf("MESSAGE_RATE_LIMIT must be at least 1, got %d", rateLimit)
	}
	cfg.MessageRateLimit = rateLimit

	return cfg, nil
}

// validateAddr checks that an address is of the host:port form with a port in
// the non-privileged range.
func validateAddr(name, addr string) error {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return fmt.Errorf("invalid %s %q: expected host:port", name, addr)
	}

	port, err := strconv.Atoi(addr[idx+1:])
	if err != nil {
		return fmt.Errorf("invalid %s %q: port is not a number", name, addr)
	}

	if port < 1024 || port > 65535 {
		return fmt.Errorf("%s port %d is outside the recommended range (%d-%d) to avoid privileged ports", name, port, 1024, 65535)
	}

	return nil
}
