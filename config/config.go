package config

import (
	"errors"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/ini.v1"
)

// Config holds application configuration
type Config struct {
	// API settings
	APIPort  string
	LogLevel string

	// Admin seed account
	AdminUsername string
	AdminPassword string

	// Session storage settings
	SessionsDir            string
	PublicDir              string
	SessionExpiryMinutes   int
	CleanupIntervalMinutes int

	// Pairing settings
	SettleDelaySeconds    int
	PairingTimeoutSeconds int
}

// ErrMissingAdminPassword is returned when the required ADMIN_PASSWORD
// environment variable is not set.
var ErrMissingAdminPassword = errors.New("ADMIN_PASSWORD environment variable is required")

// LoadConfig loads configuration from config.ini file or environment variables.
// The admin password has no default: the process must refuse to start without it.
func LoadConfig() (*Config, error) {
	config := &Config{
		// API settings
		APIPort:  getEnv("API_PORT", ":5000"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Admin seed account
		AdminUsername: getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),

		// Session storage settings
		SessionsDir:            getEnv("SESSIONS_DIR", "private_sessions"),
		PublicDir:              getEnv("PUBLIC_DIR", "public"),
		SessionExpiryMinutes:   10,
		CleanupIntervalMinutes: 5,

		// Pairing settings
		SettleDelaySeconds:    2,
		PairingTimeoutSeconds: 180,
	}

	// Try to load from config.ini file
	if err := loadFromINI(config); err != nil {
		log.Printf("Warning: Failed to load config.ini: %v", err)
		log.Println("Using environment variables or defaults")
	}

	if config.AdminPassword == "" {
		return nil, ErrMissingAdminPassword
	}

	return config, nil
}

// loadFromINI loads configuration from config.ini file
func loadFromINI(config *Config) error {
	cfg, err := ini.Load("config.ini")
	if err != nil {
		return err
	}

	// API section
	if apiSection := cfg.Section("api"); apiSection != nil {
		if port := apiSection.Key("port").String(); port != "" {
			config.APIPort = port
		}
		if level := apiSection.Key("log_level").String(); level != "" {
			config.LogLevel = level
		}
		if dir := apiSection.Key("public_dir").String(); dir != "" {
			config.PublicDir = dir
		}
	}

	// Sessions section
	if sessionSection := cfg.Section("sessions"); sessionSection != nil {
		if dir := sessionSection.Key("dir").String(); dir != "" {
			config.SessionsDir = dir
		}
		if expiry := sessionSection.Key("expiry_minutes").String(); expiry != "" {
			if val, err := strconv.Atoi(expiry); err == nil {
				config.SessionExpiryMinutes = val
			}
		}
		if interval := sessionSection.Key("cleanup_interval_minutes").String(); interval != "" {
			if val, err := strconv.Atoi(interval); err == nil {
				config.CleanupIntervalMinutes = val
			}
		}
	}

	// WhatsApp section
	if waSection := cfg.Section("whatsapp"); waSection != nil {
		if delay := waSection.Key("settle_delay_seconds").String(); delay != "" {
			if val, err := strconv.Atoi(delay); err == nil {
				config.SettleDelaySeconds = val
			}
		}
		if timeout := waSection.Key("pairing_timeout_seconds").String(); timeout != "" {
			if val, err := strconv.Atoi(timeout); err == nil {
				config.PairingTimeoutSeconds = val
			}
		}
	}

	return nil
}

// SettleDelay returns the wait before a pairing code is requested.
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelaySeconds) * time.Second
}

// PairingTimeout returns the global deadline for one pairing attempt.
func (c *Config) PairingTimeout() time.Duration {
	return time.Duration(c.PairingTimeoutSeconds) * time.Second
}

// SessionExpiry returns how long a session may wait for pairing before it is swept.
func (c *Config) SessionExpiry() time.Duration {
	return time.Duration(c.SessionExpiryMinutes) * time.Minute
}

// CleanupInterval returns how often the stale-session sweeper runs.
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalMinutes) * time.Minute
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
