package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration.
type Config struct {
	// Cache settings
	CachePath   string
	CacheBodies bool
	LogLevel    string

	// Polling
	PollInterval time.Duration

	// Accounts
	Accounts []AccountConfig
}

// AccountConfig holds configuration for a single email account. Password may
// be empty, in which case it is resolved from the system keyring at connect
// time.
type AccountConfig struct {
	Email string

	IMAPHost string
	IMAPPort int

	SMTPHost string
	SMTPPort int

	Password string
	Active   bool
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		CachePath:    getEnv("CACHE_PATH", defaultCachePath()),
		CacheBodies:  getEnvBool("CACHE_BODIES", true),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		PollInterval: time.Duration(getEnvInt("POLL_INTERVAL", 60)) * time.Second,
	}

	accounts, err := loadAccounts()
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}
	cfg.Accounts = accounts

	return cfg, nil
}

// loadAccounts loads email account configurations from environment variables.
func loadAccounts() ([]AccountConfig, error) {
	var accounts []AccountConfig

	// Single account configuration first (EMAIL + IMAP_HOST + SMTP_HOST).
	if getEnv("EMAIL", "") != "" {
		account, err := loadAccount("")
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *account)
		return accounts, nil
	}

	// Multiple accounts (ACCOUNT_1_*, ACCOUNT_2_*, ...).
	for num := 1; ; num++ {
		prefix := fmt.Sprintf("ACCOUNT_%d_", num)
		if getEnv(prefix+"EMAIL", "") == "" {
			break
		}
		account, err := loadAccount(prefix)
		if err != nil {
			return nil, fmt.Errorf("account %d: %w", num, err)
		}
		accounts = append(accounts, *account)
	}

	if len(accounts) == 0 {
		return nil, fmt.Errorf("no accounts found in environment variables")
	}

	return accounts, nil
}

// loadAccount loads one account block by env prefix ("" for the single
// account form).
func loadAccount(prefix string) (*AccountConfig, error) {
	email := getEnv(prefix+"EMAIL", "")
	if email == "" {
		return nil, fmt.Errorf("EMAIL is required")
	}

	imapHost := getEnv(prefix+"IMAP_HOST", "")
	smtpHost := getEnv(prefix+"SMTP_HOST", "")
	if imapHost == "" || smtpHost == "" {
		return nil, fmt.Errorf("IMAP_HOST and SMTP_HOST are required")
	}

	return &AccountConfig{
		Email:    email,
		IMAPHost: imapHost,
		IMAPPort: getEnvInt(prefix+"IMAP_PORT", 993),
		SMTPHost: smtpHost,
		SMTPPort: getEnvInt(prefix+"SMTP_PORT", 587),
		Password: getEnv(prefix+"PASSWORD", ""),
		Active:   getEnvBool(prefix+"ACTIVE", true),
	}, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.CachePath == "" {
		return fmt.Errorf("CACHE_PATH is required")
	}

	if c.PollInterval < time.Second {
		return fmt.Errorf("POLL_INTERVAL must be at least one second")
	}

	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one account must be configured")
	}

	seen := make(map[string]bool)
	for i := range c.Accounts {
		acc := &c.Accounts[i]
		if seen[acc.Email] {
			return fmt.Errorf("account %s: duplicate email address", acc.Email)
		}
		seen[acc.Email] = true

		if acc.IMAPPort < 1 || acc.IMAPPort > 65535 {
			return fmt.Errorf("account %s: invalid IMAP_PORT", acc.Email)
		}
		if acc.SMTPPort < 1 || acc.SMTPPort > 65535 {
			return fmt.Errorf("account %s: invalid SMTP_PORT", acc.Email)
		}
	}

	return nil
}

// GetAccountByEmail finds an account by email address.
func (c *Config) GetAccountByEmail(email string) (*AccountConfig, error) {
	for i := range c.Accounts {
		if c.Accounts[i].Email == email {
			return &c.Accounts[i], nil
		}
	}
	return nil, fmt.Errorf("account not found: %s", email)
}

func defaultCachePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "mailcached.db"
	}
	return dir + "/mailcached/cache.db"
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as an integer or returns a default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets an environment variable as a boolean or returns a default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
