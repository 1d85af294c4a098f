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
	Database DatabaseConfig
	Server   ServerConfig
	Auth     AuthConfig
	Session  SessionConfig
	Lockout  LockoutConfig
	Recovery RecoveryConfig
	Email    EmailConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	AutoMigrate       bool
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

type AuthConfig struct {
	JWTSecret             string
	TokenTTL              time.Duration
	BcryptCost            int
	RateLimitPerMinute    int
	TimingDelayBase       time.Duration
	TimingDelayRandomness time.Duration
}

type SessionConfig struct {
	MaxLifetime       time.Duration
	InactivityTimeout time.Duration
	TouchInterval     time.Duration

	// CleanupInterval enables the background sweeper; zero leaves expiry to
	// the lazy checks alone
	CleanupInterval time.Duration
}

type LockoutConfig struct {
	Window      time.Duration
	MaxAttempts int
}

type RecoveryConfig struct {
	DeviceCodeTTL        time.Duration
	MaxCodeAttempts      int
	PasswordResetTTL     time.Duration
	PasswordResetURLBase string
}

type EmailConfig struct {
	Provider  string // "ses" or "log"
	From      string
	AWSRegion string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "sentinel"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			AutoMigrate:       getEnvAsBool("DB_AUTO_MIGRATE", true),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: splitList(getEnv("TRUSTED_PROXIES", "")),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret:             jwtSecret,
			TokenTTL:              getEnvAsDuration("TOKEN_TTL", 15*time.Minute),
			BcryptCost:            getEnvAsInt("BCRYPT_COST", 12),
			RateLimitPerMinute:    getEnvAsInt("AUTH_RATE_LIMIT_PER_MINUTE", 5),
			TimingDelayBase:       time.Duration(getEnvAsInt("TIMING_DELAY_BASE_MS", 100)) * time.Millisecond,
			TimingDelayRandomness: time.Duration(getEnvAsInt("TIMING_DELAY_RANDOM_MS", 50)) * time.Millisecond,
		},
		Session: SessionConfig{
			MaxLifetime:       getEnvAsDuration("SESSION_MAX_LIFETIME", 30*time.Minute),
			InactivityTimeout: getEnvAsDuration("SESSION_INACTIVITY_TIMEOUT", 10*time.Minute),
			TouchInterval:     getEnvAsDuration("SESSION_TOUCH_INTERVAL", 1*time.Minute),
			CleanupInterval:   getEnvAsDuration("CLEANUP_INTERVAL", 0),
		},
		Lockout: LockoutConfig{
			Window:      getEnvAsDuration("LOCKOUT_WINDOW", 30*time.Minute),
			MaxAttempts: getEnvAsInt("LOCKOUT_MAX_ATTEMPTS", 5),
		},
		Recovery: RecoveryConfig{
			DeviceCodeTTL:        getEnvAsDuration("DEVICE_RECOVERY_TTL", 10*time.Minute),
			MaxCodeAttempts:      getEnvAsInt("DEVICE_RECOVERY_MAX_CODE_ATTEMPTS", 5),
			PasswordResetTTL:     getEnvAsDuration("PASSWORD_RESET_TTL", 30*time.Minute),
			PasswordResetURLBase: getEnv("PASSWORD_RESET_URL_BASE", "http://localhost:3000/reset-password"),
		},
		Email: EmailConfig{
			Provider:  getEnv("EMAIL_PROVIDER", "log"),
			From:      getEnv("EMAIL_FROM", "no-reply@sentinel.local"),
			AWSRegion: getEnv("AWS_REGION", "us-east-1"),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	// Validate JWT secret strength
	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate rejects settings that would make the session or lockout clocks
// meaningless
func (c *Config) validate() error {
	if c.Session.MaxLifetime <= 0 || c.Session.InactivityTimeout <= 0 {
		return fmt.Errorf("SESSION_MAX_LIFETIME and SESSION_INACTIVITY_TIMEOUT must be positive")
	}
	if c.Session.TouchInterval < 0 || c.Session.TouchInterval >= c.Session.InactivityTimeout {
		return fmt.Errorf("SESSION_TOUCH_INTERVAL must be shorter than SESSION_INACTIVITY_TIMEOUT")
	}
	if c.Session.CleanupInterval < 0 {
		return fmt.Errorf("CLEANUP_INTERVAL must not be negative")
	}
	if c.Lockout.MaxAttempts < 1 {
		return fmt.Errorf("LOCKOUT_MAX_ATTEMPTS must be at least 1")
	}
	if c.Lockout.Window <= 0 {
		return fmt.Errorf("LOCKOUT_WINDOW must be positive")
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		return fmt.Errorf("BCRYPT_COST must be between 4 and 31")
	}
	switch c.Email.Provider {
	case "ses", "log":
	default:
		return fmt.Errorf("EMAIL_PROVIDER must be \"ses\" or \"log\" (got %q)", c.Email.Provider)
	}
	return nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	// Minimum length based on environment
	minLength := 16 // Development minimum
	if env == "production" {
		minLength = 32 // Production requires stronger secret (256 bits)
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	// Check against common weak secrets
	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		// Default to no origins in production
		return splitList(getEnv("ALLOWED_ORIGINS", ""))
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173", // Vite default
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}
