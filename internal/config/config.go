package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database   DatabaseConfig
	Redis      RedisConfig
	Server     ServerConfig
	Auth       AuthConfig
	Session    SessionConfig
	Lockout    LockoutConfig
	Cookie     CookieConfig
	MFA        MFAConfig
	Email      EmailConfig
	Federation FederationConfig
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
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	TrustedProxies []string
	BaseURL        string
}

type AuthConfig struct {
	SessionSecret        string
	TokenSigningSecret   string
	BearerTokenTTL       time.Duration
	MFAChallengeTTL      time.Duration
	ResetTokenTTL        time.Duration
	VerificationTokenTTL time.Duration
	BcryptCost           int
	HashConcurrency      int
	LoginRatePerMinute   int
	CleanupInterval      time.Duration
}

type SessionConfig struct {
	MaxAge             time.Duration
	InactivityTimeout  time.Duration
	MaxSessionsPerUser int
}

type LockoutConfig struct {
	MaxAttempts      int
	MaxAttemptsPerIP int
	Duration         time.Duration
}

type CookieConfig struct {
	Domain   string
	Secure   bool
	SameSite string
}

type MFAConfig struct {
	EncryptionKey     []byte
	Issuer            string
	Skew              uint
	RecoveryCodeCount int
	EnrollmentTTL     time.Duration
}

type EmailConfig struct {
	Provider  string // "ses" or "log"
	AWSRegion string
	From      string
}

type FederationConfig struct {
	GoogleClientID         string
	GoogleClientSecret     string
	GitHubClientID         string
	GitHubClientSecret     string
	CallbackBaseURL        string
	StateTTL               time.Duration
	AllowedRedirectDomains []string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", "development")

	sessionSecret := getEnv("SESSION_SECRET", "")
	if sessionSecret == "" {
		return nil, fmt.Errorf("SESSION_SECRET is required")
	}
	signingSecret := getEnv("TOKEN_SIGNING_SECRET", "")
	if signingSecret == "" {
		return nil, fmt.Errorf("TOKEN_SIGNING_SECRET is required")
	}
	if err := validateSecret("SESSION_SECRET", sessionSecret, env); err != nil {
		return nil, err
	}
	if err := validateSecret("TOKEN_SIGNING_SECRET", signingSecret, env); err != nil {
		return nil, err
	}
	if sessionSecret == signingSecret {
		return nil, fmt.Errorf("SESSION_SECRET and TOKEN_SIGNING_SECRET must differ")
	}

	totpKey, err := decodeEncryptionKey(getEnv("TOTP_ENCRYPTION_KEY", ""))
	if err != nil {
		return nil, err
	}

	baseURL := getEnv("APP_BASE_URL", "http://localhost:8080")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "praxis"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			TrustedProxies: getEnvAsList("TRUSTED_PROXIES", nil),
			BaseURL:        baseURL,
		},
		Auth: AuthConfig{
			SessionSecret:        sessionSecret,
			TokenSigningSecret:   signingSecret,
			BearerTokenTTL:       getEnvAsDuration("BEARER_TOKEN_TTL", 8*time.Hour),
			MFAChallengeTTL:      getEnvAsDuration("MFA_CHALLENGE_TTL", 5*time.Minute),
			ResetTokenTTL:        getEnvAsDuration("RESET_TOKEN_TTL", 1*time.Hour),
			VerificationTokenTTL: getEnvAsDuration("VERIFICATION_TOKEN_TTL", 24*time.Hour),
			BcryptCost:           getEnvAsInt("BCRYPT_COST", 12),
			HashConcurrency:      getEnvAsInt("HASH_CONCURRENCY", runtime.NumCPU()),
			LoginRatePerMinute:   getEnvAsInt("LOGIN_RATE_LIMIT_PER_MINUTE", 10),
			CleanupInterval:      getEnvAsDuration("CLEANUP_INTERVAL", 1*time.Hour),
		},
		Session: SessionConfig{
			MaxAge:             getEnvAsDuration("SESSION_MAX_AGE", 24*time.Hour),
			InactivityTimeout:  getEnvAsMillis("SESSION_INACTIVITY_TIMEOUT_MS", 30*time.Minute),
			MaxSessionsPerUser: getEnvAsInt("MAX_SESSIONS_PER_USER", 10),
		},
		Lockout: LockoutConfig{
			MaxAttempts:      getEnvAsInt("MAX_LOGIN_ATTEMPTS", 5),
			MaxAttemptsPerIP: getEnvAsInt("MAX_LOGIN_ATTEMPTS_PER_IP", 20),
			Duration:         getEnvAsMillis("LOCKOUT_DURATION_MS", 15*time.Minute),
		},
		Cookie: CookieConfig{
			Domain:   getEnv("COOKIE_DOMAIN", ""),
			Secure:   getEnvAsBool("COOKIE_SECURE", env == "production"),
			SameSite: strings.ToLower(getEnv("COOKIE_SAME_SITE", "lax")),
		},
		MFA: MFAConfig{
			EncryptionKey:     totpKey,
			Issuer:            getEnv("TOTP_ISSUER", "Praxis"),
			Skew:              uint(getEnvAsInt("TOTP_SKEW", 1)),
			RecoveryCodeCount: getEnvAsInt("RECOVERY_CODE_COUNT", 10),
			EnrollmentTTL:     getEnvAsDuration("MFA_ENROLLMENT_TTL", 10*time.Minute),
		},
		Email: EmailConfig{
			Provider:  strings.ToLower(getEnv("EMAIL_PROVIDER", "log")),
			AWSRegion: getEnv("AWS_REGION", "us-east-1"),
			From:      getEnv("EMAIL_FROM", "no-reply@praxis.local"),
		},
		Federation: FederationConfig{
			GoogleClientID:         getEnv("GOOGLE_CLIENT_ID", ""),
			GoogleClientSecret:     getEnv("GOOGLE_CLIENT_SECRET", ""),
			GitHubClientID:         getEnv("GITHUB_CLIENT_ID", ""),
			GitHubClientSecret:     getEnv("GITHUB_CLIENT_SECRET", ""),
			CallbackBaseURL:        getEnv("OAUTH_CALLBACK_BASE_URL", baseURL),
			StateTTL:               getEnvAsDuration("OAUTH_STATE_TTL", 10*time.Minute),
			AllowedRedirectDomains: getEnvAsList("ALLOWED_REDIRECT_DOMAINS", []string{"localhost"}),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}
	if cfg.Lockout.MaxAttempts < 1 || cfg.Lockout.MaxAttemptsPerIP < 1 {
		return nil, fmt.Errorf("MAX_LOGIN_ATTEMPTS and MAX_LOGIN_ATTEMPTS_PER_IP must be positive")
	}
	if cfg.Lockout.Duration <= 0 || cfg.Session.InactivityTimeout <= 0 {
		return nil, fmt.Errorf("LOCKOUT_DURATION_MS and SESSION_INACTIVITY_TIMEOUT_MS must be positive")
	}
	if cfg.Cookie.SameSite == "none" && !cfg.Cookie.Secure {
		return nil, fmt.Errorf("COOKIE_SAME_SITE=none requires COOKIE_SECURE=true")
	}
	switch cfg.Email.Provider {
	case "ses", "log":
	default:
		return nil, fmt.Errorf("EMAIL_PROVIDER must be ses or log, got %q", cfg.Email.Provider)
	}

	return cfg, nil
}

// IsProduction reports whether the service runs with production hardening
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// validateSecret enforces minimum security standards for signing secrets
func validateSecret(name, secret, env string) error {
	minLength := 16 // Development minimum
	if env == "production" {
		minLength = 32 // Production requires stronger secret (256 bits)
	}

	if len(secret) < minLength {
		return fmt.Errorf("%s must be at least %d characters in %s environment (got %d)",
			name, minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if strings.Repeat(weak, len(secretLower)/len(weak)) == secretLower {
			return fmt.Errorf("%s cannot be a common weak value", name)
		}
	}

	return nil
}

// decodeEncryptionKey parses the base64 AES-256 key for TOTP secrets
func decodeEncryptionKey(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY is required")
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY must be base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
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

// getEnvAsMillis reads an integer number of milliseconds
func getEnvAsMillis(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultVal
}

func getEnvAsList(key string, defaultVal []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
