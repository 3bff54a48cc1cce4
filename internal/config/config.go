package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

const minSecretLength = 32

type Config struct {
	Environment             string
	ServerPort              string
	ServerReadHeaderTimeout time.Duration
	ServerWriteTimeout      time.Duration
	ServerIdleTimeout       time.Duration
	RequestTimeout          time.Duration
	ShutdownTimeout         time.Duration

	JWTSecret     string
	JWTIssuer     string
	JWTAccessTTL  time.Duration
	JWTRefreshTTL time.Duration
	JWTResetTTL   time.Duration
	JWTVerifyTTL  time.Duration
	JWTLeeway     time.Duration
	BcryptCost    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	RedisURL           string
	SessionKeyPrefix   string
	ResetAttemptWindow time.Duration

	CookieSecure   bool
	CookieSameSite string
	CookieDomain   string

	CORSOrigins      []string
	RateLimitRPM     int
	AuthRateLimitRPM int
	AppBaseURL       string
	AdminEmails      []string

	SentryDSN string
	LogLevel  string
	LogFormat string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment:             getEnv("APP_ENV", "development"),
		ServerPort:              getEnv("SERVER_PORT", "8080"),
		ServerReadHeaderTimeout: getDuration("SERVER_READ_HEADER_TIMEOUT", 10*time.Second),
		ServerWriteTimeout:      getDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
		ServerIdleTimeout:       getDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		RequestTimeout:          getDuration("REQUEST_TIMEOUT", 15*time.Second),
		ShutdownTimeout:         getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),

		JWTSecret:     strings.TrimSpace(os.Getenv("JWT_SECRET")),
		JWTIssuer:     getEnv("JWT_ISSUER", "storefront-auth"),
		JWTAccessTTL:  getDuration("JWT_ACCESS_TTL", 15*time.Minute),
		JWTRefreshTTL: getDuration("JWT_REFRESH_TTL", 168*time.Hour),
		JWTResetTTL:   getDuration("JWT_RESET_TTL", time.Hour),
		JWTVerifyTTL:  getDuration("JWT_VERIFY_TTL", 24*time.Hour),
		JWTLeeway:     getDuration("JWT_LEEWAY", 5*time.Second),
		BcryptCost:    getInt("BCRYPT_COST", bcrypt.DefaultCost),

		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBMaxConns:  int32(getInt("DB_MAX_CONNS", 10)),
		DBMinConns:  int32(getInt("DB_MIN_CONNS", 2)),

		RedisURL:           strings.TrimSpace(os.Getenv("REDIS_URL")),
		SessionKeyPrefix:   getEnv("SESSION_KEY_PREFIX", "sess"),
		ResetAttemptWindow: getDuration("RESET_ATTEMPT_WINDOW", time.Hour),

		CookieSecure:   getBool("COOKIE_SECURE", true),
		CookieSameSite: strings.ToLower(getEnv("COOKIE_SAMESITE", "strict")),
		CookieDomain:   strings.TrimSpace(os.Getenv("COOKIE_DOMAIN")),

		CORSOrigins:      splitCSV(os.Getenv("CORS_ORIGINS")),
		RateLimitRPM:     getInt("RATE_LIMIT_RPM", 100),
		AuthRateLimitRPM: getInt("AUTH_RATE_LIMIT_RPM", 10),
		AppBaseURL:       getEnv("APP_BASE_URL", "http://localhost:5173"),
		AdminEmails:      splitCSV(os.Getenv("ADMIN_EMAILS")),

		SentryDSN: strings.TrimSpace(os.Getenv("SENTRY_DSN")),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "pretty")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if len(c.JWTSecret) < minSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d bytes", minSecretLength)
	}

	if c.ServerPort == "" {
		return fmt.Errorf("SERVER_PORT cannot be empty")
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}

	if c.JWTAccessTTL <= 0 || c.JWTRefreshTTL <= 0 || c.JWTResetTTL <= 0 || c.JWTVerifyTTL <= 0 {
		return fmt.Errorf("JWT TTLs must be positive")
	}

	if c.JWTAccessTTL >= c.JWTRefreshTTL {
		return fmt.Errorf("JWT_ACCESS_TTL must be shorter than JWT_REFRESH_TTL")
	}

	if c.JWTVerifyTTL <= c.JWTAccessTTL {
		return fmt.Errorf("JWT_VERIFY_TTL must be longer than JWT_ACCESS_TTL")
	}

	if c.JWTLeeway < 0 {
		return fmt.Errorf("JWT_LEEWAY cannot be negative")
	}

	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}

	switch c.CookieSameSite {
	case "strict", "lax":
	case "none":
		if !c.CookieSecure {
			return fmt.Errorf("COOKIE_SAMESITE=none requires COOKIE_SECURE=true")
		}
	default:
		return fmt.Errorf("COOKIE_SAMESITE must be strict, lax or none")
	}

	if _, err := url.ParseRequestURI(c.AppBaseURL); err != nil {
		return fmt.Errorf("APP_BASE_URL is invalid: %w", err)
	}

	if c.ResetAttemptWindow <= 0 {
		return fmt.Errorf("RESET_ATTEMPT_WINDOW must be positive")
	}

	if c.LogFormat != "pretty" && c.LogFormat != "json" {
		return fmt.Errorf("LOG_FORMAT must be pretty or json")
	}

	return nil
}

func getEnv(key string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}

	return v
}

func getInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return v
}

func getBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}

	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return v
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}

	return out
}
