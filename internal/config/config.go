package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration required by the API process.
// Values come from the environment, optionally seeded from an env file.
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	Storage   StorageConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Dispatch  DispatchConfig
	Telephony TelephonyConfig
	Realtime  RealtimeConfig
}

type AppConfig struct {
	Env      string
	Port     int
	LogLevel string
}

type StorageConfig struct {
	// Driver is "memory" or "postgres".
	Driver string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type DispatchConfig struct {
	// DefaultWrapUp applies to agents whose settings carry no wrap-up time.
	DefaultWrapUp time.Duration
}

type TelephonyConfig struct {
	// BaseURL of the telephony control plane. Empty selects the no-op controller.
	BaseURL  string
	APIToken string
	Timeout  time.Duration

	// SIPDomain is used to build agent dial targets (sip:<ext>@<domain>).
	SIPDomain string

	// WebhookSecret, when set, is required in the X-Webhook-Token header.
	WebhookSecret string
}

type RealtimeConfig struct {
	AllowedOrigins []string

	// Relay is "none" or "redis".
	Relay        string
	RelayChannel string
}

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"

	RelayNone  = "none"
	RelayRedis = "redis"
)

// Load reads configuration from the environment. If envFile is non-empty it
// is loaded first; variables already set in the environment win.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	c.App.LogLevel = strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.Storage.Driver = strings.ToLower(strings.TrimSpace(os.Getenv("STORAGE_DRIVER")))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := optionalInt("DB_PORT", 5432)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := optionalInt("REDIS_PORT", 6379)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate().
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")

	{
		n, err := optionalInt("DISPATCH_WRAP_UP_SECONDS", 0)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Dispatch.DefaultWrapUp = time.Duration(n) * time.Second
	}

	c.Telephony.BaseURL = strings.TrimSpace(os.Getenv("TELEPHONY_BASE_URL"))
	c.Telephony.APIToken = os.Getenv("TELEPHONY_API_TOKEN")
	c.Telephony.Timeout = mustDuration("TELEPHONY_TIMEOUT")
	c.Telephony.SIPDomain = strings.TrimSpace(os.Getenv("SIP_DOMAIN"))
	c.Telephony.WebhookSecret = os.Getenv("TELEPHONY_WEBHOOK_SECRET")

	c.Realtime.AllowedOrigins = splitList(os.Getenv("REALTIME_ALLOWED_ORIGINS"))
	c.Realtime.Relay = strings.ToLower(strings.TrimSpace(os.Getenv("REALTIME_RELAY")))
	c.Realtime.RelayChannel = strings.TrimSpace(os.Getenv("REALTIME_RELAY_CHANNEL"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the configuration and fills defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.Storage.Driver == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("STORAGE_DRIVER is required in production"))
		} else {
			c.Storage.Driver = StorageMemory
		}
	}
	switch c.Storage.Driver {
	case StorageMemory:
		if c.IsProduction() {
			errs = append(errs, errors.New("STORAGE_DRIVER=memory is not allowed in production"))
		}
	case StoragePostgres:
		errs = append(errs, c.validateDB()...)
	case "":
	default:
		errs = append(errs, fmt.Errorf("STORAGE_DRIVER must be one of memory, postgres, got %q", c.Storage.Driver))
	}

	if c.Realtime.Relay == "" {
		c.Realtime.Relay = RelayNone
	}
	switch c.Realtime.Relay {
	case RelayNone:
	case RelayRedis:
		if c.Redis.Host == "" {
			errs = append(errs, errors.New("REDIS_HOST is required when REALTIME_RELAY=redis"))
		}
		if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
		}
	default:
		errs = append(errs, fmt.Errorf("REALTIME_RELAY must be one of none, redis, got %q", c.Realtime.Relay))
	}
	if c.Realtime.RelayChannel == "" {
		c.Realtime.RelayChannel = "dispatch:events"
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Dispatch.DefaultWrapUp < 0 {
		errs = append(errs, errors.New("DISPATCH_WRAP_UP_SECONDS must not be negative"))
	}
	if c.Dispatch.DefaultWrapUp == 0 {
		c.Dispatch.DefaultWrapUp = 30 * time.Second
	}

	if c.Telephony.Timeout <= 0 {
		c.Telephony.Timeout = 10 * time.Second
	}
	if c.Telephony.BaseURL != "" && !strings.HasPrefix(c.Telephony.BaseURL, "http://") && !strings.HasPrefix(c.Telephony.BaseURL, "https://") {
		errs = append(errs, fmt.Errorf("TELEPHONY_BASE_URL must be an http(s) URL, got %q", c.Telephony.BaseURL))
	}
	if c.Telephony.SIPDomain == "" {
		c.Telephony.SIPDomain = "pbx.local"
	}

	return joinErrors(errs)
}

func (c *Config) validateDB() []error {
	var errs []error
	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
