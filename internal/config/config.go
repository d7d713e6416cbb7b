package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/phigate/phigate/internal/platform/deid"
	"github.com/phigate/phigate/internal/platform/hipaa"
	"github.com/phigate/phigate/internal/platform/recognizer"
	"github.com/phigate/phigate/internal/platform/verify"
)

// Profile store backends.
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Entity recognizer backends. RecognizerNone runs pattern rules only and is
// accepted in development alone.
const (
	RecognizerSidecar = "sidecar"
	RecognizerNone    = "none"
)

// Auth modes.
const (
	AuthModeDevelopment = "development"
	AuthModeJWT         = "jwt"
)

type Config struct {
	Port         string `mapstructure:"PORT"`
	Env          string `mapstructure:"ENV"`
	LogLevel     string `mapstructure:"LOG_LEVEL"`
	AuthMode     string `mapstructure:"AUTH_MODE"`
	ProfileStore string `mapstructure:"PROFILE_STORE"`
	DatabaseURL  string `mapstructure:"DATABASE_URL"`
	DBMaxConns   int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns   int32  `mapstructure:"DB_MIN_CONNS"`
	SQLitePath   string `mapstructure:"SQLITE_PATH"`

	AuthIssuer     string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string   `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL    string   `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey string   `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`

	HIPAAEncryptionKey string `mapstructure:"HIPAA_ENCRYPTION_KEY"`
	HIPAAKeyVersion    int    `mapstructure:"HIPAA_KEY_VERSION"`
	HIPAAPreviousKeys  string `mapstructure:"HIPAA_PREVIOUS_KEYS"`

	Recognizer           string        `mapstructure:"RECOGNIZER"`
	RecognizerURL        string        `mapstructure:"RECOGNIZER_URL"`
	RecognizerTimeout    time.Duration `mapstructure:"RECOGNIZER_TIMEOUT"`
	RecognizerOffsetUnit string        `mapstructure:"RECOGNIZER_OFFSET_UNIT"`
	RecognizerCacheSize  int           `mapstructure:"RECOGNIZER_CACHE_SIZE"`

	DeidOverlapPolicy string `mapstructure:"DEID_OVERLAP_POLICY"`
	DeidConcurrency   int    `mapstructure:"DEID_CONCURRENCY"`

	VerifyPolicy         string   `mapstructure:"VERIFY_POLICY"`
	VerifyRequiredFields []string `mapstructure:"VERIFY_REQUIRED_FIELDS"`
	VerifyMinNameLength  int      `mapstructure:"VERIFY_MIN_NAME_LENGTH"`

	SummarizerURL     string        `mapstructure:"SUMMARIZER_URL"`
	SummarizerTimeout time.Duration `mapstructure:"SUMMARIZER_TIMEOUT"`

	AuditRetention     time.Duration `mapstructure:"AUDIT_RETENTION"`
	AuditPurgeInterval time.Duration `mapstructure:"AUDIT_PURGE_INTERVAL"`

	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "AUTH_MODE", "PROFILE_STORE",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "SQLITE_PATH",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY", "CORS_ORIGINS",
	"HIPAA_ENCRYPTION_KEY", "HIPAA_KEY_VERSION", "HIPAA_PREVIOUS_KEYS",
	"RECOGNIZER", "RECOGNIZER_URL", "RECOGNIZER_TIMEOUT", "RECOGNIZER_OFFSET_UNIT", "RECOGNIZER_CACHE_SIZE",
	"DEID_OVERLAP_POLICY", "DEID_CONCURRENCY",
	"VERIFY_POLICY", "VERIFY_REQUIRED_FIELDS", "VERIFY_MIN_NAME_LENGTH",
	"SUMMARIZER_URL", "SUMMARIZER_TIMEOUT",
	"AUDIT_RETENTION", "AUDIT_PURGE_INTERVAL",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "BODY_LIMIT", "REQUEST_TIMEOUT",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("AUTH_MODE", "") // "" -> inferred from ENV
	v.SetDefault("PROFILE_STORE", StoreSQLite)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("SQLITE_PATH", "./data/phigate.db")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("HIPAA_KEY_VERSION", 1)
	v.SetDefault("RECOGNIZER", RecognizerSidecar)
	v.SetDefault("RECOGNIZER_TIMEOUT", "10s")
	v.SetDefault("RECOGNIZER_OFFSET_UNIT", string(recognizer.OffsetRunes))
	v.SetDefault("RECOGNIZER_CACHE_SIZE", 1024)
	v.SetDefault("DEID_OVERLAP_POLICY", deid.OverlapNested.String())
	v.SetDefault("DEID_CONCURRENCY", 1)
	v.SetDefault("VERIFY_POLICY", string(verify.PolicyAny))
	v.SetDefault("VERIFY_MIN_NAME_LENGTH", 2)
	v.SetDefault("SUMMARIZER_TIMEOUT", "60s")
	v.SetDefault("AUDIT_RETENTION", hipaa.MinAuditRetention.String())
	v.SetDefault("AUDIT_PURGE_INTERVAL", "24h")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("BODY_LIMIT", "8M")
	v.SetDefault("REQUEST_TIMEOUT", "90s")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins, v.GetString("CORS_ORIGINS"))
	cfg.VerifyRequiredFields = splitList(cfg.VerifyRequiredFields, v.GetString("VERIFY_REQUIRED_FIELDS"))
	cfg.ProfileStore = strings.ToLower(strings.TrimSpace(cfg.ProfileStore))
	cfg.Recognizer = strings.ToLower(strings.TrimSpace(cfg.Recognizer))

	if cfg.ProfileStore == StorePostgres && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required when PROFILE_STORE=postgres")
	}

	return cfg, nil
}

// splitList normalizes a comma-separated list that viper may have decoded as
// a single element.
func splitList(decoded []string, raw string) []string {
	if len(decoded) == 1 {
		raw = decoded[0]
	} else if len(decoded) > 1 {
		raw = strings.Join(decoded, ",")
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns the effective auth mode. If AUTH_MODE is explicitly
// set, it is returned. Otherwise ENV=development means "development" (the
// subject comes from X-Dev-Subject) and anything else means "jwt".
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return AuthModeDevelopment
	}
	return AuthModeJWT
}

// CheckRecognizer rejects a configuration that would silently run pattern
// rules only: RECOGNIZER=none must be chosen explicitly, and only in
// development. An empty RECOGNIZER means sidecar.
func (c *Config) CheckRecognizer() error {
	switch c.Recognizer {
	case RecognizerSidecar, "":
		if c.RecognizerURL == "" {
			return fmt.Errorf("RECOGNIZER_URL is required unless RECOGNIZER=none (development only)")
		}
	case RecognizerNone:
		if !c.IsDev() {
			return fmt.Errorf("RECOGNIZER=none is only allowed in development (current ENV=%q)", c.Env)
		}
	default:
		return fmt.Errorf("RECOGNIZER must be %q or %q, got %q", RecognizerSidecar, RecognizerNone, c.Recognizer)
	}
	return nil
}

// OverlapPolicy returns the parsed DEID_OVERLAP_POLICY.
func (c *Config) OverlapPolicy() (deid.OverlapPolicy, error) {
	return deid.ParseOverlapPolicy(c.DeidOverlapPolicy)
}

// OffsetUnit returns the parsed RECOGNIZER_OFFSET_UNIT.
func (c *Config) OffsetUnit() (recognizer.OffsetUnit, error) {
	return recognizer.ParseOffsetUnit(c.RecognizerOffsetUnit)
}

// VerifyConfig builds the verifier settings.
func (c *Config) VerifyConfig() (verify.Config, error) {
	policy, err := verify.ParsePolicy(c.VerifyPolicy)
	if err != nil {
		return verify.Config{}, err
	}
	required := make([]verify.Field, 0, len(c.VerifyRequiredFields))
	for _, name := range c.VerifyRequiredFields {
		f, err := verify.ParseField(name)
		if err != nil {
			return verify.Config{}, fmt.Errorf("VERIFY_REQUIRED_FIELDS: %w", err)
		}
		required = append(required, f)
	}
	return verify.Config{Policy: policy, Required: required, MinNameLength: c.VerifyMinNameLength}, nil
}

// Validate checks that the configuration is safe to run. Outside development
// a recognizer is required, since pattern rules alone miss names and places,
// and JWT auth must have a key source. In production HIPAA_ENCRYPTION_KEY is
// required.
func (c *Config) Validate() error {
	switch c.ResolvedAuthMode() {
	case AuthModeDevelopment:
		if c.IsProduction() {
			return fmt.Errorf("AUTH_MODE=development is not allowed in production")
		}
	case AuthModeJWT:
		if c.AuthJWKSURL == "" && c.AuthSigningKey == "" {
			return fmt.Errorf("AUTH_JWKS_URL or AUTH_SIGNING_KEY must be set when AUTH_MODE is \"jwt\" (current ENV=%q)", c.Env)
		}
	default:
		return fmt.Errorf("AUTH_MODE must be \"development\" or \"jwt\", got %q", c.AuthMode)
	}

	switch c.ProfileStore {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when PROFILE_STORE=postgres")
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when PROFILE_STORE=sqlite")
		}
	default:
		return fmt.Errorf("PROFILE_STORE must be \"postgres\" or \"sqlite\", got %q", c.ProfileStore)
	}

	if err := c.CheckRecognizer(); err != nil {
		return err
	}

	// HIPAA encryption key validation
	if c.IsProduction() && c.HIPAAEncryptionKey == "" {
		return fmt.Errorf("HIPAA_ENCRYPTION_KEY is required in production")
	}
	if c.HIPAAEncryptionKey != "" {
		keyBytes, err := hex.DecodeString(c.HIPAAEncryptionKey)
		if err != nil {
			return fmt.Errorf("HIPAA_ENCRYPTION_KEY is not valid hex: %w", err)
		}
		if len(keyBytes) != 32 {
			return fmt.Errorf("HIPAA_ENCRYPTION_KEY must be 32 bytes (64 hex chars), got %d bytes", len(keyBytes))
		}
	}

	if _, err := c.OverlapPolicy(); err != nil {
		return fmt.Errorf("DEID_OVERLAP_POLICY: %w", err)
	}
	if _, err := c.OffsetUnit(); err != nil {
		return fmt.Errorf("RECOGNIZER_OFFSET_UNIT: %w", err)
	}
	if _, err := c.VerifyConfig(); err != nil {
		return err
	}
	if c.DeidConcurrency < 1 {
		return fmt.Errorf("DEID_CONCURRENCY must be at least 1, got %d", c.DeidConcurrency)
	}
	if c.AuditRetention < hipaa.MinAuditRetention {
		return fmt.Errorf("AUDIT_RETENTION must be at least %s, got %s", hipaa.MinAuditRetention, c.AuditRetention)
	}
	if c.AuditPurgeInterval <= 0 {
		return fmt.Errorf("AUDIT_PURGE_INTERVAL must be positive, got %s", c.AuditPurgeInterval)
	}
	if c.VerifyMinNameLength < 1 {
		return fmt.Errorf("VERIFY_MIN_NAME_LENGTH must be at least 1, got %d", c.VerifyMinNameLength)
	}

	return nil
}
