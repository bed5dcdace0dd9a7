package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable names recognized by the config loader.
const (
	EnvConfigPath       = "CONFIG_PATH"
	EnvDBConnection     = "DB_CONNECTION"
	EnvJWTSecret        = "JWT_SECRET"
	EnvJWTExpiry        = "JWT_EXPIRY"
	EnvAbuseHashSalt    = "ABUSE_HASH_SALT"
	EnvAbuseLookback    = "ABUSE_LOOKBACK"
	EnvGroqAPIKey       = "GROQ_API_KEY"
	EnvGroqModel        = "GROQ_MODEL"
	EnvCouponsCSV       = "CREDIT_COUPONS"
	EnvCouponsJSON      = "CREDIT_COUPONS_JSON"
	EnvCouponWhitelist  = "COUPON_EMAIL_WHITELIST_REQUIRED"
	EnvAdminPassword    = "ADMIN_PASSWORD"
	EnvDuplicateIPCheck = "SIGNUP_IP_DUPLICATE_CHECK"
)

// AppConfig holds resolved application configuration values.
type AppConfig struct {
	ConfigPath string
}

// LoadFromEnv loads app config from environment variables.
func LoadFromEnv() (AppConfig, error) {
	return AppConfig{ConfigPath: ResolveConfigPath(os.Getenv(EnvConfigPath))}, nil
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// ErrMissingDatabaseDSN indicates no database DSN is present in the config file.
var ErrMissingDatabaseDSN = errors.New("missing database dsn (set `database-dsn` or `database.dsn` in config file)")

// JWTConfig holds JWT secret and expiry settings.
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	Expiry time.Duration `yaml:"expiry"`
}

// LoadDatabaseDSN reads the database DSN from the YAML config file.
func LoadDatabaseDSN(configPath string) (string, error) {
	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		return dsn, nil
	}

	// fileConfig maps the YAML fields needed for DSN resolution.
	type fileConfig struct {
		DatabaseDSN string `yaml:"database-dsn"`
		Database    struct {
			DSN string `yaml:"dsn"`
		} `yaml:"database"`
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("read config file: %w", err)
	}

	var cfg fileConfig
	if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
		return "", fmt.Errorf("parse config file: %w", errUnmarshal)
	}

	if dsn := strings.TrimSpace(cfg.DatabaseDSN); dsn != "" {
		return dsn, nil
	}
	if dsn := strings.TrimSpace(cfg.Database.DSN); dsn != "" {
		return dsn, nil
	}
	return "", ErrMissingDatabaseDSN
}

// defaultJWTExpiry is used when the config omits or invalidates JWT expiry.
const defaultJWTExpiry = 30 * 24 * time.Hour

// LoadJWTConfig loads JWT settings from the YAML config file.
func LoadJWTConfig(configPath string) (JWTConfig, error) {
	// fileConfig maps the YAML fields needed for JWT settings.
	type fileConfig struct {
		JWT JWTConfig `yaml:"jwt"`
	}

	result := JWTConfig{Expiry: defaultJWTExpiry}

	data, errRead := os.ReadFile(configPath)
	if errRead == nil {
		var cfg fileConfig
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal == nil {
			result = cfg.JWT
		}
	}

	if secret := strings.TrimSpace(os.Getenv(EnvJWTSecret)); secret != "" {
		result.Secret = secret
	}
	if expiryRaw := strings.TrimSpace(os.Getenv(EnvJWTExpiry)); expiryRaw != "" {
		if expiry, errParse := time.ParseDuration(expiryRaw); errParse == nil && expiry > 0 {
			result.Expiry = expiry
		}
	}

	if result.Expiry <= 0 {
		result.Expiry = defaultJWTExpiry
	}
	return result, nil
}

// Guard config defaults.
const (
	defaultHashSalt        = "local_dev_salt"
	defaultAbuseLookback   = 24 * time.Hour
	defaultGroqModel       = "llama-3.1-70b-versatile"
	defaultGroqEndpoint    = "https://api.groq.com/openai/v1/chat/completions"
	defaultInitialCredits  = 100
	defaultInitialDays     = 3
	defaultDailyFree       = 20
	defaultBypassMonths    = 2
	defaultDailyLimit      = 20
	defaultPerMinuteLimit  = 6
	defaultSuspiciousDaily = 3
)

// CreditConfig holds credit ledger tunables.
type CreditConfig struct {
	InitialCredits    float64 `yaml:"initial-credits"`
	InitialPeriodDays int     `yaml:"initial-period-days"`
	DailyFreeCredits  float64 `yaml:"daily-free-credits"`
	DuplicateIPCheck  *bool   `yaml:"duplicate-ip-check"`
}

// AbuseConfig holds abuse guard tunables.
type AbuseConfig struct {
	HashSalt     string        `yaml:"hash-salt"`
	Lookback     time.Duration `yaml:"lookback"`
	HeavyActions []string      `yaml:"heavy-actions"`
}

// UsageConfig holds usage rate limiter tunables.
type UsageConfig struct {
	DailyLimit           int `yaml:"daily-limit"`
	PerMinuteLimit       int `yaml:"per-minute-limit"`
	SuspiciousDailyLimit int `yaml:"suspicious-daily-limit"`
}

// CouponConfig holds coupon catalog and whitelist tunables.
type CouponConfig struct {
	CatalogCSV        string `yaml:"catalog"`
	CatalogJSON       string `yaml:"catalog-json"`
	WhitelistRequired *bool  `yaml:"whitelist-required"`
	BypassMonths      int    `yaml:"bypass-months"`
}

// GroqConfig holds LLM classifier connection settings.
type GroqConfig struct {
	APIKey   string `yaml:"api-key"`
	Model    string `yaml:"model"`
	Endpoint string `yaml:"endpoint"`
}

// GuardConfig aggregates credit, abuse, usage, coupon, and classifier
// settings resolved from file defaults plus env overrides.
type GuardConfig struct {
	Credits CreditConfig `yaml:"credits"`
	Abuse   AbuseConfig  `yaml:"abuse"`
	Usage   UsageConfig  `yaml:"usage"`
	Coupons CouponConfig `yaml:"coupons"`
	Groq    GroqConfig   `yaml:"groq"`
}

// WhitelistEnforced reports whether coupon redemption requires a whitelist
// entry. Enforcement defaults on and must be disabled explicitly.
func (c CouponConfig) WhitelistEnforced() bool {
	if c.WhitelistRequired == nil {
		return true
	}
	return *c.WhitelistRequired
}

// DuplicateIPCheckEnabled reports whether ledger profile creation rejects
// signup-IP duplicates. Defaults on.
func (c CreditConfig) DuplicateIPCheckEnabled() bool {
	if c.DuplicateIPCheck == nil {
		return true
	}
	return *c.DuplicateIPCheck
}

// DefaultHeavyActions lists the actions restricted for suspicious identities.
func DefaultHeavyActions() []string {
	return []string{"generateNewPlan", "generateChapterOutline", "generateChapterScript"}
}

// LoadGuardConfig loads guard settings from the YAML config file, applying
// defaults and env overrides. A missing config file yields pure defaults.
func LoadGuardConfig(configPath string) (GuardConfig, error) {
	// fileConfig maps the YAML fields for guard settings.
	type fileConfig struct {
		Guard GuardConfig `yaml:"guard"`
	}

	result := GuardConfig{
		Credits: CreditConfig{
			InitialCredits:    defaultInitialCredits,
			InitialPeriodDays: defaultInitialDays,
			DailyFreeCredits:  defaultDailyFree,
		},
		Abuse: AbuseConfig{
			HashSalt: defaultHashSalt,
			Lookback: defaultAbuseLookback,
		},
		Usage: UsageConfig{
			DailyLimit:           defaultDailyLimit,
			PerMinuteLimit:       defaultPerMinuteLimit,
			SuspiciousDailyLimit: defaultSuspiciousDaily,
		},
		Coupons: CouponConfig{
			BypassMonths: defaultBypassMonths,
		},
		Groq: GroqConfig{
			Model:    defaultGroqModel,
			Endpoint: defaultGroqEndpoint,
		},
	}

	data, errRead := os.ReadFile(configPath)
	if errRead == nil {
		var cfg fileConfig
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
			return result, fmt.Errorf("parse config file: %w", errUnmarshal)
		}
		mergeGuardConfig(&result, cfg.Guard)
	}

	applyGuardEnv(&result)

	if len(result.Abuse.HeavyActions) == 0 {
		result.Abuse.HeavyActions = DefaultHeavyActions()
	}
	if result.Abuse.Lookback <= 0 {
		result.Abuse.Lookback = defaultAbuseLookback
	}
	if result.Coupons.BypassMonths <= 0 {
		result.Coupons.BypassMonths = defaultBypassMonths
	}
	return result, nil
}

// mergeGuardConfig overlays set file values onto the defaults.
func mergeGuardConfig(dst *GuardConfig, src GuardConfig) {
	if src.Credits.InitialCredits > 0 {
		dst.Credits.InitialCredits = src.Credits.InitialCredits
	}
	if src.Credits.InitialPeriodDays > 0 {
		dst.Credits.InitialPeriodDays = src.Credits.InitialPeriodDays
	}
	if src.Credits.DailyFreeCredits > 0 {
		dst.Credits.DailyFreeCredits = src.Credits.DailyFreeCredits
	}
	if src.Credits.DuplicateIPCheck != nil {
		dst.Credits.DuplicateIPCheck = src.Credits.DuplicateIPCheck
	}

	if strings.TrimSpace(src.Abuse.HashSalt) != "" {
		dst.Abuse.HashSalt = strings.TrimSpace(src.Abuse.HashSalt)
	}
	if src.Abuse.Lookback > 0 {
		dst.Abuse.Lookback = src.Abuse.Lookback
	}
	if len(src.Abuse.HeavyActions) > 0 {
		dst.Abuse.HeavyActions = src.Abuse.HeavyActions
	}

	if src.Usage.DailyLimit > 0 {
		dst.Usage.DailyLimit = src.Usage.DailyLimit
	}
	if src.Usage.PerMinuteLimit > 0 {
		dst.Usage.PerMinuteLimit = src.Usage.PerMinuteLimit
	}
	if src.Usage.SuspiciousDailyLimit > 0 {
		dst.Usage.SuspiciousDailyLimit = src.Usage.SuspiciousDailyLimit
	}

	if strings.TrimSpace(src.Coupons.CatalogCSV) != "" {
		dst.Coupons.CatalogCSV = src.Coupons.CatalogCSV
	}
	if strings.TrimSpace(src.Coupons.CatalogJSON) != "" {
		dst.Coupons.CatalogJSON = src.Coupons.CatalogJSON
	}
	if src.Coupons.WhitelistRequired != nil {
		dst.Coupons.WhitelistRequired = src.Coupons.WhitelistRequired
	}
	if src.Coupons.BypassMonths > 0 {
		dst.Coupons.BypassMonths = src.Coupons.BypassMonths
	}

	if strings.TrimSpace(src.Groq.APIKey) != "" {
		dst.Groq.APIKey = strings.TrimSpace(src.Groq.APIKey)
	}
	if strings.TrimSpace(src.Groq.Model) != "" {
		dst.Groq.Model = strings.TrimSpace(src.Groq.Model)
	}
	if strings.TrimSpace(src.Groq.Endpoint) != "" {
		dst.Groq.Endpoint = strings.TrimSpace(src.Groq.Endpoint)
	}
}

// applyGuardEnv applies environment overrides onto the loaded config.
func applyGuardEnv(cfg *GuardConfig) {
	if salt := strings.TrimSpace(os.Getenv(EnvAbuseHashSalt)); salt != "" {
		cfg.Abuse.HashSalt = salt
	}
	if raw := strings.TrimSpace(os.Getenv(EnvAbuseLookback)); raw != "" {
		if lookback, errParse := time.ParseDuration(raw); errParse == nil && lookback > 0 {
			cfg.Abuse.Lookback = lookback
		}
	}
	if key := strings.TrimSpace(os.Getenv(EnvGroqAPIKey)); key != "" {
		cfg.Groq.APIKey = key
	}
	if model := strings.TrimSpace(os.Getenv(EnvGroqModel)); model != "" {
		cfg.Groq.Model = model
	}
	if csv := strings.TrimSpace(os.Getenv(EnvCouponsCSV)); csv != "" {
		cfg.Coupons.CatalogCSV = csv
	}
	if raw := strings.TrimSpace(os.Getenv(EnvCouponsJSON)); raw != "" {
		cfg.Coupons.CatalogJSON = raw
	}
	if raw := strings.TrimSpace(os.Getenv(EnvCouponWhitelist)); raw != "" {
		if enabled, errParse := strconv.ParseBool(raw); errParse == nil {
			cfg.Coupons.WhitelistRequired = &enabled
		}
	}
	if raw := strings.TrimSpace(os.Getenv(EnvDuplicateIPCheck)); raw != "" {
		if enabled, errParse := strconv.ParseBool(raw); errParse == nil {
			cfg.Credits.DuplicateIPCheck = &enabled
		}
	}
}
