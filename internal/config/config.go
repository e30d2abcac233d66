package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults applied when neither the config file nor the environment sets a value.
const (
	DefaultConfigPath            = "config.yaml"
	DefaultServerAddr            = ":8080"
	DefaultDatabaseDSN           = "data/microrun.db"
	DefaultProviderTimeout       = 60 * time.Second
	DefaultModel                 = "gpt-4o-mini"
	DefaultFreePlanCredits       = 1000
	DefaultFreePlanMicroappLimit = 3
	DefaultGuestSessionLimit     = 10
	DefaultCycleCloseInterval    = 10 * time.Minute
	DefaultLogLevel              = "info"
	DefaultLogMaxSizeMB          = 100
	DefaultLogMaxBackups         = 5
	DefaultLogMaxAgeDays         = 30
	configPathEnv                = "MICRORUN_CONFIG"
)

// AppConfig holds process-level options passed from the command line.
type AppConfig struct {
	ConfigPath string
}

// Config is the fully resolved service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Logging   LoggingConfig   `yaml:"logging"`
	JWT       JWTConfig       `yaml:"jwt"`
	Providers ProvidersConfig `yaml:"providers"`
	Billing   BillingConfig   `yaml:"billing"`
	Models    ModelsConfig    `yaml:"models"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DatabaseConfig configures the gorm connection.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig enables the distributed owner lock when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LoggingConfig configures logrus output and rotation.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max-size-mb"`
	MaxBackups int    `yaml:"max-backups"`
	MaxAgeDays int    `yaml:"max-age-days"`
}

// JWTConfig holds the shared secret used to verify user tokens.
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// ProviderConfig holds the credentials and endpoint of one provider family.
type ProviderConfig struct {
	APIKey  string `yaml:"api-key"`
	BaseURL string `yaml:"base-url"`
}

// ProvidersConfig configures all provider families.
type ProvidersConfig struct {
	Timeout    Duration       `yaml:"timeout"`
	OpenAI     ProviderConfig `yaml:"openai"`
	Anthropic  ProviderConfig `yaml:"anthropic"`
	Gemini     ProviderConfig `yaml:"gemini"`
	Perplexity ProviderConfig `yaml:"perplexity"`
	DeepSeek   ProviderConfig `yaml:"deepseek"`
}

// BillingConfig holds plan classification and quota limits.
type BillingConfig struct {
	FreePlanCredits       int64    `yaml:"free-plan-credits"`
	FreePlanMicroappLimit int      `yaml:"free-plan-microapp-limit"`
	GuestSessionLimit     int      `yaml:"guest-session-limit"`
	IndividualPriceIDs    []string `yaml:"individual-price-ids"`
	EnterprisePriceIDs    []string `yaml:"enterprise-price-ids"`
	CycleCloseInterval    Duration `yaml:"cycle-close-interval"`
}

// ModelsConfig configures model selection defaults.
type ModelsConfig struct {
	Default string `yaml:"default"`
}

// Duration decodes YAML duration strings such as "60s".
type Duration time.Duration

// UnmarshalYAML parses a duration string or an integer number of seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	raw := strings.TrimSpace(value.Value)
	if raw == "" {
		*d = 0
		return nil
	}
	if seconds, errAtoi := strconv.Atoi(raw); errAtoi == nil {
		*d = Duration(time.Duration(seconds) * time.Second)
		return nil
	}
	parsed, errParse := time.ParseDuration(raw)
	if errParse != nil {
		return fmt.Errorf("config: invalid duration %q: %w", raw, errParse)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ResolveConfigPath picks the config path from the flag, the environment, or the default.
func ResolveConfigPath(path string) string {
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		return trimmed
	}
	if fromEnv := strings.TrimSpace(os.Getenv(configPathEnv)); fromEnv != "" {
		return fromEnv
	}
	return DefaultConfigPath
}

// ConfigExists reports whether a config file is present at path.
func ConfigExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Load reads .env, the YAML file at path (optional) and environment overrides.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, errRead := os.ReadFile(path)
		switch {
		case errRead == nil:
			if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, errUnmarshal)
			}
		case errors.Is(errRead, os.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("config: read %s: %w", path, errRead)
		}
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	return cfg, nil
}

// LoadDatabaseDSN returns only the database DSN for the given config path.
func LoadDatabaseDSN(path string) (string, error) {
	cfg, err := Load(path)
	if err != nil {
		return "", err
	}
	return cfg.Database.DSN, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Database.DSN, "DATABASE_DSN")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setString(&cfg.JWT.Secret, "JWT_SECRET")
	setString(&cfg.Server.Addr, "SERVER_ADDR")
	setString(&cfg.Logging.Level, "LOG_LEVEL")

	setString(&cfg.Providers.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&cfg.Providers.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	setString(&cfg.Providers.Gemini.APIKey, "GOOGLE_API_KEY")
	setString(&cfg.Providers.Perplexity.APIKey, "PERPLEXITY_API_KEY")
	setString(&cfg.Providers.DeepSeek.APIKey, "DEEPSEEK_API_KEY")

	setString(&cfg.Models.Default, "DEFAULT_AI_MODEL")
	setInt(&cfg.Billing.FreePlanMicroappLimit, "FREE_PLAN_MICROAPP_LIMIT")
	setInt(&cfg.Billing.GuestSessionLimit, "GUEST_USER_SESSION_LIMIT")
	setList(&cfg.Billing.IndividualPriceIDs, "INDIVIDUAL_PRICE_IDS")
	setList(&cfg.Billing.EnterprisePriceIDs, "ENTERPRISE_PRICE_IDS")
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = DefaultServerAddr
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = DefaultDatabaseDSN
	}
	if cfg.Providers.Timeout <= 0 {
		cfg.Providers.Timeout = Duration(DefaultProviderTimeout)
	}
	if cfg.Models.Default == "" {
		cfg.Models.Default = DefaultModel
	}
	if cfg.Billing.FreePlanCredits <= 0 {
		cfg.Billing.FreePlanCredits = DefaultFreePlanCredits
	}
	if cfg.Billing.FreePlanMicroappLimit <= 0 {
		cfg.Billing.FreePlanMicroappLimit = DefaultFreePlanMicroappLimit
	}
	if cfg.Billing.GuestSessionLimit <= 0 {
		cfg.Billing.GuestSessionLimit = DefaultGuestSessionLimit
	}
	if cfg.Billing.CycleCloseInterval <= 0 {
		cfg.Billing.CycleCloseInterval = Duration(DefaultCycleCloseInterval)
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.MaxSizeMB <= 0 {
		cfg.Logging.MaxSizeMB = DefaultLogMaxSizeMB
	}
	if cfg.Logging.MaxBackups <= 0 {
		cfg.Logging.MaxBackups = DefaultLogMaxBackups
	}
	if cfg.Logging.MaxAgeDays <= 0 {
		cfg.Logging.MaxAgeDays = DefaultLogMaxAgeDays
	}
}

func setString(dst *string, key string) {
	if value, ok := os.LookupEnv(key); ok {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			*dst = trimmed
		}
	}
}

func setInt(dst *int, key string) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return
	}
	*dst = parsed
}

func setList(dst *[]string, key string) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) > 0 {
		*dst = out
	}
}
