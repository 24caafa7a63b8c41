package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds the complete configuration for the reconciler.
type Config struct {
	Environment string           `mapstructure:"environment"`
	Server      ServerConfig     `mapstructure:"server"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Report      ReportConfig     `mapstructure:"report"`
	Settlement  SettlementConfig `mapstructure:"settlement"`
	Webhook     WebhookConfig    `mapstructure:"webhook"`
	Seed        SeedConfig       `mapstructure:"seed"`
	Logging     LoggingConfig    `mapstructure:"logging"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ReportConfig controls how report files are fetched.
type ReportConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
	MaxRedirects    int           `mapstructure:"max_redirects"`
	DownloadDir     string        `mapstructure:"download_dir"`
}

// SettlementConfig holds the row policy applied to settlement reports.
type SettlementConfig struct {
	OrderReferencePrefix string   `mapstructure:"order_reference_prefix"`
	ProcessingFee        string   `mapstructure:"processing_fee"`
	DefaultCurrency      string   `mapstructure:"default_currency"`
	ExcludedTypes        []string `mapstructure:"excluded_types"`
}

type WebhookConfig struct {
	AutoProcess bool `mapstructure:"auto_process"`
}

type SeedConfig struct {
	OrdersPath string `mapstructure:"orders_path"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads configuration from an optional YAML file, RECONCILER_* environment
// variables and the legacy variable names. An explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/settlement-reconciler")
	}

	v.SetEnvPrefix("RECONCILER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 120*time.Second)

	v.SetDefault("database.path", "reconciler.db")

	v.SetDefault("report.api_key", "")
	v.SetDefault("report.download_timeout", 60*time.Second)
	v.SetDefault("report.max_redirects", 10)
	v.SetDefault("report.download_dir", "")

	v.SetDefault("settlement.order_reference_prefix", `(?i)\bord[_-]`)
	v.SetDefault("settlement.processing_fee", "0.5")
	v.SetDefault("settlement.default_currency", "AED")
	v.SetDefault("settlement.excluded_types", []string{"fee", "balance transfer"})

	v.SetDefault("webhook.auto_process", false)
	v.SetDefault("seed.orders_path", "")
	v.SetDefault("logging.level", "info")
}

// bindLegacyEnv maps the variable names used by earlier deployments. The
// prefixed name takes precedence.
func bindLegacyEnv(v *viper.Viper) error {
	legacy := map[string][]string{
		"server.port":    {"RECONCILER_SERVER_PORT", "PORT"},
		"database.path":  {"RECONCILER_DATABASE_PATH", "DB_PATH"},
		"report.api_key": {"RECONCILER_REPORT_API_KEY", "REPORT_API_KEY", "ADYEN_REPORT_API_KEY"},
	}
	for key, envs := range legacy {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if _, err := c.Settlement.Fee(); err != nil {
		return fmt.Errorf("settlement.processing_fee: %w", err)
	}
	if _, err := regexp.Compile(c.Settlement.OrderReferencePrefix); err != nil {
		return fmt.Errorf("settlement.order_reference_prefix: %w", err)
	}
	if strings.TrimSpace(c.Settlement.DefaultCurrency) == "" {
		return errors.New("settlement.default_currency must not be empty")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port: invalid value %d", c.Server.Port)
	}
	return nil
}

// Fee parses the fixed processing fee attributed to each settled line.
func (s SettlementConfig) Fee() (decimal.Decimal, error) {
	return decimal.NewFromString(strings.TrimSpace(s.ProcessingFee))
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
