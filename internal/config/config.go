package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Gemini    ProviderConfig  `yaml:"gemini" mapstructure:"gemini"`
	OpenAI    ProviderConfig  `yaml:"openai" mapstructure:"openai"`
	Anthropic ProviderConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Extract   ExtractConfig   `yaml:"extract" mapstructure:"extract"`
	Mapping   MappingConfig   `yaml:"mapping" mapstructure:"mapping"`
	Validate  ValidateConfig  `yaml:"validate" mapstructure:"validate"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Transfer  TransferConfig  `yaml:"transfer" mapstructure:"transfer"`
	Alerting  AlertingConfig  `yaml:"alerting" mapstructure:"alerting"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ProviderConfig holds one logical provider's API settings. PrimaryModel is
// tried first; FallbackModel takes over after the retry budget is exhausted.
type ProviderConfig struct {
	Key           string  `yaml:"key" mapstructure:"key"`
	BaseURL       string  `yaml:"base_url" mapstructure:"base_url"`
	PrimaryModel  string  `yaml:"primary_model" mapstructure:"primary_model"`
	FallbackModel string  `yaml:"fallback_model" mapstructure:"fallback_model"`
	TimeoutSecs   int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec    float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// ExtractConfig configures the two-phase extraction engine.
type ExtractConfig struct {
	CatalogPath    string `yaml:"catalog_path" mapstructure:"catalog_path"`
	MaxConcurrency int    `yaml:"max_concurrency" mapstructure:"max_concurrency"`
	MaxAttempts    int    `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// MappingConfig configures the code mapping engine.
type MappingConfig struct {
	TableDir string `yaml:"table_dir" mapstructure:"table_dir"`
}

// ValidateConfig configures the confidence router.
type ValidateConfig struct {
	AutoConfirmThreshold float64 `yaml:"auto_confirm_threshold" mapstructure:"auto_confirm_threshold"`
}

// PipelineConfig configures the orchestrator.
type PipelineConfig struct {
	SourceDir   string `yaml:"source_dir" mapstructure:"source_dir"`
	DocumentDir string `yaml:"document_dir" mapstructure:"document_dir"`
	ExportDir   string `yaml:"export_dir" mapstructure:"export_dir"`
}

// TransferConfig configures the outbound transfer gateway.
type TransferConfig struct {
	Sender  string `yaml:"sender" mapstructure:"sender"`
	DestDir string `yaml:"dest_dir" mapstructure:"dest_dir"`
	FTPAddr string `yaml:"ftp_addr" mapstructure:"ftp_addr"`
	FTPUser string `yaml:"ftp_user" mapstructure:"ftp_user"`
	FTPPass string `yaml:"ftp_pass" mapstructure:"ftp_pass"`
	FTPDir  string `yaml:"ftp_dir" mapstructure:"ftp_dir"`
}

// AlertingConfig configures operator alerts.
type AlertingConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// ServerConfig configures the control-surface HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TERMS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "terms.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("gemini.base_url", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("gemini.primary_model", "gemini-2.5-pro")
	v.SetDefault("gemini.fallback_model", "gemini-2.5-flash")
	v.SetDefault("gemini.timeout_secs", 120)
	v.SetDefault("gemini.rate_per_sec", 1)
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.primary_model", "gpt-4.1")
	v.SetDefault("openai.fallback_model", "gpt-4.1-mini")
	v.SetDefault("openai.timeout_secs", 120)
	v.SetDefault("openai.rate_per_sec", 1)
	v.SetDefault("anthropic.primary_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.fallback_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.timeout_secs", 120)
	v.SetDefault("anthropic.rate_per_sec", 1)
	v.SetDefault("extract.max_concurrency", 3)
	v.SetDefault("extract.max_attempts", 3)
	v.SetDefault("mapping.table_dir", "data/mapping_tables")
	v.SetDefault("validate.auto_confirm_threshold", 0.95)
	v.SetDefault("pipeline.source_dir", "data/source")
	v.SetDefault("pipeline.document_dir", "data/documents")
	v.SetDefault("pipeline.export_dir", "data/export")
	v.SetDefault("transfer.sender", "local")
	v.SetDefault("transfer.dest_dir", "data/outbound")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
