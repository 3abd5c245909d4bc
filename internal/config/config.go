package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration. It is loaded once and
// passed into each component at construction; there is no process-wide
// mutable settings object.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Mail       MailConfig       `yaml:"mail" mapstructure:"mail"`
	Storage    StorageConfig    `yaml:"storage" mapstructure:"storage"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Extraction ExtractionConfig `yaml:"extraction" mapstructure:"extraction"`
	Refdata    RefdataConfig    `yaml:"refdata" mapstructure:"refdata"`
	Workflow   WorkflowConfig   `yaml:"workflow" mapstructure:"workflow"`
	Ingest     IngestConfig     `yaml:"ingest" mapstructure:"ingest"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "sqlite" or "postgres"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// MailConfig holds IMAP mailbox settings.
type MailConfig struct {
	IMAPAddr string `yaml:"imap_addr" mapstructure:"imap_addr"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	Mailbox  string `yaml:"mailbox" mapstructure:"mailbox"`
}

// StorageConfig configures raw artifact storage.
type StorageConfig struct {
	Root      string `yaml:"root" mapstructure:"root"`
	SecretKey string `yaml:"secret_key" mapstructure:"secret_key"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string  `yaml:"key" mapstructure:"key"`
	Model     string  `yaml:"model" mapstructure:"model"`
	MaxTokens int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"` // requests per second
}

// SalesforceConfig holds Salesforce JWT auth settings.
type SalesforceConfig struct {
	ClientID string `yaml:"client_id" mapstructure:"client_id"`
	Username string `yaml:"username" mapstructure:"username"`
	KeyPath  string `yaml:"key_path" mapstructure:"key_path"`
	LoginURL string `yaml:"login_url" mapstructure:"login_url"`
	Object   string `yaml:"object" mapstructure:"object"`
}

// ExtractionConfig configures the extraction adapter.
type ExtractionConfig struct {
	MaxAttempts    int `yaml:"max_attempts" mapstructure:"max_attempts"`
	MaxAttachments int `yaml:"max_attachments" mapstructure:"max_attachments"`
}

// RefdataConfig points at reference data overrides.
type RefdataConfig struct {
	Path string `yaml:"path" mapstructure:"path"` // optional directory holding icd10.yaml and procedures.yaml; embedded seed otherwise
}

// WorkflowConfig tunes workflow engine behavior.
type WorkflowConfig struct {
	// SubmitConfirmTimeout is how long a submitted referral waits for
	// downstream confirmation before being completed assuming success.
	SubmitConfirmTimeout time.Duration `yaml:"submit_confirm_timeout" mapstructure:"submit_confirm_timeout"`
}

// IngestConfig tunes the mailbox poller.
type IngestConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	Concurrency  int           `yaml:"concurrency" mapstructure:"concurrency"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
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
	v.SetEnvPrefix("REFERRAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "referrals.db")
	v.SetDefault("mail.mailbox", "INBOX")
	v.SetDefault("storage.root", "artifacts")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.rate_limit", 1.0)
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("salesforce.object", "Referral__c")
	v.SetDefault("extraction.max_attempts", 3)
	v.SetDefault("extraction.max_attachments", 5)
	v.SetDefault("workflow.submit_confirm_timeout", 24*time.Hour)
	v.SetDefault("ingest.poll_interval", time.Minute)
	v.SetDefault("ingest.concurrency", 4)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks that the settings required for the given mode are set.
func (c *Config) Validate(mode string) error {
	switch mode {
	case "ingest":
		if c.Mail.IMAPAddr == "" {
			return eris.New("config: mail.imap_addr is required for ingestion")
		}
	case "extract":
		if c.Anthropic.Key == "" {
			return eris.New("config: anthropic.key is required for extraction")
		}
	case "export":
		if c.Salesforce.ClientID == "" || c.Salesforce.Username == "" {
			return eris.New("config: salesforce client_id and username are required for export")
		}
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		return eris.New("config: store.database_url is required for the postgres driver")
	}
	return nil
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
