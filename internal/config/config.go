package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Session    SessionConfig    `yaml:"session" mapstructure:"session"`
	Provider   ProviderConfig   `yaml:"provider" mapstructure:"provider"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Gemini     GeminiConfig     `yaml:"gemini" mapstructure:"gemini"`
	Supabase   SupabaseConfig   `yaml:"supabase" mapstructure:"supabase"`
	Agent      AgentConfig      `yaml:"agent" mapstructure:"agent"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Prompts    PromptsConfig    `yaml:"prompts" mapstructure:"prompts"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the run and output database.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// SessionConfig configures the conversation history database.
type SessionConfig struct {
	Path     string `yaml:"path" mapstructure:"path"`
	Identity string `yaml:"identity" mapstructure:"identity"`
}

// ProviderConfig selects the completion provider.
type ProviderConfig struct {
	Name string `yaml:"name" mapstructure:"name"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key              string  `yaml:"key" mapstructure:"key"`
	Model            string  `yaml:"model" mapstructure:"model"`
	MaxTokens        int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature      float64 `yaml:"temperature" mapstructure:"temperature"`
	WebSearch        bool    `yaml:"web_search" mapstructure:"web_search"`
	WebSearchMaxUses int     `yaml:"web_search_max_uses" mapstructure:"web_search_max_uses"`
}

// GeminiConfig holds Gemini API settings.
type GeminiConfig struct {
	Key         string  `yaml:"key" mapstructure:"key"`
	Model       string  `yaml:"model" mapstructure:"model"`
	MaxTokens   int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
}

// SupabaseConfig locates the hosted MCP server that exposes the database.
type SupabaseConfig struct {
	ProjectID   string `yaml:"project_id" mapstructure:"project_id"`
	AccessToken string `yaml:"access_token" mapstructure:"access_token"`
	MCPURL      string `yaml:"mcp_url" mapstructure:"mcp_url"`
}

// ServerURL returns MCPURL, or the hosted URL for ProjectID.
func (s SupabaseConfig) ServerURL() string {
	if s.MCPURL != "" {
		return s.MCPURL
	}
	return fmt.Sprintf("https://mcp.supabase.com/mcp?project_ref=%s", s.ProjectID)
}

// AgentConfig bounds the tool-calling loop and request rate.
type AgentConfig struct {
	MaxToolRounds     int     `yaml:"max_tool_rounds" mapstructure:"max_tool_rounds"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
	RetryAttempts     int     `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	InitialBackoffMs  int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs      int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	BreakerThreshold  int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs  int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// PipelineConfig tunes the analysis pipeline.
type PipelineConfig struct {
	AuditConcurrency    int         `yaml:"audit_concurrency" mapstructure:"audit_concurrency"`
	ValidateConcurrency int         `yaml:"validate_concurrency" mapstructure:"validate_concurrency"`
	Brand               bool        `yaml:"brand" mapstructure:"brand"`
	ContextProbe        bool        `yaml:"context_probe" mapstructure:"context_probe"`
	Retry               RetryConfig `yaml:"retry" mapstructure:"retry"`
}

// RetryConfig configures the fixed-attempt wrapper around flaky stages.
type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts"`
	TimeoutSecs int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	DelaySecs   int `yaml:"delay_secs" mapstructure:"delay_secs"`
}

// PromptsConfig points at an optional prompt override file.
type PromptsConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// MonitoringConfig configures run health checks and alert delivery.
type MonitoringConfig struct {
	Enabled                 bool    `yaml:"enabled" mapstructure:"enabled"`
	CheckIntervalSecs       int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours     int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold    float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	DenialRateThreshold     float64 `yaml:"denial_rate_threshold" mapstructure:"denial_rate_threshold"`
	SegmentFailureThreshold float64 `yaml:"segment_failure_threshold" mapstructure:"segment_failure_threshold"`
	CostThresholdUSD        float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
	WebhookURL              string  `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, config.yaml and INSIGHT_* variables.
// Variables already set in the environment win over .env.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, eris.Wrap(err, "config: read .env")
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("INSIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("session.path", "conversations.db")
	v.SetDefault("session.identity", "default")
	v.SetDefault("provider.name", "anthropic")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 8192)
	v.SetDefault("anthropic.temperature", 0.2)
	v.SetDefault("anthropic.web_search", true)
	v.SetDefault("anthropic.web_search_max_uses", 5)
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("gemini.max_tokens", 8192)
	v.SetDefault("gemini.temperature", 0.2)
	v.SetDefault("agent.max_tool_rounds", 8)
	v.SetDefault("agent.requests_per_second", 2.0)
	v.SetDefault("agent.burst", 2)
	v.SetDefault("agent.retry_attempts", 3)
	v.SetDefault("agent.initial_backoff_ms", 500)
	v.SetDefault("agent.max_backoff_ms", 30000)
	v.SetDefault("agent.breaker_threshold", 5)
	v.SetDefault("agent.breaker_reset_secs", 30)
	v.SetDefault("pipeline.audit_concurrency", 4)
	v.SetDefault("pipeline.validate_concurrency", 4)
	v.SetDefault("pipeline.brand", true)
	v.SetDefault("pipeline.context_probe", false)
	v.SetDefault("pipeline.retry.max_attempts", 3)
	v.SetDefault("pipeline.retry.timeout_secs", 60)
	v.SetDefault("pipeline.retry.delay_secs", 5)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.2)
	v.SetDefault("monitoring.denial_rate_threshold", 0.5)
	v.SetDefault("monitoring.segment_failure_threshold", 0.25)
	v.SetDefault("monitoring.cost_threshold_usd", 50.0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Keys with no default are invisible to AutomaticEnv during Unmarshal.
	for _, key := range []string{
		"store.database_url",
		"anthropic.key",
		"gemini.key",
		"supabase.project_id",
		"supabase.access_token",
		"supabase.mcp_url",
		"prompts.path",
		"monitoring.webhook_url",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", key)
		}
	}

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

// Validate checks that the settings a command mode needs are present.
// Missing credentials are reported here so the process fails at startup.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "pipeline":
		errs = append(errs, c.validateProvider()...)
		errs = append(errs, c.validateSupabase()...)
		errs = append(errs, c.validateStore()...)
		errs = append(errs, c.validatePipeline()...)
	case "brand":
		errs = append(errs, c.validateProvider()...)
		errs = append(errs, c.validatePipeline()...)
	case "serve":
		errs = append(errs, c.validateProvider()...)
		errs = append(errs, c.validateSupabase()...)
		errs = append(errs, c.validateStore()...)
		errs = append(errs, c.validatePipeline()...)
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "store":
		errs = append(errs, c.validateStore()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateProvider() []string {
	switch c.Provider.Name {
	case "anthropic":
		if c.Anthropic.Key == "" {
			return []string{"anthropic.key is required"}
		}
	case "gemini":
		if c.Gemini.Key == "" {
			return []string{"gemini.key is required"}
		}
	default:
		return []string{fmt.Sprintf("provider.name %q must be anthropic or gemini", c.Provider.Name)}
	}
	return nil
}

func (c *Config) validateSupabase() []string {
	var errs []string
	if c.Supabase.ProjectID == "" && c.Supabase.MCPURL == "" {
		errs = append(errs, "supabase.project_id is required")
	}
	if c.Supabase.AccessToken == "" {
		errs = append(errs, "supabase.access_token is required")
	}
	return errs
}

func (c *Config) validateStore() []string {
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		return []string{"store.database_url is required"}
	}
	if c.Store.Driver != "postgres" && c.Store.Driver != "sqlite" {
		return []string{fmt.Sprintf("store.driver %q must be sqlite or postgres", c.Store.Driver)}
	}
	return nil
}

func (c *Config) validatePipeline() []string {
	var errs []string
	if c.Pipeline.AuditConcurrency < 1 || c.Pipeline.AuditConcurrency > 32 {
		errs = append(errs, "pipeline.audit_concurrency must be between 1 and 32")
	}
	if c.Pipeline.ValidateConcurrency < 1 || c.Pipeline.ValidateConcurrency > 32 {
		errs = append(errs, "pipeline.validate_concurrency must be between 1 and 32")
	}
	if c.Pipeline.Retry.MaxAttempts < 1 {
		errs = append(errs, "pipeline.retry.max_attempts must be >= 1")
	}
	if c.Pipeline.Retry.TimeoutSecs < 1 {
		errs = append(errs, "pipeline.retry.timeout_secs must be >= 1")
	}
	if c.Pipeline.Retry.DelaySecs < 0 {
		errs = append(errs, "pipeline.retry.delay_secs must be >= 0")
	}
	if c.Agent.MaxToolRounds < 1 {
		errs = append(errs, "agent.max_tool_rounds must be >= 1")
	}
	return errs
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
