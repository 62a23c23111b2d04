package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all bridge settings. Values come from an optional YAML file
// (BRIDGE_CONFIG) with environment variables taking precedence.
type Config struct {
	Port string `mapstructure:"port"`

	// Anthropic
	AnthropicAPIKey  string `mapstructure:"anthropic_api_key"`
	AnthropicBaseURL string `mapstructure:"anthropic_base_url"`
	ClaudeModel      string `mapstructure:"claude_model"`
	MaxTokens        int    `mapstructure:"max_tokens"`

	// Home Assistant
	HomeAssistantURL   string        `mapstructure:"home_assistant_url"`
	HomeAssistantToken string        `mapstructure:"home_assistant_token"`
	HATimeout          time.Duration `mapstructure:"ha_timeout"`

	// Bridge
	BridgeAPIKey      string        `mapstructure:"bridge_api_key"`
	MaxToolIterations int           `mapstructure:"max_tool_iterations"`
	LLMTimeout        time.Duration `mapstructure:"llm_timeout"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	Location          string        `mapstructure:"location"`

	// Redis (rate limiting); empty addr disables the limiter
	RedisAddr      string `mapstructure:"redis_addr"`
	RedisPassword  string `mapstructure:"redis_password"`
	RateLimitRPS   int    `mapstructure:"rate_limit_rps"`
	RateLimitBurst int    `mapstructure:"rate_limit_burst"`

	// Postgres transcript store; empty DSN disables it
	PostgresDSN string `mapstructure:"postgres_dsn"`

	// JWT public key for admin routes; empty disables them
	JWTPublicKeyPath string `mapstructure:"jwt_public_key_path"`

	LogLevel string `mapstructure:"log_level"`
}

// Load reads configuration from the environment and, when BRIDGE_CONFIG
// points at a YAML file, from that file as well.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("port", "8098")
	v.SetDefault("anthropic_base_url", "https://api.anthropic.com")
	v.SetDefault("claude_model", "claude-sonnet-4-20250514")
	v.SetDefault("max_tokens", 4096)
	v.SetDefault("home_assistant_url", "http://localhost:8123")
	v.SetDefault("ha_timeout", 15*time.Second)
	v.SetDefault("max_tool_iterations", 8)
	v.SetDefault("llm_timeout", 60*time.Second)
	v.SetDefault("request_timeout", 120*time.Second)
	v.SetDefault("rate_limit_rps", 5)
	v.SetDefault("rate_limit_burst", 10)
	v.SetDefault("log_level", "info")

	// Keys without non-empty defaults still need to be registered so that
	// AutomaticEnv values survive Unmarshal.
	for _, key := range []string{
		"anthropic_api_key",
		"home_assistant_token",
		"bridge_api_key",
		"location",
		"redis_addr",
		"redis_password",
		"postgres_dsn",
		"jwt_public_key_path",
	} {
		v.SetDefault(key, "")
	}

	if path := v.GetString("bridge_config"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.MaxToolIterations < 1 {
		cfg.MaxToolIterations = 1
	}

	return &cfg, nil
}
