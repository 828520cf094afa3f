package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const defaultExternalHTTPTimeout = 90 * time.Second
const defaultExternalHTTPTimeoutSeconds = int(defaultExternalHTTPTimeout / time.Second)

const (
	defaultAnthropicAnalysisModel   = "claude-sonnet-4-5-20250929"
	defaultAnthropicModerationModel = "claude-haiku-4-5-20251001"
	defaultOpenAIAnalysisModel      = "gpt-4o"
	defaultOpenAIModerationModel    = "gpt-4o-mini"
)

type Config struct {
	LLMProvider            string `yaml:"llm_provider"`
	LLMAnalysisModel       string `yaml:"llm_analysis_model"`
	LLMModerationModel     string `yaml:"llm_moderation_model"`
	LLMAnalysisMaxTokens   int    `yaml:"llm_analysis_max_tokens"`
	LLMModerationMaxTokens int    `yaml:"llm_moderation_max_tokens"`
	LLMTimeoutSeconds      int    `yaml:"llm_timeout_seconds"`
	LLMMaxRetries          *int   `yaml:"llm_max_retries"`      // nil means unset; 0 disables retries
	LLMRetryBackoffMillis  *int   `yaml:"llm_retry_backoff_ms"` // nil means unset; 0 retries immediately
	LLMPolicyPath          string `yaml:"llm_policy_path"`
	AnthropicAPIKey        string `yaml:"anthropic_api_key"`
	OpenAIAPIKey           string `yaml:"openai_api_key"`

	DBPath                     string `yaml:"db_path"`
	ExternalHTTPTimeoutSeconds int    `yaml:"external_http_timeout_seconds"`

	ModerationWindowDays  int `yaml:"moderation_window_days"`
	ModerationStrikeLimit int `yaml:"moderation_strike_limit"`

	SlackBotToken       string `yaml:"slack_bot_token"`
	SlackAdminChannelID string `yaml:"slack_admin_channel_id"`
	FlagPruneSchedule   string `yaml:"flag_prune_schedule"`
	UsageDigestSchedule string `yaml:"usage_digest_schedule"`
	Timezone            string `yaml:"timezone"`

	PriceInputPerMTok      float64 `yaml:"price_input_per_mtok"`
	PriceOutputPerMTok     float64 `yaml:"price_output_per_mtok"`
	PriceCacheWritePerMTok float64 `yaml:"price_cache_write_per_mtok"`
	PriceCacheReadPerMTok  float64 `yaml:"price_cache_read_per_mtok"`

	Location *time.Location `yaml:"-"` // computed from Timezone, not from YAML
}

func LoadConfig() Config {
	var cfg Config

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("Error parsing %s: %v", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.LLMAnalysisModel, "LLM_ANALYSIS_MODEL")
	envOverride(&cfg.LLMModerationModel, "LLM_MODERATION_MODEL")
	envOverrideInt(&cfg.LLMAnalysisMaxTokens, "LLM_ANALYSIS_MAX_TOKENS")
	envOverrideInt(&cfg.LLMModerationMaxTokens, "LLM_MODERATION_MAX_TOKENS")
	envOverrideInt(&cfg.LLMTimeoutSeconds, "LLM_TIMEOUT_SECONDS")
	envOverrideIntPtr(&cfg.LLMMaxRetries, "LLM_MAX_RETRIES")
	envOverrideIntPtr(&cfg.LLMRetryBackoffMillis, "LLM_RETRY_BACKOFF_MS")
	envOverride(&cfg.LLMPolicyPath, "LLM_POLICY_PATH")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverrideInt(&cfg.ExternalHTTPTimeoutSeconds, "EXTERNAL_HTTP_TIMEOUT_SECONDS")
	envOverrideInt(&cfg.ModerationWindowDays, "MODERATION_WINDOW_DAYS")
	envOverrideInt(&cfg.ModerationStrikeLimit, "MODERATION_STRIKE_LIMIT")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackAdminChannelID, "SLACK_ADMIN_CHANNEL_ID")
	envOverrideAllowEmpty(&cfg.FlagPruneSchedule, "FLAG_PRUNE_SCHEDULE")
	envOverrideAllowEmpty(&cfg.UsageDigestSchedule, "USAGE_DIGEST_SCHEDULE")
	envOverride(&cfg.Timezone, "TIMEZONE")
	envOverrideFloat(&cfg.PriceInputPerMTok, "PRICE_INPUT_PER_MTOK")
	envOverrideFloat(&cfg.PriceOutputPerMTok, "PRICE_OUTPUT_PER_MTOK")
	envOverrideFloat(&cfg.PriceCacheWritePerMTok, "PRICE_CACHE_WRITE_PER_MTOK")
	envOverrideFloat(&cfg.PriceCacheReadPerMTok, "PRICE_CACHE_READ_PER_MTOK")

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("%v", err)
	}

	if strings.EqualFold(cfg.Timezone, "Local") {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			log.Fatalf("invalid timezone '%s': %v", cfg.Timezone, err)
		}
		cfg.Location = loc
	}

	if cfg.SlackBotToken != "" && cfg.SlackAdminChannelID == "" {
		log.Printf("WARNING: slack_bot_token is set but slack_admin_channel_id is empty. Admin alerts are disabled.")
	}

	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = "anthropic"
	}
	if cfg.LLMAnalysisModel == "" {
		cfg.LLMAnalysisModel = defaultAnthropicAnalysisModel
		if cfg.LLMProvider == "openai" {
			cfg.LLMAnalysisModel = defaultOpenAIAnalysisModel
		}
	}
	if cfg.LLMModerationModel == "" {
		cfg.LLMModerationModel = defaultAnthropicModerationModel
		if cfg.LLMProvider == "openai" {
			cfg.LLMModerationModel = defaultOpenAIModerationModel
		}
	}
	if cfg.LLMAnalysisMaxTokens == 0 {
		cfg.LLMAnalysisMaxTokens = 3000
	}
	if cfg.LLMModerationMaxTokens == 0 {
		cfg.LLMModerationMaxTokens = 400
	}
	if cfg.LLMTimeoutSeconds == 0 {
		cfg.LLMTimeoutSeconds = 45
	}
	if cfg.LLMMaxRetries == nil {
		cfg.LLMMaxRetries = intPtr(2)
	}
	if cfg.LLMRetryBackoffMillis == nil {
		cfg.LLMRetryBackoffMillis = intPtr(2000)
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./findsanity.db"
	}
	if cfg.ExternalHTTPTimeoutSeconds == 0 {
		cfg.ExternalHTTPTimeoutSeconds = defaultExternalHTTPTimeoutSeconds
	}
	if cfg.ModerationWindowDays == 0 {
		cfg.ModerationWindowDays = 30
	}
	if cfg.ModerationStrikeLimit == 0 {
		cfg.ModerationStrikeLimit = 3
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}
	// Sonnet list prices, USD per million tokens.
	if cfg.PriceInputPerMTok == 0 {
		cfg.PriceInputPerMTok = 3.0
	}
	if cfg.PriceOutputPerMTok == 0 {
		cfg.PriceOutputPerMTok = 15.0
	}
	if cfg.PriceCacheWritePerMTok == 0 {
		cfg.PriceCacheWritePerMTok = 3.75
	}
	if cfg.PriceCacheReadPerMTok == 0 {
		cfg.PriceCacheReadPerMTok = 0.30
	}
}

// Validate reports the first invalid setting. LoadConfig treats any error as fatal.
func (c Config) Validate() error {
	switch c.LLMProvider {
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("anthropic_api_key is required when llm_provider=anthropic")
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("openai_api_key is required when llm_provider=openai")
		}
	default:
		return fmt.Errorf("llm_provider must be 'anthropic' or 'openai', got '%s'", c.LLMProvider)
	}

	if c.LLMAnalysisMaxTokens < 256 {
		return fmt.Errorf("invalid llm_analysis_max_tokens '%d': must be >= 256", c.LLMAnalysisMaxTokens)
	}
	if c.LLMModerationMaxTokens < 64 {
		return fmt.Errorf("invalid llm_moderation_max_tokens '%d': must be >= 64", c.LLMModerationMaxTokens)
	}
	if c.LLMTimeoutSeconds < 5 {
		return fmt.Errorf("invalid llm_timeout_seconds '%d': must be >= 5", c.LLMTimeoutSeconds)
	}
	if c.MaxRetries() < 0 {
		return fmt.Errorf("invalid llm_max_retries '%d': must be >= 0", c.MaxRetries())
	}
	if c.LLMRetryBackoffMillis != nil && *c.LLMRetryBackoffMillis < 0 {
		return fmt.Errorf("invalid llm_retry_backoff_ms '%d': must be >= 0", *c.LLMRetryBackoffMillis)
	}
	if c.ExternalHTTPTimeoutSeconds < 5 {
		return fmt.Errorf("invalid external_http_timeout_seconds '%d': must be >= 5", c.ExternalHTTPTimeoutSeconds)
	}
	if c.ModerationWindowDays < 1 {
		return fmt.Errorf("invalid moderation_window_days '%d': must be >= 1", c.ModerationWindowDays)
	}
	if c.ModerationStrikeLimit < 1 {
		return fmt.Errorf("invalid moderation_strike_limit '%d': must be >= 1", c.ModerationStrikeLimit)
	}
	for name, schedule := range map[string]string{
		"flag_prune_schedule":   c.FlagPruneSchedule,
		"usage_digest_schedule": c.UsageDigestSchedule,
	} {
		if strings.TrimSpace(schedule) == "" {
			continue
		}
		if _, err := ParseSchedule(schedule); err != nil {
			return fmt.Errorf("invalid %s '%s': %v", name, schedule, err)
		}
	}
	if c.LLMPolicyPath != "" {
		if _, err := os.Stat(c.LLMPolicyPath); err != nil {
			return fmt.Errorf("invalid llm_policy_path '%s': %v", c.LLMPolicyPath, err)
		}
	}
	return nil
}

// ParseSchedule parses a standard 5-field cron expression.
func ParseSchedule(schedule string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser.Parse(strings.TrimSpace(schedule))
}

func (c Config) ModerationWindow() time.Duration {
	return time.Duration(c.ModerationWindowDays) * 24 * time.Hour
}

func (c Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutSeconds) * time.Second
}

// MaxRetries is the configured retry count, zero when unset.
func (c Config) MaxRetries() int {
	if c.LLMMaxRetries == nil {
		return 0
	}
	return *c.LLMMaxRetries
}

func (c Config) LLMRetryBackoff() time.Duration {
	if c.LLMRetryBackoffMillis == nil {
		return 0
	}
	return time.Duration(*c.LLMRetryBackoffMillis) * time.Millisecond
}

func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.SlackAdminChannelID != ""
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideAllowEmpty(field *string, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

// envOverrideIntPtr sets field when envKey is present, so an explicit 0 survives applyDefaults.
func envOverrideIntPtr(field **int, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok && val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = &parsed
	}
}

func intPtr(v int) *int { return &v }

func envOverrideFloat(field *float64, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}
