package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mentat-sh/mentat/internal/pathutil"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
)

type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Providers     ProvidersConfig     `koanf:"providers"`
	Queue         QueueConfig         `koanf:"queue"`
	Cache         CacheConfig         `koanf:"cache"`
	Memory        MemoryConfig        `koanf:"memory"`
	Thinking      ThinkingConfig      `koanf:"thinking"`
	Pipeline      PipelineConfig      `koanf:"pipeline"`
	TokenOptimizer TokenOptimizerConfig `koanf:"token_optimizer"`
	RPC           RPCConfig           `koanf:"rpc"`
	Health        HealthConfig        `koanf:"health"`
	Daemon        DaemonConfig        `koanf:"daemon"`
	Notify        NotifyConfig        `koanf:"notify"`
}

type ServerConfig struct {
	DataDir  string `koanf:"data_dir"`
	LogLevel string `koanf:"log_level"`
}

// ProviderEntry describes one registered ProviderClient.
type ProviderEntry struct {
	Name     string `koanf:"name"`
	Type     string `koanf:"type"` // anthropic | openai | ollama | gemini | zai
	APIKey   string `koanf:"api_key"`
	BaseURL  string `koanf:"base_url"`
	Model    string `koanf:"model"`
	Tier     string `koanf:"tier"` // cheap | standard | premium
	Priority int    `koanf:"priority"`
	Weight   int    `koanf:"weight"`
}

type ProvidersConfig struct {
	Registry             []ProviderEntry `koanf:"registry"`
	MaxRetries           int             `koanf:"max_retries"`
	MaxTimeoutMs         int             `koanf:"max_timeout_ms"`
	HealthCheckInterval  string          `koanf:"health_check_interval"`
}

// QueueConfig tunes the per-provider Request Queue (C3).
type QueueConfig struct {
	MaxConcurrent  int    `koanf:"max_concurrent"`
	RateLimitDelay string `koanf:"rate_limit_delay"`
	RequestTimeout string `koanf:"request_timeout"`
	MaxRetries     int    `koanf:"max_retries"`
	JanitorPeriod  string `koanf:"janitor_period"`
}

type CacheConfig struct {
	MemoryMaxEntries int    `koanf:"memory_max_entries"`
	MemoryMaxBytes   int64  `koanf:"memory_max_bytes"`
	EvictionPolicy   string `koanf:"eviction_policy"` // lru | ttl_soonest | largest
	CompressAboveKiB int    `koanf:"compress_above_kib"`
	TTLReasoning     string `koanf:"ttl_reasoning"`
	TTLThinking      string `koanf:"ttl_thinking"`
	TTLGeneration    string `koanf:"ttl_generation"`
	TTLDefault       string `koanf:"ttl_default"`
}

type MemoryConfig struct {
	VectorDims         int    `koanf:"vector_dims"`
	SemanticWeight     float64 `koanf:"semantic_weight"`
	LexicalWeight      float64 `koanf:"lexical_weight"`
}

type ThinkingModelEntry struct {
	Name            string  `koanf:"name"`
	TokenMultiplier float64 `koanf:"token_multiplier"`
}

type ThinkingConfig struct {
	Models          []ThinkingModelEntry `koanf:"models"`
	DefaultStrategy string               `koanf:"default_strategy"` // chain_of_thought | tree_of_thoughts
	MaxSteps        int                  `koanf:"max_steps"`
}

type PipelineConfig struct {
	MinStageDelay string `koanf:"min_stage_delay"`
}

type TokenOptimizerTier struct {
	Name      string `koanf:"name"`
	MaxTokens int    `koanf:"max_tokens"`
	Model     string `koanf:"model"`
}

type TokenOptimizerConfig struct {
	EncodingName string               `koanf:"encoding_name"`
	Tiers        []TokenOptimizerTier `koanf:"tiers"`
}

type RPCConfig struct {
	MaxLineBytes int `koanf:"max_line_bytes"`
}

type HealthConfig struct {
	MetricsAddr string `koanf:"metrics_addr"`
}

type DaemonConfig struct {
	ShutdownTimeout     string `koanf:"shutdown_timeout"`
	MaintenanceInterval string `koanf:"maintenance_interval"`
	// MaintenanceCron, when set, overrides MaintenanceInterval with a
	// standard 5-field cron expression (parsed with robfig/cron's
	// ParseStandard) instead of a fixed tick.
	MaintenanceCron string `koanf:"maintenance_cron"`
}

type SlackNotifyConfig struct {
	Enabled   bool   `koanf:"enabled"`
	BotToken  string `koanf:"bot_token"`
	ChannelID string `koanf:"channel_id"`
}

type TelegramNotifyConfig struct {
	Enabled bool   `koanf:"enabled"`
	BotToken string `koanf:"bot_token"`
	ChatID   int64  `koanf:"chat_id"`
}

type NotifyConfig struct {
	Slack    SlackNotifyConfig    `koanf:"slack"`
	Telegram TelegramNotifyConfig `koanf:"telegram"`
}

const (
	DefaultDataDir  = "./data"
	DefaultLogLevel = "info"

	DefaultProviderMaxRetries          = 3
	DefaultProviderMaxTimeoutMs        = 30000
	DefaultProviderHealthCheckInterval = "1m"

	DefaultQueueMaxConcurrent  = 3
	DefaultQueueRateLimitDelay = "100ms"
	DefaultQueueRequestTimeout = "30s"
	DefaultQueueMaxRetries     = 3
	DefaultQueueJanitorPeriod  = "5s"

	DefaultCacheMemoryMaxEntries = 1000
	DefaultCacheMemoryMaxBytes   = 64 * 1024 * 1024
	DefaultCacheEvictionPolicy   = "lru"
	DefaultCacheCompressAboveKiB = 10
	DefaultCacheTTLReasoning     = "48h"
	DefaultCacheTTLThinking      = "24h"
	DefaultCacheTTLGeneration    = "168h"
	DefaultCacheTTLDefault       = "24h"

	DefaultMemoryVectorDims     = 128
	DefaultMemorySemanticWeight = 0.7
	DefaultMemoryLexicalWeight  = 0.3

	DefaultThinkingDefaultStrategy = "chain_of_thought"
	DefaultThinkingMaxSteps        = 10

	DefaultPipelineMinStageDelay = "1s"

	DefaultTokenOptimizerEncodingName = "cl100k_base"

	DefaultRPCMaxLineBytes = 1 << 20

	DefaultHealthMetricsAddr = ":9090"

	DefaultDaemonShutdownTimeout     = "15s"
	DefaultDaemonMaintenanceInterval = "10m"

	DefaultOllamaBaseURL = "http://localhost:11434/v1"
	DefaultOllamaAPIKey  = "ollama"
	DefaultZaiBaseURL    = "https://api.z.ai/api/coding/paas/v4/"
)

func Load(cmd *cobra.Command) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.data_dir":  DefaultDataDir,
		"server.log_level": DefaultLogLevel,

		"providers.max_retries":           DefaultProviderMaxRetries,
		"providers.max_timeout_ms":        DefaultProviderMaxTimeoutMs,
		"providers.health_check_interval": DefaultProviderHealthCheckInterval,
		"providers.registry": []ProviderEntry{
			{Name: "anthropic-primary", Type: "anthropic", Tier: "premium", Priority: 10, Weight: 5},
			{Name: "openai-primary", Type: "openai", Model: "gpt-4-turbo", Tier: "standard", Priority: 8, Weight: 5},
			{Name: "gemini-primary", Type: "gemini", Model: "gemini-2.0-flash", Tier: "standard", Priority: 6, Weight: 3},
			{Name: "ollama-local", Type: "ollama", BaseURL: DefaultOllamaBaseURL, Model: "llama3", Tier: "cheap", Priority: 2, Weight: 1},
		},

		"queue.max_concurrent":    DefaultQueueMaxConcurrent,
		"queue.rate_limit_delay":  DefaultQueueRateLimitDelay,
		"queue.request_timeout":   DefaultQueueRequestTimeout,
		"queue.max_retries":       DefaultQueueMaxRetries,
		"queue.janitor_period":    DefaultQueueJanitorPeriod,

		"cache.memory_max_entries":  DefaultCacheMemoryMaxEntries,
		"cache.memory_max_bytes":    DefaultCacheMemoryMaxBytes,
		"cache.eviction_policy":     DefaultCacheEvictionPolicy,
		"cache.compress_above_kib":  DefaultCacheCompressAboveKiB,
		"cache.ttl_reasoning":       DefaultCacheTTLReasoning,
		"cache.ttl_thinking":        DefaultCacheTTLThinking,
		"cache.ttl_generation":      DefaultCacheTTLGeneration,
		"cache.ttl_default":         DefaultCacheTTLDefault,

		"memory.vector_dims":     DefaultMemoryVectorDims,
		"memory.semantic_weight": DefaultMemorySemanticWeight,
		"memory.lexical_weight":  DefaultMemoryLexicalWeight,

		"thinking.default_strategy": DefaultThinkingDefaultStrategy,
		"thinking.max_steps":        DefaultThinkingMaxSteps,
		"thinking.models": []ThinkingModelEntry{
			{Name: "claude-3-7-sonnet-latest", TokenMultiplier: 1.0},
			{Name: "gpt-4-turbo", TokenMultiplier: 1.0},
			{Name: "gemini-2.0-flash", TokenMultiplier: 0.8},
		},

		"pipeline.min_stage_delay": DefaultPipelineMinStageDelay,

		"token_optimizer.encoding_name": DefaultTokenOptimizerEncodingName,
		"token_optimizer.tiers": []TokenOptimizerTier{
			{Name: "cheap", MaxTokens: 2000, Model: "llama3"},
			{Name: "standard", MaxTokens: 8000, Model: "gpt-4-turbo"},
			{Name: "premium", MaxTokens: 32000, Model: "claude-3-7-sonnet-latest"},
		},

		"rpc.max_line_bytes": DefaultRPCMaxLineBytes,

		"health.metrics_addr": DefaultHealthMetricsAddr,

		"daemon.shutdown_timeout":     DefaultDaemonShutdownTimeout,
		"daemon.maintenance_interval": DefaultDaemonMaintenanceInterval,

		"notify.slack.enabled":    false,
		"notify.telegram.enabled": false,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	configPath := ""
	if cmd != nil {
		if flag := cmd.Flags().Lookup("config"); flag != nil {
			configPath = strings.TrimSpace(flag.Value.String())
		}
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, err
		}
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			globalPath := filepath.Join(home, ".mentat", "config.yaml")
			if err := k.Load(file.Provider(globalPath), yaml.Parser()); err != nil {
				slog.Debug("global config not found or invalid", "path", globalPath, "error", err)
			}
		}
	}

	k.Load(env.Provider("MENTAT_", ".", func(s string) string {
		if s == "MENTAT_DATA_DIR" {
			return "server.data_dir"
		}
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "MENTAT_")), "_", ".", -1)
	}), nil)

	if cmd != nil {
		k.Load(posflag.Provider(cmd.Flags(), ".", k), nil)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	if err := normalizePathFields(&cfg); err != nil {
		return nil, err
	}

	applyCredentialEnv(&cfg)

	return &cfg, nil
}

// applyCredentialEnv fills in provider credentials from the conventional
// per-provider env vars when the registry entry omits api_key, mirroring
// the teacher's post-process injection step.
func applyCredentialEnv(cfg *Config) {
	envVar := map[string]string{
		"anthropic": "ANTHROPIC_API_KEY",
		"openai":    "OPENAI_API_KEY",
		"gemini":    "GEMINI_API_KEY",
		"zai":       "ZAI_API_KEY",
	}
	for i, p := range cfg.Providers.Registry {
		if p.APIKey != "" {
			continue
		}
		if v, ok := envVar[p.Type]; ok {
			if key := os.Getenv(v); key != "" {
				cfg.Providers.Registry[i].APIKey = key
			}
		}
	}
}

func normalizePathFields(cfg *Config) error {
	if cfg == nil {
		return nil
	}
	dataDir, err := expandConfiguredPath(cfg.Server.DataDir)
	if err != nil {
		return err
	}
	if dataDir != "" {
		cfg.Server.DataDir = dataDir
	}
	return nil
}

func expandConfiguredPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	expanded, err := pathutil.Expand(trimmed)
	if err != nil {
		return "", err
	}
	return expanded, nil
}
