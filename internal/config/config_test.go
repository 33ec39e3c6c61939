package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("ZAI_API_KEY", "")

	cfg, err := Load(nil)
	require.NoError(t, err)

	require.Equal(t, DefaultDataDir, cfg.Server.DataDir)
	require.Equal(t, DefaultLogLevel, cfg.Server.LogLevel)
	require.Equal(t, DefaultProviderMaxRetries, cfg.Providers.MaxRetries)
	require.NotEmpty(t, cfg.Providers.Registry)
	require.Equal(t, DefaultCacheEvictionPolicy, cfg.Cache.EvictionPolicy)
	require.Equal(t, DefaultCacheTTLReasoning, cfg.Cache.TTLReasoning)
	require.Equal(t, DefaultMemoryVectorDims, cfg.Memory.VectorDims)
	require.Equal(t, DefaultThinkingMaxSteps, cfg.Thinking.MaxSteps)
	require.Equal(t, DefaultThinkingDefaultStrategy, cfg.Thinking.DefaultStrategy)
	require.Equal(t, DefaultPipelineMinStageDelay, cfg.Pipeline.MinStageDelay)
	require.Equal(t, DefaultTokenOptimizerEncodingName, cfg.TokenOptimizer.EncodingName)
	require.Equal(t, DefaultDaemonShutdownTimeout, cfg.Daemon.ShutdownTimeout)
	require.Equal(t, DefaultQueueMaxConcurrent, cfg.Queue.MaxConcurrent)
	require.Equal(t, DefaultQueueRequestTimeout, cfg.Queue.RequestTimeout)
}

func TestLoadWithConfigFlag(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	content := []byte(`
server:
  data_dir: /tmp/mentat-data
providers:
  max_retries: 5
`)
	require.NoError(t, os.WriteFile(configPath, content, 0644))

	cmd := &cobra.Command{}
	cmd.Flags().String("config", "", "config file path")
	require.NoError(t, cmd.Flags().Set("config", configPath))

	cfg, err := Load(cmd)
	require.NoError(t, err)
	require.Equal(t, "/tmp/mentat-data", cfg.Server.DataDir)
	require.Equal(t, 5, cfg.Providers.MaxRetries)
}

func TestLoadWithMissingConfigFlagReturnsError(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().String("config", "", "config file path")
	require.NoError(t, cmd.Flags().Set("config", filepath.Join(t.TempDir(), "missing.yaml")))

	_, err := Load(cmd)
	require.Error(t, err)
}

func TestLoad_ExpandsConfiguredPaths(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	configPath := filepath.Join(tmpDir, "config.yaml")
	content := []byte(`
server:
  data_dir: ~/.mentat/data
`)
	require.NoError(t, os.WriteFile(configPath, content, 0644))

	cmd := &cobra.Command{}
	cmd.Flags().String("config", "", "config file path")
	require.NoError(t, cmd.Flags().Set("config", configPath))

	cfg, err := Load(cmd)
	require.NoError(t, err)

	want := filepath.Join(tmpDir, ".mentat", "data")
	require.Equal(t, want, cfg.Server.DataDir)
}

func TestApplyCredentialEnv(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test-key")
	cfg := &Config{Providers: ProvidersConfig{Registry: []ProviderEntry{{Type: "anthropic"}}}}
	applyCredentialEnv(cfg)
	require.Equal(t, "sk-test-key", cfg.Providers.Registry[0].APIKey)
}
