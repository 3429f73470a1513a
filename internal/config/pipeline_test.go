package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefaultPipelineConfigJobs(t *testing.T) {
	cfg := DefaultPipelineConfig().withDefaults()

	assert.Equal(t, "@daily", cfg.Job("cleanupExpiredTouchpoints").Schedule)
	assert.Equal(t, "0 */6 * * *", cfg.Job("cleanupPairings").Schedule)
	assert.Equal(t, "@hourly", cfg.Job("settleRewards").Schedule)
	assert.True(t, cfg.Job("settleRewards").IsEnabled())
	assert.NoError(t, validatePipelineConfig(cfg))
}

func TestRewardSettingsAmount(t *testing.T) {
	settings := RewardSettings{Amounts: map[string]string{"purchase": "12.5", "broken": "x"}}

	assert.Equal(t, "12.5", settings.Amount("Purchase").String())
	assert.True(t, settings.Amount("broken").IsZero())
	assert.True(t, settings.Amount("unknown").IsZero())
}

func TestValidatePipelineConfigRejectsNegativeAmount(t *testing.T) {
	cfg := DefaultPipelineConfig()
	cfg.Rewards.Amounts["purchase"] = "-1"

	assert.Error(t, validatePipelineConfig(cfg))
}

func TestNewPipelineConfigHolderReadsFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte(`jobs:
  settleRewards:
    enabled: false
    schedule: "*/30 * * * *"
    timeout: 1m
rewards:
  denomination: PTS
  amounts:
    purchase: "25"
  maxGroupSize: 10
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pipeline.yml"), content, 0o600))

	holder, err := NewPipelineConfigHolder(Config{Pipeline: PipelineFileConfig{Name: "pipeline", Paths: []string{dir}}}, zap.NewNop())
	require.NoError(t, err)

	cfg := holder.Get()
	settle := cfg.Job("settleRewards")
	assert.False(t, settle.IsEnabled())
	assert.Equal(t, "*/30 * * * *", settle.Schedule)
	assert.Equal(t, time.Minute, settle.Timeout)
	assert.Equal(t, "@daily", cfg.Job("cleanupExpiredTouchpoints").Schedule)
	assert.Equal(t, "PTS", cfg.Rewards.Denomination)
	assert.Equal(t, "25", cfg.Rewards.Amount("purchase").String())
	assert.Equal(t, 10, cfg.Rewards.MaxGroupSize)
	assert.Equal(t, 200, cfg.Rewards.BatchSize)
}

func TestNewPipelineConfigHolderFallsBackToDefaults(t *testing.T) {
	holder, err := NewPipelineConfigHolder(Config{Pipeline: PipelineFileConfig{Name: "missing", Paths: []string{t.TempDir()}}}, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, DefaultPipelineConfig().Rewards.BatchSize, holder.Get().Rewards.BatchSize)
}
