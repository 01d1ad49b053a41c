package loader

import (
	"os"
	"path/filepath"
	"testing"

	"aurum/internal/risk"
	"aurum/internal/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePresetFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "presets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestPresetLoaderLoadsAndMatches(t *testing.T) {
	path := writePresetFile(t, `
presets:
  eth_trend:
    symbols: [ethusdt]
    strategy:
      min_confluence_score: 4
      min_risk_reward: 2.0
    risk:
      max_trades_per_day: 6
  baseline:
    default: true
    strategy:
      min_confluence_score: 3
`)
	l, err := NewPresetLoader(path)
	require.NoError(t, err)

	def, ok := l.PresetFor(" ethusdt ")
	require.True(t, ok)
	assert.Equal(t, "eth_trend", def.Name)

	fallback, ok := l.PresetFor("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, "baseline", fallback.Name)

	snap := l.Snapshot()
	assert.Len(t, snap.Presets, 2)
	assert.Equal(t, int64(1), snap.Version)
}

func TestPresetApplyOverrides(t *testing.T) {
	path := writePresetFile(t, `
presets:
  eth_trend:
    symbols: [ETHUSDT]
    strategy:
      min_confluence_score: 4
      sl_atr_multiple: 2.0
    risk:
      max_risk_pct: 0.5
      cooldown_minutes: 30
`)
	l, err := NewPresetLoader(path)
	require.NoError(t, err)
	def, ok := l.PresetFor("ETHUSDT")
	require.True(t, ok)

	var baseStrat strategy.Settings
	baseStrat.Normalize()
	merged, err := def.ApplyStrategy(baseStrat)
	require.NoError(t, err)
	assert.Equal(t, 4, merged.MinConfluenceScore)
	assert.Equal(t, 2.0, merged.SLATRMultiple)
	// 未覆盖的键保持基线值
	assert.Equal(t, baseStrat.MinRiskReward, merged.MinRiskReward)

	var baseRisk risk.Settings
	baseRisk.Normalize()
	mergedRisk, err := def.ApplyRisk(baseRisk)
	require.NoError(t, err)
	assert.Equal(t, 0.5, mergedRisk.MaxRiskPct)
	assert.Equal(t, 30, mergedRisk.CooldownMinutes)
	assert.Equal(t, baseRisk.MaxRiskUSD, mergedRisk.MaxRiskUSD)
}

func TestPresetSchemaRejectsUnknownKey(t *testing.T) {
	path := writePresetFile(t, `
presets:
  broken:
    strategy:
      not_a_tunable: 1
`)
	_, err := NewPresetLoader(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestPresetSchemaRejectsOutOfRange(t *testing.T) {
	path := writePresetFile(t, `
presets:
  broken:
    risk:
      max_risk_pct: 150
`)
	_, err := NewPresetLoader(path)
	require.Error(t, err)
}

func TestPresetFileRejectsUnknownTopLevelField(t *testing.T) {
	path := writePresetFile(t, `
presets:
  ok:
    symbols: [BTCUSDT]
extra: true
`)
	_, err := NewPresetLoader(path)
	require.Error(t, err)
}
