package pairparams

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statarb/internal/analysis/stats"
	"statarb/internal/strategy/pairs"
)

const sampleParams = `defaults:
  lookback: 120
  entry_threshold: 2.5
  exit_threshold: 0.5
  stop_loss_threshold: 5.0
pairs:
  BTCUSDT-ETHUSDT:
    entry_threshold: 2.0
    trade_amount: 300
    use_contract_for_short: true
  SOLUSDT-AVAXUSDT:
    spread_method: log_ratio
    lookback: 60
`

func writeParams(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pair_params.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func baseConfig() pairs.Config {
	return pairs.Config{
		Variant:           pairs.VariantFutures,
		SpreadMethod:      stats.SpreadNormalizedRatio,
		Lookback:          120,
		EntryThreshold:    2.5,
		ExitThreshold:     0.5,
		StopLossThreshold: 5.0,
		InitialCapital:    1000,
	}
}

func TestRegistryApply(t *testing.T) {
	r, err := NewRegistry(writeParams(t, sampleParams))
	require.NoError(t, err)

	t.Run("配对覆盖生效", func(t *testing.T) {
		cfg := r.Apply(pairs.NewPairKey("BTCUSDT", "ETHUSDT"), baseConfig())
		assert.Equal(t, 2.0, cfg.EntryThreshold)
		assert.Equal(t, 0.5, cfg.ExitThreshold)
		assert.True(t, cfg.UseContractForShort)
		assert.Equal(t, 300.0, r.TradeAmount(pairs.NewPairKey("BTCUSDT", "ETHUSDT"), 200))
	})

	t.Run("未覆盖的配对沿用基础配置", func(t *testing.T) {
		pair := pairs.NewPairKey("BNBUSDT", "ADAUSDT")
		cfg := r.Apply(pair, baseConfig())
		assert.Equal(t, baseConfig(), cfg)
		assert.Equal(t, 200.0, r.TradeAmount(pair, 200))
	})

	t.Run("价差方式覆盖", func(t *testing.T) {
		cfg := r.Apply(pairs.NewPairKey("SOLUSDT", "AVAXUSDT"), baseConfig())
		assert.Equal(t, stats.SpreadLogRatio, cfg.SpreadMethod)
		assert.Equal(t, 60, cfg.Lookback)
	})

	snap := r.Snapshot()
	assert.Equal(t, int64(1), snap.Version)
	assert.Len(t, snap.Pairs, 2)
}

func TestRegistryRejectsBadFile(t *testing.T) {
	t.Run("阈值顺序错误", func(t *testing.T) {
		_, err := NewRegistry(writeParams(t, `defaults:
  entry_threshold: 1.0
  exit_threshold: 2.0
`))
		assert.Error(t, err)
	})

	t.Run("未知字段被拒", func(t *testing.T) {
		_, err := NewRegistry(writeParams(t, `pairs:
  BTCUSDT-ETHUSDT:
    entry_thresold: 2.0
`))
		assert.Error(t, err)
	})

	t.Run("负阈值被 schema 拦下", func(t *testing.T) {
		_, err := NewRegistry(writeParams(t, `defaults:
  entry_threshold: -1.0
`))
		assert.Error(t, err)
	})
}

func TestRegistryReload(t *testing.T) {
	path := writeParams(t, sampleParams)
	r, err := NewRegistry(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`defaults:
  entry_threshold: 3.0
  exit_threshold: 0.8
  stop_loss_threshold: 6.0
`), 0o644))
	require.NoError(t, r.reload())

	snap := r.Snapshot()
	assert.GreaterOrEqual(t, snap.Version, int64(2))
	assert.Equal(t, 3.0, snap.Defaults.EntryThreshold)
	assert.Empty(t, snap.Pairs)
}
