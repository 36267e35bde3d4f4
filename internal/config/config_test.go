package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  mode: backtest\n"))
	require.NoError(t, err)
	assert.True(t, cfg.Strategy.EnforceCorrelation, "相关性检查默认开启")
	assert.InDelta(t, 0.5, cfg.Backtest.PositionSize, 1e-12)
	assert.Equal(t, 1, cfg.Strategy.Leverage)
}

func TestLoadExplicitValues(t *testing.T) {
	body := `
app:
  mode: backtest
strategy:
  enforce_correlation: false
backtest:
  position_size: 0.3
`
	cfg, err := Load(writeConfig(t, body))
	require.NoError(t, err)
	assert.False(t, cfg.Strategy.EnforceCorrelation, "显式关闭不被默认值覆盖")
	assert.InDelta(t, 0.3, cfg.Backtest.PositionSize, 1e-12)
}

func TestLoadRejectsBadPositionSize(t *testing.T) {
	_, err := Load(writeConfig(t, "backtest:\n  position_size: 1.5\n"))
	assert.Error(t, err)
}
