package screener

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statarb/internal/market"
)

// fakeData 确定性行情：
//   - AAAUSDT 基准序列，BBBUSDT 恒为其 2 倍（月度相关性恒为 1）
//   - DDDUSDT 偶数月正相关、奇数月负相关（均值 0、稳定性 1）
//   - CCCUSDT 每月只有 100 根，覆盖不足
type fakeData struct{}

func (fakeData) Candles(_ context.Context, symbol, _ string, start, end int64) ([]market.Candle, error) {
	step := int64(time.Hour / time.Millisecond)
	month := int(time.UnixMilli(start).UTC().Month())
	var out []market.Candle
	for ts := start; ts <= end; ts += step {
		i := (ts - start) / step
		base := 100.0 + float64(i%7)
		var price float64
		switch symbol {
		case "AAAUSDT":
			price = base
		case "BBBUSDT":
			price = 2 * base
		case "DDDUSDT":
			if month%2 == 0 {
				price = base
			} else {
				price = 300 - base
			}
		case "CCCUSDT":
			if i >= 100 {
				return out, nil
			}
			price = base
		}
		out = append(out, market.Candle{OpenTime: ts, Close: price})
	}
	return out, nil
}

func newTestScreener(t *testing.T) *Screener {
	t.Helper()
	s, err := New(Config{
		Symbols:        []string{"AAAUSDT", "BBBUSDT", "CCCUSDT", "DDDUSDT"},
		AnalysisMonths: 6,
		Timeframe:      "1h",
		MinCorrelation: 0.6,
		MaxStability:   0.05,
		MaxPairs:       50,
	}, fakeData{})
	require.NoError(t, err)
	s.now = func() time.Time {
		return time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	}
	return s
}

func TestScreenerRun(t *testing.T) {
	s := newTestScreener(t)
	result, err := s.Run(context.Background())
	require.NoError(t, err)

	// 覆盖不足的币种被累计剔除。
	assert.Equal(t, []string{"AAAUSDT", "BBBUSDT", "DDDUSDT"}, result.Symbols)
	require.Len(t, result.MonthlyDetails, 6)
	assert.Contains(t, result.MonthlyDetails[0].Dropped, "CCCUSDT")
	assert.Equal(t, "2026-02", result.MonthlyDetails[0].Month)

	// 只有跨月稳定的高相关配对通过筛选。
	require.Len(t, result.Pairs, 1)
	top := result.Pairs[0]
	assert.Equal(t, "AAAUSDT-BBBUSDT", top.Pair)
	assert.InDelta(t, 1.0, top.Correlation, 1e-9)
	assert.InDelta(t, 0.0, top.Stability, 1e-9)
	assert.Len(t, top.Monthly, 6)

	// 月度翻转的配对均值归零、稳定性为 1，被两道门槛同时挡下。
	assert.InDelta(t, 0.0, result.CorrelationMatrix["AAAUSDT"]["DDDUSDT"], 1e-9)
	assert.InDelta(t, 1.0, result.CorrelationStability["AAAUSDT"]["DDDUSDT"], 1e-9)

	// 对角线与对称性。
	assert.Equal(t, 1.0, result.CorrelationMatrix["AAAUSDT"]["AAAUSDT"])
	assert.Equal(t, result.CorrelationMatrix["BBBUSDT"]["AAAUSDT"], result.CorrelationMatrix["AAAUSDT"]["BBBUSDT"])
}

func TestScreenerNeedsTwoSymbols(t *testing.T) {
	_, err := New(Config{Symbols: []string{"AAAUSDT"}}, fakeData{})
	assert.Error(t, err)
}

func TestSaveLoad(t *testing.T) {
	s := newTestScreener(t)
	result, err := s.Run(context.Background())
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "correlation_data.json")
	require.NoError(t, Save(result, path))

	// 主文件与时间戳快照都存在。
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, result.Timestamp, loaded.Timestamp)
	assert.Equal(t, result.Symbols, loaded.Symbols)
	require.Len(t, loaded.Pairs, 1)
	assert.Equal(t, result.Pairs[0].Pair, loaded.Pairs[0].Pair)

	t.Run("坏文件被 schema 拦下", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{"timestamp": -1}`), 0o644))
		_, err := Load(bad)
		assert.Error(t, err)
	})
}
