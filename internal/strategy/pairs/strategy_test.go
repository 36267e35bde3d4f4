package pairs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statarb/internal/analysis/stats"
)

func newTestStrategy(t *testing.T, variant Variant, useContract bool) *Strategy {
	t.Helper()
	s, err := NewStrategy(Config{
		Variant:             variant,
		SpreadMethod:        stats.SpreadNormalizedRatio,
		Lookback:            20,
		EntryThreshold:      2.0,
		ExitThreshold:       0.5,
		StopLossThreshold:   4.0,
		MinCorrelation:      0.7,
		EnforceCorrelation:  true,
		InitialCapital:      1000,
		UseContractForShort: useContract,
	})
	require.NoError(t, err)
	return s
}

func valid(z float64) stats.ZScore { return stats.ZScore{Value: z, Valid: true} }

func TestNewStrategyValidation(t *testing.T) {
	_, err := NewStrategy(Config{Lookback: 20, EntryThreshold: 1, ExitThreshold: 2, StopLossThreshold: 5, InitialCapital: 100})
	assert.Error(t, err, "exit 高于 entry 应被拒绝")

	_, err = NewStrategy(Config{Lookback: 20, EntryThreshold: 2, ExitThreshold: 0.5, StopLossThreshold: 2, InitialCapital: 100})
	assert.Error(t, err, "stop 不高于 entry 应被拒绝")
}

func TestGenerateSignal(t *testing.T) {
	pair := NewPairKey("btcusdt", "ethusdt")

	t.Run("预热期一律 HOLD", func(t *testing.T) {
		s := newTestStrategy(t, VariantSpot, false)
		assert.Equal(t, SignalHold, s.GenerateSignal(pair, stats.ZScore{Value: 99, Valid: false}))
	})

	t.Run("空仓入场", func(t *testing.T) {
		s := newTestStrategy(t, VariantSpot, false)
		assert.Equal(t, SignalOpenShort, s.GenerateSignal(pair, valid(2.5)))
		assert.Equal(t, SignalOpenLong, s.GenerateSignal(pair, valid(-2.5)))
		assert.Equal(t, SignalHold, s.GenerateSignal(pair, valid(1.5)))
	})

	t.Run("持仓离场", func(t *testing.T) {
		s := newTestStrategy(t, VariantSpot, false)
		_, err := s.OpenPosition(pair, SignalOpenLong, 100, 50, 1000, time.Now(), -2.5)
		require.NoError(t, err)
		assert.Equal(t, SignalClose, s.GenerateSignal(pair, valid(0.2)))
		assert.Equal(t, SignalClose, s.GenerateSignal(pair, valid(-0.2)))
		assert.Equal(t, SignalHold, s.GenerateSignal(pair, valid(-2.0)))
	})

	t.Run("止损方向敏感", func(t *testing.T) {
		s := newTestStrategy(t, VariantSpot, false)
		_, err := s.OpenPosition(pair, SignalOpenLong, 100, 50, 1000, time.Now(), -2.5)
		require.NoError(t, err)
		// 多头止损只看继续下穿 -stop；上穿 +stop 不触发。
		assert.Equal(t, SignalStopLoss, s.GenerateSignal(pair, valid(-4.5)))
		assert.Equal(t, SignalHold, s.GenerateSignal(pair, valid(4.5)))

		s2 := newTestStrategy(t, VariantSpot, false)
		_, err = s2.OpenPosition(pair, SignalOpenShort, 100, 50, 1000, time.Now(), 2.5)
		require.NoError(t, err)
		assert.Equal(t, SignalStopLoss, s2.GenerateSignal(pair, valid(4.5)))
		assert.Equal(t, SignalHold, s2.GenerateSignal(pair, valid(-4.5)))
	})

	t.Run("持仓中不再入场", func(t *testing.T) {
		s := newTestStrategy(t, VariantSpot, false)
		_, err := s.OpenPosition(pair, SignalOpenLong, 100, 50, 1000, time.Now(), -2.5)
		require.NoError(t, err)
		assert.Equal(t, SignalHold, s.GenerateSignal(pair, valid(-3.0)))
	})
}

func TestOpenPosition(t *testing.T) {
	pair := NewPairKey("BTCUSDT", "ETHUSDT")

	t.Run("资金中性分腿", func(t *testing.T) {
		s := newTestStrategy(t, VariantSpot, false)
		pos, err := s.OpenPosition(pair, SignalOpenLong, 100, 50, 1000, time.Now(), -2.5)
		require.NoError(t, err)
		assert.InDelta(t, 5.0, pos.Legs[0].Quantity, 1e-12)
		assert.InDelta(t, 10.0, pos.Legs[1].Quantity, 1e-12)
		assert.InDelta(t, 1000.0, pos.Capital, 1e-9)
		assert.Equal(t, LegBuy, pos.Legs[0].Side)
		assert.Equal(t, LegSell, pos.Legs[1].Side)
	})

	t.Run("拒绝加仓", func(t *testing.T) {
		s := newTestStrategy(t, VariantSpot, false)
		_, err := s.OpenPosition(pair, SignalOpenLong, 100, 50, 1000, time.Now(), -2.5)
		require.NoError(t, err)
		_, err = s.OpenPosition(pair, SignalOpenLong, 100, 50, 1000, time.Now(), -3.0)
		assert.Error(t, err)
	})

	t.Run("名义价值截断", func(t *testing.T) {
		s := newTestStrategy(t, VariantSpot, false)
		pos, err := s.OpenPosition(pair, SignalOpenShort, 0.001, 50, 4_000_000, time.Now(), 2.5)
		require.NoError(t, err)
		// 每腿名义价值被压回 MaxLegValue，实际占用资金同步收缩。
		assert.InDelta(t, MaxLegValue/0.001, pos.Legs[0].Quantity, 1e-6)
		assert.InDelta(t, MaxLegValue/50, pos.Legs[1].Quantity, 1e-6)
		assert.InDelta(t, 2*MaxLegValue, pos.Capital, 1e-3)
	})

	t.Run("非法价格返回错误", func(t *testing.T) {
		s := newTestStrategy(t, VariantSpot, false)
		_, err := s.OpenPosition(pair, SignalOpenLong, 0, 50, 1000, time.Now(), -2.5)
		assert.Error(t, err)
	})

	t.Run("合约形态空头腿走合约", func(t *testing.T) {
		s := newTestStrategy(t, VariantFutures, true)
		pos, err := s.OpenPosition(pair, SignalOpenShort, 100, 50, 1000, time.Now(), 2.5)
		require.NoError(t, err)
		assert.Equal(t, InstrumentFutures, pos.Legs[0].Instrument)
		assert.Equal(t, LegSell, pos.Legs[0].Side)
		assert.Equal(t, InstrumentSpot, pos.Legs[1].Instrument)
		assert.Equal(t, LegBuy, pos.Legs[1].Side)
	})

	t.Run("合约持仓携带杠杆与保证金模式", func(t *testing.T) {
		s, err := NewStrategy(Config{
			Variant:             VariantFutures,
			Lookback:            20,
			EntryThreshold:      2.0,
			ExitThreshold:       0.5,
			StopLossThreshold:   4.0,
			InitialCapital:      1000,
			UseContractForShort: true,
			Leverage:            3,
			MarginType:          "isolated",
		})
		require.NoError(t, err)
		pos, err := s.OpenPosition(pair, SignalOpenShort, 100, 50, 1000, time.Now(), 2.5)
		require.NoError(t, err)
		assert.Equal(t, 3, pos.Leverage)
		assert.Equal(t, "isolated", pos.MarginType)

		spot := newTestStrategy(t, VariantSpot, false)
		pos2, err := spot.OpenPosition(pair, SignalOpenShort, 100, 50, 1000, time.Now(), 2.5)
		require.NoError(t, err)
		assert.Zero(t, pos2.Leverage, "纯现货持仓不带杠杆")
		assert.Empty(t, pos2.MarginType)
	})
}

func TestPnL(t *testing.T) {
	pair := NewPairKey("BTCUSDT", "ETHUSDT")
	now := time.Now()

	t.Run("做多价差盈亏", func(t *testing.T) {
		s := newTestStrategy(t, VariantSpot, false)
		_, err := s.OpenPosition(pair, SignalOpenLong, 100, 50, 1000, now, -2.5)
		require.NoError(t, err)
		// leg1 多 5@100 涨到 110: +50；leg2 空 10@50 涨到 52: -20
		pnl, err := s.UnrealizedPnL(pair, 110, 52)
		require.NoError(t, err)
		assert.InDelta(t, 30.0, pnl, 1e-9)
	})

	t.Run("做空价差盈亏对称", func(t *testing.T) {
		s := newTestStrategy(t, VariantSpot, false)
		_, err := s.OpenPosition(pair, SignalOpenShort, 100, 50, 1000, now, 2.5)
		require.NoError(t, err)
		pnl, err := s.UnrealizedPnL(pair, 110, 52)
		require.NoError(t, err)
		assert.InDelta(t, -30.0, pnl, 1e-9)
	})

	t.Run("合约形态按腿方向结算结果一致", func(t *testing.T) {
		s := newTestStrategy(t, VariantFutures, true)
		_, err := s.OpenPosition(pair, SignalOpenLong, 100, 50, 1000, now, -2.5)
		require.NoError(t, err)
		pnl, err := s.UnrealizedPnL(pair, 110, 52)
		require.NoError(t, err)
		assert.InDelta(t, 30.0, pnl, 1e-9)
	})

	t.Run("平仓记录", func(t *testing.T) {
		s := newTestStrategy(t, VariantSpot, false)
		_, err := s.OpenPosition(pair, SignalOpenLong, 100, 50, 1000, now, -2.5)
		require.NoError(t, err)
		rec, err := s.ClosePosition(pair, 110, 52, now.Add(time.Hour), 0.1, ReasonSignal)
		require.NoError(t, err)
		assert.InDelta(t, 30.0, rec.PnL, 1e-9)
		assert.InDelta(t, 3.0, rec.PnLPercent, 1e-9)
		assert.Equal(t, ReasonSignal, rec.Reason)
		assert.Nil(t, s.Position(pair))
		assert.Len(t, s.Trades(), 1)

		_, err = s.ClosePosition(pair, 110, 52, now, 0, ReasonSignal)
		assert.Error(t, err, "重复平仓应报错")
	})
}

func TestAnalyzePair(t *testing.T) {
	pair := NewPairKey("BTCUSDT", "ETHUSDT")
	s := newTestStrategy(t, VariantSpot, false)

	t.Run("相关性不足不可交易", func(t *testing.T) {
		// corr = 2/3，低于 0.7 门槛。
		p1 := []float64{1, 2, 3, 4, 5, 6, 7, 8}
		p2 := []float64{1, 5, 2, 6, 3, 7, 4, 8}
		out, err := s.AnalyzePair(pair, p1, p2)
		require.NoError(t, err)
		assert.False(t, out.Viable)
		assert.NotEmpty(t, out.Reason)
		assert.Equal(t, SignalHold, out.LatestSignal)
	})

	t.Run("关闭相关性检查后低相关配对放行", func(t *testing.T) {
		cfg := s.Config()
		cfg.EnforceCorrelation = false
		loose, err := NewStrategy(cfg)
		require.NoError(t, err)

		p1 := []float64{1, 2, 3, 4, 5, 6, 7, 8}
		p2 := []float64{1, 5, 2, 6, 3, 7, 4, 8}
		out, err := loose.AnalyzePair(pair, p1, p2)
		require.NoError(t, err)
		assert.True(t, out.Viable)
		assert.Empty(t, out.Reason)
	})

	t.Run("高相关配对给出完整分析", func(t *testing.T) {
		n := 60
		p1 := make([]float64, n)
		p2 := make([]float64, n)
		for i := 0; i < n; i++ {
			p1[i] = 100 + float64(i)
			p2[i] = 50 + 0.5*float64(i)
		}
		out, err := s.AnalyzePair(pair, p1, p2)
		require.NoError(t, err)
		assert.True(t, out.Viable)
		assert.InDelta(t, 1.0, out.Correlation, 1e-9)
		assert.Len(t, out.Spread, n)
		assert.Len(t, out.ZScores, n)
	})
}

func TestStatistics(t *testing.T) {
	pair := NewPairKey("BTCUSDT", "ETHUSDT")
	now := time.Now()
	s := newTestStrategy(t, VariantSpot, false)

	// 盈利一笔 +30
	_, err := s.OpenPosition(pair, SignalOpenLong, 100, 50, 1000, now, -2.5)
	require.NoError(t, err)
	_, err = s.ClosePosition(pair, 110, 52, now, 0, ReasonSignal)
	require.NoError(t, err)

	// 亏损一笔 -30
	_, err = s.OpenPosition(pair, SignalOpenShort, 100, 50, 1000, now, 2.5)
	require.NoError(t, err)
	_, err = s.ClosePosition(pair, 110, 52, now, 0, ReasonStopLoss)
	require.NoError(t, err)

	st := s.Statistics()
	assert.Equal(t, 2, st.TotalTrades)
	assert.Equal(t, 1, st.Wins)
	assert.Equal(t, 1, st.Losses)
	assert.InDelta(t, 50.0, st.WinRate, 1e-9)
	assert.InDelta(t, 0.0, st.TotalPnL, 1e-9)
	assert.InDelta(t, 1.0, st.ProfitFactor, 1e-9)

	s.Reset()
	assert.Empty(t, s.Trades())
	assert.Zero(t, s.Statistics().TotalTrades)
}
