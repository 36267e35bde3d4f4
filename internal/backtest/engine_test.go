package backtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statarb/internal/analysis/stats"
	"statarb/internal/market"
	"statarb/internal/strategy/pairs"
)

func testEngineConfig() EngineConfig {
	return EngineConfig{
		Pair: pairs.NewPairKey("AAAUSDT", "BBBUSDT"),
		Strategy: pairs.Config{
			Variant:           pairs.VariantSpot,
			SpreadMethod:      stats.SpreadNormalizedRatio,
			Lookback:          20,
			EntryThreshold:    2.5,
			ExitThreshold:     0.5,
			StopLossThreshold: 5.0,
			MinCorrelation:    0.6,
			InitialCapital:    1000,
		},
		Timeframe:      "1h",
		InitialCapital: 1000,
		PositionSize:   0.5,
		CommissionRate: 0.001,
		Slippage:       0,
	}
}

// shockSeries 构造确定性路径：基准 100±1 交替震荡，
// 第 150 根冲高到 120 后回落（完整往返），195 根之后再次冲高并保持到结束。
func shockSeries(n int) ([]market.Candle, []market.Candle) {
	c1 := make([]market.Candle, n)
	c2 := make([]market.Candle, n)
	for i := 0; i < n; i++ {
		ts := int64(i) * 3_600_000
		p1 := 99.0
		if i%2 == 0 {
			p1 = 101.0
		}
		if i == 150 || i >= 196 {
			p1 = 120.0
		}
		c1[i] = market.Candle{OpenTime: ts, Close: p1}
		c2[i] = market.Candle{OpenTime: ts, Close: 50.0}
	}
	return c1, c2
}

func TestEngineRoundTrip(t *testing.T) {
	eng, err := NewEngine(testEngineConfig())
	require.NoError(t, err)

	c1, c2 := shockSeries(200)
	report, err := eng.Run(context.Background(), c1, c2)
	require.NoError(t, err)
	require.Len(t, report.Trades, 2)

	first := report.Trades[0]
	assert.Equal(t, pairs.SignalOpenShort, first.Direction)
	assert.Equal(t, pairs.ReasonSignal, first.Reason)

	// 开仓 500（每腿 250）：leg1 卖 250/120@120，leg2 买 5@50。
	// 平仓价 99/50：毛利 21*250/120，手续费按开平双边名义价值计。
	qty1 := 250.0 / 120.0
	gross := 21.0 * qty1
	exitNotional := qty1*99.0 + 5.0*50.0
	commission := 0.001 * (500.0 + exitNotional)
	assert.InDelta(t, commission, first.Commission, 1e-9)
	assert.InDelta(t, gross-commission, first.PnL, 1e-9)
	assert.InDelta(t, first.PnL/500.0*100, first.PnLPercent, 1e-9)

	// 尾部冲高未回落，序列结束强制平仓，开平同价只亏手续费。
	second := report.Trades[1]
	assert.Equal(t, pairs.ReasonForcedLiquidation, second.Reason)
	assert.Negative(t, second.PnL)

	rs := report.Stats
	assert.Equal(t, 2, rs.TotalTrades)
	assert.Equal(t, 1, rs.Wins)
	assert.Equal(t, 1, rs.Losses)
	assert.InDelta(t, 1000.0+first.PnL+second.PnL, rs.FinalCapital, 1e-9)
	assert.InDelta(t, first.Commission+second.Commission, rs.TotalCommission, 1e-9)
	assert.Greater(t, rs.MaxDrawdownPct, 0.0)
	assert.NotEmpty(t, report.Equity)
}

func TestEngineCorrelationGate(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Strategy.EnforceCorrelation = true
	c1, c2 := shockSeries(200)

	// 第二腿恒定，任何滚动窗口的相关性都是 0，分析器判定不可交易。
	strat, err := pairs.NewStrategy(cfg.Strategy)
	require.NoError(t, err)
	lb := cfg.Strategy.Lookback
	w1 := make([]float64, 0, lb+1)
	w2 := make([]float64, 0, lb+1)
	for i := 150 - lb; i <= 150; i++ {
		w1 = append(w1, c1[i].Close)
		w2 = append(w2, c2[i].Close)
	}
	analysis, err := strat.AnalyzePair(cfg.Pair, w1, w2)
	require.NoError(t, err)
	require.False(t, analysis.Viable)

	// 引擎必须与分析器口径一致：整段回放不产生任何交易。
	eng, err := NewEngine(cfg)
	require.NoError(t, err)
	report, err := eng.Run(context.Background(), c1, c2)
	require.NoError(t, err)
	assert.Empty(t, report.Trades)
	assert.Len(t, report.Equity, 200-lb+1, "被跳过的 K 线仍计入资金曲线")

	// 关闭检查后同一段数据恢复原有的两笔交易。
	cfg.Strategy.EnforceCorrelation = false
	eng, err = NewEngine(cfg)
	require.NoError(t, err)
	report, err = eng.Run(context.Background(), c1, c2)
	require.NoError(t, err)
	assert.Len(t, report.Trades, 2)
}

func TestEngineInsufficientData(t *testing.T) {
	eng, err := NewEngine(testEngineConfig())
	require.NoError(t, err)
	c1, c2 := shockSeries(10)
	_, err = eng.Run(context.Background(), c1, c2)
	assert.Error(t, err)
}

func TestAlignCandles(t *testing.T) {
	c1 := []market.Candle{
		{OpenTime: 1000, Close: 10},
		{OpenTime: 2000, Close: 11},
		{OpenTime: 3000, Close: 12},
	}
	c2 := []market.Candle{
		{OpenTime: 2000, Close: 5},
		{OpenTime: 3000, Close: 6},
		{OpenTime: 4000, Close: 7},
	}
	p1, p2, times := alignCandles(c1, c2)
	assert.Equal(t, []float64{11, 12}, p1)
	assert.Equal(t, []float64{5, 6}, p2)
	assert.Equal(t, []int64{2000, 3000}, times)
}

type fakeProvider struct {
	data map[string][]market.Candle
}

func (f *fakeProvider) PairCandles(_ context.Context, pair pairs.PairKey, _ string) ([]market.Candle, []market.Candle, error) {
	c1, ok1 := f.data[pair.Symbol1]
	c2, ok2 := f.data[pair.Symbol2]
	if !ok1 || !ok2 {
		return nil, nil, assert.AnError
	}
	return c1, c2, nil
}

func TestBatchRun(t *testing.T) {
	c1, c2 := shockSeries(200)
	provider := &fakeProvider{data: map[string][]market.Candle{
		"AAAUSDT": c1,
		"BBBUSDT": c2,
	}}
	batch := NewBatch(BatchConfig{
		Engine:      testEngineConfig(),
		TopPairs:    5,
		Concurrency: 2,
		Provider:    provider,
	})
	candidates := []pairs.PairKey{
		pairs.NewPairKey("AAAUSDT", "BBBUSDT"),
		pairs.NewPairKey("AAAUSDT", "MISSINGUSDT"), // 数据缺失，只记错误不中断
	}
	results, err := batch.Run(context.Background(), candidates)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.NotNil(t, results[0].Report)
	assert.Equal(t, "AAAUSDT-BBBUSDT", results[0].Pair.String())
	assert.Empty(t, results[0].Err)
	assert.Nil(t, results[1].Report)
	assert.NotEmpty(t, results[1].Err)
}
