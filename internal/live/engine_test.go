package live

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statarb/internal/market"
	"statarb/internal/strategy/pairs"
)

type fakeSource struct {
	mu      sync.Mutex
	candles map[string][]market.Candle
}

func (f *fakeSource) FetchHistory(_ context.Context, symbol, _ string, limit int) ([]market.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	series, ok := f.candles[symbol]
	if !ok {
		return nil, fmt.Errorf("未知 symbol: %s", symbol)
	}
	if len(series) > limit {
		series = series[len(series)-limit:]
	}
	out := make([]market.Candle, len(series))
	copy(out, series)
	return out, nil
}

func (f *fakeSource) append(symbol string, close float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	series := f.candles[symbol]
	ts := int64(len(series)) * 3_600_000
	f.candles[symbol] = append(series, market.Candle{OpenTime: ts, Close: close})
}

type scriptExec struct {
	mu     sync.Mutex
	calls  []Fill
	failOn map[int]error // 1-based 调用序号
}

func (s *scriptExec) Place(_ context.Context, symbol string, side pairs.LegSide, qty float64) (Fill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.calls) + 1
	if err, ok := s.failOn[n]; ok {
		s.calls = append(s.calls, Fill{Symbol: symbol, Side: side})
		return Fill{}, err
	}
	fill := Fill{Symbol: symbol, Side: side, Quantity: qty, Price: 0, OrderID: fmt.Sprintf("t-%d", n)}
	s.calls = append(s.calls, fill)
	return fill, nil
}

type recordNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordNotifier) SendText(text string) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, text)
	r.mu.Unlock()
	return nil
}

func (r *recordNotifier) contains(sub string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.msgs {
		if strings.Contains(m, sub) {
			return true
		}
	}
	return false
}

// entrySource 构造一组在最后一根触发做空开仓的行情：
// AAAUSDT 在 101/99 之间震荡后跳到 120，BBBUSDT 恒为 50。
func entrySource() *fakeSource {
	src := &fakeSource{candles: map[string][]market.Candle{"AAAUSDT": nil, "BBBUSDT": nil}}
	for i := 0; i < 30; i++ {
		v := 99.0
		if i%2 == 0 {
			v = 101.0
		}
		src.append("AAAUSDT", v)
		src.append("BBBUSDT", 50)
	}
	src.append("AAAUSDT", 120)
	src.append("BBBUSDT", 50)
	return src
}

func testLiveConfig() Config {
	return Config{
		Pairs:        []pairs.PairKey{pairs.NewPairKey("AAAUSDT", "BBBUSDT")},
		Timeframe:    "1h",
		ScanInterval: "1h",
		Strategy: pairs.Config{
			Lookback:          20,
			EntryThreshold:    2.0,
			ExitThreshold:     0.5,
			StopLossThreshold: 10.0,
			InitialCapital:    1000,
		},
		TradeAmount: 1000,
	}
}

func TestEngineOpenAndClose(t *testing.T) {
	src := entrySource()
	exec := &scriptExec{failOn: map[int]error{}}
	note := &recordNotifier{}
	eng, err := NewEngine(testLiveConfig(), src, exec, note, nil)
	require.NoError(t, err)

	pair := pairs.NewPairKey("AAAUSDT", "BBBUSDT")

	t.Run("做空开仓顺序执行双腿", func(t *testing.T) {
		require.NoError(t, eng.ScanOnce(context.Background()))
		require.Len(t, exec.calls, 2)
		// 做空配对：第一腿卖出高估的 AAAUSDT，第二腿买入 BBBUSDT
		assert.Equal(t, "AAAUSDT", exec.calls[0].Symbol)
		assert.Equal(t, pairs.LegSell, exec.calls[0].Side)
		assert.InDelta(t, 500.0/120.0, exec.calls[0].Quantity, 1e-9)
		assert.Equal(t, "BBBUSDT", exec.calls[1].Symbol)
		assert.Equal(t, pairs.LegBuy, exec.calls[1].Side)
		assert.InDelta(t, 10.0, exec.calls[1].Quantity, 1e-9)
		require.NotNil(t, eng.Position(pair))
		assert.True(t, note.contains("开仓"))
	})

	t.Run("价差回归后平仓", func(t *testing.T) {
		src.append("AAAUSDT", 101)
		src.append("BBBUSDT", 50)
		require.NoError(t, eng.ScanOnce(context.Background()))
		require.Len(t, exec.calls, 4)
		assert.Equal(t, pairs.LegBuy, exec.calls[2].Side)
		assert.Equal(t, pairs.LegSell, exec.calls[3].Side)
		assert.Nil(t, eng.Position(pair))
		// 空头腿 (120-101)*500/120，另一腿价格未动
		assert.InDelta(t, 19.0*500.0/120.0, eng.RealizedPnL(), 1e-9)
		assert.True(t, note.contains("平仓"))
	})
}

func TestEngineRollbackOnSecondLegFailure(t *testing.T) {
	src := entrySource()
	exec := &scriptExec{failOn: map[int]error{2: fmt.Errorf("insufficient margin")}}
	note := &recordNotifier{}
	eng, err := NewEngine(testLiveConfig(), src, exec, note, nil)
	require.NoError(t, err)

	require.NoError(t, eng.ScanOnce(context.Background()))
	// 第一腿成交、第二腿失败、第一腿回滚
	require.Len(t, exec.calls, 3)
	assert.Equal(t, pairs.LegSell, exec.calls[0].Side)
	assert.Equal(t, "AAAUSDT", exec.calls[2].Symbol)
	assert.Equal(t, pairs.LegBuy, exec.calls[2].Side)
	assert.Nil(t, eng.Position(pairs.NewPairKey("AAAUSDT", "BBBUSDT")))
	assert.True(t, note.contains("回滚"))
}

func TestEngineFirstLegFailureAborts(t *testing.T) {
	src := entrySource()
	exec := &scriptExec{failOn: map[int]error{1: fmt.Errorf("rate limited")}}
	note := &recordNotifier{}
	eng, err := NewEngine(testLiveConfig(), src, exec, note, nil)
	require.NoError(t, err)

	require.NoError(t, eng.ScanOnce(context.Background()))
	require.Len(t, exec.calls, 1)
	assert.Nil(t, eng.Position(pairs.NewPairKey("AAAUSDT", "BBBUSDT")))
	assert.True(t, note.contains("开仓失败"))
}

func TestEngineCorrelationGateHoldsFire(t *testing.T) {
	// BBBUSDT 恒定，窗口相关性为 0：开启检查后信号被拦截，不下任何单。
	src := entrySource()
	exec := &scriptExec{}
	note := &recordNotifier{}
	cfg := testLiveConfig()
	cfg.Strategy.MinCorrelation = 0.6
	cfg.Strategy.EnforceCorrelation = true
	eng, err := NewEngine(cfg, src, exec, note, nil)
	require.NoError(t, err)

	require.NoError(t, eng.ScanOnce(context.Background()))
	assert.Empty(t, exec.calls)
	assert.Nil(t, eng.Position(pairs.NewPairKey("AAAUSDT", "BBBUSDT")))

	// 关闭检查后同一行情正常开仓。
	cfg.Strategy.EnforceCorrelation = false
	eng, err = NewEngine(cfg, entrySource(), exec, note, nil)
	require.NoError(t, err)
	require.NoError(t, eng.ScanOnce(context.Background()))
	assert.Len(t, exec.calls, 2)
}

func TestEngineDrawdownKillSwitch(t *testing.T) {
	src := entrySource()
	exec := &scriptExec{failOn: map[int]error{}}
	note := &recordNotifier{}
	cfg := testLiveConfig()
	cfg.MaxDrawdownPct = 5.0
	eng, err := NewEngine(cfg, src, exec, note, nil)
	require.NoError(t, err)

	pair := pairs.NewPairKey("AAAUSDT", "BBBUSDT")
	require.NoError(t, eng.ScanOnce(context.Background()))
	require.NotNil(t, eng.Position(pair))

	// 模拟此前累计亏损 6%：超过 5% 上限，应清仓并停机
	eng.realized = -60
	err = eng.checkDrawdown(context.Background())
	require.ErrorIs(t, err, ErrDrawdownExceeded)
	assert.Nil(t, eng.Position(pair))
	require.Len(t, exec.calls, 4)
	assert.True(t, note.contains("风控"))
}

func TestDryRunExecutor(t *testing.T) {
	exec := NewDryRunExecutor(func(string) float64 { return 42 })
	fill, err := exec.Place(context.Background(), "AAAUSDT", pairs.LegBuy, 3)
	require.NoError(t, err)
	assert.InDelta(t, 42.0, fill.Price, 1e-12)
	assert.False(t, fill.Partial)
	assert.Len(t, exec.Fills(), 1)
}
