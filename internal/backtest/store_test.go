package backtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statarb/internal/market"
)

func testCandles(start, step int64, n int) []market.Candle {
	out := make([]market.Candle, n)
	for i := 0; i < n; i++ {
		ts := start + int64(i)*step
		out[i] = market.Candle{
			OpenTime:  ts,
			CloseTime: ts + step - 1,
			Open:      100,
			High:      101,
			Low:       99,
			Close:     100.5,
			Volume:    10,
			Trades:    5,
		}
	}
	return out
}

func TestStoreRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	tf, err := ParseTimeframe("1h")
	require.NoError(t, err)
	step := tf.Duration.Milliseconds()

	candles := testCandles(0, step, 10)
	n, err := store.InsertCandles(ctx, "BTCUSDT", "1h", candles)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	t.Run("重复写入覆盖", func(t *testing.T) {
		n, err := store.InsertCandles(ctx, "BTCUSDT", "1h", candles[:3])
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		list, err := store.ListAllCandles(ctx, "BTCUSDT", "1h")
		require.NoError(t, err)
		assert.Len(t, list, 10)
	})

	t.Run("manifest 统计", func(t *testing.T) {
		m, err := store.Manifest(ctx, "BTCUSDT", "1h")
		require.NoError(t, err)
		assert.Equal(t, "BTCUSDT", m.Symbol)
		assert.Equal(t, int64(10), m.Rows)
		assert.Equal(t, int64(0), m.MinTime)
		assert.Equal(t, int64(9)*step, m.MaxTime)
	})

	t.Run("区间查询升序", func(t *testing.T) {
		list, err := store.RangeCandles(ctx, "BTCUSDT", "1h", step, 5*step)
		require.NoError(t, err)
		require.Len(t, list, 5)
		assert.Equal(t, step, list[0].OpenTime)
	})
}

func TestStoreCheckIntegrity(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	tf, err := ParseTimeframe("1h")
	require.NoError(t, err)
	step := tf.Duration.Milliseconds()

	// 写入 0..4 和 8..9，留出 5..7 的缺口。
	_, err = store.InsertCandles(ctx, "ETHUSDT", "1h", testCandles(0, step, 5))
	require.NoError(t, err)
	_, err = store.InsertCandles(ctx, "ETHUSDT", "1h", testCandles(8*step, step, 2))
	require.NoError(t, err)

	report, err := store.CheckIntegrity(ctx, "ETHUSDT", "1h", tf, 0, 9*step)
	require.NoError(t, err)
	assert.Equal(t, int64(10), report.Expected)
	assert.Equal(t, int64(7), report.Present)
	require.Len(t, report.Gaps, 1)
	assert.Equal(t, 5*step, report.Gaps[0].From)
	assert.Equal(t, 7*step, report.Gaps[0].To)
	assert.False(t, report.Complete())

	t.Run("补齐后无缺口", func(t *testing.T) {
		_, err := store.InsertCandles(ctx, "ETHUSDT", "1h", testCandles(5*step, step, 3))
		require.NoError(t, err)
		report, err := store.CheckIntegrity(ctx, "ETHUSDT", "1h", tf, 0, 9*step)
		require.NoError(t, err)
		assert.True(t, report.Complete())
	})
}
