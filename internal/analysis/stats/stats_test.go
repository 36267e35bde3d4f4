package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrelation(t *testing.T) {
	t.Run("完全正相关", func(t *testing.T) {
		x := []float64{1, 2, 3, 4, 5}
		y := []float64{2, 4, 6, 8, 10}
		corr, err := Correlation(x, y)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, corr, 1e-12)
	})

	t.Run("完全负相关", func(t *testing.T) {
		x := []float64{1, 2, 3, 4, 5}
		y := []float64{10, 8, 6, 4, 2}
		corr, err := Correlation(x, y)
		require.NoError(t, err)
		assert.InDelta(t, -1.0, corr, 1e-12)
	})

	t.Run("常量序列返回零", func(t *testing.T) {
		corr, err := Correlation([]float64{5, 5, 5}, []float64{1, 2, 3})
		require.NoError(t, err)
		assert.Zero(t, corr)
	})

	t.Run("长度不一致返回错误", func(t *testing.T) {
		_, err := Correlation([]float64{1, 2}, []float64{1, 2, 3})
		assert.Error(t, err)
	})
}

func TestCorrelationMatrix(t *testing.T) {
	series := [][]float64{
		{1, 2, 3, 4},
		{2, 4, 6, 8},
		{4, 3, 2, 1},
	}
	m := CorrelationMatrix(series)
	require.Len(t, m, 3)
	for i := range m {
		assert.Equal(t, 1.0, m[i][i])
		for j := range m {
			assert.Equal(t, m[i][j], m[j][i])
		}
	}
	assert.InDelta(t, 1.0, m[0][1], 1e-12)
	assert.InDelta(t, -1.0, m[0][2], 1e-12)
}

func TestNormalizePrices(t *testing.T) {
	t.Run("首价归一", func(t *testing.T) {
		out := NormalizePrices([]float64{100, 110, 90})
		assert.Equal(t, []float64{1, 1.1, 0.9}, out)
	})

	t.Run("首价为零原样返回", func(t *testing.T) {
		in := []float64{0, 2, 3}
		out := NormalizePrices(in)
		assert.Equal(t, in, out)
	})
}

func TestSpread(t *testing.T) {
	p1 := []float64{100, 110, 120}
	p2 := []float64{50, 50, 60}

	t.Run("normalized_ratio", func(t *testing.T) {
		out, err := Spread(p1, p2, SpreadNormalizedRatio)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, out[0], 1e-12)
		assert.InDelta(t, 1.1, out[1], 1e-12)
		assert.InDelta(t, 1.0, out[2], 1e-12)
	})

	t.Run("ratio 分母为零记零", func(t *testing.T) {
		out, err := Spread([]float64{10, 10}, []float64{5, 0}, SpreadRatio)
		require.NoError(t, err)
		assert.Equal(t, []float64{2, 0}, out)
	})

	t.Run("difference", func(t *testing.T) {
		out, err := Spread(p1, p2, SpreadDifference)
		require.NoError(t, err)
		assert.Equal(t, []float64{50, 60, 60}, out)
	})

	t.Run("log_ratio 非正价格记零", func(t *testing.T) {
		out, err := Spread([]float64{math.E, 0}, []float64{1, 1}, SpreadLogRatio)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, out[0], 1e-12)
		assert.Zero(t, out[1])
	})

	t.Run("长度不一致返回错误", func(t *testing.T) {
		_, err := Spread([]float64{1}, []float64{1, 2}, SpreadDifference)
		assert.Error(t, err)
	})
}

func TestRollingZScore(t *testing.T) {
	series := []float64{1, 2, 3, 4, 100}
	lookback := 3
	out := RollingZScore(series, lookback)
	require.Len(t, out, len(series))

	// 预热期不产生有效值。
	for i := 0; i < lookback; i++ {
		assert.False(t, out[i].Valid)
	}
	assert.True(t, out[3].Valid)
	assert.True(t, out[4].Valid)

	// 窗口不含当前点: i=3 时窗口 {1,2,3}，mean=2，std=sqrt(2/3)。
	expected := (4.0 - 2.0) / math.Sqrt(2.0/3.0)
	assert.InDelta(t, expected, out[3].Value, 1e-12)

	t.Run("窗口零方差记零", func(t *testing.T) {
		out := RollingZScore([]float64{5, 5, 5, 9}, 3)
		assert.True(t, out[3].Valid)
		assert.Zero(t, out[3].Value)
	})
}

func TestHalfLife(t *testing.T) {
	t.Run("均值回归序列", func(t *testing.T) {
		// AR(1): x[t] = 0.5 * x[t-1]
		series := make([]float64, 50)
		series[0] = 10
		for i := 1; i < len(series); i++ {
			series[i] = 0.5 * series[i-1]
		}
		hl, ok := HalfLife(series)
		require.True(t, ok)
		assert.InDelta(t, 1.0, hl, 1e-9)
	})

	t.Run("随机游走不可用", func(t *testing.T) {
		series := []float64{1, 2, 4, 8, 16, 32}
		_, ok := HalfLife(series)
		assert.False(t, ok)
	})

	t.Run("序列过短不可用", func(t *testing.T) {
		_, ok := HalfLife([]float64{1, 2})
		assert.False(t, ok)
	})
}

func TestCointegrationProxy(t *testing.T) {
	t.Run("稳定比率视为协整", func(t *testing.T) {
		p1 := []float64{100, 101, 99, 100, 102}
		p2 := []float64{50, 50.4, 49.6, 50.1, 50.8}
		out := CointegrationProxy(p1, p2)
		assert.True(t, out.Viable)
		assert.Less(t, out.CV, 0.1)
	})

	t.Run("发散比率不协整", func(t *testing.T) {
		p1 := []float64{100, 200, 400, 800}
		p2 := []float64{100, 100, 100, 100}
		out := CointegrationProxy(p1, p2)
		assert.False(t, out.Viable)
		assert.NotEmpty(t, out.Reason)
	})

	t.Run("分母为零的点被跳过", func(t *testing.T) {
		out := CointegrationProxy([]float64{10, 10}, []float64{0, 5})
		assert.InDelta(t, 2.0, out.MeanRatio, 1e-12)
	})
}

func TestParseSpreadMethod(t *testing.T) {
	m, err := ParseSpreadMethod("")
	require.NoError(t, err)
	assert.Equal(t, SpreadNormalizedRatio, m)

	m, err = ParseSpreadMethod("log")
	require.NoError(t, err)
	assert.Equal(t, SpreadLogRatio, m)

	_, err = ParseSpreadMethod("bogus")
	assert.Error(t, err)
}
