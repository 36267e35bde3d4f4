package coins

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSymbols(t *testing.T) {
	out, err := NormalizeSymbols([]string{" btc ", "ETH", "BTCUSDT", "", "eth"})
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, out)

	_, err = NormalizeSymbols(nil)
	assert.Error(t, err)

	_, err = NormalizeSymbols([]string{"  ", ""})
	assert.Error(t, err)
}

func TestDefaultProvider(t *testing.T) {
	p := NewDefaultProvider([]string{"btc", "eth"})
	out, err := p.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, out)
	assert.Equal(t, "default", p.Name())
}

func TestTopVolumeParse(t *testing.T) {
	body := []byte(`[
		{"symbol": "BTCUSDT", "quoteVolume": "5000000000"},
		{"symbol": "ETHUSDT", "quoteVolume": "3000000000"},
		{"symbol": "DOGEUSDT", "quoteVolume": "800000000"},
		{"symbol": "XYZUSDT", "quoteVolume": "1000"},
		{"symbol": "BTCUPUSDT", "quoteVolume": "9000000000"},
		{"symbol": "ETHBTC", "quoteVolume": "9000000000"}
	]`)
	p := NewTopVolumeProvider("", 2, 1_000_000)
	out, err := p.parse(body)
	require.NoError(t, err)
	// 杠杆代币与非 USDT 计价被过滤，低量的被门槛挡下，按成交额取前 2。
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, out)

	t.Run("非数组负载报错", func(t *testing.T) {
		_, err := p.parse([]byte(`{"code": -1}`))
		assert.Error(t, err)
	})
}
