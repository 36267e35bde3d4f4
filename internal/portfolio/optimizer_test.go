package portfolio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statarb/internal/strategy/pairs"
)

func cand(s1, s2 string, ret, sharpe, win, dd float64, trades int) Candidate {
	return Candidate{
		Pair:           pairs.NewPairKey(s1, s2),
		TotalReturnPct: ret,
		Sharpe:         sharpe,
		WinRate:        win,
		MaxDrawdownPct: dd,
		TotalTrades:    trades,
	}
}

func TestParseProfile(t *testing.T) {
	t.Run("已知画像", func(t *testing.T) {
		p, err := ParseProfile("Balanced")
		require.NoError(t, err)
		assert.Equal(t, 10, p.MaxPairs)
		assert.InDelta(t, 0.70, p.ActiveRatio, 1e-12)
	})

	t.Run("未知画像报错", func(t *testing.T) {
		_, err := ParseProfile("yolo")
		assert.Error(t, err)
	})
}

func TestTradeScore(t *testing.T) {
	assert.InDelta(t, 100.0, tradeScore(10), 1e-12)
	assert.InDelta(t, 100.0, tradeScore(25), 1e-12)
	assert.InDelta(t, 80.0, tradeScore(8), 1e-12)
	assert.InDelta(t, 90.0, tradeScore(30), 1e-12)
	assert.InDelta(t, 0.0, tradeScore(100), 1e-12)
	assert.InDelta(t, 30.0, tradeScore(3), 1e-12)
}

func TestScore(t *testing.T) {
	c := cand("BTCUSDT", "ETHUSDT", 30, 2.0, 60, 10, 15)
	// 7.5 + 40*0.35 + 60*0.15 + 50*0.15 + 100*0.10
	assert.InDelta(t, 48.0, Score(c), 1e-9)

	t.Run("夏普得分封顶", func(t *testing.T) {
		high := cand("A", "B", 0, 10, 0, 0, 0)
		low := cand("A", "B", 0, 5, 0, 0, 0)
		assert.InDelta(t, Score(high), Score(low), 1e-9)
	})
}

func TestOptimizeFilters(t *testing.T) {
	cands := []Candidate{
		cand("BTCUSDT", "ETHUSDT", 30, 2.0, 60, 10, 15),
		cand("SOLUSDT", "AVAXUSDT", 20, 1.5, 55, 12, 8),
		cand("DOGEUSDT", "XRPUSDT", 50, 0.5, 70, 5, 20), // 夏普不达标
		cand("LTCUSDT", "BCHUSDT", 10, 1.8, 58, 30, 12), // 回撤超限
		cand("ADAUSDT", "DOTUSDT", 10, 1.8, 58, 10, 3),  // 交易次数不足
	}
	p, err := Optimize("balanced", 10_000, cands)
	require.NoError(t, err)
	require.Len(t, p.Allocations, 2)
	assert.Equal(t, "BTCUSDT-ETHUSDT", p.Allocations[0].Candidate.Pair.String())
	assert.Equal(t, "SOLUSDT-AVAXUSDT", p.Allocations[1].Candidate.Pair.String())

	assert.InDelta(t, 1500.0, p.ReserveFund, 1e-9)
	assert.InDelta(t, 7000.0, p.ActiveFund, 1e-9)
	assert.InDelta(t, 1500.0, p.MobileFund, 1e-9)

	total := p.Allocations[0].Score + p.Allocations[1].Score
	for _, a := range p.Allocations {
		assert.InDelta(t, a.Score/total*7000, a.Amount, 1e-9)
		assert.InDelta(t, a.Amount*0.5, a.TradeAmount, 1e-9)
	}
}

func TestOptimizeOverlapGuard(t *testing.T) {
	strong := func(s1, s2 string, ret float64) Candidate {
		return cand(s1, s2, ret, 2.0, 60, 10, 15)
	}
	cands := []Candidate{
		strong("BTCUSDT", "ETHUSDT", 50),
		strong("ETHUSDT", "SOLUSDT", 40), // 与第一对共享 ETH：1/2 重叠，拒绝
		strong("DOGEUSDT", "XRPUSDT", 30),
		strong("BTCUSDT", "DOGEUSDT", 20), // 2/4 重叠，拒绝
		strong("LTCUSDT", "BCHUSDT", 10),
	}
	p, err := Optimize("aggressive", 10_000, cands)
	require.NoError(t, err)
	require.Len(t, p.Allocations, 3)
	assert.Equal(t, "BTCUSDT-ETHUSDT", p.Allocations[0].Candidate.Pair.String())
	assert.Equal(t, "DOGEUSDT-XRPUSDT", p.Allocations[1].Candidate.Pair.String())
	assert.Equal(t, "LTCUSDT-BCHUSDT", p.Allocations[2].Candidate.Pair.String())
}

func TestOptimizeMaxPairs(t *testing.T) {
	var cands []Candidate
	names := []string{"AAA", "BBB", "CCC", "DDD", "EEE", "FFF", "GGG", "HHH", "III", "JJJ", "KKK", "LLL"}
	for i := 0; i+1 < len(names); i += 2 {
		cands = append(cands, cand(names[i]+"USDT", names[i+1]+"USDT", float64(20-i), 1.5, 60, 10, 15))
	}
	p, err := Optimize("conservative", 10_000, cands)
	require.NoError(t, err)
	assert.Len(t, p.Allocations, 5)
}

func TestOptimizeBadFund(t *testing.T) {
	_, err := Optimize("balanced", 0, nil)
	assert.Error(t, err)
}
