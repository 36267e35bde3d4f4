package portfolio

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"statarb/internal/logger"
	"statarb/internal/strategy/pairs"
)

// Profile 风险画像：入选门槛与资金分层比例。
type Profile struct {
	Name         string  `json:"name"`
	MaxPairs     int     `json:"max_pairs"`
	ReserveRatio float64 `json:"reserve_ratio"`
	ActiveRatio  float64 `json:"active_ratio"`
	MobileRatio  float64 `json:"mobile_ratio"`
	MinSharpe    float64 `json:"min_sharpe"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	MinWinRate   float64 `json:"min_win_rate"`
	MinTrades    int     `json:"min_trades"`
}

var profiles = map[string]Profile{
	"conservative": {Name: "conservative", MaxPairs: 5, ReserveRatio: 0.20, ActiveRatio: 0.60, MobileRatio: 0.20, MinSharpe: 1.2, MaxDrawdown: 15, MinWinRate: 55, MinTrades: 5},
	"balanced":     {Name: "balanced", MaxPairs: 10, ReserveRatio: 0.15, ActiveRatio: 0.70, MobileRatio: 0.15, MinSharpe: 1.0, MaxDrawdown: 20, MinWinRate: 52, MinTrades: 5},
	"aggressive":   {Name: "aggressive", MaxPairs: 20, ReserveRatio: 0.10, ActiveRatio: 0.80, MobileRatio: 0.10, MinSharpe: 0.8, MaxDrawdown: 25, MinWinRate: 50, MinTrades: 5},
}

// ParseProfile 按名称返回风险画像。
func ParseProfile(name string) (Profile, error) {
	p, ok := profiles[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Profile{}, fmt.Errorf("未知风险画像: %s", name)
	}
	return p, nil
}

// Candidate 入选评估使用的回测指标。
type Candidate struct {
	Pair           pairs.PairKey `json:"pair"`
	TotalReturnPct float64       `json:"total_return_pct"`
	Sharpe         float64       `json:"sharpe"`
	WinRate        float64       `json:"win_rate"`
	MaxDrawdownPct float64       `json:"max_drawdown_pct"`
	TotalTrades    int           `json:"total_trades"`
}

// Allocation 单配对的资金分配。
type Allocation struct {
	Candidate   Candidate `json:"candidate"`
	Score       float64   `json:"score"`
	Amount      float64   `json:"amount"`
	TradeAmount float64   `json:"trade_amount"` // 单次开仓资金，分配额的一半
}

// Portfolio 组合配置结果。
type Portfolio struct {
	Profile     Profile      `json:"profile"`
	TotalFund   float64      `json:"total_fund"`
	ReserveFund float64      `json:"reserve_fund"`
	ActiveFund  float64      `json:"active_fund"`
	MobileFund  float64      `json:"mobile_fund"`
	Allocations []Allocation `json:"allocations"`
}

// tradeScore 交易次数评分：样本太少不可信，过度交易同样扣分。
func tradeScore(n int) float64 {
	switch {
	case n >= 10 && n <= 25:
		return 100
	case n >= 5 && n < 10:
		return 50 + float64(n-5)*10
	case n > 25:
		return math.Max(0, 100-float64(n-25)*2)
	default:
		return float64(n) * 10
	}
}

// Score 综合评分：收益、夏普、胜率、回撤、交易次数加权。
func Score(c Candidate) float64 {
	sharpeScore := math.Min(c.Sharpe*20, 100)
	ddScore := math.Max(0, 100-c.MaxDrawdownPct*5)
	return c.TotalReturnPct*0.25 +
		sharpeScore*0.35 +
		c.WinRate*0.15 +
		ddScore*0.15 +
		tradeScore(c.TotalTrades)*0.10
}

func (p Profile) admits(c Candidate) bool {
	return c.Sharpe >= p.MinSharpe &&
		c.MaxDrawdownPct <= p.MaxDrawdown &&
		c.WinRate >= p.MinWinRate &&
		c.TotalTrades >= p.MinTrades
}

// overlapTooHigh 候选的两个币种与已选配对重叠过半时拒绝，
// 避免组合集中在同一组标的上。
func overlapTooHigh(c Candidate, selected []Allocation) bool {
	if len(selected) == 0 {
		return false
	}
	used := make(map[string]int)
	for _, a := range selected {
		used[a.Candidate.Pair.Symbol1]++
		used[a.Candidate.Pair.Symbol2]++
	}
	overlap := used[c.Pair.Symbol1] + used[c.Pair.Symbol2]
	return float64(overlap)/float64(len(selected)*2) >= 0.5
}

// Optimize 筛选候选并按评分分配活跃资金。
func Optimize(profileName string, totalFund float64, candidates []Candidate) (*Portfolio, error) {
	profile, err := ParseProfile(profileName)
	if err != nil {
		return nil, err
	}
	if totalFund <= 0 {
		return nil, fmt.Errorf("total fund 必须为正: %v", totalFund)
	}

	admitted := make([]Allocation, 0, len(candidates))
	for _, c := range candidates {
		if !profile.admits(c) {
			logger.Debugf("[portfolio] %s 未达门槛 (sharpe=%.2f dd=%.1f win=%.1f trades=%d)",
				c.Pair, c.Sharpe, c.MaxDrawdownPct, c.WinRate, c.TotalTrades)
			continue
		}
		admitted = append(admitted, Allocation{Candidate: c, Score: Score(c)})
	}
	sort.SliceStable(admitted, func(i, j int) bool { return admitted[i].Score > admitted[j].Score })

	var selected []Allocation
	for _, a := range admitted {
		if len(selected) >= profile.MaxPairs {
			break
		}
		if overlapTooHigh(a.Candidate, selected) {
			logger.Debugf("[portfolio] %s 与已选组合重叠过高，跳过", a.Candidate.Pair)
			continue
		}
		selected = append(selected, a)
	}

	out := &Portfolio{
		Profile:     profile,
		TotalFund:   totalFund,
		ReserveFund: totalFund * profile.ReserveRatio,
		ActiveFund:  totalFund * profile.ActiveRatio,
		MobileFund:  totalFund * profile.MobileRatio,
	}
	var totalScore float64
	for _, a := range selected {
		totalScore += a.Score
	}
	if totalScore > 0 {
		for i := range selected {
			selected[i].Amount = selected[i].Score / totalScore * out.ActiveFund
			selected[i].TradeAmount = selected[i].Amount * 0.5
		}
	}
	out.Allocations = selected
	logger.Infof("[portfolio] %s 画像入选 %d/%d 个配对，活跃资金 %.2f",
		profile.Name, len(selected), len(candidates), out.ActiveFund)
	return out, nil
}
