package pairs

import (
	"fmt"
	"strings"
	"time"

	"statarb/internal/analysis/stats"
)

// PairKey 唯一标识一个交易对组合，顺序敏感：leg1 做价差多头时买入。
type PairKey struct {
	Symbol1 string `json:"symbol1"`
	Symbol2 string `json:"symbol2"`
}

func NewPairKey(symbol1, symbol2 string) PairKey {
	return PairKey{
		Symbol1: strings.ToUpper(strings.TrimSpace(symbol1)),
		Symbol2: strings.ToUpper(strings.TrimSpace(symbol2)),
	}
}

func (k PairKey) String() string {
	return k.Symbol1 + "-" + k.Symbol2
}

// Variant 决定腿的执行形态：纯现货双边，或用合约承担空头腿。
type Variant string

const (
	VariantSpot    Variant = "spot"
	VariantFutures Variant = "futures"
)

func ParseVariant(input string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "", string(VariantFutures):
		return VariantFutures, nil
	case string(VariantSpot):
		return VariantSpot, nil
	default:
		return "", fmt.Errorf("不支持的策略形态: %s", input)
	}
}

// Signal 状态机输出。
type Signal string

const (
	SignalOpenLong  Signal = "OPEN_LONG"  // 做多价差：买 leg1 卖 leg2
	SignalOpenShort Signal = "OPEN_SHORT" // 做空价差：卖 leg1 买 leg2
	SignalClose     Signal = "CLOSE"
	SignalStopLoss  Signal = "STOP_LOSS"
	SignalHold      Signal = "HOLD"
)

// LegSide 单腿方向。
type LegSide string

const (
	LegBuy  LegSide = "buy"
	LegSell LegSide = "sell"
)

// LegInstrument 单腿执行载体。
type LegInstrument string

const (
	InstrumentSpot    LegInstrument = "spot"
	InstrumentFutures LegInstrument = "futures"
)

// Leg 持仓中的一条腿，方向与载体在开仓时确定，平仓按各自方向结算。
type Leg struct {
	Symbol     string        `json:"symbol"`
	Instrument LegInstrument `json:"instrument"`
	Side       LegSide       `json:"side"`
	EntryPrice float64       `json:"entry_price"`
	Quantity   float64       `json:"quantity"`
}

// Position 一组双腿持仓。Capital 为截断后的实际占用资金。
// 含合约腿时记录开仓时刻的杠杆与保证金模式。
type Position struct {
	Pair        PairKey   `json:"pair"`
	Direction   Signal    `json:"direction"`
	Legs        [2]Leg    `json:"legs"`
	Capital     float64   `json:"capital"`
	EntryTime   time.Time `json:"entry_time"`
	EntryZScore float64   `json:"entry_zscore"`
	Leverage    int       `json:"leverage,omitempty"`
	MarginType  string    `json:"margin_type,omitempty"`
}

// TradeRecord 一笔完整的开平仓记录。
type TradeRecord struct {
	Pair       PairKey   `json:"pair"`
	Direction  Signal    `json:"direction"`
	Reason     string    `json:"reason"`
	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `json:"exit_time"`
	EntryZ     float64   `json:"entry_zscore"`
	ExitZ      float64   `json:"exit_zscore"`
	Legs       [2]Leg    `json:"legs"`
	ExitPrice1 float64   `json:"exit_price1"`
	ExitPrice2 float64   `json:"exit_price2"`
	Capital    float64   `json:"capital"`
	PnL        float64   `json:"pnl"`
	PnLPercent float64   `json:"pnl_percent"`
	Commission float64   `json:"commission"`
}

// 平仓原因。
const (
	ReasonSignal            = "signal"
	ReasonStopLoss          = "stop_loss"
	ReasonForcedLiquidation = "forced_liquidation"
)

// PairAnalysis 单对分析结果：非可交易是数据而不是错误。
type PairAnalysis struct {
	Pair          PairKey            `json:"pair"`
	Viable        bool               `json:"viable"`
	Reason        string             `json:"reason,omitempty"`
	Correlation   float64            `json:"correlation"`
	Spread        []float64          `json:"spread,omitempty"`
	ZScores       []stats.ZScore     `json:"zscores,omitempty"`
	HalfLife      float64            `json:"half_life,omitempty"`
	HalfLifeOK    bool               `json:"half_life_ok"`
	SpreadMA      float64            `json:"spread_ma,omitempty"`
	BandUpper     float64            `json:"band_upper,omitempty"`
	BandLower     float64            `json:"band_lower,omitempty"`
	Cointegration stats.Cointegration `json:"cointegration"`
	LatestSignal  Signal             `json:"latest_signal"`
}

// Statistics 策略累计统计。
type Statistics struct {
	TotalTrades  int     `json:"total_trades"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	WinRate      float64 `json:"win_rate"`
	TotalPnL     float64 `json:"total_pnl"`
	AvgWin       float64 `json:"avg_win"`
	AvgLoss      float64 `json:"avg_loss"`
	ProfitFactor float64 `json:"profit_factor"`
}
