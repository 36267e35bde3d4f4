package pairs

import (
	"fmt"
	"math"
	"time"

	"statarb/internal/analysis/stats"
	"statarb/internal/logger"
)

const (
	// MinPrice 低于该价格的标的大概率是坏数据，记警告后继续。
	MinPrice = 0.00001
	// MaxLegValue 单腿名义价值上限，超出部分截断。
	MaxLegValue = 1_000_000.0
)

// Config 策略参数。阈值必须严格递增：exit < entry < stop。
type Config struct {
	Variant             Variant
	SpreadMethod        stats.SpreadMethod
	Lookback            int
	EntryThreshold      float64
	ExitThreshold       float64
	StopLossThreshold   float64
	MinCorrelation      float64
	// EnforceCorrelation 关闭后跳过相关性门槛，仅用于测试模式。
	EnforceCorrelation  bool
	InitialCapital      float64
	UseContractForShort bool
	Leverage            int
	MarginType          string
}

func (c *Config) validate() error {
	if c.Lookback < 3 {
		return fmt.Errorf("lookback 过小: %d", c.Lookback)
	}
	if c.EntryThreshold <= c.ExitThreshold {
		return fmt.Errorf("entry_threshold 必须大于 exit_threshold")
	}
	if c.StopLossThreshold <= c.EntryThreshold {
		return fmt.Errorf("stop_loss_threshold 必须大于 entry_threshold")
	}
	if c.InitialCapital <= 0 {
		return fmt.Errorf("initial_capital 必须为正")
	}
	return nil
}

// Strategy 配对交易状态机：每个配对最多一组持仓，不加仓。
type Strategy struct {
	cfg       Config
	legPnL    LegPnL
	positions map[PairKey]*Position
	trades    []TradeRecord
}

func NewStrategy(cfg Config) (*Strategy, error) {
	if cfg.Variant == "" {
		cfg.Variant = VariantFutures
	}
	if cfg.SpreadMethod == "" {
		cfg.SpreadMethod = stats.SpreadNormalizedRatio
	}
	if cfg.Leverage <= 0 {
		cfg.Leverage = 1
	}
	if cfg.MarginType == "" {
		cfg.MarginType = "cross"
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Strategy{
		cfg:       cfg,
		legPnL:    legPnLFor(cfg.Variant),
		positions: make(map[PairKey]*Position),
	}, nil
}

func (s *Strategy) Config() Config { return s.cfg }

// Position 返回配对当前持仓，无持仓返回 nil。
func (s *Strategy) Position(pair PairKey) *Position {
	return s.positions[pair]
}

// Trades 返回已完成的交易记录。
func (s *Strategy) Trades() []TradeRecord { return s.trades }

// GenerateSignal 状态机：止损优先于离场，入场仅在空仓时。
// 预热期（z 无效）一律 HOLD。
func (s *Strategy) GenerateSignal(pair PairKey, z stats.ZScore) Signal {
	if !z.Valid {
		return SignalHold
	}
	pos := s.positions[pair]
	if pos != nil {
		// 止损只在 Z 向持仓的不利方向继续发散时触发。
		if pos.Direction == SignalOpenLong && z.Value < -s.cfg.StopLossThreshold {
			return SignalStopLoss
		}
		if pos.Direction == SignalOpenShort && z.Value > s.cfg.StopLossThreshold {
			return SignalStopLoss
		}
		if math.Abs(z.Value) < s.cfg.ExitThreshold {
			return SignalClose
		}
		return SignalHold
	}
	if z.Value > s.cfg.EntryThreshold {
		return SignalOpenShort
	}
	if z.Value < -s.cfg.EntryThreshold {
		return SignalOpenLong
	}
	return SignalHold
}

// sizeLeg 资金中性分配：每腿一半资金，名义价值超限时截断数量。
func sizeLeg(symbol string, halfCapital, price float64) (float64, error) {
	if price <= 0 {
		return 0, fmt.Errorf("%s 价格非法: %v", symbol, price)
	}
	if price < MinPrice {
		logger.Warnf("%s 价格 %.10f 低于最小阈值，可能是坏数据", symbol, price)
	}
	qty := halfCapital / price
	maxQty := MaxLegValue / price
	if qty > maxQty {
		logger.Warnf("%s 名义价值超限，数量从 %.4f 截断到 %.4f", symbol, qty, maxQty)
		qty = maxQty
	}
	return qty, nil
}

// OpenPosition 开仓。同一配对已有持仓时拒绝（不加仓）。
// capital 为本次分配资金；返回的 Position.Capital 为截断后的实际占用。
func (s *Strategy) OpenPosition(pair PairKey, signal Signal, price1, price2, capital float64, ts time.Time, z float64) (*Position, error) {
	if signal != SignalOpenLong && signal != SignalOpenShort {
		return nil, fmt.Errorf("非开仓信号: %s", signal)
	}
	if s.positions[pair] != nil {
		return nil, fmt.Errorf("%s 已有持仓，拒绝加仓", pair)
	}
	if capital <= 0 {
		capital = s.cfg.InitialCapital
	}
	half := capital / 2
	qty1, err := sizeLeg(pair.Symbol1, half, price1)
	if err != nil {
		return nil, err
	}
	qty2, err := sizeLeg(pair.Symbol2, half, price2)
	if err != nil {
		return nil, err
	}

	pos := &Position{
		Pair:        pair,
		Direction:   signal,
		Capital:     qty1*price1 + qty2*price2,
		EntryTime:   ts,
		EntryZScore: z,
	}
	pos.Legs[0] = Leg{Symbol: pair.Symbol1, EntryPrice: price1, Quantity: qty1}
	pos.Legs[1] = Leg{Symbol: pair.Symbol2, EntryPrice: price2, Quantity: qty2}
	s.assignLegExecution(pos)

	s.positions[pair] = pos
	logger.Debugf("开仓 %s %s: qty1=%.6f qty2=%.6f capital=%.2f z=%.4f",
		pair, signal, qty1, qty2, pos.Capital, z)
	return pos, nil
}

// assignLegExecution 确定每条腿的方向与载体。
// 现货形态两腿都走现货；合约形态下空头腿按配置决定是否用合约承担。
func (s *Strategy) assignLegExecution(pos *Position) {
	long, short := 0, 1
	if pos.Direction == SignalOpenShort {
		long, short = 1, 0
	}
	pos.Legs[long].Side = LegBuy
	pos.Legs[long].Instrument = InstrumentSpot
	pos.Legs[short].Side = LegSell
	if s.cfg.Variant == VariantFutures && s.cfg.UseContractForShort {
		pos.Legs[short].Instrument = InstrumentFutures
	} else {
		pos.Legs[short].Instrument = InstrumentSpot
	}
	// 只要有任一腿走合约，持仓就携带杠杆与保证金模式。
	if pos.Legs[0].Instrument == InstrumentFutures || pos.Legs[1].Instrument == InstrumentFutures {
		pos.Leverage = s.cfg.Leverage
		pos.MarginType = s.cfg.MarginType
	}
}

// AbortPosition 撤销登记的持仓，不产生交易记录。
// 用于实盘腿单执行失败后回滚。
func (s *Strategy) AbortPosition(pair PairKey) {
	if s.positions[pair] != nil {
		delete(s.positions, pair)
		logger.Warnf("撤销持仓登记 %s", pair)
	}
}

// UnrealizedPnL 按当前价格计算浮动盈亏。
func (s *Strategy) UnrealizedPnL(pair PairKey, cur1, cur2 float64) (float64, error) {
	pos := s.positions[pair]
	if pos == nil {
		return 0, fmt.Errorf("%s 无持仓", pair)
	}
	l1, l2 := s.legPnL.Compute(pos, cur1, cur2)
	return l1 + l2, nil
}

// ClosePosition 平仓并生成交易记录。
func (s *Strategy) ClosePosition(pair PairKey, cur1, cur2 float64, ts time.Time, z float64, reason string) (*TradeRecord, error) {
	pos := s.positions[pair]
	if pos == nil {
		return nil, fmt.Errorf("%s 无持仓可平", pair)
	}
	l1, l2 := s.legPnL.Compute(pos, cur1, cur2)
	pnl := l1 + l2
	percent := 0.0
	if pos.Capital != 0 {
		percent = pnl / pos.Capital * 100
	}
	record := TradeRecord{
		Pair:       pair,
		Direction:  pos.Direction,
		Reason:     reason,
		EntryTime:  pos.EntryTime,
		ExitTime:   ts,
		EntryZ:     pos.EntryZScore,
		ExitZ:      z,
		Legs:       pos.Legs,
		ExitPrice1: cur1,
		ExitPrice2: cur2,
		Capital:    pos.Capital,
		PnL:        pnl,
		PnLPercent: percent,
	}
	delete(s.positions, pair)
	s.trades = append(s.trades, record)
	logger.Debugf("平仓 %s (%s): pnl=%.4f (%.2f%%) z=%.4f", pair, reason, pnl, percent, z)
	return &record, nil
}

// AnalyzePair 对一组价格序列做完整配对分析。
// 相关性不足、半衰期不可用等都以 Viable=false 返回，不是错误。
func (s *Strategy) AnalyzePair(pair PairKey, prices1, prices2 []float64) (*PairAnalysis, error) {
	corr, err := stats.Correlation(prices1, prices2)
	if err != nil {
		return nil, err
	}
	out := &PairAnalysis{Pair: pair, Correlation: corr, LatestSignal: SignalHold}
	if s.cfg.EnforceCorrelation && math.Abs(corr) < s.cfg.MinCorrelation {
		out.Reason = fmt.Sprintf("相关性不足: %.4f < %.4f", math.Abs(corr), s.cfg.MinCorrelation)
		return out, nil
	}
	spread, err := stats.Spread(prices1, prices2, s.cfg.SpreadMethod)
	if err != nil {
		return nil, err
	}
	out.Spread = spread
	out.ZScores = stats.RollingZScore(spread, s.cfg.Lookback)
	out.HalfLife, out.HalfLifeOK = stats.HalfLife(spread)
	out.Cointegration = stats.CointegrationProxy(prices1, prices2)
	if len(spread) >= s.cfg.Lookback {
		ma := stats.SMA(spread, s.cfg.Lookback)
		upper, _, lower := stats.BollingerBands(spread, s.cfg.Lookback, s.cfg.EntryThreshold)
		last := len(spread) - 1
		out.SpreadMA = ma[last]
		out.BandUpper = upper[last]
		out.BandLower = lower[last]
	}
	out.Viable = true
	if len(out.ZScores) > 0 {
		out.LatestSignal = s.GenerateSignal(pair, out.ZScores[len(out.ZScores)-1])
	}
	return out, nil
}

// Statistics 汇总已完成交易。盈利按 pnl>0 计，盈亏持平计入亏损侧。
func (s *Strategy) Statistics() Statistics {
	out := Statistics{TotalTrades: len(s.trades)}
	var winSum, lossSum float64
	for _, tr := range s.trades {
		out.TotalPnL += tr.PnL
		if tr.PnL > 0 {
			out.Wins++
			winSum += tr.PnL
		} else {
			out.Losses++
			lossSum += tr.PnL
		}
	}
	if out.TotalTrades > 0 {
		out.WinRate = float64(out.Wins) / float64(out.TotalTrades) * 100
	}
	if out.Wins > 0 {
		out.AvgWin = winSum / float64(out.Wins)
	}
	if out.Losses > 0 {
		out.AvgLoss = lossSum / float64(out.Losses)
	}
	if out.AvgLoss != 0 {
		out.ProfitFactor = out.AvgWin / math.Abs(out.AvgLoss)
	}
	return out
}

// Reset 清空持仓与交易记录。
func (s *Strategy) Reset() {
	s.positions = make(map[PairKey]*Position)
	s.trades = nil
}
