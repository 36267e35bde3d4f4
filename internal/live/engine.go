package live

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"statarb/internal/analysis/stats"
	"statarb/internal/gateway/notifier"
	"statarb/internal/logger"
	"statarb/internal/market"
	"statarb/internal/pairparams"
	"statarb/internal/scheduler"
	"statarb/internal/strategy/pairs"
)

// ErrDrawdownExceeded 账户回撤触发风控，引擎主动停机。
var ErrDrawdownExceeded = errors.New("账户回撤超过风控上限")

// CandleSource 提供实盘扫描所需的最近 K 线。
type CandleSource interface {
	FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error)
}

// Config 实盘引擎配置。
type Config struct {
	Pairs          []pairs.PairKey
	Timeframe      string
	ScanInterval   string
	Strategy       pairs.Config
	TradeAmount    float64
	MaxDrawdownPct float64
}

func (c *Config) applyDefaults() {
	if c.Timeframe == "" {
		c.Timeframe = "1h"
	}
	if c.ScanInterval == "" {
		c.ScanInterval = c.Timeframe
	}
}

// Engine 实盘扫描引擎：按周期拉取行情、评估信号并顺序执行双腿订单。
//
// 配对参数（阈值等）在启动时从注册表合并生效；运行期间注册表热更新只影响
// 后续开仓用的 trade_amount，阈值变更需重启引擎。
type Engine struct {
	cfg    Config
	data   CandleSource
	exec   OrderExecutor
	notify notifier.TextNotifier
	params *pairparams.Registry

	strategies map[pairs.PairKey]*pairs.Strategy
	lastPrice  map[string]float64

	baseEquity float64
	realized   float64
	peak       float64
}

// NewEngine 组装实盘引擎。params 可为 nil，表示不启用按配对覆盖。
func NewEngine(cfg Config, data CandleSource, exec OrderExecutor, notify notifier.TextNotifier, params *pairparams.Registry) (*Engine, error) {
	cfg.applyDefaults()
	if len(cfg.Pairs) == 0 {
		return nil, fmt.Errorf("实盘引擎至少需要一个配对")
	}
	if data == nil || exec == nil {
		return nil, fmt.Errorf("缺少行情源或订单执行器")
	}
	if notify == nil {
		notify = notifier.Nop{}
	}
	if cfg.Strategy.InitialCapital <= 0 {
		return nil, fmt.Errorf("initial capital 必须为正")
	}

	strategies := make(map[pairs.PairKey]*pairs.Strategy, len(cfg.Pairs))
	for _, pair := range cfg.Pairs {
		sc := cfg.Strategy
		if params != nil {
			sc = params.Apply(pair, sc)
		}
		st, err := pairs.NewStrategy(sc)
		if err != nil {
			return nil, fmt.Errorf("配对 %s 策略参数无效: %w", pair, err)
		}
		strategies[pair] = st
	}
	return &Engine{
		cfg:        cfg,
		data:       data,
		exec:       exec,
		notify:     notify,
		params:     params,
		strategies: strategies,
		lastPrice:  make(map[string]float64),
		baseEquity: cfg.Strategy.InitialCapital,
		peak:       cfg.Strategy.InitialCapital,
	}, nil
}

// Run 周期性扫描直至 ctx 取消或风控停机。
func (e *Engine) Run(ctx context.Context) error {
	interval, ok := scheduler.ParseIntervalDuration(e.cfg.ScanInterval)
	if !ok {
		return fmt.Errorf("无法解析扫描周期: %q", e.cfg.ScanInterval)
	}
	logger.Infof("[live] 启动实盘扫描: %d 个配对, 周期 %s", len(e.cfg.Pairs), e.cfg.ScanInterval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := e.ScanOnce(ctx); err != nil {
			if errors.Is(err, ErrDrawdownExceeded) || ctx.Err() != nil {
				return err
			}
			logger.Errorf("[live] 扫描失败: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ScanOnce 扫描全部配对一轮，随后检查账户级风控。
func (e *Engine) ScanOnce(ctx context.Context) error {
	for _, pair := range e.cfg.Pairs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := e.scanPair(ctx, pair); err != nil {
			logger.Warnf("[live] %s 扫描失败: %v", pair, err)
		}
	}
	return e.checkDrawdown(ctx)
}

func (e *Engine) scanPair(ctx context.Context, pair pairs.PairKey) error {
	st := e.strategies[pair]
	lookback := st.Config().Lookback
	limit := lookback + 10

	h1, err := e.data.FetchHistory(ctx, pair.Symbol1, e.cfg.Timeframe, limit)
	if err != nil {
		return fmt.Errorf("拉取 %s 行情失败: %w", pair.Symbol1, err)
	}
	h2, err := e.data.FetchHistory(ctx, pair.Symbol2, e.cfg.Timeframe, limit)
	if err != nil {
		return fmt.Errorf("拉取 %s 行情失败: %w", pair.Symbol2, err)
	}
	c1, c2 := alignCloses(h1, h2)
	if len(c1) <= lookback {
		return fmt.Errorf("对齐后样本不足: %d <= lookback %d", len(c1), lookback)
	}
	p1 := c1[len(c1)-1]
	p2 := c2[len(c2)-1]
	e.lastPrice[pair.Symbol1] = p1
	e.lastPrice[pair.Symbol2] = p2

	// 当前窗口相关性不达标时本轮不动作，与回测口径一致。
	if cfg := st.Config(); cfg.EnforceCorrelation && cfg.MinCorrelation > 0 {
		w1 := c1[len(c1)-lookback-1:]
		w2 := c2[len(c2)-lookback-1:]
		corr, cerr := stats.Correlation(w1, w2)
		if cerr != nil || math.Abs(corr) < cfg.MinCorrelation {
			logger.Debugf("[live] %s 窗口相关性 %.3f 低于 %.2f，本轮跳过", pair, corr, cfg.MinCorrelation)
			return nil
		}
	}

	spread, err := stats.Spread(c1, c2, st.Config().SpreadMethod)
	if err != nil {
		return err
	}
	zs := stats.RollingZScore(spread, lookback)
	z := zs[len(zs)-1]
	sig := st.GenerateSignal(pair, z)

	switch sig {
	case pairs.SignalOpenLong, pairs.SignalOpenShort:
		return e.openPair(ctx, st, pair, sig, p1, p2, z.Value)
	case pairs.SignalClose:
		return e.closePair(ctx, st, pair, p1, p2, z.Value, pairs.ReasonSignal)
	case pairs.SignalStopLoss:
		return e.closePair(ctx, st, pair, p1, p2, z.Value, pairs.ReasonStopLoss)
	default:
		return nil
	}
}

// openPair 顺序执行双腿：第二腿失败时回滚第一腿，绝不留单腿敞口。
func (e *Engine) openPair(ctx context.Context, st *pairs.Strategy, pair pairs.PairKey, sig pairs.Signal, p1, p2, z float64) error {
	amount := e.cfg.TradeAmount
	if e.params != nil {
		amount = e.params.TradeAmount(pair, amount)
	}
	pos, err := st.OpenPosition(pair, sig, p1, p2, amount, time.Now().UTC(), z)
	if err != nil {
		return err
	}
	first, second := pos.Legs[0], pos.Legs[1]

	f1, err := e.exec.Place(ctx, first.Symbol, first.Side, first.Quantity)
	if err != nil {
		st.AbortPosition(pair)
		e.alert("⚠️", "开仓失败", fmt.Sprintf("配对: %s", pair), fmt.Sprintf("第一腿 %s %s 下单失败: %v", first.Symbol, first.Side, err))
		return err
	}
	f2, err := e.exec.Place(ctx, second.Symbol, second.Side, second.Quantity)
	if err != nil {
		if _, rbErr := e.exec.Place(ctx, first.Symbol, opposite(first.Side), f1.Quantity); rbErr != nil {
			e.alert("🚨", "回滚失败，存在单腿敞口，需人工介入",
				fmt.Sprintf("配对: %s", pair),
				fmt.Sprintf("第一腿 %s %s qty=%.6f 未能平掉: %v", first.Symbol, first.Side, f1.Quantity, rbErr))
		} else {
			e.alert("⚠️", "开仓失败，第一腿已回滚",
				fmt.Sprintf("配对: %s", pair),
				fmt.Sprintf("第二腿 %s %s 下单失败: %v", second.Symbol, second.Side, err))
		}
		st.AbortPosition(pair)
		return err
	}
	if f1.Partial || f2.Partial {
		e.alert("⚠️", "开仓存在部分成交，请核对实际仓位",
			fmt.Sprintf("配对: %s", pair),
			fmt.Sprintf("%s 成交 %.6f / 请求 %.6f", f1.Symbol, f1.Quantity, first.Quantity),
			fmt.Sprintf("%s 成交 %.6f / 请求 %.6f", f2.Symbol, f2.Quantity, second.Quantity))
	}
	e.notifyTrade("📈", "开仓 "+string(sig),
		fmt.Sprintf("配对: %s", pair),
		fmt.Sprintf("z-score: %.4f", z),
		fmt.Sprintf("%s %s %.6f @ %.6f", first.Symbol, first.Side, f1.Quantity, f1.Price),
		fmt.Sprintf("%s %s %.6f @ %.6f", second.Symbol, second.Side, f2.Quantity, f2.Price),
		fmt.Sprintf("投入资金: %.2f", pos.Capital))
	return nil
}

// closePair 平掉双腿。第一腿失败则保留持仓等待下一轮重试；
// 第二腿失败说明已经出现单腿敞口，记录平仓并升级告警，避免下一轮重复平第一腿。
func (e *Engine) closePair(ctx context.Context, st *pairs.Strategy, pair pairs.PairKey, p1, p2, z float64, reason string) error {
	pos := st.Position(pair)
	if pos == nil {
		return fmt.Errorf("%s 无持仓可平", pair)
	}
	first, second := pos.Legs[0], pos.Legs[1]

	if _, err := e.exec.Place(ctx, first.Symbol, opposite(first.Side), first.Quantity); err != nil {
		e.alert("⚠️", "平仓失败，持仓保留待下轮重试",
			fmt.Sprintf("配对: %s", pair),
			fmt.Sprintf("%s %s 下单失败: %v", first.Symbol, opposite(first.Side), err))
		return err
	}
	if _, err := e.exec.Place(ctx, second.Symbol, opposite(second.Side), second.Quantity); err != nil {
		e.alert("🚨", "平仓只完成一腿，需人工介入",
			fmt.Sprintf("配对: %s", pair),
			fmt.Sprintf("%s %s qty=%.6f 未能平掉: %v", second.Symbol, opposite(second.Side), second.Quantity, err))
	}
	rec, err := st.ClosePosition(pair, p1, p2, time.Now().UTC(), z, reason)
	if err != nil {
		return err
	}
	e.realized += rec.PnL
	icon := "✅"
	if rec.PnL < 0 {
		icon = "🔻"
	}
	e.notifyTrade(icon, "平仓 ("+reason+")",
		fmt.Sprintf("配对: %s", pair),
		fmt.Sprintf("z-score: %.4f", z),
		fmt.Sprintf("盈亏: %.4f (%.2f%%)", rec.PnL, rec.PnLPercent),
		fmt.Sprintf("累计已实现盈亏: %.4f", e.realized))
	return nil
}

// checkDrawdown 账户级风控：回撤超限时平掉全部持仓并停机。
func (e *Engine) checkDrawdown(ctx context.Context) error {
	equity := e.baseEquity + e.realized
	if equity > e.peak {
		e.peak = equity
	}
	if e.cfg.MaxDrawdownPct <= 0 || e.peak <= 0 {
		return nil
	}
	dd := (e.peak - equity) / e.peak * 100
	if dd <= e.cfg.MaxDrawdownPct {
		return nil
	}
	e.alert("🚨", "账户回撤触发风控，清仓停机",
		fmt.Sprintf("当前回撤: %.2f%% (上限 %.2f%%)", dd, e.cfg.MaxDrawdownPct),
		fmt.Sprintf("权益: %.2f / 峰值 %.2f", equity, e.peak))
	e.closeAll(ctx)
	return ErrDrawdownExceeded
}

func (e *Engine) closeAll(ctx context.Context) {
	for pair, st := range e.strategies {
		pos := st.Position(pair)
		if pos == nil {
			continue
		}
		p1 := e.priceOr(pair.Symbol1, pos.Legs[0].EntryPrice)
		p2 := e.priceOr(pair.Symbol2, pos.Legs[1].EntryPrice)
		if err := e.closePair(ctx, st, pair, p1, p2, 0, pairs.ReasonForcedLiquidation); err != nil {
			logger.Errorf("[live] 强制平仓 %s 失败: %v", pair, err)
		}
	}
}

func (e *Engine) priceOr(symbol string, fallback float64) float64 {
	if p, ok := e.lastPrice[symbol]; ok && p > 0 {
		return p
	}
	return fallback
}

// RealizedPnL 返回累计已实现盈亏。
func (e *Engine) RealizedPnL() float64 { return e.realized }

// Position 返回指定配对的当前持仓，无持仓时为 nil。
func (e *Engine) Position(pair pairs.PairKey) *pairs.Position {
	if st := e.strategies[pair]; st != nil {
		return st.Position(pair)
	}
	return nil
}

func (e *Engine) notifyTrade(icon, title string, lines ...string) {
	e.send(icon, title, lines)
}

func (e *Engine) alert(icon, title string, lines ...string) {
	logger.Warnf("[live] %s: %s", title, strings.Join(lines, "; "))
	e.send(icon, title, lines)
}

func (e *Engine) send(icon, title string, lines []string) {
	msg := notifier.StructuredMessage{
		Icon:      icon,
		Title:     title,
		Sections:  []notifier.MessageSection{{Lines: lines}},
		Timestamp: time.Now(),
	}
	if err := e.notify.SendText(msg.RenderMarkdown()); err != nil {
		logger.Warnf("[live] 通知发送失败: %v", err)
	}
}

func opposite(side pairs.LegSide) pairs.LegSide {
	if side == pairs.LegBuy {
		return pairs.LegSell
	}
	return pairs.LegBuy
}

// alignCloses 按 open_time 取两序列的交集，返回对齐后的收盘价。
func alignCloses(a, b []market.Candle) ([]float64, []float64) {
	byTime := make(map[int64]float64, len(b))
	for _, c := range b {
		byTime[c.OpenTime] = c.Close
	}
	var c1, c2 []float64
	for _, c := range a {
		if v, ok := byTime[c.OpenTime]; ok {
			c1 = append(c1, c.Close)
			c2 = append(c2, v)
		}
	}
	return c1, c2
}
