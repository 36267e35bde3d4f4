package config

import (
	"fmt"
	"strings"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Screener.validate(); err != nil {
		return err
	}
	if err := c.Strategy.validate(); err != nil {
		return err
	}
	if err := c.Backtest.validate(); err != nil {
		return err
	}
	if err := c.Portfolio.validate(); err != nil {
		return err
	}
	if err := c.Live.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (a *AppConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(a.Mode)) {
	case "find-pairs", "backtest", "portfolio", "live", "serve":
	default:
		return fmt.Errorf("app.mode must be one of find-pairs/backtest/portfolio/live/serve, got %s", a.Mode)
	}
	return nil
}

func (s *ScreenerConfig) validate() error {
	if s.AnalysisMonths < 1 || s.AnalysisMonths > 24 {
		return fmt.Errorf("screener.analysis_months must be in [1,24]")
	}
	if !IsValidInterval(s.Timeframe) {
		return fmt.Errorf("screener.timeframe invalid: %s", s.Timeframe)
	}
	if s.MinCorrelation <= 0 || s.MinCorrelation > 1 {
		return fmt.Errorf("screener.min_correlation must be in (0,1]")
	}
	if s.MaxStability <= 0 {
		return fmt.Errorf("screener.max_stability must be > 0")
	}
	if s.MinMonthCoverage <= 0 || s.MinMonthCoverage > 1 {
		return fmt.Errorf("screener.min_month_coverage must be in (0,1]")
	}
	return nil
}

func (s *StrategyConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(s.Variant)) {
	case "spot", "futures":
	default:
		return fmt.Errorf("strategy.variant must be spot or futures, got %s", s.Variant)
	}
	switch strings.ToLower(strings.TrimSpace(s.SpreadMethod)) {
	case "normalized_ratio", "ratio", "difference", "log_ratio":
	default:
		return fmt.Errorf("strategy.spread_method invalid: %s", s.SpreadMethod)
	}
	if s.Lookback < 10 {
		return fmt.Errorf("strategy.lookback must be >= 10")
	}
	// 阈值必须严格递增，否则状态机会在入场当根立刻触发离场/止损。
	if !(s.ExitThreshold < s.EntryThreshold && s.EntryThreshold < s.StopLossThreshold) {
		return fmt.Errorf("strategy thresholds must satisfy exit < entry < stop_loss (got exit=%.2f entry=%.2f stop=%.2f)",
			s.ExitThreshold, s.EntryThreshold, s.StopLossThreshold)
	}
	if s.ExitThreshold <= 0 {
		return fmt.Errorf("strategy.exit_threshold must be > 0")
	}
	if s.TradeAmount > s.InitialCapital {
		return fmt.Errorf("strategy.trade_amount cannot exceed initial_capital")
	}
	if s.Leverage < 1 || s.Leverage > 125 {
		return fmt.Errorf("strategy.leverage must be in [1,125]")
	}
	switch strings.ToLower(strings.TrimSpace(s.MarginType)) {
	case "cross", "isolated":
	default:
		return fmt.Errorf("strategy.margin_type must be cross or isolated")
	}
	return nil
}

func (b *BacktestConfig) validate() error {
	if !IsValidInterval(b.Timeframe) {
		return fmt.Errorf("backtest.timeframe invalid: %s", b.Timeframe)
	}
	if b.PositionSize <= 0 || b.PositionSize > 1 {
		return fmt.Errorf("backtest.position_size must be in (0,1]")
	}
	if b.CommissionRate < 0 || b.CommissionRate > 0.05 {
		return fmt.Errorf("backtest.commission_rate must be in [0,0.05]")
	}
	if b.Slippage < 0 || b.Slippage > 0.05 {
		return fmt.Errorf("backtest.slippage must be in [0,0.05]")
	}
	if b.Concurrency < 1 || b.Concurrency > 64 {
		return fmt.Errorf("backtest.concurrency must be in [1,64]")
	}
	return nil
}

func (p *PortfolioConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(p.Profile)) {
	case "conservative", "balanced", "aggressive":
	default:
		return fmt.Errorf("portfolio.profile must be conservative/balanced/aggressive, got %s", p.Profile)
	}
	if p.TotalFund <= 0 {
		return fmt.Errorf("portfolio.total_fund must be > 0")
	}
	return nil
}

func (l *LiveConfig) validate() error {
	if !l.Enabled {
		return nil
	}
	if !IsValidInterval(l.ScanInterval) {
		return fmt.Errorf("live.scan_interval invalid: %s", l.ScanInterval)
	}
	if l.MaxDrawdownPct <= 0 || l.MaxDrawdownPct > 100 {
		return fmt.Errorf("live.max_drawdown_pct must be in (0,100]")
	}
	if !l.DryRun {
		if strings.TrimSpace(l.APIKey) == "" || strings.TrimSpace(l.APISecret) == "" {
			return fmt.Errorf("live trading requires api_key and api_secret (or set dry_run=true)")
		}
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled {
		if n.Telegram.BotToken == "" || n.Telegram.ChatID == "" {
			return fmt.Errorf("telegram notification enabled but missing bot_token or chat_id")
		}
	}
	return nil
}

func (m *MarketConfig) validate() error {
	if len(m.Sources) == 0 {
		return fmt.Errorf("market.sources requires at least one source")
	}
	activeName := strings.ToLower(strings.TrimSpace(m.ActiveSource))
	enabled := 0
	activeFound := false
	for _, src := range m.Sources {
		if !src.Enabled {
			continue
		}
		enabled++
		if strings.TrimSpace(src.RESTBaseURL) == "" {
			return fmt.Errorf("market source %s missing rest_base_url", src.Name)
		}
		if src.Proxy.Enabled && src.Proxy.RESTURL == "" && src.Proxy.WSURL == "" {
			return fmt.Errorf("market source %s has proxy enabled but no rest_url or ws_url", src.Name)
		}
		name := strings.ToLower(strings.TrimSpace(src.Name))
		if activeName == "" || name == activeName {
			activeFound = true
		}
	}
	if enabled == 0 {
		return fmt.Errorf("market.sources requires at least one enabled source")
	}
	if !activeFound {
		return fmt.Errorf("enabled market.active_source=%s not found", m.ActiveSource)
	}
	return nil
}

// IsValidInterval 简易校验：以数字开头，以 m/h/d/w 结尾
func IsValidInterval(s string) bool {
	if s == "" {
		return false
	}
	suf := s[len(s)-1]
	if suf != 'm' && suf != 'h' && suf != 'd' && suf != 'w' {
		return false
	}
	for i := 0; i < len(s)-1; i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
