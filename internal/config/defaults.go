package config

import (
	"fmt"
	"strings"
)

// 默认值常量
const (
	defaultAppEnv      = "dev"
	defaultAppMode     = "backtest"
	defaultAppLogLevel = "info"
	defaultAppHTTPAddr = ":9991"
	defaultAppLogPath  = "data/logs/statarb.log"
	defaultAppDataRoot = "data"

	defaultMarketName = "binance"
	defaultMarketREST = "https://fapi.binance.com"

	defaultScreenerMonths      = 6
	defaultScreenerTimeframe   = "1h"
	defaultScreenerMinCorr     = 0.6
	defaultScreenerMaxStab     = 0.05
	defaultScreenerMaxPairs    = 300
	defaultScreenerCoverage    = 0.8
	defaultScreenerTopSymbols  = 30
	defaultScreenerMinVolM     = 15
	defaultScreenerOutput      = "data/correlation_data.json"
	defaultStrategyVariant     = "futures"
	defaultStrategySpread      = "normalized_ratio"
	defaultStrategyLookback    = 120
	defaultStrategyEntry       = 2.5
	defaultStrategyExit        = 0.5
	defaultStrategyStop        = 5.0
	defaultStrategyCapital     = 1000.0
	defaultStrategyTrade       = 200.0
	defaultStrategyLeverage    = 1
	defaultStrategyMargin      = "cross"
	defaultStrategyPairParams  = "configs/pair_params.yaml"
	defaultBacktestTimeframe   = "15m"
	defaultBacktestPosition    = 0.5
	defaultBacktestCommission  = 0.001
	defaultBacktestSlippage    = 0.0005
	defaultBacktestTopPairs    = 10
	defaultBacktestConcurrency = 4
	defaultBacktestRatePerMin  = 480
	defaultBacktestMaxBatch    = 1000
	defaultPortfolioProfile    = "balanced"
	defaultPortfolioFund       = 1000.0
	defaultLiveScanInterval    = "1m"
	defaultLiveMaxDrawdown     = 10.0
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Screener.applyDefaults(keys)
	c.Strategy.applyDefaults(keys)
	c.Backtest.applyDefaults(keys)
	c.Portfolio.applyDefaults(keys)
	c.Live.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.mode", &a.Mode, defaultAppMode),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		stringFieldDefault("app.data_root", &a.DataRoot, defaultAppDataRoot),
	)
}

func (s *ScreenerConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("screener.timeframe", &s.Timeframe, defaultScreenerTimeframe),
		stringFieldDefault("screener.output_path", &s.OutputPath, defaultScreenerOutput),
		fieldDefault{
			key:   "screener.analysis_months",
			need:  func() bool { return s.AnalysisMonths <= 0 },
			apply: func() { s.AnalysisMonths = defaultScreenerMonths },
		},
		fieldDefault{
			key:   "screener.min_correlation",
			need:  func() bool { return s.MinCorrelation <= 0 },
			apply: func() { s.MinCorrelation = defaultScreenerMinCorr },
		},
		fieldDefault{
			key:   "screener.max_stability",
			need:  func() bool { return s.MaxStability <= 0 },
			apply: func() { s.MaxStability = defaultScreenerMaxStab },
		},
		fieldDefault{
			key:   "screener.max_pairs",
			need:  func() bool { return s.MaxPairs <= 0 },
			apply: func() { s.MaxPairs = defaultScreenerMaxPairs },
		},
		fieldDefault{
			key:   "screener.min_month_coverage",
			need:  func() bool { return s.MinMonthCoverage <= 0 || s.MinMonthCoverage > 1 },
			apply: func() { s.MinMonthCoverage = defaultScreenerCoverage },
		},
		fieldDefault{
			key:   "screener.top_symbols",
			need:  func() bool { return s.TopSymbols <= 0 },
			apply: func() { s.TopSymbols = defaultScreenerTopSymbols },
		},
		fieldDefault{
			key:   "screener.min_volume_usd_m",
			need:  func() bool { return s.MinVolumeUSDM <= 0 },
			apply: func() { s.MinVolumeUSDM = defaultScreenerMinVolM },
		},
	)
}

func (s *StrategyConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("strategy.variant", &s.Variant, defaultStrategyVariant),
		stringFieldDefault("strategy.spread_method", &s.SpreadMethod, defaultStrategySpread),
		stringFieldDefault("strategy.margin_type", &s.MarginType, defaultStrategyMargin),
		stringFieldDefault("strategy.pair_params_path", &s.PairParamsPath, defaultStrategyPairParams),
		fieldDefault{
			key:   "strategy.lookback",
			need:  func() bool { return s.Lookback <= 0 },
			apply: func() { s.Lookback = defaultStrategyLookback },
		},
		fieldDefault{
			key:   "strategy.entry_threshold",
			need:  func() bool { return s.EntryThreshold <= 0 },
			apply: func() { s.EntryThreshold = defaultStrategyEntry },
		},
		fieldDefault{
			key:   "strategy.exit_threshold",
			need:  func() bool { return s.ExitThreshold <= 0 },
			apply: func() { s.ExitThreshold = defaultStrategyExit },
		},
		fieldDefault{
			key:   "strategy.stop_loss_threshold",
			need:  func() bool { return s.StopLossThreshold <= 0 },
			apply: func() { s.StopLossThreshold = defaultStrategyStop },
		},
		fieldDefault{
			key:   "strategy.initial_capital",
			need:  func() bool { return s.InitialCapital <= 0 },
			apply: func() { s.InitialCapital = defaultStrategyCapital },
		},
		fieldDefault{
			key:   "strategy.trade_amount",
			need:  func() bool { return s.TradeAmount <= 0 },
			apply: func() { s.TradeAmount = defaultStrategyTrade },
		},
		fieldDefault{
			key:   "strategy.leverage",
			need:  func() bool { return s.Leverage <= 0 },
			apply: func() { s.Leverage = defaultStrategyLeverage },
		},
		boolFieldDefault("strategy.use_contract_for_short", &s.UseContractForShort, true),
		boolFieldDefault("strategy.enforce_correlation", &s.EnforceCorrelation, true),
	)
}

func (b *BacktestConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("backtest.timeframe", &b.Timeframe, defaultBacktestTimeframe),
		fieldDefault{
			key:   "backtest.position_size",
			need:  func() bool { return b.PositionSize <= 0 || b.PositionSize > 1 },
			apply: func() { b.PositionSize = defaultBacktestPosition },
		},
		fieldDefault{
			key:   "backtest.commission_rate",
			need:  func() bool { return b.CommissionRate <= 0 },
			apply: func() { b.CommissionRate = defaultBacktestCommission },
		},
		fieldDefault{
			key:   "backtest.slippage",
			need:  func() bool { return b.Slippage < 0 },
			apply: func() { b.Slippage = defaultBacktestSlippage },
		},
		fieldDefault{
			key:   "backtest.top_pairs",
			need:  func() bool { return b.TopPairs <= 0 },
			apply: func() { b.TopPairs = defaultBacktestTopPairs },
		},
		fieldDefault{
			key:   "backtest.concurrency",
			need:  func() bool { return b.Concurrency <= 0 },
			apply: func() { b.Concurrency = defaultBacktestConcurrency },
		},
		fieldDefault{
			key:   "backtest.rate_limit_per_min",
			need:  func() bool { return b.RateLimitPerMin <= 0 },
			apply: func() { b.RateLimitPerMin = defaultBacktestRatePerMin },
		},
		fieldDefault{
			key:   "backtest.max_batch",
			need:  func() bool { return b.MaxBatch <= 0 },
			apply: func() { b.MaxBatch = defaultBacktestMaxBatch },
		},
	)
	if b.Slippage < 0 {
		b.Slippage = 0
	}
}

func (p *PortfolioConfig) applyDefaults(keys keySet) {
	if p == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("portfolio.profile", &p.Profile, defaultPortfolioProfile),
		fieldDefault{
			key:   "portfolio.total_fund",
			need:  func() bool { return p.TotalFund <= 0 },
			apply: func() { p.TotalFund = defaultPortfolioFund },
		},
	)
}

func (l *LiveConfig) applyDefaults(keys keySet) {
	if l == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("live.scan_interval", &l.ScanInterval, defaultLiveScanInterval),
		boolFieldDefault("live.dry_run", &l.DryRun, true),
		fieldDefault{
			key:   "live.max_drawdown_pct",
			need:  func() bool { return l.MaxDrawdownPct <= 0 },
			apply: func() { l.MaxDrawdownPct = defaultLiveMaxDrawdown },
		},
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	if len(m.Sources) == 0 {
		m.Sources = []MarketSource{{
			Name:        defaultMarketName,
			Enabled:     true,
			RESTBaseURL: defaultMarketREST,
		}}
	}
	for i := range m.Sources {
		src := &m.Sources[i]
		src.Proxy.normalize()
		if strings.TrimSpace(src.Name) == "" {
			if i == 0 {
				src.Name = defaultMarketName
			} else {
				src.Name = fmt.Sprintf("market_%d", i)
			}
		}
		if src.RESTBaseURL == "" {
			src.RESTBaseURL = defaultMarketREST
		}
	}
	if strings.TrimSpace(m.ActiveSource) == "" {
		m.ActiveSource = firstEnabledMarket(m.Sources)
	}
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func firstEnabledMarket(sources []MarketSource) string {
	for _, src := range sources {
		name := strings.TrimSpace(src.Name)
		if src.Enabled && name != "" {
			return name
		}
	}
	if len(sources) > 0 {
		if name := strings.TrimSpace(sources[0].Name); name != "" {
			return name
		}
	}
	return defaultMarketName
}
