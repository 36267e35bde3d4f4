package config

import "strings"

// Config 是 statarb 的主配置载体。
type Config struct {
	App       AppConfig       `toml:"app"`
	Market    MarketConfig    `toml:"market"`
	Screener  ScreenerConfig  `toml:"screener"`
	Strategy  StrategyConfig  `toml:"strategy"`
	Backtest  BacktestConfig  `toml:"backtest"`
	Portfolio PortfolioConfig `toml:"portfolio"`
	Live      LiveConfig      `toml:"live"`
	Notify    NotifyConfig    `toml:"notify"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	Mode     string `toml:"mode"` // find-pairs | backtest | portfolio | live | serve
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
	DataRoot string `toml:"data_root"`
}

// ScreenerConfig 控制配对筛选（多月相关性分析）。
type ScreenerConfig struct {
	AnalysisMonths   int      `toml:"analysis_months"`
	Timeframe        string   `toml:"timeframe"`
	MinCorrelation   float64  `toml:"min_correlation"`
	MaxStability     float64  `toml:"max_stability"`
	MaxPairs         int      `toml:"max_pairs"`
	MinMonthCoverage float64  `toml:"min_month_coverage"`
	TopSymbols       int      `toml:"top_symbols"`
	MinVolumeUSDM    int      `toml:"min_volume_usd_m"`
	Symbols          []string `toml:"symbols"`
	OutputPath       string   `toml:"output_path"`
}

// StrategyConfig 描述配对策略参数（可被 pair_params 按配对覆盖）。
type StrategyConfig struct {
	Variant             string  `toml:"variant"` // spot | futures
	SpreadMethod        string  `toml:"spread_method"`
	Lookback            int     `toml:"lookback"`
	EntryThreshold      float64 `toml:"entry_threshold"`
	ExitThreshold       float64 `toml:"exit_threshold"`
	StopLossThreshold   float64 `toml:"stop_loss_threshold"`
	EnforceCorrelation  bool    `toml:"enforce_correlation"`
	InitialCapital      float64 `toml:"initial_capital"`
	TradeAmount         float64 `toml:"trade_amount"`
	UseContractForShort bool    `toml:"use_contract_for_short"`
	Leverage            int     `toml:"leverage"`
	MarginType          string  `toml:"margin_type"`
	PairParamsPath      string  `toml:"pair_params_path"`
}

type BacktestConfig struct {
	Timeframe       string  `toml:"timeframe"`
	PositionSize    float64 `toml:"position_size"` // 每次开仓动用资金比例，(0,1]
	CommissionRate  float64 `toml:"commission_rate"`
	Slippage        float64 `toml:"slippage"`
	TopPairs        int     `toml:"top_pairs"`
	Concurrency     int     `toml:"concurrency"`
	RateLimitPerMin int     `toml:"rate_limit_per_min"`
	MaxBatch        int     `toml:"max_batch"`
	CorrelationData string  `toml:"correlation_data"`
}

type PortfolioConfig struct {
	Profile   string  `toml:"profile"` // conservative | balanced | aggressive
	TotalFund float64 `toml:"total_fund"`
}

type LiveConfig struct {
	Enabled        bool    `toml:"enabled"`
	DryRun         bool    `toml:"dry_run"`
	ScanInterval   string  `toml:"scan_interval"`
	MaxDrawdownPct float64 `toml:"max_drawdown_pct"`
	APIKey         string  `toml:"api_key"`
	APISecret      string  `toml:"api_secret"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type MarketConfig struct {
	ActiveSource string         `toml:"active_source"`
	Sources      []MarketSource `toml:"sources"`
}

type MarketSource struct {
	Name        string      `toml:"name"`
	Enabled     bool        `toml:"enabled"`
	RESTBaseURL string      `toml:"rest_base_url"`
	Proxy       ProxyConfig `toml:"proxy"`
}

type ProxyConfig struct {
	Enabled bool   `toml:"enabled"`
	RESTURL string `toml:"rest_url"`
	WSURL   string `toml:"ws_url"`
}

func (p *ProxyConfig) normalize() {
	if p == nil {
		return
	}
	p.RESTURL = strings.TrimSpace(p.RESTURL)
	p.WSURL = strings.TrimSpace(p.WSURL)
}

func (m MarketConfig) ResolveActiveSource() MarketSource {
	if len(m.Sources) == 0 {
		return MarketSource{
			Name:        "binance",
			Enabled:     true,
			RESTBaseURL: "https://fapi.binance.com",
		}
	}
	active := strings.ToLower(strings.TrimSpace(m.ActiveSource))
	var fallback MarketSource
	for _, src := range m.Sources {
		if fallback.Name == "" {
			fallback = src
		}
		if !src.Enabled {
			continue
		}
		if active == "" || strings.ToLower(src.Name) == active {
			return src
		}
	}
	return fallback
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
