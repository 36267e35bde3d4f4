package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"statarb/internal/analysis/stats"
	"statarb/internal/backtest"
	"statarb/internal/config"
	"statarb/internal/gateway/binance"
	"statarb/internal/gateway/notifier"
	"statarb/internal/live"
	"statarb/internal/pairparams"
	"statarb/internal/strategy/pairs"
)

// AppBuilder 按配置逐步装配应用依赖。
type AppBuilder struct {
	cfg *config.Config
}

func NewAppBuilder(cfg *config.Config) *AppBuilder {
	return &AppBuilder{cfg: cfg}
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	cfg := b.cfg
	dataRoot := strings.TrimSpace(cfg.App.DataRoot)
	if dataRoot == "" {
		dataRoot = "data"
	}

	store, err := backtest.NewStore(filepath.Join(dataRoot, "candles"))
	if err != nil {
		return nil, fmt.Errorf("初始化 K 线库失败: %w", err)
	}
	src := cfg.Market.ResolveActiveSource()
	svc, err := backtest.NewService(backtest.ServiceConfig{
		Store:           store,
		Sources:         map[string]backtest.CandleSource{"binance": backtest.NewBinanceSource(src.RESTBaseURL)},
		DefaultExchange: "binance",
		RateLimitPerMin: cfg.Backtest.RateLimitPerMin,
		MaxBatch:        cfg.Backtest.MaxBatch,
		MaxConcurrent:   cfg.Backtest.Concurrency,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化拉取服务失败: %w", err)
	}
	results, err := backtest.NewResultStore(dataRoot)
	if err != nil {
		return nil, fmt.Errorf("初始化回测结果库失败: %w", err)
	}

	app := &App{
		cfg:      cfg,
		dataRoot: dataRoot,
		store:    store,
		svc:      svc,
		results:  results,
	}

	strategyCfg, err := buildStrategyConfig(cfg)
	if err != nil {
		return nil, err
	}
	engineCfg := buildEngineConfig(cfg, strategyCfg)

	mode := strings.ToLower(strings.TrimSpace(cfg.App.Mode))
	switch mode {
	case "serve":
		server, err := backtest.NewHTTPServer(backtest.HTTPConfig{
			Addr:     cfg.App.HTTPAddr,
			Svc:      svc,
			Results:  results,
			Provider: backtest.NewStoreCandleProvider(store),
			Engine:   engineCfg,
		})
		if err != nil {
			return nil, fmt.Errorf("初始化 HTTP 服务失败: %w", err)
		}
		app.httpServer = server
	case "live":
		engine, err := b.buildLiveEngine(ctx, cfg, strategyCfg, dataRoot)
		if err != nil {
			return nil, err
		}
		app.liveEngine = engine
	}

	app.Summary = buildSummary(cfg, dataRoot)
	return app, nil
}

// buildLiveEngine 装配实盘链路：合约网关、订单执行器、通知器与参数注册表。
func (b *AppBuilder) buildLiveEngine(ctx context.Context, cfg *config.Config, strategyCfg pairs.Config, dataRoot string) (*live.Engine, error) {
	src := cfg.Market.ResolveActiveSource()
	gw, err := binance.New(binance.Config{
		RESTBaseURL:  src.RESTBaseURL,
		APIKey:       cfg.Live.APIKey,
		APISecret:    cfg.Live.APISecret,
		ProxyEnabled: src.Proxy.Enabled,
		RESTProxyURL: src.Proxy.RESTURL,
		WSProxyURL:   src.Proxy.WSURL,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化合约网关失败: %w", err)
	}

	var exec live.OrderExecutor
	if cfg.Live.DryRun {
		exec = live.NewDryRunExecutor(func(symbol string) float64 {
			p, err := gw.LatestPrice(context.Background(), symbol)
			if err != nil {
				return 0
			}
			return p
		})
	} else {
		if err := gw.LoadFilters(ctx); err != nil {
			return nil, err
		}
		exec = live.NewBinanceExecutor(gw)
	}

	var notify notifier.TextNotifier = notifier.Nop{}
	if cfg.Notify.Telegram.Enabled {
		notify = notifier.NewTelegram(cfg.Notify.Telegram.BotToken, cfg.Notify.Telegram.ChatID)
	}

	var registry *pairparams.Registry
	if path := strings.TrimSpace(cfg.Strategy.PairParamsPath); path != "" {
		registry, err = pairparams.NewRegistry(path)
		if err != nil {
			return nil, fmt.Errorf("加载配对参数失败: %w", err)
		}
	}

	tradePairs, err := resolveLivePairs(cfg, registry, dataRoot)
	if err != nil {
		return nil, err
	}
	return live.NewEngine(live.Config{
		Pairs:          tradePairs,
		Timeframe:      cfg.Backtest.Timeframe,
		ScanInterval:   cfg.Live.ScanInterval,
		Strategy:       strategyCfg,
		TradeAmount:    cfg.Strategy.TradeAmount,
		MaxDrawdownPct: cfg.Live.MaxDrawdownPct,
	}, gw, exec, notify, registry)
}

// resolveLivePairs 实盘配对来源：优先 pair_params 中显式列出的配对，
// 否则退回筛选结果文件。
func resolveLivePairs(cfg *config.Config, registry *pairparams.Registry, dataRoot string) ([]pairs.PairKey, error) {
	if registry != nil {
		snap := registry.Snapshot()
		if len(snap.Pairs) > 0 {
			out := make([]pairs.PairKey, 0, len(snap.Pairs))
			for name := range snap.Pairs {
				pair, err := parsePairName(name)
				if err != nil {
					return nil, err
				}
				out = append(out, pair)
			}
			return out, nil
		}
	}
	result, err := loadScreenerResult(cfg, dataRoot)
	if err != nil {
		return nil, fmt.Errorf("无法确定实盘配对（pair_params 为空且读取筛选结果失败）: %w", err)
	}
	out := make([]pairs.PairKey, 0, len(result.Pairs))
	for _, p := range result.Pairs {
		out = append(out, pairs.NewPairKey(p.Symbol1, p.Symbol2))
	}
	return out, nil
}

func parsePairName(name string) (pairs.PairKey, error) {
	parts := strings.SplitN(strings.TrimSpace(name), "-", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return pairs.PairKey{}, fmt.Errorf("非法配对名: %q（期望 SYMBOL1-SYMBOL2）", name)
	}
	return pairs.NewPairKey(parts[0], parts[1]), nil
}

func buildEngineConfig(cfg *config.Config, strategyCfg pairs.Config) backtest.EngineConfig {
	return backtest.EngineConfig{
		Strategy:       strategyCfg,
		Timeframe:      cfg.Backtest.Timeframe,
		InitialCapital: cfg.Strategy.InitialCapital,
		PositionSize:   cfg.Backtest.PositionSize,
		CommissionRate: cfg.Backtest.CommissionRate,
		Slippage:       cfg.Backtest.Slippage,
	}
}

func buildStrategyConfig(cfg *config.Config) (pairs.Config, error) {
	variant, err := pairs.ParseVariant(cfg.Strategy.Variant)
	if err != nil {
		return pairs.Config{}, err
	}
	method, err := stats.ParseSpreadMethod(cfg.Strategy.SpreadMethod)
	if err != nil {
		return pairs.Config{}, err
	}
	return pairs.Config{
		Variant:             variant,
		SpreadMethod:        method,
		Lookback:            cfg.Strategy.Lookback,
		EntryThreshold:      cfg.Strategy.EntryThreshold,
		ExitThreshold:       cfg.Strategy.ExitThreshold,
		StopLossThreshold:   cfg.Strategy.StopLossThreshold,
		MinCorrelation:      cfg.Screener.MinCorrelation,
		EnforceCorrelation:  cfg.Strategy.EnforceCorrelation,
		InitialCapital:      cfg.Strategy.InitialCapital,
		UseContractForShort: cfg.Strategy.UseContractForShort,
		Leverage:            cfg.Strategy.Leverage,
		MarginType:          cfg.Strategy.MarginType,
	}, nil
}
