package app

import (
	"context"
	"fmt"
	"strings"

	"statarb/internal/backtest"
	"statarb/internal/config"
	"statarb/internal/live"
	"statarb/internal/logger"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→按运行模式启动对应流程。
type App struct {
	cfg      *config.Config
	dataRoot string

	store   *backtest.Store
	svc     *backtest.Service
	results *backtest.ResultStore

	httpServer *backtest.HTTPServer
	liveEngine *live.Engine

	Summary *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 按 app.mode 启动对应流程。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}
	a.svc.SetContext(ctx)

	mode := strings.ToLower(strings.TrimSpace(a.cfg.App.Mode))
	switch mode {
	case "find-pairs":
		return a.runFindPairs(ctx)
	case "backtest":
		_, err := a.runBacktest(ctx)
		return err
	case "portfolio":
		return a.runPortfolio(ctx)
	case "live":
		if a.liveEngine == nil {
			return fmt.Errorf("live engine not initialized")
		}
		group, ctx := errgroup.WithContext(ctx)
		group.Go(func() error {
			return a.liveEngine.Run(ctx)
		})
		return group.Wait()
	case "serve":
		if a.httpServer == nil {
			return fmt.Errorf("http server not initialized")
		}
		group, ctx := errgroup.WithContext(ctx)
		group.Go(func() error {
			if err := a.httpServer.Start(ctx); err != nil {
				return fmt.Errorf("http server error: %w", err)
			}
			return nil
		})
		return group.Wait()
	default:
		return fmt.Errorf("未知运行模式: %q（可选 find-pairs|backtest|portfolio|live|serve）", a.cfg.App.Mode)
	}
}
