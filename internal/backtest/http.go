package backtest

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"statarb/internal/analysis/stats"
	"statarb/internal/strategy/pairs"
)

// HTTPServer 提供 Gin 接口：数据补齐、配对分析、回测触发与结果查询。
type HTTPServer struct {
	addr     string
	svc      *Service
	results  *ResultStore
	provider PairCandleProvider
	base     EngineConfig
	router   *gin.Engine
}

type HTTPConfig struct {
	Addr     string
	Svc      *Service
	Results  *ResultStore
	Provider PairCandleProvider
	Engine   EngineConfig
}

func NewHTTPServer(cfg HTTPConfig) (*HTTPServer, error) {
	if cfg.Svc == nil {
		return nil, errors.New("service 不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &HTTPServer{
		addr:     cfg.Addr,
		svc:      cfg.Svc,
		results:  cfg.Results,
		provider: cfg.Provider,
		base:     cfg.Engine,
		router:   router,
	}
	s.registerRoutes()
	return s, nil
}

func (s *HTTPServer) registerRoutes() {
	api := s.router.Group("/api")
	api.POST("/fetch", s.handleFetch)
	api.GET("/fetch/:id", s.handleFetchStatus)
	api.GET("/jobs", s.handleJobs)
	api.GET("/data", s.handleManifest)
	api.GET("/candles", s.handleCandles)
	api.POST("/analyze", s.handleAnalyze)
	api.POST("/backtest/runs", s.handleRunStart)
	api.GET("/backtest/runs", s.handleRunList)
	api.GET("/backtest/runs/:id", s.handleRunDetail)
	api.GET("/backtest/runs/:id/report", s.handleRunReport)
}

func (s *HTTPServer) handleFetch(c *gin.Context) {
	var req struct {
		Exchange  string `json:"exchange"`
		Symbol    string `json:"symbol" binding:"required"`
		Timeframe string `json:"timeframe" binding:"required"`
		StartTS   int64  `json:"start_ts" binding:"required"`
		EndTS     int64  `json:"end_ts" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	job, err := s.svc.SubmitFetch(FetchParams{
		Exchange:  req.Exchange,
		Symbol:    req.Symbol,
		Timeframe: req.Timeframe,
		Start:     req.StartTS,
		End:       req.EndTS,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

func (s *HTTPServer) handleFetchStatus(c *gin.Context) {
	id := c.Param("id")
	job, ok := s.svc.JobSnapshot(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

func (s *HTTPServer) handleJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": s.svc.JobsSnapshot()})
}

func (s *HTTPServer) handleManifest(c *gin.Context) {
	symbol := c.Query("symbol")
	tf := c.Query("timeframe")
	if symbol == "" || tf == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol/timeframe 必填"})
		return
	}
	info, err := s.svc.ManifestInfo(c.Request.Context(), symbol, tf)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"manifest": info})
}

func (s *HTTPServer) handleCandles(c *gin.Context) {
	symbol := c.Query("symbol")
	tf := c.Query("timeframe")
	if symbol == "" || tf == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol/timeframe 必填"})
		return
	}
	start, _ := strconv.ParseInt(c.Query("start_ts"), 10, 64)
	end, _ := strconv.ParseInt(c.Query("end_ts"), 10, 64)
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "200"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit 非法"})
		return
	}
	data, err := s.svc.QueryCandles(c.Request.Context(), symbol, tf, start, end, limit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"candles": data})
}

// handleAnalyze 基于本地数据对单个配对做统计分析。
func (s *HTTPServer) handleAnalyze(c *gin.Context) {
	var req struct {
		Symbol1   string `json:"symbol1" binding:"required"`
		Symbol2   string `json:"symbol2" binding:"required"`
		Timeframe string `json:"timeframe"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if s.provider == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "数据源未启用"})
		return
	}
	tf := req.Timeframe
	if tf == "" {
		tf = s.base.Timeframe
	}
	pair := pairs.NewPairKey(req.Symbol1, req.Symbol2)
	c1, c2, err := s.provider.PairCandles(c.Request.Context(), pair, tf)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	strat, err := pairs.NewStrategy(s.base.Strategy)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	p1, p2, _ := alignCandles(c1, c2)
	analysis, err := strat.AnalyzePair(pair, p1, p2)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"analysis": analysis})
}

// handleRunStart 同步执行单配对回测并落库。
func (s *HTTPServer) handleRunStart(c *gin.Context) {
	if s.provider == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "数据源未启用"})
		return
	}
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cfg := s.base
	cfg.Pair = pairs.NewPairKey(req.Symbol1, req.Symbol2)
	if req.Timeframe != "" {
		cfg.Timeframe = req.Timeframe
	}
	if req.SpreadMethod != "" {
		method, err := stats.ParseSpreadMethod(req.SpreadMethod)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		cfg.Strategy.SpreadMethod = method
	}
	if req.Lookback > 0 {
		cfg.Strategy.Lookback = req.Lookback
	}
	if req.EntryThreshold > 0 {
		cfg.Strategy.EntryThreshold = req.EntryThreshold
	}
	if req.ExitThreshold > 0 {
		cfg.Strategy.ExitThreshold = req.ExitThreshold
	}
	if req.StopLossThreshold > 0 {
		cfg.Strategy.StopLossThreshold = req.StopLossThreshold
	}
	if req.InitialCapital > 0 {
		cfg.InitialCapital = req.InitialCapital
		cfg.Strategy.InitialCapital = req.InitialCapital
	}
	if req.PositionSize > 0 {
		if req.PositionSize > 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "position_size 必须在 (0,1] 内"})
			return
		}
		cfg.PositionSize = req.PositionSize
	}

	eng, err := NewEngine(cfg)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c1, c2, err := s.provider.PairCandles(c.Request.Context(), cfg.Pair, cfg.Timeframe)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c1 = filterRange(c1, req.StartTS, req.EndTS)
	c2 = filterRange(c2, req.StartTS, req.EndTS)
	report, err := eng.Run(c.Request.Context(), c1, c2)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if s.results != nil {
		if err := s.results.SaveReport(c.Request.Context(), report); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}

func filterRange(candles []Candle, start, end int64) []Candle {
	if start <= 0 && end <= 0 {
		return candles
	}
	out := candles[:0:0]
	for _, c := range candles {
		if start > 0 && c.OpenTime < start {
			continue
		}
		if end > 0 && c.OpenTime > end {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (s *HTTPServer) handleRunList(c *gin.Context) {
	if s.results == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "结果存储未启用"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := s.results.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *HTTPServer) handleRunDetail(c *gin.Context) {
	if s.results == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "结果存储未启用"})
		return
	}
	run, err := s.results.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

func (s *HTTPServer) handleRunReport(c *gin.Context) {
	if s.results == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "结果存储未启用"})
		return
	}
	report, err := s.results.GetReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}

// Start 启动 HTTP 服务，阻塞直到 ctx 取消或出现错误。
func (s *HTTPServer) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
