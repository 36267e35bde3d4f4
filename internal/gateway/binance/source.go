package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"statarb/internal/market"
	"statarb/internal/scheduler"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
)

const maxHistoryLimit = 1500

// Source 基于 go-binance SDK 的 U 本位合约网关：行情拉取与市价下单。
type Source struct {
	cfg    Config
	client *futures.Client

	filterMu sync.RWMutex
	filters  map[string]LotSize
}

// LotSize 交易所对单个合约的数量约束。
type LotSize struct {
	StepSize decimal.Decimal
	MinQty   decimal.Decimal
}

// OrderResult 市价单的成交回报。
type OrderResult struct {
	OrderID     int64
	Symbol      string
	Side        string
	Requested   decimal.Decimal
	ExecutedQty decimal.Decimal
	AvgPrice    decimal.Decimal
	Status      string
}

// PartiallyFilled 成交数量不足请求数量时为真。
func (r OrderResult) PartiallyFilled() bool {
	return r.ExecutedQty.LessThan(r.Requested)
}

func New(cfg Config) (*Source, error) {
	final := cfg.withDefaults()
	client := futures.NewClient(final.APIKey, final.APISecret)
	client.BaseURL = final.RESTBaseURL
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyEnabled && final.RESTProxyURL != "" {
		proxyURL, err := url.Parse(final.RESTProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	if final.ProxyEnabled {
		wsProxy := final.WSProxyURL
		if wsProxy == "" {
			wsProxy = final.RESTProxyURL
		}
		if wsProxy != "" {
			futures.SetWsProxyUrl(wsProxy)
		}
	}
	return &Source{
		cfg:     final,
		client:  client,
		filters: make(map[string]LotSize),
	}, nil
}

// FetchHistory 拉取最近 limit 根 K 线，自动剔除未收盘的最后一根。
func (s *Source) FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}
	kls, err := s.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
			Trades:    kl.TradeNum,
		})
	}
	if dur, ok := scheduler.ParseIntervalDuration(interval); ok {
		out = scheduler.DropUnclosedBinanceKline(out, dur)
	}
	return out, nil
}

// LatestPrice 返回合约最新价。
func (s *Source) LatestPrice(ctx context.Context, symbol string) (float64, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	prices, err := s.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, err
	}
	for _, p := range prices {
		if p != nil && strings.EqualFold(p.Symbol, symbol) {
			v := parseFloat(p.Price)
			if v <= 0 {
				return 0, fmt.Errorf("binance 返回无效价格 %s=%q", symbol, p.Price)
			}
			return v, nil
		}
	}
	return 0, fmt.Errorf("binance 未返回 %s 的价格", symbol)
}

// LoadFilters 拉取交易规则并缓存各合约的 LOT_SIZE 约束。
func (s *Source) LoadFilters(ctx context.Context) error {
	info, err := s.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return fmt.Errorf("拉取交易规则失败: %w", err)
	}
	next := make(map[string]LotSize, len(info.Symbols))
	for _, sym := range info.Symbols {
		for _, f := range sym.Filters {
			if f["filterType"] != "LOT_SIZE" {
				continue
			}
			step, err1 := decimal.NewFromString(asString(f["stepSize"]))
			minQty, err2 := decimal.NewFromString(asString(f["minQty"]))
			if err1 != nil || err2 != nil {
				continue
			}
			next[strings.ToUpper(sym.Symbol)] = LotSize{StepSize: step, MinQty: minQty}
		}
	}
	s.filterMu.Lock()
	s.filters = next
	s.filterMu.Unlock()
	return nil
}

// RoundQty 按 stepSize 向下取整数量；无缓存规则时原样返回。
func (s *Source) RoundQty(symbol string, qty float64) (decimal.Decimal, error) {
	d := decimal.NewFromFloat(qty)
	s.filterMu.RLock()
	lot, ok := s.filters[strings.ToUpper(strings.TrimSpace(symbol))]
	s.filterMu.RUnlock()
	if !ok || lot.StepSize.IsZero() {
		return d, nil
	}
	rounded := d.Div(lot.StepSize).Floor().Mul(lot.StepSize)
	if rounded.LessThan(lot.MinQty) {
		return decimal.Zero, fmt.Errorf("%s 数量 %s 低于最小下单量 %s", symbol, rounded, lot.MinQty)
	}
	return rounded, nil
}

// MarketOrder 提交市价单并返回成交回报。
func (s *Source) MarketOrder(ctx context.Context, symbol string, side futures.SideType, qty decimal.Decimal) (OrderResult, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if qty.LessThanOrEqual(decimal.Zero) {
		return OrderResult{}, fmt.Errorf("下单数量必须为正: %s", qty)
	}
	resp, err := s.client.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		Type(futures.OrderTypeMarket).
		Quantity(qty.String()).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT).
		Do(ctx)
	if err != nil {
		return OrderResult{}, err
	}
	executed, _ := decimal.NewFromString(resp.ExecutedQuantity)
	avgPrice, _ := decimal.NewFromString(resp.AvgPrice)
	return OrderResult{
		OrderID:     resp.OrderID,
		Symbol:      symbol,
		Side:        string(side),
		Requested:   qty,
		ExecutedQty: executed,
		AvgPrice:    avgPrice,
		Status:      string(resp.Status),
	}, nil
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}
