package coins

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// SymbolProvider 币种来源接口
type SymbolProvider interface {
	List(ctx context.Context) ([]string, error)
	Name() string
}

// NormalizeSymbols 标准化币种列表：去重、转大写、添加 USDT 后缀
func NormalizeSymbols(symbols []string) ([]string, error) {
	if len(symbols) == 0 {
		return nil, errors.New("symbol list is empty")
	}
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if !strings.HasSuffix(s, "USDT") {
			s += "USDT"
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, errors.New("symbol list is empty after normalization")
	}
	return out, nil
}

// DefaultSymbolProvider 默认实现：静态列表
type DefaultSymbolProvider struct{ symbols []string }

func NewDefaultProvider(symbols []string) *DefaultSymbolProvider {
	return &DefaultSymbolProvider{symbols: symbols}
}

func (p *DefaultSymbolProvider) Name() string { return "default" }

func (p *DefaultSymbolProvider) List(_ context.Context) ([]string, error) {
	return NormalizeSymbols(p.symbols)
}

// TopVolumeProvider 按 24h 成交额从 Binance USDT 合约挑选流动性靠前的币种。
type TopVolumeProvider struct {
	BaseURL      string
	TopN         int
	MinVolumeUSD float64
	Client       *http.Client
}

func NewTopVolumeProvider(baseURL string, topN int, minVolumeUSD float64) *TopVolumeProvider {
	if baseURL == "" {
		baseURL = "https://fapi.binance.com"
	}
	if topN <= 0 {
		topN = 30
	}
	return &TopVolumeProvider{
		BaseURL:      baseURL,
		TopN:         topN,
		MinVolumeUSD: minVolumeUSD,
		Client:       &http.Client{Timeout: 15 * time.Second},
	}
}

func (p *TopVolumeProvider) Name() string { return "top_volume" }

func (p *TopVolumeProvider) List(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+"/fapi/v1/ticker/24hr", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching tickers: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("HTTP status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return p.parse(body)
}

type tickerVolume struct {
	symbol string
	volume float64
}

func (p *TopVolumeProvider) parse(body []byte) ([]string, error) {
	parsed := gjson.ParseBytes(body)
	if !parsed.IsArray() {
		return nil, errors.New("unexpected ticker payload")
	}
	var tickers []tickerVolume
	parsed.ForEach(func(_, item gjson.Result) bool {
		symbol := item.Get("symbol").String()
		if !eligibleSymbol(symbol) {
			return true
		}
		volume := item.Get("quoteVolume").Float()
		if volume < p.MinVolumeUSD {
			return true
		}
		tickers = append(tickers, tickerVolume{symbol: symbol, volume: volume})
		return true
	})
	sort.SliceStable(tickers, func(i, j int) bool { return tickers[i].volume > tickers[j].volume })
	if len(tickers) > p.TopN {
		tickers = tickers[:p.TopN]
	}
	symbols := make([]string, 0, len(tickers))
	for _, t := range tickers {
		symbols = append(symbols, t.symbol)
	}
	return NormalizeSymbols(symbols)
}

// eligibleSymbol 只保留常规 USDT 永续，过滤杠杆代币等衍生符号。
func eligibleSymbol(symbol string) bool {
	if !strings.HasSuffix(symbol, "USDT") {
		return false
	}
	for _, bad := range []string{"UPUSDT", "DOWNUSDT", "BULLUSDT", "BEARUSDT"} {
		if strings.HasSuffix(symbol, bad) {
			return false
		}
	}
	return true
}
