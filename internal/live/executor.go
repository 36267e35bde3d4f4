package live

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"statarb/internal/gateway/binance"
	"statarb/internal/logger"
	"statarb/internal/strategy/pairs"

	"github.com/adshao/go-binance/v2/futures"
)

// Fill 单腿订单的成交结果。
type Fill struct {
	Symbol   string
	Side     pairs.LegSide
	Quantity float64
	Price    float64
	OrderID  string
	Partial  bool
}

// OrderExecutor 负责把单腿订单送向交易所（或模拟盘）。
type OrderExecutor interface {
	Place(ctx context.Context, symbol string, side pairs.LegSide, quantity float64) (Fill, error)
}

// BinanceExecutor 经由合约网关下市价单。
type BinanceExecutor struct {
	src *binance.Source
}

func NewBinanceExecutor(src *binance.Source) *BinanceExecutor {
	return &BinanceExecutor{src: src}
}

func (e *BinanceExecutor) Place(ctx context.Context, symbol string, side pairs.LegSide, quantity float64) (Fill, error) {
	qty, err := e.src.RoundQty(symbol, quantity)
	if err != nil {
		return Fill{}, err
	}
	var sideType futures.SideType
	switch side {
	case pairs.LegBuy:
		sideType = futures.SideTypeBuy
	case pairs.LegSell:
		sideType = futures.SideTypeSell
	default:
		return Fill{}, fmt.Errorf("未知订单方向: %s", side)
	}
	res, err := e.src.MarketOrder(ctx, symbol, sideType, qty)
	if err != nil {
		return Fill{}, err
	}
	executed, _ := res.ExecutedQty.Float64()
	price, _ := res.AvgPrice.Float64()
	fill := Fill{
		Symbol:   res.Symbol,
		Side:     side,
		Quantity: executed,
		Price:    price,
		OrderID:  strconv.FormatInt(res.OrderID, 10),
		Partial:  res.PartiallyFilled(),
	}
	logger.Infof("[live] %s %s qty=%.6f price=%.6f status=%s", symbol, side, executed, price, res.Status)
	return fill, nil
}

// DryRunExecutor 不触达交易所，按给定价格源假定全部成交。
type DryRunExecutor struct {
	PriceFn func(symbol string) float64

	mu    sync.Mutex
	fills []Fill
	seq   int
}

func NewDryRunExecutor(priceFn func(symbol string) float64) *DryRunExecutor {
	return &DryRunExecutor{PriceFn: priceFn}
}

func (e *DryRunExecutor) Place(_ context.Context, symbol string, side pairs.LegSide, quantity float64) (Fill, error) {
	price := 0.0
	if e.PriceFn != nil {
		price = e.PriceFn(symbol)
	}
	e.mu.Lock()
	e.seq++
	fill := Fill{
		Symbol:   symbol,
		Side:     side,
		Quantity: quantity,
		Price:    price,
		OrderID:  fmt.Sprintf("dry-%d", e.seq),
	}
	e.fills = append(e.fills, fill)
	e.mu.Unlock()
	logger.Infof("[live] dry-run %s %s qty=%.6f price=%.6f", symbol, side, quantity, price)
	return fill, nil
}

// Fills 返回已记录的模拟成交（拷贝）。
func (e *DryRunExecutor) Fills() []Fill {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Fill, len(e.fills))
	copy(out, e.fills)
	return out
}
