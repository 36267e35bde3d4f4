package pairs

// LegPnL 按持仓形态结算双腿盈亏。
type LegPnL interface {
	Compute(pos *Position, cur1, cur2 float64) (leg1, leg2 float64)
}

// legPnLFor 选择形态对应的结算器。
func legPnLFor(variant Variant) LegPnL {
	if variant == VariantFutures {
		return FuturesLegPnL{}
	}
	return SpotLegPnL{}
}

// SpotLegPnL 现货双边结算：按持仓方向确定每条腿的多空。
type SpotLegPnL struct{}

func (SpotLegPnL) Compute(pos *Position, cur1, cur2 float64) (float64, float64) {
	l1, l2 := pos.Legs[0], pos.Legs[1]
	if pos.Direction == SignalOpenLong {
		// 多 leg1 空 leg2
		return (cur1 - l1.EntryPrice) * l1.Quantity, (l2.EntryPrice - cur2) * l2.Quantity
	}
	return (l1.EntryPrice - cur1) * l1.Quantity, (cur2 - l2.EntryPrice) * l2.Quantity
}

// FuturesLegPnL 按开仓时记录在腿上的方向逐腿结算，
// 与现货/合约的载体无关：buy 腿赚涨，sell 腿赚跌。
type FuturesLegPnL struct{}

func (FuturesLegPnL) Compute(pos *Position, cur1, cur2 float64) (float64, float64) {
	return legSidePnL(pos.Legs[0], cur1), legSidePnL(pos.Legs[1], cur2)
}

func legSidePnL(leg Leg, cur float64) float64 {
	if leg.Side == LegBuy {
		return (cur - leg.EntryPrice) * leg.Quantity
	}
	return (leg.EntryPrice - cur) * leg.Quantity
}
