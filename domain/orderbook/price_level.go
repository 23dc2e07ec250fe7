package orderbook

import "github.com/shopspring/decimal"

// Level is the live liquidity aggregated at a single price.
type Level struct {
	Price decimal.Decimal

	TotalQty   int64
	OrderCount int
}

func (l *Level) add(o *Order) {
	l.TotalQty += o.remainingSize
	l.OrderCount++
}
