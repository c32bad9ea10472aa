package market

import "sort"

type Level struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

type OrderBook struct {
	Bids   []Level `json:"bids"`
	Asks   []Level `json:"asks"`
	Spread float64 `json:"spread"`
}

// OrderBook synthesizes bid/ask ladders around the current price for
// display only. There is no real liquidity behind it and it must never be
// used to settle anything.
func (e *Engine) OrderBook(depth int) OrderBook {
	if depth < 1 {
		depth = 1
	}
	if depth > 25 {
		depth = 25
	}

	e.mu.Lock()
	price := e.price
	rng := e.rng
	tick := round2(price * 0.001)
	if tick < 0.01 {
		tick = 0.01
	}

	bids := make([]Level, 0, depth)
	asks := make([]Level, 0, depth)
	for i := 1; i <= depth; i++ {
		jitter := 0.8 + rng.Float64()*0.4
		bidPrice := round2(price - tick*float64(i)*jitter)
		askPrice := round2(price + tick*float64(i)*jitter)
		if bidPrice < 0.01 {
			bidPrice = 0.01
		}

		// Quantities are largest near the spread and taper outward.
		baseQty := 0.05 + rng.Float64()*0.45
		taper := 1.0 - float64(i)/float64(depth+1)
		if taper < 0.1 {
			taper = 0.1
		}
		bids = append(bids, Level{Price: bidPrice, Quantity: round4(baseQty * taper * (0.8 + rng.Float64()*0.4))})
		asks = append(asks, Level{Price: askPrice, Quantity: round4(baseQty * taper * (0.8 + rng.Float64()*0.4))})
	}
	e.mu.Unlock()

	sort.Slice(bids, func(i, j int) bool { return bids[i].Price > bids[j].Price })
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price < asks[j].Price })

	spread := 0.0
	if len(bids) > 0 && len(asks) > 0 {
		spread = round2(asks[0].Price - bids[0].Price)
	}
	return OrderBook{Bids: bids, Asks: asks, Spread: spread}
}
