// Package market maintains the single AFC/EUR price: periodic pressure
// ticks, instantaneous event shocks, the trading freeze flag, and the
// append-only price log.
package market

import (
	"context"
	"log"
	"math"
	"math/rand"
	"sync"

	"github.com/jmoiron/sqlx"
	opensimplex "github.com/ojrac/opensimplex-go"

	"aftercoin.ai/internal/persistence/store"
	"aftercoin.ai/internal/protocol"
	"aftercoin.ai/internal/sim/tuning"
)

type Engine struct {
	st  *store.Store
	tun tuning.Tuning
	bus protocol.Publisher
	log *log.Logger

	mu      sync.Mutex
	price   float64
	buyVol  float64
	sellVol float64
	frozen  bool

	// Volatility comes from a 1-D noise walk instead of raw uniform draws,
	// so consecutive ticks drift smoothly within the tuned range.
	noise  opensimplex.Noise
	noiseT float64
	rng    *rand.Rand
}

func New(st *store.Store, tun tuning.Tuning, bus protocol.Publisher, seed int64, logger *log.Logger) *Engine {
	return &Engine{
		st:    st,
		tun:   tun,
		bus:   bus,
		log:   logger,
		price: tun.StartingPrice,
		noise: opensimplex.New(seed),
		rng:   rand.New(rand.NewSource(seed)),
	}
}

// SetTuning swaps the live knobs, used by the config hot reload. Only the
// values read per tick change; interval changes need a restart.
func (e *Engine) SetTuning(tun tuning.Tuning) {
	e.mu.Lock()
	e.tun = tun
	e.mu.Unlock()
}

// InitFromDB resumes the live price from the newest persisted record so
// restarts are seamless. Missing history keeps the tuned starting price.
func (e *Engine) InitFromDB(ctx context.Context) error {
	var last store.MarketPrice
	err := e.st.DB().GetContext(ctx, &last,
		`SELECT * FROM market_prices ORDER BY id DESC LIMIT 1`)
	if err != nil {
		e.log.Printf("no prior price records, starting at %.2f", e.price)
		return nil
	}
	e.mu.Lock()
	e.price = last.PriceEUR
	e.mu.Unlock()
	e.log.Printf("resumed market at %.2f", last.PriceEUR)
	return nil
}

// RecordTrade accumulates volume for the open pricing period. Rejected
// while frozen and for non-positive amounts; pure accounting otherwise.
func (e *Engine) RecordTrade(amount float64, isBuy bool) {
	if amount <= 0 {
		e.log.Printf("ignored non-positive trade amount %.6f", amount)
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.frozen {
		e.log.Printf("volume rejected, market is frozen")
		return
	}
	if isBuy {
		e.buyVol += amount
	} else {
		e.sellVol += amount
	}
}

// Tick computes the next price from accumulated volume pressure plus
// bounded volatility, persists a record, resets volume, and publishes the
// update. No-op while frozen. The live price survives a failed log write.
func (e *Engine) Tick(ctx context.Context) float64 {
	e.mu.Lock()
	if e.frozen {
		p := e.price
		e.mu.Unlock()
		e.log.Printf("tick skipped, trading frozen")
		return p
	}

	total := e.buyVol + e.sellVol
	pressure := 0.0
	if total > 0 {
		pressure = (e.buyVol - e.sellVol) / total * 0.05
	}
	volatility := e.nextVolatility()

	cap := e.tun.Market.MaxChangePercent
	change := clampF(pressure+volatility, -cap, cap)

	old := e.price
	next := round2(math.Max(e.price*(1.0+change), 0.01))

	rec := store.MarketPrice{
		PriceEUR:       next,
		BuyVolume:      round4(e.buyVol),
		SellVolume:     round4(e.sellVol),
		MarketPressure: round6(pressure),
		Volatility:     round6(volatility),
		RecordedAt:     store.Now(),
	}
	e.price = next
	e.buyVol = 0
	e.sellVol = 0
	e.mu.Unlock()

	if err := e.persist(ctx, rec, ""); err != nil {
		// Keep the in-memory price so the simulation never stalls on a
		// storage fault; the next successful tick re-anchors the log.
		e.log.Printf("persist price tick: %v", err)
	}

	e.log.Printf("price %.2f -> %.2f (pressure=%.4f vol=%.4f change=%.4f%%)",
		old, next, pressure, volatility, change*100)

	e.bus.Publish(protocol.NewEvent(protocol.ChannelMarket, "price_update", map[string]any{
		"price":     next,
		"old_price": old,
		"pressure":  round6(pressure),
		"change":    round6(change),
	}))
	return next
}

// ApplyShock moves the price instantly for a system event, clamped per
// application to the same cap as a tick.
func (e *Engine) ApplyShock(ctx context.Context, percent float64, label string) float64 {
	e.mu.Lock()
	cap := e.tun.Market.MaxChangePercent
	clamped := clampF(percent, -cap, cap)
	old := e.price
	next := round2(math.Max(e.price*(1.0+clamped), 0.01))
	e.price = next
	rec := store.MarketPrice{
		PriceEUR:   next,
		Volatility: round6(clamped),
		RecordedAt: store.Now(),
	}
	e.mu.Unlock()

	if err := e.persist(ctx, rec, label); err != nil {
		e.log.Printf("persist shock %q: %v", label, err)
	}

	e.log.Printf("shock %q: %.2f -> %.2f (%.2f%%)", label, old, next, clamped*100)
	e.bus.Publish(protocol.NewEvent(protocol.ChannelMarket, "price_shock", map[string]any{
		"price":     next,
		"old_price": old,
		"event":     label,
		"change":    round6(clamped),
	}))
	return next
}

// Freeze halts trading, volume intake, and price ticks.
func (e *Engine) Freeze(ctx context.Context) {
	e.mu.Lock()
	e.frozen = true
	e.mu.Unlock()
	e.log.Printf("trading FROZEN")
	e.syncFrozen(ctx, true)
}

// Unfreeze resumes trading and discards stale period volume. Idempotent:
// safe to call even when no freeze was ever recorded.
func (e *Engine) Unfreeze(ctx context.Context) {
	e.mu.Lock()
	e.frozen = false
	e.buyVol = 0
	e.sellVol = 0
	e.mu.Unlock()
	e.log.Printf("trading unfrozen, volumes reset")
	e.syncFrozen(ctx, false)
}

func (e *Engine) syncFrozen(ctx context.Context, frozen bool) {
	err := e.st.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.Exec(`UPDATE game_state SET is_trading_frozen = ? WHERE id = 1`, frozen)
		return err
	})
	if err != nil {
		e.log.Printf("sync freeze flag: %v", err)
	}
}

func (e *Engine) Price() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.price
}

func (e *Engine) Frozen() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frozen
}

// Volumes reports the open period's accumulated buy/sell volume.
func (e *Engine) Volumes() (buy, sell float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buyVol, e.sellVol
}

func (e *Engine) History(ctx context.Context, limit int) ([]store.MarketPrice, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > 500 {
		limit = 500
	}
	var out []store.MarketPrice
	err := e.st.DB().SelectContext(ctx, &out,
		`SELECT * FROM market_prices ORDER BY id DESC LIMIT ?`, limit)
	return out, err
}

func (e *Engine) persist(ctx context.Context, rec store.MarketPrice, eventLabel string) error {
	return e.st.WithTx(ctx, func(tx *sqlx.Tx) error {
		var impact any
		if eventLabel != "" {
			impact = eventLabel
		}
		_, err := tx.Exec(
			`INSERT INTO market_prices (price_eur, buy_volume, sell_volume, market_pressure, volatility, event_impact, recorded_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rec.PriceEUR, rec.BuyVolume, rec.SellVolume, rec.MarketPressure,
			rec.Volatility, impact, rec.RecordedAt)
		return err
	})
}

// nextVolatility samples the noise walk and maps [-1,1] into the tuned
// range. Caller holds the mutex.
func (e *Engine) nextVolatility() float64 {
	e.noiseT += 0.37
	v := e.noise.Eval2(e.noiseT, 0)
	lo, hi := e.tun.Market.VolatilityMin, e.tun.Market.VolatilityMax
	return lo + (v+1)/2*(hi-lo)
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
func round6(v float64) float64 { return math.Round(v*1e6) / 1e6 }
