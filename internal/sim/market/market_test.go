package market

import (
	"context"
	"io"
	"log"
	"math"
	"path/filepath"
	"testing"

	"aftercoin.ai/internal/persistence/store"
	"aftercoin.ai/internal/protocol"
	"aftercoin.ai/internal/sim/tuning"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store, tuning.Tuning) {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	tun := tuning.Default()
	if err := st.InitRun(context.Background(), tun); err != nil {
		t.Fatalf("init run: %v", err)
	}
	return New(st, tun, protocol.NopPublisher{}, 42, logger), st, tun
}

func TestTickBuyPressureRaisesPrice(t *testing.T) {
	e, _, tun := newTestEngine(t)
	ctx := context.Background()

	start := e.Price()
	if start != tun.StartingPrice {
		t.Fatalf("starting price: %v", start)
	}

	// Pure buy pressure contributes +5%, volatility is within +/-3%, so the
	// clamped change is positive no matter what the noise walk says.
	e.RecordTrade(10, true)
	next := e.Tick(ctx)
	if next <= start {
		t.Fatalf("price did not rise: %v -> %v", start, next)
	}
	maxNext := start * (1 + tun.Market.MaxChangePercent)
	if next > maxNext+0.01 {
		t.Fatalf("change exceeded cap: %v > %v", next, maxNext)
	}

	// Volume resets after a tick.
	buy, sell := e.Volumes()
	if buy != 0 || sell != 0 {
		t.Fatalf("volumes after tick: %v/%v", buy, sell)
	}
}

func TestTickSellPressureLowersPrice(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	start := e.Price()
	e.RecordTrade(10, false)
	next := e.Tick(ctx)
	if next >= start {
		t.Fatalf("price did not fall: %v -> %v", start, next)
	}
}

func TestRecordTradeRejectsBadInput(t *testing.T) {
	e, _, _ := newTestEngine(t)

	e.RecordTrade(-3, true)
	e.RecordTrade(0, false)
	buy, sell := e.Volumes()
	if buy != 0 || sell != 0 {
		t.Fatalf("accepted non-positive volume: %v/%v", buy, sell)
	}
}

func TestFreezeBlocksEverything(t *testing.T) {
	e, st, _ := newTestEngine(t)
	ctx := context.Background()

	e.Freeze(ctx)
	if !e.Frozen() {
		t.Fatalf("not frozen")
	}

	start := e.Price()
	e.RecordTrade(10, true)
	if got := e.Tick(ctx); got != start {
		t.Fatalf("tick moved a frozen price: %v -> %v", start, got)
	}
	buy, _ := e.Volumes()
	if buy != 0 {
		t.Fatalf("volume accepted while frozen: %v", buy)
	}

	gs, err := st.GameState(ctx)
	if err != nil {
		t.Fatalf("game state: %v", err)
	}
	if !gs.IsTradingFrozen {
		t.Fatalf("freeze flag not persisted")
	}

	e.Unfreeze(ctx)
	if e.Frozen() {
		t.Fatalf("still frozen")
	}
	gs, err = st.GameState(ctx)
	if err != nil {
		t.Fatalf("game state: %v", err)
	}
	if gs.IsTradingFrozen {
		t.Fatalf("freeze flag not cleared")
	}
}

func TestApplyShockClampsToCap(t *testing.T) {
	e, _, tun := newTestEngine(t)
	ctx := context.Background()

	start := e.Price()
	next := e.ApplyShock(ctx, -0.55, "flash_crash")
	want := math.Round(start*(1-tun.Market.MaxChangePercent)*100) / 100
	if next != want {
		t.Fatalf("shock: got %v want %v", next, want)
	}

	hist, err := e.History(ctx, 5)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 1 {
		t.Fatalf("history rows: %d", len(hist))
	}
	if !hist[0].EventImpact.Valid || hist[0].EventImpact.String != "flash_crash" {
		t.Fatalf("event label: %+v", hist[0].EventImpact)
	}
}

func TestInitFromDBResumesPrice(t *testing.T) {
	e, st, tun := newTestEngine(t)
	ctx := context.Background()

	e.ApplyShock(ctx, 0.04, "pump")
	resumed := New(st, tun, protocol.NopPublisher{}, 7, log.New(io.Discard, "", 0))
	if err := resumed.InitFromDB(ctx); err != nil {
		t.Fatalf("init from db: %v", err)
	}
	if resumed.Price() != e.Price() {
		t.Fatalf("resume: got %v want %v", resumed.Price(), e.Price())
	}
}

func TestPriceNeverReachesZero(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 400; i++ {
		e.ApplyShock(ctx, -0.05, "")
	}
	if p := e.Price(); p < 0.01 {
		t.Fatalf("price fell below floor: %v", p)
	}
}
