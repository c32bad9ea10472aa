package trading

import (
	"context"
	"testing"
	"time"

	"aftercoin.ai/internal/persistence/store"
	"aftercoin.ai/internal/protocol"
)

func TestLeverageBetEscrowAndWin(t *testing.T) {
	e, st, tun := newTestEngine(t)
	ctx := context.Background()
	setHour(t, st, tun.Leverage.UnlockHour)

	res := e.CreateLeverageBet(ctx, 1, store.LeverageAbove, 950, 4, 30*time.Minute)
	if !res.OK {
		t.Fatalf("bet: %+v", res)
	}
	posID := res.Data["position"].(int64)
	wantFee := 4 * tun.Fees.Leverage
	wantPotential := 4 * tun.Leverage.Multiplier
	if got := res.Data["potential_return"].(float64); !approx(got, wantPotential) {
		t.Fatalf("potential: got %v want %v", got, wantPotential)
	}
	if got := balance(t, st, 1); !approx(got, 10-4-wantFee) {
		t.Fatalf("escrow: balance %v", got)
	}

	// Price above target: the full potential return comes back.
	if res := e.SettlePosition(ctx, posID, 960); !res.OK {
		t.Fatalf("settle: %+v", res)
	}
	if got := balance(t, st, 1); !approx(got, 10-4-wantFee+wantPotential) {
		t.Fatalf("after win: balance %v", got)
	}
	if res := e.SettlePosition(ctx, posID, 960); res.OK || res.Code != protocol.ErrConflict {
		t.Fatalf("double settle: %+v", res)
	}
}

func TestLeverageBetLoss(t *testing.T) {
	e, st, tun := newTestEngine(t)
	ctx := context.Background()
	setHour(t, st, tun.Leverage.UnlockHour)

	res := e.CreateLeverageBet(ctx, 1, store.LeverageBelow, 900, 2, 30*time.Minute)
	if !res.OK {
		t.Fatalf("bet: %+v", res)
	}
	posID := res.Data["position"].(int64)
	if res := e.SettlePosition(ctx, posID, 950); !res.OK {
		t.Fatalf("settle: %+v", res)
	}
	if res.Data == nil {
		t.Fatalf("missing settle data")
	}
	// Stake and fee are gone.
	if got := balance(t, st, 1); !approx(got, 10-2-2*tun.Fees.Leverage) {
		t.Fatalf("after loss: balance %v", got)
	}
}

func TestLeverageGateAndLimit(t *testing.T) {
	e, st, tun := newTestEngine(t)
	ctx := context.Background()

	if res := e.CreateLeverageBet(ctx, 1, store.LeverageAbove, 950, 1, time.Hour); res.OK || res.Code != protocol.ErrLocked {
		t.Fatalf("locked gate: %+v", res)
	}

	setHour(t, st, tun.Leverage.UnlockHour)
	for i := 0; i < tun.Leverage.MaxActive; i++ {
		if res := e.CreateLeverageBet(ctx, 1, store.LeverageAbove, 950, 1, time.Hour); !res.OK {
			t.Fatalf("bet %d: %+v", i, res)
		}
	}
	if res := e.CreateLeverageBet(ctx, 1, store.LeverageAbove, 950, 1, time.Hour); res.OK || res.Code != protocol.ErrConflict {
		t.Fatalf("over the limit: %+v", res)
	}

	positions, err := e.ActivePositions(ctx, 1)
	if err != nil {
		t.Fatalf("positions: %v", err)
	}
	if len(positions) != tun.Leverage.MaxActive {
		t.Fatalf("active positions: %d", len(positions))
	}
}

func TestSettleDueSweep(t *testing.T) {
	e, st, tun := newTestEngine(t)
	ctx := context.Background()
	setHour(t, st, tun.Leverage.UnlockHour)

	res := e.CreateLeverageBet(ctx, 1, store.LeverageAbove, 950, 1, time.Minute)
	if !res.OK {
		t.Fatalf("bet: %+v", res)
	}
	// Not yet due.
	if n := e.SettleDue(ctx, time.Now(), 960); n != 0 {
		t.Fatalf("settled early: %d", n)
	}
	if n := e.SettleDue(ctx, time.Now().Add(2*time.Minute), 960); n != 1 {
		t.Fatalf("settled due: %d", n)
	}
}

func TestLiquidateAllZeroesPayouts(t *testing.T) {
	e, st, tun := newTestEngine(t)
	ctx := context.Background()
	setHour(t, st, tun.Leverage.UnlockHour)

	for _, actor := range []int64{1, 2} {
		if res := e.CreateLeverageBet(ctx, actor, store.LeverageAbove, 900, 1, time.Hour); !res.OK {
			t.Fatalf("bet for %d: %+v", actor, res)
		}
	}
	n, err := e.LiquidateAll(ctx, 880)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if n != 2 {
		t.Fatalf("liquidated: %d", n)
	}
	var statuses []string
	if err := st.DB().Select(&statuses, `SELECT status FROM leverage_positions ORDER BY id`); err != nil {
		t.Fatalf("statuses: %v", err)
	}
	for _, s := range statuses {
		if s != string(store.LeverageLiquidated) {
			t.Fatalf("status: %s", s)
		}
	}
}
