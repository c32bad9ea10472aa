package covert

import (
	"context"
	"testing"

	"aftercoin.ai/internal/protocol"
)

func TestPurchaseIntelRules(t *testing.T) {
	e, st, tun := newTestEngine(t)
	ctx := context.Background()

	if res := e.PurchaseIntel(ctx, 1, 2, 0); res.OK || res.Code != protocol.ErrBadRequest {
		t.Fatalf("tier zero: %+v", res)
	}
	if res := e.PurchaseIntel(ctx, 1, 1, 1); res.OK || res.Code != protocol.ErrInvalidTarget {
		t.Fatalf("self intel: %+v", res)
	}
	if res := e.PurchaseIntel(ctx, 1, 2, 1); res.OK || res.Code != protocol.ErrLocked {
		t.Fatalf("pre-unlock intel: %+v", res)
	}
	setHour(t, st, tun.Covert.UnlockHour)
	if res := e.PurchaseIntel(ctx, 1, 99, 1); res.OK || res.Code != protocol.ErrNotFound {
		t.Fatalf("missing target: %+v", res)
	}
}

func TestPurchaseTradeIntel(t *testing.T) {
	e, st, tun := newTestEngine(t)
	ctx := context.Background()
	setHour(t, st, tun.Covert.UnlockHour)

	res := e.PurchaseIntel(ctx, 1, 2, 1)
	if !res.OK {
		t.Fatalf("purchase: %+v", res)
	}
	if got := res.Data["cost"].(float64); !approx(got, tun.Covert.IntelTier1Cost) {
		t.Fatalf("cost: %v", got)
	}
	if got := balance(t, st, 1); !approx(got, 10-tun.Covert.IntelTier1Cost) {
		t.Fatalf("buyer balance: %v", got)
	}
	if res.Data["trades"].(int) != 0 {
		t.Fatalf("fresh target has trades: %+v", res.Data)
	}

	purchases, err := e.Purchases(ctx, 1)
	if err != nil || len(purchases) != 1 {
		t.Fatalf("purchase history: %v %d", err, len(purchases))
	}
	if purchases[0].Tier != 1 || purchases[0].TargetID != 2 {
		t.Fatalf("recorded purchase: %+v", purchases[0])
	}
}

func TestPurchaseGoalIntel(t *testing.T) {
	e, st, tun := newTestEngine(t)
	ctx := context.Background()
	setHour(t, st, tun.Covert.UnlockHour)

	res := e.PurchaseIntel(ctx, 1, 2, 4)
	if !res.OK {
		t.Fatalf("purchase: %+v", res)
	}
	goal, ok := res.Data["hidden_goal"].(string)
	if !ok || goal == "" {
		t.Fatalf("hidden goal not disclosed: %+v", res.Data)
	}
	if got := balance(t, st, 1); !approx(got, 10-tun.Covert.IntelTier4Cost) {
		t.Fatalf("buyer balance: %v", got)
	}
}

func TestPostIntelFlagsContradiction(t *testing.T) {
	e, st, tun := newTestEngine(t)
	ctx := context.Background()
	setHour(t, st, tun.Covert.UnlockHour)

	for _, content := range []string{"time to buy and accumulate", "dump everything and exit now"} {
		if _, err := st.DB().Exec(
			`INSERT INTO posts (author_id, content, post_type, created_at) VALUES (2, ?, 'general', ?)`,
			content, "2026-01-01T00:00:00Z"); err != nil {
			t.Fatalf("seed post: %v", err)
		}
	}

	res := e.PurchaseIntel(ctx, 1, 2, 2)
	if !res.OK {
		t.Fatalf("purchase: %+v", res)
	}
	if !res.Data["contradictory"].(bool) {
		t.Fatalf("contradiction missed: %+v", res.Data)
	}
	if res.Data["bullish"].(int) != 1 || res.Data["bearish"].(int) != 1 {
		t.Fatalf("lean counts: %+v", res.Data)
	}
}
