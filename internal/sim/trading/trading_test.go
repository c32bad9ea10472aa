package trading

import (
	"context"
	"io"
	"log"
	"math"
	"path/filepath"
	"testing"

	"aftercoin.ai/internal/persistence/store"
	"aftercoin.ai/internal/protocol"
	"aftercoin.ai/internal/sim/market"
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
	mkt := market.New(st, tun, protocol.NopPublisher{}, 42, logger)
	return New(st, tun, mkt, protocol.NopPublisher{}, logger), st, tun
}

func setHour(t *testing.T, st *store.Store, hour int) {
	t.Helper()
	if _, err := st.DB().Exec(`UPDATE game_state SET current_hour = ? WHERE id = 1`, hour); err != nil {
		t.Fatalf("set hour: %v", err)
	}
}

func balance(t *testing.T, st *store.Store, actorID int64) float64 {
	t.Helper()
	a, err := st.Actor(context.Background(), actorID)
	if err != nil {
		t.Fatalf("actor %d: %v", actorID, err)
	}
	return a.Balance
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func TestTradeLifecycle(t *testing.T) {
	e, st, tun := newTestEngine(t)
	ctx := context.Background()

	res := e.CreateTradeOffer(ctx, 1, 2, 2, 930.0, "take it")
	if !res.OK {
		t.Fatalf("offer: %+v", res)
	}
	// The fee is flat per trade regardless of amount.
	wantFee := tun.Fees.Trade
	if fee, _ := res.Data["fee"].(float64); !approx(fee, wantFee) {
		t.Fatalf("fee: got %v want %v", res.Data["fee"], wantFee)
	}
	tradeID := res.Data["trade"].(int64)

	// No funds move until accept.
	if got := balance(t, st, 1); !approx(got, 10) {
		t.Fatalf("sender balance before accept: %v", got)
	}

	res = e.AcceptTrade(ctx, tradeID, 2)
	if !res.OK {
		t.Fatalf("accept: %+v", res)
	}
	if got := balance(t, st, 1); !approx(got, 7.97) {
		t.Fatalf("sender after accept: %v", got)
	}
	if got := balance(t, st, 2); !approx(got, 12) {
		t.Fatalf("receiver after accept: %v", got)
	}

	// Both sides earn the trade-success reputation credit.
	for _, id := range []int64{1, 2} {
		a, err := st.Actor(ctx, id)
		if err != nil {
			t.Fatalf("actor: %v", err)
		}
		if want := tun.StartingReputation + tun.Reputation.TradeSuccess; a.Reputation != want {
			t.Fatalf("actor %d reputation: got %d want %d", id, a.Reputation, want)
		}
		if a.TotalTrades != 1 {
			t.Fatalf("actor %d trade counter: %d", id, a.TotalTrades)
		}
	}

	// A completed trade cannot be accepted twice.
	if res := e.AcceptTrade(ctx, tradeID, 2); res.OK || res.Code != protocol.ErrConflict {
		t.Fatalf("double accept: %+v", res)
	}
}

func TestTradeOfferRules(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	if res := e.CreateTradeOffer(ctx, 1, 1, 5, 900, ""); res.OK || res.Code != protocol.ErrInvalidTarget {
		t.Fatalf("self trade: %+v", res)
	}
	if res := e.CreateTradeOffer(ctx, 1, 2, -5, 900, ""); res.OK || res.Code != protocol.ErrBadRequest {
		t.Fatalf("negative amount: %+v", res)
	}
	// Sender cannot cover amount+fee out of the 10 AFC starting balance.
	if res := e.CreateTradeOffer(ctx, 1, 2, 10, 900, ""); res.OK || res.Code != protocol.ErrNoResource {
		t.Fatalf("uncovered offer: %+v", res)
	}
}

func TestTradeFeeTracksGameRate(t *testing.T) {
	e, st, _ := newTestEngine(t)
	ctx := context.Background()

	// After the fee increase event the flat rate applies to every new trade.
	if _, err := st.DB().Exec(`UPDATE game_state SET current_fee_rate = 0.08 WHERE id = 1`); err != nil {
		t.Fatalf("raise fee: %v", err)
	}
	res := e.CreateTradeOffer(ctx, 1, 2, 5, 900, "")
	if !res.OK {
		t.Fatalf("offer: %+v", res)
	}
	if fee, _ := res.Data["fee"].(float64); !approx(fee, 0.08) {
		t.Fatalf("fee under raised rate: %v", fee)
	}
	if res := e.AcceptTrade(ctx, res.Data["trade"].(int64), 2); !res.OK {
		t.Fatalf("accept: %+v", res)
	}
	if got := balance(t, st, 1); !approx(got, 10-5-0.08) {
		t.Fatalf("sender after accept: %v", got)
	}
}

func TestAcceptTradeOnlyReceiver(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	res := e.CreateTradeOffer(ctx, 1, 2, 3, 900, "")
	if !res.OK {
		t.Fatalf("offer: %+v", res)
	}
	tradeID := res.Data["trade"].(int64)
	if res := e.AcceptTrade(ctx, tradeID, 3); res.OK || res.Code != protocol.ErrNoPermission {
		t.Fatalf("third party accept: %+v", res)
	}
}

func TestRejectTrade(t *testing.T) {
	e, st, _ := newTestEngine(t)
	ctx := context.Background()

	res := e.CreateTradeOffer(ctx, 1, 2, 3, 900, "")
	tradeID := res.Data["trade"].(int64)
	if res := e.RejectTrade(ctx, tradeID, 2); !res.OK {
		t.Fatalf("reject: %+v", res)
	}
	// No funds ever moved.
	if got := balance(t, st, 1); !approx(got, 10) {
		t.Fatalf("sender after reject: %v", got)
	}
	var status string
	if err := st.DB().Get(&status, `SELECT status FROM trades WHERE id = ?`, tradeID); err != nil {
		t.Fatalf("status: %v", err)
	}
	if status != string(store.TradeRejected) {
		t.Fatalf("status: %s", status)
	}
}

func TestScamMarksWithoutMovingFunds(t *testing.T) {
	e, st, tun := newTestEngine(t)
	ctx := context.Background()

	res := e.CreateTradeOffer(ctx, 1, 2, 3, 900, "trust me")
	tradeID := res.Data["trade"].(int64)
	if res := e.ExecuteScam(ctx, tradeID, 2); !res.OK {
		t.Fatalf("scam: %+v", res)
	}

	a, err := st.Actor(ctx, 1)
	if err != nil {
		t.Fatalf("actor: %v", err)
	}
	if want := tun.StartingReputation + tun.Reputation.ScamConfirmed; a.Reputation != want {
		t.Fatalf("scammer reputation: got %d want %d", a.Reputation, want)
	}
	// The accused never paid, so the penalty is reputation only.
	if !approx(a.Balance, tun.StartingBalance) {
		t.Fatalf("scammer balance changed: %v", a.Balance)
	}
	if got := balance(t, st, 2); !approx(got, tun.StartingBalance) {
		t.Fatalf("accuser balance: %v", got)
	}
}

func TestTipBoundsAndTransfer(t *testing.T) {
	e, st, tun := newTestEngine(t)
	ctx := context.Background()

	if res := e.SendTip(ctx, 1, 2, tun.Fees.TipMax+1); res.OK || res.Code != protocol.ErrBadRequest {
		t.Fatalf("oversized tip: %+v", res)
	}
	if res := e.SendTip(ctx, 1, 1, 0.3); res.OK || res.Code != protocol.ErrInvalidTarget {
		t.Fatalf("self tip: %+v", res)
	}
	if res := e.SendTip(ctx, 1, 2, 0.3); !res.OK {
		t.Fatalf("tip: %+v", res)
	}
	if got := balance(t, st, 1); !approx(got, 9.7) {
		t.Fatalf("tipper: %v", got)
	}
	if got := balance(t, st, 2); !approx(got, 10.3) {
		t.Fatalf("tipped: %v", got)
	}
}

func TestBountyEscrowAndClaim(t *testing.T) {
	e, st, tun := newTestEngine(t)
	ctx := context.Background()

	res := e.CreateBounty(ctx, 1, "make kappa look foolish in public", 4)
	if !res.OK {
		t.Fatalf("bounty: %+v", res)
	}
	bountyID := res.Data["bounty"].(int64)
	if got := balance(t, st, 1); !approx(got, 6) {
		t.Fatalf("escrow not taken: %v", got)
	}

	if res := e.ClaimBounty(ctx, bountyID, 1); res.OK || res.Code != protocol.ErrNoPermission {
		t.Fatalf("poster self-claim: %+v", res)
	}
	if res := e.ClaimBounty(ctx, bountyID, 3); !res.OK {
		t.Fatalf("claim: %+v", res)
	}
	if got := balance(t, st, 3); !approx(got, 14) {
		t.Fatalf("claimer: %v", got)
	}
	a, err := st.Actor(ctx, 3)
	if err != nil {
		t.Fatalf("actor: %v", err)
	}
	if want := tun.StartingReputation + tun.Reputation.BountyComplete; a.Reputation != want {
		t.Fatalf("claimer reputation: got %d want %d", a.Reputation, want)
	}
	if res := e.ClaimBounty(ctx, bountyID, 4); res.OK || res.Code != protocol.ErrConflict {
		t.Fatalf("double claim: %+v", res)
	}
}

func TestFrozenMarketBlocksTrading(t *testing.T) {
	e, st, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := st.DB().Exec(`UPDATE game_state SET is_trading_frozen = 1 WHERE id = 1`); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	if res := e.CreateTradeOffer(ctx, 1, 2, 1, 900, ""); res.OK || res.Code != protocol.ErrFrozen {
		t.Fatalf("offer while frozen: %+v", res)
	}
}

func TestAdjustBalanceCapsBurn(t *testing.T) {
	e, st, _ := newTestEngine(t)
	ctx := context.Background()

	if res := e.AdjustBalance(ctx, 1, 5, "test mint"); !res.OK {
		t.Fatalf("mint: %+v", res)
	}
	if got := balance(t, st, 1); !approx(got, 15) {
		t.Fatalf("after mint: %v", got)
	}
	if res := e.AdjustBalance(ctx, 1, -100, "test burn"); !res.OK {
		t.Fatalf("burn: %+v", res)
	}
	if got := balance(t, st, 1); !approx(got, 0) {
		t.Fatalf("after capped burn: %v", got)
	}
}
