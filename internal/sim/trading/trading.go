// Package trading implements peer-to-peer trade offers, tipping, leveraged
// directional bets, and bounty escrow. Funds only ever move inside one
// transaction per operation.
package trading

import (
	"context"
	"log"

	"github.com/jmoiron/sqlx"

	"aftercoin.ai/internal/persistence/store"
	"aftercoin.ai/internal/protocol"
	"aftercoin.ai/internal/sim/engine"
	"aftercoin.ai/internal/sim/market"
	"aftercoin.ai/internal/sim/reputation"
	"aftercoin.ai/internal/sim/tuning"
)

type Engine struct {
	st     *store.Store
	tun    tuning.Tuning
	market *market.Engine
	bus    protocol.Publisher
	log    *log.Logger
}

func New(st *store.Store, tun tuning.Tuning, mkt *market.Engine, bus protocol.Publisher, logger *log.Logger) *Engine {
	return &Engine{st: st, tun: tun, market: mkt, bus: bus, log: logger}
}

// CreateTradeOffer validates both parties and the sender's ability to cover
// amount+fee, then records a pending trade. No funds move until accept.
func (e *Engine) CreateTradeOffer(ctx context.Context, senderID, receiverID int64, amount, price float64, message string) protocol.Result {
	if senderID == receiverID {
		return protocol.Fail(protocol.ErrInvalidTarget, "cannot trade with yourself")
	}
	if amount <= 0 || price <= 0 {
		return protocol.Fail(protocol.ErrBadRequest, "amount and price must be positive")
	}

	var tradeID int64
	var fee float64
	err := e.st.WithTx(ctx, func(tx *sqlx.Tx) error {
		gs, err := store.GameStateTx(tx)
		if err != nil {
			return err
		}
		if gs.IsTradingFrozen {
			return engine.ErrFrozen
		}
		sender, err := store.ActorTx(tx, senderID)
		if err != nil {
			return err
		}
		receiver, err := store.ActorTx(tx, receiverID)
		if err != nil {
			return err
		}
		if sender.IsEliminated || receiver.IsEliminated {
			return engine.ErrEliminated
		}
		// Flat per-trade fee. The fee increase event raises it in game state.
		fee = gs.CurrentFeeRate
		if sender.Balance < amount+fee {
			return store.ErrInsufficient
		}
		res, err := tx.Exec(
			`INSERT INTO trades (sender_id, receiver_id, amount, price, fee, status, message, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			senderID, receiverID, amount, price, fee, string(store.TradePending), message, store.Now())
		if err != nil {
			return err
		}
		tradeID, err = res.LastInsertId()
		return err
	})
	if r, bad := engine.Failure(err, e.log, "create trade offer"); bad {
		return r
	}

	e.bus.Publish(protocol.NewEvent(protocol.ChannelTrades, "trade_offered", map[string]any{
		"trade": tradeID, "sender": senderID, "receiver": receiverID,
		"amount": amount, "price": price, "fee": fee,
	}))
	return protocol.Ok("trade offer created", map[string]any{"trade": tradeID, "fee": fee})
}

// AcceptTrade moves the funds: sender pays amount+fee, receiver gains
// amount, both trade counters advance, both sides earn the trade-success
// reputation credit. The sender's balance is re-validated inside the
// transaction so a balance that shrank since the offer fails cleanly with
// no partial debit.
func (e *Engine) AcceptTrade(ctx context.Context, tradeID, actorID int64) protocol.Result {
	var t store.Trade
	err := e.st.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := tx.Get(&t, `SELECT * FROM trades WHERE id = ?`, tradeID); err != nil {
			return engine.MapRowErr(err)
		}
		if t.Status != store.TradePending {
			return engine.ErrWrongStatus
		}
		if t.ReceiverID != actorID {
			return engine.ErrNotYours
		}
		gs, err := store.GameStateTx(tx)
		if err != nil {
			return err
		}
		if gs.IsTradingFrozen {
			return engine.ErrFrozen
		}
		receiver, err := store.ActorTx(tx, t.ReceiverID)
		if err != nil {
			return err
		}
		if receiver.IsEliminated {
			return engine.ErrEliminated
		}
		if err := store.DebitTx(tx, t.SenderID, t.Amount+t.Fee); err != nil {
			return err
		}
		if err := store.CreditTx(tx, t.ReceiverID, t.Amount); err != nil {
			return err
		}
		if _, err := tx.Exec(
			`UPDATE trades SET status = ?, resolved_at = ? WHERE id = ?`,
			string(store.TradeCompleted), store.Now(), tradeID); err != nil {
			return err
		}
		if _, err := tx.Exec(
			`UPDATE actors SET total_trades = total_trades + 1 WHERE id IN (?, ?)`,
			t.SenderID, t.ReceiverID); err != nil {
			return err
		}
		if _, err := reputation.ApplyTx(tx, e.tun, t.SenderID, reputation.CauseTradeSuccess); err != nil {
			return err
		}
		if _, err := reputation.ApplyTx(tx, e.tun, t.ReceiverID, reputation.CauseTradeSuccess); err != nil {
			return err
		}
		return nil
	})
	if r, bad := engine.Failure(err, e.log, "accept trade"); bad {
		return r
	}

	e.market.RecordTrade(t.Amount, true)
	e.bus.Publish(protocol.NewEvent(protocol.ChannelTrades, "trade_completed", map[string]any{
		"trade": tradeID, "sender": t.SenderID, "receiver": t.ReceiverID,
		"amount": t.Amount, "fee": t.Fee,
	}))
	return protocol.Ok("trade completed", map[string]any{
		"trade": tradeID, "amount": t.Amount, "fee": t.Fee,
	})
}

// RejectTrade declines a pending offer. No funds were held, so this is a
// pure status change.
func (e *Engine) RejectTrade(ctx context.Context, tradeID, actorID int64) protocol.Result {
	err := e.st.WithTx(ctx, func(tx *sqlx.Tx) error {
		var t store.Trade
		if err := tx.Get(&t, `SELECT * FROM trades WHERE id = ?`, tradeID); err != nil {
			return engine.MapRowErr(err)
		}
		if t.Status != store.TradePending {
			return engine.ErrWrongStatus
		}
		if t.ReceiverID != actorID {
			return engine.ErrNotYours
		}
		_, err := tx.Exec(`UPDATE trades SET status = ?, resolved_at = ? WHERE id = ?`,
			string(store.TradeRejected), store.Now(), tradeID)
		return err
	})
	if r, bad := engine.Failure(err, e.log, "reject trade"); bad {
		return r
	}
	e.bus.Publish(protocol.NewEvent(protocol.ChannelTrades, "trade_rejected", map[string]any{
		"trade": tradeID,
	}))
	return protocol.Ok("trade rejected", nil)
}

// ExecuteScam is the receiver's accusation path: the pending trade is
// marked scam and the sender takes the fixed reputation penalty. No funds
// move, since the sender never paid.
func (e *Engine) ExecuteScam(ctx context.Context, tradeID, actorID int64) protocol.Result {
	var senderID int64
	err := e.st.WithTx(ctx, func(tx *sqlx.Tx) error {
		var t store.Trade
		if err := tx.Get(&t, `SELECT * FROM trades WHERE id = ?`, tradeID); err != nil {
			return engine.MapRowErr(err)
		}
		if t.Status != store.TradePending {
			return engine.ErrWrongStatus
		}
		if t.ReceiverID != actorID {
			return engine.ErrNotYours
		}
		senderID = t.SenderID
		if _, err := tx.Exec(`UPDATE trades SET status = ?, resolved_at = ? WHERE id = ?`,
			string(store.TradeScam), store.Now(), tradeID); err != nil {
			return err
		}
		_, err := reputation.ApplyTx(tx, e.tun, t.SenderID, reputation.CauseScamConfirmed)
		return err
	})
	if r, bad := engine.Failure(err, e.log, "execute scam"); bad {
		return r
	}
	e.bus.Publish(protocol.NewEvent(protocol.ChannelTrades, "scam_detected", map[string]any{
		"trade": tradeID, "scammer": senderID,
	}))
	return protocol.Ok("trade marked as scam", map[string]any{"scammer": senderID})
}

// SendTip transfers a small fixed-range amount with no fee and a symmetric
// reputation reward to both parties.
func (e *Engine) SendTip(ctx context.Context, fromID, toID int64, amount float64) protocol.Result {
	if fromID == toID {
		return protocol.Fail(protocol.ErrInvalidTarget, "cannot tip yourself")
	}
	if amount < e.tun.Fees.TipMin || amount > e.tun.Fees.TipMax {
		return protocol.Failf(protocol.ErrBadRequest, "tip must be between %.2f and %.2f",
			e.tun.Fees.TipMin, e.tun.Fees.TipMax)
	}
	err := e.st.WithTx(ctx, func(tx *sqlx.Tx) error {
		to, err := store.ActorTx(tx, toID)
		if err != nil {
			return err
		}
		if to.IsEliminated {
			return engine.ErrEliminated
		}
		if err := store.DebitTx(tx, fromID, amount); err != nil {
			return err
		}
		if err := store.CreditTx(tx, toID, amount); err != nil {
			return err
		}
		if _, err := reputation.ApplyTx(tx, e.tun, fromID, reputation.CauseTipGiven); err != nil {
			return err
		}
		_, err = reputation.ApplyTx(tx, e.tun, toID, reputation.CauseTipGiven)
		return err
	})
	if r, bad := engine.Failure(err, e.log, "send tip"); bad {
		return r
	}
	e.bus.Publish(protocol.NewEvent(protocol.ChannelSocial, "tip_sent", map[string]any{
		"from": fromID, "to": toID, "amount": amount,
	}))
	return protocol.Ok("tip sent", map[string]any{"amount": amount})
}

// CreateBounty escrows the reward at posting time.
func (e *Engine) CreateBounty(ctx context.Context, posterID int64, description string, reward float64) protocol.Result {
	if description == "" {
		return protocol.Fail(protocol.ErrBadRequest, "empty bounty description")
	}
	if reward <= 0 {
		return protocol.Fail(protocol.ErrBadRequest, "reward must be positive")
	}
	var bountyID int64
	err := e.st.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := store.DebitTx(tx, posterID, reward); err != nil {
			return err
		}
		res, err := tx.Exec(
			`INSERT INTO bounties (poster_id, description, reward, status, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			posterID, description, reward, string(store.BountyOpen), store.Now())
		if err != nil {
			return err
		}
		bountyID, err = res.LastInsertId()
		return err
	})
	if r, bad := engine.Failure(err, e.log, "create bounty"); bad {
		return r
	}
	e.bus.Publish(protocol.NewEvent(protocol.ChannelTrades, "bounty_posted", map[string]any{
		"bounty": bountyID, "poster": posterID, "reward": reward,
	}))
	return protocol.Ok("bounty posted", map[string]any{"bounty": bountyID})
}

// ClaimBounty pays the full escrowed reward to a non-poster claimer.
func (e *Engine) ClaimBounty(ctx context.Context, bountyID, claimerID int64) protocol.Result {
	var reward float64
	err := e.st.WithTx(ctx, func(tx *sqlx.Tx) error {
		var b store.Bounty
		if err := tx.Get(&b, `SELECT * FROM bounties WHERE id = ?`, bountyID); err != nil {
			return engine.MapRowErr(err)
		}
		if b.Status != store.BountyOpen {
			return engine.ErrWrongStatus
		}
		if b.PosterID == claimerID {
			return engine.ErrSelfTarget
		}
		reward = b.Reward
		if err := store.CreditTx(tx, claimerID, b.Reward); err != nil {
			return err
		}
		if _, err := tx.Exec(
			`UPDATE bounties SET status = ?, claimer_id = ?, completed_at = ? WHERE id = ?`,
			string(store.BountyCompleted), claimerID, store.Now(), bountyID); err != nil {
			return err
		}
		_, err := reputation.ApplyTx(tx, e.tun, claimerID, reputation.CauseBountyComplete)
		return err
	})
	if r, bad := engine.Failure(err, e.log, "claim bounty"); bad {
		return r
	}
	e.bus.Publish(protocol.NewEvent(protocol.ChannelTrades, "bounty_completed", map[string]any{
		"bounty": bountyID, "claimer": claimerID, "reward": reward,
	}))
	return protocol.Ok("bounty claimed", map[string]any{"reward": reward})
}

// AdjustBalance is the admin mint/burn path. Negative deltas are capped at
// the available balance so the ledger never goes negative.
func (e *Engine) AdjustBalance(ctx context.Context, actorID int64, delta float64, reason string) protocol.Result {
	var applied float64
	err := e.st.WithTx(ctx, func(tx *sqlx.Tx) error {
		a, err := store.ActorTx(tx, actorID)
		if err != nil {
			return err
		}
		if delta >= 0 {
			applied = delta
			return store.CreditTx(tx, actorID, delta)
		}
		applied = -delta
		if applied > a.Balance {
			applied = a.Balance
		}
		applied = -applied
		return store.DebitTx(tx, actorID, -applied)
	})
	if r, bad := engine.Failure(err, e.log, "adjust balance"); bad {
		return r
	}
	e.log.Printf("admin balance adjust: actor %d %+.4f (%s)", actorID, applied, reason)
	return protocol.Ok("balance adjusted", map[string]any{"applied": applied})
}

// PendingTrades lists offers awaiting the given receiver.
func (e *Engine) PendingTrades(ctx context.Context, receiverID int64) ([]store.Trade, error) {
	var out []store.Trade
	err := e.st.DB().SelectContext(ctx, &out,
		`SELECT * FROM trades WHERE receiver_id = ? AND status = ? ORDER BY id`,
		receiverID, string(store.TradePending))
	return out, err
}
