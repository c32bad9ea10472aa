package trading

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"aftercoin.ai/internal/persistence/store"
	"aftercoin.ai/internal/protocol"
	"aftercoin.ai/internal/sim/engine"
)

// CreateLeverageBet escrows stake+fee and opens a directional position.
// Gated behind the leverage unlock hour; at most MaxActive concurrent
// positions per actor.
func (e *Engine) CreateLeverageBet(ctx context.Context, actorID int64, direction store.LeverageDirection, targetPrice, stake float64, settleIn time.Duration) protocol.Result {
	if !direction.Valid() {
		return protocol.Fail(protocol.ErrBadRequest, "direction must be above or below")
	}
	if targetPrice <= 0 || stake <= 0 {
		return protocol.Fail(protocol.ErrBadRequest, "target price and stake must be positive")
	}
	if settleIn <= 0 {
		return protocol.Fail(protocol.ErrBadRequest, "settlement must be in the future")
	}

	fee := stake * e.tun.Fees.Leverage
	potential := stake * e.tun.Leverage.Multiplier
	settleAt := store.FormatTime(time.Now().Add(settleIn))

	var posID int64
	err := e.st.WithTx(ctx, func(tx *sqlx.Tx) error {
		gs, err := store.GameStateTx(tx)
		if err != nil {
			return err
		}
		if gs.CurrentHour < e.tun.Leverage.UnlockHour {
			return engine.ErrGateLocked
		}
		if gs.IsTradingFrozen {
			return engine.ErrFrozen
		}
		var active int
		if err := tx.Get(&active,
			`SELECT COUNT(*) FROM leverage_positions WHERE actor_id = ? AND status = ?`,
			actorID, string(store.LeverageActive)); err != nil {
			return err
		}
		if active >= e.tun.Leverage.MaxActive {
			return engine.ErrTooMany
		}
		if err := store.DebitTx(tx, actorID, stake+fee); err != nil {
			return err
		}
		res, err := tx.Exec(
			`INSERT INTO leverage_positions (actor_id, direction, target_price, stake, fee, potential_return, settlement_time, status, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			actorID, string(direction), targetPrice, stake, fee, potential,
			settleAt, string(store.LeverageActive), store.Now())
		if err != nil {
			return err
		}
		posID, err = res.LastInsertId()
		return err
	})
	if r, bad := engine.Failure(err, e.log, "create leverage bet"); bad {
		return r
	}

	e.bus.Publish(protocol.NewEvent(protocol.ChannelTrades, "leverage_opened", map[string]any{
		"position": posID, "actor": actorID, "direction": string(direction),
		"target": targetPrice, "stake": stake, "potential": potential,
	}))
	return protocol.Ok("leverage position opened", map[string]any{
		"position": posID, "potential_return": potential, "fee": fee,
	})
}

// SettlePosition resolves one active position against the given price:
// "above" wins when price > target, "below" when price < target. Winners
// are credited the full potential return, losers get nothing.
func (e *Engine) SettlePosition(ctx context.Context, posID int64, price float64) protocol.Result {
	var status store.LeverageStatus
	var payout float64
	var actorID int64
	err := e.st.WithTx(ctx, func(tx *sqlx.Tx) error {
		var p store.LeveragePosition
		if err := tx.Get(&p, `SELECT * FROM leverage_positions WHERE id = ?`, posID); err != nil {
			return engine.MapRowErr(err)
		}
		if p.Status != store.LeverageActive {
			return engine.ErrWrongStatus
		}
		actorID = p.ActorID

		won := false
		switch p.Direction {
		case store.LeverageAbove:
			won = price > p.TargetPrice
		case store.LeverageBelow:
			won = price < p.TargetPrice
		}
		if won {
			status = store.LeverageWon
			payout = p.PotentialReturn
			if err := store.CreditTx(tx, p.ActorID, payout); err != nil {
				return err
			}
		} else {
			status = store.LeverageLost
		}
		_, err := tx.Exec(
			`UPDATE leverage_positions SET status = ?, settled_price = ?, payout = ? WHERE id = ?`,
			string(status), price, payout, posID)
		return err
	})
	if r, bad := engine.Failure(err, e.log, "settle leverage position"); bad {
		return r
	}

	e.bus.Publish(protocol.NewEvent(protocol.ChannelTrades, "leverage_settled", map[string]any{
		"position": posID, "actor": actorID, "status": string(status),
		"settled_price": price, "payout": payout,
	}))
	return protocol.Ok("position settled", map[string]any{
		"status": string(status), "payout": payout,
	})
}

// SettleDue settles every active position whose settlement time has passed,
// each in its own transaction so one failure never blocks the rest.
func (e *Engine) SettleDue(ctx context.Context, now time.Time, price float64) int {
	var due []store.LeveragePosition
	err := e.st.DB().SelectContext(ctx, &due,
		`SELECT * FROM leverage_positions WHERE status = ? AND settlement_time <= ?`,
		string(store.LeverageActive), store.FormatTime(now))
	if err != nil {
		e.log.Printf("settlement sweep query: %v", err)
		return 0
	}
	settled := 0
	for _, p := range due {
		if r := e.SettlePosition(ctx, p.ID, price); r.OK {
			settled++
		} else if r.Code != protocol.ErrConflict {
			// Conflict means someone settled it first, which is fine.
			e.log.Printf("settle position %d: %s", p.ID, r.Message)
		}
	}
	return settled
}

// LiquidateAll force-closes every active position with zero payout,
// regardless of direction. Used by the margin-call event.
func (e *Engine) LiquidateAll(ctx context.Context, price float64) (int, error) {
	var n int64
	err := e.st.WithTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.Exec(
			`UPDATE leverage_positions SET status = ?, settled_price = ?, payout = 0
			 WHERE status = ?`,
			string(store.LeverageLiquidated), price, string(store.LeverageActive))
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.log.Printf("margin call liquidated %d positions", n)
		e.bus.Publish(protocol.NewEvent(protocol.ChannelTrades, "margin_call", map[string]any{
			"liquidated": n, "price": price,
		}))
	}
	return int(n), nil
}

// ActivePositions lists an actor's open bets.
func (e *Engine) ActivePositions(ctx context.Context, actorID int64) ([]store.LeveragePosition, error) {
	var out []store.LeveragePosition
	err := e.st.DB().SelectContext(ctx, &out,
		`SELECT * FROM leverage_positions WHERE actor_id = ? AND status = ? ORDER BY id`,
		actorID, string(store.LeverageActive))
	return out, err
}
