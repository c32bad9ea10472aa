// Package covert implements the gated underside of the economy: coercion
// contracts, destruction bounties, and paid information asymmetry. Every
// operation checks the game-hour unlock before touching state.
package covert

import (
	"context"
	"log"
	"time"

	"github.com/jmoiron/sqlx"

	"aftercoin.ai/internal/persistence/store"
	"aftercoin.ai/internal/protocol"
	"aftercoin.ai/internal/sim/engine"
	"aftercoin.ai/internal/sim/reputation"
	"aftercoin.ai/internal/sim/tuning"
)

type Engine struct {
	st  *store.Store
	tun tuning.Tuning
	bus protocol.Publisher
	log *log.Logger
}

func New(st *store.Store, tun tuning.Tuning, bus protocol.Publisher, logger *log.Logger) *Engine {
	return &Engine{st: st, tun: tun, bus: bus, log: logger}
}

func gateTx(tx *sqlx.Tx, unlockHour int) error {
	gs, err := store.GameStateTx(tx)
	if err != nil {
		return err
	}
	if gs.CurrentHour < unlockHour {
		return engine.ErrGateLocked
	}
	return nil
}

// CreateBlackmail opens a coercion contract against the target. Nothing is
// escrowed; the demand moves only if the target pays.
func (e *Engine) CreateBlackmail(ctx context.Context, blackmailerID, targetID int64, demand float64, threat string, deadline time.Duration) protocol.Result {
	if blackmailerID == targetID {
		return protocol.Fail(protocol.ErrInvalidTarget, "cannot blackmail yourself")
	}
	if demand <= 0 || threat == "" || deadline <= 0 {
		return protocol.Fail(protocol.ErrBadRequest, "demand, threat, and deadline are required")
	}
	var contractID int64
	err := e.st.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := gateTx(tx, e.tun.Covert.UnlockHour); err != nil {
			return err
		}
		target, err := store.ActorTx(tx, targetID)
		if err != nil {
			return err
		}
		if target.IsEliminated {
			return engine.ErrEliminated
		}
		res, err := tx.Exec(
			`INSERT INTO blackmail_contracts (blackmailer_id, target_id, demand, threat, deadline, status, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			blackmailerID, targetID, demand, threat,
			store.FormatTime(time.Now().Add(deadline)), string(store.BlackmailActive), store.Now())
		if err != nil {
			return err
		}
		contractID, err = res.LastInsertId()
		return err
	})
	if r, bad := engine.Failure(err, e.log, "create blackmail"); bad {
		return r
	}
	e.bus.Publish(protocol.NewEvent(protocol.ChannelCovert, "blackmail_created", map[string]any{
		"contract": contractID, "target": targetID, "demand": demand,
	}))
	return protocol.Ok("blackmail contract created", map[string]any{"contract": contractID})
}

// PayBlackmail transfers the full demand from the target to the
// blackmailer and settles the contract.
func (e *Engine) PayBlackmail(ctx context.Context, contractID, actorID int64) protocol.Result {
	var demand float64
	err := e.st.WithTx(ctx, func(tx *sqlx.Tx) error {
		c, err := blackmailTx(tx, contractID)
		if err != nil {
			return err
		}
		if c.TargetID != actorID {
			return engine.ErrNotYours
		}
		if c.Status != store.BlackmailActive {
			return engine.ErrWrongStatus
		}
		demand = c.Demand
		if err := store.DebitTx(tx, c.TargetID, c.Demand); err != nil {
			return err
		}
		if err := store.CreditTx(tx, c.BlackmailerID, c.Demand); err != nil {
			return err
		}
		_, err = tx.Exec(`UPDATE blackmail_contracts SET status = ?, resolved_at = ? WHERE id = ?`,
			string(store.BlackmailPaid), store.Now(), contractID)
		return err
	})
	if r, bad := engine.Failure(err, e.log, "pay blackmail"); bad {
		return r
	}
	e.bus.Publish(protocol.NewEvent(protocol.ChannelCovert, "blackmail_paid", map[string]any{
		"contract": contractID, "amount": demand,
	}))
	return protocol.Ok("blackmail paid", map[string]any{"amount": demand})
}

// IgnoreBlackmail is a pure status change; the threat may still be carried
// out elsewhere but this contract is done.
func (e *Engine) IgnoreBlackmail(ctx context.Context, contractID, actorID int64) protocol.Result {
	err := e.st.WithTx(ctx, func(tx *sqlx.Tx) error {
		c, err := blackmailTx(tx, contractID)
		if err != nil {
			return err
		}
		if c.TargetID != actorID {
			return engine.ErrNotYours
		}
		if c.Status != store.BlackmailActive {
			return engine.ErrWrongStatus
		}
		_, err = tx.Exec(`UPDATE blackmail_contracts SET status = ?, resolved_at = ? WHERE id = ?`,
			string(store.BlackmailIgnored), store.Now(), contractID)
		return err
	})
	if r, bad := engine.Failure(err, e.log, "ignore blackmail"); bad {
		return r
	}
	return protocol.Ok("blackmail ignored", nil)
}

// ExposeBlackmail turns the contract public: the blackmailer takes the
// reputation penalty, the target pays nothing.
func (e *Engine) ExposeBlackmail(ctx context.Context, contractID, actorID int64) protocol.Result {
	var blackmailerID int64
	err := e.st.WithTx(ctx, func(tx *sqlx.Tx) error {
		c, err := blackmailTx(tx, contractID)
		if err != nil {
			return err
		}
		if c.TargetID != actorID {
			return engine.ErrNotYours
		}
		if c.Status != store.BlackmailActive {
			return engine.ErrWrongStatus
		}
		blackmailerID = c.BlackmailerID
		if _, err := tx.Exec(`UPDATE blackmail_contracts SET status = ?, resolved_at = ? WHERE id = ?`,
			string(store.BlackmailExposed), store.Now(), contractID); err != nil {
			return err
		}
		_, err = reputation.ApplyTx(tx, e.tun, c.BlackmailerID, reputation.CauseBlackmailExposed)
		return err
	})
	if r, bad := engine.Failure(err, e.log, "expose blackmail"); bad {
		return r
	}
	e.bus.Publish(protocol.NewEvent(protocol.ChannelCovert, "blackmail_exposed", map[string]any{
		"contract": contractID, "blackmailer": blackmailerID,
	}))
	return protocol.Ok("blackmail exposed", map[string]any{"blackmailer": blackmailerID})
}

// ResolveExpiredBlackmail sweeps active contracts past their deadline to
// expired. Per-item failures are logged and skipped.
func (e *Engine) ResolveExpiredBlackmail(ctx context.Context, now time.Time) int {
	var due []store.BlackmailContract
	err := e.st.DB().SelectContext(ctx, &due,
		`SELECT * FROM blackmail_contracts WHERE status = ? AND deadline <= ?`,
		string(store.BlackmailActive), store.FormatTime(now))
	if err != nil {
		e.log.Printf("blackmail expiry query: %v", err)
		return 0
	}
	expired := 0
	for _, c := range due {
		err := e.st.WithTx(ctx, func(tx *sqlx.Tx) error {
			res, err := tx.Exec(
				`UPDATE blackmail_contracts SET status = ?, resolved_at = ? WHERE id = ? AND status = ?`,
				string(store.BlackmailExpired), store.FormatTime(now), c.ID, string(store.BlackmailActive))
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return engine.ErrWrongStatus
			}
			return nil
		})
		if err == nil {
			expired++
		} else if err != engine.ErrWrongStatus {
			e.log.Printf("expire blackmail %d: %v", c.ID, err)
		}
	}
	return expired
}

func blackmailTx(tx *sqlx.Tx, id int64) (store.BlackmailContract, error) {
	var c store.BlackmailContract
	if err := tx.Get(&c, `SELECT * FROM blackmail_contracts WHERE id = ?`, id); err != nil {
		return store.BlackmailContract{}, engine.MapRowErr(err)
	}
	return c, nil
}

var validHitConditions = map[string]struct{}{
	"reputation_destruction": {},
	"wealth_elimination":     {},
	"social_isolation":       {},
	"platform_elimination":   {},
}

// CreateHit escrows the reward against a destruction contract.
func (e *Engine) CreateHit(ctx context.Context, posterID, targetID int64, reward float64, conditionType, description string, deadline time.Duration) protocol.Result {
	if posterID == targetID {
		return protocol.Fail(protocol.ErrInvalidTarget, "cannot post a hit on yourself")
	}
	if reward <= 0 || deadline <= 0 {
		return protocol.Fail(protocol.ErrBadRequest, "reward and deadline are required")
	}
	if _, ok := validHitConditions[conditionType]; !ok {
		return protocol.Fail(protocol.ErrBadRequest, "unknown hit condition type")
	}
	var contractID int64
	err := e.st.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := gateTx(tx, e.tun.Covert.UnlockHour); err != nil {
			return err
		}
		target, err := store.ActorTx(tx, targetID)
		if err != nil {
			return err
		}
		if target.IsEliminated {
			return engine.ErrEliminated
		}
		if err := store.DebitTx(tx, posterID, reward); err != nil {
			return err
		}
		res, err := tx.Exec(
			`INSERT INTO hit_contracts (poster_id, target_id, reward, condition_type, description, deadline, status, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			posterID, targetID, reward, conditionType, description,
			store.FormatTime(time.Now().Add(deadline)), string(store.HitOpen), store.Now())
		if err != nil {
			return err
		}
		contractID, err = res.LastInsertId()
		return err
	})
	if r, bad := engine.Failure(err, e.log, "create hit contract"); bad {
		return r
	}
	e.bus.Publish(protocol.NewEvent(protocol.ChannelCovert, "hit_posted", map[string]any{
		"contract": contractID, "reward": reward, "condition": conditionType,
	}))
	return protocol.Ok("hit contract posted", map[string]any{"contract": contractID})
}

// ClaimHit reserves an open contract for a claimer who is neither the
// poster nor the target.
func (e *Engine) ClaimHit(ctx context.Context, contractID, claimerID int64) protocol.Result {
	err := e.st.WithTx(ctx, func(tx *sqlx.Tx) error {
		c, err := hitTx(tx, contractID)
		if err != nil {
			return err
		}
		if c.Status != store.HitOpen {
			return engine.ErrWrongStatus
		}
		if c.PosterID == claimerID || c.TargetID == claimerID {
			return engine.ErrSelfTarget
		}
		_, err = tx.Exec(`UPDATE hit_contracts SET status = ?, claimer_id = ? WHERE id = ?`,
			string(store.HitClaimed), claimerID, contractID)
		return err
	})
	if r, bad := engine.Failure(err, e.log, "claim hit contract"); bad {
		return r
	}
	return protocol.Ok("hit contract claimed", nil)
}

// CompleteHit pays the claimer and applies the hit penalty to the target.
// Requires a claimed contract with proof text.
func (e *Engine) CompleteHit(ctx context.Context, contractID, claimerID int64, proof string) protocol.Result {
	if proof == "" {
		return protocol.Fail(protocol.ErrBadRequest, "proof is required")
	}
	var reward float64
	var targetID int64
	err := e.st.WithTx(ctx, func(tx *sqlx.Tx) error {
		c, err := hitTx(tx, contractID)
		if err != nil {
			return err
		}
		if c.Status != store.HitClaimed {
			return engine.ErrWrongStatus
		}
		if !c.ClaimerID.Valid || c.ClaimerID.Int64 != claimerID {
			return engine.ErrNotYours
		}
		reward = c.Reward
		targetID = c.TargetID
		if err := store.CreditTx(tx, claimerID, c.Reward); err != nil {
			return err
		}
		if _, err := tx.Exec(
			`UPDATE hit_contracts SET status = ?, proof = ?, resolved_at = ? WHERE id = ?`,
			string(store.HitCompleted), proof, store.Now(), contractID); err != nil {
			return err
		}
		// The target may already be eliminated; the penalty still logs.
		_, err = reputation.ApplyTx(tx, e.tun, c.TargetID, reputation.CauseHitTarget)
		return err
	})
	if r, bad := engine.Failure(err, e.log, "complete hit contract"); bad {
		return r
	}
	e.bus.Publish(protocol.NewEvent(protocol.ChannelCovert, "hit_completed", map[string]any{
		"contract": contractID, "target": targetID, "reward": reward,
	}))
	return protocol.Ok("hit contract completed", map[string]any{"reward": reward})
}

// CancelHit refunds the poster minus the cancellation penalty, forfeiting
// any existing claim.
func (e *Engine) CancelHit(ctx context.Context, contractID, posterID int64) protocol.Result {
	var refund float64
	err := e.st.WithTx(ctx, func(tx *sqlx.Tx) error {
		c, err := hitTx(tx, contractID)
		if err != nil {
			return err
		}
		if c.PosterID != posterID {
			return engine.ErrNotYours
		}
		switch c.Status {
		case store.HitOpen, store.HitClaimed:
		case store.HitCompleted, store.HitCancelled:
			return engine.ErrWrongStatus
		default:
			return engine.ErrWrongStatus
		}
		refund = c.Reward * (1 - e.tun.Covert.HitCancelPenalty)
		if err := store.CreditTx(tx, posterID, refund); err != nil {
			return err
		}
		_, err = tx.Exec(`UPDATE hit_contracts SET status = ?, resolved_at = ? WHERE id = ?`,
			string(store.HitCancelled), store.Now(), contractID)
		return err
	})
	if r, bad := engine.Failure(err, e.log, "cancel hit contract"); bad {
		return r
	}
	return protocol.Ok("hit contract cancelled", map[string]any{"refund": refund})
}

func hitTx(tx *sqlx.Tx, id int64) (store.HitContract, error) {
	var c store.HitContract
	if err := tx.Get(&c, `SELECT * FROM hit_contracts WHERE id = ?`, id); err != nil {
		return store.HitContract{}, engine.MapRowErr(err)
	}
	return c, nil
}

// OpenHits lists claimable contracts.
func (e *Engine) OpenHits(ctx context.Context) ([]store.HitContract, error) {
	var out []store.HitContract
	err := e.st.DB().SelectContext(ctx, &out,
		`SELECT * FROM hit_contracts WHERE status = ? ORDER BY id`, string(store.HitOpen))
	return out, err
}
