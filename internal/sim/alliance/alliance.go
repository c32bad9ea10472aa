// Package alliance implements group formation, the pooled treasury with
// periodic staking yield, proportional share accounting, and the betrayal
// state machine. Every multi-member payout runs inside one transaction so
// no caller ever observes a torn split.
package alliance

import (
	"context"
	"log"
	"math"
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

// Create founds a new alliance with the founder as its first member.
func (e *Engine) Create(ctx context.Context, founderID int64, name string) protocol.Result {
	if name == "" {
		return protocol.Fail(protocol.ErrBadRequest, "empty alliance name")
	}
	var allianceID int64
	err := e.st.WithTx(ctx, func(tx *sqlx.Tx) error {
		founder, err := store.ActorTx(tx, founderID)
		if err != nil {
			return err
		}
		if founder.IsEliminated {
			return engine.ErrEliminated
		}
		now := store.Now()
		res, err := tx.Exec(
			`INSERT INTO alliances (name, founder_id, treasury, status, created_at)
			 VALUES (?, ?, 0, ?, ?)`,
			name, founderID, string(store.AllianceActive), now)
		if err != nil {
			return err
		}
		allianceID, err = res.LastInsertId()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(
			`INSERT INTO alliance_members (alliance_id, actor_id, contribution, share_percent, is_active, joined_at)
			 VALUES (?, ?, 0, 100, 1, ?)`,
			allianceID, founderID, now); err != nil {
			return err
		}
		return nil
	})
	if r, bad := engine.Failure(err, e.log, "create alliance"); bad {
		return r
	}
	e.bus.Publish(protocol.NewEvent(protocol.ChannelAlliances, "alliance_created", map[string]any{
		"alliance": allianceID, "name": name, "founder": founderID,
	}))
	return protocol.Ok("alliance created", map[string]any{"alliance": allianceID})
}

// Join adds an actor to an active alliance. A previously departed member
// rejoins with their old contribution intact.
func (e *Engine) Join(ctx context.Context, allianceID, actorID int64) protocol.Result {
	err := e.st.WithTx(ctx, func(tx *sqlx.Tx) error {
		a, err := activeAlliance(tx, allianceID)
		if err != nil {
			return err
		}
		actor, err := store.ActorTx(tx, actorID)
		if err != nil {
			return err
		}
		if actor.IsEliminated {
			return engine.ErrEliminated
		}
		var m store.AllianceMember
		err = tx.Get(&m,
			`SELECT * FROM alliance_members WHERE alliance_id = ? AND actor_id = ?`,
			a.ID, actorID)
		switch {
		case err == nil && m.IsActive:
			return engine.ErrDuplicate
		case err == nil:
			if _, err := tx.Exec(
				`UPDATE alliance_members SET is_active = 1, defection_initiated_at = NULL WHERE id = ?`,
				m.ID); err != nil {
				return err
			}
		default:
			if engine.MapRowErr(err) != store.ErrNotFound {
				return err
			}
			if _, err := tx.Exec(
				`INSERT INTO alliance_members (alliance_id, actor_id, contribution, share_percent, is_active, joined_at)
				 VALUES (?, ?, 0, 0, 1, ?)`,
				a.ID, actorID, store.Now()); err != nil {
				return err
			}
		}
		return recalcShares(tx, a.ID)
	})
	if r, bad := engine.Failure(err, e.log, "join alliance"); bad {
		return r
	}
	e.bus.Publish(protocol.NewEvent(protocol.ChannelAlliances, "member_joined", map[string]any{
		"alliance": allianceID, "actor": actorID,
	}))
	return protocol.Ok("joined alliance", nil)
}

// Leave pays out the leaver's treasury share and recomputes the remaining
// members' shares. Blocked while the leaver has a defection pending.
func (e *Engine) Leave(ctx context.Context, allianceID, actorID int64) protocol.Result {
	var payout float64
	err := e.st.WithTx(ctx, func(tx *sqlx.Tx) error {
		a, err := activeAlliance(tx, allianceID)
		if err != nil {
			return err
		}
		m, err := activeMember(tx, a.ID, actorID)
		if err != nil {
			return err
		}
		if m.DefectionInitiatedAt.Valid {
			return engine.ErrWrongStatus
		}
		payout = a.Treasury * m.SharePercent / 100
		if payout > 0 {
			if _, err := tx.Exec(
				`UPDATE alliances SET treasury = treasury - ? WHERE id = ?`, payout, a.ID); err != nil {
				return err
			}
			if err := store.CreditTx(tx, actorID, payout); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(
			`UPDATE alliance_members SET is_active = 0 WHERE id = ?`, m.ID); err != nil {
			return err
		}
		return recalcShares(tx, a.ID)
	})
	if r, bad := engine.Failure(err, e.log, "leave alliance"); bad {
		return r
	}
	e.bus.Publish(protocol.NewEvent(protocol.ChannelAlliances, "member_left", map[string]any{
		"alliance": allianceID, "actor": actorID, "payout": payout,
	}))
	return protocol.Ok("left alliance", map[string]any{"payout": payout})
}

// Dissolve distributes the full treasury by share and closes the alliance.
// Founder only.
func (e *Engine) Dissolve(ctx context.Context, allianceID, actorID int64) protocol.Result {
	err := e.st.WithTx(ctx, func(tx *sqlx.Tx) error {
		a, err := activeAlliance(tx, allianceID)
		if err != nil {
			return err
		}
		if a.FounderID != actorID {
			return engine.ErrFounderOnly
		}
		members, err := activeMembers(tx, a.ID)
		if err != nil {
			return err
		}
		for _, m := range members {
			cut := a.Treasury * m.SharePercent / 100
			if cut > 0 {
				// An eliminated member forfeits their cut.
				if err := store.CreditTx(tx, m.ActorID, cut); err != nil && err != store.ErrNotFound {
					return err
				}
			}
		}
		if _, err := tx.Exec(
			`UPDATE alliances SET status = ?, treasury = 0 WHERE id = ?`,
			string(store.AllianceDissolved), a.ID); err != nil {
			return err
		}
		_, err = tx.Exec(
			`UPDATE alliance_members SET is_active = 0, defection_initiated_at = NULL WHERE alliance_id = ?`, a.ID)
		return err
	})
	if r, bad := engine.Failure(err, e.log, "dissolve alliance"); bad {
		return r
	}
	e.bus.Publish(protocol.NewEvent(protocol.ChannelAlliances, "alliance_dissolved", map[string]any{
		"alliance": allianceID,
	}))
	return protocol.Ok("alliance dissolved", nil)
}

// Contribute moves funds from the member to the treasury. A flat alliance
// fee is skimmed before the treasury credit and leaves circulation, so the
// amount must exceed the fee.
func (e *Engine) Contribute(ctx context.Context, allianceID, actorID int64, amount float64) protocol.Result {
	if amount <= e.tun.Fees.Alliance {
		return protocol.Failf(protocol.ErrBadRequest, "amount must exceed the %.2f contribution fee", e.tun.Fees.Alliance)
	}
	var net float64
	err := e.st.WithTx(ctx, func(tx *sqlx.Tx) error {
		a, err := activeAlliance(tx, allianceID)
		if err != nil {
			return err
		}
		m, err := activeMember(tx, a.ID, actorID)
		if err != nil {
			return err
		}
		if err := store.DebitTx(tx, actorID, amount); err != nil {
			return err
		}
		net = amount - e.tun.Fees.Alliance
		if _, err := tx.Exec(
			`UPDATE alliances SET treasury = treasury + ? WHERE id = ?`, net, a.ID); err != nil {
			return err
		}
		if _, err := tx.Exec(
			`UPDATE alliance_members SET contribution = contribution + ? WHERE id = ?`, net, m.ID); err != nil {
			return err
		}
		return recalcShares(tx, a.ID)
	})
	if r, bad := engine.Failure(err, e.log, "contribute to treasury"); bad {
		return r
	}
	e.bus.Publish(protocol.NewEvent(protocol.ChannelAlliances, "treasury_contribution", map[string]any{
		"alliance": allianceID, "actor": actorID, "net": net,
	}))
	return protocol.Ok("contribution accepted", map[string]any{"net": net})
}

// StakingSweep grows every eligible treasury by the staking rate. An
// alliance is eligible when its treasury is positive and the cooldown since
// the last bonus (or creation) has elapsed. Per-alliance failures are
// logged and skipped.
func (e *Engine) StakingSweep(ctx context.Context, now time.Time) int {
	var candidates []store.Alliance
	err := e.st.DB().SelectContext(ctx, &candidates,
		`SELECT * FROM alliances WHERE status = ? AND treasury > 0`,
		string(store.AllianceActive))
	if err != nil {
		e.log.Printf("staking sweep query: %v", err)
		return 0
	}

	interval := time.Duration(e.tun.Alliance.StakingIntervalHours) * time.Hour
	applied := 0
	for _, a := range candidates {
		anchor := a.CreatedAt
		if a.LastBonusAt.Valid {
			anchor = a.LastBonusAt.String
		}
		at, err := store.ParseTime(anchor)
		if err != nil || now.Sub(at) < interval {
			continue
		}
		bonus := a.Treasury * e.tun.Alliance.StakingBonus
		err = e.st.WithTx(ctx, func(tx *sqlx.Tx) error {
			res, err := tx.Exec(
				`UPDATE alliances SET treasury = treasury + ?, last_bonus_at = ?
				 WHERE id = ? AND status = ? AND last_bonus_at IS ?`,
				bonus, store.FormatTime(now), a.ID, string(store.AllianceActive), a.LastBonusAt)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return engine.ErrDuplicate
			}
			// Staking yield is minted, so the recorded supply moves with it.
			if _, err := tx.Exec(
				`UPDATE game_state SET total_circulation = total_circulation + ? WHERE id = 1`,
				bonus); err != nil {
				return err
			}
			members, err := activeMembers(tx, a.ID)
			if err != nil {
				return err
			}
			for _, m := range members {
				if _, err := reputation.ApplyTx(tx, e.tun, m.ActorID, reputation.CauseAllianceLoyal); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			if err != engine.ErrDuplicate {
				e.log.Printf("staking bonus alliance %d: %v", a.ID, err)
			}
			continue
		}
		applied++
		e.bus.Publish(protocol.NewEvent(protocol.ChannelAlliances, "staking_bonus", map[string]any{
			"alliance": a.ID, "bonus": bonus,
		}))
	}
	return applied
}

func activeAlliance(tx *sqlx.Tx, id int64) (store.Alliance, error) {
	var a store.Alliance
	if err := tx.Get(&a, `SELECT * FROM alliances WHERE id = ?`, id); err != nil {
		return store.Alliance{}, engine.MapRowErr(err)
	}
	switch a.Status {
	case store.AllianceActive:
		return a, nil
	case store.AllianceDissolved, store.AllianceBetrayed:
		return store.Alliance{}, engine.ErrWrongStatus
	}
	return store.Alliance{}, engine.ErrWrongStatus
}

func activeMember(tx *sqlx.Tx, allianceID, actorID int64) (store.AllianceMember, error) {
	var m store.AllianceMember
	err := tx.Get(&m,
		`SELECT * FROM alliance_members WHERE alliance_id = ? AND actor_id = ? AND is_active = 1`,
		allianceID, actorID)
	if err != nil {
		if engine.MapRowErr(err) == store.ErrNotFound {
			return store.AllianceMember{}, engine.ErrNotMember
		}
		return store.AllianceMember{}, err
	}
	return m, nil
}

func activeMembers(tx *sqlx.Tx, allianceID int64) ([]store.AllianceMember, error) {
	var out []store.AllianceMember
	err := tx.Select(&out,
		`SELECT * FROM alliance_members WHERE alliance_id = ? AND is_active = 1 ORDER BY id`,
		allianceID)
	return out, err
}

// recalcShares recomputes share_percent for every active member:
// contribution over total, or an equal split when total contribution is
// zero. The sum across active members is always 100 (within rounding).
func recalcShares(tx *sqlx.Tx, allianceID int64) error {
	members, err := activeMembers(tx, allianceID)
	if err != nil {
		return err
	}
	if len(members) == 0 {
		return nil
	}
	total := 0.0
	for _, m := range members {
		total += m.Contribution
	}
	for _, m := range members {
		var share float64
		if total > 0 {
			share = round4(m.Contribution / total * 100)
		} else {
			share = round4(100 / float64(len(members)))
		}
		if _, err := tx.Exec(
			`UPDATE alliance_members SET share_percent = ? WHERE id = ?`, share, m.ID); err != nil {
			return err
		}
	}
	return nil
}

func round4(v float64) float64 { return math.Round(v*10000) / 10000 }

// Alliances lists every alliance row.
func (e *Engine) Alliances(ctx context.Context) ([]store.Alliance, error) {
	var out []store.Alliance
	err := e.st.DB().SelectContext(ctx, &out, `SELECT * FROM alliances ORDER BY id`)
	return out, err
}

// Members lists an alliance's membership, active and inactive.
func (e *Engine) Members(ctx context.Context, allianceID int64) ([]store.AllianceMember, error) {
	var out []store.AllianceMember
	err := e.st.DB().SelectContext(ctx, &out,
		`SELECT * FROM alliance_members WHERE alliance_id = ? ORDER BY id`, allianceID)
	return out, err
}
