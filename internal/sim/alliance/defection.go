package alliance

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"aftercoin.ai/internal/persistence/store"
	"aftercoin.ai/internal/protocol"
	"aftercoin.ai/internal/sim/engine"
	"aftercoin.ai/internal/sim/reputation"
)

// InitiateDefection arms the countdown. Nothing is broadcast to the other
// members; the betrayal stays silent until it executes.
func (e *Engine) InitiateDefection(ctx context.Context, allianceID, actorID int64) protocol.Result {
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
			return engine.ErrDuplicate
		}
		_, err = tx.Exec(
			`UPDATE alliance_members SET defection_initiated_at = ? WHERE id = ?`,
			store.Now(), m.ID)
		return err
	})
	if r, bad := engine.Failure(err, e.log, "initiate defection"); bad {
		return r
	}
	e.bus.Publish(protocol.NewEvent(protocol.ChannelAdmin, "defection_initiated", map[string]any{
		"alliance": allianceID, "actor": actorID,
	}))
	return protocol.Ok("defection countdown started", map[string]any{
		"executes_after_hours": e.tun.Alliance.CountdownHours,
	})
}

// CancelDefection disarms a pending countdown.
func (e *Engine) CancelDefection(ctx context.Context, allianceID, actorID int64) protocol.Result {
	err := e.st.WithTx(ctx, func(tx *sqlx.Tx) error {
		a, err := activeAlliance(tx, allianceID)
		if err != nil {
			return err
		}
		m, err := activeMember(tx, a.ID, actorID)
		if err != nil {
			return err
		}
		if !m.DefectionInitiatedAt.Valid {
			return engine.ErrWrongStatus
		}
		_, err = tx.Exec(
			`UPDATE alliance_members SET defection_initiated_at = NULL WHERE id = ?`, m.ID)
		return err
	})
	if r, bad := engine.Failure(err, e.log, "cancel defection"); bad {
		return r
	}
	return protocol.Ok("defection cancelled", nil)
}

// ExecuteDefection runs the betrayal once the countdown has elapsed: the
// defector takes stealPercent of the treasury, the remainder splits among
// the other active members proportional to share (equal split when all
// shares are zero), every membership deactivates, and the alliance is
// marked betrayed. The whole payout is one transaction, so the sweep and a
// manual call can never both execute it.
func (e *Engine) ExecuteDefection(ctx context.Context, allianceID, actorID int64, now time.Time) protocol.Result {
	var stolen, remainder float64
	err := e.st.WithTx(ctx, func(tx *sqlx.Tx) error {
		a, err := activeAlliance(tx, allianceID)
		if err != nil {
			return err
		}
		m, err := activeMember(tx, a.ID, actorID)
		if err != nil {
			return err
		}
		if !m.DefectionInitiatedAt.Valid {
			return engine.ErrWrongStatus
		}
		armedAt, err := store.ParseTime(m.DefectionInitiatedAt.String)
		if err != nil {
			return err
		}
		countdown := time.Duration(e.tun.Alliance.CountdownHours * float64(time.Hour))
		if now.Sub(armedAt) < countdown {
			return engine.ErrGateLocked
		}

		others := make([]store.AllianceMember, 0)
		members, err := activeMembers(tx, a.ID)
		if err != nil {
			return err
		}
		for _, om := range members {
			if om.ActorID != actorID {
				others = append(others, om)
			}
		}

		stolen = a.Treasury * e.tun.Alliance.StealPercent
		remainder = a.Treasury - stolen
		if stolen > 0 {
			if err := store.CreditTx(tx, actorID, stolen); err != nil {
				return err
			}
		}
		if remainder > 0 && len(others) > 0 {
			totalShare := 0.0
			for _, om := range others {
				totalShare += om.SharePercent
			}
			for _, om := range others {
				var cut float64
				if totalShare > 0 {
					cut = remainder * om.SharePercent / totalShare
				} else {
					cut = remainder / float64(len(others))
				}
				if cut > 0 {
					// An eliminated member forfeits their cut.
					if err := store.CreditTx(tx, om.ActorID, cut); err != nil && err != store.ErrNotFound {
						return err
					}
				}
			}
		}

		if _, err := tx.Exec(
			`UPDATE alliances SET status = ?, treasury = 0, betrayed_by = ? WHERE id = ?`,
			string(store.AllianceBetrayed), actorID, a.ID); err != nil {
			return err
		}
		if _, err := tx.Exec(
			`UPDATE alliance_members SET is_active = 0, defection_initiated_at = NULL WHERE alliance_id = ?`,
			a.ID); err != nil {
			return err
		}
		_, err = reputation.ApplyTx(tx, e.tun, actorID, reputation.CauseBetrayal)
		return err
	})
	if r, bad := engine.Failure(err, e.log, "execute defection"); bad {
		return r
	}

	e.log.Printf("alliance %d betrayed by actor %d: stole %.4f, %.4f redistributed",
		allianceID, actorID, stolen, remainder)
	e.bus.Publish(protocol.NewEvent(protocol.ChannelAlliances, "alliance_betrayed", map[string]any{
		"alliance": allianceID, "betrayer": actorID, "stolen": stolen, "remainder": remainder,
	}))
	return protocol.Ok("defection executed", map[string]any{
		"stolen": stolen, "remainder": remainder,
	})
}

// CheckPendingDefections is the scheduler's sweep: execute every armed
// defection whose countdown has elapsed. Each item runs independently;
// a failure on one never blocks the rest, and an item that raced with a
// manual execute or a cancel just falls through.
func (e *Engine) CheckPendingDefections(ctx context.Context, now time.Time) int {
	type pending struct {
		AllianceID int64  `db:"alliance_id"`
		ActorID    int64  `db:"actor_id"`
		ArmedAt    string `db:"defection_initiated_at"`
	}
	var rows []pending
	err := e.st.DB().SelectContext(ctx, &rows,
		`SELECT am.alliance_id, am.actor_id, am.defection_initiated_at
		 FROM alliance_members am
		 JOIN alliances a ON a.id = am.alliance_id
		 WHERE am.is_active = 1 AND am.defection_initiated_at IS NOT NULL AND a.status = ?`,
		string(store.AllianceActive))
	if err != nil {
		e.log.Printf("defection sweep query: %v", err)
		return 0
	}

	countdown := time.Duration(e.tun.Alliance.CountdownHours * float64(time.Hour))
	executed := 0
	for _, p := range rows {
		armedAt, err := store.ParseTime(p.ArmedAt)
		if err != nil || now.Sub(armedAt) < countdown {
			continue
		}
		if r := e.ExecuteDefection(ctx, p.AllianceID, p.ActorID, now); r.OK {
			executed++
		}
	}
	return executed
}

// EmergencyEject removes a member by majority vote of the active members
// excluding the target, before their defection can complete. The ejected
// member gets back only their raw contribution, capped at the treasury.
func (e *Engine) EmergencyEject(ctx context.Context, allianceID, targetID int64, voterIDs []int64) protocol.Result {
	var refund float64
	err := e.st.WithTx(ctx, func(tx *sqlx.Tx) error {
		a, err := activeAlliance(tx, allianceID)
		if err != nil {
			return err
		}
		target, err := activeMember(tx, a.ID, targetID)
		if err != nil {
			return err
		}
		members, err := activeMembers(tx, a.ID)
		if err != nil {
			return err
		}

		eligible := make(map[int64]bool, len(members))
		for _, m := range members {
			if m.ActorID != targetID {
				eligible[m.ActorID] = true
			}
		}
		votes := 0
		seen := make(map[int64]bool, len(voterIDs))
		for _, v := range voterIDs {
			if eligible[v] && !seen[v] {
				seen[v] = true
				votes++
			}
		}
		majority := len(eligible)/2 + 1
		if votes < majority {
			return engine.ErrNoMajority
		}

		refund = target.Contribution
		if refund > a.Treasury {
			refund = a.Treasury
		}
		if refund > 0 {
			if _, err := tx.Exec(
				`UPDATE alliances SET treasury = treasury - ? WHERE id = ?`, refund, a.ID); err != nil {
				return err
			}
			if err := store.CreditTx(tx, targetID, refund); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(
			`UPDATE alliance_members SET is_active = 0, defection_initiated_at = NULL WHERE id = ?`,
			target.ID); err != nil {
			return err
		}
		return recalcShares(tx, a.ID)
	})
	if r, bad := engine.Failure(err, e.log, "emergency eject"); bad {
		return r
	}
	e.bus.Publish(protocol.NewEvent(protocol.ChannelAlliances, "member_ejected", map[string]any{
		"alliance": allianceID, "actor": targetID, "refund": refund,
	}))
	return protocol.Ok("member ejected", map[string]any{"refund": refund})
}
