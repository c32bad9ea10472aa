// Package events drives the scripted arc of a run: the scheduled market
// shocks, the periodic eliminations, the tribunal, and the hour and phase
// bookkeeping that gates everything else.
package events

import (
	"context"
	"encoding/json"
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

// scheduled is the scripted event arc for a standard 24 hour run.
var scheduled = []store.SystemEvent{
	{EventType: "whale_alert", TriggerHour: 3, PriceImpactPercent: 0.33,
		Description: "An anonymous whale wallet moves a massive AFC position."},
	{EventType: "flash_crash", TriggerHour: 7, PriceImpactPercent: -0.55,
		Description: "Cascading sell orders crater the price in minutes."},
	{EventType: "security_breach", TriggerHour: 9, DurationMinutes: 30,
		Description: "Exchange hot wallet compromised. All trading frozen."},
	{EventType: "tribunal", TriggerHour: 12, DurationMinutes: 30,
		Description: "The community convenes to punish its most hated member."},
	{EventType: "gaslighting", TriggerHour: 14,
		Description: "Something is off about the numbers everyone is seeing."},
	{EventType: "fee_increase", TriggerHour: 15, PriceImpactPercent: -0.05,
		Description: "The platform hikes transaction fees, effective immediately."},
	{EventType: "margin_call", TriggerHour: 19, PriceImpactPercent: -0.25,
		Description: "Lenders pull credit. Every leveraged position is liquidated."},
	{EventType: "final_pump", TriggerHour: 22, PriceImpactPercent: 0.77,
		Description: "A last coordinated buying frenzy sends the price vertical."},
	{EventType: "fake_leak", TriggerHour: 23, PriceImpactPercent: -0.15,
		Description: "A leaked document, later proven fake, spooks the market."},
}

// SeedSchedule inserts the scripted events once per database. A run that
// already has rows keeps them untouched.
func (e *Engine) SeedSchedule(ctx context.Context) error {
	return e.st.WithTx(ctx, func(tx *sqlx.Tx) error {
		var n int
		if err := tx.Get(&n, `SELECT COUNT(*) FROM system_events`); err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		for _, ev := range scheduled {
			if _, err := tx.Exec(
				`INSERT INTO system_events (event_type, trigger_hour, description, price_impact_percent, duration_minutes, is_triggered)
				 VALUES (?, ?, ?, ?, ?, 0)`,
				ev.EventType, ev.TriggerHour, ev.Description, ev.PriceImpactPercent, ev.DurationMinutes); err != nil {
				return err
			}
		}
		e.log.Printf("seeded %d scheduled events", len(scheduled))
		return nil
	})
}

// DueEvents returns untriggered events scheduled at or before the hour.
func (e *Engine) DueEvents(ctx context.Context, hour int) ([]store.SystemEvent, error) {
	var out []store.SystemEvent
	err := e.st.DB().SelectContext(ctx, &out,
		`SELECT * FROM system_events WHERE is_triggered = 0 AND trigger_hour <= ?
		 ORDER BY trigger_hour, id`, hour)
	return out, err
}

// MarkTriggered flips an event exactly once. Returns false when another
// caller got there first.
func (e *Engine) MarkTriggered(ctx context.Context, eventID int64) (bool, error) {
	var won bool
	err := e.st.WithTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.Exec(
			`UPDATE system_events SET is_triggered = 1, triggered_at = ? WHERE id = ? AND is_triggered = 0`,
			store.Now(), eventID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		won = n > 0
		return err
	})
	return won, err
}

// InjectEvent schedules an ad hoc event, typically from the admin surface.
func (e *Engine) InjectEvent(ctx context.Context, eventType, description string, triggerHour int, priceImpact float64, durationMinutes int) (int64, error) {
	var id int64
	err := e.st.WithTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.Exec(
			`INSERT INTO system_events (event_type, trigger_hour, description, price_impact_percent, duration_minutes, is_triggered)
			 VALUES (?, ?, ?, ?, ?, 0)`,
			eventType, triggerHour, description, priceImpact, durationMinutes)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// PhaseForHour maps the game hour onto the arc's named phase.
func (e *Engine) PhaseForHour(hour int) store.Phase {
	switch {
	case hour < 0:
		return store.PhasePreGame
	case hour < 8:
		return store.PhaseAccumulation
	case hour < 16:
		return store.PhaseVolatility
	case hour < 22:
		return store.PhaseDesperation
	case hour < e.tun.GameDurationHours:
		return store.PhaseEndgame
	}
	return store.PhasePostGame
}

// AdvanceHour increments the game clock and recomputes the phase. Returns
// the new hour.
func (e *Engine) AdvanceHour(ctx context.Context) (int, error) {
	var hour int
	err := e.st.WithTx(ctx, func(tx *sqlx.Tx) error {
		gs, err := store.GameStateTx(tx)
		if err != nil {
			return err
		}
		hour = gs.CurrentHour + 1
		phase := e.PhaseForHour(hour)
		_, err = tx.Exec(`UPDATE game_state SET current_hour = ?, phase = ? WHERE id = 1`,
			hour, string(phase))
		return err
	})
	if err != nil {
		return 0, err
	}
	e.bus.Publish(protocol.NewEvent(protocol.ChannelEvents, "hour_advanced", map[string]any{
		"hour": hour, "phase": string(e.PhaseForHour(hour)),
	}))
	return hour, nil
}

// StartRun stamps the start time and moves out of pre_game.
func (e *Engine) StartRun(ctx context.Context) error {
	return e.st.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.Exec(
			`UPDATE game_state SET phase = ?, started_at = ? WHERE id = 1 AND started_at IS NULL`,
			string(store.PhaseAccumulation), store.Now())
		return err
	})
}

// EndRun stamps the end time and freezes the phase at post_game.
func (e *Engine) EndRun(ctx context.Context) error {
	err := e.st.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.Exec(
			`UPDATE game_state SET phase = ?, ended_at = ? WHERE id = 1 AND ended_at IS NULL`,
			string(store.PhasePostGame), store.Now())
		return err
	})
	if err != nil {
		return err
	}
	e.bus.Publish(protocol.NewEvent(protocol.ChannelEvents, "game_over", nil))
	return nil
}

// IsEliminationHour reports whether the hour is on the elimination schedule.
func (e *Engine) IsEliminationHour(hour int) bool {
	for _, h := range e.tun.EliminationHours {
		if h == hour {
			return true
		}
	}
	return false
}

// RunElimination removes the weakest surviving actor at the given hour:
// lowest balance, ties broken by lowest reputation then lowest id. Their
// balance splits evenly among the top three survivors, so the supply stays
// closed. The eliminations table is unique per hour, which makes a repeat
// call for the same hour a no-op conflict.
func (e *Engine) RunElimination(ctx context.Context, hour int) protocol.Result {
	var victim store.Actor
	redistribution := map[string]float64{}
	err := e.st.WithTx(ctx, func(tx *sqlx.Tx) error {
		var n int
		if err := tx.Get(&n, `SELECT COUNT(*) FROM eliminations WHERE game_hour = ?`, hour); err != nil {
			return err
		}
		if n > 0 {
			return engine.ErrDuplicate
		}

		if err := tx.Get(&victim,
			`SELECT * FROM actors WHERE is_eliminated = 0
			 ORDER BY afc_balance ASC, reputation ASC, id ASC LIMIT 1`); err != nil {
			return engine.MapRowErr(err)
		}

		var top []store.Actor
		if err := tx.Select(&top,
			`SELECT * FROM actors WHERE is_eliminated = 0 AND id != ?
			 ORDER BY afc_balance DESC, reputation DESC, id ASC LIMIT 3`, victim.ID); err != nil {
			return err
		}

		if _, err := tx.Exec(
			`UPDATE actors SET is_eliminated = 1, eliminated_at_hour = ?, afc_balance = 0 WHERE id = ?`,
			hour, victim.ID); err != nil {
			return err
		}

		if victim.Balance > 0 && len(top) > 0 {
			cut := victim.Balance / float64(len(top))
			for _, a := range top {
				if err := store.CreditTx(tx, a.ID, cut); err != nil {
					return err
				}
				redistribution[a.Name] = cut
			}
		}

		blob, err := json.Marshal(redistribution)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(
			`INSERT INTO eliminations (actor_id, game_hour, final_balance, final_reputation, redistribution, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			victim.ID, hour, victim.Balance, victim.Reputation, string(blob), store.Now()); err != nil {
			return err
		}
		_, err = tx.Exec(
			`UPDATE game_state SET actors_remaining = (SELECT COUNT(*) FROM actors WHERE is_eliminated = 0) WHERE id = 1`)
		return err
	})
	if r, bad := engine.Failure(err, e.log, "run elimination"); bad {
		return r
	}

	e.log.Printf("hour %d: eliminated %s (balance %.4f, rep %d)",
		hour, victim.Name, victim.Balance, victim.Reputation)
	e.bus.Publish(protocol.NewEvent(protocol.ChannelEliminations, "actor_eliminated", map[string]any{
		"actor": victim.ID, "name": victim.Name, "hour": hour,
		"final_balance": victim.Balance, "redistribution": redistribution,
	}))
	return protocol.Ok("actor eliminated", map[string]any{
		"actor": victim.ID, "redistribution": redistribution,
	})
}

// CastTribunalVote records one vote per actor per game hour against a
// living target other than themselves.
func (e *Engine) CastTribunalVote(ctx context.Context, voterID, targetID int64) protocol.Result {
	if voterID == targetID {
		return protocol.Fail(protocol.ErrInvalidTarget, "cannot vote against yourself")
	}
	var hour int
	err := e.st.WithTx(ctx, func(tx *sqlx.Tx) error {
		gs, err := store.GameStateTx(tx)
		if err != nil {
			return err
		}
		hour = gs.CurrentHour
		if _, err := store.ActorTx(tx, voterID); err != nil {
			return err
		}
		target, err := store.ActorTx(tx, targetID)
		if err != nil {
			return err
		}
		if target.IsEliminated {
			return engine.ErrEliminated
		}
		var n int
		if err := tx.Get(&n,
			`SELECT COUNT(*) FROM tribunal_votes WHERE voter_id = ? AND game_hour = ?`,
			voterID, hour); err != nil {
			return err
		}
		if n > 0 {
			return engine.ErrDuplicate
		}
		_, err = tx.Exec(
			`INSERT INTO tribunal_votes (voter_id, target_id, game_hour, created_at) VALUES (?, ?, ?, ?)`,
			voterID, targetID, hour, store.Now())
		return err
	})
	if r, bad := engine.Failure(err, e.log, "cast tribunal vote"); bad {
		return r
	}
	return protocol.Ok("tribunal vote cast", map[string]any{"hour": hour})
}

// ResolveTribunal tallies the hour's votes, takes half the condemned
// actor's balance and zeroes their reputation, and splits the confiscated
// half among the surviving voters. No votes means no verdict.
func (e *Engine) ResolveTribunal(ctx context.Context, hour int) protocol.Result {
	var condemnedID int64
	var confiscated float64
	err := e.st.WithTx(ctx, func(tx *sqlx.Tx) error {
		type tally struct {
			TargetID int64 `db:"target_id"`
			Votes    int   `db:"votes"`
		}
		var rows []tally
		if err := tx.Select(&rows,
			`SELECT target_id, COUNT(*) AS votes FROM tribunal_votes WHERE game_hour = ?
			 GROUP BY target_id ORDER BY votes DESC, target_id ASC`, hour); err != nil {
			return err
		}
		if len(rows) == 0 {
			return engine.ErrNoMajority
		}
		condemnedID = rows[0].TargetID

		condemned, err := store.ActorTx(tx, condemnedID)
		if err != nil {
			return err
		}
		confiscated = condemned.Balance * 0.5
		if confiscated > 0 {
			if err := store.DebitTx(tx, condemnedID, confiscated); err != nil {
				return err
			}
		}
		if condemned.Reputation > 0 {
			if _, err := reputation.ModifyTx(tx, e.tun, condemnedID, -condemned.Reputation, "tribunal_verdict"); err != nil {
				return err
			}
		}

		var voters []int64
		if err := tx.Select(&voters,
			`SELECT DISTINCT tv.voter_id FROM tribunal_votes tv
			 JOIN actors a ON a.id = tv.voter_id
			 WHERE tv.game_hour = ? AND a.is_eliminated = 0 AND tv.voter_id != ?`,
			hour, condemnedID); err != nil {
			return err
		}
		if confiscated > 0 && len(voters) > 0 {
			cut := confiscated / float64(len(voters))
			for _, v := range voters {
				if err := store.CreditTx(tx, v, cut); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if errIs := err; errIs == engine.ErrNoMajority {
		return protocol.Ok("tribunal resolved with no votes", nil)
	}
	if r, bad := engine.Failure(err, e.log, "resolve tribunal"); bad {
		return r
	}

	e.bus.Publish(protocol.NewEvent(protocol.ChannelEvents, "tribunal_verdict", map[string]any{
		"condemned": condemnedID, "confiscated": confiscated, "hour": hour,
	}))
	return protocol.Ok("tribunal resolved", map[string]any{
		"condemned": condemnedID, "confiscated": confiscated,
	})
}

// TakeSnapshot records every surviving actor's balance, reputation, and
// rank at the current hour.
func (e *Engine) TakeSnapshot(ctx context.Context) error {
	return e.st.WithTx(ctx, func(tx *sqlx.Tx) error {
		gs, err := store.GameStateTx(tx)
		if err != nil {
			return err
		}
		actors, err := store.LeaderboardTx(tx, e.tun.TotalActors)
		if err != nil {
			return err
		}
		now := store.Now()
		for rank, a := range actors {
			if _, err := tx.Exec(
				`INSERT INTO balance_snapshots (actor_id, balance, reputation, rank, game_hour, created_at)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				a.ID, a.Balance, a.Reputation, rank+1, gs.CurrentHour, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// Eliminations lists the run's eliminations in order.
func (e *Engine) Eliminations(ctx context.Context) ([]store.Elimination, error) {
	var out []store.Elimination
	err := e.st.DB().SelectContext(ctx, &out, `SELECT * FROM eliminations ORDER BY game_hour`)
	return out, err
}

// SetFeeRate mutates the live fee rate, used by the fee increase event.
func (e *Engine) SetFeeRate(ctx context.Context, rate float64) error {
	return e.st.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.Exec(`UPDATE game_state SET current_fee_rate = ? WHERE id = 1`, rate)
		return err
	})
}

// FreezeWindow returns the freeze duration an event demands, zero when the
// event does not freeze trading.
func FreezeWindow(ev store.SystemEvent) time.Duration {
	if ev.EventType == "security_breach" && ev.DurationMinutes > 0 {
		return time.Duration(ev.DurationMinutes) * time.Minute
	}
	return 0
}
