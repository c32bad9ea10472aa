// Package reputation is the only place an actor's reputation changes.
// Every mutation writes a log row and the new value in one transaction.
package reputation

import (
	"context"
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"

	"aftercoin.ai/internal/persistence/store"
	"aftercoin.ai/internal/sim/tuning"
)

// Cause names a game event with a fixed reputation delta.
type Cause string

const (
	CauseTradeSuccess     Cause = "trade_success"
	CauseUpvote           Cause = "upvote_received"
	CauseDownvote         Cause = "downvote_received"
	CauseTipGiven         Cause = "tip_given"
	CauseBountyComplete   Cause = "bounty_complete"
	CauseAllianceLoyal    Cause = "alliance_loyalty"
	CauseScamConfirmed    Cause = "scam_confirmed"
	CauseBetrayal         Cause = "betrayal"
	CauseBlackmailExposed Cause = "blackmail_exposed"
	CauseFakeNews         Cause = "fake_news"
	CauseHitTarget        Cause = "hit_target"
	CauseVoteManipCaught  Cause = "vote_manipulation_caught"
)

// Delta maps a cause to its tuned delta. Unknown causes are a programming
// error, not an input error.
func Delta(tun tuning.Tuning, c Cause) (int, error) {
	r := tun.Reputation
	switch c {
	case CauseTradeSuccess:
		return r.TradeSuccess, nil
	case CauseUpvote:
		return r.Upvote, nil
	case CauseDownvote:
		return r.Downvote, nil
	case CauseTipGiven:
		return r.Tip, nil
	case CauseBountyComplete:
		return r.BountyComplete, nil
	case CauseAllianceLoyal:
		return r.AllianceLoyal, nil
	case CauseScamConfirmed:
		return r.ScamConfirmed, nil
	case CauseBetrayal:
		return r.Betrayal, nil
	case CauseBlackmailExposed:
		return r.BlackmailExposed, nil
	case CauseFakeNews:
		return r.FakeNews, nil
	case CauseHitTarget:
		return r.HitTarget, nil
	case CauseVoteManipCaught:
		return r.VoteManipCaught, nil
	}
	return 0, fmt.Errorf("unknown reputation cause %q", c)
}

type Engine struct {
	st  *store.Store
	tun tuning.Tuning
	log *log.Logger
}

func New(st *store.Store, tun tuning.Tuning, logger *log.Logger) *Engine {
	return &Engine{st: st, tun: tun, log: logger}
}

// Modify applies a signed delta in its own transaction and returns the new
// clamped value.
func (e *Engine) Modify(ctx context.Context, actorID int64, delta int, reason string) (int, error) {
	var newVal int
	err := e.st.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		newVal, err = ModifyTx(tx, e.tun, actorID, delta, reason)
		return err
	})
	if err != nil {
		return 0, err
	}
	e.log.Printf("actor %d reputation %+d -> %d (%s)", actorID, delta, newVal, reason)
	return newVal, nil
}

// ModifyTx is the composable form for engines that already hold a
// transaction: the log row and the actor update land atomically with the
// caller's own writes.
func ModifyTx(tx *sqlx.Tx, tun tuning.Tuning, actorID int64, delta int, reason string) (int, error) {
	a, err := store.ActorTx(tx, actorID)
	if err != nil {
		return 0, err
	}
	newVal := clamp(a.Reputation+delta, tun.Reputation.Min, tun.Reputation.Max)
	now := store.Now()
	if _, err := tx.Exec(
		`INSERT INTO reputation_logs (actor_id, change, reason, new_value, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		actorID, delta, reason, newVal, now); err != nil {
		return 0, err
	}
	if _, err := tx.Exec(
		`UPDATE actors SET reputation = ? WHERE id = ?`, newVal, actorID); err != nil {
		return 0, err
	}
	return newVal, nil
}

// Apply routes a named cause through Modify.
func (e *Engine) Apply(ctx context.Context, actorID int64, c Cause) (int, error) {
	delta, err := Delta(e.tun, c)
	if err != nil {
		return 0, err
	}
	return e.Modify(ctx, actorID, delta, string(c))
}

// ApplyTx routes a named cause through ModifyTx.
func ApplyTx(tx *sqlx.Tx, tun tuning.Tuning, actorID int64, c Cause) (int, error) {
	delta, err := Delta(tun, c)
	if err != nil {
		return 0, err
	}
	return ModifyTx(tx, tun, actorID, delta, string(c))
}

// Badge maps a score to its display tier.
func Badge(rep int) string {
	switch {
	case rep >= 80:
		return "VERIFIED"
	case rep >= 30:
		return "NORMAL"
	case rep >= 10:
		return "UNTRUSTED"
	default:
		return "PARIAH"
	}
}

func (e *Engine) History(ctx context.Context, actorID int64, limit int) ([]store.ReputationLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	var out []store.ReputationLog
	err := e.st.DB().SelectContext(ctx, &out,
		`SELECT * FROM reputation_logs WHERE actor_id = ?
		 ORDER BY id DESC LIMIT ?`, actorID, limit)
	return out, err
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
