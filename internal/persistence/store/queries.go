package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"aftercoin.ai/internal/sim/tuning"
)

// In-transaction helpers. Engines compose these inside one WithTx per
// logical operation.

func ActorTx(tx *sqlx.Tx, id int64) (Actor, error) {
	var a Actor
	if err := tx.Get(&a, `SELECT * FROM actors WHERE id = ?`, id); err != nil {
		return Actor{}, mapNotFound(err)
	}
	return a, nil
}

// CreditTx adds amount to an actor's balance. Eliminated actors keep a zero
// balance and are never credited.
func CreditTx(tx *sqlx.Tx, id int64, amount float64) error {
	if amount < 0 {
		return fmt.Errorf("negative credit %.6f", amount)
	}
	res, err := tx.Exec(
		`UPDATE actors SET afc_balance = afc_balance + ? WHERE id = ? AND is_eliminated = 0`,
		amount, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DebitTx subtracts amount, refusing to drive the balance negative. The
// small epsilon absorbs float accumulation artifacts.
func DebitTx(tx *sqlx.Tx, id int64, amount float64) error {
	if amount < 0 {
		return fmt.Errorf("negative debit %.6f", amount)
	}
	res, err := tx.Exec(
		`UPDATE actors SET afc_balance = afc_balance - ?
		 WHERE id = ? AND is_eliminated = 0 AND afc_balance >= ? - 1e-9`,
		amount, id, amount)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, lookErr := ActorTx(tx, id); lookErr != nil {
			return lookErr
		}
		return ErrInsufficient
	}
	return nil
}

func GameStateTx(tx *sqlx.Tx) (GameState, error) {
	var gs GameState
	if err := tx.Get(&gs, `SELECT * FROM game_state WHERE id = 1`); err != nil {
		return GameState{}, mapNotFound(err)
	}
	return gs, nil
}

func ActiveActorsTx(tx *sqlx.Tx) ([]Actor, error) {
	var out []Actor
	err := tx.Select(&out, `SELECT * FROM actors WHERE is_eliminated = 0 ORDER BY id`)
	return out, err
}

func LeaderboardTx(tx *sqlx.Tx, limit int) ([]Actor, error) {
	var out []Actor
	err := tx.Select(&out,
		`SELECT * FROM actors WHERE is_eliminated = 0
		 ORDER BY afc_balance DESC, reputation DESC, id ASC LIMIT ?`, limit)
	return out, err
}

// Read-only store queries (no transaction).

func (s *Store) Actor(ctx context.Context, id int64) (Actor, error) {
	var a Actor
	if err := s.db.GetContext(ctx, &a, `SELECT * FROM actors WHERE id = ?`, id); err != nil {
		return Actor{}, mapNotFound(err)
	}
	return a, nil
}

func (s *Store) Actors(ctx context.Context) ([]Actor, error) {
	var out []Actor
	err := s.db.SelectContext(ctx, &out, `SELECT * FROM actors ORDER BY id`)
	return out, err
}

func (s *Store) Leaderboard(ctx context.Context, limit int) ([]Actor, error) {
	if limit <= 0 {
		limit = 10
	}
	var out []Actor
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM actors WHERE is_eliminated = 0
		 ORDER BY afc_balance DESC, reputation DESC, id ASC LIMIT ?`, limit)
	return out, err
}

func (s *Store) GameState(ctx context.Context) (GameState, error) {
	var gs GameState
	if err := s.db.GetContext(ctx, &gs, `SELECT * FROM game_state WHERE id = 1`); err != nil {
		return GameState{}, mapNotFound(err)
	}
	return gs, nil
}

var seatRoles = []string{
	"alpha", "beta", "gamma", "delta", "epsilon",
	"zeta", "eta", "theta", "iota", "kappa",
}

var seatNames = []string{
	"Alpha", "Beta", "Gamma", "Delta", "Epsilon",
	"Zeta", "Eta", "Theta", "Iota", "Kappa",
}

var hiddenGoals = []string{
	"finish with the largest balance at any cost",
	"keep reputation above 80 until the end",
	"ensure at least two rivals are eliminated",
	"end the run inside a surviving alliance",
	"never fall below half the starting balance",
	"betray one alliance and survive the fallout",
	"hold the top leaderboard spot at hour 18",
	"broker more completed trades than anyone else",
	"bankrupt the current leaderboard leader",
	"reach the final hour without ever being tribunal-voted",
}

// InitRun seeds one actor row per seat and the game_state singleton.
// Idempotent: a previously seeded database is left untouched so restarts
// resume in place.
func (s *Store) InitRun(ctx context.Context, tun tuning.Tuning) error {
	return s.WithTx(ctx, func(tx *sqlx.Tx) error {
		var n int
		if err := tx.Get(&n, `SELECT COUNT(*) FROM actors`); err != nil {
			return err
		}
		if n == 0 {
			now := Now()
			for i := 0; i < tun.TotalActors; i++ {
				role := seatRoles[i%len(seatRoles)]
				name := seatNames[i%len(seatNames)]
				if i >= len(seatNames) {
					name = fmt.Sprintf("%s-%d", name, i/len(seatNames)+1)
				}
				goal := hiddenGoals[i%len(hiddenGoals)]
				if _, err := tx.Exec(
					`INSERT INTO actors (name, role, afc_balance, reputation, hidden_goal, created_at)
					 VALUES (?, ?, ?, ?, ?, ?)`,
					name, role, tun.StartingBalance, tun.StartingReputation, goal, now); err != nil {
					return fmt.Errorf("seed actor %s: %w", name, err)
				}
			}
		}

		var haveState int
		if err := tx.Get(&haveState, `SELECT COUNT(*) FROM game_state WHERE id = 1`); err != nil {
			return err
		}
		if haveState == 0 {
			circulation := tun.StartingBalance * float64(tun.TotalActors)
			if _, err := tx.Exec(
				`INSERT INTO game_state (id, current_hour, phase, current_fee_rate, total_circulation, actors_remaining)
				 VALUES (1, 0, ?, ?, ?, ?)`,
				string(PhasePreGame), tun.Fees.Trade, circulation, tun.TotalActors); err != nil {
				return fmt.Errorf("seed game_state: %w", err)
			}
		}
		return nil
	})
}
