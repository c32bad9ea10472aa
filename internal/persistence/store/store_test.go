package store

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"

	"aftercoin.ai/internal/sim/tuning"
)

func newTestStore(t *testing.T) (*Store, tuning.Tuning) {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	st, err := Open(filepath.Join(t.TempDir(), "test.db"), logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	tun := tuning.Default()
	if err := st.InitRun(context.Background(), tun); err != nil {
		t.Fatalf("init run: %v", err)
	}
	return st, tun
}

func TestInitRunSeedsOnce(t *testing.T) {
	st, tun := newTestStore(t)
	ctx := context.Background()

	actors, err := st.Actors(ctx)
	if err != nil {
		t.Fatalf("actors: %v", err)
	}
	if len(actors) != tun.TotalActors {
		t.Fatalf("seeded actors: got %d want %d", len(actors), tun.TotalActors)
	}
	for _, a := range actors {
		if a.Balance != tun.StartingBalance {
			t.Fatalf("actor %d balance: got %v want %v", a.ID, a.Balance, tun.StartingBalance)
		}
		if a.Reputation != tun.StartingReputation {
			t.Fatalf("actor %d reputation: got %d want %d", a.ID, a.Reputation, tun.StartingReputation)
		}
		if a.HiddenGoal == "" {
			t.Fatalf("actor %d missing hidden goal", a.ID)
		}
	}

	// A second InitRun must not reseed or reset anything.
	if err := st.InitRun(ctx, tun); err != nil {
		t.Fatalf("second init run: %v", err)
	}
	again, err := st.Actors(ctx)
	if err != nil {
		t.Fatalf("actors: %v", err)
	}
	if len(again) != tun.TotalActors {
		t.Fatalf("reseeded: got %d actors", len(again))
	}

	gs, err := st.GameState(ctx)
	if err != nil {
		t.Fatalf("game state: %v", err)
	}
	if gs.CurrentHour != 0 || gs.Phase != PhasePreGame {
		t.Fatalf("initial state: hour=%d phase=%s", gs.CurrentHour, gs.Phase)
	}
	wantCirc := tun.StartingBalance * float64(tun.TotalActors)
	if gs.TotalCirculation != wantCirc {
		t.Fatalf("circulation: got %v want %v", gs.TotalCirculation, wantCirc)
	}
}

func TestDebitRefusesOverdraft(t *testing.T) {
	st, tun := newTestStore(t)
	ctx := context.Background()

	err := st.WithTx(ctx, func(tx *sqlx.Tx) error {
		return DebitTx(tx, 1, tun.StartingBalance+1)
	})
	if err != ErrInsufficient {
		t.Fatalf("overdraft: got %v want ErrInsufficient", err)
	}

	a, err := st.Actor(ctx, 1)
	if err != nil {
		t.Fatalf("actor: %v", err)
	}
	if a.Balance != tun.StartingBalance {
		t.Fatalf("balance changed on failed debit: %v", a.Balance)
	}
}

func TestCreditDebitMoveBalance(t *testing.T) {
	st, tun := newTestStore(t)
	ctx := context.Background()

	err := st.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := CreditTx(tx, 1, 5); err != nil {
			return err
		}
		return DebitTx(tx, 1, 2)
	})
	if err != nil {
		t.Fatalf("credit/debit: %v", err)
	}
	a, err := st.Actor(ctx, 1)
	if err != nil {
		t.Fatalf("actor: %v", err)
	}
	if got, want := a.Balance, tun.StartingBalance+3; got != want {
		t.Fatalf("balance: got %v want %v", got, want)
	}
}

func TestCreditEliminatedActorFails(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := st.DB().Exec(`UPDATE actors SET is_eliminated = 1 WHERE id = 2`); err != nil {
		t.Fatalf("eliminate: %v", err)
	}
	err := st.WithTx(ctx, func(tx *sqlx.Tx) error {
		return CreditTx(tx, 2, 1)
	})
	if err != ErrNotFound {
		t.Fatalf("credit eliminated: got %v want ErrNotFound", err)
	}
}

func TestLeaderboardOrdering(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := st.DB().Exec(`UPDATE actors SET afc_balance = 50 WHERE id = 3`); err != nil {
		t.Fatalf("set balance: %v", err)
	}
	if _, err := st.DB().Exec(`UPDATE actors SET afc_balance = 30 WHERE id = 7`); err != nil {
		t.Fatalf("set balance: %v", err)
	}
	if _, err := st.DB().Exec(`UPDATE actors SET is_eliminated = 1, afc_balance = 0 WHERE id = 9`); err != nil {
		t.Fatalf("eliminate: %v", err)
	}

	top, err := st.Leaderboard(ctx, 3)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(top) != 3 {
		t.Fatalf("leaderboard size: %d", len(top))
	}
	if top[0].ID != 3 || top[1].ID != 7 {
		t.Fatalf("leaderboard order: got %d,%d want 3,7", top[0].ID, top[1].ID)
	}
	for _, a := range top {
		if a.ID == 9 {
			t.Fatalf("eliminated actor on leaderboard")
		}
	}
}

func TestTimeRoundTrip(t *testing.T) {
	now := Now()
	parsed, err := ParseTime(now)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if FormatTime(parsed) != now {
		t.Fatalf("round trip: %s != %s", FormatTime(parsed), now)
	}
	zero, err := ParseTime("")
	if err != nil || !zero.IsZero() {
		t.Fatalf("empty timestamp: %v %v", zero, err)
	}
}
