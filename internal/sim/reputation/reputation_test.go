package reputation

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"testing"

	"aftercoin.ai/internal/persistence/store"
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
	return New(st, tun, logger), st, tun
}

func TestModifyClampsAndLogs(t *testing.T) {
	e, st, _ := newTestEngine(t)
	ctx := context.Background()

	got, err := e.Modify(ctx, 1, 200, "test boost")
	if err != nil {
		t.Fatalf("modify: %v", err)
	}
	if got != 100 {
		t.Fatalf("clamp high: got %d", got)
	}
	got, err = e.Modify(ctx, 1, -500, "test crash")
	if err != nil {
		t.Fatalf("modify: %v", err)
	}
	if got != 0 {
		t.Fatalf("clamp low: got %d", got)
	}

	logs, err := e.History(ctx, 1, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("log rows: %d", len(logs))
	}
	// Newest first.
	if logs[0].Reason != "test crash" || logs[0].NewValue != 0 {
		t.Fatalf("latest log: %+v", logs[0])
	}

	a, err := st.Actor(ctx, 1)
	if err != nil {
		t.Fatalf("actor: %v", err)
	}
	if a.Reputation != 0 {
		t.Fatalf("stored reputation: %d", a.Reputation)
	}
}

func TestApplyCauseDeltas(t *testing.T) {
	e, st, tun := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.Apply(ctx, 2, CauseScamConfirmed); err != nil {
		t.Fatalf("apply: %v", err)
	}
	a, err := st.Actor(ctx, 2)
	if err != nil {
		t.Fatalf("actor: %v", err)
	}
	if want := tun.StartingReputation + tun.Reputation.ScamConfirmed; a.Reputation != want {
		t.Fatalf("after scam: got %d want %d", a.Reputation, want)
	}

	if _, err := Delta(tun, Cause("made_up")); err == nil {
		t.Fatalf("unknown cause accepted")
	}
}

func TestBadgeTiers(t *testing.T) {
	cases := map[int]string{
		95: "VERIFIED",
		80: "VERIFIED",
		79: "NORMAL",
		30: "NORMAL",
		29: "UNTRUSTED",
		10: "UNTRUSTED",
		9:  "PARIAH",
		0:  "PARIAH",
	}
	for rep, want := range cases {
		if got := Badge(rep); got != want {
			t.Fatalf("badge(%d): got %s want %s", rep, got, want)
		}
	}
}
