package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"aftercoin.ai/internal/persistence/store"
	"aftercoin.ai/internal/protocol"
	"aftercoin.ai/internal/sim/alliance"
	"aftercoin.ai/internal/sim/covert"
	"aftercoin.ai/internal/sim/events"
	"aftercoin.ai/internal/sim/market"
	"aftercoin.ai/internal/sim/reputation"
	"aftercoin.ai/internal/sim/social"
	"aftercoin.ai/internal/sim/trading"
	"aftercoin.ai/internal/sim/tuning"
)

type stubSubmitter struct {
	last protocol.ActionRequest
	res  protocol.Result
}

func (s *stubSubmitter) Submit(_ context.Context, req protocol.ActionRequest) protocol.Result {
	s.last = req
	return s.res
}

func newTestServer(t *testing.T) (*http.ServeMux, *stubSubmitter, *store.Store) {
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
	bus := protocol.NopPublisher{}
	mkt := market.New(st, tun, bus, 42, logger)
	trd := trading.New(st, tun, mkt, bus, logger)
	all := alliance.New(st, tun, bus, logger)
	cov := covert.New(st, tun, bus, logger)
	ev := events.New(st, tun, bus, logger)
	soc := social.New(st, tun, bus, 42, logger)
	rep := reputation.New(st, tun, logger)
	stub := &stubSubmitter{res: protocol.Ok("no action", nil)}
	srv := NewServer(st, stub, mkt, trd, all, cov, ev, soc, rep, logger)
	return srv.Mux(), stub, st
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndState(t *testing.T) {
	mux, _, _ := newTestServer(t)

	rec := doJSON(t, mux, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rec.Code)
	}

	rec = doJSON(t, mux, http.MethodGet, "/api/state", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("state: %d %s", rec.Code, rec.Body)
	}
	var gs struct {
		CurrentHour int    `json:"current_hour"`
		Phase       string `json:"phase"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &gs); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if gs.Phase != string(store.PhasePreGame) {
		t.Fatalf("phase: %s", gs.Phase)
	}
}

func TestActorEndpoints(t *testing.T) {
	mux, _, _ := newTestServer(t)

	rec := doJSON(t, mux, http.MethodGet, "/api/actors", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("actors: %d", rec.Code)
	}
	var actors []json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &actors); err != nil {
		t.Fatalf("decode actors: %v", err)
	}
	if len(actors) != 10 {
		t.Fatalf("actor count: %d", len(actors))
	}

	if rec := doJSON(t, mux, http.MethodGet, "/api/actors/1", ""); rec.Code != http.StatusOK {
		t.Fatalf("actor 1: %d", rec.Code)
	}
	if rec := doJSON(t, mux, http.MethodGet, "/api/actors/999", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("missing actor: %d", rec.Code)
	}
	if rec := doJSON(t, mux, http.MethodGet, "/api/actors/zero", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id: %d", rec.Code)
	}

	rec = doJSON(t, mux, http.MethodGet, "/api/leaderboard?limit=3", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("leaderboard: %d", rec.Code)
	}
	var board []json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &board); err != nil {
		t.Fatalf("decode leaderboard: %v", err)
	}
	if len(board) != 3 {
		t.Fatalf("leaderboard size: %d", len(board))
	}
}

func TestReputationEndpoint(t *testing.T) {
	mux, _, _ := newTestServer(t)

	rec := doJSON(t, mux, http.MethodGet, "/api/reputation/1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("reputation: %d", rec.Code)
	}
	var body struct {
		Reputation int    `json:"reputation"`
		Badge      string `json:"badge"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Reputation != 50 || body.Badge != "NORMAL" {
		t.Fatalf("reputation payload: %+v", body)
	}
}

func TestMarketEndpoint(t *testing.T) {
	mux, _, _ := newTestServer(t)

	rec := doJSON(t, mux, http.MethodGet, "/api/market", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("market: %d", rec.Code)
	}
	var body struct {
		PriceEUR float64 `json:"price_eur"`
		Frozen   bool    `json:"frozen"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.PriceEUR != 932.17 || body.Frozen {
		t.Fatalf("market payload: %+v", body)
	}
}

func TestActionSubmission(t *testing.T) {
	mux, stub, _ := newTestServer(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/actions", `{"actor":1,"kind":"none"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("action: %d %s", rec.Code, rec.Body)
	}
	if stub.last.Actor != 1 || stub.last.Kind != protocol.ActNone {
		t.Fatalf("submitted: %+v", stub.last)
	}

	rec = doJSON(t, mux, http.MethodPost, "/api/actions", `{"actor":0,"kind":"none"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid envelope: %d", rec.Code)
	}
	rec = doJSON(t, mux, http.MethodPost, "/api/actions", `not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("garbage body: %d", rec.Code)
	}
}

func TestQueryActorRequired(t *testing.T) {
	mux, _, _ := newTestServer(t)

	if rec := doJSON(t, mux, http.MethodGet, "/api/inbox", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("inbox without actor: %d", rec.Code)
	}
	if rec := doJSON(t, mux, http.MethodGet, "/api/inbox?actor=2", ""); rec.Code != http.StatusOK {
		t.Fatalf("inbox: %d", rec.Code)
	}
}

func TestAdminLoopbackOnly(t *testing.T) {
	mux, _, st := newTestServer(t)

	// httptest requests default to a non-loopback remote address.
	rec := doJSON(t, mux, http.MethodPost, "/api/admin/freeze", "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("remote admin call: %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/admin/freeze", nil)
	req.RemoteAddr = "127.0.0.1:5555"
	local := httptest.NewRecorder()
	mux.ServeHTTP(local, req)
	if local.Code != http.StatusOK {
		t.Fatalf("loopback admin call: %d %s", local.Code, local.Body)
	}

	// Every admin call leaves an audit record.
	var n int
	if err := st.DB().Get(&n, `SELECT COUNT(*) FROM admin_actions WHERE action = 'freeze_trading'`); err != nil {
		t.Fatalf("audit: %v", err)
	}
	if n != 1 {
		t.Fatalf("audit records: %d", n)
	}
}

func TestAdminAdjustBalance(t *testing.T) {
	mux, _, st := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/adjust_balance",
		strings.NewReader(`{"actor":1,"delta":5,"reason":"compensation"}`))
	req.RemoteAddr = "127.0.0.1:5555"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("adjust: %d %s", rec.Code, rec.Body)
	}
	a, err := st.Actor(context.Background(), 1)
	if err != nil {
		t.Fatalf("actor: %v", err)
	}
	if a.Balance != 15 {
		t.Fatalf("balance after adjust: %v", a.Balance)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:5555", true},
		{"[::1]:5555", true},
		{"::1", true},
		{"192.0.2.1:1234", false},
		{"10.0.0.1:80", false},
		{"example.com:80", false},
		{"", false},
	}
	for _, c := range cases {
		if got := isLoopbackRemote(c.addr); got != c.want {
			t.Fatalf("isLoopbackRemote(%q) = %v", c.addr, got)
		}
	}
}
