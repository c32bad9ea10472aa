// Package httpapi is the REST surface: read endpoints for every public
// view of the run, the action submission endpoint, and a loopback-only
// admin surface whose every call is recorded.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"aftercoin.ai/internal/metrics"
	"aftercoin.ai/internal/persistence/store"
	"aftercoin.ai/internal/protocol"
	"aftercoin.ai/internal/sim/alliance"
	"aftercoin.ai/internal/sim/covert"
	"aftercoin.ai/internal/sim/events"
	"aftercoin.ai/internal/sim/market"
	"aftercoin.ai/internal/sim/reputation"
	"aftercoin.ai/internal/sim/social"
	"aftercoin.ai/internal/sim/trading"
)

// Submitter is the action entry point, satisfied by the scheduler.
type Submitter interface {
	Submit(ctx context.Context, req protocol.ActionRequest) protocol.Result
}

type Server struct {
	st     *store.Store
	submit Submitter
	log    *log.Logger

	market     *market.Engine
	trading    *trading.Engine
	alliances  *alliance.Engine
	covert     *covert.Engine
	events     *events.Engine
	social     *social.Engine
	reputation *reputation.Engine
}

func NewServer(st *store.Store, submit Submitter,
	mkt *market.Engine, trd *trading.Engine, all *alliance.Engine,
	cov *covert.Engine, ev *events.Engine, soc *social.Engine,
	rep *reputation.Engine, logger *log.Logger) *Server {
	return &Server{
		st: st, submit: submit, log: logger,
		market: mkt, trading: trd, alliances: all,
		covert: cov, events: ev, social: soc, reputation: rep,
	}
}

func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(rw http.ResponseWriter, r *http.Request) {
		writeJSON(rw, map[string]any{"ok": true})
	})
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/actors", s.handleActors)
	mux.HandleFunc("GET /api/actors/{id}", s.handleActor)
	mux.HandleFunc("GET /api/leaderboard", s.handleLeaderboard)
	mux.HandleFunc("GET /api/reputation/{id}", s.handleReputation)

	mux.HandleFunc("GET /api/market", s.handleMarket)
	mux.HandleFunc("GET /api/market/history", s.handleMarketHistory)
	mux.HandleFunc("GET /api/market/orderbook", s.handleOrderBook)

	mux.HandleFunc("GET /api/trades/pending", s.handlePendingTrades)
	mux.HandleFunc("GET /api/positions", s.handlePositions)

	mux.HandleFunc("GET /api/feed", s.handleFeed)
	mux.HandleFunc("GET /api/trending", s.handleTrending)
	mux.HandleFunc("GET /api/posts/{id}/comments", s.handleComments)
	mux.HandleFunc("GET /api/inbox", s.handleInbox)

	mux.HandleFunc("GET /api/alliances", s.handleAlliances)
	mux.HandleFunc("GET /api/alliances/{id}/members", s.handleMembers)

	mux.HandleFunc("GET /api/hits", s.handleHits)
	mux.HandleFunc("GET /api/eliminations", s.handleEliminations)

	mux.HandleFunc("POST /api/actions", s.handleAction)

	mux.HandleFunc("POST /api/admin/adjust_balance", s.admin(s.handleAdjustBalance))
	mux.HandleFunc("POST /api/admin/freeze", s.admin(s.handleFreeze))
	mux.HandleFunc("POST /api/admin/unfreeze", s.admin(s.handleUnfreeze))
	mux.HandleFunc("POST /api/admin/inject_event", s.admin(s.handleInjectEvent))
	mux.HandleFunc("POST /api/admin/flag_post", s.admin(s.handleFlagPost))
	mux.HandleFunc("POST /api/admin/eject_member", s.admin(s.handleEject))
	mux.HandleFunc("POST /api/admin/cancel_hit", s.admin(s.handleCancelHit))

	return mux
}

func (s *Server) handleState(rw http.ResponseWriter, r *http.Request) {
	gs, err := s.st.GameState(r.Context())
	if err != nil {
		httpError(rw, http.StatusInternalServerError, err)
		return
	}
	writeJSON(rw, gs)
}

func (s *Server) handleActors(rw http.ResponseWriter, r *http.Request) {
	actors, err := s.st.Actors(r.Context())
	if err != nil {
		httpError(rw, http.StatusInternalServerError, err)
		return
	}
	writeJSON(rw, actors)
}

func (s *Server) handleActor(rw http.ResponseWriter, r *http.Request) {
	id, ok := pathID(rw, r)
	if !ok {
		return
	}
	a, err := s.st.Actor(r.Context(), id)
	if err == store.ErrNotFound {
		http.NotFound(rw, r)
		return
	}
	if err != nil {
		httpError(rw, http.StatusInternalServerError, err)
		return
	}
	writeJSON(rw, a)
}

func (s *Server) handleLeaderboard(rw http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	actors, err := s.st.Leaderboard(r.Context(), limit)
	if err != nil {
		httpError(rw, http.StatusInternalServerError, err)
		return
	}
	writeJSON(rw, actors)
}

func (s *Server) handleReputation(rw http.ResponseWriter, r *http.Request) {
	id, ok := pathID(rw, r)
	if !ok {
		return
	}
	a, err := s.st.Actor(r.Context(), id)
	if err == store.ErrNotFound {
		http.NotFound(rw, r)
		return
	}
	if err != nil {
		httpError(rw, http.StatusInternalServerError, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	history, err := s.reputation.History(r.Context(), id, limit)
	if err != nil {
		httpError(rw, http.StatusInternalServerError, err)
		return
	}
	writeJSON(rw, map[string]any{
		"actor":      id,
		"reputation": a.Reputation,
		"badge":      reputation.Badge(a.Reputation),
		"history":    history,
	})
}

func (s *Server) handleMarket(rw http.ResponseWriter, r *http.Request) {
	buy, sell := s.market.Volumes()
	writeJSON(rw, map[string]any{
		"price_eur":   s.market.Price(),
		"frozen":      s.market.Frozen(),
		"buy_volume":  buy,
		"sell_volume": sell,
	})
}

func (s *Server) handleMarketHistory(rw http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	hist, err := s.market.History(r.Context(), limit)
	if err != nil {
		httpError(rw, http.StatusInternalServerError, err)
		return
	}
	writeJSON(rw, hist)
}

func (s *Server) handleOrderBook(rw http.ResponseWriter, r *http.Request) {
	depth, _ := strconv.Atoi(r.URL.Query().Get("depth"))
	writeJSON(rw, s.market.OrderBook(depth))
}

func (s *Server) handlePendingTrades(rw http.ResponseWriter, r *http.Request) {
	actor, ok := queryActor(rw, r)
	if !ok {
		return
	}
	trades, err := s.trading.PendingTrades(r.Context(), actor)
	if err != nil {
		httpError(rw, http.StatusInternalServerError, err)
		return
	}
	writeJSON(rw, trades)
}

func (s *Server) handlePositions(rw http.ResponseWriter, r *http.Request) {
	actor, ok := queryActor(rw, r)
	if !ok {
		return
	}
	positions, err := s.trading.ActivePositions(r.Context(), actor)
	if err != nil {
		httpError(rw, http.StatusInternalServerError, err)
		return
	}
	writeJSON(rw, positions)
}

func (s *Server) handleFeed(rw http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	posts, err := s.social.Feed(r.Context(), limit)
	if err != nil {
		httpError(rw, http.StatusInternalServerError, err)
		return
	}
	writeJSON(rw, posts)
}

func (s *Server) handleTrending(rw http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	posts, err := s.social.Trending(r.Context(), limit)
	if err != nil {
		httpError(rw, http.StatusInternalServerError, err)
		return
	}
	writeJSON(rw, posts)
}

func (s *Server) handleComments(rw http.ResponseWriter, r *http.Request) {
	id, ok := pathID(rw, r)
	if !ok {
		return
	}
	comments, err := s.social.Comments(r.Context(), id)
	if err != nil {
		httpError(rw, http.StatusInternalServerError, err)
		return
	}
	writeJSON(rw, comments)
}

func (s *Server) handleInbox(rw http.ResponseWriter, r *http.Request) {
	actor, ok := queryActor(rw, r)
	if !ok {
		return
	}
	inbox, err := s.social.Inbox(r.Context(), actor)
	if err != nil {
		httpError(rw, http.StatusInternalServerError, err)
		return
	}
	writeJSON(rw, inbox)
}

func (s *Server) handleAlliances(rw http.ResponseWriter, r *http.Request) {
	alliances, err := s.alliances.Alliances(r.Context())
	if err != nil {
		httpError(rw, http.StatusInternalServerError, err)
		return
	}
	writeJSON(rw, alliances)
}

func (s *Server) handleMembers(rw http.ResponseWriter, r *http.Request) {
	id, ok := pathID(rw, r)
	if !ok {
		return
	}
	members, err := s.alliances.Members(r.Context(), id)
	if err != nil {
		httpError(rw, http.StatusInternalServerError, err)
		return
	}
	writeJSON(rw, members)
}

func (s *Server) handleHits(rw http.ResponseWriter, r *http.Request) {
	hits, err := s.covert.OpenHits(r.Context())
	if err != nil {
		httpError(rw, http.StatusInternalServerError, err)
		return
	}
	writeJSON(rw, hits)
}

func (s *Server) handleEliminations(rw http.ResponseWriter, r *http.Request) {
	elims, err := s.events.Eliminations(r.Context())
	if err != nil {
		httpError(rw, http.StatusInternalServerError, err)
		return
	}
	writeJSON(rw, elims)
}

func (s *Server) handleAction(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(rw, r.Body, 64*1024))
	if err != nil {
		httpError(rw, http.StatusBadRequest, err)
		return
	}
	req, err := protocol.DecodeAction(body)
	if err != nil {
		writeStatusJSON(rw, http.StatusBadRequest, protocol.Fail(protocol.ErrBadRequest, err.Error()))
		return
	}
	res := s.submit.Submit(r.Context(), req)
	outcome := "ok"
	if !res.OK {
		outcome = res.Code
	}
	metrics.ActionsTotal.WithLabelValues(string(req.Kind), outcome).Inc()
	writeJSON(rw, res)
}

// admin wraps a handler with the loopback check and the audit record.
func (s *Server) admin(fn http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		fn(rw, r)
	}
}

func (s *Server) audit(ctx context.Context, action string, targetID int64, detail string) {
	var target any
	if targetID > 0 {
		target = targetID
	}
	if _, err := s.st.DB().ExecContext(ctx,
		`INSERT INTO admin_actions (id, action, target_id, detail, created_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), action, target, detail, store.Now()); err != nil {
		s.log.Printf("audit %s: %v", action, err)
	}
}

func (s *Server) handleAdjustBalance(rw http.ResponseWriter, r *http.Request) {
	var p struct {
		Actor  int64   `json:"actor"`
		Delta  float64 `json:"delta"`
		Reason string  `json:"reason"`
	}
	if !decodeBody(rw, r, &p) {
		return
	}
	res := s.trading.AdjustBalance(r.Context(), p.Actor, p.Delta, p.Reason)
	s.audit(r.Context(), "adjust_balance", p.Actor, p.Reason)
	writeJSON(rw, res)
}

func (s *Server) handleFreeze(rw http.ResponseWriter, r *http.Request) {
	s.market.Freeze(r.Context())
	s.audit(r.Context(), "freeze_trading", 0, "")
	writeJSON(rw, protocol.Ok("trading frozen", nil))
}

func (s *Server) handleUnfreeze(rw http.ResponseWriter, r *http.Request) {
	s.market.Unfreeze(r.Context())
	s.audit(r.Context(), "unfreeze_trading", 0, "")
	writeJSON(rw, protocol.Ok("trading unfrozen", nil))
}

func (s *Server) handleInjectEvent(rw http.ResponseWriter, r *http.Request) {
	var p struct {
		EventType       string  `json:"event_type"`
		Description     string  `json:"description"`
		TriggerHour     int     `json:"trigger_hour"`
		PriceImpact     float64 `json:"price_impact"`
		DurationMinutes int     `json:"duration_minutes"`
	}
	if !decodeBody(rw, r, &p) {
		return
	}
	if p.EventType == "" {
		writeStatusJSON(rw, http.StatusBadRequest, protocol.Fail(protocol.ErrBadRequest, "event_type is required"))
		return
	}
	id, err := s.events.InjectEvent(r.Context(), p.EventType, p.Description, p.TriggerHour, p.PriceImpact, p.DurationMinutes)
	if err != nil {
		httpError(rw, http.StatusInternalServerError, err)
		return
	}
	s.audit(r.Context(), "inject_event", 0, p.EventType)
	writeJSON(rw, protocol.Ok("event scheduled", map[string]any{"event": id}))
}

func (s *Server) handleFlagPost(rw http.ResponseWriter, r *http.Request) {
	var p struct {
		Post int64 `json:"post"`
	}
	if !decodeBody(rw, r, &p) {
		return
	}
	res := s.social.FlagFakeNews(r.Context(), p.Post)
	s.audit(r.Context(), "flag_post", p.Post, "")
	writeJSON(rw, res)
}

func (s *Server) handleEject(rw http.ResponseWriter, r *http.Request) {
	var p struct {
		Alliance int64   `json:"alliance"`
		Target   int64   `json:"target"`
		Voters   []int64 `json:"voters"`
	}
	if !decodeBody(rw, r, &p) {
		return
	}
	res := s.alliances.EmergencyEject(r.Context(), p.Alliance, p.Target, p.Voters)
	s.audit(r.Context(), "eject_member", p.Target, "")
	writeJSON(rw, res)
}

func (s *Server) handleCancelHit(rw http.ResponseWriter, r *http.Request) {
	var p struct {
		Contract int64 `json:"contract"`
		Poster   int64 `json:"poster"`
	}
	if !decodeBody(rw, r, &p) {
		return
	}
	res := s.covert.CancelHit(r.Context(), p.Contract, p.Poster)
	s.audit(r.Context(), "cancel_hit", p.Contract, "")
	writeJSON(rw, res)
}

func pathID(rw http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(rw, "bad id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func queryActor(rw http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.URL.Query().Get("actor"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(rw, "actor query parameter is required", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func decodeBody(rw http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(rw, r.Body, 64*1024)).Decode(dst); err != nil {
		writeStatusJSON(rw, http.StatusBadRequest, protocol.Fail(protocol.ErrBadRequest, err.Error()))
		return false
	}
	return true
}

func writeJSON(rw http.ResponseWriter, v any) {
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(v)
}

func writeStatusJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func httpError(rw http.ResponseWriter, status int, err error) {
	http.Error(rw, err.Error(), status)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
