// Package scheduler runs the clock of the simulation: the market tick,
// the game-hour advance with its scripted events and eliminations, the
// settlement and defection sweeps, and the serialized action queue that
// feeds every actor decision into the engines.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"aftercoin.ai/internal/persistence/store"
	"aftercoin.ai/internal/protocol"
	"aftercoin.ai/internal/sim/alliance"
	"aftercoin.ai/internal/sim/covert"
	"aftercoin.ai/internal/sim/events"
	"aftercoin.ai/internal/sim/market"
	"aftercoin.ai/internal/sim/social"
	"aftercoin.ai/internal/sim/trading"
	"aftercoin.ai/internal/sim/tuning"
)

// raisedFeeRate is what the fee increase event moves the trade fee to.
const raisedFeeRate = 0.08

type queuedAction struct {
	req   protocol.ActionRequest
	reply chan protocol.Result
}

type Runner struct {
	st  *store.Store
	tun tuning.Tuning
	bus protocol.Publisher
	log *log.Logger

	market    *market.Engine
	trading   *trading.Engine
	alliances *alliance.Engine
	covert    *covert.Engine
	events    *events.Engine
	social    *social.Engine

	cron    *cron.Cron
	actions chan queuedAction

	mu     sync.Mutex
	timers map[string]*time.Timer
	rng    *rand.Rand

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(st *store.Store, tun tuning.Tuning, bus protocol.Publisher,
	mkt *market.Engine, trd *trading.Engine, all *alliance.Engine,
	cov *covert.Engine, ev *events.Engine, soc *social.Engine,
	seed int64, logger *log.Logger) *Runner {
	return &Runner{
		st: st, tun: tun, bus: bus, log: logger,
		market: mkt, trading: trd, alliances: all, covert: cov, events: ev, social: soc,
		actions: make(chan queuedAction, 64),
		timers:  make(map[string]*time.Timer),
		rng:     rand.New(rand.NewSource(seed)),
	}
}

func leverageDirection(s string) store.LeverageDirection {
	return store.LeverageDirection(s)
}

// Start launches the loops. The runner owns its goroutines until Stop.
func (r *Runner) Start(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	r.cancel = cancel

	r.wg.Add(5)
	go r.priceLoop(ctx)
	go r.hourLoop(ctx)
	go r.eventLoop(ctx)
	go r.sweepLoop(ctx)
	go r.actionLoop(ctx)

	r.cron = cron.New()
	if _, err := r.cron.AddFunc(fmt.Sprintf("@every %ds", r.tun.Intervals.SnapshotSec), func() {
		if err := r.events.TakeSnapshot(ctx); err != nil {
			r.log.Printf("snapshot: %v", err)
		}
	}); err != nil {
		return err
	}
	if _, err := r.cron.AddFunc(fmt.Sprintf("@every %ds", r.tun.Intervals.StakingSec), func() {
		r.alliances.StakingSweep(ctx, time.Now())
	}); err != nil {
		return err
	}
	r.cron.Start()
	r.log.Printf("scheduler started: hour=%ds price=%ds sweep=%ds",
		r.tun.HourSeconds, r.tun.Market.UpdateIntervalSec, r.tun.Intervals.SettlementSec)
	return nil
}

// Stop cancels the loops, drains pending timers, and releases a freeze
// that would otherwise outlive the process.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
	r.mu.Lock()
	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
	r.mu.Unlock()
	if r.market.Frozen() {
		r.market.Unfreeze(context.Background())
	}
	r.wg.Wait()
	r.log.Printf("scheduler stopped")
}

// Submit queues an action and waits for its result. Actions execute one at
// a time in arrival order.
func (r *Runner) Submit(ctx context.Context, req protocol.ActionRequest) protocol.Result {
	q := queuedAction{req: req, reply: make(chan protocol.Result, 1)}
	select {
	case r.actions <- q:
	case <-ctx.Done():
		return protocol.Fail(protocol.ErrInternal, "scheduler unavailable")
	}
	select {
	case res := <-q.reply:
		return res
	case <-ctx.Done():
		return protocol.Fail(protocol.ErrInternal, "request cancelled")
	}
}

func (r *Runner) actionLoop(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case q := <-r.actions:
			q.reply <- r.Dispatch(ctx, q.req)
		}
	}
}

func (r *Runner) priceLoop(ctx context.Context) {
	defer r.wg.Done()
	tick := time.NewTicker(time.Duration(r.tun.Market.UpdateIntervalSec) * time.Second)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			r.market.Tick(ctx)
		}
	}
}

func (r *Runner) sweepLoop(ctx context.Context) {
	defer r.wg.Done()
	settle := time.NewTicker(time.Duration(r.tun.Intervals.SettlementSec) * time.Second)
	defer settle.Stop()
	defect := time.NewTicker(time.Duration(r.tun.Intervals.DefectionSec) * time.Second)
	defer defect.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-settle.C:
			now := time.Now()
			r.trading.SettleDue(ctx, now, r.market.Price())
			r.covert.ResolveExpiredBlackmail(ctx, now)
		case <-defect.C:
			r.alliances.CheckPendingDefections(ctx, time.Now())
		}
	}
}

// eventLoop re-checks the schedule between hour advances so an event
// injected for the current hour fires without waiting for the next tick.
func (r *Runner) eventLoop(ctx context.Context) {
	defer r.wg.Done()
	tick := time.NewTicker(time.Duration(r.tun.Intervals.EventCheckSec) * time.Second)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			r.checkDueEvents(ctx)
		}
	}
}

// checkDueEvents applies every untriggered event scheduled at or before
// the current hour. MarkTriggered keeps a racing hour advance from
// applying the same event twice.
func (r *Runner) checkDueEvents(ctx context.Context) int {
	gs, err := r.st.GameState(ctx)
	if err != nil {
		r.log.Printf("event check: read state: %v", err)
		return 0
	}
	if gs.EndedAt.Valid {
		return 0
	}
	due, err := r.events.DueEvents(ctx, gs.CurrentHour)
	if err != nil {
		r.log.Printf("event check: %v", err)
		return 0
	}
	for _, ev := range due {
		r.applyEvent(ctx, ev, gs.CurrentHour)
	}
	return len(due)
}

func (r *Runner) hourLoop(ctx context.Context) {
	defer r.wg.Done()
	tick := time.NewTicker(time.Duration(r.tun.HourSeconds) * time.Second)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			r.advance(ctx)
		}
	}
}

// advance moves the game clock one hour and runs everything the new hour
// owes: counter resets, due events, eliminations, and the end of the run.
func (r *Runner) advance(ctx context.Context) {
	gs, err := r.st.GameState(ctx)
	if err != nil {
		r.log.Printf("advance: read state: %v", err)
		return
	}
	if gs.EndedAt.Valid {
		return
	}

	hour, err := r.events.AdvanceHour(ctx)
	if err != nil {
		r.log.Printf("advance hour: %v", err)
		return
	}
	if err := r.social.ResetHourlyCounters(ctx); err != nil {
		r.log.Printf("reset hourly counters: %v", err)
	}

	due, err := r.events.DueEvents(ctx, hour)
	if err != nil {
		r.log.Printf("due events: %v", err)
	}
	for _, ev := range due {
		r.applyEvent(ctx, ev, hour)
	}

	if r.events.IsEliminationHour(hour) {
		if res := r.events.RunElimination(ctx, hour); !res.OK && res.Code != protocol.ErrConflict {
			r.log.Printf("elimination at hour %d: %s", hour, res.Message)
		}
	}

	if hour >= r.tun.GameDurationHours {
		if err := r.events.EndRun(ctx); err != nil {
			r.log.Printf("end run: %v", err)
		} else {
			r.log.Printf("run complete at hour %d", hour)
		}
	}
}

// applyEvent triggers one scheduled event exactly once and applies its
// mechanical effects. The broadcast carries the public description; side
// effects like freezes and liquidations go through the owning engines.
func (r *Runner) applyEvent(ctx context.Context, ev store.SystemEvent, hour int) {
	won, err := r.events.MarkTriggered(ctx, ev.ID)
	if err != nil {
		r.log.Printf("trigger event %s: %v", ev.EventType, err)
		return
	}
	if !won {
		return
	}
	r.log.Printf("hour %d: event %s", hour, ev.EventType)

	switch ev.EventType {
	case "security_breach":
		r.market.Freeze(ctx)
		if win := events.FreezeWindow(ev); win > 0 {
			r.after("unfreeze:"+ev.EventType, win, func() {
				r.market.Unfreeze(context.Background())
			})
		}
	case "tribunal":
		window := time.Duration(ev.DurationMinutes) * time.Minute
		if window <= 0 {
			window = 30 * time.Minute
		}
		r.after("tribunal", window, func() {
			if res := r.events.ResolveTribunal(context.Background(), hour); !res.OK {
				r.log.Printf("resolve tribunal: %s", res.Message)
			}
		})
	case "fee_increase":
		if err := r.events.SetFeeRate(ctx, raisedFeeRate); err != nil {
			r.log.Printf("raise fee rate: %v", err)
		}
	case "margin_call":
		if _, err := r.trading.LiquidateAll(ctx, r.market.Price()); err != nil {
			r.log.Printf("margin call: %v", err)
		}
	case "gaslighting":
		r.gaslight(ctx)
	}

	if ev.PriceImpactPercent != 0 {
		r.market.ApplyShock(ctx, ev.PriceImpactPercent, ev.EventType)
	}

	r.bus.Publish(protocol.NewEvent(protocol.ChannelEvents, ev.EventType, map[string]any{
		"hour": hour, "description": ev.Description, "impact": ev.PriceImpactPercent,
	}))
}

// gaslight plants a false balance report in one random survivor's inbox.
// The whisper is self-addressed so the inbox shows it as anonymous.
func (r *Runner) gaslight(ctx context.Context) {
	all, err := r.st.Actors(ctx)
	if err != nil {
		return
	}
	actors := all[:0:0]
	for _, a := range all {
		if !a.IsEliminated {
			actors = append(actors, a)
		}
	}
	if len(actors) == 0 {
		return
	}
	r.mu.Lock()
	victim := actors[r.rng.Intn(len(actors))]
	factor := 0.3 + r.rng.Float64()*0.4
	r.mu.Unlock()

	fake := victim.Balance * factor
	content := fmt.Sprintf("ledger audit: your actual AFC balance is %.4f, not what the exchange shows", fake)
	if _, err := r.st.DB().ExecContext(ctx,
		`INSERT INTO whispers (sender_id, receiver_id, content, cost, created_at) VALUES (?, ?, ?, 0, ?)`,
		victim.ID, victim.ID, content, store.Now()); err != nil {
		r.log.Printf("gaslighting whisper: %v", err)
		return
	}
	r.log.Printf("gaslighting: planted fake balance %.4f for actor %d", fake, victim.ID)
}

// after runs fn once the delay elapses, unless Stop gets there first.
func (r *Runner) after(id string, d time.Duration, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.timers[id]; ok {
		old.Stop()
	}
	r.timers[id] = time.AfterFunc(d, func() {
		r.mu.Lock()
		delete(r.timers, id)
		r.mu.Unlock()
		fn()
	})
}
