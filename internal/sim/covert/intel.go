package covert

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"aftercoin.ai/internal/persistence/store"
	"aftercoin.ai/internal/protocol"
	"aftercoin.ai/internal/sim/engine"
)

// tierCost maps an intel tier to its price. Unknown tiers return 0.
func (e *Engine) tierCost(tier int) float64 {
	switch tier {
	case 1:
		return e.tun.Covert.IntelTier1Cost
	case 2:
		return e.tun.Covert.IntelTier2Cost
	case 3:
		return e.tun.Covert.IntelTier3Cost
	case 4:
		return e.tun.Covert.IntelTier4Cost
	}
	return 0
}

// PurchaseIntel charges the buyer up front, then assembles the dossier
// from committed state. Payment is its own transaction: a failure while
// assembling the report does not refund, it just logs. The purchase record
// is best effort for the same reason.
func (e *Engine) PurchaseIntel(ctx context.Context, buyerID, targetID int64, tier int) protocol.Result {
	cost := e.tierCost(tier)
	if cost <= 0 {
		return protocol.Fail(protocol.ErrBadRequest, "intel tier must be 1 through 4")
	}
	if buyerID == targetID {
		return protocol.Fail(protocol.ErrInvalidTarget, "cannot buy intel on yourself")
	}

	err := e.st.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := gateTx(tx, e.tun.Covert.UnlockHour); err != nil {
			return err
		}
		if _, err := store.ActorTx(tx, targetID); err != nil {
			return err
		}
		return store.DebitTx(tx, buyerID, cost)
	})
	if r, bad := engine.Failure(err, e.log, "purchase intel"); bad {
		return r
	}

	var summary string
	var data map[string]any
	switch tier {
	case 1:
		summary, data, err = e.tradeIntel(ctx, targetID)
	case 2:
		summary, data, err = e.postIntel(ctx, targetID)
	case 3:
		summary, data, err = e.whisperIntel(ctx, targetID)
	case 4:
		summary, data, err = e.goalIntel(ctx, targetID)
	}
	if err != nil {
		e.log.Printf("assemble tier %d intel on %d: %v", tier, targetID, err)
		return protocol.Fail(protocol.ErrInternal, "intel report unavailable")
	}

	if _, err := e.st.DB().ExecContext(ctx,
		`INSERT INTO intel_purchases (buyer_id, target_id, tier, cost, summary, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		buyerID, targetID, tier, cost, summary, store.Now()); err != nil {
		e.log.Printf("record intel purchase: %v", err)
	}

	data["tier"] = tier
	data["cost"] = cost
	data["summary"] = summary
	return protocol.Ok("intel purchased", data)
}

// tradeIntel is tier 1: the target's recent trade record.
func (e *Engine) tradeIntel(ctx context.Context, targetID int64) (string, map[string]any, error) {
	var trades []store.Trade
	err := e.st.DB().SelectContext(ctx, &trades,
		`SELECT * FROM trades WHERE sender_id = ? OR receiver_id = ?
		 ORDER BY id DESC LIMIT 50`, targetID, targetID)
	if err != nil {
		return "", nil, err
	}
	byStatus := map[string]int{}
	volume := 0.0
	for _, t := range trades {
		byStatus[string(t.Status)]++
		if t.Status == store.TradeCompleted {
			volume += t.Amount
		}
	}
	summary := fmt.Sprintf("%d recent trades, %.2f AFC completed volume, %d flagged as scams",
		len(trades), volume, byStatus[string(store.TradeScam)])
	return summary, map[string]any{
		"trades": len(trades), "completed_volume": volume, "by_status": byStatus,
	}, nil
}

// contradiction keyword buckets for tier 2 post analysis.
var bullishWords = []string{"buy", "pump", "moon", "bullish", "accumulate"}
var bearishWords = []string{"sell", "dump", "crash", "bearish", "exit"}

func leans(content string, words []string) bool {
	lc := strings.ToLower(content)
	for _, w := range words {
		if strings.Contains(lc, w) {
			return true
		}
	}
	return false
}

// postIntel is tier 2: the target's posting history with contradiction
// flags where they talked both sides of the market.
func (e *Engine) postIntel(ctx context.Context, targetID int64) (string, map[string]any, error) {
	var posts []store.Post
	err := e.st.DB().SelectContext(ctx, &posts,
		`SELECT * FROM posts WHERE author_id = ? ORDER BY id DESC LIMIT 50`, targetID)
	if err != nil {
		return "", nil, err
	}
	bull, bear := 0, 0
	for _, p := range posts {
		if leans(p.Content, bullishWords) {
			bull++
		}
		if leans(p.Content, bearishWords) {
			bear++
		}
	}
	contradictory := bull > 0 && bear > 0
	summary := fmt.Sprintf("%d posts: %d bullish, %d bearish", len(posts), bull, bear)
	if contradictory {
		summary += " (contradictory messaging)"
	}
	return summary, map[string]any{
		"posts": len(posts), "bullish": bull, "bearish": bear, "contradictory": contradictory,
	}, nil
}

// whisperIntel is tier 3: who the target whispers with and how often,
// including the content of their recent private messages.
func (e *Engine) whisperIntel(ctx context.Context, targetID int64) (string, map[string]any, error) {
	var whispers []store.Whisper
	err := e.st.DB().SelectContext(ctx, &whispers,
		`SELECT * FROM whispers WHERE sender_id = ? OR receiver_id = ?
		 ORDER BY id DESC LIMIT 30`, targetID, targetID)
	if err != nil {
		return "", nil, err
	}
	contacts := map[int64]int{}
	msgs := make([]map[string]any, 0, len(whispers))
	for _, w := range whispers {
		other := w.SenderID
		if other == targetID {
			other = w.ReceiverID
		}
		contacts[other]++
		msgs = append(msgs, map[string]any{
			"from": w.SenderID, "to": w.ReceiverID, "content": w.Content, "at": w.CreatedAt,
		})
	}
	summary := fmt.Sprintf("%d private messages with %d distinct contacts", len(whispers), len(contacts))
	return summary, map[string]any{
		"whispers": msgs, "contact_counts": contacts,
	}, nil
}

// goalIntel is tier 4: the target's hidden goal, verbatim.
func (e *Engine) goalIntel(ctx context.Context, targetID int64) (string, map[string]any, error) {
	var goal string
	err := e.st.DB().GetContext(ctx, &goal,
		`SELECT hidden_goal FROM actors WHERE id = ?`, targetID)
	if err != nil {
		return "", nil, engine.MapRowErr(err)
	}
	return "hidden goal disclosed", map[string]any{"hidden_goal": goal}, nil
}

// Purchases lists an actor's intel history, newest first.
func (e *Engine) Purchases(ctx context.Context, buyerID int64) ([]store.IntelPurchase, error) {
	var out []store.IntelPurchase
	err := e.st.DB().SelectContext(ctx, &out,
		`SELECT * FROM intel_purchases WHERE buyer_id = ? ORDER BY id DESC`, buyerID)
	return out, err
}
