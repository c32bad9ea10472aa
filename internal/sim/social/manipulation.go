package social

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"aftercoin.ai/internal/persistence/store"
	"aftercoin.ai/internal/protocol"
	"aftercoin.ai/internal/sim/engine"
	"aftercoin.ai/internal/sim/reputation"
)

var botComments = []string{
	"this is the way",
	"huge if true",
	"finally someone says it",
	"accurate.",
	"been saying this for hours",
}

func (e *Engine) manipCost(kind string) float64 {
	switch kind {
	case "fake_upvotes":
		return e.tun.Covert.FakeUpvotesCost
	case "fake_downvotes":
		return e.tun.Covert.FakeDownvotesCost
	case "bot_comments":
		return e.tun.Covert.BotCommentsCost
	case "trending_boost":
		return e.tun.Covert.TrendingBoostCost
	}
	return 0
}

// PurchaseVoteManipulation buys fake engagement on a post. Priced per
// block of five units, gated behind the manipulation unlock hour. The
// effect always lands, but each purchase risks detection: a detected
// buyer pays the fine and takes the reputation hit, and the purchase is
// marked so the feed can flag it.
func (e *Engine) PurchaseVoteManipulation(ctx context.Context, buyerID, postID int64, kind string, quantity int) protocol.Result {
	unitCost := e.manipCost(kind)
	if unitCost <= 0 {
		return protocol.Fail(protocol.ErrBadRequest, "unknown manipulation kind")
	}
	if quantity <= 0 || quantity > 100 {
		return protocol.Fail(protocol.ErrBadRequest, "quantity must be 1 to 100")
	}
	blocks := (quantity + 4) / 5
	cost := unitCost * float64(blocks)

	e.mu.Lock()
	detected := e.rng.Float64() < e.tun.Covert.VoteManipDetectPct
	e.mu.Unlock()

	var purchaseID int64
	var fine float64
	err := e.st.WithTx(ctx, func(tx *sqlx.Tx) error {
		gs, err := store.GameStateTx(tx)
		if err != nil {
			return err
		}
		if gs.CurrentHour < e.tun.Covert.VoteManipUnlockHour {
			return engine.ErrGateLocked
		}
		p, err := postTx(tx, postID)
		if err != nil {
			return err
		}
		if err := store.DebitTx(tx, buyerID, cost); err != nil {
			return err
		}

		switch kind {
		case "fake_upvotes", "trending_boost":
			if _, err := tx.Exec(`UPDATE posts SET upvotes = upvotes + ? WHERE id = ?`, quantity, p.ID); err != nil {
				return err
			}
		case "fake_downvotes":
			if _, err := tx.Exec(`UPDATE posts SET downvotes = downvotes + ? WHERE id = ?`, quantity, p.ID); err != nil {
				return err
			}
		case "bot_comments":
			now := store.Now()
			for i := 0; i < quantity; i++ {
				if _, err := tx.Exec(
					`INSERT INTO comments (post_id, author_id, content, created_at) VALUES (?, ?, ?, ?)`,
					p.ID, buyerID, botComments[i%len(botComments)], now); err != nil {
					return err
				}
			}
		}

		res, err := tx.Exec(
			`INSERT INTO vote_manipulations (buyer_id, post_id, kind, quantity, cost, detected, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			buyerID, postID, kind, quantity, cost, detected, store.Now())
		if err != nil {
			return err
		}
		purchaseID, err = res.LastInsertId()
		if err != nil {
			return err
		}

		if detected {
			fine = e.tun.Covert.VoteManipFine
			// The fine is capped at whatever the buyer has left.
			if err := store.DebitTx(tx, buyerID, fine); err == store.ErrInsufficient {
				var a store.Actor
				if err := tx.Get(&a, `SELECT * FROM actors WHERE id = ?`, buyerID); err != nil {
					return engine.MapRowErr(err)
				}
				fine = a.Balance
				if fine > 0 {
					if err := store.DebitTx(tx, buyerID, fine); err != nil {
						return err
					}
				}
			} else if err != nil {
				return err
			}
			if _, err := tx.Exec(`UPDATE posts SET is_flagged = 1 WHERE id = ?`, p.ID); err != nil {
				return err
			}
			if _, err := reputation.ApplyTx(tx, e.tun, buyerID, reputation.CauseVoteManipCaught); err != nil {
				return err
			}
		}
		return nil
	})
	if r, bad := engine.Failure(err, e.log, "purchase vote manipulation"); bad {
		return r
	}

	if detected {
		e.bus.Publish(protocol.NewEvent(protocol.ChannelSocial, "manipulation_detected", map[string]any{
			"buyer": buyerID, "post": postID, "kind": kind, "fine": fine,
		}))
		return protocol.Ok(fmt.Sprintf("manipulation applied but detected, fined %.2f AFC", fine),
			map[string]any{"purchase": purchaseID, "detected": true, "fine": fine})
	}
	return protocol.Ok("manipulation applied", map[string]any{
		"purchase": purchaseID, "detected": false, "cost": cost,
	})
}
