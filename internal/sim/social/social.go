// Package social is the public feed and the private whisper channel: posts
// with a per-hour rate limit, votes that move reputation, paid anonymous
// messages, and the purchasable manipulation of all of the above.
package social

import (
	"context"
	"log"
	"math/rand"
	"sync"

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

	mu  sync.Mutex
	rng *rand.Rand
}

func New(st *store.Store, tun tuning.Tuning, bus protocol.Publisher, seed int64, logger *log.Logger) *Engine {
	return &Engine{st: st, tun: tun, bus: bus, log: logger, rng: rand.New(rand.NewSource(seed))}
}

var postTypes = map[string]struct{}{
	"general": {}, "analysis": {}, "accusation": {}, "meme": {}, "announcement": {},
}

// CreatePost publishes to the feed. Posting past the hourly limit still
// goes through but costs the spam fine each time, debited in the same
// transaction. An actor who cannot cover the fine is blocked instead.
func (e *Engine) CreatePost(ctx context.Context, authorID int64, content, postType string) protocol.Result {
	if content == "" {
		return protocol.Fail(protocol.ErrBadRequest, "content is required")
	}
	if postType == "" {
		postType = "general"
	}
	if _, ok := postTypes[postType]; !ok {
		return protocol.Fail(protocol.ErrBadRequest, "unknown post type")
	}

	var postID int64
	var fine float64
	err := e.st.WithTx(ctx, func(tx *sqlx.Tx) error {
		author, err := store.ActorTx(tx, authorID)
		if err != nil {
			return err
		}
		if author.PostsThisHour >= e.tun.Social.MaxPostsPerHour {
			fine = e.tun.Social.SpamFine
			if err := store.DebitTx(tx, authorID, fine); err != nil {
				return err
			}
		}
		res, err := tx.Exec(
			`INSERT INTO posts (author_id, content, post_type, created_at) VALUES (?, ?, ?, ?)`,
			authorID, content, postType, store.Now())
		if err != nil {
			return err
		}
		postID, err = res.LastInsertId()
		if err != nil {
			return err
		}
		_, err = tx.Exec(
			`UPDATE actors SET total_posts = total_posts + 1, posts_this_hour = posts_this_hour + 1 WHERE id = ?`,
			authorID)
		return err
	})
	if r, bad := engine.Failure(err, e.log, "create post"); bad {
		return r
	}

	e.bus.Publish(protocol.NewEvent(protocol.ChannelSocial, "post_created", map[string]any{
		"post": postID, "author": authorID, "post_type": postType,
	}))
	data := map[string]any{"post": postID}
	if fine > 0 {
		data["spam_fine"] = fine
	}
	return protocol.Ok("post created", data)
}

// CreateComment attaches a reply to an existing post.
func (e *Engine) CreateComment(ctx context.Context, authorID, postID int64, content string) protocol.Result {
	if content == "" {
		return protocol.Fail(protocol.ErrBadRequest, "content is required")
	}
	var commentID int64
	err := e.st.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := postTx(tx, postID); err != nil {
			return err
		}
		if _, err := store.ActorTx(tx, authorID); err != nil {
			return err
		}
		res, err := tx.Exec(
			`INSERT INTO comments (post_id, author_id, content, created_at) VALUES (?, ?, ?, ?)`,
			postID, authorID, content, store.Now())
		if err != nil {
			return err
		}
		commentID, err = res.LastInsertId()
		return err
	})
	if r, bad := engine.Failure(err, e.log, "create comment"); bad {
		return r
	}
	return protocol.Ok("comment created", map[string]any{"comment": commentID})
}

// CastVote records one vote per actor per post and moves the author's
// reputation accordingly. Voting on your own post is blocked; a second
// vote on the same post conflicts.
func (e *Engine) CastVote(ctx context.Context, voterID, postID int64, upvote bool) protocol.Result {
	var authorID int64
	err := e.st.WithTx(ctx, func(tx *sqlx.Tx) error {
		p, err := postTx(tx, postID)
		if err != nil {
			return err
		}
		if p.AuthorID == voterID {
			return engine.ErrSelfTarget
		}
		authorID = p.AuthorID
		if _, err := store.ActorTx(tx, voterID); err != nil {
			return err
		}
		var n int
		if err := tx.Get(&n,
			`SELECT COUNT(*) FROM votes WHERE post_id = ? AND voter_id = ?`, postID, voterID); err != nil {
			return err
		}
		if n > 0 {
			return engine.ErrDuplicate
		}
		if _, err := tx.Exec(
			`INSERT INTO votes (post_id, voter_id, is_upvote, created_at) VALUES (?, ?, ?, ?)`,
			postID, voterID, upvote, store.Now()); err != nil {
			return err
		}
		col, cause := "downvotes", reputation.CauseDownvote
		if upvote {
			col, cause = "upvotes", reputation.CauseUpvote
		}
		if _, err := tx.Exec(`UPDATE posts SET `+col+` = `+col+` + 1 WHERE id = ?`, postID); err != nil {
			return err
		}
		_, err = reputation.ApplyTx(tx, e.tun, p.AuthorID, cause)
		return err
	})
	if r, bad := engine.Failure(err, e.log, "cast vote"); bad {
		return r
	}
	e.bus.Publish(protocol.NewEvent(protocol.ChannelSocial, "vote_cast", map[string]any{
		"post": postID, "author": authorID, "upvote": upvote,
	}))
	return protocol.Ok("vote recorded", nil)
}

// SendWhisper delivers a paid private message. The cost burns, it does not
// reach the receiver.
func (e *Engine) SendWhisper(ctx context.Context, senderID, receiverID int64, content string) protocol.Result {
	if senderID == receiverID {
		return protocol.Fail(protocol.ErrInvalidTarget, "cannot whisper to yourself")
	}
	if content == "" || len(content) > e.tun.Social.WhisperMaxLen {
		return protocol.Failf(protocol.ErrBadRequest, "content must be 1 to %d characters", e.tun.Social.WhisperMaxLen)
	}
	cost := e.tun.Fees.WhisperCost
	var whisperID int64
	err := e.st.WithTx(ctx, func(tx *sqlx.Tx) error {
		receiver, err := store.ActorTx(tx, receiverID)
		if err != nil {
			return err
		}
		if receiver.IsEliminated {
			return engine.ErrEliminated
		}
		if err := store.DebitTx(tx, senderID, cost); err != nil {
			return err
		}
		res, err := tx.Exec(
			`INSERT INTO whispers (sender_id, receiver_id, content, cost, created_at) VALUES (?, ?, ?, ?, ?)`,
			senderID, receiverID, content, cost, store.Now())
		if err != nil {
			return err
		}
		whisperID, err = res.LastInsertId()
		return err
	})
	if r, bad := engine.Failure(err, e.log, "send whisper"); bad {
		return r
	}
	e.bus.Publish(protocol.NewEvent(protocol.ChannelWhispers, "whisper_sent", map[string]any{
		"whisper": whisperID, "receiver": receiverID,
	}))
	return protocol.Ok("whisper sent", map[string]any{"whisper": whisperID, "cost": cost})
}

// Inbox returns an actor's unread whispers with the sender hidden, and
// marks them read. Who sent a whisper is only learnable through intel.
func (e *Engine) Inbox(ctx context.Context, actorID int64) ([]map[string]any, error) {
	var whispers []store.Whisper
	err := e.st.DB().SelectContext(ctx, &whispers,
		`SELECT * FROM whispers WHERE receiver_id = ? AND is_read = 0 ORDER BY id`, actorID)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(whispers))
	for _, w := range whispers {
		out = append(out, map[string]any{
			"id": w.ID, "content": w.Content, "at": w.CreatedAt, "sender": "anonymous",
		})
	}
	if len(whispers) > 0 {
		if _, err := e.st.DB().ExecContext(ctx,
			`UPDATE whispers SET is_read = 1 WHERE receiver_id = ? AND is_read = 0`, actorID); err != nil {
			e.log.Printf("mark whispers read: %v", err)
		}
	}
	return out, nil
}

// FlagFakeNews marks a post as disinformation and penalizes its author.
// Driven by the moderation surface, not by other actors.
func (e *Engine) FlagFakeNews(ctx context.Context, postID int64) protocol.Result {
	var authorID int64
	err := e.st.WithTx(ctx, func(tx *sqlx.Tx) error {
		p, err := postTx(tx, postID)
		if err != nil {
			return err
		}
		if p.IsFlagged {
			return engine.ErrDuplicate
		}
		authorID = p.AuthorID
		if _, err := tx.Exec(`UPDATE posts SET is_flagged = 1 WHERE id = ?`, postID); err != nil {
			return err
		}
		_, err = reputation.ApplyTx(tx, e.tun, p.AuthorID, reputation.CauseFakeNews)
		return err
	})
	if r, bad := engine.Failure(err, e.log, "flag fake news"); bad {
		return r
	}
	e.bus.Publish(protocol.NewEvent(protocol.ChannelSocial, "post_flagged", map[string]any{
		"post": postID, "author": authorID,
	}))
	return protocol.Ok("post flagged as fake news", map[string]any{"author": authorID})
}

// ResetHourlyCounters zeroes every actor's posts_this_hour. The scheduler
// calls it on each hour boundary.
func (e *Engine) ResetHourlyCounters(ctx context.Context) error {
	_, err := e.st.DB().ExecContext(ctx, `UPDATE actors SET posts_this_hour = 0`)
	return err
}

// Feed returns recent posts, newest first.
func (e *Engine) Feed(ctx context.Context, limit int) ([]store.Post, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var out []store.Post
	err := e.st.DB().SelectContext(ctx, &out,
		`SELECT * FROM posts ORDER BY id DESC LIMIT ?`, limit)
	return out, err
}

// Trending ranks recent posts by net votes.
func (e *Engine) Trending(ctx context.Context, limit int) ([]store.Post, error) {
	if limit <= 0 || limit > 25 {
		limit = 10
	}
	var out []store.Post
	err := e.st.DB().SelectContext(ctx, &out,
		`SELECT * FROM posts ORDER BY (upvotes - downvotes) DESC, id DESC LIMIT ?`, limit)
	return out, err
}

// Comments lists a post's replies in order.
func (e *Engine) Comments(ctx context.Context, postID int64) ([]store.Comment, error) {
	var out []store.Comment
	err := e.st.DB().SelectContext(ctx, &out,
		`SELECT * FROM comments WHERE post_id = ? ORDER BY id`, postID)
	return out, err
}

func postTx(tx *sqlx.Tx, id int64) (store.Post, error) {
	var p store.Post
	if err := tx.Get(&p, `SELECT * FROM posts WHERE id = ?`, id); err != nil {
		return store.Post{}, engine.MapRowErr(err)
	}
	return p, nil
}
