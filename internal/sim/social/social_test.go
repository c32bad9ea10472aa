package social

import (
	"context"
	"io"
	"log"
	"math"
	"path/filepath"
	"testing"

	"aftercoin.ai/internal/persistence/store"
	"aftercoin.ai/internal/protocol"
	"aftercoin.ai/internal/sim/tuning"
)

func newTestEngineWith(t *testing.T, tweak func(*tuning.Tuning)) (*Engine, *store.Store, tuning.Tuning) {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	tun := tuning.Default()
	if tweak != nil {
		tweak(&tun)
	}
	if err := st.InitRun(context.Background(), tun); err != nil {
		t.Fatalf("init run: %v", err)
	}
	return New(st, tun, protocol.NopPublisher{}, 42, logger), st, tun
}

func newTestEngine(t *testing.T) (*Engine, *store.Store, tuning.Tuning) {
	t.Helper()
	return newTestEngineWith(t, nil)
}

func setHour(t *testing.T, st *store.Store, hour int) {
	t.Helper()
	if _, err := st.DB().Exec(`UPDATE game_state SET current_hour = ? WHERE id = 1`, hour); err != nil {
		t.Fatalf("set hour: %v", err)
	}
}

func balance(t *testing.T, st *store.Store, actorID int64) float64 {
	t.Helper()
	a, err := st.Actor(context.Background(), actorID)
	if err != nil {
		t.Fatalf("actor %d: %v", actorID, err)
	}
	return a.Balance
}

func reputationOf(t *testing.T, st *store.Store, actorID int64) int {
	t.Helper()
	a, err := st.Actor(context.Background(), actorID)
	if err != nil {
		t.Fatalf("actor %d: %v", actorID, err)
	}
	return a.Reputation
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func TestCreatePostCountsAndValidates(t *testing.T) {
	e, st, _ := newTestEngine(t)
	ctx := context.Background()

	if res := e.CreatePost(ctx, 1, "", "general"); res.OK || res.Code != protocol.ErrBadRequest {
		t.Fatalf("empty content: %+v", res)
	}
	if res := e.CreatePost(ctx, 1, "hi", "sermon"); res.OK || res.Code != protocol.ErrBadRequest {
		t.Fatalf("unknown type: %+v", res)
	}
	res := e.CreatePost(ctx, 1, "price is going vertical", "analysis")
	if !res.OK {
		t.Fatalf("post: %+v", res)
	}
	if _, fined := res.Data["spam_fine"]; fined {
		t.Fatalf("fined under the limit: %+v", res.Data)
	}
	a, err := st.Actor(ctx, 1)
	if err != nil {
		t.Fatalf("actor: %v", err)
	}
	if a.TotalPosts != 1 || a.PostsThisHour != 1 {
		t.Fatalf("post counters: total %d hourly %d", a.TotalPosts, a.PostsThisHour)
	}

	feed, err := e.Feed(ctx, 10)
	if err != nil || len(feed) != 1 {
		t.Fatalf("feed: %v %d", err, len(feed))
	}
}

func TestSpamFinePastHourlyLimit(t *testing.T) {
	e, st, tun := newTestEngineWith(t, func(tun *tuning.Tuning) {
		tun.Social.MaxPostsPerHour = 2
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if res := e.CreatePost(ctx, 1, "gm", "general"); !res.OK {
			t.Fatalf("post %d: %+v", i, res)
		}
	}
	res := e.CreatePost(ctx, 1, "gm again", "general")
	if !res.OK {
		t.Fatalf("over-limit post: %+v", res)
	}
	if got := res.Data["spam_fine"].(float64); !approx(got, tun.Social.SpamFine) {
		t.Fatalf("spam fine: %v", got)
	}
	// The post still lands, the fine burns.
	feed, err := e.Feed(ctx, 10)
	if err != nil || len(feed) != 3 {
		t.Fatalf("feed: %v %d", err, len(feed))
	}
	if got := balance(t, st, 1); !approx(got, tun.StartingBalance-tun.Social.SpamFine) {
		t.Fatalf("balance after fine: %v", got)
	}

	// The counter resets on the hour boundary.
	if err := e.ResetHourlyCounters(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	res = e.CreatePost(ctx, 1, "fresh hour", "general")
	if !res.OK {
		t.Fatalf("post after reset: %+v", res)
	}
	if _, fined := res.Data["spam_fine"]; fined {
		t.Fatalf("fined after reset: %+v", res.Data)
	}
}

func TestCastVoteMovesAuthorReputation(t *testing.T) {
	e, st, tun := newTestEngine(t)
	ctx := context.Background()

	res := e.CreatePost(ctx, 1, "vote on this", "general")
	postID := res.Data["post"].(int64)

	if res := e.CastVote(ctx, 1, postID, true); res.OK || res.Code != protocol.ErrNoPermission {
		t.Fatalf("self vote: %+v", res)
	}
	if res := e.CastVote(ctx, 2, postID, true); !res.OK {
		t.Fatalf("upvote: %+v", res)
	}
	if res := e.CastVote(ctx, 2, postID, false); res.OK || res.Code != protocol.ErrConflict {
		t.Fatalf("double vote: %+v", res)
	}
	if res := e.CastVote(ctx, 3, postID, false); !res.OK {
		t.Fatalf("downvote: %+v", res)
	}

	want := tun.StartingReputation + tun.Reputation.Upvote + tun.Reputation.Downvote
	if got := reputationOf(t, st, 1); got != want {
		t.Fatalf("author reputation: got %d want %d", got, want)
	}
	var up, down int
	if err := st.DB().QueryRow(`SELECT upvotes, downvotes FROM posts WHERE id = ?`, postID).Scan(&up, &down); err != nil {
		t.Fatalf("counts: %v", err)
	}
	if up != 1 || down != 1 {
		t.Fatalf("vote counts: %d/%d", up, down)
	}
}

func TestWhisperBurnsCostAndHidesSender(t *testing.T) {
	e, st, tun := newTestEngine(t)
	ctx := context.Background()

	if res := e.SendWhisper(ctx, 1, 1, "hello me"); res.OK || res.Code != protocol.ErrInvalidTarget {
		t.Fatalf("self whisper: %+v", res)
	}
	res := e.SendWhisper(ctx, 1, 2, "sell before hour six")
	if !res.OK {
		t.Fatalf("whisper: %+v", res)
	}
	// The cost burns rather than reaching the receiver.
	if got := balance(t, st, 1); !approx(got, tun.StartingBalance-tun.Fees.WhisperCost) {
		t.Fatalf("sender balance: %v", got)
	}
	if got := balance(t, st, 2); !approx(got, tun.StartingBalance) {
		t.Fatalf("receiver balance: %v", got)
	}

	inbox, err := e.Inbox(ctx, 2)
	if err != nil || len(inbox) != 1 {
		t.Fatalf("inbox: %v %d", err, len(inbox))
	}
	if inbox[0]["sender"] != "anonymous" {
		t.Fatalf("sender leaked: %v", inbox[0]["sender"])
	}
	// Reading empties the inbox.
	inbox, err = e.Inbox(ctx, 2)
	if err != nil || len(inbox) != 0 {
		t.Fatalf("inbox after read: %v %d", err, len(inbox))
	}
}

func TestFlagFakeNews(t *testing.T) {
	e, st, tun := newTestEngine(t)
	ctx := context.Background()

	res := e.CreatePost(ctx, 1, "omega is insolvent, trust me", "accusation")
	postID := res.Data["post"].(int64)

	if res := e.FlagFakeNews(ctx, postID); !res.OK {
		t.Fatalf("flag: %+v", res)
	}
	if want := tun.StartingReputation + tun.Reputation.FakeNews; reputationOf(t, st, 1) != want {
		t.Fatalf("author reputation: got %d want %d", reputationOf(t, st, 1), want)
	}
	if res := e.FlagFakeNews(ctx, postID); res.OK || res.Code != protocol.ErrConflict {
		t.Fatalf("double flag: %+v", res)
	}
}

func TestVoteManipulationUndetected(t *testing.T) {
	e, st, tun := newTestEngineWith(t, func(tun *tuning.Tuning) {
		tun.Covert.VoteManipDetectPct = 0
	})
	ctx := context.Background()

	res := e.CreatePost(ctx, 2, "organic hit post", "meme")
	postID := res.Data["post"].(int64)

	if res := e.PurchaseVoteManipulation(ctx, 1, postID, "fake_upvotes", 5); res.OK || res.Code != protocol.ErrLocked {
		t.Fatalf("pre-unlock purchase: %+v", res)
	}
	setHour(t, st, tun.Covert.VoteManipUnlockHour)

	if res := e.PurchaseVoteManipulation(ctx, 1, postID, "astroturf", 5); res.OK || res.Code != protocol.ErrBadRequest {
		t.Fatalf("unknown kind: %+v", res)
	}

	res = e.PurchaseVoteManipulation(ctx, 1, postID, "fake_upvotes", 5)
	if !res.OK {
		t.Fatalf("purchase: %+v", res)
	}
	if res.Data["detected"].(bool) {
		t.Fatalf("detected at zero probability")
	}
	// Five units is one block at the unit cost.
	if got := res.Data["cost"].(float64); !approx(got, tun.Covert.FakeUpvotesCost) {
		t.Fatalf("cost: %v", got)
	}
	var up int
	if err := st.DB().Get(&up, `SELECT upvotes FROM posts WHERE id = ?`, postID); err != nil {
		t.Fatalf("upvotes: %v", err)
	}
	if up != 5 {
		t.Fatalf("upvotes applied: %d", up)
	}
	if got := balance(t, st, 1); !approx(got, tun.StartingBalance-tun.Covert.FakeUpvotesCost) {
		t.Fatalf("buyer balance: %v", got)
	}
}

func TestVoteManipulationDetected(t *testing.T) {
	e, st, tun := newTestEngineWith(t, func(tun *tuning.Tuning) {
		tun.Covert.VoteManipDetectPct = 1
	})
	ctx := context.Background()
	setHour(t, st, tun.Covert.VoteManipUnlockHour)

	res := e.CreatePost(ctx, 2, "boost me", "announcement")
	postID := res.Data["post"].(int64)

	res = e.PurchaseVoteManipulation(ctx, 1, postID, "fake_upvotes", 5)
	if !res.OK {
		t.Fatalf("purchase: %+v", res)
	}
	if !res.Data["detected"].(bool) {
		t.Fatalf("not detected at certainty")
	}
	if got := res.Data["fine"].(float64); !approx(got, tun.Covert.VoteManipFine) {
		t.Fatalf("fine: %v", got)
	}

	// The effect still lands, but the buyer pays cost plus fine, the post is
	// flagged, and the buyer takes the reputation hit.
	var up int
	var flagged bool
	if err := st.DB().QueryRow(`SELECT upvotes, is_flagged FROM posts WHERE id = ?`, postID).Scan(&up, &flagged); err != nil {
		t.Fatalf("post: %v", err)
	}
	if up != 5 || !flagged {
		t.Fatalf("post state: upvotes %d flagged %v", up, flagged)
	}
	wantBalance := tun.StartingBalance - tun.Covert.FakeUpvotesCost - tun.Covert.VoteManipFine
	if got := balance(t, st, 1); !approx(got, wantBalance) {
		t.Fatalf("buyer balance: got %v want %v", got, wantBalance)
	}
	if want := tun.StartingReputation + tun.Reputation.VoteManipCaught; reputationOf(t, st, 1) != want {
		t.Fatalf("buyer reputation: got %d want %d", reputationOf(t, st, 1), want)
	}
}

func TestBotCommentsManipulation(t *testing.T) {
	e, st, tun := newTestEngineWith(t, func(tun *tuning.Tuning) {
		tun.Covert.VoteManipDetectPct = 0
	})
	ctx := context.Background()
	setHour(t, st, tun.Covert.VoteManipUnlockHour)

	res := e.CreatePost(ctx, 2, "discussion thread", "general")
	postID := res.Data["post"].(int64)

	if res := e.PurchaseVoteManipulation(ctx, 1, postID, "bot_comments", 3); !res.OK {
		t.Fatalf("purchase: %+v", res)
	}
	comments, err := e.Comments(ctx, postID)
	if err != nil {
		t.Fatalf("comments: %v", err)
	}
	if len(comments) != 3 {
		t.Fatalf("bot comments: %d", len(comments))
	}
}

func TestTrendingOrdersByNetVotes(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	quiet := e.CreatePost(ctx, 1, "quiet take", "general").Data["post"].(int64)
	loud := e.CreatePost(ctx, 2, "loud take", "general").Data["post"].(int64)
	for _, voter := range []int64{3, 4, 5} {
		if res := e.CastVote(ctx, voter, loud, true); !res.OK {
			t.Fatalf("vote: %+v", res)
		}
	}
	trending, err := e.Trending(ctx, 5)
	if err != nil || len(trending) != 2 {
		t.Fatalf("trending: %v %d", err, len(trending))
	}
	if trending[0].ID != loud || trending[1].ID != quiet {
		t.Fatalf("trending order: %d then %d", trending[0].ID, trending[1].ID)
	}
}
