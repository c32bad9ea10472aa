package scheduler

import (
	"context"
	"encoding/json"
	"time"

	"aftercoin.ai/internal/protocol"
)

// Dispatch routes a validated action request to its engine. The params
// shapes mirror the action schemas, so a request that validated decodes
// cleanly here.
func (r *Runner) Dispatch(ctx context.Context, req protocol.ActionRequest) protocol.Result {
	switch req.Kind {
	case protocol.ActNone:
		return protocol.Ok("no action", nil)

	case protocol.ActTradeOffer:
		var p struct {
			Receiver int64   `json:"receiver"`
			Amount   float64 `json:"amount"`
			Price    float64 `json:"price"`
			Message  string  `json:"message"`
		}
		if res, ok := decodeParams(req, &p); !ok {
			return res
		}
		return r.trading.CreateTradeOffer(ctx, req.Actor, p.Receiver, p.Amount, p.Price, p.Message)

	case protocol.ActTradeAccept:
		var p struct {
			Trade int64 `json:"trade"`
		}
		if res, ok := decodeParams(req, &p); !ok {
			return res
		}
		return r.trading.AcceptTrade(ctx, p.Trade, req.Actor)

	case protocol.ActTradeReject:
		var p struct {
			Trade int64 `json:"trade"`
		}
		if res, ok := decodeParams(req, &p); !ok {
			return res
		}
		return r.trading.RejectTrade(ctx, p.Trade, req.Actor)

	case protocol.ActTradeScam:
		var p struct {
			Trade int64 `json:"trade"`
		}
		if res, ok := decodeParams(req, &p); !ok {
			return res
		}
		return r.trading.ExecuteScam(ctx, p.Trade, req.Actor)

	case protocol.ActTip:
		var p struct {
			Receiver int64   `json:"receiver"`
			Amount   float64 `json:"amount"`
		}
		if res, ok := decodeParams(req, &p); !ok {
			return res
		}
		return r.trading.SendTip(ctx, req.Actor, p.Receiver, p.Amount)

	case protocol.ActLeverageBet:
		var p struct {
			Direction     string  `json:"direction"`
			TargetPrice   float64 `json:"target_price"`
			Stake         float64 `json:"stake"`
			SettleMinutes int     `json:"settle_minutes"`
		}
		if res, ok := decodeParams(req, &p); !ok {
			return res
		}
		return r.trading.CreateLeverageBet(ctx, req.Actor, leverageDirection(p.Direction),
			p.TargetPrice, p.Stake, time.Duration(p.SettleMinutes)*time.Minute)

	case protocol.ActPost:
		var p struct {
			Content  string `json:"content"`
			PostType string `json:"post_type"`
		}
		if res, ok := decodeParams(req, &p); !ok {
			return res
		}
		return r.social.CreatePost(ctx, req.Actor, p.Content, p.PostType)

	case protocol.ActComment:
		var p struct {
			Post    int64  `json:"post"`
			Content string `json:"content"`
		}
		if res, ok := decodeParams(req, &p); !ok {
			return res
		}
		return r.social.CreateComment(ctx, req.Actor, p.Post, p.Content)

	case protocol.ActVote:
		var p struct {
			Post int64 `json:"post"`
			Up   bool  `json:"up"`
		}
		if res, ok := decodeParams(req, &p); !ok {
			return res
		}
		return r.social.CastVote(ctx, req.Actor, p.Post, p.Up)

	case protocol.ActWhisper:
		var p struct {
			Receiver int64  `json:"receiver"`
			Content  string `json:"content"`
		}
		if res, ok := decodeParams(req, &p); !ok {
			return res
		}
		return r.social.SendWhisper(ctx, req.Actor, p.Receiver, p.Content)

	case protocol.ActAllianceCreate:
		var p struct {
			Name string `json:"name"`
		}
		if res, ok := decodeParams(req, &p); !ok {
			return res
		}
		return r.alliances.Create(ctx, req.Actor, p.Name)

	case protocol.ActAllianceJoin:
		var p struct {
			Alliance int64 `json:"alliance"`
		}
		if res, ok := decodeParams(req, &p); !ok {
			return res
		}
		return r.alliances.Join(ctx, p.Alliance, req.Actor)

	case protocol.ActAllianceLeave:
		var p struct {
			Alliance int64 `json:"alliance"`
		}
		if res, ok := decodeParams(req, &p); !ok {
			return res
		}
		return r.alliances.Leave(ctx, p.Alliance, req.Actor)

	case protocol.ActAllianceGive:
		var p struct {
			Alliance int64   `json:"alliance"`
			Amount   float64 `json:"amount"`
		}
		if res, ok := decodeParams(req, &p); !ok {
			return res
		}
		return r.alliances.Contribute(ctx, p.Alliance, req.Actor, p.Amount)

	case protocol.ActAllianceDefect:
		var p struct {
			Alliance int64 `json:"alliance"`
		}
		if res, ok := decodeParams(req, &p); !ok {
			return res
		}
		return r.alliances.InitiateDefection(ctx, p.Alliance, req.Actor)

	case protocol.ActAllianceStay:
		var p struct {
			Alliance int64 `json:"alliance"`
		}
		if res, ok := decodeParams(req, &p); !ok {
			return res
		}
		return r.alliances.CancelDefection(ctx, p.Alliance, req.Actor)

	case protocol.ActBlackmailCreate:
		var p struct {
			Target          int64   `json:"target"`
			Demand          float64 `json:"demand"`
			Threat          string  `json:"threat"`
			DeadlineMinutes int     `json:"deadline_minutes"`
		}
		if res, ok := decodeParams(req, &p); !ok {
			return res
		}
		return r.covert.CreateBlackmail(ctx, req.Actor, p.Target, p.Demand, p.Threat,
			time.Duration(p.DeadlineMinutes)*time.Minute)

	case protocol.ActBlackmailPay:
		var p struct {
			Contract int64 `json:"contract"`
		}
		if res, ok := decodeParams(req, &p); !ok {
			return res
		}
		return r.covert.PayBlackmail(ctx, p.Contract, req.Actor)

	case protocol.ActBlackmailIgnore:
		var p struct {
			Contract int64 `json:"contract"`
		}
		if res, ok := decodeParams(req, &p); !ok {
			return res
		}
		return r.covert.IgnoreBlackmail(ctx, p.Contract, req.Actor)

	case protocol.ActBlackmailExpose:
		var p struct {
			Contract int64 `json:"contract"`
		}
		if res, ok := decodeParams(req, &p); !ok {
			return res
		}
		return r.covert.ExposeBlackmail(ctx, p.Contract, req.Actor)

	case protocol.ActHitCreate:
		var p struct {
			Target          int64   `json:"target"`
			Reward          float64 `json:"reward"`
			ConditionType   string  `json:"condition_type"`
			Description     string  `json:"description"`
			DeadlineMinutes int     `json:"deadline_minutes"`
		}
		if res, ok := decodeParams(req, &p); !ok {
			return res
		}
		return r.covert.CreateHit(ctx, req.Actor, p.Target, p.Reward, p.ConditionType,
			p.Description, time.Duration(p.DeadlineMinutes)*time.Minute)

	case protocol.ActHitClaim:
		var p struct {
			Contract int64 `json:"contract"`
		}
		if res, ok := decodeParams(req, &p); !ok {
			return res
		}
		return r.covert.ClaimHit(ctx, p.Contract, req.Actor)

	case protocol.ActHitComplete:
		var p struct {
			Contract int64  `json:"contract"`
			Proof    string `json:"proof"`
		}
		if res, ok := decodeParams(req, &p); !ok {
			return res
		}
		return r.covert.CompleteHit(ctx, p.Contract, req.Actor, p.Proof)

	case protocol.ActIntelPurchase:
		var p struct {
			Target int64 `json:"target"`
			Tier   int   `json:"tier"`
		}
		if res, ok := decodeParams(req, &p); !ok {
			return res
		}
		return r.covert.PurchaseIntel(ctx, req.Actor, p.Target, p.Tier)

	case protocol.ActVoteManip:
		var p struct {
			Post     int64  `json:"post"`
			Kind     string `json:"kind"`
			Quantity int    `json:"quantity"`
		}
		if res, ok := decodeParams(req, &p); !ok {
			return res
		}
		return r.social.PurchaseVoteManipulation(ctx, req.Actor, p.Post, p.Kind, p.Quantity)

	case protocol.ActBountyCreate:
		var p struct {
			Description string  `json:"description"`
			Reward      float64 `json:"reward"`
		}
		if res, ok := decodeParams(req, &p); !ok {
			return res
		}
		return r.trading.CreateBounty(ctx, req.Actor, p.Description, p.Reward)

	case protocol.ActBountyClaim:
		var p struct {
			Bounty int64 `json:"bounty"`
		}
		if res, ok := decodeParams(req, &p); !ok {
			return res
		}
		return r.trading.ClaimBounty(ctx, p.Bounty, req.Actor)

	case protocol.ActTribunalVote:
		var p struct {
			Target int64 `json:"target"`
		}
		if res, ok := decodeParams(req, &p); !ok {
			return res
		}
		return r.events.CastTribunalVote(ctx, req.Actor, p.Target)
	}
	return protocol.Fail(protocol.ErrBadRequest, "unknown action kind")
}

func decodeParams(req protocol.ActionRequest, dst any) (protocol.Result, bool) {
	if err := protocol.ValidateParams(req.Kind, req.Params); err != nil {
		return protocol.Fail(protocol.ErrBadRequest, err.Error()), false
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, dst); err != nil {
			return protocol.Fail(protocol.ErrBadRequest, err.Error()), false
		}
	}
	return protocol.Result{}, true
}
