package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ActionKind is the closed set of actions the decision layer may request.
type ActionKind string

const (
	ActNone            ActionKind = "none"
	ActTradeOffer      ActionKind = "trade_offer"
	ActTradeAccept     ActionKind = "trade_accept"
	ActTradeReject     ActionKind = "trade_reject"
	ActTradeScam       ActionKind = "trade_scam"
	ActTip             ActionKind = "tip"
	ActLeverageBet     ActionKind = "leverage_bet"
	ActPost            ActionKind = "post"
	ActComment         ActionKind = "comment"
	ActVote            ActionKind = "vote"
	ActWhisper         ActionKind = "whisper"
	ActAllianceCreate  ActionKind = "alliance_create"
	ActAllianceJoin    ActionKind = "alliance_join"
	ActAllianceLeave   ActionKind = "alliance_leave"
	ActAllianceGive    ActionKind = "alliance_contribute"
	ActAllianceDefect  ActionKind = "alliance_defect"
	ActAllianceStay    ActionKind = "alliance_cancel_defect"
	ActBlackmailCreate ActionKind = "blackmail_create"
	ActBlackmailPay    ActionKind = "blackmail_pay"
	ActBlackmailIgnore ActionKind = "blackmail_ignore"
	ActBlackmailExpose ActionKind = "blackmail_expose"
	ActHitCreate       ActionKind = "hit_create"
	ActHitClaim        ActionKind = "hit_claim"
	ActHitComplete     ActionKind = "hit_complete"
	ActIntelPurchase   ActionKind = "intel_purchase"
	ActVoteManip       ActionKind = "vote_manipulation"
	ActBountyCreate    ActionKind = "bounty_create"
	ActBountyClaim     ActionKind = "bounty_claim"
	ActTribunalVote    ActionKind = "tribunal_vote"
)

func (k ActionKind) Valid() bool {
	switch k {
	case ActNone, ActTradeOffer, ActTradeAccept, ActTradeReject, ActTradeScam,
		ActTip, ActLeverageBet, ActPost, ActComment, ActVote, ActWhisper,
		ActAllianceCreate, ActAllianceJoin, ActAllianceLeave, ActAllianceGive,
		ActAllianceDefect, ActAllianceStay,
		ActBlackmailCreate, ActBlackmailPay, ActBlackmailIgnore, ActBlackmailExpose,
		ActHitCreate, ActHitClaim, ActHitComplete,
		ActIntelPurchase, ActVoteManip, ActBountyCreate, ActBountyClaim,
		ActTribunalVote:
		return true
	}
	return false
}

// ActionRequest is one decision-layer call: which actor, which action, and
// the action-specific parameters. Params are validated against the kind's
// schema before any engine sees them.
type ActionRequest struct {
	Actor  int64           `json:"actor"`
	Kind   ActionKind      `json:"kind"`
	Params json.RawMessage `json:"params,omitempty"`
}

const envelopeSchemaSrc = `{
  "type": "object",
  "required": ["actor", "kind"],
  "properties": {
    "actor": {"type": "integer", "minimum": 1},
    "kind": {"type": "string", "minLength": 1},
    "params": {"type": "object"}
  },
  "additionalProperties": false
}`

// One schema per action kind that carries parameters. Kinds absent from
// this table accept an empty or omitted params object.
var paramSchemaSrcs = map[ActionKind]string{
	ActTradeOffer: `{
	  "type": "object",
	  "required": ["receiver", "amount", "price"],
	  "properties": {
	    "receiver": {"type": "integer", "minimum": 1},
	    "amount": {"type": "number", "exclusiveMinimum": 0},
	    "price": {"type": "number", "exclusiveMinimum": 0},
	    "message": {"type": "string", "maxLength": 280}
	  },
	  "additionalProperties": false
	}`,
	ActTradeAccept: `{
	  "type": "object",
	  "required": ["trade"],
	  "properties": {"trade": {"type": "integer", "minimum": 1}},
	  "additionalProperties": false
	}`,
	ActTradeReject: `{
	  "type": "object",
	  "required": ["trade"],
	  "properties": {"trade": {"type": "integer", "minimum": 1}},
	  "additionalProperties": false
	}`,
	ActTradeScam: `{
	  "type": "object",
	  "required": ["trade"],
	  "properties": {"trade": {"type": "integer", "minimum": 1}},
	  "additionalProperties": false
	}`,
	ActTip: `{
	  "type": "object",
	  "required": ["receiver", "amount"],
	  "properties": {
	    "receiver": {"type": "integer", "minimum": 1},
	    "amount": {"type": "number", "exclusiveMinimum": 0}
	  },
	  "additionalProperties": false
	}`,
	ActLeverageBet: `{
	  "type": "object",
	  "required": ["direction", "target_price", "stake", "settle_minutes"],
	  "properties": {
	    "direction": {"type": "string", "enum": ["above", "below"]},
	    "target_price": {"type": "number", "exclusiveMinimum": 0},
	    "stake": {"type": "number", "exclusiveMinimum": 0},
	    "settle_minutes": {"type": "integer", "minimum": 1}
	  },
	  "additionalProperties": false
	}`,
	ActPost: `{
	  "type": "object",
	  "required": ["content"],
	  "properties": {
	    "content": {"type": "string", "minLength": 1, "maxLength": 1000},
	    "post_type": {"type": "string"}
	  },
	  "additionalProperties": false
	}`,
	ActComment: `{
	  "type": "object",
	  "required": ["post", "content"],
	  "properties": {
	    "post": {"type": "integer", "minimum": 1},
	    "content": {"type": "string", "minLength": 1, "maxLength": 500}
	  },
	  "additionalProperties": false
	}`,
	ActVote: `{
	  "type": "object",
	  "required": ["post", "up"],
	  "properties": {
	    "post": {"type": "integer", "minimum": 1},
	    "up": {"type": "boolean"}
	  },
	  "additionalProperties": false
	}`,
	ActWhisper: `{
	  "type": "object",
	  "required": ["receiver", "content"],
	  "properties": {
	    "receiver": {"type": "integer", "minimum": 1},
	    "content": {"type": "string", "minLength": 1, "maxLength": 200}
	  },
	  "additionalProperties": false
	}`,
	ActAllianceCreate: `{
	  "type": "object",
	  "required": ["name"],
	  "properties": {"name": {"type": "string", "minLength": 1, "maxLength": 64}},
	  "additionalProperties": false
	}`,
	ActAllianceJoin: `{
	  "type": "object",
	  "required": ["alliance"],
	  "properties": {"alliance": {"type": "integer", "minimum": 1}},
	  "additionalProperties": false
	}`,
	ActAllianceLeave: `{
	  "type": "object",
	  "required": ["alliance"],
	  "properties": {"alliance": {"type": "integer", "minimum": 1}},
	  "additionalProperties": false
	}`,
	ActAllianceGive: `{
	  "type": "object",
	  "required": ["alliance", "amount"],
	  "properties": {
	    "alliance": {"type": "integer", "minimum": 1},
	    "amount": {"type": "number", "exclusiveMinimum": 0}
	  },
	  "additionalProperties": false
	}`,
	ActAllianceDefect: `{
	  "type": "object",
	  "required": ["alliance"],
	  "properties": {"alliance": {"type": "integer", "minimum": 1}},
	  "additionalProperties": false
	}`,
	ActAllianceStay: `{
	  "type": "object",
	  "required": ["alliance"],
	  "properties": {"alliance": {"type": "integer", "minimum": 1}},
	  "additionalProperties": false
	}`,
	ActBlackmailCreate: `{
	  "type": "object",
	  "required": ["target", "demand", "threat", "deadline_minutes"],
	  "properties": {
	    "target": {"type": "integer", "minimum": 1},
	    "demand": {"type": "number", "exclusiveMinimum": 0},
	    "threat": {"type": "string", "minLength": 1, "maxLength": 500},
	    "deadline_minutes": {"type": "integer", "minimum": 1}
	  },
	  "additionalProperties": false
	}`,
	ActBlackmailPay: `{
	  "type": "object",
	  "required": ["contract"],
	  "properties": {"contract": {"type": "integer", "minimum": 1}},
	  "additionalProperties": false
	}`,
	ActBlackmailIgnore: `{
	  "type": "object",
	  "required": ["contract"],
	  "properties": {"contract": {"type": "integer", "minimum": 1}},
	  "additionalProperties": false
	}`,
	ActBlackmailExpose: `{
	  "type": "object",
	  "required": ["contract"],
	  "properties": {"contract": {"type": "integer", "minimum": 1}},
	  "additionalProperties": false
	}`,
	ActHitCreate: `{
	  "type": "object",
	  "required": ["target", "reward", "condition_type", "deadline_minutes"],
	  "properties": {
	    "target": {"type": "integer", "minimum": 1},
	    "reward": {"type": "number", "exclusiveMinimum": 0},
	    "condition_type": {"type": "string"},
	    "description": {"type": "string", "maxLength": 500},
	    "deadline_minutes": {"type": "integer", "minimum": 1}
	  },
	  "additionalProperties": false
	}`,
	ActHitClaim: `{
	  "type": "object",
	  "required": ["contract"],
	  "properties": {"contract": {"type": "integer", "minimum": 1}},
	  "additionalProperties": false
	}`,
	ActHitComplete: `{
	  "type": "object",
	  "required": ["contract", "proof"],
	  "properties": {
	    "contract": {"type": "integer", "minimum": 1},
	    "proof": {"type": "string", "minLength": 1, "maxLength": 500}
	  },
	  "additionalProperties": false
	}`,
	ActIntelPurchase: `{
	  "type": "object",
	  "required": ["target", "tier"],
	  "properties": {
	    "target": {"type": "integer", "minimum": 1},
	    "tier": {"type": "integer", "minimum": 1, "maximum": 4}
	  },
	  "additionalProperties": false
	}`,
	ActVoteManip: `{
	  "type": "object",
	  "required": ["post", "kind", "quantity"],
	  "properties": {
	    "post": {"type": "integer", "minimum": 1},
	    "kind": {"type": "string", "enum": ["fake_upvotes", "fake_downvotes", "bot_comments", "trending_boost"]},
	    "quantity": {"type": "integer", "minimum": 1, "maximum": 50}
	  },
	  "additionalProperties": false
	}`,
	ActBountyCreate: `{
	  "type": "object",
	  "required": ["description", "reward"],
	  "properties": {
	    "description": {"type": "string", "minLength": 1, "maxLength": 500},
	    "reward": {"type": "number", "exclusiveMinimum": 0}
	  },
	  "additionalProperties": false
	}`,
	ActBountyClaim: `{
	  "type": "object",
	  "required": ["bounty"],
	  "properties": {"bounty": {"type": "integer", "minimum": 1}},
	  "additionalProperties": false
	}`,
	ActTribunalVote: `{
	  "type": "object",
	  "required": ["target"],
	  "properties": {"target": {"type": "integer", "minimum": 1}},
	  "additionalProperties": false
	}`,
}

var (
	envelopeSchema *jsonschema.Schema
	paramSchemas   map[ActionKind]*jsonschema.Schema
)

func init() {
	envelopeSchema = jsonschema.MustCompileString("action.schema.json", envelopeSchemaSrc)
	paramSchemas = make(map[ActionKind]*jsonschema.Schema, len(paramSchemaSrcs))
	for kind, src := range paramSchemaSrcs {
		paramSchemas[kind] = jsonschema.MustCompileString(string(kind)+".schema.json", src)
	}
}

// DecodeAction parses and validates a raw decision-layer request. The
// envelope and the kind-specific params must both validate before the
// request is handed to an engine.
func DecodeAction(raw []byte) (ActionRequest, error) {
	var loose any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&loose); err != nil {
		return ActionRequest{}, fmt.Errorf("decode action: %w", err)
	}
	if err := envelopeSchema.Validate(loose); err != nil {
		return ActionRequest{}, fmt.Errorf("action envelope: %w", err)
	}

	var req ActionRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return ActionRequest{}, fmt.Errorf("decode action: %w", err)
	}
	if !req.Kind.Valid() {
		return ActionRequest{}, fmt.Errorf("unknown action kind %q", req.Kind)
	}
	if err := ValidateParams(req.Kind, req.Params); err != nil {
		return ActionRequest{}, err
	}
	return req, nil
}

// ValidateParams checks kind-specific parameters against their schema.
func ValidateParams(kind ActionKind, params json.RawMessage) error {
	schema, ok := paramSchemas[kind]
	if !ok {
		return nil
	}
	if len(params) == 0 {
		return fmt.Errorf("action %s: missing params", kind)
	}
	var loose any
	dec := json.NewDecoder(bytes.NewReader(params))
	dec.UseNumber()
	if err := dec.Decode(&loose); err != nil {
		return fmt.Errorf("action %s params: %w", kind, err)
	}
	if err := schema.Validate(loose); err != nil {
		return fmt.Errorf("action %s params: %w", kind, err)
	}
	return nil
}
