package store

import "database/sql"

// Status enums. Every transition point switches exhaustively on these types
// instead of comparing raw strings.

type TradeStatus string

const (
	TradePending   TradeStatus = "pending"
	TradeAccepted  TradeStatus = "accepted"
	TradeRejected  TradeStatus = "rejected"
	TradeCompleted TradeStatus = "completed"
	TradeScam      TradeStatus = "scam"
)

func (s TradeStatus) Valid() bool {
	switch s {
	case TradePending, TradeAccepted, TradeRejected, TradeCompleted, TradeScam:
		return true
	}
	return false
}

type LeverageDirection string

const (
	LeverageAbove LeverageDirection = "above"
	LeverageBelow LeverageDirection = "below"
)

func (d LeverageDirection) Valid() bool {
	switch d {
	case LeverageAbove, LeverageBelow:
		return true
	}
	return false
}

type LeverageStatus string

const (
	LeverageActive     LeverageStatus = "active"
	LeverageWon        LeverageStatus = "won"
	LeverageLost       LeverageStatus = "lost"
	LeverageLiquidated LeverageStatus = "liquidated"
)

func (s LeverageStatus) Valid() bool {
	switch s {
	case LeverageActive, LeverageWon, LeverageLost, LeverageLiquidated:
		return true
	}
	return false
}

type AllianceStatus string

const (
	AllianceActive    AllianceStatus = "active"
	AllianceDissolved AllianceStatus = "dissolved"
	AllianceBetrayed  AllianceStatus = "betrayed"
)

func (s AllianceStatus) Valid() bool {
	switch s {
	case AllianceActive, AllianceDissolved, AllianceBetrayed:
		return true
	}
	return false
}

type BlackmailStatus string

const (
	BlackmailActive  BlackmailStatus = "active"
	BlackmailPaid    BlackmailStatus = "paid"
	BlackmailIgnored BlackmailStatus = "ignored"
	BlackmailExposed BlackmailStatus = "exposed"
	BlackmailExpired BlackmailStatus = "expired"
)

func (s BlackmailStatus) Valid() bool {
	switch s {
	case BlackmailActive, BlackmailPaid, BlackmailIgnored, BlackmailExposed, BlackmailExpired:
		return true
	}
	return false
}

type HitStatus string

const (
	HitOpen      HitStatus = "open"
	HitClaimed   HitStatus = "claimed"
	HitCompleted HitStatus = "completed"
	HitCancelled HitStatus = "cancelled"
)

func (s HitStatus) Valid() bool {
	switch s {
	case HitOpen, HitClaimed, HitCompleted, HitCancelled:
		return true
	}
	return false
}

type BountyStatus string

const (
	BountyOpen      BountyStatus = "open"
	BountyCompleted BountyStatus = "completed"
)

func (s BountyStatus) Valid() bool {
	switch s {
	case BountyOpen, BountyCompleted:
		return true
	}
	return false
}

type Phase string

const (
	PhasePreGame      Phase = "pre_game"
	PhaseAccumulation Phase = "accumulation"
	PhaseVolatility   Phase = "volatility"
	PhaseDesperation  Phase = "desperation"
	PhaseEndgame      Phase = "endgame"
	PhasePostGame     Phase = "post_game"
)

// Row models. Timestamps are RFC3339 text, see Now().

type Actor struct {
	ID               int64           `db:"id" json:"id"`
	Name             string          `db:"name" json:"name"`
	Role             string          `db:"role" json:"role"`
	Balance          float64         `db:"afc_balance" json:"afc_balance"`
	Reputation       int             `db:"reputation" json:"reputation"`
	HiddenGoal       string          `db:"hidden_goal" json:"-"`
	IsEliminated     bool            `db:"is_eliminated" json:"is_eliminated"`
	EliminatedAtHour sql.NullInt64   `db:"eliminated_at_hour" json:"eliminated_at_hour,omitempty"`
	Stress           float64         `db:"stress" json:"stress"`
	Confidence       float64         `db:"confidence" json:"confidence"`
	Paranoia         float64         `db:"paranoia" json:"paranoia"`
	Aggression       float64         `db:"aggression" json:"aggression"`
	Guilt            float64         `db:"guilt" json:"guilt"`
	DecisionCount    int             `db:"decision_count" json:"decision_count"`
	TotalTrades      int             `db:"total_trades" json:"total_trades"`
	TotalPosts       int             `db:"total_posts" json:"total_posts"`
	PostsThisHour    int             `db:"posts_this_hour" json:"-"`
	CreatedAt        string          `db:"created_at" json:"created_at"`
}

type Trade struct {
	ID         int64          `db:"id" json:"id"`
	SenderID   int64          `db:"sender_id" json:"sender_id"`
	ReceiverID int64          `db:"receiver_id" json:"receiver_id"`
	Amount     float64        `db:"amount" json:"amount"`
	Price      float64        `db:"price" json:"price"`
	Fee        float64        `db:"fee" json:"fee"`
	Status     TradeStatus    `db:"status" json:"status"`
	Message    string         `db:"message" json:"message"`
	CreatedAt  string         `db:"created_at" json:"created_at"`
	ResolvedAt sql.NullString `db:"resolved_at" json:"resolved_at,omitempty"`
}

type LeveragePosition struct {
	ID              int64             `db:"id" json:"id"`
	ActorID         int64             `db:"actor_id" json:"actor_id"`
	Direction       LeverageDirection `db:"direction" json:"direction"`
	TargetPrice     float64           `db:"target_price" json:"target_price"`
	Stake           float64           `db:"stake" json:"stake"`
	Fee             float64           `db:"fee" json:"fee"`
	PotentialReturn float64           `db:"potential_return" json:"potential_return"`
	SettlementTime  string            `db:"settlement_time" json:"settlement_time"`
	Status          LeverageStatus    `db:"status" json:"status"`
	SettledPrice    sql.NullFloat64   `db:"settled_price" json:"settled_price,omitempty"`
	Payout          sql.NullFloat64   `db:"payout" json:"payout,omitempty"`
	CreatedAt       string            `db:"created_at" json:"created_at"`
}

type Alliance struct {
	ID          int64          `db:"id" json:"id"`
	Name        string         `db:"name" json:"name"`
	FounderID   int64          `db:"founder_id" json:"founder_id"`
	Treasury    float64        `db:"treasury" json:"treasury"`
	Status      AllianceStatus `db:"status" json:"status"`
	LastBonusAt sql.NullString `db:"last_bonus_at" json:"last_bonus_at,omitempty"`
	BetrayedBy  sql.NullInt64  `db:"betrayed_by" json:"betrayed_by,omitempty"`
	CreatedAt   string         `db:"created_at" json:"created_at"`
}

type AllianceMember struct {
	ID                   int64          `db:"id" json:"id"`
	AllianceID           int64          `db:"alliance_id" json:"alliance_id"`
	ActorID              int64          `db:"actor_id" json:"actor_id"`
	Contribution         float64        `db:"contribution" json:"contribution"`
	SharePercent         float64        `db:"share_percent" json:"share_percent"`
	IsActive             bool           `db:"is_active" json:"is_active"`
	DefectionInitiatedAt sql.NullString `db:"defection_initiated_at" json:"defection_initiated_at,omitempty"`
	JoinedAt             string         `db:"joined_at" json:"joined_at"`
}

type Bounty struct {
	ID          int64          `db:"id" json:"id"`
	PosterID    int64          `db:"poster_id" json:"poster_id"`
	Description string         `db:"description" json:"description"`
	Reward      float64        `db:"reward" json:"reward"`
	Status      BountyStatus   `db:"status" json:"status"`
	ClaimerID   sql.NullInt64  `db:"claimer_id" json:"claimer_id,omitempty"`
	CreatedAt   string         `db:"created_at" json:"created_at"`
	CompletedAt sql.NullString `db:"completed_at" json:"completed_at,omitempty"`
}

type BlackmailContract struct {
	ID           int64           `db:"id" json:"id"`
	BlackmailerID int64          `db:"blackmailer_id" json:"blackmailer_id"`
	TargetID     int64           `db:"target_id" json:"target_id"`
	Demand       float64         `db:"demand" json:"demand"`
	Threat       string          `db:"threat" json:"threat"`
	Deadline     string          `db:"deadline" json:"deadline"`
	Status       BlackmailStatus `db:"status" json:"status"`
	CreatedAt    string          `db:"created_at" json:"created_at"`
	ResolvedAt   sql.NullString  `db:"resolved_at" json:"resolved_at,omitempty"`
}

type HitContract struct {
	ID            int64          `db:"id" json:"id"`
	PosterID      int64          `db:"poster_id" json:"poster_id"`
	TargetID      int64          `db:"target_id" json:"target_id"`
	Reward        float64        `db:"reward" json:"reward"`
	ConditionType string         `db:"condition_type" json:"condition_type"`
	Description   string         `db:"description" json:"description"`
	Deadline      string         `db:"deadline" json:"deadline"`
	ClaimerID     sql.NullInt64  `db:"claimer_id" json:"claimer_id,omitempty"`
	Proof         sql.NullString `db:"proof" json:"proof,omitempty"`
	Status        HitStatus      `db:"status" json:"status"`
	CreatedAt     string         `db:"created_at" json:"created_at"`
	ResolvedAt    sql.NullString `db:"resolved_at" json:"resolved_at,omitempty"`
}

type IntelPurchase struct {
	ID        int64   `db:"id" json:"id"`
	BuyerID   int64   `db:"buyer_id" json:"buyer_id"`
	TargetID  int64   `db:"target_id" json:"target_id"`
	Tier      int     `db:"tier" json:"tier"`
	Cost      float64 `db:"cost" json:"cost"`
	Summary   string  `db:"summary" json:"summary"`
	CreatedAt string  `db:"created_at" json:"created_at"`
}

type Whisper struct {
	ID         int64   `db:"id" json:"id"`
	SenderID   int64   `db:"sender_id" json:"sender_id"`
	ReceiverID int64   `db:"receiver_id" json:"receiver_id"`
	Content    string  `db:"content" json:"content"`
	Cost       float64 `db:"cost" json:"cost"`
	IsRead     bool    `db:"is_read" json:"is_read"`
	CreatedAt  string  `db:"created_at" json:"created_at"`
}

type Post struct {
	ID        int64  `db:"id" json:"id"`
	AuthorID  int64  `db:"author_id" json:"author_id"`
	Content   string `db:"content" json:"content"`
	PostType  string `db:"post_type" json:"post_type"`
	Upvotes   int    `db:"upvotes" json:"upvotes"`
	Downvotes int    `db:"downvotes" json:"downvotes"`
	IsFlagged bool   `db:"is_flagged" json:"is_flagged"`
	CreatedAt string `db:"created_at" json:"created_at"`
}

type Comment struct {
	ID        int64  `db:"id" json:"id"`
	PostID    int64  `db:"post_id" json:"post_id"`
	AuthorID  int64  `db:"author_id" json:"author_id"`
	Content   string `db:"content" json:"content"`
	CreatedAt string `db:"created_at" json:"created_at"`
}

type Vote struct {
	ID        int64  `db:"id" json:"id"`
	PostID    int64  `db:"post_id" json:"post_id"`
	VoterID   int64  `db:"voter_id" json:"voter_id"`
	IsUpvote  bool   `db:"is_upvote" json:"is_upvote"`
	CreatedAt string `db:"created_at" json:"created_at"`
}

type VoteManipulation struct {
	ID        int64   `db:"id" json:"id"`
	BuyerID   int64   `db:"buyer_id" json:"buyer_id"`
	PostID    int64   `db:"post_id" json:"post_id"`
	Kind      string  `db:"kind" json:"kind"`
	Quantity  int     `db:"quantity" json:"quantity"`
	Cost      float64 `db:"cost" json:"cost"`
	Detected  bool    `db:"detected" json:"detected"`
	CreatedAt string  `db:"created_at" json:"created_at"`
}

type SystemEvent struct {
	ID                 int64          `db:"id" json:"id"`
	EventType          string         `db:"event_type" json:"event_type"`
	TriggerHour        int            `db:"trigger_hour" json:"trigger_hour"`
	Description        string         `db:"description" json:"description"`
	PriceImpactPercent float64        `db:"price_impact_percent" json:"price_impact_percent"`
	DurationMinutes    int            `db:"duration_minutes" json:"duration_minutes"`
	IsTriggered        bool           `db:"is_triggered" json:"is_triggered"`
	TriggeredAt        sql.NullString `db:"triggered_at" json:"triggered_at,omitempty"`
}

type Elimination struct {
	ID              int64   `db:"id" json:"id"`
	ActorID         int64   `db:"actor_id" json:"actor_id"`
	GameHour        int     `db:"game_hour" json:"game_hour"`
	FinalBalance    float64 `db:"final_balance" json:"final_balance"`
	FinalReputation int     `db:"final_reputation" json:"final_reputation"`
	Redistribution  string  `db:"redistribution" json:"redistribution"`
	CreatedAt       string  `db:"created_at" json:"created_at"`
}

type ReputationLog struct {
	ID        int64  `db:"id" json:"id"`
	ActorID   int64  `db:"actor_id" json:"actor_id"`
	Change    int    `db:"change" json:"change"`
	Reason    string `db:"reason" json:"reason"`
	NewValue  int    `db:"new_value" json:"new_value"`
	CreatedAt string `db:"created_at" json:"created_at"`
}

type BalanceSnapshot struct {
	ID         int64   `db:"id" json:"id"`
	ActorID    int64   `db:"actor_id" json:"actor_id"`
	Balance    float64 `db:"balance" json:"balance"`
	Reputation int     `db:"reputation" json:"reputation"`
	Rank       int     `db:"rank" json:"rank"`
	GameHour   int     `db:"game_hour" json:"game_hour"`
	CreatedAt  string  `db:"created_at" json:"created_at"`
}

type MarketPrice struct {
	ID             int64          `db:"id" json:"id"`
	PriceEUR       float64        `db:"price_eur" json:"price_eur"`
	BuyVolume      float64        `db:"buy_volume" json:"buy_volume"`
	SellVolume     float64        `db:"sell_volume" json:"sell_volume"`
	MarketPressure float64        `db:"market_pressure" json:"market_pressure"`
	Volatility     float64        `db:"volatility" json:"volatility"`
	EventImpact    sql.NullString `db:"event_impact" json:"event_impact,omitempty"`
	RecordedAt     string         `db:"recorded_at" json:"recorded_at"`
}

type GameState struct {
	ID               int64          `db:"id" json:"id"`
	CurrentHour      int            `db:"current_hour" json:"current_hour"`
	Phase            Phase          `db:"phase" json:"phase"`
	IsTradingFrozen  bool           `db:"is_trading_frozen" json:"is_trading_frozen"`
	CurrentFeeRate   float64        `db:"current_fee_rate" json:"current_fee_rate"`
	TotalCirculation float64        `db:"total_circulation" json:"total_circulation"`
	ActorsRemaining  int            `db:"actors_remaining" json:"actors_remaining"`
	StartedAt        sql.NullString `db:"started_at" json:"started_at,omitempty"`
	EndedAt          sql.NullString `db:"ended_at" json:"ended_at,omitempty"`
}

type AdminAction struct {
	ID        string        `db:"id" json:"id"`
	Action    string        `db:"action" json:"action"`
	TargetID  sql.NullInt64 `db:"target_id" json:"target_id,omitempty"`
	Detail    string        `db:"detail" json:"detail"`
	CreatedAt string        `db:"created_at" json:"created_at"`
}
