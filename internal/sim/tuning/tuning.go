// Package tuning holds every numeric knob of the simulation. Values load
// from YAML with zero-value fields falling back to the shipped defaults, so
// a partial tuning file is always valid.
package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	TotalActors        int     `yaml:"total_actors"`
	TotalSupply        float64 `yaml:"total_supply"`
	StartingBalance    float64 `yaml:"starting_balance"`
	StartingReputation int     `yaml:"starting_reputation"`
	StartingPrice      float64 `yaml:"starting_price"`
	GameDurationHours  int     `yaml:"game_duration_hours"`

	// Wall-clock seconds per game hour. 3600 plays in real time; tests and
	// compressed runs shrink it.
	HourSeconds int `yaml:"hour_seconds"`

	EliminationHours []int `yaml:"elimination_hours"`

	Fees       Fees       `yaml:"fees"`
	Leverage   Leverage   `yaml:"leverage"`
	Alliance   Alliance   `yaml:"alliance"`
	Reputation Reputation `yaml:"reputation"`
	Market     Market     `yaml:"market"`
	Social     Social     `yaml:"social"`
	Covert     Covert     `yaml:"covert"`
	Intervals  Intervals  `yaml:"intervals"`
}

type Fees struct {
	Trade       float64 `yaml:"trade"`
	Leverage    float64 `yaml:"leverage"`
	Alliance    float64 `yaml:"alliance"`
	WhisperCost float64 `yaml:"whisper_cost"`
	TipMin      float64 `yaml:"tip_min"`
	TipMax      float64 `yaml:"tip_max"`
}

type Leverage struct {
	Multiplier float64 `yaml:"multiplier"`
	MaxActive  int     `yaml:"max_active"`
	UnlockHour int     `yaml:"unlock_hour"`
}

type Alliance struct {
	StakingBonus         float64 `yaml:"staking_bonus"`
	StakingIntervalHours int     `yaml:"staking_interval_hours"`
	StealPercent         float64 `yaml:"steal_percent"`
	CountdownHours       float64 `yaml:"countdown_hours"`
}

type Reputation struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`

	TradeSuccess     int `yaml:"trade_success"`
	Upvote           int `yaml:"upvote"`
	Downvote         int `yaml:"downvote"`
	Tip              int `yaml:"tip"`
	BountyComplete   int `yaml:"bounty_complete"`
	AllianceLoyal    int `yaml:"alliance_loyal"`
	ScamConfirmed    int `yaml:"scam_confirmed"`
	Betrayal         int `yaml:"betrayal"`
	BlackmailExposed int `yaml:"blackmail_exposed"`
	FakeNews         int `yaml:"fake_news"`
	HitTarget        int `yaml:"hit_target"`
	VoteManipCaught  int `yaml:"vote_manip_caught"`
}

type Market struct {
	UpdateIntervalSec int     `yaml:"update_interval_sec"`
	MaxChangePercent  float64 `yaml:"max_change_percent"`
	VolatilityMin     float64 `yaml:"volatility_min"`
	VolatilityMax     float64 `yaml:"volatility_max"`
}

type Social struct {
	MaxPostsPerHour int     `yaml:"max_posts_per_hour"`
	SpamFine        float64 `yaml:"spam_fine"`
	WhisperMaxLen   int     `yaml:"whisper_max_len"`
}

type Covert struct {
	UnlockHour          int     `yaml:"unlock_hour"`
	VoteManipUnlockHour int     `yaml:"vote_manip_unlock_hour"`
	IntelTier1Cost      float64 `yaml:"intel_tier1_cost"`
	IntelTier2Cost      float64 `yaml:"intel_tier2_cost"`
	IntelTier3Cost      float64 `yaml:"intel_tier3_cost"`
	IntelTier4Cost      float64 `yaml:"intel_tier4_cost"`
	FakeUpvotesCost     float64 `yaml:"fake_upvotes_cost"`
	FakeDownvotesCost   float64 `yaml:"fake_downvotes_cost"`
	BotCommentsCost     float64 `yaml:"bot_comments_cost"`
	TrendingBoostCost   float64 `yaml:"trending_boost_cost"`
	VoteManipFine       float64 `yaml:"vote_manip_fine"`
	VoteManipDetectPct  float64 `yaml:"vote_manip_detect_pct"`
	HitCancelPenalty    float64 `yaml:"hit_cancel_penalty"`
}

type Intervals struct {
	EventCheckSec int `yaml:"event_check_sec"`
	SettlementSec int `yaml:"settlement_sec"`
	DefectionSec  int `yaml:"defection_sec"`
	StakingSec    int `yaml:"staking_sec"`
	SnapshotSec   int `yaml:"snapshot_sec"`
}

func Default() Tuning {
	var t Tuning
	t.applyDefaults()
	return t
}

func Load(path string) (Tuning, error) {
	var t Tuning
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.applyDefaults()
	return t, nil
}

func (t *Tuning) applyDefaults() {
	if t.TotalActors <= 0 {
		t.TotalActors = 10
	}
	if t.TotalSupply <= 0 {
		t.TotalSupply = 100.0
	}
	if t.StartingBalance <= 0 {
		// The fixed supply splits evenly across the seats.
		t.StartingBalance = t.TotalSupply / float64(t.TotalActors)
	}
	if t.StartingReputation <= 0 {
		t.StartingReputation = 50
	}
	if t.StartingPrice <= 0 {
		t.StartingPrice = 932.17
	}
	if t.GameDurationHours <= 0 {
		t.GameDurationHours = 24
	}
	if t.HourSeconds <= 0 {
		t.HourSeconds = 3600
	}
	if len(t.EliminationHours) == 0 {
		t.EliminationHours = []int{6, 12, 18, 24}
	}

	if t.Fees.Trade <= 0 {
		t.Fees.Trade = 0.03
	}
	if t.Fees.Leverage <= 0 {
		t.Fees.Leverage = 0.05
	}
	if t.Fees.Alliance <= 0 {
		t.Fees.Alliance = 0.02
	}
	if t.Fees.WhisperCost <= 0 {
		t.Fees.WhisperCost = 0.2
	}
	if t.Fees.TipMin <= 0 {
		t.Fees.TipMin = 0.1
	}
	if t.Fees.TipMax <= 0 {
		t.Fees.TipMax = 0.5
	}

	if t.Leverage.Multiplier <= 0 {
		t.Leverage.Multiplier = 1.75
	}
	if t.Leverage.MaxActive <= 0 {
		t.Leverage.MaxActive = 3
	}
	if t.Leverage.UnlockHour <= 0 {
		t.Leverage.UnlockHour = 6
	}

	if t.Alliance.StakingBonus <= 0 {
		t.Alliance.StakingBonus = 0.05
	}
	if t.Alliance.StakingIntervalHours <= 0 {
		t.Alliance.StakingIntervalHours = 6
	}
	if t.Alliance.StealPercent <= 0 {
		t.Alliance.StealPercent = 0.80
	}
	if t.Alliance.CountdownHours <= 0 {
		t.Alliance.CountdownHours = 2.0
	}

	if t.Reputation.Max <= 0 {
		t.Reputation.Max = 100
	}
	if t.Reputation.TradeSuccess == 0 {
		t.Reputation.TradeSuccess = 2
	}
	if t.Reputation.Upvote == 0 {
		t.Reputation.Upvote = 1
	}
	if t.Reputation.Downvote == 0 {
		t.Reputation.Downvote = -2
	}
	if t.Reputation.Tip == 0 {
		t.Reputation.Tip = 1
	}
	if t.Reputation.BountyComplete == 0 {
		t.Reputation.BountyComplete = 5
	}
	if t.Reputation.AllianceLoyal == 0 {
		t.Reputation.AllianceLoyal = 3
	}
	if t.Reputation.ScamConfirmed == 0 {
		t.Reputation.ScamConfirmed = -15
	}
	if t.Reputation.Betrayal == 0 {
		t.Reputation.Betrayal = -25
	}
	if t.Reputation.BlackmailExposed == 0 {
		t.Reputation.BlackmailExposed = -10
	}
	if t.Reputation.FakeNews == 0 {
		t.Reputation.FakeNews = -8
	}
	if t.Reputation.HitTarget == 0 {
		t.Reputation.HitTarget = -20
	}
	if t.Reputation.VoteManipCaught == 0 {
		t.Reputation.VoteManipCaught = -10
	}

	if t.Market.UpdateIntervalSec <= 0 {
		t.Market.UpdateIntervalSec = 300
	}
	if t.Market.MaxChangePercent <= 0 {
		t.Market.MaxChangePercent = 0.05
	}
	if t.Market.VolatilityMin == 0 {
		t.Market.VolatilityMin = -0.03
	}
	if t.Market.VolatilityMax == 0 {
		t.Market.VolatilityMax = 0.03
	}

	if t.Social.MaxPostsPerHour <= 0 {
		t.Social.MaxPostsPerHour = 10
	}
	if t.Social.SpamFine <= 0 {
		t.Social.SpamFine = 0.5
	}
	if t.Social.WhisperMaxLen <= 0 {
		t.Social.WhisperMaxLen = 200
	}

	if t.Covert.UnlockHour <= 0 {
		t.Covert.UnlockHour = 8
	}
	if t.Covert.VoteManipUnlockHour <= 0 {
		t.Covert.VoteManipUnlockHour = 10
	}
	if t.Covert.IntelTier1Cost <= 0 {
		t.Covert.IntelTier1Cost = 1.0
	}
	if t.Covert.IntelTier2Cost <= 0 {
		t.Covert.IntelTier2Cost = 1.5
	}
	if t.Covert.IntelTier3Cost <= 0 {
		t.Covert.IntelTier3Cost = 2.5
	}
	if t.Covert.IntelTier4Cost <= 0 {
		t.Covert.IntelTier4Cost = 4.0
	}
	if t.Covert.FakeUpvotesCost <= 0 {
		t.Covert.FakeUpvotesCost = 0.3
	}
	if t.Covert.FakeDownvotesCost <= 0 {
		t.Covert.FakeDownvotesCost = 0.4
	}
	if t.Covert.BotCommentsCost <= 0 {
		t.Covert.BotCommentsCost = 0.5
	}
	if t.Covert.TrendingBoostCost <= 0 {
		t.Covert.TrendingBoostCost = 1.0
	}
	if t.Covert.VoteManipFine <= 0 {
		t.Covert.VoteManipFine = 1.5
	}
	if t.Covert.VoteManipDetectPct <= 0 {
		t.Covert.VoteManipDetectPct = 0.30
	}
	if t.Covert.HitCancelPenalty <= 0 {
		t.Covert.HitCancelPenalty = 0.10
	}

	if t.Intervals.EventCheckSec <= 0 {
		t.Intervals.EventCheckSec = 60
	}
	if t.Intervals.SettlementSec <= 0 {
		t.Intervals.SettlementSec = 60
	}
	if t.Intervals.DefectionSec <= 0 {
		t.Intervals.DefectionSec = 60
	}
	if t.Intervals.StakingSec <= 0 {
		t.Intervals.StakingSec = 300
	}
	if t.Intervals.SnapshotSec <= 0 {
		t.Intervals.SnapshotSec = 300
	}
}
