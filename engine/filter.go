package engine

import (
	"github.com/decloud-network/validator/types"
)

// Reason explains why a round is not eligible.
type Reason string

const (
	ReasonNone                 Reason = ""
	ReasonNotOpen              Reason = "not-waiting-validator"
	ReasonRewardBelowMin       Reason = "reward-below-min"
	ReasonRewardAboveMax       Reason = "reward-above-max"
	ReasonDatasetNotAllowed    Reason = "dataset-not-allowed"
	ReasonDatasetNotDownloaded Reason = "dataset-not-downloaded"
)

// Decision is the result of evaluating a round against a Policy.
type Decision struct {
	Eligible bool
	Reason   Reason
}

func Eligible() Decision {
	return Decision{Eligible: true}
}

func Ineligible(reason Reason) Decision {
	return Decision{Reason: reason}
}

func (d Decision) String() string {
	if d.Eligible {
		return "eligible"
	}
	return "ineligible(" + string(d.Reason) + ")"
}

// Policy is the claim filter derived from the operator config.
type Policy struct {
	MinReward types.Amount
	// MaxReward is inclusive; types.Unbounded disables the upper bound.
	MaxReward types.Amount
	// AllowedDatasets restricts claims to these datasets. Empty allows all.
	AllowedDatasets map[string]struct{}
	OnlyDownloaded  bool
}

func NewPolicy(cfg Config) Policy {
	p := Policy{
		MinReward:      cfg.MinReward,
		MaxReward:      cfg.MaxReward,
		OnlyDownloaded: cfg.OnlyDownloaded,
	}
	if len(cfg.AllowedDatasets) > 0 {
		p.AllowedDatasets = make(map[string]struct{}, len(cfg.AllowedDatasets))
		for _, name := range cfg.AllowedDatasets {
			p.AllowedDatasets[name] = struct{}{}
		}
	}
	return p
}

// Evaluate decides whether r may be claimed under p. It has no side effects;
// isDownloaded is only consulted when p.OnlyDownloaded is set.
func Evaluate(r types.Round, p Policy, isDownloaded func(dataset string) bool) Decision {
	if r.Status != types.StatusWaitingValidator || r.Claimed() {
		return Ineligible(ReasonNotOpen)
	}
	if r.RewardAmount < p.MinReward {
		return Ineligible(ReasonRewardBelowMin)
	}
	if p.MaxReward != types.Unbounded && r.RewardAmount > p.MaxReward {
		return Ineligible(ReasonRewardAboveMax)
	}
	if len(p.AllowedDatasets) > 0 {
		if _, ok := p.AllowedDatasets[r.Dataset]; !ok {
			return Ineligible(ReasonDatasetNotAllowed)
		}
	}
	if p.OnlyDownloaded && (isDownloaded == nil || !isDownloaded(r.Dataset)) {
		return Ineligible(ReasonDatasetNotDownloaded)
	}
	return Eligible()
}
