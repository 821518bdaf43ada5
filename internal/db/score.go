package db

import (
	"math"

	"github.com/hpungsan/focus/internal/focus"
)

// scoreRange is the interval the base component is drawn from.
type scoreRange struct{ lo, hi float64 }

var stateRanges = map[string]scoreRange{
	focus.StateFocused:       {0.85, 1.0},
	focus.StateTransitioning: {0.4, 0.7},
	focus.StateScattered:     {0.1, 0.4},
}

var unknownRange = scoreRange{0.3, 0.6}

var switchWeights = map[string]float64{
	focus.SwitchesLow:    0.9,
	focus.SwitchesMedium: 0.6,
	focus.SwitchesHigh:   0.3,
}

var organizationWeights = map[string]float64{
	focus.OrgOrganized: 0.9,
	focus.OrgMixed:     0.6,
	focus.OrgScattered: 0.3,
}

// FocusScore computes the stored snapshot score in [0,1], rounded to 2 decimals.
// u is a uniform sample in [0,1) that places the base component inside the
// attention state's range; the variation between equal inputs is intentional.
func FocusScore(state string, activities []focus.Activity, u float64) float64 {
	r, ok := stateRanges[state]
	if !ok {
		r = unknownRange
	}
	base := r.lo + u*(r.hi-r.lo)

	if len(activities) == 0 {
		return round2(focus.ClampUnit(base))
	}

	var sum float64
	for _, a := range activities {
		sum += ActivityScore(a.FocusIndicators)
	}
	final := 0.4*base + 0.6*(sum/float64(len(activities)))
	return round2(focus.ClampUnit(final))
}

// ActivityScore is the per-activity component of the focus score.
func ActivityScore(ind focus.FocusIndicators) float64 {
	sw, ok := switchWeights[ind.ContextSwitches]
	if !ok {
		sw = switchWeights[focus.SwitchesMedium]
	}
	org, ok := organizationWeights[ind.WorkspaceOrganization]
	if !ok {
		org = organizationWeights[focus.OrgMixed]
	}
	return float64(focus.ClampAttention(ind.AttentionLevel))/100*0.5 + sw*0.3 + org*0.2
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
