package focus

import (
	"regexp"
	"strings"
)

// whitespaceRegex matches one or more whitespace characters
var whitespaceRegex = regexp.MustCompile(`\s+`)

// Normalize trims, lowercases and collapses internal whitespace.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ToLower(s)
	return whitespaceRegex.ReplaceAllString(s, " ")
}

// NormalizeSwitches maps a free-form context-switch level onto low/medium/high.
// Anything unrecognized becomes medium.
func NormalizeSwitches(s string) string {
	switch Normalize(s) {
	case SwitchesLow:
		return SwitchesLow
	case SwitchesHigh:
		return SwitchesHigh
	default:
		return SwitchesMedium
	}
}

// NormalizeOrganization maps a free-form organization level onto organized/mixed/scattered.
// Anything unrecognized becomes mixed.
func NormalizeOrganization(s string) string {
	switch Normalize(s) {
	case OrgOrganized:
		return OrgOrganized
	case OrgScattered:
		return OrgScattered
	default:
		return OrgMixed
	}
}

// NormalizeState lowercases an attention state. Empty becomes unknown.
// Unrecognized values are kept so that new classifications still reach storage.
func NormalizeState(s string) string {
	s = Normalize(s)
	if s == "" {
		return StateUnknown
	}
	return s
}

// ClampAttention bounds an attention level to 0-100.
func ClampAttention(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// ClampUnit bounds a value to [0,1].
func ClampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// NormalizeActivity returns a copy with levels and attention brought into range.
func NormalizeActivity(a Activity) Activity {
	a.Name = strings.TrimSpace(a.Name)
	a.Category = strings.TrimSpace(a.Category)
	a.Purpose = strings.TrimSpace(a.Purpose)
	a.FocusIndicators.AttentionLevel = ClampAttention(a.FocusIndicators.AttentionLevel)
	a.FocusIndicators.ContextSwitches = NormalizeSwitches(a.FocusIndicators.ContextSwitches)
	a.FocusIndicators.WorkspaceOrganization = NormalizeOrganization(a.FocusIndicators.WorkspaceOrganization)
	return a
}
