// Package analytics derives focus sessions, triggers, metrics and daily
// summaries from stored snapshots and activities.
package analytics

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/hpungsan/focus/internal/focus"
)

// Trigger types recorded when a session ends.
const (
	TriggerContextSwitch = "context_switch"
	TriggerAppSwitch     = "app_switch"
)

// Attention quality levels.
const (
	QualityHigh   = "high"
	QualityMedium = "medium"
	QualityLow    = "low"
)

// Recommendations produced by ComputeFocusMetrics.
const (
	RecommendTimeBlocking = "Block out uninterrupted time for deep work; average attention is below 75."
	RecommendBatching     = "Batch similar tasks together; high context switching was observed."
)

// TriggerCount is one ranked "source: type" trigger description.
type TriggerCount struct {
	Trigger string `json:"trigger"`
	Count   int    `json:"count"`
}

// FocusMetrics aggregates a window of activities.
type FocusMetrics struct {
	Activities        int      `json:"activities"`
	Sessions          int      `json:"sessions"`
	SwitchesPerHour   float64  `json:"context_switches_per_hour"`
	MaxSessionMinutes float64  `json:"max_focus_duration_minutes"`
	TopTriggers       []string `json:"common_triggers"`
	MeanAttention     float64  `json:"mean_attention"`
	AttentionQuality  string   `json:"attention_quality"`
	OrganizationScore float64  `json:"workspace_organization_score"`
	Recommendations   []string `json:"recommendations"`
}

// sortedAscending returns a copy ordered by time. Store reads are newest first.
func sortedAscending(activities []focus.ActivityRecord) []focus.ActivityRecord {
	out := slices.Clone(activities)
	slices.SortStableFunc(out, func(a, b focus.ActivityRecord) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return out
}

// GroupIntoSessions folds activities into sessions of one activity name.
// A new session starts on the first activity, on a name change, and on any
// high context-switch activity. The ended session is closed at the time the
// next one starts and gets a trigger naming what interrupted it.
func GroupIntoSessions(activities []focus.ActivityRecord) []focus.FocusSession {
	sessions := make([]focus.FocusSession, 0)
	var current *focus.FocusSession

	for _, a := range sortedAscending(activities) {
		high := a.FocusIndicators.ContextSwitches == focus.SwitchesHigh
		if current == nil || a.Name != current.ActivityType || high {
			if current != nil {
				trigger := TriggerAppSwitch
				if high {
					trigger = TriggerContextSwitch
				}
				closeSession(current, a.Timestamp)
				current.Triggers = append(current.Triggers, focus.FocusTrigger{
					Type:      trigger,
					Source:    a.Name,
					Timestamp: a.Timestamp,
				})
				sessions = append(sessions, *current)
			}
			current = focus.NewFocusSession(a.Timestamp, a.Name)
		}
		current.AddActivity(a.Timestamp, a.FocusIndicators)
	}
	if current != nil {
		sessions = append(sessions, *current)
	}
	return sessions
}

func closeSession(s *focus.FocusSession, at time.Time) {
	if at.Before(s.StartTime) {
		at = s.StartTime
	}
	end := at
	s.EndTime = &end
	s.DurationMinutes = end.Sub(s.StartTime).Minutes()
}

// DetectTriggers ranks "source: type" pairs across sessions with a positive
// duration, most frequent first.
func DetectTriggers(sessions []focus.FocusSession) []TriggerCount {
	counts := make(map[string]int)
	for _, s := range sessions {
		if s.EndTime == nil || !s.EndTime.After(s.StartTime) {
			continue
		}
		for _, t := range s.Triggers {
			counts[fmt.Sprintf("%s: %s", t.Source, t.Type)]++
		}
	}

	ranked := make([]TriggerCount, 0, len(counts))
	for trigger, n := range counts {
		ranked = append(ranked, TriggerCount{Trigger: trigger, Count: n})
	}
	slices.SortFunc(ranked, func(a, b TriggerCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Trigger, b.Trigger)
	})
	return ranked
}

// ComputeFocusMetrics summarizes attention, switching and organization over
// activities and suggests simple changes.
func ComputeFocusMetrics(activities []focus.ActivityRecord) FocusMetrics {
	m := FocusMetrics{
		Activities:       len(activities),
		TopTriggers:      []string{},
		AttentionQuality: QualityLow,
		Recommendations:  []string{},
	}
	if len(activities) == 0 {
		return m
	}

	sessions := GroupIntoSessions(activities)
	m.Sessions = len(sessions)

	totalSwitches := 0
	for _, s := range sessions {
		totalSwitches += s.ContextSwitches
		m.MaxSessionMinutes = max(m.MaxSessionMinutes, s.DurationMinutes)
	}
	// Each session counts as one 15-minute unit
	if hours := float64(len(sessions)) * 0.25; hours > 0 {
		m.SwitchesPerHour = round2(float64(totalSwitches) / hours)
	}

	for i, t := range DetectTriggers(sessions) {
		if i == 3 {
			break
		}
		m.TopTriggers = append(m.TopTriggers, t.Trigger)
	}

	var (
		attention float64
		organized int
		anyHigh   bool
	)
	for _, a := range activities {
		attention += float64(a.FocusIndicators.AttentionLevel)
		if a.FocusIndicators.WorkspaceOrganization == focus.OrgOrganized {
			organized++
		}
		if a.FocusIndicators.ContextSwitches == focus.SwitchesHigh {
			anyHigh = true
		}
	}
	avg := attention / float64(len(activities))
	m.MeanAttention = round2(avg)
	m.OrganizationScore = round2(float64(organized) / float64(len(activities)) * 100)

	switch {
	case avg > 75:
		m.AttentionQuality = QualityHigh
	case avg > 50:
		m.AttentionQuality = QualityMedium
	}

	if avg < 75 {
		m.Recommendations = append(m.Recommendations, RecommendTimeBlocking)
	}
	if anyHigh {
		m.Recommendations = append(m.Recommendations, RecommendBatching)
	}
	return m
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
