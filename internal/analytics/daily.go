package analytics

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/hpungsan/focus/internal/focus"
)

// Reader is the store read path analytics depends on.
type Reader interface {
	GetSnapshotsBetween(ctx context.Context, start, end time.Time) ([]focus.Snapshot, error)
	GetActivitiesBetween(ctx context.Context, start, end time.Time) ([]focus.ActivityRecord, error)
	GetFocusStatesBetween(ctx context.Context, start, end time.Time) ([]focus.FocusStateRecord, error)
}

// activeGap is the longest gap between snapshots still counted as active time.
const activeGap = 30 * time.Minute

// DailySummary is nil in a Daily report when the day has no snapshots.
type DailySummary struct {
	TotalSnapshots    int            `json:"total_snapshots"`
	Date              string         `json:"date"`
	ActiveHours       float64        `json:"active_hours"`
	AverageFocusScore float64        `json:"average_focus_score"`
	PrimaryTasks      map[string]int `json:"primary_tasks"`
}

// ActivityBreakdown counts activities per category.
type ActivityBreakdown struct {
	TotalActivities int            `json:"total_activities"`
	Categories      map[string]int `json:"categories"`
}

// HourlyPattern aggregates the snapshots taken within one clock hour.
type HourlyPattern struct {
	Snapshots  int     `json:"snapshots"`
	FocusScore float64 `json:"focus_score"`
	Activities int     `json:"activities"`
}

// Daily is the per-day report. A section whose read failed is left empty
// and named in Warnings.
type Daily struct {
	Summary        *DailySummary         `json:"summary"`
	Activities     ActivityBreakdown     `json:"activities"`
	FocusStates    map[string]int        `json:"focus_states"`
	HourlyPatterns map[int]HourlyPattern `json:"hourly_patterns"`
	Warnings       []string              `json:"warnings,omitempty"`
}

// Timeframe bounds an export, formatted as RFC 3339.
type Timeframe struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// AggregateMetrics totals a whole export window.
type AggregateMetrics struct {
	TotalSnapshots    int            `json:"total_snapshots"`
	TotalActivities   int            `json:"total_activities"`
	AverageFocusScore float64        `json:"average_focus_score"`
	FocusStates       map[string]int `json:"focus_states"`
}

// TimeframeExport is the multi-day export document.
type TimeframeExport struct {
	Timeframe        Timeframe        `json:"timeframe"`
	DailyMetrics     []*Daily         `json:"daily_metrics"`
	AggregateMetrics AggregateMetrics `json:"aggregate_metrics"`
}

// Bucket groups the snapshots of one fixed-width window.
type Bucket struct {
	Start             time.Time `json:"start"`
	Snapshots         int       `json:"snapshots"`
	AverageFocusScore float64   `json:"average_focus_score"`
	DominantTask      string    `json:"dominant_task"`
	Summaries         []string  `json:"summaries"`
}

// DayBounds returns the first and last millisecond of day in its location.
func DayBounds(day time.Time) (time.Time, time.Time) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	return start, start.AddDate(0, 0, 1).Add(-time.Millisecond)
}

// DailyMetrics builds the report for the calendar day containing day.
func DailyMetrics(ctx context.Context, r Reader, day time.Time) *Daily {
	start, end := DayBounds(day)
	dm := &Daily{
		Activities:     ActivityBreakdown{Categories: map[string]int{}},
		FocusStates:    emptyStateCounts(),
		HourlyPatterns: map[int]HourlyPattern{},
	}

	snapshots, err := r.GetSnapshotsBetween(ctx, start, end)
	if err != nil {
		dm.Warnings = append(dm.Warnings, fmt.Sprintf("summary: %v", err))
	} else if len(snapshots) > 0 {
		dm.Summary = summarize(snapshots, start)
		dm.HourlyPatterns = hourlyPatterns(snapshots, day.Location())
	}

	activities, err := r.GetActivitiesBetween(ctx, start, end)
	if err != nil {
		dm.Warnings = append(dm.Warnings, fmt.Sprintf("activities: %v", err))
	} else {
		dm.Activities = breakdown(activities)
	}

	states, err := r.GetFocusStatesBetween(ctx, start, end)
	if err != nil {
		dm.Warnings = append(dm.Warnings, fmt.Sprintf("focus_states: %v", err))
	} else {
		countStates(dm.FocusStates, states)
	}

	return dm
}

// ExportTimeframe builds one daily report per calendar day in [start, end)
// plus totals over the whole window.
func ExportTimeframe(ctx context.Context, r Reader, start, end time.Time) (*TimeframeExport, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("export window ends before it starts")
	}
	export := &TimeframeExport{
		Timeframe: Timeframe{
			Start: start.Format(time.RFC3339),
			End:   end.Format(time.RFC3339),
		},
		DailyMetrics: []*Daily{},
	}

	for day, _ := DayBounds(start); day.Before(end); day = day.AddDate(0, 0, 1) {
		export.DailyMetrics = append(export.DailyMetrics, DailyMetrics(ctx, r, day))
	}

	snapshots, err := r.GetSnapshotsBetween(ctx, start, end)
	if err != nil {
		return nil, err
	}
	states, err := r.GetFocusStatesBetween(ctx, start, end)
	if err != nil {
		return nil, err
	}

	agg := AggregateMetrics{
		TotalSnapshots: len(snapshots),
		FocusStates:    emptyStateCounts(),
	}
	var scoreSum float64
	for _, s := range snapshots {
		agg.TotalActivities += len(s.Activities)
		scoreSum += s.FocusScore
	}
	if len(snapshots) > 0 {
		agg.AverageFocusScore = round2(scoreSum / float64(len(snapshots)))
	}
	countStates(agg.FocusStates, states)
	export.AggregateMetrics = agg

	return export, nil
}

// Buckets groups snapshots into fixed windows, oldest first.
func Buckets(snapshots []focus.Snapshot, width time.Duration) []Bucket {
	if width <= 0 {
		width = 15 * time.Minute
	}
	sorted := slices.Clone(snapshots)
	slices.SortStableFunc(sorted, func(a, b focus.Snapshot) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	var (
		buckets []Bucket
		tasks   map[string]int
		sum     float64
	)
	flush := func() {
		if len(buckets) == 0 {
			return
		}
		b := &buckets[len(buckets)-1]
		b.AverageFocusScore = round2(sum / float64(b.Snapshots))
		b.DominantTask = dominant(tasks)
	}

	for _, s := range sorted {
		start := s.Timestamp.Truncate(width)
		if len(buckets) == 0 || !buckets[len(buckets)-1].Start.Equal(start) {
			flush()
			buckets = append(buckets, Bucket{Start: start, Summaries: []string{}})
			tasks = map[string]int{}
			sum = 0
		}
		b := &buckets[len(buckets)-1]
		b.Snapshots++
		b.Summaries = append(b.Summaries, s.Summary)
		sum += s.FocusScore
		tasks[taskOf(s)]++
	}
	flush()

	if buckets == nil {
		return []Bucket{}
	}
	return buckets
}

func summarize(snapshots []focus.Snapshot, day time.Time) *DailySummary {
	tasks := make(map[string]int)
	var scoreSum float64
	for _, s := range snapshots {
		scoreSum += s.FocusScore
		tasks[taskOf(s)]++
	}
	return &DailySummary{
		TotalSnapshots:    len(snapshots),
		Date:              day.Format("2006-01-02"),
		ActiveHours:       ActiveHours(snapshots),
		AverageFocusScore: round2(scoreSum / float64(len(snapshots))),
		PrimaryTasks:      tasks,
	}
}

// ActiveHours sums the gaps between consecutive snapshots that are at most
// 30 minutes apart.
func ActiveHours(snapshots []focus.Snapshot) float64 {
	times := make([]time.Time, len(snapshots))
	for i, s := range snapshots {
		times[i] = s.Timestamp
	}
	slices.SortFunc(times, time.Time.Compare)

	var active time.Duration
	for i := 1; i < len(times); i++ {
		if gap := times[i].Sub(times[i-1]); gap <= activeGap {
			active += gap
		}
	}
	return round2(active.Hours())
}

func hourlyPatterns(snapshots []focus.Snapshot, loc *time.Location) map[int]HourlyPattern {
	sums := make(map[int]float64)
	patterns := make(map[int]HourlyPattern)
	for _, s := range snapshots {
		h := s.Timestamp.In(loc).Hour()
		p := patterns[h]
		p.Snapshots++
		p.Activities += len(s.Activities)
		patterns[h] = p
		sums[h] += s.FocusScore
	}
	for h, p := range patterns {
		p.FocusScore = round2(sums[h] / float64(p.Snapshots))
		patterns[h] = p
	}
	return patterns
}

func breakdown(activities []focus.ActivityRecord) ActivityBreakdown {
	b := ActivityBreakdown{
		TotalActivities: len(activities),
		Categories:      make(map[string]int),
	}
	for _, a := range activities {
		category := a.Category
		if category == "" {
			category = focus.StateUnknown
		}
		b.Categories[category]++
	}
	return b
}

func emptyStateCounts() map[string]int {
	return map[string]int{
		focus.StateFocused:       0,
		focus.StateTransitioning: 0,
		focus.StateScattered:     0,
		focus.StateNeutral:       0,
		focus.StateUnknown:       0,
	}
}

func countStates(counts map[string]int, states []focus.FocusStateRecord) {
	for _, s := range states {
		state := s.StateType
		if state == "" {
			state = focus.StateUnknown
		}
		counts[state]++
	}
}

func taskOf(s focus.Snapshot) string {
	if s.PrimaryTask == nil || *s.PrimaryTask == "" {
		return focus.StateUnknown
	}
	return *s.PrimaryTask
}

// dominant returns the most frequent key, ties broken alphabetically.
func dominant(counts map[string]int) string {
	best, bestN := "", 0
	for k, n := range counts {
		if n > bestN || (n == bestN && cmp.Less(k, best)) {
			best, bestN = k, n
		}
	}
	return best
}
