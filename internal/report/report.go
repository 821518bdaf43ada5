// Package report renders daily focus reports as Markdown or HTML files.
package report

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"html/template"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/hpungsan/focus/internal/analytics"
	"github.com/hpungsan/focus/internal/focus"
)

var stateOrder = []string{
	focus.StateFocused,
	focus.StateTransitioning,
	focus.StateScattered,
	focus.StateNeutral,
	focus.StateUnknown,
}

var markdown = goldmark.New(goldmark.WithExtensions(extension.Table))

var page = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<title>{{.Title}}</title>
<style>
body { font-family: -apple-system, 'Segoe UI', Arial, sans-serif; line-height: 1.5; max-width: 820px; margin: 0 auto; padding: 32px 16px; color: #222; }
table { border-collapse: collapse; margin: 12px 0; }
th, td { border: 1px solid #ccc; padding: 6px 12px; text-align: left; }
th { background: #f2f2f2; }
</style>
</head>
<body>
{{.Body}}
</body>
</html>
`))

// Daily renders the Markdown report for the calendar day containing day.
// Read failures are listed under Warnings instead of failing the report.
func Daily(ctx context.Context, r analytics.Reader, day time.Time) string {
	dm := analytics.DailyMetrics(ctx, r, day)
	warnings := slices.Clone(dm.Warnings)

	var fm analytics.FocusMetrics
	start, end := analytics.DayBounds(day)
	if activities, err := r.GetActivitiesBetween(ctx, start, end); err != nil {
		warnings = append(warnings, fmt.Sprintf("focus metrics: %v", err))
	} else {
		fm = analytics.ComputeFocusMetrics(activities)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Focus report for %s\n\n", start.Format("2006-01-02"))

	b.WriteString("## Summary\n\n")
	if dm.Summary == nil {
		b.WriteString("No snapshots were recorded.\n\n")
	} else {
		fmt.Fprintf(&b, "- Snapshots: %d\n", dm.Summary.TotalSnapshots)
		fmt.Fprintf(&b, "- Active hours: %.2f\n", dm.Summary.ActiveHours)
		fmt.Fprintf(&b, "- Average focus score: %.2f\n\n", dm.Summary.AverageFocusScore)

		b.WriteString("## Primary tasks\n\n")
		writeCounts(&b, "Task", "Snapshots", dm.Summary.PrimaryTasks, nil)
	}

	b.WriteString("## Focus states\n\n")
	writeCounts(&b, "State", "Snapshots", dm.FocusStates, stateOrder)

	if dm.Activities.TotalActivities > 0 {
		fmt.Fprintf(&b, "## Activities (%d)\n\n", dm.Activities.TotalActivities)
		writeCounts(&b, "Category", "Activities", dm.Activities.Categories, nil)
	}

	if len(dm.HourlyPatterns) > 0 {
		b.WriteString("## Hourly patterns\n\n")
		b.WriteString("| Hour | Snapshots | Focus score | Activities |\n|---|---|---|---|\n")
		for _, h := range slices.Sorted(maps.Keys(dm.HourlyPatterns)) {
			p := dm.HourlyPatterns[h]
			fmt.Fprintf(&b, "| %02d:00 | %d | %.2f | %d |\n", h, p.Snapshots, p.FocusScore, p.Activities)
		}
		b.WriteString("\n")
	}

	if fm.Activities > 0 {
		b.WriteString("## Focus sessions\n\n")
		fmt.Fprintf(&b, "- Sessions: %d\n", fm.Sessions)
		fmt.Fprintf(&b, "- Longest session: %.1f min\n", fm.MaxSessionMinutes)
		fmt.Fprintf(&b, "- Context switches per hour: %.2f\n", fm.SwitchesPerHour)
		fmt.Fprintf(&b, "- Attention: %.2f (%s)\n", fm.MeanAttention, fm.AttentionQuality)
		fmt.Fprintf(&b, "- Workspace organization: %.0f%%\n\n", fm.OrganizationScore)
		writeList(&b, "Common triggers", fm.TopTriggers)
		writeList(&b, "Recommendations", fm.Recommendations)
	}

	writeList(&b, "Warnings", warnings)
	return b.String()
}

// HTML converts a Markdown report into a standalone HTML page.
func HTML(title, md string) (string, error) {
	var body bytes.Buffer
	if err := markdown.Convert([]byte(md), &body); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	var out bytes.Buffer
	err := page.Execute(&out, struct {
		Title string
		Body  template.HTML
	}{title, template.HTML(body.String())})
	if err != nil {
		return "", fmt.Errorf("render page: %w", err)
	}
	return out.String(), nil
}

// FileName is the default report file name for day.
func FileName(day time.Time, html bool) string {
	ext := ".md"
	if html {
		ext = ".html"
	}
	return "focus-" + day.Format("2006-01-02") + ext
}

// writeCounts writes a two-column table. Keys listed in order come first,
// the rest follow by count.
func writeCounts(b *strings.Builder, key, value string, counts map[string]int, order []string) {
	fmt.Fprintf(b, "| %s | %s |\n|---|---|\n", key, value)
	seen := make(map[string]bool, len(order))
	for _, k := range order {
		seen[k] = true
		fmt.Fprintf(b, "| %s | %d |\n", k, counts[k])
	}
	rest := make([]string, 0, len(counts))
	for k := range counts {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	slices.SortFunc(rest, func(x, y string) int {
		if c := cmp.Compare(counts[y], counts[x]); c != 0 {
			return c
		}
		return cmp.Compare(x, y)
	})
	for _, k := range rest {
		fmt.Fprintf(b, "| %s | %d |\n", k, counts[k])
	}
	b.WriteString("\n")
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "## %s\n\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
	b.WriteString("\n")
}
