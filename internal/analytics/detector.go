package analytics

import (
	"math"
	"regexp"
	"strings"

	"github.com/hpungsan/focus/internal/focus"
)

// Task categories inferred from activity names.
const (
	TaskDevelopment   = "development"
	TaskWriting       = "writing"
	TaskResearch      = "research"
	TaskCommunication = "communication"
)

// Environments inferred from activity text.
const (
	EnvOffice = "office"
	EnvHome   = "home"
)

type taskPattern struct {
	task    string
	pattern *regexp.Regexp
}

// Checked in order; the first match wins.
var taskPatterns = []taskPattern{
	{TaskDevelopment, regexp.MustCompile(`vscode|python|git|terminal|stackoverflow|github|ide`)},
	{TaskWriting, regexp.MustCompile(`document|paper|text|docs|notion`)},
	{TaskResearch, regexp.MustCompile(`pdf|arxiv|scholar|browser`)},
	{TaskCommunication, regexp.MustCompile(`email|slack|zoom|teams|outlook|meet`)},
}

var (
	officePattern = regexp.MustCompile(`teams|outlook|corporate|vpn|office`)
	homePattern   = regexp.MustCompile(`personal|home|spotify|netflix`)
)

// DetectPrimaryTask maps activity names to a task category, or "unknown".
func DetectPrimaryTask(names []string) string {
	text := strings.ToLower(strings.Join(names, " "))
	for _, p := range taskPatterns {
		if p.pattern.MatchString(text) {
			return p.task
		}
	}
	return focus.StateUnknown
}

// AnalyzeFocusState classifies a set of activities from their attention and
// context-switch indicators.
func AnalyzeFocusState(activities []focus.Activity) string {
	if len(activities) == 0 {
		return focus.StateUnknown
	}

	mean := meanAttention(activities)
	high := 0
	for _, a := range activities {
		if a.FocusIndicators.ContextSwitches == focus.SwitchesHigh {
			high++
		}
	}

	switch {
	case mean >= 70 && high == 0:
		return focus.StateFocused
	case mean < 50 || high > len(activities)/2:
		return focus.StateScattered
	default:
		return focus.StateTransitioning
	}
}

// Confidence is high when attention is both high and consistent across activities.
func Confidence(activities []focus.Activity) float64 {
	if len(activities) == 0 {
		return 0
	}
	levels := make([]float64, len(activities))
	for i, a := range activities {
		levels[i] = float64(a.FocusIndicators.AttentionLevel)
	}
	return focus.ClampUnit(mean(levels) / 100 * (1 - stdDev(levels)/100))
}

// DetectEnvironment looks for workplace or personal keywords in texts.
func DetectEnvironment(texts []string) string {
	text := strings.ToLower(strings.Join(texts, " "))
	switch {
	case officePattern.MatchString(text):
		return EnvOffice
	case homePattern.MatchString(text):
		return EnvHome
	default:
		return focus.StateUnknown
	}
}

// DetectContext derives a snapshot context from the annotation's activities.
func DetectContext(ann *focus.Annotation) focus.Context {
	if ann == nil || len(ann.Activities) == 0 {
		return focus.Context{
			PrimaryTask:    focus.StateUnknown,
			AttentionState: focus.StateUnknown,
			Environment:    focus.StateUnknown,
			Confidence:     0,
		}
	}

	names := make([]string, 0, len(ann.Activities))
	texts := make([]string, 0, len(ann.Activities)*2)
	for _, a := range ann.Activities {
		names = append(names, a.Name)
		texts = append(texts, a.Name, a.Purpose)
	}

	return focus.Context{
		PrimaryTask:    DetectPrimaryTask(names),
		AttentionState: AnalyzeFocusState(ann.Activities),
		Environment:    DetectEnvironment(texts),
		Confidence:     Confidence(ann.Activities),
	}
}

func meanAttention(activities []focus.Activity) float64 {
	var sum float64
	for _, a := range activities {
		sum += float64(a.FocusIndicators.AttentionLevel)
	}
	return sum / float64(len(activities))
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stdDev is the population standard deviation.
func stdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := mean(values)
	var sq float64
	for _, v := range values {
		sq += (v - m) * (v - m)
	}
	return math.Sqrt(sq / float64(len(values)))
}
