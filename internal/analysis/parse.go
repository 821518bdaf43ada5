package analysis

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/hpungsan/focus/internal/analytics"
	"github.com/hpungsan/focus/internal/errors"
	"github.com/hpungsan/focus/internal/focus"
)

// fencePattern matches a whole response wrapped in ``` or ```json fences.
var fencePattern = regexp.MustCompile("(?s)^```[a-zA-Z0-9_-]*[ \\t]*\\r?\\n?(.*?)\\r?\\n?```$")

// StripFences removes a Markdown code fence around the whole response, if any.
func StripFences(text string) string {
	text = strings.TrimSpace(text)
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return text
}

type wireIndicators struct {
	AttentionLevel        float64 `json:"attention_level"`
	ContextSwitches       *string `json:"context_switches"`
	WorkspaceOrganization *string `json:"workspace_organization"`
}

type wireActivity struct {
	Name            string         `json:"name"`
	Category        string         `json:"category"`
	Purpose         *string        `json:"purpose"`
	FocusIndicators wireIndicators `json:"focus_indicators"`
}

type wireContext struct {
	PrimaryTask    *string         `json:"primary_task"`
	AttentionState *string         `json:"attention_state"`
	Environment    json.RawMessage `json:"environment"`
	Confidence     *float64        `json:"confidence"`
}

type wireAnnotation struct {
	Summary    string         `json:"summary"`
	Activities []wireActivity `json:"activities"`
	Context    wireContext    `json:"context"`
}

// Parse turns a provider response into an annotation stamped with ts.
// Malformed JSON is a parse error; JSON of the wrong shape is a validation error.
func Parse(text string, ts time.Time) (*focus.Annotation, error) {
	body := StripFences(text)
	if body == "" {
		return nil, errors.NewParse(stderrors.New("empty response"))
	}

	var doc any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, errors.NewParse(err)
	}

	schema, err := annotationValidator()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	if err := schema.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if stderrors.As(err, &verr) {
			return nil, errors.NewValidation("annotation does not match the expected shape", schemaProblems(verr))
		}
		return nil, errors.NewValidation(err.Error(), nil)
	}

	var wire wireAnnotation
	if err := json.Unmarshal([]byte(body), &wire); err != nil {
		return nil, errors.NewValidation(fmt.Sprintf("decode annotation: %v", err), nil)
	}

	return wire.toAnnotation(ts), nil
}

// attentionLevel rounds a provider attention score into 0-100. The bound is
// applied before the int conversion, which is undefined past the int range.
func attentionLevel(v float64) int {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	return int(math.Round(math.Min(v, 100)))
}

func (w wireAnnotation) toAnnotation(ts time.Time) *focus.Annotation {
	ann := &focus.Annotation{
		Timestamp:  ts,
		Summary:    strings.TrimSpace(w.Summary),
		Activities: make([]focus.Activity, 0, len(w.Activities)),
	}
	for _, a := range w.Activities {
		category := strings.TrimSpace(a.Category)
		if category == "" {
			category = focus.StateUnknown
		}
		ann.Activities = append(ann.Activities, focus.NormalizeActivity(focus.Activity{
			Name:     strings.TrimSpace(a.Name),
			Category: category,
			Purpose:  deref(a.Purpose),
			FocusIndicators: focus.FocusIndicators{
				AttentionLevel:        attentionLevel(a.FocusIndicators.AttentionLevel),
				ContextSwitches:       deref(a.FocusIndicators.ContextSwitches),
				WorkspaceOrganization: deref(a.FocusIndicators.WorkspaceOrganization),
			},
		}))
	}

	ann.Context = focus.Context{
		PrimaryTask:    strings.TrimSpace(deref(w.Context.PrimaryTask)),
		AttentionState: strings.TrimSpace(deref(w.Context.AttentionState)),
		Environment:    environmentText(w.Context.Environment),
		Confidence:     focus.DefaultConfidence,
	}
	if w.Context.Confidence != nil {
		ann.Context.Confidence = focus.ClampUnit(*w.Context.Confidence)
	}

	// Fill what the provider left out from the activities themselves
	if ann.Context.PrimaryTask == "" || ann.Context.AttentionState == "" {
		detected := analytics.DetectContext(ann)
		if ann.Context.PrimaryTask == "" {
			ann.Context.PrimaryTask = detected.PrimaryTask
		}
		if ann.Context.AttentionState == "" {
			ann.Context.AttentionState = detected.AttentionState
		}
	}
	ann.Context.AttentionState = focus.NormalizeState(ann.Context.AttentionState)

	return ann
}

// environmentText accepts a plain string or an object, which is kept as compact JSON.
func environmentText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
