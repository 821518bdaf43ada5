package focus

import "time"

// Context-switch levels reported per activity.
const (
	SwitchesLow    = "low"
	SwitchesMedium = "medium"
	SwitchesHigh   = "high"
)

// Workspace-organization levels reported per activity.
const (
	OrgOrganized = "organized"
	OrgMixed     = "mixed"
	OrgScattered = "scattered"
)

// Attention states for a snapshot.
const (
	StateFocused       = "focused"
	StateTransitioning = "transitioning"
	StateScattered     = "scattered"
	StateNeutral       = "neutral"
	StateUnknown       = "unknown"
)

// DefaultConfidence applies when the annotation omits context.confidence.
const DefaultConfidence = 0.5

// Capture is a screen image on disk waiting to be analyzed.
type Capture struct {
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
}

// FocusIndicators is the per-activity attention triple.
type FocusIndicators struct {
	// AttentionLevel is 0-100
	AttentionLevel int `json:"attention_level"`

	// ContextSwitches is low, medium or high
	ContextSwitches string `json:"context_switches"`

	// WorkspaceOrganization is organized, mixed or scattered
	WorkspaceOrganization string `json:"workspace_organization"`
}

// Activity is one application or task detected in a capture.
type Activity struct {
	Name            string          `json:"name"`
	Category        string          `json:"category"`
	Purpose         string          `json:"purpose"`
	FocusIndicators FocusIndicators `json:"focus_indicators"`
}

// Context is the snapshot-level interpretation of a capture.
type Context struct {
	PrimaryTask    string  `json:"primary_task"`
	AttentionState string  `json:"attention_state"`
	Environment    string  `json:"environment"`
	Confidence     float64 `json:"confidence"`
}

// Annotation is a validated analysis result for one capture.
type Annotation struct {
	// Timestamp is the capture time, not the analysis time
	Timestamp  time.Time  `json:"timestamp"`
	Summary    string     `json:"summary"`
	Activities []Activity `json:"activities"`
	Context    Context    `json:"context"`

	// BatchID identifies the batch that produced this annotation (optional)
	BatchID string `json:"batch_id,omitempty"`
}

// Snapshot is a stored annotation joined with its optional focus state and environment.
type Snapshot struct {
	ID          int64      `json:"id"`
	Timestamp   time.Time  `json:"timestamp"`
	Summary     string     `json:"summary"`
	FocusScore  float64    `json:"focus_score"`
	BatchID     *string    `json:"batch_id,omitempty"`
	StateType   *string    `json:"state_type,omitempty"`
	Confidence  *float64   `json:"confidence,omitempty"`
	Environment *string    `json:"environment,omitempty"`
	PrimaryTask *string    `json:"primary_task,omitempty"`
	Activities  []Activity `json:"activities"`
}

// ActivityRecord is a stored activity with its snapshot time.
type ActivityRecord struct {
	SnapshotID int64     `json:"snapshot_id"`
	Timestamp  time.Time `json:"timestamp"`
	Activity
}

// FocusStateRecord is a stored focus state with its snapshot time.
type FocusStateRecord struct {
	SnapshotID int64     `json:"snapshot_id"`
	Timestamp  time.Time `json:"timestamp"`
	StateType  string    `json:"state_type"`
	Confidence float64   `json:"confidence"`
}

// TaskSegment is a contiguous period spent on one task. EndTime is nil while open.
type TaskSegment struct {
	ID        int64      `json:"id"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	TaskName  string     `json:"task_name"`
	Category  string     `json:"category"`
}

// FocusTrigger marks the event that ended a focus session.
type FocusTrigger struct {
	Type      string    `json:"type"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`

	// RecoverySeconds is how long until focus resumed, when known
	RecoverySeconds *int `json:"recovery_seconds,omitempty"`
}

// FocusSession groups consecutive activities of the same type.
type FocusSession struct {
	ID              int64          `json:"id,omitempty"`
	StartTime       time.Time      `json:"start_time"`
	EndTime         *time.Time     `json:"end_time,omitempty"`
	ActivityType    string         `json:"activity_type"`
	DurationMinutes float64        `json:"duration_minutes"`
	ContextSwitches int            `json:"context_switches"`
	AttentionScore  float64        `json:"attention_score"`
	Triggers        []FocusTrigger `json:"triggers"`
}

// NewFocusSession opens a session at start with no activity folded in yet.
func NewFocusSession(start time.Time, activityType string) *FocusSession {
	return &FocusSession{
		StartTime:    start,
		ActivityType: activityType,
		Triggers:     []FocusTrigger{},
	}
}

// AddActivity folds an activity observed at ts into the session.
// The attention score is smoothed as (old+new)/2 rather than averaged.
func (s *FocusSession) AddActivity(ts time.Time, ind FocusIndicators) {
	end := ts
	s.EndTime = &end
	s.DurationMinutes = end.Sub(s.StartTime).Minutes()
	s.AttentionScore = (s.AttentionScore + float64(ind.AttentionLevel)) / 2
	if ind.ContextSwitches == SwitchesHigh {
		s.ContextSwitches++
	}
}
