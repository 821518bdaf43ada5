package db

import (
	"context"
	"math/rand/v2"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/focus/internal/errors"
	"github.com/hpungsan/focus/internal/focus"
	"github.com/hpungsan/focus/internal/logging"
)

type fixedRand float64

func (f fixedRand) Float64() float64 { return float64(f) }

var t0 = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

func newMemoryStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	database, err := InitMemory()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	opts = append([]Option{WithRand(fixedRand(0)), WithLogger(logging.Discard())}, opts...)
	return NewStore(database, "", opts...)
}

func annotation(ts time.Time, task, state string, activities ...focus.Activity) *focus.Annotation {
	return &focus.Annotation{
		Timestamp:  ts,
		Summary:    "working on " + task,
		Activities: activities,
		Context: focus.Context{
			PrimaryTask:    task,
			AttentionState: state,
			Environment:    "single monitor, quiet",
			Confidence:     0.8,
		},
	}
}

func activity(name string, attention int, switches, org string) focus.Activity {
	return focus.Activity{
		Name:     name,
		Category: "development",
		Purpose:  "build " + name,
		FocusIndicators: focus.FocusIndicators{
			AttentionLevel:        attention,
			ContextSwitches:       switches,
			WorkspaceOrganization: org,
		},
	}
}

func TestFocusScore_Formula(t *testing.T) {
	tests := []struct {
		name       string
		state      string
		u          float64
		activities []focus.Activity
		want       float64
	}{
		{
			name:       "focused with one strong activity",
			state:      focus.StateFocused,
			u:          0,
			activities: []focus.Activity{activity("vscode", 100, "low", "organized")},
			want:       0.91, // 0.4*0.85 + 0.6*(0.5+0.27+0.18)
		},
		{
			name:  "scattered without activities is base only",
			state: focus.StateScattered,
			u:     0.5,
			want:  0.25,
		},
		{
			name:  "unrecognized state uses the unknown range",
			state: "daydreaming",
			u:     0,
			want:  0.3,
		},
		{
			name:  "transitioning averages activities",
			state: focus.StateTransitioning,
			u:     0,
			activities: []focus.Activity{
				activity("slack", 40, "high", "scattered"), // 0.35
				activity("vscode", 80, "medium", "mixed"),  // 0.70
			},
			want: 0.475, // 0.4*0.4 + 0.6*0.525, either neighbour after rounding
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FocusScore(tt.state, tt.activities, tt.u)
			assert.InDelta(t, tt.want, got, 0.006)
		})
	}
}

func TestFocusScore_AlwaysInUnitRange(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	states := []string{focus.StateFocused, focus.StateTransitioning, focus.StateScattered, focus.StateUnknown, "other"}
	switches := []string{"low", "medium", "high"}
	orgs := []string{"organized", "mixed", "scattered"}

	for i := 0; i < 2000; i++ {
		n := r.IntN(5)
		acts := make([]focus.Activity, n)
		for j := range acts {
			acts[j] = activity("app", r.IntN(101), switches[r.IntN(3)], orgs[r.IntN(3)])
		}
		got := FocusScore(states[r.IntN(len(states))], acts, r.Float64())
		if got < 0 || got > 1 {
			t.Fatalf("FocusScore() = %v, out of [0,1]", got)
		}
	}
}

func TestStoreSnapshot_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore(t)

	ann := annotation(t0, "coding", "focused",
		activity("vscode", 90, "low", "organized"),
		activity("terminal", 70, "medium", "mixed"),
	)
	ann.BatchID = "01HBATCH"

	id, err := s.StoreSnapshot(ctx, ann)
	require.NoError(t, err)
	require.Positive(t, id)

	snaps, err := s.GetSnapshotsBetween(ctx, t0.Add(-time.Minute), t0.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, snaps, 1)

	got := snaps[0]
	assert.Equal(t, id, got.ID)
	assert.True(t, got.Timestamp.Equal(t0))
	assert.Equal(t, ann.Summary, got.Summary)
	assert.Equal(t, ann.Activities, got.Activities)
	require.NotNil(t, got.StateType)
	assert.Equal(t, "focused", *got.StateType)
	require.NotNil(t, got.Confidence)
	assert.InDelta(t, 0.8, *got.Confidence, 1e-9)
	require.NotNil(t, got.Environment)
	assert.Equal(t, "single monitor, quiet", *got.Environment)
	require.NotNil(t, got.BatchID)
	assert.Equal(t, "01HBATCH", *got.BatchID)
	assert.GreaterOrEqual(t, got.FocusScore, 0.0)
	assert.LessOrEqual(t, got.FocusScore, 1.0)
}

func TestStoreSnapshot_NormalizesUntrustedLevels(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore(t)

	ann := annotation(t0, "coding", " Focused ", activity("vscode", 140, "HIGH", "chaotic"))
	ann.Context.Confidence = 3

	_, err := s.StoreSnapshot(ctx, ann)
	require.NoError(t, err)

	acts, err := s.GetActivitiesBetween(ctx, t0, t0)
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.Equal(t, 100, acts[0].FocusIndicators.AttentionLevel)
	assert.Equal(t, "high", acts[0].FocusIndicators.ContextSwitches)
	assert.Equal(t, "mixed", acts[0].FocusIndicators.WorkspaceOrganization)

	states, err := s.GetFocusStatesBetween(ctx, t0, t0)
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, "focused", states[0].StateType)
	assert.Equal(t, 1.0, states[0].Confidence)
}

func TestStoreSnapshot_TaskSegments(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore(t)

	tasks := []string{"writing", "writing", "coding"}
	for i, task := range tasks {
		_, err := s.StoreSnapshot(ctx, annotation(t0.Add(time.Duration(i)*5*time.Minute), task, "focused"))
		require.NoError(t, err)
	}

	segments, err := s.GetTaskSegments(ctx, t0.Add(-time.Hour), t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, segments, 2)

	first, second := segments[0], segments[1]
	assert.Equal(t, "writing", first.TaskName)
	assert.True(t, first.StartTime.Equal(t0))
	require.NotNil(t, first.EndTime)
	assert.True(t, first.EndTime.Equal(t0.Add(10*time.Minute)), "closed when coding was stored")

	assert.Equal(t, "coding", second.TaskName)
	assert.Nil(t, second.EndTime)

	var open int
	require.NoError(t, s.DB().QueryRow("SELECT COUNT(*) FROM task_segments WHERE end_time IS NULL").Scan(&open))
	assert.Equal(t, 1, open)
}

func TestStoreSnapshot_LateArrivalNeverEndsBeforeStart(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore(t)

	_, err := s.StoreSnapshot(ctx, annotation(t0, "writing", "focused"))
	require.NoError(t, err)
	// Drained out of order: older than the open segment
	_, err = s.StoreSnapshot(ctx, annotation(t0.Add(-time.Minute), "coding", "focused"))
	require.NoError(t, err)

	segments, err := s.GetTaskSegments(ctx, t0.Add(-time.Hour), t0.Add(time.Hour))
	require.NoError(t, err)
	for _, seg := range segments {
		if seg.EndTime != nil {
			assert.False(t, seg.EndTime.Before(seg.StartTime), "segment %d ends before it starts", seg.ID)
		}
	}
}

func TestStoreSnapshot_RollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore(t)

	// The environment insert is the last write; breaking it must undo everything before it
	_, err := s.DB().Exec("DROP TABLE environments")
	require.NoError(t, err)

	_, err = s.StoreSnapshot(ctx, annotation(t0, "coding", "focused", activity("vscode", 90, "low", "organized")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrStorage))

	for _, table := range []string{"snapshots", "activities", "focus_states", "task_segments"} {
		var n int
		require.NoError(t, s.DB().QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
		assert.Zero(t, n, "table %s should be empty after rollback", table)
	}
}

func TestGetSnapshotsBetween_MissingJoins(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore(t)

	ann := annotation(t0, "reading", "focused")
	ann.Context.Environment = ""
	id, err := s.StoreSnapshot(ctx, ann)
	require.NoError(t, err)

	_, err = s.DB().Exec("DELETE FROM focus_states WHERE snapshot_id = ?", id)
	require.NoError(t, err)

	snaps, err := s.GetSnapshotsBetween(ctx, t0, t0)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Nil(t, snaps[0].StateType)
	assert.Nil(t, snaps[0].Confidence)
	assert.Nil(t, snaps[0].Environment)
	assert.Empty(t, snaps[0].Activities)

	states, err := s.GetFocusStatesBetween(ctx, t0, t0)
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, focus.StateUnknown, states[0].StateType)
}

func TestGetSnapshotsBetween_NewestFirst(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore(t)

	for _, offset := range []time.Duration{2 * time.Minute, 0, time.Minute} {
		_, err := s.StoreSnapshot(ctx, annotation(t0.Add(offset), "coding", "focused"))
		require.NoError(t, err)
	}

	snaps, err := s.GetSnapshotsBetween(ctx, t0, t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	assert.True(t, snaps[0].Timestamp.Equal(t0.Add(2*time.Minute)))
	assert.True(t, snaps[2].Timestamp.Equal(t0))

	recent, err := s.GetRecentSnapshots(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestCleanupOldData(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := newMemoryStore(t, WithClock(func() time.Time { return now }))

	cutoff := now.Add(-30 * 24 * time.Hour)
	old := []time.Time{cutoff.Add(-time.Millisecond), cutoff.Add(-48 * time.Hour)}
	kept := []time.Time{cutoff, cutoff.Add(time.Hour), now}

	for _, ts := range append(append([]time.Time{}, old...), kept...) {
		_, err := s.StoreSnapshot(ctx, annotation(ts, "coding", "focused", activity("vscode", 80, "low", "organized")))
		require.NoError(t, err)
	}

	result, err := s.CleanupOldData(ctx, 30)
	require.NoError(t, err)
	assert.EqualValues(t, len(old), result.RowsDeleted)
	assert.Zero(t, result.BytesReclaimed, "in-memory stores reclaim no file bytes")

	snaps, err := s.GetSnapshotsBetween(ctx, time.Time{}, now)
	require.NoError(t, err)
	require.Len(t, snaps, len(kept))
	for _, snap := range snaps {
		assert.False(t, snap.Timestamp.Before(cutoff))
	}

	// Activities cascade with their snapshots
	var orphans int
	require.NoError(t, s.DB().QueryRow(
		"SELECT COUNT(*) FROM activities WHERE snapshot_id NOT IN (SELECT id FROM snapshots)").Scan(&orphans))
	assert.Zero(t, orphans)

	_, err = s.CleanupOldData(ctx, 0)
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestCleanupOldData_FileStore(t *testing.T) {
	ctx := context.Background()
	tmpDir := t.TempDir()
	database, err := Init(tmpDir)
	require.NoError(t, err)
	defer database.Close()

	now := time.Now()
	s := NewStore(database, Path(tmpDir), WithRand(fixedRand(0.5)), WithLogger(logging.Discard()))

	for i := 0; i < 50; i++ {
		ann := annotation(now.Add(-60*24*time.Hour).Add(time.Duration(i)*time.Minute), "coding", "focused",
			activity("vscode", 80, "low", "organized"))
		_, err := s.StoreSnapshot(ctx, ann)
		require.NoError(t, err)
	}

	result, err := s.CleanupOldData(ctx, 30)
	require.NoError(t, err)
	assert.EqualValues(t, 50, result.RowsDeleted)
	assert.GreaterOrEqual(t, result.BytesReclaimed, int64(0))
	assert.Equal(t, filepath.Join(tmpDir, FileName), s.path)
}

func TestOptimize(t *testing.T) {
	ctx := context.Background()
	tmpDir := t.TempDir()
	database, err := Init(tmpDir)
	require.NoError(t, err)
	defer database.Close()

	s := NewStore(database, Path(tmpDir), WithLogger(logging.Discard()))
	_, err = s.StoreSnapshot(ctx, annotation(t0, "coding", "focused"))
	require.NoError(t, err)

	require.NoError(t, s.Optimize(ctx))

	ok, err := s.VerifyIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyIntegrity_DetectsBrokenReferences(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore(t)

	ok, err := s.VerifyIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	// The memory pool is a single connection, so this pragma sticks for the inserts below
	_, err = s.DB().Exec("PRAGMA foreign_keys = OFF")
	require.NoError(t, err)
	_, err = s.DB().Exec(`INSERT INTO activities (snapshot_id, name, category, purpose, attention_level,
		context_switches, workspace_organization) VALUES (999, 'ghost', 'x', '', 50, 'low', 'mixed')`)
	require.NoError(t, err)

	ok, err = s.VerifyIntegrity(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	report, err := s.CheckIntegrity(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, report.Problems)
	assert.Contains(t, report.Problems[0], "activities")
}

func TestFocusSessions_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore(t)

	end := t0.Add(30 * time.Minute)
	recovery := 45
	sessions := []focus.FocusSession{
		{
			StartTime:       t0,
			EndTime:         &end,
			ActivityType:    "vscode",
			DurationMinutes: 29.75,
			ContextSwitches: 1,
			AttentionScore:  42.5,
			Triggers: []focus.FocusTrigger{
				{Type: "app_switch", Source: "slack", Timestamp: end, RecoverySeconds: &recovery},
			},
		},
		{StartTime: end, ActivityType: "slack", Triggers: []focus.FocusTrigger{}},
	}

	require.NoError(t, s.SaveFocusSessions(ctx, t0, end, sessions))
	assert.Positive(t, sessions[0].ID)

	got, err := s.GetFocusSessions(ctx, t0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "vscode", got[0].ActivityType)
	assert.Equal(t, 29.75, got[0].DurationMinutes)
	require.Len(t, got[0].Triggers, 1)
	assert.Equal(t, "slack", got[0].Triggers[0].Source)
	require.NotNil(t, got[0].Triggers[0].RecoverySeconds)
	assert.Equal(t, 45, *got[0].Triggers[0].RecoverySeconds)
	assert.Nil(t, got[1].EndTime)

	// Saving the same window again replaces rather than duplicates
	require.NoError(t, s.SaveFocusSessions(ctx, t0, end, sessions[:1]))
	got, err = s.GetFocusSessions(ctx, t0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
