package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	depth := 4
	m := New(func() int { return depth })

	m.CaptureResult(CaptureOK)
	m.CaptureResult(CaptureOK)
	m.Attempt("success", 2*time.Second)
	m.Stored()
	m.Batch(12)
	m.LoopError()
	m.ItemFailed("ANALYSIS_FAILED")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, `focus_captures_total{result="ok"} 2`)
	assert.Contains(t, text, `focus_analysis_attempts_total{outcome="success"} 1`)
	assert.Contains(t, text, "focus_analysis_duration_seconds_count 1")
	assert.Contains(t, text, "focus_snapshots_stored_total 1")
	assert.Contains(t, text, `focus_batch_items_failed_total{code="ANALYSIS_FAILED"} 1`)
	assert.Contains(t, text, "focus_batch_size_count 1")
	assert.Contains(t, text, "focus_loop_errors_total 1")
	assert.Contains(t, text, "focus_queue_depth 4")
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CaptureResult(CaptureFailed)
		m.Attempt("x", time.Second)
		m.Stored()
		m.Batch(1)
		m.LoopError()
		m.ItemFailed("x")
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New(nil)
		New(nil)
	})
}
