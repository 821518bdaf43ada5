package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/patrickmn/go-cache"

	"github.com/hpungsan/focus/internal/analytics"
	"github.com/hpungsan/focus/internal/config"
	"github.com/hpungsan/focus/internal/db"
	"github.com/hpungsan/focus/internal/errors"
	"github.com/hpungsan/focus/internal/focus"
)

// Window and page limits for tool arguments.
const (
	DefaultHours  = 24
	MaxHours      = 720
	DefaultLimit  = 20
	MaxLimit      = 200
	CacheDuration = 30 * time.Second
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	store *db.Store
	cfg   *config.Config
	cache *cache.Cache
	now   func() time.Time
}

// NewHandlers creates a new Handlers instance. Read results are cached for
// CacheDuration.
func NewHandlers(store *db.Store, cfg *config.Config) *Handlers {
	return &Handlers{
		store: store,
		cfg:   cfg,
		cache: cache.New(CacheDuration, time.Minute),
		now:   time.Now,
	}
}

// Request types for each tool

// WindowRequest selects the last Hours hours.
type WindowRequest struct {
	Hours int `json:"hours,omitempty"`
}

// DailyRequest selects one calendar day.
type DailyRequest struct {
	Date string `json:"date,omitempty"`
}

// SnapshotsRequest represents the arguments for focus_snapshots.
type SnapshotsRequest struct {
	Hours int `json:"hours,omitempty"`
	Limit int `json:"limit,omitempty"`
}

// CleanupRequest represents the arguments for focus_cleanup.
type CleanupRequest struct {
	Days int `json:"days,omitempty"`
}

// Output types

// MetricsOutput is focus_metrics' result.
type MetricsOutput struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	analytics.FocusMetrics
}

// SessionsOutput is focus_sessions' result.
type SessionsOutput struct {
	Sessions []focus.FocusSession `json:"sessions"`
	Count    int                  `json:"count"`
}

// TriggersOutput is focus_triggers' result.
type TriggersOutput struct {
	Triggers []analytics.TriggerCount `json:"triggers"`
}

// SnapshotsOutput is focus_snapshots' result.
type SnapshotsOutput struct {
	Snapshots []focus.Snapshot `json:"snapshots"`
	Count     int              `json:"count"`
	Truncated bool             `json:"truncated"`
}

// Handler implementations

// HandleMetrics handles the focus_metrics tool call.
func (h *Handlers) HandleMetrics(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[WindowRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	start, end, err := h.window(input.Hours)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := h.cached(fmt.Sprintf("metrics:%d", input.Hours), func() (any, error) {
		activities, err := h.store.GetActivitiesBetween(ctx, start, end)
		if err != nil {
			return nil, err
		}
		return MetricsOutput{Start: start, End: end, FocusMetrics: analytics.ComputeFocusMetrics(activities)}, nil
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleDaily handles the focus_daily tool call.
func (h *Handlers) HandleDaily(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[DailyRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	day := h.now()
	if input.Date != "" {
		day, err = time.ParseInLocation("2006-01-02", input.Date, time.Local)
		if err != nil {
			return errorResult(errors.NewInvalidRequest("date must be YYYY-MM-DD")), nil
		}
	}

	result, err := h.cached("daily:"+day.Format("2006-01-02"), func() (any, error) {
		return analytics.DailyMetrics(ctx, h.store, day), nil
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleSessions handles the focus_sessions tool call.
func (h *Handlers) HandleSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[WindowRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.cached(fmt.Sprintf("sessions:%d", input.Hours), func() (any, error) {
		sessions, err := h.sessions(ctx, input.Hours)
		if err != nil {
			return nil, err
		}
		return SessionsOutput{Sessions: sessions, Count: len(sessions)}, nil
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleTriggers handles the focus_triggers tool call.
func (h *Handlers) HandleTriggers(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[WindowRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.cached(fmt.Sprintf("triggers:%d", input.Hours), func() (any, error) {
		sessions, err := h.sessions(ctx, input.Hours)
		if err != nil {
			return nil, err
		}
		return TriggersOutput{Triggers: analytics.DetectTriggers(sessions)}, nil
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleSnapshots handles the focus_snapshots tool call.
func (h *Handlers) HandleSnapshots(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SnapshotsRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	limit := input.Limit
	switch {
	case limit == 0:
		limit = DefaultLimit
	case limit < 0 || limit > MaxLimit:
		return errorResult(errors.NewInvalidRequest(fmt.Sprintf("limit must be between 1 and %d", MaxLimit))), nil
	}
	start, end, err := h.window(input.Hours)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := h.cached(fmt.Sprintf("snapshots:%d:%d", input.Hours, limit), func() (any, error) {
		snapshots, err := h.store.GetSnapshotsBetween(ctx, start, end)
		if err != nil {
			return nil, err
		}
		out := SnapshotsOutput{Snapshots: snapshots}
		if len(snapshots) > limit {
			out.Snapshots = snapshots[:limit]
			out.Truncated = true
		}
		out.Count = len(out.Snapshots)
		return out, nil
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleVerify handles the focus_verify tool call. It is never cached.
func (h *Handlers) HandleVerify(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report, err := h.store.CheckIntegrity(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(report)
}

// HandleCleanup handles the focus_cleanup tool call and drops cached reads.
func (h *Handlers) HandleCleanup(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CleanupRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	days := input.Days
	if days == 0 {
		days = h.cfg.RetentionDays
	}

	result, err := h.store.CleanupOldData(ctx, days)
	if err != nil {
		return errorResult(err), nil
	}
	h.cache.Flush()

	return successResult(result)
}

// window resolves an hours argument into [now-hours, now].
func (h *Handlers) window(hours int) (time.Time, time.Time, error) {
	if hours == 0 {
		hours = DefaultHours
	}
	if hours < 0 || hours > MaxHours {
		return time.Time{}, time.Time{}, errors.NewInvalidRequest(
			fmt.Sprintf("hours must be between 1 and %d", MaxHours))
	}
	end := h.now()
	return end.Add(-time.Duration(hours) * time.Hour), end, nil
}

func (h *Handlers) sessions(ctx context.Context, hours int) ([]focus.FocusSession, error) {
	start, end, err := h.window(hours)
	if err != nil {
		return nil, err
	}
	activities, err := h.store.GetActivitiesBetween(ctx, start, end)
	if err != nil {
		return nil, err
	}
	return analytics.GroupIntoSessions(activities), nil
}

// cached returns the value stored under key or loads and stores it.
// Errors are never cached.
func (h *Handlers) cached(key string, load func() (any, error)) (any, error) {
	if v, ok := h.cache.Get(key); ok {
		return v, nil
	}
	v, err := load()
	if err != nil {
		return nil, err
	}
	h.cache.Set(key, v, cache.DefaultExpiration)
	return v, nil
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal error details are not exposed.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if fErr, ok := errors.As(err); ok {
		errorObj := map[string]any{
			"code":    fErr.Code,
			"message": fErr.Message,
			"status":  fErr.Status,
		}
		if fErr.Code != errors.ErrInternal && fErr.Details != nil {
			errorObj["details"] = fErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
