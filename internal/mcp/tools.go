package mcp

import "github.com/mark3labs/mcp-go/mcp"

const hoursHelp = "Window size in hours ending now (default 24, max 720)"

var metricsToolDef = mcp.NewTool("focus_metrics",
	mcp.WithDescription("Focus metrics over a recent window: sessions, context switches per hour, attention quality, workspace organization and recommendations."),
	mcp.WithNumber("hours", mcp.Description(hoursHelp)),
	mcp.WithReadOnlyHintAnnotation(true),
)

var dailyToolDef = mcp.NewTool("focus_daily",
	mcp.WithDescription("Daily summary for one calendar day: snapshot count, active hours, average focus score, task mix, focus states and hourly patterns."),
	mcp.WithString("date", mcp.Description("Day in YYYY-MM-DD, local time (default today)")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var sessionsToolDef = mcp.NewTool("focus_sessions",
	mcp.WithDescription("Focus sessions derived from recent activities, oldest first, each with the trigger that ended it."),
	mcp.WithNumber("hours", mcp.Description(hoursHelp)),
	mcp.WithReadOnlyHintAnnotation(true),
)

var triggersToolDef = mcp.NewTool("focus_triggers",
	mcp.WithDescription("Most frequent focus-breaking triggers in a recent window, as \"source: type\" with counts."),
	mcp.WithNumber("hours", mcp.Description(hoursHelp)),
	mcp.WithReadOnlyHintAnnotation(true),
)

var snapshotsToolDef = mcp.NewTool("focus_snapshots",
	mcp.WithDescription("Recent stored snapshots with their activities, newest first."),
	mcp.WithNumber("hours", mcp.Description(hoursHelp)),
	mcp.WithNumber("limit", mcp.Description("Maximum snapshots to return (default 20, max 200)")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var verifyToolDef = mcp.NewTool("focus_verify",
	mcp.WithDescription("Run the database integrity and foreign key checks and list any problems."),
	mcp.WithReadOnlyHintAnnotation(true),
)

var cleanupToolDef = mcp.NewTool("focus_cleanup",
	mcp.WithDescription("Delete snapshots older than the retention window and reclaim space."),
	mcp.WithNumber("days", mcp.Description("Retention in days (default from config)")),
	mcp.WithDestructiveHintAnnotation(true),
)
