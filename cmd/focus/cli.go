package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/focus/internal/analysis"
	"github.com/hpungsan/focus/internal/analytics"
	"github.com/hpungsan/focus/internal/batch"
	"github.com/hpungsan/focus/internal/capture"
	"github.com/hpungsan/focus/internal/config"
	"github.com/hpungsan/focus/internal/db"
	"github.com/hpungsan/focus/internal/errors"
	"github.com/hpungsan/focus/internal/focus"
	"github.com/hpungsan/focus/internal/mcp"
	"github.com/hpungsan/focus/internal/metrics"
	"github.com/hpungsan/focus/internal/report"
	"github.com/hpungsan/focus/internal/runner"
)

const dateLayout = "2006-01-02"

// newCLIApp creates the CLI application with all commands.
// baseDir is the focus home; exports are written below it.
func newCLIApp(store *db.Store, cfg *config.Config, baseDir string) *cli.App {
	app := &cli.App{
		Name:    "focus",
		Usage:   "Screen activity and focus analytics",
		Version: Version,
		Commands: []*cli.Command{
			runCmd(store, cfg),
			recoverCmd(store, cfg),
			cleanupCmd(store, cfg),
			optimizeCmd(store),
			verifyCmd(store),
			statsCmd(store),
			inspectCmd(store),
			sessionsCmd(store),
			triggersCmd(store),
			exportCmd(store, baseDir),
			mcpCmd(store, cfg),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// pipeline is the capture-to-storage chain shared by run and recover.
type pipeline struct {
	queue     *capture.Queue
	scheduler *batch.Scheduler
	metrics   *metrics.Metrics
}

func newPipeline(store *db.Store, cfg *config.Config) (*pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.NewInvalidRequest(err.Error())
	}
	client, err := analysis.NewClient(cfg)
	if err != nil {
		return nil, err
	}

	q := capture.NewQueue()
	m := metrics.New(q.Len)
	gateway := analysis.NewGateway(client, analysis.Options{
		Attempts:          cfg.RetryAttempts,
		Delay:             cfg.RetryDelay(),
		Timeout:           cfg.AnalysisTimeout(),
		RequestsPerMinute: cfg.RequestsPerMinute,
		OnAttempt:         m.Attempt,
	})
	scheduler := batch.New(q, gateway, store, batch.Config{
		BatchSize:   cfg.BatchSize,
		Interval:    cfg.BatchInterval(),
		Concurrency: cfg.AnalysisConcurrency,
		Grace:       cfg.ShutdownGrace(),
	}, batch.WithMetrics(m))

	return &pipeline{queue: q, scheduler: scheduler, metrics: m}, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
}

// runCmd creates the run command.
func runCmd(store *db.Store, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Capture, analyze and store until interrupted",
		Action: func(c *cli.Context) error {
			p, err := newPipeline(store, cfg)
			if err != nil {
				return outputError(err)
			}

			opts := []runner.Option{runner.WithMetrics(p.metrics)}
			if cfg.CaptureMode == config.CaptureModeCommand {
				opts = append(opts, runner.WithCapturer(capture.NewCommandCapturer(cfg.CaptureDir, cfg.CaptureCommand)))
			}
			r := runner.New(runner.FromConfig(cfg, cfg.CaptureDir), p.queue, p.scheduler, store, opts...)

			ctx, stop := signalContext(c)
			defer stop()

			if err := r.Run(ctx); err != nil {
				return outputError(err)
			}
			return nil
		},
	}
}

// recoverCmd creates the recover command.
func recoverCmd(store *db.Store, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "recover",
		Usage: "Analyze captures left in the capture directory by an earlier run",
		Action: func(c *cli.Context) error {
			p, err := newPipeline(store, cfg)
			if err != nil {
				return outputError(err)
			}

			ctx, stop := signalContext(c)
			defer stop()

			stored, err := p.scheduler.Recover(ctx, cfg.CaptureDir)
			if err != nil && len(stored) == 0 {
				return outputError(err)
			}

			ids := make([]int64, len(stored))
			for i, s := range stored {
				ids[i] = s.SnapshotID
			}
			return outputJSON(map[string]any{
				"stored":       len(stored),
				"snapshot_ids": ids,
			})
		},
	}
}

// cleanupCmd creates the cleanup command.
func cleanupCmd(store *db.Store, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "cleanup",
		Usage: "Delete snapshots and capture images past retention",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "days", Aliases: []string{"d"}, Usage: "Retention in days (defaults to retention_days)"},
		},
		Action: func(c *cli.Context) error {
			days := cfg.RetentionDays
			if c.IsSet("days") {
				days = c.Int("days")
			}

			result, err := store.CleanupOldData(c.Context, days)
			if err != nil {
				return outputError(err)
			}

			images := 0
			if maxAge := cfg.CaptureMaxAge(); maxAge > 0 {
				images, err = capture.CleanupOldImages(cfg.CaptureDir, maxAge, time.Now())
				if err != nil {
					return outputError(errors.NewMaintenance("cleanup capture images", err))
				}
			}

			return outputJSON(struct {
				*db.CleanupResult
				ImagesDeleted int `json:"images_deleted"`
			}{result, images})
		},
	}
}

// optimizeCmd creates the optimize command.
func optimizeCmd(store *db.Store) *cli.Command {
	return &cli.Command{
		Name:  "optimize",
		Usage: "Refresh planner statistics and compact the database",
		Action: func(c *cli.Context) error {
			if err := store.Optimize(c.Context); err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{"optimized": true})
		},
	}
}

// verifyCmd creates the verify command.
func verifyCmd(store *db.Store) *cli.Command {
	return &cli.Command{
		Name:  "verify",
		Usage: "Run integrity and foreign key checks",
		Action: func(c *cli.Context) error {
			result, err := store.CheckIntegrity(c.Context)
			if err != nil {
				return outputError(err)
			}
			if err := outputJSON(result); err != nil {
				return err
			}
			if !result.OK {
				return cli.Exit("integrity check failed", 1)
			}
			return nil
		},
	}
}

// statsCmd creates the stats command.
func statsCmd(store *db.Store) *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Focus metrics for the last N hours plus today's summary",
		Flags: []cli.Flag{hoursFlag(24)},
		Action: func(c *cli.Context) error {
			start, end, err := window(c.Int("hours"), time.Now())
			if err != nil {
				return outputError(err)
			}

			activities, err := store.GetActivitiesBetween(c.Context, start, end)
			if err != nil {
				return outputError(err)
			}

			return outputJSON(map[string]any{
				"start":   start,
				"end":     end,
				"metrics": analytics.ComputeFocusMetrics(activities),
				"today":   analytics.DailyMetrics(c.Context, store, end),
			})
		},
	}
}

// inspectCmd creates the inspect command.
func inspectCmd(store *db.Store) *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "Group recent snapshots into time buckets",
		Flags: []cli.Flag{
			hoursFlag(1),
			&cli.DurationFlag{Name: "bucket", Aliases: []string{"b"}, Value: 15 * time.Minute, Usage: "Bucket width"},
		},
		Action: func(c *cli.Context) error {
			start, end, err := window(c.Int("hours"), time.Now())
			if err != nil {
				return outputError(err)
			}
			if c.Duration("bucket") <= 0 {
				return outputError(errors.NewInvalidRequest("bucket must be positive"))
			}

			snapshots, err := store.GetSnapshotsBetween(c.Context, start, end)
			if err != nil {
				return outputError(err)
			}

			return outputJSON(map[string]any{
				"snapshots": len(snapshots),
				"buckets":   analytics.Buckets(snapshots, c.Duration("bucket")),
			})
		},
	}
}

// sessionsCmd creates the sessions command.
func sessionsCmd(store *db.Store) *cli.Command {
	return &cli.Command{
		Name:  "sessions",
		Usage: "Recompute and save focus sessions for the last N hours",
		Flags: []cli.Flag{hoursFlag(24)},
		Action: func(c *cli.Context) error {
			start, end, err := window(c.Int("hours"), time.Now())
			if err != nil {
				return outputError(err)
			}

			sessions, err := recentSessions(c.Context, store, start, end)
			if err != nil {
				return outputError(err)
			}
			if err := store.SaveFocusSessions(c.Context, start, end, sessions); err != nil {
				return outputError(err)
			}

			return outputJSON(map[string]any{
				"sessions": sessions,
				"count":    len(sessions),
			})
		},
	}
}

// triggersCmd creates the triggers command.
func triggersCmd(store *db.Store) *cli.Command {
	return &cli.Command{
		Name:  "triggers",
		Usage: "Rank what interrupted focus sessions in the last N hours",
		Flags: []cli.Flag{hoursFlag(24)},
		Action: func(c *cli.Context) error {
			start, end, err := window(c.Int("hours"), time.Now())
			if err != nil {
				return outputError(err)
			}

			sessions, err := recentSessions(c.Context, store, start, end)
			if err != nil {
				return outputError(err)
			}

			return outputJSON(map[string]any{
				"triggers": analytics.DetectTriggers(sessions),
			})
		},
	}
}

// exportCmd creates the export command.
func exportCmd(store *db.Store, baseDir string) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export a JSON timeframe to stdout, or write a daily report to the exports directory",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "json", Usage: "Output format: json|md|html"},
			&cli.StringFlag{Name: "date", Usage: "Report day for md/html (YYYY-MM-DD, defaults to today)"},
			&cli.StringFlag{Name: "from", Usage: "First day for json (YYYY-MM-DD, defaults to 6 days before --to)"},
			&cli.StringFlag{Name: "to", Usage: "Last day for json (YYYY-MM-DD, defaults to today)"},
		},
		Action: func(c *cli.Context) error {
			now := time.Now()

			switch format := c.String("format"); format {
			case "json":
				to, err := parseDay(c.String("to"), now)
				if err != nil {
					return outputError(err)
				}
				from := to.AddDate(0, 0, -6)
				if c.String("from") != "" {
					if from, err = parseDay(c.String("from"), now); err != nil {
						return outputError(err)
					}
				}
				start, _ := analytics.DayBounds(from)
				last, _ := analytics.DayBounds(to)

				export, err := analytics.ExportTimeframe(c.Context, store, start, last.AddDate(0, 0, 1))
				if err != nil {
					return outputError(err)
				}
				return outputJSON(export)

			case "md", "html":
				day, err := parseDay(c.String("date"), now)
				if err != nil {
					return outputError(err)
				}

				html := format == "html"
				content := report.Daily(c.Context, store, day)
				if html {
					if content, err = report.HTML("Focus report "+day.Format(dateLayout), content); err != nil {
						return outputError(errors.NewInternal(err))
					}
				}

				path, err := report.Write(filepath.Join(baseDir, "exports"), report.FileName(day, html), []byte(content))
				if err != nil {
					return outputError(err)
				}
				return outputJSON(map[string]any{"path": path, "format": format})

			default:
				return outputError(errors.NewInvalidRequest(fmt.Sprintf("unknown format %q (want json, md or html)", format)))
			}
		},
	}
}

// mcpCmd creates the mcp command.
func mcpCmd(store *db.Store, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve analytics tools over MCP on stdio",
		Action: func(_ *cli.Context) error {
			if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
				fmt.Fprintf(os.Stderr, "warning: unknown disabled_tools: %v\n", unknown)
			}
			if err := mcp.Run(store, cfg, Version); err != nil {
				return outputError(errors.NewInternal(err))
			}
			return nil
		},
	}
}

// Helper functions

func hoursFlag(value int) cli.Flag {
	return &cli.IntFlag{Name: "hours", Aliases: []string{"H"}, Value: value, Usage: "Window length in hours"}
}

// window resolves a positive hour count into [now-hours, now].
func window(hours int, now time.Time) (time.Time, time.Time, error) {
	if hours <= 0 {
		return time.Time{}, time.Time{}, errors.NewInvalidRequest("hours must be positive")
	}
	return now.Add(-time.Duration(hours) * time.Hour), now, nil
}

// parseDay parses YYYY-MM-DD in local time. Empty means now.
func parseDay(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return now, nil
	}
	day, err := time.ParseInLocation(dateLayout, s, time.Local)
	if err != nil {
		return time.Time{}, errors.NewInvalidRequest(fmt.Sprintf("invalid date %q, want YYYY-MM-DD", s))
	}
	return day, nil
}

func recentSessions(ctx context.Context, store *db.Store, start, end time.Time) ([]focus.FocusSession, error) {
	activities, err := store.GetActivitiesBetween(ctx, start, end)
	if err != nil {
		return nil, err
	}
	return analytics.GroupIntoSessions(activities), nil
}

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if fErr, ok := errors.As(err); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", fErr.Code, fErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}
