package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hpungsan/focus/internal/config"
	"github.com/hpungsan/focus/internal/db"
	"github.com/hpungsan/focus/internal/logging"
	"github.com/hpungsan/focus/internal/mcp"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"run": true, "recover": true, "cleanup": true, "optimize": true, "verify": true,
	"stats": true, "inspect": true, "sessions": true, "triggers": true,
	"export": true, "mcp": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	if arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" {
		return true
	}
	return false
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// baseDir is $FOCUS_HOME, or ~/.focus.
func baseDir() (string, error) {
	if dir := os.Getenv("FOCUS_HOME"); dir != "" {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".focus"), nil
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
   ___
  | __|__  __ _  _ ___
  | _/ _ \/ _| || (_-<
  |_|\___/\__|\_,_/__/

  Screen activity and focus analytics

  Usage: focus <command> [options]
         focus --help

  MCP server mode requires piped input.`)
}

func main() {
	os.Exit(run())
}

// run executes the command line and returns the process exit code.
func run() int {
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return 0
	}

	// Handle --help/--version before DB init (no DB needed)
	if isHelpOrVersion() {
		app := newCLIApp(nil, nil, "")
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		return 0
	}

	dir, err := baseDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	cfg, err := config.Load(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		return 1
	}
	// Logs go to stderr; stdout carries command output and the MCP transport
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	database, err := db.Init(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to initialize database: %v\n", err)
		return 1
	}
	defer database.Close()
	db.ConfigurePool(database, cfg)

	store := db.NewStore(database, db.Path(dir))

	if isCLIMode() {
		app := newCLIApp(store, cfg, dir)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		return 0
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'focus --help' for usage.\n")
		return 1
	}

	if err := mcp.Run(store, cfg, Version); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
