package mcp

import (
	"slices"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/focus/internal/config"
	"github.com/hpungsan/focus/internal/db"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"focus_metrics": {
		def:     metricsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleMetrics },
	},
	"focus_daily": {
		def:     dailyToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDaily },
	},
	"focus_sessions": {
		def:     sessionsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSessions },
	},
	"focus_triggers": {
		def:     triggersToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTriggers },
	},
	"focus_snapshots": {
		def:     snapshotsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSnapshots },
	},
	"focus_verify": {
		def:     verifyToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleVerify },
	},
	"focus_cleanup": {
		def:     cleanupToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCleanup },
	},
}

// AllToolNames returns every tool name, sorted.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// NewServer creates an MCP server with the focus tools registered.
// Tools listed in cfg.DisabledTools are excluded from registration.
func NewServer(store *db.Store, cfg *config.Config, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"focus",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(store, cfg)

	disabled := make(map[string]bool, len(cfg.DisabledTools))
	for _, name := range cfg.DisabledTools {
		disabled[name] = true
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(store *db.Store, cfg *config.Config, version string) error {
	return server.ServeStdio(NewServer(store, cfg, version))
}
