package mcp

import (
	"context"
	"database/sql"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/vellumdb/vellum/internal/config"
	"github.com/vellumdb/vellum/internal/objectstore"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"history_record": {
		def:     recordToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRecord },
	},
	"history_edit": {
		def:     editToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleEdit },
	},
	"history_delete": {
		def:     deleteToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDelete },
	},
	"history_upload": {
		def:     uploadToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleUpload },
	},
	"history_timeline": {
		def:     timelineToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTimeline },
	},
	"history_state": {
		def:     stateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleState },
	},
	"history_search": {
		def:     searchToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSearch },
	},
	"history_file_versions": {
		def:     fileVersionsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleFileVersions },
	},
	"history_restore": {
		def:     restoreToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRestore },
	},
	"history_verify": {
		def:     verifyToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleVerify },
	},
}

// AllToolNames returns a list of all valid tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
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

// NewServer creates a new MCP server with Vellum tools registered.
// Tools listed in cfg.DisabledTools are excluded from registration.
func NewServer(db *sql.DB, objects objectstore.Store, cfg *config.Config, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"vellum",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(db, objects, cfg)

	disabled := make(map[string]bool, len(cfg.DisabledTools))
	for _, name := range cfg.DisabledTools {
		disabled[name] = true
	}

	// Register tools (skip disabled)
	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(db *sql.DB, objects objectstore.Store, cfg *config.Config, version string) error {
	s := NewServer(db, objects, cfg, version)
	return server.ServeStdio(s)
}

// ToolHandlerFunc is the signature for tool handlers.
type ToolHandlerFunc func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
