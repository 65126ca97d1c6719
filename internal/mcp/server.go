package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"attic_search": {
		def:     searchToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSearch },
	},
	"attic_write": {
		def:     writeToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleWrite },
	},
}

var searchToolDef = mcp.NewTool("attic_search",
	mcp.WithDescription("Query the vault: full-text search, file reads, project history, the prioritized project queue, session-start context, and period retrospectives."),
	mcp.WithString("action",
		mcp.Required(),
		mcp.Description("One of: search, read, history, orchestrate, context, retrospective."),
		mcp.Enum("search", "read", "history", "orchestrate", "context", "retrospective"),
	),
	mcp.WithString("query", mcp.Description("Search text (action=search) or history filter text (action=history).")),
	mcp.WithString("path", mcp.Description("Vault-relative file path (action=read) or filesystem path to resolve (action=context).")),
	mcp.WithString("session_id", mcp.Description("Session to resolve (action=context).")),
	mcp.WithString("domain", mcp.Description("Restrict to one domain.")),
	mcp.WithString("project", mcp.Description("Restrict history to one project (action=history).")),
	mcp.WithString("since", mcp.Description("YYYY-MM-DD lower bound (action=history, required for action=retrospective).")),
	mcp.WithNumber("limit", mcp.Description("Maximum results.")),
)

var writeToolDef = mcp.NewTool("attic_write",
	mcp.WithDescription("Mutate project state: replace the current-state snapshot, prepend a decision, append a history event, or record a lesson."),
	mcp.WithString("action",
		mcp.Required(),
		mcp.Description("One of: sync, decide, append_history, lesson."),
		mcp.Enum("sync", "decide", "append_history", "lesson"),
	),
	mcp.WithString("domain", mcp.Required(), mcp.Description("Vault domain.")),
	mcp.WithString("project", mcp.Required(), mcp.Description("Project within the domain.")),
	mcp.WithString("source", mcp.Description("Where this write originated (code, desktop, manual).")),
	mcp.WithObject("snapshot", mcp.Description("Full project snapshot (action=sync). Optional title/body override the derived history entry, which otherwise takes both from commit_message.")),
	mcp.WithObject("decision", mcp.Description("Decision title and body (action=decide).")),
	mcp.WithObject("entry", mcp.Description("History event (action=append_history).")),
	mcp.WithObject("lesson", mcp.Description("Lesson fields (action=lesson).")),
)

// NewServer creates an MCP server with the attic tools registered.
func NewServer(h *Handlers, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"attic",
		version,
		server.WithToolCapabilities(true),
	)
	for _, entry := range toolRegistry {
		s.AddTool(entry.def, entry.handler(h))
	}
	return s
}

// Run serves MCP over stdio until the client disconnects.
func Run(h *Handlers, version string) error {
	return server.ServeStdio(NewServer(h, version))
}
