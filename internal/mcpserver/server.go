// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes board tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/stormboard/internal/board"
	"github.com/starford/stormboard/internal/models"
)

// mcpOrigin identifies tool-initiated mutations in broadcasts. It never
// collides with a websocket connection id, so every client receives the
// fan-out.
const mcpOrigin = "mcp"

// Server wraps the MCP server with board tools.
type Server struct {
	mcp    *server.MCPServer
	engine *board.Engine
}

// New creates a new MCP server with all board tools registered.
func New(engine *board.Engine) *Server {
	s := &Server{engine: engine}

	s.mcp = server.NewMCPServer(
		"Stormboard",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List the current brainstorm session's notes, newest first."),
		mcp.WithBoolean("active_only", mcp.Description("Exclude notes absorbed by a merge")),
	), s.listNotes)

	s.mcp.AddTool(mcp.NewTool("get_note",
		mcp.WithDescription("Read one note by id, including its links and merge history."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
	), s.getNote)

	s.mcp.AddTool(mcp.NewTool("add_note",
		mcp.WithDescription("Add a note to the board. Only allowed while the brainstorm "+
			"timer is running; connected participants see the note immediately."),
		mcp.WithString("content", mcp.Required(), mcp.Description("Note text")),
		mcp.WithString("author", mcp.Required(), mcp.Description("Display name of the author")),
		mcp.WithString("category", mcp.Required(), mcp.Description("One of: Customer, Process, Tools, People")),
		mcp.WithString("type", mcp.Description("PROBLEM (default) or SOLUTION")),
	), s.addNote)

	s.mcp.AddTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("List every brainstorm session with the currently active one."),
	), s.listSessions)

	s.mcp.AddTool(mcp.NewTool("session_stats",
		mcp.WithDescription("Dashboard counts for a session: problems, resolutions, "+
			"category and quadrant breakdowns. Merged notes are excluded."),
		mcp.WithString("session_id", mcp.Description("Session id (empty for the current session)")),
	), s.sessionStats)

	s.mcp.AddTool(mcp.NewTool("timer_state",
		mcp.WithDescription("Current brainstorm timer: whether notes can be added and until when."),
	), s.timerState)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) listNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	notes := s.engine.NotesSnapshot()
	if req.GetBool("active_only", false) {
		notes = s.engine.ActiveNotes()
	}
	out, _ := json.MarshalIndent(map[string]any{
		"session": s.engine.CurrentSession(),
		"notes":   notes,
	}, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	note, err := s.engine.Note(id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
	}
	out, _ := json.MarshalIndent(note, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) addNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	author, err := req.RequireString("author")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	category, err := req.RequireString("category")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	noteType := models.NoteType(req.GetString("type", string(models.TypeProblem)))

	note, err := s.engine.AddNote(mcpOrigin, models.Note{
		Content:  content,
		Author:   author,
		Category: category,
		Type:     noteType,
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %s", note.ID)), nil
}

func (s *Server) listSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessions, err := s.engine.Sessions()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(map[string]any{
		"sessions": sessions,
		"current":  s.engine.CurrentSession(),
	}, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) sessionStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := req.GetString("session_id", "")
	stats, err := s.engine.SessionStats(sessionID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(stats, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) timerState(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out, _ := json.MarshalIndent(s.engine.TimerState(), "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}
