// Package server exposes the reminder engine as an MCP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/notexe/live-reminder/internal/engine"
	"github.com/notexe/live-reminder/internal/reminder"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	serverName    = "live-reminder"
	serverVersion = "1.0.0"
)

// Notification methods sent to connected clients.
const (
	MethodDue            = "reminder/due"
	MethodUnacknowledged = "reminder/unacknowledged"
	MethodActivated      = "reminder/activated"
	MethodChanged        = "reminder/changed"
)

// Server is the MCP server for reminder management.
type Server struct {
	mcpServer *mcpserver.MCPServer
	engine    *engine.Engine
	logger    *zap.Logger

	// send delivers a notification to every client.
	send func(method string, params map[string]any)
}

// New creates an MCP server backed by eng and registers it as a shell.
func New(eng *engine.Engine, logger *zap.Logger) *Server {
	s := &Server{
		engine: eng,
		logger: logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		serverName,
		serverVersion,
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithRecovery(),
	)
	s.send = s.mcpServer.SendNotificationToAllClients

	s.registerTools()
	eng.AddShell(s)
	return s
}

// MCPServer returns the underlying MCP server for serving.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) ReminderDue(d engine.Delivery) {
	s.send(MethodDue, map[string]any{
		"delivery_id": d.ID,
		"repeat":      d.Repeat,
		"reminder":    d.Reminder,
	})
}

func (s *Server) UnacknowledgedChanged(count int) {
	s.send(MethodUnacknowledged, map[string]any{"count": count})
}

func (s *Server) Activate(r reminder.Reminder) {
	s.send(MethodActivated, map[string]any{"reminder": r})
}

func (s *Server) Refresh(m reminder.Mutation) {
	s.send(MethodChanged, map[string]any{"kind": string(m.Kind), "id": m.ID})
}

func (s *Server) registerTools() {
	idArg := mcp.WithNumber("id", mcp.Required(), mcp.Description("Reminder ID"))

	// add_reminder
	s.mcpServer.AddTool(
		mcp.NewTool("add_reminder",
			mcp.WithDescription("Add a reminder that notifies at the given time"),
			mcp.WithString("title", mcp.Required(), mcp.Description("Reminder title")),
			mcp.WithString("reminder_time", mcp.Required(), mcp.Description("When to notify, RFC3339 (e.g. 2025-01-15T09:00:00Z)")),
			mcp.WithString("text", mcp.Description("Optional note shown with the notification")),
		),
		s.handleAddReminder,
	)

	// update_reminder
	s.mcpServer.AddTool(
		mcp.NewTool("update_reminder",
			mcp.WithDescription("Edit a reminder. Omitted fields keep their value. The reminder will notify again."),
			idArg,
			mcp.WithString("title", mcp.Description("New title")),
			mcp.WithString("text", mcp.Description("New text")),
			mcp.WithString("reminder_time", mcp.Description("New time, RFC3339")),
		),
		s.handleUpdateReminder,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("get_reminder",
			mcp.WithDescription("Get a single reminder by ID"),
			idArg,
		),
		s.handleGetReminder,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("list_reminders",
			mcp.WithDescription("List active reminders, pinned first"),
		),
		s.handleListReminders,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("list_archived",
			mcp.WithDescription("List archived reminders, newest first"),
		),
		s.handleListArchived,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("search_reminders",
			mcp.WithDescription("Search reminder titles and text, ignoring case"),
			mcp.WithString("query", mcp.Required(), mcp.Description("Text to look for")),
			mcp.WithBoolean("archived", mcp.Description("Search the archive instead of active reminders")),
		),
		s.handleSearchReminders,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("archive_reminder",
			mcp.WithDescription("Archive a reminder; it stops notifying"),
			idArg,
		),
		s.idHandler("archived", s.engine.Archive),
	)

	s.mcpServer.AddTool(
		mcp.NewTool("restore_reminder",
			mcp.WithDescription("Restore an archived reminder; it will notify again"),
			idArg,
		),
		s.idHandler("restored", s.engine.Restore),
	)

	s.mcpServer.AddTool(
		mcp.NewTool("delete_reminder",
			mcp.WithDescription("Delete a reminder permanently"),
			idArg,
		),
		s.idHandler("deleted", s.engine.Delete),
	)

	s.mcpServer.AddTool(
		mcp.NewTool("mark_viewed",
			mcp.WithDescription("Acknowledge a reminder that has fired"),
			idArg,
		),
		s.idHandler("marked as viewed", s.engine.MarkViewed),
	)

	s.mcpServer.AddTool(
		mcp.NewTool("clear_archive",
			mcp.WithDescription("Delete every archived reminder"),
		),
		s.handleClearArchive,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("toggle_pin",
			mcp.WithDescription("Pin or unpin a reminder. Pinned reminders repeat until viewed."),
			idArg,
		),
		s.handleTogglePin,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("next_reminder",
			mcp.WithDescription("Show the reminder that will notify next"),
		),
		s.handleNextReminder,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("unacknowledged_count",
			mcp.WithDescription("Count reminders that fired and were not viewed"),
		),
		s.handleUnacknowledgedCount,
	)
}

func (s *Server) handleAddReminder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	when, err := parseTime(req.GetString("reminder_time", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	added, err := s.engine.Create(ctx, reminder.Draft{
		Title:        req.GetString("title", ""),
		Text:         req.GetString("text", ""),
		ReminderTime: &when,
	})
	if err != nil {
		return s.toolError("failed to add reminder", err), nil
	}

	return jsonResult(added), nil
}

func (s *Server) handleUpdateReminder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := requireID(req)
	if errResult != nil {
		return errResult, nil
	}

	current, err := s.engine.Get(ctx, id)
	if err != nil {
		return s.toolError("failed to update reminder", err), nil
	}

	d := reminder.Draft{
		Title:        req.GetString("title", current.Title),
		Text:         req.GetString("text", current.Text),
		ReminderTime: current.ReminderTime,
	}
	if v := req.GetString("reminder_time", ""); v != "" {
		when, err := parseTime(v)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		d.ReminderTime = &when
	}

	updated, err := s.engine.Update(ctx, id, d)
	if err != nil {
		return s.toolError("failed to update reminder", err), nil
	}

	return jsonResult(updated), nil
}

func (s *Server) handleGetReminder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := requireID(req)
	if errResult != nil {
		return errResult, nil
	}

	r, err := s.engine.Get(ctx, id)
	if err != nil {
		return s.toolError("failed to get reminder", err), nil
	}
	return jsonResult(r), nil
}

func (s *Server) handleListReminders(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	list, err := s.engine.List(ctx)
	if err != nil {
		return s.toolError("failed to list reminders", err), nil
	}
	return listResult(list, "No reminders found."), nil
}

func (s *Server) handleListArchived(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	list, err := s.engine.ListArchived(ctx)
	if err != nil {
		return s.toolError("failed to list archived reminders", err), nil
	}
	return listResult(list, "Archive is empty."), nil
}

func (s *Server) handleSearchReminders(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("query is required"), nil
	}

	list, err := s.engine.Search(ctx, query, req.GetBool("archived", false))
	if err != nil {
		return s.toolError("failed to search reminders", err), nil
	}
	return listResult(list, "No matching reminders."), nil
}

// idHandler builds a handler for operations that take only an id.
func (s *Server) idHandler(done string, op func(context.Context, int64) error) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, errResult := requireID(req)
		if errResult != nil {
			return errResult, nil
		}
		if err := op(ctx, id); err != nil {
			return s.toolError("failed to update reminder", err), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Reminder %d %s.", id, done)), nil
	}
}

func (s *Server) handleClearArchive(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n, err := s.engine.ClearArchive(ctx)
	if err != nil {
		return s.toolError("failed to clear archive", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Deleted %d archived reminder(s).", n)), nil
}

func (s *Server) handleTogglePin(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := requireID(req)
	if errResult != nil {
		return errResult, nil
	}

	pinned, err := s.engine.TogglePin(ctx, id)
	if err != nil {
		return s.toolError("failed to toggle pin", err), nil
	}
	if pinned {
		return mcp.NewToolResultText(fmt.Sprintf("Reminder %d pinned.", id)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Reminder %d unpinned.", id)), nil
}

func (s *Server) handleNextReminder(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	next, err := s.engine.Next(ctx)
	if err != nil {
		return s.toolError("failed to get next reminder", err), nil
	}
	if next == nil {
		return mcp.NewToolResultText("No upcoming reminders."), nil
	}
	return jsonResult(next), nil
}

func (s *Server) handleUnacknowledgedCount(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n, err := s.engine.Unacknowledged(ctx)
	if err != nil {
		return s.toolError("failed to count reminders", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%d", n)), nil
}

// toolError reports user errors as-is and logs store failures.
func (s *Server) toolError(prefix string, err error) *mcp.CallToolResult {
	if errors.Is(err, engine.ErrStoreUnavailable) {
		s.logger.Error(prefix, zap.Error(err))
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", prefix, err))
}

func requireID(req mcp.CallToolRequest) (int64, *mcp.CallToolResult) {
	idFloat := req.GetFloat("id", -1)
	if idFloat <= 0 {
		return 0, mcp.NewToolResultError("id is required and must be a positive number")
	}
	return int64(idFloat), nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("reminder_time is required")
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid reminder_time: %v (use RFC3339, e.g. 2025-01-15T09:00:00Z)", err)
	}
	return t, nil
}

func jsonResult(v any) *mcp.CallToolResult {
	output, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(output))
}

func listResult(list []reminder.Reminder, empty string) *mcp.CallToolResult {
	if len(list) == 0 {
		return mcp.NewToolResultText(empty)
	}
	return jsonResult(list)
}
