package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/issuetrack/internal/issues"
	"github.com/joescharf/issuetrack/internal/models"
	"github.com/joescharf/issuetrack/internal/query"
)

// Server exposes the issue repository as MCP tools.
type Server struct {
	repo    *issues.Repository
	logger  *slog.Logger
	version string
}

// NewServer creates the MCP server wrapper. A nil logger uses slog.Default.
func NewServer(repo *issues.Repository, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{repo: repo, logger: logger, version: version}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("issuetrack", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.listIssuesTool())
	srv.AddTool(s.getIssueTool())
	srv.AddTool(s.createIssueTool())
	srv.AddTool(s.updateIssueTool())
	srv.AddTool(s.deleteIssueTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

var (
	statusValues   = enumValues(models.IssueStatuses)
	priorityValues = enumValues(models.IssuePriorities)
)

func enumValues[T ~string](vals []T) []string {
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = string(v)
	}
	return out
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// issues_list
func (s *Server) listIssuesTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("issues_list",
		mcp.WithDescription("List issues with optional search, filters, sorting and paging. Returns a JSON object with the page of issues and the total number of matches."),
		mcp.WithString("search", mcp.Description("Case-insensitive text to find in title or description")),
		mcp.WithString("status", mcp.Description("Status filter"), mcp.Enum(statusValues...)),
		mcp.WithString("priority", mcp.Description("Priority filter"), mcp.Enum(priorityValues...)),
		mcp.WithString("assignee", mcp.Description("Exact assignee filter")),
		mcp.WithString("sort_by", mcp.Description("Sort field (default: updated_at)"), mcp.Enum(query.SortableFields...)),
		mcp.WithString("sort_order", mcp.Description("asc or desc (default: desc)"), mcp.Enum("asc", "desc")),
		mcp.WithNumber("page", mcp.Description("Page number, starting at 1"), mcp.Min(1)),
		mcp.WithNumber("page_size", mcp.Description("Issues per page (default 10, max 100)"), mcp.Min(1), mcp.Max(query.MaxPageSize)),
	)
	return tool, s.handleListIssues
}

func (s *Server) handleListIssues(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	params := query.Params{
		Search:    request.GetString("search", ""),
		Status:    request.GetString("status", ""),
		Priority:  request.GetString("priority", ""),
		Assignee:  request.GetString("assignee", ""),
		SortBy:    request.GetString("sort_by", ""),
		SortOrder: strings.ToLower(request.GetString("sort_order", "")),
		Page:      request.GetInt("page", query.DefaultPage),
		PageSize:  request.GetInt("page_size", query.DefaultPageSize),
	}
	if err := params.Validate(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	q := query.Build(params)
	list, err := s.repo.List(ctx, q)
	if err != nil {
		return s.toolError(ctx, "list", "", err), nil
	}
	total, err := s.repo.Count(ctx, q)
	if err != nil {
		return s.toolError(ctx, "count", "", err), nil
	}

	params = params.WithDefaults()
	return jsonResult(map[string]any{
		"issues":    list,
		"total":     total,
		"page":      params.Page,
		"page_size": params.PageSize,
	})
}

// issues_get
func (s *Server) getIssueTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("issues_get",
		mcp.WithDescription("Get a single issue by ID. Returns the issue as JSON."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Issue ID (26 character ULID)")),
	)
	return tool, s.handleGetIssue
}

func (s *Server) handleGetIssue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: id"), nil
	}
	issue, err := s.repo.Get(ctx, id)
	if err != nil {
		return s.toolError(ctx, "get", id, err), nil
	}
	return jsonResult(issue)
}

// issues_create
func (s *Server) createIssueTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("issues_create",
		mcp.WithDescription("Create a new issue. Returns the created issue as JSON."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Issue title (max 200 characters)")),
		mcp.WithString("description", mcp.Description("Issue description (max 1000 characters)")),
		mcp.WithString("status", mcp.Description("Initial status (default: open)"), mcp.Enum(statusValues...)),
		mcp.WithString("priority", mcp.Description("Priority (default: medium)"), mcp.Enum(priorityValues...)),
		mcp.WithString("assignee", mcp.Description("Person responsible for the issue")),
	)
	return tool, s.handleCreateIssue
}

func (s *Server) handleCreateIssue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := request.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: title"), nil
	}

	args := request.GetArguments()
	in := models.IssueInput{
		Title:       title,
		Description: optionalString(args, "description"),
		Status:      models.IssueStatus(request.GetString("status", "")),
		Priority:    models.IssuePriority(request.GetString("priority", "")),
		Assignee:    optionalString(args, "assignee"),
	}

	issue, err := s.repo.Create(ctx, in)
	if err != nil {
		return s.toolError(ctx, "create", "", err), nil
	}
	return jsonResult(issue)
}

// issues_update
func (s *Server) updateIssueTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("issues_update",
		mcp.WithDescription("Update an existing issue. Only the fields provided are changed. Returns the updated issue as JSON."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Issue ID (26 character ULID)")),
		mcp.WithString("title", mcp.Description("New title")),
		mcp.WithString("description", mcp.Description("New description")),
		mcp.WithString("status", mcp.Description("New status"), mcp.Enum(statusValues...)),
		mcp.WithString("priority", mcp.Description("New priority"), mcp.Enum(priorityValues...)),
		mcp.WithString("assignee", mcp.Description("New assignee")),
	)
	return tool, s.handleUpdateIssue
}

func (s *Server) handleUpdateIssue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: id"), nil
	}

	args := request.GetArguments()
	patch := models.IssuePatch{
		Title:       optionalString(args, "title"),
		Description: optionalString(args, "description"),
		Assignee:    optionalString(args, "assignee"),
	}
	if v := optionalString(args, "status"); v != nil {
		st := models.IssueStatus(*v)
		patch.Status = &st
	}
	if v := optionalString(args, "priority"); v != nil {
		pr := models.IssuePriority(*v)
		patch.Priority = &pr
	}

	issue, err := s.repo.Update(ctx, id, patch)
	if err != nil {
		return s.toolError(ctx, "update", id, err), nil
	}
	return jsonResult(issue)
}

// issues_delete
func (s *Server) deleteIssueTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("issues_delete",
		mcp.WithDescription("Permanently delete an issue by ID."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Issue ID (26 character ULID)")),
	)
	return tool, s.handleDeleteIssue
}

func (s *Server) handleDeleteIssue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: id"), nil
	}
	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return s.toolError(ctx, "delete", id, err), nil
	}
	if !deleted {
		return mcp.NewToolResultError(fmt.Sprintf("issue not found: %s", id)), nil
	}
	return jsonResult(map[string]any{"id": id, "deleted": true})
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// optionalString returns the string argument named key, or nil when it is
// absent or not a string.
func optionalString(args map[string]any, key string) *string {
	v, ok := args[key].(string)
	if !ok {
		return nil
	}
	return &v
}

// toolError maps a repository error to a tool result. Store failures are
// logged and reported without their cause.
func (s *Server) toolError(ctx context.Context, op, id string, err error) *mcp.CallToolResult {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		return mcp.NewToolResultError(verr.Error())
	case errors.Is(err, issues.ErrNotFound):
		return mcp.NewToolResultError(fmt.Sprintf("issue not found: %s", id))
	default:
		s.logger.ErrorContext(ctx, "tool call failed", "op", op, "id", id, "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("failed to %s issues: internal error", op))
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
