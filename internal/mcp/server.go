package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"mailpilot/internal/core"
	"mailpilot/internal/store"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MCPServer exposes queue and profile operations over the MCP protocol.
type MCPServer struct {
	store  *store.Store
	queue  *core.Queue
	logger *slog.Logger
}

// NewMCPServer creates a new MCP server instance.
func NewMCPServer(store *store.Store, queue *core.Queue, logger *slog.Logger) *MCPServer {
	return &MCPServer{
		store:  store,
		queue:  queue,
		logger: logger,
	}
}

// Run starts the MCP server using stdio transport.
func (s *MCPServer) Run() error {
	mcpServer := server.NewMCPServer(
		"mailpilot",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	s.registerTools(mcpServer)

	s.logger.Info("MCP server starting on stdio")

	return server.ServeStdio(mcpServer)
}

func (s *MCPServer) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(mcp.NewTool("list_profiles",
		mcp.WithDescription("List all browser profiles with their run status and account health"),
	), s.handleListProfiles)

	mcpServer.AddTool(mcp.NewTool("list_tasks",
		mcp.WithDescription("List automation tasks, optionally filtered by status"),
		mcp.WithString("status",
			mcp.Description("Filter: pending, running, completed or failed"),
			mcp.Enum("pending", "running", "completed", "failed"),
		),
	), s.handleListTasks)

	mcpServer.AddTool(mcp.NewTool("create_task",
		mcp.WithDescription("Queue an automation task against a profile. Task kinds: login, check_inbox, read_email, send_email, star_email, reply_to_email, report_to_inbox, check_account_status, setup_account"),
		mcp.WithString("profile_id",
			mcp.Required(),
			mcp.Description("Profile to run the task against"),
		),
		mcp.WithString("kind",
			mcp.Required(),
			mcp.Description("Automation sequence to run"),
		),
		mcp.WithNumber("priority",
			mcp.Description("Higher priority tasks are claimed first, default 0"),
		),
		mcp.WithString("params",
			mcp.Description("JSON object with kind-specific parameters, e.g. {\"email_index\": 0}"),
		),
		mcp.WithString("scheduled_at",
			mcp.Description("RFC3339 time before which the task is not eligible"),
		),
	), s.handleCreateTask)

	mcpServer.AddTool(mcp.NewTool("process_batch",
		mcp.WithDescription("Claim and run one batch of pending tasks"),
		mcp.WithNumber("max_tasks_per_batch",
			mcp.Description("Tasks to claim, default 10"),
			mcp.Min(1),
		),
		mcp.WithNumber("max_concurrent_tasks",
			mcp.Description("Concurrency ceiling, default 1"),
			mcp.Min(1),
		),
	), s.handleProcessBatch)

	mcpServer.AddTool(mcp.NewTool("queue_status",
		mcp.WithDescription("Report pending task count and whether a batch is running"),
	), s.handleQueueStatus)

	s.logger.Info("MCP tools registered", "count", 5)
}

func (s *MCPServer) handleListProfiles(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	profiles, err := s.store.ListProfiles(ctx)
	if err != nil {
		s.logger.Error("list profiles", "err", err)
		return mcp.NewToolResultError(fmt.Sprintf("failed to list profiles: %v", err)), nil
	}

	if len(profiles) == 0 {
		return mcp.NewToolResultText("no profiles"), nil
	}

	result := fmt.Sprintf("%d profiles:\n\n", len(profiles))
	for _, p := range profiles {
		result += fmt.Sprintf("%s (%s)\n", p.Name, p.ID)
		result += fmt.Sprintf("  kind: %s\n", p.Kind)
		result += fmt.Sprintf("  email: %s\n", p.Credentials.Email)
		result += fmt.Sprintf("  status: %s\n", p.Status)
		result += fmt.Sprintf("  health: %s", p.Health)
		if p.HealthMessage != nil {
			result += fmt.Sprintf(" (%s)", *p.HealthMessage)
		}
		result += "\n"
		if p.LastRunAt != nil {
			result += fmt.Sprintf("  last run: %s\n", formatTime(p.LastRunAt))
		}
		result += "\n"
	}

	return mcp.NewToolResultText(result), nil
}

func (s *MCPServer) handleListTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var statusFilter *core.TaskStatus
	if statusStr := mcp.ParseString(request, "status", ""); statusStr != "" {
		status := core.TaskStatus(statusStr)
		statusFilter = &status
	}

	tasks, err := s.store.ListTasks(ctx, statusFilter)
	if err != nil {
		s.logger.Error("list tasks", "err", err)
		return mcp.NewToolResultError(fmt.Sprintf("failed to list tasks: %v", err)), nil
	}

	if len(tasks) == 0 {
		return mcp.NewToolResultText("no tasks"), nil
	}

	result := fmt.Sprintf("%d tasks:\n\n", len(tasks))
	for _, t := range tasks {
		result += fmt.Sprintf("[%s] %s\n", t.Status, t.ID)
		result += fmt.Sprintf("  kind: %s\n", t.Kind)
		result += fmt.Sprintf("  profile: %s\n", t.ProfileID)
		if t.Priority != 0 {
			result += fmt.Sprintf("  priority: %d\n", t.Priority)
		}
		if t.ScheduledAt != nil {
			result += fmt.Sprintf("  scheduled: %s\n", formatTime(t.ScheduledAt))
		}
		if t.Error != nil {
			result += fmt.Sprintf("  error: %s\n", *t.Error)
		}
		result += "\n"
	}

	return mcp.NewToolResultText(result), nil
}

func (s *MCPServer) handleCreateTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	profileID := mcp.ParseString(request, "profile_id", "")
	kind := core.TaskKind(mcp.ParseString(request, "kind", ""))

	if !core.ValidTaskKind(kind) {
		return mcp.NewToolResultError(fmt.Sprintf("unknown task kind: %s", kind)), nil
	}

	var params json.RawMessage
	if paramsStr := mcp.ParseString(request, "params", ""); paramsStr != "" {
		if !json.Valid([]byte(paramsStr)) {
			return mcp.NewToolResultError("params must be a JSON object"), nil
		}
		params = json.RawMessage(paramsStr)
	}
	if err := core.ValidateParams(kind, params); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if _, err := s.store.GetProfile(ctx, profileID); err != nil {
		if err == store.ErrProfileNotFound {
			return mcp.NewToolResultError(fmt.Sprintf("profile not found: %s", profileID)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to load profile: %v", err)), nil
	}

	var scheduledAt *time.Time
	if scheduledStr := mcp.ParseString(request, "scheduled_at", ""); scheduledStr != "" {
		parsed, err := time.Parse(time.RFC3339, scheduledStr)
		if err != nil {
			return mcp.NewToolResultError("scheduled_at must be RFC3339"), nil
		}
		utc := parsed.UTC()
		scheduledAt = &utc
	}

	task := &core.Task{
		ID:          core.NewID(),
		ProfileID:   profileID,
		Kind:        kind,
		Status:      core.TaskStatusPending,
		Priority:    int(mcp.ParseFloat64(request, "priority", 0)),
		Params:      params,
		ScheduledAt: scheduledAt,
	}

	if err := s.store.InsertTask(ctx, task); err != nil {
		s.logger.Error("insert task", "err", err)
		return mcp.NewToolResultError(fmt.Sprintf("failed to create task: %v", err)), nil
	}

	s.logger.Info("task created", "task_id", task.ID, "kind", kind, "profile_id", profileID)

	return mcp.NewToolResultText(fmt.Sprintf("task created\nID: %s\nkind: %s\nprofile: %s", task.ID, kind, profileID)), nil
}

func (s *MCPServer) handleProcessBatch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	opts := core.BatchOptions{
		MaxTasksPerBatch:   int(mcp.ParseFloat64(request, "max_tasks_per_batch", 10)),
		MaxConcurrentTasks: int(mcp.ParseFloat64(request, "max_concurrent_tasks", 1)),
	}

	result, err := s.queue.ProcessBatch(ctx, opts)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("batch failed: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("processed: %d\nremaining: %d\nhas more: %t",
		result.ProcessedCount, result.RemainingCount, result.HasMore)), nil
}

func (s *MCPServer) handleQueueStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pending, err := s.store.CountPendingTasks(ctx, time.Now().UTC())
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to count pending tasks: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("pending: %d\nprocessing: %t", pending, s.queue.Busy())), nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}
