package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hyperengineering/wardsync"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// defaultSyncTimeout bounds a wardsync_sync call when the caller sets none.
const defaultSyncTimeout = 60 * time.Second

// Server wraps the MCP server with wardsync tools.
type Server struct {
	client    *wardsync.Client
	mcpServer *server.MCPServer
}

// ToolResult represents the result of a tool call.
type ToolResult struct {
	Content string
	IsError bool
}

// ToolInfo represents a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

// NewServer creates a new MCP server with wardsync tools registered.
func NewServer(client *wardsync.Client) *Server {
	s := &Server{client: client}

	s.mcpServer = server.NewMCPServer(
		"wardsync",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	s.registerTools()

	return s
}

// Run starts the MCP server, reading from stdin and writing to stdout.
func (s *Server) Run() error {
	return server.ServeStdio(s.mcpServer)
}

// HandleMessage processes a raw JSON-RPC message and returns a response.
// This is primarily for testing the MCP protocol layer.
func (s *Server) HandleMessage(ctx context.Context, message json.RawMessage) mcp.JSONRPCMessage {
	return s.mcpServer.HandleMessage(ctx, message)
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	return []ToolInfo{
		{Name: "wardsync_status", Description: "Report connectivity, pending changes and the last sync"},
		{Name: "wardsync_pending", Description: "List changes waiting to be pushed"},
		{Name: "wardsync_stuck", Description: "List changes that were evicted from the queue"},
		{Name: "wardsync_sync", Description: "Run a sync pass and report the outcome"},
		{Name: "wardsync_requeue", Description: "Return a stuck change to the queue"},
		{Name: "wardsync_patient_add", Description: "Register a patient on this device"},
		{Name: "wardsync_patient_show", Description: "Show a patient with plans and steps"},
	}
}

// CallTool executes a tool by name with the given arguments.
// This is used for testing and direct invocation.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	switch name {
	case "wardsync_status":
		return s.handleStatus(ctx, args)
	case "wardsync_pending":
		return s.handlePending(ctx, args)
	case "wardsync_stuck":
		return s.handleStuck(ctx, args)
	case "wardsync_sync":
		return s.handleSync(ctx, args)
	case "wardsync_requeue":
		return s.handleRequeue(ctx, args)
	case "wardsync_patient_add":
		return s.handlePatientAdd(ctx, args)
	case "wardsync_patient_show":
		return s.handlePatientShow(ctx, args)
	default:
		return &ToolResult{Content: fmt.Sprintf("unknown tool: %s", name), IsError: true}, nil
	}
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("wardsync_status",
		mcp.WithDescription("Report whether the device is online, how many changes are waiting to sync, how many are stuck, and when the last clean sync finished."),
	), s.wrap(s.handleStatus))

	s.mcpServer.AddTool(mcp.NewTool("wardsync_pending",
		mcp.WithDescription("List queued changes in the order they will be pushed, with retry counts and the last error seen."),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of entries to list (default: all)"),
		),
	), s.wrap(s.handlePending))

	s.mcpServer.AddTool(mcp.NewTool("wardsync_stuck",
		mcp.WithDescription("List changes evicted from the queue after exhausting retries or hitting a permanent error. Their records stay unsynced until requeued."),
	), s.wrap(s.handleStuck))

	s.mcpServer.AddTool(mcp.NewTool("wardsync_sync",
		mcp.WithDescription("Push queued changes to the records service now. Fails when the device is offline or a pass is already running."),
		mcp.WithNumber("timeout_seconds",
			mcp.Description("Give up waiting after this many seconds (default: 60)"),
		),
	), s.wrap(s.handleSync))

	s.mcpServer.AddTool(mcp.NewTool("wardsync_requeue",
		mcp.WithDescription("Return a stuck change to its original queue position, carrying the record's current contents."),
		mcp.WithNumber("failure_id",
			mcp.Description("ID of the stuck change, as listed by wardsync_stuck"),
			mcp.Required(),
		),
	), s.wrap(s.handleRequeue))

	s.mcpServer.AddTool(mcp.NewTool("wardsync_patient_add",
		mcp.WithDescription("Register a patient locally. The record is queued and pushed on the next sync."),
		mcp.WithString("name",
			mcp.Description("Patient name"),
			mcp.Required(),
		),
		mcp.WithString("mrn",
			mcp.Description("Medical record number"),
		),
		mcp.WithString("date_of_birth",
			mcp.Description("Date of birth, YYYY-MM-DD"),
		),
		mcp.WithString("sex",
			mcp.Description("Sex as recorded at intake"),
		),
		mcp.WithString("notes",
			mcp.Description("Free-form notes (markdown)"),
		),
	), s.wrap(s.handlePatientAdd))

	s.mcpServer.AddTool(mcp.NewTool("wardsync_patient_show",
		mcp.WithDescription("Show a patient's record with its treatment plans and their steps, including sync state."),
		mcp.WithNumber("patient_id",
			mcp.Description("Local patient ID"),
			mcp.Required(),
		),
	), s.wrap(s.handlePatientShow))
}

type toolHandler func(ctx context.Context, args map[string]any) (*ToolResult, error)

// wrap adapts an internal handler to the mcp-go handler signature.
func (s *Server) wrap(h toolHandler) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := h(ctx, req.GetArguments())
		if err != nil {
			return nil, err
		}
		return toMCPResult(result), nil
	}
}

func toMCPResult(r *ToolResult) *mcp.CallToolResult {
	result := &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: r.Content,
			},
		},
	}
	if r.IsError {
		result.IsError = true
	}
	return result
}

// Internal handlers

func (s *Server) handleStatus(ctx context.Context, _ map[string]any) (*ToolResult, error) {
	st, err := s.client.Status(ctx)
	if err != nil {
		return &ToolResult{Content: fmt.Sprintf("status failed: %v", err), IsError: true}, nil
	}
	return &ToolResult{Content: formatStatus(st)}, nil
}

func (s *Server) handlePending(ctx context.Context, args map[string]any) (*ToolResult, error) {
	pending, err := s.client.Pending(ctx)
	if err != nil {
		return &ToolResult{Content: fmt.Sprintf("listing pending changes failed: %v", err), IsError: true}, nil
	}
	if limit, ok := intArg(args, "limit"); ok && limit > 0 && limit < len(pending) {
		pending = pending[:limit]
	}
	return &ToolResult{Content: formatPending(pending)}, nil
}

func (s *Server) handleStuck(ctx context.Context, _ map[string]any) (*ToolResult, error) {
	stuck, err := s.client.Stuck(ctx)
	if err != nil {
		return &ToolResult{Content: fmt.Sprintf("listing stuck changes failed: %v", err), IsError: true}, nil
	}
	return &ToolResult{Content: formatStuck(stuck)}, nil
}

func (s *Server) handleSync(ctx context.Context, args map[string]any) (*ToolResult, error) {
	timeout := defaultSyncTimeout
	if secs, ok := intArg(args, "timeout_seconds"); ok && secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := s.client.Sync(ctx)
	switch {
	case errors.Is(err, wardsync.ErrOffline):
		return &ToolResult{Content: "sync unavailable: device is offline or no records service is configured", IsError: true}, nil
	case errors.Is(err, wardsync.ErrSyncInProgress):
		return &ToolResult{Content: "a sync pass is already running; check wardsync_status shortly", IsError: true}, nil
	case errors.Is(err, wardsync.ErrUnauthorized):
		return &ToolResult{Content: "the records service rejected the API key; no changes were charged a retry", IsError: true}, nil
	case err != nil && result == nil:
		return &ToolResult{Content: fmt.Sprintf("sync failed: %v", err), IsError: true}, nil
	}

	out := formatPassResult(result)
	if err != nil {
		out += fmt.Sprintf("\nPass aborted: %v\n", err)
		return &ToolResult{Content: out, IsError: true}, nil
	}
	return &ToolResult{Content: out}, nil
}

func (s *Server) handleRequeue(ctx context.Context, args map[string]any) (*ToolResult, error) {
	id, ok := intArg(args, "failure_id")
	if !ok || id <= 0 {
		return &ToolResult{Content: "failure_id is required", IsError: true}, nil
	}

	queueID, err := s.client.Requeue(ctx, int64(id))
	if errors.Is(err, wardsync.ErrNotFound) {
		return &ToolResult{Content: fmt.Sprintf("no stuck change with id %d", id), IsError: true}, nil
	}
	if err != nil {
		return &ToolResult{Content: fmt.Sprintf("requeue failed: %v", err), IsError: true}, nil
	}
	return &ToolResult{Content: fmt.Sprintf("Requeued stuck change %d as queue entry %d.", id, queueID)}, nil
}

func (s *Server) handlePatientAdd(ctx context.Context, args map[string]any) (*ToolResult, error) {
	name, _ := args["name"].(string)
	if strings.TrimSpace(name) == "" {
		return &ToolResult{Content: "name is required", IsError: true}, nil
	}

	f := wardsync.PatientFields{Name: name}
	f.MRN, _ = args["mrn"].(string)
	f.DateOfBirth, _ = args["date_of_birth"].(string)
	f.Sex, _ = args["sex"].(string)
	f.Notes, _ = args["notes"].(string)

	p, err := s.client.CreatePatient(ctx, f)
	if err != nil {
		return &ToolResult{Content: fmt.Sprintf("adding patient failed: %v", err), IsError: true}, nil
	}
	return &ToolResult{Content: fmt.Sprintf("Added patient %d (%s). The record will sync when the device is online.", p.LocalID, p.Name)}, nil
}

func (s *Server) handlePatientShow(ctx context.Context, args map[string]any) (*ToolResult, error) {
	id, ok := intArg(args, "patient_id")
	if !ok || id <= 0 {
		return &ToolResult{Content: "patient_id is required", IsError: true}, nil
	}

	p, err := s.client.Patient(ctx, int64(id))
	if errors.Is(err, wardsync.ErrNotFound) {
		return &ToolResult{Content: fmt.Sprintf("no patient with id %d", id), IsError: true}, nil
	}
	if err != nil {
		return &ToolResult{Content: fmt.Sprintf("loading patient failed: %v", err), IsError: true}, nil
	}

	plans, err := s.client.PlansForPatient(ctx, p.LocalID)
	if err != nil {
		return &ToolResult{Content: fmt.Sprintf("loading plans failed: %v", err), IsError: true}, nil
	}
	steps := make(map[int64][]*wardsync.PlanStep, len(plans))
	for _, plan := range plans {
		ss, err := s.client.StepsForPlan(ctx, plan.LocalID)
		if err != nil {
			return &ToolResult{Content: fmt.Sprintf("loading steps failed: %v", err), IsError: true}, nil
		}
		steps[plan.LocalID] = ss
	}

	return &ToolResult{Content: formatPatient(p, plans, steps)}, nil
}

// intArg reads a numeric argument. JSON numbers arrive as float64.
func intArg(args map[string]any, key string) (int, bool) {
	switch v := args[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	default:
		return 0, false
	}
}

// Formatting functions

func formatStatus(st *wardsync.SyncStatus) string {
	var b strings.Builder
	switch {
	case st.OfflineOnly:
		b.WriteString("Mode: offline only (no records service configured)\n")
	case st.Online:
		b.WriteString("Connectivity: online\n")
	default:
		b.WriteString("Connectivity: offline\n")
	}
	fmt.Fprintf(&b, "Pending changes: %d\n", st.Pending)
	fmt.Fprintf(&b, "Stuck changes: %d\n", st.Stuck)
	if st.LastSync.IsZero() {
		b.WriteString("Last sync: never\n")
	} else {
		fmt.Fprintf(&b, "Last sync: %s\n", st.LastSync.Format(time.RFC3339))
	}
	if st.Running {
		b.WriteString("A sync pass is running.\n")
	}
	if st.LastError != "" {
		fmt.Fprintf(&b, "Last pass error: %s\n", st.LastError)
	}
	return b.String()
}

func formatPending(pending []wardsync.Mutation) string {
	if len(pending) == 0 {
		return "No pending changes."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d pending change(s):\n\n", len(pending))
	for _, m := range pending {
		fmt.Fprintf(&b, "[%d] %s %s #%d", m.QueueID, m.Action, m.Table, m.TargetLocalID)
		if m.RetryCount > 0 || m.DependencyWaits > 0 {
			fmt.Fprintf(&b, " (retries %d, waits %d)", m.RetryCount, m.DependencyWaits)
		}
		b.WriteString("\n")
		if m.LastError != "" {
			fmt.Fprintf(&b, "    last error: %s\n", m.LastError)
		}
	}
	return b.String()
}

func formatStuck(stuck []wardsync.Failure) string {
	if len(stuck) == 0 {
		return "No stuck changes."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d stuck change(s):\n\n", len(stuck))
	for _, f := range stuck {
		fmt.Fprintf(&b, "[%d] %s %s #%d: %s", f.ID, f.Action, f.Table, f.TargetLocalID, f.Reason)
		if f.LastError != "" {
			fmt.Fprintf(&b, " (%s)", f.LastError)
		}
		b.WriteString("\n")
	}
	b.WriteString("\nUse wardsync_requeue with the failure_id to retry.")
	return b.String()
}

func formatPassResult(r *wardsync.PassResult) string {
	if r.Attempted() == 0 && r.Deferred == 0 {
		return "Nothing to sync."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Sync pass finished in %s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(&b, "Succeeded: %d\nFailed: %d\nSkipped: %d\n", r.Succeeded, r.Failed, r.Skipped)
	if r.Deferred > 0 {
		fmt.Fprintf(&b, "Deferred: %d\n", r.Deferred)
	}
	if r.Evicted > 0 {
		fmt.Fprintf(&b, "Moved to stuck: %d\n", r.Evicted)
	}
	if len(r.Errors) > 0 {
		b.WriteString("\nErrors:\n")
		for _, e := range r.Errors {
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}
	return b.String()
}

func formatPatient(p *wardsync.Patient, plans []*wardsync.TreatmentPlan, steps map[int64][]*wardsync.PlanStep) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Patient %d: %s [%s]\n", p.LocalID, p.Name, syncState(p.Meta))
	if p.MRN != "" {
		fmt.Fprintf(&b, "MRN: %s\n", p.MRN)
	}
	if p.DateOfBirth != "" {
		fmt.Fprintf(&b, "Born: %s\n", p.DateOfBirth)
	}
	if p.Notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", p.Notes)
	}
	if len(plans) == 0 {
		b.WriteString("\nNo treatment plans.\n")
		return b.String()
	}
	for _, plan := range plans {
		fmt.Fprintf(&b, "\nPlan %d: %s (%s) [%s]\n", plan.LocalID, plan.Title, plan.Status, syncState(plan.Meta))
		for _, st := range steps[plan.LocalID] {
			fmt.Fprintf(&b, "  %d. %s (%s) [%s]\n", st.StepNumber, st.Description, st.Status, syncState(st.Meta))
		}
	}
	return b.String()
}

func syncState(m wardsync.Meta) string {
	if m.Synced {
		return "synced"
	}
	return "pending"
}
