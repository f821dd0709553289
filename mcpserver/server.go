package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/sheetbox/config"
	"github.com/isdmx/sheetbox/episode"
	"github.com/isdmx/sheetbox/grader"
	"github.com/isdmx/sheetbox/protocol"
)

// MCPServer represents the MCP server
type MCPServer struct {
	config       *config.Config
	logger       *zap.Logger
	resolver     *episode.Resolver
	grader       *grader.Grader
	orchestrator *episode.Orchestrator
	mcpServer    *server.MCPServer
	handlers     map[string]server.ToolHandlerFunc
}

// New creates a new MCPServer. The orchestrator may be nil, in which case
// episodes must be started by another process and handed off through the
// environment.
func New(
	cfg *config.Config,
	logger *zap.Logger,
	resolver *episode.Resolver,
	g *grader.Grader,
	orchestrator *episode.Orchestrator,
) (*MCPServer, error) {
	s := &MCPServer{
		config:       cfg,
		logger:       logger,
		resolver:     resolver,
		grader:       g,
		orchestrator: orchestrator,
		handlers:     map[string]server.ToolHandlerFunc{},
	}

	// Log configuration parameters on startup
	logger.Info("configuration loaded",
		zap.String("server.transport", cfg.Server.Transport),
		zap.Int("server.http_port", cfg.Server.HTTPPort),
		zap.String("sandbox.backend", cfg.Sandbox.Backend),
		zap.String("sandbox.image", cfg.Sandbox.Image),
		zap.String("sandbox.memory", cfg.Sandbox.Memory),
		zap.Float64("sandbox.cpus", cfg.Sandbox.CPUs),
		zap.String("sandbox.network", cfg.Sandbox.Network),
		zap.String("sandbox.mount_mode", cfg.Sandbox.MountMode),
		zap.String("paths.tasks_dir", cfg.Paths.TasksDir),
		zap.String("paths.runs_dir", cfg.Paths.RunsDir),
		zap.Float64("grading.tolerance", cfg.Grading.Tolerance),
	)

	s.mcpServer = server.NewMCPServer("sheetbox", "Spreadsheet task environment")
	s.registerTools()

	return s, nil
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func boolProp(description string) map[string]any {
	return map[string]any{"type": "boolean", "description": description}
}

func (s *MCPServer) addTool(name, description string, props map[string]any, required []string, h server.ToolHandlerFunc) {
	if props == nil {
		props = map[string]any{}
	}
	tool := mcp.Tool{
		Name:        name,
		Description: description,
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: props,
			Required:   required,
		},
	}
	s.mcpServer.AddTool(tool, h)
	s.handlers[name] = h
}

// registerTools registers the spreadsheet tools
func (s *MCPServer) registerTools() {
	s.addTool("get_task_description", "Get the description of the current task", nil, nil, s.handleTaskDescription)
	s.addTool("list_workspace_files", "List the files in the workspace", nil, nil, s.handleListFiles)

	s.addTool("read_cell", "Read the value and formula of a single cell, e.g. read_cell(\"data.ods\", \"Sheet1\", \"A1\")",
		map[string]any{
			"filename": stringProp("Spreadsheet file in the workspace"),
			"sheet":    stringProp("Sheet name; the first sheet when empty"),
			"cell":     stringProp("Cell in A1 notation"),
		}, []string{"filename", "cell"}, s.handleReadCell)

	s.addTool("read_range", "Read the values of a rectangular range of cells",
		map[string]any{
			"filename":   stringProp("Spreadsheet file in the workspace"),
			"sheet":      stringProp("Sheet name; the first sheet when empty"),
			"start_cell": stringProp("Top-left cell in A1 notation"),
			"end_cell":   stringProp("Bottom-right cell in A1 notation"),
		}, []string{"filename", "start_cell", "end_cell"}, s.handleReadRange)

	s.addTool("write_cell", "Write a value to a cell",
		map[string]any{
			"filename": stringProp("Spreadsheet file in the workspace"),
			"sheet":    stringProp("Sheet name; the first sheet when empty"),
			"cell":     stringProp("Cell in A1 notation"),
			"value":    stringProp("Value to write"),
		}, []string{"filename", "cell", "value"}, s.handleWriteCell)

	s.addTool("write_formula", "Write a formula to a cell, e.g. \"=SUM(B2:B10)\"",
		map[string]any{
			"filename": stringProp("Spreadsheet file in the workspace"),
			"sheet":    stringProp("Sheet name; the first sheet when empty"),
			"cell":     stringProp("Cell in A1 notation"),
			"formula":  stringProp("Formula starting with ="),
		}, []string{"filename", "cell", "formula"}, s.handleWriteFormula)

	s.addTool("get_spreadsheet_info", "List the sheets of a spreadsheet with their sizes",
		map[string]any{"filename": stringProp("Spreadsheet file in the workspace")},
		[]string{"filename"}, s.handleSpreadsheetInfo)

	s.addTool("create_new_spreadsheet", "Create a spreadsheet, or add a sheet to an existing one",
		map[string]any{
			"filename":   stringProp("File name for the spreadsheet (.ods or .xlsx)"),
			"sheet_name": stringProp("Name of the sheet to create; Sheet1 when empty"),
		}, []string{"filename"}, s.handleCreateSpreadsheet)

	s.addTool("execute_sql", "Run a read-only SQL query against a SQLite database",
		map[string]any{
			"database": stringProp("Database file in the workspace"),
			"query":    stringProp("SELECT query"),
		}, []string{"database", "query"}, s.handleExecuteSQL)

	s.addTool("list_database_tables", "List the tables of a SQLite database",
		map[string]any{"database": stringProp("Database file in the workspace")},
		[]string{"database"}, s.handleListTables)

	s.addTool("submit_task", "Submit the workspace for grading", nil, nil, s.handleSubmit)

	if s.orchestrator != nil {
		s.addTool("start_episode", "Start an episode for a task",
			map[string]any{"task_id": stringProp("Task identifier")},
			[]string{"task_id"}, s.handleStartEpisode)
		s.addTool("end_episode", "End the current episode",
			map[string]any{
				"grade":   boolProp("Grade the run before ending (default true)"),
				"cleanup": boolProp("Delete the run directory afterwards (default false)"),
			}, nil, s.handleEndEpisode)
	}
}

// Tools returns the names of the registered tools, sorted.
func (s *MCPServer) Tools() []string {
	names := make([]string, 0, len(s.handlers))
	for name := range s.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func textResult(text string, isError bool) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: text,
			},
		},
		IsError: isError,
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return textResult(string(data), false), nil
}

func errorResult(err error) *mcp.CallToolResult {
	return textResult("Error: "+err.Error(), true)
}

func (s *MCPServer) context(ctx context.Context) (*episode.Context, error) {
	return s.resolver.Resolve(ctx, episode.DefaultKey)
}

// call sends req to the sandbox agent of the current episode and renders
// the response.
func (s *MCPServer) call(ctx context.Context, req protocol.Request, render func(*protocol.Response) any) (*mcp.CallToolResult, error) {
	ec, err := s.context(ctx)
	if err != nil {
		return errorResult(err), nil
	}

	resp, err := ec.Sandbox.Call(ctx, req)
	if err != nil {
		s.logger.Error("sandbox call failed", zap.String("op", string(req.Op)), zap.Error(err))
		return errorResult(err), nil
	}
	if !resp.OK {
		return errorResult(errors.New(resp.Error)), nil
	}
	return jsonResult(render(resp))
}

func (s *MCPServer) handleTaskDescription(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ec, err := s.context(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(map[string]any{
		"task_id":            ec.TaskID,
		"title":              ec.Task.Title,
		"description":        ec.Task.Description,
		"time_limit_seconds": ec.Task.TimeLimitSeconds,
		"mode":               ec.Task.Mode,
		"starting_files":     ec.Task.InitialFiles,
	})
}

func (s *MCPServer) handleListFiles(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.call(ctx, protocol.Request{Op: protocol.OpListFiles}, func(r *protocol.Response) any {
		names := make([]string, 0, len(r.Files))
		for _, f := range r.Files {
			names = append(names, f.Name)
		}
		return names
	})
}

func (s *MCPServer) handleReadCell(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filename, err := request.RequireString("filename")
	if err != nil {
		return nil, fmt.Errorf("filename parameter is required: %w", err)
	}
	cell, err := request.RequireString("cell")
	if err != nil {
		return nil, fmt.Errorf("cell parameter is required: %w", err)
	}

	req := protocol.Request{Op: protocol.OpReadCell, File: filename, Sheet: request.GetString("sheet", ""), Cell: cell}
	return s.call(ctx, req, func(r *protocol.Response) any {
		return map[string]string{"value": r.Value, "formula": r.Formula}
	})
}

func (s *MCPServer) handleReadRange(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filename, err := request.RequireString("filename")
	if err != nil {
		return nil, fmt.Errorf("filename parameter is required: %w", err)
	}
	start, err := request.RequireString("start_cell")
	if err != nil {
		return nil, fmt.Errorf("start_cell parameter is required: %w", err)
	}
	end, err := request.RequireString("end_cell")
	if err != nil {
		return nil, fmt.Errorf("end_cell parameter is required: %w", err)
	}

	req := protocol.Request{
		Op:      protocol.OpReadRange,
		File:    filename,
		Sheet:   request.GetString("sheet", ""),
		Cell:    start,
		EndCell: end,
	}
	return s.call(ctx, req, func(r *protocol.Response) any { return r.Rows })
}

func (s *MCPServer) handleWriteCell(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filename, err := request.RequireString("filename")
	if err != nil {
		return nil, fmt.Errorf("filename parameter is required: %w", err)
	}
	cell, err := request.RequireString("cell")
	if err != nil {
		return nil, fmt.Errorf("cell parameter is required: %w", err)
	}
	value, err := request.RequireString("value")
	if err != nil {
		return nil, fmt.Errorf("value parameter is required: %w", err)
	}

	req := protocol.Request{
		Op:    protocol.OpWriteCell,
		File:  filename,
		Sheet: request.GetString("sheet", ""),
		Cell:  cell,
		Value: value,
	}
	return s.call(ctx, req, func(r *protocol.Response) any { return r.Value })
}

func (s *MCPServer) handleWriteFormula(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filename, err := request.RequireString("filename")
	if err != nil {
		return nil, fmt.Errorf("filename parameter is required: %w", err)
	}
	cell, err := request.RequireString("cell")
	if err != nil {
		return nil, fmt.Errorf("cell parameter is required: %w", err)
	}
	formula, err := request.RequireString("formula")
	if err != nil {
		return nil, fmt.Errorf("formula parameter is required: %w", err)
	}

	req := protocol.Request{
		Op:    protocol.OpWriteFormula,
		File:  filename,
		Sheet: request.GetString("sheet", ""),
		Cell:  cell,
		Value: formula,
	}
	return s.call(ctx, req, func(r *protocol.Response) any { return r.Value })
}

func (s *MCPServer) handleSpreadsheetInfo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filename, err := request.RequireString("filename")
	if err != nil {
		return nil, fmt.Errorf("filename parameter is required: %w", err)
	}

	return s.call(ctx, protocol.Request{Op: protocol.OpSheetInfo, File: filename}, func(r *protocol.Response) any {
		return map[string]any{"filename": filename, "sheets": r.Sheets}
	})
}

func (s *MCPServer) handleCreateSpreadsheet(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filename, err := request.RequireString("filename")
	if err != nil {
		return nil, fmt.Errorf("filename parameter is required: %w", err)
	}

	req := protocol.Request{Op: protocol.OpCreateSheet, File: filename, Sheet: request.GetString("sheet_name", "Sheet1")}
	return s.call(ctx, req, func(r *protocol.Response) any { return r.Value })
}

func (s *MCPServer) handleExecuteSQL(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	database, err := request.RequireString("database")
	if err != nil {
		return nil, fmt.Errorf("database parameter is required: %w", err)
	}
	query, err := request.RequireString("query")
	if err != nil {
		return nil, fmt.Errorf("query parameter is required: %w", err)
	}

	return s.call(ctx, protocol.Request{Op: protocol.OpRunQuery, File: database, Query: query}, func(r *protocol.Response) any {
		rows := r.Rows
		if rows == nil {
			rows = [][]string{}
		}
		return map[string]any{"columns": r.Columns, "rows": rows}
	})
}

func (s *MCPServer) handleListTables(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	database, err := request.RequireString("database")
	if err != nil {
		return nil, fmt.Errorf("database parameter is required: %w", err)
	}

	return s.call(ctx, protocol.Request{Op: protocol.OpListTables, File: database}, func(r *protocol.Response) any {
		if r.Tables == nil {
			return []string{}
		}
		return r.Tables
	})
}

// handleSubmit grades the current run directory. Grading problems come back
// as a failed result, not as a tool error.
func (s *MCPServer) handleSubmit(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ec, err := s.context(ctx)
	if err != nil {
		return errorResult(err), nil
	}

	if err := ec.CollectOutputs(ctx); err != nil {
		s.logger.Warn("failed to collect outputs from sandbox", zap.Error(err))
	}

	s.logger.Info("task submitted", zap.String("task_id", ec.TaskID), zap.String("run_dir", ec.RunDir))
	return jsonResult(s.grader.Grade(ec.TaskID, ec.RunDir))
}

func (s *MCPServer) handleStartEpisode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID, err := request.RequireString("task_id")
	if err != nil {
		return nil, fmt.Errorf("task_id parameter is required: %w", err)
	}

	started, err := s.orchestrator.StartEpisode(ctx, taskID, episode.StartOptions{})
	if err != nil {
		return errorResult(err), nil
	}

	return jsonResult(map[string]any{
		"task_id":      started.Task.ID,
		"description":  started.Task.Description,
		"files":        started.Task.InitialFiles,
		"run_dir":      started.Context.RunDir,
		"container_id": started.Descriptor.ID,
		"time_limit":   started.Task.TimeLimitSeconds,
		"session":      started.Session,
	})
}

func (s *MCPServer) handleEndEpisode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, ok := s.orchestrator.Current(); !ok {
		return textResult("No active episode", false), nil
	}

	res, err := s.orchestrator.EndEpisode(ctx, episode.EndOptions{
		Grade:   request.GetBool("grade", true),
		Cleanup: request.GetBool("cleanup", false),
	})
	if err != nil {
		return errorResult(err), nil
	}
	if res == nil {
		return textResult("Episode ended", false), nil
	}
	return jsonResult(res)
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	return httpServer.Start(fmt.Sprintf(":%d", port))
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
