package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nerrad567/macroforge-core/internal/macro"
	"github.com/nerrad567/macroforge-core/internal/queue"
)

// defaultToolWait bounds run_script when it waits for the run to finish.
const defaultToolWait = 60 * time.Second

func newMCPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve MacroForge tools over the Model Context Protocol",
		Long: `Start an MCP server exposing run_script, cancel_run, run_status,
stop_all and list_scripts.

Supported transports:
  stdio             Standard I/O (default)
  streamable-http   Streamable HTTP transport`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			transport, _ := cmd.Flags().GetString("transport")
			port, _ := cmd.Flags().GetInt("port")

			c, err := cliCore(cmd, coreOptions{})
			if err != nil {
				return err
			}
			defer c.Close()

			return serveMCP(cmd.Context(), newMCPServer(c), transport, port)
		},
	}
	cmd.Flags().String("transport", "stdio", "Transport: stdio, streamable-http")
	cmd.Flags().Int("port", 8751, "HTTP port for streamable-http transport")
	return cmd
}

// mcpTools binds the tool handlers to a running core.
type mcpTools struct {
	c        *core
	resolver queue.Resolver
}

// newMCPServer creates an MCP server with every MacroForge tool registered.
func newMCPServer(c *core) *mcpserver.MCPServer {
	t := &mcpTools{
		c:        c,
		resolver: queue.FileResolver{BaseDir: c.cfg.Engine.ScriptsDir, Fallback: c.registry},
	}
	s := mcpserver.NewMCPServer("macroforge", version)

	s.AddTool(
		mcp.NewTool("run_script",
			mcp.WithDescription("Run a script on the device. The script is a stored script name or ID, or a path to a script YAML file."),
			mcp.WithString("script", mcp.Description("Script name, ID or .yaml path"), mcp.Required()),
			mcp.WithBoolean("wait", mcp.Description("Wait for the run to finish (default: true)")),
			mcp.WithNumber("timeout_ms", mcp.Description("Maximum wait in ms (default: 60000)")),
		),
		t.handleRunScript,
	)
	s.AddTool(
		mcp.NewTool("cancel_run",
			mcp.WithDescription("Cancel a run by ID"),
			mcp.WithString("run_id", mcp.Description("Run ID"), mcp.Required()),
		),
		t.handleCancelRun,
	)
	s.AddTool(
		mcp.NewTool("pause_run",
			mcp.WithDescription("Pause a run at its next step boundary or wait tick"),
			mcp.WithString("run_id", mcp.Description("Run ID"), mcp.Required()),
		),
		t.handlePauseRun,
	)
	s.AddTool(
		mcp.NewTool("resume_run",
			mcp.WithDescription("Resume a paused run"),
			mcp.WithString("run_id", mcp.Description("Run ID"), mcp.Required()),
		),
		t.handleResumeRun,
	)
	s.AddTool(
		mcp.NewTool("pause_background",
			mcp.WithDescription("Pause a background action"),
			mcp.WithString("name", mcp.Description("Background action name"), mcp.Required()),
		),
		t.handlePauseBackground,
	)
	s.AddTool(
		mcp.NewTool("resume_background",
			mcp.WithDescription("Resume a paused background action"),
			mcp.WithString("name", mcp.Description("Background action name"), mcp.Required()),
		),
		t.handleResumeBackground,
	)
	s.AddTool(
		mcp.NewTool("run_status",
			mcp.WithDescription("Get the status of a run by ID"),
			mcp.WithString("run_id", mcp.Description("Run ID"), mcp.Required()),
		),
		t.handleRunStatus,
	)
	s.AddTool(
		mcp.NewTool("stop_all",
			mcp.WithDescription("Cancel the queue, every run and every background action"),
		),
		t.handleStopAll,
	)
	s.AddTool(
		mcp.NewTool("list_scripts",
			mcp.WithDescription("List stored scripts"),
		),
		t.handleListScripts,
	)
	return s
}

// serveMCP serves s until ctx ends or the transport closes.
func serveMCP(ctx context.Context, s *mcpserver.MCPServer, transport string, port int) error {
	switch transport {
	case "stdio":
		return mcpserver.NewStdioServer(s).Listen(ctx, os.Stdin, os.Stdout)
	case "streamable-http":
		httpServer := mcpserver.NewStreamableHTTPServer(s)
		errCh := make(chan error, 1)
		go func() { errCh <- httpServer.Start(fmt.Sprintf(":%d", port)) }()
		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		}
	default:
		return fmt.Errorf("unsupported transport: %s (use stdio or streamable-http)", transport)
	}
}

// toolText renders v as YAML for a tool response.
func toolText(v any) *mcp.CallToolResult {
	b, err := yaml.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(b))
}

func (t *mcpTools) handleRunScript(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref, err := request.RequireString("script")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	script, err := t.resolver.Resolve(ctx, ref)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	h, err := t.c.engine.Start(ctx, script)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if !request.GetBool("wait", true) {
		return toolText(summarize(h.Status())), nil
	}

	wait := defaultToolWait
	if ms := request.GetInt("timeout_ms", 0); ms > 0 {
		wait = time.Duration(ms) * time.Millisecond
	}
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	res, err := h.Wait(waitCtx)
	if err != nil {
		// Still running; the caller can poll run_status.
		return toolText(summarize(h.Status())), nil
	}
	if res.Status != macro.StatusCompleted {
		return mcp.NewToolResultError(mustYAML(summarize(res))), nil
	}
	return toolText(summarize(res)), nil
}

func (t *mcpTools) handleCancelRun(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := t.c.controller.CancelRun(id); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("cancel requested for run %s", id)), nil
}

func (t *mcpTools) handlePauseRun(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.setRunPaused(request, t.c.controller.PauseRun)
}

func (t *mcpTools) handleResumeRun(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.setRunPaused(request, t.c.controller.ResumeRun)
}

func (t *mcpTools) setRunPaused(request mcp.CallToolRequest, apply func(string) error) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := apply(id); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	h, ok := t.c.engine.Get(id)
	if !ok {
		return mcp.NewToolResultError("run not found: " + id), nil
	}
	return toolText(summarize(h.Status())), nil
}

// backgroundEntry is the pause_background and resume_background reply.
type backgroundEntry struct {
	Name   string `yaml:"name"`
	State  string `yaml:"state"`
	Cycles int    `yaml:"cycles"`
}

func (t *mcpTools) handlePauseBackground(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.setBackgroundPaused(request, t.c.controller.PauseBackground)
}

func (t *mcpTools) handleResumeBackground(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.setBackgroundPaused(request, t.c.controller.ResumeBackground)
}

func (t *mcpTools) setBackgroundPaused(request mcp.CallToolRequest, apply func(string) error) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := apply(name); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	st, err := t.c.scheduler.Get(name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return toolText(backgroundEntry{Name: st.Name, State: st.State, Cycles: st.Cycles}), nil
}

func (t *mcpTools) handleRunStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if h, ok := t.c.engine.Get(id); ok {
		return toolText(summarize(h.Status())), nil
	}
	run, err := t.c.repo.GetRun(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return toolText(summarize(*run)), nil
}

func (t *mcpTools) handleStopAll(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	t.c.controller.StopAll()
	return mcp.NewToolResultText("stopped all runs, queues and background actions"), nil
}

// scriptEntry is one list_scripts row.
type scriptEntry struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Steps   int    `yaml:"steps"`
	Version int    `yaml:"version"`
}

func (t *mcpTools) handleListScripts(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	scripts := t.c.registry.List(ctx)
	out := make([]scriptEntry, 0, len(scripts))
	for _, s := range scripts {
		out = append(out, scriptEntry{ID: s.ID, Name: s.Name, Steps: len(s.Steps), Version: s.Version})
	}
	return toolText(out), nil
}

func mustYAML(v any) string {
	b, err := yaml.Marshal(v)
	if err != nil {
		return err.Error()
	}
	return string(b)
}
