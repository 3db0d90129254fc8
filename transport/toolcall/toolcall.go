// Package toolcall is the in-process tool-call front-end used by AI
// agents: one MCP tool each for the navigate, click, type, evaluate,
// screenshot and wait action types (cookie, historyNavigate and
// setViewport have no tool), schema-validated via the executor's own
// validator rather than a separate schema layer. Grounded on the ternarybob-quaero pack repo's
// cmd/quaero-mcp (mcp.NewTool + mcp.With* builders for one tool per
// capability, server.ToolHandlerFunc reading typed params off
// mcp.CallToolRequest, mcpServer.AddTool wiring, server.ServeStdio to
// run), generalized from quaero's fixed document-search tool set to
// this core's action-type-per-tool set.
package toolcall

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"browserfleet/core"
	"browserfleet/executor"
)

// Server wraps an mcp-go MCPServer with one tool registered per action
// type, all dispatched through a single Executor.
type Server struct {
	mcpServer *server.MCPServer
	exec      *executor.Executor
}

// New builds the MCP server and registers every action-type tool.
func New(version string, exec *executor.Executor) *Server {
	mcpServer := server.NewMCPServer("browserfleet", version, server.WithToolCapabilities(true))
	s := &Server{mcpServer: mcpServer, exec: exec}

	mcpServer.AddTool(navigateTool(), s.handleNavigate)
	mcpServer.AddTool(clickTool(), s.handleClick)
	mcpServer.AddTool(typeTextTool(), s.handleType)
	mcpServer.AddTool(evaluateTool(), s.handleEvaluate)
	mcpServer.AddTool(screenshotTool(), s.handleScreenshot)
	mcpServer.AddTool(waitTool(), s.handleWait)

	return s
}

// ServeStdio blocks serving the MCP protocol over stdin/stdout, the
// same entry point the teacher's cmd/quaero-mcp uses.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

func navigateTool() mcp.Tool {
	return mcp.NewTool("navigate",
		mcp.WithDescription("Navigate the page to a URL"),
		mcp.WithString("context_id", mcp.Required(), mcp.Description("Target browser context id")),
		mcp.WithString("page_id", mcp.Description("Target page id; a new page is created if omitted")),
		mcp.WithString("url", mcp.Required(), mcp.Description("Destination URL")),
		mcp.WithString("wait_until", mcp.Description("load | domcontentloaded | networkidle0 | networkidle2")),
	)
}

func (s *Server) handleNavigate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	contextID, err := req.RequireString("context_id")
	if err != nil {
		return errResult("context_id is required"), nil
	}
	url, err := req.RequireString("url")
	if err != nil {
		return errResult("url is required"), nil
	}
	action := core.Action{Type: core.ActionNavigate, URL: url, WaitUntil: core.WaitUntil(req.GetString("wait_until", string(core.WaitLoad)))}
	return s.dispatch(ctx, contextID, req.GetString("page_id", ""), action)
}

func clickTool() mcp.Tool {
	return mcp.NewTool("click",
		mcp.WithDescription("Click an element matched by CSS selector"),
		mcp.WithString("context_id", mcp.Required()),
		mcp.WithString("page_id", mcp.Required()),
		mcp.WithString("selector", mcp.Required()),
	)
}

func (s *Server) handleClick(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	contextID, err := req.RequireString("context_id")
	if err != nil {
		return errResult("context_id is required"), nil
	}
	pageID, err := req.RequireString("page_id")
	if err != nil {
		return errResult("page_id is required"), nil
	}
	selector, err := req.RequireString("selector")
	if err != nil {
		return errResult("selector is required"), nil
	}
	return s.dispatch(ctx, contextID, pageID, core.Action{Type: core.ActionClick, Selector: selector, Button: core.ButtonLeft, ClickCount: 1})
}

func typeTextTool() mcp.Tool {
	return mcp.NewTool("type",
		mcp.WithDescription("Type text into an element matched by CSS selector"),
		mcp.WithString("context_id", mcp.Required()),
		mcp.WithString("page_id", mcp.Required()),
		mcp.WithString("selector", mcp.Required()),
		mcp.WithString("text", mcp.Required()),
	)
}

func (s *Server) handleType(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	contextID, err := req.RequireString("context_id")
	if err != nil {
		return errResult("context_id is required"), nil
	}
	pageID, err := req.RequireString("page_id")
	if err != nil {
		return errResult("page_id is required"), nil
	}
	selector, err := req.RequireString("selector")
	if err != nil {
		return errResult("selector is required"), nil
	}
	text, err := req.RequireString("text")
	if err != nil {
		return errResult("text is required"), nil
	}
	return s.dispatch(ctx, contextID, pageID, core.Action{Type: core.ActionTypeText, Selector: selector, Text: text})
}

func evaluateTool() mcp.Tool {
	return mcp.NewTool("evaluate",
		mcp.WithDescription("Evaluate JavaScript in the page and return its result"),
		mcp.WithString("context_id", mcp.Required()),
		mcp.WithString("page_id", mcp.Required()),
		mcp.WithString("code", mcp.Required(), mcp.Description("JavaScript source to evaluate")),
	)
}

func (s *Server) handleEvaluate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	contextID, err := req.RequireString("context_id")
	if err != nil {
		return errResult("context_id is required"), nil
	}
	pageID, err := req.RequireString("page_id")
	if err != nil {
		return errResult("page_id is required"), nil
	}
	code, err := req.RequireString("code")
	if err != nil {
		return errResult("code is required"), nil
	}
	return s.dispatch(ctx, contextID, pageID, core.Action{Type: core.ActionEvaluate, Code: code})
}

func screenshotTool() mcp.Tool {
	return mcp.NewTool("screenshot",
		mcp.WithDescription("Capture a screenshot of the page or an element"),
		mcp.WithString("context_id", mcp.Required()),
		mcp.WithString("page_id", mcp.Required()),
		mcp.WithString("selector", mcp.Description("Element to screenshot; the page when omitted")),
		mcp.WithBoolean("full_page", mcp.Description("Capture beyond the viewport")),
	)
}

func (s *Server) handleScreenshot(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	contextID, err := req.RequireString("context_id")
	if err != nil {
		return errResult("context_id is required"), nil
	}
	pageID, err := req.RequireString("page_id")
	if err != nil {
		return errResult("page_id is required"), nil
	}
	action := core.Action{
		Type:     core.ActionScreenshot,
		Selector: req.GetString("selector", ""),
		FullPage: req.GetBool("full_page", false),
		Format:   "png",
	}
	return s.dispatch(ctx, contextID, pageID, action)
}

func waitTool() mcp.Tool {
	return mcp.NewTool("wait",
		mcp.WithDescription("Wait for a selector to appear"),
		mcp.WithString("context_id", mcp.Required()),
		mcp.WithString("page_id", mcp.Required()),
		mcp.WithString("selector", mcp.Required()),
	)
}

func (s *Server) handleWait(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	contextID, err := req.RequireString("context_id")
	if err != nil {
		return errResult("context_id is required"), nil
	}
	pageID, err := req.RequireString("page_id")
	if err != nil {
		return errResult("page_id is required"), nil
	}
	selector, err := req.RequireString("selector")
	if err != nil {
		return errResult("selector is required"), nil
	}
	return s.dispatch(ctx, contextID, pageID, core.Action{Type: core.ActionWait, Selector: selector})
}

// dispatch runs action through the shared executor and translates its
// ActionResult into MCP tool content. The Action Executor's own
// validate/pre-check pipeline is what actually enforces argument
// shape and policy here; this adapter carries no duplicate schema.
func (s *Server) dispatch(ctx context.Context, contextID, pageID string, action core.Action) (*mcp.CallToolResult, error) {
	ec := core.ExecContext{ContextID: contextID, PageID: pageID}
	result := s.exec.Execute(ctx, ec, action)
	if !result.Success {
		return errResult(fmt.Sprintf("action failed: %s", result.ErrorKind)), nil
	}
	return &mcp.CallToolResult{Content: []mcp.Content{mcp.NewTextContent(describeResult(action.Type, result))}}, nil
}

func describeResult(t core.ActionType, r core.ActionResult) string {
	switch t {
	case core.ActionNavigate:
		return fmt.Sprintf("navigated to %s (status %d)", r.FinalURL, r.StatusCode)
	case core.ActionEvaluate:
		return fmt.Sprintf("evaluate result: %v", r.Value)
	case core.ActionScreenshot:
		return fmt.Sprintf("captured screenshot (%d bytes)", r.Size)
	default:
		return fmt.Sprintf("%s succeeded", t)
	}
}

func errResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{mcp.NewTextContent("Error: " + msg)}}
}
