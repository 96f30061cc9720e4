package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/libload/internal/deploy"
	"github.com/kalambet/libload/internal/model"
	"github.com/kalambet/libload/internal/session"
)

const recentCommands = 50

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Session *session.Controller
	Journal Journal // optional; if nil, libload://terminal is not registered
	Version string
}

// NewMCPServer creates an MCP server with all libload tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"libload",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("libload manages per-app native library injection configs on a rooted Android device."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_packages",
			mcp.WithDescription("List tracked application packages and the current selection."),
		),
		mcpListPackages(deps),
	)

	s.AddTool(
		mcp.NewTool("add_package",
			mcp.WithDescription("Start tracking an application package with the default config and create its data directory."),
			mcp.WithString("name", mcp.Description("Application package name, e.g. com.example.app"), mcp.Required()),
		),
		mcpAddPackage(deps),
	)

	s.AddTool(
		mcp.NewTool("select_package",
			mcp.WithDescription("Make a tracked package current and return its config."),
			mcp.WithString("name", mcp.Description("Tracked package name"), mcp.Required()),
		),
		mcpSelectPackage(deps),
	)

	s.AddTool(
		mcp.NewTool("save_config",
			mcp.WithDescription("Replace the current package's config and deploy its custom library if one is set."),
			mcp.WithBoolean("default_lib", mcp.Description("Use the module's bundled library"), mcp.Required()),
			mcp.WithString("lib_path", mcp.Description("Path of the custom library on the device")),
			mcp.WithBoolean("enable", mcp.Description("Enable injection for this package"), mcp.Required()),
		),
		mcpSaveConfig(deps),
	)

	s.AddTool(
		mcp.NewTool("remove_package",
			mcp.WithDescription("Stop tracking the current package."),
		),
		mcpAction(deps, session.IntentRemove),
	)

	s.AddTool(
		mcp.NewTool("backup_config",
			mcp.WithDescription("Copy the config file to the backup location."),
		),
		mcpAction(deps, session.IntentBackup),
	)

	s.AddTool(
		mcp.NewTool("restore_config",
			mcp.WithDescription("Overwrite the config file with the backup and reload it."),
		),
		mcpAction(deps, session.IntentRestore),
	)

	s.AddResource(
		mcp.NewResource(
			"libload://config",
			"Injection Config",
			mcp.WithResourceDescription("All tracked packages and their config records as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceConfig(deps),
	)

	if deps.Journal != nil {
		s.AddResource(
			mcp.NewResource(
				"libload://terminal",
				"Command Log",
				mcp.WithResourceDescription(fmt.Sprintf("Last %d shell commands with their output", recentCommands)),
				mcp.WithMIMEType("application/json"),
			),
			mcpResourceTerminal(deps),
		)
	}

	return s
}

func mcpListPackages(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcpJSON(deps.Session.View(ctx).State), nil
	}
}

func mcpAddPackage(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("name")
		if err != nil {
			return mcpError("name is required"), nil
		}
		out, err := deps.Session.Dispatch(ctx, session.Action{Intent: session.IntentAdd, Package: name})
		if err != nil {
			return mcpError(fmt.Sprintf("add failed: %v", err)), nil
		}
		return mcpText(out.Message), nil
	}
}

func mcpSelectPackage(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("name")
		if err != nil {
			return mcpError("name is required"), nil
		}
		out, err := deps.Session.Dispatch(ctx, session.Action{Intent: session.IntentSelect, Package: name})
		if err != nil {
			return mcpError(fmt.Sprintf("select failed: %v", err)), nil
		}
		if out.State.Current != name {
			return mcpError(fmt.Sprintf("unknown package %q", name)), nil
		}
		return mcpJSON(out.Form), nil
	}
}

func mcpSaveConfig(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		defaultLib, err := req.RequireBool("default_lib")
		if err != nil {
			return mcpError("default_lib is required"), nil
		}
		enable, err := req.RequireBool("enable")
		if err != nil {
			return mcpError("enable is required"), nil
		}
		form := model.Form{
			UseDefaultLib:   defaultLib,
			LibPath:         req.GetString("lib_path", ""),
			EnableInjection: enable,
		}

		out, err := deps.Session.Dispatch(ctx, session.Action{Intent: session.IntentSave, Form: &form})
		var derr *deploy.DeployError
		switch {
		case errors.As(err, &derr):
			return mcpError(fmt.Sprintf("%s; %v", out.Message, err)), nil
		case err != nil:
			return mcpError(fmt.Sprintf("save failed: %v", err)), nil
		}
		return mcpText(out.Message), nil
	}
}

func mcpAction(deps MCPDeps, intent session.Intent) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		out, err := deps.Session.Dispatch(ctx, session.Action{Intent: intent})
		if err != nil {
			return mcpError(fmt.Sprintf("%s failed: %v", intent, err)), nil
		}
		return mcpText(out.Message), nil
	}
}

func mcpResourceConfig(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		deps.Session.View(ctx)
		b, err := deps.Session.Configs().MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("failed to marshal config: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpResourceTerminal(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		total, err := deps.Journal.CountCommands()
		if err != nil {
			return nil, fmt.Errorf("failed to count commands: %w", err)
		}
		cmds, err := deps.Journal.ListCommands(recentCommands, max(total-recentCommands, 0))
		if err != nil {
			return nil, fmt.Errorf("failed to list commands: %w", err)
		}

		views := make([]commandView, len(cmds))
		for i, c := range cmds {
			views[i] = viewCommand(c)
		}
		b, err := json.Marshal(views)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal commands: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) *mcp.CallToolResult {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err))
	}
	return mcpText(string(b))
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
