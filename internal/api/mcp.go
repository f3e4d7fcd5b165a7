package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/aide/internal/assistant"
	"github.com/kalambet/aide/internal/conversation"
	"github.com/kalambet/aide/internal/persona"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Assistant   Assistant
	Persona     Persona
	Preferences Preferences // optional; if nil, set_preference is not registered
}

// NewMCPServer creates an MCP server with the assistant's tools and
// resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"aide",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("aide: personal assistant that answers from your health, fitness, calendar, goals and finance data and can perform trusted actions."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Send one utterance to the assistant and return its reply. Actions below the trust level are answered with a confirmation question; reply yes or no in the next call."),
			mcp.WithString("text", mcp.Description("What the user said"), mcp.Required()),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("sync_proficiency",
			mcp.WithDescription("Report a new proficiency score (0-100) and return the resulting persona."),
			mcp.WithNumber("score", mcp.Description("Proficiency score 0-100"), mcp.Required()),
			mcp.WithString("integration", mcp.Description("Name of a newly connected integration, if that triggered the score change")),
		),
		mcpSyncProficiency(deps),
	)

	s.AddTool(
		mcp.NewTool("set_trust",
			mcp.WithDescription("Set how much the assistant may do without asking (0-100)."),
			mcp.WithNumber("trust", mcp.Description("Trust level 0-100"), mcp.Required()),
		),
		mcpSetTrust(deps),
	)

	if deps.Preferences != nil {
		s.AddTool(
			mcp.NewTool("set_preference",
				mcp.WithDescription("Update a user preference used to personalize replies."),
				mcp.WithString("key", mcp.Description("Preference key (e.g. communication.tone)"), mcp.Required()),
				mcp.WithString("value", mcp.Description("Value to set; empty clears it"), mcp.Required()),
			),
			mcpSetPreference(deps),
		)
	}

	s.AddResource(
		mcp.NewResource(
			"assistant://persona",
			"Active Persona",
			mcp.WithResourceDescription("Current persona tier, traits and voice as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourcePersona(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"assistant://history",
			"Conversation History",
			mcp.WithResourceDescription("Rolling window of recent conversation turns, oldest first"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceHistory(deps),
	)

	return s
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}
		res, err := deps.Assistant.HandleTurn(ctx, text, "mcp", nil)
		if errors.Is(err, assistant.ErrEmptyInput) {
			return mcpError("text is required"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("turn not processed: %v", err)), nil
		}

		out := res.Reply.Text
		if len(res.Suggestions) > 0 {
			out += "\n\nSuggestions:\n- " + strings.Join(res.Suggestions, "\n- ")
		}
		return mcpText(out), nil
	}
}

func mcpSyncProficiency(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		score, err := req.RequireFloat("score")
		if err != nil {
			return mcpError("score is required"), nil
		}

		integration := strings.TrimSpace(req.GetString("integration", ""))
		var st persona.State
		if integration != "" {
			st, err = deps.Persona.IntegrationConnected(ctx, integration, score)
		} else {
			st, err = deps.Persona.SyncTier(ctx, score)
		}
		if err != nil {
			return mcpError(fmt.Sprintf("syncing tier: %v", err)), nil
		}

		b, err := json.Marshal(st)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal persona: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSetTrust(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		trust, err := req.RequireFloat("trust")
		if err != nil {
			return mcpError("trust is required"), nil
		}
		v, err := deps.Assistant.SetTrust(trust)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to set trust: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Trust set to %g", v)), nil
	}
}

func mcpSetPreference(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return mcpError("key is required"), nil
		}
		value := req.GetString("value", "")

		if err := deps.Preferences.Set(key, value); err != nil {
			return mcpError(fmt.Sprintf("failed to set preference: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Set %s = %s", key, value)), nil
	}
}

func mcpResourcePersona(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Persona.Current())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal persona: %w", err)
		}
		return jsonResource(req.Params.URI, b), nil
	}
}

func mcpResourceHistory(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		turns := deps.Assistant.History()
		if turns == nil {
			turns = []conversation.Turn{}
		}
		b, err := json.Marshal(turns)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal history: %w", err)
		}
		return jsonResource(req.Params.URI, b), nil
	}
}

func jsonResource(uri string, b []byte) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}
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
