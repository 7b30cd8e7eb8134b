package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mkovacs/salespanel/internal/engine"
	"github.com/mkovacs/salespanel/internal/saved"
	"github.com/mkovacs/salespanel/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Runner  *engine.Runner
	Store   *saved.Store
	Deleter *saved.Deleter

	RemoteToken string
	UserID      string
}

// NewMCPServer creates an MCP server exposing the analysis pipeline and the
// saved-analyses library as tools over stdio.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"salespanel",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("salespanel - sales intelligence for websites: analyze pages, search saved company analyses."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("analyze_page",
			mcp.WithDescription("Analyze a website for sales intelligence: what the company does, target customer, readiness score, and outreach suggestions. Reuses a recent analysis when the page has not changed."),
			mcp.WithString("url", mcp.Description("Page URL to analyze"), mcp.Required()),
			mcp.WithBoolean("force", mcp.Description("Force a fresh analysis even if a recent one exists")),
		),
		mcpAnalyzePage(deps),
	)

	s.AddTool(
		mcp.NewTool("search_saved",
			mcp.WithDescription("Search saved company analyses by free text over title, domain, and description."),
			mcp.WithString("query", mcp.Description("Search text; empty lists the newest records")),
			mcp.WithNumber("minScore", mcp.Description("Minimum sales readiness score")),
			mcp.WithString("persona", mcp.Description("Filter by recommended persona")),
		),
		mcpSearchSaved(deps),
	)

	s.AddTool(
		mcp.NewTool("delete_saved",
			mcp.WithDescription("Delete a saved analysis. The delete is soft: it can be undone for a few seconds via undo_delete."),
			mcp.WithString("id", mcp.Description("Saved analysis id"), mcp.Required()),
		),
		mcpDeleteSaved(deps),
	)

	s.AddTool(
		mcp.NewTool("undo_delete",
			mcp.WithDescription("Restore a saved analysis whose delete is still inside its undo window."),
			mcp.WithString("id", mcp.Description("Saved analysis id"), mcp.Required()),
		),
		mcpUndoDelete(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"saved://analyses",
			"Saved Analyses",
			mcp.WithResourceDescription("Newest saved company analyses as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSaved(deps),
	)

	return s
}

func mcpAnalyzePage(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := req.RequireString("url")
		if err != nil {
			return mcpError("url is required"), nil
		}
		force := req.GetBool("force", false)

		out := deps.Runner.Run(ctx, engine.Request{
			UserID:       deps.UserID,
			Token:        deps.RemoteToken,
			TabURL:       url,
			ForceRefresh: force,
		})

		b, err := json.Marshal(outcomeJSON(out))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal outcome: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSearchSaved(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		f := storage.ListFilter{
			Search:   req.GetString("query", ""),
			Persona:  req.GetString("persona", ""),
			SortDesc: true,
		}
		if min := req.GetInt("minScore", 0); min > 0 {
			f.ScoreMin = &min
		}

		items, err := deps.Store.List(deps.UserID, f)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		results := make([]savedJSON, 0, len(items))
		for _, a := range items {
			results = append(results, toSavedJSON(a, deps.Deleter.Pending(a.ID)))
		}
		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpDeleteSaved(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}

		rec, err := deps.Store.Get(id)
		if err != nil || rec.UserID != deps.UserID {
			return mcpError("saved analysis not found"), nil
		}

		deps.Deleter.Delete(deps.UserID, id)
		return mcpText(fmt.Sprintf("Delete of %s (%s) is pending; undo available for %s", id, rec.Domain, saved.UndoWindow)), nil
	}
}

func mcpUndoDelete(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		if deps.Deleter.Undo(id) == 0 {
			return mcpError("no pending delete for that id; the undo window may have expired"), nil
		}
		return mcpText(fmt.Sprintf("Restored %s", id)), nil
	}
}

func mcpResourceSaved(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		items, err := deps.Store.List(deps.UserID, storage.ListFilter{SortDesc: true})
		if err != nil {
			return nil, fmt.Errorf("failed to list saved analyses: %w", err)
		}

		type summary struct {
			ID        string `json:"id"`
			Domain    string `json:"domain"`
			Title     string `json:"title"`
			Score     int    `json:"score"`
			Persona   string `json:"persona"`
			CreatedAt string `json:"created_at"`
		}
		summaries := make([]summary, len(items))
		for i, a := range items {
			summaries[i] = summary{
				ID:        a.ID,
				Domain:    a.Domain,
				Title:     a.Title,
				Score:     a.SalesReadinessScore,
				Persona:   a.BestPersona,
				CreatedAt: a.CreatedAt.Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal analyses: %w", err)
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
