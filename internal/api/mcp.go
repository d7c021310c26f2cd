package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/jobmatch/internal/matching"
	"github.com/kalambet/jobmatch/internal/recruit"
	"github.com/kalambet/jobmatch/internal/workflow"
)

// TaskCounter reports the embedding queue depth per status.
type TaskCounter interface {
	TaskCounts(ctx context.Context) (map[string]int, error)
}

// MCPDeps holds dependencies for the MCP server. Tools run with admin
// capability: the MCP transport is local stdio.
type MCPDeps struct {
	Workflow *workflow.Engine
	Matching *matching.Service
	Tasks    TaskCounter // optional; if nil, the queue resource is not registered
	Version  string
}

var mcpActor = recruit.Actor{ID: "mcp", Role: recruit.RoleAdmin}

// NewMCPServer creates an MCP server exposing suggestion and relationship
// lookups.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"jobmatch",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("jobmatch: candidate and job suggestions plus the application/invitation ledger."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("suggest_candidates",
			mcp.WithDescription("Rank open-to-work candidates for a job by embedding similarity."),
			mcp.WithString("job_id", mcp.Description("Job to find candidates for"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		),
		mcpSuggestCandidates(deps),
	)

	s.AddTool(
		mcp.NewTool("suggest_jobs",
			mcp.WithDescription("Rank active jobs for a candidate by embedding similarity."),
			mcp.WithString("candidate_id", mcp.Description("Candidate to find jobs for"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		),
		mcpSuggestJobs(deps),
	)

	s.AddTool(
		mcp.NewTool("list_relationships",
			mcp.WithDescription("List applications and invitations for a candidate or a job, newest first."),
			mcp.WithString("candidate_id", mcp.Description("Filter by candidate")),
			mcp.WithString("job_id", mcp.Description("Filter by job (used when candidate_id is empty)")),
			mcp.WithString("initiator", mcp.Description("candidate|company, or application|invitation")),
		),
		mcpListRelationships(deps),
	)

	s.AddTool(
		mcp.NewTool("get_relationship",
			mcp.WithDescription("Fetch one application or invitation by id."),
			mcp.WithString("id", mcp.Description("Relationship id"), mcp.Required()),
		),
		mcpGetRelationship(deps),
	)

	if deps.Tasks != nil {
		s.AddResource(
			mcp.NewResource(
				"jobmatch://queue",
				"Embedding Queue",
				mcp.WithResourceDescription("Embedding task counts by status"),
				mcp.WithMIMEType("application/json"),
			),
			mcpResourceQueue(deps),
		)
	}

	return s
}

func mcpSuggestCandidates(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jobID, err := req.RequireString("job_id")
		if err != nil {
			return mcpError("job_id is required"), nil
		}
		out, err := deps.Matching.SuggestCandidates(ctx, jobID, mcpLimit(req))
		if err != nil {
			return mcpDomainError(err), nil
		}
		return mcpJSON(out)
	}
}

func mcpSuggestJobs(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		candidateID, err := req.RequireString("candidate_id")
		if err != nil {
			return mcpError("candidate_id is required"), nil
		}
		out, err := deps.Matching.SuggestJobs(ctx, candidateID, mcpLimit(req))
		if err != nil {
			return mcpDomainError(err), nil
		}
		return mcpJSON(out)
	}
}

func mcpListRelationships(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		candidateID := req.GetString("candidate_id", "")
		jobID := req.GetString("job_id", "")
		initiator, err := recruit.ParseInitiator(req.GetString("initiator", ""))
		if err != nil {
			return mcpError(err.Error()), nil
		}

		var rels []Relationship
		switch {
		case candidateID != "":
			out, err := deps.Workflow.ListForCandidate(ctx, mcpActor, candidateID, initiator)
			if err != nil {
				return mcpDomainError(err), nil
			}
			rels = relationshipsJSON(out)
		case jobID != "":
			out, err := deps.Workflow.ListForJob(ctx, mcpActor, jobID, initiator)
			if err != nil {
				return mcpDomainError(err), nil
			}
			rels = relationshipsJSON(out)
		default:
			return mcpError("one of candidate_id or job_id is required"), nil
		}
		return mcpJSON(rels)
	}
}

func mcpGetRelationship(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		rel, err := deps.Workflow.Get(ctx, mcpActor, id)
		if err != nil {
			return mcpDomainError(err), nil
		}
		return mcpJSON(relationshipJSON(rel))
	}
}

func mcpResourceQueue(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		counts, err := deps.Tasks.TaskCounts(ctx)
		if err != nil {
			return nil, fmt.Errorf("reading task counts: %w", err)
		}
		b, err := json.Marshal(counts)
		if err != nil {
			return nil, err
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

func mcpLimit(req mcp.CallToolRequest) int {
	limit := req.GetInt("limit", matching.DefaultLimit)
	if limit <= 0 {
		limit = matching.DefaultLimit
	}
	return limit
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

// mcpDomainError prefixes the message with the error kind so clients can
// tell "not found" from "not yet rankable".
func mcpDomainError(err error) *mcp.CallToolResult {
	kind := "error"
	switch {
	case errors.Is(err, recruit.ErrNotRankable):
		kind = "not_rankable"
	case errors.Is(err, recruit.ErrNotFound):
		kind = "not_found"
	case errors.Is(err, recruit.ErrForbidden):
		kind = "forbidden"
	case errors.Is(err, recruit.ErrBadRequest):
		kind = "invalid_request"
	}
	return mcpError(fmt.Sprintf("%s: %v", kind, err))
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
