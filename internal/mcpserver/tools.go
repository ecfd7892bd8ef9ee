// Package mcpserver registers MCP tools that expose Linear operations.
// It adapts the linear client to the MCP SDK's tool handler interface;
// each handler resolves the caller's credential from the request context
// placed there by the auth middleware.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"linearmcp/internal/auth"
	"linearmcp/internal/linear"
)

// RegisterTools adds all Linear tools to the given MCP server.
func RegisterTools(server *mcp.Server, client *linear.Client) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "linear_get_viewer",
		Description: "Get the authenticated Linear user (id, name, email). Use this to verify credentials and discover the current user's id.",
	}, getViewerHandler(client))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "linear_list_teams",
		Description: "List teams in the Linear workspace with their ids and keys. Team ids are required to create issues.",
	}, listTeamsHandler(client))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "linear_list_projects",
		Description: "List projects in the Linear workspace with their state and progress.",
	}, listProjectsHandler(client))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "linear_list_issues",
		Description: "List issues, most recently updated first. Filter by team id or assignee id, or pass a query for full-text search.",
	}, listIssuesHandler(client))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "linear_get_issue",
		Description: "Get a single issue by its id or human identifier (e.g. ENG-123), including description, state, assignee, and team.",
	}, getIssueHandler(client))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "linear_create_issue",
		Description: "Create a new issue. Requires a team id and title; description, priority (1=urgent..4=low), assignee id, and state id are optional.",
	}, createIssueHandler(client))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "linear_update_issue",
		Description: "Update an existing issue by id. Only the provided fields are changed.",
	}, updateIssueHandler(client))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "linear_add_comment",
		Description: "Add a markdown comment to an issue by issue id.",
	}, addCommentHandler(client))
}

// --- Input types ---
// The MCP SDK infers JSON schema from these struct types via jsonschema tags.

// GetViewerInput has no parameters.
type GetViewerInput struct{}

// ListTeamsInput holds parameters for linear_list_teams.
type ListTeamsInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum number of teams, defaults to 25"`
}

// ListProjectsInput holds parameters for linear_list_projects.
type ListProjectsInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum number of projects, defaults to 25"`
}

// ListIssuesInput holds parameters for linear_list_issues.
type ListIssuesInput struct {
	TeamID     string `json:"team_id,omitempty" jsonschema:"filter by team id"`
	AssigneeID string `json:"assignee_id,omitempty" jsonschema:"filter by assignee user id"`
	Query      string `json:"query,omitempty" jsonschema:"full-text search term, overrides the filters"`
	Limit      int    `json:"limit,omitempty" jsonschema:"maximum number of issues, defaults to 25"`
}

// GetIssueInput holds parameters for linear_get_issue.
type GetIssueInput struct {
	ID string `json:"id" jsonschema:"required,issue id or identifier such as ENG-123"`
}

// CreateIssueInput holds parameters for linear_create_issue.
type CreateIssueInput struct {
	TeamID      string `json:"team_id" jsonschema:"required,id of the team the issue belongs to"`
	Title       string `json:"title" jsonschema:"required,issue title"`
	Description string `json:"description,omitempty" jsonschema:"markdown description"`
	Priority    int    `json:"priority,omitempty" jsonschema:"priority: 1=urgent 2=high 3=normal 4=low"`
	AssigneeID  string `json:"assignee_id,omitempty" jsonschema:"user id to assign"`
	StateID     string `json:"state_id,omitempty" jsonschema:"workflow state id"`
}

// UpdateIssueInput holds parameters for linear_update_issue.
type UpdateIssueInput struct {
	ID          string `json:"id" jsonschema:"required,issue id"`
	Title       string `json:"title,omitempty" jsonschema:"new title"`
	Description string `json:"description,omitempty" jsonschema:"new markdown description"`
	Priority    int    `json:"priority,omitempty" jsonschema:"priority: 1=urgent 2=high 3=normal 4=low"`
	AssigneeID  string `json:"assignee_id,omitempty" jsonschema:"user id to assign"`
	StateID     string `json:"state_id,omitempty" jsonschema:"workflow state id"`
}

// AddCommentInput holds parameters for linear_add_comment.
type AddCommentInput struct {
	IssueID string `json:"issue_id" jsonschema:"required,id of the issue to comment on"`
	Body    string `json:"body" jsonschema:"required,markdown comment body"`
}

// IssueListResult wraps a page of issues for structured output.
type IssueListResult struct {
	Issues []linear.Issue `json:"issues"`
	Count  int            `json:"count"`
}

// TeamListResult wraps a page of teams for structured output.
type TeamListResult struct {
	Teams []linear.Team `json:"teams"`
	Count int           `json:"count"`
}

// ProjectListResult wraps a page of projects for structured output.
type ProjectListResult struct {
	Projects []linear.Project `json:"projects"`
	Count    int              `json:"count"`
}

// --- Handlers ---

func getViewerHandler(client *linear.Client) mcp.ToolHandlerFor[GetViewerInput, *linear.Viewer] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ GetViewerInput) (*mcp.CallToolResult, *linear.Viewer, error) {
		viewer, err := client.GetViewer(ctx, auth.CredentialFromContext(ctx))
		if err != nil {
			return nil, nil, err
		}
		return textResult(viewer), viewer, nil
	}
}

func listTeamsHandler(client *linear.Client) mcp.ToolHandlerFor[ListTeamsInput, *TeamListResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ListTeamsInput) (*mcp.CallToolResult, *TeamListResult, error) {
		teams, err := client.ListTeams(ctx, auth.CredentialFromContext(ctx), input.Limit)
		if err != nil {
			return nil, nil, err
		}
		result := &TeamListResult{Teams: teams, Count: len(teams)}
		return textResult(result), result, nil
	}
}

func listProjectsHandler(client *linear.Client) mcp.ToolHandlerFor[ListProjectsInput, *ProjectListResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ListProjectsInput) (*mcp.CallToolResult, *ProjectListResult, error) {
		projects, err := client.ListProjects(ctx, auth.CredentialFromContext(ctx), input.Limit)
		if err != nil {
			return nil, nil, err
		}
		result := &ProjectListResult{Projects: projects, Count: len(projects)}
		return textResult(result), result, nil
	}
}

func listIssuesHandler(client *linear.Client) mcp.ToolHandlerFor[ListIssuesInput, *IssueListResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ListIssuesInput) (*mcp.CallToolResult, *IssueListResult, error) {
		issues, err := client.ListIssues(ctx, auth.CredentialFromContext(ctx), linear.ListIssuesOptions{
			TeamID:     input.TeamID,
			AssigneeID: input.AssigneeID,
			Query:      input.Query,
			Limit:      input.Limit,
		})
		if err != nil {
			return nil, nil, err
		}
		result := &IssueListResult{Issues: issues, Count: len(issues)}
		return textResult(result), result, nil
	}
}

func getIssueHandler(client *linear.Client) mcp.ToolHandlerFor[GetIssueInput, *linear.Issue] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input GetIssueInput) (*mcp.CallToolResult, *linear.Issue, error) {
		issue, err := client.GetIssue(ctx, auth.CredentialFromContext(ctx), input.ID)
		if err != nil {
			return nil, nil, err
		}
		return textResult(issue), issue, nil
	}
}

func createIssueHandler(client *linear.Client) mcp.ToolHandlerFor[CreateIssueInput, *linear.Issue] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input CreateIssueInput) (*mcp.CallToolResult, *linear.Issue, error) {
		issue, err := client.CreateIssue(ctx, auth.CredentialFromContext(ctx), linear.CreateIssueInput{
			TeamID:      input.TeamID,
			Title:       input.Title,
			Description: input.Description,
			Priority:    input.Priority,
			AssigneeID:  input.AssigneeID,
			StateID:     input.StateID,
		})
		if err != nil {
			return nil, nil, err
		}
		return textResult(issue), issue, nil
	}
}

func updateIssueHandler(client *linear.Client) mcp.ToolHandlerFor[UpdateIssueInput, *linear.Issue] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input UpdateIssueInput) (*mcp.CallToolResult, *linear.Issue, error) {
		issue, err := client.UpdateIssue(ctx, auth.CredentialFromContext(ctx), input.ID, linear.UpdateIssueInput{
			Title:       input.Title,
			Description: input.Description,
			Priority:    input.Priority,
			AssigneeID:  input.AssigneeID,
			StateID:     input.StateID,
		})
		if err != nil {
			return nil, nil, err
		}
		return textResult(issue), issue, nil
	}
}

func addCommentHandler(client *linear.Client) mcp.ToolHandlerFor[AddCommentInput, *linear.Comment] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input AddCommentInput) (*mcp.CallToolResult, *linear.Comment, error) {
		comment, err := client.AddComment(ctx, auth.CredentialFromContext(ctx), input.IssueID, input.Body)
		if err != nil {
			return nil, nil, err
		}
		return textResult(comment), comment, nil
	}
}

// textResult builds a CallToolResult with JSON text content from any value.
// This provides the unstructured content alongside the structured output
// that the SDK populates automatically.
func textResult(v interface{}) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error marshaling result: %v", err)}},
			IsError: true,
		}
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
