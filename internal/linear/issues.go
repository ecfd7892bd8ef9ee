package linear

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"

	"linearmcp/internal/models"
)

// defaultPageSize bounds list operations when the caller does not ask
// for a specific page size.
const defaultPageSize = 25

// Viewer is the authenticated Linear user.
type Viewer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Team is a Linear team.
type Team struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name"`
}

// Project is a Linear project.
type Project struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	State    string  `json:"state"`
	Progress float64 `json:"progress"`
}

// Issue is a Linear issue with the fields the tools surface.
type Issue struct {
	ID          string `json:"id"`
	Identifier  string `json:"identifier"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Priority    int    `json:"priority"`
	State       string `json:"state,omitempty"`
	Assignee    string `json:"assignee,omitempty"`
	Team        string `json:"team,omitempty"`
	URL         string `json:"url"`
	CreatedAt   string `json:"createdAt,omitempty"`
	UpdatedAt   string `json:"updatedAt,omitempty"`
}

// Comment is a comment on an issue.
type Comment struct {
	ID   string `json:"id"`
	Body string `json:"body"`
	URL  string `json:"url"`
}

const issueFields = `
	id
	identifier
	title
	description
	priority
	url
	createdAt
	updatedAt
	state { name }
	assignee { name }
	team { key }
`

// GetViewer returns the user the credential authenticates as.
func (c *Client) GetViewer(ctx context.Context, cred models.Credential) (*Viewer, error) {
	body, err := c.Query(ctx, cred, `query { viewer { id name email } }`, nil, 0)
	if err != nil {
		return nil, err
	}

	v := gjson.GetBytes(body, "data.viewer")
	if !v.Exists() {
		return nil, fmt.Errorf("viewer missing from response")
	}

	return &Viewer{
		ID:    v.Get("id").String(),
		Name:  v.Get("name").String(),
		Email: v.Get("email").String(),
	}, nil
}

// ListTeams returns up to limit teams in the workspace.
func (c *Client) ListTeams(ctx context.Context, cred models.Credential, limit int) ([]Team, error) {
	limit = clampLimit(limit)

	body, err := c.Query(ctx, cred,
		`query($first: Int!) { teams(first: $first) { nodes { id key name } } }`,
		map[string]any{"first": limit}, limit)
	if err != nil {
		return nil, err
	}

	var teams []Team
	gjson.GetBytes(body, "data.teams.nodes").ForEach(func(_, node gjson.Result) bool {
		teams = append(teams, Team{
			ID:   node.Get("id").String(),
			Key:  node.Get("key").String(),
			Name: node.Get("name").String(),
		})
		return true
	})

	return teams, nil
}

// ListProjects returns up to limit projects in the workspace.
func (c *Client) ListProjects(ctx context.Context, cred models.Credential, limit int) ([]Project, error) {
	limit = clampLimit(limit)

	body, err := c.Query(ctx, cred,
		`query($first: Int!) { projects(first: $first) { nodes { id name state progress } } }`,
		map[string]any{"first": limit}, limit)
	if err != nil {
		return nil, err
	}

	var projects []Project
	gjson.GetBytes(body, "data.projects.nodes").ForEach(func(_, node gjson.Result) bool {
		projects = append(projects, Project{
			ID:       node.Get("id").String(),
			Name:     node.Get("name").String(),
			State:    node.Get("state").String(),
			Progress: node.Get("progress").Float(),
		})
		return true
	})

	return projects, nil
}

// ListIssuesOptions narrows a ListIssues call. All fields are optional.
type ListIssuesOptions struct {
	TeamID     string
	AssigneeID string
	Query      string
	Limit      int
}

// ListIssues returns issues matching the options, most recently updated
// first. A non-empty Query switches to Linear's full-text issue search.
func (c *Client) ListIssues(ctx context.Context, cred models.Credential, opts ListIssuesOptions) ([]Issue, error) {
	limit := clampLimit(opts.Limit)

	if opts.Query != "" {
		return c.searchIssues(ctx, cred, opts.Query, limit)
	}

	filter := map[string]any{}
	if opts.TeamID != "" {
		filter["team"] = map[string]any{"id": map[string]any{"eq": opts.TeamID}}
	}
	if opts.AssigneeID != "" {
		filter["assignee"] = map[string]any{"id": map[string]any{"eq": opts.AssigneeID}}
	}

	body, err := c.Query(ctx, cred,
		`query($first: Int!, $filter: IssueFilter) {
			issues(first: $first, filter: $filter, orderBy: updatedAt) {
				nodes { `+issueFields+` }
			}
		}`,
		map[string]any{"first": limit, "filter": filter}, limit)
	if err != nil {
		return nil, err
	}

	return issuesFromNodes(gjson.GetBytes(body, "data.issues.nodes")), nil
}

func (c *Client) searchIssues(ctx context.Context, cred models.Credential, query string, limit int) ([]Issue, error) {
	body, err := c.Query(ctx, cred,
		`query($first: Int!, $term: String!) {
			searchIssues(first: $first, term: $term) {
				nodes { `+issueFields+` }
			}
		}`,
		map[string]any{"first": limit, "term": query}, limit)
	if err != nil {
		return nil, err
	}

	return issuesFromNodes(gjson.GetBytes(body, "data.searchIssues.nodes")), nil
}

// GetIssue returns one issue by its ID or human identifier (e.g. ENG-123).
func (c *Client) GetIssue(ctx context.Context, cred models.Credential, id string) (*Issue, error) {
	body, err := c.Query(ctx, cred,
		`query($id: String!) { issue(id: $id) { `+issueFields+` } }`,
		map[string]any{"id": id}, 0)
	if err != nil {
		return nil, err
	}

	node := gjson.GetBytes(body, "data.issue")
	if !node.Exists() || node.Type == gjson.Null {
		return nil, fmt.Errorf("issue %q not found", id)
	}

	issue := issueFromNode(node)
	return &issue, nil
}

// CreateIssueInput holds the fields for a new issue. TeamID and Title
// are required; the rest are optional.
type CreateIssueInput struct {
	TeamID      string
	Title       string
	Description string
	Priority    int
	AssigneeID  string
	StateID     string
}

// CreateIssue creates an issue and returns it.
func (c *Client) CreateIssue(ctx context.Context, cred models.Credential, input CreateIssueInput) (*Issue, error) {
	if input.TeamID == "" || input.Title == "" {
		return nil, fmt.Errorf("teamId and title are required")
	}

	vars := map[string]any{
		"teamId": input.TeamID,
		"title":  input.Title,
	}
	if input.Description != "" {
		vars["description"] = input.Description
	}
	if input.Priority > 0 {
		vars["priority"] = input.Priority
	}
	if input.AssigneeID != "" {
		vars["assigneeId"] = input.AssigneeID
	}
	if input.StateID != "" {
		vars["stateId"] = input.StateID
	}

	body, err := c.Query(ctx, cred,
		`mutation($input: IssueCreateInput!) {
			issueCreate(input: $input) {
				success
				issue { `+issueFields+` }
			}
		}`,
		map[string]any{"input": vars}, 0)
	if err != nil {
		return nil, err
	}

	return issueFromMutation(body, "data.issueCreate")
}

// UpdateIssueInput holds the fields to change on an issue. Zero-valued
// fields are left untouched.
type UpdateIssueInput struct {
	Title       string
	Description string
	Priority    int
	AssigneeID  string
	StateID     string
}

// UpdateIssue applies the non-zero fields of input to an issue and
// returns the updated issue.
func (c *Client) UpdateIssue(ctx context.Context, cred models.Credential, id string, input UpdateIssueInput) (*Issue, error) {
	vars := map[string]any{}
	if input.Title != "" {
		vars["title"] = input.Title
	}
	if input.Description != "" {
		vars["description"] = input.Description
	}
	if input.Priority > 0 {
		vars["priority"] = input.Priority
	}
	if input.AssigneeID != "" {
		vars["assigneeId"] = input.AssigneeID
	}
	if input.StateID != "" {
		vars["stateId"] = input.StateID
	}
	if len(vars) == 0 {
		return nil, fmt.Errorf("no fields to update")
	}

	body, err := c.Query(ctx, cred,
		`mutation($id: String!, $input: IssueUpdateInput!) {
			issueUpdate(id: $id, input: $input) {
				success
				issue { `+issueFields+` }
			}
		}`,
		map[string]any{"id": id, "input": vars}, 0)
	if err != nil {
		return nil, err
	}

	return issueFromMutation(body, "data.issueUpdate")
}

// AddComment posts a comment on an issue and returns it.
func (c *Client) AddComment(ctx context.Context, cred models.Credential, issueID, commentBody string) (*Comment, error) {
	if issueID == "" || commentBody == "" {
		return nil, fmt.Errorf("issueId and body are required")
	}

	body, err := c.Query(ctx, cred,
		`mutation($input: CommentCreateInput!) {
			commentCreate(input: $input) {
				success
				comment { id body url }
			}
		}`,
		map[string]any{"input": map[string]any{"issueId": issueID, "body": commentBody}}, 0)
	if err != nil {
		return nil, err
	}

	result := gjson.GetBytes(body, "data.commentCreate")
	if !result.Get("success").Bool() {
		return nil, fmt.Errorf("comment creation was not successful")
	}

	node := result.Get("comment")
	return &Comment{
		ID:   node.Get("id").String(),
		Body: node.Get("body").String(),
		URL:  node.Get("url").String(),
	}, nil
}

func issueFromMutation(body []byte, path string) (*Issue, error) {
	result := gjson.GetBytes(body, path)
	if !result.Get("success").Bool() {
		return nil, fmt.Errorf("mutation was not successful")
	}

	issue := issueFromNode(result.Get("issue"))
	return &issue, nil
}

func issuesFromNodes(nodes gjson.Result) []Issue {
	var issues []Issue
	nodes.ForEach(func(_, node gjson.Result) bool {
		issues = append(issues, issueFromNode(node))
		return true
	})
	return issues
}

func issueFromNode(node gjson.Result) Issue {
	return Issue{
		ID:          node.Get("id").String(),
		Identifier:  node.Get("identifier").String(),
		Title:       node.Get("title").String(),
		Description: node.Get("description").String(),
		Priority:    int(node.Get("priority").Int()),
		State:       node.Get("state.name").String(),
		Assignee:    node.Get("assignee.name").String(),
		Team:        node.Get("team.key").String(),
		URL:         node.Get("url").String(),
		CreatedAt:   node.Get("createdAt").String(),
		UpdatedAt:   node.Get("updatedAt").String(),
	}
}

func clampLimit(limit int) int {
	if limit < 1 {
		return defaultPageSize
	}
	if limit > 100 {
		return 100
	}
	return limit
}
