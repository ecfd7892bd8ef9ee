package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linearmcp/internal/linear"
)

// testSetup serves canned GraphQL responses keyed by a substring of the
// query document, registers tools on an MCP server, and returns a
// connected client session for calling tools.
func testSetup(t *testing.T, responses map[string]string) *mcp.ClientSession {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Query string `json:"query"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))

		for needle, body := range responses {
			if strings.Contains(payload.Query, needle) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(body))
				return
			}
		}
		t.Errorf("no canned response for query: %s", payload.Query)
	}))
	t.Cleanup(ts.Close)

	client := linear.NewClient(linear.ClientConfig{
		APIURL: ts.URL,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	server := mcp.NewServer(
		&mcp.Implementation{Name: "linear-mcp-test", Version: "test"},
		nil,
	)
	RegisterTools(server, client)

	ctx := context.Background()
	t1, t2 := mcp.NewInMemoryTransports()
	_, err := server.Connect(ctx, t1, nil)
	require.NoError(t, err)

	mcpClient := mcp.NewClient(
		&mcp.Implementation{Name: "test-client", Version: "test"},
		nil,
	)
	session, err := mcpClient.Connect(ctx, t2, nil)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })

	return session
}

// callTool is a helper that calls a tool and returns the result.
func callTool(t *testing.T, session *mcp.ClientSession, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	require.NoError(t, err)
	return result
}

// extractJSON unmarshals the first text content from a CallToolResult.
func extractJSON(t *testing.T, result *mcp.CallToolResult, dest interface{}) {
	t.Helper()
	require.NotEmpty(t, result.Content, "result has no content")
	tc, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok, "first content is not TextContent")
	require.NoError(t, json.Unmarshal([]byte(tc.Text), dest))
}

func TestToolsRegistered(t *testing.T) {
	session := testSetup(t, nil)

	resp, err := session.ListTools(context.Background(), &mcp.ListToolsParams{})
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, tool := range resp.Tools {
		names[tool.Name] = true
	}

	for _, want := range []string{
		"linear_get_viewer", "linear_list_teams", "linear_list_projects",
		"linear_list_issues", "linear_get_issue", "linear_create_issue",
		"linear_update_issue", "linear_add_comment",
	} {
		assert.True(t, names[want], "tool %s not registered", want)
	}
}

func TestGetViewerTool(t *testing.T) {
	session := testSetup(t, map[string]string{
		"viewer": `{"data":{"viewer":{"id":"u1","name":"Ada","email":"ada@example.com"}}}`,
	})

	result := callTool(t, session, "linear_get_viewer", nil)
	require.False(t, result.IsError)

	var viewer linear.Viewer
	extractJSON(t, result, &viewer)
	assert.Equal(t, "Ada", viewer.Name)
}

func TestListIssuesTool(t *testing.T) {
	session := testSetup(t, map[string]string{
		"issues": `{"data":{"issues":{"nodes":[{
			"id":"i1","identifier":"ENG-1","title":"Fix login","priority":2,
			"url":"https://linear.app/i/ENG-1","state":{"name":"Todo"},"team":{"key":"ENG"}
		}]}}}`,
	})

	result := callTool(t, session, "linear_list_issues", map[string]interface{}{
		"team_id": "t1",
		"limit":   10,
	})
	require.False(t, result.IsError)

	var list IssueListResult
	extractJSON(t, result, &list)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "ENG-1", list.Issues[0].Identifier)
}

func TestCreateIssueTool(t *testing.T) {
	session := testSetup(t, map[string]string{
		"issueCreate": `{"data":{"issueCreate":{"success":true,"issue":{
			"id":"i2","identifier":"ENG-2","title":"New bug",
			"url":"https://linear.app/i/ENG-2","team":{"key":"ENG"}
		}}}}`,
	})

	result := callTool(t, session, "linear_create_issue", map[string]interface{}{
		"team_id": "t1",
		"title":   "New bug",
	})
	require.False(t, result.IsError)

	var issue linear.Issue
	extractJSON(t, result, &issue)
	assert.Equal(t, "ENG-2", issue.Identifier)
}

func TestCreateIssueTool_MissingTeam(t *testing.T) {
	session := testSetup(t, nil)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "linear_create_issue",
		Arguments: map[string]interface{}{"title": "no team"},
	})
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
