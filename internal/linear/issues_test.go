package linear

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI serves canned GraphQL responses keyed by a substring of the
// incoming query document.
func fakeAPI(t *testing.T, responses map[string]string) *Client {
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
		t.Fatalf("no canned response for query: %s", payload.Query)
	}))
	t.Cleanup(ts.Close)

	return NewClient(ClientConfig{APIURL: ts.URL, Logger: testLogger()})
}

func TestGetViewer(t *testing.T) {
	c := fakeAPI(t, map[string]string{
		"viewer": `{"data":{"viewer":{"id":"u1","name":"Ada","email":"ada@example.com"}}}`,
	})

	v, err := c.GetViewer(context.Background(), testCred())
	require.NoError(t, err)
	assert.Equal(t, "u1", v.ID)
	assert.Equal(t, "Ada", v.Name)
	assert.Equal(t, "ada@example.com", v.Email)
}

func TestListTeams(t *testing.T) {
	c := fakeAPI(t, map[string]string{
		"teams": `{"data":{"teams":{"nodes":[
			{"id":"t1","key":"ENG","name":"Engineering"},
			{"id":"t2","key":"OPS","name":"Operations"}
		]}}}`,
	})

	teams, err := c.ListTeams(context.Background(), testCred(), 10)
	require.NoError(t, err)
	require.Len(t, teams, 2)
	assert.Equal(t, "ENG", teams[0].Key)
	assert.Equal(t, "Operations", teams[1].Name)
}

func TestListIssues(t *testing.T) {
	c := fakeAPI(t, map[string]string{
		"issues": `{"data":{"issues":{"nodes":[{
			"id":"i1","identifier":"ENG-1","title":"Fix login",
			"priority":2,"url":"https://linear.app/i/ENG-1",
			"state":{"name":"In Progress"},
			"assignee":{"name":"Ada"},
			"team":{"key":"ENG"}
		}]}}}`,
	})

	issues, err := c.ListIssues(context.Background(), testCred(), ListIssuesOptions{TeamID: "t1"})
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "ENG-1", issues[0].Identifier)
	assert.Equal(t, "In Progress", issues[0].State)
	assert.Equal(t, "Ada", issues[0].Assignee)
	assert.Equal(t, 2, issues[0].Priority)
}

func TestListIssues_SearchPath(t *testing.T) {
	c := fakeAPI(t, map[string]string{
		"searchIssues": `{"data":{"searchIssues":{"nodes":[{
			"id":"i2","identifier":"ENG-2","title":"Login crash","priority":1,
			"url":"https://linear.app/i/ENG-2"
		}]}}}`,
	})

	issues, err := c.ListIssues(context.Background(), testCred(), ListIssuesOptions{Query: "login"})
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "ENG-2", issues[0].Identifier)
}

func TestGetIssue_NotFound(t *testing.T) {
	c := fakeAPI(t, map[string]string{
		"issue": `{"data":{"issue":null}}`,
	})

	_, err := c.GetIssue(context.Background(), testCred(), "ENG-999")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestCreateIssue(t *testing.T) {
	c := fakeAPI(t, map[string]string{
		"issueCreate": `{"data":{"issueCreate":{"success":true,"issue":{
			"id":"i3","identifier":"ENG-3","title":"New bug",
			"url":"https://linear.app/i/ENG-3","team":{"key":"ENG"}
		}}}}`,
	})

	issue, err := c.CreateIssue(context.Background(), testCred(), CreateIssueInput{
		TeamID: "t1",
		Title:  "New bug",
	})
	require.NoError(t, err)
	assert.Equal(t, "ENG-3", issue.Identifier)
}

func TestCreateIssue_RequiresTeamAndTitle(t *testing.T) {
	c := NewClient(ClientConfig{APIURL: "http://unused", Logger: testLogger()})

	_, err := c.CreateIssue(context.Background(), testCred(), CreateIssueInput{Title: "no team"})
	require.Error(t, err)
	_, err = c.CreateIssue(context.Background(), testCred(), CreateIssueInput{TeamID: "t1"})
	require.Error(t, err)
}

func TestUpdateIssue_FailedMutation(t *testing.T) {
	c := fakeAPI(t, map[string]string{
		"issueUpdate": `{"data":{"issueUpdate":{"success":false}}}`,
	})

	_, err := c.UpdateIssue(context.Background(), testCred(), "i1", UpdateIssueInput{Title: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not successful")
}

func TestUpdateIssue_NoFields(t *testing.T) {
	c := NewClient(ClientConfig{APIURL: "http://unused", Logger: testLogger()})
	_, err := c.UpdateIssue(context.Background(), testCred(), "i1", UpdateIssueInput{})
	require.Error(t, err)
}

func TestAddComment(t *testing.T) {
	c := fakeAPI(t, map[string]string{
		"commentCreate": `{"data":{"commentCreate":{"success":true,"comment":{
			"id":"c1","body":"looks good","url":"https://linear.app/c/c1"
		}}}}`,
	})

	comment, err := c.AddComment(context.Background(), testCred(), "i1", "looks good")
	require.NoError(t, err)
	assert.Equal(t, "c1", comment.ID)
	assert.Equal(t, "looks good", comment.Body)
}
