package github

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/nadmax/queuealert/internal/alert"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   map[string]any
}

type fakeGitHub struct {
	mu       sync.Mutex
	requests []recordedRequest
	graphql  string
	status   int
}

func (f *fakeGitHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(data, &body)
	f.requests = append(f.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Body: body})

	if r.Header.Get("Authorization") != "token secret" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if f.status != 0 {
		w.WriteHeader(f.status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/graphql":
		_, _ = w.Write([]byte(f.graphql))
	case r.Method == http.MethodPost && r.URL.Path == "/repos/pytorch/test-infra/issues":
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"number": 101}`))
	default:
		_, _ = w.Write([]byte(`{}`))
	}
}

func (f *fakeGitHub) Requests() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func setupTestClient(t *testing.T, fake *fakeGitHub) (*Client, *httptest.Server) {
	srv := httptest.NewServer(fake)

	c := NewClient(Options{
		Token:      "secret",
		Owner:      "pytorch",
		Repo:       "test-infra",
		APIURL:     srv.URL,
		GraphQLURL: srv.URL + "/graphql",
		HTTPClient: srv.Client(),
	}, zaptest.NewLogger(t))

	return c, srv
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(Options{Token: "secret", Owner: "o", Repo: "r"}, zaptest.NewLogger(t))

	assert.Equal(t, DefaultAPIURL, c.apiURL)
	assert.Equal(t, DefaultGraphQLURL, c.graphqlURL)
	assert.Equal(t, http.DefaultClient, c.http)
	assert.Equal(t, "https://api.github.com/repos/o/r/issues", c.issuesURL())
}

func TestFetchAlert(t *testing.T) {
	fake := &fakeGitHub{graphql: `{"data": {"repository": {"issues": {"nodes": [
		{"number": 12, "body": "- a, 60 machines, 0.0 hours", "state": "OPEN"},
		{"number": 9, "body": "", "state": "CLOSED"}
	]}}}}`}
	c, srv := setupTestClient(t, fake)
	defer srv.Close()

	issues, err := c.FetchAlert(context.Background(), "queue-alert")
	require.NoError(t, err)

	assert.Equal(t, []alert.TrackingIssue{
		{Number: 12, Body: "- a, 60 machines, 0.0 hours", State: alert.StateOpen},
		{Number: 9, Body: "", State: alert.StateClosed},
	}, issues)

	reqs := fake.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPost, reqs[0].Method)
	assert.Contains(t, reqs[0].Body["query"], "issues(last: 10, labels: $labels)")
	assert.Equal(t, map[string]any{
		"owner":  "pytorch",
		"name":   "test-infra",
		"labels": []any{"queue-alert"},
	}, reqs[0].Body["variables"])
}

func TestFetchAlert_NoIssues(t *testing.T) {
	fake := &fakeGitHub{graphql: `{"data": {"repository": {"issues": {"nodes": []}}}}`}
	c, srv := setupTestClient(t, fake)
	defer srv.Close()

	issues, err := c.FetchAlert(context.Background(), "queue-alert")
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestFetchAlert_Failures(t *testing.T) {
	tests := []struct {
		name    string
		graphql string
		status  int
	}{
		{name: "server error", status: http.StatusBadGateway},
		{name: "invalid json", graphql: `{"data": `},
		{name: "graphql errors", graphql: `{"errors": [{"message": "Could not resolve to a Repository"}]}`},
		{name: "missing repository", graphql: `{"data": {"repository": null}}`},
		{name: "missing nodes", graphql: `{"data": {"repository": {"issues": {}}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, srv := setupTestClient(t, &fakeGitHub{graphql: tt.graphql, status: tt.status})
			defer srv.Close()

			_, err := c.FetchAlert(context.Background(), "queue-alert")

			var fetchErr *alert.FetchError
			assert.True(t, errors.As(err, &fetchErr), "got %v", err)
		})
	}
}

func TestCreateIssue(t *testing.T) {
	fake := &fakeGitHub{}
	c, srv := setupTestClient(t, fake)
	defer srv.Close()

	draft := alert.BuildIssue(nil, alert.IssueOptions{Label: "queue-alert"})
	issue, err := c.CreateIssue(context.Background(), draft, false)
	require.NoError(t, err)

	assert.Equal(t, alert.TrackingIssue{Number: 101, Body: draft.Body, State: alert.StateOpen}, issue)

	reqs := fake.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/repos/pytorch/test-infra/issues", reqs[0].Path)
	assert.Equal(t, draft.Title, reqs[0].Body["title"])
	assert.Equal(t, []any{"queue-alert"}, reqs[0].Body["labels"])
	assert.Equal(t, "open", reqs[0].Body["state"])
}

func TestCreateIssue_DryRun(t *testing.T) {
	fake := &fakeGitHub{}
	c, srv := setupTestClient(t, fake)
	defer srv.Close()

	draft := alert.BuildIssue(nil, alert.IssueOptions{})
	issue, err := c.CreateIssue(context.Background(), draft, true)
	require.NoError(t, err)

	assert.Equal(t, alert.TrackingIssue{Body: draft.Body, State: alert.StateOpen}, issue)
	assert.Empty(t, fake.Requests())
}

func TestUpdateIssue(t *testing.T) {
	fake := &fakeGitHub{}
	c, srv := setupTestClient(t, fake)
	defer srv.Close()

	draft := alert.BuildIssue([]alert.QueueInfo{{Machine: "a", Count: 60}}, alert.IssueOptions{})
	err := c.UpdateIssue(context.Background(), draft, alert.TrackingIssue{Number: 12, State: alert.StateOpen}, "These machines started queueing:\n", false)
	require.NoError(t, err)

	reqs := fake.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, http.MethodPatch, reqs[0].Method)
	assert.Equal(t, "/repos/pytorch/test-infra/issues/12", reqs[0].Path)
	assert.Equal(t, draft.Body, reqs[0].Body["body"])
	assert.Equal(t, http.MethodPost, reqs[1].Method)
	assert.Equal(t, "/repos/pytorch/test-infra/issues/12/comments", reqs[1].Path)
	assert.Equal(t, "These machines started queueing:\n", reqs[1].Body["body"])
}

func TestUpdateIssue_Failure(t *testing.T) {
	c, srv := setupTestClient(t, &fakeGitHub{status: http.StatusForbidden})
	defer srv.Close()

	err := c.UpdateIssue(context.Background(), alert.IssueDraft{}, alert.TrackingIssue{Number: 3}, "c", false)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to update issue #3")
}

func TestUpdateIssue_DryRun(t *testing.T) {
	fake := &fakeGitHub{}
	c, srv := setupTestClient(t, fake)
	defer srv.Close()

	err := c.UpdateIssue(context.Background(), alert.IssueDraft{}, alert.TrackingIssue{Number: 3}, "c", true)
	assert.NoError(t, err)
	assert.Empty(t, fake.Requests())
}

func TestClearAlerts(t *testing.T) {
	issues := []alert.TrackingIssue{
		{Number: 1, State: alert.StateOpen},
		{Number: 2, State: alert.StateClosed},
		{Number: 3, State: alert.StateOpen},
	}

	t.Run("closes only open issues", func(t *testing.T) {
		fake := &fakeGitHub{}
		c, srv := setupTestClient(t, fake)
		defer srv.Close()

		cleared, err := c.ClearAlerts(context.Background(), issues, false)
		require.NoError(t, err)
		assert.Equal(t, 2, cleared)

		reqs := fake.Requests()
		require.Len(t, reqs, 2)
		assert.Equal(t, "/repos/pytorch/test-infra/issues/1", reqs[0].Path)
		assert.Equal(t, "/repos/pytorch/test-infra/issues/3", reqs[1].Path)
		assert.Equal(t, "closed", reqs[1].Body["state"])
	})

	t.Run("dry run", func(t *testing.T) {
		fake := &fakeGitHub{}
		c, srv := setupTestClient(t, fake)
		defer srv.Close()

		cleared, err := c.ClearAlerts(context.Background(), issues, true)
		require.NoError(t, err)
		assert.Equal(t, 2, cleared)
		assert.Empty(t, fake.Requests())
	})

	t.Run("nothing open", func(t *testing.T) {
		fake := &fakeGitHub{}
		c, srv := setupTestClient(t, fake)
		defer srv.Close()

		cleared, err := c.ClearAlerts(context.Background(), []alert.TrackingIssue{{Number: 2, State: alert.StateClosed}}, false)
		require.NoError(t, err)
		assert.Zero(t, cleared)
		assert.Empty(t, fake.Requests())
	})

	t.Run("failure", func(t *testing.T) {
		c, srv := setupTestClient(t, &fakeGitHub{status: http.StatusInternalServerError})
		defer srv.Close()

		cleared, err := c.ClearAlerts(context.Background(), issues, false)
		assert.Error(t, err)
		assert.Zero(t, cleared)
	})
}
