// Package github talks to the GitHub API on behalf of the queue alert:
// the GraphQL API to find tracking issues and the REST API to mutate them.
package github

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/nadmax/queuealert/internal/alert"
	"github.com/nadmax/queuealert/internal/httputil"
	"go.uber.org/zap"
)

const (
	DefaultAPIURL     = "https://api.github.com"
	DefaultGraphQLURL = "https://api.github.com/graphql"
)

const issuesWithLabelQuery = `
query ($owner: String!, $name: String!, $labels: [String!]) {
  repository(owner: $owner, name: $name, followRenames: false) {
    issues(last: 10, labels: $labels) {
      nodes {
        number
        body
        state
      }
    }
  }
}
`

type Options struct {
	Token      string
	Owner      string
	Repo       string
	APIURL     string
	GraphQLURL string
	HTTPClient *http.Client
}

type Client struct {
	token      string
	owner      string
	repo       string
	apiURL     string
	graphqlURL string
	http       *http.Client
	logger     *zap.Logger
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphqlError struct {
	Message string `json:"message"`
}

type issuesResponse struct {
	Data *struct {
		Repository *struct {
			Issues *struct {
				Nodes *[]alert.TrackingIssue `json:"nodes"`
			} `json:"issues"`
		} `json:"repository"`
	} `json:"data"`
	Errors []graphqlError `json:"errors"`
}

func NewClient(opts Options, logger *zap.Logger) *Client {
	c := &Client{
		token:      opts.Token,
		owner:      opts.Owner,
		repo:       opts.Repo,
		apiURL:     strings.TrimRight(opts.APIURL, "/"),
		graphqlURL: opts.GraphQLURL,
		http:       opts.HTTPClient,
		logger:     logger,
	}

	if c.apiURL == "" {
		c.apiURL = DefaultAPIURL
	}
	if c.graphqlURL == "" {
		c.graphqlURL = DefaultGraphQLURL
	}
	if c.http == nil {
		c.http = http.DefaultClient
	}

	return c
}

func (c *Client) header() http.Header {
	h := http.Header{}
	h.Set("Authorization", "token "+c.token)
	return h
}

func (c *Client) issuesURL() string {
	return fmt.Sprintf("%s/repos/%s/%s/issues", c.apiURL, c.owner, c.repo)
}

// FetchAlert returns the most recent issues in the repository carrying
// label. Any failure, including an unexpected response shape, is a
// FetchError.
func (c *Client) FetchAlert(ctx context.Context, label string) ([]alert.TrackingIssue, error) {
	req := graphqlRequest{
		Query: issuesWithLabelQuery,
		Variables: map[string]any{
			"owner":  c.owner,
			"name":   c.repo,
			"labels": []string{label},
		},
	}

	var resp issuesResponse
	if err := httputil.DoJSON(ctx, c.http, http.MethodPost, c.graphqlURL, c.header(), req, &resp); err != nil {
		return nil, alert.NewFetchError("alerts", err)
	}

	if len(resp.Errors) > 0 {
		return nil, alert.NewFetchError("alerts", fmt.Errorf("graphql: %s", resp.Errors[0].Message))
	}

	if resp.Data == nil || resp.Data.Repository == nil || resp.Data.Repository.Issues == nil || resp.Data.Repository.Issues.Nodes == nil {
		return nil, alert.NewFetchError("alerts", fmt.Errorf("response is missing data.repository.issues.nodes"))
	}

	return *resp.Data.Repository.Issues.Nodes, nil
}

// CreateIssue opens a new issue from draft. In a dry run nothing is sent
// and a placeholder open issue carrying the draft body is returned.
func (c *Client) CreateIssue(ctx context.Context, draft alert.IssueDraft, dryRun bool) (alert.TrackingIssue, error) {
	c.logger.Info("creating issue",
		zap.String("title", draft.Title),
		zap.String("body", draft.Body),
		zap.Strings("labels", draft.Labels),
	)

	created := alert.TrackingIssue{Body: draft.Body, State: alert.StateOpen}
	if dryRun {
		c.logger.Info("NOTE: Dry run activated, not doing any real work")
		return created, nil
	}

	var resp struct {
		Number int `json:"number"`
	}
	if err := httputil.DoJSON(ctx, c.http, http.MethodPost, c.issuesURL(), c.header(), draft, &resp); err != nil {
		return alert.TrackingIssue{}, fmt.Errorf("failed to create issue: %w", err)
	}

	created.Number = resp.Number
	return created, nil
}

// UpdateIssue replaces the issue content with draft and posts comment.
func (c *Client) UpdateIssue(ctx context.Context, draft alert.IssueDraft, issue alert.TrackingIssue, comment string, dryRun bool) error {
	c.logger.Info("updating issue",
		zap.Int("issue", issue.Number),
		zap.String("title", draft.Title),
		zap.String("body", draft.Body),
		zap.String("comment", comment),
	)

	if dryRun {
		c.logger.Info("NOTE: Dry run activated, not doing any real work")
		return nil
	}

	issueURL := fmt.Sprintf("%s/%d", c.issuesURL(), issue.Number)
	if err := httputil.DoJSON(ctx, c.http, http.MethodPatch, issueURL, c.header(), draft, nil); err != nil {
		return fmt.Errorf("failed to update issue #%d: %w", issue.Number, err)
	}

	body := map[string]string{"body": comment}
	if err := httputil.DoJSON(ctx, c.http, http.MethodPost, issueURL+"/comments", c.header(), body, nil); err != nil {
		return fmt.Errorf("failed to comment on issue #%d: %w", issue.Number, err)
	}

	return nil
}

// ClearAlerts closes every open issue in issues and reports how many were
// closed. Closed issues are left alone.
func (c *Client) ClearAlerts(ctx context.Context, issues []alert.TrackingIssue, dryRun bool) (int, error) {
	cleared := 0
	for _, issue := range issues {
		if !issue.IsOpen() {
			continue
		}

		if dryRun {
			c.logger.Info("NOTE: Dry run, not closing issue", zap.Int("issue", issue.Number))
			cleared++
			continue
		}

		issueURL := fmt.Sprintf("%s/%d", c.issuesURL(), issue.Number)
		if err := httputil.DoJSON(ctx, c.http, http.MethodPatch, issueURL, c.header(), map[string]string{"state": "closed"}, nil); err != nil {
			return cleared, fmt.Errorf("failed to close issue #%d: %w", issue.Number, err)
		}
		cleared++
	}

	c.logger.Info("cleared previous alerts", zap.Int("count", cleared), zap.Bool("dry_run", dryRun))
	return cleared, nil
}
