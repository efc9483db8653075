package analytics

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/nadmax/queuealert/internal/alert"
	"github.com/nadmax/queuealert/internal/httputil"
	"go.uber.org/zap"
)

// LambdaClient executes query lambdas over the analytics store's REST API.
type LambdaClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

type lambdaRequest struct {
	Parameters []any `json:"parameters"`
}

type lambdaResponse struct {
	Results *[]row `json:"results"`
}

func NewLambdaClient(host, apiKey string, client *http.Client, logger *zap.Logger) *LambdaClient {
	base := strings.TrimRight(host, "/")
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}

	if client == nil {
		client = http.DefaultClient
	}

	return &LambdaClient{
		baseURL: base,
		apiKey:  apiKey,
		client:  client,
		logger:  logger,
	}
}

func (c *LambdaClient) QueuedJobs(ctx context.Context, q Query) ([]alert.Measurement, error) {
	endpoint := fmt.Sprintf("%s/v1/orgs/self/ws/%s/lambdas/%s/versions/%s",
		c.baseURL, url.PathEscape(q.Workspace), url.PathEscape(q.Name), url.PathEscape(q.Version))

	header := http.Header{}
	header.Set("Authorization", "ApiKey "+c.apiKey)

	c.logger.Debug("executing query lambda", zap.Stringer("query", q))

	var resp lambdaResponse
	if err := httputil.DoJSON(ctx, c.client, http.MethodPost, endpoint, header, lambdaRequest{Parameters: []any{}}, &resp); err != nil {
		return nil, alert.NewFetchError("query lambda "+q.String(), err)
	}

	if resp.Results == nil {
		return nil, alert.NewFetchError("query lambda "+q.String(), fmt.Errorf("response has no results"))
	}

	measurements := make([]alert.Measurement, 0, len(*resp.Results))
	for i, r := range *resp.Results {
		m, err := r.measurement()
		if err != nil {
			return nil, alert.NewFetchError("query lambda "+q.String(), fmt.Errorf("result %d: %w", i, err))
		}
		measurements = append(measurements, m)
	}

	return measurements, nil
}
