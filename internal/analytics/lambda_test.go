package analytics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nadmax/queuealert/internal/alert"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var testQuery = Query{Workspace: "metrics", Name: "queued_jobs_by_label", Version: "a1b2c3"}

func TestNewLambdaClient_Host(t *testing.T) {
	c := NewLambdaClient("api.usw2a1.rockset.com", "key", nil, zaptest.NewLogger(t))
	assert.Equal(t, "https://api.usw2a1.rockset.com", c.baseURL)
	assert.Equal(t, http.DefaultClient, c.client)

	c = NewLambdaClient("http://localhost:3000/", "key", nil, zaptest.NewLogger(t))
	assert.Equal(t, "http://localhost:3000", c.baseURL)
}

func TestLambdaClient_QueuedJobs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/orgs/self/ws/metrics/lambdas/queued_jobs_by_label/versions/a1b2c3", r.URL.Path)
		assert.Equal(t, "ApiKey secret", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results": [
			{"avg_queue_s": 18000, "count": 5, "machine_type": "linux.2xlarge"},
			{"avg_queue_s": 0, "count": 60, "machine_type": "linux.4xlarge", "extra": true}
		]}`))
	}))
	defer srv.Close()

	c := NewLambdaClient(srv.URL, "secret", srv.Client(), zaptest.NewLogger(t))

	measurements, err := c.QueuedJobs(context.Background(), testQuery)
	require.NoError(t, err)
	assert.Equal(t, []alert.Measurement{
		{MachineType: "linux.2xlarge", Count: 5, AvgQueueSeconds: 18000},
		{MachineType: "linux.4xlarge", Count: 60, AvgQueueSeconds: 0},
	}, measurements)
}

func TestLambdaClient_Failures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		payload string
	}{
		{name: "server error", status: http.StatusInternalServerError, payload: `oops`},
		{name: "invalid json", status: http.StatusOK, payload: `{"results": [`},
		{name: "missing results", status: http.StatusOK, payload: `{"collections": []}`},
		{name: "missing row key", status: http.StatusOK, payload: `{"results": [{"count": 1, "machine_type": "x"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.payload))
			}))
			defer srv.Close()

			c := NewLambdaClient(srv.URL, "secret", srv.Client(), zaptest.NewLogger(t))
			_, err := c.QueuedJobs(context.Background(), testQuery)

			var fetchErr *alert.FetchError
			assert.True(t, errors.As(err, &fetchErr), "got %v", err)
		})
	}
}

func TestLambdaClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewLambdaClient(url, "secret", nil, zaptest.NewLogger(t))
	_, err := c.QueuedJobs(context.Background(), testQuery)

	var fetchErr *alert.FetchError
	assert.True(t, errors.As(err, &fetchErr))
}
