// Package middleware provides HTTP client middleware for metrics collection.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nadmax/queuealert/internal/metrics"
)

var recordHTTPRequest = metrics.RecordHTTPRequest

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

// MetricsTransport records every request sent through next under the
// given service label. A nil next means http.DefaultTransport.
func MetricsTransport(service string, next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}

	return roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		start := time.Now()
		resp, err := next.RoundTrip(r)
		duration := time.Since(start)

		status := "error"
		if err == nil {
			status = strconv.Itoa(resp.StatusCode)
		}

		recordHTTPRequest(service, r.Method, normalizeEndpoint(r.URL.Path), status, duration)
		return resp, err
	})
}

// InstrumentedClient returns a client with the given timeout whose
// requests are recorded under service.
func InstrumentedClient(service string, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: MetricsTransport(service, nil),
	}
}

func normalizeEndpoint(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")

	switch {
	case len(parts) >= 4 && parts[0] == "repos" && parts[3] == "issues":
		switch len(parts) {
		case 4:
			return "/repos/:owner/:repo/issues"
		case 5:
			return "/repos/:owner/:repo/issues/:number"
		case 6:
			if parts[5] == "comments" {
				return "/repos/:owner/:repo/issues/:number/comments"
			}
		}
		return path
	case len(parts) == 9 && parts[0] == "v1" && parts[3] == "ws" && parts[5] == "lambdas" && parts[7] == "versions":
		return "/v1/orgs/:org/ws/:workspace/lambdas/:name/versions/:version"
	default:
		return path
	}
}
