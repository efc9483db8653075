// Package analytics reads per-machine-type queue measurements from the
// analytics store. The store is addressed by a named, versioned query; the
// version is pinned in a local manifest.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/nadmax/queuealert/internal/alert"
)

const (
	BackendLambda   = "lambda"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type Query struct {
	Workspace string
	Name      string
	Version   string
}

func (q Query) String() string {
	return fmt.Sprintf("%s.%s@%s", q.Workspace, q.Name, q.Version)
}

type Source interface {
	QueuedJobs(ctx context.Context, q Query) ([]alert.Measurement, error)
}

// row is the wire shape shared by every backend.
type row struct {
	AvgQueueSeconds *float64 `json:"avg_queue_s"`
	Count           *int     `json:"count"`
	MachineType     *string  `json:"machine_type"`
}

func (r row) measurement() (alert.Measurement, error) {
	if r.MachineType == nil || r.Count == nil || r.AvgQueueSeconds == nil {
		return alert.Measurement{}, fmt.Errorf("row is missing avg_queue_s, count or machine_type")
	}

	return alert.Measurement{
		MachineType:     *r.MachineType,
		Count:           *r.Count,
		AvgQueueSeconds: *r.AvgQueueSeconds,
	}, nil
}

// Manifest maps workspace -> query name -> version.
type Manifest map[string]map[string]string

func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, alert.NewConfigError(path, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, alert.NewConfigError(path, fmt.Errorf("failed to parse version manifest: %w", err))
	}

	return m, nil
}

func (m Manifest) Version(workspace, name string) (string, error) {
	version, ok := m[workspace][name]
	if !ok || version == "" {
		return "", alert.NewConfigError(workspace+"."+name, fmt.Errorf("no version pinned in manifest"))
	}

	return version, nil
}

// Query resolves the pinned version of workspace.name.
func (m Manifest) Query(workspace, name string) (Query, error) {
	version, err := m.Version(workspace, name)
	if err != nil {
		return Query{}, err
	}

	return Query{Workspace: workspace, Name: name, Version: version}, nil
}
