package analytics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/nadmax/queuealert/internal/alert"
	"go.uber.org/zap"
)

// PostgresSource runs versioned queries stored in the query_lambdas table.
type PostgresSource struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresSource(connectionString string, logger *zap.Logger) (*PostgresSource, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresSource{db: db, logger: logger}, nil
}

func (s *PostgresSource) QueuedJobs(ctx context.Context, q Query) ([]alert.Measurement, error) {
	op := "postgres query " + q.String()

	sqlText, err := s.lookup(ctx, q)
	if err != nil {
		return nil, alert.NewFetchError(op, err)
	}

	query := `
		SELECT machine_type, count, avg_queue_s
		FROM (` + sqlText + `) AS queued
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, alert.NewFetchError(op, err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.Warn("failed to close rows", zap.Error(err))
		}
	}()

	var measurements []alert.Measurement
	for i := 0; rows.Next(); i++ {
		var machineType sql.NullString
		var count sql.NullInt64
		var avgQueue sql.NullFloat64

		if err := rows.Scan(&machineType, &count, &avgQueue); err != nil {
			return nil, alert.NewFetchError(op, err)
		}

		var r row
		if machineType.Valid {
			r.MachineType = &machineType.String
		}
		if count.Valid {
			n := int(count.Int64)
			r.Count = &n
		}
		if avgQueue.Valid {
			r.AvgQueueSeconds = &avgQueue.Float64
		}

		m, err := r.measurement()
		if err != nil {
			return nil, alert.NewFetchError(op, fmt.Errorf("row %d: %w", i, err))
		}
		measurements = append(measurements, m)
	}

	if err := rows.Err(); err != nil {
		return nil, alert.NewFetchError(op, err)
	}

	return measurements, nil
}

func (s *PostgresSource) lookup(ctx context.Context, q Query) (string, error) {
	query := `
		SELECT sql_text
		FROM query_lambdas
		WHERE workspace = $1 AND name = $2 AND version = $3
	`

	var sqlText string
	err := s.db.QueryRowContext(ctx, query, q.Workspace, q.Name, q.Version).Scan(&sqlText)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("query lambda %s not found", q)
	}
	if err != nil {
		return "", fmt.Errorf("failed to load query lambda: %w", err)
	}

	return sqlText, nil
}

func (s *PostgresSource) Close() error {
	return s.db.Close()
}
