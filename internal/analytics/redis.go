package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/nadmax/queuealert/internal/alert"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	tasksKey     = "tasks"
	taskQueueKey = "task_queue"

	statusPending = "pending"
)

// RedisSource measures a live task queue: every member of the task_queue
// sorted set whose JSON record in the tasks hash is still pending counts as
// one queued job of its type.
type RedisSource struct {
	client *redis.Client
	logger *zap.Logger
	now    func() time.Time
}

type queuedTask struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

func NewRedisSource(redisAddr string, logger *zap.Logger) (*RedisSource, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisSource{
		client: client,
		logger: logger,
		now:    time.Now,
	}, nil
}

func (s *RedisSource) QueuedJobs(ctx context.Context, q Query) ([]alert.Measurement, error) {
	s.logger.Debug("redis backend ignores query version", zap.Stringer("query", q))

	ids, err := s.client.ZRange(ctx, taskQueueKey, 0, -1).Result()
	if err != nil {
		return nil, alert.NewFetchError("redis queue", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	values, err := s.client.HMGet(ctx, tasksKey, ids...).Result()
	if err != nil {
		return nil, alert.NewFetchError("redis tasks", err)
	}

	type aggregate struct {
		count   int
		waitSum float64
	}
	byType := make(map[string]*aggregate)
	now := s.now()

	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			s.logger.Debug("queued task has no record", zap.String("task_id", ids[i]))
			continue
		}

		var t queuedTask
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			s.logger.Warn("skipping malformed task", zap.String("task_id", ids[i]), zap.Error(err))
			continue
		}
		if t.Status != "" && t.Status != statusPending {
			continue
		}

		agg, ok := byType[t.Type]
		if !ok {
			agg = &aggregate{}
			byType[t.Type] = agg
		}
		agg.count++
		if wait := now.Sub(t.CreatedAt); wait > 0 {
			agg.waitSum += wait.Seconds()
		}
	}

	measurements := make([]alert.Measurement, 0, len(byType))
	for taskType, agg := range byType {
		measurements = append(measurements, alert.Measurement{
			MachineType:     taskType,
			Count:           agg.count,
			AvgQueueSeconds: agg.waitSum / float64(agg.count),
		})
	}
	slices.SortFunc(measurements, func(a, b alert.Measurement) int {
		return strings.Compare(a.MachineType, b.MachineType)
	})

	return measurements, nil
}

func (s *RedisSource) Close() error {
	return s.client.Close()
}
