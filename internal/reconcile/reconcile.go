// Package reconcile decides what the queue alert tracking issue should look
// like and asks the issue tracker to make it so.
package reconcile

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/nadmax/queuealert/internal/alert"
	"github.com/nadmax/queuealert/internal/analytics"
	"github.com/nadmax/queuealert/internal/metrics"
	"github.com/nadmax/queuealert/internal/notify"
	"go.uber.org/zap"
)

// IssueTracker is the issue tracker collaborator. Implementations own the
// dry run contract: when dryRun is set they report the mutation instead of
// performing it.
type IssueTracker interface {
	FetchAlert(ctx context.Context, label string) ([]alert.TrackingIssue, error)
	CreateIssue(ctx context.Context, draft alert.IssueDraft, dryRun bool) (alert.TrackingIssue, error)
	UpdateIssue(ctx context.Context, draft alert.IssueDraft, issue alert.TrackingIssue, comment string, dryRun bool) error
	ClearAlerts(ctx context.Context, issues []alert.TrackingIssue, dryRun bool) (int, error)
}

type Config struct {
	Label       string
	TitlePrefix string
	Policy      alert.Policy
	Query       analytics.Query
}

type Reconciler struct {
	source   analytics.Source
	tracker  IssueTracker
	notifier notify.Notifier
	cfg      Config
	logger   *zap.Logger
}

func New(source analytics.Source, tracker IssueTracker, notifier notify.Notifier, cfg Config, logger *zap.Logger) *Reconciler {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if cfg.Label == "" {
		cfg.Label = alert.DefaultLabel
	}

	return &Reconciler{
		source:   source,
		tracker:  tracker,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run performs one reconciliation. Failures while reading current state
// are returned before any mutation is requested.
func (r *Reconciler) Run(ctx context.Context, dryRun bool) error {
	start := time.Now()
	logger := r.logger.With(zap.String("run_id", uuid.NewString()), zap.Bool("dry_run", dryRun))

	err := r.run(ctx, logger, dryRun)

	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultFailure
	}
	metrics.RecordRun(result, time.Since(start))

	return err
}

func (r *Reconciler) run(ctx context.Context, logger *zap.Logger, dryRun bool) error {
	measurements, err := r.source.QueuedJobs(ctx, r.cfg.Query)
	if err != nil {
		return err
	}
	metrics.UpdateQueueMeasurements(measurements)

	longQueues := alert.FilterLongQueues(measurements, r.cfg.Policy)
	metrics.UpdateAlertingMachines(len(longQueues))
	logger.Info("measured queues",
		zap.Int("machine_types", len(measurements)),
		zap.Int("long_queues", len(longQueues)),
	)

	existing, err := r.tracker.FetchAlert(ctx, r.cfg.Label)
	if err != nil {
		return err
	}

	if len(longQueues) == 0 {
		logger.Info("Closing queuing alert", zap.Int("issues", len(existing)))
		if _, err := r.tracker.ClearAlerts(ctx, existing, dryRun); err != nil {
			return err
		}
		metrics.RecordMutation(metrics.ActionClear, dryRun)
		return nil
	}

	if len(existing) == 0 {
		// Create a blank issue and re-fetch it; the update below then posts
		// the started-queueing comment on it.
		created, err := r.tracker.CreateIssue(ctx, r.buildIssue(nil), dryRun)
		if err != nil {
			return err
		}
		metrics.RecordMutation(metrics.ActionCreate, dryRun)

		existing, err = r.tracker.FetchAlert(ctx, r.cfg.Label)
		if err != nil {
			return err
		}
		if len(existing) == 0 {
			existing = []alert.TrackingIssue{created}
		}
	}

	// Only the first issue is considered; duplicates are not reconciled.
	issue := existing[0]
	if len(existing) > 1 {
		logger.Warn("multiple tracking issues carry the alert label, using the first",
			zap.Int("issue", issue.Number),
			zap.Int("count", len(existing)),
		)
	}

	comment := alert.UpdateComment(issue, longQueues)
	if comment == "" {
		logger.Info("No new change for queuing alert", zap.Int("issue", issue.Number))
		return nil
	}

	if err := r.tracker.UpdateIssue(ctx, r.buildIssue(longQueues), issue, comment, dryRun); err != nil {
		return err
	}
	metrics.RecordMutation(metrics.ActionUpdate, dryRun)

	if err := r.notifier.NotifyNewQueues(ctx, issue, comment, dryRun); err != nil {
		logger.Warn("failed to send queue notification", zap.Error(err))
	} else {
		metrics.RecordMutation(metrics.ActionNotify, dryRun)
	}

	return nil
}

func (r *Reconciler) buildIssue(queues []alert.QueueInfo) alert.IssueDraft {
	return alert.BuildIssue(queues, alert.IssueOptions{
		Label:       r.cfg.Label,
		TitlePrefix: r.cfg.TitlePrefix,
	})
}
