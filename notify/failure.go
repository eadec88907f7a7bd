package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/etlpulse/am"
	"github.com/teranos/etlpulse/logger"
	"github.com/teranos/etlpulse/pulse/async"
	"github.com/teranos/etlpulse/telemetry"
)

// Notification results recorded in telemetry.Notifications
const (
	ResultSent      = "sent"
	ResultFailed    = "failed"
	ResultSkipped   = "skipped"
	ResultThrottled = "throttled"
)

// ScheduleNames resolves a schedule id to its name
type ScheduleNames interface {
	Name(ctx context.Context, id int64) (string, error)
}

// FailureNotifier tells the configured failure integration about failed
// jobs. It implements async.FailureReporter.
type FailureNotifier struct {
	integrations *IntegrationStore
	schedules    ScheduleNames
	logger       *zap.SugaredLogger

	mu       sync.RWMutex
	notifier Notifier
	cfg      am.NotifyConfig
	limiter  *rate.Limiter
}

// NewFailureNotifier creates a failure notifier. cfg.MaxPerMinute of 0
// disables throttling.
func NewFailureNotifier(integrations *IntegrationStore, schedules ScheduleNames, notifier Notifier, cfg am.NotifyConfig, log *zap.SugaredLogger) *FailureNotifier {
	n := &FailureNotifier{
		integrations: integrations,
		schedules:    schedules,
		logger:       log.Named("failure-notifier"),
	}
	n.Reload(cfg, notifier)
	return n
}

// Reload swaps the notification settings and the notifier of a running
// FailureNotifier. Notifications already in flight finish with the old ones.
func (n *FailureNotifier) Reload(cfg am.NotifyConfig, notifier Notifier) {
	limit := rate.Inf
	burst := 1
	if cfg.MaxPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.MaxPerMinute))
		burst = cfg.MaxPerMinute
	}
	if cfg.IntegrationName == "" {
		cfg.IntegrationName = am.DefaultIntegrationName
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.cfg = cfg
	n.notifier = notifier
	n.limiter = rate.NewLimiter(limit, burst)
}

func (n *FailureNotifier) settings() (am.NotifyConfig, Notifier, *rate.Limiter) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.cfg, n.notifier, n.limiter
}

// ReportFailure implements async.FailureReporter
func (n *FailureNotifier) ReportFailure(ctx context.Context, job *async.Job) {
	n.Notify(ctx, job)
}

// Notify sends the failure notification for job and returns the result
func (n *FailureNotifier) Notify(ctx context.Context, job *async.Job) string {
	result := n.notify(ctx, job)
	telemetry.Notifications.WithLabelValues(result).Inc()
	return result
}

func (n *FailureNotifier) notify(ctx context.Context, job *async.Job) string {
	log := logger.ChildLogger(n.logger, logger.FieldJobID, job.ID)
	cfg, notifier, limiter := n.settings()

	found, err := n.integrations.Select(ctx, IntegrationFilter{Name: cfg.IntegrationName, Type: TypeEmail})
	if err != nil {
		log.Errorw("Failed to look up failure integration", logger.FieldError, err)
		return ResultFailed
	}
	if len(found) != 1 {
		log.Warnw("Failure notification not sent: expected exactly one integration",
			"integration_name", cfg.IntegrationName,
			logger.FieldCount, len(found))
		return ResultSkipped
	}
	integration := found[0]

	if !limiter.Allow() {
		log.Warnw("Failure notification dropped by rate limit",
			"max_per_minute", cfg.MaxPerMinute)
		return ResultThrottled
	}

	subject := n.subject(ctx, cfg, integration, job)
	if err := notifier.Send(ctx, integration.ID, subject, n.body(job)); err != nil {
		log.Errorw("Failed to send failure notification",
			logger.FieldIntegration, integration.ID,
			logger.FieldSubject, subject,
			logger.FieldError, err)
		return ResultFailed
	}

	log.Infow("Failure notification sent",
		logger.FieldIntegration, integration.ID,
		logger.FieldSubject, subject)
	return ResultSent
}

func (n *FailureNotifier) subject(ctx context.Context, cfg am.NotifyConfig, integration *Integration, job *async.Job) string {
	customer := integration.DisplayName
	if customer == "" {
		customer = cfg.CustomerName
	}

	if job.ScheduleID == nil {
		return fmt.Sprintf("[%s] Job %d failed", customer, job.ID)
	}

	name, err := n.schedules.Name(ctx, *job.ScheduleID)
	if err != nil {
		n.logger.Warnw("Failed to resolve schedule name",
			logger.FieldScheduleID, *job.ScheduleID,
			logger.FieldError, err)
		name = fmt.Sprintf("#%d", *job.ScheduleID)
	}
	return fmt.Sprintf("[%s] Schedule \"%s\" failed at job %d", customer, name, job.ID)
}

func (n *FailureNotifier) body(job *async.Job) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Job %d finished with status %s.\n\n", job.ID, job.Status)
	if job.ScheduleID != nil {
		fmt.Fprintf(&b, "Schedule: %d\n", *job.ScheduleID)
	}
	fmt.Fprintf(&b, "Worker:   %s\n", job.WorkerID)
	fmt.Fprintf(&b, "Started:  %s\n", job.StartTime.UTC().Format(time.RFC3339))
	if job.EndTime != nil {
		fmt.Fprintf(&b, "Ended:    %s\n", job.EndTime.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "\nThe job output is stored in table job_logs with id %d.\n", job.LogID)
	fmt.Fprintf(&b, "View it with: etlpulse job log %d\n", job.ID)
	return b.String()
}
