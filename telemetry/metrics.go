// Package telemetry holds the Prometheus collectors for the scheduler and the
// job pipeline.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SchedulerTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "etlpulse_scheduler_ticks_total",
		Help: "Scheduler ticks evaluated",
	})

	SchedulerTicksSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "etlpulse_scheduler_ticks_skipped_total",
		Help: "Scheduler ticks skipped because another replica holds the tick lease",
	})

	SchedulesFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "etlpulse_schedules_fired_total",
		Help: "Schedules that produced a job",
	}, []string{"trigger"}) // cron, run_now

	ClaimsLost = promauto.NewCounter(prometheus.CounterOpts{
		Name: "etlpulse_schedule_claims_lost_total",
		Help: "Due schedules skipped because the running flag was already taken",
	})

	CronErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "etlpulse_cron_errors_total",
		Help: "Schedules skipped because their cron expression did not parse",
	})

	JobsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "etlpulse_jobs_created_total",
		Help: "Jobs admitted by the queue",
	})

	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "etlpulse_jobs_finished_total",
		Help: "Jobs that reached a terminal status",
	}, []string{"status"})

	JobsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "etlpulse_jobs_inflight",
		Help: "Jobs currently executing on this process",
	})

	DispatchQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "etlpulse_dispatch_queue_depth",
		Help: "Admitted jobs waiting for a worker",
	})

	JobLogLines = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "etlpulse_job_log_lines",
		Help:    "Lines captured per job log",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "etlpulse_notifications_total",
		Help: "Failure notifications by outcome",
	}, []string{"result"}) // sent, failed, skipped, throttled
)

// Handler exposes the default registry for /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}
