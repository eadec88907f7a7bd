package commands

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teranos/etlpulse/am"
	"github.com/teranos/etlpulse/errors"
	"github.com/teranos/etlpulse/lease"
	"github.com/teranos/etlpulse/logger"
	"github.com/teranos/etlpulse/notify"
	"github.com/teranos/etlpulse/pulse/async"
	"github.com/teranos/etlpulse/pulse/schedule"
	"github.com/teranos/etlpulse/server"
	"github.com/teranos/etlpulse/sym"
)

// PulseCmd groups the daemon commands
var PulseCmd = &cobra.Command{
	Use:   "pulse",
	Short: sym.Pulse + " Run the Pulse scheduler daemon",
	Long: sym.Pulse + ` Pulse daemon - recurring job scheduler.

The daemon:
- ticks periodically and fires due schedules owned by this worker id
- runs admitted jobs on a bounded worker pool, highest priority first
- captures job output into the job log
- records schedule run history
- emails the failure integration when a job fails
- shuts down gracefully on SIGINT/SIGTERM

Example:
  etlpulse pulse start              # Start daemon in foreground
  etlpulse pulse start --workers 4  # Start with 4 concurrent workers`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// PulseStartCmd starts the daemon in the foreground
var PulseStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Pulse daemon",
	RunE:  runPulseStart,
}

func init() {
	PulseStartCmd.Flags().Int("workers", 0, "Number of concurrent workers (overrides pulse.workers)")
	PulseStartCmd.Flags().String("checkpoint-dir", "", "Directory for pause checkpoints (default: next to the database)")
	PulseCmd.AddCommand(PulseStartCmd)
}

// daemon holds every component of a running pulse process
type daemon struct {
	scheduler  *schedule.Scheduler
	dispatcher *async.Dispatcher
	queue      *async.Queue
	joblog     *async.JobLog
	server     *server.Server
	closers    []func() error

	cfg          *am.Config
	failures     *notify.FailureNotifier
	integrations *notify.IntegrationStore
	logger       *zap.SugaredLogger
}

func newDaemon(cfg *am.Config, database *sql.DB, workers int, checkpointDir string, log *zap.SugaredLogger) (*daemon, error) {
	queue := async.NewQueue(database, cfg.Pulse.WorkerID, log)
	scheduleStore := schedule.NewStore(database)
	history := schedule.NewHistory(database)
	integrations := notify.NewIntegrationStore(database)

	notifier := notify.NewNotifier(cfg.Notify, integrations, log)
	failures := notify.NewFailureNotifier(integrations, scheduleStore, notifier, cfg.Notify, log)

	joblog := async.NewJobLog(async.NewLogStore(database), queue, log,
		async.WithFailureReporter(failures),
		async.WithMaxLines(cfg.Pulse.JobLogMaxLines))
	runner := async.NewShellRunner(queue, checkpointDir, log)
	dispatcher := async.NewDispatcher(queue, runner, joblog, workers, log)

	d := &daemon{
		dispatcher:   dispatcher,
		queue:        queue,
		joblog:       joblog,
		cfg:          cfg,
		failures:     failures,
		integrations: integrations,
		logger:       log,
	}

	locker, err := d.newLocker(cfg.Lease)
	if err != nil {
		return nil, err
	}

	d.scheduler = schedule.NewScheduler(scheduleStore, history, queue, dispatcher, locker, schedule.Config{
		WorkerID:       cfg.Pulse.WorkerID,
		Interval:       cfg.Pulse.TickerInterval(),
		RunNowPriority: cfg.Pulse.RunNowPriority,
		LeaseTTL:       cfg.Lease.LeaseTTL(),
	}, log)

	if cfg.Server.Addr != "" {
		d.server = server.New(d.scheduler, history, queue, joblog, log)
	}
	return d, nil
}

// watchConfig reloads notification settings when a config file changes.
// Other sections are read once at start.
func (d *daemon) watchConfig(files []string, load func() (*am.Config, error)) error {
	if len(files) == 0 {
		return nil
	}
	watcher, err := am.NewConfigWatcher(files, load, d.logger)
	if err != nil {
		return err
	}
	watcher.OnReload(d.applyConfig)
	watcher.Start()
	d.closers = append(d.closers, watcher.Stop)
	return nil
}

// applyConfig applies the reloadable part of cfg to the running daemon
func (d *daemon) applyConfig(cfg *am.Config) error {
	d.failures.Reload(cfg.Notify, notify.NewNotifier(cfg.Notify, d.integrations, d.logger))
	logger.PulseInfow(d.logger, "Notification settings reloaded",
		"integration_name", cfg.Notify.IntegrationName,
		"max_per_minute", cfg.Notify.MaxPerMinute,
		"smtp", cfg.Notify.SMTP.Host != "")

	if cfg.Database != d.cfg.Database || cfg.Pulse != d.cfg.Pulse ||
		cfg.Lease != d.cfg.Lease || cfg.Server != d.cfg.Server {
		d.logger.Warnw("Config changes outside [notify] take effect after a restart")
	}
	return nil
}

func (d *daemon) newLocker(cfg am.LeaseConfig) (lease.Locker, error) {
	switch cfg.Backend {
	case am.LeaseBackendLocal:
		return lease.NewLocal(), nil
	case am.LeaseBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, errors.Wrapf(err, "failed to reach redis at %s", cfg.RedisAddr)
		}
		d.closers = append(d.closers, client.Close)
		return lease.NewRedis(client), nil
	default:
		return nil, nil
	}
}

func runPulseStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	workers, _ := cmd.Flags().GetInt("workers")
	if workers <= 0 {
		workers = cfg.Pulse.Workers
	}

	database, err := openDatabase(cmd, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	checkpointDir, _ := cmd.Flags().GetString("checkpoint-dir")
	if checkpointDir == "" {
		checkpointDir = filepath.Join(filepath.Dir(cfg.GetDatabasePath()), "checkpoints")
	}
	if err := os.MkdirAll(checkpointDir, am.DefaultDirPermissions); err != nil {
		return errors.Wrapf(err, "failed to create checkpoint directory %s", checkpointDir)
	}

	log := logger.Logger
	d, err := newDaemon(cfg, database, workers, checkpointDir, log)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	// The scheduler is registered as a completion listener, so reconciling
	// interrupted jobs also releases their schedules and records history.
	reconciled, err := d.queue.Initialize(ctx)
	if err != nil {
		return err
	}
	if err := d.scheduler.Initialize(ctx); err != nil {
		return err
	}

	d.dispatcher.Start()
	d.scheduler.Start()

	if err := d.watchConfig(am.ConfigFiles(), am.Reload); err != nil {
		log.Warnw("Config hot reload disabled", logger.FieldError, err)
	}

	serverErr := make(chan error, 1)
	if d.server != nil {
		go func() { serverErr <- d.server.Start(cfg.Server.Addr) }()
	}

	fmt.Printf("%s Pulse daemon started\n", sym.Pulse)
	fmt.Printf("  Worker ID: %s\n", cfg.Pulse.WorkerID)
	fmt.Printf("  Workers: %d\n", workers)
	fmt.Printf("  Tick interval: %v\n", cfg.Pulse.TickerInterval())
	fmt.Printf("  Lease: %s\n", cfg.Lease.Backend)
	if reconciled > 0 {
		fmt.Printf("  Interrupted jobs marked failed: %d\n", reconciled)
	}
	if d.server != nil {
		fmt.Printf("  Ops server: %s\n", cfg.Server.Addr)
	}
	fmt.Printf("\n%s Press Ctrl+C for graceful shutdown\n\n", sym.Pulse)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-sigChan:
	case err := <-serverErr:
		if err != nil {
			log.Errorw("Ops server failed, shutting down", logger.FieldError, err)
		}
	}

	fmt.Printf("\n%s Initiating GRACE shutdown...\n", sym.PulseClose)
	d.shutdown(log)
	fmt.Printf("%s Pulse daemon stopped\n", sym.PulseClose)
	return nil
}

// shutdown stops components in reverse order of startup
func (d *daemon) shutdown(log *zap.SugaredLogger) {
	d.scheduler.Stop()
	d.dispatcher.Stop(async.DefaultStopTimeout)
	d.joblog.Wait()
	if d.server != nil {
		if err := d.server.Stop(5 * time.Second); err != nil {
			log.Warnw("Ops server did not stop cleanly", logger.FieldError, err)
		}
	}
	for _, closeFn := range d.closers {
		if err := closeFn(); err != nil {
			log.Warnw("Close failed", logger.FieldError, err)
		}
	}
}
