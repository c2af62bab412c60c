// Command worker runs the EstateCRM background job processor: bulk lead
// uploads and assignments, the follow-up reminder scan, notification email
// dispatch, and notification cleanup. It polls the durable job queue with a
// fixed pool of workers and registers the repeating schedules on startup.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"estatecrm/internal/assignment"
	"estatecrm/internal/config"
	"estatecrm/internal/core"
	"estatecrm/internal/db"
	"estatecrm/internal/external"
	"estatecrm/internal/metrics"
	"estatecrm/internal/notifications"
	"estatecrm/internal/notifications/email"
	"estatecrm/internal/queue"
	"estatecrm/internal/scheduler"
	"estatecrm/internal/types"
	"estatecrm/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("failed to load configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	_, logger := core.NewLogger(cfg.LogLevel, cfg.Service+"-worker", cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err.Error())
		os.Exit(1)
	}
	defer pool.Close()

	clock := types.RealClock{}
	recorder := newRecorder(ctx, cfg, logger)

	notificationRepo := db.NewNotificationRepository(pool)
	employeeRepo := db.NewEmployeeRepository(pool)
	leadRepo := db.NewLeadRepository(pool)
	followUpRepo := db.NewFollowUpRepository(pool)
	uploadRepo := db.NewBulkUploadRepository(pool)

	jobQueue := queue.New(pool, clock, logger.With("component", "queue"))

	// The worker has no connected clients, so no realtime pusher.
	notificationSvc := notifications.NewService(notifications.ServiceConfig{
		Store:      notificationRepo,
		Recipients: employeeRepo,
		Enqueuer:   jobQueue,
		Metrics:    recorder,
		Clock:      clock,
		Logger:     logger.With("component", "notifications"),

		EmailScheduleTimeout: cfg.Email.ScheduleTimeout,
	})

	dispatcher := email.NewDispatcher(email.DispatcherConfig{
		Notifications: notificationRepo,
		Recipients:    employeeRepo,
		Provider:      newMailer(cfg, logger),
		FromAddress:   cfg.Email.FromAddress,
		FromName:      cfg.Email.FromName,
		SendTimeout:   cfg.Email.SendTimeout,
		Clock:         clock,
		Logger:        logger.With("component", "email"),
	})

	reminders := scheduler.New(followUpRepo, leadRepo, notificationSvc, clock,
		logger.With("component", "scheduler"))
	engine := assignment.NewEngine(leadRepo, notificationSvc, clock,
		logger.With("component", "assignment"))
	ingester := assignment.NewIngester(uploadRepo, leadRepo, assignment.CSVSource{},
		notificationSvc, clock, logger.With("component", "upload"))
	cleaner := notifications.NewCleaner(notificationRepo, cfg.Cleanup.Retention,
		cfg.Cleanup.ArchiveDir, clock, logger.With("component", "cleanup"))

	harness := worker.NewHarness(worker.HarnessConfig{
		Assigner:  engine,
		Uploader:  ingester,
		Reminders: reminders,
		Email:     dispatcher,
		Cleanup:   cleaner,
		Logger:    logger,
	})

	if err := registerSchedules(ctx, jobQueue, cfg); err != nil {
		logger.Error("failed to register repeating jobs", "error", err.Error())
		os.Exit(1)
	}

	workerPool := queue.NewPool(queue.PoolConfig{
		Queue:        jobQueue,
		Handler:      harness,
		Metrics:      recorder,
		Workers:      cfg.Queue.Workers,
		PollInterval: cfg.Queue.PollInterval,
		Logger:       logger.With("component", "worker"),
	})

	if err := workerPool.Run(ctx); err != nil {
		logger.Error("worker pool exited with error", "error", err.Error())
		os.Exit(1)
	}
	logger.Info("worker shut down cleanly")
}

// registerSchedules enqueues the repeating jobs with stable ids, so restarts
// and multi-instance deploys refresh the schedules instead of duplicating
// them. The reminder scan starts immediately; the cleanup jobs wait for
// their first interval.
func registerSchedules(ctx context.Context, q *queue.Queue, cfg *config.Config) error {
	_, err := q.Enqueue(ctx, types.JobCheckFollowUps, types.CheckFollowUpsPayload{}, queue.Options{
		JobID:       "schedule:checkFollowUps",
		RepeatEvery: cfg.Queue.FollowUpScanInterval,
	})
	if err != nil {
		return err
	}

	_, err = q.Enqueue(ctx, types.JobNotificationCleanup, types.CleanupPayload{Mode: types.CleanupExpired}, queue.Options{
		JobID:       "schedule:cleanup:expired",
		Delay:       time.Hour,
		RepeatEvery: time.Hour,
	})
	if err != nil {
		return err
	}

	_, err = q.Enqueue(ctx, types.JobNotificationCleanup, types.CleanupPayload{Mode: types.CleanupAll}, queue.Options{
		JobID:       "schedule:cleanup:all",
		Delay:       24 * time.Hour,
		RepeatEvery: 24 * time.Hour,
	})
	return err
}

// newMailer selects the email provider: the HTTP provider when configured,
// the logging stub otherwise.
func newMailer(cfg *config.Config, logger types.Logger) external.EmailProvider {
	if cfg.Email.ProviderURL == "" {
		return external.NewLogMailer(logger)
	}
	httpClient := &http.Client{Timeout: cfg.Email.SendTimeout}
	return external.NewHTTPMailer(httpClient, external.MailerConfig{
		BaseURL: cfg.Email.ProviderURL,
		APIKey:  cfg.Email.APIKey,
		Logger:  logger,
	})
}

// newRecorder builds the metrics recorder: CloudWatch when enabled, a noop
// otherwise.
func newRecorder(ctx context.Context, cfg *config.Config, logger types.Logger) metrics.Recorder {
	if !cfg.AWS.MetricsEnabled {
		return metrics.Noop{}
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		logger.Warn("failed to load AWS config, metrics disabled", "error", err.Error())
		return metrics.Noop{}
	}
	return metrics.NewCloudWatch(cloudwatch.NewFromConfig(awsCfg), cfg.AWS.MetricNamespace, logger)
}
