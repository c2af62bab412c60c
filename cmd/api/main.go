// Command api runs the EstateCRM HTTP API: notification lifecycle
// endpoints, bulk lead operations, the employee directory, and the
// realtime notification stream. Background work is enqueued here and
// executed by the worker process.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/go-chi/chi/v5"

	"estatecrm/internal/api/handlers"
	"estatecrm/internal/config"
	"estatecrm/internal/core"
	"estatecrm/internal/db"
	"estatecrm/internal/metrics"
	"estatecrm/internal/notifications"
	"estatecrm/internal/queue"
	"estatecrm/internal/types"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("failed to load configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	_, logger := core.NewLogger(cfg.LogLevel, cfg.Service, cfg.Environment)

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
	uploadRepo := db.NewBulkUploadRepository(pool)

	jobQueue := queue.New(pool, clock, logger.With("component", "queue"))
	hub := notifications.NewHub()

	notificationSvc := notifications.NewService(notifications.ServiceConfig{
		Store:      notificationRepo,
		Recipients: employeeRepo,
		Enqueuer:   jobQueue,
		Pusher:     hub,
		Metrics:    recorder,
		Clock:      clock,
		Logger:     logger.With("component", "notifications"),

		EmailScheduleTimeout: cfg.Email.ScheduleTimeout,
	})

	server, err := core.NewServer(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", "error", err.Error())
		os.Exit(1)
	}

	notificationHandler := handlers.NewNotificationHandler(notificationSvc, hub, server.Validator, logger)
	leadHandler := handlers.NewLeadHandler(handlers.LeadHandlerConfig{
		Leads:     leadRepo,
		Uploads:   uploadRepo,
		Employees: employeeRepo,
		Enqueuer:  jobQueue,
		Validator: server.Validator,
		Clock:     clock,
		Logger:    logger,
	})
	employeeHandler := handlers.NewEmployeeHandler(employeeRepo, server.Validator, clock, logger)
	followUpHandler := handlers.NewFollowUpHandler(db.NewFollowUpRepository(pool), leadRepo,
		jobQueue, server.Validator, clock, logger)

	server.RouteRegistrars = []core.RouteRegistrar{
		func(r chi.Router) { notificationHandler.RegisterRoutes(r) },
		func(r chi.Router) { leadHandler.RegisterRoutes(r) },
		func(r chi.Router) { employeeHandler.RegisterRoutes(r) },
		func(r chi.Router) { followUpHandler.RegisterRoutes(r) },
	}
	server.MountRoutes()

	if err := server.Run(ctx); err != nil && err != http.ErrServerClosed {
		logger.Error("server exited with error", "error", err.Error())
		os.Exit(1)
	}
	logger.Info("api shut down cleanly")
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
