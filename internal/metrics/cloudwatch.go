// Package metrics emits operational telemetry for the job workers and the
// notification service.
package metrics

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"estatecrm/internal/types"
)

// CloudWatchClient abstracts PutMetricData for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Recorder is the full telemetry surface: job outcomes and queue lag from
// the worker pool, notification outcomes from the notification service.
type Recorder interface {
	RecordJob(ctx context.Context, name types.JobName, success bool, duration time.Duration)
	RecordQueueLag(ctx context.Context, lag time.Duration)
	RecordNotification(ctx context.Context, outcome string)
}

// CloudWatch implements Recorder against AWS CloudWatch.
//
// Metrics emitted:
//   - JobRun: dims {Job, Result}, one per processed job
//   - JobDuration: dims {Job}, handler wall time in milliseconds
//   - QueueLag: no dims, time between a job's run_at and its claim
//   - NotificationOutcome: dims {Outcome}, created / deduped / superseded
type CloudWatch struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

// NewCloudWatch creates a CloudWatch recorder publishing to the given
// namespace.
func NewCloudWatch(client CloudWatchClient, namespace string, logger types.Logger) *CloudWatch {
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &CloudWatch{client: client, namespace: namespace, logger: logger}
}

// RecordJob emits the JobRun count and JobDuration for one processed job.
func (m *CloudWatch) RecordJob(ctx context.Context, name types.JobName, success bool, duration time.Duration) {
	result := "success"
	if !success {
		result = "failure"
	}

	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String("JobRun"),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{Name: aws.String("Job"), Value: aws.String(string(name))},
					{Name: aws.String("Result"), Value: aws.String(result)},
				},
			},
			{
				MetricName: aws.String("JobDuration"),
				Value:      aws.Float64(float64(duration.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
				Dimensions: []cwtypes.Dimension{
					{Name: aws.String("Job"), Value: aws.String(string(name))},
				},
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record job metric",
			"error", err.Error(),
			"job", string(name),
			"result", result,
		)
	}
}

// RecordQueueLag emits the time a job spent waiting past its run_at.
func (m *CloudWatch) RecordQueueLag(ctx context.Context, lag time.Duration) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String("QueueLag"),
				Value:      aws.Float64(float64(lag.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record queue lag metric",
			"error", err.Error(),
			"lag_ms", lag.Milliseconds(),
		)
	}
}

// RecordNotification emits one NotificationOutcome count.
func (m *CloudWatch) RecordNotification(ctx context.Context, outcome string) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String("NotificationOutcome"),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{Name: aws.String("Outcome"), Value: aws.String(outcome)},
				},
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record notification metric",
			"error", err.Error(),
			"outcome", outcome,
		)
	}
}

var _ Recorder = (*CloudWatch)(nil)

// Noop implements Recorder by discarding everything. Used when metrics are
// disabled.
type Noop struct{}

func (Noop) RecordJob(context.Context, types.JobName, bool, time.Duration) {}
func (Noop) RecordQueueLag(context.Context, time.Duration)                 {}
func (Noop) RecordNotification(context.Context, string)                    {}

var _ Recorder = Noop{}
