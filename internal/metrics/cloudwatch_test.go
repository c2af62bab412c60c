package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"estatecrm/internal/types"
)

// ============================================================
// Mock Implementations
// ============================================================

type mockCWClient struct {
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (m *mockCWClient) PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.inputs = append(m.inputs, params)
	if m.err != nil {
		return nil, m.err
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func dimValue(datum cwtypes.MetricDatum, name string) string {
	for _, d := range datum.Dimensions {
		if *d.Name == name {
			return *d.Value
		}
	}
	return ""
}

// TestRecordJob verifies one call emits the run count and duration with the
// job and result dimensions.
func TestRecordJob(t *testing.T) {
	client := &mockCWClient{}
	rec := NewCloudWatch(client, "EstateCRM/Jobs", types.NopLogger{})

	rec.RecordJob(context.Background(), types.JobBulkAssignLeads, false, 250*time.Millisecond)

	if len(client.inputs) != 1 {
		t.Fatalf("PutMetricData calls = %d, want 1", len(client.inputs))
	}
	input := client.inputs[0]
	if *input.Namespace != "EstateCRM/Jobs" {
		t.Errorf("namespace = %q", *input.Namespace)
	}
	if len(input.MetricData) != 2 {
		t.Fatalf("metric data entries = %d, want 2", len(input.MetricData))
	}

	run := input.MetricData[0]
	if *run.MetricName != "JobRun" {
		t.Errorf("first metric = %q, want JobRun", *run.MetricName)
	}
	if got := dimValue(run, "Job"); got != string(types.JobBulkAssignLeads) {
		t.Errorf("Job dimension = %q", got)
	}
	if got := dimValue(run, "Result"); got != "failure" {
		t.Errorf("Result dimension = %q, want failure", got)
	}

	dur := input.MetricData[1]
	if *dur.MetricName != "JobDuration" {
		t.Errorf("second metric = %q, want JobDuration", *dur.MetricName)
	}
	if *dur.Value != 250 {
		t.Errorf("duration value = %v, want 250 ms", *dur.Value)
	}
}

// TestRecordQueueLag verifies the lag converts to milliseconds.
func TestRecordQueueLag(t *testing.T) {
	client := &mockCWClient{}
	rec := NewCloudWatch(client, "EstateCRM/Jobs", types.NopLogger{})

	rec.RecordQueueLag(context.Background(), 3*time.Second)

	if len(client.inputs) != 1 {
		t.Fatalf("PutMetricData calls = %d, want 1", len(client.inputs))
	}
	datum := client.inputs[0].MetricData[0]
	if *datum.MetricName != "QueueLag" {
		t.Errorf("metric = %q, want QueueLag", *datum.MetricName)
	}
	if *datum.Value != 3000 {
		t.Errorf("lag value = %v, want 3000 ms", *datum.Value)
	}
}

// TestRecordNotification verifies the outcome dimension.
func TestRecordNotification(t *testing.T) {
	client := &mockCWClient{}
	rec := NewCloudWatch(client, "EstateCRM/Notifications", types.NopLogger{})

	rec.RecordNotification(context.Background(), "deduped")

	if len(client.inputs) != 1 {
		t.Fatalf("PutMetricData calls = %d, want 1", len(client.inputs))
	}
	datum := client.inputs[0].MetricData[0]
	if *datum.MetricName != "NotificationOutcome" {
		t.Errorf("metric = %q", *datum.MetricName)
	}
	if got := dimValue(datum, "Outcome"); got != "deduped" {
		t.Errorf("Outcome dimension = %q, want deduped", got)
	}
}

// TestPublishFailureDoesNotPanic verifies a CloudWatch error is swallowed;
// telemetry must never take a request or job down with it.
func TestPublishFailureDoesNotPanic(t *testing.T) {
	client := &mockCWClient{err: errors.New("throttled")}
	rec := NewCloudWatch(client, "EstateCRM/Jobs", types.NopLogger{})

	rec.RecordJob(context.Background(), types.JobSendNotificationEmail, true, time.Millisecond)
	rec.RecordQueueLag(context.Background(), time.Second)
	rec.RecordNotification(context.Background(), "created")

	if len(client.inputs) != 3 {
		t.Errorf("PutMetricData calls = %d, want 3", len(client.inputs))
	}
}
