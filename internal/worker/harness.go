// Package worker wires queued jobs to the services that execute them.
package worker

import (
	"context"
	"encoding/json"

	"estatecrm/internal/queue"
	"estatecrm/internal/types"
)

// BulkAssigner executes bulk assignment jobs.
type BulkAssigner interface {
	Assign(ctx context.Context, payload types.BulkAssignPayload) (*types.AssignResult, error)
	Revert(ctx context.Context, payload types.RevertBulkAssignPayload) (*types.RevertResult, error)
}

// Uploader executes bulk upload jobs.
type Uploader interface {
	Process(ctx context.Context, payload types.BulkUploadPayload) error
}

// ReminderRunner executes the reminder scan and targeted reminders.
type ReminderRunner interface {
	Scan(ctx context.Context) (types.BatchOutcome, error)
	SendTargeted(ctx context.Context, payload types.FollowUpReminderPayload) error
}

// EmailDispatcher sends one notification's email.
type EmailDispatcher interface {
	Dispatch(ctx context.Context, payload types.EmailPayload) error
}

// CleanupRunner executes one cleanup pass.
type CleanupRunner interface {
	Run(ctx context.Context, mode types.CleanupMode) (int64, error)
}

// Harness routes claimed jobs to their handlers. Each job name maps to
// exactly one typed payload and one service call; an unknown name or a
// payload that will not decode is permanent and goes straight to dead.
type Harness struct {
	assigner  BulkAssigner
	uploader  Uploader
	reminders ReminderRunner
	email     EmailDispatcher
	cleanup   CleanupRunner
	logger    types.Logger
}

// HarnessConfig holds the handlers for creating a Harness.
type HarnessConfig struct {
	Assigner  BulkAssigner
	Uploader  Uploader
	Reminders ReminderRunner
	Email     EmailDispatcher
	Cleanup   CleanupRunner
	Logger    types.Logger
}

// NewHarness creates a Harness.
func NewHarness(cfg HarnessConfig) *Harness {
	logger := cfg.Logger
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &Harness{
		assigner:  cfg.Assigner,
		uploader:  cfg.Uploader,
		reminders: cfg.Reminders,
		email:     cfg.Email,
		cleanup:   cfg.Cleanup,
		logger:    logger,
	}
}

// Handle implements queue.Handler.
func (h *Harness) Handle(ctx context.Context, job *queue.Job) error {
	switch job.Name {
	case types.JobBulkUploadLeads:
		var payload types.BulkUploadPayload
		if err := decode(job, &payload); err != nil {
			return err
		}
		return h.uploader.Process(ctx, payload)

	case types.JobBulkAssignLeads:
		var payload types.BulkAssignPayload
		if err := decode(job, &payload); err != nil {
			return err
		}
		_, err := h.assigner.Assign(ctx, payload)
		return err

	case types.JobRevertBulkAssign:
		var payload types.RevertBulkAssignPayload
		if err := decode(job, &payload); err != nil {
			return err
		}
		_, err := h.assigner.Revert(ctx, payload)
		return err

	case types.JobCheckFollowUps:
		_, err := h.reminders.Scan(ctx)
		return err

	case types.JobSendFollowUpReminder:
		var payload types.FollowUpReminderPayload
		if err := decode(job, &payload); err != nil {
			return err
		}
		return h.reminders.SendTargeted(ctx, payload)

	case types.JobSendNotificationEmail:
		var payload types.EmailPayload
		if err := decode(job, &payload); err != nil {
			return err
		}
		return h.email.Dispatch(ctx, payload)

	case types.JobNotificationCleanup:
		var payload types.CleanupPayload
		if err := decode(job, &payload); err != nil {
			return err
		}
		mode := payload.Mode
		if mode == "" {
			mode = types.CleanupExpired
		}
		_, err := h.cleanup.Run(ctx, mode)
		return err

	default:
		return types.NewAppError(types.ErrCodeValidationInvalidType,
			"unknown job name: "+string(job.Name), nil)
	}
}

// decode unmarshals the job payload, mapping failures to a permanent error.
func decode(job *queue.Job, dst any) error {
	if err := json.Unmarshal(job.Payload, dst); err != nil {
		return types.NewAppError(types.ErrCodeValidationBadPayload,
			"failed to decode payload for job "+string(job.Name), err)
	}
	return nil
}

var _ queue.Handler = (*Harness)(nil)
