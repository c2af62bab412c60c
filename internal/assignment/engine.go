// Package assignment implements bulk lead distribution: the FIFO bulk
// assign job, its one-level revert, and the bulk upload ingester. Every
// lead mutation leaves an append-only audit row in
// lead_assignment_history; reverts append REVERT rows rather than touching
// the originals.
package assignment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"estatecrm/internal/db"
	"estatecrm/internal/notifications"
	"estatecrm/internal/types"
)

// LeadStore is the lead repository subset the engine needs.
type LeadStore interface {
	SelectUnassigned(ctx context.Context, status types.LeadStatus, uploadedBy string, limit int) ([]*types.Lead, error)
	UpdateAssignments(ctx context.Context, updates []db.AssignmentUpdate, now time.Time) (int64, error)
	InsertHistory(ctx context.Context, rows []*types.LeadAssignmentHistory) error
	ListHistory(ctx context.Context, batchID string, action types.ActionType) ([]*types.LeadAssignmentHistory, error)
}

// Notifier creates the per-lead and summary notifications.
type Notifier interface {
	Create(ctx context.Context, input notifications.CreateInput) (*types.Notification, error)
}

// Engine executes bulk assignment batches and their reverts.
type Engine struct {
	leads    LeadStore
	notifier Notifier
	clock    types.Clock
	logger   types.Logger
}

// NewEngine creates an Engine.
func NewEngine(leads LeadStore, notifier Notifier, clock types.Clock, logger types.Logger) *Engine {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &Engine{leads: leads, notifier: notifier, clock: clock, logger: logger}
}

// Assign claims unassigned leads oldest-first and assigns them to the
// target employee.
//
// The claim is capped at min(Limit, AvailableCount): AvailableCount is what
// the requester was shown, so leads uploaded between the request and the
// job run are never silently swept in. Zero matching leads is a success
// with count 0, not an error. Lead mutations and audit rows are written in
// bulk; the per-lead notifications run item-by-item and a notification
// failure never rolls back an assignment.
func (e *Engine) Assign(ctx context.Context, payload types.BulkAssignPayload) (*types.AssignResult, error) {
	if payload.AssignTo == "" || payload.UpdatedBy == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "assign_to and updated_by are required", nil)
	}
	if payload.Limit <= 0 {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidLimit, "limit must be positive", nil)
	}

	claim := payload.Limit
	if payload.AvailableCount >= 0 && payload.AvailableCount < claim {
		claim = payload.AvailableCount
	}

	result := &types.AssignResult{BatchID: payload.BatchID}
	logger := e.logger.With("batch_id", payload.BatchID, "assign_to", payload.AssignTo)

	var leads []*types.Lead
	if claim > 0 {
		var err error
		leads, err = e.leads.SelectUnassigned(ctx, payload.Status, payload.UpdatedBy, claim)
		if err != nil {
			return nil, err
		}
	}

	if len(leads) == 0 {
		logger.Info("bulk assign matched no leads")
		e.notifySummary(ctx, payload.UpdatedBy, payload.BatchID, 0, payload.AssignTo)
		return result, nil
	}

	now := e.clock.Now()
	assignTo := payload.AssignTo

	updates := make([]db.AssignmentUpdate, len(leads))
	history := make([]*types.LeadAssignmentHistory, len(leads))
	for i, lead := range leads {
		updates[i] = db.AssignmentUpdate{LeadID: lead.ID, AssignedTo: &assignTo}
		history[i] = &types.LeadAssignmentHistory{
			ID:                 "lah_" + uuid.NewString(),
			BatchID:            payload.BatchID,
			LeadID:             lead.ID,
			PreviousAssignedTo: lead.AssignedTo,
			NewAssignedTo:      &assignTo,
			UpdatedBy:          payload.UpdatedBy,
			ActionType:         types.ActionAssign,
			CreatedAt:          now,
		}
	}

	if _, err := e.leads.UpdateAssignments(ctx, updates, now); err != nil {
		return nil, err
	}
	if err := e.leads.InsertHistory(ctx, history); err != nil {
		return nil, err
	}
	result.Count = len(leads)

	for _, lead := range leads {
		_, err := e.notifier.Create(ctx, notifications.CreateInput{
			RecipientID: assignTo,
			SenderID:    payload.UpdatedBy,
			Type:        types.TypeLeadAssigned,
			Title:       "New lead assigned",
			Message:     fmt.Sprintf("Lead %s has been assigned to you.", leadLabel(lead)),
			Metadata: types.Metadata{
				types.MetaKeyLeadID:     lead.ID,
				types.MetaKeyBatchID:    payload.BatchID,
				types.MetaKeyActionable: "true",
			},
		})
		if err != nil {
			logger.Error("failed to notify assignee",
				"lead_id", lead.ID,
				"error", err.Error(),
			)
		}
	}

	e.notifySummary(ctx, payload.UpdatedBy, payload.BatchID, result.Count, assignTo)
	logger.Info("bulk assign finished", "count", result.Count)
	return result, nil
}

// Revert undoes one bulk assignment batch, restoring each lead's previous
// assignee. Only the batch's ASSIGN rows are replayed; a batch can be
// reverted once.
func (e *Engine) Revert(ctx context.Context, payload types.RevertBulkAssignPayload) (*types.RevertResult, error) {
	if payload.BatchID == "" || payload.RevertedBy == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "batch_id and reverted_by are required", nil)
	}

	assignRows, err := e.leads.ListHistory(ctx, payload.BatchID, types.ActionAssign)
	if err != nil {
		return nil, err
	}
	if len(assignRows) == 0 {
		return nil, types.NewAppError(types.ErrCodeNotFoundBatch, "assignment batch not found", nil)
	}

	revertRows, err := e.leads.ListHistory(ctx, payload.BatchID, types.ActionRevert)
	if err != nil {
		return nil, err
	}
	if len(revertRows) > 0 {
		return nil, types.NewAppError(types.ErrCodeConflictStatusTransition, "assignment batch already reverted", nil)
	}

	now := e.clock.Now()
	updates := make([]db.AssignmentUpdate, len(assignRows))
	history := make([]*types.LeadAssignmentHistory, len(assignRows))
	for i, row := range assignRows {
		updates[i] = db.AssignmentUpdate{LeadID: row.LeadID, AssignedTo: row.PreviousAssignedTo}
		history[i] = &types.LeadAssignmentHistory{
			ID:                 "lah_" + uuid.NewString(),
			BatchID:            payload.BatchID,
			LeadID:             row.LeadID,
			PreviousAssignedTo: row.NewAssignedTo,
			NewAssignedTo:      row.PreviousAssignedTo,
			UpdatedBy:          payload.RevertedBy,
			ActionType:         types.ActionRevert,
			CreatedAt:          now,
		}
	}

	if _, err := e.leads.UpdateAssignments(ctx, updates, now); err != nil {
		return nil, err
	}
	if err := e.leads.InsertHistory(ctx, history); err != nil {
		return nil, err
	}

	_, err = e.notifier.Create(ctx, notifications.CreateInput{
		RecipientID: payload.RevertedBy,
		Type:        types.TypeLeadBulkAssigned,
		Title:       "Bulk assignment reverted",
		Message:     fmt.Sprintf("%d lead assignments were reverted.", len(assignRows)),
		Metadata:    types.Metadata{types.MetaKeyBatchID: payload.BatchID},
	})
	if err != nil {
		e.logger.Error("failed to notify revert requester",
			"batch_id", payload.BatchID,
			"error", err.Error(),
		)
	}

	e.logger.Info("bulk assign reverted", "batch_id", payload.BatchID, "count", len(assignRows))
	return &types.RevertResult{BatchID: payload.BatchID, Count: len(assignRows)}, nil
}

// notifySummary tells the requester how the batch went. Best-effort.
func (e *Engine) notifySummary(ctx context.Context, recipientID, batchID string, count int, assignTo string) {
	message := fmt.Sprintf("%d leads were assigned to %s.", count, assignTo)
	if count == 0 {
		message = "No unassigned leads matched your bulk assignment request."
	}
	_, err := e.notifier.Create(ctx, notifications.CreateInput{
		RecipientID: recipientID,
		Type:        types.TypeLeadBulkAssigned,
		Title:       "Bulk assignment finished",
		Message:     message,
		Metadata:    types.Metadata{types.MetaKeyBatchID: batchID},
	})
	if err != nil {
		e.logger.Error("failed to notify batch requester",
			"batch_id", batchID,
			"error", err.Error(),
		)
	}
}

func leadLabel(l *types.Lead) string {
	if l.Name != "" {
		return l.Name
	}
	return l.Phone
}
