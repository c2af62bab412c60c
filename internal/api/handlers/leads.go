package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"estatecrm/internal/core"
	"estatecrm/internal/queue"
	"estatecrm/internal/types"
)

// LeadReader is the lead repository subset the handler queries.
type LeadReader interface {
	CountUnassigned(ctx context.Context, status types.LeadStatus, uploadedBy string) (int64, error)
	ListHistory(ctx context.Context, batchID string, action types.ActionType) ([]*types.LeadAssignmentHistory, error)
}

// UploadStore is the bulk upload repository subset the handler uses.
type UploadStore interface {
	Insert(ctx context.Context, u *types.BulkUpload) error
	GetByID(ctx context.Context, id string) (*types.BulkUpload, error)
}

// EmployeeChecker verifies assignment targets exist.
type EmployeeChecker interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// LeadHandler exposes the bulk lead operations. The heavy lifting runs on
// the job queue; these endpoints validate, enqueue, and return 202.
type LeadHandler struct {
	leads     LeadReader
	uploads   UploadStore
	employees EmployeeChecker
	enqueuer  queue.Enqueuer
	validator *core.Validator
	clock     types.Clock
	logger    types.Logger
}

// LeadHandlerConfig holds the dependencies for creating a LeadHandler.
type LeadHandlerConfig struct {
	Leads     LeadReader
	Uploads   UploadStore
	Employees EmployeeChecker
	Enqueuer  queue.Enqueuer
	Validator *core.Validator
	Clock     types.Clock
	Logger    types.Logger
}

// NewLeadHandler creates a LeadHandler.
func NewLeadHandler(cfg LeadHandlerConfig) *LeadHandler {
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &LeadHandler{
		leads:     cfg.Leads,
		uploads:   cfg.Uploads,
		employees: cfg.Employees,
		enqueuer:  cfg.Enqueuer,
		validator: cfg.Validator,
		clock:     clock,
		logger:    logger,
	}
}

// RegisterRoutes mounts the lead endpoints.
func (h *LeadHandler) RegisterRoutes(r chi.Router) {
	r.Route("/leads", func(r chi.Router) {
		r.Post("/bulk-assign", h.HandleBulkAssign)
		r.Post("/bulk-assign/{batchID}/revert", h.HandleRevert)
		r.Get("/bulk-assign/{batchID}/history", h.HandleHistory)
		r.Post("/bulk-upload", h.HandleBulkUpload)
		r.Get("/uploads/{uploadID}", h.HandleUploadStatus)
	})
}

// bulkAssignRequest asks for up to Limit unassigned leads to be handed to
// AssignTo.
type bulkAssignRequest struct {
	AssignTo string           `json:"assign_to" validate:"required"`
	Status   types.LeadStatus `json:"status" validate:"required"`
	Limit    int              `json:"limit" validate:"required,min=1,max=1000"`
}

// HandleBulkAssign handles POST /v1/leads/bulk-assign. It snapshots the
// current unassigned count and enqueues the assignment job; the job caps
// its claim at this count so the caller is never handed more leads than
// they were shown.
func (h *LeadHandler) HandleBulkAssign(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req bulkAssignRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	exists, err := h.employees.Exists(r.Context(), req.AssignTo)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if !exists {
		core.Error(w, r, types.NewAppError(types.ErrCodeNotFoundEmployee,
			"assignment target does not exist", nil))
		return
	}

	available, err := h.leads.CountUnassigned(r.Context(), req.Status, uid)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	batchID := "batch_" + uuid.NewString()
	_, err = h.enqueuer.Enqueue(r.Context(), types.JobBulkAssignLeads, types.BulkAssignPayload{
		BatchID:        batchID,
		AssignTo:       req.AssignTo,
		Status:         req.Status,
		Limit:          req.Limit,
		AvailableCount: int(available),
		UpdatedBy:      uid,
	}, queue.Options{})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusAccepted, core.APIResponse{Data: map[string]any{
		"batch_id":        batchID,
		"available_count": available,
	}})
}

// HandleRevert handles POST /v1/leads/bulk-assign/{batchID}/revert.
func (h *LeadHandler) HandleRevert(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	batchID := chi.URLParam(r, "batchID")

	// Surface a 404 now rather than from inside the job.
	rows, err := h.leads.ListHistory(r.Context(), batchID, types.ActionAssign)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if len(rows) == 0 {
		core.Error(w, r, types.NewAppError(types.ErrCodeNotFoundBatch,
			"assignment batch not found", nil))
		return
	}

	_, err = h.enqueuer.Enqueue(r.Context(), types.JobRevertBulkAssign, types.RevertBulkAssignPayload{
		BatchID:    batchID,
		RevertedBy: uid,
	}, queue.Options{})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusAccepted, core.APIResponse{Data: map[string]string{
		"batch_id": batchID,
	}})
}

// HandleHistory handles GET /v1/leads/bulk-assign/{batchID}/history.
func (h *LeadHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")

	action := types.ActionAssign
	if a := r.URL.Query().Get("action"); a != "" {
		switch types.ActionType(a) {
		case types.ActionAssign, types.ActionRevert:
			action = types.ActionType(a)
		default:
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidAction,
				"action must be ASSIGN or REVERT", nil))
			return
		}
	}

	rows, err := h.leads.ListHistory(r.Context(), batchID, action)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if len(rows) == 0 {
		core.Error(w, r, types.NewAppError(types.ErrCodeNotFoundBatch,
			"assignment batch not found", nil))
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: rows})
}

// bulkUploadRequest points at an uploaded lead file.
type bulkUploadRequest struct {
	FileRef string `json:"file_ref" validate:"required"`
}

// HandleBulkUpload handles POST /v1/leads/bulk-upload: record the upload in
// IN_QUEUE state, enqueue the ingest job, and return 202 with the upload id
// for status polling.
func (h *LeadHandler) HandleBulkUpload(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req bulkUploadRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	upload := &types.BulkUpload{
		ID:         "upl_" + uuid.NewString(),
		UploadedBy: uid,
		FileRef:    req.FileRef,
		Status:     types.UploadInQueue,
		CreatedAt:  h.clock.Now(),
	}
	if err := h.uploads.Insert(r.Context(), upload); err != nil {
		core.Error(w, r, err)
		return
	}

	_, err := h.enqueuer.Enqueue(r.Context(), types.JobBulkUploadLeads, types.BulkUploadPayload{
		UploadID:   upload.ID,
		FileRef:    req.FileRef,
		UploadedBy: uid,
	}, queue.Options{})
	if err != nil {
		// The record stays IN_QUEUE; an operator can re-enqueue it.
		h.logger.Error("failed to enqueue bulk upload job",
			"upload_id", upload.ID,
			"error", err.Error(),
		)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusAccepted, core.APIResponse{Data: map[string]string{
		"upload_id": upload.ID,
	}})
}

// HandleUploadStatus handles GET /v1/leads/uploads/{uploadID}.
func (h *LeadHandler) HandleUploadStatus(w http.ResponseWriter, r *http.Request) {
	upload, err := h.uploads.GetByID(r.Context(), chi.URLParam(r, "uploadID"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: upload})
}
