package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"estatecrm/internal/core"
	"estatecrm/internal/queue"
	"estatecrm/internal/types"
)

// FollowUpStore is the follow-up repository subset the handler uses.
type FollowUpStore interface {
	Insert(ctx context.Context, f *types.FollowUp) error
	GetByID(ctx context.Context, id string) (*types.FollowUp, error)
}

// LeadGetter resolves leads for follow-up validation.
type LeadGetter interface {
	GetByID(ctx context.Context, id string) (*types.Lead, error)
}

// FollowUpHandler manages follow-up scheduling. Besides the windowed scan,
// each new follow-up gets a targeted due reminder enqueued for its exact
// date; the job carries the date so a later reschedule invalidates it.
type FollowUpHandler struct {
	followUps FollowUpStore
	leads     LeadGetter
	enqueuer  queue.Enqueuer
	validator *core.Validator
	clock     types.Clock
	logger    types.Logger
}

// NewFollowUpHandler creates a FollowUpHandler.
func NewFollowUpHandler(followUps FollowUpStore, leads LeadGetter, enqueuer queue.Enqueuer, val *core.Validator, clock types.Clock, logger types.Logger) *FollowUpHandler {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &FollowUpHandler{
		followUps: followUps,
		leads:     leads,
		enqueuer:  enqueuer,
		validator: val,
		clock:     clock,
		logger:    logger,
	}
}

// RegisterRoutes mounts the follow-up endpoints.
func (h *FollowUpHandler) RegisterRoutes(r chi.Router) {
	r.Route("/follow-ups", func(r chi.Router) {
		r.Post("/", h.HandleCreate)
		r.Get("/{followUpID}", h.HandleGet)
	})
}

// createFollowUpRequest schedules a follow-up for a lead.
type createFollowUpRequest struct {
	LeadID       string    `json:"lead_id" validate:"required"`
	FollowUpDate time.Time `json:"follow_up_date" validate:"required"`
	Note         string    `json:"note,omitempty"`
	FollowUpType string    `json:"follow_up_type,omitempty"`
}

// HandleCreate handles POST /v1/follow-ups.
func (h *FollowUpHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	if _, ok := userID(w, r); !ok {
		return
	}
	var req createFollowUpRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	now := h.clock.Now()
	if !req.FollowUpDate.After(now) {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationBadPayload,
			"follow_up_date must be in the future", nil))
		return
	}

	lead, err := h.leads.GetByID(r.Context(), req.LeadID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	followUp := &types.FollowUp{
		ID:           "fu_" + uuid.NewString(),
		LeadID:       lead.ID,
		FollowUpDate: req.FollowUpDate.UTC(),
		Note:         req.Note,
		FollowUpType: req.FollowUpType,
		CreatedAt:    now,
	}
	if err := h.followUps.Insert(r.Context(), followUp); err != nil {
		core.Error(w, r, err)
		return
	}

	// Best-effort: the windowed scan will still catch this follow-up if
	// the targeted enqueue fails.
	_, err = h.enqueuer.Enqueue(r.Context(), types.JobSendFollowUpReminder, types.FollowUpReminderPayload{
		FollowUpID:   followUp.ID,
		LeadID:       lead.ID,
		Tag:          types.ReminderDue,
		FollowUpDate: followUp.FollowUpDate,
	}, queue.Options{Delay: followUp.FollowUpDate.Sub(now)})
	if err != nil {
		h.logger.Warn("failed to schedule targeted reminder",
			"follow_up_id", followUp.ID,
			"error", err.Error(),
		)
	}

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: followUp})
}

// HandleGet handles GET /v1/follow-ups/{followUpID}.
func (h *FollowUpHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	followUp, err := h.followUps.GetByID(r.Context(), chi.URLParam(r, "followUpID"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: followUp})
}
