// Package handlers contains the HTTP handler implementations for the
// EstateCRM notification and lead APIs.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"estatecrm/internal/core"
	"estatecrm/internal/db"
	"estatecrm/internal/notifications"
	"estatecrm/internal/types"
)

// userIDHeader carries the acting user's id. Authentication sits in front
// of this service; the gateway injects the header.
const userIDHeader = "X-User-Id"

// NotificationService defines the service contract for the notification
// handler. Defined locally to avoid tight coupling.
type NotificationService interface {
	Create(ctx context.Context, input notifications.CreateInput) (*types.Notification, error)
	MarkAsRead(ctx context.Context, ids []string, userID string) (int64, error)
	MarkAllAsRead(ctx context.Context, userID string, typ types.NotificationType, before *time.Time) (int64, error)
	Archive(ctx context.Context, ids []string, userID string, reason types.ArchiveReason) (int64, error)
	Delete(ctx context.Context, ids []string, userID string) (int64, error)
	BulkOperation(ctx context.Context, ids []string, userID string, action notifications.BulkAction) (int64, error)
	List(ctx context.Context, filter db.ListFilter, page types.Page) (*types.PageResult[*types.Notification], error)
	UnreadCount(ctx context.Context, userID string) (int64, error)
	Stats(ctx context.Context, userID string) (*types.NotificationStats, error)
}

// NotificationHandler maps HTTP requests to the notification service.
type NotificationHandler struct {
	service   NotificationService
	hub       *notifications.Hub
	validator *core.Validator
	logger    types.Logger
}

// NewNotificationHandler creates a NotificationHandler.
func NewNotificationHandler(svc NotificationService, hub *notifications.Hub, val *core.Validator, logger types.Logger) *NotificationHandler {
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &NotificationHandler{service: svc, hub: hub, validator: val, logger: logger}
}

// RegisterRoutes mounts the notification endpoints.
func (h *NotificationHandler) RegisterRoutes(r chi.Router) {
	r.Route("/notifications", func(r chi.Router) {
		r.Post("/", h.HandleCreate)
		r.Get("/", h.HandleList)
		r.Get("/stats", h.HandleStats)
		r.Get("/unread-count", h.HandleUnreadCount)
		r.Get("/stream", h.HandleStream)
		r.Post("/mark-read", h.HandleMarkRead)
		r.Post("/mark-all-read", h.HandleMarkAllRead)
		r.Post("/archive", h.HandleArchive)
		r.Post("/bulk", h.HandleBulk)
		r.Delete("/", h.HandleDelete)
	})
}

// userID extracts the acting user from the request, or writes a 400.
func userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get(userIDHeader)
	if id == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField,
			userIDHeader+" header is required", nil))
		return "", false
	}
	return id, true
}

// HandleCreate handles POST /v1/notifications.
func (h *NotificationHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var input notifications.CreateInput
	if err := core.DecodeJSON(w, r, &input); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.Struct(input); err != nil {
		core.Error(w, r, err)
		return
	}

	n, err := h.service.Create(r.Context(), input)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: n})
}

// HandleList handles GET /v1/notifications.
func (h *NotificationHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	filter := db.ListFilter{
		RecipientID: uid,
		Status:      q.Get("status"),
		Type:        types.NotificationType(q.Get("type")),
		Priority:    types.Priority(q.Get("priority")),
	}
	if from := q.Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationBadPayload,
				"from must be an RFC3339 timestamp", err))
			return
		}
		filter.From = &t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationBadPayload,
				"to must be an RFC3339 timestamp", err))
			return
		}
		filter.To = &t
	}

	page := types.Page{}
	if p := q.Get("page"); p != "" {
		page.Number, _ = strconv.Atoi(p)
	}
	if s := q.Get("size"); s != "" {
		page.Size, _ = strconv.Atoi(s)
	}

	result, err := h.service.List(r.Context(), filter, page)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: result})
}

// HandleStats handles GET /v1/notifications/stats.
func (h *NotificationHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	stats, err := h.service.Stats(r.Context(), uid)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: stats})
}

// HandleUnreadCount handles GET /v1/notifications/unread-count.
func (h *NotificationHandler) HandleUnreadCount(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	count, err := h.service.UnreadCount(r.Context(), uid)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]int64{"unread": count}})
}

// idsRequest is the shared body for the id-targeting operations.
type idsRequest struct {
	IDs []string `json:"ids" validate:"required,min=1"`
}

// HandleMarkRead handles POST /v1/notifications/mark-read.
func (h *NotificationHandler) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req idsRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	count, err := h.service.MarkAsRead(r.Context(), req.IDs, uid)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]int64{"updated": count}})
}

// markAllRequest narrows a mark-all-read to a type and/or creation cutoff.
type markAllRequest struct {
	Type   types.NotificationType `json:"type,omitempty"`
	Before *time.Time             `json:"before,omitempty"`
}

// HandleMarkAllRead handles POST /v1/notifications/mark-all-read.
func (h *NotificationHandler) HandleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	req := markAllRequest{}
	if r.ContentLength != 0 {
		if err := core.DecodeJSON(w, r, &req); err != nil {
			core.Error(w, r, err)
			return
		}
	}

	count, err := h.service.MarkAllAsRead(r.Context(), uid, req.Type, req.Before)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]int64{"updated": count}})
}

// HandleArchive handles POST /v1/notifications/archive.
func (h *NotificationHandler) HandleArchive(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req idsRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	count, err := h.service.Archive(r.Context(), req.IDs, uid, types.ArchiveReasonUser)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]int64{"updated": count}})
}

// bulkRequest carries a bulk operation: ids plus the action to apply.
type bulkRequest struct {
	IDs    []string `json:"ids" validate:"required,min=1"`
	Action string   `json:"action" validate:"required,oneof=read archive delete"`
}

// HandleBulk handles POST /v1/notifications/bulk.
func (h *NotificationHandler) HandleBulk(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req bulkRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	count, err := h.service.BulkOperation(r.Context(), req.IDs, uid, notifications.BulkAction(req.Action))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]int64{"updated": count}})
}

// HandleDelete handles DELETE /v1/notifications.
func (h *NotificationHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req idsRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	count, err := h.service.Delete(r.Context(), req.IDs, uid)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]int64{"deleted": count}})
}

// HandleStream handles GET /v1/notifications/stream: a server-sent-events
// feed of the user's realtime notifications. The connection stays open
// until the client goes away.
func (h *NotificationHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		core.Error(w, r, types.NewAppError(types.ErrCodeInternalUnexpected,
			"streaming not supported by this connection", nil))
		return
	}

	sub := h.hub.Subscribe(uid)
	defer h.hub.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case n, open := <-sub.C():
			if !open {
				return
			}
			body, err := json.Marshal(n)
			if err != nil {
				h.logger.Error("failed to marshal streamed notification",
					"notification_id", n.ID,
					"error", err.Error(),
				)
				continue
			}
			if _, err := w.Write([]byte("data: " + string(body) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
