// Package notifications implements the notification lifecycle: at-most-once
// creation with duplicate detection, read/archive/delete operations with
// supersession of stale correlated notifications, bulk operations, stats,
// and the cleanup job.
package notifications

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"estatecrm/internal/db"
	"estatecrm/internal/queue"
	"estatecrm/internal/types"
)

const (
	// dedupWindow is how far back duplicate detection looks for an unread
	// notification with the same (recipient, type, title) and correlation
	// metadata.
	dedupWindow = 5 * time.Minute

	// supersededTTL is the expires_at horizon stamped on notifications
	// archived via supersession; cleanup removes them shortly after.
	supersededTTL = 24 * time.Hour

	// archivedTTL is the expires_at horizon for user-archived notifications.
	archivedTTL = 3 * 24 * time.Hour

	// defaultEmailScheduleTimeout bounds the best-effort email job enqueue
	// during creation when no timeout is configured. Enqueue failure or
	// timeout never fails the create; the notification simply has no email
	// attempt recorded.
	defaultEmailScheduleTimeout = 5 * time.Second
)

// Store is the notification persistence interface the service needs.
// Implemented by db.NotificationRepository.
type Store interface {
	Insert(ctx context.Context, n *types.Notification) error
	GetByID(ctx context.Context, id string) (*types.Notification, error)
	FindRecentUnread(ctx context.Context, recipientID string, typ types.NotificationType, title string, since time.Time) ([]*types.Notification, error)
	MarkRead(ctx context.Context, ids []string, recipientID string, readAt time.Time) ([]*types.Notification, error)
	Archive(ctx context.Context, ids []string, recipientID string, reason types.ArchiveReason, archivedAt, expiresAt time.Time) (int64, error)
	ArchiveSuperseded(ctx context.Context, recipientID string, typ types.NotificationType, keys map[string]string, before time.Time, supersededBy string, archivedAt, expiresAt time.Time) (int64, error)
	Delete(ctx context.Context, ids []string, recipientID string) (int64, error)
	ListUnreadIDs(ctx context.Context, recipientID string, typ types.NotificationType, before *time.Time) ([]string, error)
	List(ctx context.Context, filter db.ListFilter, page types.Page) ([]*types.Notification, int64, error)
	UnreadCount(ctx context.Context, recipientID string) (int64, error)
	Stats(ctx context.Context, recipientID string) (*types.NotificationStats, error)
}

// RecipientStore checks that a notification recipient exists.
type RecipientStore interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// Pusher delivers created notifications to in-process realtime subscribers.
type Pusher interface {
	Publish(n *types.Notification)
}

// Metrics is the telemetry subset the service emits.
type Metrics interface {
	RecordNotification(ctx context.Context, outcome string)
}

// Service implements the notification lifecycle operations.
type Service struct {
	store        Store
	recipients   RecipientStore
	enqueuer     queue.Enqueuer
	pusher       Pusher
	metrics      Metrics
	clock        types.Clock
	logger       types.Logger
	emailTimeout time.Duration
}

// ServiceConfig holds the dependencies for creating a Service.
type ServiceConfig struct {
	Store      Store
	Recipients RecipientStore
	Enqueuer   queue.Enqueuer
	Pusher     Pusher
	Metrics    Metrics
	Clock      types.Clock
	Logger     types.Logger
	// EmailScheduleTimeout bounds the email job enqueue during Create.
	// Zero means defaultEmailScheduleTimeout.
	EmailScheduleTimeout time.Duration
}

// NewService creates a notification Service.
func NewService(cfg ServiceConfig) *Service {
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = types.NopLogger{}
	}
	emailTimeout := cfg.EmailScheduleTimeout
	if emailTimeout <= 0 {
		emailTimeout = defaultEmailScheduleTimeout
	}
	return &Service{
		store:        cfg.Store,
		recipients:   cfg.Recipients,
		enqueuer:     cfg.Enqueuer,
		pusher:       cfg.Pusher,
		metrics:      cfg.Metrics,
		clock:        clock,
		logger:       logger,
		emailTimeout: emailTimeout,
	}
}

// CreateInput is the payload for Create. Channels and Cleanup are pointers
// so "not provided" is distinguishable from explicit zero values.
type CreateInput struct {
	RecipientID  string                 `json:"recipient_id" validate:"required"`
	SenderID     string                 `json:"sender_id,omitempty"`
	Type         types.NotificationType `json:"type" validate:"required"`
	Title        string                 `json:"title" validate:"required"`
	Message      string                 `json:"message" validate:"required"`
	Metadata     types.Metadata         `json:"metadata,omitempty"`
	Channels     *types.Channels        `json:"channels,omitempty"`
	Cleanup      *types.CleanupRules    `json:"cleanup_rules,omitempty"`
	ExpiresAt    *time.Time             `json:"expires_at,omitempty"`
	ScheduledFor *time.Time             `json:"scheduled_for,omitempty"`
}

// Create creates a notification, or returns the matching unread duplicate
// created within the last five minutes (idempotent create).
//
// Duplicate detection: among unread notifications with the same
// (recipient, type, title), the candidate wins when every correlation key
// present in the new payload (leadId, cabBookingId, roleId) matches it.
//
// Side effects on a fresh insert: an email-delivery job is scheduled when
// the email channel is on (best-effort, time-boxed), and the in-process
// realtime push fires when the in-app channel is on and the notification is
// not scheduled for the future.
func (s *Service) Create(ctx context.Context, input CreateInput) (*types.Notification, error) {
	if input.RecipientID == "" || input.Type == "" || input.Title == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "recipient_id, type and title are required", nil)
	}

	exists, err := s.recipients.Exists(ctx, input.RecipientID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, types.NewAppError(types.ErrCodeNotFoundRecipient, "notification recipient does not exist", nil)
	}

	now := s.clock.Now()

	candidates, err := s.store.FindRecentUnread(ctx, input.RecipientID, input.Type, input.Title, now.Add(-dedupWindow))
	if err != nil {
		return nil, err
	}
	if dup := findDuplicate(candidates, input.Metadata); dup != nil {
		s.logger.Info("duplicate notification suppressed",
			"notification_id", dup.ID,
			"recipient_id", input.RecipientID,
			"type", string(input.Type),
		)
		s.record(ctx, "deduped")
		return dup, nil
	}

	n := &types.Notification{
		ID:          "notif_" + uuid.NewString(),
		RecipientID: input.RecipientID,
		SenderID:    input.SenderID,
		Type:        input.Type,
		Title:       input.Title,
		Message:     input.Message,
		Metadata:    input.Metadata,
		Channels:    types.Channels{InApp: true, Email: false},
		Lifecycle:   types.Lifecycle{Status: types.StatusPending},
		Cleanup:     types.CleanupRules{CanAutoDelete: true},
		TimeRules:   types.TimeRules{ExpiresAt: input.ExpiresAt},
		ScheduledFor: input.ScheduledFor,
		CreatedAt:   now,
	}
	if input.Channels != nil {
		n.Channels = *input.Channels
	}
	if input.Cleanup != nil {
		n.Cleanup = *input.Cleanup
		// SupersededBy is never accepted from callers; it only appears on
		// archived documents reached via supersession.
		n.Cleanup.SupersededBy = ""
	}

	if err := s.store.Insert(ctx, n); err != nil {
		return nil, err
	}
	s.record(ctx, "created")

	if n.Channels.Email {
		s.scheduleEmail(ctx, n)
	}
	if n.Channels.InApp && s.pusher != nil && (n.ScheduledFor == nil || !n.ScheduledFor.After(now)) {
		s.pusher.Publish(n)
	}

	return n, nil
}

// scheduleEmail enqueues the email-delivery job for a notification,
// best-effort and bounded by the configured schedule timeout. Failure is
// logged only.
func (s *Service) scheduleEmail(ctx context.Context, n *types.Notification) {
	if s.enqueuer == nil {
		return
	}
	enqueueCtx, cancel := context.WithTimeout(ctx, s.emailTimeout)
	defer cancel()

	_, err := s.enqueuer.Enqueue(enqueueCtx, types.JobSendNotificationEmail,
		types.EmailPayload{NotificationID: n.ID}, queue.Options{})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = types.NewAppError(types.ErrCodeTimeoutEmailSchedule,
				"timed out scheduling notification email", err)
		}
		s.logger.Warn("failed to schedule notification email",
			"notification_id", n.ID,
			"error", err.Error(),
		)
	}
}

// MarkAsRead transitions the given notifications to READ, scoped to the
// recipient, then supersedes: for each just-read notification, older unread
// notifications for the same recipient and type whose leadId/cabBookingId
// correlation matches are archived as SUPERSEDED, pointing at the read one.
// A user who acts on the newest reminder for a lead should not keep seeing
// the stale earlier ones.
func (s *Service) MarkAsRead(ctx context.Context, ids []string, userID string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	now := s.clock.Now()

	read, err := s.store.MarkRead(ctx, ids, userID, now)
	if err != nil {
		return 0, err
	}

	for _, n := range read {
		keys := correlationKeys(n.Metadata, types.MetaKeyLeadID, types.MetaKeyCabBookingID)
		if len(keys) == 0 {
			continue
		}
		superseded, err := s.store.ArchiveSuperseded(ctx, n.RecipientID, n.Type, keys,
			n.CreatedAt, n.ID, now, now.Add(supersededTTL))
		if err != nil {
			// Supersession is a cleanup nicety; the read itself succeeded.
			s.logger.Error("supersession failed",
				"notification_id", n.ID,
				"error", err.Error(),
			)
			continue
		}
		if superseded > 0 {
			s.record(ctx, "superseded")
			s.logger.Info("stale notifications superseded",
				"notification_id", n.ID,
				"count", superseded,
			)
		}
	}

	return int64(len(read)), nil
}

// MarkAllAsRead resolves the recipient's unread set under optional type and
// before-date filters, then marks it read (with supersession).
func (s *Service) MarkAllAsRead(ctx context.Context, userID string, typ types.NotificationType, before *time.Time) (int64, error) {
	ids, err := s.store.ListUnreadIDs(ctx, userID, typ, before)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	return s.MarkAsRead(ctx, ids, userID)
}

// Archive archives the given notifications for the recipient with the given
// reason (defaulting to USER_ARCHIVED) and a three-day expiry.
func (s *Service) Archive(ctx context.Context, ids []string, userID string, reason types.ArchiveReason) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if reason == "" {
		reason = types.ArchiveReasonUser
	}
	now := s.clock.Now()
	return s.store.Archive(ctx, ids, userID, reason, now, now.Add(archivedTTL))
}

// Delete hard-deletes the targeted notifications that their cleanup rules
// permit. Preserved documents stay even when explicitly targeted; the
// returned count is how many were actually removed.
func (s *Service) Delete(ctx context.Context, ids []string, userID string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return s.store.Delete(ctx, ids, userID)
}

// BulkAction names an operation for BulkOperation.
type BulkAction string

const (
	BulkRead    BulkAction = "read"
	BulkArchive BulkAction = "archive"
	BulkDelete  BulkAction = "delete"
)

// BulkOperation dispatches a bulk action over the given ids and returns the
// count affected.
func (s *Service) BulkOperation(ctx context.Context, ids []string, userID string, action BulkAction) (int64, error) {
	switch action {
	case BulkRead:
		return s.MarkAsRead(ctx, ids, userID)
	case BulkArchive:
		return s.Archive(ctx, ids, userID, types.ArchiveReasonUser)
	case BulkDelete:
		return s.Delete(ctx, ids, userID)
	default:
		return 0, types.NewAppError(types.ErrCodeValidationInvalidAction, "unknown bulk action", nil)
	}
}

// List returns a page of the recipient's notifications, newest first.
func (s *Service) List(ctx context.Context, filter db.ListFilter, page types.Page) (*types.PageResult[*types.Notification], error) {
	items, total, err := s.store.List(ctx, filter, page)
	if err != nil {
		return nil, err
	}
	p := page.Normalize()
	return &types.PageResult[*types.Notification]{
		Items:   items,
		Page:    p.Number,
		Size:    p.Size,
		Total:   total,
		HasMore: int64(p.Offset()+len(items)) < total,
	}, nil
}

// UnreadCount returns the recipient's unread notification count.
func (s *Service) UnreadCount(ctx context.Context, userID string) (int64, error) {
	return s.store.UnreadCount(ctx, userID)
}

// Stats returns aggregate notification counts for the recipient.
func (s *Service) Stats(ctx context.Context, userID string) (*types.NotificationStats, error) {
	return s.store.Stats(ctx, userID)
}

func (s *Service) record(ctx context.Context, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordNotification(ctx, outcome)
	}
}

// findDuplicate returns the first candidate every correlation key present
// in the new metadata agrees with. With no correlation keys in the new
// payload the (recipient, type, title) triple alone decides, so the first
// candidate wins.
func findDuplicate(candidates []*types.Notification, metadata types.Metadata) *types.Notification {
	if len(candidates) == 0 {
		return nil
	}
	keys := correlationKeys(metadata, types.CorrelationKeys...)

	for _, c := range candidates {
		match := true
		for k, v := range keys {
			if c.Metadata.StringVal(k) != v {
				match = false
				break
			}
		}
		if match {
			return c
		}
	}
	return nil
}

// correlationKeys extracts the non-empty string values of the given
// metadata keys.
func correlationKeys(m types.Metadata, keys ...string) map[string]string {
	out := make(map[string]string)
	for _, k := range keys {
		if v := m.StringVal(k); v != "" {
			out[k] = v
		}
	}
	return out
}
