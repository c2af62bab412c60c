package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"estatecrm/internal/types"
)

// NotificationRepository provides data access for the notifications table.
// Status transitions are enforced in SQL by scoping every UPDATE to the
// statuses the lifecycle state machine allows as sources, so a concurrent
// writer can never move a notification backwards.
type NotificationRepository struct {
	db DBTX
}

// NewNotificationRepository creates a NotificationRepository backed by the
// given database connection (pool or transaction).
func NewNotificationRepository(db DBTX) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Insert persists a new notification. The caller must set the ID and
// CreatedAt before calling.
func (r *NotificationRepository) Insert(ctx context.Context, n *types.Notification) error {
	metadata, err := json.Marshal(n.Metadata)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to marshal notification metadata", err)
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO notifications
		 (id, recipient_id, sender_id, type, title, message, metadata,
		  channel_in_app, channel_email, status, expires_at,
		  can_auto_delete, preserve_if_unread, preserve_if_actionable,
		  scheduled_for, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		n.ID,
		n.RecipientID,
		nilIfEmpty(n.SenderID),
		string(n.Type),
		n.Title,
		n.Message,
		metadata,
		n.Channels.InApp,
		n.Channels.Email,
		string(n.Lifecycle.Status),
		n.TimeRules.ExpiresAt,
		n.Cleanup.CanAutoDelete,
		n.Cleanup.PreserveIfUnread,
		n.Cleanup.PreserveIfActionable,
		n.ScheduledFor,
		n.CreatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert notification", err)
	}
	return nil
}

// GetByID fetches a single notification.
func (r *NotificationRepository) GetByID(ctx context.Context, id string) (*types.Notification, error) {
	row := r.db.QueryRow(ctx, selectColumns+` FROM notifications WHERE id = $1`, id)
	n, err := scanNotification(row)
	if err == pgx.ErrNoRows {
		return nil, types.NewAppError(types.ErrCodeNotFoundNotification, "notification not found", nil)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get notification", err)
	}
	return n, nil
}

// FindRecentUnread returns unread notifications for the same
// (recipient, type, title) created at or after since, newest first. The
// caller applies metadata correlation-key matching; only the coarse
// predicate runs in SQL.
func (r *NotificationRepository) FindRecentUnread(ctx context.Context, recipientID string, typ types.NotificationType, title string, since time.Time) ([]*types.Notification, error) {
	rows, err := r.db.Query(ctx,
		selectColumns+`
		 FROM notifications
		 WHERE recipient_id = $1 AND type = $2 AND title = $3
		   AND status IN ('PENDING', 'DELIVERED')
		   AND created_at >= $4
		 ORDER BY created_at DESC`,
		recipientID, string(typ), title, since,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query recent unread notifications", err)
	}
	defer rows.Close()
	return collectNotifications(rows)
}

// MarkRead transitions the given notifications to READ, scoped to the
// recipient and to currently-unread statuses. It returns the rows that were
// actually transitioned so the caller can run supersession against them.
func (r *NotificationRepository) MarkRead(ctx context.Context, ids []string, recipientID string, readAt time.Time) ([]*types.Notification, error) {
	rows, err := r.db.Query(ctx,
		`UPDATE notifications SET
			status = 'READ',
			read_at = $3
		 WHERE id = ANY($1)
		   AND recipient_id = $2
		   AND status IN ('PENDING', 'DELIVERED')
		 RETURNING `+returningColumns,
		ids, recipientID, readAt,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to mark notifications read", err)
	}
	defer rows.Close()
	return collectNotifications(rows)
}

// MarkDelivered moves a PENDING notification to DELIVERED and stamps
// delivered_at. A no-op for notifications already past PENDING (the email
// dispatcher may run after the user has read the in-app copy).
func (r *NotificationRepository) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE notifications SET
			status = 'DELIVERED',
			delivered_at = $2
		 WHERE id = $1 AND status = 'PENDING'`,
		id, at,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark notification delivered", err)
	}
	return nil
}

// Archive transitions the given notifications to ARCHIVED, scoped to the
// recipient and non-terminal statuses, stamping the reason and expiry.
// Returns the number of notifications archived.
func (r *NotificationRepository) Archive(ctx context.Context, ids []string, recipientID string, reason types.ArchiveReason, archivedAt time.Time, expiresAt time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE notifications SET
			status = 'ARCHIVED',
			archived_at = $3,
			archived_reason = $4,
			expires_at = $5
		 WHERE id = ANY($1)
		   AND recipient_id = $2
		   AND status IN ('PENDING', 'DELIVERED', 'READ')`,
		ids, recipientID, archivedAt, string(reason), expiresAt,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to archive notifications", err)
	}
	return tag.RowsAffected(), nil
}

// ArchiveSuperseded archives still-unread notifications for the same
// recipient and type whose correlation metadata matches and which were
// created before the superseding notification. superseded_by is stamped
// exactly here and nowhere else, keeping the invariant that it only ever
// appears on ARCHIVED rows reached via supersession.
//
// keys maps metadata correlation keys (leadId, cabBookingId) to the values
// of the superseding notification; a row matches when ANY provided key
// matches.
func (r *NotificationRepository) ArchiveSuperseded(ctx context.Context, recipientID string, typ types.NotificationType, keys map[string]string, before time.Time, supersededBy string, archivedAt time.Time, expiresAt time.Time) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	args := []any{recipientID, string(typ), before, supersededBy, archivedAt, expiresAt}
	argIdx := len(args) + 1

	var keyConds []string
	for _, k := range types.CorrelationKeys {
		v, ok := keys[k]
		if !ok {
			continue
		}
		keyConds = append(keyConds, fmt.Sprintf("metadata->>'%s' = $%d", k, argIdx))
		args = append(args, v)
		argIdx++
	}
	if len(keyConds) == 0 {
		return 0, nil
	}

	query := fmt.Sprintf(
		`UPDATE notifications SET
			status = 'ARCHIVED',
			archived_at = $5,
			archived_reason = 'SUPERSEDED',
			superseded_by = $4,
			expires_at = $6
		 WHERE recipient_id = $1
		   AND type = $2
		   AND status IN ('PENDING', 'DELIVERED')
		   AND created_at < $3
		   AND id <> $4
		   AND (%s)`,
		strings.Join(keyConds, " OR "),
	)

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to archive superseded notifications", err)
	}
	return tag.RowsAffected(), nil
}

// Delete hard-deletes the targeted notifications, honoring cleanup rules:
// only rows with can_auto_delete survive the filter, and rows protected by
// preserve_if_unread (while unread) or preserve_if_actionable (while their
// metadata marks them actionable) are excluded even when explicitly
// targeted. Delete is filtered best-effort, not a guaranteed removal.
func (r *NotificationRepository) Delete(ctx context.Context, ids []string, recipientID string) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM notifications
		 WHERE id = ANY($1)
		   AND recipient_id = $2
		   AND can_auto_delete
		   AND NOT (preserve_if_unread AND status IN ('PENDING', 'DELIVERED'))
		   AND NOT (preserve_if_actionable AND COALESCE(metadata->>'isActionable', 'false') = 'true')`,
		ids, recipientID,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete notifications", err)
	}
	return tag.RowsAffected(), nil
}

// ListUnreadIDs resolves the unread id set for markAllAsRead, under optional
// type and before-date filters.
func (r *NotificationRepository) ListUnreadIDs(ctx context.Context, recipientID string, typ types.NotificationType, before *time.Time) ([]string, error) {
	conditions := []string{"recipient_id = $1", "status IN ('PENDING', 'DELIVERED')"}
	args := []any{recipientID}
	argIdx := 2

	if typ != "" {
		conditions = append(conditions, fmt.Sprintf("type = $%d", argIdx))
		args = append(args, string(typ))
		argIdx++
	}
	if before != nil {
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", argIdx))
		args = append(args, *before)
	}

	rows, err := r.db.Query(ctx,
		`SELECT id FROM notifications WHERE `+strings.Join(conditions, " AND "),
		args...,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list unread notification ids", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan notification id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating notification ids", err)
	}
	return ids, nil
}

// ListFilter selects notifications for the list endpoint.
type ListFilter struct {
	RecipientID string
	// Status accepts a concrete status or the pseudo-status "unread".
	Status   string
	Type     types.NotificationType
	Priority types.Priority
	From     *time.Time
	To       *time.Time
}

// List returns a page of notifications for a recipient, newest first, plus
// the total row count for the filter.
func (r *NotificationRepository) List(ctx context.Context, filter ListFilter, page types.Page) ([]*types.Notification, int64, error) {
	conditions := []string{"recipient_id = $1"}
	args := []any{filter.RecipientID}
	argIdx := 2

	switch filter.Status {
	case "":
		// no status filter
	case "unread":
		conditions = append(conditions, "status IN ('PENDING', 'DELIVERED')")
	default:
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}
	if filter.Type != "" {
		conditions = append(conditions, fmt.Sprintf("type = $%d", argIdx))
		args = append(args, string(filter.Type))
		argIdx++
	}
	if filter.Priority != "" {
		conditions = append(conditions, fmt.Sprintf("metadata->>'priority' = $%d", argIdx))
		args = append(args, string(filter.Priority))
		argIdx++
	}
	if filter.From != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIdx))
		args = append(args, *filter.From)
		argIdx++
	}
	if filter.To != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argIdx))
		args = append(args, *filter.To)
		argIdx++
	}

	where := "WHERE " + strings.Join(conditions, " AND ")

	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM notifications `+where, args...).Scan(&total); err != nil {
		return nil, 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count notifications", err)
	}

	p := page.Normalize()
	query := fmt.Sprintf(
		selectColumns+` FROM notifications %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		where, argIdx, argIdx+1,
	)
	args = append(args, p.Size, p.Offset())

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, types.NewAppError(types.ErrCodeInternalDB, "failed to list notifications", err)
	}
	defer rows.Close()

	items, err := collectNotifications(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// UnreadCount returns the number of unread notifications for a recipient.
func (r *NotificationRepository) UnreadCount(ctx context.Context, recipientID string) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications
		 WHERE recipient_id = $1 AND status IN ('PENDING', 'DELIVERED')`,
		recipientID,
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count unread notifications", err)
	}
	return count, nil
}

// Stats aggregates notification counts for a recipient.
func (r *NotificationRepository) Stats(ctx context.Context, recipientID string) (*types.NotificationStats, error) {
	stats := &types.NotificationStats{CountByType: make(map[types.NotificationType]int64)}

	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE status IN ('PENDING', 'DELIVERED')),
		        COUNT(*) FILTER (WHERE status = 'ARCHIVED')
		 FROM notifications WHERE recipient_id = $1`,
		recipientID,
	).Scan(&stats.Total, &stats.Unread, &stats.Archived)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to aggregate notification stats", err)
	}

	rows, err := r.db.Query(ctx,
		`SELECT type, COUNT(*) FROM notifications WHERE recipient_id = $1 GROUP BY type`,
		recipientID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to aggregate notification type counts", err)
	}
	defer rows.Close()

	for rows.Next() {
		var typ string
		var count int64
		if err := rows.Scan(&typ, &count); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan type count", err)
		}
		stats.CountByType[types.NotificationType(typ)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating type counts", err)
	}
	return stats, nil
}

// DeleteExpired hard-deletes notifications whose expires_at has passed,
// honoring the same preservation flags as Delete. Returns the count removed.
func (r *NotificationRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM notifications
		 WHERE expires_at IS NOT NULL AND expires_at <= $1
		   AND can_auto_delete
		   AND NOT (preserve_if_unread AND status IN ('PENDING', 'DELIVERED'))
		   AND NOT (preserve_if_actionable AND COALESCE(metadata->>'isActionable', 'false') = 'true')`,
		now,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete expired notifications", err)
	}
	return tag.RowsAffected(), nil
}

// ListPurgeable returns aged READ/ARCHIVED notifications older than the
// cutoff, capped at limit. The cleanup job exports them before deletion.
func (r *NotificationRepository) ListPurgeable(ctx context.Context, cutoff time.Time, limit int) ([]*types.Notification, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.db.Query(ctx,
		selectColumns+`
		 FROM notifications
		 WHERE status IN ('READ', 'ARCHIVED')
		   AND created_at < $1
		   AND can_auto_delete
		 ORDER BY created_at
		 LIMIT $2`,
		cutoff, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list purgeable notifications", err)
	}
	defer rows.Close()
	return collectNotifications(rows)
}

// DeleteByIDs removes the given notifications unconditionally. Only the
// cleanup job calls this, after exporting the rows.
func (r *NotificationRepository) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM notifications WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete notifications by id", err)
	}
	return tag.RowsAffected(), nil
}

const selectColumns = `SELECT id, recipient_id, sender_id, type, title, message, metadata,
	channel_in_app, channel_email, status, read_at, delivered_at,
	archived_at, archived_reason, superseded_by, expires_at,
	can_auto_delete, preserve_if_unread, preserve_if_actionable,
	scheduled_for, created_at`

// returningColumns mirrors selectColumns without the SELECT keyword, for
// RETURNING clauses.
const returningColumns = `id, recipient_id, sender_id, type, title, message, metadata,
	channel_in_app, channel_email, status, read_at, delivered_at,
	archived_at, archived_reason, superseded_by, expires_at,
	can_auto_delete, preserve_if_unread, preserve_if_actionable,
	scheduled_for, created_at`

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanNotification scans one notification row. Handles nullable columns via
// pointer types.
func scanNotification(row rowScanner) (*types.Notification, error) {
	var (
		n              types.Notification
		senderID       *string
		typ            string
		metadataJSON   []byte
		status         string
		archivedReason *string
		supersededBy   *string
	)

	err := row.Scan(
		&n.ID,
		&n.RecipientID,
		&senderID,
		&typ,
		&n.Title,
		&n.Message,
		&metadataJSON,
		&n.Channels.InApp,
		&n.Channels.Email,
		&status,
		&n.Lifecycle.ReadAt,
		&n.Lifecycle.DeliveredAt,
		&n.Lifecycle.ArchivedAt,
		&archivedReason,
		&supersededBy,
		&n.TimeRules.ExpiresAt,
		&n.Cleanup.CanAutoDelete,
		&n.Cleanup.PreserveIfUnread,
		&n.Cleanup.PreserveIfActionable,
		&n.ScheduledFor,
		&n.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if senderID != nil {
		n.SenderID = *senderID
	}
	n.Type = types.NotificationType(typ)
	n.Lifecycle.Status = types.NotificationStatus(status)
	if archivedReason != nil {
		n.Lifecycle.ArchivedReason = types.ArchiveReason(*archivedReason)
	}
	if supersededBy != nil {
		n.Cleanup.SupersededBy = *supersededBy
	}
	if len(metadataJSON) > 0 {
		// Malformed metadata degrades to an empty map rather than failing
		// the whole read.
		_ = json.Unmarshal(metadataJSON, &n.Metadata)
	}

	return &n, nil
}

// collectNotifications drains a pgx.Rows into a slice.
func collectNotifications(rows pgx.Rows) ([]*types.Notification, error) {
	var results []*types.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan notification row", err)
		}
		results = append(results, n)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating notification rows", err)
	}
	return results, nil
}
