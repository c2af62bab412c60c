package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"estatecrm/internal/types"
)

// FollowUpRepository provides data access for the follow_ups table.
//
// The notifications_sent column is a text[] of reminder tags already fired.
// AppendReminderTag is the sole write path for it and is a single guarded
// UPDATE, so two workers racing on the same follow-up cannot both fire the
// same tag: exactly one UPDATE matches, the other sees zero rows.
type FollowUpRepository struct {
	db DBTX
}

// NewFollowUpRepository creates a FollowUpRepository.
func NewFollowUpRepository(db DBTX) *FollowUpRepository {
	return &FollowUpRepository{db: db}
}

// Insert persists a new follow-up with an empty fired-tag set.
func (r *FollowUpRepository) Insert(ctx context.Context, f *types.FollowUp) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO follow_ups
		 (id, lead_id, follow_up_date, note, follow_up_type, notifications_sent, created_at)
		 VALUES ($1, $2, $3, $4, $5, '{}', $6)`,
		f.ID, f.LeadID, f.FollowUpDate, nilIfEmpty(f.Note), nilIfEmpty(f.FollowUpType), f.CreatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert follow-up", err)
	}
	return nil
}

// GetByID fetches a single follow-up.
func (r *FollowUpRepository) GetByID(ctx context.Context, id string) (*types.FollowUp, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, lead_id, follow_up_date, note, follow_up_type, notifications_sent, created_at
		 FROM follow_ups WHERE id = $1`,
		id,
	)
	f, err := scanFollowUp(row)
	if err == pgx.ErrNoRows {
		return nil, types.NewAppError(types.ErrCodeNotFoundFollowUp, "follow-up not found", nil)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get follow-up", err)
	}
	return f, nil
}

// ListDueInWindow returns follow-ups whose follow_up_date falls inside
// [from, to] and whose tag set does not already contain tag. The predicate
// runs in SQL so no document is fetched twice for work already done.
// Results come back in query-return order; ordering is irrelevant because
// every emission is tag-guarded.
func (r *FollowUpRepository) ListDueInWindow(ctx context.Context, from, to time.Time, tag types.ReminderTag, limit int) ([]*types.FollowUp, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, lead_id, follow_up_date, note, follow_up_type, notifications_sent, created_at
		 FROM follow_ups
		 WHERE follow_up_date >= $1 AND follow_up_date <= $2
		   AND NOT ($3 = ANY(notifications_sent))
		 LIMIT $4`,
		from, to, string(tag), limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query due follow-ups", err)
	}
	defer rows.Close()

	var results []*types.FollowUp
	for rows.Next() {
		f, scanErr := scanFollowUp(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan follow-up row", scanErr)
		}
		results = append(results, f)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating follow-up rows", err)
	}
	return results, nil
}

// AppendReminderTag atomically adds a reminder tag to a follow-up's fired
// set if it is not already present. Returns true when this call added the
// tag, false when another worker got there first (or the follow-up is gone).
// This is the add-to-set primitive the at-most-once reminder guarantee
// rests on: a single atomic read-modify-write, never a read-then-write pair.
func (r *FollowUpRepository) AppendReminderTag(ctx context.Context, id string, tag types.ReminderTag) (bool, error) {
	res, err := r.db.Exec(ctx,
		`UPDATE follow_ups
		 SET notifications_sent = array_append(notifications_sent, $2)
		 WHERE id = $1 AND NOT ($2 = ANY(notifications_sent))`,
		id, string(tag),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to append reminder tag", err)
	}
	return res.RowsAffected() > 0, nil
}

// scanFollowUp scans one follow-up row.
func scanFollowUp(row rowScanner) (*types.FollowUp, error) {
	var (
		f    types.FollowUp
		note *string
		typ  *string
		tags []string
	)
	err := row.Scan(&f.ID, &f.LeadID, &f.FollowUpDate, &note, &typ, &tags, &f.CreatedAt)
	if err != nil {
		return nil, err
	}
	if note != nil {
		f.Note = *note
	}
	if typ != nil {
		f.FollowUpType = *typ
	}
	f.NotificationsSent = make([]types.ReminderTag, 0, len(tags))
	for _, t := range tags {
		f.NotificationsSent = append(f.NotificationsSent, types.ReminderTag(t))
	}
	return &f, nil
}
