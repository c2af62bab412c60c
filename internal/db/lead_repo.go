package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"estatecrm/internal/types"
)

// LeadRepository provides data access for the leads and
// lead_assignment_history tables. History is append-only: nothing here
// updates or deletes a history row.
type LeadRepository struct {
	db DBTX
}

// NewLeadRepository creates a LeadRepository.
func NewLeadRepository(db DBTX) *LeadRepository {
	return &LeadRepository{db: db}
}

// GetByID fetches a single lead.
func (r *LeadRepository) GetByID(ctx context.Context, id string) (*types.Lead, error) {
	row := r.db.QueryRow(ctx, leadColumns+` FROM leads WHERE id = $1`, id)
	l, err := scanLead(row)
	if err == pgx.ErrNoRows {
		return nil, types.NewAppError(types.ErrCodeNotFoundLead, "lead not found", nil)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get lead", err)
	}
	return l, nil
}

// SelectUnassigned returns up to limit unassigned leads matching the status
// filter and uploaded by the given user, oldest-created-first (FIFO
// fairness). The uploaded_by scope keeps one actor's bulk operation from
// claiming another's leads.
func (r *LeadRepository) SelectUnassigned(ctx context.Context, status types.LeadStatus, uploadedBy string, limit int) ([]*types.Lead, error) {
	rows, err := r.db.Query(ctx,
		leadColumns+`
		 FROM leads
		 WHERE status = $1
		   AND uploaded_by = $2
		   AND (assigned_to IS NULL OR assigned_to = '')
		 ORDER BY created_at ASC
		 LIMIT $3`,
		string(status), uploadedBy, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to select unassigned leads", err)
	}
	defer rows.Close()
	return collectLeads(rows)
}

// CountUnassigned returns the number of unassigned leads matching the
// status filter for the given uploader.
func (r *LeadRepository) CountUnassigned(ctx context.Context, status types.LeadStatus, uploadedBy string) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM leads
		 WHERE status = $1 AND uploaded_by = $2
		   AND (assigned_to IS NULL OR assigned_to = '')`,
		string(status), uploadedBy,
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count unassigned leads", err)
	}
	return count, nil
}

// AssignmentUpdate is one lead mutation inside a batched assignment write.
type AssignmentUpdate struct {
	LeadID     string
	AssignedTo *string
}

// UpdateAssignments applies all lead assigned_to mutations as one batched
// statement. Empty-string values are normalized to NULL. Returns the number
// of leads updated.
func (r *LeadRepository) UpdateAssignments(ctx context.Context, updates []AssignmentUpdate, now time.Time) (int64, error) {
	if len(updates) == 0 {
		return 0, nil
	}

	ids := make([]string, len(updates))
	values := make([]*string, len(updates))
	for i, u := range updates {
		ids[i] = u.LeadID
		if u.AssignedTo != nil && *u.AssignedTo != "" {
			values[i] = u.AssignedTo
		}
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE leads SET
			assigned_to = v.assigned_to,
			updated_at = $3
		 FROM (SELECT unnest($1::text[]) AS id, unnest($2::text[]) AS assigned_to) v
		 WHERE leads.id = v.id`,
		ids, values, now,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to update lead assignments", err)
	}
	return tag.RowsAffected(), nil
}

// InsertHistory appends assignment history rows. Rows are never updated or
// deleted afterwards; a revert appends new REVERT rows instead.
func (r *LeadRepository) InsertHistory(ctx context.Context, rows []*types.LeadAssignmentHistory) error {
	if len(rows) == 0 {
		return nil
	}

	ids := make([]string, len(rows))
	batchIDs := make([]string, len(rows))
	leadIDs := make([]string, len(rows))
	prev := make([]*string, len(rows))
	next := make([]*string, len(rows))
	updatedBy := make([]string, len(rows))
	actions := make([]string, len(rows))
	created := make([]time.Time, len(rows))

	for i, h := range rows {
		ids[i] = h.ID
		batchIDs[i] = h.BatchID
		leadIDs[i] = h.LeadID
		if h.PreviousAssignedTo != nil && *h.PreviousAssignedTo != "" {
			prev[i] = h.PreviousAssignedTo
		}
		if h.NewAssignedTo != nil && *h.NewAssignedTo != "" {
			next[i] = h.NewAssignedTo
		}
		updatedBy[i] = h.UpdatedBy
		actions[i] = string(h.ActionType)
		created[i] = h.CreatedAt
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO lead_assignment_history
		 (id, batch_id, lead_id, previous_assigned_to, new_assigned_to,
		  updated_by, action_type, created_at)
		 SELECT * FROM unnest($1::text[], $2::text[], $3::text[], $4::text[],
		                      $5::text[], $6::text[], $7::text[], $8::timestamptz[])`,
		ids, batchIDs, leadIDs, prev, next, updatedBy, actions, created,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert assignment history", err)
	}
	return nil
}

// ListHistory returns the history rows of a batch with the given action
// type, in insertion order.
func (r *LeadRepository) ListHistory(ctx context.Context, batchID string, action types.ActionType) ([]*types.LeadAssignmentHistory, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, batch_id, lead_id, previous_assigned_to, new_assigned_to,
		        updated_by, action_type, created_at
		 FROM lead_assignment_history
		 WHERE batch_id = $1 AND action_type = $2
		 ORDER BY created_at, id`,
		batchID, string(action),
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list assignment history", err)
	}
	defer rows.Close()

	var results []*types.LeadAssignmentHistory
	for rows.Next() {
		var (
			h      types.LeadAssignmentHistory
			action string
		)
		if err := rows.Scan(&h.ID, &h.BatchID, &h.LeadID, &h.PreviousAssignedTo,
			&h.NewAssignedTo, &h.UpdatedBy, &action, &h.CreatedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan history row", err)
		}
		h.ActionType = types.ActionType(action)
		results = append(results, &h)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating history rows", err)
	}
	return results, nil
}

// InsertLeads persists new leads from a bulk upload.
func (r *LeadRepository) InsertLeads(ctx context.Context, leads []*types.Lead) error {
	if len(leads) == 0 {
		return nil
	}

	ids := make([]string, len(leads))
	names := make([]string, len(leads))
	phones := make([]string, len(leads))
	statuses := make([]string, len(leads))
	uploadedBy := make([]string, len(leads))
	managers := make([]*string, len(leads))
	created := make([]time.Time, len(leads))

	for i, l := range leads {
		ids[i] = l.ID
		names[i] = l.Name
		phones[i] = l.Phone
		statuses[i] = string(l.Status)
		uploadedBy[i] = l.UploadedBy
		if l.ManagerID != "" {
			m := l.ManagerID
			managers[i] = &m
		}
		created[i] = l.CreatedAt
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO leads (id, name, phone, status, uploaded_by, manager_id, created_at, updated_at)
		 SELECT id, name, phone, status, uploaded_by, manager_id, created_at, created_at
		 FROM unnest($1::text[], $2::text[], $3::text[], $4::text[],
		             $5::text[], $6::text[], $7::timestamptz[])
		      AS t(id, name, phone, status, uploaded_by, manager_id, created_at)`,
		ids, names, phones, statuses, uploadedBy, managers, created,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert leads", err)
	}
	return nil
}

// ExistingPhones returns which of the given phone numbers already exist,
// used by the bulk upload duplicate classifier.
func (r *LeadRepository) ExistingPhones(ctx context.Context, phones []string) (map[string]bool, error) {
	rows, err := r.db.Query(ctx, `SELECT phone FROM leads WHERE phone = ANY($1)`, phones)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query existing phones", err)
	}
	defer rows.Close()

	existing := make(map[string]bool)
	for rows.Next() {
		var phone string
		if err := rows.Scan(&phone); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan phone", err)
		}
		existing[phone] = true
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating phones", err)
	}
	return existing, nil
}

const leadColumns = `SELECT id, name, phone, status, assigned_to, uploaded_by, manager_id, created_at, updated_at`

// scanLead scans one lead row.
func scanLead(row rowScanner) (*types.Lead, error) {
	var (
		l       types.Lead
		status  string
		manager *string
	)
	err := row.Scan(&l.ID, &l.Name, &l.Phone, &status, &l.AssignedTo,
		&l.UploadedBy, &manager, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	l.Status = types.LeadStatus(status)
	if manager != nil {
		l.ManagerID = *manager
	}
	return &l, nil
}

// collectLeads drains a pgx.Rows into a slice.
func collectLeads(rows pgx.Rows) ([]*types.Lead, error) {
	var results []*types.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan lead row", err)
		}
		results = append(results, l)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating lead rows", err)
	}
	return results, nil
}
