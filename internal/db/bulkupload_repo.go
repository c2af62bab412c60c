package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"estatecrm/internal/types"
)

// BulkUploadRepository provides data access for the bulk_uploads table.
// Status moves forward only; Claim and Complete scope their UPDATEs to the
// expected source status so replayed jobs cannot move a record backwards.
type BulkUploadRepository struct {
	db DBTX
}

// NewBulkUploadRepository creates a BulkUploadRepository.
func NewBulkUploadRepository(db DBTX) *BulkUploadRepository {
	return &BulkUploadRepository{db: db}
}

// Insert persists a new bulk upload record in IN_QUEUE state.
func (r *BulkUploadRepository) Insert(ctx context.Context, u *types.BulkUpload) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO bulk_uploads
		 (id, uploaded_by, file_ref, status, uploaded, duplicates,
		  invalid_phones, other_errors, details, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, 0, 0, 0, 0, '[]', $5, $5)`,
		u.ID, u.UploadedBy, u.FileRef, string(types.UploadInQueue), u.CreatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert bulk upload", err)
	}
	return nil
}

// GetByID fetches a single bulk upload record.
func (r *BulkUploadRepository) GetByID(ctx context.Context, id string) (*types.BulkUpload, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, uploaded_by, file_ref, status, uploaded, duplicates,
		        invalid_phones, other_errors, details, created_at, updated_at
		 FROM bulk_uploads WHERE id = $1`,
		id,
	)

	var (
		u           types.BulkUpload
		status      string
		detailsJSON []byte
	)
	err := row.Scan(&u.ID, &u.UploadedBy, &u.FileRef, &status, &u.Uploaded,
		&u.Duplicates, &u.InvalidPhones, &u.OtherErrors, &detailsJSON,
		&u.CreatedAt, &u.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, types.NewAppError(types.ErrCodeNotFoundBulkUpload, "bulk upload not found", nil)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get bulk upload", err)
	}
	u.Status = types.BulkUploadStatus(status)
	if len(detailsJSON) > 0 {
		_ = json.Unmarshal(detailsJSON, &u.Details)
	}
	return &u, nil
}

// Claim transitions an upload from IN_QUEUE to PROCESSING. Returns false
// when the record was not in IN_QUEUE (already claimed or finished), which
// makes a replayed bulkUploadLeads job a clean no-op.
func (r *BulkUploadRepository) Claim(ctx context.Context, id string, now time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE bulk_uploads SET status = $2, updated_at = $3
		 WHERE id = $1 AND status = $4`,
		id, string(types.UploadProcessing), now, string(types.UploadInQueue),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to claim bulk upload", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Complete transitions an upload from PROCESSING to COMPLETED and records
// the final counters and per-category detail lists.
func (r *BulkUploadRepository) Complete(ctx context.Context, u *types.BulkUpload, now time.Time) error {
	detailsJSON, err := json.Marshal(u.Details)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to marshal upload details", err)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE bulk_uploads SET
			status = $2,
			uploaded = $3,
			duplicates = $4,
			invalid_phones = $5,
			other_errors = $6,
			details = $7,
			updated_at = $8
		 WHERE id = $1 AND status = $9`,
		u.ID, string(types.UploadCompleted), u.Uploaded, u.Duplicates,
		u.InvalidPhones, u.OtherErrors, detailsJSON, now,
		string(types.UploadProcessing),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to complete bulk upload", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictStatusTransition, "bulk upload not in PROCESSING state", nil)
	}
	return nil
}
