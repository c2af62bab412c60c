package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"estatecrm/internal/types"
)

// Note: mockDBTX, mockRow, and containsSQL are defined in
// notification_repo_test.go and reused here.

// leadMockRows implements pgx.Rows for the lead column set.
type leadMockRows struct {
	data   []leadRowData
	idx    int
	closed bool
	errVal error
}

type leadRowData struct {
	id, name, phone, status string
	assignedTo              *string
	uploadedBy              string
	managerID               *string
	createdAt, updatedAt    time.Time
}

func newLeadMockRows(data ...leadRowData) *leadMockRows {
	return &leadMockRows{data: data, idx: -1}
}

func (r *leadMockRows) Next() bool {
	if r.closed {
		return false
	}
	r.idx++
	return r.idx < len(r.data)
}

func (r *leadMockRows) Scan(dest ...any) error {
	row := r.data[r.idx]
	*dest[0].(*string) = row.id
	*dest[1].(*string) = row.name
	*dest[2].(*string) = row.phone
	*dest[3].(*string) = row.status
	*dest[4].(**string) = row.assignedTo
	*dest[5].(*string) = row.uploadedBy
	*dest[6].(**string) = row.managerID
	*dest[7].(*time.Time) = row.createdAt
	*dest[8].(*time.Time) = row.updatedAt
	return nil
}

func (r *leadMockRows) Close()                                       { r.closed = true }
func (r *leadMockRows) Err() error                                   { return r.errVal }
func (r *leadMockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *leadMockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *leadMockRows) RawValues() [][]byte                          { return nil }
func (r *leadMockRows) Values() ([]any, error)                       { return nil, nil }
func (r *leadMockRows) Conn() *pgx.Conn                              { return nil }

func TestLeadRepository_GetByID_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewLeadRepository(db)

	row := &mockRow{scanErr: pgx.ErrNoRows}
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(row)

	_, err := repo.GetByID(context.Background(), "lead_missing")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundLead, appErr.Code)
}

// SelectUnassigned must treat NULL and empty-string assigned_to alike and
// hand leads out oldest first.
func TestLeadRepository_SelectUnassigned_FIFO(t *testing.T) {
	db := new(mockDBTX)
	repo := NewLeadRepository(db)

	base := time.Date(2025, 6, 15, 9, 0, 0, 0, time.UTC)
	rows := newLeadMockRows(
		leadRowData{id: "lead_old", name: "Alice", phone: "+15550001111", status: "new", uploadedBy: "emp_mgr", createdAt: base, updatedAt: base},
		leadRowData{id: "lead_new", name: "Bob", phone: "+15550002222", status: "new", uploadedBy: "emp_mgr", createdAt: base.Add(time.Minute), updatedAt: base.Add(time.Minute)},
	)

	db.On("Query", mock.Anything,
		containsSQL(
			"(assigned_to IS NULL OR assigned_to = '')",
			"ORDER BY created_at ASC",
			"LIMIT $3",
		),
		mock.MatchedBy(func(args []any) bool {
			return len(args) == 3 && args[0] == "new" && args[1] == "emp_mgr" && args[2] == 10
		}),
	).Return(rows, nil)

	leads, err := repo.SelectUnassigned(context.Background(), types.LeadStatusNew, "emp_mgr", 10)
	require.NoError(t, err)
	require.Len(t, leads, 2)
	assert.Equal(t, "lead_old", leads[0].ID)
	assert.Equal(t, "lead_new", leads[1].ID)
	db.AssertExpectations(t)
}

// UpdateAssignments normalizes both representations of "unassigned" (nil and
// empty string) to SQL NULL in the batched values array.
func TestLeadRepository_UpdateAssignments_NormalizesEmptyToNull(t *testing.T) {
	db := new(mockDBTX)
	repo := NewLeadRepository(db)

	agent := "emp_agent"
	empty := ""
	updates := []AssignmentUpdate{
		{LeadID: "lead_1", AssignedTo: &agent},
		{LeadID: "lead_2", AssignedTo: nil},
		{LeadID: "lead_3", AssignedTo: &empty},
	}

	db.On("Exec", mock.Anything,
		containsSQL("unnest($1::text[])", "unnest($2::text[])"),
		mock.MatchedBy(func(args []any) bool {
			values, ok := args[1].([]*string)
			if !ok || len(values) != 3 {
				return false
			}
			return values[0] != nil && *values[0] == "emp_agent" &&
				values[1] == nil && values[2] == nil
		}),
	).Return(pgconn.NewCommandTag("UPDATE 3"), nil)

	count, err := repo.UpdateAssignments(context.Background(), updates, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
	db.AssertExpectations(t)
}

func TestLeadRepository_UpdateAssignments_EmptyIsNoOp(t *testing.T) {
	db := new(mockDBTX)
	repo := NewLeadRepository(db)

	count, err := repo.UpdateAssignments(context.Background(), nil, time.Now())
	require.NoError(t, err)
	assert.Zero(t, count)
	db.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)
}
