package db

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"estatecrm/internal/types"
)

// --- Mock DBTX ---

type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if r := args.Get(0); r != nil {
		return r.(pgx.Rows), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// --- Mock Row ---

type mockRow struct {
	scanErr error
	scanFn  func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.scanFn != nil {
		return r.scanFn(dest...)
	}
	return r.scanErr
}

// notifMockRows implements pgx.Rows for the notification column set.
type notifMockRows struct {
	data    []notifRowData
	idx     int
	closed  bool
	errVal  error
	scanErr error
}

type notifRowData struct {
	id, recipientID      string
	senderID             *string
	typ, title, message  string
	metadata             []byte
	inApp, email         bool
	status               string
	readAt, deliveredAt  *time.Time
	archivedAt           *time.Time
	archivedReason       *string
	supersededBy         *string
	expiresAt            *time.Time
	canAutoDelete        bool
	preserveIfUnread     bool
	preserveIfActionable bool
	scheduledFor         *time.Time
	createdAt            time.Time
}

func newNotifMockRows(data ...notifRowData) *notifMockRows {
	return &notifMockRows{data: data, idx: -1}
}

func (r *notifMockRows) Next() bool {
	if r.closed {
		return false
	}
	r.idx++
	return r.idx < len(r.data)
}

func (r *notifMockRows) Scan(dest ...any) error {
	if r.scanErr != nil {
		return r.scanErr
	}
	row := r.data[r.idx]
	*dest[0].(*string) = row.id
	*dest[1].(*string) = row.recipientID
	*dest[2].(**string) = row.senderID
	*dest[3].(*string) = row.typ
	*dest[4].(*string) = row.title
	*dest[5].(*string) = row.message
	*dest[6].(*[]byte) = row.metadata
	*dest[7].(*bool) = row.inApp
	*dest[8].(*bool) = row.email
	*dest[9].(*string) = row.status
	*dest[10].(**time.Time) = row.readAt
	*dest[11].(**time.Time) = row.deliveredAt
	*dest[12].(**time.Time) = row.archivedAt
	*dest[13].(**string) = row.archivedReason
	*dest[14].(**string) = row.supersededBy
	*dest[15].(**time.Time) = row.expiresAt
	*dest[16].(*bool) = row.canAutoDelete
	*dest[17].(*bool) = row.preserveIfUnread
	*dest[18].(*bool) = row.preserveIfActionable
	*dest[19].(**time.Time) = row.scheduledFor
	*dest[20].(*time.Time) = row.createdAt
	return nil
}

func (r *notifMockRows) Close()                                       { r.closed = true }
func (r *notifMockRows) Err() error                                   { return r.errVal }
func (r *notifMockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *notifMockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *notifMockRows) RawValues() [][]byte                          { return nil }
func (r *notifMockRows) Values() ([]any, error)                       { return nil, nil }
func (r *notifMockRows) Conn() *pgx.Conn                              { return nil }

// containsSQL matches a statement containing every given fragment.
func containsSQL(fragments ...string) any {
	return mock.MatchedBy(func(sql string) bool {
		for _, f := range fragments {
			if !strings.Contains(sql, f) {
				return false
			}
		}
		return true
	})
}

// ============================================================
// Insert / GetByID
// ============================================================

func TestNotificationRepository_Insert_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewNotificationRepository(db)

	n := &types.Notification{
		ID:          "notif_1",
		RecipientID: "emp_1",
		Type:        types.TypeLeadAssigned,
		Title:       "New lead assigned",
		Message:     "Lead Alice has been assigned to you.",
		Metadata:    types.Metadata{types.MetaKeyLeadID: "lead_1"},
		Channels:    types.Channels{InApp: true},
		CreatedAt:   time.Now().UTC(),
	}
	n.Lifecycle.Status = types.StatusPending
	n.Cleanup.CanAutoDelete = true

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	err := repo.Insert(context.Background(), n)
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestNotificationRepository_Insert_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewNotificationRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))

	err := repo.Insert(context.Background(), &types.Notification{ID: "notif_1"})
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestNotificationRepository_GetByID_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewNotificationRepository(db)

	row := &mockRow{scanErr: pgx.ErrNoRows}
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(row)

	_, err := repo.GetByID(context.Background(), "notif_missing")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundNotification, appErr.Code)
}

// ============================================================
// Delete / DeleteExpired
// ============================================================

// Delete must carry all three preservation predicates, so a targeted delete
// cannot remove a row whose cleanup rules protect it. The statement itself
// is the contract: a preserve_if_unread PENDING row survives because it
// never matches the WHERE clause.
func TestNotificationRepository_Delete_CarriesPreservationPredicates(t *testing.T) {
	db := new(mockDBTX)
	repo := NewNotificationRepository(db)

	ids := []string{"notif_1", "notif_2"}
	db.On("Exec", mock.Anything,
		containsSQL(
			"can_auto_delete",
			"NOT (preserve_if_unread AND status IN ('PENDING', 'DELIVERED'))",
			"NOT (preserve_if_actionable AND COALESCE(metadata->>'isActionable', 'false') = 'true')",
		),
		mock.MatchedBy(func(args []any) bool {
			return len(args) == 2 && args[1] == "emp_1"
		}),
	).Return(pgconn.NewCommandTag("DELETE 1"), nil)

	// Two rows targeted, one protected: the count reflects what the filter
	// let through.
	count, err := repo.Delete(context.Background(), ids, "emp_1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	db.AssertExpectations(t)
}

func TestNotificationRepository_DeleteExpired_CarriesPreservationPredicates(t *testing.T) {
	db := new(mockDBTX)
	repo := NewNotificationRepository(db)

	now := time.Now().UTC()
	db.On("Exec", mock.Anything,
		containsSQL(
			"expires_at IS NOT NULL AND expires_at <= $1",
			"can_auto_delete",
			"NOT (preserve_if_unread AND status IN ('PENDING', 'DELIVERED'))",
			"NOT (preserve_if_actionable AND COALESCE(metadata->>'isActionable', 'false') = 'true')",
		),
		mock.MatchedBy(func(args []any) bool {
			return len(args) == 1 && args[0] == now
		}),
	).Return(pgconn.NewCommandTag("DELETE 4"), nil)

	count, err := repo.DeleteExpired(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
	db.AssertExpectations(t)
}

// ============================================================
// ArchiveSuperseded
// ============================================================

func TestNotificationRepository_ArchiveSuperseded_NoKeysIsNoOp(t *testing.T) {
	db := new(mockDBTX)
	repo := NewNotificationRepository(db)

	count, err := repo.ArchiveSuperseded(context.Background(), "emp_1",
		types.TypeLeadFollowUpDue, nil, time.Now(), "notif_new", time.Now(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, count)
	db.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)
}

func TestNotificationRepository_ArchiveSuperseded_UnrecognizedKeysIsNoOp(t *testing.T) {
	db := new(mockDBTX)
	repo := NewNotificationRepository(db)

	count, err := repo.ArchiveSuperseded(context.Background(), "emp_1",
		types.TypeLeadFollowUpDue, map[string]string{"randomKey": "x"},
		time.Now(), "notif_new", time.Now(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, count)
	db.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)
}

func TestNotificationRepository_ArchiveSuperseded_MatchesCorrelationKey(t *testing.T) {
	db := new(mockDBTX)
	repo := NewNotificationRepository(db)

	before := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	archivedAt := before.Add(time.Minute)
	expiresAt := archivedAt.Add(24 * time.Hour)

	db.On("Exec", mock.Anything,
		containsSQL(
			"archived_reason = 'SUPERSEDED'",
			"superseded_by = $4",
			"status IN ('PENDING', 'DELIVERED')",
			"created_at < $3",
			"id <> $4",
			"metadata->>'leadId' = $7",
		),
		mock.MatchedBy(func(args []any) bool {
			return len(args) == 7 &&
				args[0] == "emp_1" &&
				args[1] == string(types.TypeLeadFollowUpDue) &&
				args[3] == "notif_new" &&
				args[6] == "lead_1"
		}),
	).Return(pgconn.NewCommandTag("UPDATE 3"), nil)

	count, err := repo.ArchiveSuperseded(context.Background(), "emp_1",
		types.TypeLeadFollowUpDue, map[string]string{types.MetaKeyLeadID: "lead_1"},
		before, "notif_new", archivedAt, expiresAt)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
	db.AssertExpectations(t)
}

// ============================================================
// MarkRead
// ============================================================

func TestNotificationRepository_MarkRead_ReturnsTransitionedRows(t *testing.T) {
	db := new(mockDBTX)
	repo := NewNotificationRepository(db)

	readAt := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	rows := newNotifMockRows(notifRowData{
		id:          "notif_1",
		recipientID: "emp_1",
		typ:         string(types.TypeLeadFollowUpDue),
		title:       "Follow-up due now",
		message:     "Your follow-up with Alice is due now.",
		metadata:    []byte(`{"leadId":"lead_1"}`),
		inApp:       true,
		status:      string(types.StatusRead),
		readAt:      &readAt,
		createdAt:   readAt.Add(-time.Hour),
	})

	db.On("Query", mock.Anything,
		containsSQL("status = 'READ'", "status IN ('PENDING', 'DELIVERED')", "RETURNING"),
		mock.MatchedBy(func(args []any) bool {
			return len(args) == 3 && args[1] == "emp_1"
		}),
	).Return(rows, nil)

	read, err := repo.MarkRead(context.Background(), []string{"notif_1", "notif_already_read"}, "emp_1", readAt)
	require.NoError(t, err)
	require.Len(t, read, 1)
	assert.Equal(t, "notif_1", read[0].ID)
	assert.Equal(t, types.StatusRead, read[0].Lifecycle.Status)
	assert.Equal(t, "lead_1", read[0].Metadata.StringVal(types.MetaKeyLeadID))
	require.NotNil(t, read[0].Lifecycle.ReadAt)
	assert.True(t, read[0].Lifecycle.ReadAt.Equal(readAt))
}
