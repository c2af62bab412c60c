package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estatecrm/internal/core"
	"estatecrm/internal/db"
	"estatecrm/internal/notifications"
	"estatecrm/internal/types"
)

// =============================================================================
// Mock Implementations for Notification Handler
// =============================================================================

type mockNotifService struct {
	createFn        func(ctx context.Context, input notifications.CreateInput) (*types.Notification, error)
	markAsReadFn    func(ctx context.Context, ids []string, userID string) (int64, error)
	markAllAsReadFn func(ctx context.Context, userID string, typ types.NotificationType, before *time.Time) (int64, error)
	archiveFn       func(ctx context.Context, ids []string, userID string, reason types.ArchiveReason) (int64, error)
	deleteFn        func(ctx context.Context, ids []string, userID string) (int64, error)
	bulkFn          func(ctx context.Context, ids []string, userID string, action notifications.BulkAction) (int64, error)
	listFn          func(ctx context.Context, filter db.ListFilter, page types.Page) (*types.PageResult[*types.Notification], error)
	unreadCountFn   func(ctx context.Context, userID string) (int64, error)
	statsFn         func(ctx context.Context, userID string) (*types.NotificationStats, error)

	// Track calls for assertions.
	lastCreateInput   *notifications.CreateInput
	lastMarkReadIDs   []string
	lastMarkReadUser  string
	lastArchiveReason types.ArchiveReason
	lastBulkAction    notifications.BulkAction
	lastListFilter    *db.ListFilter
	lastListPage      types.Page
}

func (m *mockNotifService) Create(ctx context.Context, input notifications.CreateInput) (*types.Notification, error) {
	m.lastCreateInput = &input
	if m.createFn != nil {
		return m.createFn(ctx, input)
	}
	return &types.Notification{
		ID:          "notif_1",
		RecipientID: input.RecipientID,
		Type:        input.Type,
		Title:       input.Title,
		Message:     input.Message,
		Channels:    types.Channels{InApp: true},
		Lifecycle:   types.Lifecycle{Status: types.StatusPending},
		CreatedAt:   time.Now().UTC(),
	}, nil
}

func (m *mockNotifService) MarkAsRead(ctx context.Context, ids []string, userID string) (int64, error) {
	m.lastMarkReadIDs = ids
	m.lastMarkReadUser = userID
	if m.markAsReadFn != nil {
		return m.markAsReadFn(ctx, ids, userID)
	}
	return int64(len(ids)), nil
}

func (m *mockNotifService) MarkAllAsRead(ctx context.Context, userID string, typ types.NotificationType, before *time.Time) (int64, error) {
	if m.markAllAsReadFn != nil {
		return m.markAllAsReadFn(ctx, userID, typ, before)
	}
	return 3, nil
}

func (m *mockNotifService) Archive(ctx context.Context, ids []string, userID string, reason types.ArchiveReason) (int64, error) {
	m.lastArchiveReason = reason
	if m.archiveFn != nil {
		return m.archiveFn(ctx, ids, userID, reason)
	}
	return int64(len(ids)), nil
}

func (m *mockNotifService) Delete(ctx context.Context, ids []string, userID string) (int64, error) {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, ids, userID)
	}
	return int64(len(ids)), nil
}

func (m *mockNotifService) BulkOperation(ctx context.Context, ids []string, userID string, action notifications.BulkAction) (int64, error) {
	m.lastBulkAction = action
	if m.bulkFn != nil {
		return m.bulkFn(ctx, ids, userID, action)
	}
	return int64(len(ids)), nil
}

func (m *mockNotifService) List(ctx context.Context, filter db.ListFilter, page types.Page) (*types.PageResult[*types.Notification], error) {
	m.lastListFilter = &filter
	m.lastListPage = page
	if m.listFn != nil {
		return m.listFn(ctx, filter, page)
	}
	return &types.PageResult[*types.Notification]{
		Items: []*types.Notification{},
		Page:  1,
		Size:  20,
	}, nil
}

func (m *mockNotifService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	if m.unreadCountFn != nil {
		return m.unreadCountFn(ctx, userID)
	}
	return 5, nil
}

func (m *mockNotifService) Stats(ctx context.Context, userID string) (*types.NotificationStats, error) {
	if m.statsFn != nil {
		return m.statsFn(ctx, userID)
	}
	return &types.NotificationStats{
		Total:  10,
		Unread: 5,
		CountByType: map[types.NotificationType]int64{
			types.TypeLeadAssigned: 10,
		},
	}, nil
}

// =============================================================================
// Test Helpers
// =============================================================================

func newTestNotifHandler() (*NotificationHandler, *mockNotifService, *notifications.Hub) {
	svc := &mockNotifService{}
	hub := notifications.NewHub()
	handler := NewNotificationHandler(svc, hub, core.NewValidator(), types.NopLogger{})
	return handler, svc, hub
}

// jsonRequest builds a request with a JSON body and the acting user header.
func jsonRequest(t *testing.T, method, target string, body any, userID string) *http.Request {
	t.Helper()
	var reader *bytes.Reader
	if s, ok := body.(string); ok {
		reader = bytes.NewReader([]byte(s))
	} else {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(userIDHeader, userID)
	}
	return req
}

func decodeData[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var envelope struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&envelope))
	return envelope.Data
}

// =============================================================================
// Create Tests
// =============================================================================

func TestNotificationHandler_Create_Success(t *testing.T) {
	handler, svc, _ := newTestNotifHandler()

	reqBody := notifications.CreateInput{
		RecipientID: "emp_1",
		SenderID:    "emp_2",
		Type:        types.TypeLeadAssigned,
		Title:       "New Lead Assigned",
		Message:     "You have been assigned a new lead.",
		Metadata:    types.Metadata{"leadId": "lead_1"},
	}

	rr := httptest.NewRecorder()
	handler.HandleCreate(rr, jsonRequest(t, http.MethodPost, "/v1/notifications", reqBody, ""))

	assert.Equal(t, http.StatusCreated, rr.Code)

	require.NotNil(t, svc.lastCreateInput)
	assert.Equal(t, "emp_1", svc.lastCreateInput.RecipientID)
	assert.Equal(t, types.TypeLeadAssigned, svc.lastCreateInput.Type)
	assert.Equal(t, "lead_1", svc.lastCreateInput.Metadata.StringVal("leadId"))

	created := decodeData[types.Notification](t, rr)
	assert.Equal(t, "notif_1", created.ID)
	assert.Equal(t, "emp_1", created.RecipientID)
}

func TestNotificationHandler_Create_MalformedBody(t *testing.T) {
	handler, svc, _ := newTestNotifHandler()

	rr := httptest.NewRecorder()
	handler.HandleCreate(rr, jsonRequest(t, http.MethodPost, "/v1/notifications", `{"recipient_id"`, ""))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Nil(t, svc.lastCreateInput, "service must not be called on a malformed body")
}

func TestNotificationHandler_Create_MissingRequiredFields(t *testing.T) {
	handler, svc, _ := newTestNotifHandler()

	// Title and message are missing.
	reqBody := notifications.CreateInput{
		RecipientID: "emp_1",
		Type:        types.TypeLeadAssigned,
	}

	rr := httptest.NewRecorder()
	handler.HandleCreate(rr, jsonRequest(t, http.MethodPost, "/v1/notifications", reqBody, ""))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Nil(t, svc.lastCreateInput)

	var body core.APIErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, string(types.ErrCodeValidationMissingField), body.Error.Code)
}

func TestNotificationHandler_Create_ServiceErrorMapped(t *testing.T) {
	handler, svc, _ := newTestNotifHandler()
	svc.createFn = func(ctx context.Context, input notifications.CreateInput) (*types.Notification, error) {
		return nil, types.NewAppError(types.ErrCodeNotFoundRecipient, "recipient does not exist", nil)
	}

	reqBody := notifications.CreateInput{
		RecipientID: "emp_missing",
		Type:        types.TypeLeadAssigned,
		Title:       "New Lead Assigned",
		Message:     "You have been assigned a new lead.",
	}

	rr := httptest.NewRecorder()
	handler.HandleCreate(rr, jsonRequest(t, http.MethodPost, "/v1/notifications", reqBody, ""))

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

// =============================================================================
// User Header Tests
// =============================================================================

func TestNotificationHandler_UserScopedRoutesRequireHeader(t *testing.T) {
	handler, _, _ := newTestNotifHandler()

	routes := []struct {
		name string
		call func(w http.ResponseWriter, r *http.Request)
	}{
		{"list", handler.HandleList},
		{"stats", handler.HandleStats},
		{"unread count", handler.HandleUnreadCount},
		{"mark read", handler.HandleMarkRead},
		{"mark all read", handler.HandleMarkAllRead},
		{"archive", handler.HandleArchive},
		{"bulk", handler.HandleBulk},
		{"delete", handler.HandleDelete},
	}

	for _, tt := range routes {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/v1/notifications", strings.NewReader(`{}`))
			tt.call(rr, req)

			assert.Equal(t, http.StatusBadRequest, rr.Code)

			var body core.APIErrorResponse
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
			assert.Equal(t, string(types.ErrCodeValidationMissingField), body.Error.Code)
		})
	}
}

// =============================================================================
// List Tests
// =============================================================================

func TestNotificationHandler_List_BuildsFilterFromQuery(t *testing.T) {
	handler, svc, _ := newTestNotifHandler()

	target := "/v1/notifications?status=unread&type=LEAD_ASSIGNED&priority=HIGH" +
		"&from=2025-06-01T00:00:00Z&page=2&size=10"
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set(userIDHeader, "emp_1")

	rr := httptest.NewRecorder()
	handler.HandleList(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	require.NotNil(t, svc.lastListFilter)
	assert.Equal(t, "emp_1", svc.lastListFilter.RecipientID)
	assert.Equal(t, "unread", svc.lastListFilter.Status)
	assert.Equal(t, types.TypeLeadAssigned, svc.lastListFilter.Type)
	assert.Equal(t, types.PriorityHigh, svc.lastListFilter.Priority)
	require.NotNil(t, svc.lastListFilter.From)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), svc.lastListFilter.From.UTC())
	assert.Equal(t, types.Page{Number: 2, Size: 10}, svc.lastListPage)
}

func TestNotificationHandler_List_RejectsBadTimestamp(t *testing.T) {
	handler, svc, _ := newTestNotifHandler()

	req := httptest.NewRequest(http.MethodGet, "/v1/notifications?from=yesterday", nil)
	req.Header.Set(userIDHeader, "emp_1")

	rr := httptest.NewRecorder()
	handler.HandleList(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Nil(t, svc.lastListFilter)
}

// =============================================================================
// Mark Read / Mark All Read Tests
// =============================================================================

func TestNotificationHandler_MarkRead_Success(t *testing.T) {
	handler, svc, _ := newTestNotifHandler()

	rr := httptest.NewRecorder()
	handler.HandleMarkRead(rr, jsonRequest(t, http.MethodPost, "/v1/notifications/mark-read",
		idsRequest{IDs: []string{"n1", "n2"}}, "emp_1"))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"n1", "n2"}, svc.lastMarkReadIDs)
	assert.Equal(t, "emp_1", svc.lastMarkReadUser)

	data := decodeData[map[string]int64](t, rr)
	assert.Equal(t, int64(2), data["updated"])
}

func TestNotificationHandler_MarkRead_RejectsEmptyIDs(t *testing.T) {
	handler, svc, _ := newTestNotifHandler()

	rr := httptest.NewRecorder()
	handler.HandleMarkRead(rr, jsonRequest(t, http.MethodPost, "/v1/notifications/mark-read",
		idsRequest{IDs: []string{}}, "emp_1"))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Nil(t, svc.lastMarkReadIDs)
}

func TestNotificationHandler_MarkAllRead_EmptyBody(t *testing.T) {
	handler, svc, _ := newTestNotifHandler()

	var gotType types.NotificationType
	var gotBefore *time.Time
	svc.markAllAsReadFn = func(ctx context.Context, userID string, typ types.NotificationType, before *time.Time) (int64, error) {
		gotType = typ
		gotBefore = before
		return 4, nil
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/notifications/mark-all-read", nil)
	req.Header.Set(userIDHeader, "emp_1")

	rr := httptest.NewRecorder()
	handler.HandleMarkAllRead(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, gotType)
	assert.Nil(t, gotBefore)

	data := decodeData[map[string]int64](t, rr)
	assert.Equal(t, int64(4), data["updated"])
}

func TestNotificationHandler_MarkAllRead_WithTypeAndCutoff(t *testing.T) {
	handler, svc, _ := newTestNotifHandler()

	var gotType types.NotificationType
	var gotBefore *time.Time
	svc.markAllAsReadFn = func(ctx context.Context, userID string, typ types.NotificationType, before *time.Time) (int64, error) {
		gotType = typ
		gotBefore = before
		return 1, nil
	}

	cutoff := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	rr := httptest.NewRecorder()
	handler.HandleMarkAllRead(rr, jsonRequest(t, http.MethodPost, "/v1/notifications/mark-all-read",
		markAllRequest{Type: types.TypeLeadFollowUpDue, Before: &cutoff}, "emp_1"))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, types.TypeLeadFollowUpDue, gotType)
	require.NotNil(t, gotBefore)
	assert.Equal(t, cutoff, gotBefore.UTC())
}

// =============================================================================
// Archive / Bulk / Delete Tests
// =============================================================================

func TestNotificationHandler_Archive_UsesUserReason(t *testing.T) {
	handler, svc, _ := newTestNotifHandler()

	rr := httptest.NewRecorder()
	handler.HandleArchive(rr, jsonRequest(t, http.MethodPost, "/v1/notifications/archive",
		idsRequest{IDs: []string{"n1"}}, "emp_1"))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, types.ArchiveReasonUser, svc.lastArchiveReason)
}

func TestNotificationHandler_Bulk_DispatchesAction(t *testing.T) {
	handler, svc, _ := newTestNotifHandler()

	rr := httptest.NewRecorder()
	handler.HandleBulk(rr, jsonRequest(t, http.MethodPost, "/v1/notifications/bulk",
		bulkRequest{IDs: []string{"n1", "n2"}, Action: "archive"}, "emp_1"))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, notifications.BulkArchive, svc.lastBulkAction)
}

func TestNotificationHandler_Bulk_RejectsUnknownAction(t *testing.T) {
	handler, svc, _ := newTestNotifHandler()

	rr := httptest.NewRecorder()
	handler.HandleBulk(rr, jsonRequest(t, http.MethodPost, "/v1/notifications/bulk",
		bulkRequest{IDs: []string{"n1"}, Action: "purge"}, "emp_1"))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Empty(t, svc.lastBulkAction, "service must not see an invalid action")
}

func TestNotificationHandler_Delete_Success(t *testing.T) {
	handler, svc, _ := newTestNotifHandler()

	var gotIDs []string
	svc.deleteFn = func(ctx context.Context, ids []string, userID string) (int64, error) {
		gotIDs = ids
		return int64(len(ids)), nil
	}

	rr := httptest.NewRecorder()
	handler.HandleDelete(rr, jsonRequest(t, http.MethodDelete, "/v1/notifications",
		idsRequest{IDs: []string{"n1", "n2", "n3"}}, "emp_1"))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"n1", "n2", "n3"}, gotIDs)

	data := decodeData[map[string]int64](t, rr)
	assert.Equal(t, int64(3), data["deleted"])
}

// =============================================================================
// Unread Count / Stats Tests
// =============================================================================

func TestNotificationHandler_UnreadCount(t *testing.T) {
	handler, svc, _ := newTestNotifHandler()
	svc.unreadCountFn = func(ctx context.Context, userID string) (int64, error) {
		assert.Equal(t, "emp_1", userID)
		return 7, nil
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/notifications/unread-count", nil)
	req.Header.Set(userIDHeader, "emp_1")

	rr := httptest.NewRecorder()
	handler.HandleUnreadCount(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	data := decodeData[map[string]int64](t, rr)
	assert.Equal(t, int64(7), data["unread"])
}

func TestNotificationHandler_Stats(t *testing.T) {
	handler, _, _ := newTestNotifHandler()

	req := httptest.NewRequest(http.MethodGet, "/v1/notifications/stats", nil)
	req.Header.Set(userIDHeader, "emp_1")

	rr := httptest.NewRecorder()
	handler.HandleStats(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	stats := decodeData[types.NotificationStats](t, rr)
	assert.Equal(t, int64(10), stats.Total)
	assert.Equal(t, int64(5), stats.Unread)
}

// =============================================================================
// Stream Tests
// =============================================================================

// streamRecorder is a flushable ResponseWriter safe for concurrent reads
// while the stream handler is writing.
type streamRecorder struct {
	mu     sync.Mutex
	header http.Header
	status int
	body   bytes.Buffer
}

func newStreamRecorder() *streamRecorder {
	return &streamRecorder{header: make(http.Header)}
}

func (r *streamRecorder) Header() http.Header {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.header
}

func (r *streamRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.body.Write(p)
}

func (r *streamRecorder) WriteHeader(code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = code
}

func (r *streamRecorder) Flush() {}

func (r *streamRecorder) snapshot() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.body.String()
}

func (r *streamRecorder) contentType() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.header.Get("Content-Type")
}

func TestNotificationHandler_Stream_DeliversPublishedNotification(t *testing.T) {
	handler, _, hub := newTestNotifHandler()

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/v1/notifications/stream", nil).WithContext(ctx)
	req.Header.Set(userIDHeader, "emp_1")

	rec := newStreamRecorder()
	done := make(chan struct{})
	go func() {
		handler.HandleStream(rec, req)
		close(done)
	}()

	// Publish until the subscriber is registered and the event lands.
	deadline := time.After(2 * time.Second)
	for !strings.Contains(rec.snapshot(), "data: ") {
		hub.Publish(&types.Notification{ID: "notif_1", RecipientID: "emp_1"})
		select {
		case <-deadline:
			t.Fatal("timed out waiting for the streamed event")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream handler did not return after context cancellation")
	}

	assert.Equal(t, "text/event-stream", rec.contentType())
	assert.Contains(t, rec.snapshot(), `"id":"notif_1"`)
}
