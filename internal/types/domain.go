package types

import (
	"time"
)

// Metadata is the open key/value map attached to a notification. Recognized
// correlation keys are listed in enums.go (CorrelationKeys); everything else
// is free-form display data (actionUrl, priority, isActionable, batchId, ...).
type Metadata map[string]any

// StringVal returns the metadata value for key as a string, or "" when the
// key is absent or not a string.
func (m Metadata) StringVal(key string) string {
	if m == nil {
		return ""
	}
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// BoolVal returns the metadata value for key as a bool, tolerating the
// string forms "true"/"false" that arrive from form-shaped clients.
func (m Metadata) BoolVal(key string) bool {
	if m == nil {
		return false
	}
	switch v := m[key].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	default:
		return false
	}
}

// Channels selects the delivery channels for a notification.
type Channels struct {
	InApp bool `json:"in_app"`
	Email bool `json:"email"`
}

// Lifecycle holds the mutable lifecycle state of a notification.
type Lifecycle struct {
	Status      NotificationStatus `json:"status"`
	ReadAt      *time.Time         `json:"read_at,omitempty"`
	DeliveredAt *time.Time         `json:"delivered_at,omitempty"`
	ArchivedAt  *time.Time         `json:"archived_at,omitempty"`
	// ArchivedReason is set alongside ArchivedAt.
	ArchivedReason ArchiveReason `json:"archived_reason,omitempty"`
}

// CleanupRules govern what the cleanup job may do with a notification.
// SupersededBy is set at most once, and only on ARCHIVED documents reached
// via supersession.
type CleanupRules struct {
	CanAutoDelete        bool   `json:"can_auto_delete"`
	PreserveIfUnread     bool   `json:"preserve_if_unread"`
	PreserveIfActionable bool   `json:"preserve_if_actionable"`
	SupersededBy         string `json:"superseded_by,omitempty"`
}

// TimeRules holds time-based cleanup hints.
type TimeRules struct {
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Notification is a recipient-scoped, typed message with a lifecycle and
// delivery channels.
type Notification struct {
	ID          string           `json:"id"`
	RecipientID string           `json:"recipient_id"`
	SenderID    string           `json:"sender_id,omitempty"`
	Type        NotificationType `json:"type"`
	Title       string           `json:"title"`
	Message     string           `json:"message"`
	Metadata    Metadata         `json:"metadata,omitempty"`
	Channels    Channels         `json:"channels"`
	Lifecycle   Lifecycle        `json:"lifecycle"`
	TimeRules   TimeRules        `json:"time_rules"`
	Cleanup     CleanupRules     `json:"cleanup_rules"`
	// ScheduledFor, when set in the future, suppresses the realtime push at
	// creation time; the notification surfaces on its own later.
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// IsUnread reports whether the notification counts as unread.
func (n *Notification) IsUnread() bool {
	return n.Lifecycle.Status.IsUnread()
}

// FollowUp is a scheduled follow-up action on a lead. NotificationsSent is
// the set of reminder-window tags already fired; membership is
// checked-then-added atomically at the store level so each tag fires at most
// once per follow-up, even under concurrent workers.
type FollowUp struct {
	ID                string        `json:"id"`
	LeadID            string        `json:"lead_id"`
	FollowUpDate      time.Time     `json:"follow_up_date"`
	Note              string        `json:"note,omitempty"`
	FollowUpType      string        `json:"follow_up_type,omitempty"`
	NotificationsSent []ReminderTag `json:"notifications_sent"`
	CreatedAt         time.Time     `json:"created_at"`
}

// HasTag reports whether the given reminder tag has already fired.
func (f *FollowUp) HasTag(tag ReminderTag) bool {
	for _, t := range f.NotificationsSent {
		if t == tag {
			return true
		}
	}
	return false
}

// Lead is the subset of the lead document relevant to the assignment engine
// and the reminder scheduler. AssignedTo is nil for unassigned leads.
type Lead struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Phone      string     `json:"phone"`
	Status     LeadStatus `json:"status"`
	AssignedTo *string    `json:"assigned_to,omitempty"`
	UploadedBy string     `json:"uploaded_by"`
	ManagerID  string     `json:"manager_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// RecipientID resolves who should receive reminders for this lead:
// the assignee when present, otherwise the uploader.
func (l *Lead) RecipientID() string {
	if l.AssignedTo != nil && *l.AssignedTo != "" {
		return *l.AssignedTo
	}
	return l.UploadedBy
}

// LeadAssignmentHistory is one append-only audit row for a bulk assignment
// batch. A REVERT row records the undo of a prior ASSIGN row; prior rows are
// never mutated or deleted.
type LeadAssignmentHistory struct {
	ID                 string     `json:"id"`
	BatchID            string     `json:"batch_id"`
	LeadID             string     `json:"lead_id"`
	PreviousAssignedTo *string    `json:"previous_assigned_to,omitempty"`
	NewAssignedTo      *string    `json:"new_assigned_to,omitempty"`
	UpdatedBy          string     `json:"updated_by"`
	ActionType         ActionType `json:"action_type"`
	CreatedAt          time.Time  `json:"created_at"`
}

// UploadErrorDetail records one rejected row from a bulk lead upload.
type UploadErrorDetail struct {
	Row    int    `json:"row"`
	Phone  string `json:"phone,omitempty"`
	Reason string `json:"reason"`
}

// BulkUpload tracks a bulk lead file through the worker. Counters and detail
// lists accumulate while status is PROCESSING; status moves forward only.
type BulkUpload struct {
	ID            string              `json:"id"`
	UploadedBy    string              `json:"uploaded_by"`
	FileRef       string              `json:"file_ref"`
	Status        BulkUploadStatus    `json:"status"`
	Uploaded      int                 `json:"uploaded"`
	Duplicates    int                 `json:"duplicates"`
	InvalidPhones int                 `json:"invalid_phones"`
	OtherErrors   int                 `json:"other_errors"`
	Details       []UploadErrorDetail `json:"details,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// Employee is a notification recipient and CRM user.
type Employee struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Email        string       `json:"email"`
	PasswordHash string       `json:"-"`
	Role         EmployeeRole `json:"role"`
	Active       bool         `json:"active"`
	CreatedAt    time.Time    `json:"created_at"`
}

// NotificationStats is the aggregate returned by the stats endpoint.
type NotificationStats struct {
	Total       int64                      `json:"total"`
	Unread      int64                      `json:"unread"`
	Archived    int64                      `json:"archived"`
	CountByType map[NotificationType]int64 `json:"count_by_type"`
}

// AssignResult reports the outcome of a bulk assignment.
type AssignResult struct {
	BatchID string `json:"batch_id"`
	Count   int    `json:"count"`
}

// RevertResult reports the outcome of a bulk assignment revert.
type RevertResult struct {
	BatchID string `json:"batch_id"`
	Count   int    `json:"count"`
}

// BatchOutcome reports a partially-failed batch run: the job as a whole
// succeeded, individual item failures are counted and logged.
type BatchOutcome struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}
