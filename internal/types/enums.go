package types

// NotificationStatus represents the lifecycle state of a notification.
// Status moves forward only: PENDING -> DELIVERED -> READ, with ARCHIVED
// reachable from any non-terminal state. Deletion is a separate terminal
// action, not a status.
type NotificationStatus string

const (
	StatusPending   NotificationStatus = "PENDING"
	StatusDelivered NotificationStatus = "DELIVERED"
	StatusRead      NotificationStatus = "READ"
	StatusArchived  NotificationStatus = "ARCHIVED"
)

// notificationTransitions is the allowed forward-only transition table.
var notificationTransitions = map[NotificationStatus][]NotificationStatus{
	StatusPending:   {StatusDelivered, StatusRead, StatusArchived},
	StatusDelivered: {StatusRead, StatusArchived},
	StatusRead:      {StatusArchived},
	StatusArchived:  {},
}

// CanTransition reports whether moving from one notification status to
// another is allowed by the lifecycle state machine.
func (s NotificationStatus) CanTransition(to NotificationStatus) bool {
	for _, next := range notificationTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IsUnread reports whether the status counts as unread.
// Unread is defined as PENDING or DELIVERED.
func (s NotificationStatus) IsUnread() bool {
	return s == StatusPending || s == StatusDelivered
}

// UnreadStatuses is the status set the "unread" list filter expands to.
var UnreadStatuses = []NotificationStatus{StatusPending, StatusDelivered}

// NotificationType identifies the kind of notification event.
type NotificationType string

const (
	TypeLeadAssigned       NotificationType = "LEAD_ASSIGNED"
	TypeLeadBulkAssigned   NotificationType = "LEAD_BULK_ASSIGNED"
	TypeLeadFollowUpDue    NotificationType = "LEAD_FOLLOWUP_DUE"
	TypeLeadUploaded       NotificationType = "LEAD_UPLOADED"
	TypeCabBookingAssigned NotificationType = "CAB_BOOKING_ASSIGNED"
	TypeRoleChanged        NotificationType = "ROLE_CHANGED"
	TypeSystemAnnouncement NotificationType = "SYSTEM_ANNOUNCEMENT"
)

// ArchiveReason describes why a notification was archived.
type ArchiveReason string

const (
	ArchiveReasonUser       ArchiveReason = "USER_ARCHIVED"
	ArchiveReasonSuperseded ArchiveReason = "SUPERSEDED"
	ArchiveReasonExpired    ArchiveReason = "EXPIRED"
)

// Priority determines display ordering and reminder urgency.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// ReminderTag identifies one of the four follow-up reminder windows.
// A tag, once recorded on a follow-up, is never removed or re-fired.
type ReminderTag string

const (
	Reminder24H ReminderTag = "24H"
	Reminder2H  ReminderTag = "2H"
	Reminder5M  ReminderTag = "5M"
	ReminderDue ReminderTag = "DUE"
)

// AllReminderTags lists the reminder tags in scan order.
var AllReminderTags = []ReminderTag{Reminder24H, Reminder2H, Reminder5M, ReminderDue}

// ActionType distinguishes assignment history entries.
type ActionType string

const (
	ActionAssign ActionType = "ASSIGN"
	ActionRevert ActionType = "REVERT"
)

// LeadStatus is the sales pipeline state of a lead. Only a subset matters
// to the assignment engine; the rest is pass-through CRUD.
type LeadStatus string

const (
	LeadStatusNew       LeadStatus = "new"
	LeadStatusContacted LeadStatus = "contacted"
	LeadStatusQualified LeadStatus = "qualified"
	LeadStatusClosed    LeadStatus = "closed"
)

// BulkUploadStatus tracks a bulk lead upload through the worker.
// Forward-only: IN_QUEUE -> PROCESSING -> COMPLETED.
type BulkUploadStatus string

const (
	UploadInQueue    BulkUploadStatus = "IN_QUEUE"
	UploadProcessing BulkUploadStatus = "PROCESSING"
	UploadCompleted  BulkUploadStatus = "COMPLETED"
)

// uploadTransitions is the forward-only transition table for bulk uploads.
var uploadTransitions = map[BulkUploadStatus][]BulkUploadStatus{
	UploadInQueue:    {UploadProcessing},
	UploadProcessing: {UploadCompleted},
	UploadCompleted:  {},
}

// CanTransition reports whether a bulk upload status change is allowed.
func (s BulkUploadStatus) CanTransition(to BulkUploadStatus) bool {
	for _, next := range uploadTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// EmployeeRole defines the role of an employee within the tenant.
type EmployeeRole string

const (
	RoleAdmin    EmployeeRole = "admin"
	RoleManager  EmployeeRole = "manager"
	RoleEmployee EmployeeRole = "employee"
)

// Metadata correlation keys recognized by the dedup and supersession logic.
const (
	MetaKeyLeadID       = "leadId"
	MetaKeyCabBookingID = "cabBookingId"
	MetaKeyRoleID       = "roleId"
	MetaKeyFollowUpID   = "followUpId"
	MetaKeyReminderType = "reminderType"
	MetaKeyBatchID      = "batchId"
	MetaKeyPriority     = "priority"
	MetaKeyActionable   = "isActionable"
	MetaKeyActionURL    = "actionUrl"
)

// CorrelationKeys are the metadata keys consulted by duplicate detection
// and supersession, in the order they are checked.
var CorrelationKeys = []string{MetaKeyLeadID, MetaKeyCabBookingID, MetaKeyRoleID}
