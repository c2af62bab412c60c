package types

import "time"

// JobName identifies a job kind on the durable queue. Each name maps to
// exactly one payload struct below; the worker harness dispatches through an
// exhaustive switch over these names rather than dynamic lookup.
type JobName string

const (
	JobBulkUploadLeads        JobName = "bulkUploadLeads"
	JobBulkAssignLeads        JobName = "bulkAssignLeads"
	JobRevertBulkAssign       JobName = "revertBulkAssign"
	JobCheckFollowUps         JobName = "checkFollowUps"
	JobSendFollowUpReminder   JobName = "sendLeadFollowUpNotification"
	JobSendNotificationEmail  JobName = "sendNotificationEmail"
	JobNotificationCleanup    JobName = "notificationCleanup"
)

// KnownJobNames lists every job name the worker harness handles.
var KnownJobNames = []JobName{
	JobBulkUploadLeads,
	JobBulkAssignLeads,
	JobRevertBulkAssign,
	JobCheckFollowUps,
	JobSendFollowUpReminder,
	JobSendNotificationEmail,
	JobNotificationCleanup,
}

// BulkUploadPayload asks the worker to classify and insert the rows of a
// submitted lead file. Rows are resolved from FileRef by the handler's row
// source; parsing the spreadsheet itself is outside this service.
type BulkUploadPayload struct {
	UploadID   string `json:"upload_id"`
	FileRef    string `json:"file_ref"`
	UploadedBy string `json:"uploaded_by"`
}

// BulkAssignPayload carries a bulk lead assignment request.
// AvailableCount is the unassigned-lead count the requester saw; the engine
// caps the claim at min(Limit, AvailableCount) so the displayed number stays
// consistent with what actually gets claimed.
type BulkAssignPayload struct {
	BatchID        string     `json:"batch_id"`
	AssignTo       string     `json:"assign_to"`
	Status         LeadStatus `json:"status"`
	Limit          int        `json:"limit"`
	AvailableCount int        `json:"available_count"`
	UpdatedBy      string     `json:"updated_by"`
}

// RevertBulkAssignPayload undoes a prior bulk assignment batch.
type RevertBulkAssignPayload struct {
	BatchID    string `json:"batch_id"`
	RevertedBy string `json:"reverted_by"`
}

// CheckFollowUpsPayload triggers one pass of the windowed reminder scan.
// It carries no data; the scan derives everything from "now".
type CheckFollowUpsPayload struct{}

// FollowUpReminderPayload fires a single reminder for one follow-up.
// FollowUpDate is the date the job was scheduled against: if the live
// follow-up has since moved by more than the reschedule tolerance, the job
// is a no-op and the reminder for the new date fires from its own job.
type FollowUpReminderPayload struct {
	FollowUpID   string      `json:"follow_up_id"`
	LeadID       string      `json:"lead_id"`
	Tag          ReminderTag `json:"tag"`
	FollowUpDate time.Time   `json:"follow_up_date"`
}

// EmailPayload asks the email dispatcher to render and send one
// notification. Delivery is at-least-once; the notification itself was
// created at most once upstream.
type EmailPayload struct {
	NotificationID string `json:"notification_id"`
}

// CleanupMode selects the scope of a notificationCleanup run.
type CleanupMode string

const (
	// CleanupExpired removes notifications whose expires_at has passed
	// (hourly schedule).
	CleanupExpired CleanupMode = "expired"
	// CleanupAll additionally purges aged read/archived notifications
	// beyond the retention window (daily schedule).
	CleanupAll CleanupMode = "all"
)

// CleanupPayload selects the cleanup mode for a notificationCleanup job.
type CleanupPayload struct {
	Mode CleanupMode `json:"mode"`
}
