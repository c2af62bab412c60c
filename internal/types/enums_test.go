package types

import "testing"

// TestNotificationStatusTransitions verifies the forward-only lifecycle.
func TestNotificationStatusTransitions(t *testing.T) {
	allowed := []struct{ from, to NotificationStatus }{
		{StatusPending, StatusDelivered},
		{StatusPending, StatusRead},
		{StatusPending, StatusArchived},
		{StatusDelivered, StatusRead},
		{StatusDelivered, StatusArchived},
		{StatusRead, StatusArchived},
	}
	for _, tr := range allowed {
		if !tr.from.CanTransition(tr.to) {
			t.Errorf("CanTransition(%s -> %s) = false, want true", tr.from, tr.to)
		}
	}

	forbidden := []struct{ from, to NotificationStatus }{
		{StatusDelivered, StatusPending},
		{StatusRead, StatusPending},
		{StatusRead, StatusDelivered},
		{StatusArchived, StatusPending},
		{StatusArchived, StatusDelivered},
		{StatusArchived, StatusRead},
		{StatusPending, StatusPending},
	}
	for _, tr := range forbidden {
		if tr.from.CanTransition(tr.to) {
			t.Errorf("CanTransition(%s -> %s) = true, want false", tr.from, tr.to)
		}
	}
}

// TestNotificationStatusIsUnread verifies that unread means PENDING or DELIVERED.
func TestNotificationStatusIsUnread(t *testing.T) {
	if !StatusPending.IsUnread() || !StatusDelivered.IsUnread() {
		t.Error("PENDING and DELIVERED should count as unread")
	}
	if StatusRead.IsUnread() || StatusArchived.IsUnread() {
		t.Error("READ and ARCHIVED should not count as unread")
	}
}

// TestBulkUploadStatusTransitions verifies IN_QUEUE -> PROCESSING -> COMPLETED.
func TestBulkUploadStatusTransitions(t *testing.T) {
	if !UploadInQueue.CanTransition(UploadProcessing) {
		t.Error("IN_QUEUE -> PROCESSING should be allowed")
	}
	if !UploadProcessing.CanTransition(UploadCompleted) {
		t.Error("PROCESSING -> COMPLETED should be allowed")
	}
	if UploadInQueue.CanTransition(UploadCompleted) {
		t.Error("IN_QUEUE -> COMPLETED should not skip PROCESSING")
	}
	if UploadCompleted.CanTransition(UploadProcessing) || UploadCompleted.CanTransition(UploadInQueue) {
		t.Error("COMPLETED is terminal")
	}
}
