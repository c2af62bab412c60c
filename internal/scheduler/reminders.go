// Package scheduler implements the follow-up reminder scan and the
// single-reminder delivery handler.
//
// The scan is a repeating queue job: every minute it sweeps four time
// windows over upcoming follow-ups (24 hours out, 2 hours out, 5 minutes
// out, and due now) and creates one reminder notification per follow-up per
// window. The notifications_sent tag set on each follow-up makes every
// window fire at most once, even with overlapping scan runs.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"estatecrm/internal/notifications"
	"estatecrm/internal/types"
)

// scanBatchSize bounds one repository fetch inside a window sweep.
const scanBatchSize = 50

// rescheduleTolerance is how far a follow-up's stored date may drift from
// the date a targeted reminder job was enqueued with before the job is
// considered stale and skipped.
const rescheduleTolerance = 5 * time.Minute

// window describes one reminder window: a follow-up whose date falls inside
// [now+lo, now+hi] gets the window's tag.
type window struct {
	tag      types.ReminderTag
	lo, hi   time.Duration
	priority types.Priority
}

// windows holds the four reminder windows in scan order. Bounds are wider
// than the scan interval so a follow-up cannot slip between two runs.
var windows = []window{
	{tag: types.Reminder24H, lo: 23*time.Hour + 30*time.Minute, hi: 24*time.Hour + 30*time.Minute, priority: types.PriorityMedium},
	{tag: types.Reminder2H, lo: time.Hour + 45*time.Minute, hi: 2*time.Hour + 15*time.Minute, priority: types.PriorityHigh},
	{tag: types.Reminder5M, lo: 3 * time.Minute, hi: 8 * time.Minute, priority: types.PriorityUrgent},
	{tag: types.ReminderDue, lo: -15 * time.Minute, hi: 2 * time.Minute, priority: types.PriorityUrgent},
}

// FollowUpStore is the follow-up repository subset the scheduler needs.
type FollowUpStore interface {
	GetByID(ctx context.Context, id string) (*types.FollowUp, error)
	ListDueInWindow(ctx context.Context, from, to time.Time, tag types.ReminderTag, limit int) ([]*types.FollowUp, error)
	AppendReminderTag(ctx context.Context, id string, tag types.ReminderTag) (bool, error)
}

// LeadStore resolves leads for recipient lookup.
type LeadStore interface {
	GetByID(ctx context.Context, id string) (*types.Lead, error)
}

// Notifier creates the reminder notifications.
type Notifier interface {
	Create(ctx context.Context, input notifications.CreateInput) (*types.Notification, error)
}

// Scheduler runs the reminder scan and handles targeted reminder jobs.
type Scheduler struct {
	followUps FollowUpStore
	leads     LeadStore
	notifier  Notifier
	clock     types.Clock
	logger    types.Logger
}

// New creates a Scheduler.
func New(followUps FollowUpStore, leads LeadStore, notifier Notifier, clock types.Clock, logger types.Logger) *Scheduler {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &Scheduler{
		followUps: followUps,
		leads:     leads,
		notifier:  notifier,
		clock:     clock,
		logger:    logger,
	}
}

// Scan executes one full sweep across all four windows. One bad follow-up
// never aborts the sweep; failures are counted and logged per item. The
// returned outcome aggregates all windows.
func (s *Scheduler) Scan(ctx context.Context) (types.BatchOutcome, error) {
	now := s.clock.Now()
	var outcome types.BatchOutcome

	for _, w := range windows {
		wo, err := s.scanWindow(ctx, w, now)
		outcome.Processed += wo.Processed
		outcome.Failed += wo.Failed
		outcome.Skipped += wo.Skipped
		if err != nil {
			// A window-level error (the list query itself) is worth
			// surfacing, but the remaining windows still run.
			s.logger.Error("reminder window scan failed",
				"tag", string(w.tag),
				"error", err.Error(),
			)
			outcome.Failed++
		}
	}

	s.logger.Info("reminder scan finished",
		"processed", outcome.Processed,
		"failed", outcome.Failed,
		"skipped", outcome.Skipped,
	)
	return outcome, nil
}

// scanWindow sweeps one window in batches. The seen set keeps a follow-up
// that failed (and therefore never got its tag appended) from being
// re-fetched endlessly within the same run.
func (s *Scheduler) scanWindow(ctx context.Context, w window, now time.Time) (types.BatchOutcome, error) {
	from, to := now.Add(w.lo), now.Add(w.hi)
	seen := make(map[string]bool)
	var outcome types.BatchOutcome

	for {
		batch, err := s.followUps.ListDueInWindow(ctx, from, to, w.tag, scanBatchSize)
		if err != nil {
			return outcome, err
		}

		progressed := false
		for _, f := range batch {
			if seen[f.ID] {
				continue
			}
			seen[f.ID] = true
			progressed = true

			if err := s.sendReminder(ctx, f, w.tag, w.priority); err != nil {
				switch types.CodeOf(err) {
				case types.ErrCodeNotFoundLead, types.ErrCodeNotFoundRecipient:
					// The lead (or its assignee) vanished since the
					// follow-up was written. Nothing to remind about, and
					// nothing a retry would fix.
					outcome.Skipped++
					s.logger.Warn("follow-up reminder skipped",
						"follow_up_id", f.ID,
						"lead_id", f.LeadID,
						"tag", string(w.tag),
						"reason", err.Error(),
					)
				default:
					outcome.Failed++
					s.logger.Error("failed to send follow-up reminder",
						"follow_up_id", f.ID,
						"lead_id", f.LeadID,
						"tag", string(w.tag),
						"error", err.Error(),
					)
				}
				continue
			}
			outcome.Processed++
		}

		if len(batch) < scanBatchSize || !progressed {
			return outcome, nil
		}
	}
}

// sendReminder creates the reminder notification for one follow-up and
// records the tag. The tag append is last: if the notification create
// fails, the next scan run tries again; duplicate detection absorbs the
// rare double-create that ordering allows.
func (s *Scheduler) sendReminder(ctx context.Context, f *types.FollowUp, tag types.ReminderTag, priority types.Priority) error {
	lead, err := s.leads.GetByID(ctx, f.LeadID)
	if err != nil {
		return err
	}

	_, err = s.notifier.Create(ctx, notifications.CreateInput{
		RecipientID: lead.RecipientID(),
		Type:        types.TypeLeadFollowUpDue,
		Title:       reminderTitle(tag),
		Message:     reminderMessage(tag, lead, f),
		Metadata: types.Metadata{
			types.MetaKeyLeadID:       lead.ID,
			types.MetaKeyFollowUpID:   f.ID,
			types.MetaKeyReminderType: string(tag),
			types.MetaKeyPriority:     string(priority),
			types.MetaKeyActionable:   "true",
		},
		Channels: &types.Channels{InApp: true, Email: tag == types.Reminder24H},
	})
	if err != nil {
		return err
	}

	appended, err := s.followUps.AppendReminderTag(ctx, f.ID, tag)
	if err != nil {
		return err
	}
	if !appended {
		// Another worker got here first; its notification stands.
		s.logger.Info("reminder tag already recorded",
			"follow_up_id", f.ID,
			"tag", string(tag),
		)
	}
	return nil
}

// SendTargeted handles a reminder job aimed at one specific follow-up. The
// job carries the follow-up date it was scheduled against; when the stored
// date has since moved beyond the tolerance, the follow-up was rescheduled
// and this reminder is stale.
func (s *Scheduler) SendTargeted(ctx context.Context, payload types.FollowUpReminderPayload) error {
	logger := s.logger.With("follow_up_id", payload.FollowUpID, "tag", string(payload.Tag))

	f, err := s.followUps.GetByID(ctx, payload.FollowUpID)
	if err != nil {
		if types.CodeOf(err) == types.ErrCodeNotFoundFollowUp {
			logger.Warn("reminder skipped: follow-up no longer exists")
			return nil
		}
		return err
	}

	if f.HasTag(payload.Tag) {
		logger.Info("reminder skipped: already sent")
		return nil
	}

	drift := f.FollowUpDate.Sub(payload.FollowUpDate)
	if drift < 0 {
		drift = -drift
	}
	if drift > rescheduleTolerance {
		logger.Info("reminder skipped: follow-up rescheduled",
			"scheduled_for", payload.FollowUpDate.Format(time.RFC3339),
			"current_date", f.FollowUpDate.Format(time.RFC3339),
		)
		return nil
	}

	priority := types.PriorityUrgent
	for _, w := range windows {
		if w.tag == payload.Tag {
			priority = w.priority
			break
		}
	}
	return s.sendReminder(ctx, f, payload.Tag, priority)
}

// reminderTitle is the notification title for a window. Titles are stable
// per (lead, tag) so duplicate detection can match repeats.
func reminderTitle(tag types.ReminderTag) string {
	switch tag {
	case types.Reminder24H:
		return "Follow-up tomorrow"
	case types.Reminder2H:
		return "Follow-up in 2 hours"
	case types.Reminder5M:
		return "Follow-up in 5 minutes"
	case types.ReminderDue:
		return "Follow-up due now"
	default:
		return "Follow-up reminder"
	}
}

func reminderMessage(tag types.ReminderTag, lead *types.Lead, f *types.FollowUp) string {
	when := f.FollowUpDate.Format("Jan 2 at 15:04 MST")
	name := lead.Name
	if name == "" {
		name = lead.Phone
	}
	switch tag {
	case types.ReminderDue:
		return fmt.Sprintf("Your follow-up with %s is due now (%s).", name, when)
	default:
		return fmt.Sprintf("You have a follow-up with %s scheduled for %s.", name, when)
	}
}
