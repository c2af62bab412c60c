package email

import (
	"context"
	"errors"
	"time"

	"estatecrm/internal/external"
	"estatecrm/internal/types"
)

// NotificationStore is the notification subset the dispatcher needs.
type NotificationStore interface {
	GetByID(ctx context.Context, id string) (*types.Notification, error)
	MarkDelivered(ctx context.Context, id string, at time.Time) error
}

// RecipientStore resolves recipient ids to employees.
type RecipientStore interface {
	GetByID(ctx context.Context, id string) (*types.Employee, error)
}

// Dispatcher handles the email-delivery job: load the notification, render
// it, send it through the provider, and mark the notification delivered.
type Dispatcher struct {
	notifications NotificationStore
	recipients    RecipientStore
	provider      external.EmailProvider
	renderer      *Renderer
	from          string
	fromName      string
	sendTimeout   time.Duration
	clock         types.Clock
	logger        types.Logger
}

// DispatcherConfig holds the dependencies for creating a Dispatcher.
type DispatcherConfig struct {
	Notifications NotificationStore
	Recipients    RecipientStore
	Provider      external.EmailProvider
	FromAddress   string
	FromName      string
	SendTimeout   time.Duration
	Clock         types.Clock
	Logger        types.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &Dispatcher{
		notifications: cfg.Notifications,
		recipients:    cfg.Recipients,
		provider:      cfg.Provider,
		renderer:      NewRenderer(),
		from:          cfg.FromAddress,
		fromName:      cfg.FromName,
		sendTimeout:   timeout,
		clock:         clock,
		logger:        logger,
	}
}

// Dispatch sends the email for one notification.
//
// Terminal conditions (notification or recipient gone, email channel off,
// notification already read or archived) complete the job quietly: there is
// nothing a retry could fix. A send timeout is logged and swallowed rather
// than retried, so a slow provider cannot pile up duplicate emails. Other
// provider failures return an error and ride the queue's retry policy.
func (d *Dispatcher) Dispatch(ctx context.Context, payload types.EmailPayload) error {
	logger := d.logger.With("notification_id", payload.NotificationID)

	n, err := d.notifications.GetByID(ctx, payload.NotificationID)
	if err != nil {
		if types.CodeOf(err) == types.ErrCodeNotFoundNotification {
			logger.Warn("email skipped: notification no longer exists")
			return nil
		}
		return err
	}

	if !n.Channels.Email {
		logger.Info("email skipped: email channel disabled")
		return nil
	}
	if n.Lifecycle.Status == types.StatusRead || n.Lifecycle.Status == types.StatusArchived {
		logger.Info("email skipped: notification already handled", "status", string(n.Lifecycle.Status))
		return nil
	}

	recipient, err := d.recipients.GetByID(ctx, n.RecipientID)
	if err != nil {
		if types.CodeOf(err) == types.ErrCodeNotFoundEmployee {
			logger.Warn("email skipped: recipient no longer exists", "recipient_id", n.RecipientID)
			return nil
		}
		return err
	}

	rendered, err := d.renderer.Render(n, recipient.Name)
	if err != nil {
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	messageID, err := d.provider.Send(sendCtx, external.SendInput{
		To:          recipient.Email,
		ToName:      recipient.Name,
		From:        d.from,
		FromName:    d.fromName,
		Subject:     rendered.Subject,
		TextBody:    rendered.TextBody,
		HTMLBody:    rendered.HTMLBody,
		ReferenceID: n.ID,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			// The provider blew the send budget. A slow provider call may
			// still have gone through, so retrying risks a duplicate email;
			// the job is absorbed as a terminal timeout instead.
			timeoutErr := types.NewAppError(types.ErrCodeTimeoutEmailSend,
				"email send timed out", err)
			logger.Error("email send timed out",
				"error", timeoutErr.Error(),
				"timeout", d.sendTimeout.String(),
				"recipient_id", n.RecipientID,
			)
			return nil
		}
		return err
	}

	if err := d.notifications.MarkDelivered(ctx, n.ID, d.clock.Now()); err != nil {
		// The email went out; a failed status update must not trigger a
		// resend on retry.
		logger.Error("failed to mark notification delivered", "error", err.Error())
		return nil
	}

	logger.Info("notification email sent",
		"recipient_id", n.RecipientID,
		"provider_message_id", messageID,
	)
	return nil
}
