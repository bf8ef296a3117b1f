package pushnotification

import (
	"context"
	"log/slog"

	"github.com/kazz187/tasksync/internal/eventbus"
	"github.com/kazz187/tasksync/internal/task"
)

// Dispatcher turns job outcomes seen on a pull into push notifications.
type Dispatcher struct {
	eventBus *eventbus.Bus
	sender   *Sender
}

func NewDispatcher(eventBus *eventbus.Bus, sender *Sender) *Dispatcher {
	return &Dispatcher{
		eventBus: eventBus,
		sender:   sender,
	}
}

// Start blocks until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	subID, ch := d.eventBus.Subscribe(256)
	defer d.eventBus.Unsubscribe(subID)

	slog.Info("push notification dispatcher started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("push notification dispatcher stopped")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if event.Type == eventbus.StatusPulled {
				d.handleStatusPulled(ctx, event)
			}
		}
	}
}

func (d *Dispatcher) handleStatusPulled(ctx context.Context, event eventbus.Event) {
	payload := payloadFor(event)
	if payload == nil {
		return
	}
	if _, err := d.sender.SendToAll(ctx, payload); err != nil {
		slog.ErrorContext(ctx, "push dispatcher: send failed", "task_id", event.ResourceID, "error", err)
	}
}

// payloadFor returns nil for transitions nobody needs to hear about.
func payloadFor(event eventbus.Event) *NotificationPayload {
	var title string
	switch task.Status(event.Metadata["to"]) {
	case task.StatusReview:
		title = "Job completed"
	case task.StatusBacklog:
		title = "Job failed"
	default:
		return nil
	}
	return &NotificationPayload{
		Title: title,
		Body:  event.Metadata["title"],
		URL:   "/tasks/" + event.ResourceID,
		Tag:   event.ResourceID,
	}
}
