// Package notify delivers conversation events to subscribers outside the
// orchestration core: chat platforms, Redis streams, webhooks and the
// in-process hub that backs server-sent events.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/roundhouse/internal/conversation"
)

// EventType names what happened to a conversation.
type EventType string

const (
	// EventMessage is published after a message is appended.
	EventMessage EventType = "message"
	// EventSettled is published when a conversation reaches a terminal status.
	EventSettled EventType = "settled"
	// EventDepthExceeded is published when a broadcast hits its bound.
	EventDepthExceeded EventType = "depth_exceeded"
)

// Event is a single notification.
type Event struct {
	Type    EventType             `json:"type"`
	TaskID  string                `json:"taskId"`
	Variant conversation.Variant  `json:"variant,omitempty"`
	Message *conversation.Message `json:"message,omitempty"`
	Status  conversation.Status   `json:"status,omitempty"`
	Detail  string                `json:"detail,omitempty"`
	Time    time.Time             `json:"time"`
}

// MessageEvent builds an EventMessage for msg.
func MessageEvent(taskID string, variant conversation.Variant, msg conversation.Message) Event {
	return Event{
		Type:    EventMessage,
		TaskID:  taskID,
		Variant: variant,
		Message: &msg,
		Time:    time.Now(),
	}
}

// SettledEvent builds an EventSettled.
func SettledEvent(taskID string, variant conversation.Variant, status conversation.Status) Event {
	return Event{
		Type:    EventSettled,
		TaskID:  taskID,
		Variant: variant,
		Status:  status,
		Time:    time.Now(),
	}
}

// Subscriber receives events. Implementations must be safe for concurrent use.
type Subscriber interface {
	Notify(ctx context.Context, evt Event) error
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(ctx context.Context, evt Event) error

func (f SubscriberFunc) Notify(ctx context.Context, evt Event) error { return f(ctx, evt) }

// Multi fans an event out to every subscriber. Delivery is best effort: a
// failing subscriber does not stop the others, and all failures are joined
// into the returned error.
type Multi []Subscriber

func (m Multi) Notify(ctx context.Context, evt Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Notify(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %s %s: %w", evt.Type, evt.TaskID, errors.Join(errs...))
	}
	return nil
}

// Only wraps sub so it receives just the listed event types. With no types
// it returns sub unchanged.
func Only(sub Subscriber, types ...EventType) Subscriber {
	if len(types) == 0 {
		return sub
	}
	allowed := make(map[EventType]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}
	return SubscriberFunc(func(ctx context.Context, evt Event) error {
		if !allowed[evt.Type] {
			return nil
		}
		return sub.Notify(ctx, evt)
	})
}
