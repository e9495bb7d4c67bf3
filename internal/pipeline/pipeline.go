// Package pipeline runs a task through the fixed PM, Engineer, QA sequence.
// Each stage that fails is replaced by the role's fallback text so a task
// always moves forward; only a store failure marks the task failed.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/roundhouse/internal/conversation"
	"github.com/zulandar/roundhouse/internal/notify"
	"github.com/zulandar/roundhouse/internal/role"
)

// DefaultEngineerTimeout bounds the Engineer stage.
const DefaultEngineerTimeout = 60 * time.Second

// ErrEngineerTimeout is reported when the Engineer stage loses its race
// against the deadline.
var ErrEngineerTimeout = errors.New("engineer timed out")

// SystemErrorPrefix starts the message appended when a task fails.
const SystemErrorPrefix = "System error: "

// Orchestrator drives pipeline tasks. It is safe for concurrent use; each
// call to ProcessTask owns its task.
type Orchestrator struct {
	store           conversation.Store
	pm              role.Role
	engineer        role.Role
	qa              role.Role
	subscriber      notify.Subscriber
	engineerTimeout time.Duration
	out             io.Writer
}

// Opts holds parameters for creating an Orchestrator.
type Opts struct {
	Store           conversation.Store
	Roles           *role.Registry    // must contain pm, engineer and qa
	Subscriber      notify.Subscriber // optional
	EngineerTimeout time.Duration     // defaults to DefaultEngineerTimeout
	Out             io.Writer         // progress output; defaults to os.Stdout
}

// New creates an Orchestrator.
func New(opts Opts) (*Orchestrator, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("pipeline: store is required")
	}
	if opts.Roles == nil {
		return nil, fmt.Errorf("pipeline: roles are required")
	}
	o := &Orchestrator{
		store:           opts.Store,
		subscriber:      opts.Subscriber,
		engineerTimeout: opts.EngineerTimeout,
		out:             opts.Out,
	}
	for _, slot := range []struct {
		tag conversation.Author
		dst *role.Role
	}{
		{conversation.AuthorPM, &o.pm},
		{conversation.AuthorEngineer, &o.engineer},
		{conversation.AuthorQA, &o.qa},
	} {
		r, ok := opts.Roles.Get(slot.tag)
		if !ok {
			return nil, fmt.Errorf("pipeline: role %q is required", slot.tag)
		}
		*slot.dst = r
	}
	if o.engineerTimeout <= 0 {
		o.engineerTimeout = DefaultEngineerTimeout
	}
	if o.out == nil {
		o.out = os.Stdout
	}
	return o, nil
}

// ProcessTask runs request under a fresh task id and returns the resulting
// conversation. It never fails: stage failures become fallback messages and
// store failures leave the task failed with a system-error message.
func (o *Orchestrator) ProcessTask(ctx context.Context, request string) *conversation.Conversation {
	return o.ProcessTaskWithID(ctx, uuid.NewString(), request)
}

// ProcessTaskWithID is ProcessTask with a caller-chosen task id. An empty id
// is replaced by a fresh one.
func (o *Orchestrator) ProcessTaskWithID(ctx context.Context, taskID, request string) *conversation.Conversation {
	if taskID == "" {
		taskID = uuid.NewString()
	}
	t := &task{
		o:    o,
		conv: &conversation.Conversation{ID: taskID, OriginalRequest: request, Variant: conversation.VariantPipeline, Messages: []conversation.Message{}, Status: conversation.StatusProcessing},
	}

	start := time.Now()
	fmt.Fprintf(o.out, "pipeline: [%s] starting: %q\n", taskID, preview(request, 50))

	if err := t.run(ctx); err != nil {
		log.Printf("pipeline: [%s] task failed: %v", taskID, err)
		t.fail(ctx, err)
	} else {
		fmt.Fprintf(o.out, "pipeline: [%s] completed in %s with %d messages\n",
			taskID, time.Since(start).Round(time.Millisecond), len(t.conv.Messages))
	}
	if t.created {
		o.publish(ctx, notify.SettledEvent(taskID, conversation.VariantPipeline, t.conv.Status))
	}
	return t.conv.Clone()
}

// task is the working state of one run. conv mirrors what has been written
// to the store so far and is what the caller receives.
type task struct {
	o       *Orchestrator
	conv    *conversation.Conversation
	created bool
}

func (t *task) run(ctx context.Context) error {
	o := t.o
	human := conversation.NewMessage(conversation.AuthorHuman, t.conv.OriginalRequest)

	stored, err := o.store.Create(ctx, t.conv.ID, t.conv.OriginalRequest, conversation.VariantPipeline)
	if err != nil {
		// The human message is kept locally so the caller still sees the request.
		t.conv.Messages = append(t.conv.Messages, human)
		return fmt.Errorf("pipeline: create: %w", err)
	}
	t.created = true
	t.conv.CreatedAt = stored.CreatedAt
	t.conv.UpdatedAt = stored.UpdatedAt

	if err := t.append(ctx, human); err != nil {
		t.conv.Messages = append(t.conv.Messages, human)
		return err
	}

	pmText := t.stage(ctx, o.pm, 0)
	if err := t.append(ctx, conversation.NewMessage(conversation.AuthorPM, pmText)); err != nil {
		return err
	}

	engText := t.stage(ctx, o.engineer, o.engineerTimeout)
	if err := t.append(ctx, conversation.NewMessage(conversation.AuthorEngineer, engText)); err != nil {
		return err
	}

	qaText := t.stage(ctx, o.qa, 0)
	if err := t.append(ctx, conversation.NewMessage(conversation.AuthorQA, qaText)); err != nil {
		return err
	}

	if err := o.store.SetStatus(ctx, t.conv.ID, conversation.StatusCompleted); err != nil {
		return fmt.Errorf("pipeline: set status: %w", err)
	}
	t.conv.Status = conversation.StatusCompleted
	t.conv.UpdatedAt = time.Now()
	return nil
}

// stage asks r for its contribution. Any error, including losing the race
// against timeout when one is set, yields the role's fallback.
func (t *task) stage(ctx context.Context, r role.Role, timeout time.Duration) string {
	o := t.o
	tag := r.Tag()
	snapshot := t.conv.Clone()

	fmt.Fprintf(o.out, "pipeline: [%s] %s: starting (%d messages in context)\n", t.conv.ID, tag, len(snapshot.Messages))
	start := time.Now()

	var text string
	var err error
	if timeout > 0 {
		text, err = race(ctx, r, snapshot, timeout)
	} else {
		text, err = r.Respond(ctx, snapshot)
	}
	if err != nil {
		fallback := r.Fallback(snapshot)
		log.Printf("pipeline: [%s] %s: %v; using fallback", t.conv.ID, tag, err)
		return fallback
	}

	fmt.Fprintf(o.out, "pipeline: [%s] %s: done in %s (%d chars)\n",
		t.conv.ID, tag, time.Since(start).Round(time.Millisecond), len(text))
	return text
}

// race runs Respond against a deadline. Whichever settles first wins; the
// losing call is left to finish on its own and its result is discarded.
func race(ctx context.Context, r role.Role, conv *conversation.Conversation, timeout time.Duration) (string, error) {
	type result struct {
		text string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		text, err := r.Respond(ctx, conv)
		ch <- result{text, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		return res.text, res.err
	case <-timer.C:
		return "", fmt.Errorf("%w after %s", ErrEngineerTimeout, timeout)
	}
}

func (t *task) append(ctx context.Context, msg conversation.Message) error {
	if err := t.o.store.Append(ctx, t.conv.ID, msg); err != nil {
		return fmt.Errorf("pipeline: append %s message: %w", msg.Author, err)
	}
	t.conv.Messages = append(t.conv.Messages, msg)
	t.conv.UpdatedAt = msg.CreatedAt
	t.o.publish(ctx, notify.MessageEvent(t.conv.ID, conversation.VariantPipeline, msg))
	return nil
}

// fail marks the task failed and appends a system-error message. Messages
// already appended stay. Store writes are best effort and skipped entirely
// when the task could not be created, so an existing task is never touched.
func (t *task) fail(ctx context.Context, cause error) {
	msg := conversation.NewMessage(conversation.AuthorPM, SystemErrorPrefix+cause.Error())
	t.conv.Messages = append(t.conv.Messages, msg)
	t.conv.Status = conversation.StatusFailed
	t.conv.UpdatedAt = msg.CreatedAt

	if !t.created {
		return
	}
	if err := t.o.store.Append(ctx, t.conv.ID, msg); err != nil {
		log.Printf("pipeline: [%s] record system error: %v", t.conv.ID, err)
	} else {
		t.o.publish(ctx, notify.MessageEvent(t.conv.ID, conversation.VariantPipeline, msg))
	}
	if err := t.o.store.SetStatus(ctx, t.conv.ID, conversation.StatusFailed); err != nil {
		log.Printf("pipeline: [%s] mark failed: %v", t.conv.ID, err)
	}
}

func (o *Orchestrator) publish(ctx context.Context, evt notify.Event) {
	if o.subscriber == nil {
		return
	}
	if err := o.subscriber.Notify(ctx, evt); err != nil {
		log.Printf("pipeline: [%s] notify: %v", evt.TaskID, err)
	}
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
