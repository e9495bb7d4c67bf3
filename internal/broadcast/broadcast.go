// Package broadcast runs group-chat tasks: every message is offered to every
// role except its author, each role decides for itself whether to answer,
// and answers are offered on in turn until nobody wants to speak or the
// task hits its bound.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/zulandar/roundhouse/internal/conversation"
	"github.com/zulandar/roundhouse/internal/notify"
	"github.com/zulandar/roundhouse/internal/role"
)

// Default bounds.
const (
	DefaultMaxDepth    = 6
	DefaultMaxMessages = 50
)

var (
	// ErrBroadcastDepthExceeded is reported when a task produced more replies
	// than its depth or message bound allows.
	ErrBroadcastDepthExceeded = errors.New("broadcast depth exceeded")
	// ErrNotRunning is returned by Wait for a task that is neither running in
	// this orchestrator nor settled in the store.
	ErrNotRunning = errors.New("task not running")
)

// Orchestrator owns the running broadcast tasks.
type Orchestrator struct {
	store       conversation.Store
	roles       *role.Registry
	subscriber  notify.Subscriber
	maxDepth    int
	maxMessages int
	out         io.Writer

	mu    sync.Mutex
	tasks map[string]*runner
	wg    sync.WaitGroup
}

// Opts holds parameters for creating an Orchestrator.
type Opts struct {
	Store       conversation.Store
	Roles       *role.Registry
	Subscriber  notify.Subscriber // optional
	MaxDepth    int               // replies deeper than this are dropped; defaults to DefaultMaxDepth
	MaxMessages int               // per-conversation cap; defaults to DefaultMaxMessages
	Out         io.Writer         // progress output; defaults to os.Stdout
}

// New creates an Orchestrator.
func New(opts Opts) (*Orchestrator, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("broadcast: store is required")
	}
	if opts.Roles == nil || opts.Roles.Len() == 0 {
		return nil, fmt.Errorf("broadcast: at least one role is required")
	}
	o := &Orchestrator{
		store:       opts.Store,
		roles:       opts.Roles,
		subscriber:  opts.Subscriber,
		maxDepth:    opts.MaxDepth,
		maxMessages: opts.MaxMessages,
		out:         opts.Out,
		tasks:       make(map[string]*runner),
	}
	if o.maxDepth <= 0 {
		o.maxDepth = DefaultMaxDepth
	}
	if o.maxMessages <= 0 {
		o.maxMessages = DefaultMaxMessages
	}
	if o.out == nil {
		o.out = os.Stdout
	}
	return o, nil
}

// StartTask creates the conversation, appends the human request and starts
// dispatching it. It returns once the request is stored; replies arrive in
// the background. Reusing a task id fails with conversation.ErrDuplicateTask.
func (o *Orchestrator) StartTask(ctx context.Context, taskID, request string) error {
	if taskID == "" {
		return fmt.Errorf("broadcast: task id is required")
	}

	conv, err := o.store.Create(ctx, taskID, request, conversation.VariantBroadcast)
	if err != nil {
		return fmt.Errorf("broadcast: start %s: %w", taskID, err)
	}
	r := newRunner(o, conv)
	o.mu.Lock()
	o.tasks[taskID] = r
	o.mu.Unlock()

	seed := conversation.NewMessage(conversation.AuthorHuman, request)
	seed.Kind = conversation.KindMessage
	seed.TargetAuthor = conversation.FirstMention(request)
	if err := r.commit(ctx, seed); err != nil {
		r.err = err
		r.settle(ctx)
		close(r.done)
		o.forget(taskID)
		return fmt.Errorf("broadcast: start %s: %w", taskID, err)
	}

	fmt.Fprintf(o.out, "broadcast: [%s] started\n", taskID)

	runCtx := context.WithoutCancel(ctx)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.forget(taskID)
		r.run(runCtx, item{msg: seed, depth: 0})
	}()
	return nil
}

// Context returns the current snapshot of a task.
func (o *Orchestrator) Context(ctx context.Context, taskID string) (*conversation.Conversation, error) {
	conv, err := o.store.Get(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("broadcast: context %s: %w", taskID, err)
	}
	return conv, nil
}

// Wait blocks until taskID settles or ctx is done. It returns
// ErrBroadcastDepthExceeded when the task was cut off by its bound.
func (o *Orchestrator) Wait(ctx context.Context, taskID string) error {
	o.mu.Lock()
	r, ok := o.tasks[taskID]
	o.mu.Unlock()

	if ok {
		select {
		case <-r.done:
			return r.result()
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	conv, err := o.store.Get(ctx, taskID)
	if err != nil {
		return fmt.Errorf("broadcast: wait %s: %w", taskID, err)
	}
	if !conv.Settled() {
		return fmt.Errorf("broadcast: wait %s: %w", taskID, ErrNotRunning)
	}
	if conv.DepthExceeded {
		return fmt.Errorf("broadcast: %s: %w", taskID, ErrBroadcastDepthExceeded)
	}
	return nil
}

// Running returns the number of unsettled tasks.
func (o *Orchestrator) Running() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.tasks)
}

// Drain waits for every running task to settle or ctx to be done.
func (o *Orchestrator) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) forget(taskID string) {
	o.mu.Lock()
	delete(o.tasks, taskID)
	o.mu.Unlock()
}

func (o *Orchestrator) publish(ctx context.Context, evt notify.Event) {
	if o.subscriber == nil {
		return
	}
	if err := o.subscriber.Notify(ctx, evt); err != nil {
		log.Printf("broadcast: [%s] notify: %v", evt.TaskID, err)
	}
}
