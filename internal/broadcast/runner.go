package broadcast

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/zulandar/roundhouse/internal/conversation"
	"github.com/zulandar/roundhouse/internal/notify"
	"github.com/zulandar/roundhouse/internal/role"
)

// item is a message waiting to be appended and dispatched. depth counts the
// replies between it and the human request.
type item struct {
	msg   conversation.Message
	depth int
}

// runner is the single goroutine that appends to one task. Replies computed
// by role goroutines come back over results and are queued in order of
// arrival.
type runner struct {
	o       *Orchestrator
	conv    *conversation.Conversation
	results chan item
	done    chan struct{}

	pending  int
	exceeded bool
	err      error
}

func newRunner(o *Orchestrator, conv *conversation.Conversation) *runner {
	return &runner{
		o:       o,
		conv:    conv,
		results: make(chan item),
		done:    make(chan struct{}),
	}
}

func (r *runner) run(ctx context.Context, seed item) {
	defer close(r.done)

	r.dispatch(ctx, seed)
	var queue []item
	for r.pending > 0 || len(queue) > 0 {
		if len(queue) == 0 {
			queue = append(queue, <-r.results)
			r.pending--
			continue
		}
		it := queue[0]
		queue = queue[1:]
		r.handle(ctx, it)
	}
	r.settle(ctx)
}

// handle appends it unless a bound or an earlier store failure stops it,
// then offers it to the other roles.
func (r *runner) handle(ctx context.Context, it item) {
	if r.err != nil {
		return
	}
	if it.depth > r.o.maxDepth {
		r.overflow(ctx, fmt.Sprintf("%s reply at depth %d exceeds max depth %d", it.msg.Author, it.depth, r.o.maxDepth))
		return
	}
	if len(r.conv.Messages) >= r.o.maxMessages {
		r.overflow(ctx, fmt.Sprintf("%s reply dropped at message limit %d", it.msg.Author, r.o.maxMessages))
		return
	}
	if err := r.commit(ctx, it.msg); err != nil {
		log.Printf("broadcast: [%s] %v", r.conv.ID, err)
		r.err = err
		return
	}
	r.dispatch(ctx, it)
}

// commit appends msg to the store and the local mirror, then notifies.
func (r *runner) commit(ctx context.Context, msg conversation.Message) error {
	if err := r.o.store.Append(ctx, r.conv.ID, msg); err != nil {
		return fmt.Errorf("append %s message: %w", msg.Author, err)
	}
	r.conv.Messages = append(r.conv.Messages, msg)
	r.conv.UpdatedAt = msg.CreatedAt
	r.o.publish(ctx, notify.MessageEvent(r.conv.ID, conversation.VariantBroadcast, msg))
	return nil
}

// dispatch offers it.msg to every role but its author and starts a reply
// for each role that accepts. Replies that could not be appended within
// the bounds are never requested.
func (r *runner) dispatch(ctx context.Context, it item) {
	snapshot := r.conv.Clone()
	var accepted []string
	for _, rl := range r.o.roles.All() {
		tag := rl.Tag()
		if tag == it.msg.Author || !snapshot.HasParticipant(tag) {
			continue
		}
		if !rl.Eligible(it.msg, snapshot) {
			continue
		}
		if it.depth+1 > r.o.maxDepth {
			r.overflow(ctx, fmt.Sprintf("%s reply at depth %d would exceed max depth %d", tag, it.depth+1, r.o.maxDepth))
			continue
		}
		if len(r.conv.Messages)+r.pending >= r.o.maxMessages {
			r.overflow(ctx, fmt.Sprintf("%s reply skipped at message limit %d", tag, r.o.maxMessages))
			continue
		}
		accepted = append(accepted, string(tag))
		r.pending++
		go r.respond(ctx, rl, snapshot, it.depth+1)
	}
	if len(accepted) > 0 {
		fmt.Fprintf(r.o.out, "broadcast: [%s] %s (depth %d) -> %s\n",
			r.conv.ID, it.msg.Author, it.depth, strings.Join(accepted, ", "))
	}
}

func (r *runner) respond(ctx context.Context, rl role.Role, snapshot *conversation.Conversation, depth int) {
	text, err := rl.Respond(ctx, snapshot)
	if err != nil {
		log.Printf("broadcast: [%s] %s: %v; using fallback", snapshot.ID, rl.Tag(), err)
		text = rl.Fallback(snapshot)
	}
	msg := conversation.NewMessage(rl.Tag(), text)
	msg.Kind = rl.ResponseKind()
	msg.TargetAuthor = conversation.FirstMention(text)
	r.results <- item{msg: msg, depth: depth}
}

// overflow records the bound being hit. Only the first overflow is stored
// and published; later drops are logged.
func (r *runner) overflow(ctx context.Context, detail string) {
	log.Printf("broadcast: [%s] %v: %s", r.conv.ID, ErrBroadcastDepthExceeded, detail)
	if r.exceeded {
		return
	}
	r.exceeded = true
	r.conv.DepthExceeded = true
	if err := r.o.store.MarkDepthExceeded(ctx, r.conv.ID); err != nil {
		log.Printf("broadcast: [%s] mark depth exceeded: %v", r.conv.ID, err)
	}
	r.o.publish(ctx, notify.Event{
		Type:    notify.EventDepthExceeded,
		TaskID:  r.conv.ID,
		Variant: conversation.VariantBroadcast,
		Detail:  detail,
		Time:    r.conv.UpdatedAt,
	})
}

// settle moves the task to its terminal status and marks it inactive. A
// store failure during the run leaves the task failed with a system-error
// message.
func (r *runner) settle(ctx context.Context) {
	status := conversation.StatusCompleted
	if r.err != nil {
		status = conversation.StatusFailed
		msg := conversation.NewMessage(conversation.AuthorPM, "System error: "+r.err.Error())
		if err := r.o.store.Append(ctx, r.conv.ID, msg); err != nil {
			log.Printf("broadcast: [%s] record system error: %v", r.conv.ID, err)
		} else {
			r.conv.Messages = append(r.conv.Messages, msg)
			r.o.publish(ctx, notify.MessageEvent(r.conv.ID, conversation.VariantBroadcast, msg))
		}
	}
	if err := r.o.store.SetStatus(ctx, r.conv.ID, status); err != nil {
		log.Printf("broadcast: [%s] set status: %v", r.conv.ID, err)
	}
	if err := r.o.store.SetActive(ctx, r.conv.ID, false); err != nil {
		log.Printf("broadcast: [%s] deactivate: %v", r.conv.ID, err)
	}
	r.conv.Status = status
	r.conv.Active = false

	fmt.Fprintf(r.o.out, "broadcast: [%s] settled %s with %d messages\n", r.conv.ID, status, len(r.conv.Messages))
	r.o.publish(ctx, notify.SettledEvent(r.conv.ID, conversation.VariantBroadcast, status))
}

// result is the outcome reported by Wait. Call only after done is closed.
func (r *runner) result() error {
	if r.err != nil {
		return fmt.Errorf("broadcast: %s: %w", r.conv.ID, r.err)
	}
	if r.exceeded {
		return fmt.Errorf("broadcast: %s: %w", r.conv.ID, ErrBroadcastDepthExceeded)
	}
	return nil
}
