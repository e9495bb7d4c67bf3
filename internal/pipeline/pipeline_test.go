package pipeline

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zulandar/roundhouse/internal/conversation"
	"github.com/zulandar/roundhouse/internal/llm"
	"github.com/zulandar/roundhouse/internal/notify"
	"github.com/zulandar/roundhouse/internal/role"
)

type fixture struct {
	orch  *Orchestrator
	store conversation.Store
	gw    *llm.MockGateway
	out   *bytes.Buffer
}

func newFixture(t *testing.T, store conversation.Store, opts Opts) *fixture {
	t.Helper()
	gw := llm.NewMockGateway("Mock response")
	reg, err := role.NewStandard(role.Options{Gateway: gw, Profiles: role.PipelineProfiles()})
	if err != nil {
		t.Fatalf("NewStandard: %v", err)
	}
	if store == nil {
		store = conversation.NewMemoryStore()
	}
	out := &bytes.Buffer{}
	opts.Store = store
	opts.Roles = reg
	opts.Out = out
	orch, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{orch: orch, store: store, gw: gw, out: out}
}

func authors(c *conversation.Conversation) []conversation.Author {
	var out []conversation.Author
	for _, m := range c.Messages {
		out = append(out, m.Author)
	}
	return out
}

func assertAuthors(t *testing.T, c *conversation.Conversation, want ...conversation.Author) {
	t.Helper()
	got := authors(c)
	if len(got) != len(want) {
		t.Fatalf("authors = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("authors = %v, want %v", got, want)
		}
	}
}

// isStage reports whether req was sent by the role whose system prompt is sys.
func isStage(req llm.Request, sys string) bool { return req.System == sys }

func TestProcessTask_LoginPageScenario(t *testing.T) {
	f := newFixture(t, nil, Opts{})
	ctx := context.Background()

	conv := f.orch.ProcessTask(ctx, "Create a login page")

	assertAuthors(t, conv, "human", "pm", "engineer", "qa")
	if conv.Status != conversation.StatusCompleted {
		t.Errorf("Status = %q, want completed", conv.Status)
	}
	if conv.Messages[0].Content != "Create a login page" {
		t.Errorf("first message = %q, want the request verbatim", conv.Messages[0].Content)
	}
	for _, m := range conv.Messages[1:] {
		if m.Content != "Mock response" {
			t.Errorf("%s content = %q, want %q", m.Author, m.Content, "Mock response")
		}
	}
	if f.gw.CallCount() != 3 {
		t.Errorf("gateway calls = %d, want 3", f.gw.CallCount())
	}

	stored, err := f.store.Get(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != conversation.StatusCompleted || len(stored.Messages) != 4 {
		t.Errorf("stored = %s with %d messages", stored.Status, len(stored.Messages))
	}
	if stored.Variant != conversation.VariantPipeline {
		t.Errorf("Variant = %q", stored.Variant)
	}
}

func TestProcessTask_StagesSeeEarlierMessages(t *testing.T) {
	f := newFixture(t, nil, Opts{})
	f.orch.ProcessTask(context.Background(), "Build a todo app")

	reqs := f.gw.Requests()
	if len(reqs) != 3 {
		t.Fatalf("requests = %d, want 3", len(reqs))
	}
	for i, want := range []int{1, 2, 3} {
		if len(reqs[i].Transcript) != want {
			t.Errorf("request %d transcript = %d turns, want %d", i, len(reqs[i].Transcript), want)
		}
	}
	if reqs[2].Model != "deepseek-chat" {
		t.Errorf("QA model = %q, want deepseek-chat", reqs[2].Model)
	}
}

func TestProcessTask_PMFailureUsesFallback(t *testing.T) {
	f := newFixture(t, nil, Opts{})
	pmSystem := role.PipelineProfiles().PM.System
	f.gw.SetHandler(func(req llm.Request) (string, error) {
		if isStage(req, pmSystem) {
			return "", &llm.GatewayError{Provider: "openai", Model: req.Model, Err: errors.New("API Error")}
		}
		return "Mock response", nil
	})

	conv := f.orch.ProcessTask(context.Background(), "Create a login page")

	assertAuthors(t, conv, "human", "pm", "engineer", "qa")
	if got := conv.Messages[1].Content; got != "PM analysis failed, brief output: Create a login page" {
		t.Errorf("pm content = %q", got)
	}
	if conv.Messages[2].Content != "Mock response" || conv.Messages[3].Content != "Mock response" {
		t.Error("later stages should still run")
	}
	if conv.Status != conversation.StatusCompleted {
		t.Errorf("Status = %q, want completed", conv.Status)
	}
}

func TestProcessTask_EngineerTimeoutUsesFallback(t *testing.T) {
	f := newFixture(t, nil, Opts{EngineerTimeout: 20 * time.Millisecond})
	engSystem := role.PipelineProfiles().Engineer.System
	release := make(chan struct{})
	defer close(release)
	f.gw.SetHandler(func(req llm.Request) (string, error) {
		if isStage(req, engSystem) {
			<-release
			return "too late", nil
		}
		return "Mock response", nil
	})

	start := time.Now()
	conv := f.orch.ProcessTask(context.Background(), "Create a login page")
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("ProcessTask took %s, timeout not applied", elapsed)
	}

	assertAuthors(t, conv, "human", "pm", "engineer", "qa")
	if got := conv.Messages[2].Content; got != role.EngineerFallback {
		t.Errorf("engineer content = %q, want fallback", got)
	}
	if conv.Status != conversation.StatusCompleted {
		t.Errorf("Status = %q, want completed", conv.Status)
	}
}

func TestProcessTask_GatewayAlwaysFails(t *testing.T) {
	f := newFixture(t, nil, Opts{})
	f.gw.SetError(errors.New("quota exceeded"))

	conv := f.orch.ProcessTask(context.Background(), "Create a login page")

	assertAuthors(t, conv, "human", "pm", "engineer", "qa")
	if conv.Status != conversation.StatusCompleted {
		t.Errorf("Status = %q, want completed", conv.Status)
	}
	want := []string{
		"PM analysis failed, brief output: Create a login page",
		role.EngineerFallback,
		role.QAFallback,
	}
	for i, w := range want {
		if conv.Messages[i+1].Content != w {
			t.Errorf("message %d = %q, want %q", i+1, conv.Messages[i+1].Content, w)
		}
	}
}

// failingStore fails the nth Append call.
type failingStore struct {
	conversation.Store
	failAt int
	calls  atomic.Int32
}

func (s *failingStore) Append(ctx context.Context, taskID string, msg conversation.Message) error {
	if int(s.calls.Add(1)) == s.failAt {
		return errors.New("disk full")
	}
	return s.Store.Append(ctx, taskID, msg)
}

func TestProcessTask_StoreFailureMarksFailed(t *testing.T) {
	store := &failingStore{Store: conversation.NewMemoryStore(), failAt: 3}
	f := newFixture(t, store, Opts{})
	ctx := context.Background()

	conv := f.orch.ProcessTaskWithID(ctx, "task-1", "Create a login page")

	if conv.Status != conversation.StatusFailed {
		t.Fatalf("Status = %q, want failed", conv.Status)
	}
	assertAuthors(t, conv, "human", "pm", "pm")
	last := conv.Messages[len(conv.Messages)-1]
	if !strings.HasPrefix(last.Content, SystemErrorPrefix) || !strings.Contains(last.Content, "disk full") {
		t.Errorf("system message = %q", last.Content)
	}
	if f.gw.CallCount() != 2 {
		t.Errorf("gateway calls = %d, want 2 (QA must not run)", f.gw.CallCount())
	}

	stored, err := store.Get(ctx, "task-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != conversation.StatusFailed {
		t.Errorf("stored Status = %q, want failed", stored.Status)
	}
	if len(stored.Messages) != 3 {
		t.Errorf("stored messages = %d, want 3 (no rollback)", len(stored.Messages))
	}
}

func TestProcessTask_DuplicateIDLeavesExistingTask(t *testing.T) {
	f := newFixture(t, nil, Opts{})
	ctx := context.Background()

	first := f.orch.ProcessTaskWithID(ctx, "dup", "first request")
	second := f.orch.ProcessTaskWithID(ctx, "dup", "second request")

	if first.Status != conversation.StatusCompleted {
		t.Fatalf("first Status = %q", first.Status)
	}
	if second.Status != conversation.StatusFailed {
		t.Errorf("second Status = %q, want failed", second.Status)
	}
	assertAuthors(t, second, "human", "pm")
	if second.Messages[0].Content != "second request" {
		t.Errorf("second first message = %q", second.Messages[0].Content)
	}

	stored, _ := f.store.Get(ctx, "dup")
	if stored.OriginalRequest != "first request" || len(stored.Messages) != 4 || stored.Status != conversation.StatusCompleted {
		t.Errorf("existing task was modified: %+v", stored)
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []notify.Event
}

func (l *eventLog) Notify(ctx context.Context, evt notify.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, evt)
	return nil
}

func TestProcessTask_PublishesEvents(t *testing.T) {
	log := &eventLog{}
	f := newFixture(t, nil, Opts{Subscriber: log})
	f.orch.ProcessTask(context.Background(), "Create a login page")

	if len(log.events) != 5 {
		t.Fatalf("events = %d, want 5", len(log.events))
	}
	for i := 0; i < 4; i++ {
		if log.events[i].Type != notify.EventMessage {
			t.Errorf("event %d type = %q, want message", i, log.events[i].Type)
		}
	}
	last := log.events[4]
	if last.Type != notify.EventSettled || last.Status != conversation.StatusCompleted {
		t.Errorf("last event = %+v", last)
	}
}

func TestProcessTask_ConcurrentTasks(t *testing.T) {
	f := newFixture(t, nil, Opts{})
	var wg sync.WaitGroup
	results := make([]*conversation.Conversation, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.orch.ProcessTask(context.Background(), "task")
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, c := range results {
		if len(c.Messages) != 4 || c.Status != conversation.StatusCompleted {
			t.Errorf("task %s: %d messages, %s", c.ID, len(c.Messages), c.Status)
		}
		if seen[c.ID] {
			t.Errorf("duplicate task id %s", c.ID)
		}
		seen[c.ID] = true
	}
}

func TestProcessTask_LogsProgress(t *testing.T) {
	f := newFixture(t, nil, Opts{})
	f.orch.ProcessTaskWithID(context.Background(), "t-log", "Create a login page")
	out := f.out.String()
	for _, want := range []string{"pipeline: [t-log] starting", "pm: done", "engineer: done", "qa: done", "completed in"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestNew_Validation(t *testing.T) {
	gw := llm.NewMockGateway("x")
	pm, _ := role.NewPM(gw, role.Profile{Model: "m"})
	partial, _ := role.NewRegistry(pm)

	tests := []struct {
		name string
		opts Opts
	}{
		{"no store", Opts{Roles: partial}},
		{"no roles", Opts{Store: conversation.NewMemoryStore()}},
		{"missing engineer", Opts{Store: conversation.NewMemoryStore(), Roles: partial}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts); err == nil {
				t.Error("expected error")
			}
		})
	}
}
