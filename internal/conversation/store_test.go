package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// runStoreContract exercises the Store contract against any implementation.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("CreateAndGet", func(t *testing.T) {
		s := newStore(t)
		c, err := s.Create(ctx, "task-1", "Create a login page", VariantPipeline)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if c.Status != StatusProcessing {
			t.Errorf("Status = %q, want %q", c.Status, StatusProcessing)
		}
		got, err := s.Get(ctx, "task-1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.OriginalRequest != "Create a login page" {
			t.Errorf("OriginalRequest = %q", got.OriginalRequest)
		}
		if len(got.Messages) != 0 {
			t.Errorf("len(Messages) = %d, want 0", len(got.Messages))
		}
	})

	t.Run("DuplicateTask", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Create(ctx, "dup", "a", VariantPipeline); err != nil {
			t.Fatalf("Create: %v", err)
		}
		_, err := s.Create(ctx, "dup", "b", VariantPipeline)
		if !errors.Is(err, ErrDuplicateTask) {
			t.Fatalf("err = %v, want ErrDuplicateTask", err)
		}
	})

	t.Run("UnknownTask", func(t *testing.T) {
		s := newStore(t)
		if err := s.Append(ctx, "missing", NewMessage(AuthorHuman, "hi")); !errors.Is(err, ErrUnknownTask) {
			t.Errorf("Append err = %v, want ErrUnknownTask", err)
		}
		if err := s.SetStatus(ctx, "missing", StatusCompleted); !errors.Is(err, ErrUnknownTask) {
			t.Errorf("SetStatus err = %v, want ErrUnknownTask", err)
		}
		if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrUnknownTask) {
			t.Errorf("Get err = %v, want ErrUnknownTask", err)
		}
	})

	t.Run("AppendOrderAndInvariants", func(t *testing.T) {
		s := newStore(t)
		s.Create(ctx, "t", "req", VariantPipeline)

		if err := s.Append(ctx, "t", NewMessage(AuthorPM, "too early")); !errors.Is(err, ErrFirstMessageNotHuman) {
			t.Fatalf("err = %v, want ErrFirstMessageNotHuman", err)
		}

		human := NewMessage(AuthorHuman, "req")
		if err := s.Append(ctx, "t", human); err != nil {
			t.Fatalf("Append human: %v", err)
		}
		if err := s.Append(ctx, "t", human); !errors.Is(err, ErrDuplicateMessage) {
			t.Fatalf("err = %v, want ErrDuplicateMessage", err)
		}
		for _, a := range []Author{AuthorPM, AuthorEngineer, AuthorQA} {
			if err := s.Append(ctx, "t", NewMessage(a, string(a)+" says")); err != nil {
				t.Fatalf("Append %s: %v", a, err)
			}
		}

		got, _ := s.Get(ctx, "t")
		want := []Author{AuthorHuman, AuthorPM, AuthorEngineer, AuthorQA}
		if len(got.Messages) != len(want) {
			t.Fatalf("len(Messages) = %d, want %d", len(got.Messages), len(want))
		}
		for i, a := range want {
			if got.Messages[i].Author != a {
				t.Errorf("Messages[%d].Author = %q, want %q", i, got.Messages[i].Author, a)
			}
		}
	})

	t.Run("InvalidMessage", func(t *testing.T) {
		s := newStore(t)
		s.Create(ctx, "t", "req", VariantPipeline)
		if err := s.Append(ctx, "t", Message{Author: AuthorHuman, Content: "no id"}); !errors.Is(err, ErrInvalidMessage) {
			t.Errorf("err = %v, want ErrInvalidMessage", err)
		}
		if err := s.Append(ctx, "t", Message{ID: "x", Author: "robot"}); !errors.Is(err, ErrInvalidMessage) {
			t.Errorf("err = %v, want ErrInvalidMessage", err)
		}
	})

	t.Run("StatusMonotonic", func(t *testing.T) {
		s := newStore(t)
		s.Create(ctx, "t", "req", VariantPipeline)
		if err := s.SetStatus(ctx, "t", StatusProcessing); !errors.Is(err, ErrInvalidStatus) {
			t.Errorf("err = %v, want ErrInvalidStatus", err)
		}
		if err := s.SetStatus(ctx, "t", StatusCompleted); err != nil {
			t.Fatalf("SetStatus: %v", err)
		}
		if err := s.SetStatus(ctx, "t", StatusFailed); !errors.Is(err, ErrTerminalStatus) {
			t.Errorf("err = %v, want ErrTerminalStatus", err)
		}
		got, _ := s.Get(ctx, "t")
		if got.Status != StatusCompleted {
			t.Errorf("Status = %q, want %q", got.Status, StatusCompleted)
		}
	})

	t.Run("BroadcastDefaults", func(t *testing.T) {
		s := newStore(t)
		c, err := s.Create(ctx, "b", "req", VariantBroadcast)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if !c.Active {
			t.Error("broadcast conversation should start active")
		}
		got, _ := s.Get(ctx, "b")
		if len(got.Participants) != 4 {
			t.Errorf("Participants = %v, want 4 entries", got.Participants)
		}
		if err := s.SetActive(ctx, "b", false); err != nil {
			t.Fatalf("SetActive: %v", err)
		}
		if err := s.MarkDepthExceeded(ctx, "b"); err != nil {
			t.Fatalf("MarkDepthExceeded: %v", err)
		}
		got, _ = s.Get(ctx, "b")
		if got.Active || !got.DepthExceeded {
			t.Errorf("Active = %v, DepthExceeded = %v; want false, true", got.Active, got.DepthExceeded)
		}
	})

	t.Run("SnapshotIsolation", func(t *testing.T) {
		s := newStore(t)
		s.Create(ctx, "t", "req", VariantPipeline)
		s.Append(ctx, "t", NewMessage(AuthorHuman, "original"))

		snap, _ := s.Get(ctx, "t")
		snap.Messages[0].Content = "edited"
		snap.Status = StatusFailed

		got, _ := s.Get(ctx, "t")
		if got.Messages[0].Content != "original" {
			t.Errorf("stored content = %q, want %q", got.Messages[0].Content, "original")
		}
		if got.Status != StatusProcessing {
			t.Errorf("stored status = %q, want %q", got.Status, StatusProcessing)
		}
	})

	t.Run("Evict", func(t *testing.T) {
		s := newStore(t)
		s.Create(ctx, "done", "req", VariantPipeline)
		s.SetStatus(ctx, "done", StatusCompleted)
		s.Create(ctx, "running", "req", VariantPipeline)
		s.Create(ctx, "live", "req", VariantBroadcast)
		s.SetStatus(ctx, "live", StatusCompleted) // still active

		n, err := s.Evict(ctx, time.Now().Add(time.Hour))
		if err != nil {
			t.Fatalf("Evict: %v", err)
		}
		if n != 1 {
			t.Errorf("evicted = %d, want 1", n)
		}
		if _, err := s.Get(ctx, "done"); !errors.Is(err, ErrUnknownTask) {
			t.Errorf("done still present: %v", err)
		}
		if _, err := s.Get(ctx, "running"); err != nil {
			t.Errorf("running evicted: %v", err)
		}
		if _, err := s.Get(ctx, "live"); err != nil {
			t.Errorf("live evicted: %v", err)
		}
	})

	t.Run("ConcurrentAppendsSameKey", func(t *testing.T) {
		s := newStore(t)
		s.Create(ctx, "t", "req", VariantBroadcast)
		s.Append(ctx, "t", NewMessage(AuthorHuman, "req"))

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if err := s.Append(ctx, "t", NewMessage(AuthorPM, fmt.Sprintf("m%d", i))); err != nil {
					t.Errorf("Append %d: %v", i, err)
				}
			}(i)
		}
		wg.Wait()

		got, _ := s.Get(ctx, "t")
		if len(got.Messages) != 21 {
			t.Errorf("len(Messages) = %d, want 21", len(got.Messages))
		}
	})
}
