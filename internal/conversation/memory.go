package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. Nothing survives a restart.
//
// Lock order is map lock before key lock; per-key work never takes the map
// lock while holding a key lock.
type MemoryStore struct {
	mu    sync.RWMutex
	convs map[string]*Conversation
	keys  keyedMutex
	now   func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		convs: make(map[string]*Conversation),
		now:   time.Now,
	}
}

// Create implements Store.
func (s *MemoryStore) Create(ctx context.Context, taskID, originalRequest string, variant Variant) (*Conversation, error) {
	if taskID == "" {
		return nil, fmt.Errorf("conversation: create: task id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[taskID]; ok {
		return nil, fmt.Errorf("conversation: create %s: %w", taskID, ErrDuplicateTask)
	}
	c := newConversation(taskID, originalRequest, variant, s.now())
	s.convs[taskID] = c
	return c.Clone(), nil
}

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, taskID string, msg Message) error {
	err := s.update(taskID, func(c *Conversation) error {
		if err := checkAppend(c.Messages, msg); err != nil {
			return err
		}
		c.Messages = append(c.Messages, msg)
		return nil
	})
	if err != nil {
		return fmt.Errorf("conversation: append %s: %w", taskID, err)
	}
	return nil
}

// SetStatus implements Store.
func (s *MemoryStore) SetStatus(ctx context.Context, taskID string, status Status) error {
	err := s.update(taskID, func(c *Conversation) error {
		if err := checkTransition(c.Status, status); err != nil {
			return err
		}
		c.Status = status
		return nil
	})
	if err != nil {
		return fmt.Errorf("conversation: set status %s to %s: %w", taskID, status, err)
	}
	return nil
}

// SetActive implements Store.
func (s *MemoryStore) SetActive(ctx context.Context, taskID string, active bool) error {
	err := s.update(taskID, func(c *Conversation) error {
		c.Active = active
		return nil
	})
	if err != nil {
		return fmt.Errorf("conversation: set active %s: %w", taskID, err)
	}
	return nil
}

// MarkDepthExceeded implements Store.
func (s *MemoryStore) MarkDepthExceeded(ctx context.Context, taskID string) error {
	err := s.update(taskID, func(c *Conversation) error {
		c.DepthExceeded = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("conversation: mark depth exceeded %s: %w", taskID, err)
	}
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, taskID string) (*Conversation, error) {
	c, err := s.lookup(taskID)
	if err != nil {
		return nil, fmt.Errorf("conversation: get %s: %w", taskID, err)
	}
	unlock := s.keys.Lock(taskID)
	defer unlock()
	return c.Clone(), nil
}

// Evict implements Store.
func (s *MemoryStore) Evict(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, c := range s.convs {
		unlock := s.keys.Lock(id)
		stale := c.Settled() && c.UpdatedAt.Before(before)
		unlock()
		if stale {
			delete(s.convs, id)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored conversations.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.convs)
}

func (s *MemoryStore) lookup(taskID string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[taskID]
	if !ok {
		return nil, ErrUnknownTask
	}
	return c, nil
}

// update runs fn on the stored conversation under its key lock and bumps
// UpdatedAt when fn succeeds.
func (s *MemoryStore) update(taskID string, fn func(c *Conversation) error) error {
	c, err := s.lookup(taskID)
	if err != nil {
		return err
	}
	unlock := s.keys.Lock(taskID)
	defer unlock()
	if err := fn(c); err != nil {
		return err
	}
	c.UpdatedAt = s.now()
	return nil
}
