package conversation

import (
	"context"
	"sync"
	"time"
)

// Store keeps conversations keyed by task id. Implementations must be safe
// for concurrent use across distinct keys and serialize operations on the
// same key.
type Store interface {
	// Create starts a conversation. Returns ErrDuplicateTask if taskID exists.
	Create(ctx context.Context, taskID, originalRequest string, variant Variant) (*Conversation, error)

	// Append adds msg to the end of the conversation. Returns ErrUnknownTask
	// if taskID does not exist.
	Append(ctx context.Context, taskID string, msg Message) error

	// SetStatus moves the conversation to a terminal status.
	SetStatus(ctx context.Context, taskID string, status Status) error

	// SetActive flips the broadcast liveness flag.
	SetActive(ctx context.Context, taskID string, active bool) error

	// MarkDepthExceeded records that a broadcast bound was hit.
	MarkDepthExceeded(ctx context.Context, taskID string) error

	// Get returns a snapshot of the conversation, or ErrUnknownTask.
	Get(ctx context.Context, taskID string) (*Conversation, error)

	// Evict removes settled conversations last updated before the cutoff and
	// returns how many were removed.
	Evict(ctx context.Context, before time.Time) (int, error)
}

// keyedMutex hands out one mutex per key and frees it once nobody holds it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// Lock acquires the mutex for key and returns its unlock func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
