// Package conversation holds the task conversation model and the stores that
// keep it: an in-memory store for single-process use and a gorm-backed store
// for SQLite or MySQL.
package conversation

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Author identifies who wrote a message.
type Author string

const (
	AuthorHuman    Author = "human"
	AuthorPM       Author = "pm"
	AuthorEngineer Author = "engineer"
	AuthorQA       Author = "qa"
)

// Valid reports whether a is one of the known authors.
func (a Author) Valid() bool {
	switch a {
	case AuthorHuman, AuthorPM, AuthorEngineer, AuthorQA:
		return true
	}
	return false
}

// Kind classifies a broadcast message. Pipeline messages leave it empty.
type Kind string

const (
	KindMessage  Kind = "message"
	KindCode     Kind = "code"
	KindReview   Kind = "review"
	KindQuestion Kind = "question"
)

// Status is the lifecycle state of a conversation. It moves from processing
// to exactly one terminal state.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether s is completed or failed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Variant records which orchestrator owns a conversation.
type Variant string

const (
	VariantPipeline  Variant = "pipeline"
	VariantBroadcast Variant = "broadcast"
)

// DefaultParticipants are the authors a broadcast conversation dispatches to.
var DefaultParticipants = []Author{AuthorHuman, AuthorPM, AuthorEngineer, AuthorQA}

// Store errors.
var (
	ErrDuplicateTask        = errors.New("task already exists")
	ErrUnknownTask          = errors.New("unknown task")
	ErrTerminalStatus       = errors.New("status already terminal")
	ErrInvalidStatus        = errors.New("invalid status")
	ErrDuplicateMessage     = errors.New("duplicate message id")
	ErrFirstMessageNotHuman = errors.New("first message must be authored by human")
	ErrInvalidMessage       = errors.New("invalid message")
)

// Message is a single immutable entry in a conversation.
type Message struct {
	ID           string    `json:"id"`
	Author       Author    `json:"author"`
	Content      string    `json:"content"`
	CreatedAt    time.Time `json:"createdAt"`
	Kind         Kind      `json:"kind,omitempty"`
	TargetAuthor Author    `json:"targetAuthor,omitempty"`
}

// NewMessage builds a message with a fresh id and the current time.
func NewMessage(author Author, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Author:    author,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// Conversation is the aggregate for one task. Values returned by a Store are
// snapshots; mutating them has no effect on stored state.
type Conversation struct {
	ID              string    `json:"id"`
	OriginalRequest string    `json:"originalRequest"`
	Variant         Variant   `json:"variant"`
	Messages        []Message `json:"messages"`
	Status          Status    `json:"status"`
	Participants    []Author  `json:"participants,omitempty"`
	Active          bool      `json:"active"`
	DepthExceeded   bool      `json:"depthExceeded,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Clone returns a deep copy of c.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.Messages = append([]Message(nil), c.Messages...)
	if c.Messages == nil {
		out.Messages = []Message{}
	}
	out.Participants = append([]Author(nil), c.Participants...)
	return &out
}

// Last returns the most recent message.
func (c *Conversation) Last() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

// HasParticipant reports whether a is dispatchable in c. Conversations with
// no participant list accept every author.
func (c *Conversation) HasParticipant(a Author) bool {
	if len(c.Participants) == 0 {
		return true
	}
	for _, p := range c.Participants {
		if p == a {
			return true
		}
	}
	return false
}

// Settled reports whether the conversation reached a terminal status and is
// no longer receiving broadcasts.
func (c *Conversation) Settled() bool {
	return c.Status.Terminal() && !c.Active
}

// FirstMention returns the first "@role" mention in content, or "" if none.
func FirstMention(content string) Author {
	best := -1
	var found Author
	for _, a := range []Author{AuthorPM, AuthorEngineer, AuthorQA} {
		idx := strings.Index(content, "@"+string(a))
		if idx >= 0 && (best < 0 || idx < best) {
			best = idx
			found = a
		}
	}
	return found
}

// checkAppend enforces the append-time rules against existing messages.
func checkAppend(existing []Message, msg Message) error {
	if msg.ID == "" || !msg.Author.Valid() {
		return ErrInvalidMessage
	}
	if len(existing) == 0 && msg.Author != AuthorHuman {
		return ErrFirstMessageNotHuman
	}
	for _, m := range existing {
		if m.ID == msg.ID {
			return ErrDuplicateMessage
		}
	}
	return nil
}

// checkTransition enforces that status leaves processing at most once.
func checkTransition(current, next Status) error {
	if !next.Terminal() {
		return ErrInvalidStatus
	}
	if current.Terminal() {
		return ErrTerminalStatus
	}
	return nil
}

// newConversation builds the initial state for a task.
func newConversation(taskID, request string, variant Variant, now time.Time) *Conversation {
	c := &Conversation{
		ID:              taskID,
		OriginalRequest: request,
		Variant:         variant,
		Messages:        []Message{},
		Status:          StatusProcessing,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if variant == VariantBroadcast {
		c.Participants = append([]Author(nil), DefaultParticipants...)
		c.Active = true
	}
	return c
}
