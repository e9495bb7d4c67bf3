// Package role defines the participants that contribute to a conversation:
// the project manager, the engineer and QA. Each role decides per message
// whether it wants to answer and produces its answer through an llm.Gateway.
package role

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zulandar/roundhouse/internal/conversation"
	"github.com/zulandar/roundhouse/internal/llm"
)

// Role is one participant capability.
type Role interface {
	// Tag is the author tag the role writes under.
	Tag() conversation.Author
	// Eligible reports whether the role answers msg given the conversation
	// state after msg was appended. It must be pure.
	Eligible(msg conversation.Message, conv *conversation.Conversation) bool
	// Respond generates the role's contribution to conv.
	Respond(ctx context.Context, conv *conversation.Conversation) (string, error)
	// ResponseKind is the kind attached to the role's broadcast messages.
	ResponseKind() conversation.Kind
	// Fallback is the deterministic text used when Respond fails.
	Fallback(conv *conversation.Conversation) string
}

// Default eligibility cues. Matching is a case-sensitive substring check.
var (
	DefaultImplementationCues = []string{"实现", "代码", "implement", "code"}
	DefaultTestCues           = []string{"测试", "test"}
)

// Fallback texts.
const (
	PMFallbackPrefix = "PM analysis failed, brief output: "
	EngineerFallback = "Code implementation failed, please check the API configuration"
	QAFallback       = "QA review failed, please check code quality manually"
)

// ErrGatewayRequired is returned by constructors given a nil gateway.
var ErrGatewayRequired = errors.New("role: gateway is required")

// Transcript renders conv as a role-tagged transcript. Human messages are
// user turns; every other author is an assistant turn.
func Transcript(conv *conversation.Conversation) []llm.Turn {
	turns := make([]llm.Turn, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		role := llm.RoleAssistant
		if m.Author == conversation.AuthorHuman {
			role = llm.RoleUser
		}
		turns = append(turns, llm.Turn{
			Role:    role,
			Content: fmt.Sprintf("[%s]: %s", m.Author, m.Content),
		})
	}
	return turns
}

// base carries what every role needs to call the gateway.
type base struct {
	gateway llm.Gateway
	profile Profile
}

func newBase(gw llm.Gateway, p Profile) (base, error) {
	if gw == nil {
		return base{}, ErrGatewayRequired
	}
	if p.Model == "" {
		return base{}, fmt.Errorf("role: model is required")
	}
	return base{gateway: gw, profile: p}, nil
}

func (b base) respond(ctx context.Context, conv *conversation.Conversation) (string, error) {
	return b.gateway.Generate(ctx, llm.Request{
		Model:      b.profile.Model,
		System:     b.profile.System,
		Transcript: Transcript(conv),
	})
}

// Profile returns the model and system instruction the role uses.
func (b base) Profile() Profile { return b.profile }

func containsAny(s string, cues []string) bool {
	for _, c := range cues {
		if c != "" && strings.Contains(s, c) {
			return true
		}
	}
	return false
}

func mentions(content string, tag conversation.Author) bool {
	return strings.Contains(content, "@"+string(tag))
}

// PM is the project manager. It opens every task and answers humans.
type PM struct{ base }

// NewPM creates the project manager role.
func NewPM(gw llm.Gateway, p Profile) (*PM, error) {
	b, err := newBase(gw, p)
	if err != nil {
		return nil, err
	}
	return &PM{b}, nil
}

func (r *PM) Tag() conversation.Author        { return conversation.AuthorPM }
func (r *PM) ResponseKind() conversation.Kind { return conversation.KindMessage }

func (r *PM) Eligible(msg conversation.Message, conv *conversation.Conversation) bool {
	return msg.Author == conversation.AuthorHuman ||
		mentions(msg.Content, conversation.AuthorPM) ||
		len(conv.Messages) == 1
}

func (r *PM) Respond(ctx context.Context, conv *conversation.Conversation) (string, error) {
	return r.respond(ctx, conv)
}

// Fallback embeds the original request so the task still carries it forward.
func (r *PM) Fallback(conv *conversation.Conversation) string {
	return PMFallbackPrefix + conv.OriginalRequest
}

// Engineer turns PM plans into code.
type Engineer struct {
	base
	cues []string
}

// NewEngineer creates the engineer role. A nil cues slice selects
// DefaultImplementationCues.
func NewEngineer(gw llm.Gateway, p Profile, cues []string) (*Engineer, error) {
	b, err := newBase(gw, p)
	if err != nil {
		return nil, err
	}
	if cues == nil {
		cues = DefaultImplementationCues
	}
	return &Engineer{base: b, cues: cues}, nil
}

func (r *Engineer) Tag() conversation.Author        { return conversation.AuthorEngineer }
func (r *Engineer) ResponseKind() conversation.Kind { return conversation.KindCode }

func (r *Engineer) Eligible(msg conversation.Message, conv *conversation.Conversation) bool {
	return msg.Author == conversation.AuthorPM ||
		mentions(msg.Content, conversation.AuthorEngineer) ||
		containsAny(msg.Content, r.cues)
}

func (r *Engineer) Respond(ctx context.Context, conv *conversation.Conversation) (string, error) {
	return r.respond(ctx, conv)
}

func (r *Engineer) Fallback(*conversation.Conversation) string { return EngineerFallback }

// QA reviews code.
type QA struct {
	base
	cues []string
}

// NewQA creates the QA role. A nil cues slice selects DefaultTestCues.
func NewQA(gw llm.Gateway, p Profile, cues []string) (*QA, error) {
	b, err := newBase(gw, p)
	if err != nil {
		return nil, err
	}
	if cues == nil {
		cues = DefaultTestCues
	}
	return &QA{base: b, cues: cues}, nil
}

func (r *QA) Tag() conversation.Author        { return conversation.AuthorQA }
func (r *QA) ResponseKind() conversation.Kind { return conversation.KindReview }

func (r *QA) Eligible(msg conversation.Message, conv *conversation.Conversation) bool {
	return msg.Kind == conversation.KindCode ||
		mentions(msg.Content, conversation.AuthorQA) ||
		containsAny(msg.Content, r.cues)
}

func (r *QA) Respond(ctx context.Context, conv *conversation.Conversation) (string, error) {
	return r.respond(ctx, conv)
}

func (r *QA) Fallback(*conversation.Conversation) string { return QAFallback }
