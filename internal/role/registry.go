package role

import (
	"fmt"

	"github.com/zulandar/roundhouse/internal/conversation"
	"github.com/zulandar/roundhouse/internal/llm"
)

// Registry holds roles in registration order and indexes them by tag.
// The pipeline walks the order; the broadcast orchestrator offers each
// message to every entry.
type Registry struct {
	order []Role
	byTag map[conversation.Author]Role
}

// NewRegistry creates a registry. Tags must be unique and may not be human.
func NewRegistry(roles ...Role) (*Registry, error) {
	r := &Registry{byTag: make(map[conversation.Author]Role, len(roles))}
	for _, role := range roles {
		if role == nil {
			return nil, fmt.Errorf("role: registry: nil role")
		}
		tag := role.Tag()
		if tag == conversation.AuthorHuman || !tag.Valid() {
			return nil, fmt.Errorf("role: registry: invalid tag %q", tag)
		}
		if _, dup := r.byTag[tag]; dup {
			return nil, fmt.Errorf("role: registry: duplicate tag %q", tag)
		}
		r.order = append(r.order, role)
		r.byTag[tag] = role
	}
	return r, nil
}

// Options configures NewStandard.
type Options struct {
	Gateway            llm.Gateway
	Profiles           Profiles
	ImplementationCues []string // nil = DefaultImplementationCues
	TestCues           []string // nil = DefaultTestCues
}

// NewStandard builds the PM, Engineer, QA registry in pipeline order.
func NewStandard(opts Options) (*Registry, error) {
	pm, err := NewPM(opts.Gateway, opts.Profiles.PM)
	if err != nil {
		return nil, fmt.Errorf("role: pm: %w", err)
	}
	eng, err := NewEngineer(opts.Gateway, opts.Profiles.Engineer, opts.ImplementationCues)
	if err != nil {
		return nil, fmt.Errorf("role: engineer: %w", err)
	}
	qa, err := NewQA(opts.Gateway, opts.Profiles.QA, opts.TestCues)
	if err != nil {
		return nil, fmt.Errorf("role: qa: %w", err)
	}
	return NewRegistry(pm, eng, qa)
}

// All returns the roles in registration order.
func (r *Registry) All() []Role {
	return append([]Role(nil), r.order...)
}

// Get returns the role registered under tag.
func (r *Registry) Get(tag conversation.Author) (Role, bool) {
	role, ok := r.byTag[tag]
	return role, ok
}

// Len returns the number of registered roles.
func (r *Registry) Len() int { return len(r.order) }
