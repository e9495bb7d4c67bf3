// Package llm is the text-generation boundary. Orchestrators talk to a
// Gateway; concrete providers wrap the OpenAI and DeepSeek chat APIs.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Transcript roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one entry of the transcript sent to a model.
type Turn struct {
	Role    string
	Content string
}

// Request is a single generation call.
type Request struct {
	Model      string
	System     string
	Transcript []Turn
}

// Gateway generates text. Every call may fail or be slow; callers that need
// a bound must apply their own timeout.
type Gateway interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// ErrProviderNotConfigured is returned when no provider serves a model.
var ErrProviderNotConfigured = errors.New("provider not configured")

// ErrEmptyResponse is returned when a provider answers without choices.
var ErrEmptyResponse = errors.New("no choices in response")

// GatewayError wraps any transport, auth, quota or response failure.
type GatewayError struct {
	Provider string
	Model    string
	Err      error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("llm: %s %s: %v", e.Provider, e.Model, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Router dispatches requests to a provider by model name: "deepseek-*"
// models go to DeepSeek, everything else to OpenAI.
type Router struct {
	openai   Gateway
	deepseek Gateway
}

// RouterOpts holds the providers for a Router. Either may be nil.
type RouterOpts struct {
	OpenAI   Gateway
	DeepSeek Gateway
}

// NewRouter creates a Router.
func NewRouter(opts RouterOpts) *Router {
	return &Router{openai: opts.OpenAI, deepseek: opts.DeepSeek}
}

// Generate implements Gateway.
func (r *Router) Generate(ctx context.Context, req Request) (string, error) {
	provider, gw := r.route(req.Model)
	if gw == nil {
		return "", &GatewayError{Provider: provider, Model: req.Model, Err: ErrProviderNotConfigured}
	}
	return gw.Generate(ctx, req)
}

func (r *Router) route(model string) (string, Gateway) {
	if strings.HasPrefix(model, "deepseek") {
		return "deepseek", r.deepseek
	}
	return "openai", r.openai
}
