package llm

import (
	"context"
	"sync"
	"time"
)

// MockGateway implements Gateway for testing. It returns Response (or Err)
// unless Handler is set, optionally after Delay, and records every request.
type MockGateway struct {
	mu       sync.Mutex
	response string
	err      error
	delay    time.Duration
	handler  func(Request) (string, error)
	requests []Request
}

// NewMockGateway creates a MockGateway that answers every call with response.
func NewMockGateway(response string) *MockGateway {
	return &MockGateway{response: response}
}

// SetError makes every subsequent call fail with err.
func (m *MockGateway) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetDelay makes every subsequent call wait d before answering.
func (m *MockGateway) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// SetHandler overrides the canned response with a per-request function.
func (m *MockGateway) SetHandler(fn func(Request) (string, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = fn
}

// Generate implements Gateway.
func (m *MockGateway) Generate(ctx context.Context, req Request) (string, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	resp, err, delay, handler := m.response, m.err, m.delay, m.handler
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return "", &GatewayError{Provider: "mock", Model: req.Model, Err: ctx.Err()}
		case <-time.After(delay):
		}
	}
	if handler != nil {
		return handler(req)
	}
	if err != nil {
		return "", &GatewayError{Provider: "mock", Model: req.Model, Err: err}
	}
	return resp, nil
}

// Requests returns a copy of all recorded requests.
func (m *MockGateway) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// CallCount returns the number of recorded requests.
func (m *MockGateway) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}
