package ai

import (
	"context"
	"sync"
)

// MockResponse is a canned reply for MockGenerator.
type MockResponse struct {
	Plan Plan
	Err  error
}

// MockGenerator returns canned responses in FIFO order and records every input.
type MockGenerator struct {
	mu        sync.Mutex
	responses []MockResponse
	Calls     []PlanInput
}

// NewMockGenerator creates a MockGenerator with the given canned responses.
func NewMockGenerator(responses ...MockResponse) *MockGenerator {
	return &MockGenerator{responses: responses}
}

// Generate returns the next canned response, or ErrProviderUnavailable once the queue is empty.
func (m *MockGenerator) Generate(_ context.Context, input PlanInput) (Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, input)

	if len(m.responses) == 0 {
		return Plan{}, &ErrProviderUnavailable{}
	}

	resp := m.responses[0]
	m.responses = m.responses[1:]
	if resp.Err != nil {
		return Plan{}, resp.Err
	}
	return resp.Plan, nil
}

// CallCount returns the number of Generate calls made.
func (m *MockGenerator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
