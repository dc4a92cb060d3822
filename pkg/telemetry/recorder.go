// Package telemetry records messaging operations to an APM backend.
package telemetry

import (
	"context"
	"sync"
	"time"
)

// Operation describes one completed client operation.
type Operation struct {
	Name     string
	Entity   string
	Duration time.Duration
	Err      error
}

// Recorder receives operation telemetry. Implementations must be safe for
// concurrent use and must not block.
type Recorder interface {
	RecordOperation(ctx context.Context, op Operation)
	RecordCustomEvent(eventType string, attributes map[string]interface{})
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) RecordOperation(context.Context, Operation) {}
func (NopRecorder) RecordCustomEvent(string, map[string]interface{}) {}

// Track times fn and records it under name.
func Track(ctx context.Context, r Recorder, name, entity string, fn func() error) error {
	start := time.Now()
	err := fn()
	r.RecordOperation(ctx, Operation{Name: name, Entity: entity, Duration: time.Since(start), Err: err})
	return err
}

// MockRecorder keeps operations in memory for assertions.
type MockRecorder struct {
	mu     sync.Mutex
	ops    []Operation
	events []map[string]interface{}
}

// NewMockRecorder creates an empty MockRecorder.
func NewMockRecorder() *MockRecorder {
	return &MockRecorder{}
}

func (m *MockRecorder) RecordOperation(_ context.Context, op Operation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, op)
}

func (m *MockRecorder) RecordCustomEvent(eventType string, attributes map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	event := map[string]interface{}{"event_type": eventType}
	for k, v := range attributes {
		event[k] = v
	}
	m.events = append(m.events, event)
}

// Operations returns the recorded operations named name, or all when name is empty.
func (m *MockRecorder) Operations(name string) []Operation {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Operation
	for _, op := range m.ops {
		if name == "" || op.Name == name {
			out = append(out, op)
		}
	}
	return out
}

// Events returns the recorded custom events.
func (m *MockRecorder) Events() []map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]map[string]interface{}(nil), m.events...)
}
