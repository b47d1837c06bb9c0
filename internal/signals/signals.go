// Package signals publishes non-blocking abuse and degradation events
// (device-cap crossings, degraded crypto, store outages) to an external
// sink. Emission never blocks identity resolution: callers swallow errors
// and count them instead.
package signals

import (
	"context"
	"sync"
	"time"
)

// Kind classifies a signal event.
type Kind string

const (
	// KindDeviceCapExceeded: a fingerprint crossed its live-device cap.
	KindDeviceCapExceeded Kind = "device_cap_exceeded"
	// KindCryptoDegraded: token derivation fell back to the weaker hash.
	KindCryptoDegraded Kind = "crypto_degraded"
	// KindStoreDegraded: the shared store circuit opened.
	KindStoreDegraded Kind = "store_degraded"
)

// Event is one signal. Subject is always a derived grouping key (a
// fingerprint digest, a breaker name), never raw client material.
type Event struct {
	Kind    Kind      `json:"kind"`
	Subject string    `json:"subject"`
	Detail  string    `json:"detail,omitempty"`
	At      time.Time `json:"at"`
}

// Publisher emits signal events to a sink.
type Publisher interface {
	Emit(ctx context.Context, event Event) error
	Close()
}

// Memory is an in-process Publisher for tests and single-instance
// deployments without a broker.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

// NewMemory creates an empty in-memory publisher.
func NewMemory() *Memory {
	return &Memory{}
}

// Emit records the event.
func (m *Memory) Emit(ctx context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// Events returns a copy of everything emitted so far.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Close is a no-op.
func (m *Memory) Close() {}
