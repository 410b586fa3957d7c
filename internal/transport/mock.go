package transport

import (
	"context"
	"sync"
)

// Mock is an in-process transport for tests and offline demos. Events are
// delivered synchronously from the calling goroutine.
type Mock struct {
	Emitter

	// AutoCallStart emits call-start when Start succeeds.
	AutoCallStart bool
	// AutoCallEnd emits call-end when Stop is called on an active call.
	AutoCallEnd bool

	mu       sync.Mutex
	startErr error
	starts   []AssistantConfig
	stops    int
	active   bool
}

func NewMock() *Mock {
	return &Mock{AutoCallStart: true, AutoCallEnd: true}
}

// FailStart makes subsequent Start calls return err. A nil err clears it.
func (m *Mock) FailStart(err error) {
	m.mu.Lock()
	m.startErr = err
	m.mu.Unlock()
}

func (m *Mock) Start(_ context.Context, cfg AssistantConfig) error {
	m.mu.Lock()
	m.starts = append(m.starts, cfg)
	if m.startErr != nil {
		err := m.startErr
		m.mu.Unlock()
		return err
	}
	if m.active {
		m.mu.Unlock()
		return ErrCallActive
	}
	m.active = true
	auto := m.AutoCallStart
	m.mu.Unlock()

	if auto {
		m.Emit(Event{Type: EventCallStart})
	}
	return nil
}

func (m *Mock) Stop() error {
	m.mu.Lock()
	m.stops++
	wasActive := m.active
	m.active = false
	auto := m.AutoCallEnd
	m.mu.Unlock()

	if wasActive && auto {
		m.Emit(Event{Type: EventCallEnd})
	}
	return nil
}

// End simulates the remote side hanging up.
func (m *Mock) End() {
	m.mu.Lock()
	m.active = false
	m.mu.Unlock()
	m.Emit(Event{Type: EventCallEnd})
}

// Fail simulates a transport error followed by the call dropping.
func (m *Mock) Fail(err error) {
	m.mu.Lock()
	m.active = false
	m.mu.Unlock()
	m.Emit(Event{Type: EventError, Err: err})
}

// Transcript emits a transcript message event.
func (m *Mock) Transcript(role, transcriptType, text string) {
	m.Emit(Event{Type: EventMessage, Message: &Message{
		Type:           "transcript",
		Role:           role,
		TranscriptType: transcriptType,
		Transcript:     text,
	}})
}

func (m *Mock) Starts() []AssistantConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AssistantConfig, len(m.starts))
	copy(out, m.starts)
	return out
}

func (m *Mock) StopCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}

func (m *Mock) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}
