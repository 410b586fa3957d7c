// Package transport is the boundary to the realtime voice call service: it
// accepts start/stop commands and streams lifecycle and transcript events.
package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/ent0n29/booktalk/internal/protocol"
)

type EventType string

const (
	EventCallStart   EventType = "call-start"
	EventCallEnd     EventType = "call-end"
	EventSpeechStart EventType = "speech-start"
	EventSpeechEnd   EventType = "speech-end"
	EventMessage     EventType = "message"
	EventError       EventType = "error"
)

// AssistantConfig configures the assistant for one call.
type AssistantConfig = protocol.AssistantConfig

// VoiceSettings selects and tunes the assistant voice.
type VoiceSettings = protocol.VoiceSettings

// Message is a message event payload. Only Type "transcript" carries speech.
type Message struct {
	Type           string
	Role           string
	TranscriptType string
	Transcript     string
}

type Event struct {
	Type    EventType
	Message *Message
	Err     error
}

type Handler func(Event)

// Transport is a realtime voice call service. Implementations deliver events
// on their own goroutines; handlers must not block.
type Transport interface {
	Start(ctx context.Context, cfg AssistantConfig) error
	Stop() error
	Subscribe(h Handler) (unsubscribe func())
}

var (
	ErrCallActive = errors.New("call already active")
	ErrNotStarted = errors.New("call not started")
)

// Emitter fans events out to subscribers in subscription order.
type Emitter struct {
	mu       sync.Mutex
	nextID   int
	handlers []subscription
}

type subscription struct {
	id int
	h  Handler
}

func (e *Emitter) Subscribe(h Handler) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	e.handlers = append(e.handlers, subscription{id: id, h: h})

	var once sync.Once
	return func() {
		once.Do(func() { e.unsubscribe(id) })
	}
}

func (e *Emitter) unsubscribe(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, s := range e.handlers {
		if s.id == id {
			e.handlers = append(e.handlers[:i:i], e.handlers[i+1:]...)
			return
		}
	}
}

func (e *Emitter) Emit(ev Event) {
	e.mu.Lock()
	hs := make([]Handler, 0, len(e.handlers))
	for _, s := range e.handlers {
		hs = append(hs, s.h)
	}
	e.mu.Unlock()

	for _, h := range hs {
		h(ev)
	}
}

// SubscriberCount reports how many handlers are registered.
func (e *Emitter) SubscriberCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.handlers)
}
