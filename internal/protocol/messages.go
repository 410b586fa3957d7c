package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies voice gateway websocket frames.
type MessageType string

const (
	// client -> gateway
	TypeStart MessageType = "start"
	TypeStop  MessageType = "stop"

	// gateway -> client
	TypeCallStart   MessageType = "call-start"
	TypeCallEnd     MessageType = "call-end"
	TypeSpeechStart MessageType = "speech-start"
	TypeSpeechEnd   MessageType = "speech-end"
	TypeMessage     MessageType = "message"
	TypeError       MessageType = "error"
)

// TranscriptMessageType is the only message kind the client consumes.
const TranscriptMessageType = "transcript"

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type VoiceSettings struct {
	Provider        string  `json:"provider"`
	VoiceID         string  `json:"voice_id"`
	Model           string  `json:"model"`
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

// AssistantConfig is what the gateway needs to run one assistant call.
type AssistantConfig struct {
	AssistantID    string            `json:"assistant_id"`
	FirstMessage   string            `json:"first_message"`
	VariableValues map[string]string `json:"variable_values,omitempty"`
	Voice          VoiceSettings     `json:"voice"`
}

type StartCall struct {
	Type      MessageType     `json:"type"`
	CallID    string          `json:"call_id"`
	Assistant AssistantConfig `json:"assistant"`
}

type StopCall struct {
	Type   MessageType `json:"type"`
	CallID string      `json:"call_id"`
}

// ServerEvent is a gateway frame. Only the fields relevant to Type are set.
type ServerEvent struct {
	Type           MessageType `json:"type"`
	CallID         string      `json:"call_id,omitempty"`
	MessageType    string      `json:"message_type,omitempty"`
	Role           string      `json:"role,omitempty"`
	TranscriptType string      `json:"transcript_type,omitempty"`
	Transcript     string      `json:"transcript,omitempty"`
	Error          string      `json:"error,omitempty"`
}

func NewStartCall(callID string, cfg AssistantConfig) StartCall {
	return StartCall{Type: TypeStart, CallID: callID, Assistant: cfg}
}

func NewStopCall(callID string) StopCall {
	return StopCall{Type: TypeStop, CallID: callID}
}

func ParseServerEvent(raw []byte) (ServerEvent, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ServerEvent{}, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeCallStart, TypeCallEnd, TypeSpeechStart, TypeSpeechEnd:
		return ServerEvent{Type: env.Type}, nil
	case TypeMessage:
		var msg ServerEvent
		if err := json.Unmarshal(raw, &msg); err != nil {
			return ServerEvent{}, err
		}
		if msg.MessageType == "" {
			return ServerEvent{}, errors.New("invalid message: missing message_type")
		}
		return msg, nil
	case TypeError:
		var msg ServerEvent
		if err := json.Unmarshal(raw, &msg); err != nil {
			return ServerEvent{}, err
		}
		if msg.Error == "" {
			msg.Error = "unknown gateway error"
		}
		return msg, nil
	default:
		return ServerEvent{}, ErrUnsupportedType
	}
}

// ParseClientMessage decodes a client frame; used by gateways and test doubles.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeStart:
		var msg StartCall
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.CallID == "" || msg.Assistant.AssistantID == "" {
			return nil, errors.New("invalid start")
		}
		return msg, nil
	case TypeStop:
		var msg StopCall
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.CallID == "" {
			return nil, errors.New("invalid stop")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
