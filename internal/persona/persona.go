// Package persona maps a book's narrator persona to an assistant voice and
// builds the assistant configuration for a call about that book.
package persona

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ent0n29/booktalk/internal/transport"
)

const (
	DefaultPersona = "daniel"

	voiceProvider = "11labs"
	voiceModel    = "eleven_turbo_v2_5"
)

type Voice struct {
	Key         string `json:"key"`
	ID          string `json:"voice_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Settings tune every assistant voice the same way.
var Settings = struct {
	Stability       float64
	SimilarityBoost float64
	Style           float64
	UseSpeakerBoost bool
}{
	Stability:       0.45,
	SimilarityBoost: 0.75,
	Style:           0,
	UseSpeakerBoost: true,
}

var voices = map[string]Voice{
	"daniel":  {Key: "daniel", ID: "onwK4e9ZLuTAKqWW03F9", Name: "Daniel", Description: "British, authoritative"},
	"chris":   {Key: "chris", ID: "iP95p4xoKVk53GoZ742B", Name: "Chris", Description: "American, casual"},
	"dave":    {Key: "dave", ID: "CYw3kZ02Hs0563khs1Fj", Name: "Dave", Description: "British, conversational"},
	"rachel":  {Key: "rachel", ID: "21m00Tcm4TlvDq8ikWAM", Name: "Rachel", Description: "American, calm"},
	"sarah":   {Key: "sarah", ID: "EXAVITQu4vr4xnSDxMaL", Name: "Sarah", Description: "American, soft"},
	"matilda": {Key: "matilda", ID: "XrExE9yKIg1WjnnlVkGX", Name: "Matilda", Description: "American, warm"},
}

// Lookup resolves a persona name to a voice, falling back to the default.
func Lookup(persona string) Voice {
	if v, ok := voices[strings.ToLower(strings.TrimSpace(persona))]; ok {
		return v
	}
	return voices[DefaultPersona]
}

// Voices lists all voices ordered by name.
func Voices() []Voice {
	out := make([]Voice, 0, len(voices))
	for _, v := range voices {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Book is the subject of a conversation.
type Book struct {
	ID      string
	Title   string
	Author  string
	Persona string
}

func FirstMessage(b Book) string {
	return fmt.Sprintf("Hey, good to meet you. Quick question before we dive in - have you actually read %s yet, or are we starting fresh?", b.Title)
}

// AssistantConfig builds the call configuration for a conversation about b.
func AssistantConfig(assistantID string, b Book) transport.AssistantConfig {
	v := Lookup(b.Persona)
	return transport.AssistantConfig{
		AssistantID:  assistantID,
		FirstMessage: FirstMessage(b),
		VariableValues: map[string]string{
			"title":  b.Title,
			"author": b.Author,
			"bookId": b.ID,
		},
		Voice: transport.VoiceSettings{
			Provider:        voiceProvider,
			VoiceID:         v.ID,
			Model:           voiceModel,
			Stability:       Settings.Stability,
			SimilarityBoost: Settings.SimilarityBoost,
			Style:           Settings.Style,
			UseSpeakerBoost: Settings.UseSpeakerBoost,
		},
	}
}
