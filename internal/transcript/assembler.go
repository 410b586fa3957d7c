// Package transcript assembles streamed speech fragments into an ordered,
// de-duplicated conversation log plus one live in-progress line per role.
package transcript

import "strings"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the two conversational roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Opposite returns the other conversational role.
func (r Role) Opposite() Role {
	if r == RoleUser {
		return RoleAssistant
	}
	return RoleUser
}

// ParseRole maps a transport role label onto a Role.
func ParseRole(v string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(v)))
	return r, r.Valid()
}

type Finality string

const (
	Partial Finality = "partial"
	Final   Finality = "final"
)

// Fragment is one unit of streamed transcription.
type Fragment struct {
	Role     Role
	Text     string
	Finality Finality
}

// Message is a settled conversational turn. Messages are never mutated after
// they are appended.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Assembler is not safe for concurrent use; the owner serialises access.
type Assembler struct {
	messages []Message
	live     map[Role]string
}

func NewAssembler() *Assembler {
	return &Assembler{live: make(map[Role]string, 2)}
}

// Apply folds one fragment into the log. It returns true when a new message
// was appended.
func (a *Assembler) Apply(f Fragment) bool {
	if !f.Role.Valid() {
		return false
	}
	switch f.Finality {
	case Partial:
		a.live[f.Role] = f.Text
		delete(a.live, f.Role.Opposite())
		return false
	case Final:
		delete(a.live, f.Role)
		if a.contains(f.Role, f.Text) {
			return false
		}
		a.messages = append(a.messages, Message{Role: f.Role, Content: f.Text})
		return true
	default:
		return false
	}
}

// BeginSpeaking clears the live line of the role opposite to r.
func (a *Assembler) BeginSpeaking(r Role) {
	if !r.Valid() {
		return
	}
	delete(a.live, r.Opposite())
}

// ClearLive drops both in-progress lines, leaving the log intact.
func (a *Assembler) ClearLive() {
	clear(a.live)
}

// Reset empties the log and both live lines.
func (a *Assembler) Reset() {
	a.messages = nil
	clear(a.live)
}

func (a *Assembler) Live(r Role) string {
	return a.live[r]
}

// Messages returns a copy of the log in append order. An empty log is an
// empty, non-nil slice.
func (a *Assembler) Messages() []Message {
	out := make([]Message, len(a.messages))
	copy(out, a.messages)
	return out
}

func (a *Assembler) Len() int {
	return len(a.messages)
}

func (a *Assembler) contains(r Role, content string) bool {
	for _, m := range a.messages {
		if m.Role == r && m.Content == content {
			return true
		}
	}
	return false
}
