package message

import (
	"github.com/lunahq/realtime/internal/shared/id"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleOther     Role = "other"
)

// ParseRole maps a wire role string onto a Role, defaulting to RoleOther.
func ParseRole(s string) Role {
	switch s {
	case string(RoleUser):
		return RoleUser
	case string(RoleAssistant):
		return RoleAssistant
	default:
		return RoleOther
	}
}

// TokenUsage carries token telemetry preserved from history payloads.
type TokenUsage struct {
	Prompt     int `json:"prompt,omitempty"`
	Completion int `json:"completion,omitempty"`
}

// Message is a single chat message. Content and Parts mutate in place while
// a generation streams, then freeze once the completion event arrives.
type Message struct {
	ID              id.MessageID      `json:"id"`
	Role            Role              `json:"role"`
	Content         string            `json:"content"`
	Parts           []Part            `json:"parts,omitempty"`
	ToolInvocations []*ToolInvocation `json:"tool_invocations,omitempty"`
	CompletionTime  float64           `json:"completion_time,omitempty"`
	IsThinking      bool              `json:"is_thinking,omitempty"`
	Aborted         bool              `json:"aborted,omitempty"`
	Tokens          *TokenUsage       `json:"tokens,omitempty"`
}

// New creates a message with a fresh ID.
func New(role Role, content string) *Message {
	return &Message{
		ID:      id.NewMessageID(),
		Role:    role,
		Content: content,
	}
}

// AppendPart adds a part preserving generation order.
func (m *Message) AppendPart(p Part) {
	m.Parts = append(m.Parts, p)
}

// Invocation returns the tool invocation with the given call ID, if present.
func (m *Message) Invocation(callID id.CallID) (*ToolInvocation, bool) {
	for _, inv := range m.ToolInvocations {
		if inv.CallID == callID {
			return inv, true
		}
	}
	return nil, false
}

// AddInvocation appends a tool invocation and its corresponding part.
func (m *Message) AddInvocation(inv *ToolInvocation) {
	m.ToolInvocations = append(m.ToolInvocations, inv)
	m.AppendPart(ToolInvocationPart{Invocation: inv})
}

// GroupInvocations returns the tool invocations grouped into runs of
// adjacent calls to the same tool. Renderers present a run as one visual
// block; the individual records stay intact.
func (m *Message) GroupInvocations() [][]*ToolInvocation {
	var groups [][]*ToolInvocation
	for _, inv := range m.ToolInvocations {
		if n := len(groups); n > 0 && groups[n-1][0].ToolName == inv.ToolName {
			groups[n-1] = append(groups[n-1], inv)
			continue
		}
		groups = append(groups, []*ToolInvocation{inv})
	}
	return groups
}
