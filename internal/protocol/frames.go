package protocol

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/bytedance/sonic"
)

// Client → server command types.
const (
	CmdSubscribe    = "subscribe"
	CmdUnsubscribe  = "unsubscribe"
	CmdChat         = "chat"
	CmdGetHistory   = "get_history"
	CmdAbort        = "abort"
	CmdClearHistory = "clear_history"
	CmdPing         = "ping"
)

// Server → client event types.
const (
	EventChunk       = "llm_chunk"
	EventComplete    = "llm_complete"
	EventStatus      = "status"
	EventControl     = "control"
	EventCommError   = "communication_error"
	EventThinking    = "thinking_start"
	EventPong        = "pong"
	EventToolPartial = "tool_partial_call"
	EventToolCall    = "tool_call"
	EventToolExec    = "tool_executing"
	EventToolProg    = "tool_progress"
	EventToolResult  = "tool_result"
	EventToolError   = "tool_error"
)

// Control payload types.
const ControlHistoryResponse = "history_response"

// Command is an outbound frame.
type Command struct {
	Type        string    `json:"type"`
	RequestID   string    `json:"request_id,omitempty"`
	Channel     string    `json:"channel,omitempty"`
	Text        string    `json:"text,omitempty"`
	Attachments []FileRef `json:"attachments,omitempty"`
}

// FileRef points at a file previously uploaded through the REST layer.
type FileRef struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

// Envelope is an inbound frame. Fields beyond Type are populated depending
// on the event.
type Envelope struct {
	Type string `json:"type"`

	// llm_chunk / llm_complete
	Chunk       string `json:"chunk,omitempty"`
	Seq         int    `json:"seq,omitempty"`
	Accumulated bool   `json:"accumulated,omitempty"`
	FullText    string `json:"full_text,omitempty"`
	MessageID   string `json:"message_id,omitempty"`

	// status
	Status string `json:"status,omitempty"`

	// control
	Control *Control `json:"control,omitempty"`

	// communication_error
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`

	// tool_*
	Tool *ToolEvent `json:"tool,omitempty"`

	// thinking_start, unix milliseconds
	StartedAt int64 `json:"started_at,omitempty"`
}

// Control wraps ancillary payloads delivered over the control event.
type Control struct {
	Type     string        `json:"type"`
	Messages []WireMessage `json:"messages,omitempty"`
}

// WireMessage is a history entry as serialized by the server.
type WireMessage struct {
	ID               string      `json:"id,omitempty"`
	Role             string      `json:"role,omitempty"`
	Content          string      `json:"content,omitempty"`
	CompletionTime   float64     `json:"completion_time,omitempty"`
	PromptTokens     int         `json:"prompt_tokens,omitempty"`
	CompletionTokens int         `json:"completion_tokens,omitempty"`
	Tools            []ToolEvent `json:"tools,omitempty"`
}

// ToolEvent carries one step of a tool invocation lifecycle.
type ToolEvent struct {
	CallID    string          `json:"call_id"`
	ToolName  string          `json:"tool_name,omitempty"`
	Args      map[string]any  `json:"args,omitempty"`
	Code      string          `json:"code,omitempty"`
	Purpose   string          `json:"purpose,omitempty"`
	Message   string          `json:"message,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Cancelled bool            `json:"cancelled,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// EncodeCommand serializes an outbound command frame.
func EncodeCommand(cmd Command) ([]byte, error) {
	data, err := sonic.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s command: %w", cmd.Type, err)
	}
	return data, nil
}

// DecodeEnvelope parses an inbound frame.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("frame missing type field")
	}
	return &env, nil
}

// IsToolEvent reports whether the envelope carries a tool lifecycle event.
func (e *Envelope) IsToolEvent() bool {
	switch e.Type {
	case EventToolPartial, EventToolCall, EventToolExec, EventToolProg, EventToolResult, EventToolError:
		return true
	}
	return false
}

// RouteContext identifies the routing context encoded into the socket URL
// query string. Empty fields are omitted.
type RouteContext struct {
	ProjectID      string
	ConversationID string
	EmbedToken     string
}

// BuildSocketURL appends the routing context to a ws:// or wss:// base URL.
func BuildSocketURL(base string, route RouteContext) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid socket URL %q: %w", base, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("socket URL must use ws or wss scheme, got %q", u.Scheme)
	}

	q := u.Query()
	if route.ProjectID != "" {
		q.Set("projectId", route.ProjectID)
	}
	if route.ConversationID != "" {
		q.Set("conversationId", route.ConversationID)
	}
	if route.EmbedToken != "" {
		q.Set("embedToken", route.EmbedToken)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}
