package message

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lunahq/realtime/internal/shared/id"
)

// ErrStateRegression is returned when a tool event would move an invocation
// backward in its lifecycle.
var ErrStateRegression = errors.New("tool invocation state regression")

// InvocationState is one step of the tool invocation lifecycle.
type InvocationState int

const (
	StatePartialCall InvocationState = iota
	StateCall
	StateExecuting
	StateProgress
	StateResult
	StateError
)

// String returns the wire representation of the state.
func (s InvocationState) String() string {
	switch s {
	case StatePartialCall:
		return "partial-call"
	case StateCall:
		return "call"
	case StateExecuting:
		return "executing"
	case StateProgress:
		return "progress"
	case StateResult:
		return "result"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state ends the lifecycle.
func (s InvocationState) Terminal() bool {
	return s == StateResult || s == StateError
}

// rank orders states for the monotonicity check. Result and error share a
// rank: both are terminal and neither may follow the other.
func (s InvocationState) rank() int {
	switch s {
	case StatePartialCall:
		return 0
	case StateCall:
		return 1
	case StateExecuting:
		return 2
	case StateProgress:
		return 3
	case StateResult, StateError:
		return 4
	default:
		return -1
	}
}

// ToolInvocation tracks one tool call through its lifecycle. Repeated events
// for the same CallID mutate this record; they never create a second one.
type ToolInvocation struct {
	CallID   id.CallID       `json:"call_id"`
	ToolName string          `json:"tool_name"`
	Args     map[string]any  `json:"args,omitempty"`
	State    InvocationState `json:"state"`

	// Execution-style tools carry the code being run and its stated purpose.
	Code    string `json:"code,omitempty"`
	Purpose string `json:"purpose,omitempty"`

	// Progress events update this human-readable status line.
	ProgressMessage string `json:"progress_message,omitempty"`

	Result    json.RawMessage `json:"result,omitempty"`
	Cancelled bool            `json:"cancelled,omitempty"`
	ErrorText string          `json:"error_text,omitempty"`
}

// NewInvocation starts an invocation in the partial-call state.
func NewInvocation(callID id.CallID, toolName string) *ToolInvocation {
	return &ToolInvocation{
		CallID:   callID,
		ToolName: toolName,
		State:    StatePartialCall,
	}
}

// Transition moves the invocation to a later lifecycle state. Progress may
// repeat (progress 0..n); any other same-or-earlier target is a regression.
func (inv *ToolInvocation) Transition(to InvocationState) error {
	if to == StateProgress && inv.State == StateProgress {
		return nil
	}
	if to.rank() <= inv.State.rank() {
		return fmt.Errorf("%w: %s -> %s for %s", ErrStateRegression, inv.State, to, inv.CallID)
	}
	inv.State = to
	return nil
}
