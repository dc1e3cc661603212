package message

// PartKind discriminates the Part union.
type PartKind string

const (
	PartText           PartKind = "text"
	PartReasoning      PartKind = "reasoning"
	PartToolInvocation PartKind = "tool-invocation"
	PartFile           PartKind = "file"
	PartStepMarker     PartKind = "step-marker"
)

// Part is one ordered segment of a message. Order within a message reflects
// generation order and is significant.
type Part interface {
	Kind() PartKind
}

// TextPart is a run of assistant or user text.
type TextPart struct {
	Text string `json:"text"`
}

func (TextPart) Kind() PartKind { return PartText }

// ReasoningPart is a reasoning block streamed before visible output.
type ReasoningPart struct {
	Text string `json:"text"`
}

func (ReasoningPart) Kind() PartKind { return PartReasoning }

// ToolInvocationPart embeds a tool invocation at its position in the stream.
type ToolInvocationPart struct {
	Invocation *ToolInvocation `json:"invocation"`
}

func (ToolInvocationPart) Kind() PartKind { return PartToolInvocation }

// FilePart references an attached or generated file.
type FilePart struct {
	FileID      string `json:"file_id"`
	Name        string `json:"name"`
	ContentType string `json:"content_type,omitempty"`
}

func (FilePart) Kind() PartKind { return PartFile }

// StepMarkerPart separates sequential generation steps.
type StepMarkerPart struct{}

func (StepMarkerPart) Kind() PartKind { return PartStepMarker }
