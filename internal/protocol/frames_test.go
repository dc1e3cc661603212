package protocol

import (
	"strings"
	"testing"
)

func TestEncodeCommand(t *testing.T) {
	data, err := EncodeCommand(Command{
		Type: CmdChat,
		Text: "hello",
		Attachments: []FileRef{
			{ID: "file_1", Name: "report.pdf", ContentType: "application/pdf"},
		},
	})
	if err != nil {
		t.Fatalf("EncodeCommand failed: %v", err)
	}

	s := string(data)
	for _, want := range []string{`"type":"chat"`, `"text":"hello"`, `"report.pdf"`} {
		if !strings.Contains(s, want) {
			t.Errorf("encoded command missing %s: %s", want, s)
		}
	}
}

func TestEncodeCommandOmitsEmpty(t *testing.T) {
	data, err := EncodeCommand(Command{Type: CmdAbort})
	if err != nil {
		t.Fatalf("EncodeCommand failed: %v", err)
	}

	s := string(data)
	if strings.Contains(s, "attachments") || strings.Contains(s, "text") {
		t.Errorf("abort command should only carry its type: %s", s)
	}
}

func TestDecodeEnvelope(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"type":"llm_chunk","chunk":"Hello","seq":3,"accumulated":true}`))
	if err != nil {
		t.Fatalf("DecodeEnvelope failed: %v", err)
	}

	if env.Type != EventChunk {
		t.Errorf("expected llm_chunk, got %s", env.Type)
	}
	if env.Chunk != "Hello" || env.Seq != 3 || !env.Accumulated {
		t.Errorf("unexpected envelope: %+v", env)
	}
}

func TestDecodeEnvelopeControl(t *testing.T) {
	raw := `{"type":"control","control":{"type":"history_response","messages":[{"role":"user","content":"hi"}]}}`
	env, err := DecodeEnvelope([]byte(raw))
	if err != nil {
		t.Fatalf("DecodeEnvelope failed: %v", err)
	}

	if env.Control == nil || env.Control.Type != ControlHistoryResponse {
		t.Fatalf("expected history_response control, got %+v", env.Control)
	}
	if len(env.Control.Messages) != 1 || env.Control.Messages[0].Content != "hi" {
		t.Errorf("unexpected history payload: %+v", env.Control.Messages)
	}
}

func TestDecodeEnvelopeMissingType(t *testing.T) {
	if _, err := DecodeEnvelope([]byte(`{"chunk":"x"}`)); err == nil {
		t.Error("frame without type should fail")
	}
}

func TestDecodeEnvelopeInvalid(t *testing.T) {
	if _, err := DecodeEnvelope([]byte(`{not json`)); err == nil {
		t.Error("malformed frame should fail")
	}
}

func TestIsToolEvent(t *testing.T) {
	tests := []struct {
		eventType string
		want      bool
	}{
		{EventToolCall, true},
		{EventToolResult, true},
		{EventToolProg, true},
		{EventChunk, false},
		{EventStatus, false},
	}

	for _, tt := range tests {
		env := &Envelope{Type: tt.eventType}
		if env.IsToolEvent() != tt.want {
			t.Errorf("IsToolEvent(%s) = %v, want %v", tt.eventType, !tt.want, tt.want)
		}
	}
}

func TestBuildSocketURL(t *testing.T) {
	got, err := BuildSocketURL("wss://host/api/ws", RouteContext{
		ProjectID:      "p1",
		ConversationID: "c9",
	})
	if err != nil {
		t.Fatalf("BuildSocketURL failed: %v", err)
	}

	if !strings.HasPrefix(got, "wss://host/api/ws?") {
		t.Errorf("unexpected URL: %s", got)
	}
	if !strings.Contains(got, "projectId=p1") || !strings.Contains(got, "conversationId=c9") {
		t.Errorf("URL missing routing params: %s", got)
	}
}

func TestBuildSocketURLRejectsHTTP(t *testing.T) {
	if _, err := BuildSocketURL("https://host/api/ws", RouteContext{}); err == nil {
		t.Error("http(s) scheme should be rejected")
	}
}
