// Package protocol defines the JSON wire frames exchanged with the realtime
// chat gateway.
//
// Frame Types (Client → Server):
//   - subscribe / unsubscribe: join or leave a logical channel
//   - chat: send a user message with optional file references
//   - get_history: request the conversation history
//   - abort: cancel the in-flight generation
//   - clear_history: wipe the server-side conversation
//   - ping: keep-alive
//
// Frame Types (Server → Client):
//   - llm_chunk: incremental or accumulated assistant text
//   - llm_complete: final assistant text for a generation
//   - status: connection/session status string
//   - control: ancillary payloads (history responses)
//   - communication_error: application-level error surfaced in-chat
//   - tool_*: tool invocation lifecycle events
//   - thinking_start: assistant started working, show elapsed indicator
//   - pong: keep-alive response
package protocol
