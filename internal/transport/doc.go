// Package transport implements the realtime socket client.
//
// A Client owns one physical WebSocket connection and multiplexes any number
// of logical consumers over it through a subscribe/unsubscribe event
// interface. It handles the connect handshake, heartbeat keep-alives,
// capped automatic reconnection, and serialization of outbound command
// frames.
//
// Clients are constructed by the connection registry, which is the only
// component that calls Connect and Disconnect directly; everything else
// acquires a shared client through the registry and listens for events.
//
// Events (in arrival order, from a single reader goroutine):
//   - connected, disconnected, reconnecting, error: connection lifecycle
//   - status, control: session status and ancillary payloads
//   - llm_chunk, llm_complete, communication_error: streaming events
//   - tool_*: tool invocation lifecycle
package transport
