// Package message defines the chat message model produced by the streaming
// assembler and consumed by rendering layers.
//
// A Message holds flat content plus an ordered sequence of Parts reflecting
// generation order: text runs, reasoning blocks, tool invocations, file
// references and step markers. Tool invocations are tracked through a
// monotonic lifecycle (partial-call → call → executing → progress → result
// or error); backward transitions are rejected.
package message
