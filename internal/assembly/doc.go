// Package assembly reconstructs structured chat messages from the
// interleaved event stream of one conversation view.
//
// The Assembler folds transport events (text chunks, completions, tool
// invocation lifecycles, history responses, the thinking indicator) into
// an ordered message list. Folding is
// deterministic: events for one connection arrive in frame order on a single
// goroutine, and the assembler applies them in that order.
//
// Typical wiring:
//
//	asm := assembly.New(logger, metrics)
//	unbind := asm.Bind(client)
//	asm.OnChange(render)
//	defer unbind()
package assembly
