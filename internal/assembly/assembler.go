package assembly

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lunahq/realtime/internal/infrastructure/logging"
	"github.com/lunahq/realtime/internal/infrastructure/monitoring"
	"github.com/lunahq/realtime/internal/message"
	"github.com/lunahq/realtime/internal/protocol"
	"github.com/lunahq/realtime/internal/shared/id"
	"github.com/lunahq/realtime/internal/transport"
)

const (
	// Incremental chunks below this length never start a new message
	// bubble; they are streaming noise.
	minChunkRunes = 2

	// Accumulated corrections below this length are premature and
	// discarded to avoid visible flicker.
	minAccumulatedRunes = 10

	defaultTickInterval = time.Second
)

// Assembler folds transport events into the message list of one
// conversation view.
type Assembler struct {
	logger  *logging.Logger
	metrics *monitoring.Metrics

	mu          sync.Mutex
	messages    []*message.Message
	current     *message.Message
	buffer      strings.Builder
	invocations map[id.CallID]*message.ToolInvocation
	loading     bool

	// Abort correlation: a trailing completion for an aborted generation
	// must not resurrect content.
	pendingAbort bool
	abortedID    id.MessageID

	// Thinking indicator state.
	thinkingStart time.Time
	genStart      time.Time
	tickInterval  time.Duration
	tickStop      chan struct{}
	now           func() time.Time

	client   *transport.Client
	onChange func()
	onNotice func(code, msg string)
}

// New creates an assembler for one conversation view.
func New(logger *logging.Logger, metrics *monitoring.Metrics) *Assembler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Assembler{
		logger:       logger.Named("assembly"),
		metrics:      metrics,
		invocations:  make(map[id.CallID]*message.ToolInvocation),
		tickInterval: defaultTickInterval,
		now:          time.Now,
	}
}

// OnChange registers the re-render callback. Invoked after every state
// mutation, outside the assembler's lock.
func (a *Assembler) OnChange(fn func()) {
	a.mu.Lock()
	a.onChange = fn
	a.mu.Unlock()
}

// OnNotice registers the transient-notification callback used for
// application-level communication errors.
func (a *Assembler) OnNotice(fn func(code, msg string)) {
	a.mu.Lock()
	a.onNotice = fn
	a.mu.Unlock()
}

// Bind subscribes the assembler to a transport client's streaming events and
// remembers the client for wire-level aborts. Returns the unbind function.
func (a *Assembler) Bind(client *transport.Client) func() {
	a.mu.Lock()
	a.client = client
	a.mu.Unlock()

	names := []string{
		protocol.EventChunk,
		protocol.EventComplete,
		protocol.EventControl,
		protocol.EventCommError,
		protocol.EventThinking,
		protocol.EventToolPartial,
		protocol.EventToolCall,
		protocol.EventToolExec,
		protocol.EventToolProg,
		protocol.EventToolResult,
		protocol.EventToolError,
	}

	unsubs := make([]transport.Unsubscribe, 0, len(names))
	for _, name := range names {
		unsubs = append(unsubs, client.On(name, a.HandleEvent))
	}

	return func() {
		for _, off := range unsubs {
			off()
		}
		a.mu.Lock()
		a.client = nil
		a.mu.Unlock()
		a.stopTicker()
	}
}

// HandleEvent folds one transport event into the view state.
func (a *Assembler) HandleEvent(ev transport.Event) {
	env := ev.Envelope
	if env == nil {
		return
	}

	switch {
	case env.Type == protocol.EventChunk:
		a.handleChunk(env)
	case env.Type == protocol.EventComplete:
		a.handleComplete(env)
	case env.Type == protocol.EventControl:
		a.handleControl(env)
	case env.Type == protocol.EventCommError:
		a.handleCommError(env)
	case env.Type == protocol.EventThinking:
		a.handleThinking(env)
	case env.IsToolEvent():
		a.handleTool(env)
	}
}

// Messages returns a snapshot of the current message list.
func (a *Assembler) Messages() []*message.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*message.Message, len(a.messages))
	copy(out, a.messages)
	return out
}

// IsLoading reports whether a generation is in flight.
func (a *Assembler) IsLoading() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loading
}

// Abort cancels the in-flight generation locally first, then notifies the
// server. A trailing completion for the aborted generation is swallowed.
func (a *Assembler) Abort() {
	a.mu.Lock()
	if a.current != nil {
		a.current.Aborted = true
		a.abortedID = a.current.ID
		a.pendingAbort = true
		a.current = nil
		a.buffer.Reset()
		if a.metrics != nil {
			a.metrics.MessagesAborted.Inc()
		}
	}
	a.clearThinkingLocked()
	a.loading = false
	client := a.client
	a.mu.Unlock()

	if client != nil {
		if err := client.Abort(); err != nil {
			a.logger.Warn("wire abort failed", zap.Error(err))
		}
	}
	a.notify()
}

// Reset drops all view state. Used when the consumer clears the
// conversation.
func (a *Assembler) Reset() {
	a.mu.Lock()
	a.messages = nil
	a.current = nil
	a.buffer.Reset()
	a.invocations = make(map[id.CallID]*message.ToolInvocation)
	a.pendingAbort = false
	a.abortedID = ""
	a.loading = false
	a.clearThinkingLocked()
	a.mu.Unlock()
	a.notify()
}

func (a *Assembler) handleChunk(env *protocol.Envelope) {
	if strings.TrimSpace(env.Chunk) == "" {
		return
	}

	a.mu.Lock()
	if env.Accumulated {
		// A correction for an aborted generation must not touch the list.
		if a.staleLocked(env.MessageID) {
			a.mu.Unlock()
			return
		}
		// A full-text correction superseding previously streamed text.
		if len([]rune(env.Chunk)) < minAccumulatedRunes {
			a.mu.Unlock()
			return
		}
		target := a.current
		if target == nil {
			target = a.lastAssistantLocked()
		}
		if target == nil {
			target = a.newAssistantLocked(env.MessageID)
		}
		target.Content = env.Chunk
		if target == a.current {
			a.buffer.Reset()
			a.buffer.WriteString(env.Chunk)
		}
		target.IsThinking = false
		a.reconcileThinkingLocked()
	} else {
		// Incremental chunks still tagged with the aborted generation's ID
		// are late stream remnants. ID-less ones start a new generation.
		if env.MessageID != "" && a.staleLocked(env.MessageID) {
			a.mu.Unlock()
			return
		}
		if a.current == nil {
			if len([]rune(env.Chunk)) < minChunkRunes {
				a.mu.Unlock()
				return
			}
			a.current = a.ensureCurrentLocked(env.MessageID)
		}
		a.buffer.WriteString(env.Chunk)
		a.current.Content = a.buffer.String()
	}
	a.loading = true
	a.mu.Unlock()
	a.notify()
}

func (a *Assembler) handleComplete(env *protocol.Envelope) {
	a.mu.Lock()
	if env.Accumulated {
		if a.staleCompletionLocked(env) {
			a.loading = false
			a.mu.Unlock()
			return
		}
		target := a.current
		if target == nil {
			target = a.lastAssistantLocked()
		}
		if target == nil {
			target = a.newAssistantLocked(env.MessageID)
		}
		target.Content = env.FullText
		a.finalizeLocked(target)
		a.mu.Unlock()
		a.notify()
		return
	}

	if a.staleCompletionLocked(env) {
		a.loading = false
		a.mu.Unlock()
		return
	}

	if a.current == nil {
		// A completion without preceding chunks; tolerated.
		if env.FullText != "" {
			m := a.newAssistantLocked(env.MessageID)
			m.Content = env.FullText
			a.finalizeLocked(m)
		} else {
			a.loading = false
		}
		a.mu.Unlock()
		a.notify()
		return
	}

	if env.FullText != "" {
		a.current.Content = env.FullText
	} else {
		a.current.Content = a.buffer.String()
	}
	a.finalizeLocked(a.current)
	a.mu.Unlock()
	a.notify()
}

// staleLocked reports whether an event belongs to the aborted generation.
// An event carrying the aborted message ID always matches; an ID-less one
// matches only while no newer generation has started, since with a
// generation mid-stream it is indistinguishable from that generation's own
// traffic. Leaves the pending flag set: the aborted generation may still
// have more events in flight.
func (a *Assembler) staleLocked(msgID string) bool {
	if !a.pendingAbort {
		return false
	}
	if msgID != "" {
		return id.MessageID(msgID) == a.abortedID
	}
	return a.current == nil
}

// staleCompletionLocked is staleLocked for completion frames. A completion
// is the aborted generation's last event, so a match also clears the
// pending flag.
func (a *Assembler) staleCompletionLocked(env *protocol.Envelope) bool {
	if !a.staleLocked(env.MessageID) {
		return false
	}
	a.pendingAbort = false
	a.abortedID = ""
	a.logger.Debug("dropping completion for aborted generation")
	return true
}

func (a *Assembler) handleTool(env *protocol.Envelope) {
	if env.Tool == nil || env.Tool.CallID == "" {
		a.logger.Warn("tool event without call id", zap.String("type", env.Type))
		return
	}

	a.mu.Lock()
	callID := id.CallID(env.Tool.CallID)
	state := toolEventState(env.Type)

	inv, ok := a.invocations[callID]
	if !ok {
		inv = message.NewInvocation(callID, env.Tool.ToolName)
		a.invocations[callID] = inv
		target := a.current
		if target == nil {
			target = a.ensureCurrentLocked(env.MessageID)
			a.current = target
		}
		target.AddInvocation(inv)
		a.loading = true
	}

	if ok || state != message.StatePartialCall {
		if err := inv.Transition(state); err != nil {
			// Out-of-order event for this call; logged and ignored.
			a.logger.Warn("ignoring tool event", zap.Error(err))
			a.mu.Unlock()
			return
		}
	}

	applyToolPayload(inv, env)

	if state.Terminal() && a.metrics != nil {
		a.metrics.RecordToolInvocation(state.String())
	}
	a.mu.Unlock()
	a.notify()
}

func (a *Assembler) handleControl(env *protocol.Envelope) {
	if env.Control == nil {
		return
	}

	switch env.Control.Type {
	case protocol.ControlHistoryResponse:
		a.mu.Lock()
		a.messages = make([]*message.Message, 0, len(env.Control.Messages))
		for i := range env.Control.Messages {
			a.messages = append(a.messages, fromWire(&env.Control.Messages[i]))
		}
		a.current = nil
		a.buffer.Reset()
		a.invocations = make(map[id.CallID]*message.ToolInvocation)
		a.pendingAbort = false
		a.abortedID = ""
		a.loading = false
		a.clearThinkingLocked()
		a.mu.Unlock()
		a.notify()
	default:
		a.logger.Debug("unhandled control payload", zap.String("type", env.Control.Type))
	}
}

// handleCommError surfaces an application-level error inline without
// touching the connection or the in-progress generation.
func (a *Assembler) handleCommError(env *protocol.Envelope) {
	a.mu.Lock()
	m := message.New(message.RoleAssistant, env.Message)
	a.messages = append(a.messages, m)
	notice := a.onNotice
	a.mu.Unlock()

	if notice != nil {
		notice(env.Code, env.Message)
	}
	a.notify()
}

func (a *Assembler) handleThinking(env *protocol.Envelope) {
	a.mu.Lock()
	start := time.UnixMilli(env.StartedAt)
	if env.StartedAt == 0 {
		start = a.now()
	}
	a.thinkingStart = start
	a.loading = true

	if existing := a.thinkingMessageLocked(); existing != nil {
		// Repeated signal restarts the clock on the existing placeholder.
		existing.Content = thinkingText(a.now().Sub(start))
		a.mu.Unlock()
		a.notify()
		return
	}

	// Invariant: at most one thinking message per view.
	for _, m := range a.messages {
		m.IsThinking = false
	}
	m := message.New(message.RoleAssistant, thinkingText(0))
	m.IsThinking = true
	a.messages = append(a.messages, m)
	a.startTickerLocked()
	a.mu.Unlock()
	a.notify()
}

// ensureCurrentLocked returns the message new streamed content should flow
// into: an existing thinking placeholder is promoted, otherwise a fresh
// assistant message is appended. Resets the text buffer and stamps the
// generation start for completion timing.
func (a *Assembler) ensureCurrentLocked(wireID string) *message.Message {
	a.buffer.Reset()
	a.genStart = a.now()

	if t := a.thinkingMessageLocked(); t != nil {
		t.IsThinking = false
		t.Content = ""
		if wireID != "" {
			t.ID = id.MessageID(wireID)
		}
		a.reconcileThinkingLocked()
		a.current = t
		return t
	}
	return a.newAssistantLocked(wireID)
}

func (a *Assembler) newAssistantLocked(wireID string) *message.Message {
	m := message.New(message.RoleAssistant, "")
	if wireID != "" {
		m.ID = id.MessageID(wireID)
	}
	a.messages = append(a.messages, m)
	a.current = m
	return m
}

func (a *Assembler) lastAssistantLocked() *message.Message {
	for i := len(a.messages) - 1; i >= 0; i-- {
		if a.messages[i].Role == message.RoleAssistant {
			return a.messages[i]
		}
	}
	return nil
}

// finalizeLocked freezes a completed message and clears streaming state.
func (a *Assembler) finalizeLocked(m *message.Message) {
	if !a.genStart.IsZero() && m == a.current {
		m.CompletionTime = a.now().Sub(a.genStart).Seconds()
	}
	m.IsThinking = false
	a.current = nil
	a.buffer.Reset()
	a.genStart = time.Time{}
	a.loading = false
	a.reconcileThinkingLocked()
	if a.metrics != nil {
		a.metrics.MessagesCompleted.Inc()
	}
}

func toolEventState(eventType string) message.InvocationState {
	switch eventType {
	case protocol.EventToolPartial:
		return message.StatePartialCall
	case protocol.EventToolCall:
		return message.StateCall
	case protocol.EventToolExec:
		return message.StateExecuting
	case protocol.EventToolProg:
		return message.StateProgress
	case protocol.EventToolResult:
		return message.StateResult
	default:
		return message.StateError
	}
}

func applyToolPayload(inv *message.ToolInvocation, env *protocol.Envelope) {
	t := env.Tool
	if t.ToolName != "" {
		inv.ToolName = t.ToolName
	}
	if t.Args != nil {
		inv.Args = t.Args
	}

	switch env.Type {
	case protocol.EventToolExec:
		inv.Code = t.Code
		inv.Purpose = t.Purpose
	case protocol.EventToolProg:
		inv.ProgressMessage = t.Message
	case protocol.EventToolResult:
		inv.Result = t.Result
		inv.Cancelled = t.Cancelled
	case protocol.EventToolError:
		inv.ErrorText = t.Error
	}
}

// fromWire converts a history entry into the message model, defaulting
// missing fields and preserving token telemetry.
func fromWire(w *protocol.WireMessage) *message.Message {
	m := message.New(message.ParseRole(w.Role), w.Content)
	if w.ID != "" {
		m.ID = id.MessageID(w.ID)
	}
	m.CompletionTime = w.CompletionTime
	if w.PromptTokens > 0 || w.CompletionTokens > 0 {
		m.Tokens = &message.TokenUsage{
			Prompt:     w.PromptTokens,
			Completion: w.CompletionTokens,
		}
	}

	for i := range w.Tools {
		t := &w.Tools[i]
		if t.CallID == "" {
			continue
		}
		inv := message.NewInvocation(id.CallID(t.CallID), t.ToolName)
		inv.Args = t.Args
		inv.Code = t.Code
		inv.Purpose = t.Purpose
		if t.Error != "" {
			_ = inv.Transition(message.StateError)
			inv.ErrorText = t.Error
		} else {
			_ = inv.Transition(message.StateResult)
			inv.Result = t.Result
			inv.Cancelled = t.Cancelled
		}
		m.AddInvocation(inv)
	}
	return m
}

func (a *Assembler) notify() {
	a.mu.Lock()
	fn := a.onChange
	a.mu.Unlock()
	if fn != nil {
		fn()
	}
}
