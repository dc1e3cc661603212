package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lunahq/realtime/internal/infrastructure/logging"
	"github.com/lunahq/realtime/internal/infrastructure/monitoring"
	"github.com/lunahq/realtime/internal/protocol"
	"github.com/lunahq/realtime/internal/shared/id"
)

var (
	ErrNotConnected       = errors.New("not connected")
	ErrConnectTimeout     = errors.New("connect timed out")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)

// Outbound commands are fire-and-forget; the limiter only guards against a
// runaway caller flooding the socket.
const (
	commandRate  = 20
	commandBurst = 40
	writeTimeout = 10 * time.Second
)

// State represents the connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateErrored
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Policy holds the tunable connection parameters. Together with the URL it
// forms the identity under which the registry deduplicates connections.
type Policy struct {
	URL                  string
	Channel              string
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	HeartbeatInterval    time.Duration
	ConnectTimeout       time.Duration
}

// DefaultPolicy returns the deployment defaults for a socket URL.
func DefaultPolicy(url string) Policy {
	return Policy{
		URL:                  url,
		MaxReconnectAttempts: 5,
		ReconnectDelay:       time.Second,
		HeartbeatInterval:    30 * time.Second,
		ConnectTimeout:       10 * time.Second,
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxReconnectAttempts == 0 {
		p.MaxReconnectAttempts = 5
	}
	if p.ReconnectDelay == 0 {
		p.ReconnectDelay = time.Second
	}
	if p.HeartbeatInterval == 0 {
		p.HeartbeatInterval = 30 * time.Second
	}
	if p.ConnectTimeout == 0 {
		p.ConnectTimeout = 10 * time.Second
	}
	return p
}

// Key derives the deterministic registry key for this policy. Two callers
// with equal keys share one physical connection.
func (p Policy) Key() string {
	p = p.withDefaults()
	return fmt.Sprintf("%s|%s|%d|%s|%s|%s",
		p.URL, p.Channel, p.MaxReconnectAttempts,
		p.ReconnectDelay, p.HeartbeatInterval, p.ConnectTimeout)
}

// Client owns one physical socket connection.
type Client struct {
	policy  Policy
	logger  *logging.Logger
	metrics *monitoring.Metrics
	emitter *emitter
	limiter *rate.Limiter

	mu             sync.Mutex
	conn           *websocket.Conn
	state          State
	attempts       int
	connID         id.ConnID
	closing        bool
	reconnectTimer *time.Timer
	heartbeatStop  chan struct{}

	// writeMu serializes frame writes between commands and the heartbeat.
	writeMu sync.Mutex
}

// New creates a client for the given policy. It does not connect; the
// registry drives Connect and Disconnect.
func New(policy Policy, logger *logging.Logger, metrics *monitoring.Metrics) *Client {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Client{
		policy:  policy.withDefaults(),
		logger:  logger.Named("transport"),
		metrics: metrics,
		emitter: newEmitter(),
		limiter: rate.NewLimiter(rate.Limit(commandRate), commandBurst),
	}
}

// Policy returns the client's effective policy.
func (c *Client) Policy() Policy {
	return c.policy
}

// On subscribes a handler to an event name and returns its unsubscribe.
// Multiple handlers may listen to the same event; fan-out preserves
// subscription order and wire events arrive in frame order.
func (c *Client) On(name string, fn Handler) Unsubscribe {
	return c.emitter.on(name, fn)
}

// IsConnected reports whether the socket is open.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect opens the socket and completes the handshake. The initial connect
// fails with ErrConnectTimeout if the socket does not open within the
// policy's connect timeout; transport failures on later reconnection
// attempts are retried internally instead of surfacing here.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.closing = false
	c.state = StateConnecting
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		return err
	}

	c.startSession(conn)
	return nil
}

// Disconnect closes the socket, cancels the heartbeat and any pending
// reconnect timer. Idempotent.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.closing = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.stopHeartbeatLocked()

	conn := c.conn
	c.conn = nil
	connID := c.connID
	alreadyDown := c.state == StateDisconnected
	c.state = StateDisconnected
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
		if c.metrics != nil {
			c.metrics.RecordDisconnect()
		}
	}

	if !alreadyDown {
		c.logger.Info("disconnected", zap.String("conn_id", connID.String()))
		c.emitter.emit(Event{Name: EventDisconnected})
	}
}

// SendMessage sends a chat message with optional file references.
func (c *Client) SendMessage(text string, attachments []protocol.FileRef) error {
	return c.writeCommand(protocol.Command{
		Type:        protocol.CmdChat,
		RequestID:   uuid.NewString(),
		Text:        text,
		Attachments: attachments,
	})
}

// GetHistory requests the conversation history.
func (c *Client) GetHistory() error {
	return c.writeCommand(protocol.Command{Type: protocol.CmdGetHistory, RequestID: uuid.NewString()})
}

// Abort cancels the in-flight generation.
func (c *Client) Abort() error {
	return c.writeCommand(protocol.Command{Type: protocol.CmdAbort, RequestID: uuid.NewString()})
}

// ClearHistory wipes the server-side conversation.
func (c *Client) ClearHistory() error {
	return c.writeCommand(protocol.Command{Type: protocol.CmdClearHistory, RequestID: uuid.NewString()})
}

// Subscribe joins a logical channel on the shared socket. The policy's
// channel is joined automatically on connect.
func (c *Client) Subscribe(channel string) error {
	return c.writeCommand(protocol.Command{Type: protocol.CmdSubscribe, Channel: channel})
}

// Unsubscribe leaves a logical channel.
func (c *Client) Unsubscribe(channel string) error {
	return c.writeCommand(protocol.Command{Type: protocol.CmdUnsubscribe, Channel: channel})
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.policy.ConnectTimeout}

	dctx, cancel := context.WithTimeout(ctx, c.policy.ConnectTimeout)
	defer cancel()

	conn, _, err := dialer.DialContext(dctx, c.policy.URL, nil)
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordConnectFailure()
		}
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return nil, fmt.Errorf("%w after %s: %v", ErrConnectTimeout, c.policy.ConnectTimeout, err)
		}
		return nil, fmt.Errorf("dial %s failed: %w", c.policy.URL, err)
	}
	return conn, nil
}

// startSession installs a freshly dialed connection: reader, heartbeat,
// channel subscription, connected event. Resets the reconnect counter.
// A Disconnect that raced the dial wins; the fresh conn is discarded.
func (c *Client) startSession(conn *websocket.Conn) {
	c.mu.Lock()
	if c.closing {
		c.state = StateDisconnected
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.stopHeartbeatLocked()
	c.conn = conn
	c.state = StateConnected
	c.attempts = 0
	c.connID = id.NewConnID()
	stop := make(chan struct{})
	c.heartbeatStop = stop
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordConnect()
	}
	c.logger.Info("connected",
		zap.String("url", c.policy.URL),
		zap.String("conn_id", c.connID.String()))

	go c.readLoop(conn)
	go c.heartbeat(conn, stop)

	if c.policy.Channel != "" {
		_ = c.writeCommand(protocol.Command{Type: protocol.CmdSubscribe, Channel: c.policy.Channel})
	}

	c.emitter.emit(Event{Name: EventConnected})
}

// readLoop processes inbound frames strictly in arrival order. The read
// deadline doubles as the heartbeat liveness check: a peer silent for two
// heartbeat intervals surfaces as a read error and enters the reconnect path.
func (c *Client) readLoop(conn *websocket.Conn) {
	var readErr error
	defer func() { c.handleClose(conn, readErr) }()

	for {
		if c.policy.HeartbeatInterval > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(2 * c.policy.HeartbeatInterval))
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			readErr = err
			return
		}

		env, err := protocol.DecodeEnvelope(data)
		if err != nil {
			c.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}

		if c.metrics != nil {
			c.metrics.RecordFrame(env.Type, monitoring.DirectionIn)
			if env.Type == protocol.EventChunk {
				c.metrics.RecordChunk(len(env.Chunk))
			}
		}

		if env.Type == protocol.EventPong {
			continue
		}

		c.emitter.emit(Event{Name: env.Type, Envelope: env})
	}
}

// handleClose runs when a session's reader exits. Deliberate disconnects
// were already handled; anything else enters the reconnect path.
func (c *Client) handleClose(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		// Session already replaced or torn down.
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = nil
	c.stopHeartbeatLocked()
	closing := c.closing
	c.mu.Unlock()

	_ = conn.Close()
	if c.metrics != nil {
		c.metrics.RecordDisconnect()
	}

	if closing {
		return
	}

	c.logger.Warn("connection lost", zap.Error(cause))
	c.scheduleReconnect(cause)
}

// scheduleReconnect emits a reconnecting event and arms the retry timer, or
// gives up with a terminal error once the attempt cap is exhausted.
func (c *Client) scheduleReconnect(cause error) {
	c.mu.Lock()
	if c.closing {
		c.state = StateDisconnected
		c.mu.Unlock()
		return
	}

	c.attempts++
	attempt := c.attempts
	if attempt > c.policy.MaxReconnectAttempts {
		c.state = StateErrored
		c.mu.Unlock()
		err := fmt.Errorf("%w after %d attempts: %v",
			ErrReconnectExhausted, c.policy.MaxReconnectAttempts, cause)
		c.logger.Error("giving up on reconnect", zap.Error(err))
		c.emitter.emit(Event{Name: EventError, Err: err})
		c.emitter.emit(Event{Name: EventDisconnected})
		return
	}

	c.state = StateReconnecting
	c.reconnectTimer = time.AfterFunc(c.policy.ReconnectDelay, c.attemptReconnect)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordReconnect()
	}
	c.logger.Info("reconnecting",
		zap.Int("attempt", attempt),
		zap.Int("max", c.policy.MaxReconnectAttempts))
	c.emitter.emit(Event{Name: EventReconnecting, Attempt: attempt})
}

func (c *Client) attemptReconnect() {
	c.mu.Lock()
	if c.closing {
		c.state = StateDisconnected
		c.mu.Unlock()
		return
	}
	c.reconnectTimer = nil
	c.mu.Unlock()

	conn, err := c.dial(context.Background())
	if err != nil {
		c.scheduleReconnect(err)
		return
	}

	c.startSession(conn)
}

// writeCommand serializes and writes one command frame. Not-connected and
// encoding failures surface both as a returned error and an error event so
// fire-and-forget callers still observe them.
func (c *Client) writeCommand(cmd protocol.Command) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		err := fmt.Errorf("%w: cannot send %s", ErrNotConnected, cmd.Type)
		c.emitter.emit(Event{Name: EventError, Err: err})
		return err
	}

	if !c.limiter.Allow() {
		err := fmt.Errorf("command rate exceeded, dropping %s", cmd.Type)
		c.emitter.emit(Event{Name: EventError, Err: err})
		return err
	}

	data, err := protocol.EncodeCommand(cmd)
	if err != nil {
		c.emitter.emit(Event{Name: EventError, Err: err})
		return err
	}

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err = conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()

	if err != nil {
		// The reader will observe the dead socket and reconnect.
		return fmt.Errorf("write %s failed: %w", cmd.Type, err)
	}

	if c.metrics != nil {
		c.metrics.RecordFrame(cmd.Type, monitoring.DirectionOut)
	}
	return nil
}

// heartbeat sends an app-level ping every interval until the session ends.
// A reconnect tears this down and starts a fresh one.
func (c *Client) heartbeat(conn *websocket.Conn, stop chan struct{}) {
	if c.policy.HeartbeatInterval <= 0 {
		return
	}

	ticker := time.NewTicker(c.policy.HeartbeatInterval)
	defer ticker.Stop()

	ping, _ := protocol.EncodeCommand(protocol.Command{Type: protocol.CmdPing})
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.TextMessage, ping)
			c.writeMu.Unlock()
			if err != nil {
				// Force the reader out of its blocking read.
				_ = conn.Close()
				return
			}
			if c.metrics != nil {
				c.metrics.RecordFrame(protocol.CmdPing, monitoring.DirectionOut)
			}
		}
	}
}

func (c *Client) stopHeartbeatLocked() {
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
}
