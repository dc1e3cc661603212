package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunahq/realtime/internal/transport"
)

type wsServer struct {
	srv   *httptest.Server
	dials int32
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()

	s := &wsServer{}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&s.dials, 1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsServer) policy() transport.Policy {
	p := transport.DefaultPolicy("ws" + strings.TrimPrefix(s.srv.URL, "http"))
	p.ReconnectDelay = 10 * time.Millisecond
	return p
}

func (s *wsServer) dialCount() int {
	return int(atomic.LoadInt32(&s.dials))
}

func TestAcquireSharesClient(t *testing.T) {
	s := newWSServer(t)
	r := New(nil, nil)
	defer r.DisconnectAll()

	ctx := context.Background()
	p := s.policy()

	c1, err := r.Acquire(ctx, p)
	require.NoError(t, err)
	c2, err := r.Acquire(ctx, p)
	require.NoError(t, err)

	assert.Same(t, c1, c2, "identical policies must share one client")
	assert.Equal(t, 1, s.dialCount(), "sharing must not dial twice")

	stats := r.GetStats()
	require.Equal(t, 1, stats.TotalConnections)
	assert.Equal(t, 2, stats.PerConnection[0].RefCount)
	assert.True(t, stats.PerConnection[0].Connected)
	assert.Equal(t, p.URL, stats.PerConnection[0].URL)
}

func TestRemountWindowKeepsConnection(t *testing.T) {
	// Simulates a development-mode double effect invocation: the second
	// mount acquires before the first unmount releases, so the connection
	// must survive with a single physical dial.
	s := newWSServer(t)
	r := New(nil, nil)
	defer r.DisconnectAll()

	ctx := context.Background()
	p := s.policy()

	c1, err := r.Acquire(ctx, p)
	require.NoError(t, err)
	_, err = r.Acquire(ctx, p)
	require.NoError(t, err)
	r.Release(p)
	c3, err := r.Acquire(ctx, p)
	require.NoError(t, err)

	assert.Same(t, c1, c3)
	assert.Equal(t, 1, s.dialCount(), "remount must reuse the live connection")
	assert.True(t, c1.IsConnected())
}

func TestReleaseToZeroDisconnects(t *testing.T) {
	s := newWSServer(t)
	r := New(nil, nil)

	ctx := context.Background()
	p := s.policy()

	c, err := r.Acquire(ctx, p)
	require.NoError(t, err)
	require.True(t, c.IsConnected())

	r.Release(p)

	assert.False(t, c.IsConnected(), "last release must disconnect")
	assert.Equal(t, 0, r.GetStats().TotalConnections)
}

func TestReacquireAfterTeardownCreatesFresh(t *testing.T) {
	s := newWSServer(t)
	r := New(nil, nil)
	defer r.DisconnectAll()

	ctx := context.Background()
	p := s.policy()

	c1, err := r.Acquire(ctx, p)
	require.NoError(t, err)
	r.Release(p)

	c2, err := r.Acquire(ctx, p)
	require.NoError(t, err)

	assert.NotSame(t, c1, c2, "a torn-down key must get a fresh client")
	assert.True(t, c2.IsConnected())
	assert.Equal(t, 2, s.dialCount())
}

func TestDistinctPoliciesDistinctClients(t *testing.T) {
	s := newWSServer(t)
	r := New(nil, nil)
	defer r.DisconnectAll()

	ctx := context.Background()
	p1 := s.policy()
	p2 := s.policy()
	p2.HeartbeatInterval = 5 * time.Second

	c1, err := r.Acquire(ctx, p1)
	require.NoError(t, err)
	c2, err := r.Acquire(ctx, p2)
	require.NoError(t, err)

	assert.NotSame(t, c1, c2, "differing policies must not share a client")
	assert.Equal(t, 2, r.GetStats().TotalConnections)
}

func TestReleaseUnknownKeyIgnored(t *testing.T) {
	r := New(nil, nil)

	// Must log and ignore, not panic.
	r.Release(transport.DefaultPolicy("ws://never-acquired/ws"))

	assert.Equal(t, 0, r.GetStats().TotalConnections)
}

func TestDisconnectAll(t *testing.T) {
	s := newWSServer(t)
	r := New(nil, nil)

	ctx := context.Background()
	p1 := s.policy()
	p2 := s.policy()
	p2.Channel = "other"

	c1, err := r.Acquire(ctx, p1)
	require.NoError(t, err)
	c2, err := r.Acquire(ctx, p2)
	require.NoError(t, err)

	r.DisconnectAll()

	assert.False(t, c1.IsConnected())
	assert.False(t, c2.IsConnected())
	assert.Equal(t, 0, r.GetStats().TotalConnections)
}

func TestAcquireConnectFailure(t *testing.T) {
	r := New(nil, nil)

	p := transport.DefaultPolicy("ws://127.0.0.1:1/ws")
	p.ConnectTimeout = 200 * time.Millisecond

	_, err := r.Acquire(context.Background(), p)
	require.Error(t, err)

	assert.Equal(t, 0, r.GetStats().TotalConnections, "failed connects must not leak entries")
}
