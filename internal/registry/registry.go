package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/lunahq/realtime/internal/infrastructure/logging"
	"github.com/lunahq/realtime/internal/infrastructure/monitoring"
	"github.com/lunahq/realtime/internal/transport"
)

// entry pairs a shared client with its consumer reference count. Entries
// never leave the registry.
type entry struct {
	client   *transport.Client
	refCount int
	offDisc  transport.Unsubscribe
}

// ConnectionStats describes one registry entry for diagnostics.
type ConnectionStats struct {
	Key       string `json:"key"`
	URL       string `json:"url"`
	RefCount  int    `json:"ref_count"`
	Connected bool   `json:"connected"`
}

// Stats is a snapshot of the registry for diagnostics.
type Stats struct {
	TotalConnections int               `json:"total_connections"`
	PerConnection    []ConnectionStats `json:"per_connection"`
}

// Registry manages shared transport clients keyed by connection policy.
type Registry struct {
	logger  *logging.Logger
	metrics *monitoring.Metrics

	// newClient exists so tests can observe construction; production code
	// never replaces it.
	newClient func(transport.Policy) *transport.Client

	mu      sync.Mutex
	entries map[string]*entry
}

// New creates an empty registry.
func New(logger *logging.Logger, metrics *monitoring.Metrics) *Registry {
	if logger == nil {
		logger = logging.NewNop()
	}
	r := &Registry{
		logger:  logger.Named("registry"),
		metrics: metrics,
		entries: make(map[string]*entry),
	}
	r.newClient = func(p transport.Policy) *transport.Client {
		return transport.New(p, logger, metrics)
	}
	return r
}

// Acquire returns the shared client for the policy, connecting a fresh one
// on first use. Every successful Acquire must be paired with a Release.
func (r *Registry) Acquire(ctx context.Context, policy transport.Policy) (*transport.Client, error) {
	key := policy.Key()

	r.mu.Lock()
	if e, ok := r.entries[key]; ok {
		e.refCount++
		r.logger.Debug("sharing connection",
			zap.String("key", key), zap.Int("ref_count", e.refCount))
		r.updateGaugesLocked()
		client := e.client
		r.mu.Unlock()
		return client, nil
	}

	client := r.newClient(policy)
	e := &entry{client: client, refCount: 1}
	// Purge the entry if the connection dies for good while nobody holds a
	// reference (terminal reconnect failure during the remount window).
	e.offDisc = client.On(transport.EventDisconnected, func(transport.Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if cur, ok := r.entries[key]; ok && cur == e && cur.refCount == 0 {
			r.removeLocked(key, e)
		}
	})
	r.entries[key] = e
	r.updateGaugesLocked()
	r.mu.Unlock()

	if err := client.Connect(ctx); err != nil {
		r.mu.Lock()
		if cur, ok := r.entries[key]; ok && cur == e {
			r.removeLocked(key, e)
		}
		r.mu.Unlock()
		return nil, fmt.Errorf("failed to open connection for %s: %w", policy.URL, err)
	}

	r.logger.Info("opened connection", zap.String("url", policy.URL), zap.String("key", key))
	return client, nil
}

// Release drops one reference for the policy. The last release disconnects
// the client and removes the entry. Releasing an unknown key indicates a
// caller lifecycle bug and is logged and ignored.
func (r *Registry) Release(policy transport.Policy) {
	key := policy.Key()

	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok {
		r.mu.Unlock()
		r.logger.Warn("release of unknown connection key", zap.String("key", key))
		return
	}

	if e.refCount > 0 {
		e.refCount--
	}
	if e.refCount > 0 {
		r.updateGaugesLocked()
		r.mu.Unlock()
		return
	}

	r.removeLocked(key, e)
	client := e.client
	r.mu.Unlock()

	r.logger.Info("closing connection", zap.String("key", key))
	client.Disconnect()
}

// DisconnectAll force-disconnects and clears every entry. Administrative and
// test hook.
func (r *Registry) DisconnectAll() {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.entries))
	for key, e := range r.entries {
		r.removeLocked(key, e)
		entries = append(entries, e)
	}
	r.mu.Unlock()

	for _, e := range entries {
		e.client.Disconnect()
	}
}

// GetStats returns a diagnostic snapshot, ordered by key for stable output.
func (r *Registry) GetStats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := Stats{TotalConnections: len(r.entries)}
	for key, e := range r.entries {
		stats.PerConnection = append(stats.PerConnection, ConnectionStats{
			Key:       key,
			URL:       e.client.Policy().URL,
			RefCount:  e.refCount,
			Connected: e.client.IsConnected(),
		})
	}
	sort.Slice(stats.PerConnection, func(i, j int) bool {
		return stats.PerConnection[i].Key < stats.PerConnection[j].Key
	})
	return stats
}

// removeLocked detaches an entry. Caller holds r.mu.
func (r *Registry) removeLocked(key string, e *entry) {
	if e.offDisc != nil {
		e.offDisc()
		e.offDisc = nil
	}
	delete(r.entries, key)
	r.updateGaugesLocked()
}

func (r *Registry) updateGaugesLocked() {
	if r.metrics == nil {
		return
	}
	refs := 0
	for _, e := range r.entries {
		refs += e.refCount
	}
	r.metrics.SetRegistryStats(len(r.entries), refs)
}
