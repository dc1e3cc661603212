// Package registry deduplicates physical socket connections.
//
// Consumers acquire a transport client by policy; identical policies share
// one client through reference counting. The registry is the only component
// that connects and disconnects clients, which keeps rapid unmount/remount
// cycles (UI frameworks double-invoking effects, multiple widgets on one
// socket) from producing duplicate connections or needless teardowns.
//
// The registry is an explicit service object constructed once at application
// start and injected into consumers; there is no package-level instance.
//
// Example Usage:
//
//	reg := registry.New(logger, metrics)
//	client, err := reg.Acquire(ctx, policy)
//	defer reg.Release(policy)
package registry
