/*
Package monitoring provides Prometheus-based metrics for the realtime core.

Tracked series cover the transport (dials, reconnects, frames, chunk sizes),
the connection registry (live connections, reference counts) and the message
assembler (messages completed, tool invocations).

Usage:

	metrics := monitoring.NewMetrics()
	metrics.RecordConnect()
	metrics.RecordFrame("llm_chunk", monitoring.DirectionIn)

The metrics live on a private registry; expose them with:

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})))
*/
package monitoring
