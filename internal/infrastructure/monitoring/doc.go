/*
Package monitoring provides Prometheus metrics for the relay backend.

# Overview

Metrics implements relay.Observer, so the relay reports request outcomes,
routed message kinds, queue depth, pending count and session state without
knowing about Prometheus. HTTP traffic, the WebSocket bridge and the direct
fallback client record through the same collector.

# Usage

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)

	r, _ := relay.New(cfg, relay.WithObserver(metrics))
	router.Use(monitoring.Middleware(metrics))

# Metrics Endpoint

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
*/
package monitoring
