// Package server assembles the relay service.
//
// It wires the relay to one sandbox surface: either an in-process goja page
// (SANDBOX_EMBEDDED) or a mobile shell connected over the WebSocket bridge at
// /ws/sandbox. The gin router carries recovery, tracing, request logging,
// metrics, CORS and rate limiting, and responses other than the bridge
// upgrade are gzip compressed.
//
// Example Usage:
//
//	cfg, err := config.Load()
//	srv, err := server.New(ctx, cfg, logger)
//	defer srv.Close()
//	err = srv.Run(ctx)
package server
