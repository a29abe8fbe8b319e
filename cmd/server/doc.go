// Package main is the entry point for the FitQuest relay.
//
// The relay runs API requests inside a sandboxed page that holds the user's
// session, either a mobile shell connected over WebSocket or an in-process
// JavaScript runtime, and returns normalized envelopes.
//
// Usage:
//
//	# Serve, waiting for a shell on /ws/sandbox
//	fitquest-relay serve --port 8000
//
//	# Serve with the in-process sandbox
//	RELAY_BASE_URL=https://api.example.com fitquest-relay serve --embedded
//
//	# One request through an embedded sandbox
//	fitquest-relay call /users/me -X GET
//
// Configuration comes from the environment (see internal/infrastructure/config),
// with .env files loaded first.
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
