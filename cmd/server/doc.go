// Package main runs the navigator: a navigation controller over a page
// engine, exposed over HTTP.
//
// The controller drives one page at a time through a timeout ladder
// (soft timeout, grace period, hard timeout) with heartbeat stall detection
// and bounded automatic reloads.
//
// Engines:
//   - fetch: in-process HTTP loader with goquery documents and a goja sandbox
//   - chrome: a real browser over the DevTools protocol
//
// Configuration:
//   - Environment variables (12-factor)
//   - Optional YAML or TOML file (-config)
//   - CLI flags (override both)
//
// Usage:
//
//	# Production mode
//	./server -port 8000 -engine fetch
//
//	# Chrome, development logging
//	./server -engine chrome -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
