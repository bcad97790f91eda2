// Package main is the entry point for the Sable privacy core.
//
// The core runs alongside the desktop shell and enforces the browser's
// privacy guarantees: ephemeral sessions with secure storage destruction,
// tracking-parameter removal on navigation, and a quarantine gate for
// downloads.
//
// The shell talks to it over a loopback HTTP control API.
//
// Configuration:
//   - Environment variables with the SABLE_ prefix (12-factor)
//   - CLI flags (override env vars)
//   - Defaults for development
//
// Usage:
//
//	# Production mode
//	./server -port 8311 -storage /var/lib/sable/sessions
//
//	# Development mode (colored logs, debug level)
//	./server -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown (sessions wiped before exit)
package main
