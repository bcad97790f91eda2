// Package server wires the privacy core behind a local HTTP control API.
//
// The desktop shell drives session lifecycle, navigation decisions, and
// download promotion through this surface. It binds to loopback; it is not a
// public service.
package server
