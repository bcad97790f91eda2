// Package logging provides structured logging using uber/zap.
//
// Production mode emits JSON for machine parsing; development mode emits
// colored console output. Best-effort subsystems (metrics updates, content
// marking, orphan sweeps) log their failures here instead of returning them.
package logging
