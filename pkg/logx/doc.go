// Package logx is the process logger and the bridge from log calls to the
// dispatcher.
//
// Logger wraps zerolog. Console output is human readable and file output is
// JSON. When a dispatcher is attached, lines at or above the webhook
// min level are rendered by internal/format and offered to it without
// blocking. Logger.Local skips that sink and is what the delivery path itself
// logs through.
//
// SlogHandler offers the same bridge to code that logs with log/slog.
package logx
