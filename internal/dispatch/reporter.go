package dispatch

import (
	"log/slog"

	"peek/internal/backends"
	"peek/internal/protocol"
)

// Reporter shows backend errors to the user.
type Reporter interface {
	Report(kind protocol.Kind, backend backends.BackendID, err error)
}

// LogReporter reports errors as warnings.
type LogReporter struct {
	logger *slog.Logger
}

// NewLogReporter creates a reporter writing to logger.
func NewLogReporter(logger *slog.Logger) *LogReporter {
	return &LogReporter{logger: logger}
}

// Report logs err.
func (r *LogReporter) Report(kind protocol.Kind, backend backends.BackendID, err error) {
	r.logger.Warn("Backend request failed", "kind", kind, "backend", backend, "error", err.Error())
}
