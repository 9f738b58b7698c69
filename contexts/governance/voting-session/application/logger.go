package application

import "log/slog"

const moduleName = "governance/voting-session"

// ResolveLogger falls back to the default logger and tags every record with
// this module and the calling layer.
func ResolveLogger(logger *slog.Logger, layer string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("module", moduleName, "layer", layer)
}
