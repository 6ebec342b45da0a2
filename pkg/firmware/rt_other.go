//go:build !linux

package firmware

import "log/slog"

// pinRealtime is a no-op outside Linux; SCHED_FIFO/CPU pinning has no
// portable equivalent.
func pinRealtime(logger *slog.Logger, priority int) {
	logger.Debug("realtime scheduling not supported on this platform", "priority", priority)
}

func lockMemory(logger *slog.Logger) {
	logger.Debug("mlockall not supported on this platform")
}
