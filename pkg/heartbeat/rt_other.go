//go:build !linux

package heartbeat

import "log/slog"

func pinRealtime(logger *slog.Logger, priority int) {
	logger.Debug("realtime scheduling not supported on this platform", "priority", priority)
}
