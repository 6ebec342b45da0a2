//go:build linux

package heartbeat

import (
	"log/slog"

	"golang.org/x/sys/unix"
)

func pinRealtime(logger *slog.Logger, priority int) {
	if err := unix.SchedSetscheduler(0, unix.SCHED_FIFO, &unix.SchedParam{Priority: int32(priority)}); err != nil {
		logger.Warn("SCHED_FIFO unavailable, running at default scheduling", "priority", priority, "error", err)
	}
}
