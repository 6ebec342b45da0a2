//go:build linux

package firmware

import (
	"log/slog"

	"golang.org/x/sys/unix"
)

// pinRealtime applies SCHED_FIFO at priority to the calling OS thread
// (callers lock their goroutine to that thread first), matching the original's RT-thread-per-responsibility
// model as closely as the Go runtime allows. Failures are logged and
// otherwise ignored: an unprivileged process (no CAP_SYS_NICE) still
// runs correctly, just without RT guarantees.
func pinRealtime(logger *slog.Logger, priority int) {
	if err := unix.SchedSetscheduler(0, unix.SCHED_FIFO, &unix.SchedParam{Priority: int32(priority)}); err != nil {
		logger.Warn("SCHED_FIFO unavailable, running at default scheduling", "priority", priority, "error", err)
	}
}

// lockMemory calls mlockall so the hot path never takes a page fault.
func lockMemory(logger *slog.Logger) {
	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		logger.Warn("mlockall failed, pages may be swapped", "error", err)
	}
}
