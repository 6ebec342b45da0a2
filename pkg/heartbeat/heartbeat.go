// Package heartbeat emits the periodic software-watchdog liveness
// signal of spec §4.6: a register write that tells firmware the
// software side is still alive, under one of two policies.
package heartbeat

import (
	"context"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/pcds-mps/central-node/internal/ring"
)

// Transport is the register surface a heartbeat policy needs. A real
// implementation shares the same register space as pkg/firmware.Transport,
// but this is kept as its own narrow interface so pkg/heartbeat never
// depends on pkg/firmware.
type Transport interface {
	// SetWatchdogTimeout writes the software watchdog timer, in
	// microseconds, once at startup.
	SetWatchdogTimeout(us uint32) error

	// WatchdogError reports and clears the firmware's watchdog-error
	// latch for this beat.
	WatchdogError() (bool, error)

	// SendBeat toggles the heartbeat bit.
	SendBeat() error

	// MaxObservedPeriod reads firmware's own "maximum observed
	// heartbeat period" register, reported on shutdown.
	MaxObservedPeriod() (time.Duration, error)
}

// Policy selects how a beat is delivered to the transport.
type Policy uint8

const (
	// Blocking writes the heartbeat register on the caller's own
	// goroutine.
	Blocking Policy = iota
	// NonBlocking hands the write off to a dedicated writer goroutine;
	// Beat only waits for that goroutine to accept the request, not for
	// the write to complete.
	NonBlocking
)

// PriorityHeartbeat is the SCHED_FIFO priority the non-blocking writer
// goroutine requests (spec §4.5's 85-87 range).
const PriorityHeartbeat = 87

// DefaultReqTimeout bounds how long the non-blocking writer waits for a
// request before counting a timeout (spec §4.6).
const DefaultReqTimeout = 5 * time.Millisecond

const ringCapacity = 360

// Config configures a Heartbeat.
type Config struct {
	Transport       Transport
	Policy          Policy
	WatchdogTimeout uint32 // microseconds, default 3500
	ReqTimeout      time.Duration
}

// Heartbeat drives one periodic liveness beat, recording heartbeat
// count, watchdog-error count, and rolling period/duration stats.
type Heartbeat struct {
	logger     *slog.Logger
	transport  Transport
	policy     Policy
	reqTimeout time.Duration

	txPeriod   *ring.Timer
	txDuration *ring.Timer

	beatCount       atomic.Uint64
	wdErrorCount    atomic.Uint64
	reqTimeoutCount atomic.Uint64

	requests chan struct{}
}

// New writes the watchdog timeout to the transport and returns a ready
// Heartbeat. The caller starts it via Run.
func New(cfg Config, logger *slog.Logger) (*Heartbeat, error) {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.WatchdogTimeout
	if timeout == 0 {
		timeout = 3500
	}
	reqTimeout := cfg.ReqTimeout
	if reqTimeout == 0 {
		reqTimeout = DefaultReqTimeout
	}
	if err := cfg.Transport.SetWatchdogTimeout(timeout); err != nil {
		return nil, err
	}
	return &Heartbeat{
		logger:     logger.With("service", "heartbeat"),
		transport:  cfg.Transport,
		policy:     cfg.Policy,
		reqTimeout: reqTimeout,
		txPeriod:   ring.New("heartbeat-period", ringCapacity),
		txDuration: ring.New("heartbeat-duration", ringCapacity),
		requests:   make(chan struct{}),
	}, nil
}

// Run beats once per period until ctx is done. Under the Blocking
// policy the write happens directly on this goroutine; under
// NonBlocking, a dedicated writer goroutine is started and this
// goroutine only posts requests to it.
func (h *Heartbeat) Run(ctx context.Context, period time.Duration) error {
	if h.policy == Blocking {
		return h.runBlocking(ctx, period)
	}
	return h.runNonBlocking(ctx, period)
}

func (h *Heartbeat) runBlocking(ctx context.Context, period time.Duration) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	pinRealtime(h.logger, PriorityHeartbeat)

	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := h.doBeat(); err != nil {
				h.logger.Error("heartbeat failed", "error", err)
			}
		}
	}
}

func (h *Heartbeat) runNonBlocking(ctx context.Context, period time.Duration) error {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.runWriter(ctx)
	}()

	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			<-writerDone
			return ctx.Err()
		case <-ticker.C:
			select {
			case h.requests <- struct{}{}:
			case <-ctx.Done():
				<-writerDone
				return ctx.Err()
			}
		}
	}
}

// runWriter is the non-blocking policy's dedicated heartbeat-writer
// goroutine: it waits for a request up to reqTimeout, counting a
// timeout when none arrives (spec §4.6).
func (h *Heartbeat) runWriter(ctx context.Context) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	pinRealtime(h.logger, PriorityHeartbeat)

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.requests:
			if err := h.doBeat(); err != nil {
				h.logger.Error("heartbeat write failed", "error", err)
			}
		case <-time.After(h.reqTimeout):
			h.reqTimeoutCount.Add(1)
		}
	}
}

// Beat issues one beat directly, bypassing Run's ticker. Used by tests
// and by callers that want to drive the cadence themselves.
func (h *Heartbeat) Beat(ctx context.Context) error {
	if h.policy == Blocking {
		return h.doBeat()
	}
	select {
	case h.requests <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Heartbeat) doBeat() error {
	h.txDuration.Start()

	werr, err := h.transport.WatchdogError()
	if err != nil {
		h.txDuration.Tick()
		return err
	}
	if werr {
		h.wdErrorCount.Add(1)
	}

	if err := h.transport.SendBeat(); err != nil {
		h.txDuration.Tick()
		return err
	}

	h.txPeriod.Tick()
	h.beatCount.Add(1)
	h.txDuration.Tick()
	return nil
}

// Report is a point-in-time snapshot of this heartbeat's counters,
// suitable for logging on shutdown (spec §4.6).
type Report struct {
	BeatCount       uint64
	WatchdogErrors  uint64
	ReqTimeouts     uint64
	MinTxPeriod     time.Duration
	MaxTxPeriod     time.Duration
	MeanTxPeriod    time.Duration
	MinTxDuration   time.Duration
	MaxTxDuration   time.Duration
	MeanTxDuration  time.Duration
}

// Report snapshots the current counters and rolling timer stats. The
// counters are safe to read concurrently; the timer stats are not —
// callers read it after Run has returned, matching the original's
// destructor-time printReport.
func (h *Heartbeat) Report() Report {
	return Report{
		BeatCount:      h.beatCount.Load(),
		WatchdogErrors: h.wdErrorCount.Load(),
		ReqTimeouts:    h.reqTimeoutCount.Load(),
		MinTxPeriod:    h.txPeriod.Min(),
		MaxTxPeriod:    h.txPeriod.Max(),
		MeanTxPeriod:   h.txPeriod.Mean(),
		MinTxDuration:  h.txDuration.Min(),
		MaxTxDuration:  h.txDuration.Max(),
		MeanTxDuration: h.txDuration.Mean(),
	}
}

// FirmwareMaxObservedPeriod reads the FW-side "maximum observed
// heartbeat period" register.
func (h *Heartbeat) FirmwareMaxObservedPeriod() (time.Duration, error) {
	return h.transport.MaxObservedPeriod()
}
