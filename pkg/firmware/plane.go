package firmware

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pcds-mps/central-node/internal/dblbuf"
	"github.com/pcds-mps/central-node/pkg/engine"
	"github.com/pcds-mps/central-node/pkg/model"
)

// Plane drives four of the five long-running threads of spec §4.5
// (the fifth, the heartbeat, lives in pkg/heartbeat and is started
// independently): fwUpdateReader, updateInputs, mitigationWriter, and
// fwPCChangeReader. Each is meant to be started as its own goroutine
// from cmd/mps-central.
type Plane struct {
	logger    *slog.Logger
	transport Transport
	eng       *engine.Engine

	updateBufSize int
	updates       *dblbuf.Buffer

	firstRead atomic.Bool

	UpdateTimeoutCounter atomic.Uint64

	TagSameCounter atomic.Uint64
	TagLossCounter atomic.Uint64
	TagOOOCounter  atomic.Uint64

	transitionsMu sync.Mutex
	transitions   map[[2]uint8]uint64 // [destination][classNumber] -> count
}

// New constructs a Plane. updateBufSize must be large enough to hold
// UpdateHeaderBytes plus every configured card's update slice.
func New(transport Transport, eng *engine.Engine, updateBufSize int, logger *slog.Logger) *Plane {
	if logger == nil {
		logger = slog.Default()
	}
	return &Plane{
		logger:        logger.With("service", "firmware"),
		transport:     transport,
		eng:           eng,
		updateBufSize: updateBufSize,
		updates:       dblbuf.New(updateBufSize),
		transitions:   make(map[[2]uint8]uint64),
	}
}

// RunUpdateReader blocks reading update packets from the transport
// into the double buffer's write slot, until ctx is done. Because the
// write slot is only swapped once the consumer has drained the
// previous rotation, a slow evaluator never lets a backlog of stale
// update packets build up: the reader simply keeps refreshing the
// same slot with the freshest firmware state.
func (p *Plane) RunUpdateReader(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	pinRealtime(p.logger, PriorityUpdateReader)

	p.firstRead.Store(true)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		timeout := ReadUpdateTimeout
		if p.firstRead.CompareAndSwap(true, false) {
			timeout = FirstReadTimeout
		}

		slot := p.updates.WriteSlot()
		rctx, cancel := context.WithTimeout(ctx, timeout)
		_, err := p.transport.ReadUpdate(rctx, slot)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.UpdateTimeoutCounter.Add(1)
			p.logger.Warn("update read timed out", "error", err)
			continue
		}
		p.updates.MarkWriteDone()
	}
}

// RunUpdateInputs blocks for each new swapped-in update buffer and
// drives one Engine.Cycle per rotation.
func (p *Plane) RunUpdateInputs(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	pinRealtime(p.logger, PriorityUpdateInputs)

	var version uint64
	for {
		buf, next, err := p.updates.Next(ctx, version)
		if err != nil {
			return err
		}
		version = next
		if err := p.eng.Cycle(buf); err != nil {
			p.logger.Error("cycle failed", "error", err)
		}
	}
}

// RunMitigationWriter drains the engine's mitigation queue and writes
// each buffer to the transport, timing the write.
func (p *Plane) RunMitigationWriter(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	pinRealtime(p.logger, PriorityMitigationWriter)

	mitigation := p.eng.Mitigation()
	for {
		buf, ok := mitigation.Pop(ctx)
		if !ok {
			return ctx.Err()
		}
		start := time.Now()
		if err := p.transport.WriteMitigation(buf); err != nil {
			p.logger.Error("mitigation write failed", "error", err)
			continue
		}
		p.logger.Debug("mitigation written", "duration", time.Since(start))
	}
}

// RunPowerClassChangeReader polls the power-class-change stream,
// tracking per-destination/per-class transitions and tag continuity.
func (p *Plane) RunPowerClassChangeReader(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	pinRealtime(p.logger, PriorityPCChangeReader)

	buf := make([]byte, PCChangeRecordBytes)
	lastTag := int64(-1)
	ticker := time.NewTicker(PCChangePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		rctx, cancel := context.WithTimeout(ctx, PCChangePollInterval)
		n, err := p.transport.ReadPowerClassChange(rctx, buf)
		cancel()
		if err != nil || n < PCChangeRecordBytes {
			continue
		}

		rec := parsePCChangeRecord(buf)
		if rec.Flags&PCChangeFlagNotReady != 0 {
			continue
		}

		if lastTag >= 0 {
			switch delta := int64(rec.Tag) - lastTag; {
			case delta == 1:
			case delta == 0:
				p.TagSameCounter.Add(1)
			case delta > 1:
				p.TagLossCounter.Add(1)
			default:
				p.TagOOOCounter.Add(1)
			}
		}
		lastTag = int64(rec.Tag)

		p.recordTransitions(rec)
	}
}

func (p *Plane) recordTransitions(rec pcChangeRecord) {
	p.transitionsMu.Lock()
	defer p.transitionsMu.Unlock()
	for dest := 0; dest < model.NumDestinations; dest++ {
		key := [2]uint8{uint8(dest), rec.destinationClass(dest)}
		p.transitions[key]++
	}
}

// Transitions returns a snapshot of the per-destination/per-class
// transition counters.
func (p *Plane) Transitions() map[[2]uint8]uint64 {
	p.transitionsMu.Lock()
	defer p.transitionsMu.Unlock()
	out := make(map[[2]uint8]uint64, len(p.transitions))
	for k, v := range p.transitions {
		out[k] = v
	}
	return out
}
