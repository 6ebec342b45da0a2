// Package dblbuf implements a two-slot double buffer: a writer fills
// one slot while a reader drains the other, and the slots swap only
// once both sides have signalled completion on the current rotation.
// This is the handoff primitive the firmware plane uses to exchange
// the per-cycle update buffer between the reader goroutine and the
// evaluation goroutine without a backlog building up when one side
// runs ahead of the other.
package dblbuf

import (
	"context"
	"sync"
)

// Buffer is a pair of equal-size byte slices with writer/reader
// handoff. Slot 0 and slot 1 alternate between "active" (being
// written) and "ready" (being read) roles.
type Buffer struct {
	mu        sync.Mutex
	cond      *sync.Cond
	slots     [2][]byte
	active    int // index of the slot currently being written
	writeDone bool
	readDone  bool
	version   uint64 // bumped every time a swap occurs
	primed    bool
}

// New allocates a Buffer with two slots of the given size.
func New(slotSize int) *Buffer {
	b := &Buffer{
		slots: [2][]byte{
			make([]byte, slotSize),
			make([]byte, slotSize),
		},
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// WriteSlot returns the slot currently open for writing. The caller
// must call MarkWriteDone once it has finished writing into it.
func (b *Buffer) WriteSlot() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.slots[b.active]
}

// ReadSlot returns the slot currently available for reading (the
// inactive one). The caller must call MarkReadDone once it has
// finished consuming it.
func (b *Buffer) ReadSlot() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.slots[1-b.active]
}

// MarkWriteDone signals the writer has finished with the active slot.
// Swap occurs once the reader has also signalled completion for the
// current rotation.
func (b *Buffer) MarkWriteDone() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writeDone = true
	b.maybeSwap()
}

// MarkReadDone signals the reader has finished with its slot.
func (b *Buffer) MarkReadDone() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readDone = true
	b.maybeSwap()
}

// maybeSwap flips the active slot once both sides are done, and
// resets the done flags for the next rotation. Must be called with
// b.mu held.
func (b *Buffer) maybeSwap() {
	if b.writeDone && b.readDone {
		b.active = 1 - b.active
		b.writeDone = false
		b.readDone = false
		b.version++
		b.cond.Broadcast()
	}
}

// pendingSwap reports whether both sides have signalled done without
// the swap having happened yet; maybeSwap resolves that state at once,
// so it is false after any Mark*Done call returns. Useful for tests.
func (b *Buffer) pendingSwap() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writeDone && b.readDone
}

// Next blocks until a rotation past lastVersion has swapped in, or ctx
// is done, and returns a copy of the newly readable slot along with
// its rotation number. Pass the version Next last returned (zero on
// the first call) to wait for the next one.
//
// The first call primes the read side of the handshake so the
// writer's first MarkWriteDone can swap without an explicit priming
// MarkReadDone from the caller.
func (b *Buffer) Next(ctx context.Context, lastVersion uint64) ([]byte, uint64, error) {
	done := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		close(done)
		b.mu.Lock()
		b.cond.Broadcast()
		b.mu.Unlock()
	})
	defer stop()

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.primed {
		b.primed = true
		b.readDone = true
		b.maybeSwap()
	}

	for b.version == lastVersion {
		select {
		case <-done:
			return nil, lastVersion, ctx.Err()
		default:
		}
		b.cond.Wait()
	}

	out := append([]byte(nil), b.slots[1-b.active]...)
	version := b.version
	b.readDone = true
	b.maybeSwap()
	return out, version, nil
}
