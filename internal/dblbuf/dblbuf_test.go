package dblbuf

import (
	"context"
	"testing"
	"time"
)

func TestSwapRequiresBothSides(t *testing.T) {
	b := New(4)
	active := b.WriteSlot()
	copy(active, []byte{1, 2, 3, 4})

	b.MarkWriteDone()
	if b.pendingSwap() {
		t.Fatal("should not swap until reader is also done")
	}
	if b.ReadSlot()[0] != 0 {
		t.Fatal("read slot should still be the untouched, inactive slot")
	}

	b.MarkReadDone()
	if b.pendingSwap() {
		t.Fatal("swap should have resolved, not be pending")
	}
	if b.ReadSlot()[0] != 1 {
		t.Fatal("expected swapped slot to now be readable")
	}
}

func TestWriteDoneAloneDoesNotSwap(t *testing.T) {
	b := New(2)
	b.MarkWriteDone()
	b.MarkWriteDone()
	if b.active != 0 {
		t.Fatal("repeated write-done without read-done must not swap")
	}
}

func TestNextPrimesAndDeliversFirstRotation(t *testing.T) {
	b := New(4)
	copy(b.WriteSlot(), []byte{9, 9, 9, 9})
	b.MarkWriteDone()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	out, version, err := b.Next(ctx, 0)
	if err != nil {
		t.Fatalf("Next returned error: %v", err)
	}
	if version != 1 {
		t.Fatalf("expected rotation 1, got %d", version)
	}
	if out[0] != 9 {
		t.Fatalf("expected swapped-in data, got %v", out)
	}
}

func TestNextBlocksForNextRotation(t *testing.T) {
	b := New(4)

	result := make(chan struct{})
	go func() {
		defer close(result)
		out, version, err := b.Next(context.Background(), 0)
		if err != nil {
			t.Errorf("Next returned error: %v", err)
			return
		}
		if version != 1 || out[0] != 7 {
			t.Errorf("unexpected rotation result: version=%d out=%v", version, out)
		}
	}()

	time.Sleep(10 * time.Millisecond)
	select {
	case <-result:
		t.Fatal("Next returned before a write completed")
	default:
	}

	copy(b.WriteSlot(), []byte{7, 0, 0, 0})
	b.MarkWriteDone()

	select {
	case <-result:
	case <-time.After(time.Second):
		t.Fatal("Next did not unblock after a write completed")
	}
}

func TestNextStopsOnContextCancel(t *testing.T) {
	b := New(4)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, _, err := b.Next(ctx, 0)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected an error after context cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("Next did not return after context cancel")
	}
}
