package queue

import (
	"context"
	"testing"
	"time"
)

func TestPushTryPop(t *testing.T) {
	q := New[int]()
	q.Push(1)
	q.Push(2)
	if q.Len() != 2 {
		t.Fatalf("expected len 2, got %d", q.Len())
	}
	v, ok := q.TryPop()
	if !ok || v != 1 {
		t.Fatalf("expected (1, true), got (%d, %v)", v, ok)
	}
	if q.Watermark() != 2 {
		t.Fatalf("expected watermark 2, got %d", q.Watermark())
	}
}

func TestTryPopEmpty(t *testing.T) {
	q := New[string]()
	_, ok := q.TryPop()
	if ok {
		t.Fatal("expected ok=false on empty queue")
	}
}

func TestPopBlocksUntilPush(t *testing.T) {
	q := New[int]()
	ctx := context.Background()
	done := make(chan int, 1)
	go func() {
		v, ok := q.Pop(ctx)
		if ok {
			done <- v
		} else {
			done <- -1
		}
	}()
	time.Sleep(20 * time.Millisecond)
	q.Push(42)
	select {
	case v := <-done:
		if v != 42 {
			t.Fatalf("expected 42, got %d", v)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop never returned")
	}
}

func TestPopCancelled(t *testing.T) {
	q := New[int]()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop(ctx)
		done <- ok
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case ok := <-done:
		if ok {
			t.Fatal("expected Pop to report false after cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not unblock after cancel")
	}
}

func TestReset(t *testing.T) {
	q := New[int]()
	q.Push(1)
	q.Push(2)
	q.Reset()
	if q.Len() != 0 || q.Watermark() != 0 {
		t.Fatal("Reset did not clear queue/watermark")
	}
}
