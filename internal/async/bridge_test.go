package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tjfontaine/reqpipe/internal/core/domain"
)

func TestBridge_SynchronousCompletion(t *testing.T) {
	b := NewBridge()
	want := errors.New("sync failure")

	var calls atomic.Int32
	var inline bool
	h := b.Begin(context.Background(), func(context.Context) Deferred {
		return Completed(want)
	}, func(h *Handle) {
		calls.Add(1)
		inline = h.CompletedSynchronously()
	}, "state")

	if !h.CompletedSynchronously() {
		t.Error("expected synchronous completion")
	}
	if calls.Load() != 1 || !inline {
		t.Errorf("callback calls = %d, inline = %v", calls.Load(), inline)
	}
	if h.State() != "state" {
		t.Errorf("State() = %v", h.State())
	}
	if err := b.End(h); err != want {
		t.Errorf("End() error = %v, want %v", err, want)
	}
	if calls.Load() != 1 {
		t.Errorf("callback ran %d times", calls.Load())
	}
}

func TestBridge_AsynchronousCompletionPreservesError(t *testing.T) {
	b := NewBridge()
	want := errors.New("async failure")
	task, complete := NewSource()

	called := make(chan *Handle, 2)
	h := b.Begin(context.Background(), func(context.Context) Deferred {
		return task
	}, func(h *Handle) { called <- h }, nil)

	if h.CompletedSynchronously() {
		t.Fatal("expected asynchronous completion")
	}
	if h.IsCompleted() {
		t.Fatal("IsCompleted() = true before completion")
	}

	go complete(want)

	select {
	case got := <-called:
		if got != h {
			t.Error("callback received a different handle")
		}
	case <-time.After(time.Second):
		t.Fatal("callback never ran")
	}
	if !h.IsCompleted() {
		t.Error("IsCompleted() = false after completion")
	}
	if err := b.End(h); err != want {
		t.Errorf("End() error = %v, want %v", err, want)
	}
	select {
	case <-called:
		t.Error("callback ran more than once")
	default:
	}
}

func TestBridge_EndBlocksUntilDone(t *testing.T) {
	b := NewBridge()
	h := b.Begin(context.Background(), func(ctx context.Context) Deferred {
		return Go(ctx, func(context.Context) error {
			time.Sleep(20 * time.Millisecond)
			return nil
		})
	}, nil, nil)

	if err := b.End(h); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if !h.IsCompleted() {
		t.Error("End returned before completion")
	}
}

func TestBridge_EndRejectsInvalidHandles(t *testing.T) {
	b := NewBridge()
	other := NewBridge()

	if err := b.End(nil); !domain.IsInvalidArgument(err) {
		t.Errorf("End(nil) error = %v, want invalid argument", err)
	}

	h := other.Begin(context.Background(), func(context.Context) Deferred { return Completed(nil) }, nil, nil)
	err := b.End(h)
	if !domain.IsForeignHandle(err) {
		t.Errorf("End(foreign) error = %v, want foreign handle", err)
	}
	if !domain.IsInvalidArgument(err) {
		t.Errorf("foreign handle should classify as invalid argument")
	}
}

func TestBridge_PanicInWorkIsReported(t *testing.T) {
	b := NewBridge()
	h := b.Begin(context.Background(), func(context.Context) Deferred {
		panic("kaboom")
	}, nil, nil)

	if !h.CompletedSynchronously() {
		t.Error("a panicking start should complete synchronously")
	}
	var pe *PanicError
	if err := b.End(h); !errors.As(err, &pe) {
		t.Fatalf("End() error = %v, want *PanicError", err)
	}
	if pe.Value != "kaboom" {
		t.Errorf("panic value = %v", pe.Value)
	}
}

func TestBridge_NilDeferredIsSuccess(t *testing.T) {
	b := NewBridge()
	h := b.Begin(context.Background(), func(context.Context) Deferred { return nil }, nil, nil)
	if err := b.End(h); err != nil {
		t.Errorf("End() error = %v", err)
	}
	if b.Begun() != 1 {
		t.Errorf("Begun() = %d", b.Begun())
	}
}

func TestGo_RecoversPanic(t *testing.T) {
	sentinel := errors.New("wrapped")
	task := Go(context.Background(), func(context.Context) error {
		panic(sentinel)
	})
	err := Wait(context.Background(), task)
	if !errors.Is(err, sentinel) {
		t.Errorf("Wait() error = %v, want to unwrap sentinel", err)
	}
}

func TestNewSource_FirstCompletionWins(t *testing.T) {
	task, complete := NewSource()
	first := errors.New("first")

	if task.Err() != nil {
		t.Error("Err() should be nil while pending")
	}
	if !complete(first) {
		t.Error("first completion should win")
	}
	if complete(errors.New("second")) {
		t.Error("second completion should be ignored")
	}
	if task.Err() != first {
		t.Errorf("Err() = %v, want first", task.Err())
	}
}

func TestWait_ContextCancelled(t *testing.T) {
	task, _ := NewSource()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := Wait(ctx, task); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() error = %v, want context.Canceled", err)
	}
}
