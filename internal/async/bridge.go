package async

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/tjfontaine/reqpipe/internal/core/domain"
)

// Work starts a deferred computation.
type Work func(ctx context.Context) Deferred

// Callback is notified once when the work behind a handle has finished.
type Callback func(h *Handle)

// Bridge turns Work into Handles. Handles are bound to the bridge that
// produced them; End rejects handles from any other bridge.
type Bridge struct {
	logger *slog.Logger
	begun  atomic.Uint64
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *slog.Logger) BridgeOption {
	return func(b *Bridge) { b.logger = logger }
}

// NewBridge creates a Bridge.
func NewBridge(opts ...BridgeOption) *Bridge {
	b := &Bridge{logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Handle tracks one begun unit of work.
type Handle struct {
	bridge   *Bridge
	deferred Deferred
	state    any
	sync     bool
}

// State returns the caller-supplied state given to Begin.
func (h *Handle) State() any { return h.state }

// CompletedSynchronously reports whether the work had already finished when
// Begin sampled it.
func (h *Handle) CompletedSynchronously() bool { return h.sync }

// IsCompleted polls the work without blocking.
func (h *Handle) IsCompleted() bool {
	select {
	case <-h.deferred.Done():
		return true
	default:
		return false
	}
}

// Done is closed when the work has finished.
func (h *Handle) Done() <-chan struct{} { return h.deferred.Done() }

// Begin starts work and returns its handle. Completion is sampled exactly
// once: when the work has already finished, cb runs inline before Begin
// returns; otherwise cb runs on the goroutine that observes completion.
// A panic raised while starting work is reported through End.
func (b *Bridge) Begin(ctx context.Context, work Work, cb Callback, state any) *Handle {
	b.begun.Add(1)

	var d Deferred
	if err := Call(func() error {
		d = work(ctx)
		return nil
	}); err != nil {
		d = Completed(err)
	}
	if d == nil {
		d = Completed(nil)
	}

	h := &Handle{bridge: b, deferred: d, state: state}
	select {
	case <-d.Done():
		h.sync = true
	default:
	}

	if cb == nil {
		return h
	}
	if h.sync {
		cb(h)
		return h
	}
	go func() {
		<-d.Done()
		cb(h)
	}()
	return h
}

// End waits for the work behind h and returns its failure unmodified.
// End may be called more than once; every call reports the same result.
func (b *Bridge) End(h *Handle) error {
	if h == nil {
		return fmt.Errorf("%w: nil handle", domain.ErrInvalidArgument)
	}
	if h.bridge != b {
		b.logger.Warn("end called with foreign handle")
		return domain.ErrForeignHandle
	}
	<-h.deferred.Done()
	return h.deferred.Err()
}

// Begun returns the number of Begin calls made on the bridge.
func (b *Bridge) Begun() uint64 { return b.begun.Load() }
