// Package bufpool provides bounded recycling allocators for fixed-size
// scratch buffers used on the request hot path.
//
// A Pool never blocks and never fails: Acquire falls back to a fresh
// allocation when no free buffer is available, and Release silently drops
// buffers once the pool holds its ceiling. Buffers are not zeroed between
// uses; callers must overwrite what they read or treat buffers as scratch.
package bufpool

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// maxCPUMultiplier bounds how much the ceiling scales with parallelism.
const maxCPUMultiplier = 4

// Pool is a bounded free list of []T buffers of one fixed length.
type Pool[T any] struct {
	name       string
	bufferSize int
	ceiling    int

	mu   sync.Mutex
	free [][]T

	hits   atomic.Uint64
	misses atomic.Uint64
	drops  atomic.Uint64
}

// Option configures a Pool.
type Option func(*options)

type options struct {
	name     string
	cpuCount int
}

// WithName labels the pool in stats and metrics.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithCPUCount overrides runtime.NumCPU when computing the ceiling.
func WithCPUCount(n int) Option {
	return func(o *options) { o.cpuCount = n }
}

// New creates a pool of buffers with bufferSize elements. The pool retains
// at most baseCapacity × clamp(cpuCount, 1, 4) released buffers.
func New[T any](bufferSize, baseCapacity int, opts ...Option) *Pool[T] {
	o := options{cpuCount: runtime.NumCPU()}
	for _, opt := range opts {
		opt(&o)
	}
	if bufferSize < 1 {
		bufferSize = 1
	}
	if baseCapacity < 1 {
		baseCapacity = 1
	}

	ceiling := baseCapacity * Multiplier(o.cpuCount)
	return &Pool[T]{
		name:       o.name,
		bufferSize: bufferSize,
		ceiling:    ceiling,
		free:       make([][]T, 0, ceiling),
	}
}

// Multiplier clamps cpuCount to [1, 4].
func Multiplier(cpuCount int) int {
	if cpuCount < 1 {
		return 1
	}
	if cpuCount > maxCPUMultiplier {
		return maxCPUMultiplier
	}
	return cpuCount
}

// Acquire returns a buffer of BufferSize elements, reusing a released one
// when possible. Ownership passes to the caller.
func (p *Pool[T]) Acquire() []T {
	p.mu.Lock()
	n := len(p.free)
	if n > 0 {
		buf := p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
		p.mu.Unlock()
		p.hits.Add(1)
		return buf
	}
	p.mu.Unlock()

	p.misses.Add(1)
	return make([]T, p.bufferSize)
}

// Release hands buf back to the pool. Buffers that do not have the pool's
// length, or that arrive while the pool is full, are dropped.
func (p *Pool[T]) Release(buf []T) {
	if buf == nil {
		return
	}
	if cap(buf) < p.bufferSize {
		p.drops.Add(1)
		return
	}
	buf = buf[:p.bufferSize]

	p.mu.Lock()
	if len(p.free) >= p.ceiling {
		p.mu.Unlock()
		p.drops.Add(1)
		return
	}
	p.free = append(p.free, buf)
	p.mu.Unlock()
}

// Drain discards every retained buffer.
func (p *Pool[T]) Drain() {
	p.mu.Lock()
	clear(p.free)
	p.free = p.free[:0]
	p.mu.Unlock()
}

// Held returns the number of buffers currently retained.
func (p *Pool[T]) Held() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Ceiling returns the maximum number of retained buffers.
func (p *Pool[T]) Ceiling() int { return p.ceiling }

// BufferSize returns the element count of every buffer handed out.
func (p *Pool[T]) BufferSize() int { return p.bufferSize }

// Name returns the pool label.
func (p *Pool[T]) Name() string { return p.name }

// Stats is a point-in-time view of pool activity.
type Stats struct {
	Name    string
	Hits    uint64
	Misses  uint64
	Drops   uint64
	Held    int
	Ceiling int
}

// Stats returns counters describing pool activity.
func (p *Pool[T]) Stats() Stats {
	return Stats{
		Name:    p.name,
		Hits:    p.hits.Load(),
		Misses:  p.misses.Load(),
		Drops:   p.drops.Load(),
		Held:    p.Held(),
		Ceiling: p.ceiling,
	}
}
