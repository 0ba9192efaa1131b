package runtime

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/tjfontaine/reqpipe/internal/core/domain"
	"github.com/tjfontaine/reqpipe/internal/pipeline"
	"github.com/tjfontaine/reqpipe/internal/registry"
)

// DefaultMaxFreeApps bounds the free list when no limit is configured.
const DefaultMaxFreeApps = 64

// AppPool keeps initialised application instances for reuse. An
// application serves one request at a time; concurrent requests get
// separate instances.
type AppPool struct {
	entries []registry.Entry[pipeline.Module]
	opts    []pipeline.Option
	max     int
	logger  *slog.Logger

	mu     sync.Mutex
	free   []*pipeline.Application
	closed bool

	created  atomic.Int64
	disposed atomic.Int64
}

// NewAppPool creates an empty pool building applications from entries.
func NewAppPool(entries []registry.Entry[pipeline.Module], maxFree int, logger *slog.Logger, opts ...pipeline.Option) *AppPool {
	if maxFree < 1 {
		maxFree = DefaultMaxFreeApps
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AppPool{
		entries: entries,
		opts:    opts,
		max:     maxFree,
		logger:  logger,
	}
}

// Get returns a free application or initialises a new one.
func (p *AppPool) Get() (*pipeline.Application, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: application pool is closed", domain.ErrInvalidState)
	}
	if n := len(p.free); n > 0 {
		app := p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
		p.mu.Unlock()
		return app, nil
	}
	p.mu.Unlock()

	app, err := pipeline.NewApplication(p.entries, p.opts...)
	if err != nil {
		return nil, err
	}
	p.created.Add(1)
	return app, nil
}

// Put returns app to the free list, disposing it when the pool is full or
// closed.
func (p *AppPool) Put(app *pipeline.Application) {
	if app == nil {
		return
	}
	p.mu.Lock()
	if p.closed || len(p.free) >= p.max {
		p.mu.Unlock()
		p.dispose(app)
		return
	}
	p.free = append(p.free, app)
	p.mu.Unlock()
}

// Trim disposes idle applications down to keep.
func (p *AppPool) Trim(keep int) int {
	p.mu.Lock()
	if keep < 0 {
		keep = 0
	}
	if len(p.free) <= keep {
		p.mu.Unlock()
		return 0
	}
	victims := append([]*pipeline.Application(nil), p.free[keep:]...)
	clear(p.free[keep:])
	p.free = p.free[:keep]
	p.mu.Unlock()

	for _, app := range victims {
		p.dispose(app)
	}
	p.logger.Debug("trimmed application pool", slog.Int("disposed", len(victims)), slog.Int("kept", keep))
	return len(victims)
}

// Free returns the number of idle applications.
func (p *AppPool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Created returns the number of applications initialised so far.
func (p *AppPool) Created() int64 { return p.created.Load() }

// Live returns the number of applications not yet disposed.
func (p *AppPool) Live() int64 { return p.created.Load() - p.disposed.Load() }

// Close disposes every idle application. Applications still in use are
// disposed when they are put back.
func (p *AppPool) Close() {
	p.mu.Lock()
	p.closed = true
	victims := p.free
	p.free = nil
	p.mu.Unlock()

	for _, app := range victims {
		p.dispose(app)
	}
}

func (p *AppPool) dispose(app *pipeline.Application) {
	app.Dispose()
	p.disposed.Add(1)
}
