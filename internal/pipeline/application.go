package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/reqpipe/internal/async"
	"github.com/tjfontaine/reqpipe/internal/bufpool"
	"github.com/tjfontaine/reqpipe/internal/core/domain"
	"github.com/tjfontaine/reqpipe/internal/registry"
)

const tracerName = "github.com/tjfontaine/reqpipe/internal/pipeline"

// ErrorResponder shapes the response of a failed request before it is
// sent. It only runs when headers have not been written yet.
type ErrorResponder func(req *Request, err error)

// Observer is notified as requests move through the pipeline.
type Observer interface {
	PhaseCompleted(stage domain.Stage, post bool, d time.Duration)
	RequestCompleted(res Result, d time.Duration)
}

type nopObserver struct{}

func (nopObserver) PhaseCompleted(domain.Stage, bool, time.Duration) {}
func (nopObserver) RequestCompleted(Result, time.Duration)           {}

// Application is one initialised set of modules able to execute requests.
type Application struct {
	id      string
	modules []namedModule
	steps   stepTable

	bridge    *async.Bridge
	logger    *slog.Logger
	pool      *bufpool.Pool[byte]
	responder ErrorResponder
	observer  Observer
	tracer    trace.Tracer

	disposeOnce sync.Once
	disposed    bool
	mu          sync.Mutex
}

type namedModule struct {
	name   string
	module Module
}

// Option configures an Application.
type Option func(*Application)

// WithLogger sets the application logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Application) { a.logger = logger }
}

// WithBufferPool sets the pool backing response output.
func WithBufferPool(pool *bufpool.Pool[byte]) Option {
	return func(a *Application) { a.pool = pool }
}

// WithErrorResponder replaces DefaultErrorResponder.
func WithErrorResponder(fn ErrorResponder) Option {
	return func(a *Application) { a.responder = fn }
}

// WithObserver registers an observer for stage and request timings.
func WithObserver(o Observer) Option {
	return func(a *Application) { a.observer = o }
}

// WithTracer sets the tracer used for request and stage spans.
func WithTracer(t trace.Tracer) Option {
	return func(a *Application) { a.tracer = t }
}

// NewApplication instantiates and initialises every registered module in
// registration order. If a module fails to initialise, the modules created
// so far are disposed and the error is returned.
func NewApplication(entries []registry.Entry[Module], opts ...Option) (*Application, error) {
	a := &Application{
		id:        uuid.NewString(),
		logger:    slog.Default(),
		responder: DefaultErrorResponder,
		observer:  nopObserver{},
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.bridge = async.NewBridge(async.WithLogger(a.logger))

	for _, e := range entries {
		m := e.Descriptor.New()
		if m == nil {
			a.Dispose()
			return nil, fmt.Errorf("%w: module %s constructor returned nil", domain.ErrInvalidArgument, e.Name)
		}
		a.modules = append(a.modules, namedModule{name: e.Name, module: m})

		ev := &Events{module: e.Name, table: &a.steps}
		err := async.Call(func() error { return m.Init(ev) })
		ev.closed = true
		if err != nil {
			a.Dispose()
			return nil, fmt.Errorf("init module %s: %w", e.Name, err)
		}
	}

	a.logger.Debug("application initialised",
		slog.String("application_id", a.id),
		slog.Int("modules", len(a.modules)))
	return a, nil
}

// ID identifies the application instance.
func (a *Application) ID() string { return a.id }

// Modules returns the generated names of the application's modules.
func (a *Application) Modules() []string {
	names := make([]string, len(a.modules))
	for i, m := range a.modules {
		names[i] = m.name
	}
	return names
}

// Dispose disposes every module in reverse registration order. Requests
// cannot be started afterwards.
func (a *Application) Dispose() {
	a.disposeOnce.Do(func() {
		a.mu.Lock()
		a.disposed = true
		a.mu.Unlock()

		for i := len(a.modules) - 1; i >= 0; i-- {
			m := a.modules[i]
			if err := async.Call(func() error { m.module.Dispose(); return nil }); err != nil {
				a.logger.Error("module dispose failed",
					slog.String("module", m.name),
					slog.String("error", err.Error()))
			}
		}
	})
}

// BeginProcessRequest starts executing req. The returned handle completes
// when the request has finished; cb, when non-nil, is invoked once at that
// point.
func (a *Application) BeginProcessRequest(ctx context.Context, req *Request, cb async.Callback, state any) *async.Handle {
	return a.bridge.Begin(ctx, func(ctx context.Context) async.Deferred {
		x, err := a.start(ctx, req)
		if err != nil {
			return async.Completed(err)
		}
		x.resume(nil, false)
		return x.task
	}, cb, state)
}

// EndProcessRequest waits for the request behind h and returns its first
// failure unmodified.
func (a *Application) EndProcessRequest(h *async.Handle) error {
	return a.bridge.End(h)
}

// ProcessRequest executes req and waits for it to finish.
func (a *Application) ProcessRequest(ctx context.Context, req *Request) error {
	return a.EndProcessRequest(a.BeginProcessRequest(ctx, req, nil, nil))
}

func (a *Application) start(ctx context.Context, req *Request) (*execution, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", domain.ErrInvalidArgument)
	}
	a.mu.Lock()
	disposed := a.disposed
	a.mu.Unlock()
	if disposed {
		return nil, fmt.Errorf("%w: application is disposed", domain.ErrInvalidState)
	}
	if req.exec != nil {
		return nil, fmt.Errorf("%w: request %s was already processed", domain.ErrInvalidState, req.ID)
	}
	return newExecution(ctx, a, req), nil
}

// DefaultErrorResponder discards buffered output and answers 500.
func DefaultErrorResponder(req *Request, _ error) {
	resp := req.Response()
	resp.ClearContent()
	resp.Status = http.StatusInternalServerError
	resp.Header.Set("Content-Type", "text/plain; charset=utf-8")
	resp.WriteString(http.StatusText(http.StatusInternalServerError))
}
