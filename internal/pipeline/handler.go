package pipeline

import (
	"context"

	"github.com/tjfontaine/reqpipe/internal/async"
)

// Handler produces the response for a request.
type Handler interface {
	ProcessRequest(req *Request) error
}

// AsyncHandler is a Handler that can also complete asynchronously. The
// pipeline always prefers ProcessRequestAsync when it is available.
type AsyncHandler interface {
	Handler
	ProcessRequestAsync(ctx context.Context, req *Request) async.Deferred
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(req *Request) error

// ProcessRequest calls f(req).
func (f HandlerFunc) ProcessRequest(req *Request) error { return f(req) }

// AsyncHandlerFunc adapts a function to AsyncHandler.
type AsyncHandlerFunc func(ctx context.Context, req *Request) async.Deferred

// ProcessRequestAsync calls f(ctx, req).
func (f AsyncHandlerFunc) ProcessRequestAsync(ctx context.Context, req *Request) async.Deferred {
	return f(ctx, req)
}

// ProcessRequest runs f and waits for it.
func (f AsyncHandlerFunc) ProcessRequest(req *Request) error {
	d := f(req.Context(), req)
	if d == nil {
		return nil
	}
	<-d.Done()
	return d.Err()
}

var (
	_ Handler      = HandlerFunc(nil)
	_ AsyncHandler = AsyncHandlerFunc(nil)
)

// Module is a pipeline extension. Init subscribes callbacks to stages;
// Dispose releases whatever Init acquired.
type Module interface {
	Init(ev *Events) error
	Dispose()
}

// EventFunc is a synchronous stage callback.
type EventFunc func(req *Request) error

// AsyncEventFunc is an asynchronous stage callback.
type AsyncEventFunc func(ctx context.Context, req *Request) async.Deferred

// step is one invocation in a stage phase. Exactly one of run and start is
// set.
type step struct {
	module string
	run    EventFunc
	start  AsyncEventFunc
}

func handlerStep(h Handler) step {
	if ah, ok := h.(AsyncHandler); ok {
		return step{module: "handler", start: ah.ProcessRequestAsync}
	}
	return step{module: "handler", run: h.ProcessRequest}
}
