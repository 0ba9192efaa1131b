package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/reqpipe/internal/async"
	"github.com/tjfontaine/reqpipe/internal/core/domain"
)

// execution walks one request through the application's step table.
// mu is held while steps run; an asynchronous completion that arrives
// before the suspending goroutine has unwound waits on it.
type execution struct {
	app *Application
	req *Request
	ctx context.Context

	mu       sync.Mutex
	task     *async.Task
	complete func(error) bool

	running bool
	reentry bool

	started    time.Time
	span       trace.Span
	phaseStart time.Time
	phaseSpan  trace.Span
}

func newExecution(ctx context.Context, a *Application, req *Request) *execution {
	ctx, span := a.tracer.Start(ctx, "pipeline.request",
		trace.WithAttributes(
			attribute.String("reqpipe.request_id", req.ID),
			attribute.String("reqpipe.application_id", a.id),
		))

	x := &execution{
		app:     a,
		req:     req,
		ctx:     ctx,
		running: true,
		started: time.Now(),
		span:    span,
	}
	x.task, x.complete = async.NewSource()

	req.exec = x
	req.ctx = ctx
	if req.resp.pool == nil {
		req.resp.pool = a.pool
	}
	req.state = RunState{Stage: domain.StageBeginRequest}
	x.enterPhase()
	return x
}

// resume continues the walk. fromAsync is set when called from the
// completion of a suspended step whose result is err.
func (x *execution) resume(err error, fromAsync bool) {
	x.mu.Lock()
	if fromAsync {
		x.req.state.Pending = nil
		x.record(err)
	}
	done := x.walk()
	x.mu.Unlock()

	if done {
		x.finish()
	}
}

// walk runs steps until the request completes or a step suspends, and
// reports whether the request completed.
func (x *execution) walk() bool {
	st := &x.req.state
	for !st.Completed {
		s, ok := x.stepAt(st.Stage, st.Post, st.Index)
		if !ok {
			x.advance()
			continue
		}
		st.Index++

		if s.start != nil {
			h := x.app.bridge.Begin(x.ctx, x.startWork(s), x.onStepComplete, s.module)
			if !h.CompletedSynchronously() {
				st.Pending = h
				return false
			}
			x.record(x.app.bridge.End(h))
			continue
		}
		x.record(async.Call(func() error { return s.run(x.req) }))
	}
	return true
}

func (x *execution) startWork(s step) async.Work {
	return func(ctx context.Context) async.Deferred {
		return s.start(ctx, x.req)
	}
}

// onStepComplete resumes the walk after an asynchronous step. Synchronous
// completions are handled inline by walk.
func (x *execution) onStepComplete(h *async.Handle) {
	if h.CompletedSynchronously() {
		return
	}
	x.resume(x.app.bridge.End(h), true)
}

// stepAt returns the step at index i of a phase, including the implicit
// terminal actions of ExecuteRequestHandler and SendResponse.
func (x *execution) stepAt(stage domain.Stage, post bool, i int) (step, bool) {
	steps := x.app.steps[stage][phaseOf(post)]
	if i < len(steps) {
		return steps[i], true
	}
	if i != len(steps) || post {
		return step{}, false
	}

	switch stage {
	case domain.StageExecuteRequestHandler:
		if x.req.Handler == nil {
			return step{}, false
		}
		return handlerStep(x.req.Handler), true
	case domain.StageSendResponse:
		return step{module: "send", run: func(req *Request) error { return req.resp.send() }}, true
	}
	return step{}, false
}

// record applies the outcome of a step to the run state.
func (x *execution) record(err error) {
	st := &x.req.state
	if err == nil {
		if x.req.completeRequested && !st.Stage.IsCleanup() {
			x.jumpToCleanup()
		}
		return
	}

	x.capture(err, x.phaseSpan)
	if !st.Stage.IsCleanup() {
		x.jumpToCleanup()
	}
}

// capture stores err in the run state. The first error becomes the
// request's failure.
func (x *execution) capture(err error, span trace.Span) {
	st := &x.req.state
	st.Errors = append(st.Errors, err)
	if st.Err == nil {
		st.Err = err
		st.FailedStage = st.Stage
		st.FailedPost = st.Post
	}
	if span != nil {
		span.RecordError(err)
	}
	x.app.logger.Debug("pipeline step failed",
		slog.String("request_id", x.req.ID),
		slog.String("stage", phaseName(st.Stage, st.Post)),
		slog.String("error", err.Error()))
}

func (x *execution) jumpToCleanup() {
	st := &x.req.state
	x.exitPhase()
	st.Stage = domain.StageLogRequest
	st.Post = false
	st.Index = 0
	x.enterPhase()
}

// advance moves to the next phase once the current one is exhausted.
func (x *execution) advance() {
	st := &x.req.state
	x.exitPhase()

	switch {
	case st.Stage == domain.StageSendResponse:
		st.Completed = true
		return
	case !st.Post && st.Stage.HasPostPhase():
		st.Post = true
	default:
		next, _ := st.Stage.Next()
		st.Stage = next
		st.Post = false
	}
	st.Index = 0

	if st.Stage == domain.StageSendResponse {
		st.Sends++
		x.respondToError()
	}
	x.enterPhase()
}

// respondToError lets the error responder shape the response of a failed
// request that has not sent its headers yet.
func (x *execution) respondToError() {
	st := &x.req.state
	if st.Err == nil || x.req.resp.HeadersWritten() {
		return
	}
	err := async.Call(func() error {
		x.app.responder(x.req, st.Err)
		return nil
	})
	if err != nil {
		st.Errors = append(st.Errors, err)
	}
}

// flush runs SendResponse out of band from inside a step. Asynchronous
// SendResponse steps are awaited in place. The walk position is restored
// afterwards.
func (x *execution) flush() error {
	st := &x.req.state
	if !x.running {
		return fmt.Errorf("%w: request %s has completed", domain.ErrInvalidState, x.req.ID)
	}
	if st.Stage == domain.StageSendResponse {
		return fmt.Errorf("%w: flush from within SendResponse", domain.ErrInvalidState)
	}

	stage, post, index := st.Stage, st.Post, st.Index
	st.Stage, st.Post, st.Index = domain.StageSendResponse, false, 0
	st.Sends++
	x.reentry = true

	// A cleanup stage may flush after a failure; the responder must shape
	// the response before headers are locked.
	x.respondToError()

	_, span := x.app.tracer.Start(x.ctx, "pipeline.SendResponse",
		trace.WithAttributes(attribute.Bool("reqpipe.reentry", true)))
	begin := time.Now()

	var first error
	for {
		s, ok := x.stepAt(domain.StageSendResponse, false, st.Index)
		if !ok {
			break
		}
		st.Index++

		var err error
		if s.start != nil {
			err = x.app.bridge.End(x.app.bridge.Begin(x.ctx, x.startWork(s), nil, s.module))
		} else {
			err = async.Call(func() error { return s.run(x.req) })
		}
		if err != nil {
			x.capture(err, span)
			if first == nil {
				first = err
			}
		}
	}

	span.End()
	x.app.observer.PhaseCompleted(domain.StageSendResponse, false, time.Since(begin))

	x.reentry = false
	st.Stage, st.Post, st.Index = stage, post, index
	return first
}

func (x *execution) enterPhase() {
	st := &x.req.state
	x.phaseStart = time.Now()
	_, x.phaseSpan = x.app.tracer.Start(x.ctx, "pipeline."+phaseName(st.Stage, st.Post))
}

func (x *execution) exitPhase() {
	st := &x.req.state
	if x.phaseSpan != nil {
		x.phaseSpan.End()
		x.phaseSpan = nil
	}
	x.app.observer.PhaseCompleted(st.Stage, st.Post, time.Since(x.phaseStart))
}

// finish reports the outcome once the walk has completed.
func (x *execution) finish() {
	x.running = false
	x.req.resp.release()

	res := x.req.Result()
	if res.Err != nil {
		x.span.SetStatus(codes.Error, res.Err.Error())
		x.span.SetAttributes(attribute.String("reqpipe.failed_stage", phaseName(res.FailedStage, res.FailedPost)))
	}
	x.span.End()
	x.app.observer.RequestCompleted(res, time.Since(x.started))

	x.complete(res.Err)
}

func phaseName(stage domain.Stage, post bool) string {
	if post {
		return "Post" + stage.String()
	}
	return stage.String()
}
