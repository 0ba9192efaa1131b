package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"slices"

	"github.com/google/uuid"

	"github.com/tjfontaine/reqpipe/internal/async"
	"github.com/tjfontaine/reqpipe/internal/core/domain"
)

// Request is one unit of work driven through the pipeline.
type Request struct {
	ID     string
	Method string
	Path   string
	Header http.Header
	Body   io.Reader

	// Items carries per-request values between modules.
	Items map[string]any

	// Handler runs at the end of ExecuteRequestHandler. Modules may set it
	// during MapRequestHandler. A nil Handler is skipped.
	Handler Handler

	ctx   context.Context
	resp  *Response
	state RunState
	exec  *execution

	completeRequested bool
}

// NewRequest creates a request whose response is written to sink.
func NewRequest(method, path string, header http.Header, sink Sink) *Request {
	if header == nil {
		header = make(http.Header)
	}
	return &Request{
		ID:     uuid.NewString(),
		Method: method,
		Path:   path,
		Header: header,
		Items:  make(map[string]any),
		ctx:    context.Background(),
		resp:   newResponse(sink),
	}
}

// Context returns the context the request is executing under.
func (r *Request) Context() context.Context { return r.ctx }

// Response returns the request's response.
func (r *Request) Response() *Response { return r.resp }

// RunState is the per-request bookkeeping of the pipeline walk.
type RunState struct {
	// Stage and Post locate the phase being executed.
	Stage domain.Stage
	Post  bool

	// Index is the resume point within the phase.
	Index int

	// Err is the first failure, exactly as returned by the callback.
	Err         error
	FailedStage domain.Stage
	FailedPost  bool

	// Errors holds every recorded failure in order.
	Errors []error

	Completed bool

	// Pending is the handle of a suspended asynchronous step.
	Pending *async.Handle

	// Sends counts entries into SendResponse.
	Sends int
}

// State returns a snapshot of the run state. It is only consistent when
// read from a callback of this request or after the request completed.
func (r *Request) State() RunState {
	s := r.state
	s.Errors = slices.Clone(r.state.Errors)
	return s
}

// Result describes how a request finished.
type Result struct {
	Err         error
	FailedStage domain.Stage
	FailedPost  bool
	Completed   bool
}

// Failure returns the failure as a StageFailure, or nil on success.
func (r Result) Failure() *domain.StageFailure {
	if r.Err == nil {
		return nil
	}
	return &domain.StageFailure{Stage: r.FailedStage, Post: r.FailedPost, Err: r.Err}
}

// Result returns the outcome of the request.
func (r *Request) Result() Result {
	return Result{
		Err:         r.state.Err,
		FailedStage: r.state.FailedStage,
		FailedPost:  r.state.FailedPost,
		Completed:   r.state.Completed,
	}
}

// CompleteRequest skips the remaining stages up to LogRequest once the
// current callback returns.
func (r *Request) CompleteRequest() { r.completeRequested = true }

// CompleteRequested reports whether CompleteRequest was called.
func (r *Request) CompleteRequested() bool { return r.completeRequested }

// Flush runs SendResponse immediately, writing buffered output to the
// Sink. It must be called from a callback or handler of this request.
func (r *Request) Flush() error {
	if r.exec == nil {
		return fmt.Errorf("%w: request is not executing", domain.ErrInvalidState)
	}
	return r.exec.flush()
}

// IsReEntry reports whether SendResponse is running because of Flush.
func (r *Request) IsReEntry() bool {
	return r.exec != nil && r.exec.reentry
}

// IsFirstSend reports whether the current SendResponse entry is the first
// one for this request.
func (r *Request) IsFirstSend() bool {
	return r.state.Stage == domain.StageSendResponse && r.state.Sends == 1
}
