// Package pipeline drives a request through the ordered stages of the
// request lifecycle.
//
// # Architecture
//
// An Application is built once from the frozen extension registry. Every
// registered Module is instantiated and its Init method subscribes
// callbacks to stages through Events. Each stage has a main phase and a
// post phase (SendResponse has only a main phase):
//
//	BeginRequest, AuthenticateRequest, AuthorizeRequest,
//	ResolveRequestCache, MapRequestHandler, AcquireRequestState,
//	PreExecuteRequestHandler, ExecuteRequestHandler, ReleaseRequestState,
//	UpdateRequestCache, LogRequest, EndRequest, SendResponse
//
// Within a phase, callbacks run in module registration order and then in
// subscription order. The request's Handler runs at the end of the
// ExecuteRequestHandler main phase, and the buffered response is written to
// the Sink at the end of SendResponse.
//
// # Suspension
//
// Asynchronous callbacks go through the async Bridge. When one does not
// finish synchronously the walk returns to its caller and resumes at the
// next callback on the goroutine that observes completion. A request is
// never executed by two goroutines at once.
//
// # Failure and early completion
//
// A callback error, or a call to Request.CompleteRequest, ends the normal
// sequence: the walk jumps to LogRequest and then runs EndRequest and
// SendResponse. Failures in those stages are recorded but do not stop
// them. The first failure is reported unmodified by EndProcessRequest.
//
// # Flushing
//
// Request.Flush enters SendResponse out of band. It may be called any
// number of times; response headers reach the Sink only on the first send.
package pipeline
