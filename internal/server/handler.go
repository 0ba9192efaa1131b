package server

import (
	"context"
	"net/http"

	"github.com/tjfontaine/reqpipe/internal/pipeline"
)

// ServeFunc drives one request through a pipeline application.
type ServeFunc func(ctx context.Context, req *pipeline.Request) (pipeline.Result, error)

// PipelineHandler adapts serve to net/http. Every HTTP request becomes one
// pipeline request whose response is written to the ResponseWriter.
func PipelineHandler(serve ServeFunc, handler pipeline.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sink := NewResponseSink(w)
		req := pipeline.NewRequest(r.Method, r.URL.Path, r.Header, sink)
		if id := GetRequestID(r.Context()); id != "" {
			req.ID = id
		}
		req.Body = r.Body
		req.Items[HTTPRequestKey] = r
		req.Handler = handler

		res, err := serve(r.Context(), req)
		if err != nil && !req.Response().HeadersWritten() && res.Err == nil {
			// Rejected before the pipeline ran.
			AddError(r.Context(), err)
			writeError(w, r, err)
			return
		}
		if f := res.Failure(); f != nil {
			AddLogField(r.Context(), "failed_stage", f.Stage.String())
			AddError(r.Context(), f.Err)
		}
	})
}

// HTTPRequestKey is the Request.Items key holding the originating
// *http.Request.
const HTTPRequestKey = "http.request"
