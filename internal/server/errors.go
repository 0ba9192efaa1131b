package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	cerrdefs "github.com/containerd/errdefs"

	"github.com/tjfontaine/reqpipe/internal/core/domain"
	"github.com/tjfontaine/reqpipe/internal/pipeline"
)

// StatusFor maps a pipeline failure to an HTTP status.
func StatusFor(err error) int {
	var denied *domain.DeniedError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &denied):
		if denied.Status >= 400 && denied.Status <= 599 {
			return denied.Status
		}
		return http.StatusForbidden
	case errors.Is(err, context.DeadlineExceeded), cerrdefs.IsDeadlineExceeded(err):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled), cerrdefs.IsCanceled(err):
		return 499
	case cerrdefs.IsInvalidArgument(err):
		return http.StatusBadRequest
	case cerrdefs.IsNotFound(err):
		return http.StatusNotFound
	case cerrdefs.IsPermissionDenied(err):
		return http.StatusForbidden
	case cerrdefs.IsUnauthorized(err):
		return http.StatusUnauthorized
	case cerrdefs.IsUnavailable(err), cerrdefs.IsFailedPrecondition(err):
		return http.StatusServiceUnavailable
	case cerrdefs.IsResourceExhausted(err):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// ErrorBody is the JSON body sent for failed requests.
type ErrorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id"`
}

// ErrorResponder shapes the response of failed requests. Denials expose
// their reason; other failures only their status text.
func ErrorResponder(logger *slog.Logger) pipeline.ErrorResponder {
	if logger == nil {
		logger = slog.Default()
	}
	return func(req *pipeline.Request, err error) {
		status := StatusFor(err)
		msg := http.StatusText(status)
		var denied *domain.DeniedError
		if errors.As(err, &denied) {
			msg = denied.Reason
		}
		if msg == "" {
			msg = "request failed"
		}

		resp := req.Response()
		resp.ClearContent()
		resp.Status = status
		resp.Header.Set("Content-Type", "application/json")
		if err := json.NewEncoder(resp).Encode(ErrorBody{Error: msg, RequestID: req.ID}); err != nil {
			logger.Error("failed to encode error response", slog.String("error", err.Error()))
		}
	}
}

// writeError answers a request that never reached the pipeline.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorBody{Error: err.Error(), RequestID: GetRequestID(r.Context())})
}
