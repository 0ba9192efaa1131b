package server

import (
	"net/http"

	"github.com/tjfontaine/reqpipe/internal/pipeline"
)

// ResponseSink writes a pipeline response to an http.ResponseWriter.
type ResponseSink struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

var _ pipeline.Sink = (*ResponseSink)(nil)

// NewResponseSink wraps w.
func NewResponseSink(w http.ResponseWriter) *ResponseSink {
	return &ResponseSink{w: w, rc: http.NewResponseController(w)}
}

// WriteHeader copies header onto the writer and sends the status line.
func (s *ResponseSink) WriteHeader(status int, header http.Header) error {
	dst := s.w.Header()
	for k, v := range header {
		dst[k] = append([]string(nil), v...)
	}
	s.w.WriteHeader(status)
	return nil
}

func (s *ResponseSink) Write(p []byte) (int, error) {
	return s.w.Write(p)
}

// Flush pushes written bytes to the client. Writers that cannot flush are
// left to buffer.
func (s *ResponseSink) Flush() error {
	if err := s.rc.Flush(); err != nil && err != http.ErrNotSupported {
		return err
	}
	return nil
}
