// Package testutil provides helpers shared by module and host tests.
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"

	"github.com/tjfontaine/reqpipe/internal/pipeline"
	"github.com/tjfontaine/reqpipe/internal/registry"
)

// Sink records what a request sends.
type Sink struct {
	mu           sync.Mutex
	Status       int
	Header       http.Header
	HeaderWrites int
	Body         bytes.Buffer
}

var _ pipeline.Sink = (*Sink)(nil)

func (s *Sink) WriteHeader(status int, header http.Header) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = status
	s.Header = header.Clone()
	s.HeaderWrites++
	return nil
}

func (s *Sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Body.Write(p)
}

// String returns the body written so far.
func (s *Sink) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Body.String()
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewApplication builds an application from modules in order. The
// application is disposed when the test ends.
func NewApplication(t *testing.T, opts []pipeline.Option, modules ...pipeline.Module) *pipeline.Application {
	t.Helper()
	reg := registry.New[pipeline.Module]()
	for i, m := range modules {
		if _, err := reg.Register(registry.Descriptor[pipeline.Module]{
			Type: fmt.Sprintf("test%d", i),
			New:  func() pipeline.Module { return m },
		}); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
	}
	opts = append([]pipeline.Option{pipeline.WithLogger(DiscardLogger())}, opts...)
	app, err := pipeline.NewApplication(reg.FreezeAndGet(), opts...)
	if err != nil {
		t.Fatalf("NewApplication() error = %v", err)
	}
	t.Cleanup(app.Dispose)
	return app
}

// Run executes a request against app and returns it with its sink.
func Run(t *testing.T, app *pipeline.Application, method, path string, header http.Header, h pipeline.Handler) (*pipeline.Request, *Sink, error) {
	t.Helper()
	sink := &Sink{}
	req := pipeline.NewRequest(method, path, header, sink)
	req.Handler = h
	err := app.ProcessRequest(context.Background(), req)
	return req, sink, err
}

// TextHandler writes body with status 200.
func TextHandler(body string) pipeline.Handler {
	return pipeline.HandlerFunc(func(req *pipeline.Request) error {
		req.Response().Header.Set("Content-Type", "text/plain")
		_, err := req.Response().WriteString(body)
		return err
	})
}
