package pipeline

import (
	"io"
	"net/http"

	"github.com/tjfontaine/reqpipe/internal/bufpool"
)

// Sink receives the response when it is sent.
type Sink interface {
	WriteHeader(status int, header http.Header) error
	io.Writer
}

// Response buffers output in pooled byte buffers until SendResponse
// writes it to the Sink.
type Response struct {
	Status int
	Header http.Header

	sink Sink
	pool *bufpool.Pool[byte]

	chunks [][]byte
	used   int // bytes used in the last chunk

	headersWritten bool
	sent           int64
}

func newResponse(sink Sink) *Response {
	return &Response{
		Status: http.StatusOK,
		Header: make(http.Header),
		sink:   sink,
	}
}

// Write appends p to the buffered output.
func (r *Response) Write(p []byte) (int, error) {
	n := len(p)
	for len(p) > 0 {
		if len(r.chunks) == 0 || r.used == len(r.chunks[len(r.chunks)-1]) {
			r.chunks = append(r.chunks, r.acquire())
			r.used = 0
		}
		last := r.chunks[len(r.chunks)-1]
		c := copy(last[r.used:], p)
		r.used += c
		p = p[c:]
	}
	return n, nil
}

// WriteString appends s to the buffered output.
func (r *Response) WriteString(s string) (int, error) {
	return r.Write([]byte(s))
}

// Buffered returns the number of bytes waiting to be sent.
func (r *Response) Buffered() int {
	if len(r.chunks) == 0 {
		return 0
	}
	n := r.used
	for _, c := range r.chunks[:len(r.chunks)-1] {
		n += len(c)
	}
	return n
}

// ClearContent discards buffered output that has not been sent.
func (r *Response) ClearContent() {
	r.release()
}

// HeadersWritten reports whether the status and headers reached the Sink.
func (r *Response) HeadersWritten() bool { return r.headersWritten }

// BytesSent returns the number of body bytes written to the Sink.
func (r *Response) BytesSent() int64 { return r.sent }

func (r *Response) acquire() []byte {
	if r.pool != nil {
		return r.pool.Acquire()
	}
	return make([]byte, bufpool.DefaultBufferSize)
}

func (r *Response) release() {
	if r.pool != nil {
		for _, c := range r.chunks {
			r.pool.Release(c)
		}
	}
	clear(r.chunks)
	r.chunks = r.chunks[:0]
	r.used = 0
}

// send writes headers on the first call and then all buffered output.
func (r *Response) send() error {
	defer r.release()

	if r.sink == nil {
		r.headersWritten = true
		return nil
	}
	if !r.headersWritten {
		r.headersWritten = true
		if err := r.sink.WriteHeader(r.Status, r.Header); err != nil {
			return err
		}
	}
	for i, c := range r.chunks {
		if i == len(r.chunks)-1 {
			c = c[:r.used]
		}
		n, err := r.sink.Write(c)
		r.sent += int64(n)
		if err != nil {
			return err
		}
	}
	if f, ok := r.sink.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}
