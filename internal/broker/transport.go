package broker

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
)

// Transport is the server-to-client half of a subscriber connection. It is
// never read from. Implementations must tolerate Close being called more
// than once and writes after Close (which should fail, not panic).
type Transport interface {
	// WritePreamble sends the status line and streaming headers. Called
	// exactly once, before any frame.
	WritePreamble() error

	// WriteFrame writes one complete frame and flushes it to the client.
	WriteFrame(p []byte) error

	// Close ends the stream. Idempotent.
	Close() error
}

var errTransportClosed = errors.New("broker: transport closed")

// HTTPTransport adapts an http.ResponseWriter into a Transport. The owning
// handler must block on Done so the response stays open until the
// subscription is torn down.
type HTTPTransport struct {
	w       http.ResponseWriter
	flusher http.Flusher

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewHTTPTransport wraps a ResponseWriter for streaming. It fails when the
// writer cannot flush, since an unflushable response cannot carry a live
// event stream.
func NewHTTPTransport(w http.ResponseWriter) (*HTTPTransport, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("broker: response writer does not support flushing")
	}
	return &HTTPTransport{
		w:       w,
		flusher: flusher,
		done:    make(chan struct{}),
	}, nil
}

func (t *HTTPTransport) WritePreamble() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errTransportClosed
	}
	h := t.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no") // disable proxy buffering
	t.w.WriteHeader(http.StatusOK)
	t.flusher.Flush()
	return nil
}

func (t *HTTPTransport) WriteFrame(p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errTransportClosed
	}
	if _, err := t.w.Write(p); err != nil {
		return err
	}
	t.flusher.Flush()
	return nil
}

func (t *HTTPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.done)
	return nil
}

// Done unblocks when the transport has been closed by the registry. The
// subscribe handler waits on this (or on the request context) before
// returning.
func (t *HTTPTransport) Done() <-chan struct{} {
	return t.done
}
