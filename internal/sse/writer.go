// Package sse implements the low-level Server-Sent Events transport: header
// setup and individually framed event:/data: records with per-event flushing.
package sse

import (
	"context"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"
)

// ErrClientGone is returned once the client connection is no longer
// writable; further events are dropped instead of buffered.
var ErrClientGone = fmt.Errorf("sse: client connection closed")

// Writer frames events onto a streaming HTTP response.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
	ctx     context.Context
	closed  bool
}

// NewWriter wraps a response writer for SSE emission. It fails when the
// underlying writer cannot flush, since unflushed SSE is useless.
func NewWriter(w http.ResponseWriter, r *http.Request) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("sse: streaming not supported by response writer")
	}
	return &Writer{w: w, flusher: flusher, ctx: r.Context()}, nil
}

// WriteHeaders sets the streaming response headers and commits the status.
func (s *Writer) WriteHeaders() {
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.flusher.Flush()
}

// WriteEvent emits one framed event and flushes it. Once the client is gone
// every subsequent call returns ErrClientGone without writing.
func (s *Writer) WriteEvent(name, payload string) error {
	if s.closed {
		return ErrClientGone
	}
	select {
	case <-s.ctx.Done():
		s.closed = true
		log.Debug("sse: client disconnected, stopping emission")
		return ErrClientGone
	default:
	}

	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, payload); err != nil {
		s.closed = true
		return ErrClientGone
	}
	s.flusher.Flush()
	return nil
}
