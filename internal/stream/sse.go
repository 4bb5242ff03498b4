package stream

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rickgao/roomcast/internal/hub"
)

// Lines starting with a colon are ignored by EventSource clients.
var keepaliveFrame = []byte(":keepalive\n\n")

// SSESink streams hub events as Server-Sent Events.
type SSESink struct {
	w      http.ResponseWriter
	rc     *http.ResponseController
	cfg    Config
	q      *queue
	logger *slog.Logger

	written atomic.Uint64
}

// NewSSESink wraps w. Nothing is written until Run.
func NewSSESink(w http.ResponseWriter, cfg Config, logger *slog.Logger) (*SSESink, error) {
	if _, ok := w.(http.Flusher); !ok {
		return nil, ErrNoFlush
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &SSESink{
		w:      w,
		rc:     http.NewResponseController(w),
		cfg:    cfg,
		q:      newQueue(cfg.BufferSize),
		logger: logger,
	}, nil
}

// Send queues ev for the writer loop.
func (s *SSESink) Send(ev hub.Event) error {
	return s.q.push(ev)
}

// Written returns the number of event frames written to the client.
func (s *SSESink) Written() uint64 { return s.written.Load() }

// Run writes the stream headers, then queued events and keepalive comments
// until ctx is done, stop is closed or a write fails. Only a write failure is
// returned as an error. Send fails with ErrClosed once Run has returned.
func (s *SSESink) Run(ctx context.Context, stop <-chan struct{}) error {
	defer s.q.close()

	SetSSEHeaders(s.w.Header())
	s.w.WriteHeader(http.StatusOK)
	if err := s.rc.Flush(); err != nil {
		return err
	}

	ticker := time.NewTicker(s.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-stop:
			return nil
		case ev := <-s.q.events:
			if err := s.write(FormatSSE(ev)); err != nil {
				s.logger.Debug("sse write failed", "error", err)
				return err
			}
			s.written.Add(1)
		case <-ticker.C:
			if err := s.write(keepaliveFrame); err != nil {
				s.logger.Debug("sse keepalive failed", "error", err)
				return err
			}
		}
	}
}

func (s *SSESink) write(frame []byte) error {
	// Recorders and some wrappers cannot set deadlines; write anyway.
	_ = s.rc.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if _, err := s.w.Write(frame); err != nil {
		return err
	}
	return s.rc.Flush()
}

// SetSSEHeaders sets the response headers for an event stream.
func SetSSEHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	h.Set("Connection", "keep-alive")
	// Disables proxy buffering (nginx).
	h.Set("X-Accel-Buffering", "no")
}

// FormatSSE encodes ev as one event-stream frame. Multi-line data is split
// into several data fields.
func FormatSSE(ev hub.Event) []byte {
	b := make([]byte, 0, len(ev.ID)+len(ev.Type)+len(ev.Data)+24)
	if ev.ID != "" {
		b = append(b, "id: "...)
		b = append(b, ev.ID...)
		b = append(b, '\n')
	}
	if ev.Type != "" {
		b = append(b, "event: "...)
		b = append(b, ev.Type...)
		b = append(b, '\n')
	}
	for _, line := range bytes.Split(ev.Data, []byte{'\n'}) {
		b = append(b, "data: "...)
		b = append(b, bytes.TrimSuffix(line, []byte{'\r'})...)
		b = append(b, '\n')
	}
	return append(b, '\n')
}
