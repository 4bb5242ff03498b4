package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/roomcast/internal/hub"
)

const maxClientFrame = 4096

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin policy is enforced by the CORS layer.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsFrame is the JSON envelope for one event on a WebSocket.
type wsFrame struct {
	ID   string          `json:"id,omitempty"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// WSSink streams hub events over a WebSocket. Pongs and any client frame
// count as activity.
type WSSink struct {
	conn   *websocket.Conn
	cfg    Config
	q      *queue
	logger *slog.Logger
}

// Upgrade switches the request to a WebSocket. On failure the upgrader has
// already written an HTTP error.
func Upgrade(w http.ResponseWriter, r *http.Request, cfg Config, logger *slog.Logger) (*WSSink, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &WSSink{
		conn:   conn,
		cfg:    cfg,
		q:      newQueue(cfg.BufferSize),
		logger: logger,
	}, nil
}

// Send queues ev for the writer loop.
func (s *WSSink) Send(ev hub.Event) error {
	return s.q.push(ev)
}

// Reject closes a connection that was upgraded but could not be subscribed.
// The reason is sent in a policy-violation close frame.
func (s *WSSink) Reject(reason string) error {
	s.q.close()
	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
		time.Now().Add(time.Second),
	)
	return s.conn.Close()
}

// Run pumps queued events and pings until ctx is done, stop is closed, the
// client goes away or a write fails. touch is called with the time of every
// pong or inbound frame. A client close is not an error.
func (s *WSSink) Run(ctx context.Context, stop <-chan struct{}, touch func(time.Time)) error {
	defer s.conn.Close()
	defer s.q.close()

	if touch == nil {
		touch = func(time.Time) {}
	}

	s.conn.SetReadLimit(maxClientFrame)
	s.conn.SetPongHandler(func(string) error {
		touch(time.Now())
		return nil
	})

	readErr := make(chan error, 1)
	go s.readLoop(touch, readErr)

	ticker := time.NewTicker(s.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.closeNormal("server shutting down")
			return nil
		case <-stop:
			s.closeNormal("")
			return nil
		case err := <-readErr:
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return nil
			}
			return err
		case ev := <-s.q.events:
			if err := s.writeEvent(ev); err != nil {
				s.logger.Debug("websocket write failed", "error", err)
				return err
			}
		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.logger.Debug("failed to send ping", "error", err)
				return err
			}
		}
	}
}

func (s *WSSink) writeEvent(ev hub.Event) error {
	data := json.RawMessage(ev.Data)
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return s.conn.WriteJSON(wsFrame{ID: ev.ID, Type: ev.Type, Data: data})
}

func (s *WSSink) closeNormal(reason string) {
	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
		time.Now().Add(time.Second),
	)
}

// readLoop drains client frames. Payloads are ignored.
func (s *WSSink) readLoop(touch func(time.Time), out chan<- error) {
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				s.logger.Debug("client frame too large")
			}
			out <- err
			return
		}
		touch(time.Now())
	}
}
