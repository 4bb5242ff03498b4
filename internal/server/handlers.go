package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/rickgao/roomcast/internal/chat"
	"github.com/rickgao/roomcast/internal/hub"
	"github.com/rickgao/roomcast/internal/stream"
)

type sendRequest struct {
	Room    string `json:"room"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

type sendResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	ID      string `json:"id"`
}

type memberRequest struct {
	Room     string `json:"room"`
	Nickname string `json:"nickname"`
	ID       string `json:"id"` // subscriber id; pings only
}

type memberResponse struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// handleEvents streams a room over Server-Sent Events until the client goes
// away or the subscriber is removed.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	sink, err := stream.NewSSESink(w, s.cfg.Stream, s.logger)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx := chat.WithRemoteAddr(r.Context(), clientIP(r))
	sub, _, err := s.svc.Subscribe(ctx, q.Get("room"), q.Get("nickname"), sink)
	if err != nil {
		writeError(w, err)
		return
	}

	err = sink.Run(r.Context(), sub.Done())
	s.svc.Unsubscribe(sub, hub.ReasonDisconnected)
	s.logger.Debug("event stream closed",
		"subscriber", sub.ID(),
		"written", sink.Written(),
		"error", err,
	)
}

// handleWebSocket streams a room over a WebSocket. Pongs and client frames
// refresh the subscriber's activity.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	roomKey := q.Get("room")

	// Refuse before upgrading so the client sees a plain HTTP status.
	if _, err := s.svc.Resolve(roomKey); err != nil {
		writeError(w, err)
		return
	}

	sink, err := stream.Upgrade(w, r, s.cfg.Stream, s.logger)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	ctx := chat.WithRemoteAddr(r.Context(), clientIP(r))
	sub, _, err := s.svc.Subscribe(ctx, roomKey, q.Get("nickname"), sink)
	if err != nil {
		sink.Reject(err.Error())
		return
	}

	err = sink.Run(r.Context(), sub.Done(), sub.Touch)
	s.svc.Unsubscribe(sub, hub.ReasonDisconnected)
	s.logger.Debug("websocket closed", "subscriber", sub.ID(), "error", err)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	msg, err := s.svc.Publish(r.Context(), req.Room, req.Name, req.Message)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sendResponse{Status: "ok", Message: "sent", ID: msg.ID})
}

func (s *Server) handleOnline(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.PresenceQuery(r.URL.Query().Get("room"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	var req memberRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	var (
		n   int
		err error
	)
	if req.ID != "" {
		n, err = s.svc.PingSubscriber(req.Room, req.ID)
	} else {
		n, err = s.svc.LivenessPing(req.Room, req.Nickname)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, memberResponse{Status: "ok", Count: n})
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	var req memberRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	n, err := s.svc.Leave(req.Room, req.Nickname)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, memberResponse{Status: "ok", Count: n})
}

// handleHistory serves a page counted back from the newest message, or with
// "since" every message after that time. Malformed numbers fall back to
// defaults.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	roomKey := q.Get("room")

	if raw := q.Get("since"); raw != "" {
		since, ok := parseSince(raw)
		if !ok {
			writeError(w, errBadRequest)
			return
		}
		msgs, err := s.svc.HistorySince(r.Context(), roomKey, since)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Messages []chat.Message `json:"messages"`
		}{msgs})
		return
	}

	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	page, err := s.svc.History(r.Context(), roomKey, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Status())
}

// handleHealth reports hub counts and runs every registered check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := struct {
		Status     string         `json:"status"`
		Components map[string]any `json:"components"`
	}{
		Status:     "healthy",
		Components: make(map[string]any),
	}

	health.Components["hub"] = map[string]int{
		"rooms":       len(s.hub.Registry.Rooms()),
		"subscribers": s.hub.Registry.Total(),
	}

	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components[name] = map[string]string{
				"status": "unavailable",
				"error":  err.Error(),
			}
			continue
		}
		health.Components[name] = "ok"
	}

	status := http.StatusOK
	if health.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

// parseSince accepts RFC 3339 or unix milliseconds.
func parseSince(raw string) (time.Time, bool) {
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms), true
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, true
	}
	return time.Time{}, false
}
