package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/roomcast/internal/hub"
	"github.com/rickgao/roomcast/internal/ids"
	"github.com/rickgao/roomcast/internal/room"
	"github.com/rickgao/roomcast/internal/store"
	"github.com/rickgao/roomcast/internal/version"
)

// History paging bounds.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

// Errors
var (
	// ErrInvalidMessage is returned when the sender or body is blank.
	ErrInvalidMessage = errors.New("name and message required")

	// ErrInvalidMember is returned when a leave or ping names nobody.
	ErrInvalidMember = errors.New("nickname or subscriber id required")
)

// Enqueuer accepts records for background persistence.
type Enqueuer interface {
	Enqueue(r store.Record) bool
}

// HistoryPage is one page of a room's history, oldest first.
type HistoryPage struct {
	Total    int64     `json:"total"`
	Offset   int       `json:"offset"`
	HasMore  bool      `json:"hasMore"`
	Messages []Message `json:"messages"`
}

// RoomStatus is the live subscriber count of one room.
type RoomStatus struct {
	Room        string `json:"room"`
	Subscribers int    `json:"subscribers"`
}

// Status summarizes the running service.
type Status struct {
	Online        int          `json:"online"`
	Rooms         []RoomStatus `json:"rooms"`
	TotalMessages int64        `json:"totalMessages"`
	Uptime        string       `json:"uptime"`
	StartTime     time.Time    `json:"startTime"`
	Build         version.Info `json:"build"`
}

// Service implements subscribe, publish, presence and history for rooms.
type Service struct {
	resolver  *room.Resolver
	hub       *hub.Hub
	store     store.Store
	persister Enqueuer
	logger    *slog.Logger

	startedAt time.Time
	published atomic.Int64
	now       func() time.Time
}

// New creates a Service. st and persister may be nil, in which case history
// is empty and messages are not persisted.
func New(resolver *room.Resolver, h *hub.Hub, st store.Store, persister Enqueuer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		resolver:  resolver,
		hub:       h,
		store:     st,
		persister: persister,
		logger:    logger,
		startedAt: time.Now(),
		now:       time.Now,
	}
}

type remoteAddrKey struct{}

// WithRemoteAddr attaches the client address reported for new subscribers.
func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, remoteAddrKey{}, addr)
}

func remoteAddr(ctx context.Context) string {
	addr, _ := ctx.Value(remoteAddrKey{}).(string)
	return addr
}

// Resolve validates a room key without side effects.
func (s *Service) Resolve(roomKey string) (room.PartitionID, error) {
	return s.resolver.Resolve(roomKey)
}

// Subscribe resolves roomKey and registers a subscriber backed by sink. The
// subscriber receives a "connected" info event, and the room a presence
// update. The nickname may be empty; such subscribers are not listed online.
func (s *Service) Subscribe(ctx context.Context, roomKey, nickname string, sink hub.Sink) (*hub.Subscriber, hub.Presence, error) {
	id, err := s.resolver.Resolve(roomKey)
	if err != nil {
		return nil, hub.Presence{}, err
	}

	nickname = SanitizeName(strings.TrimSpace(nickname))
	sub := hub.NewSubscriber(nickname, remoteAddr(ctx), sink)

	p, err := s.hub.Join(id, sub)
	if err != nil {
		return nil, hub.Presence{}, err
	}
	return sub, p, nil
}

// Unsubscribe removes sub after its connection ended.
func (s *Service) Unsubscribe(sub *hub.Subscriber, reason string) bool {
	id, ok := sub.Room()
	if !ok {
		return false
	}
	return s.hub.Drop(id, sub, reason)
}

// Publish sanitizes and broadcasts a message to the room, then queues it for
// persistence. Persistence failures never fail the publish.
func (s *Service) Publish(ctx context.Context, roomKey, sender, body string) (Message, error) {
	id, err := s.resolver.Resolve(roomKey)
	if err != nil {
		return Message{}, err
	}
	if strings.TrimSpace(sender) == "" || strings.TrimSpace(body) == "" {
		return Message{}, ErrInvalidMessage
	}

	now := s.now()
	msg := newMessage(ids.NewAt(now), SanitizeName(sender), SanitizeBody(body), now)

	data, err := json.Marshal(msg)
	if err != nil {
		return Message{}, fmt.Errorf("encode message: %w", err)
	}

	res := s.hub.Broadcaster.Broadcast(id, hub.Event{ID: msg.ID, Type: hub.EventMessage, Data: data})
	s.published.Add(1)

	if s.persister != nil {
		s.persister.Enqueue(store.Record{
			ID:     msg.ID,
			Room:   id,
			Sender: msg.Name,
			Body:   msg.Message,
			SentAt: now,
		})
	}

	s.logger.Debug("message published",
		"room", id,
		"id", msg.ID,
		"sender", msg.Name,
		"delivered", res.Delivered,
		"dropped", res.Dropped,
	)
	return msg, nil
}

// PresenceQuery returns the room's online users.
func (s *Service) PresenceQuery(roomKey string) (hub.Presence, error) {
	id, err := s.resolver.Resolve(roomKey)
	if err != nil {
		return hub.Presence{}, err
	}
	return s.hub.Presence.OnlineUsers(id), nil
}

// LivenessPing refreshes every subscriber of the room using nickname and
// returns how many matched. A blank nickname is refused.
func (s *Service) LivenessPing(roomKey, nickname string) (int, error) {
	id, err := s.resolver.Resolve(roomKey)
	if err != nil {
		return 0, err
	}
	name := SanitizeName(strings.TrimSpace(nickname))
	if name == "" {
		return 0, ErrInvalidMember
	}
	return s.hub.Monitor.Ping(id, name), nil
}

// PingSubscriber refreshes one subscriber by the id it received in its
// connected event. Anonymous viewers stay alive this way.
func (s *Service) PingSubscriber(roomKey, subscriberID string) (int, error) {
	id, err := s.resolver.Resolve(roomKey)
	if err != nil {
		return 0, err
	}
	sid, err := uuid.Parse(strings.TrimSpace(subscriberID))
	if err != nil {
		return 0, ErrInvalidMember
	}
	if !s.hub.Monitor.PingSubscriber(id, sid) {
		return 0, nil
	}
	return 1, nil
}

// Leave removes every subscriber of the room using nickname. A blank
// nickname is refused so anonymous viewers cannot be removed in bulk.
func (s *Service) Leave(roomKey, nickname string) (int, error) {
	id, err := s.resolver.Resolve(roomKey)
	if err != nil {
		return 0, err
	}
	name := SanitizeName(strings.TrimSpace(nickname))
	if name == "" {
		return 0, ErrInvalidMember
	}
	return s.hub.Monitor.Leave(id, name), nil
}

// History returns a page of stored messages counted back from the newest.
// limit 0 selects DefaultHistoryLimit; other values are clamped to
// [1, MaxHistoryLimit]. A negative offset is treated as 0.
func (s *Service) History(ctx context.Context, roomKey string, limit, offset int) (HistoryPage, error) {
	id, err := s.resolver.Resolve(roomKey)
	if err != nil {
		return HistoryPage{}, err
	}

	limit = clampLimit(limit)
	offset = max(offset, 0)
	page := HistoryPage{Offset: offset, Messages: []Message{}}
	if s.store == nil {
		return page, nil
	}

	records, err := s.store.Page(ctx, id, limit, offset)
	if err != nil {
		return HistoryPage{}, fmt.Errorf("load history: %w", err)
	}
	total, err := s.store.Count(ctx, id)
	if err != nil {
		return HistoryPage{}, fmt.Errorf("count history: %w", err)
	}

	page.Total = total
	page.Messages = toMessages(records)
	page.HasMore = int64(offset+len(records)) < total
	return page, nil
}

// HistorySince returns up to MaxHistoryLimit messages sent after t, oldest
// first. Clients use it to catch up after a reconnect.
func (s *Service) HistorySince(ctx context.Context, roomKey string, t time.Time) ([]Message, error) {
	id, err := s.resolver.Resolve(roomKey)
	if err != nil {
		return nil, err
	}
	if s.store == nil {
		return []Message{}, nil
	}

	records, err := s.store.Since(ctx, id, t, MaxHistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("load history since: %w", err)
	}
	return toMessages(records), nil
}

// Status reports live counts and uptime.
func (s *Service) Status() Status {
	stats := s.hub.Registry.Stats()
	rooms := make([]RoomStatus, 0, len(stats))
	online := 0
	for _, rs := range stats {
		rooms = append(rooms, RoomStatus{Room: string(rs.Room), Subscribers: rs.Subscribers})
		online += rs.Subscribers
	}

	return Status{
		Online:        online,
		Rooms:         rooms,
		TotalMessages: s.published.Load(),
		Uptime:        formatUptime(s.now().Sub(s.startedAt)),
		StartTime:     s.startedAt,
		Build:         version.Get(),
	}
}

// Published returns the number of messages published since start.
func (s *Service) Published() int64 {
	return s.published.Load()
}

func clampLimit(limit int) int {
	if limit == 0 {
		return DefaultHistoryLimit
	}
	return min(max(limit, 1), MaxHistoryLimit)
}

func toMessages(records []store.Record) []Message {
	out := make([]Message, 0, len(records))
	for _, r := range records {
		out = append(out, newMessage(r.ID, r.Sender, r.Body, r.SentAt))
	}
	return out
}

// formatUptime renders d as HH:MM:SS; hours may exceed 24.
func formatUptime(d time.Duration) string {
	d = d.Truncate(time.Second)
	h := int64(d / time.Hour)
	m := int64(d/time.Minute) % 60
	sec := int64(d/time.Second) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, sec)
}
