package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/roomcast/internal/room"
)

// MonitorConfig holds sweep timings. InactivityTimeout must comfortably
// exceed the interval at which healthy clients refresh their activity.
type MonitorConfig struct {
	SweepInterval     time.Duration
	InactivityTimeout time.Duration
}

// DefaultMonitorConfig returns default timings.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		SweepInterval:     30 * time.Second,
		InactivityTimeout: 90 * time.Second,
	}
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Rooms   int // rooms with at least one eviction
	Evicted int
}

// HealthMonitor evicts subscribers that stopped signalling activity. It
// catches idle peers that never hit a failed send.
type HealthMonitor struct {
	cfg      MonitorConfig
	registry *Registry
	presence *PresenceTracker
	observer Observer
	logger   *slog.Logger
	now      func() time.Time

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHealthMonitor creates a monitor. It does nothing until Start.
func NewHealthMonitor(cfg MonitorConfig, registry *Registry, presence *PresenceTracker, observer Observer, logger *slog.Logger) *HealthMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &HealthMonitor{
		cfg:      cfg,
		registry: registry,
		presence: presence,
		observer: observer,
		logger:   logger,
		now:      time.Now,
	}
}

// Start begins periodic sweeps.
func (m *HealthMonitor) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go m.sweepLoop()

	m.logger.Info("health monitor started",
		"sweep_interval", m.cfg.SweepInterval,
		"inactivity_timeout", m.cfg.InactivityTimeout,
	)
	return nil
}

// Stop halts sweeping and waits for an in-flight sweep to finish.
func (m *HealthMonitor) Stop(ctx context.Context) error {
	m.logger.Info("stopping health monitor")

	if m.cancel != nil {
		m.cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("health monitor stopped")
	case <-ctx.Done():
		m.logger.Warn("health monitor stop timed out")
	}
	return nil
}

// Sweep evicts every subscriber idle longer than the inactivity timeout and
// sends one presence update per affected room.
func (m *HealthMonitor) Sweep() SweepResult {
	now := m.now()
	var res SweepResult
	var dirty []room.PartitionID

	for _, id := range m.registry.Rooms() {
		evicted := 0
		for _, s := range m.registry.Snapshot(id) {
			idle := now.Sub(s.LastActive())
			if idle <= m.cfg.InactivityTimeout {
				continue
			}
			if m.registry.Unregister(id, s) {
				evicted++
				m.observer.SubscriberRemoved(id, ReasonEvicted)
				m.logger.Info("evicted inactive subscriber",
					"room", id,
					"subscriber", s.ID(),
					"nickname", s.Nickname(),
					"idle", idle,
				)
			}
		}
		if evicted > 0 {
			dirty = append(dirty, id)
			res.Evicted += evicted
		}
	}

	for _, id := range dirty {
		m.presence.NotifyChange(id)
	}
	res.Rooms = len(dirty)

	m.observer.Swept(res.Rooms, res.Evicted)
	return res
}

// Leave removes every member of the room with nickname and, if any were
// removed, sends a single presence update. Anonymous members are never
// matched; they leave by closing their stream.
func (m *HealthMonitor) Leave(id room.PartitionID, nickname string) int {
	if nickname == "" {
		return 0
	}
	removed := 0
	for _, s := range m.registry.Find(id, nickname) {
		if m.registry.Unregister(id, s) {
			removed++
			m.observer.SubscriberRemoved(id, ReasonLeft)
		}
	}
	if removed > 0 {
		m.logger.Info("subscribers left", "room", id, "nickname", nickname, "count", removed)
		m.presence.NotifyChange(id)
	}
	return removed
}

// Ping refreshes activity for every member of the room with nickname. An
// empty nickname matches nobody; see PingSubscriber.
func (m *HealthMonitor) Ping(id room.PartitionID, nickname string) int {
	if nickname == "" {
		return 0
	}
	now := m.now()
	subs := m.registry.Find(id, nickname)
	for _, s := range subs {
		s.Touch(now)
	}
	return len(subs)
}

// PingSubscriber refreshes activity for one member by id. It is the liveness
// handle for anonymous subscribers.
func (m *HealthMonitor) PingSubscriber(id room.PartitionID, sid uuid.UUID) bool {
	for _, s := range m.registry.Snapshot(id) {
		if s.ID() == sid {
			s.Touch(m.now())
			return true
		}
	}
	return false
}

// sweepLoop runs Sweep on every tick.
func (m *HealthMonitor) sweepLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			res := m.Sweep()
			if res.Evicted > 0 {
				m.logger.Debug("sweep finished", "rooms", res.Rooms, "evicted", res.Evicted)
			}
		}
	}
}
