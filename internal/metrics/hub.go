package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rickgao/roomcast/internal/room"
)

const namespace = "roomcast"

// HubMetrics counts hub events. It implements hub.Observer.
type HubMetrics struct {
	mu sync.Mutex

	subscribersAdded   *prometheus.CounterVec
	subscribersRemoved *prometheus.CounterVec
	broadcasts         *prometheus.CounterVec
	deliveries         *prometheus.CounterVec
	sweeps             prometheus.Counter
	evictions          prometheus.Counter

	registerer prometheus.Registerer
	registered bool
}

func newHubCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newHubCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "hub",
		Name:      name,
		Help:      help,
	})
}

// NewHubMetrics creates hub counters. A nil registerer means the default one.
func NewHubMetrics(registerer prometheus.Registerer) *HubMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &HubMetrics{
		registerer:         registerer,
		subscribersAdded:   newHubCounterVec("subscribers_added_total", "Subscribers registered in a room", []string{"room"}),
		subscribersRemoved: newHubCounterVec("subscribers_removed_total", "Subscribers removed from a room, by reason", []string{"room", "reason"}),
		broadcasts:         newHubCounterVec("broadcasts_total", "Events broadcast to a room", []string{"room"}),
		deliveries:         newHubCounterVec("deliveries_total", "Per-subscriber sends, by outcome", []string{"room", "outcome"}),
		sweeps:             newHubCounter("sweeps_total", "Health monitor sweeps run"),
		evictions:          newHubCounter("evictions_total", "Subscribers evicted for inactivity"),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (m *HubMetrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.subscribersAdded,
		m.subscribersRemoved,
		m.broadcasts,
		m.deliveries,
		m.sweeps,
		m.evictions,
	}
	if err := registerAll(m.registerer, collectors); err != nil {
		return err
	}

	m.registered = true
	return nil
}

// SubscriberAdded implements hub.Observer.
func (m *HubMetrics) SubscriberAdded(id room.PartitionID) {
	m.subscribersAdded.WithLabelValues(string(id)).Inc()
}

// SubscriberRemoved implements hub.Observer.
func (m *HubMetrics) SubscriberRemoved(id room.PartitionID, reason string) {
	m.subscribersRemoved.WithLabelValues(string(id), reason).Inc()
}

// Broadcasted implements hub.Observer.
func (m *HubMetrics) Broadcasted(id room.PartitionID, delivered, dropped int) {
	m.broadcasts.WithLabelValues(string(id)).Inc()
	m.deliveries.WithLabelValues(string(id), "delivered").Add(float64(delivered))
	m.deliveries.WithLabelValues(string(id), "dropped").Add(float64(dropped))
}

// Swept implements hub.Observer.
func (m *HubMetrics) Swept(_, evicted int) {
	m.sweeps.Inc()
	m.evictions.Add(float64(evicted))
}

// registerAll registers collectors, tolerating ones already registered.
func registerAll(reg prometheus.Registerer, collectors []prometheus.Collector) error {
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
