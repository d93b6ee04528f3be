package bus

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	framesBroadcastTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "posedge_bus_frames_broadcast_total",
			Help: "Frames broadcast to connected message bus clients, by event type",
		},
		[]string{"event_type"},
	)

	framesDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "posedge_bus_frames_dropped_total",
			Help: "Frames dropped because a connection's outbound buffer was full",
		},
		[]string{"event_type"},
	)

	connectedClientsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "posedge_bus_connected_clients",
			Help: "Number of message bus clients currently connected",
		},
	)
)

func init() {
	prometheus.MustRegister(framesBroadcastTotal)
	prometheus.MustRegister(framesDroppedTotal)
	prometheus.MustRegister(connectedClientsGauge)
}

// Broker tracks every connection accepted by a Server and fans out
// Notification/Sync/TableSync/DataSync frames to all of them, the same
// drop-oldest-on-full policy used everywhere else frames cross a
// bounded channel in this codebase.
type Broker struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

// NewBroker returns an empty connection registry.
func NewBroker() *Broker {
	return &Broker{conns: make(map[string]*Conn)}
}

// Register adds a connection to the broadcast set.
func (b *Broker) Register(c *Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conns[c.ID] = c
	connectedClientsGauge.Set(float64(len(b.conns)))
}

// Unregister removes a connection from the broadcast set.
func (b *Broker) Unregister(c *Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conns, c.ID)
	connectedClientsGauge.Set(float64(len(b.conns)))
}

// Get returns the connection registered under id, if any.
func (b *Broker) Get(id string) (*Conn, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.conns[id]
	return c, ok
}

// Broadcast sends f to every registered connection.
func (b *Broker) Broadcast(f Frame) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	framesBroadcastTotal.WithLabelValues(f.Type.String()).Inc()
	for _, c := range b.conns {
		if dropped := c.Send(f); dropped {
			framesDroppedTotal.WithLabelValues(f.Type.String()).Inc()
		}
	}
}

// Count reports the number of currently registered connections.
func (b *Broker) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.conns)
}
