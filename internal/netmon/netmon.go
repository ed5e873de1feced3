package netmon

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/matheus3301/hybridmind/internal/bus"
	"go.uber.org/zap"
)

// Prober reports whether a working network path currently exists.
type Prober interface {
	Probe(ctx context.Context) bool
}

// DialProber probes by opening a TCP connection with a short timeout.
type DialProber struct {
	Addr    string
	Timeout time.Duration
}

// Probe implements Prober.
func (p DialProber) Probe(ctx context.Context) bool {
	timeout := p.Timeout
	if timeout == 0 {
		timeout = 3 * time.Second
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", p.Addr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Monitor keeps a continuously refreshed online/offline signal. Subscribers
// get the latest value only: intermediate transitions may be conflated away
// when a consumer is slow, but the eventual state is always correct.
type Monitor struct {
	prober   Prober
	interval time.Duration
	bus      *bus.Bus
	logger   *zap.Logger

	mu     sync.Mutex
	online bool
	subs   map[int]chan bool
	next   int

	cancel context.CancelFunc
}

// New creates a monitor and performs one synchronous probe, so Online and
// Subscribe have a valid value before Start is ever called.
func New(prober Prober, interval time.Duration, b *bus.Bus, logger *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	m := &Monitor{
		prober:   prober,
		interval: interval,
		bus:      b,
		logger:   logger,
		subs:     make(map[int]chan bool),
	}
	m.online = prober.Probe(context.Background())
	return m
}

// Start begins the periodic probe loop.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	go m.loop(ctx)
}

// Stop stops the probe loop. Subscriptions stay attached and simply stop
// receiving updates.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

// Online returns the most recently observed connectivity state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe attaches to the live signal. The returned channel is seeded
// synchronously with the current value so consumers never block waiting for
// a first event, and holds at most one pending value (latest wins).
func (m *Monitor) Subscribe() (<-chan bool, func()) {
	ch := make(chan bool, 1)
	m.mu.Lock()
	id := m.next
	m.next++
	m.subs[id] = ch
	ch <- m.online
	m.mu.Unlock()

	return ch, func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

func (m *Monitor) loop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.setOnline(m.prober.Probe(ctx))
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) setOnline(v bool) {
	m.mu.Lock()
	changed := m.online != v
	m.online = v
	if changed {
		for _, ch := range m.subs {
			conflate(ch, v)
		}
	}
	m.mu.Unlock()

	if !changed {
		return
	}
	kind := "net.offline"
	if v {
		kind = "net.online"
	}
	if m.logger != nil {
		m.logger.Info("connectivity changed", zap.Bool("online", v))
	}
	if m.bus != nil {
		m.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: v})
	}
}

// conflate replaces any stale pending value with the newest one.
func conflate(ch chan bool, v bool) {
	for {
		select {
		case ch <- v:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}
