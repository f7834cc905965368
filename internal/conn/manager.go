package conn

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaunagostinho/serialdash/internal/device"
	"github.com/shaunagostinho/serialdash/internal/metrics"
)

// Sink receives every chunk the acquisition loop reads.
type Sink interface {
	Consume(chunk []byte)
}

// Options are the timing knobs of the manager.
type Options struct {
	AcquireDelay     time.Duration
	DiscoveryDelay   time.Duration
	Settle           time.Duration
	HandshakeTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		AcquireDelay:     10 * time.Millisecond,
		DiscoveryDelay:   time.Second,
		Settle:           time.Second,
		HandshakeTimeout: 2 * time.Second,
	}
}

// Manager owns the device handle and the two background loops. Connect,
// Disconnect, Acknowledge and Shutdown are serialised; Status and Send may be
// called at any time.
type Manager struct {
	opMu sync.Mutex

	dial    device.Dialer
	enum    device.Enumerator
	sink    Sink
	metrics *metrics.Collector
	opts    Options
	catalog *Catalog

	mu        sync.Mutex
	base      context.Context
	status    Status
	src       device.Source
	acquire   *Task
	discovery *Task
	onStatus  func(Status)
	onCatalog func([]device.PortInfo)
}

func NewManager(dial device.Dialer, enum device.Enumerator, sink Sink, m *metrics.Collector, opts Options) *Manager {
	if dial == nil {
		dial = device.Open
	}
	return &Manager{
		dial:    dial,
		enum:    enum,
		sink:    sink,
		metrics: m,
		opts:    opts,
		catalog: &Catalog{},
		base:    context.Background(),
	}
}

// OnStatus registers a callback fired after every state transition.
func (m *Manager) OnStatus(fn func(Status)) {
	m.mu.Lock()
	m.onStatus = fn
	m.mu.Unlock()
}

// OnCatalog registers a callback fired when the device catalog changes.
func (m *Manager) OnCatalog(fn func([]device.PortInfo)) {
	m.mu.Lock()
	m.onCatalog = fn
	m.mu.Unlock()
}

// Start begins device discovery. Loops started later derive from ctx.
func (m *Manager) Start(ctx context.Context) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	m.base = ctx
	m.mu.Unlock()
	m.metrics.Transition(int(Disconnected), Disconnected.String())
	m.startDiscovery()
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Manager) Catalog() *Catalog { return m.catalog }

// Connect opens port at baud and starts acquisition. An empty port selects
// the catalog's current selection. On failure the manager is left in Failed
// with no handle and no acquisition running.
func (m *Manager) Connect(port string, baud int) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if port == "" {
		port = m.catalog.Selected()
	}
	if port == "" {
		return ErrNoPort
	}

	m.mu.Lock()
	if m.status.State == Connected || m.status.State == Establishing {
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	discovery := m.discovery
	m.discovery = nil
	stale := m.src
	m.src = nil
	m.mu.Unlock()

	m.setStatus(Status{State: Establishing, Port: port, BaudRate: baud})
	discovery.Stop()
	if stale != nil {
		if err := stale.Close(); err != nil {
			log.Printf("[conn] closing stale handle: %v", err)
		}
	}

	src, err := m.establish(port, baud)
	if err != nil {
		m.mu.Lock()
		acquire := m.acquire
		m.acquire = nil
		m.mu.Unlock()
		acquire.Stop()

		log.Printf("[conn] %s: %v", port, err)
		m.setStatus(Status{State: Failed, Port: port, BaudRate: baud, Err: err.Error()})
		m.startDiscovery()
		return err
	}

	session := uuid.NewString()
	m.mu.Lock()
	m.src = src
	m.acquire = Go(m.base, func(ctx context.Context) { m.acquireLoop(ctx, src) })
	m.mu.Unlock()

	log.Printf("[conn] connected to %s at %d baud (session %s)", port, baud, session)
	m.setStatus(Status{State: Connected, Port: port, BaudRate: baud, Session: session})
	return nil
}

func (m *Manager) establish(port string, baud int) (device.Source, error) {
	src, err := m.dial(port, baud)
	if err != nil {
		return nil, fmt.Errorf("conn: open %s: %w", port, err)
	}
	if err := src.Handshake(m.opts.Settle, m.opts.HandshakeTimeout); err != nil {
		if cerr := src.Close(); cerr != nil {
			log.Printf("[conn] close after failed handshake: %v", cerr)
		}
		return nil, fmt.Errorf("conn: handshake %s: %w", port, err)
	}
	return src, nil
}

// Disconnect stops acquisition, closes the handle and resumes discovery.
func (m *Manager) Disconnect() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.status.State != Connected {
		m.mu.Unlock()
		return ErrNotConnected
	}
	prev := m.status
	acquire := m.acquire
	m.acquire = nil
	m.mu.Unlock()

	acquire.Stop()
	m.closeSource()

	log.Printf("[conn] disconnected from %s", prev.Port)
	m.setStatus(Status{State: Disconnected})
	m.startDiscovery()
	return nil
}

// Acknowledge clears a Failed state back to Disconnected.
func (m *Manager) Acknowledge() {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if m.Status().State == Failed {
		m.setStatus(Status{State: Disconnected})
	}
}

// Send writes raw bytes to the connected device.
func (m *Manager) Send(p []byte) (int, error) {
	m.mu.Lock()
	src := m.src
	m.mu.Unlock()
	if src == nil {
		return 0, ErrNotConnected
	}
	return src.Write(p)
}

// Shutdown stops both loops and releases the handle.
func (m *Manager) Shutdown() {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	acquire, discovery := m.acquire, m.discovery
	m.acquire, m.discovery = nil, nil
	m.mu.Unlock()

	acquire.Stop()
	discovery.Stop()
	m.closeSource()
	log.Printf("[conn] shut down")
}

func (m *Manager) closeSource() {
	m.mu.Lock()
	src := m.src
	m.src = nil
	m.mu.Unlock()
	if src == nil {
		return
	}
	if err := src.Close(); err != nil {
		log.Printf("[conn] close: %v", err)
	}
}

func (m *Manager) setStatus(st Status) {
	m.mu.Lock()
	m.status = st
	fn := m.onStatus
	m.mu.Unlock()

	m.metrics.Transition(int(st.State), st.State.String())
	if fn != nil {
		fn(st)
	}
}

func (m *Manager) startDiscovery() {
	if m.enum == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.discovery.Running() {
		return
	}
	m.discovery = Go(m.base, m.discoveryLoop)
}

// discoveryLoop re-enumerates devices every DiscoveryDelay and republishes
// the catalog only when the set of devices changed.
func (m *Manager) discoveryLoop(ctx context.Context) {
	ticker := time.NewTicker(positive(m.opts.DiscoveryDelay))
	defer ticker.Stop()

	for {
		m.discover()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Manager) discover() {
	ports, err := m.enum.Ports()
	if err != nil {
		log.Printf("[discovery] %v", err)
		return
	}
	if !m.catalog.Update(ports) {
		return
	}
	log.Printf("[discovery] %d device(s) available", len(ports))
	m.metrics.CatalogSize(len(ports))

	m.mu.Lock()
	fn := m.onCatalog
	m.mu.Unlock()
	if fn != nil {
		fn(m.catalog.Options())
	}
}

// acquireLoop drains src into the sink. It sleeps 80% of AcquireDelay per
// tick to keep up with bursty arrival. Read errors are counted and logged
// once per run of failures; the loop keeps going.
func (m *Manager) acquireLoop(ctx context.Context, src device.Source) {
	ticker := time.NewTicker(positive(m.opts.AcquireDelay * 4 / 5))
	defer ticker.Stop()

	failing := false
	for {
		chunk, err := src.ReadAvailable()
		if err != nil {
			m.metrics.ReadError()
			if !failing {
				log.Printf("[acquire] read error: %v", err)
			}
			failing = true
		} else if failing {
			log.Printf("[acquire] reads recovered")
			failing = false
		}
		if len(chunk) > 0 {
			m.sink.Consume(chunk)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func positive(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Millisecond
	}
	return d
}
