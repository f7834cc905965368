package device

import (
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"strconv"
	"sync"
	"time"
)

// DemoPort is the device name that selects the simulated source.
const DemoPort = "demo"

// DemoInterval is the simulated sample period.
const DemoInterval = 20 * time.Millisecond

const demoMaxTail = 8

var errDemoClosed = errors.New("demo: source closed")

// Demo simulates a board streaming "<ms>,<sin>,<cos>,<noise>" lines. Reads
// release whole samples for the elapsed time but hold back a random tail, so
// consumers see lines split across reads the way a real UART delivers them.
type Demo struct {
	mu      sync.Mutex
	now     func() time.Time
	rng     *rand.Rand
	start   time.Time
	samples int64
	pending []byte
	closed  bool
	written int
}

func NewDemo() *Demo {
	return newDemo(time.Now, rand.New(rand.NewSource(time.Now().UnixNano())))
}

func newDemo(now func() time.Time, rng *rand.Rand) *Demo {
	return &Demo{now: now, rng: rng, start: now()}
}

func (d *Demo) Handshake(settle, timeout time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errDemoClosed
	}
	d.start = d.now()
	d.samples = 0
	d.pending = nil
	log.Printf("[demo] handshake complete")
	return nil
}

func (d *Demo) ReadAvailable() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errDemoClosed
	}

	due := int64(d.now().Sub(d.start) / DemoInterval)
	for ; d.samples < due; d.samples++ {
		d.pending = d.appendSample(d.pending, d.samples)
	}

	tail := d.rng.Intn(demoMaxTail + 1)
	if tail > len(d.pending) {
		tail = len(d.pending)
	}
	n := len(d.pending) - tail
	out := append([]byte(nil), d.pending[:n]...)
	d.pending = append(d.pending[:0], d.pending[n:]...)
	return out, nil
}

func (d *Demo) appendSample(buf []byte, i int64) []byte {
	ms := i * int64(DemoInterval/time.Millisecond)
	phase := float64(ms) / 1000 * 2 * math.Pi * 0.5
	buf = strconv.AppendInt(buf, ms, 10)
	buf = append(buf, ',')
	buf = strconv.AppendFloat(buf, math.Sin(phase), 'f', 4, 64)
	buf = append(buf, ',')
	buf = strconv.AppendFloat(buf, math.Cos(phase), 'f', 4, 64)
	buf = append(buf, ',')
	buf = strconv.AppendFloat(buf, d.rng.NormFloat64()*0.1, 'f', 4, 64)
	return append(buf, '\n')
}

// Write accepts and discards input; the simulated board has no command set.
func (d *Demo) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, errDemoClosed
	}
	d.written += len(p)
	return len(p), nil
}

func (d *Demo) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.pending = nil
	return nil
}

func (d *Demo) String() string {
	return fmt.Sprintf("demo(%v)", DemoInterval)
}
