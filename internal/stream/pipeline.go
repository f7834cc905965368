package stream

import (
	"sync"

	"github.com/shaunagostinho/serialdash/internal/metrics"
)

// Pipeline is the acquisition sink: each chunk read from the device is
// parsed, aligned and stored, and separately captured as raw text.
type Pipeline struct {
	mu      sync.Mutex
	parser  *Parser
	store   *Store
	monitor *Monitor
	metrics *metrics.Collector

	plotting   bool
	monitoring bool
}

// NewPipeline wires a parser in front of store and monitor.
func NewPipeline(d Delimiter, store *Store, monitor *Monitor, m *metrics.Collector) *Pipeline {
	return &Pipeline{
		parser:  NewParser(d),
		store:   store,
		monitor: monitor,
		metrics: m,
	}
}

// Consume handles one chunk. Parsing never fails: malformed tokens become
// Missing and undecodable lines are dropped and counted.
func (p *Pipeline) Consume(chunk []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.metrics.BytesRead(len(chunk))

	if p.plotting {
		before := p.parser.Stats()
		rows := p.parser.Feed(chunk)
		after := p.parser.Stats()
		p.metrics.RowsParsed(len(rows))
		p.metrics.SegmentsDropped(int(after.Dropped - before.Dropped))
		p.store.Ingest(rows)
	}
	if p.monitoring {
		p.monitor.Append(chunk)
	}
}

// Reset drops any partial line carried from a previous session.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	p.parser.Reset()
	p.mu.Unlock()
}

func (p *Pipeline) SetDelimiter(d Delimiter) {
	p.mu.Lock()
	p.parser.SetDelimiter(d)
	p.mu.Unlock()
}

func (p *Pipeline) Delimiter() Delimiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.parser.Delimiter()
}

// SetPlotting toggles the structured pipeline. Turning it off discards the
// carried partial line so a later restart begins on a fresh line.
func (p *Pipeline) SetPlotting(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !on {
		p.parser.Reset()
	}
	p.plotting = on
}

func (p *Pipeline) SetMonitoring(on bool) {
	p.mu.Lock()
	p.monitoring = on
	p.mu.Unlock()
}

func (p *Pipeline) Plotting() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.plotting
}

func (p *Pipeline) Monitoring() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.monitoring
}

func (p *Pipeline) Store() *Store     { return p.store }
func (p *Pipeline) Monitor() *Monitor { return p.monitor }
