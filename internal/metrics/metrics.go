// Package metrics exposes Prometheus collectors for the acquisition pipeline
// and the connection lifecycle. A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "serialdash"

// Collector holds every metric the dashboard records.
type Collector struct {
	registry *prometheus.Registry

	bytesRead       prometheus.Counter
	rowsParsed      prometheus.Counter
	segmentsDropped prometheus.Counter
	readErrors      prometheus.Counter
	deliveries      prometheus.Counter
	transitions     *prometheus.CounterVec

	state       prometheus.Gauge
	catalogSize prometheus.Gauge
	clients     prometheus.Gauge
	datasetRows prometheus.Gauge
	datasetCols prometheus.Gauge
}

// New creates a Collector registered on its own registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		bytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "acquire",
			Name:      "bytes_read_total",
			Help:      "Total number of bytes read from the device",
		}),
		rowsParsed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "parser",
			Name:      "rows_total",
			Help:      "Total number of rows parsed",
		}),
		segmentsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "parser",
			Name:      "dropped_segments_total",
			Help:      "Total number of lines dropped because they could not be decoded",
		}),
		readErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "acquire",
			Name:      "read_errors_total",
			Help:      "Total number of failed device reads",
		}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "deliveries_total",
			Help:      "Total number of non-empty deltas delivered to the visualization sink",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conn",
			Name:      "transitions_total",
			Help:      "Connection state transitions by target state",
		}, []string{"state"}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "conn",
			Name:      "state",
			Help:      "Current connection state (0=disconnected 1=establishing 2=connected 3=failed)",
		}),
		catalogSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "devices",
			Help:      "Number of devices in the current catalog",
		}),
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "clients",
			Help:      "Number of connected WebSocket clients",
		}),
		datasetRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "rows",
			Help:      "Rows held in the aligned dataset",
		}),
		datasetCols: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "columns",
			Help:      "Width of the aligned dataset",
		}),
	}
	c.registry.MustRegister(
		c.bytesRead, c.rowsParsed, c.segmentsDropped, c.readErrors, c.deliveries,
		c.transitions, c.state, c.catalogSize, c.clients, c.datasetRows, c.datasetCols,
	)
	return c
}

// Registry returns the registry holding the collectors.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) BytesRead(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.bytesRead.Add(float64(n))
}

func (c *Collector) RowsParsed(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.rowsParsed.Add(float64(n))
}

func (c *Collector) SegmentsDropped(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.segmentsDropped.Add(float64(n))
}

func (c *Collector) ReadError() {
	if c == nil {
		return
	}
	c.readErrors.Inc()
}

func (c *Collector) Delivered() {
	if c == nil {
		return
	}
	c.deliveries.Inc()
}

// Transition records entry into a state with the given ordinal and name.
func (c *Collector) Transition(ordinal int, name string) {
	if c == nil {
		return
	}
	c.state.Set(float64(ordinal))
	c.transitions.WithLabelValues(name).Inc()
}

func (c *Collector) CatalogSize(n int) {
	if c == nil {
		return
	}
	c.catalogSize.Set(float64(n))
}

func (c *Collector) Clients(n int) {
	if c == nil {
		return
	}
	c.clients.Set(float64(n))
}

func (c *Collector) Dataset(rows, cols int) {
	if c == nil {
		return
	}
	c.datasetRows.Set(float64(rows))
	c.datasetCols.Set(float64(cols))
}
