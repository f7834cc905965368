package stream

import (
	"sort"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// DefaultRollover is the default number of retained points per column.
const DefaultRollover = 400

// Rollovers lists the legal retention bounds.
var Rollovers = []int{100, 200, 400, 800, 1600, 3200}

// Window retains the most recent rollover points of every column. When a
// column overflows, its oldest points are evicted first.
type Window struct {
	mu       sync.RWMutex
	rollover int
	series   map[int][]Point
	marker   *Point
}

// NewWindow creates a window with the given retention bound.
func NewWindow(rollover int) *Window {
	if rollover <= 0 {
		rollover = DefaultRollover
	}
	return &Window{rollover: rollover, series: make(map[int][]Point)}
}

// Append streams a delta into the window and trims each column.
func (w *Window) Append(d Delta) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, cd := range d.Columns {
		if len(cd.T) == 0 {
			continue
		}
		s := w.series[cd.Column]
		for i := range cd.T {
			s = append(s, Point{T: cd.T[i], Y: cd.Y[i]})
		}
		w.series[cd.Column] = w.trim(s)
	}
	w.updateMarker()
}

func (w *Window) trim(s []Point) []Point {
	if over := len(s) - w.rollover; over > 0 {
		kept := make([]Point, w.rollover)
		copy(kept, s[over:])
		return kept
	}
	return s
}

// updateMarker places the placeholder at the newest point of the lowest
// plotted column. Without data the previous marker stays put.
func (w *Window) updateMarker() {
	cols := w.columnsLocked()
	for _, c := range cols {
		s := w.series[c]
		if len(s) == 0 {
			continue
		}
		p := s[len(s)-1]
		w.marker = &p
		return
	}
}

func (w *Window) columnsLocked() []int {
	cols := make([]int, 0, len(w.series))
	for c := range w.series {
		cols = append(cols, c)
	}
	sort.Ints(cols)
	return cols
}

// Columns returns the column indices that have ever received points.
func (w *Window) Columns() []int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.columnsLocked()
}

// Series returns a copy of the retained points of column col.
func (w *Window) Series(col int) []Point {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]Point(nil), w.series[col]...)
}

// Marker returns the axis placeholder point, or (0,0) before any data.
func (w *Window) Marker() Point {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.marker == nil {
		return Point{}
	}
	return *w.marker
}

// SetRollover changes the bound and trims existing columns to it.
func (w *Window) SetRollover(n int) {
	if n <= 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rollover = n
	for c, s := range w.series {
		w.series[c] = w.trim(s)
	}
}

func (w *Window) Rollover() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.rollover
}

// Clear drops every retained point and the marker.
func (w *Window) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.series = make(map[int][]Point)
	w.marker = nil
}

// Stats summarises the retained values of one column.
type Stats struct {
	Column int     `json:"column"`
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stdDev"`
}

// Stats computes the summary of column col. ok is false when the column
// holds no points.
func (w *Window) Stats(col int) (Stats, bool) {
	w.mu.RLock()
	s := w.series[col]
	ys := make([]float64, len(s))
	for i, p := range s {
		ys[i] = p.Y
	}
	w.mu.RUnlock()

	if len(ys) == 0 {
		return Stats{Column: col}, false
	}
	mean, std := stat.MeanStdDev(ys, nil)
	if len(ys) == 1 {
		std = 0
	}
	return Stats{
		Column: col,
		Count:  len(ys),
		Min:    floats.Min(ys),
		Max:    floats.Max(ys),
		Mean:   mean,
		StdDev: std,
	}, true
}
