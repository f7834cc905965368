package stream

import "sync"

// DefaultMaxCols is the widest number of columns plotted.
const DefaultMaxCols = 10

// Point is one (timestamp, value) sample.
type Point struct {
	T float64 `json:"t"`
	Y float64 `json:"y"`
}

// ColumnDelta is the new samples of one data column.
type ColumnDelta struct {
	Column int       `json:"column"`
	T      []float64 `json:"t"`
	Y      []float64 `json:"y"`
}

// Delta is everything appended to the store since the previous drain.
type Delta struct {
	Columns  []ColumnDelta `json:"columns"`
	TimeMode bool          `json:"timeMode"`
	Unitless bool          `json:"unitless"`
	Rows     int           `json:"rows"`
}

// Empty reports whether the delta carries no points.
func (d Delta) Empty() bool {
	for _, c := range d.Columns {
		if len(c.T) > 0 {
			return false
		}
	}
	return true
}

// Store owns the aligned dataset of one connection session and the cursor
// of rows already delivered to the visualization sink.
type Store struct {
	mu      sync.Mutex
	data    Dataset
	cursor  int
	next    int
	timeCfg TimeConfig
	maxCols int
	last    map[int]Point
}

// NewStore creates an empty store.
func NewStore(cfg TimeConfig, maxCols int) *Store {
	if maxCols <= 0 {
		maxCols = DefaultMaxCols
	}
	return &Store{
		timeCfg: cfg,
		maxCols: maxCols,
		last:    make(map[int]Point),
	}
}

// Ingest aligns and appends rows atomically.
func (s *Store) Ingest(rows []Row) {
	if len(rows) == 0 {
		return
	}
	s.mu.Lock()
	s.data.Append(rows)
	s.mu.Unlock()
}

// DrainNew returns the per-column samples of rows appended since the last
// call and advances the cursor. Retention is the caller's concern.
func (s *Store) DrainNew() Delta {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.data.Rows(s.cursor)
	width := s.data.Width()
	s.cursor = s.data.Len()
	if len(rows) == 0 || width == 0 {
		return Delta{}
	}

	tb := Resolve(rows, width, s.timeCfg, s.next)
	s.next = tb.Next

	d := Delta{TimeMode: tb.TimeMode, Unitless: tb.Unitless, Rows: len(rows)}
	limit := width
	if s.maxCols < limit {
		limit = s.maxCols
	}
	for j := 0; j < limit; j++ {
		if tb.TimeMode && j == s.timeCfg.Column {
			continue
		}
		cd := ColumnDelta{Column: j, T: []float64{}, Y: []float64{}}
		for i, r := range rows {
			if !tb.Valid[i] || r[j].IsMissing() {
				continue
			}
			cd.T = append(cd.T, tb.T[i])
			cd.Y = append(cd.Y, r[j].Value())
		}
		if n := len(cd.T); n > 0 {
			s.last[j] = Point{T: cd.T[n-1], Y: cd.Y[n-1]}
		}
		d.Columns = append(d.Columns, cd)
	}
	return d
}

// LastPoint returns the most recent delivered point of column col.
func (s *Store) LastPoint(col int) (Point, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.last[col]
	return p, ok
}

// Clear empties the dataset and resets width, cursor and sample index.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Reset()
	s.cursor = 0
	s.next = 0
	s.last = make(map[int]Point)
}

// Snapshot copies the full aligned dataset.
func (s *Store) Snapshot() (rows []Row, width int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.data.Rows(0)
	rows = make([]Row, len(src))
	for i, r := range src {
		rows[i] = append(Row(nil), r...)
	}
	return rows, s.data.Width()
}

// RowsSince copies rows [from, Len()) and returns Len() for the next call.
// A from beyond Len() means the store was cleared; copying restarts at 0.
func (s *Store) RowsSince(from int) ([]Row, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.data.Len()
	if from > n {
		from = 0
	}
	src := s.data.Rows(from)
	rows := make([]Row, len(src))
	for i, r := range src {
		rows[i] = append(Row(nil), r...)
	}
	return rows, n
}

// Len returns the number of stored rows and the current width.
func (s *Store) Len() (rows, width int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Len(), s.data.Width()
}

func (s *Store) SetTimeConfig(cfg TimeConfig) {
	s.mu.Lock()
	s.timeCfg = cfg
	s.mu.Unlock()
}

func (s *Store) TimeConfig() TimeConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeCfg
}

func (s *Store) SetMaxCols(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	s.maxCols = n
	s.mu.Unlock()
}
