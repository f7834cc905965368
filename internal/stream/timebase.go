package stream

import (
	"fmt"
	"strconv"
	"strings"
)

// TimeUnit is the unit of a designated time column.
type TimeUnit int

const (
	UnitNone TimeUnit = iota
	Microseconds
	Milliseconds
	Seconds
	Minutes
	Hours
)

var unitNames = []string{"none", "µs", "ms", "s", "min", "hr"}

// TimeUnits returns the legal unit names.
func TimeUnits() []string {
	return append([]string(nil), unitNames...)
}

// ParseTimeUnit accepts the names from TimeUnits plus "us" for microseconds.
func ParseTimeUnit(s string) (TimeUnit, error) {
	s = strings.TrimSpace(s)
	if s == "us" {
		return Microseconds, nil
	}
	for i, n := range unitNames {
		if strings.EqualFold(n, s) {
			return TimeUnit(i), nil
		}
	}
	return UnitNone, fmt.Errorf("stream: unknown time unit %q (allowed: %s)",
		s, strings.Join(unitNames, ", "))
}

func (u TimeUnit) String() string {
	if u < 0 || int(u) >= len(unitNames) {
		return "unknown"
	}
	return unitNames[u]
}

// scale converts a raw time value to seconds for µs/ms/s. Other units are
// left as-is.
func (u TimeUnit) scale(v float64) float64 {
	switch u {
	case Microseconds:
		return v / 1e6
	case Milliseconds:
		return v / 1e3
	default:
		return v
	}
}

// NoTimeColumn selects the synthetic sample index as time base.
const NoTimeColumn = -1

// TimeConfig designates the time column, if any, and its unit.
type TimeConfig struct {
	Column int
	Unit   TimeUnit
}

// ParseTimeColumn accepts "none" or a non-negative column index.
func ParseTimeColumn(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "none") {
		return NoTimeColumn, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return NoTimeColumn, fmt.Errorf("stream: time column %q must be \"none\" or a non-negative integer", s)
	}
	return n, nil
}

// HasColumn reports whether a time column is designated.
func (c TimeConfig) HasColumn() bool { return c.Column >= 0 }

// AxisLabel returns the x-axis caption for this configuration.
func (c TimeConfig) AxisLabel() string {
	switch {
	case !c.HasColumn():
		return "sample number"
	case c.Unit == Microseconds || c.Unit == Milliseconds || c.Unit == Seconds:
		return "time (s)"
	case c.Unit == UnitNone:
		return "time"
	default:
		return fmt.Sprintf("time (%s)", c.Unit)
	}
}

// Timebase is the per-row time axis of one delivery.
type Timebase struct {
	T []float64
	// Valid[i] is false when row i has an unreadable time cell; such rows
	// contribute to no series.
	Valid []bool
	// TimeMode is true when a designated in-range column supplied T.
	TimeMode bool
	// Unitless is true when T is raw column data with no scaling to seconds.
	Unitless bool
	// Next is the sample index to use for the following delivery.
	Next int
}

// Resolve derives one timestamp per row. With no time column, or one at or
// beyond width, rows get consecutive sample indices starting at next.
func Resolve(rows []Row, width int, cfg TimeConfig, next int) Timebase {
	tb := Timebase{
		T:     make([]float64, len(rows)),
		Valid: make([]bool, len(rows)),
		Next:  next,
	}
	if !cfg.HasColumn() || cfg.Column >= width {
		for i := range rows {
			tb.T[i] = float64(next + i)
			tb.Valid[i] = true
		}
		tb.Next = next + len(rows)
		return tb
	}

	tb.TimeMode = true
	tb.Unitless = cfg.Unit != Microseconds && cfg.Unit != Milliseconds && cfg.Unit != Seconds
	for i, r := range rows {
		if cfg.Column >= len(r) || r[cfg.Column].IsMissing() {
			continue
		}
		c := r[cfg.Column]
		tb.T[i] = cfg.Unit.scale(c.Value())
		tb.Valid[i] = true
	}
	return tb
}
