package stream

import (
	"math"
	"strconv"
)

// Kind tags how a cell was parsed.
type Kind uint8

const (
	// Missing marks a token that failed numeric conversion or padding added
	// by alignment. It is the zero value so padded rows need no fill.
	Missing Kind = iota
	Int
	Float
)

// Cell is one numeric field of a row.
type Cell struct {
	Kind  Kind
	Int   int64
	Float float64
}

// Row is one parsed record. Widths may differ between rows until aligned.
type Row []Cell

// IntCell returns an integer cell.
func IntCell(v int64) Cell { return Cell{Kind: Int, Int: v} }

// FloatCell returns a floating cell. NaN and ±Inf collapse to Missing.
func FloatCell(v float64) Cell {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Cell{}
	}
	return Cell{Kind: Float, Float: v}
}

// IsMissing reports whether c is the missing-value marker.
func (c Cell) IsMissing() bool { return c.Kind == Missing }

// Value returns the cell as a float64, NaN when missing.
func (c Cell) Value() float64 {
	switch c.Kind {
	case Int:
		return float64(c.Int)
	case Float:
		return c.Float
	default:
		return math.NaN()
	}
}

// String formats the cell for delimited export. Missing cells are empty.
func (c Cell) String() string {
	switch c.Kind {
	case Int:
		return strconv.FormatInt(c.Int, 10)
	case Float:
		return strconv.FormatFloat(c.Float, 'g', -1, 64)
	default:
		return ""
	}
}
