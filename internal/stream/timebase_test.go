package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveSampleIndex(t *testing.T) {
	rows := []Row{ints(1), ints(2), ints(3)}
	tb := Resolve(rows, 1, TimeConfig{Column: NoTimeColumn}, 5)

	assert.False(t, tb.TimeMode)
	assert.Equal(t, []float64{5, 6, 7}, tb.T)
	assert.Equal(t, []bool{true, true, true}, tb.Valid)
	assert.Equal(t, 8, tb.Next)
}

func TestResolveOutOfRangeColumnFallsBack(t *testing.T) {
	rows := []Row{ints(1, 2)}
	tb := Resolve(rows, 2, TimeConfig{Column: 2, Unit: Milliseconds}, 0)

	assert.False(t, tb.TimeMode)
	assert.Equal(t, []float64{0}, tb.T)
	assert.Equal(t, 1, tb.Next)
}

func TestResolveUnitScaling(t *testing.T) {
	cases := []struct {
		unit     TimeUnit
		want     float64
		unitless bool
	}{
		{Microseconds, 0.002, false},
		{Milliseconds, 2, false},
		{Seconds, 2000, false},
		{Minutes, 2000, true},
		{Hours, 2000, true},
		{UnitNone, 2000, true},
	}
	for _, tc := range cases {
		t.Run(tc.unit.String(), func(t *testing.T) {
			tb := Resolve([]Row{ints(2000, 7)}, 2, TimeConfig{Column: 0, Unit: tc.unit}, 0)
			assert.True(t, tb.TimeMode)
			assert.InDelta(t, tc.want, tb.T[0], 1e-12)
			assert.Equal(t, tc.unitless, tb.Unitless)
			assert.Zero(t, tb.Next, "sample index untouched in time mode")
		})
	}
}

func TestResolveMissingTimeCell(t *testing.T) {
	rows := []Row{{Cell{}, IntCell(1)}, ints(10, 2)}
	tb := Resolve(rows, 2, TimeConfig{Column: 0, Unit: Seconds}, 0)
	assert.Equal(t, []bool{false, true}, tb.Valid)
	assert.Equal(t, 10.0, tb.T[1])
}

func TestParseTimeUnitAndColumn(t *testing.T) {
	u, err := ParseTimeUnit("µs")
	require.NoError(t, err)
	assert.Equal(t, Microseconds, u)

	u, err = ParseTimeUnit("us")
	require.NoError(t, err)
	assert.Equal(t, Microseconds, u)

	_, err = ParseTimeUnit("days")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "min")

	c, err := ParseTimeColumn("none")
	require.NoError(t, err)
	assert.Equal(t, NoTimeColumn, c)

	c, err = ParseTimeColumn("3")
	require.NoError(t, err)
	assert.Equal(t, 3, c)

	_, err = ParseTimeColumn("-1")
	assert.Error(t, err)
}

func TestAxisLabel(t *testing.T) {
	assert.Equal(t, "sample number", TimeConfig{Column: NoTimeColumn}.AxisLabel())
	assert.Equal(t, "time (s)", TimeConfig{Column: 0, Unit: Milliseconds}.AxisLabel())
	assert.Equal(t, "time", TimeConfig{Column: 0, Unit: UnitNone}.AxisLabel())
	assert.Equal(t, "time (min)", TimeConfig{Column: 0, Unit: Minutes}.AxisLabel())
}
