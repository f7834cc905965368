package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlignPadsToWidestRow(t *testing.T) {
	rows, _ := Parse([]byte("1,2,3\n4,5\n"), nil, Comma)
	aligned, width := Align(rows, 0)

	assert.Equal(t, 3, width)
	require.Len(t, aligned, 2)
	assert.Len(t, aligned[0], 3)
	assert.Len(t, aligned[1], 3)
	assert.True(t, aligned[1][2].IsMissing())
}

func TestAlignKeepsRunningWidth(t *testing.T) {
	aligned, width := Align([]Row{ints(1)}, 4)
	assert.Equal(t, 4, width)
	assert.Equal(t, Row{IntCell(1), {}, {}, {}}, aligned[0])
}

func TestAlignEmptyBatch(t *testing.T) {
	aligned, width := Align(nil, 0)
	assert.Empty(t, aligned)
	assert.Zero(t, width)

	aligned, width = Align(nil, 3)
	assert.Empty(t, aligned)
	assert.Equal(t, 3, width)
}

func TestDatasetWidensRetroactively(t *testing.T) {
	var d Dataset
	d.Append([]Row{ints(1, 2), ints(3)})
	require.Equal(t, 2, d.Width())

	d.Append([]Row{ints(4, 5, 6, 7)})
	assert.Equal(t, 4, d.Width())
	for i, r := range d.Rows(0) {
		assert.Len(t, r, 4, "row %d", i)
	}
	assert.Equal(t, Row{IntCell(1), IntCell(2), {}, {}}, d.Rows(0)[0])
}

func TestDatasetNarrowBatchDoesNotChangeWidth(t *testing.T) {
	var d Dataset
	d.Append([]Row{ints(1, 2, 3)})
	before := append(Row(nil), d.Rows(0)[0]...)

	d.Append([]Row{ints(4), ints(5, 6)})
	assert.Equal(t, 3, d.Width())
	assert.Equal(t, before, d.Rows(0)[0])
	assert.Equal(t, 3, d.Len())
}

func TestDatasetNeverTruncates(t *testing.T) {
	var d Dataset
	widths := []int{2, 5, 1, 3, 7, 2}
	maxSeen := 0
	for _, w := range widths {
		r := make(Row, w)
		for i := range r {
			r[i] = IntCell(int64(i))
		}
		d.Append([]Row{r})
		if w > maxSeen {
			maxSeen = w
		}
		for _, stored := range d.Rows(0) {
			require.Len(t, stored, maxSeen)
		}
	}
}

func TestDatasetRowsFrom(t *testing.T) {
	var d Dataset
	d.Append([]Row{ints(1), ints(2), ints(3)})
	assert.Len(t, d.Rows(1), 2)
	assert.Nil(t, d.Rows(3))
	d.Reset()
	assert.Zero(t, d.Len())
	assert.Zero(t, d.Width())
}
