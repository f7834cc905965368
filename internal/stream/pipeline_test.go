package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/serialdash/internal/metrics"
)

func newTestPipeline() *Pipeline {
	return NewPipeline(Comma, NewStore(TimeConfig{Column: NoTimeColumn}, 10), &Monitor{}, metrics.New())
}

func TestPipelinePlotAndMonitorAreIndependent(t *testing.T) {
	p := newTestPipeline()
	p.Consume([]byte("1,2\n"))
	rows, _ := p.Store().Len()
	assert.Zero(t, rows, "plotting off by default")
	assert.Empty(t, p.Monitor().Text())

	p.SetMonitoring(true)
	p.Consume([]byte("\xff garbage\n"))
	assert.Contains(t, p.Monitor().Text(), "garbage")
	rows, _ = p.Store().Len()
	assert.Zero(t, rows)

	p.SetPlotting(true)
	p.Consume([]byte("3,4\n5"))
	p.Consume([]byte(",6\n"))
	rows, width := p.Store().Len()
	assert.Equal(t, 2, rows)
	assert.Equal(t, 2, width)
	assert.Equal(t, "� garbage\n3,4\n5,6\n", p.Monitor().Text())
}

func TestPipelineDelimiterSwitch(t *testing.T) {
	p := newTestPipeline()
	p.SetPlotting(true)
	ws, err := ParseDelimiter("whitespace")
	require.NoError(t, err)
	p.SetDelimiter(ws)
	assert.Equal(t, "whitespace", p.Delimiter().Name())

	p.Consume([]byte("1 2 3\n"))
	_, width := p.Store().Len()
	assert.Equal(t, 3, width)
}

func TestPipelineStoppingPlotDropsPartialLine(t *testing.T) {
	p := newTestPipeline()
	p.SetPlotting(true)
	p.Consume([]byte("1,2"))
	p.SetPlotting(false)
	p.SetPlotting(true)
	p.Consume([]byte("3\n"))

	rows, _ := p.Store().Snapshot()
	require.Len(t, rows, 1)
	assert.Equal(t, ints(3), rows[0])
}

func TestMonitorDrainAndSplice(t *testing.T) {
	var m Monitor
	m.Append([]byte("a<b"))
	assert.Equal(t, "a<b", m.Drain())
	assert.Empty(t, m.Drain())
	m.Append([]byte("c"))
	assert.Equal(t, "c", m.Drain())

	doc := "<div><pre>x" + MonitorTrailer
	assert.Equal(t, "<div><pre>xa&lt;b"+MonitorTrailer, SpliceHTML(doc, "a<b"))

	m.Clear()
	assert.Empty(t, m.Text())
	assert.Empty(t, m.Drain())
}

func TestMonitorJoinsSplitRune(t *testing.T) {
	var m Monitor
	m.Append([]byte("t=5\xc2"))
	assert.Equal(t, "t=5", m.Drain(), "partial rune held back")
	m.Append([]byte("\xb5s\n"))
	assert.Equal(t, "µs\n", m.Drain())
	assert.Equal(t, "t=5µs\n", m.Text())

	m.Append([]byte("\xff\xb5x"))
	assert.Equal(t, "\uFFFDx", m.Drain(), "bytes no rune can finish are replaced")

	m.Append([]byte("\xe2\x82"))
	m.Clear()
	m.Append([]byte("ok"))
	assert.Equal(t, "ok", m.Text(), "clear drops the held bytes")
}

func TestColumnLabels(t *testing.T) {
	assert.Equal(t, []string{"0", "1", "2"}, ColumnLabels("", Comma, 3))
	assert.Equal(t, []string{"a", "b", "2"}, ColumnLabels("a,b", Comma, 3))
	assert.Equal(t, []string{"a"}, ColumnLabels("a,b,c", Comma, 1))
}
