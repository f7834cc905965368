package export

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/serialdash/internal/stream"
)

func TestDatasetWritesHeaderAndMissingCells(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "plot.csv")
	rows := []stream.Row{
		{stream.IntCell(1), stream.FloatCell(2.5), stream.IntCell(3)},
		{stream.IntCell(4), stream.FloatCell(5), {}},
	}
	require.NoError(t, Dataset(path, []string{"t", "a", "b"}, rows, ';'))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "t;a;b\n1;2.5;3\n4;5;\n", string(data))
}

func TestDatasetRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plot.csv")
	require.NoError(t, os.WriteFile(path, []byte("keep"), 0644))

	err := Dataset(path, nil, nil, ',')
	assert.ErrorIs(t, err, ErrExists)
	err = Text(path, "new")
	assert.ErrorIs(t, err, ErrExists)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "keep", string(data))
}

func TestText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitor.txt")
	require.NoError(t, Text(path, "hello\nworld\n"))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld\n", string(data))
}

func TestFileName(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "serialdash_plot_2024-05-01_120000_1a2b3c4d.csv",
		FileName("serialdash", "plot", "1a2b3c4d-aaaa-bbbb", ".csv", at))
	assert.Equal(t, "x_monitor_2024-05-01_120000.txt", FileName("x", "monitor", "", ".txt", at))
}

func TestRecorderRotatesOnWidthChange(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder(RecorderConfig{Enabled: true, Dir: dir})
	tick := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}

	r.Record([]string{"a"}, []stream.Row{{stream.IntCell(1)}, {stream.IntCell(2)}})
	r.Record([]string{"a", "b"}, []stream.Row{{stream.IntCell(3), stream.IntCell(4)}})
	r.Close()

	files, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	require.NoError(t, err)
	require.Len(t, files, 2)

	first, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Equal(t, "a\n1\n2\n", string(first))
	second, err := os.ReadFile(files[1])
	require.NoError(t, err)
	assert.Equal(t, "a,b\n3,4\n", string(second))
}

func TestRecorderDisabled(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder(RecorderConfig{Dir: dir})
	r.Record(nil, []stream.Row{{stream.IntCell(1)}})
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	r.SetEnabled(true)
	assert.True(t, r.Enabled())
	r.Record(nil, []stream.Row{{stream.IntCell(1)}})
	r.SetEnabled(false)
	entries, err = os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "serialdash_record_"))
}
