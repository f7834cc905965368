package export

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shaunagostinho/serialdash/internal/stream"
)

const maxRowsPerFile = 100_000

// RecorderConfig holds continuous recording settings.
type RecorderConfig struct {
	Enabled bool
	Dir     string
	Prefix  string
	Delim   rune
}

// Recorder appends every row the store accumulates to rotating CSV files,
// independently of the plot window.
type Recorder struct {
	mu      sync.Mutex
	dir     string
	prefix  string
	delim   rune
	enabled bool
	now     func() time.Time

	file   *os.File
	writer *csv.Writer
	rows   int
	width  int
}

func NewRecorder(cfg RecorderConfig) *Recorder {
	if cfg.Dir == "" {
		cfg.Dir = "."
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "serialdash"
	}
	if cfg.Delim == 0 {
		cfg.Delim = ','
	}
	return &Recorder{
		dir:     cfg.Dir,
		prefix:  cfg.Prefix,
		delim:   cfg.Delim,
		enabled: cfg.Enabled,
		now:     time.Now,
	}
}

// SetEnabled toggles recording at runtime. Disabling closes the open file.
func (r *Recorder) SetEnabled(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = on
	if !on {
		r.closeFile()
	}
}

func (r *Recorder) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

// SetDelimiter applies to the next file opened.
func (r *Recorder) SetDelimiter(d rune) {
	r.mu.Lock()
	r.delim = d
	r.mu.Unlock()
}

// Record appends rows. A header of labels starts each file; a wider row
// than the current file was started with rotates to a new file so every
// file stays rectangular.
func (r *Recorder) Record(labels []string, rows []stream.Row) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.enabled || len(rows) == 0 {
		return
	}
	width := len(rows[len(rows)-1])
	if r.writer == nil || r.rows >= maxRowsPerFile || width != r.width {
		if err := r.rotateFile(labels, width); err != nil {
			log.Printf("[export] rotate failed: %v", err)
			return
		}
	}

	record := make([]string, 0, width)
	for _, row := range rows {
		record = record[:0]
		for i := 0; i < r.width; i++ {
			if i < len(row) {
				record = append(record, row[i].String())
			} else {
				record = append(record, "")
			}
		}
		if err := r.writer.Write(record); err != nil {
			log.Printf("[export] write failed: %v", err)
			return
		}
		r.rows++
	}
	r.writer.Flush()
}

// Close flushes and closes the current file.
func (r *Recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeFile()
}

func (r *Recorder) rotateFile(labels []string, width int) error {
	r.closeFile()

	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", r.dir, err)
	}
	name := FileName(r.prefix, "record", "", ".csv", r.now())
	path := filepath.Join(r.dir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	r.file = f
	r.writer = csv.NewWriter(f)
	r.writer.Comma = r.delim
	r.rows = 0
	r.width = width

	header := make([]string, width)
	for i := range header {
		if i < len(labels) {
			header[i] = labels[i]
		} else {
			header[i] = fmt.Sprintf("%d", i)
		}
	}
	if err := r.writer.Write(header); err != nil {
		return err
	}
	r.writer.Flush()

	log.Printf("[export] recording to %s", path)
	return nil
}

func (r *Recorder) closeFile() {
	if r.writer != nil {
		r.writer.Flush()
		r.writer = nil
	}
	if r.file != nil {
		r.file.Close()
		r.file = nil
	}
}
