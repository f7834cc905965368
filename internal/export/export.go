// Package export writes the aligned dataset and the monitor text to disk.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/shaunagostinho/serialdash/internal/stream"
)

// ErrExists is returned instead of overwriting an existing file.
var ErrExists = errors.New("export: file already exists")

// FileName builds a default export name such as
// "serialdash_plot_2024-05-01_120000_1a2b3c4d.csv". The session suffix is
// omitted when empty.
func FileName(prefix, kind, session, ext string, now time.Time) string {
	name := fmt.Sprintf("%s_%s_%s", prefix, kind, now.Format("2006-01-02_150405"))
	if len(session) >= 8 {
		name += "_" + session[:8]
	} else if session != "" {
		name += "_" + session
	}
	return name + ext
}

// Dataset writes labels as a header row followed by rows, separated by
// delim. Missing cells are written as empty fields.
func Dataset(path string, labels []string, rows []stream.Row, delim rune) error {
	f, err := create(path)
	if err != nil {
		return err
	}

	w := csv.NewWriter(f)
	w.Comma = delim
	if len(labels) > 0 {
		if err := w.Write(labels); err != nil {
			f.Close()
			return fmt.Errorf("export: write header: %w", err)
		}
	}
	record := make([]string, 0, len(labels))
	for _, r := range rows {
		record = record[:0]
		for _, c := range r {
			record = append(record, c.String())
		}
		if err := w.Write(record); err != nil {
			f.Close()
			return fmt.Errorf("export: write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("export: flush %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("export: close %s: %w", path, err)
	}
	log.Printf("[export] wrote %d rows to %s", len(rows), path)
	return nil
}

// Text writes the raw monitor text verbatim.
func Text(path, text string) error {
	f, err := create(path)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(text); err != nil {
		f.Close()
		return fmt.Errorf("export: write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("export: close %s: %w", path, err)
	}
	log.Printf("[export] wrote %d bytes to %s", len(text), path)
	return nil
}

func create(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("export: mkdir %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if errors.Is(err, fs.ErrExist) {
		return nil, fmt.Errorf("%w: %s", ErrExists, path)
	}
	if err != nil {
		return nil, fmt.Errorf("export: create %s: %w", path, err)
	}
	return f, nil
}
