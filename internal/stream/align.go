package stream

// Align right-pads every row in the batch with Missing to the wider of
// width and the widest row in the batch, and returns that new width.
// An empty batch with width 0 yields no rows and width 0.
func Align(rows []Row, width int) ([]Row, int) {
	for _, r := range rows {
		if len(r) > width {
			width = len(r)
		}
	}
	if len(rows) == 0 {
		return nil, width
	}
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = pad(r, width)
	}
	return out, width
}

func pad(r Row, width int) Row {
	if len(r) >= width {
		return r
	}
	padded := make(Row, width)
	copy(padded, r)
	return padded
}

// Dataset is the rectangular, gap-filled accumulation of rows. Every stored
// row has exactly Width() cells.
type Dataset struct {
	rows  []Row
	width int
}

// Append aligns the batch against the running width and stores it. When the
// batch widens the dataset, all previously stored rows are padded first.
func (d *Dataset) Append(batch []Row) {
	aligned, width := Align(batch, d.width)
	if width > d.width {
		for i, r := range d.rows {
			d.rows[i] = pad(r, width)
		}
		d.width = width
	}
	d.rows = append(d.rows, aligned...)
}

func (d *Dataset) Len() int   { return len(d.rows) }
func (d *Dataset) Width() int { return d.width }

// Rows returns rows [from, Len()). The slice shares storage with the dataset.
func (d *Dataset) Rows(from int) []Row {
	if from >= len(d.rows) {
		return nil
	}
	if from < 0 {
		from = 0
	}
	return d.rows[from:]
}

// Reset empties the dataset and its width.
func (d *Dataset) Reset() {
	d.rows = nil
	d.width = 0
}
