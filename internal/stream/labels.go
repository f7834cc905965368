package stream

import "strconv"

// ColumnLabels splits text with the delimiter and truncates or pads the
// result to n labels. Missing labels are the column index.
func ColumnLabels(text string, d Delimiter, n int) []string {
	var labels []string
	if text != "" {
		labels = d.Split(text)
	}
	if len(labels) > n {
		labels = labels[:n]
	}
	for i := len(labels); i < n; i++ {
		labels = append(labels, strconv.Itoa(i))
	}
	return labels
}
