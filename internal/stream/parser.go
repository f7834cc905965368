package stream

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Delimiter separates the fields of one line. An empty sep selects
// whitespace-run splitting, which discards empty tokens.
type Delimiter struct {
	name string
	sep  string
}

var delimiters = []Delimiter{
	{"comma", ","},
	{"space", " "},
	{"tab", "\t"},
	{"whitespace", ""},
	{"vertical line", "|"},
	{"semicolon", ";"},
	{"asterisk", "*"},
	{"slash", "/"},
}

// Comma is the default delimiter.
var Comma = delimiters[0]

// Delimiters returns the legal delimiter names in display order.
func Delimiters() []string {
	names := make([]string, len(delimiters))
	for i, d := range delimiters {
		names[i] = d.name
	}
	return names
}

// ParseDelimiter looks up a delimiter by name.
func ParseDelimiter(name string) (Delimiter, error) {
	for _, d := range delimiters {
		if d.name == name {
			return d, nil
		}
	}
	return Delimiter{}, fmt.Errorf("stream: unknown delimiter %q (allowed: %s)",
		name, strings.Join(Delimiters(), ", "))
}

func (d Delimiter) Name() string { return d.name }

// Rune returns the separator used when writing delimited text.
// Whitespace mode writes a single space.
func (d Delimiter) Rune() rune {
	if d.sep == "" {
		return ' '
	}
	r, _ := utf8.DecodeRuneInString(d.sep)
	return r
}

// Split splits one line into raw tokens.
func (d Delimiter) Split(line string) []string {
	if d.sep == "" {
		return strings.Fields(line)
	}
	return strings.Split(line, d.sep)
}

// Parse decodes remainder+chunk into complete rows. The text after the last
// line-feed is returned unconsumed as the new remainder; it is empty when the
// input ended exactly on a terminator. Segments that are not valid UTF-8 are
// dropped without affecting the rest of the batch.
func Parse(chunk, remainder []byte, d Delimiter) (rows []Row, rest []byte) {
	rows, rest, _ = parse(chunk, remainder, d)
	return rows, rest
}

func parse(chunk, remainder []byte, d Delimiter) (rows []Row, rest []byte, dropped int) {
	buf := make([]byte, 0, len(remainder)+len(chunk))
	buf = append(buf, remainder...)
	buf = append(buf, chunk...)

	segments := bytes.Split(buf, []byte{'\n'})
	last := segments[len(segments)-1]

	for _, seg := range segments[:len(segments)-1] {
		if !utf8.Valid(seg) {
			dropped++
			continue
		}
		rows = append(rows, parseLine(string(seg), d))
	}

	if len(last) == 0 {
		return rows, nil, dropped
	}
	return rows, bytes.Clone(last), dropped
}

func parseLine(line string, d Delimiter) Row {
	tokens := d.Split(line)
	row := make(Row, 0, len(tokens))
	for _, tok := range tokens {
		row = append(row, parseToken(tok))
	}
	return row
}

// parseToken never fails: anything that is not numeric becomes Missing.
func parseToken(tok string) Cell {
	tok = strings.TrimSpace(tok)
	if isDecimal(tok) {
		if v, err := strconv.ParseInt(tok, 10, 64); err == nil {
			return IntCell(v)
		}
	}
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return Cell{}
	}
	return FloatCell(v)
}

func isDecimal(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// ParserStats counts what a Parser has consumed.
type ParserStats struct {
	Rows    uint64
	Dropped uint64
}

// Parser carries the partial-line remainder across chunks.
type Parser struct {
	delim     Delimiter
	remainder []byte
	stats     ParserStats
}

// NewParser creates a parser for the given delimiter.
func NewParser(d Delimiter) *Parser {
	return &Parser{delim: d}
}

// Feed parses chunk together with the carried remainder and replaces the
// remainder with whatever trailing text is still incomplete.
func (p *Parser) Feed(chunk []byte) []Row {
	rows, rest, dropped := parse(chunk, p.remainder, p.delim)
	p.remainder = rest
	p.stats.Rows += uint64(len(rows))
	p.stats.Dropped += uint64(dropped)
	return rows
}

// SetDelimiter switches the delimiter for subsequent lines.
func (p *Parser) SetDelimiter(d Delimiter) { p.delim = d }

func (p *Parser) Delimiter() Delimiter { return p.delim }

// Pending returns the carried remainder.
func (p *Parser) Pending() []byte { return p.remainder }

// Reset discards the carried remainder.
func (p *Parser) Reset() { p.remainder = nil }

func (p *Parser) Stats() ParserStats { return p.stats }
