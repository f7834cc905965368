package stream

import (
	"html"
	"strings"
	"sync"
	"unicode/utf8"
)

// MonitorTrailer closes the monitor's HTML document. New text is spliced in
// just before it.
const MonitorTrailer = "</pre></div></div>"

// Monitor captures the raw decoded text of the link for console display.
type Monitor struct {
	mu      sync.Mutex
	text    strings.Builder
	sent    int
	pending []byte // incomplete UTF-8 sequence held for the next Append
}

// Append adds raw bytes. Invalid UTF-8 is replaced rather than rejected. A
// multibyte character split across reads is held until its tail arrives.
func (m *Monitor) Append(raw []byte) {
	if len(raw) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	buf := append(m.pending, raw...)
	cut := incompleteTail(buf)
	m.pending = append([]byte(nil), buf[cut:]...)
	m.text.WriteString(strings.ToValidUTF8(string(buf[:cut]), "\uFFFD"))
}

// incompleteTail returns the offset of a trailing partial UTF-8 sequence in
// b, or len(b) when b ends on a rune boundary or in bytes no rune can finish.
func incompleteTail(b []byte) int {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax+1; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if utf8.FullRune(b[i:]) {
			return len(b)
		}
		return i
	}
	return len(b)
}

// Drain returns text captured since the previous Drain.
func (m *Monitor) Drain() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.text.String()
	if m.sent >= len(s) {
		return ""
	}
	out := s[m.sent:]
	m.sent = len(s)
	return out
}

// Text returns everything captured since the last Clear.
func (m *Monitor) Text() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.text.String()
}

func (m *Monitor) Clear() {
	m.mu.Lock()
	m.text.Reset()
	m.sent = 0
	m.pending = nil
	m.mu.Unlock()
}

// SpliceHTML strips MonitorTrailer from doc, appends the escaped text and
// re-appends the trailer. A doc without the trailer is returned unchanged
// apart from the appended text and trailer.
func SpliceHTML(doc, text string) string {
	doc = strings.TrimSuffix(doc, MonitorTrailer)
	return doc + html.EscapeString(text) + MonitorTrailer
}
