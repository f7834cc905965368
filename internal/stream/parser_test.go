package stream

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ints(vs ...int64) Row {
	r := make(Row, len(vs))
	for i, v := range vs {
		r[i] = IntCell(v)
	}
	return r
}

func TestParseWholeLines(t *testing.T) {
	rows, rest := Parse([]byte("1,2,3\n4,5\n"), nil, Comma)
	require.Len(t, rows, 2)
	assert.Equal(t, ints(1, 2, 3), rows[0])
	assert.Equal(t, ints(4, 5), rows[1])
	assert.Empty(t, rest)
}

func TestParseCarriesRemainder(t *testing.T) {
	rows, rest := Parse([]byte("1,2\n3,4"), nil, Comma)
	require.Len(t, rows, 1)
	assert.Equal(t, ints(1, 2), rows[0])
	assert.Equal(t, []byte("3,4"), rest)

	rows, rest = Parse([]byte(",5\n"), rest, Comma)
	require.Len(t, rows, 1)
	assert.Equal(t, ints(3, 4, 5), rows[0])
	assert.Empty(t, rest)
}

func TestParseTokenTypes(t *testing.T) {
	rows, _ := Parse([]byte(" 7 ,-3, 2.5,1e3,abc,,nan\n"), nil, Comma)
	require.Len(t, rows, 1)
	r := rows[0]
	require.Len(t, r, 7)

	assert.Equal(t, IntCell(7), r[0])
	assert.Equal(t, Float, r[1].Kind, "negative literals are not decimal integers")
	assert.Equal(t, -3.0, r[1].Value())
	assert.Equal(t, FloatCell(2.5), r[2])
	assert.Equal(t, FloatCell(1000), r[3])
	assert.True(t, r[4].IsMissing())
	assert.True(t, r[5].IsMissing())
	assert.True(t, r[6].IsMissing())
}

func TestParseWhitespaceMode(t *testing.T) {
	ws, err := ParseDelimiter("whitespace")
	require.NoError(t, err)

	rows, _ := Parse([]byte("  1 \t 2    3.5\r\n"), nil, ws)
	require.Len(t, rows, 1)
	assert.Equal(t, Row{IntCell(1), IntCell(2), FloatCell(3.5)}, rows[0])
}

func TestParseLiteralDelimiters(t *testing.T) {
	cases := map[string]string{
		"space":         "1 2\n",
		"tab":           "1\t2\n",
		"vertical line": "1|2\n",
		"semicolon":     "1;2\n",
		"asterisk":      "1*2\n",
		"slash":         "1/2\n",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			d, err := ParseDelimiter(name)
			require.NoError(t, err)
			rows, _ := Parse([]byte(input), nil, d)
			require.Len(t, rows, 1)
			assert.Equal(t, ints(1, 2), rows[0])
		})
	}
}

func TestParseDropsUndecodableLine(t *testing.T) {
	input := []byte("1,2\n\xff\xfe,3\n4,5\n")
	rows, rest := Parse(input, nil, Comma)
	require.Len(t, rows, 2)
	assert.Equal(t, ints(1, 2), rows[0])
	assert.Equal(t, ints(4, 5), rows[1])
	assert.Empty(t, rest)
}

func TestParseSplitMultibyteRune(t *testing.T) {
	// "µ" is two bytes; split it across chunks.
	p := NewParser(Comma)
	rows := p.Feed([]byte("1,\xc2"))
	assert.Empty(t, rows)
	rows = p.Feed([]byte("\xb5\n"))
	require.Len(t, rows, 1)
	assert.Equal(t, IntCell(1), rows[0][0])
	assert.True(t, rows[0][1].IsMissing())
	assert.Zero(t, p.Stats().Dropped)
}

func TestParseUnknownDelimiter(t *testing.T) {
	_, err := ParseDelimiter("pipe")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vertical line")
}

func TestParserChunkBoundaryInvariance(t *testing.T) {
	stream := []byte("0,1.5,2\n10,x,3\n20\n30,4,5,6\n\n40;41,7\n50,8,9\n60,1")
	whole, wholeRest := Parse(stream, nil, Comma)

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 200; trial++ {
		p := NewParser(Comma)
		var got []Row
		for i := 0; i < len(stream); {
			n := 1 + rng.Intn(6)
			if i+n > len(stream) {
				n = len(stream) - i
			}
			got = append(got, p.Feed(stream[i:i+n])...)
			i += n
		}
		require.Equal(t, whole, got, "trial %d", trial)
		require.Equal(t, wholeRest, p.Pending(), "trial %d", trial)
	}
}

func TestParserStats(t *testing.T) {
	p := NewParser(Comma)
	p.Feed([]byte("1\n\xff\n2\n3"))
	assert.Equal(t, ParserStats{Rows: 2, Dropped: 1}, p.Stats())
	p.Reset()
	assert.Empty(t, p.Pending())
}
