package relay

import (
	"bytes"
	"strings"
)

// Segmenter accumulates raw chunks and splits them into trimmed lines.
// It keeps whatever follows the last newline until a later chunk completes it.
type Segmenter struct {
	buf []byte
}

// Push appends chunk and returns every complete, non-empty line in order.
func (s *Segmenter) Push(chunk []byte) []string {
	s.buf = append(s.buf, chunk...)

	var lines []string
	consumed := 0
	for {
		idx := bytes.IndexByte(s.buf[consumed:], '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimSpace(string(s.buf[consumed : consumed+idx]))
		consumed += idx + 1
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}

	if consumed > 0 {
		// Move the partial tail to the front so the backing array does not grow forever.
		n := copy(s.buf, s.buf[consumed:])
		s.buf = s.buf[:n]
	}
	return lines
}

// Pending returns the number of buffered bytes not yet terminated by a newline.
func (s *Segmenter) Pending() int {
	return len(s.buf)
}
