package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSegmenter_SplitsAndKeepsTail(t *testing.T) {
	var s Segmenter

	lines := s.Push([]byte("{\"a\":1}\n{\"b\""))
	assert.Equal(t, []string{`{"a":1}`}, lines)
	assert.Equal(t, len(`{"b"`), s.Pending())

	lines = s.Push([]byte(":2}\r\n"))
	assert.Equal(t, []string{`{"b":2}`}, lines)
	assert.Zero(t, s.Pending())
}

func TestSegmenter_DropsBlankLines(t *testing.T) {
	var s Segmenter

	lines := s.Push([]byte("\n   \n\t\r\nhola\n\n"))
	assert.Equal(t, []string{"hola"}, lines)
}

func TestSegmenter_NoNewlineNoLines(t *testing.T) {
	var s Segmenter

	assert.Empty(t, s.Push([]byte("partial")))
	assert.Empty(t, s.Push([]byte(" still partial")))
	assert.Equal(t, []string{"partial still partial"}, s.Push([]byte("\n")))
}
