package serialport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type failingReader struct{ closed bool }

func (f *failingReader) Read([]byte) (int, error) { return 0, errors.New("device unplugged") }
func (f *failingReader) Close() error              { f.closed = true; return nil }

func TestPump_CopiesUntilEOF(t *testing.T) {
	var dst lockedBuffer
	src := io.NopCloser(strings.NewReader("{\"tempC\":25.1}\n"))

	err := Pump(context.Background(), src, &dst)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, "{\"tempC\":25.1}\n", dst.String())
}

func TestPump_ReadErrorIsReturned(t *testing.T) {
	src := &failingReader{}

	err := Pump(context.Background(), src, io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device unplugged")
	assert.True(t, src.closed)
}

func TestPump_ContextCancelClosesSource(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	var dst lockedBuffer
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Pump(ctx, pr, &dst) }()

	_, err := pw.Write([]byte("chunk"))
	require.NoError(t, err)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Pump did not return after cancel")
	}
	assert.Equal(t, "chunk", dst.String())
}
