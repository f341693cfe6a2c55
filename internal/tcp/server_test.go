package tcp

import (
	"encoding/json"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bivalvia/sensor-relay/internal/model"
	"github.com/bivalvia/sensor-relay/internal/relay"
)

// collector is a goroutine-safe relay output.
type collector struct {
	mu   sync.Mutex
	envs []model.Envelope
}

func (c *collector) Emit(env model.Envelope, _ []byte) {
	c.mu.Lock()
	c.envs = append(c.envs, env)
	c.mu.Unlock()
}

func (c *collector) snapshot() []model.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Envelope(nil), c.envs...)
}

func startServer(t *testing.T, out relay.Output, opts ...Option) *Server {
	t.Helper()
	server := NewServer("127.0.0.1:0", func(string) io.Writer {
		return relay.New([]relay.Output{out})
	}, opts...)
	require.NoError(t, server.Start())
	t.Cleanup(func() { server.Stop() })
	return server
}

func TestTCPServer_RelaysDeviceLines(t *testing.T) {
	out := &collector{}
	server := startServer(t, out)

	conn, err := net.Dial("tcp", server.Addr())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(`{"tempC":25.1,"turbidez":50,"salinidad":55,"vivo":true,"clasif":"MEJILLON"}` + "\n[SAL raw]=511\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(out.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)
	envs := out.snapshot()
	assert.Equal(t, model.TypeSensor, envs[0].Type)
	assert.Equal(t, model.TypeText, envs[1].Type)

	var text string
	require.NoError(t, json.Unmarshal(envs[1].Data, &text))
	assert.Equal(t, "[SAL raw]=511", text)
}

func TestTCPServer_DevicesHaveSeparateBuffers(t *testing.T) {
	out := &collector{}
	server := startServer(t, out)

	a, err := net.Dial("tcp", server.Addr())
	require.NoError(t, err)
	defer a.Close()
	b, err := net.Dial("tcp", server.Addr())
	require.NoError(t, err)
	defer b.Close()

	_, err = a.Write([]byte(`{"dev":"a",`))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	_, err = b.Write([]byte(`{"dev":"b"}` + "\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(out.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)

	_, err = a.Write([]byte(`"tempC":20}` + "\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(out.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)

	for i, dev := range []string{"b", "a"} {
		env := out.snapshot()[i]
		require.Equal(t, model.TypeSensor, env.Type)
		var rec struct {
			Dev string `json:"dev"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &rec))
		assert.Equal(t, dev, rec.Dev)
	}
}

func TestTCPServer_IdleDeviceIsDropped(t *testing.T) {
	out := &collector{}
	server := startServer(t, out, WithIdleTimeout(100*time.Millisecond))

	conn, err := net.Dial("tcp", server.Addr())
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF, "server should close the idle connection")
}

func TestTCPServer_StopClosesDevices(t *testing.T) {
	out := &collector{}
	server := NewServer("127.0.0.1:0", func(string) io.Writer { return relay.New([]relay.Output{out}) })
	require.NoError(t, server.Start())

	conn, err := net.Dial("tcp", server.Addr())
	require.NoError(t, err)
	defer conn.Close()
	_, _ = conn.Write([]byte("hola\n"))
	require.Eventually(t, func() bool { return len(out.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		server.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	_, err = net.Dial("tcp", server.Addr())
	assert.Error(t, err)
}

func TestTCPServer_StartFailsOnBusyPort(t *testing.T) {
	server := startServer(t, &collector{})

	other := NewServer(server.Addr(), func(string) io.Writer { return io.Discard })
	err := other.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start TCP server")
}
