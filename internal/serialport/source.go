package serialport

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.bug.st/serial"
)

// DefaultBaud matches the device firmware.
const DefaultBaud = 9600

// ErrClosed is returned by Pump when the source reaches end of stream.
var ErrClosed = errors.New("serial source closed")

// Open opens the named port in 8N1 at baud.
func Open(name string, baud int) (serial.Port, error) {
	if baud <= 0 {
		baud = DefaultBaud
	}
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", name, err)
	}
	return port, nil
}

// Pump copies raw chunks from src into dst until src fails or ctx ends.
// It closes src on return. A cancelled context is not an error; any other
// read failure is returned and nothing is retried.
func Pump(ctx context.Context, src io.ReadCloser, dst io.Writer) error {
	stop := context.AfterFunc(ctx, func() { src.Close() })
	defer func() {
		if stop() {
			src.Close()
		}
	}()

	_, err := io.Copy(dst, src)
	if ctx.Err() != nil {
		return nil
	}
	if err == nil {
		return ErrClosed
	}
	return err
}
