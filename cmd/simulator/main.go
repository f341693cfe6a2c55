// Command simulator stands in for the sensor board: it connects to the
// relay's TCP ingest and writes one device-format JSON line per tick.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bivalvia/sensor-relay/pkg/logger"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		addr      string
		interval  time.Duration
		debugSal  bool
		count     int
		logLevel  string
		logFormat string
	)
	flagSet := pflag.NewFlagSet("simulator", pflag.ContinueOnError)
	flagSet.StringVar(&addr, "addr", "localhost:9000", "relay TCP ingest address")
	flagSet.DurationVar(&interval, "interval", 700*time.Millisecond, "delay between readings")
	flagSet.BoolVar(&debugSal, "debug-sal", false, "prefix some lines with the raw salinity debug print")
	flagSet.IntVar(&count, "count", 0, "stop after this many readings (0 runs until interrupted)")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level")
	flagSet.StringVar(&logFormat, "log-format", "text", "log format: json or text")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	log := logger.New(os.Stderr, logLevel, logFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("connect to relay: %w", err)
	}
	defer conn.Close()
	log.Info("Simulator connected", "addr", addr, "interval", interval)

	dev := newDevice(rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)))
	dev.debugSal = debugSal

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for sent := 0; count == 0 || sent < count; sent++ {
		if err := dev.writeReading(conn); err != nil {
			return fmt.Errorf("write reading: %w", err)
		}
		select {
		case <-ctx.Done():
			log.Info("Simulator stopped", "sent", sent+1)
			return nil
		case <-ticker.C:
		}
	}
	log.Info("Simulator finished", "sent", count)
	return nil
}

// device models the board's smoothed sensor values and activity timer.
type device struct {
	rng      *rand.Rand
	tempC    float64
	turbidez int
	sal      int
	lastAct  time.Time
	now      func() time.Time
	debugSal bool
}

const noActivity = 2 * time.Minute

func newDevice(rng *rand.Rand) *device {
	return &device{
		rng:      rng,
		tempC:    22,
		turbidez: 50,
		sal:      60,
		lastAct:  time.Now(),
		now:      time.Now,
	}
}

// step advances the smoothed readings with exponential smoothing.
func (d *device) step() {
	d.tempC = 0.8*d.tempC + 0.2*(12+d.rng.Float64()*20)
	d.turbidez = (4*d.turbidez + d.rng.IntN(101)) / 5
	d.sal = (4*d.sal + d.rng.IntN(101)) / 5
	if d.rng.IntN(20) == 0 {
		d.lastAct = d.now()
	}
}

func (d *device) alive() bool {
	return d.now().Sub(d.lastAct) < noActivity
}

func (d *device) writeReading(w io.Writer) error {
	d.step()
	var prefix string
	if d.debugSal && d.rng.IntN(5) == 0 {
		raw := 1023 - d.sal*1023/100
		prefix = fmt.Sprintf("[SAL raw]=%d ", raw)
	}
	_, err := fmt.Fprintf(w, "%s%s\r\n", prefix, formatReading(d.tempC, d.turbidez, d.sal, d.alive()))
	return err
}

// formatReading renders one line exactly as the firmware prints it.
func formatReading(tempC float64, turbidez, sal int, alive bool) string {
	return fmt.Sprintf(`{"tempC":%.1f,"turbidez":%d,"salinidad":%d,"vivo":%t,"clasif":"%s"}`,
		tempC, turbidez, sal, alive, classify(tempC, turbidez, sal))
}

// classify applies the firmware's bivalve rules in order.
func classify(tempC float64, turbidez, sal int) string {
	ostra := tempC >= 18 && tempC <= 28
	mejillon := tempC >= 12 && tempC <= 24
	almeja := tempC >= 16 && tempC <= 30

	switch {
	case sal >= 70 && turbidez <= 60 && ostra:
		return "OSTRA"
	case sal >= 40 && sal <= 75 && turbidez >= 50 && turbidez <= 85 && mejillon:
		return "MEJILLON"
	case sal <= 50 && turbidez >= 40 && almeja:
		return "ALMEJA"
	default:
		return "NONE"
	}
}
