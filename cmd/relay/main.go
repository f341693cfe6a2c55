package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/bivalvia/sensor-relay/internal/config"
	"github.com/bivalvia/sensor-relay/internal/hub"
	"github.com/bivalvia/sensor-relay/internal/relay"
	"github.com/bivalvia/sensor-relay/internal/serialport"
	"github.com/bivalvia/sensor-relay/internal/sink"
	"github.com/bivalvia/sensor-relay/internal/tcp"
	"github.com/bivalvia/sensor-relay/internal/websocket"
	"github.com/bivalvia/sensor-relay/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadRelay(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	log := logger.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	log.Info("Starting sensor relay", "port", cfg.Port, "static", cfg.StaticDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	h := hub.NewHub(hub.WithLogger(log), hub.WithRegisterer(reg))
	go h.Run()
	defer h.Stop()

	outputs := []relay.Output{h}

	if cfg.MQTTBroker != "" {
		client, err := sink.DialMQTT(cfg.MQTTBroker, cfg.MQTTClientID)
		if err != nil {
			// The mirror is optional; the relay still serves subscribers.
			log.Error("MQTT mirror disabled", "broker", cfg.MQTTBroker, "error", err)
		} else {
			defer client.Disconnect(250)
			outputs = append(outputs, sink.NewMirror(client, cfg.MQTTTopic, log))
			log.Info("MQTT mirror enabled", "broker", cfg.MQTTBroker, "topic", cfg.MQTTTopic)
		}
	}

	if cfg.PostgresURL != "" || cfg.RedisAddr != "" {
		repo, err := sink.NewHistoryRepository(ctx, cfg.PostgresURL, cfg.RedisAddr)
		if err != nil {
			log.Error("Reading history disabled", "error", err)
		} else {
			defer repo.Close()
			store := sink.NewStore(repo, 256, log, reg)
			go store.Run(ctx)
			outputs = append(outputs, store)
			log.Info("Reading history enabled", "postgres", cfg.PostgresURL != "", "redis", cfg.RedisAddr != "")
		}
	}

	metrics := relay.NewMetrics(reg)
	newRelay := func(l *slog.Logger) *relay.Relay {
		return relay.New(outputs, relay.WithLogger(l), relay.WithMetrics(metrics))
	}

	wsServer := websocket.NewServer(cfg.ListenAddr(), h,
		websocket.WithStaticDir(cfg.StaticDir),
		websocket.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})),
		websocket.WithLogger(log),
	)
	if err := wsServer.Start(); err != nil {
		return fmt.Errorf("start web server: %w", err)
	}
	defer wsServer.Stop()
	log.Info("Server running", "url", fmt.Sprintf("http://localhost:%d", cfg.Port))

	if cfg.TCPAddr != "" {
		tcpServer := tcp.NewServer(cfg.TCPAddr, func(remote string) io.Writer {
			return newRelay(log.With("device", remote))
		}, tcp.WithLogger(log))
		if err := tcpServer.Start(); err != nil {
			return fmt.Errorf("start tcp ingest: %w", err)
		}
		defer tcpServer.Stop()
		log.Info("TCP ingest enabled", "address", tcpServer.Addr())
	} else {
		startSerial(ctx, cfg, log, newRelay)
	}

	<-ctx.Done()
	log.Info("Shutting down")
	return nil
}

// startSerial opens the sensor port once. Without a usable port the relay
// keeps serving static files and subscribers but never emits data.
func startSerial(ctx context.Context, cfg config.Relay, log *slog.Logger, newRelay func(*slog.Logger) *relay.Relay) {
	info, err := serialport.Discover(serialport.SystemPorts, cfg.SerialPort, log)
	if err != nil {
		log.Warn("No serial port found, running offline", "error", err)
		return
	}

	port, err := serialport.Open(info.Name, cfg.Baud)
	if err != nil {
		log.Error("Serial port error, running offline", "port", info.Name, "error", err)
		return
	}
	log.Info("Serial port open", "port", info.Name, "product", info.Product, "baud", cfg.Baud)

	r := newRelay(log.With("port", info.Name))
	go func() {
		if err := serialport.Pump(ctx, port, r); err != nil {
			log.Error("Serial port error", "port", info.Name, "error", err)
		}
	}()
}
