// Package config loads relay and dashboard settings. Values resolve in order:
// built-in defaults, the .env file, the process environment, then flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/bivalvia/sensor-relay/internal/dashboard"
	"github.com/bivalvia/sensor-relay/internal/serialport"
)

// Relay holds the relay process configuration.
type Relay struct {
	SerialPort string // preferred port name; empty means auto-discover
	Baud       int
	Port       int
	StaticDir  string
	TCPAddr    string // alternate TCP ingest source; empty disables it

	MQTTBroker   string
	MQTTTopic    string
	MQTTClientID string

	PostgresURL string
	RedisAddr   string

	LogLevel  string
	LogFormat string
}

// ListenAddr is the address the static and WebSocket server binds.
func (r Relay) ListenAddr() string {
	return ":" + strconv.Itoa(r.Port)
}

// Dashboard holds the dashboard client configuration.
type Dashboard struct {
	BaseURL           string
	SectorID          string
	Mode              dashboard.Mode
	MaxReconnect      int
	ReconnectInterval time.Duration
	Heartbeat         time.Duration

	LogLevel  string
	LogFormat string
}

// ClientConfig converts the settings into a transport configuration.
func (d Dashboard) ClientConfig() dashboard.ClientConfig {
	return dashboard.ClientConfig{
		BaseURL:              d.BaseURL,
		SectorID:             d.SectorID,
		MaxReconnectAttempts: d.MaxReconnect,
		ReconnectInterval:    d.ReconnectInterval,
		HeartbeatInterval:    d.Heartbeat,
	}
}

// LoadRelay resolves the relay configuration from args (without the program
// name). It returns pflag.ErrHelp when --help was requested.
func LoadRelay(args []string) (Relay, error) {
	if err := loadEnvFile(); err != nil {
		return Relay{}, err
	}

	cfg := Relay{
		SerialPort:   getEnv("SERIAL_PORT", ""),
		Baud:         getEnvInt("SERIAL_BAUD", serialport.DefaultBaud),
		Port:         getEnvInt("PORT", 8080),
		StaticDir:    getEnv("STATIC_DIR", "."),
		TCPAddr:      getEnv("TCP_ADDR", ""),
		MQTTBroker:   getEnv("MQTT_BROKER", ""),
		MQTTTopic:    getEnv("MQTT_TOPIC", "bivalvia/relay"),
		MQTTClientID: getEnv("MQTT_CLIENT_ID", "sensor-relay"),
		PostgresURL:  getEnv("POSTGRES_URL", ""),
		RedisAddr:    getEnv("REDIS_ADDR", ""),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogFormat:    getEnv("LOG_FORMAT", "json"),
	}

	flagSet := pflag.NewFlagSet("relay", pflag.ContinueOnError)
	flagSet.StringVar(&cfg.SerialPort, "serial", cfg.SerialPort, "preferred serial port, exact name or suffix (auto-discover when empty)")
	flagSet.IntVar(&cfg.Baud, "baud", cfg.Baud, "serial baud rate")
	flagSet.IntVarP(&cfg.Port, "port", "p", cfg.Port, "listen port for static files and WebSocket")
	flagSet.IntVar(&cfg.Port, "ws-port", cfg.Port, "alias of --port")
	flagSet.IntVar(&cfg.Port, "http-port", cfg.Port, "alias of --port")
	flagSet.StringVar(&cfg.StaticDir, "static", cfg.StaticDir, "directory served as static files")
	flagSet.StringVar(&cfg.TCPAddr, "tcp", cfg.TCPAddr, "TCP ingest address used instead of a serial port")
	flagSet.StringVar(&cfg.MQTTBroker, "mqtt-broker", cfg.MQTTBroker, "MQTT broker URL for the envelope mirror (off when empty)")
	flagSet.StringVar(&cfg.MQTTTopic, "mqtt-topic", cfg.MQTTTopic, "MQTT topic prefix")
	flagSet.StringVar(&cfg.MQTTClientID, "mqtt-client-id", cfg.MQTTClientID, "MQTT client id")
	flagSet.StringVar(&cfg.PostgresURL, "postgres", cfg.PostgresURL, "Postgres URL for reading history (off when empty)")
	flagSet.StringVar(&cfg.RedisAddr, "redis", cfg.RedisAddr, "Redis address for last-value cache (off when empty)")
	addLogFlags(flagSet, &cfg.LogLevel, &cfg.LogFormat)
	flagSet.MarkHidden("ws-port")
	flagSet.MarkHidden("http-port")

	if err := flagSet.Parse(args); err != nil {
		return Relay{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Relay{}, err
	}
	return cfg, nil
}

// Validate checks ranges and formats.
func (r Relay) Validate() error {
	if r.Baud <= 0 {
		return fmt.Errorf("invalid baud rate %d", r.Baud)
	}
	if r.Port <= 0 || r.Port > 65535 {
		return fmt.Errorf("invalid port %d", r.Port)
	}
	if strings.TrimSpace(r.StaticDir) == "" {
		return errors.New("static dir must not be empty")
	}
	if r.MQTTBroker != "" && strings.TrimSpace(r.MQTTTopic) == "" {
		return errors.New("mqtt topic must not be empty when a broker is set")
	}
	return validateLogFormat(r.LogFormat)
}

// LoadDashboard resolves the dashboard configuration from args.
func LoadDashboard(args []string) (Dashboard, error) {
	if err := loadEnvFile(); err != nil {
		return Dashboard{}, err
	}

	cfg := Dashboard{
		BaseURL:           getEnv("DASHBOARD_URL", "http://localhost:8000"),
		SectorID:          getEnv("SECTOR_ID", ""),
		MaxReconnect:      getEnvInt("MAX_RECONNECT", dashboard.DefaultMaxReconnectAttempts),
		ReconnectInterval: getEnvDuration("RECONNECT_INTERVAL", dashboard.DefaultReconnectInterval),
		Heartbeat:         getEnvDuration("HEARTBEAT_INTERVAL", dashboard.DefaultHeartbeatInterval),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "text"),
	}
	mode := getEnv("DASHBOARD_MODE", string(dashboard.ModeSocket))

	flagSet := pflag.NewFlagSet("dashboard", pflag.ContinueOnError)
	flagSet.StringVar(&cfg.BaseURL, "url", cfg.BaseURL, "dashboard server origin")
	flagSet.StringVar(&cfg.SectorID, "sector", cfg.SectorID, "sector id to follow (required)")
	flagSet.StringVar(&mode, "mode", mode, "transport: socket or poll")
	flagSet.IntVar(&cfg.MaxReconnect, "max-reconnect", cfg.MaxReconnect, "reconnect attempts before giving up")
	flagSet.DurationVar(&cfg.ReconnectInterval, "reconnect-interval", cfg.ReconnectInterval, "delay between reconnect attempts")
	flagSet.DurationVar(&cfg.Heartbeat, "heartbeat", cfg.Heartbeat, "keep-alive ping interval")
	addLogFlags(flagSet, &cfg.LogLevel, &cfg.LogFormat)

	if err := flagSet.Parse(args); err != nil {
		return Dashboard{}, err
	}

	parsed, err := dashboard.ParseMode(mode)
	if err != nil {
		return Dashboard{}, err
	}
	cfg.Mode = parsed

	if err := cfg.Validate(); err != nil {
		return Dashboard{}, err
	}
	return cfg, nil
}

// Validate checks required values and ranges.
func (d Dashboard) Validate() error {
	if strings.TrimSpace(d.SectorID) == "" {
		return dashboard.ErrMissingSector
	}
	if strings.TrimSpace(d.BaseURL) == "" {
		return errors.New("dashboard url must not be empty")
	}
	if d.MaxReconnect <= 0 {
		return fmt.Errorf("invalid max reconnect attempts %d", d.MaxReconnect)
	}
	if d.ReconnectInterval <= 0 {
		return fmt.Errorf("invalid reconnect interval %s", d.ReconnectInterval)
	}
	if d.Heartbeat <= 0 {
		return fmt.Errorf("invalid heartbeat interval %s", d.Heartbeat)
	}
	return validateLogFormat(d.LogFormat)
}

func addLogFlags(flagSet *pflag.FlagSet, level, format *string) {
	flagSet.StringVar(level, "log-level", *level, "log level: debug, info, warn, error")
	flagSet.StringVar(format, "log-format", *format, "log format: json or text")
}

func validateLogFormat(format string) error {
	switch strings.ToLower(format) {
	case "json", "text":
		return nil
	default:
		return fmt.Errorf("invalid log format %q (want json or text)", format)
	}
}

// loadEnvFile reads ENV_FILE (default .env). Existing environment variables
// win over the file; a missing file is not an error.
func loadEnvFile() error {
	path := getEnv("ENV_FILE", ".env")
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}
