// Package config resolves the relay's runtime configuration from an optional
// YAML file and environment variables, with env taking precedence.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"gopkg.in/yaml.v3"
)

const (
	envVarConfigFile         = "SPK_SIGNAL_CONFIG_FILE"
	envVarListenAddr         = "SPK_SIGNAL_LISTEN_ADDR"
	envVarMode               = "SPK_SIGNAL_MODE"
	envVarLogFormat          = "SPK_SIGNAL_LOG_FORMAT"
	envVarLogLevel           = "SPK_SIGNAL_LOG_LEVEL"
	envVarShutdownTimeout    = "SPK_SIGNAL_SHUTDOWN_TIMEOUT"
	envVarAllowedOrigins     = "SPK_SIGNAL_ALLOWED_ORIGINS"
	envVarAPIKey             = "SPK_SIGNAL_API_KEY"
	envVarMaxMessageBytes    = "SPK_SIGNAL_MAX_MESSAGE_BYTES"
	envVarMaxMessagesPerSec  = "SPK_SIGNAL_MAX_MESSAGES_PER_SECOND"
	envVarSendQueueBytes     = "SPK_SIGNAL_SEND_QUEUE_BYTES"
	envVarPingInterval       = "SPK_SIGNAL_WS_PING_INTERVAL"
	envVarIdleTimeout        = "SPK_SIGNAL_WS_IDLE_TIMEOUT"
	envVarSessionSettleDelay = "SPK_SIGNAL_SESSION_SETTLE_DELAY"
)

const (
	DefaultListenAddr = "127.0.0.1:8081"

	DefaultShutdownTimeout = 10 * time.Second

	// DefaultMaxMessageBytes bounds one inbound text frame. SDP payloads are
	// the largest legitimate message and stay well under 64 KiB.
	DefaultMaxMessageBytes = 64 * 1024

	DefaultMaxMessagesPerSecond = 50

	// DefaultSendQueueBytes bounds a connection's outbound queue; a full
	// queue drops frames rather than blocking the sender.
	DefaultSendQueueBytes = 256 * 1024

	DefaultPingInterval = 30 * time.Second
	DefaultIdleTimeout  = 60 * time.Second

	// DefaultSessionSettleDelay is the bounded pause the join-time reconciler
	// takes after evicting a conflicting prior session, letting the old
	// connection's in-flight teardown settle instead of racing the new join.
	DefaultSessionSettleDelay = 150 * time.Millisecond
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"

	DefaultMode = ModeDev
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type Config struct {
	ListenAddr string
	Mode       Mode

	LogFormat LogFormat
	LogLevel  slog.Level

	ShutdownTimeout time.Duration

	// AllowedOrigins gates the WebSocket upgrade. Empty or containing "*"
	// allows every origin.
	AllowedOrigins []string

	// APIKey, when non-empty, is required as the x-api-key header on the
	// membership REST endpoint. It never gates the WebSocket.
	APIKey string

	// ICEServers is handed to clients over GET /webrtc/ice so they can build
	// their RTCPeerConnection configuration.
	ICEServers []webrtc.ICEServer

	MaxMessageBytes      int64
	MaxMessagesPerSecond int
	SendQueueBytes       int

	PingInterval time.Duration
	IdleTimeout  time.Duration

	SessionSettleDelay time.Duration
}

// fileConfig is the YAML config file shape. Durations are strings parsed
// with time.ParseDuration. ${VAR} references are expanded before parsing.
type fileConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	Mode       string `yaml:"mode"`

	Log struct {
		Format string `yaml:"format"`
		Level  string `yaml:"level"`
	} `yaml:"log"`

	ShutdownTimeout string   `yaml:"shutdown_timeout"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	APIKey          string   `yaml:"api_key"`

	Limits struct {
		MaxMessageBytes      int64 `yaml:"max_message_bytes"`
		MaxMessagesPerSecond int   `yaml:"max_messages_per_second"`
		SendQueueBytes       int   `yaml:"send_queue_bytes"`
	} `yaml:"limits"`

	WebSocket struct {
		PingInterval string `yaml:"ping_interval"`
		IdleTimeout  string `yaml:"idle_timeout"`
	} `yaml:"websocket"`

	SessionSettleDelay string `yaml:"session_settle_delay"`

	ICE struct {
		StunURLs       []string `yaml:"stun_urls"`
		TurnURLs       []string `yaml:"turn_urls"`
		TurnUsername   string   `yaml:"turn_username"`
		TurnCredential string   `yaml:"turn_credential"`
	} `yaml:"ice"`
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, os.ReadFile, args)
}

func load(lookup func(string) (string, bool), readFile func(string) ([]byte, error), args []string) (Config, error) {
	fs := flag.NewFlagSet("spk-signal-relay", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	path := strings.TrimSpace(*configPath)
	if path == "" {
		path = envOrDefault(lookup, envVarConfigFile, "")
	}

	var file fileConfig
	if path != "" {
		data, err := readFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		// Expand ${VAR} so secrets can stay out of the file itself.
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &file); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	modeStr := resolve(lookup, envVarMode, file.Mode, string(DefaultMode))
	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}

	logFormat, err := parseLogFormat(resolve(lookup, envVarLogFormat, file.Log.Format, defaultLogFormatForMode(mode)))
	if err != nil {
		return Config{}, err
	}
	logLevel, err := parseLogLevel(resolve(lookup, envVarLogLevel, file.Log.Level, defaultLogLevelForMode(mode)))
	if err != nil {
		return Config{}, err
	}

	shutdownTimeout, err := resolveDuration(lookup, envVarShutdownTimeout, file.ShutdownTimeout, DefaultShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	pingInterval, err := resolveDuration(lookup, envVarPingInterval, file.WebSocket.PingInterval, DefaultPingInterval)
	if err != nil {
		return Config{}, err
	}
	idleTimeout, err := resolveDuration(lookup, envVarIdleTimeout, file.WebSocket.IdleTimeout, DefaultIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	settleDelay, err := resolveDuration(lookup, envVarSessionSettleDelay, file.SessionSettleDelay, DefaultSessionSettleDelay)
	if err != nil {
		return Config{}, err
	}
	if pingInterval <= 0 {
		return Config{}, fmt.Errorf("%s must be positive", envVarPingInterval)
	}
	if idleTimeout <= 0 {
		return Config{}, fmt.Errorf("%s must be positive", envVarIdleTimeout)
	}
	if pingInterval >= idleTimeout {
		return Config{}, fmt.Errorf("%s (%s) must be shorter than %s (%s)", envVarPingInterval, pingInterval, envVarIdleTimeout, idleTimeout)
	}

	maxMessageBytes, err := resolveInt64(lookup, envVarMaxMessageBytes, file.Limits.MaxMessageBytes, DefaultMaxMessageBytes)
	if err != nil {
		return Config{}, err
	}
	maxMessagesPerSec, err := resolveInt(lookup, envVarMaxMessagesPerSec, file.Limits.MaxMessagesPerSecond, DefaultMaxMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}
	sendQueueBytes, err := resolveInt(lookup, envVarSendQueueBytes, file.Limits.SendQueueBytes, DefaultSendQueueBytes)
	if err != nil {
		return Config{}, err
	}
	if maxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("%s must be positive", envVarMaxMessageBytes)
	}
	if sendQueueBytes <= 0 {
		return Config{}, fmt.Errorf("%s must be positive", envVarSendQueueBytes)
	}

	allowedOrigins := file.AllowedOrigins
	if raw, ok := lookup(envVarAllowedOrigins); ok && strings.TrimSpace(raw) != "" {
		allowedOrigins = splitCommaSeparated(raw)
	}

	iceServers, err := resolveICEServers(lookup, file)
	if err != nil {
		return Config{}, err
	}

	return Config{
		ListenAddr:           resolve(lookup, envVarListenAddr, file.ListenAddr, DefaultListenAddr),
		Mode:                 mode,
		LogFormat:            logFormat,
		LogLevel:             logLevel,
		ShutdownTimeout:      shutdownTimeout,
		AllowedOrigins:       allowedOrigins,
		APIKey:               resolve(lookup, envVarAPIKey, file.APIKey, ""),
		ICEServers:           iceServers,
		MaxMessageBytes:      maxMessageBytes,
		MaxMessagesPerSecond: maxMessagesPerSec,
		SendQueueBytes:       sendQueueBytes,
		PingInterval:         pingInterval,
		IdleTimeout:          idleTimeout,
		SessionSettleDelay:   settleDelay,
	}, nil
}

// NewLogger builds the process logger from the resolved config.
func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func resolve(lookup func(string) (string, bool), key, fileValue, fallback string) string {
	if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	if strings.TrimSpace(fileValue) != "" {
		return strings.TrimSpace(fileValue)
	}
	return fallback
}

func resolveDuration(lookup func(string) (string, bool), key, fileValue string, fallback time.Duration) (time.Duration, error) {
	raw := resolve(lookup, key, fileValue, "")
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s %q: must not be negative", key, raw)
	}
	return d, nil
}

func resolveInt(lookup func(string) (string, bool), key string, fileValue, fallback int) (int, error) {
	if raw, ok := lookup(key); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
		}
		return n, nil
	}
	if fileValue != 0 {
		return fileValue, nil
	}
	return fallback, nil
}

func resolveInt64(lookup func(string) (string, bool), key string, fileValue, fallback int64) (int64, error) {
	if raw, ok := lookup(key); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
		}
		return n, nil
	}
	if fileValue != 0 {
		return fileValue, nil
	}
	return fallback, nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "dev", "development":
		return ModeDev, nil
	case "prod", "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid %s %q (want dev or prod)", envVarMode, raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "text":
		return LogFormatText, nil
	case "json":
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid %s %q (want text or json)", envVarLogFormat, raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid %s %q", envVarLogLevel, raw)
	}
}

func defaultLogFormatForMode(mode Mode) string {
	if mode == ModeProd {
		return string(LogFormatJSON)
	}
	return string(LogFormatText)
}

func defaultLogLevelForMode(mode Mode) string {
	if mode == ModeProd {
		return "info"
	}
	return "debug"
}

func splitCommaSeparated(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
