package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"golang.org/x/time/rate"

	"github.com/thrillee/aegis-smpp/internal/httpserver"
	"github.com/thrillee/aegis-smpp/internal/longmsg"
	"github.com/thrillee/aegis-smpp/internal/mno"
	"github.com/thrillee/aegis-smpp/internal/pdu"
	"github.com/thrillee/aegis-smpp/internal/session"
	"github.com/thrillee/aegis-smpp/internal/sms"
)

// Config holds the overall application configuration.
type Config struct {
	LogLevel          string `envconfig:"LOG_LEVEL" default:"info"`
	SessionConfig     SessionConfig
	LongMessageConfig LongMessageConfig
	MNOClientConfig   MNOClientConfig
	ServerConfig      ServerConfig
	RedisConfig       RedisConfig
	QueueConfig       QueueConfig
	HttpConfig        HttpConfig
	NotifyConfig      NotifyConfig
}

// SessionConfig holds the timers and limits shared by client and server
// sessions.
type SessionConfig struct {
	InitTimeout         time.Duration `envconfig:"SMPP_SESSION_INIT_TIMEOUT"  default:"30s"`
	EnquireLinkInterval time.Duration `envconfig:"SMPP_ENQUIRE_LINK_INTERVAL" default:"10s"`
	InactivityTimeout   time.Duration `envconfig:"SMPP_INACTIVITY_TIMEOUT"    default:"120s"`
	ResponseTimeout     time.Duration `envconfig:"SMPP_RESPONSE_TIMEOUT"      default:"60s"`
	PDUReadTimeout      time.Duration `envconfig:"SMPP_PDU_READ_TIMEOUT"      default:"10s"`
	WindowSize          int           `envconfig:"SMPP_WINDOW_SIZE"           default:"100"`
	MaxPDUSize          int           `envconfig:"SMPP_MAX_PDU_SIZE"          default:"65536"`
}

func (c SessionConfig) Timers() session.Config {
	return session.Config{
		SessionInitTimeout:  c.InitTimeout,
		EnquireLinkInterval: c.EnquireLinkInterval,
		InactivityTimeout:   c.InactivityTimeout,
		ResponseTimeout:     c.ResponseTimeout,
		PDUReadTimeout:      c.PDUReadTimeout,
		WindowSize:          c.WindowSize,
		MaxPDUSize:          c.MaxPDUSize,
	}
}

type LongMessageConfig struct {
	Split    string  `envconfig:"LONG_CONTENT_SPLIT"     default:"sar"`
	MaxParts int     `envconfig:"LONG_CONTENT_MAX_PARTS" default:"5"`
	Rate     float64 `envconfig:"SUBMIT_RATE"            default:"0"`
	Burst    int     `envconfig:"SUBMIT_BURST"           default:"1"`
}

// Options converts the section for longmsg.NewManager. Call Validate first.
func (c LongMessageConfig) Options() longmsg.Config {
	method, _ := longmsg.ParseMethod(c.Split)
	return longmsg.Config{
		Method:   method,
		MaxParts: c.MaxParts,
		Rate:     rate.Limit(c.Rate),
		Burst:    c.Burst,
	}
}

// MNOClientConfig describes the upstream carrier bind.
type MNOClientConfig struct {
	Enabled        bool          `envconfig:"MNO_ENABLED"         default:"true"`
	ID             string        `envconfig:"MNO_ID"              default:"mno-default"`
	Host           string        `envconfig:"MNO_HOST"            default:"127.0.0.1"`
	Port           int           `envconfig:"MNO_PORT"            default:"2775"`
	SystemID       string        `envconfig:"MNO_SYSTEM_ID"`
	Password       string        `envconfig:"MNO_PASSWORD"`
	SystemType     string        `envconfig:"MNO_SYSTEM_TYPE"`
	BindType       string        `envconfig:"MNO_BIND_TYPE"       default:"transceiver"`
	AddrTON        uint8         `envconfig:"MNO_ADDR_TON"        default:"0"`
	AddrNPI        uint8         `envconfig:"MNO_ADDR_NPI"        default:"0"`
	AddressRange   string        `envconfig:"MNO_ADDRESS_RANGE"`
	ConnectTimeout time.Duration `envconfig:"MNO_CONNECT_TIMEOUT" default:"5s"`
	ReconnectDelay time.Duration `envconfig:"MNO_RECONNECT_DELAY" default:"10s"`
	// Consecutive refused binds before the breaker opens, and how long it
	// stays open.
	BreakerFailures int           `envconfig:"MNO_BREAKER_FAILURES" default:"5"`
	BreakerTimeout  time.Duration `envconfig:"MNO_BREAKER_TIMEOUT"  default:"60s"`
}

func (c MNOClientConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c MNOClientConfig) Breaker() mno.CircuitBreakerConfig {
	return mno.CircuitBreakerConfig{
		FailureThreshold: c.BreakerFailures,
		Timeout:          c.BreakerTimeout,
		ConnectorID:      c.ID,
	}
}

func (c MNOClientConfig) Bind() session.BindParams {
	return session.BindParams{
		SystemID:     c.SystemID,
		Password:     c.Password,
		SystemType:   c.SystemType,
		AddrTON:      pdu.TON(c.AddrTON),
		AddrNPI:      pdu.NPI(c.AddrNPI),
		AddressRange: c.AddressRange,
	}
}

// ServerConfig holds SMPP Server specific configuration.
type ServerConfig struct {
	Enabled        bool   `envconfig:"SERVER_ENABLED"         default:"true"`
	Addr           string `envconfig:"SERVER_HOST"            default:"0.0.0.0:2775"`
	SystemID       string `envconfig:"SERVER_SYSTEM_ID"       default:"aegis"`
	MaxConnections int    `envconfig:"SERVER_MAX_CONNECTIONS" default:"100"`
	// Users is a comma separated list of system_id:password pairs.
	Users string `envconfig:"SERVER_USERS"`
	// MOSystemID receives mobile-originated messages; empty drops them.
	MOSystemID string `envconfig:"SERVER_MO_SYSTEM_ID"`
}

// Credentials parses Users.
func (c ServerConfig) Credentials() (map[string]string, error) {
	creds := make(map[string]string)
	for _, entry := range strings.Split(c.Users, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, pass, ok := strings.Cut(entry, ":")
		if !ok || id == "" {
			return nil, fmt.Errorf("config: SERVER_USERS entry %q is not system_id:password", entry)
		}
		if _, dup := creds[id]; dup {
			return nil, fmt.Errorf("config: SERVER_USERS lists %q twice", id)
		}
		creds[id] = pass
	}
	return creds, nil
}

// RedisConfig selects the durable store. An empty Addr keeps every store
// in process.
type RedisConfig struct {
	Addr      string        `envconfig:"REDIS_ADDR"`
	Password  string        `envconfig:"REDIS_PASSWORD"`
	DB        int           `envconfig:"REDIS_DB"         default:"0"`
	ConcatTTL time.Duration `envconfig:"REDIS_CONCAT_TTL" default:"300s"`
	DLRTTL    time.Duration `envconfig:"REDIS_DLR_TTL"    default:"168h"`
}

// QueueConfig drives the outbound dispatcher.
type QueueConfig struct {
	Name          string        `envconfig:"QUEUE_NAME"           default:"sms:outbound"`
	Interval      time.Duration `envconfig:"QUEUE_INTERVAL"       default:"500ms"`
	BatchSize     int           `envconfig:"QUEUE_BATCH_SIZE"     default:"100"`
	Workers       int           `envconfig:"QUEUE_WORKERS"        default:"4"`
	Rate          float64       `envconfig:"QUEUE_RATE"           default:"0"`
	Burst         int           `envconfig:"QUEUE_BURST"          default:"1"`
	SubmitTimeout time.Duration `envconfig:"QUEUE_SUBMIT_TIMEOUT" default:"2m"`
	MaxAttempts   int           `envconfig:"QUEUE_MAX_ATTEMPTS"   default:"3"`
	// MessageTTL is the expiration given to submissions accepted from ESMEs.
	MessageTTL time.Duration `envconfig:"QUEUE_MESSAGE_TTL" default:"1h"`
}

func (c QueueConfig) Options() sms.DispatcherConfig {
	return sms.DispatcherConfig{
		Interval:      c.Interval,
		BatchSize:     c.BatchSize,
		Workers:       c.Workers,
		Rate:          rate.Limit(c.Rate),
		Burst:         c.Burst,
		SubmitTimeout: c.SubmitTimeout,
		MaxAttempts:   c.MaxAttempts,
	}
}

// HttpConfig holds the operator and HTTP submit endpoint settings. An
// empty Addr disables the server.
type HttpConfig struct {
	Addr         string        `envconfig:"HTTP_ADDR"          default:":8080"`
	ReadTimeout  time.Duration `envconfig:"HTTP_READ_TIMEOUT"  default:"10s"`
	WriteTimeout time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"10s"`
	IdleTimeout  time.Duration `envconfig:"HTTP_IDLE_TIMEOUT"  default:"60s"`
}

func (c HttpConfig) Server() httpserver.Config {
	return httpserver.Config{
		Addr:         c.Addr,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
		IdleTimeout:  c.IdleTimeout,
	}
}

// NotifyConfig drives connector status alerts. An empty Recipient disables
// them.
type NotifyConfig struct {
	Recipient string        `envconfig:"NOTIFY_RECIPIENT"`
	Interval  time.Duration `envconfig:"NOTIFY_INTERVAL" default:"30s"`
}

// Validate checks values envconfig cannot.
func (c *Config) Validate() error {
	var errs []error
	if _, err := longmsg.ParseMethod(c.LongMessageConfig.Split); err != nil {
		errs = append(errs, err)
	}
	if n := c.LongMessageConfig.MaxParts; n < 1 || n > 255 {
		errs = append(errs, fmt.Errorf("config: LONG_CONTENT_MAX_PARTS must be within 1..255, got %d", n))
	}
	if c.LongMessageConfig.Rate < 0 {
		errs = append(errs, errors.New("config: SUBMIT_RATE must not be negative"))
	}
	if _, err := session.ParseBindType(c.MNOClientConfig.BindType); err != nil {
		errs = append(errs, fmt.Errorf("config: MNO_BIND_TYPE: %w", err))
	}
	if _, err := c.ServerConfig.Credentials(); err != nil {
		errs = append(errs, err)
	}
	if c.QueueConfig.Rate < 0 {
		errs = append(errs, errors.New("config: QUEUE_RATE must not be negative"))
	}
	if c.QueueConfig.Workers < 1 {
		errs = append(errs, fmt.Errorf("config: QUEUE_WORKERS must be positive, got %d", c.QueueConfig.Workers))
	}
	if c.MNOClientConfig.BreakerFailures < 1 {
		errs = append(errs, fmt.Errorf("config: MNO_BREAKER_FAILURES must be positive, got %d", c.MNOClientConfig.BreakerFailures))
	}
	if c.NotifyConfig.Recipient != "" && c.NotifyConfig.Interval <= 0 {
		errs = append(errs, errors.New("config: NOTIFY_INTERVAL must be positive"))
	}
	if c.SessionConfig.WindowSize < 1 {
		errs = append(errs, fmt.Errorf("config: SMPP_WINDOW_SIZE must be positive, got %d", c.SessionConfig.WindowSize))
	}
	if c.SessionConfig.MaxPDUSize < 16 {
		errs = append(errs, fmt.Errorf("config: SMPP_MAX_PDU_SIZE too small: %d", c.SessionConfig.MaxPDUSize))
	}
	return errors.Join(errs...)
}

// Level maps LOG_LEVEL to a slog level; unknown values mean info.
func (c *Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// Load reads configuration from environment variables, after loading a
// .env file when one exists.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using the environment only", slog.Any("error", err))
	} else {
		slog.Info(".env loaded")
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	slog.Info("Configuration loaded",
		slog.String("server_addr", cfg.ServerConfig.Addr),
		slog.String("mno_addr", cfg.MNOClientConfig.Addr()),
		slog.String("split", cfg.LongMessageConfig.Split),
		slog.String("http_addr", cfg.HttpConfig.Addr),
	)
	return &cfg, nil
}
