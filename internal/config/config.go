// Package config builds the process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type DB struct {
	Driver     string // postgres or sqlite
	SQLitePath string
	User       string
	Pass       string
	Host       string
	Port       string
	Name       string
	MaxConns   int32
}

type NSQ struct {
	NsqdTCPAddrs    []string // bootstrap endpoints, e.g. nsqd:4150
	LookupHTTPAddrs []string // e.g. http://nsqlookupd:4161; may be empty
	StatusTopic     string   // status-change events
	DefaultTopic    string   // target of SendDefault
	DLQTopic        string
	ConsumerGroup   string // maps to the NSQ channel name
}

type Producer struct {
	Idempotent bool
}

type Consumer struct {
	PollTimeout    time.Duration // max block waiting for the first message of a batch
	MaxBatch       int           // max messages per poll, also NSQ max-in-flight
	SessionTimeout time.Duration // liveness window before the broker drops the member
	MaxBatchBytes  int           // soft cap on the summed payload size of a batch
	MsgTimeout     time.Duration // broker-side in-flight timeout per message
	RetryBackoff   time.Duration
	MaxRetries     int
	SkipExhausted  bool // false releases an exhausted batch instead of skipping it
	PublishDLQ     bool
	HTTPPort       string // notifier metrics and health port
}

// Validate rejects settings the consumer loop cannot run with.
func (c Consumer) Validate() error {
	var errs []error
	if c.MaxBatch <= 0 {
		errs = append(errs, fmt.Errorf("max batch must be positive, got %d", c.MaxBatch))
	}
	if c.PollTimeout <= 0 {
		errs = append(errs, fmt.Errorf("poll timeout must be positive, got %s", c.PollTimeout))
	}
	if c.SessionTimeout <= 0 {
		errs = append(errs, fmt.Errorf("session timeout must be positive, got %s", c.SessionTimeout))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max retries must not be negative, got %d", c.MaxRetries))
	}
	if c.RetryBackoff < 0 {
		errs = append(errs, fmt.Errorf("retry backoff must not be negative, got %s", c.RetryBackoff))
	}
	if c.MaxBatchBytes < 0 {
		errs = append(errs, fmt.Errorf("max batch bytes must not be negative, got %d", c.MaxBatchBytes))
	}
	return errors.Join(errs...)
}

type Webhook struct {
	URL             string
	Secret          string
	SignatureHeader string
	TimestampHeader string
	Timeout         time.Duration
}

type Mail struct {
	SMTPHost  string
	SMTPPort  string
	Username  string
	Password  string
	From      string
	Recipient string
	Subject   string
	Timeout   time.Duration // bounds one whole SMTP conversation
}

type Auth struct {
	PublicKeyPEM string // empty disables bearer auth
	Issuer       string
	Audience     string
}

type Tracing struct {
	Endpoint    string
	SampleRatio float64
	Version     string
	InstanceID  string
}

type FakeReceiver struct {
	FailFirstN           int
	EndpointSecret       string
	SigningLeewaySeconds int
	ResponseDelayMS      int
	Port                 string
	ReadTimeout          time.Duration
	WriteTimeout         time.Duration
	IdleTimeout          time.Duration
}

type Monitor struct {
	NsqdHTTPAddr string // host:port of the nsqd HTTP API
	Port         string
	Interval     time.Duration
}

type Config struct {
	AppName      string
	HTTPPort     string // :8080
	GRPCPort     string // :50051
	LogLevel     string
	DB           DB
	NSQ          NSQ
	Producer     Producer
	Consumer     Consumer
	Webhook      Webhook
	Mail         Mail
	Auth         Auth
	Tracing      Tracing
	FakeReceiver FakeReceiver
	Monitor      Monitor
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// getenvDuration accepts Go durations ("5s") and bare integers as milliseconds.
func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}

// getenvList splits a comma separated value, dropping blanks. A set but
// blank variable yields an empty list.
func getenvList(key string, def []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	out := []string{}
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func FromEnv() Config {
	return Config{
		AppName:  getenv("APP_NAME", "taskmanager"),
		HTTPPort: getenv("HTTP_PORT", ":8080"),
		GRPCPort: getenv("GRPC_PORT", ":50051"),
		LogLevel: getenv("LOG_LEVEL", "info"),
		DB: DB{
			Driver:     getenv("STORE_DRIVER", "postgres"),
			SQLitePath: getenv("SQLITE_PATH", "taskmanager.db"),
			User:       getenv("DB_USER", "postgres"),
			Pass:       getenv("DB_PASS", "postgres"),
			Host:       getenv("DB_HOST", "postgres"),
			Port:       getenv("DB_PORT", "5432"),
			Name:       getenv("DB_NAME", "taskmanager"),
			MaxConns:   int32(getenvInt64("DB_MAX_CONNS", 10)),
		},
		NSQ: NSQ{
			NsqdTCPAddrs:    getenvList("NSQD_TCP_ADDRS", []string{"nsqd:4150"}),
			LookupHTTPAddrs: getenvList("NSQ_LOOKUP_HTTP_ADDRS", nil),
			StatusTopic:     getenv("NSQ_STATUS_TOPIC", "t_plus_tasks_update_status"),
			DefaultTopic:    getenv("NSQ_DEFAULT_TOPIC", "t_plus_tasks"),
			DLQTopic:        getenv("NSQ_DLQ_TOPIC", "t_plus_tasks_update_status_dlq"),
			ConsumerGroup:   getenv("NSQ_CONSUMER_GROUP", "t_plus_tasks_name"),
		},
		Producer: Producer{
			Idempotent: getenvBool("PRODUCER_IDEMPOTENT", false),
		},
		Consumer: Consumer{
			PollTimeout:    getenvDuration("CONSUMER_POLL_TIMEOUT", 5000*time.Millisecond),
			MaxBatch:       getenvInt("CONSUMER_MAX_BATCH", 1),
			SessionTimeout: getenvDuration("CONSUMER_SESSION_TIMEOUT", 15000*time.Millisecond),
			MaxBatchBytes:  getenvInt("CONSUMER_MAX_BATCH_BYTES", 300000),
			MsgTimeout:     getenvDuration("CONSUMER_MSG_TIMEOUT", 60*time.Second),
			RetryBackoff:   getenvDuration("CONSUMER_RETRY_BACKOFF", time.Second),
			MaxRetries:     getenvInt("CONSUMER_MAX_RETRIES", 3),
			SkipExhausted:  getenvBool("CONSUMER_SKIP_EXHAUSTED", true),
			PublishDLQ:     getenvBool("PUBLISH_DLQ_TOPIC", false),
			HTTPPort:       ":" + strings.TrimPrefix(getenv("WORKER_HTTP_PORT", "8083"), ":"),
		},
		Webhook: Webhook{
			URL:             getenv("WEBHOOK_URL", ""),
			Secret:          getenv("WEBHOOK_SECRET", ""),
			SignatureHeader: getenv("WEBHOOK_SIGNATURE_HEADER", "X-TaskManager-Signature"),
			TimestampHeader: getenv("WEBHOOK_TIMESTAMP_HEADER", "X-TaskManager-Timestamp"),
			Timeout:         getenvDuration("WEBHOOK_TIMEOUT", 15*time.Second),
		},
		Mail: Mail{
			SMTPHost:  getenv("SMTP_HOST", ""),
			SMTPPort:  getenv("SMTP_PORT", "587"),
			Username:  getenv("SMTP_USERNAME", ""),
			Password:  getenv("SMTP_PASSWORD", ""),
			From:      getenv("MAIL_FROM", ""),
			Recipient: getenv("MAIL_RECIPIENT", ""),
			Subject:   getenv("MAIL_SUBJECT", "Task status updated"),
			Timeout:   getenvDuration("MAIL_TIMEOUT", 30*time.Second),
		},
		Auth: Auth{
			PublicKeyPEM: getenv("JWT_PUBLIC_KEY", ""),
			Issuer:       getenv("JWT_ISSUER", ""),
			Audience:     getenv("JWT_AUDIENCE", ""),
		},
		Tracing: Tracing{
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			SampleRatio: getenvFloat("OTEL_SAMPLE_RATIO", 1.0),
			Version:     getenv("SERVICE_VERSION", "dev"),
			InstanceID:  getenv("HOSTNAME", "unknown"),
		},
		FakeReceiver: FakeReceiver{
			FailFirstN:           getenvInt("FAIL_FIRST_N", 0),
			EndpointSecret:       getenv("ENDPOINT_SECRET", ""),
			SigningLeewaySeconds: getenvInt("SIGNING_LEEWAY_SECONDS", 300),
			ResponseDelayMS:      getenvInt("RESPONSE_DELAY_MS", 0),
			Port:                 getenv("FAKE_RECEIVER_PORT", ":8081"),
			ReadTimeout:          getenvDuration("FAKE_RECEIVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:         getenvDuration("FAKE_RECEIVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:          getenvDuration("FAKE_RECEIVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Monitor: Monitor{
			NsqdHTTPAddr: getenv("NSQD_HTTP_ADDR", "nsqd:4151"),
			Port:         ":" + strings.TrimPrefix(getenv("MONITOR_PORT", "8084"), ":"),
			Interval:     getenvDuration("MONITOR_POLL_INTERVAL", 15*time.Second),
		},
	}
}

// DSN is the postgres connection string.
func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}
