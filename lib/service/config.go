package service

import (
	"strings"
	"time"

	"github.com/getAlby/knostr.go/db"
	"github.com/nbd-wtf/go-nostr/nip19"
)

type Config struct {
	DatabaseUri             string        `envconfig:"DATABASE_URI" required:"true"`
	DatabaseMaxConns        int           `envconfig:"DATABASE_MAX_CONNS" default:"10"`
	DatabaseMaxIdleConns    int           `envconfig:"DATABASE_MAX_IDLE_CONNS" default:"5"`
	DatabaseConnMaxLifetime int           `envconfig:"DATABASE_CONN_MAX_LIFETIME" default:"1800"` // 30 minutes
	SentryDSN               string        `envconfig:"SENTRY_DSN"`
	SentryTracesSampleRate  float64       `envconfig:"SENTRY_TRACES_SAMPLE_RATE"`
	DatadogAgentUrl         string        `envconfig:"DATADOG_AGENT_URL"`
	LogFilePath             string        `envconfig:"LOG_FILE_PATH"`
	Port                    int           `envconfig:"PORT" default:"3000"`
	DefaultRateLimit        int           `envconfig:"DEFAULT_RATE_LIMIT" default:"10"`
	BurstRateLimit          int           `envconfig:"BURST_RATE_LIMIT" default:"1"`
	MessageRateLimit        float64       `envconfig:"MESSAGE_RATE_LIMIT" default:"20"` // per connection, messages per second
	MessageBurstLimit       int           `envconfig:"MESSAGE_BURST_LIMIT" default:"50"`
	EnablePrometheus        bool          `envconfig:"ENABLE_PROMETHEUS" default:"false"`
	PrometheusPort          int           `envconfig:"PROMETHEUS_PORT" default:"9092"`
	MaxMessageLength        int64         `envconfig:"MAX_MESSAGE_LENGTH" default:"65536"`
	DispatcherQueueSize     int           `envconfig:"DISPATCHER_QUEUE_SIZE" default:"10000"`
	DispatcherWorkers       int           `envconfig:"DISPATCHER_WORKERS" default:"8"`
	SendTimeout             time.Duration `envconfig:"SEND_TIMEOUT" default:"30s"`
	EnqueueTimeout          time.Duration `envconfig:"ENQUEUE_TIMEOUT" default:"100ms"`
	SeenCacheSize           int           `envconfig:"SEEN_CACHE_SIZE" default:"100000"`
	LimitsEnabled           bool          `envconfig:"LIMITS_ENABLED" default:"false"`
	LimitsFile              string        `envconfig:"LIMITS_FILE" default:"limits.yml"`
	RabbitMQUri             string        `envconfig:"RABBITMQ_URI"`
	RabbitMQEventExchange   string        `envconfig:"RABBITMQ_EVENT_EXCHANGE" default:"nostr_events"`
	Relay                   RelayInfoConfig
}

// RelayInfoConfig feeds the NIP-11 information document.
type RelayInfoConfig struct {
	Name        string `envconfig:"RELAY_NAME" default:"knostr.go"`
	Description string `envconfig:"RELAY_DESCRIPTION" default:"A Nostr relay"`
	PubKey      string `envconfig:"RELAY_PUBKEY"`
	Contact     string `envconfig:"RELAY_CONTACT"`
}

// PubKeyHex returns the operator key in hex. RELAY_PUBKEY may also be given
// as an npub; one that cannot be decoded yields "".
func (r RelayInfoConfig) PubKeyHex() string {
	if !strings.HasPrefix(r.PubKey, "npub") {
		return r.PubKey
	}
	prefix, value, err := nip19.Decode(r.PubKey)
	if err != nil || prefix != "npub" {
		return ""
	}
	pk, _ := value.(string)
	return pk
}

func (c *Config) DBConfig() db.Config {
	return db.Config{
		URI:             c.DatabaseUri,
		MaxConns:        c.DatabaseMaxConns,
		MaxIdleConns:    c.DatabaseMaxIdleConns,
		ConnMaxLifetime: c.DatabaseConnMaxLifetime,
		DatadogAgentUrl: c.DatadogAgentUrl,
	}
}

func (c *Config) DispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		QueueSize:      c.DispatcherQueueSize,
		Workers:        c.DispatcherWorkers,
		SendTimeout:    c.SendTimeout,
		EnqueueTimeout: c.EnqueueTimeout,
	}
}
