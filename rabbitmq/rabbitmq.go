package rabbitmq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/getAlby/knostr.go/db/models"
	"github.com/getsentry/sentry-go"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/ziflex/lecho/v3"
)

// bufPool lets concurrent publishers reuse encoding buffers.
var bufPool = sync.Pool{
	New: func() interface{} { return new(bytes.Buffer) },
}

const (
	contentTypeJSON      = "application/json"
	defaultEventExchange = "nostr_events"
)

type (
	// SubscribeToEventsFunc hands out a stream of accepted events and a func
	// that ends the subscription.
	SubscribeToEventsFunc = func() (events <-chan *models.Event, unsubscribe func())
)

type Client interface {
	StartPublishEvents(context.Context, SubscribeToEventsFunc) error
	// Close will close all connections to rabbitmq
	Close() error
}

type DefaultClient struct {
	amqpClient AMQPClient
	logger     *lecho.Logger

	eventExchange string
}

type ClientOption = func(client *DefaultClient)

func WithEventExchange(exchange string) ClientOption {
	return func(client *DefaultClient) {
		if exchange != "" {
			client.eventExchange = exchange
		}
	}
}

func WithLogger(logger *lecho.Logger) ClientOption {
	return func(client *DefaultClient) {
		client.logger = logger
	}
}

func NewClient(amqpClient AMQPClient, options ...ClientOption) (Client, error) {
	client := &DefaultClient{
		amqpClient:    amqpClient,
		logger:        lecho.New(io.Discard),
		eventExchange: defaultEventExchange,
	}

	for _, opt := range options {
		opt(client)
	}

	return client, nil
}

func (client *DefaultClient) Close() error { return client.amqpClient.Close() }

// RoutingKey is event.<kind>, so consumers can bind to single kinds with
// e.g. event.1 or to everything with event.#.
func RoutingKey(event *models.Event) string {
	return fmt.Sprintf("event.%d", event.Kind)
}

// StartPublishEvents declares the event exchange and publishes every event of
// the subscription until ctx is done.
func (client *DefaultClient) StartPublishEvents(ctx context.Context, subscribe SubscribeToEventsFunc) error {
	err := client.amqpClient.ExchangeDeclare(
		client.eventExchange,
		// topic exchanges route on the routing key
		"topic",
		// durable, not auto-deleted
		true,
		false,
		// not internal, so we can publish to it directly
		false,
		// wait for the server to confirm
		false,
		nil,
	)
	if err != nil {
		return err
	}

	client.logger.Info("Starting rabbitmq publisher")

	events, unsubscribe := subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return context.Canceled
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if err := client.publishEvent(ctx, event); err != nil {
				captureErr(client.logger, err)
			}
		}
	}
}

func (client *DefaultClient) publishEvent(ctx context.Context, event *models.Event) error {
	payload := bufPool.Get().(*bytes.Buffer)
	payload.Reset()
	defer bufPool.Put(payload)

	if err := json.NewEncoder(payload).Encode(event); err != nil {
		return err
	}

	err := client.amqpClient.PublishWithContext(ctx,
		client.eventExchange,
		RoutingKey(event),
		false,
		false,
		amqp.Publishing{
			ContentType: contentTypeJSON,
			MessageId:   event.ID,
			Body:        payload.Bytes(),
		},
	)
	if err != nil {
		return err
	}

	client.logger.Debugf("Successfully published event %s to rabbitmq", event.ID)

	return nil
}

func captureErr(logger *lecho.Logger, err error) {
	logger.Error(err)
	sentry.CaptureException(err)
}
