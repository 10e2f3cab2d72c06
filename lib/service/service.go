package service

import (
	"context"

	"github.com/getAlby/knostr.go/db/models"
	"github.com/getAlby/knostr.go/lib/store"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/ziflex/lecho/v3"
)

type RelayService struct {
	Config        *Config
	Store         store.EventStore
	Logger        *lecho.Logger
	Dispatcher    *Dispatcher
	Subscriptions *SubscriptionRegistry
	Limits        *Limits
	Feed          *EventFeed

	// ids admitted or rejected as duplicates by this process
	seen *lru.Cache[string, struct{}]
}

// NewRelayService wires the relay core around eventStore. Collectors are
// registered on registerer unless it is nil.
func NewRelayService(config *Config, eventStore store.EventStore, logger *lecho.Logger, registerer prometheus.Registerer) (*RelayService, error) {
	cacheSize := config.SeenCacheSize
	if cacheSize <= 0 {
		cacheSize = 1
	}
	seen, err := lru.New[string, struct{}](cacheSize)
	if err != nil {
		return nil, err
	}
	dispatcher := NewDispatcher(config.DispatcherConfig(), logger, registerer)
	return &RelayService{
		Config:        config,
		Store:         eventStore,
		Logger:        logger,
		Dispatcher:    dispatcher,
		Subscriptions: NewSubscriptionRegistry(eventStore, dispatcher, logger, registerer),
		Limits:        NewLimits(config.LimitsEnabled, config.LimitsFile, logger),
		Feed:          NewEventFeed(),
		seen:          seen,
	}, nil
}

func (svc *RelayService) Start(ctx context.Context) {
	svc.Dispatcher.Start(ctx)
}

// Close stops delivery and closes the store.
func (svc *RelayService) Close() error {
	svc.Dispatcher.Close()
	return svc.Store.Close()
}

// SubscribeAcceptedEvents streams every event accepted from now on.
func (svc *RelayService) SubscribeAcceptedEvents() (<-chan *models.Event, func()) {
	id, events := svc.Feed.Subscribe()
	return events, func() { svc.Feed.Unsubscribe(id) }
}
