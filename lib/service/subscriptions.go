package service

import (
	"context"
	"sync"

	"github.com/getAlby/knostr.go/db/models"
	"github.com/getAlby/knostr.go/lib/responses"
	"github.com/getAlby/knostr.go/lib/store"
	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/ziflex/lecho/v3"
)

// MaxPendingEvents bounds the live events held for a subscription while its
// stored events are still being sent.
const MaxPendingEvents = 1000

type subscription struct {
	id      string
	session Session
	filters []models.EventFilter

	mu        sync.Mutex
	replaying bool
	pending   []*models.Event
}

// offer holds event back while stored events are still being sent. held is
// false once the subscription is live; overflow means the event was dropped.
func (s *subscription) offer(event *models.Event) (held bool, overflow bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.replaying {
		return false, false
	}
	if len(s.pending) >= MaxPendingEvents {
		return true, true
	}
	s.pending = append(s.pending, event)
	return true, false
}

// SubscriptionRegistry maps session id -> subscription id -> subscription.
type SubscriptionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]map[string]*subscription

	store      store.EventStore
	dispatcher *Dispatcher
	logger     *lecho.Logger
}

func NewSubscriptionRegistry(eventStore store.EventStore, dispatcher *Dispatcher, logger *lecho.Logger, registerer prometheus.Registerer) *SubscriptionRegistry {
	r := &SubscriptionRegistry{
		sessions:   make(map[string]map[string]*subscription),
		store:      eventStore,
		dispatcher: dispatcher,
		logger:     logger,
	}
	if registerer != nil {
		registerer.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "knostr_subscriptions",
			Help: "Live subscriptions across all sessions.",
		}, func() float64 { return float64(r.Count()) }))
	}
	return r
}

// Subscribe registers (or replaces) subID for session, sends the stored
// events matching filters followed by EOSE, and then the live events that
// matched in the meantime.
func (r *SubscriptionRegistry) Subscribe(ctx context.Context, subID string, session Session, filters []models.EventFilter) {
	sub := &subscription{
		id:        subID,
		session:   session,
		filters:   filters,
		replaying: true,
	}
	r.mu.Lock()
	if r.sessions[session.ID()] == nil {
		r.sessions[session.ID()] = make(map[string]*subscription)
	}
	r.sessions[session.ID()][subID] = sub
	r.mu.Unlock()

	sent := make(map[string]struct{})
	events, err := r.store.Filter(ctx, filters)
	if err != nil {
		r.logger.Errorf("Failed to load stored events for subscription %s: %v", subID, err)
		sentry.CaptureException(err)
	}
	for i := range events {
		if !session.IsOpen() {
			break
		}
		r.dispatcher.SendNow(ctx, responses.EventMessage(subID, &events[i]), session)
		sent[events[i].ID] = struct{}{}
	}
	r.dispatcher.SendNow(ctx, responses.EndOfStoredEvents(subID), session)

	// drain until nothing new was held back, then go live
	for {
		sub.mu.Lock()
		pending := sub.pending
		sub.pending = nil
		if len(pending) == 0 {
			sub.replaying = false
			sub.mu.Unlock()
			return
		}
		sub.mu.Unlock()

		for _, event := range pending {
			if _, ok := sent[event.ID]; ok {
				continue
			}
			sent[event.ID] = struct{}{}
			r.dispatcher.SendLater(responses.EventMessage(subID, event), session)
		}
	}
}

func (r *SubscriptionRegistry) Unsubscribe(subID string, session Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs := r.sessions[session.ID()]
	if subs == nil {
		return
	}
	delete(subs, subID)
	if len(subs) == 0 {
		delete(r.sessions, session.ID())
	}
}

func (r *SubscriptionRegistry) UnsubscribeAll(session Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, session.ID())
}

// Notify schedules event for every open subscription, other than the ones of
// origin, with a matching filter. It returns the number of subscriptions
// the event was handed to.
func (r *SubscriptionRegistry) Notify(event *models.Event, origin Session) int {
	originID := ""
	if origin != nil {
		originID = origin.ID()
	}

	r.mu.RLock()
	targets := []*subscription{}
	for sessionID, subs := range r.sessions {
		if sessionID == originID {
			continue
		}
		for _, sub := range subs {
			if sub.session.IsOpen() && models.MatchesAny(sub.filters, event) {
				targets = append(targets, sub)
			}
		}
	}
	r.mu.RUnlock()

	for _, sub := range targets {
		held, overflow := sub.offer(event)
		if overflow {
			r.logger.Warnf("Subscription %s of session %s has too many pending events, dropping %s", sub.id, sub.session.ID(), event.ID)
		}
		if held {
			continue
		}
		r.dispatcher.SendLater(responses.EventMessage(sub.id, event), sub.session)
	}
	return len(targets)
}

// Count returns the number of live subscriptions.
func (r *SubscriptionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, subs := range r.sessions {
		count += len(subs)
	}
	return count
}
