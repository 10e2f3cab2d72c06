package service

import (
	"sync"

	"github.com/getAlby/knostr.go/db/models"
	"github.com/google/uuid"
)

const feedBufferSize = 1000

// EventFeed fans accepted events out to in-process consumers such as the
// broker exporter. Publishing never blocks: a consumer whose buffer is full
// misses the event.
type EventFeed struct {
	mu   sync.RWMutex
	subs map[string]chan *models.Event
}

func NewEventFeed() *EventFeed {
	return &EventFeed{subs: make(map[string]chan *models.Event)}
}

func (f *EventFeed) Subscribe() (string, <-chan *models.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.NewString()
	ch := make(chan *models.Event, feedBufferSize)
	f.subs[id] = ch
	return id, ch
}

func (f *EventFeed) Unsubscribe(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.subs[id]; ok {
		delete(f.subs, id)
		close(ch)
	}
}

// Publish returns the number of consumers that could not take the event.
func (f *EventFeed) Publish(event *models.Event) (missed int) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, ch := range f.subs {
		select {
		case ch <- event:
		default:
			missed++
		}
	}
	return missed
}
