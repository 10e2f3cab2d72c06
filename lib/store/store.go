//go:generate mockgen -destination=./mock_store/store.go -package=mock_store github.com/getAlby/knostr.go/lib/store EventStore
package store

import (
	"context"
	"errors"
	"sort"

	"github.com/getAlby/knostr.go/db/models"
)

// ErrDuplicateEvent is returned by Save when an event with the same id was
// stored before, deleted or not.
var ErrDuplicateEvent = errors.New("event already exists")

// EventStore persists events. Deletes are soft: a deleted id still exists.
type EventStore interface {
	Save(ctx context.Context, event *models.Event) error
	ExistsByID(ctx context.Context, id string) (bool, error)
	// Filter returns live events matching any of the filters, newest first.
	Filter(ctx context.Context, filters []models.EventFilter) ([]models.Event, error)
	// DeleteAll marks the given ids as deleted, only when owned by pubkey.
	DeleteAll(ctx context.Context, pubkey string, ids []string) error
	// DeleteOldestOfKind keeps the newest event of (pubkey, kind) and
	// marks the others as deleted.
	DeleteOldestOfKind(ctx context.Context, pubkey string, kind int) error
	Close() error
}

// filterConcurrency bounds how many filters of a single REQ are queried at
// the same time.
const filterConcurrency = 5

// mergeResults unions per-filter results, drops duplicate ids and orders
// them by created_at desc with id asc as tie-break, capped at MaxLimit.
func mergeResults(results [][]models.Event) []models.Event {
	seen := make(map[string]struct{})
	merged := []models.Event{}
	for _, events := range results {
		for _, event := range events {
			if _, ok := seen[event.ID]; ok {
				continue
			}
			seen[event.ID] = struct{}{}
			merged = append(merged, event)
		}
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].CreatedAt != merged[j].CreatedAt {
			return merged[i].CreatedAt > merged[j].CreatedAt
		}
		return merged[i].ID < merged[j].ID
	})
	if len(merged) > models.MaxLimit {
		merged = merged[:models.MaxLimit]
	}
	return merged
}
