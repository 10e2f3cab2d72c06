package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dgraph-io/badger/v4"
	"github.com/getAlby/knostr.go/db/models"
	"github.com/ziflex/lecho/v3"
	"golang.org/x/sync/errgroup"
)

const (
	eventPrefix     = "ev:"
	timelinePrefix  = "ts:"
	authorKindIndex = "pk:"

	conflictRetries = 5
)

// badgerRecord is the value stored under ev:<id>.
type badgerRecord struct {
	Event   models.Event `json:"event"`
	Deleted bool         `json:"deleted"`
}

// BadgerStore keeps events in an embedded badger database. Keys:
//
//	ev:<id>                                  record
//	ts:<desc created_at><id>                 timeline, newest first
//	pk:<pubkey>:<kind>:<desc created_at><id> replaceable lookups
//
// Only live events have index entries.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens the database at path, or an in-memory one when path
// is empty.
func NewBadgerStore(path string, logger *lecho.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithInMemory(path == "")
	if logger != nil {
		opts = opts.WithLogger(badgerLogger{logger})
	} else {
		opts = opts.WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %q: %w", path, err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Save(ctx context.Context, event *models.Event) error {
	record := badgerRecord{Event: *event}
	if record.Event.Tags == nil {
		record.Event.Tags = models.Tags{}
	}
	value, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		key := eventKey(event.ID)
		if _, err := txn.Get(key); err == nil {
			return ErrDuplicateEvent
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(key, value); err != nil {
			return err
		}
		if err := txn.Set(timelineKey(event), nil); err != nil {
			return err
		}
		return txn.Set(authorKindKey(event), nil)
	})
}

func (s *BadgerStore) ExistsByID(ctx context.Context, id string) (bool, error) {
	exists := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(eventKey(id))
		switch {
		case err == nil:
			exists = true
			return nil
		case errors.Is(err, badger.ErrKeyNotFound):
			return nil
		default:
			return err
		}
	})
	return exists, err
}

func (s *BadgerStore) Filter(ctx context.Context, filters []models.EventFilter) ([]models.Event, error) {
	results := make([][]models.Event, len(filters))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(filterConcurrency)
	for i := range filters {
		i := i
		g.Go(func() error {
			events, err := s.filter(ctx, &filters[i])
			if err != nil {
				return err
			}
			results[i] = events
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return mergeResults(results), nil
}

func (s *BadgerStore) filter(ctx context.Context, filter *models.EventFilter) ([]models.Event, error) {
	limit := filter.EffectiveLimit()
	events := []models.Event{}

	err := s.db.View(func(txn *badger.Txn) error {
		if exactIDs(filter.IDs) {
			for _, id := range filter.IDs {
				record, err := getRecord(txn, id)
				if errors.Is(err, badger.ErrKeyNotFound) {
					continue
				}
				if err != nil {
					return err
				}
				if !record.Deleted && filter.Matches(&record.Event) {
					events = append(events, record.Event)
				}
			}
			return nil
		}

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(timelinePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid() && len(events) < limit; it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := it.Item().Key()
			id := string(key[len(key)-64:])
			record, err := getRecord(txn, id)
			if err != nil {
				return err
			}
			if !record.Deleted && filter.Matches(&record.Event) {
				events = append(events, record.Event)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func (s *BadgerStore) DeleteAll(ctx context.Context, pubkey string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		for _, id := range ids {
			record, err := getRecord(txn, id)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if record.Event.PubKey != pubkey || record.Deleted {
				continue
			}
			if err := markDeleted(txn, record); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) DeleteOldestOfKind(ctx context.Context, pubkey string, kind int) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(fmt.Sprintf("%s%s:%d:", authorKindIndex, pubkey, kind))
		it := txn.NewIterator(opts)

		// the first key is the newest event, every other one goes
		older := []string{}
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			older = append(older, string(key[len(key)-64:]))
		}
		it.Close()
		if len(older) < 2 {
			return nil
		}

		for _, id := range older[1:] {
			record, err := getRecord(txn, id)
			if err != nil {
				return err
			}
			if err := markDeleted(txn, record); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// update retries transactions that lost a write conflict.
func (s *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(5*time.Millisecond), conflictRetries),
		ctx,
	)
	return backoff.Retry(func() error {
		err := s.db.Update(fn)
		if err != nil && !errors.Is(err, badger.ErrConflict) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

func markDeleted(txn *badger.Txn, record *badgerRecord) error {
	record.Deleted = true
	value, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if err := txn.Set(eventKey(record.Event.ID), value); err != nil {
		return err
	}
	if err := txn.Delete(timelineKey(&record.Event)); err != nil {
		return err
	}
	return txn.Delete(authorKindKey(&record.Event))
}

func getRecord(txn *badger.Txn, id string) (*badgerRecord, error) {
	item, err := txn.Get(eventKey(id))
	if err != nil {
		return nil, err
	}
	record := &badgerRecord{}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, record)
	})
	return record, err
}

func exactIDs(ids []string) bool {
	if len(ids) == 0 {
		return false
	}
	for _, id := range ids {
		if len(id) != 64 {
			return false
		}
	}
	return true
}

func eventKey(id string) []byte {
	return []byte(eventPrefix + id)
}

func timelineKey(event *models.Event) []byte {
	return []byte(timelinePrefix + descending(event.CreatedAt) + event.ID)
}

func authorKindKey(event *models.Event) []byte {
	return []byte(fmt.Sprintf("%s%s:%d:%s%s", authorKindIndex, event.PubKey, event.Kind, descending(event.CreatedAt), event.ID))
}

// descending encodes t so that byte order is newest first.
func descending(t int64) string {
	return fmt.Sprintf("%016x", ^(uint64(t) ^ (1 << 63)))
}

// badgerLogger routes badger's logs to the relay logger.
type badgerLogger struct {
	*lecho.Logger
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.Warnf(strings.TrimSuffix(format, "\n"), args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.Debugf(strings.TrimSuffix(format, "\n"), args...)
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.Logger.Errorf(strings.TrimSuffix(format, "\n"), args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.Logger.Debugf(strings.TrimSuffix(format, "\n"), args...)
}
