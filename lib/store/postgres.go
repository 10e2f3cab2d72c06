package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/getAlby/knostr.go/db/models"
	"github.com/samber/lo"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"
	"golang.org/x/sync/errgroup"
)

const (
	pgUniqueViolation = "23505"
	// smallest page scanned per filter, small limits still over-fetch
	minPageSize = 100
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

type PostgresStore struct {
	db *bun.DB
}

func NewPostgresStore(db *bun.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Save(ctx context.Context, event *models.Event) error {
	if event.Tags == nil {
		event.Tags = models.Tags{}
	}
	_, err := s.db.NewInsert().Model(event).Exec(ctx)
	if isUniqueViolation(err) {
		return ErrDuplicateEvent
	}
	return err
}

func (s *PostgresStore) ExistsByID(ctx context.Context, id string) (bool, error) {
	return s.db.NewSelect().
		Model((*models.Event)(nil)).
		Where("event_id = ?", id).
		Exists(ctx)
}

func (s *PostgresStore) Filter(ctx context.Context, filters []models.EventFilter) ([]models.Event, error) {
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

// filter pages through the SQL candidates until limit of them pass Matches.
// Tag containment ignores element order and search is a substring match, so
// the SQL side may return rows Matches rejects.
func (s *PostgresStore) filter(ctx context.Context, filter *models.EventFilter) ([]models.Event, error) {
	limit := filter.EffectiveLimit()
	pageSize := lo.Clamp(limit, minPageSize, models.MaxLimit)
	matched := []models.Event{}

	for offset := 0; len(matched) < limit; offset += pageSize {
		page := []models.Event{}
		err := s.candidates(filter, &page).
			OrderExpr("created_at DESC, event_id ASC").
			Limit(pageSize).
			Offset(offset).
			Scan(ctx)
		if err != nil {
			return nil, err
		}
		matched = append(matched, lo.Filter(page, func(event models.Event, _ int) bool {
			return filter.Matches(&event)
		})...)
		if len(page) < pageSize {
			break
		}
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *PostgresStore) candidates(filter *models.EventFilter, dest *[]models.Event) *bun.SelectQuery {
	query := s.db.NewSelect().Model(dest).Where("deleted = false")

	if len(filter.IDs) > 0 {
		query = query.WhereGroup(" AND ", prefixGroup("event_id", filter.IDs))
	}
	if len(filter.Authors) > 0 {
		query = query.WhereGroup(" AND ", prefixGroup("pubkey", filter.Authors))
	}
	if len(filter.Kinds) > 0 {
		query = query.Where("kind IN (?)", bun.In(filter.Kinds))
	}
	if filter.Since != nil {
		query = query.Where("created_at >= ?", *filter.Since)
	}
	if filter.Until != nil {
		query = query.Where("created_at <= ?", *filter.Until)
	}
	for key, values := range filter.Tags {
		if len(values) == 0 {
			continue
		}
		key, values := key, values
		query = query.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			for _, value := range values {
				tag, _ := json.Marshal([][]string{{key, value}})
				q = q.WhereOr("tags @> ?::jsonb", string(tag))
			}
			return q
		})
	}
	for _, keyword := range filter.SearchKeywords() {
		// keywords are ASCII alphanumeric, so a plain pattern is a substring match
		query = query.Where("content ~* ?", keyword)
	}
	return query
}

func (s *PostgresStore) DeleteAll(ctx context.Context, pubkey string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.NewUpdate().
		Model((*models.Event)(nil)).
		Set("deleted = true").
		Where("pubkey = ?", pubkey).
		Where("event_id IN (?)", bun.In(ids)).
		Exec(ctx)
	return err
}

func (s *PostgresStore) DeleteOldestOfKind(ctx context.Context, pubkey string, kind int) error {
	newest := s.db.NewSelect().
		Model((*models.Event)(nil)).
		Column("event_id").
		Where("pubkey = ?", pubkey).
		Where("kind = ?", kind).
		Where("deleted = false").
		OrderExpr("created_at DESC, event_id ASC").
		Limit(1)

	_, err := s.db.NewUpdate().
		Model((*models.Event)(nil)).
		Set("deleted = true").
		Where("pubkey = ?", pubkey).
		Where("kind = ?", kind).
		Where("deleted = false").
		Where("event_id <> (?)", newest).
		Exec(ctx)
	return err
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func prefixGroup(column string, prefixes []string) func(q *bun.SelectQuery) *bun.SelectQuery {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		for _, prefix := range prefixes {
			q = q.WhereOr("? LIKE ?", bun.Ident(column), likeEscaper.Replace(prefix)+"%")
		}
		return q
	}
}

func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('C') == pgUniqueViolation
	}
	return false
}
