package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		if db.Dialect().Name().String() != "pg" {
			fmt.Printf("\033[1;31m%s\033[0m", "You are not using PostgreSQL. The tags index can not be created!\n")
			return nil
		}
		// used by the tags @> '[["e","<id>"]]' containment lookups
		_, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS events_tags_idx ON events USING GIN (tags jsonb_path_ops);`)
		return err
	}, nil)
}
