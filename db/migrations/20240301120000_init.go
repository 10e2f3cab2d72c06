package migrations

import (
	"context"

	"github.com/getAlby/knostr.go/db/models"
	"github.com/uptrace/bun"
)

/* Since this init will reflect the latest model fields when run on fresh db
make sure that when you add/remove columns in subsequent migrations IfNotExists/IfExists is used
otherwise it's going to result in errors.
*/
func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		if _, err := db.NewCreateTable().Model((*models.Event)(nil)).IfNotExists().Exec(ctx); err != nil {
			return err
		}

		indexes := []struct {
			name    string
			columns []string
		}{
			{"events_pubkey_idx", []string{"pubkey"}},
			{"events_kind_idx", []string{"kind"}},
			{"events_created_at_idx", []string{"created_at"}},
			{"events_pubkey_kind_idx", []string{"pubkey", "kind"}},
		}
		for _, index := range indexes {
			_, err := db.NewCreateIndex().
				Model((*models.Event)(nil)).
				Index(index.name).
				Column(index.columns...).
				IfNotExists().
				Exec(ctx)
			if err != nil {
				return err
			}
		}
		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		_, err := db.NewDropTable().Model((*models.Event)(nil)).IfExists().Exec(ctx)
		return err
	})
}
