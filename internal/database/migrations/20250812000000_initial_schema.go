package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/wardenlabs/timewarden/internal/database/types"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		models := []any{
			(*types.LedgerEntry)(nil),
			(*types.MonthlyLedgerEntry)(nil),
			(*types.RoleAssignment)(nil),
			(*types.Warning)(nil),
			(*types.RoleTrackingConfig)(nil),
			(*types.GuildSettings)(nil),
		}

		for _, model := range models {
			_, err := db.NewCreateTable().
				Model(model).
				IfNotExists().
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("failed to create table %T: %w", model, err)
			}
		}

		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		models := []any{
			(*types.GuildSettings)(nil),
			(*types.RoleTrackingConfig)(nil),
			(*types.Warning)(nil),
			(*types.RoleAssignment)(nil),
			(*types.MonthlyLedgerEntry)(nil),
			(*types.LedgerEntry)(nil),
		}

		for _, model := range models {
			_, err := db.NewDropTable().
				Model(model).
				IfExists().
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("failed to drop table %T: %w", model, err)
			}
		}

		return nil
	})
}
