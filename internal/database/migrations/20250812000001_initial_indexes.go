package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		indexes := []string{
			"CREATE INDEX IF NOT EXISTS idx_monthly_ledger_guild_month ON monthly_ledger_entries (guild_id, year, month, total DESC)",
			"CREATE INDEX IF NOT EXISTS idx_ledger_guild_total ON ledger_entries (guild_id, total DESC)",
			"CREATE INDEX IF NOT EXISTS idx_role_assignments_guild_user ON role_assignments (guild_id, user_id)",
			"CREATE INDEX IF NOT EXISTS idx_warnings_guild_user ON warnings (guild_id, user_id)",
		}

		for _, idx := range indexes {
			if _, err := db.NewRaw(idx).Exec(ctx); err != nil {
				return fmt.Errorf("failed to create index: %w", err)
			}
		}

		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		indexes := []string{
			"DROP INDEX IF EXISTS idx_monthly_ledger_guild_month",
			"DROP INDEX IF EXISTS idx_ledger_guild_total",
			"DROP INDEX IF EXISTS idx_role_assignments_guild_user",
			"DROP INDEX IF EXISTS idx_warnings_guild_user",
		}

		for _, idx := range indexes {
			if _, err := db.NewRaw(idx).Exec(ctx); err != nil {
				return fmt.Errorf("failed to drop index: %w", err)
			}
		}

		return nil
	})
}
