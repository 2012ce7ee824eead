package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/wardenlabs/timewarden/internal/database/dbretry"
	"github.com/wardenlabs/timewarden/internal/database/types"
	"go.uber.org/zap"
)

// LedgerModel handles database operations for accumulated tracked time,
// both all-time and per UTC calendar month.
type LedgerModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewLedger creates a new ledger model instance.
func NewLedger(db *bun.DB, logger *zap.Logger) *LedgerModel {
	return &LedgerModel{
		db:     db,
		logger: logger.Named("db_ledger"),
	}
}

// GetTotal returns a member's all-time accumulated duration. Members with
// no ledger row have a zero total.
func (m *LedgerModel) GetTotal(ctx context.Context, guildID, userID uint64) (time.Duration, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (time.Duration, error) {
		entry := new(types.LedgerEntry)

		err := m.db.NewSelect().
			Model(entry).
			Where("guild_id = ?", guildID).
			Where("user_id = ?", userID).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}

		if err != nil {
			return 0, fmt.Errorf("failed to get ledger total: %w", err)
		}

		return entry.Total, nil
	})
}

// GetMonthTotal returns a member's accumulated duration for one UTC month.
func (m *LedgerModel) GetMonthTotal(
	ctx context.Context, guildID, userID uint64, year int, month time.Month,
) (time.Duration, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (time.Duration, error) {
		entry := new(types.MonthlyLedgerEntry)

		err := m.db.NewSelect().
			Model(entry).
			Where("guild_id = ?", guildID).
			Where("user_id = ?", userID).
			Where("year = ?", year).
			Where("month = ?", int(month)).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}

		if err != nil {
			return 0, fmt.Errorf("failed to get monthly ledger total: %w", err)
		}

		return entry.Total, nil
	})
}

// GetYearTotal returns a member's accumulated duration summed over one year.
func (m *LedgerModel) GetYearTotal(
	ctx context.Context, guildID, userID uint64, year int,
) (time.Duration, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (time.Duration, error) {
		var total int64

		err := m.db.NewSelect().
			Model((*types.MonthlyLedgerEntry)(nil)).
			ColumnExpr("COALESCE(SUM(total), 0)").
			Where("guild_id = ?", guildID).
			Where("user_id = ?", userID).
			Where("year = ?", year).
			Scan(ctx, &total)
		if err != nil {
			return 0, fmt.Errorf("failed to get yearly ledger total: %w", err)
		}

		return time.Duration(total), nil
	})
}

// GetWindowTotal sums the monthly buckets overlapping [from, to]. Bucket
// granularity is one calendar month, so the window is widened to whole
// months on both ends.
func (m *LedgerModel) GetWindowTotal(
	ctx context.Context, guildID, userID uint64, from, to time.Time,
) (time.Duration, error) {
	if to.Before(from) {
		return 0, nil
	}

	fromYear, fromMonth, _ := from.UTC().Date()
	toYear, toMonth, _ := to.UTC().Date()

	return dbretry.Operation(ctx, func(ctx context.Context) (time.Duration, error) {
		var total int64

		err := m.db.NewSelect().
			Model((*types.MonthlyLedgerEntry)(nil)).
			ColumnExpr("COALESCE(SUM(total), 0)").
			Where("guild_id = ?", guildID).
			Where("user_id = ?", userID).
			Where("(year, month) >= (?, ?)", fromYear, int(fromMonth)).
			Where("(year, month) <= (?, ?)", toYear, int(toMonth)).
			Scan(ctx, &total)
		if err != nil {
			return 0, fmt.Errorf("failed to get ledger window total: %w", err)
		}

		return time.Duration(total), nil
	})
}

// TopTotals returns the guild's all-time entries ordered by descending
// duration, limited to n rows. Ties keep a stable user id order.
func (m *LedgerModel) TopTotals(ctx context.Context, guildID uint64, n int) ([]*types.LedgerEntry, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.LedgerEntry, error) {
		var entries []*types.LedgerEntry

		err := m.db.NewSelect().
			Model(&entries).
			Where("guild_id = ?", guildID).
			Where("total > 0").
			Order("total DESC", "user_id ASC").
			Limit(n).
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get top ledger totals: %w", err)
		}

		return entries, nil
	})
}

// TopMonthTotals returns the guild's entries for one UTC month ordered by
// descending duration, limited to n rows.
func (m *LedgerModel) TopMonthTotals(
	ctx context.Context, guildID uint64, year int, month time.Month, n int,
) ([]*types.MonthlyLedgerEntry, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.MonthlyLedgerEntry, error) {
		var entries []*types.MonthlyLedgerEntry

		err := m.db.NewSelect().
			Model(&entries).
			Where("guild_id = ?", guildID).
			Where("year = ?", year).
			Where("month = ?", int(month)).
			Where("total > 0").
			Order("total DESC", "user_id ASC").
			Limit(n).
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get top monthly ledger totals: %w", err)
		}

		return entries, nil
	})
}
