package service

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/wardenlabs/timewarden/internal/database/dbretry"
	"github.com/wardenlabs/timewarden/internal/database/types"
	"go.uber.org/zap"
)

// LedgerService handles ledger mutations that must touch the all-time and
// monthly stores together.
type LedgerService struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewLedger creates a new ledger service.
func NewLedger(db *bun.DB, logger *zap.Logger) *LedgerService {
	return &LedgerService{
		db:     db,
		logger: logger.Named("ledger_service"),
	}
}

// Credit applies a finalized session's month segments in one transaction so
// the monthly buckets always sum to the all-time total.
func (s *LedgerService) Credit(
	ctx context.Context, guildID, userID uint64, segments []types.MonthSegment,
) error {
	if len(segments) == 0 {
		return nil
	}

	err := dbretry.Transaction(ctx, s.db, func(ctx context.Context, tx bun.Tx) error {
		return creditLedgerTx(ctx, tx, guildID, userID, segments)
	})
	if err != nil {
		return fmt.Errorf("failed to credit ledger: %w", err)
	}

	var delta time.Duration
	for _, seg := range segments {
		delta += seg.Duration
	}

	s.logger.Debug("Credited ledger",
		zap.Uint64("guildID", guildID),
		zap.Uint64("userID", userID),
		zap.Duration("delta", delta),
		zap.Int("segments", len(segments)))

	return nil
}

// Adjust applies a signed administrative delta to the all-time total and the
// targeted month. When no month is given the current UTC month absorbs it.
func (s *LedgerService) Adjust(
	ctx context.Context, guildID, userID uint64, delta time.Duration, year int, month time.Month,
) error {
	if delta == 0 {
		return nil
	}

	if year == 0 {
		now := time.Now().UTC()
		year, month = now.Year(), now.Month()
	}

	segments := []types.MonthSegment{{Year: year, Month: month, Duration: delta}}

	err := dbretry.Transaction(ctx, s.db, func(ctx context.Context, tx bun.Tx) error {
		return creditLedgerTx(ctx, tx, guildID, userID, segments)
	})
	if err != nil {
		return fmt.Errorf("failed to adjust ledger: %w", err)
	}

	s.logger.Info("Adjusted ledger",
		zap.Uint64("guildID", guildID),
		zap.Uint64("userID", userID),
		zap.Duration("delta", delta),
		zap.Int("year", year),
		zap.Int("month", int(month)))

	return nil
}

// creditLedgerTx applies month segments inside an existing transaction,
// updating the all-time entry and every touched monthly bucket.
func creditLedgerTx(
	ctx context.Context, tx bun.Tx, guildID, userID uint64, segments []types.MonthSegment,
) error {
	var delta time.Duration
	for _, seg := range segments {
		delta += seg.Duration
	}

	entry := &types.LedgerEntry{GuildID: guildID, UserID: userID, Total: delta}

	_, err := tx.NewInsert().
		Model(entry).
		On("CONFLICT (guild_id, user_id) DO UPDATE").
		Set("total = ledger_entry.total + EXCLUDED.total").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to credit ledger entry: %w", err)
	}

	for _, seg := range segments {
		monthly := &types.MonthlyLedgerEntry{
			GuildID: guildID,
			UserID:  userID,
			Year:    seg.Year,
			Month:   int(seg.Month),
			Total:   seg.Duration,
		}

		_, err := tx.NewInsert().
			Model(monthly).
			On("CONFLICT (guild_id, user_id, year, month) DO UPDATE").
			Set("total = monthly_ledger_entry.total + EXCLUDED.total").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to credit monthly ledger entry: %w", err)
		}
	}

	return nil
}

// ResetOptions narrows a reset to one member, one month or one year. Zero
// values widen the scope: a zero UserID resets the whole guild, a zero Year
// resets all time.
type ResetOptions struct {
	GuildID uint64
	UserID  uint64
	Year    int
	Month   time.Month
}

// Reset zeroes totals in both stores for the given scope. A scoped reset
// (month or year) subtracts the removed amount from the all-time totals; a
// full reset deletes the rows outright.
func (s *LedgerService) Reset(ctx context.Context, opts ResetOptions) error {
	err := dbretry.Transaction(ctx, s.db, func(ctx context.Context, tx bun.Tx) error {
		monthly := tx.NewSelect().
			Model((*types.MonthlyLedgerEntry)(nil)).
			Where("guild_id = ?", opts.GuildID)

		if opts.UserID != 0 {
			monthly = monthly.Where("user_id = ?", opts.UserID)
		}

		if opts.Year != 0 {
			monthly = monthly.Where("year = ?", opts.Year)

			if opts.Month != 0 {
				monthly = monthly.Where("month = ?", int(opts.Month))
			}
		}

		var removed []*types.MonthlyLedgerEntry
		if err := monthly.Scan(ctx, &removed); err != nil {
			return fmt.Errorf("failed to collect entries for reset: %w", err)
		}

		if opts.Year == 0 {
			// Full reset - drop both stores for the scope.
			allTime := tx.NewDelete().
				Model((*types.LedgerEntry)(nil)).
				Where("guild_id = ?", opts.GuildID)
			if opts.UserID != 0 {
				allTime = allTime.Where("user_id = ?", opts.UserID)
			}

			if _, err := allTime.Exec(ctx); err != nil {
				return fmt.Errorf("failed to reset ledger entries: %w", err)
			}
		} else {
			// Scoped reset - subtract the removed buckets from the
			// all-time totals so the stores stay consistent.
			for _, entry := range removed {
				_, err := tx.NewUpdate().
					Model((*types.LedgerEntry)(nil)).
					Set("total = GREATEST(total - ?, 0)", int64(entry.Total)).
					Where("guild_id = ?", entry.GuildID).
					Where("user_id = ?", entry.UserID).
					Exec(ctx)
				if err != nil {
					return fmt.Errorf("failed to subtract reset bucket: %w", err)
				}
			}
		}

		if len(removed) > 0 {
			del := tx.NewDelete().
				Model((*types.MonthlyLedgerEntry)(nil)).
				Where("guild_id = ?", opts.GuildID)

			if opts.UserID != 0 {
				del = del.Where("user_id = ?", opts.UserID)
			}

			if opts.Year != 0 {
				del = del.Where("year = ?", opts.Year)

				if opts.Month != 0 {
					del = del.Where("month = ?", int(opts.Month))
				}
			}

			if _, err := del.Exec(ctx); err != nil {
				return fmt.Errorf("failed to reset monthly entries: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to reset ledger: %w", err)
	}

	s.logger.Info("Reset ledger",
		zap.Uint64("guildID", opts.GuildID),
		zap.Uint64("userID", opts.UserID),
		zap.Int("year", opts.Year),
		zap.Int("month", int(opts.Month)))

	return nil
}
