package database

import (
	"context"
	"time"

	"github.com/wardenlabs/timewarden/internal/database/models"
	"github.com/wardenlabs/timewarden/internal/database/service"
	"github.com/wardenlabs/timewarden/internal/database/types"
)

// LedgerFacade combines the ledger model's reads with the ledger service's
// transactional writes behind the single interface the session tracker
// consumes.
type LedgerFacade struct {
	model *models.LedgerModel
	svc   *service.LedgerService
}

// NewLedgerFacade creates the facade over an existing client.
func NewLedgerFacade(client Client) *LedgerFacade {
	return &LedgerFacade{
		model: client.Model().Ledger(),
		svc:   client.Service().Ledger(),
	}
}

// Credit applies a finalized session's month segments.
func (f *LedgerFacade) Credit(
	ctx context.Context, guildID, userID uint64, segments []types.MonthSegment,
) error {
	return f.svc.Credit(ctx, guildID, userID, segments)
}

// GetTotal returns a member's all-time total.
func (f *LedgerFacade) GetTotal(ctx context.Context, guildID, userID uint64) (time.Duration, error) {
	return f.model.GetTotal(ctx, guildID, userID)
}

// GetMonthTotal returns a member's total for one calendar month.
func (f *LedgerFacade) GetMonthTotal(
	ctx context.Context, guildID, userID uint64, year int, month time.Month,
) (time.Duration, error) {
	return f.model.GetMonthTotal(ctx, guildID, userID, year, month)
}

// GetYearTotal returns a member's total for one calendar year.
func (f *LedgerFacade) GetYearTotal(
	ctx context.Context, guildID, userID uint64, year int,
) (time.Duration, error) {
	return f.model.GetYearTotal(ctx, guildID, userID, year)
}

// GetWindowTotal sums the monthly buckets overlapping [from, to].
func (f *LedgerFacade) GetWindowTotal(
	ctx context.Context, guildID, userID uint64, from, to time.Time,
) (time.Duration, error) {
	return f.model.GetWindowTotal(ctx, guildID, userID, from, to)
}

// TopTotals returns the guild's top n all-time entries.
func (f *LedgerFacade) TopTotals(
	ctx context.Context, guildID uint64, n int,
) ([]*types.LedgerEntry, error) {
	return f.model.TopTotals(ctx, guildID, n)
}

// Reset zeroes totals for the given scope.
func (f *LedgerFacade) Reset(
	ctx context.Context, guildID, userID uint64, year int, month time.Month,
) error {
	return f.svc.Reset(ctx, service.ResetOptions{
		GuildID: guildID,
		UserID:  userID,
		Year:    year,
		Month:   month,
	})
}

// Adjust applies a signed administrative delta.
func (f *LedgerFacade) Adjust(
	ctx context.Context, guildID, userID uint64, delta time.Duration, year int, month time.Month,
) error {
	return f.svc.Adjust(ctx, guildID, userID, delta, year, month)
}
