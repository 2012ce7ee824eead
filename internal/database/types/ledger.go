package types

import "time"

// LedgerEntry holds the all-time accumulated tracked duration for a member.
// Totals only decrease through explicit administrative resets or adjustments.
type LedgerEntry struct {
	GuildID uint64        `bun:",pk"`
	UserID  uint64        `bun:",pk"`
	Total   time.Duration `bun:",notnull,default:0"`
}

// MonthlyLedgerEntry holds the accumulated tracked duration for one UTC
// calendar month. Summing a member's months yields their LedgerEntry total,
// up to administrative adjustments which update both stores together.
type MonthlyLedgerEntry struct {
	GuildID uint64        `bun:",pk"`
	UserID  uint64        `bun:",pk"`
	Year    int           `bun:",pk"`
	Month   int           `bun:",pk"`
	Total   time.Duration `bun:",notnull,default:0"`
}

// MonthSegment is one month's share of a finalized session, produced by
// splitting the session across UTC calendar month boundaries.
type MonthSegment struct {
	Year     int
	Month    time.Month
	Duration time.Duration
}
