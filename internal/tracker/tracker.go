// Package tracker owns the in-memory table of active tracking sessions and
// converts zone enter/move/exit signals into durable ledger credits.
package tracker

import (
	"context"
	"fmt"
	"hash/maphash"
	"sort"
	"sync"
	"time"

	"github.com/wardenlabs/timewarden/internal/database/types"
	"github.com/wardenlabs/timewarden/internal/sessions"
	"go.uber.org/zap"
)

// minSessionDuration is the noise floor: sessions shorter than this are
// discarded without touching the ledger, absorbing rapid join/leave churn.
const minSessionDuration = 3 * time.Second

// lockStripes fixes the size of the striped lock table used to serialize
// operations per (guild, user).
const lockStripes = 256

// Ledger is the durable accumulated-time store the tracker writes into.
// Implemented by the database client's ledger facade.
type Ledger interface {
	Credit(ctx context.Context, guildID, userID uint64, segments []types.MonthSegment) error
	GetTotal(ctx context.Context, guildID, userID uint64) (time.Duration, error)
	GetMonthTotal(ctx context.Context, guildID, userID uint64, year int, month time.Month) (time.Duration, error)
	GetYearTotal(ctx context.Context, guildID, userID uint64, year int) (time.Duration, error)
	GetWindowTotal(ctx context.Context, guildID, userID uint64, from, to time.Time) (time.Duration, error)
	TopTotals(ctx context.Context, guildID uint64, n int) ([]*types.LedgerEntry, error)
	Reset(ctx context.Context, guildID, userID uint64, year int, month time.Month) error
	Adjust(ctx context.Context, guildID, userID uint64, delta time.Duration, year int, month time.Month) error
}

// SuspendChecker reports whether a member's time accrual is suspended.
// Implemented by the pause controller; bound after construction to break
// the dependency cycle between tracker and controller.
type SuspendChecker interface {
	Suspended(guildID, userID uint64) bool
}

// FinalizeHook runs after a session was credited to the ledger. Used for
// downstream collaborators like completion logs and promotion checks.
type FinalizeHook func(ctx context.Context, guildID, userID, channelID uint64, delta time.Duration)

type sessionKey struct {
	guildID uint64
	userID  uint64
}

type activeSession struct {
	channelID uint64
	startedAt time.Time
}

// RankedEntry is one row of a merged live ranking.
type RankedEntry struct {
	UserID uint64
	Total  time.Duration
}

// Tracker converts occupancy signals into ledger deltas. All operations
// for the same (guild, user) are serialized through a striped lock table.
type Tracker struct {
	store   *sessions.Store
	ledger  Ledger
	suspend SuspendChecker
	logger  *zap.Logger
	clock   func() time.Time

	mu     sync.RWMutex
	active map[sessionKey]*activeSession

	seed    maphash.Seed
	stripes [lockStripes]sync.Mutex

	hookMu sync.RWMutex
	hooks  []FinalizeHook
}

// New creates a session tracker. The suspend checker is bound separately
// via BindSuspendChecker once the pause controller exists.
func New(store *sessions.Store, ledger Ledger, logger *zap.Logger) *Tracker {
	return &Tracker{
		store:  store,
		ledger: ledger,
		logger: logger.Named("tracker"),
		clock:  time.Now,
		active: make(map[sessionKey]*activeSession),
		seed:   maphash.MakeSeed(),
	}
}

// BindSuspendChecker wires the pause controller in after construction.
func (t *Tracker) BindSuspendChecker(suspend SuspendChecker) {
	t.suspend = suspend
}

// SetClock replaces the time source. Intended for tests.
func (t *Tracker) SetClock(clock func() time.Time) {
	t.clock = clock
}

// AddFinalizeHook registers a callback invoked after each credited session.
func (t *Tracker) AddFinalizeHook(hook FinalizeHook) {
	t.hookMu.Lock()
	defer t.hookMu.Unlock()

	t.hooks = append(t.hooks, hook)
}

// lock serializes all mutations for one (guild, user) key.
func (t *Tracker) lock(key sessionKey) func() {
	var h maphash.Hash

	h.SetSeed(t.seed)
	h.WriteByte(byte(key.guildID))
	h.WriteByte(byte(key.guildID >> 32))
	h.WriteByte(byte(key.userID))
	h.WriteByte(byte(key.userID >> 32))

	stripe := &t.stripes[h.Sum64()%lockStripes]
	stripe.Lock()

	return stripe.Unlock
}

func (t *Tracker) getSession(key sessionKey) (*activeSession, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	sess, ok := t.active[key]

	return sess, ok
}

func (t *Tracker) isSuspended(guildID, userID uint64) bool {
	return t.suspend != nil && t.suspend.Suspended(guildID, userID)
}

// Start opens a session for a member entering a tracked zone. A second
// start signal for an already-open session is a no-op so reconciliation
// racing a live event cannot reset the clock.
func (t *Tracker) Start(ctx context.Context, guildID, userID, channelID uint64) error {
	key := sessionKey{guildID, userID}

	unlock := t.lock(key)
	defer unlock()

	if _, exists := t.getSession(key); exists {
		t.logger.Debug("Ignoring duplicate session start",
			zap.Uint64("guildID", guildID),
			zap.Uint64("userID", userID))

		return nil
	}

	startedAt := t.clock()

	t.mu.Lock()
	t.active[key] = &activeSession{channelID: channelID, startedAt: startedAt}
	t.mu.Unlock()

	record := &sessions.Record{
		GuildID:   guildID,
		UserID:    userID,
		ChannelID: channelID,
		StartedAt: startedAt,
	}

	// A failed record write bounds crash loss to this one session; the
	// in-memory session keeps tracking regardless.
	if err := t.store.Put(ctx, record); err != nil {
		t.logger.Error("Failed to persist session record",
			zap.Uint64("guildID", guildID),
			zap.Uint64("userID", userID),
			zap.Error(err))
	}

	t.logger.Debug("Session started",
		zap.Uint64("guildID", guildID),
		zap.Uint64("userID", userID),
		zap.Uint64("channelID", channelID))

	return nil
}

// Move updates the session's location for a member transitioning between
// two tracked zones. The start time is preserved so no time is lost or
// double counted. Without an open session nothing happens and moved is
// false; the caller starts a fresh session instead.
func (t *Tracker) Move(ctx context.Context, guildID, userID, newChannelID uint64) (bool, error) {
	key := sessionKey{guildID, userID}

	unlock := t.lock(key)
	defer unlock()

	sess, ok := t.getSession(key)
	if !ok {
		t.logger.Debug("Ignoring move without open session",
			zap.Uint64("guildID", guildID),
			zap.Uint64("userID", userID))

		return false, nil
	}

	t.mu.Lock()
	sess.channelID = newChannelID
	t.mu.Unlock()

	record := &sessions.Record{
		GuildID:   guildID,
		UserID:    userID,
		ChannelID: newChannelID,
		StartedAt: sess.startedAt,
	}
	if err := t.store.Put(ctx, record); err != nil {
		t.logger.Error("Failed to update session record",
			zap.Uint64("guildID", guildID),
			zap.Uint64("userID", userID),
			zap.Error(err))
	}

	return true, nil
}

// Finalize closes the session for a member exiting a tracked zone and
// credits the elapsed time to the ledger. The in-memory session is removed
// before any persistence so a retry can never double-credit; a ledger
// failure therefore undercounts rather than risking a double write.
func (t *Tracker) Finalize(ctx context.Context, guildID, userID, channelID uint64) error {
	key := sessionKey{guildID, userID}

	unlock := t.lock(key)
	defer unlock()

	return t.finalizeLocked(ctx, guildID, userID, channelID)
}

// finalizeLocked is Finalize's body. The caller must hold the stripe lock
// for (guildID, userID).
func (t *Tracker) finalizeLocked(ctx context.Context, guildID, userID, channelID uint64) error {
	key := sessionKey{guildID, userID}

	t.mu.Lock()

	sess, ok := t.active[key]
	if ok {
		delete(t.active, key)
	}

	t.mu.Unlock()

	if !ok {
		return nil
	}

	if err := t.store.Delete(ctx, guildID, userID); err != nil {
		t.logger.Error("Failed to delete session record",
			zap.Uint64("guildID", guildID),
			zap.Uint64("userID", userID),
			zap.Error(err))
	}

	now := t.clock()
	delta := now.Sub(sess.startedAt)

	if delta < minSessionDuration {
		t.logger.Debug("Discarding short session",
			zap.Uint64("guildID", guildID),
			zap.Uint64("userID", userID),
			zap.Duration("delta", delta))

		return nil
	}

	if t.isSuspended(guildID, userID) {
		// Time accrued before the suspension began is deliberately not
		// credited; the whole session is void.
		t.logger.Info("Discarding session of suspended member",
			zap.Uint64("guildID", guildID),
			zap.Uint64("userID", userID),
			zap.Duration("delta", delta))

		return nil
	}

	segments := SplitAcrossMonths(sess.startedAt, now)

	if err := t.ledger.Credit(ctx, guildID, userID, segments); err != nil {
		t.logger.Error("Failed to credit session to ledger",
			zap.Uint64("guildID", guildID),
			zap.Uint64("userID", userID),
			zap.Duration("delta", delta),
			zap.Error(err))

		return fmt.Errorf("failed to credit session: %w", err)
	}

	t.logger.Debug("Session finalized",
		zap.Uint64("guildID", guildID),
		zap.Uint64("userID", userID),
		zap.Uint64("channelID", channelID),
		zap.Duration("delta", delta))

	t.hookMu.RLock()
	hooks := t.hooks
	t.hookMu.RUnlock()

	for _, hook := range hooks {
		hook(ctx, guildID, userID, channelID, delta)
	}

	return nil
}

// Reconcile aligns the session table with the actually observed occupants
// of a guild's tracked zones after a restart. Occupants with a persisted
// record resume their old clock; occupants without one start fresh at now,
// accepting the bounded loss of downtime. Stale records of absent members
// are finalized at their last known location, or dropped outright when the
// member can no longer be resolved.
func (t *Tracker) Reconcile(
	ctx context.Context, guildID uint64, observed map[uint64]uint64, resolvable func(userID uint64) bool,
) error {
	records, err := t.store.All(ctx, guildID)
	if err != nil {
		return fmt.Errorf("failed to load session records: %w", err)
	}

	for userID, channelID := range observed {
		key := sessionKey{guildID, userID}

		unlock := t.lock(key)

		if _, exists := t.getSession(key); exists {
			unlock()
			continue
		}

		if record, ok := records[userID]; ok {
			// The member stayed put across the restart; resume their clock.
			t.mu.Lock()
			t.active[key] = &activeSession{channelID: channelID, startedAt: record.StartedAt}
			t.mu.Unlock()
			unlock()

			t.logger.Info("Resumed session from crash record",
				zap.Uint64("guildID", guildID),
				zap.Uint64("userID", userID),
				zap.Time("startedAt", record.StartedAt))

			continue
		}

		unlock()

		if err := t.Start(ctx, guildID, userID, channelID); err != nil {
			t.logger.Error("Failed to start reconciled session",
				zap.Uint64("guildID", guildID),
				zap.Uint64("userID", userID),
				zap.Error(err))
		}
	}

	for userID, record := range records {
		if _, present := observed[userID]; present {
			continue
		}

		if resolvable != nil && !resolvable(userID) {
			// Cannot credit or log a member that no longer resolves.
			if err := t.store.Delete(ctx, guildID, userID); err != nil {
				t.logger.Error("Failed to drop unresolvable session record",
					zap.Uint64("guildID", guildID),
					zap.Uint64("userID", userID),
					zap.Error(err))
			}

			continue
		}

		key := sessionKey{guildID, userID}

		// The insert and the finalize must happen under one stripe hold so
		// a live signal for the same member cannot interleave between them.
		unlock := t.lock(key)

		t.mu.Lock()
		if _, exists := t.active[key]; !exists {
			t.active[key] = &activeSession{channelID: record.ChannelID, startedAt: record.StartedAt}
		}
		t.mu.Unlock()

		if err := t.finalizeLocked(ctx, guildID, userID, record.ChannelID); err != nil {
			t.logger.Error("Failed to finalize stale session record",
				zap.Uint64("guildID", guildID),
				zap.Uint64("userID", userID),
				zap.Error(err))
		}

		unlock()
	}

	t.logger.Info("Reconciled sessions",
		zap.Uint64("guildID", guildID),
		zap.Int("observed", len(observed)),
		zap.Int("records", len(records)))

	return nil
}

// HasSession reports whether a member currently has an open session.
func (t *Tracker) HasSession(guildID, userID uint64) bool {
	_, ok := t.getSession(sessionKey{guildID, userID})
	return ok
}

// SessionChannel returns the channel of a member's open session.
func (t *Tracker) SessionChannel(guildID, userID uint64) (uint64, bool) {
	sess, ok := t.getSession(sessionKey{guildID, userID})
	if !ok {
		return 0, false
	}

	return sess.channelID, true
}

// GuildHasSessions reports whether any member of the guild has an open
// session.
func (t *Tracker) GuildHasSessions(guildID uint64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for key := range t.active {
		if key.guildID == guildID {
			return true
		}
	}

	return false
}

// RebaseSession moves an open session's start to now, discarding the
// elapsed portion. Used by unpause and administrative resets so tracking
// continues from a fresh zero instead of stopping.
func (t *Tracker) RebaseSession(ctx context.Context, guildID, userID uint64) {
	key := sessionKey{guildID, userID}

	unlock := t.lock(key)
	defer unlock()

	sess, ok := t.getSession(key)
	if !ok {
		return
	}

	now := t.clock()

	t.mu.Lock()
	sess.startedAt = now
	t.mu.Unlock()

	record := &sessions.Record{
		GuildID:   guildID,
		UserID:    userID,
		ChannelID: sess.channelID,
		StartedAt: now,
	}
	if err := t.store.Put(ctx, record); err != nil {
		t.logger.Error("Failed to rebase session record",
			zap.Uint64("guildID", guildID),
			zap.Uint64("userID", userID),
			zap.Error(err))
	}
}

// liveDelta returns the unflushed live portion of a member's open session,
// clamped to start no earlier than since. Suspended members contribute
// nothing live.
func (t *Tracker) liveDelta(guildID, userID uint64, since, now time.Time) time.Duration {
	sess, ok := t.getSession(sessionKey{guildID, userID})
	if !ok || t.isSuspended(guildID, userID) {
		return 0
	}

	from := sess.startedAt
	if !since.IsZero() && since.After(from) {
		from = since
	}

	if delta := now.Sub(from); delta > 0 {
		return delta
	}

	return 0
}

// TotalEver returns a member's all-time total merged with their live delta.
func (t *Tracker) TotalEver(ctx context.Context, guildID, userID uint64) (time.Duration, error) {
	total, err := t.ledger.GetTotal(ctx, guildID, userID)
	if err != nil {
		return 0, err
	}

	return total + t.liveDelta(guildID, userID, time.Time{}, t.clock()), nil
}

// TotalForMonth returns a member's total for one UTC month merged with the
// live portion of an open session falling inside that month.
func (t *Tracker) TotalForMonth(
	ctx context.Context, guildID, userID uint64, year int, month time.Month,
) (time.Duration, error) {
	total, err := t.ledger.GetMonthTotal(ctx, guildID, userID, year, month)
	if err != nil {
		return 0, err
	}

	if sess, ok := t.getSession(sessionKey{guildID, userID}); ok && !t.isSuspended(guildID, userID) {
		for _, seg := range SplitAcrossMonths(sess.startedAt, t.clock()) {
			if seg.Year == year && seg.Month == month {
				total += seg.Duration
			}
		}
	}

	return total, nil
}

// TotalForYear returns a member's total for one year merged with the live
// portion of an open session falling inside that year.
func (t *Tracker) TotalForYear(
	ctx context.Context, guildID, userID uint64, year int,
) (time.Duration, error) {
	total, err := t.ledger.GetYearTotal(ctx, guildID, userID, year)
	if err != nil {
		return 0, err
	}

	if sess, ok := t.getSession(sessionKey{guildID, userID}); ok && !t.isSuspended(guildID, userID) {
		for _, seg := range SplitAcrossMonths(sess.startedAt, t.clock()) {
			if seg.Year == year {
				total += seg.Duration
			}
		}
	}

	return total, nil
}

// TrackedSince returns the accumulated tracked time in [since, now] from
// the monthly buckets, merged with the clamped live delta. This backs the
// escalation engine's patrol condition.
func (t *Tracker) TrackedSince(
	ctx context.Context, guildID, userID uint64, since time.Time,
) (time.Duration, error) {
	now := t.clock()

	total, err := t.ledger.GetWindowTotal(ctx, guildID, userID, since, now)
	if err != nil {
		return 0, err
	}

	return total + t.liveDelta(guildID, userID, since, now), nil
}

// Top returns the guild's top n members by all-time total, with live
// deltas of open sessions merged in. The sort is stable: equal totals keep
// ascending user id order.
func (t *Tracker) Top(ctx context.Context, guildID uint64, n int) ([]RankedEntry, error) {
	entries, err := t.ledger.TopTotals(ctx, guildID, n)
	if err != nil {
		return nil, err
	}

	now := t.clock()
	totals := make(map[uint64]time.Duration, len(entries))

	for _, entry := range entries {
		totals[entry.UserID] = entry.Total
	}

	t.mu.RLock()

	open := make([]sessionKey, 0)

	for key := range t.active {
		if key.guildID == guildID {
			open = append(open, key)
		}
	}

	t.mu.RUnlock()

	for _, key := range open {
		if _, seeded := totals[key.userID]; !seeded {
			// The member's persisted total fell outside the ledger page;
			// fetch it so the merged total is not just the live delta.
			total, err := t.ledger.GetTotal(ctx, guildID, key.userID)
			if err != nil {
				return nil, err
			}

			totals[key.userID] = total
		}

		totals[key.userID] += t.liveDelta(key.guildID, key.userID, time.Time{}, now)
	}

	ranked := make([]RankedEntry, 0, len(totals))
	for userID, total := range totals {
		if total > 0 {
			ranked = append(ranked, RankedEntry{UserID: userID, Total: total})
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Total != ranked[j].Total {
			return ranked[i].Total > ranked[j].Total
		}

		return ranked[i].UserID < ranked[j].UserID
	})

	if len(ranked) > n {
		ranked = ranked[:n]
	}

	return ranked, nil
}

// TopForChannel ranks the members currently occupying one tracked zone by
// their merged all-time totals.
func (t *Tracker) TopForChannel(
	ctx context.Context, guildID, channelID uint64, n int,
) ([]RankedEntry, error) {
	t.mu.RLock()

	occupants := make([]uint64, 0)

	for key, sess := range t.active {
		if key.guildID == guildID && sess.channelID == channelID {
			occupants = append(occupants, key.userID)
		}
	}

	t.mu.RUnlock()

	ranked := make([]RankedEntry, 0, len(occupants))

	for _, userID := range occupants {
		total, err := t.TotalEver(ctx, guildID, userID)
		if err != nil {
			return nil, err
		}

		ranked = append(ranked, RankedEntry{UserID: userID, Total: total})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Total != ranked[j].Total {
			return ranked[i].Total > ranked[j].Total
		}

		return ranked[i].UserID < ranked[j].UserID
	})

	if len(ranked) > n {
		ranked = ranked[:n]
	}

	return ranked, nil
}

// Reset zeroes ledger totals for one member or the whole guild. Open
// sessions are rebased to now so tracking continues uninterrupted from a
// fresh zero.
func (t *Tracker) Reset(
	ctx context.Context, guildID, userID uint64, year int, month time.Month,
) error {
	if err := t.ledger.Reset(ctx, guildID, userID, year, month); err != nil {
		return fmt.Errorf("failed to reset ledger: %w", err)
	}

	if userID != 0 {
		t.RebaseSession(ctx, guildID, userID)
		return nil
	}

	t.mu.RLock()

	open := make([]uint64, 0)

	for key := range t.active {
		if key.guildID == guildID {
			open = append(open, key.userID)
		}
	}

	t.mu.RUnlock()

	for _, uid := range open {
		t.RebaseSession(ctx, guildID, uid)
	}

	return nil
}

// Adjust applies a signed administrative delta to a member's totals.
func (t *Tracker) Adjust(
	ctx context.Context, guildID, userID uint64, delta time.Duration, year int, month time.Month,
) error {
	if err := t.ledger.Adjust(ctx, guildID, userID, delta, year, month); err != nil {
		return fmt.Errorf("failed to adjust ledger: %w", err)
	}

	return nil
}
