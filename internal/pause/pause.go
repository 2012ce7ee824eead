// Package pause owns per-guild suspension state: manually paused members,
// guild-wide pauses and the external leave-of-absence lookup.
package pause

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Leave describes an active leave of absence returned by the external
// lookup.
type Leave struct {
	AssignedUntil       time.Time
	NotificationsPaused bool
}

// LeaveProvider looks up a member's active leave of absence in an external
// service. A nil Leave means the member is not on leave.
type LeaveProvider interface {
	ActiveLeave(ctx context.Context, guildID, userID uint64) (*Leave, error)
}

// SessionSource exposes the open-session state the controller needs to
// refuse ambiguous pauses. Implemented by the session tracker and bound
// after construction.
type SessionSource interface {
	HasSession(guildID, userID uint64) bool
	GuildHasSessions(guildID uint64) bool
	RebaseSession(ctx context.Context, guildID, userID uint64)
}

// Controller tracks manual and guild-wide pauses in memory. The state is
// not persisted; it is rebuilt from administrative actions after restart.
type Controller struct {
	leaves   LeaveProvider
	sessions SessionSource
	logger   *zap.Logger

	mu           sync.RWMutex
	paused       map[uint64]map[uint64]struct{}
	guildsPaused map[uint64]struct{}
}

// NewController creates a pause controller. The session source is bound
// separately via BindSessions once the tracker exists.
func NewController(leaves LeaveProvider, logger *zap.Logger) *Controller {
	return &Controller{
		leaves:       leaves,
		logger:       logger.Named("pause"),
		paused:       make(map[uint64]map[uint64]struct{}),
		guildsPaused: make(map[uint64]struct{}),
	}
}

// BindSessions wires the session tracker in after construction.
func (c *Controller) BindSessions(sessions SessionSource) {
	c.sessions = sessions
}

// Pause suspends one member. It fails when the member has an open session;
// a member must exit tracking before being paused so no session is left in
// an ambiguous half-paused state.
func (c *Controller) Pause(guildID, userID uint64) bool {
	if c.sessions != nil && c.sessions.HasSession(guildID, userID) {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.paused[guildID] == nil {
		c.paused[guildID] = make(map[uint64]struct{})
	}

	c.paused[guildID][userID] = struct{}{}

	c.logger.Info("Paused member",
		zap.Uint64("guildID", guildID),
		zap.Uint64("userID", userID))

	return true
}

// Unpause clears a member's manual pause. If the member is currently
// tracked their session restarts from now.
func (c *Controller) Unpause(ctx context.Context, guildID, userID uint64) bool {
	c.mu.Lock()

	if members, ok := c.paused[guildID]; ok {
		delete(members, userID)
	}

	c.mu.Unlock()

	if c.sessions != nil && c.sessions.HasSession(guildID, userID) {
		c.sessions.RebaseSession(ctx, guildID, userID)
	}

	c.logger.Info("Unpaused member",
		zap.Uint64("guildID", guildID),
		zap.Uint64("userID", userID))

	return true
}

// PauseGuild suspends the whole guild. It fails while any member of the
// guild has an open session.
func (c *Controller) PauseGuild(guildID uint64) bool {
	if c.sessions != nil && c.sessions.GuildHasSessions(guildID) {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.guildsPaused[guildID] = struct{}{}

	c.logger.Info("Paused guild", zap.Uint64("guildID", guildID))

	return true
}

// UnpauseGuild clears a guild-wide pause.
func (c *Controller) UnpauseGuild(guildID uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.guildsPaused, guildID)

	c.logger.Info("Unpaused guild", zap.Uint64("guildID", guildID))

	return true
}

// Suspended reports whether a member is manually paused or their guild is
// paused. This is the synchronous check used on the hot tracking path.
func (c *Controller) Suspended(guildID, userID uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if _, ok := c.guildsPaused[guildID]; ok {
		return true
	}

	if members, ok := c.paused[guildID]; ok {
		if _, ok := members[userID]; ok {
			return true
		}
	}

	return false
}

// SuspendedOrOnLeave additionally consults the external leave lookup. A
// lookup failure fails open: the member counts as not suspended so an
// unavailable dependency never blocks tracking.
func (c *Controller) SuspendedOrOnLeave(ctx context.Context, guildID, userID uint64) bool {
	if c.Suspended(guildID, userID) {
		return true
	}

	leave, err := c.ActiveLeave(ctx, guildID, userID)
	if err != nil {
		return false
	}

	return leave != nil
}

// ActiveLeave looks up a member's leave of absence, failing open on error.
func (c *Controller) ActiveLeave(ctx context.Context, guildID, userID uint64) (*Leave, error) {
	if c.leaves == nil {
		return nil, nil //nolint:nilnil
	}

	leave, err := c.leaves.ActiveLeave(ctx, guildID, userID)
	if err != nil {
		c.logger.Warn("Leave lookup failed, treating member as available",
			zap.Uint64("guildID", guildID),
			zap.Uint64("userID", userID),
			zap.Error(err))

		return nil, err
	}

	return leave, nil
}
