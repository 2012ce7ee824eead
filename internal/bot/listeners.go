package bot

import (
	"context"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"
	"github.com/wardenlabs/timewarden/internal/database/types"
	"go.uber.org/zap"
)

// handleGuildReady reconciles the session table against the voice states
// the gateway reports for the guild. Members observed in tracked zones
// resume or start sessions; stale crash-recovery records are finalized.
func (b *Bot) handleGuildReady(event *events.GuildReady) {
	ctx := context.Background()
	guildID := uint64(event.Guild.ID)

	settings, err := b.guildSettings(ctx, guildID)
	if err != nil {
		b.logger.Error("Failed to load guild settings for reconciliation",
			zap.Uint64("guildID", guildID), zap.Error(err))

		return
	}

	observed := make(map[uint64]uint64)

	b.client.Caches().VoiceStatesForEach(event.Guild.ID, func(state discord.VoiceState) {
		if state.ChannelID == nil {
			return
		}

		channelID := uint64(*state.ChannelID)
		if settings.Tracked(channelID) {
			observed[uint64(state.UserID)] = channelID
		}
	})

	resolvable := func(userID uint64) bool {
		_, ok := b.client.Caches().Member(event.Guild.ID, snowflake.ID(userID))
		return ok
	}

	if err := b.tracker.Reconcile(ctx, guildID, observed, resolvable); err != nil {
		b.logger.Error("Failed to reconcile sessions",
			zap.Uint64("guildID", guildID), zap.Error(err))
	}
}

// handleVoiceStateUpdate classifies a voice transition against the guild's
// tracked zones and forwards it as a start, move or finalize signal.
func (b *Bot) handleVoiceStateUpdate(event *events.GuildVoiceStateUpdate) {
	if event.Member.User.Bot {
		return
	}

	ctx := context.Background()
	guildID := uint64(event.VoiceState.GuildID)
	userID := uint64(event.VoiceState.UserID)

	settings, err := b.guildSettings(ctx, guildID)
	if err != nil {
		b.logger.Error("Failed to load guild settings",
			zap.Uint64("guildID", guildID), zap.Error(err))

		return
	}

	var oldChannel, newChannel uint64

	if event.OldVoiceState.ChannelID != nil {
		oldChannel = uint64(*event.OldVoiceState.ChannelID)
	}

	if event.VoiceState.ChannelID != nil {
		newChannel = uint64(*event.VoiceState.ChannelID)
	}

	b.routeVoiceTransition(ctx, settings, guildID, userID, oldChannel, newChannel)
}

// routeVoiceTransition turns a channel transition into a start, move or
// finalize signal. A move without an open session means the enter event
// was missed, so it is treated as a fresh zone entry instead of leaving
// the member untracked.
func (b *Bot) routeVoiceTransition(
	ctx context.Context, settings *types.GuildSettings, guildID, userID, oldChannel, newChannel uint64,
) {
	trackedOld := oldChannel != 0 && settings.Tracked(oldChannel)
	trackedNew := newChannel != 0 && settings.Tracked(newChannel)

	switch {
	case !trackedOld && trackedNew:
		b.handleZoneEnter(ctx, settings, guildID, userID, newChannel)
	case trackedOld && trackedNew && oldChannel != newChannel:
		moved, err := b.tracker.Move(ctx, guildID, userID, newChannel)
		if err != nil {
			b.logger.Error("Failed to move session",
				zap.Uint64("guildID", guildID),
				zap.Uint64("userID", userID),
				zap.Error(err))

			return
		}

		if !moved {
			b.handleZoneEnter(ctx, settings, guildID, userID, newChannel)
		}
	case trackedOld && !trackedNew:
		if err := b.tracker.Finalize(ctx, guildID, userID, oldChannel); err != nil {
			b.logger.Error("Failed to finalize session",
				zap.Uint64("guildID", guildID),
				zap.Uint64("userID", userID),
				zap.Error(err))
		}
	}
}

// handleZoneEnter gates a session start. Manual pause is checked
// synchronously; the leave-of-absence lookup runs off the event loop and
// skips the start with a notice when the member is on leave.
func (b *Bot) handleZoneEnter(
	ctx context.Context, settings *types.GuildSettings, guildID, userID, channelID uint64,
) {
	if b.pause.Suspended(guildID, userID) {
		b.logger.Debug("Skipping session start for paused member",
			zap.Uint64("guildID", guildID),
			zap.Uint64("userID", userID))

		return
	}

	go b.startAfterLeaveCheck(ctx, settings, guildID, userID, channelID)
}

// startAfterLeaveCheck resolves the leave-of-absence lookup and opens the
// session. The member may exit the zone while the lookup is in flight and
// the exit's finalize finds no session to close, so their presence is
// re-checked before the start; otherwise an open session would accrue time
// for a member no longer in any zone.
func (b *Bot) startAfterLeaveCheck(
	ctx context.Context, settings *types.GuildSettings, guildID, userID, channelID uint64,
) {
	leave, err := b.pause.ActiveLeave(ctx, guildID, userID)
	if err == nil && leave != nil {
		b.notifyLeaveSkip(ctx, settings, guildID, userID, leave.AssignedUntil)
		return
	}

	// Lookup failures fail open and tracking starts normally.
	if !b.inZone(guildID, userID, channelID) {
		b.logger.Debug("Skipping session start for member who left the zone",
			zap.Uint64("guildID", guildID),
			zap.Uint64("userID", userID))

		return
	}

	if err := b.tracker.Start(ctx, guildID, userID, channelID); err != nil {
		b.logger.Error("Failed to start session",
			zap.Uint64("guildID", guildID),
			zap.Uint64("userID", userID),
			zap.Error(err))
	}
}

// notifyLeaveSkip tells the member and the staff log that no time is being
// tracked while their leave is active.
func (b *Bot) notifyLeaveSkip(
	ctx context.Context, settings *types.GuildSettings, guildID, userID uint64, until time.Time,
) {
	b.logger.Info("Skipping session start for member on leave",
		zap.Uint64("guildID", guildID),
		zap.Uint64("userID", userID))

	if err := b.notifier.DirectMessage(ctx, userID,
		"Your tracked time is paused while your leave of absence is active (until "+
			until.UTC().Format(time.RFC1123)+")."); err != nil {
		b.logger.Warn("Failed to notify member about leave skip",
			zap.Uint64("userID", userID), zap.Error(err))
	}

	if settings.StaffLogChannelID == 0 {
		return
	}

	if err := b.notifier.Channel(ctx, settings.StaffLogChannelID,
		"Skipped time tracking for <@"+snowflake.ID(userID).String()+">: on leave of absence.",
		nil); err != nil {
		b.logger.Warn("Failed to write leave skip to staff log",
			zap.Uint64("guildID", guildID), zap.Error(err))
	}
}

// handleMemberUpdate diffs the member's roles and forwards grants and
// revocations of tracked obligation roles to the escalation engine.
func (b *Bot) handleMemberUpdate(event *events.GuildMemberUpdate) {
	if event.Member.User.Bot {
		return
	}

	ctx := context.Background()
	guildID := uint64(event.GuildID)
	userID := uint64(event.Member.User.ID)

	tracked, err := b.trackedRoles(ctx, guildID)
	if err != nil {
		b.logger.Error("Failed to load role configs",
			zap.Uint64("guildID", guildID), zap.Error(err))

		return
	}

	old := make(map[snowflake.ID]struct{}, len(event.OldMember.RoleIDs))
	for _, id := range event.OldMember.RoleIDs {
		old[id] = struct{}{}
	}

	current := make(map[snowflake.ID]struct{}, len(event.Member.RoleIDs))
	for _, id := range event.Member.RoleIDs {
		current[id] = struct{}{}
	}

	now := time.Now().UTC()

	for id := range current {
		if _, had := old[id]; had {
			continue
		}

		if _, ok := tracked[uint64(id)]; !ok {
			continue
		}

		if err := b.engine.TrackAssignment(ctx, guildID, userID, uint64(id), now); err != nil {
			b.logger.Error("Failed to track role assignment",
				zap.Uint64("guildID", guildID),
				zap.Uint64("userID", userID),
				zap.Uint64("roleID", uint64(id)),
				zap.Error(err))
		}
	}

	for id := range old {
		if _, has := current[id]; has {
			continue
		}

		if _, ok := tracked[uint64(id)]; !ok {
			continue
		}

		if err := b.engine.TrackRemoval(ctx, guildID, userID, uint64(id)); err != nil {
			b.logger.Error("Failed to track role removal",
				zap.Uint64("guildID", guildID),
				zap.Uint64("userID", userID),
				zap.Uint64("roleID", uint64(id)),
				zap.Error(err))
		}
	}
}

// handleMemberLeave finalizes any open session at its last known location.
// Assignment and warning rows are collected by the next sweep.
func (b *Bot) handleMemberLeave(event *events.GuildMemberLeave) {
	ctx := context.Background()
	guildID := uint64(event.GuildID)
	userID := uint64(event.User.ID)

	channelID, ok := b.tracker.SessionChannel(guildID, userID)
	if !ok {
		return
	}

	if err := b.tracker.Finalize(ctx, guildID, userID, channelID); err != nil {
		b.logger.Error("Failed to finalize session of departed member",
			zap.Uint64("guildID", guildID),
			zap.Uint64("userID", userID),
			zap.Error(err))
	}
}

// guildSettings loads the guild's channel settings, returning empty
// settings for unconfigured guilds.
func (b *Bot) guildSettings(ctx context.Context, guildID uint64) (*types.GuildSettings, error) {
	return b.db.Model().GuildSetting().Get(ctx, guildID)
}

// trackedRoles returns the set of role ids with an enabled tracking
// config in the guild.
func (b *Bot) trackedRoles(ctx context.Context, guildID uint64) (map[uint64]struct{}, error) {
	configs, err := b.db.Model().RoleConfig().ListEnabled(ctx, guildID)
	if err != nil {
		return nil, err
	}

	tracked := make(map[uint64]struct{}, len(configs))
	for _, config := range configs {
		tracked[config.RoleID] = struct{}{}
	}

	return tracked, nil
}
