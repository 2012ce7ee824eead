// Package escalation owns the role-deadline state machine: assignment
// clocks, the ordered warning schedule and the terminal staff escalation.
package escalation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/wardenlabs/timewarden/internal/database/types"
	"github.com/wardenlabs/timewarden/internal/database/types/enum"
	"go.uber.org/zap"
)

// AssignmentStore persists role assignment clocks.
type AssignmentStore interface {
	Upsert(ctx context.Context, guildID, userID, roleID uint64, assignedAt time.Time) (*types.RoleAssignment, error)
	GetOrCreate(ctx context.Context, guildID, userID, roleID uint64, fallbackAt time.Time) (*types.RoleAssignment, error)
	Rebase(ctx context.Context, guildID, userID, roleID uint64, at time.Time) error
	RebaseAll(ctx context.Context, guildID, userID uint64, at time.Time) error
	Delete(ctx context.Context, guildID, userID, roleID uint64) error
	DeleteDeparted(ctx context.Context, guildID uint64, currentMembers map[uint64]struct{}) (int, error)
}

// WarningStore persists the append-only warning audit.
type WarningStore interface {
	Exists(ctx context.Context, guildID, userID, roleID uint64,
		warningIndex int, assignmentID string, assignedAt time.Time) (bool, error)
	Record(ctx context.Context, warning *types.Warning) error
	ClearForAssignment(ctx context.Context, guildID, userID, roleID uint64) error
	ClearForUser(ctx context.Context, guildID, userID uint64) error
}

// ConfigSource lists the enabled role configs for a guild.
type ConfigSource interface {
	ListEnabled(ctx context.Context, guildID uint64) ([]*types.RoleTrackingConfig, error)
}

// SettingsSource fetches the guild-level channel settings.
type SettingsSource interface {
	Get(ctx context.Context, guildID uint64) (*types.GuildSettings, error)
}

// MemberDirectory resolves current guild membership from the gateway
// caches. Implemented by the bot layer.
type MemberDirectory interface {
	RoleHolders(ctx context.Context, guildID, roleID uint64) ([]uint64, error)
	Members(ctx context.Context, guildID uint64) (map[uint64]struct{}, error)
}

// PatrolSource reports accumulated tracked-zone time within a window.
// Implemented by the session tracker.
type PatrolSource interface {
	TrackedSince(ctx context.Context, guildID, userID uint64, since time.Time) (time.Duration, error)
}

// SuspendSource reports whether a member's obligations are suspended.
type SuspendSource interface {
	SuspendedOrOnLeave(ctx context.Context, guildID, userID uint64) bool
}

// Notifier delivers warnings and escalations. Delivery errors are treated
// as transient and retried on the next sweep.
type Notifier interface {
	DirectMessage(ctx context.Context, userID uint64, payload string) error
	Channel(ctx context.Context, channelID uint64, payload string, mentionRoleIDs []uint64) error
}

// Result is the outcome of evaluating a role config against one holder.
type Result struct {
	Elapsed         time.Duration
	Tracked         time.Duration
	DeadlineReached bool
	PatrolMet       bool
}

// Engine evaluates role deadlines and drives the warning schedule.
type Engine struct {
	assignments AssignmentStore
	warnings    WarningStore
	configs     ConfigSource
	settings    SettingsSource
	directory   MemberDirectory
	patrol      PatrolSource
	suspend     SuspendSource
	notifier    Notifier
	logger      *zap.Logger

	// epoch is the assignment time backfilled for members who already held
	// a role when tracking was first enabled.
	epoch time.Time
	clock func() time.Time
}

// New creates an escalation engine. The member directory and the notifier
// are bound separately once the gateway client exists.
func New(
	assignments AssignmentStore, warnings WarningStore,
	configs ConfigSource, settings SettingsSource,
	patrol PatrolSource, suspend SuspendSource,
	epoch time.Time, logger *zap.Logger,
) *Engine {
	return &Engine{
		assignments: assignments,
		warnings:    warnings,
		configs:     configs,
		settings:    settings,
		patrol:      patrol,
		suspend:     suspend,
		logger:      logger.Named("escalation"),
		epoch:       epoch,
		clock:       time.Now,
	}
}

// BindDirectory wires the member directory in after construction. The bot
// layer implements it on top of the gateway caches.
func (e *Engine) BindDirectory(directory MemberDirectory) {
	e.directory = directory
}

// BindNotifier wires the delivery collaborator in after construction.
func (e *Engine) BindNotifier(notifier Notifier) {
	e.notifier = notifier
}

// SetClock overrides the time source for tests.
func (e *Engine) SetClock(clock func() time.Time) {
	e.clock = clock
}

// TrackAssignment records that a member was granted an obligation role,
// refreshing the clock to the given time.
func (e *Engine) TrackAssignment(ctx context.Context, guildID, userID, roleID uint64, at time.Time) error {
	_, err := e.assignments.Upsert(ctx, guildID, userID, roleID, at)
	return err
}

// TrackRemoval records that a member lost an obligation role. The
// assignment and its warning rows are removed.
func (e *Engine) TrackRemoval(ctx context.Context, guildID, userID, roleID uint64) error {
	return e.assignments.Delete(ctx, guildID, userID, roleID)
}

// HandleLeaveEnded restarts every obligation clock the member holds. Leave
// pauses all obligations uniformly, so all warnings are cleared and every
// assignment is rebased to now.
func (e *Engine) HandleLeaveEnded(ctx context.Context, guildID, userID uint64) error {
	if err := e.warnings.ClearForUser(ctx, guildID, userID); err != nil {
		return err
	}

	return e.assignments.RebaseAll(ctx, guildID, userID, e.clock())
}

// ResetClock restarts the obligation clock for one role, or for every role
// the member holds when roleID is zero.
func (e *Engine) ResetClock(ctx context.Context, guildID, userID, roleID uint64) error {
	if roleID == 0 {
		return e.HandleLeaveEnded(ctx, guildID, userID)
	}

	if err := e.warnings.ClearForAssignment(ctx, guildID, userID, roleID); err != nil {
		return err
	}

	return e.assignments.Rebase(ctx, guildID, userID, roleID, e.clock())
}

// Evaluate checks a role config's conditions against one holder's clock.
func (e *Engine) Evaluate(
	ctx context.Context, config *types.RoleTrackingConfig, guildID, userID uint64, assignedAt time.Time,
) (Result, error) {
	result := Result{Elapsed: e.clock().Sub(assignedAt)}

	if config.HasCondition(enum.ConditionTime) {
		result.DeadlineReached = result.Elapsed >= config.Deadline
	}

	if config.HasCondition(enum.ConditionPatrol) {
		tracked, err := e.patrol.TrackedSince(ctx, guildID, userID, assignedAt)
		if err != nil {
			return Result{}, err
		}

		result.Tracked = tracked
		result.PatrolMet = tracked >= config.PatrolMinimum
	}

	return result, nil
}

// Sweep runs the daily escalation pass for one guild: garbage-collects
// departed members, then walks every enabled role config and its current
// holders, sending due warnings and escalations. Per-holder failures are
// logged and contained so one bad subject never aborts the rest.
func (e *Engine) Sweep(ctx context.Context, guildID uint64) error {
	settings, err := e.settings.Get(ctx, guildID)
	if err != nil {
		return err
	}

	if members, err := e.directory.Members(ctx, guildID); err != nil {
		e.logger.Warn("Skipping departed-member cleanup",
			zap.Uint64("guildID", guildID), zap.Error(err))
	} else if _, err := e.assignments.DeleteDeparted(ctx, guildID, members); err != nil {
		e.logger.Error("Failed to clean up departed members",
			zap.Uint64("guildID", guildID), zap.Error(err))
	}

	configs, err := e.configs.ListEnabled(ctx, guildID)
	if err != nil {
		return err
	}

	for _, config := range configs {
		if config.Exempt() {
			continue
		}

		holders, err := e.directory.RoleHolders(ctx, guildID, config.RoleID)
		if err != nil {
			e.logger.Error("Failed to list role holders",
				zap.Uint64("guildID", guildID),
				zap.Uint64("roleID", config.RoleID),
				zap.Error(err))

			continue
		}

		for _, userID := range holders {
			if err := e.sweepHolder(ctx, settings, config, userID); err != nil {
				e.logger.Error("Failed to sweep role holder",
					zap.Uint64("guildID", guildID),
					zap.Uint64("roleID", config.RoleID),
					zap.Uint64("userID", userID),
					zap.Error(err))
			}
		}
	}

	return nil
}

// sweepHolder evaluates one role holder: grace short-circuit, due warnings
// in ascending offset order, then the terminal staff escalation.
func (e *Engine) sweepHolder(
	ctx context.Context, settings *types.GuildSettings,
	config *types.RoleTrackingConfig, userID uint64,
) error {
	guildID := config.GuildID

	if e.suspend.SuspendedOrOnLeave(ctx, guildID, userID) {
		return nil
	}

	assignment, err := e.assignments.GetOrCreate(ctx, guildID, userID, config.RoleID, e.epoch)
	if err != nil {
		return err
	}

	now := e.clock()
	elapsed := now.Sub(assignment.AssignedAt)

	var tracked time.Duration

	if config.HasCondition(enum.ConditionPatrol) {
		tracked, err = e.patrol.TrackedSince(ctx, guildID, userID, assignment.AssignedAt)
		if err != nil {
			return err
		}

		// Grace achieved: the holder has patrolled enough this cycle, so
		// the schedule restarts and nothing else is sent.
		if tracked >= config.PatrolMinimum {
			return e.warnings.ClearForAssignment(ctx, guildID, userID, config.RoleID)
		}
	}

	steps := make([]types.WarningStep, len(config.Warnings))
	copy(steps, config.Warnings)
	sort.Slice(steps, func(i, j int) bool { return steps[i].Offset < steps[j].Offset })

	for _, step := range steps {
		if elapsed < step.Offset {
			break
		}

		if err := e.sendWarning(ctx, settings, config, assignment, step, elapsed, tracked); err != nil {
			return err
		}
	}

	if config.StaffOffset <= 0 || elapsed < config.StaffOffset {
		return nil
	}

	return e.sendStaffEscalation(ctx, settings, config, assignment, elapsed)
}

// sendWarning delivers one due warning step. The audit row is written only
// after successful delivery; a failed send is retried on the next sweep. A
// staff log line is written regardless of the delivery outcome.
func (e *Engine) sendWarning(
	ctx context.Context, settings *types.GuildSettings,
	config *types.RoleTrackingConfig, assignment *types.RoleAssignment,
	step types.WarningStep, elapsed, tracked time.Duration,
) error {
	exists, err := e.warnings.Exists(ctx, assignment.GuildID, assignment.UserID, assignment.RoleID,
		step.Index, assignment.AssignmentID, assignment.AssignedAt)
	if err != nil {
		return err
	}

	if exists {
		return nil
	}

	payload := RenderWarning(step.Message, WarningVars{
		UserID:   assignment.UserID,
		Deadline: config.Deadline,
		Elapsed:  elapsed,
		Tracked:  tracked,
	})

	deliveryErr := e.notifier.DirectMessage(ctx, assignment.UserID, payload)

	e.auditToStaffLog(ctx, settings, assignment, step.Index, deliveryErr)

	if deliveryErr != nil {
		e.logger.Warn("Warning delivery failed, will retry on next sweep",
			zap.Uint64("guildID", assignment.GuildID),
			zap.Uint64("userID", assignment.UserID),
			zap.Uint64("roleID", assignment.RoleID),
			zap.Int("index", step.Index),
			zap.Error(deliveryErr))

		return nil
	}

	return e.warnings.Record(ctx, &types.Warning{
		GuildID:        assignment.GuildID,
		UserID:         assignment.UserID,
		RoleID:         assignment.RoleID,
		WarningIndex:   step.Index,
		AssignmentID:   assignment.AssignmentID,
		RoleAssignedAt: assignment.AssignedAt,
		SentAt:         e.clock(),
	})
}

// sendStaffEscalation delivers the terminal staff ping and records the
// sentinel row, once per assignment generation.
func (e *Engine) sendStaffEscalation(
	ctx context.Context, settings *types.GuildSettings,
	config *types.RoleTrackingConfig, assignment *types.RoleAssignment,
	elapsed time.Duration,
) error {
	exists, err := e.warnings.Exists(ctx, assignment.GuildID, assignment.UserID, assignment.RoleID,
		types.StaffEscalationIndex, assignment.AssignmentID, assignment.AssignedAt)
	if err != nil {
		return err
	}

	if exists {
		return nil
	}

	channelID := config.ChannelID
	if channelID == 0 {
		channelID = settings.EscalationChannelID
	}

	if channelID == 0 {
		e.logger.Warn("No escalation channel configured",
			zap.Uint64("guildID", assignment.GuildID),
			zap.Uint64("roleID", assignment.RoleID))

		return nil
	}

	payload := RenderStaffPing(config.StaffMessage, StaffVars{
		UserID:  assignment.UserID,
		RoleID:  assignment.RoleID,
		Elapsed: elapsed,
	})

	if err := e.notifier.Channel(ctx, channelID, payload, config.MentionRoleIDs); err != nil {
		e.logger.Warn("Staff escalation delivery failed, will retry on next sweep",
			zap.Uint64("guildID", assignment.GuildID),
			zap.Uint64("userID", assignment.UserID),
			zap.Uint64("roleID", assignment.RoleID),
			zap.Error(err))

		return nil
	}

	return e.warnings.Record(ctx, &types.Warning{
		GuildID:        assignment.GuildID,
		UserID:         assignment.UserID,
		RoleID:         assignment.RoleID,
		WarningIndex:   types.StaffEscalationIndex,
		AssignmentID:   assignment.AssignmentID,
		RoleAssignedAt: assignment.AssignedAt,
		SentAt:         e.clock(),
	})
}

// auditToStaffLog writes the unconditional audit line for a warning
// attempt. Audit failures are logged only; they never block the schedule.
func (e *Engine) auditToStaffLog(
	ctx context.Context, settings *types.GuildSettings,
	assignment *types.RoleAssignment, index int, deliveryErr error,
) {
	if settings.StaffLogChannelID == 0 {
		return
	}

	outcome := "delivered"
	if deliveryErr != nil {
		outcome = "delivery failed"
	}

	line := fmt.Sprintf("Warning %d for %s on role %s: %s",
		index, userMention(assignment.UserID), roleMention(assignment.RoleID), outcome)

	if err := e.notifier.Channel(ctx, settings.StaffLogChannelID, line, nil); err != nil {
		e.logger.Warn("Failed to write staff audit line",
			zap.Uint64("guildID", assignment.GuildID),
			zap.Uint64("userID", assignment.UserID),
			zap.Error(err))
	}
}
