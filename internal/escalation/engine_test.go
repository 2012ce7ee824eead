package escalation_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wardenlabs/timewarden/internal/database/types"
	"github.com/wardenlabs/timewarden/internal/database/types/enum"
	"github.com/wardenlabs/timewarden/internal/escalation"
	"go.uber.org/zap"
)

type assignmentKey struct {
	guildID, userID, roleID uint64
}

type warningKey struct {
	guildID, userID, roleID uint64
	index                   int
}

type fakeWarnings struct {
	rows map[warningKey]*types.Warning
}

func newFakeWarnings() *fakeWarnings {
	return &fakeWarnings{rows: make(map[warningKey]*types.Warning)}
}

func (f *fakeWarnings) Exists(
	_ context.Context, guildID, userID, roleID uint64,
	warningIndex int, assignmentID string, assignedAt time.Time,
) (bool, error) {
	row, ok := f.rows[warningKey{guildID, userID, roleID, warningIndex}]
	if !ok {
		return false, nil
	}

	return row.Matches(assignmentID, assignedAt), nil
}

func (f *fakeWarnings) Record(_ context.Context, warning *types.Warning) error {
	f.rows[warningKey{warning.GuildID, warning.UserID, warning.RoleID, warning.WarningIndex}] = warning
	return nil
}

func (f *fakeWarnings) ClearForAssignment(_ context.Context, guildID, userID, roleID uint64) error {
	for key := range f.rows {
		if key.guildID == guildID && key.userID == userID && key.roleID == roleID {
			delete(f.rows, key)
		}
	}

	return nil
}

func (f *fakeWarnings) ClearForUser(_ context.Context, guildID, userID uint64) error {
	for key := range f.rows {
		if key.guildID == guildID && key.userID == userID {
			delete(f.rows, key)
		}
	}

	return nil
}

type fakeAssignments struct {
	byKey    map[assignmentKey]*types.RoleAssignment
	warnings *fakeWarnings
	nextGen  int
}

func newFakeAssignments(warnings *fakeWarnings) *fakeAssignments {
	return &fakeAssignments{
		byKey:    make(map[assignmentKey]*types.RoleAssignment),
		warnings: warnings,
	}
}

func (f *fakeAssignments) newGeneration() string {
	f.nextGen++
	return fmt.Sprintf("gen-%d", f.nextGen)
}

func (f *fakeAssignments) Upsert(
	_ context.Context, guildID, userID, roleID uint64, assignedAt time.Time,
) (*types.RoleAssignment, error) {
	key := assignmentKey{guildID, userID, roleID}

	if existing, ok := f.byKey[key]; ok {
		existing.AssignedAt = assignedAt
		return existing, nil
	}

	assignment := &types.RoleAssignment{
		GuildID:      guildID,
		UserID:       userID,
		RoleID:       roleID,
		AssignmentID: f.newGeneration(),
		AssignedAt:   assignedAt,
	}
	f.byKey[key] = assignment

	return assignment, nil
}

func (f *fakeAssignments) GetOrCreate(
	ctx context.Context, guildID, userID, roleID uint64, fallbackAt time.Time,
) (*types.RoleAssignment, error) {
	if existing, ok := f.byKey[assignmentKey{guildID, userID, roleID}]; ok {
		return existing, nil
	}

	return f.Upsert(ctx, guildID, userID, roleID, fallbackAt)
}

func (f *fakeAssignments) Rebase(_ context.Context, guildID, userID, roleID uint64, at time.Time) error {
	if existing, ok := f.byKey[assignmentKey{guildID, userID, roleID}]; ok {
		existing.AssignedAt = at
	}

	return nil
}

func (f *fakeAssignments) RebaseAll(_ context.Context, guildID, userID uint64, at time.Time) error {
	for key, assignment := range f.byKey {
		if key.guildID == guildID && key.userID == userID {
			assignment.AssignedAt = at
		}
	}

	return nil
}

func (f *fakeAssignments) Delete(ctx context.Context, guildID, userID, roleID uint64) error {
	delete(f.byKey, assignmentKey{guildID, userID, roleID})
	return f.warnings.ClearForAssignment(ctx, guildID, userID, roleID)
}

func (f *fakeAssignments) DeleteDeparted(
	ctx context.Context, guildID uint64, currentMembers map[uint64]struct{},
) (int, error) {
	var removed int

	for key := range f.byKey {
		if key.guildID != guildID {
			continue
		}

		if _, ok := currentMembers[key.userID]; !ok {
			delete(f.byKey, key)
			_ = f.warnings.ClearForUser(ctx, guildID, key.userID)
			removed++
		}
	}

	return removed, nil
}

type fakeConfigs struct {
	configs []*types.RoleTrackingConfig
}

func (f *fakeConfigs) ListEnabled(context.Context, uint64) ([]*types.RoleTrackingConfig, error) {
	return f.configs, nil
}

type fakeSettings struct {
	settings types.GuildSettings
}

func (f *fakeSettings) Get(context.Context, uint64) (*types.GuildSettings, error) {
	s := f.settings
	return &s, nil
}

type fakeDirectory struct {
	holders map[uint64][]uint64
	members map[uint64]struct{}
}

func (f *fakeDirectory) RoleHolders(_ context.Context, _, roleID uint64) ([]uint64, error) {
	return f.holders[roleID], nil
}

func (f *fakeDirectory) Members(context.Context, uint64) (map[uint64]struct{}, error) {
	return f.members, nil
}

type fakePatrol struct {
	tracked map[uint64]time.Duration
}

func (f *fakePatrol) TrackedSince(_ context.Context, _, userID uint64, _ time.Time) (time.Duration, error) {
	return f.tracked[userID], nil
}

type fakeSuspend struct {
	suspended map[uint64]bool
}

func (f *fakeSuspend) SuspendedOrOnLeave(_ context.Context, _, userID uint64) bool {
	return f.suspended[userID]
}

type sentMessage struct {
	channelID uint64
	userID    uint64
	payload   string
	mentions  []uint64
}

type fakeNotifier struct {
	dms      []sentMessage
	channels []sentMessage
	dmErr    error
}

func (f *fakeNotifier) DirectMessage(_ context.Context, userID uint64, payload string) error {
	if f.dmErr != nil {
		return f.dmErr
	}

	f.dms = append(f.dms, sentMessage{userID: userID, payload: payload})

	return nil
}

func (f *fakeNotifier) Channel(_ context.Context, channelID uint64, payload string, mentions []uint64) error {
	f.channels = append(f.channels, sentMessage{channelID: channelID, payload: payload, mentions: mentions})
	return nil
}

type engineFixture struct {
	engine      *escalation.Engine
	assignments *fakeAssignments
	warnings    *fakeWarnings
	configs     *fakeConfigs
	directory   *fakeDirectory
	patrol      *fakePatrol
	suspend     *fakeSuspend
	notifier    *fakeNotifier
	now         time.Time
}

func newEngineFixture(t *testing.T, configs ...*types.RoleTrackingConfig) *engineFixture {
	t.Helper()

	warnings := newFakeWarnings()

	f := &engineFixture{
		assignments: newFakeAssignments(warnings),
		warnings:    warnings,
		configs:     &fakeConfigs{configs: configs},
		directory: &fakeDirectory{
			holders: make(map[uint64][]uint64),
			members: make(map[uint64]struct{}),
		},
		patrol:   &fakePatrol{tracked: make(map[uint64]time.Duration)},
		suspend:  &fakeSuspend{suspended: make(map[uint64]bool)},
		notifier: &fakeNotifier{},
		now:      time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC),
	}

	epoch := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

	f.engine = escalation.New(
		f.assignments, f.warnings, f.configs,
		&fakeSettings{settings: types.GuildSettings{
			GuildID:             1,
			StaffLogChannelID:   500,
			EscalationChannelID: 600,
		}},
		f.patrol, f.suspend, epoch, zap.NewNop(),
	)
	f.engine.BindDirectory(f.directory)
	f.engine.BindNotifier(f.notifier)
	f.engine.SetClock(func() time.Time { return f.now })

	return f
}

func (f *engineFixture) addHolder(roleID, userID uint64) {
	f.directory.holders[roleID] = append(f.directory.holders[roleID], userID)
	f.directory.members[userID] = struct{}{}
}

func timeConfig(roleID uint64) *types.RoleTrackingConfig {
	return &types.RoleTrackingConfig{
		GuildID:    1,
		RoleID:     roleID,
		Enabled:    true,
		Conditions: []enum.Condition{enum.ConditionTime},
		Deadline:   14 * 24 * time.Hour,
		Warnings: []types.WarningStep{
			{Index: 0, Offset: 7 * 24 * time.Hour, Message: "{user}, {time_left} left"},
			{Index: 1, Offset: 10 * 24 * time.Hour, Message: "{user}, final reminder"},
		},
		StaffOffset:  14 * 24 * time.Hour,
		StaffMessage: "{user} missed the deadline for {role}",
	}
}

func TestSweepSendsDueWarningOnly(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, timeConfig(100))
	f.addHolder(100, 10)

	ctx := context.Background()
	assignedAt := f.now
	require.NoError(t, f.engine.TrackAssignment(ctx, 1, 10, 100, assignedAt))

	// Eight days in: warning 0 is due, warning 1 and the staff escalation
	// are not.
	f.now = assignedAt.Add(8 * 24 * time.Hour)
	require.NoError(t, f.engine.Sweep(ctx, 1))

	require.Len(t, f.notifier.dms, 1)
	assert.Equal(t, uint64(10), f.notifier.dms[0].userID)
	assert.Contains(t, f.notifier.dms[0].payload, "<@10>")

	// The staff log got the audit line; no escalation channel message.
	require.Len(t, f.notifier.channels, 1)
	assert.Equal(t, uint64(500), f.notifier.channels[0].channelID)

	assert.Len(t, f.warnings.rows, 1)
}

func TestSweepIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, timeConfig(100))
	f.addHolder(100, 10)

	ctx := context.Background()
	assignedAt := f.now
	require.NoError(t, f.engine.TrackAssignment(ctx, 1, 10, 100, assignedAt))

	// Past the deadline: both warnings and the staff escalation are due.
	f.now = assignedAt.Add(15 * 24 * time.Hour)
	require.NoError(t, f.engine.Sweep(ctx, 1))
	require.NoError(t, f.engine.Sweep(ctx, 1))

	assert.Len(t, f.notifier.dms, 2, "each warning delivered exactly once")

	var escalations int

	for _, msg := range f.notifier.channels {
		if msg.channelID == 600 {
			escalations++
		}
	}

	assert.Equal(t, 1, escalations, "staff escalation sent exactly once")
	assert.Len(t, f.warnings.rows, 3, "two warnings plus the sentinel row")
}

func TestFailedDeliveryRetriedNextSweep(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, timeConfig(100))
	f.addHolder(100, 10)

	ctx := context.Background()
	assignedAt := f.now
	require.NoError(t, f.engine.TrackAssignment(ctx, 1, 10, 100, assignedAt))

	f.now = assignedAt.Add(8 * 24 * time.Hour)
	f.notifier.dmErr = errors.New("cannot message this user")
	require.NoError(t, f.engine.Sweep(ctx, 1))

	// No audit row written for the failed send, but the staff log line
	// still went out.
	assert.Empty(t, f.warnings.rows)
	require.Len(t, f.notifier.channels, 1)
	assert.Contains(t, f.notifier.channels[0].payload, "delivery failed")

	// The next sweep retries and succeeds.
	f.notifier.dmErr = nil
	require.NoError(t, f.engine.Sweep(ctx, 1))

	assert.Len(t, f.notifier.dms, 1)
	assert.Len(t, f.warnings.rows, 1)
}

func TestPatrolGraceClearsWarningsAndSkips(t *testing.T) {
	t.Parallel()

	config := timeConfig(100)
	config.Conditions = []enum.Condition{enum.ConditionTime, enum.ConditionPatrol}
	config.PatrolMinimum = 10 * time.Hour

	f := newEngineFixture(t, config)
	f.addHolder(100, 10)

	ctx := context.Background()
	assignedAt := f.now
	require.NoError(t, f.engine.TrackAssignment(ctx, 1, 10, 100, assignedAt))

	// First sweep at day 8 sends warning 0.
	f.now = assignedAt.Add(8 * 24 * time.Hour)
	require.NoError(t, f.engine.Sweep(ctx, 1))
	require.Len(t, f.warnings.rows, 1)

	// The holder then patrols past the threshold: the next sweep clears
	// the schedule and sends nothing, even past the deadline.
	f.patrol.tracked[10] = 11 * time.Hour
	f.now = assignedAt.Add(15 * 24 * time.Hour)
	require.NoError(t, f.engine.Sweep(ctx, 1))

	assert.Empty(t, f.warnings.rows)
	assert.Len(t, f.notifier.dms, 1, "no further warnings while grace holds")
}

func TestSuspendedHolderSkipped(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, timeConfig(100))
	f.addHolder(100, 10)
	f.suspend.suspended[10] = true

	ctx := context.Background()
	require.NoError(t, f.engine.TrackAssignment(ctx, 1, 10, 100, f.now))

	f.now = f.now.Add(15 * 24 * time.Hour)
	require.NoError(t, f.engine.Sweep(ctx, 1))

	assert.Empty(t, f.notifier.dms)
	assert.Empty(t, f.warnings.rows)
}

func TestRoleRevokeResetsSchedule(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, timeConfig(100))
	f.addHolder(100, 10)

	ctx := context.Background()
	assignedAt := f.now
	require.NoError(t, f.engine.TrackAssignment(ctx, 1, 10, 100, assignedAt))

	f.now = assignedAt.Add(8 * 24 * time.Hour)
	require.NoError(t, f.engine.Sweep(ctx, 1))
	require.Len(t, f.warnings.rows, 1)

	// Revoke and regrant: a fresh generation starts and the first warning
	// is sent again once due.
	require.NoError(t, f.engine.TrackRemoval(ctx, 1, 10, 100))
	assert.Empty(t, f.warnings.rows)

	require.NoError(t, f.engine.TrackAssignment(ctx, 1, 10, 100, f.now))

	f.now = f.now.Add(8 * 24 * time.Hour)
	require.NoError(t, f.engine.Sweep(ctx, 1))

	assert.Len(t, f.notifier.dms, 2)
	assert.Len(t, f.warnings.rows, 1)
}

func TestLeaveEndedRebasesAllClocks(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, timeConfig(100))
	f.addHolder(100, 10)

	ctx := context.Background()
	assignedAt := f.now
	require.NoError(t, f.engine.TrackAssignment(ctx, 1, 10, 100, assignedAt))

	f.now = assignedAt.Add(8 * 24 * time.Hour)
	require.NoError(t, f.engine.Sweep(ctx, 1))
	require.Len(t, f.warnings.rows, 1)

	require.NoError(t, f.engine.HandleLeaveEnded(ctx, 1, 10))
	assert.Empty(t, f.warnings.rows)

	// Clock restarted from now: nothing is due on the next sweep.
	require.NoError(t, f.engine.Sweep(ctx, 1))
	assert.Len(t, f.notifier.dms, 1)
}

func TestPreexistingHolderBackfilledToEpoch(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, timeConfig(100))
	f.addHolder(100, 10)

	// No TrackAssignment was ever observed for this holder; the sweep
	// backfills the clock to the tracking epoch, which is far enough in
	// the past that everything is due.
	ctx := context.Background()
	require.NoError(t, f.engine.Sweep(ctx, 1))

	assignment := f.assignments.byKey[assignmentKey{1, 10, 100}]
	require.NotNil(t, assignment)
	assert.Equal(t, time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC), assignment.AssignedAt)
	assert.Len(t, f.notifier.dms, 2)
}

func TestLegacyWarningRowMatchesOnTimestamp(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, timeConfig(100))
	f.addHolder(100, 10)

	ctx := context.Background()
	assignedAt := f.now
	require.NoError(t, f.engine.TrackAssignment(ctx, 1, 10, 100, assignedAt))

	// A row written before generation ids existed carries no AssignmentID
	// and deduplicates by the assignment timestamp instead.
	f.warnings.rows[warningKey{1, 10, 100, 0}] = &types.Warning{
		GuildID: 1, UserID: 10, RoleID: 100, WarningIndex: 0,
		RoleAssignedAt: assignedAt, SentAt: assignedAt,
	}

	f.now = assignedAt.Add(8 * 24 * time.Hour)
	require.NoError(t, f.engine.Sweep(ctx, 1))

	assert.Empty(t, f.notifier.dms, "legacy row suppresses the resend")
}

func TestSweepRemovesDepartedMembers(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, timeConfig(100))
	f.addHolder(100, 10)

	ctx := context.Background()
	require.NoError(t, f.engine.TrackAssignment(ctx, 1, 20, 100, f.now))
	require.NoError(t, f.engine.TrackAssignment(ctx, 1, 10, 100, f.now))

	// Member 20 is no longer in the guild; the sweep collects their rows.
	require.NoError(t, f.engine.Sweep(ctx, 1))

	assert.NotContains(t, f.assignments.byKey, assignmentKey{1, 20, 100})
	assert.Contains(t, f.assignments.byKey, assignmentKey{1, 10, 100})
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	config := timeConfig(100)
	config.Conditions = []enum.Condition{enum.ConditionTime, enum.ConditionPatrol}
	config.PatrolMinimum = 10 * time.Hour

	f := newEngineFixture(t, config)
	f.patrol.tracked[10] = 4 * time.Hour

	ctx := context.Background()
	assignedAt := f.now.Add(-15 * 24 * time.Hour)

	result, err := f.engine.Evaluate(ctx, config, 1, 10, assignedAt)
	require.NoError(t, err)

	assert.True(t, result.DeadlineReached)
	assert.False(t, result.PatrolMet)
	assert.Equal(t, 4*time.Hour, result.Tracked)
	assert.Equal(t, 15*24*time.Hour, result.Elapsed)
}
