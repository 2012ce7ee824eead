package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/wardenlabs/timewarden/internal/database/types"
	"github.com/wardenlabs/timewarden/internal/pause"
	"go.uber.org/zap"
)

var errLeaveLookup = errors.New("leave service unavailable")

type fakeTracker struct {
	mu        sync.Mutex
	starts    []uint64
	moves     int
	finalizes int
	moveOpen  bool
}

func (f *fakeTracker) Start(_ context.Context, _, _, channelID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.starts = append(f.starts, channelID)

	return nil
}

func (f *fakeTracker) Move(_ context.Context, _, _, _ uint64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.moves++

	return f.moveOpen, nil
}

func (f *fakeTracker) Finalize(_ context.Context, _, _, _ uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.finalizes++

	return nil
}

func (f *fakeTracker) Reconcile(_ context.Context, _ uint64, _ map[uint64]uint64, _ func(uint64) bool) error {
	return nil
}

func (f *fakeTracker) SessionChannel(_, _ uint64) (uint64, bool) {
	return 0, false
}

func (f *fakeTracker) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.starts)
}

type fakePause struct {
	suspended bool
	leave     *pause.Leave
	leaveErr  error
}

func (f *fakePause) Suspended(_, _ uint64) bool {
	return f.suspended
}

func (f *fakePause) ActiveLeave(_ context.Context, _, _ uint64) (*pause.Leave, error) {
	return f.leave, f.leaveErr
}

type fakeNotifier struct {
	mu       sync.Mutex
	dms      []uint64
	channels []uint64
}

func (f *fakeNotifier) DirectMessage(_ context.Context, userID uint64, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.dms = append(f.dms, userID)

	return nil
}

func (f *fakeNotifier) Channel(_ context.Context, channelID uint64, _ string, _ []uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.channels = append(f.channels, channelID)

	return nil
}

type botFixture struct {
	bot      *Bot
	tracker  *fakeTracker
	pause    *fakePause
	notifier *fakeNotifier
	settings *types.GuildSettings
	present  bool
}

func newBotFixture() *botFixture {
	fx := &botFixture{
		tracker:  &fakeTracker{},
		pause:    &fakePause{},
		notifier: &fakeNotifier{},
		settings: &types.GuildSettings{
			GuildID:           1,
			TrackedChannelIDs: []uint64{3, 4},
			StaffLogChannelID: 500,
		},
		present: true,
	}

	fx.bot = &Bot{
		tracker:  fx.tracker,
		pause:    fx.pause,
		notifier: fx.notifier,
		logger:   zap.NewNop(),
		inZone:   func(_, _, _ uint64) bool { return fx.present },
	}

	return fx
}

func TestZoneEnterStartsWhenStillPresent(t *testing.T) {
	t.Parallel()

	fx := newBotFixture()

	fx.bot.startAfterLeaveCheck(t.Context(), fx.settings, 1, 2, 3)

	assert.Equal(t, []uint64{3}, fx.tracker.starts)
}

func TestZoneEnterSkipsMemberWhoLeftDuringLookup(t *testing.T) {
	t.Parallel()

	fx := newBotFixture()
	fx.present = false

	fx.bot.startAfterLeaveCheck(t.Context(), fx.settings, 1, 2, 3)

	assert.Zero(t, fx.tracker.startCount())
}

func TestZoneEnterSkipsOnActiveLeave(t *testing.T) {
	t.Parallel()

	fx := newBotFixture()
	fx.pause.leave = &pause.Leave{AssignedUntil: time.Now().Add(24 * time.Hour)}

	fx.bot.startAfterLeaveCheck(t.Context(), fx.settings, 1, 2, 3)

	assert.Zero(t, fx.tracker.startCount())
	assert.Equal(t, []uint64{2}, fx.notifier.dms)
	assert.Equal(t, []uint64{500}, fx.notifier.channels)
}

func TestZoneEnterFailsOpenOnLookupError(t *testing.T) {
	t.Parallel()

	fx := newBotFixture()
	fx.pause.leaveErr = errLeaveLookup

	fx.bot.startAfterLeaveCheck(t.Context(), fx.settings, 1, 2, 3)

	assert.Equal(t, []uint64{3}, fx.tracker.starts)
}

func TestZoneEnterSkipsSuspendedMember(t *testing.T) {
	t.Parallel()

	fx := newBotFixture()
	fx.pause.suspended = true

	fx.bot.handleZoneEnter(t.Context(), fx.settings, 1, 2, 3)

	assert.Zero(t, fx.tracker.startCount())
}

func TestMoveWithoutSessionStartsFreshEntry(t *testing.T) {
	t.Parallel()

	fx := newBotFixture()
	fx.tracker.moveOpen = false

	fx.bot.routeVoiceTransition(t.Context(), fx.settings, 1, 2, 3, 4)

	assert.Equal(t, 1, fx.tracker.moves)
	assert.Eventually(t, func() bool {
		return fx.tracker.startCount() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestMoveWithOpenSessionDoesNotRestart(t *testing.T) {
	t.Parallel()

	fx := newBotFixture()
	fx.tracker.moveOpen = true

	fx.bot.routeVoiceTransition(t.Context(), fx.settings, 1, 2, 3, 4)

	assert.Equal(t, 1, fx.tracker.moves)
	assert.Zero(t, fx.tracker.startCount())
}