package pause_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wardenlabs/timewarden/internal/pause"
	"go.uber.org/zap"
)

type fakeSessions struct {
	open    map[[2]uint64]bool
	rebased [][2]uint64
}

func (f *fakeSessions) HasSession(guildID, userID uint64) bool {
	return f.open[[2]uint64{guildID, userID}]
}

func (f *fakeSessions) GuildHasSessions(guildID uint64) bool {
	for key, open := range f.open {
		if key[0] == guildID && open {
			return true
		}
	}

	return false
}

func (f *fakeSessions) RebaseSession(_ context.Context, guildID, userID uint64) {
	f.rebased = append(f.rebased, [2]uint64{guildID, userID})
}

type fakeLeaves struct {
	leave *pause.Leave
	err   error
}

func (f *fakeLeaves) ActiveLeave(context.Context, uint64, uint64) (*pause.Leave, error) {
	return f.leave, f.err
}

func TestPauseRefusedWhileSessionOpen(t *testing.T) {
	t.Parallel()

	sessions := &fakeSessions{open: map[[2]uint64]bool{{1, 10}: true}}
	ctrl := pause.NewController(nil, zap.NewNop())
	ctrl.BindSessions(sessions)

	assert.False(t, ctrl.Pause(1, 10), "pause should fail while a session is open")
	assert.False(t, ctrl.Suspended(1, 10))

	// Other members of the guild can still be paused.
	assert.True(t, ctrl.Pause(1, 20))
	assert.True(t, ctrl.Suspended(1, 20))
}

func TestGuildPauseRefusedWhileAnySessionOpen(t *testing.T) {
	t.Parallel()

	sessions := &fakeSessions{open: map[[2]uint64]bool{{1, 10}: true}}
	ctrl := pause.NewController(nil, zap.NewNop())
	ctrl.BindSessions(sessions)

	assert.False(t, ctrl.PauseGuild(1))

	sessions.open[[2]uint64{1, 10}] = false

	require.True(t, ctrl.PauseGuild(1))
	assert.True(t, ctrl.Suspended(1, 99), "guild pause covers every member")

	ctrl.UnpauseGuild(1)
	assert.False(t, ctrl.Suspended(1, 99))
}

func TestUnpauseRebasesOpenSession(t *testing.T) {
	t.Parallel()

	sessions := &fakeSessions{open: map[[2]uint64]bool{}}
	ctrl := pause.NewController(nil, zap.NewNop())
	ctrl.BindSessions(sessions)

	require.True(t, ctrl.Pause(1, 10))

	// Member joined a tracked zone while paused; unpausing restarts the
	// session from now.
	sessions.open[[2]uint64{1, 10}] = true
	ctrl.Unpause(context.Background(), 1, 10)

	assert.False(t, ctrl.Suspended(1, 10))
	assert.Equal(t, [][2]uint64{{1, 10}}, sessions.rebased)
}

func TestSuspendedOrOnLeave(t *testing.T) {
	t.Parallel()

	leaves := &fakeLeaves{}
	ctrl := pause.NewController(leaves, zap.NewNop())

	ctx := context.Background()

	assert.False(t, ctrl.SuspendedOrOnLeave(ctx, 1, 10))

	leaves.leave = &pause.Leave{AssignedUntil: time.Now().Add(time.Hour)}
	assert.True(t, ctrl.SuspendedOrOnLeave(ctx, 1, 10))

	// A failing lookup fails open.
	leaves.leave = nil
	leaves.err = errors.New("service unavailable")
	assert.False(t, ctrl.SuspendedOrOnLeave(ctx, 1, 10))

	// Manual pause still wins regardless of the lookup.
	require.True(t, ctrl.Pause(1, 10))
	assert.True(t, ctrl.SuspendedOrOnLeave(ctx, 1, 10))
}
