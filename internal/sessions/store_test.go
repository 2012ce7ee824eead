package sessions_test

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/rueidis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wardenlabs/timewarden/internal/sessions"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *sessions.Store {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  []string{mr.Addr()},
		DisableCache: true,
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	return sessions.NewStore(client, zap.NewNop())
}

func TestStorePutGetDelete(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := t.Context()

	record := &sessions.Record{
		GuildID:   100,
		UserID:    200,
		ChannelID: 300,
		StartedAt: time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC),
	}

	require.NoError(t, store.Put(ctx, record))

	got, err := store.Get(ctx, 100, 200)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, record.ChannelID, got.ChannelID)
	assert.True(t, record.StartedAt.Equal(got.StartedAt))

	require.NoError(t, store.Delete(ctx, 100, 200))

	got, err = store.Get(ctx, 100, 200)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStoreGetMissing(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	got, err := store.Get(t.Context(), 1, 2)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStoreAll(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := t.Context()

	started := time.Now().UTC().Truncate(time.Second)
	for _, userID := range []uint64{10, 20, 30} {
		require.NoError(t, store.Put(ctx, &sessions.Record{
			GuildID:   5,
			UserID:    userID,
			ChannelID: 99,
			StartedAt: started,
		}))
	}

	// Records under another guild stay invisible.
	require.NoError(t, store.Put(ctx, &sessions.Record{
		GuildID: 6, UserID: 10, ChannelID: 99, StartedAt: started,
	}))

	records, err := store.All(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, records, 3)

	for _, userID := range []uint64{10, 20, 30} {
		require.Contains(t, records, userID)
		assert.Equal(t, uint64(99), records[userID].ChannelID)
	}
}

func TestStorePutReplaces(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := t.Context()

	started := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.Put(ctx, &sessions.Record{
		GuildID: 1, UserID: 2, ChannelID: 3, StartedAt: started,
	}))
	require.NoError(t, store.Put(ctx, &sessions.Record{
		GuildID: 1, UserID: 2, ChannelID: 4, StartedAt: started,
	}))

	got, err := store.Get(ctx, 1, 2)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, uint64(4), got.ChannelID)
}
