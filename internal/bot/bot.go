// Package bot wires the Discord gateway to the tracking subsystems:
// voice-state updates feed the session tracker, member updates feed the
// escalation engine.
package bot

import (
	"context"
	"fmt"

	"github.com/disgoorg/disgo"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/cache"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/gateway"
	"github.com/disgoorg/snowflake/v2"
	"github.com/wardenlabs/timewarden/internal/database"
	"github.com/wardenlabs/timewarden/internal/escalation"
	"github.com/wardenlabs/timewarden/internal/notify"
	"github.com/wardenlabs/timewarden/internal/pause"
	"github.com/wardenlabs/timewarden/internal/tracker"
	"go.uber.org/zap"
)

// sessionTracker is the slice of the tracker the listeners drive.
type sessionTracker interface {
	Start(ctx context.Context, guildID, userID, channelID uint64) error
	Move(ctx context.Context, guildID, userID, newChannelID uint64) (bool, error)
	Finalize(ctx context.Context, guildID, userID, channelID uint64) error
	Reconcile(ctx context.Context, guildID uint64, observed map[uint64]uint64, resolvable func(userID uint64) bool) error
	SessionChannel(guildID, userID uint64) (uint64, bool)
}

// pauseState is the slice of the pause controller the listeners consult
// before starting a session.
type pauseState interface {
	Suspended(guildID, userID uint64) bool
	ActiveLeave(ctx context.Context, guildID, userID uint64) (*pause.Leave, error)
}

// Bot owns the gateway connection and translates its events into tracking
// signals.
type Bot struct {
	client   bot.Client
	db       database.Client
	tracker  sessionTracker
	pause    pauseState
	engine   *escalation.Engine
	notifier notify.Notifier
	logger   *zap.Logger

	// inZone re-checks a member's voice presence against the gateway
	// cache; replaced in tests.
	inZone func(guildID, userID, channelID uint64) bool
}

// New creates the gateway client with the intents and caches the tracking
// subsystems need.
func New(
	token string, db database.Client, trk *tracker.Tracker,
	pauseCtrl *pause.Controller, engine *escalation.Engine, logger *zap.Logger,
) (*Bot, error) {
	b := &Bot{
		db:      db,
		tracker: trk,
		pause:   pauseCtrl,
		engine:  engine,
		logger:  logger.Named("bot"),
	}

	client, err := disgo.New(token,
		bot.WithGatewayConfigOpts(
			gateway.WithIntents(
				gateway.IntentGuilds,
				gateway.IntentGuildMembers,
				gateway.IntentGuildVoiceStates,
			),
		),
		bot.WithCacheConfigOpts(
			cache.WithCaches(
				cache.FlagGuilds,
				cache.FlagMembers,
				cache.FlagVoiceStates,
			),
		),
		bot.WithEventListeners(&events.ListenerAdapter{
			OnGuildReady:            b.handleGuildReady,
			OnGuildVoiceStateUpdate: b.handleVoiceStateUpdate,
			OnGuildMemberUpdate:     b.handleMemberUpdate,
			OnGuildMemberLeave:      b.handleMemberLeave,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway client: %w", err)
	}

	b.client = client
	b.notifier = notify.NewDiscord(client, logger)
	b.inZone = b.cacheInZone

	// The engine resolves role holders and membership from the gateway
	// caches this client maintains, and delivers through its REST API.
	engine.BindDirectory(NewDirectory(client))
	engine.BindNotifier(b.notifier)

	return b, nil
}

// cacheInZone reports whether the gateway cache still shows the member in
// the given voice channel.
func (b *Bot) cacheInZone(guildID, userID, channelID uint64) bool {
	state, ok := b.client.Caches().VoiceState(snowflake.ID(guildID), snowflake.ID(userID))
	return ok && state.ChannelID != nil && uint64(*state.ChannelID) == channelID
}

// Client returns the underlying gateway client.
func (b *Bot) Client() bot.Client {
	return b.client
}

// Notifier returns the delivery collaborator backed by this client.
func (b *Bot) Notifier() notify.Notifier {
	return b.notifier
}

// Start opens the gateway connection.
func (b *Bot) Start(ctx context.Context) error {
	if err := b.client.OpenGateway(ctx); err != nil {
		return fmt.Errorf("failed to open gateway: %w", err)
	}

	b.logger.Info("Gateway connection established")

	return nil
}

// Close shuts down the gateway connection.
func (b *Bot) Close(ctx context.Context) {
	b.client.Close(ctx)
	b.logger.Info("Gateway connection closed")
}
