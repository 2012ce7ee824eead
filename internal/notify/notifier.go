// Package notify delivers warnings and escalations through Discord.
package notify

import (
	"context"
	"fmt"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
	"go.uber.org/zap"
)

// Notifier delivers payloads to members and channels. Errors are
// transient: the caller retries on its next cycle.
type Notifier interface {
	DirectMessage(ctx context.Context, userID uint64, payload string) error
	Channel(ctx context.Context, channelID uint64, payload string, mentionRoleIDs []uint64) error
}

// DiscordNotifier sends messages through the gateway client's REST API.
type DiscordNotifier struct {
	client bot.Client
	logger *zap.Logger
}

// NewDiscord creates a Discord-backed notifier.
func NewDiscord(client bot.Client, logger *zap.Logger) *DiscordNotifier {
	return &DiscordNotifier{
		client: client,
		logger: logger.Named("notify"),
	}
}

// DirectMessage opens a DM channel with the member and sends the payload.
func (n *DiscordNotifier) DirectMessage(ctx context.Context, userID uint64, payload string) error {
	channel, err := n.client.Rest().CreateDMChannel(snowflake.ID(userID), rest.WithCtx(ctx))
	if err != nil {
		return fmt.Errorf("failed to create DM channel: %w", err)
	}

	_, err = n.client.Rest().CreateMessage(channel.ID(), discord.NewMessageCreateBuilder().
		SetContent(payload).
		Build(), rest.WithCtx(ctx))
	if err != nil {
		return fmt.Errorf("failed to send direct message: %w", err)
	}

	return nil
}

// Channel sends the payload to a channel, restricting pings to the given
// mention roles plus the user mentions embedded in the payload.
func (n *DiscordNotifier) Channel(
	ctx context.Context, channelID uint64, payload string, mentionRoleIDs []uint64,
) error {
	roles := make([]snowflake.ID, len(mentionRoleIDs))
	for i, id := range mentionRoleIDs {
		roles[i] = snowflake.ID(id)
	}

	_, err := n.client.Rest().CreateMessage(snowflake.ID(channelID), discord.NewMessageCreateBuilder().
		SetContent(payload).
		SetAllowedMentions(&discord.AllowedMentions{
			Parse: []discord.AllowedMentionType{discord.AllowedMentionTypeUsers},
			Roles: roles,
		}).
		Build(), rest.WithCtx(ctx))
	if err != nil {
		return fmt.Errorf("failed to send channel message: %w", err)
	}

	return nil
}
