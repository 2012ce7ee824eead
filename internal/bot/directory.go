package bot

import (
	"context"
	"slices"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"
)

// Directory resolves guild membership from the gateway caches. It backs
// the escalation engine's holder iteration and garbage collection.
type Directory struct {
	client bot.Client
}

// NewDirectory creates a cache-backed member directory.
func NewDirectory(client bot.Client) *Directory {
	return &Directory{client: client}
}

// RoleHolders returns the ids of every cached member holding the role.
func (d *Directory) RoleHolders(_ context.Context, guildID, roleID uint64) ([]uint64, error) {
	var holders []uint64

	d.client.Caches().MembersForEach(snowflake.ID(guildID), func(member discord.Member) {
		if member.User.Bot {
			return
		}

		if slices.Contains(member.RoleIDs, snowflake.ID(roleID)) {
			holders = append(holders, uint64(member.User.ID))
		}
	})

	return holders, nil
}

// Members returns the id set of every cached member of the guild.
func (d *Directory) Members(_ context.Context, guildID uint64) (map[uint64]struct{}, error) {
	members := make(map[uint64]struct{})

	d.client.Caches().MembersForEach(snowflake.ID(guildID), func(member discord.Member) {
		members[uint64(member.User.ID)] = struct{}{}
	})

	return members, nil
}
