package types

import (
	"time"

	"github.com/wardenlabs/timewarden/internal/database/types/enum"
)

// WarningStep is one step of a role's ordered warning schedule. Offsets are
// measured from the role assignment time and must ascend strictly.
type WarningStep struct {
	Index   int           `json:"index"`
	Offset  time.Duration `json:"offset"`
	Message string        `json:"message"`
}

// RoleTrackingConfig configures deadline tracking for one obligation role
// within a guild. The warning schedule and mention overrides are stored as
// JSONB through bunjson.
type RoleTrackingConfig struct {
	GuildID        uint64           `bun:",pk"`
	RoleID         uint64           `bun:",pk"`
	Enabled        bool             `bun:",notnull"`
	Conditions     []enum.Condition `bun:"type:jsonb"`
	Deadline       time.Duration    `bun:",notnull"`
	Warnings       []WarningStep    `bun:"type:jsonb"`
	PatrolMinimum  time.Duration    `bun:",nullzero"`
	StaffOffset    time.Duration    `bun:",nullzero"`
	StaffMessage   string           `bun:",nullzero"`
	ChannelID      uint64           `bun:",nullzero"`
	MentionRoleIDs []uint64         `bun:"type:jsonb"`
}

// HasCondition reports whether the config carries the given condition.
func (c *RoleTrackingConfig) HasCondition(cond enum.Condition) bool {
	for _, have := range c.Conditions {
		if have == cond {
			return true
		}
	}

	return false
}

// Exempt reports whether the role carries no obligations at all. Roles with
// an empty condition set have no clock and receive no warnings.
func (c *RoleTrackingConfig) Exempt() bool {
	return len(c.Conditions) == 0
}

// GuildSettings stores the per-guild tracking surface: which voice channels
// count as tracked zones and where staff messages go.
type GuildSettings struct {
	GuildID             uint64   `bun:",pk"`
	TrackedChannelIDs   []uint64 `bun:"type:jsonb"`
	StaffLogChannelID   uint64   `bun:",nullzero"`
	EscalationChannelID uint64   `bun:",nullzero"`
}

// Tracked reports whether the channel is a tracked zone for the guild.
func (s *GuildSettings) Tracked(channelID uint64) bool {
	for _, id := range s.TrackedChannelIDs {
		if id == channelID {
			return true
		}
	}

	return false
}
