package escalation

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wardenlabs/timewarden/internal/database/types"
	"github.com/wardenlabs/timewarden/internal/database/types/enum"
	"github.com/wardenlabs/timewarden/internal/duration"
)

// ConfigError reports every distinct validation failure found in a role
// config submission. Nothing is persisted when validation fails.
type ConfigError struct {
	Reasons []string
}

func (e *ConfigError) Error() string {
	return "invalid role config: " + strings.Join(e.Reasons, "; ")
}

// WarningInput is one warning step as submitted by the command layer,
// with the offset still in human-readable form.
type WarningInput struct {
	Index   int
	Offset  string
	Message string
}

// ConfigInput is a role config submission with duration fields still in
// human-readable form. BuildConfig validates and converts it.
type ConfigInput struct {
	Enabled        bool
	Conditions     []enum.Condition
	Deadline       string
	Warnings       []WarningInput
	PatrolMinimum  string
	StaffOffset    string
	StaffMessage   string
	ChannelID      uint64
	MentionRoleIDs []uint64
}

// BuildConfig validates a submission and converts it into a persistable
// role config. All failures are collected and returned together as a
// ConfigError so the caller can show every reason at once.
func BuildConfig(guildID, roleID uint64, input ConfigInput) (*types.RoleTrackingConfig, error) {
	var reasons []string

	deadline, err := duration.Parse(input.Deadline)
	if err != nil {
		reasons = append(reasons, fmt.Sprintf("deadline %q is not a valid duration", input.Deadline))
	}

	warnings := make([]types.WarningStep, 0, len(input.Warnings))

	for _, step := range input.Warnings {
		offset, err := duration.Parse(step.Offset)
		if err != nil {
			reasons = append(reasons,
				fmt.Sprintf("warning %d offset %q is not a valid duration", step.Index, step.Offset))

			continue
		}

		if deadline > 0 && offset > deadline {
			reasons = append(reasons,
				fmt.Sprintf("warning %d offset exceeds the deadline", step.Index))
		}

		warnings = append(warnings, types.WarningStep{
			Index:   step.Index,
			Offset:  offset,
			Message: step.Message,
		})
	}

	sort.Slice(warnings, func(i, j int) bool { return warnings[i].Index < warnings[j].Index })

	for i := 1; i < len(warnings); i++ {
		if warnings[i].Offset <= warnings[i-1].Offset {
			reasons = append(reasons,
				fmt.Sprintf("warning %d offset must be greater than warning %d offset",
					warnings[i].Index, warnings[i-1].Index))
		}
	}

	var patrolMinimum time.Duration

	if input.PatrolMinimum != "" {
		patrolMinimum, err = duration.Parse(input.PatrolMinimum)
		if err != nil {
			reasons = append(reasons,
				fmt.Sprintf("patrol minimum %q is not a valid duration", input.PatrolMinimum))
		}
	}

	hasPatrol := false

	for _, cond := range input.Conditions {
		if cond == enum.ConditionPatrol {
			hasPatrol = true
		}
	}

	if hasPatrol && patrolMinimum <= 0 {
		reasons = append(reasons, "patrol condition requires a patrol minimum")
	}

	var staffOffset time.Duration

	if input.StaffOffset != "" {
		staffOffset, err = duration.Parse(input.StaffOffset)
		if err != nil {
			reasons = append(reasons,
				fmt.Sprintf("staff offset %q is not a valid duration", input.StaffOffset))
		} else if deadline > 0 && staffOffset > deadline {
			reasons = append(reasons, "staff offset exceeds the deadline")
		}
	}

	if len(reasons) > 0 {
		return nil, &ConfigError{Reasons: reasons}
	}

	return &types.RoleTrackingConfig{
		GuildID:        guildID,
		RoleID:         roleID,
		Enabled:        input.Enabled,
		Conditions:     input.Conditions,
		Deadline:       deadline,
		Warnings:       warnings,
		PatrolMinimum:  patrolMinimum,
		StaffOffset:    staffOffset,
		StaffMessage:   input.StaffMessage,
		ChannelID:      input.ChannelID,
		MentionRoleIDs: input.MentionRoleIDs,
	}, nil
}
