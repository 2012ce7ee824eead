package types

import "time"

// StaffEscalationIndex is the reserved warning index recorded when the
// terminal staff escalation has been sent for an assignment.
const StaffEscalationIndex = -1

// RoleAssignment marks when a member was granted an obligation role.
// AssignmentID is the stable generation identifier scoping warning
// deduplication; it survives clock rebases but not revoke/regrant cycles.
type RoleAssignment struct {
	GuildID      uint64    `bun:",pk"`
	UserID       uint64    `bun:",pk"`
	RoleID       uint64    `bun:",pk"`
	AssignmentID string    `bun:",notnull"`
	AssignedAt   time.Time `bun:",notnull"`
}

// Warning is an append-only audit row for an escalation step already sent.
// Existence of a row for (guild, user, role, index, assignment) is the
// at-most-once delivery guard.
type Warning struct {
	GuildID        uint64    `bun:",pk"`
	UserID         uint64    `bun:",pk"`
	RoleID         uint64    `bun:",pk"`
	WarningIndex   int       `bun:",pk"`
	AssignmentID   string    `bun:",nullzero"`
	RoleAssignedAt time.Time `bun:",notnull"`
	SentAt         time.Time `bun:",notnull"`
}

// Matches reports whether the warning belongs to the given assignment
// generation. Rows written before generation ids existed carry an empty
// AssignmentID and fall back to matching the assignment timestamp.
func (w *Warning) Matches(assignmentID string, assignedAt time.Time) bool {
	if w.AssignmentID != "" {
		return w.AssignmentID == assignmentID
	}

	return w.RoleAssignedAt.Equal(assignedAt)
}
