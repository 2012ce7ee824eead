package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/wardenlabs/timewarden/internal/database/dbretry"
	"github.com/wardenlabs/timewarden/internal/database/types"
	"go.uber.org/zap"
)

// AssignmentModel handles database operations for role assignment clocks.
type AssignmentModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewAssignment creates a new assignment model instance.
func NewAssignment(db *bun.DB, logger *zap.Logger) *AssignmentModel {
	return &AssignmentModel{
		db:     db,
		logger: logger.Named("db_assignment"),
	}
}

// Upsert records that a member holds an obligation role. A fresh grant gets
// a new generation id; a repeated grant signal refreshes the clock but keeps
// the existing generation.
func (m *AssignmentModel) Upsert(
	ctx context.Context, guildID, userID, roleID uint64, assignedAt time.Time,
) (*types.RoleAssignment, error) {
	assignment := &types.RoleAssignment{
		GuildID:      guildID,
		UserID:       userID,
		RoleID:       roleID,
		AssignmentID: uuid.NewString(),
		AssignedAt:   assignedAt,
	}

	err := dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewInsert().
			Model(assignment).
			On("CONFLICT (guild_id, user_id, role_id) DO UPDATE").
			Set("assigned_at = EXCLUDED.assigned_at").
			Returning("assignment_id, assigned_at").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to upsert role assignment: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Debug("Upserted role assignment",
		zap.Uint64("guildID", guildID),
		zap.Uint64("userID", userID),
		zap.Uint64("roleID", roleID),
		zap.Time("assignedAt", assignment.AssignedAt))

	return assignment, nil
}

// GetOrCreate fetches the assignment for (guild, user, role), backfilling a
// record at fallbackAt when none exists. Pre-existing role holders get their
// clock started at the tracking epoch this way.
func (m *AssignmentModel) GetOrCreate(
	ctx context.Context, guildID, userID, roleID uint64, fallbackAt time.Time,
) (*types.RoleAssignment, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (*types.RoleAssignment, error) {
		assignment := &types.RoleAssignment{
			GuildID:      guildID,
			UserID:       userID,
			RoleID:       roleID,
			AssignmentID: uuid.NewString(),
			AssignedAt:   fallbackAt,
		}

		_, err := m.db.NewInsert().
			Model(assignment).
			On("CONFLICT (guild_id, user_id, role_id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to backfill role assignment: %w", err)
		}

		err = m.db.NewSelect().
			Model(assignment).
			Where("guild_id = ?", guildID).
			Where("user_id = ?", userID).
			Where("role_id = ?", roleID).
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get role assignment: %w", err)
		}

		return assignment, nil
	})
}

// Get fetches the assignment for (guild, user, role), or nil when the
// member does not hold the role.
func (m *AssignmentModel) Get(
	ctx context.Context, guildID, userID, roleID uint64,
) (*types.RoleAssignment, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (*types.RoleAssignment, error) {
		assignment := new(types.RoleAssignment)

		err := m.db.NewSelect().
			Model(assignment).
			Where("guild_id = ?", guildID).
			Where("user_id = ?", userID).
			Where("role_id = ?", roleID).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil //nolint:nilnil
		}

		if err != nil {
			return nil, fmt.Errorf("failed to get role assignment: %w", err)
		}

		return assignment, nil
	})
}

// Rebase moves the assignment clock for one role to the given time. The
// generation id is preserved so cleared warnings stay scoped correctly.
func (m *AssignmentModel) Rebase(
	ctx context.Context, guildID, userID, roleID uint64, at time.Time,
) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewUpdate().
			Model((*types.RoleAssignment)(nil)).
			Set("assigned_at = ?", at).
			Where("guild_id = ?", guildID).
			Where("user_id = ?", userID).
			Where("role_id = ?", roleID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to rebase role assignment: %w", err)
		}

		return nil
	})
}

// RebaseAll moves every assignment clock the member holds to the given time.
// Used when a leave of absence ends and all obligations restart together.
func (m *AssignmentModel) RebaseAll(ctx context.Context, guildID, userID uint64, at time.Time) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewUpdate().
			Model((*types.RoleAssignment)(nil)).
			Set("assigned_at = ?", at).
			Where("guild_id = ?", guildID).
			Where("user_id = ?", userID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to rebase role assignments: %w", err)
		}

		return nil
	})
}

// Delete removes the assignment and cascades its warning rows.
func (m *AssignmentModel) Delete(ctx context.Context, guildID, userID, roleID uint64) error {
	return dbretry.Transaction(ctx, m.db, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewDelete().
			Model((*types.RoleAssignment)(nil)).
			Where("guild_id = ?", guildID).
			Where("user_id = ?", userID).
			Where("role_id = ?", roleID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to delete role assignment: %w", err)
		}

		_, err = tx.NewDelete().
			Model((*types.Warning)(nil)).
			Where("guild_id = ?", guildID).
			Where("user_id = ?", userID).
			Where("role_id = ?", roleID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to delete assignment warnings: %w", err)
		}

		return nil
	})
}

// DeleteDeparted removes assignments and warnings for members no longer in
// the guild, bounding storage growth. Returns the number of assignments
// removed.
func (m *AssignmentModel) DeleteDeparted(
	ctx context.Context, guildID uint64, currentMembers map[uint64]struct{},
) (int, error) {
	var assignments []*types.RoleAssignment

	err := dbretry.NoResult(ctx, func(ctx context.Context) error {
		err := m.db.NewSelect().
			Model(&assignments).
			Column("user_id").
			Where("guild_id = ?", guildID).
			Group("user_id").
			Scan(ctx)
		if err != nil {
			return fmt.Errorf("failed to list assignment holders: %w", err)
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	var departed []uint64

	for _, assignment := range assignments {
		if _, ok := currentMembers[assignment.UserID]; !ok {
			departed = append(departed, assignment.UserID)
		}
	}

	if len(departed) == 0 {
		return 0, nil
	}

	var removed int

	err = dbretry.Transaction(ctx, m.db, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewDelete().
			Model((*types.RoleAssignment)(nil)).
			Where("guild_id = ?", guildID).
			Where("user_id IN (?)", bun.In(departed)).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to delete departed assignments: %w", err)
		}

		affected, _ := res.RowsAffected()
		removed = int(affected)

		_, err = tx.NewDelete().
			Model((*types.Warning)(nil)).
			Where("guild_id = ?", guildID).
			Where("user_id IN (?)", bun.In(departed)).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to delete departed warnings: %w", err)
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	m.logger.Debug("Removed departed member assignments",
		zap.Uint64("guildID", guildID),
		zap.Int("members", len(departed)),
		zap.Int("assignments", removed))

	return removed, nil
}
