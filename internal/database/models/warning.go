package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/wardenlabs/timewarden/internal/database/dbretry"
	"github.com/wardenlabs/timewarden/internal/database/types"
	"go.uber.org/zap"
)

// WarningModel handles database operations for the append-only warning
// audit used to deduplicate escalation steps.
type WarningModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewWarning creates a new warning model instance.
func NewWarning(db *bun.DB, logger *zap.Logger) *WarningModel {
	return &WarningModel{
		db:     db,
		logger: logger.Named("db_warning"),
	}
}

// Exists reports whether a warning row already exists for the step within
// the given assignment generation. Rows without a generation id match on
// the assignment timestamp instead.
func (m *WarningModel) Exists(
	ctx context.Context, guildID, userID, roleID uint64,
	warningIndex int, assignmentID string, assignedAt time.Time,
) (bool, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (bool, error) {
		warning := new(types.Warning)

		err := m.db.NewSelect().
			Model(warning).
			Where("guild_id = ?", guildID).
			Where("user_id = ?", userID).
			Where("role_id = ?", roleID).
			Where("warning_index = ?", warningIndex).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}

		if err != nil {
			return false, fmt.Errorf("failed to check warning existence: %w", err)
		}

		return warning.Matches(assignmentID, assignedAt), nil
	})
}

// Record writes the audit row for a delivered escalation step. Replaces any
// row left over from a previous assignment generation for the same index.
func (m *WarningModel) Record(ctx context.Context, warning *types.Warning) error {
	err := dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewInsert().
			Model(warning).
			On("CONFLICT (guild_id, user_id, role_id, warning_index) DO UPDATE").
			Set("assignment_id = EXCLUDED.assignment_id").
			Set("role_assigned_at = EXCLUDED.role_assigned_at").
			Set("sent_at = EXCLUDED.sent_at").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to record warning: %w", err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	m.logger.Debug("Recorded warning",
		zap.Uint64("guildID", warning.GuildID),
		zap.Uint64("userID", warning.UserID),
		zap.Uint64("roleID", warning.RoleID),
		zap.Int("index", warning.WarningIndex))

	return nil
}

// ClearForAssignment removes all warning rows for one role held by a member,
// used when the grace condition is met and the schedule restarts.
func (m *WarningModel) ClearForAssignment(ctx context.Context, guildID, userID, roleID uint64) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewDelete().
			Model((*types.Warning)(nil)).
			Where("guild_id = ?", guildID).
			Where("user_id = ?", userID).
			Where("role_id = ?", roleID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to clear assignment warnings: %w", err)
		}

		return nil
	})
}

// ClearForUser removes every warning row a member has across all roles,
// used when a leave of absence ends and all clocks restart.
func (m *WarningModel) ClearForUser(ctx context.Context, guildID, userID uint64) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewDelete().
			Model((*types.Warning)(nil)).
			Where("guild_id = ?", guildID).
			Where("user_id = ?", userID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to clear user warnings: %w", err)
		}

		return nil
	})
}
