package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/wardenlabs/timewarden/internal/database/dbretry"
	"github.com/wardenlabs/timewarden/internal/database/types"
	"go.uber.org/zap"
)

// ErrRoleConfigNotFound is returned when a role has no tracking config.
var ErrRoleConfigNotFound = errors.New("role tracking config not found")

// RoleConfigModel handles database operations for per-role tracking
// configuration. Validation happens before anything reaches this model.
type RoleConfigModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewRoleConfig creates a new role config model instance.
func NewRoleConfig(db *bun.DB, logger *zap.Logger) *RoleConfigModel {
	return &RoleConfigModel{
		db:     db,
		logger: logger.Named("db_role_config"),
	}
}

// Upsert writes the full config for a role.
func (m *RoleConfigModel) Upsert(ctx context.Context, config *types.RoleTrackingConfig) error {
	err := dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewInsert().
			Model(config).
			On("CONFLICT (guild_id, role_id) DO UPDATE").
			Set("enabled = EXCLUDED.enabled").
			Set("conditions = EXCLUDED.conditions").
			Set("deadline = EXCLUDED.deadline").
			Set("warnings = EXCLUDED.warnings").
			Set("patrol_minimum = EXCLUDED.patrol_minimum").
			Set("staff_offset = EXCLUDED.staff_offset").
			Set("staff_message = EXCLUDED.staff_message").
			Set("channel_id = EXCLUDED.channel_id").
			Set("mention_role_ids = EXCLUDED.mention_role_ids").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to upsert role config: %w", err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	m.logger.Debug("Upserted role config",
		zap.Uint64("guildID", config.GuildID),
		zap.Uint64("roleID", config.RoleID),
		zap.Bool("enabled", config.Enabled))

	return nil
}

// Get fetches the config for one role.
func (m *RoleConfigModel) Get(ctx context.Context, guildID, roleID uint64) (*types.RoleTrackingConfig, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (*types.RoleTrackingConfig, error) {
		config := new(types.RoleTrackingConfig)

		err := m.db.NewSelect().
			Model(config).
			Where("guild_id = ?", guildID).
			Where("role_id = ?", roleID).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoleConfigNotFound
		}

		if err != nil {
			return nil, fmt.Errorf("failed to get role config: %w", err)
		}

		return config, nil
	})
}

// ListEnabled returns all enabled role configs for a guild.
func (m *RoleConfigModel) ListEnabled(ctx context.Context, guildID uint64) ([]*types.RoleTrackingConfig, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.RoleTrackingConfig, error) {
		var configs []*types.RoleTrackingConfig

		err := m.db.NewSelect().
			Model(&configs).
			Where("guild_id = ?", guildID).
			Where("enabled = TRUE").
			Order("role_id ASC").
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list enabled role configs: %w", err)
		}

		return configs, nil
	})
}

// SetEnabled toggles tracking for a role without touching the rest of the
// config.
func (m *RoleConfigModel) SetEnabled(ctx context.Context, guildID, roleID uint64, enabled bool) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		res, err := m.db.NewUpdate().
			Model((*types.RoleTrackingConfig)(nil)).
			Set("enabled = ?", enabled).
			Where("guild_id = ?", guildID).
			Where("role_id = ?", roleID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to toggle role config: %w", err)
		}

		if affected, _ := res.RowsAffected(); affected == 0 {
			return ErrRoleConfigNotFound
		}

		return nil
	})
}

// Delete removes a role's tracking config.
func (m *RoleConfigModel) Delete(ctx context.Context, guildID, roleID uint64) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewDelete().
			Model((*types.RoleTrackingConfig)(nil)).
			Where("guild_id = ?", guildID).
			Where("role_id = ?", roleID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to delete role config: %w", err)
		}

		return nil
	})
}

// GuildSettingModel handles the per-guild tracking settings row.
type GuildSettingModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewGuildSetting creates a new guild setting model instance.
func NewGuildSetting(db *bun.DB, logger *zap.Logger) *GuildSettingModel {
	return &GuildSettingModel{
		db:     db,
		logger: logger.Named("db_guild_setting"),
	}
}

// Get fetches a guild's settings, returning an empty settings row when the
// guild has never been configured.
func (m *GuildSettingModel) Get(ctx context.Context, guildID uint64) (*types.GuildSettings, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (*types.GuildSettings, error) {
		settings := new(types.GuildSettings)

		err := m.db.NewSelect().
			Model(settings).
			Where("guild_id = ?", guildID).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return &types.GuildSettings{GuildID: guildID}, nil
		}

		if err != nil {
			return nil, fmt.Errorf("failed to get guild settings: %w", err)
		}

		return settings, nil
	})
}

// Upsert writes a guild's settings.
func (m *GuildSettingModel) Upsert(ctx context.Context, settings *types.GuildSettings) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewInsert().
			Model(settings).
			On("CONFLICT (guild_id) DO UPDATE").
			Set("tracked_channel_ids = EXCLUDED.tracked_channel_ids").
			Set("staff_log_channel_id = EXCLUDED.staff_log_channel_id").
			Set("escalation_channel_id = EXCLUDED.escalation_channel_id").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to upsert guild settings: %w", err)
		}

		return nil
	})
}

// ListGuilds returns every guild with a settings row, the iteration set for
// the daily sweep.
func (m *GuildSettingModel) ListGuilds(ctx context.Context) ([]uint64, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]uint64, error) {
		var settings []*types.GuildSettings

		err := m.db.NewSelect().
			Model(&settings).
			Column("guild_id").
			Order("guild_id ASC").
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list guilds: %w", err)
		}

		guilds := make([]uint64, 0, len(settings))
		for _, s := range settings {
			guilds = append(guilds, s.GuildID)
		}

		return guilds, nil
	})
}
