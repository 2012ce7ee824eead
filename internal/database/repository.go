package database

import (
	"github.com/uptrace/bun"
	"github.com/wardenlabs/timewarden/internal/database/models"
	"go.uber.org/zap"
)

// Repository provides access to all database models.
type Repository struct {
	ledger       *models.LedgerModel
	assignment   *models.AssignmentModel
	warning      *models.WarningModel
	roleConfig   *models.RoleConfigModel
	guildSetting *models.GuildSettingModel
}

// NewRepository creates a new repository instance with all models.
func NewRepository(db *bun.DB, logger *zap.Logger) *Repository {
	return &Repository{
		ledger:       models.NewLedger(db, logger),
		assignment:   models.NewAssignment(db, logger),
		warning:      models.NewWarning(db, logger),
		roleConfig:   models.NewRoleConfig(db, logger),
		guildSetting: models.NewGuildSetting(db, logger),
	}
}

// Ledger returns the ledger model repository.
func (r *Repository) Ledger() *models.LedgerModel {
	return r.ledger
}

// Assignment returns the role assignment model repository.
func (r *Repository) Assignment() *models.AssignmentModel {
	return r.assignment
}

// Warning returns the warning model repository.
func (r *Repository) Warning() *models.WarningModel {
	return r.warning
}

// RoleConfig returns the role config model repository.
func (r *Repository) RoleConfig() *models.RoleConfigModel {
	return r.roleConfig
}

// GuildSetting returns the guild setting model repository.
func (r *Repository) GuildSetting() *models.GuildSettingModel {
	return r.guildSetting
}
