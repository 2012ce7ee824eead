package database

import (
	"github.com/uptrace/bun"
	"github.com/wardenlabs/timewarden/internal/database/service"
	"go.uber.org/zap"
)

// Service provides access to all business logic services.
type Service struct {
	ledger *service.LedgerService
}

// NewService creates a new service instance with all services.
func NewService(db *bun.DB, logger *zap.Logger) *Service {
	return &Service{
		ledger: service.NewLedger(db, logger),
	}
}

// Ledger returns the ledger service.
func (s *Service) Ledger() *service.LedgerService {
	return s.ledger
}
