package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightlink/internal/config"
	"github.com/dokzlo13/lightlink/internal/ledger"
)

// RetentionService trims old ledger entries on an interval.
type RetentionService struct {
	interval  time.Duration
	retention time.Duration
	ledger    *ledger.Ledger
}

// NewRetentionService creates a RetentionService from the ledger config.
func NewRetentionService(cfg *config.Config, l *ledger.Ledger) *RetentionService {
	return &RetentionService{
		interval:  cfg.Ledger.CleanupInterval.Duration(),
		retention: time.Duration(cfg.Ledger.RetentionDays) * 24 * time.Hour,
		ledger:    l,
	}
}

// Start launches the cleanup loop. A cleanup runs immediately.
func (s *RetentionService) Start(ctx context.Context) {
	if s.interval <= 0 || s.retention <= 0 {
		log.Debug().Msg("Ledger cleanup disabled")
		return
	}
	go s.run(ctx)
}

func (s *RetentionService) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.cleanup()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *RetentionService) cleanup() {
	deleted, err := s.ledger.DeleteOlderThan(s.retention)
	if err != nil {
		log.Warn().Err(err).Msg("Ledger cleanup failed")
		return
	}
	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Dur("retention", s.retention).Msg("Ledger cleanup")
	}
}
