package scheduler

import (
	"context"

	"github.com/ikkim/cartsync/internal/app/service"
	"github.com/ikkim/cartsync/pkg/logger"
	"github.com/robfig/cron/v3"
)

// SyncScheduler periodically resynchronizes the cart with the server while
// online. Polling is the only server-initiated-looking behavior the engine
// has; there is no push channel.
type SyncScheduler struct {
	cron        *cron.Cron
	coordinator service.SyncCoordinator
	spec        string
}

// NewSyncScheduler creates a scheduler running SyncWithServer on the given
// cron spec (e.g. "@every 5m").
func NewSyncScheduler(coordinator service.SyncCoordinator, spec string) *SyncScheduler {
	return &SyncScheduler{
		cron:        cron.New(),
		coordinator: coordinator,
		spec:        spec,
	}
}

// Start registers the sync job and starts the cron loop.
func (s *SyncScheduler) Start() error {
	_, err := s.cron.AddFunc(s.spec, func() {
		if !s.coordinator.IsOnline() {
			logger.Debug("Skipping scheduled sync while offline", nil)
			return
		}

		if err := s.coordinator.SyncWithServer(context.Background()); err != nil {
			logger.Error("Scheduled cart sync failed", err, nil)
			return
		}
		logger.Debug("Scheduled cart sync completed", nil)
	})
	if err != nil {
		logger.Error("Failed to register sync cron job", err, map[string]interface{}{
			"spec": s.spec,
		})
		return err
	}

	s.cron.Start()
	logger.Info("Sync scheduler started", map[string]interface{}{
		"spec": s.spec,
	})
	return nil
}

// Stop halts the cron loop.
func (s *SyncScheduler) Stop() {
	logger.Info("Stopping sync scheduler", nil)
	s.cron.Stop()
}
