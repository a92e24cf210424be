package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ikkim/cartsync/pkg/logger"
)

var ErrOffline = errors.New("cannot sync while offline")

// SyncCoordinator tracks online/offline transitions and drives queue
// draining and full resynchronization. Connectivity itself is reported by
// the host application; only client-initiated sync is performed here.
type SyncCoordinator interface {
	SetOnline(online bool)
	IsOnline() bool
	SyncWithServer(ctx context.Context) error
	Stop()
}

type syncCoordinator struct {
	engine     CartService
	notifier   Notifier
	analytics  Analytics
	drainDelay time.Duration

	mu         sync.Mutex
	drainTimer *time.Timer
}

// NewSyncCoordinator wires a coordinator around the engine. drainDelay is
// how long to let the network stabilize after a reconnect before draining
// the offline queue.
func NewSyncCoordinator(engine CartService, drainDelay time.Duration, notifier Notifier, analytics Analytics) SyncCoordinator {
	if notifier == nil {
		notifier = NewLogNotifier()
	}
	if analytics == nil {
		analytics = NewLogAnalytics()
	}
	return &syncCoordinator{
		engine:     engine,
		notifier:   notifier,
		analytics:  analytics,
		drainDelay: drainDelay,
	}
}

func (c *syncCoordinator) IsOnline() bool {
	return c.engine.IsOnline()
}

// SetOnline records a connectivity transition. Going online schedules a
// queue drain after the stabilization delay; going offline cancels any
// drain that has not fired yet.
func (c *syncCoordinator) SetOnline(online bool) {
	// The whole transition happens under the coordinator lock so two
	// concurrent flips cannot both read a stale previous state and race
	// the timer bookkeeping.
	c.mu.Lock()
	defer c.mu.Unlock()

	was := c.engine.IsOnline()
	c.engine.SetOnline(online)

	if online == was {
		return
	}

	logger.Info("Connectivity changed", map[string]interface{}{
		"online": online,
	})

	if c.drainTimer != nil {
		c.drainTimer.Stop()
		c.drainTimer = nil
	}

	if !online {
		return
	}

	c.drainTimer = time.AfterFunc(c.drainDelay, func() {
		report, err := c.engine.ProcessQueue(context.Background())
		if err != nil && !errors.Is(err, ErrDrainInProgress) {
			logger.Error("Queue drain after reconnect failed", err, nil)
			return
		}
		logger.Info("Queue drained after reconnect", map[string]interface{}{
			"resolved": report.Resolved,
			"pending":  report.Pending,
			"dropped":  report.Dropped,
		})
	})
}

// SyncWithServer pulls the authoritative cart, drains the queue, and leaves
// the engine clean. Fails fast while offline.
func (c *syncCoordinator) SyncWithServer(ctx context.Context) error {
	if !c.engine.IsOnline() {
		return ErrOffline
	}

	logger.Info("Syncing cart with server", nil)

	if err := c.engine.LoadCart(ctx); err != nil {
		return err
	}

	report, err := c.engine.ProcessQueue(ctx)
	if err != nil && !errors.Is(err, ErrDrainInProgress) {
		return err
	}

	c.notifier.Success("Cart synced")
	c.analytics.Track(EventCartSynced, map[string]interface{}{
		"item_count": c.engine.State().ItemCount,
		"resolved":   report.Resolved,
		"pending":    report.Pending,
	})
	return nil
}

// Stop cancels any pending reconnect drain.
func (c *syncCoordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.drainTimer != nil {
		c.drainTimer.Stop()
		c.drainTimer = nil
	}
}
