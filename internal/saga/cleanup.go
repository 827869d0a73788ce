package saga

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Cleaner periodically prunes finished saga instances
type Cleaner struct {
	manager   *Manager
	retention time.Duration
	interval  time.Duration
	logger    *zap.Logger
	stopChan  chan struct{}
	stopOnce  sync.Once
	now       func() time.Time
}

// NewCleaner creates a cleaner that drops instances finished longer than retention ago
func NewCleaner(manager *Manager, retention, interval time.Duration, logger *zap.Logger) *Cleaner {
	return &Cleaner{
		manager:   manager,
		retention: retention,
		interval:  interval,
		logger:    logger.Named("saga_cleanup"),
		stopChan:  make(chan struct{}),
		now:       time.Now,
	}
}

// Start begins the background cleanup process
func (c *Cleaner) Start() {
	go c.cleanupLoop()
	c.logger.Info("Saga cleanup started",
		zap.Duration("retention", c.retention),
		zap.Duration("interval", c.interval))
}

// Stop gracefully stops the cleaner
func (c *Cleaner) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
		c.logger.Info("Saga cleanup stopped")
	})
}

func (c *Cleaner) cleanupLoop() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			c.runCleanup()
		}
	}
}

func (c *Cleaner) runCleanup() int {
	removed := c.manager.Prune(c.now().Add(-c.retention))
	if removed > 0 {
		c.logger.Info("Pruned finished sagas", zap.Int("removed", removed))
	}
	return removed
}
