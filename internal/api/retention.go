package api

import (
	"log"
	"sync"
	"time"

	"github.com/nmfscope/server/internal/selstore"
)

// RetentionConfig contains configuration for the retention manager.
type RetentionConfig struct {
	RetentionDays int // Days to keep saved selections (0 disables cleanup)
	CleanupPeriod time.Duration
}

// RetentionManager owns the saved-selection store and periodically removes
// expired selections.
type RetentionManager struct {
	cfg      RetentionConfig
	store    *selstore.Store
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRetentionManager creates a retention manager over an open store.
func NewRetentionManager(store *selstore.Store, cfg RetentionConfig) *RetentionManager {
	if cfg.CleanupPeriod <= 0 {
		cfg.CleanupPeriod = 1 * time.Hour
	}
	return &RetentionManager{
		cfg:    cfg,
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Store returns the underlying store for direct access.
func (rm *RetentionManager) Store() *selstore.Store {
	return rm.store
}

// Start runs one cleanup and starts the cleanup ticker.
func (rm *RetentionManager) Start() {
	if rm.cfg.RetentionDays <= 0 {
		log.Printf("[Retention] saved selections are kept forever")
		return
	}
	rm.Cleanup()

	rm.wg.Add(1)
	go rm.cleaner()
}

// Stop stops the ticker and closes the store.
func (rm *RetentionManager) Stop() {
	rm.stopOnce.Do(func() {
		close(rm.stopCh)
		rm.wg.Wait()
		rm.store.Close()
	})
}

func (rm *RetentionManager) cleaner() {
	defer rm.wg.Done()
	ticker := time.NewTicker(rm.cfg.CleanupPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-rm.stopCh:
			return
		case <-ticker.C:
			rm.Cleanup()
		}
	}
}

// Cleanup deletes saved selections older than the retention period and
// returns how many were removed.
func (rm *RetentionManager) Cleanup() int64 {
	if rm.cfg.RetentionDays <= 0 {
		return 0
	}
	deleted, err := rm.store.DeleteExpired(rm.cfg.RetentionDays)
	if err != nil {
		log.Printf("[Retention] cleanup error: %v", err)
		return 0
	}
	if deleted > 0 {
		log.Printf("[Retention] cleaned up %d expired selections", deleted)
	}
	return deleted
}
