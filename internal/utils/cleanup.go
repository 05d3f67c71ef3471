package utils

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/connect4/client/internal/logger"
)

// CleanupFunc represents a cleanup function
type CleanupFunc func() error

// ResourceManager releases resources in reverse registration order on
// shutdown.
type ResourceManager struct {
	cleanupFuncs []CleanupFunc
	mu           sync.Mutex
	log          *logger.Logger
	done         bool
}

// NewResourceManager creates a new resource manager
func NewResourceManager(log *logger.Logger) *ResourceManager {
	if log == nil {
		log = logger.Default()
	}
	return &ResourceManager{
		cleanupFuncs: make([]CleanupFunc, 0),
		log:          log,
	}
}

// AddCleanupFunc adds a cleanup function to be executed during shutdown
func (rm *ResourceManager) AddCleanupFunc(fn CleanupFunc) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.cleanupFuncs = append(rm.cleanupFuncs, fn)
}

// Cleanup runs every registered function once, newest first, and reports
// how many failed.
func (rm *ResourceManager) Cleanup() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.done {
		return 0
	}
	rm.done = true

	failed := 0
	for i := len(rm.cleanupFuncs) - 1; i >= 0; i-- {
		if err := rm.cleanupFuncs[i](); err != nil {
			rm.log.Error("Cleanup error", err)
			failed++
		}
	}
	return failed
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
