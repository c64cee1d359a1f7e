package payment

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/vutran/payrec/internal/pkg/cache"
	"github.com/vutran/payrec/internal/pkg/env"
	"github.com/vutran/payrec/internal/pkg/metrics/counter"
)

const (
	reconcileLockKey = "payment:reconcile:lock"
	reconcileLockTTL = 10 * time.Minute
)

// Manager runs the engine's background tasks: the periodic reconciliation
// sweep and the webhook counter flush.
type Manager struct {
	reconciler      *Reconciler
	reconcileTicker *time.Ticker
	flushTicker     *time.Ticker
	stopCh          chan struct{}
	wg              sync.WaitGroup
	mu              sync.Mutex
	running         bool
}

var (
	globalManager   *Manager
	globalManagerMu sync.Mutex
)

// NewManager creates a manager for the given reconciler.
func NewManager(reconciler *Reconciler) *Manager {
	return &Manager{
		reconciler: reconciler,
		stopCh:     make(chan struct{}),
	}
}

// SetManager installs the process-wide manager used by admin handlers.
func SetManager(m *Manager) {
	globalManagerMu.Lock()
	defer globalManagerMu.Unlock()
	globalManager = m
}

// GetManager returns the installed manager, nil before SetManager.
func GetManager() *Manager {
	globalManagerMu.Lock()
	defer globalManagerMu.Unlock()
	return globalManager
}

// Start starts the background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so the manager can be
	// restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[Payment Manager] Starting background tasks")

	interval := 15
	if v, err := strconv.Atoi(env.GetEnv("RECONCILE_INTERVAL_MINUTES", "15")); err == nil && v > 0 {
		interval = v
	}
	m.reconcileTicker = time.NewTicker(time.Duration(interval) * time.Minute)
	m.wg.Add(1)
	go m.reconcileWorker(interval)

	// Counter flush worker (Redis -> DB) every 5 seconds
	m.flushTicker = time.NewTicker(5 * time.Second)
	m.wg.Add(1)
	go m.counterFlushWorker()

	log.Info("[Payment Manager] Started successfully")
}

// Stop stops the background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[Payment Manager] Stopping background tasks...")

	if m.reconcileTicker != nil {
		m.reconcileTicker.Stop()
	}
	if m.flushTicker != nil {
		m.flushTicker.Stop()
	}

	close(m.stopCh)
	m.running = false

	m.wg.Wait()

	log.Info("[Payment Manager] Stopped successfully")
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) reconcileWorker(intervalMinutes int) {
	defer m.wg.Done()
	log.Infof("[Payment Manager] Started reconcile worker (interval: %d minutes)", intervalMinutes)

	for {
		select {
		case <-m.stopCh:
			log.Info("[Payment Manager] Reconcile worker stopping")
			return
		case <-m.reconcileTicker.C:
			if _, err := m.RunScanOnce(context.Background()); err != nil {
				log.Errorf("[Payment Manager] Reconciliation sweep error: %v", err)
			}
		}
	}
}

func (m *Manager) counterFlushWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			log.Info("[Payment Manager] Counter flush worker stopping")
			return
		case <-m.flushTicker.C:
			if err := counter.FlushAll(); err != nil {
				log.Errorf("[Payment Manager] Counter flush error: %v", err)
			}
		}
	}
}

// RunScanOnce runs a single reconciliation sweep guarded by a
// cross-instance lock, so horizontally scaled deployments never scan
// concurrently. Also used by the admin trigger endpoint.
func (m *Manager) RunScanOnce(ctx context.Context) (*ScanReport, error) {
	ok, err := cache.AcquireLock(reconcileLockKey, reconcileLockTTL)
	if err != nil {
		return nil, fmt.Errorf("reconcile lock: %w", err)
	}
	if !ok {
		log.Info("[Payment Manager] Reconciliation already running elsewhere, skipping")
		return &ScanReport{}, nil
	}
	defer func() {
		if err := cache.ReleaseLock(reconcileLockKey); err != nil {
			log.Warnf("[Payment Manager] Failed to release reconcile lock: %v", err)
		}
	}()

	return m.reconciler.Scan(ctx)
}
