package webhook

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/anshitraj/arcpay-core/app/repository"
	"github.com/anshitraj/arcpay-core/internal/pkg/env"
)

const unenqueuedSweepBatch = 50

// Manager owns the dispatcher and its background tasks. Besides the worker
// pool it runs two recovery sweeps: the unenqueued-event sweep picks up
// events whose fan-out never happened (a transition commits its event row
// inside the database transaction, so a crash between commit and fan-out
// leaves enqueued=false), and the stalled-delivery sweep requeues pending
// deliveries whose in-memory retry timer died with the process.
type Manager struct {
	dispatcher       *Dispatcher
	repo             repository.WebhookRepository
	unenqueuedTicker *time.Ticker
	stopCh           chan struct{}
	wg               sync.WaitGroup
	mu               sync.Mutex
	running          bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global webhook manager (singleton).
func GetManager() *Manager {
	managerOnce.Do(func() {
		repo := repository.GetGlobalFactory().GetWebhookRepository()
		globalManager = &Manager{
			dispatcher: NewDispatcher(repo, NewSender()),
			repo:       repo,
			stopCh:     make(chan struct{}),
		}
	})
	return globalManager
}

// NewManager builds a manager over explicit dependencies. Used by tests.
func NewManager(dispatcher *Dispatcher, repo repository.WebhookRepository) *Manager {
	return &Manager{
		dispatcher: dispatcher,
		repo:       repo,
		stopCh:     make(chan struct{}),
	}
}

// GetDispatcher returns the managed dispatcher.
func (m *Manager) GetDispatcher() *Dispatcher {
	return m.dispatcher
}

// Start starts the dispatcher workers and background sweeps.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[Webhooks Manager] Starting dispatcher and background tasks")

	m.dispatcher.Start()

	interval := time.Duration(env.GetEnvInt("WEBHOOK_EVENT_SWEEP_SECONDS", 120)) * time.Second
	m.unenqueuedTicker = time.NewTicker(interval)
	m.wg.Add(1)
	go m.unenqueuedWorker()
}

// Stop stops the dispatcher and background sweeps.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[Webhooks Manager] Stopping...")
	close(m.stopCh)
	m.running = false
	if m.unenqueuedTicker != nil {
		m.unenqueuedTicker.Stop()
	}
	m.wg.Wait()
	m.dispatcher.Stop()
	log.Info("[Webhooks Manager] Stopped")
}

func (m *Manager) unenqueuedWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		case <-m.unenqueuedTicker.C:
			m.SweepUnenqueued()
			m.dispatcher.SweepStalled(context.Background())
		}
	}
}

// SweepUnenqueued re-enqueues events whose deliveries were never fanned
// out. Exported so tests can drive it without the ticker.
func (m *Manager) SweepUnenqueued() {
	// Only touch events old enough that the in-band hand-off clearly
	// did not happen.
	cutoff := time.Now().Add(-time.Minute)
	events, err := m.repo.ListUnenqueuedEvents(cutoff, unenqueuedSweepBatch)
	if err != nil {
		log.Errorf("[Webhooks Manager] Failed to list unenqueued events: %v", err)
		return
	}
	for _, event := range events {
		if err := m.dispatcher.EnqueueEvent(event.ID); err != nil {
			log.Errorf("[Webhooks Manager] Failed to enqueue event %s: %v", event.ID, err)
			continue
		}
		log.Infof("[Webhooks Manager] Recovered unenqueued event %s", event.ID)
	}
}
