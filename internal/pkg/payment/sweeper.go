package payment

import (
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/anshitraj/arcpay-core/app/repository"
	"github.com/anshitraj/arcpay-core/internal/pkg/env"
)

const expirySweepBatch = 100

// ExpirySweeper periodically transitions past-due intents to expired.
// Expiry is also checked lazily on reads; the sweeper catches intents
// nobody asks about anymore.
type ExpirySweeper struct {
	machine  *Machine
	intents  repository.PaymentIntentRepository
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

// NewExpirySweeper creates a sweeper over the given machine. The interval
// comes from PAYMENT_EXPIRY_SWEEP_SECONDS (default 60).
func NewExpirySweeper(machine *Machine, intents repository.PaymentIntentRepository) *ExpirySweeper {
	interval := time.Duration(env.GetEnvInt("PAYMENT_EXPIRY_SWEEP_SECONDS", 60)) * time.Second
	return &ExpirySweeper{
		machine:  machine,
		intents:  intents,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *ExpirySweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	log.Infof("[ExpirySweeper] Starting (interval=%s)", s.interval)

	s.wg.Add(1)
	go s.run()
}

// Stop halts the sweep loop and waits for it to finish.
func (s *ExpirySweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	close(s.stopCh)
	s.running = false
	s.wg.Wait()
	log.Info("[ExpirySweeper] Stopped")
}

func (s *ExpirySweeper) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.SweepOnce()
		}
	}
}

// SweepOnce expires everything currently past due. Exported so tests can
// drive it without the ticker.
func (s *ExpirySweeper) SweepOnce() {
	intents, err := s.intents.ListExpirable(s.machine.now(), expirySweepBatch)
	if err != nil {
		log.Errorf("[ExpirySweeper] Failed to list expirable intents: %v", err)
		return
	}
	for _, intent := range intents {
		if _, err := s.machine.Expire(intent.ID); err != nil {
			// Racing transitions are expected; anything else is logged.
			if !errors.Is(err, ErrInvalidTransition) && !errors.Is(err, ErrNotExpired) {
				log.Errorf("[ExpirySweeper] Failed to expire %s: %v", intent.ID, err)
			}
			continue
		}
		log.Infof("[ExpirySweeper] Expired payment %s", intent.ID)
	}
}
