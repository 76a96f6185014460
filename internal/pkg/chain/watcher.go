package chain

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"

	"github.com/anshitraj/arcpay-core/app/models"
	"github.com/anshitraj/arcpay-core/app/repository"
	"github.com/anshitraj/arcpay-core/internal/pkg/env"
	"github.com/anshitraj/arcpay-core/internal/pkg/payment"
)

const watchBatch = 100

// Watcher observes chain state for pending payment intents and feeds the
// state machine. It never retracts a transition: once confirmed, a payment
// stays confirmed. A reorg invalidating the evidence surfaces as a dispute
// event, not a status rewrite.
type Watcher struct {
	intents  repository.PaymentIntentRepository
	machine  *payment.Machine
	registry *Registry
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

// NewWatcher creates a settlement watcher. The poll interval comes from
// SETTLEMENT_POLL_SECONDS (default 15).
func NewWatcher(intents repository.PaymentIntentRepository, machine *payment.Machine, registry *Registry) *Watcher {
	interval := time.Duration(env.GetEnvInt("SETTLEMENT_POLL_SECONDS", 15)) * time.Second
	return &Watcher{
		intents:  intents,
		machine:  machine,
		registry: registry,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the polling loop.
func (w *Watcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	log.Infof("[Settlement] Starting watcher (interval=%s)", w.interval)

	w.wg.Add(1)
	go w.run()
}

// Stop halts the polling loop and waits for it to finish.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	close(w.stopCh)
	w.running = false
	w.wg.Wait()
	log.Info("[Settlement] Watcher stopped")
}

func (w *Watcher) run() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.PollOnce(context.Background())
		}
	}
}

// PollOnce scans pending intents with settlement evidence, confirms the
// ones whose transactions reached the configured confirmation depth, and
// re-checks recently confirmed intents for reorged evidence. Exported so
// tests can drive it without the ticker.
func (w *Watcher) PollOnce(ctx context.Context) {
	intents, err := w.intents.ListByStatus(models.PaymentStatusPending, watchBatch)
	if err != nil {
		log.Errorf("[Settlement] Failed to list pending intents: %v", err)
		return
	}

	heads := make(map[int64]uint64)
	for _, intent := range intents {
		if intent.TxHash == nil || *intent.TxHash == "" {
			continue
		}
		w.observe(ctx, &intent, heads)
	}

	w.reviewConfirmed(ctx)
}

// observe checks one intent's transaction. RPC failures are logged and
// retried on the next tick; they never fail the payment.
func (w *Watcher) observe(ctx context.Context, intent *models.PaymentIntent, heads map[int64]uint64) {
	client, err := w.registry.ClientFor(intent.ChainID)
	if err != nil {
		log.Errorf("[Settlement] No chain client for payment %s: %v", intent.ID, err)
		return
	}

	head, ok := heads[intent.ChainID]
	if !ok {
		head, err = client.BlockNumber(ctx)
		if err != nil {
			log.Warnf("[Settlement] Chain %d head unavailable, will retry: %v", intent.ChainID, err)
			return
		}
		heads[intent.ChainID] = head
	}

	receipt, err := client.TransactionReceipt(ctx, *intent.TxHash)
	if err != nil {
		log.Warnf("[Settlement] Receipt for %s unavailable, will retry: %v", *intent.TxHash, err)
		return
	}
	if receipt == nil {
		// Not mined yet.
		return
	}

	if receipt.Status == 0 {
		if _, err := w.machine.Fail(intent.ID, "settlement transaction reverted"); err != nil && !errors.Is(err, payment.ErrInvalidTransition) {
			log.Errorf("[Settlement] Failed to fail payment %s: %v", intent.ID, err)
		}
		return
	}

	paid, verifiable := w.settles(intent, receipt)
	if !verifiable {
		return
	}
	if !paid {
		// Logs are immutable once mined, so this transaction will never
		// pay the intent. Fail now instead of waiting for expiry.
		if _, err := w.machine.Fail(intent.ID, "settlement transaction does not pay this intent"); err != nil && !errors.Is(err, payment.ErrInvalidTransition) {
			log.Errorf("[Settlement] Failed to fail payment %s: %v", intent.ID, err)
		}
		return
	}

	depth := uint64(0)
	if head >= receipt.BlockNumber {
		depth = head - receipt.BlockNumber + 1
	}
	required := w.registry.ConfirmationDepth(intent.ChainID)
	if depth < required {
		log.Debugf("[Settlement] Payment %s at %d/%d confirmations", intent.ID, depth, required)
		return
	}

	if _, err := w.machine.Confirm(intent.ID, receipt.TxHash); err != nil {
		// A racing expiry or duplicate tick loses the conditional update.
		if !errors.Is(err, payment.ErrInvalidTransition) {
			log.Errorf("[Settlement] Failed to confirm payment %s: %v", intent.ID, err)
		}
		return
	}
	log.Infof("[Settlement] Confirmed payment %s at depth %d", intent.ID, depth)
}

// settles reports whether the receipt carries a token transfer that pays
// this intent: the configured currency contract, the merchant wallet as
// recipient, and at least the requested amount less SETTLEMENT_TOLERANCE_BPS.
// Without a configured contract nothing can be verified, so verifiable is
// false and the intent stays pending.
func (w *Watcher) settles(intent *models.PaymentIntent, receipt *Receipt) (paid, verifiable bool) {
	contract := w.registry.TokenContract(intent.ChainID, intent.Currency)
	if contract == "" {
		log.Warnf("[Settlement] No %s contract configured for chain %d, cannot verify payment %s", intent.Currency, intent.ChainID, intent.ID)
		return false, false
	}

	expected, err := decimal.NewFromString(intent.Amount)
	if err != nil {
		log.Errorf("[Settlement] Payment %s has unparsable amount %q", intent.ID, intent.Amount)
		return false, false
	}
	toleranceBps := int64(env.GetEnvInt("SETTLEMENT_TOLERANCE_BPS", 0))
	minimum := expected.Mul(decimal.New(10000-toleranceBps, -4))
	decimals := w.registry.TokenDecimals(intent.Currency)

	for _, transfer := range receipt.Transfers {
		if !strings.EqualFold(transfer.Contract, contract) {
			continue
		}
		if !strings.EqualFold(transfer.To, intent.MerchantWallet) {
			continue
		}
		if transfer.Value.Shift(-decimals).GreaterThanOrEqual(minimum) {
			return true, true
		}
	}
	return false, true
}

// reviewConfirmed re-checks settlement evidence for recently confirmed
// intents. Evidence that vanished or now shows a revert raises a dispute;
// the confirmed status itself is never rewritten. The review window comes
// from REORG_REVIEW_MINUTES (default 30).
func (w *Watcher) reviewConfirmed(ctx context.Context) {
	window := time.Duration(env.GetEnvInt("REORG_REVIEW_MINUTES", 30)) * time.Minute
	intents, err := w.intents.ListConfirmedSince(time.Now().Add(-window), watchBatch)
	if err != nil {
		log.Errorf("[Settlement] Failed to list confirmed intents for review: %v", err)
		return
	}

	for _, intent := range intents {
		if intent.TxHash == nil || *intent.TxHash == "" {
			continue
		}
		client, err := w.registry.ClientFor(intent.ChainID)
		if err != nil {
			continue
		}
		receipt, err := client.TransactionReceipt(ctx, *intent.TxHash)
		if err != nil {
			// Unobservable right now; the next review pass re-checks.
			continue
		}
		if receipt != nil && receipt.Status != 0 {
			continue
		}
		reason := "settlement transaction no longer on canonical chain"
		if receipt != nil {
			reason = "settlement transaction reverted after confirmation"
		}
		if err := w.machine.Dispute(intent.ID, reason); err != nil && !errors.Is(err, payment.ErrInvalidTransition) {
			log.Errorf("[Settlement] Failed to dispute payment %s: %v", intent.ID, err)
		}
	}
}
