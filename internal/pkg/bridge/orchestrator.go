package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/anshitraj/arcpay-core/app/models"
	"github.com/anshitraj/arcpay-core/app/repository"
	"github.com/anshitraj/arcpay-core/internal/pkg/chain"
	"github.com/anshitraj/arcpay-core/internal/pkg/env"
)

// ErrTransferNotCancelable is returned when cancel is requested for a
// transfer that is not being polled.
var ErrTransferNotCancelable = errors.New("transfer is not in flight")

// Executor submits the on-chain legs of a transfer. The production
// implementation delegates to the signing service; tests use a fake.
type Executor interface {
	Burn(ctx context.Context, transfer *models.BridgeTransfer) (txHash string, err error)
	Mint(ctx context.Context, transfer *models.BridgeTransfer, attestation string) (txHash string, err error)
}

// Attester fetches the cross-chain attestation for a confirmed burn.
type Attester interface {
	// Attestation returns (attestation, ready, error). Not-ready is not an
	// error; the orchestrator keeps polling.
	Attestation(ctx context.Context, burnTxHash string, sourceChainID int64) (string, bool, error)
}

// Orchestrator drives burn-on-source / mint-on-destination transfers
// through their phases. Phase and transaction hashes are persisted before
// each step so a process restart resumes polling instead of re-issuing a
// burn. Re-burning without knowing whether the prior burn minted is
// double-spend exposure.
type Orchestrator struct {
	transfers repository.BridgeTransferRepository
	registry  *chain.Registry
	executor  Executor
	attester  Attester
	interval  time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewOrchestrator creates an orchestrator. The poll interval comes from
// BRIDGE_POLL_SECONDS (default 10).
func NewOrchestrator(transfers repository.BridgeTransferRepository, registry *chain.Registry, executor Executor, attester Attester) *Orchestrator {
	interval := time.Duration(env.GetEnvInt("BRIDGE_POLL_SECONDS", 10)) * time.Second
	return &Orchestrator{
		transfers: transfers,
		registry:  registry,
		executor:  executor,
		attester:  attester,
		interval:  interval,
		cancels:   make(map[string]context.CancelFunc),
	}
}

// Initiate creates a transfer, triggers the source-chain burn and starts
// the polling goroutine that walks it through the remaining phases.
func (o *Orchestrator) Initiate(ctx context.Context, amount, currency string, sourceChainID, destChainID int64) (*models.BridgeTransfer, error) {
	if err := models.ValidateAmount(amount); err != nil {
		return nil, err
	}
	if currency == "" {
		currency = "USDC"
	}
	if sourceChainID == destChainID {
		return nil, errors.New("source and destination chains must differ")
	}

	transfer := &models.BridgeTransfer{
		ID:            models.NewBridgeTransferID(),
		SourceChainID: sourceChainID,
		DestChainID:   destChainID,
		Amount:        amount,
		Currency:      currency,
		Phase:         models.BridgePhaseEstimated,
	}
	if err := o.transfers.Create(transfer); err != nil {
		return nil, err
	}

	burnTx, err := o.executor.Burn(ctx, transfer)
	if err != nil {
		o.fail(transfer, models.BridgePhaseEstimated, fmt.Sprintf("burn submission failed: %v", err))
		return transfer, fmt.Errorf("burn on chain %d: %w", sourceChainID, err)
	}
	transfer.BurnTxHash = &burnTx
	transfer.Phase = models.BridgePhaseBurning
	if err := o.transfers.Update(transfer); err != nil {
		return nil, err
	}
	log.Infof("[Bridge] Transfer %s burning (tx %s)", transfer.ID, burnTx)

	o.watch(transfer.ID)
	return transfer, nil
}

// ResumeInFlight restarts polling for transfers persisted in burning or
// minting phase, e.g. after a process restart.
func (o *Orchestrator) ResumeInFlight() error {
	transfers, err := o.transfers.ListInFlight()
	if err != nil {
		return err
	}
	for _, transfer := range transfers {
		log.Infof("[Bridge] Resuming transfer %s from phase %s", transfer.ID, transfer.Phase)
		o.watch(transfer.ID)
	}
	return nil
}

// Cancel stops polling a transfer. It never reverts on-chain effects: a
// burn that already happened stays burned, and the persisted phase keeps
// recording exactly how far the transfer got.
func (o *Orchestrator) Cancel(id string) error {
	o.mu.Lock()
	cancel, ok := o.cancels[id]
	o.mu.Unlock()
	if !ok {
		return ErrTransferNotCancelable
	}
	cancel()
	return nil
}

// Shutdown cancels all polling loops and waits for them to exit.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	for _, cancel := range o.cancels {
		cancel()
	}
	o.mu.Unlock()
	o.wg.Wait()
}

// watch launches the per-transfer polling goroutine with its own
// cancellation.
func (o *Orchestrator) watch(id string) {
	ctx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.cancels[id] = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			cancel()
			o.mu.Lock()
			delete(o.cancels, id)
			o.mu.Unlock()
		}()
		o.poll(ctx, id)
	}()
}

// poll advances one transfer until it reaches a terminal phase or the
// context is canceled.
func (o *Orchestrator) poll(ctx context.Context, id string) {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Infof("[Bridge] Polling for transfer %s canceled", id)
			return
		case <-ticker.C:
			transfer, err := o.transfers.GetByID(id)
			if err != nil {
				log.Errorf("[Bridge] Failed to load transfer %s: %v", id, err)
				return
			}
			done, err := o.Step(ctx, transfer)
			if err != nil {
				// Chain observation errors are transient; keep polling.
				log.Warnf("[Bridge] Transfer %s step error, will retry: %v", id, err)
				continue
			}
			if done {
				return
			}
		}
	}
}

// Step advances a transfer by at most one phase. It returns true when the
// transfer reached a terminal phase. Exported so tests can drive transfers
// without tickers.
func (o *Orchestrator) Step(ctx context.Context, transfer *models.BridgeTransfer) (bool, error) {
	switch transfer.Phase {
	case models.BridgePhaseBurning:
		return o.stepBurning(ctx, transfer)
	case models.BridgePhaseMinting:
		return o.stepMinting(ctx, transfer)
	case models.BridgePhaseCompleted, models.BridgePhaseFailed:
		return true, nil
	default:
		return false, fmt.Errorf("transfer %s in unexpected phase %s", transfer.ID, transfer.Phase)
	}
}

func (o *Orchestrator) stepBurning(ctx context.Context, transfer *models.BridgeTransfer) (bool, error) {
	if transfer.BurnTxHash == nil {
		o.fail(transfer, models.BridgePhaseBurning, "burning phase without burn tx hash")
		return true, nil
	}

	confirmed, reverted, err := o.txConfirmed(ctx, transfer.SourceChainID, *transfer.BurnTxHash)
	if err != nil {
		return false, err
	}
	if reverted {
		o.fail(transfer, models.BridgePhaseBurning, "burn transaction reverted")
		return true, nil
	}
	if !confirmed {
		return false, nil
	}

	attestation, ready, err := o.attester.Attestation(ctx, *transfer.BurnTxHash, transfer.SourceChainID)
	if err != nil {
		return false, err
	}
	if !ready {
		return false, nil
	}

	mintTx, err := o.executor.Mint(ctx, transfer, attestation)
	if err != nil {
		// The burn is on-chain and attested but the mint did not go out.
		// This is the stuck/partial state: surface it, never re-burn.
		o.fail(transfer, models.BridgePhaseBurning, fmt.Sprintf("mint submission failed: %v", err))
		return true, nil
	}
	transfer.MintTxHash = &mintTx
	transfer.Phase = models.BridgePhaseMinting
	if err := o.transfers.Update(transfer); err != nil {
		return false, err
	}
	log.Infof("[Bridge] Transfer %s minting (tx %s)", transfer.ID, mintTx)
	return false, nil
}

func (o *Orchestrator) stepMinting(ctx context.Context, transfer *models.BridgeTransfer) (bool, error) {
	if transfer.MintTxHash == nil {
		o.fail(transfer, models.BridgePhaseMinting, "minting phase without mint tx hash")
		return true, nil
	}

	confirmed, reverted, err := o.txConfirmed(ctx, transfer.DestChainID, *transfer.MintTxHash)
	if err != nil {
		return false, err
	}
	if reverted {
		o.fail(transfer, models.BridgePhaseMinting, "mint transaction reverted")
		return true, nil
	}
	if !confirmed {
		return false, nil
	}

	now := time.Now()
	transfer.Phase = models.BridgePhaseCompleted
	transfer.CompletedAt = &now
	if err := o.transfers.Update(transfer); err != nil {
		return false, err
	}
	log.Infof("[Bridge] Transfer %s completed", transfer.ID)
	return true, nil
}

// txConfirmed checks whether a transaction reached the chain's configured
// confirmation depth. Returns (confirmed, reverted, error).
func (o *Orchestrator) txConfirmed(ctx context.Context, chainID int64, txHash string) (bool, bool, error) {
	client, err := o.registry.ClientFor(chainID)
	if err != nil {
		return false, false, err
	}
	receipt, err := client.TransactionReceipt(ctx, txHash)
	if err != nil {
		return false, false, err
	}
	if receipt == nil {
		return false, false, nil
	}
	if receipt.Status == 0 {
		return false, true, nil
	}
	head, err := client.BlockNumber(ctx)
	if err != nil {
		return false, false, err
	}
	depth := uint64(0)
	if head >= receipt.BlockNumber {
		depth = head - receipt.BlockNumber + 1
	}
	return depth >= o.registry.ConfirmationDepth(chainID), false, nil
}

// fail records a terminal failure, retaining the phase the transfer was in
// when it stuck.
func (o *Orchestrator) fail(transfer *models.BridgeTransfer, failedPhase, reason string) {
	transfer.Phase = models.BridgePhaseFailed
	transfer.FailedPhase = failedPhase
	transfer.FailureReason = reason
	if err := o.transfers.Update(transfer); err != nil {
		log.Errorf("[Bridge] Failed to record failure for %s: %v", transfer.ID, err)
		return
	}
	log.Errorf("[Bridge] Transfer %s failed in phase %s: %s", transfer.ID, failedPhase, reason)
}
