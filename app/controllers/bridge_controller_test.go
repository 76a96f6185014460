package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/anshitraj/arcpay-core/app/models"
	"github.com/anshitraj/arcpay-core/internal/pkg/bridge"
	"github.com/anshitraj/arcpay-core/internal/pkg/chain"
)

// ctrlTransferRepo is an in-memory BridgeTransferRepository for handler
// tests.
type ctrlTransferRepo struct {
	mu        sync.Mutex
	transfers map[string]*models.BridgeTransfer
	order     []string
}

func newCtrlTransferRepo() *ctrlTransferRepo {
	return &ctrlTransferRepo{transfers: make(map[string]*models.BridgeTransfer)}
}

func (r *ctrlTransferRepo) Create(transfer *models.BridgeTransfer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *transfer
	r.transfers[cp.ID] = &cp
	r.order = append(r.order, cp.ID)
	return nil
}

func (r *ctrlTransferRepo) GetByID(id string) (*models.BridgeTransfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	transfer, ok := r.transfers[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *transfer
	return &cp, nil
}

func (r *ctrlTransferRepo) Update(transfer *models.BridgeTransfer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *transfer
	r.transfers[cp.ID] = &cp
	return nil
}

func (r *ctrlTransferRepo) List(offset, limit int) ([]models.BridgeTransfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.BridgeTransfer, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		out = append(out, *r.transfers[r.order[i]])
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *ctrlTransferRepo) ListInFlight() ([]models.BridgeTransfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.BridgeTransfer
	for _, id := range r.order {
		if r.transfers[id].InFlight() {
			out = append(out, *r.transfers[id])
		}
	}
	return out, nil
}

type ctrlExecutor struct {
	mu      sync.Mutex
	burnErr error
	burns   int
}

func (e *ctrlExecutor) Burn(ctx context.Context, transfer *models.BridgeTransfer) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.burnErr != nil {
		return "", e.burnErr
	}
	e.burns++
	return "0xburn", nil
}

func (e *ctrlExecutor) Mint(ctx context.Context, transfer *models.BridgeTransfer, attestation string) (string, error) {
	return "0xmint", nil
}

// ctrlAttester never reports ready, keeping initiated transfers parked in
// the burning phase for the duration of a test.
type ctrlAttester struct{}

func (ctrlAttester) Attestation(ctx context.Context, burnTxHash string, sourceChainID int64) (string, bool, error) {
	return "", false, nil
}

func setupBridgeApp(t *testing.T, executor *ctrlExecutor) (*fiber.App, *ctrlTransferRepo) {
	t.Helper()
	repo := newCtrlTransferRepo()
	registry := chain.NewRegistry()
	orch := bridge.NewOrchestrator(repo, registry, executor, ctrlAttester{})
	t.Cleanup(orch.Shutdown)

	bc := NewBridgeController(orch, repo, registry)
	app := fiber.New()
	app.Post("/api/bridge/estimate", bc.HandleEstimate)
	app.Post("/api/bridge/transfers", bc.HandleInitiate)
	app.Get("/api/bridge/transfers", bc.HandleList)
	app.Get("/api/bridge/transfers/:id", bc.HandleGet)
	app.Post("/api/bridge/transfers/:id/cancel", bc.HandleCancel)
	return app, repo
}

func TestHandleEstimate(t *testing.T) {
	app, repo := setupBridgeApp(t, &ctrlExecutor{})

	status, body := postJSON(t, app, "/api/bridge/estimate", fiber.Map{
		"amount": "1000", "fromChain": 8453, "toChain": 42161,
	})
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "1000", body["amount"])
	assert.Equal(t, "USDC", body["currency"])
	assert.Equal(t, "1", body["fee"])
	assert.Equal(t, "999", body["amount_after_fee"])

	// A quote is non-binding: nothing was persisted.
	transfers, err := repo.List(0, 10)
	require.NoError(t, err)
	assert.Empty(t, transfers)
}

func TestHandleEstimateRejectsBadInput(t *testing.T) {
	app, _ := setupBridgeApp(t, &ctrlExecutor{})

	tests := []struct {
		name string
		body fiber.Map
	}{
		{"missing amount", fiber.Map{"fromChain": 8453, "toChain": 42161}},
		{"negative amount", fiber.Map{"amount": "-5", "fromChain": 8453, "toChain": 42161}},
		{"same chain", fiber.Map{"amount": "10", "fromChain": 8453, "toChain": 8453}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, body := postJSON(t, app, "/api/bridge/estimate", tc.body)
			assert.Equal(t, fiber.StatusBadRequest, status)
			assert.Equal(t, "validation_error", body["error"])
		})
	}
}

func TestHandleInitiate(t *testing.T) {
	executor := &ctrlExecutor{}
	app, repo := setupBridgeApp(t, executor)

	status, body := postJSON(t, app, "/api/bridge/transfers", fiber.Map{
		"amount": "250", "fromChain": 8453, "toChain": 42161,
	})
	require.Equal(t, fiber.StatusCreated, status)
	id := body["id"].(string)
	assert.Equal(t, models.BridgePhaseBurning, body["phase"])
	assert.Equal(t, "0xburn", body["burn_tx_hash"])

	stored, err := repo.GetByID(id)
	require.NoError(t, err)
	assert.Equal(t, models.BridgePhaseBurning, stored.Phase)
}

func TestHandleInitiateBurnFailure(t *testing.T) {
	executor := &ctrlExecutor{burnErr: errors.New("signer unavailable")}
	app, repo := setupBridgeApp(t, executor)

	status, body := postJSON(t, app, "/api/bridge/transfers", fiber.Map{
		"amount": "250", "fromChain": 8453, "toChain": 42161,
	})
	require.Equal(t, fiber.StatusBadGateway, status)
	assert.Equal(t, "bridge_error", body["error"])

	// The failed transfer is recorded, not discarded.
	transfer := body["transfer"].(map[string]any)
	stored, err := repo.GetByID(transfer["id"].(string))
	require.NoError(t, err)
	assert.Equal(t, models.BridgePhaseFailed, stored.Phase)
	assert.Equal(t, models.BridgePhaseEstimated, stored.FailedPhase)
}

func TestHandleGetAndListTransfers(t *testing.T) {
	app, _ := setupBridgeApp(t, &ctrlExecutor{})

	_, first := postJSON(t, app, "/api/bridge/transfers", fiber.Map{
		"amount": "100", "fromChain": 8453, "toChain": 42161,
	})
	_, second := postJSON(t, app, "/api/bridge/transfers", fiber.Map{
		"amount": "200", "fromChain": 42161, "toChain": 8453,
	})

	req := httptest.NewRequest("GET", "/api/bridge/transfers/"+first["id"].(string), nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	req = httptest.NewRequest("GET", "/api/bridge/transfers/bt_missing", nil)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	req = httptest.NewRequest("GET", "/api/bridge/transfers", nil)
	resp, err = app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var listed struct {
		Transfers []models.BridgeTransfer `json:"transfers"`
	}
	require.NoError(t, json.Unmarshal(data, &listed))
	require.Len(t, listed.Transfers, 2)
	// Newest first.
	assert.Equal(t, second["id"].(string), listed.Transfers[0].ID)
}

func TestHandleCancelTransfer(t *testing.T) {
	app, repo := setupBridgeApp(t, &ctrlExecutor{})

	_, created := postJSON(t, app, "/api/bridge/transfers", fiber.Map{
		"amount": "100", "fromChain": 8453, "toChain": 42161,
	})
	id := created["id"].(string)

	status, _ := postJSON(t, app, "/api/bridge/transfers/"+id+"/cancel", nil)
	require.Equal(t, fiber.StatusOK, status)

	// Cancel stops polling; the persisted phase is untouched.
	stored, err := repo.GetByID(id)
	require.NoError(t, err)
	assert.Equal(t, models.BridgePhaseBurning, stored.Phase)

	// The polling goroutine unregisters itself after cancellation; once it
	// has, a second cancel conflicts.
	require.Eventually(t, func() bool {
		status, body := postJSON(t, app, "/api/bridge/transfers/"+id+"/cancel", nil)
		return status == fiber.StatusConflict && body["error"] == "not_cancelable"
	}, time.Second, 10*time.Millisecond)
}
