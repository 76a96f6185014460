package bridge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/anshitraj/arcpay-core/app/models"
	"github.com/anshitraj/arcpay-core/internal/pkg/env"
)

// httpExecutor submits burn and mint transactions through the signing
// service configured at BRIDGE_EXECUTOR_URL. The core never holds signing
// keys itself.
type httpExecutor struct {
	http *resty.Client
	base string
}

// NewHTTPExecutor creates the production executor.
func NewHTTPExecutor() Executor {
	http := resty.New().
		SetTimeout(30 * time.Second).
		SetRetryCount(0) // submitting a burn twice is never acceptable
	return &httpExecutor{
		http: http,
		base: strings.TrimRight(env.GetEnv("BRIDGE_EXECUTOR_URL", "http://localhost:8090"), "/"),
	}
}

type executorResponse struct {
	TxHash string `json:"txHash"`
	Error  string `json:"error"`
}

func (e *httpExecutor) Burn(ctx context.Context, transfer *models.BridgeTransfer) (string, error) {
	return e.submit(ctx, "/v1/burn", map[string]any{
		"transferId":    transfer.ID,
		"amount":        transfer.Amount,
		"currency":      transfer.Currency,
		"sourceChainId": transfer.SourceChainID,
		"destChainId":   transfer.DestChainID,
	})
}

func (e *httpExecutor) Mint(ctx context.Context, transfer *models.BridgeTransfer, attestation string) (string, error) {
	return e.submit(ctx, "/v1/mint", map[string]any{
		"transferId":  transfer.ID,
		"destChainId": transfer.DestChainID,
		"burnTxHash":  transfer.BurnTxHash,
		"attestation": attestation,
	})
}

func (e *httpExecutor) submit(ctx context.Context, path string, body map[string]any) (string, error) {
	var out executorResponse
	resp, err := e.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post(e.base + path)
	if err != nil {
		return "", fmt.Errorf("executor %s: %w", path, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("executor %s: returned %d", path, resp.StatusCode())
	}
	if out.Error != "" {
		return "", fmt.Errorf("executor %s: %s", path, out.Error)
	}
	if out.TxHash == "" {
		return "", fmt.Errorf("executor %s: no tx hash in response", path)
	}
	return out.TxHash, nil
}

// httpAttester polls the attestation service for burn attestations, the
// step between burn confirmation and mint submission.
type httpAttester struct {
	http *resty.Client
	base string
}

// NewHTTPAttester creates the production attester against
// CCTP_ATTESTATION_URL.
func NewHTTPAttester() Attester {
	http := resty.New().
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)
	return &httpAttester{
		http: http,
		base: strings.TrimRight(env.GetEnv("CCTP_ATTESTATION_URL", "https://iris-api.circle.com"), "/"),
	}
}

type attestationResponse struct {
	Status      string `json:"status"`
	Attestation string `json:"attestation"`
}

func (a *httpAttester) Attestation(ctx context.Context, burnTxHash string, sourceChainID int64) (string, bool, error) {
	var out attestationResponse
	resp, err := a.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get(fmt.Sprintf("%s/v1/attestations/%s", a.base, burnTxHash))
	if err != nil {
		return "", false, fmt.Errorf("attestation for %s: %w", burnTxHash, err)
	}
	if resp.StatusCode() == 404 {
		// Burn not seen yet; keep polling.
		return "", false, nil
	}
	if resp.IsError() {
		return "", false, fmt.Errorf("attestation for %s: service returned %d", burnTxHash, resp.StatusCode())
	}
	if !strings.EqualFold(out.Status, "complete") || out.Attestation == "" {
		return "", false, nil
	}
	return out.Attestation, true, nil
}
