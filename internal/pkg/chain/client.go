package chain

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/anshitraj/arcpay-core/internal/pkg/env"
)

// transferTopic is keccak256("Transfer(address,address,uint256)"), the
// topic0 of every ERC-20 Transfer log.
const transferTopic = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"

// TokenTransfer is one ERC-20 Transfer decoded from a receipt's logs.
// Value is in raw token units, before decimal scaling.
type TokenTransfer struct {
	Contract string
	From     string
	To       string
	Value    decimal.Decimal
}

// Receipt is the transaction receipt view the watcher and bridge
// orchestrator need: mining evidence plus the token transfers the
// transaction actually performed.
type Receipt struct {
	TxHash      string
	BlockNumber uint64
	// Status is 1 for success, 0 for revert, per EVM receipt semantics.
	Status    uint64
	Transfers []TokenTransfer
}

// Client abstracts an EVM-compatible chain RPC endpoint. The watcher and
// the bridge orchestrator only ever need head height and receipts.
type Client interface {
	BlockNumber(ctx context.Context) (uint64, error)
	TransactionReceipt(ctx context.Context, txHash string) (*Receipt, error)
}

// rpcClient talks JSON-RPC over HTTP. Transient failures are retried by
// resty with backoff; a still-failing call surfaces as an observation
// error the caller retries on its next tick.
type rpcClient struct {
	http *resty.Client
	url  string
}

// NewRPCClient creates a JSON-RPC client for the given endpoint.
func NewRPCClient(url string) Client {
	http := resty.New().
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second)
	return &rpcClient{http: http, url: url}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type blockNumberResponse struct {
	Result string    `json:"result"`
	Error  *rpcError `json:"error"`
}

type receiptResponse struct {
	Result *struct {
		TransactionHash string       `json:"transactionHash"`
		BlockNumber     string       `json:"blockNumber"`
		Status          string       `json:"status"`
		Logs            []receiptLog `json:"logs"`
	} `json:"result"`
	Error *rpcError `json:"error"`
}

type receiptLog struct {
	Address string   `json:"address"`
	Topics  []string `json:"topics"`
	Data    string   `json:"data"`
}

func (c *rpcClient) BlockNumber(ctx context.Context) (uint64, error) {
	var out blockNumberResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(rpcRequest{JSONRPC: "2.0", Method: "eth_blockNumber", Params: []any{}, ID: 1}).
		SetResult(&out).
		Post(c.url)
	if err != nil {
		return 0, fmt.Errorf("eth_blockNumber: %w", err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("eth_blockNumber: RPC endpoint returned %d", resp.StatusCode())
	}
	if out.Error != nil {
		return 0, fmt.Errorf("eth_blockNumber: %s (code %d)", out.Error.Message, out.Error.Code)
	}
	return parseHexUint(out.Result)
}

func (c *rpcClient) TransactionReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	var out receiptResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(rpcRequest{JSONRPC: "2.0", Method: "eth_getTransactionReceipt", Params: []any{txHash}, ID: 1}).
		SetResult(&out).
		Post(c.url)
	if err != nil {
		return nil, fmt.Errorf("eth_getTransactionReceipt %s: %w", txHash, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("eth_getTransactionReceipt %s: RPC endpoint returned %d", txHash, resp.StatusCode())
	}
	if out.Error != nil {
		return nil, fmt.Errorf("eth_getTransactionReceipt %s: %s (code %d)", txHash, out.Error.Message, out.Error.Code)
	}
	if out.Result == nil {
		// Not mined yet (or dropped); the caller keeps polling.
		return nil, nil
	}

	blockNumber, err := parseHexUint(out.Result.BlockNumber)
	if err != nil {
		return nil, err
	}
	status, err := parseHexUint(out.Result.Status)
	if err != nil {
		return nil, err
	}
	return &Receipt{
		TxHash:      out.Result.TransactionHash,
		BlockNumber: blockNumber,
		Status:      status,
		Transfers:   decodeTransfers(out.Result.Logs),
	}, nil
}

// decodeTransfers keeps the ERC-20 Transfer logs and drops everything
// else. Malformed logs are skipped rather than failing the receipt.
func decodeTransfers(logs []receiptLog) []TokenTransfer {
	var transfers []TokenTransfer
	for _, entry := range logs {
		if len(entry.Topics) != 3 || !strings.EqualFold(entry.Topics[0], transferTopic) {
			continue
		}
		value, ok := parseHexBig(entry.Data)
		if !ok {
			continue
		}
		transfers = append(transfers, TokenTransfer{
			Contract: strings.ToLower(entry.Address),
			From:     topicAddress(entry.Topics[1]),
			To:       topicAddress(entry.Topics[2]),
			Value:    value,
		})
	}
	return transfers
}

// topicAddress extracts the 20-byte address from a 32-byte indexed topic.
func topicAddress(topic string) string {
	trimmed := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(topic)), "0x")
	if len(trimmed) > 40 {
		trimmed = trimmed[len(trimmed)-40:]
	}
	return "0x" + trimmed
}

func parseHexBig(raw string) (decimal.Decimal, bool) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if trimmed == "" {
		return decimal.Zero, false
	}
	val, ok := new(big.Int).SetString(trimmed, 16)
	if !ok {
		return decimal.Zero, false
	}
	return decimal.NewFromBigInt(val, 0), true
}

func parseHexUint(raw string) (uint64, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if trimmed == "" {
		return 0, fmt.Errorf("empty hex quantity %q", raw)
	}
	val, err := strconv.ParseUint(trimmed, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("bad hex quantity %q: %w", raw, err)
	}
	return val, nil
}

// Registry resolves chain IDs to RPC clients and per-chain confirmation
// policy. Endpoints come from CHAIN_RPC_URL_<id>, confirmation depth from
// CHAIN_CONFIRMATION_DEPTH_<id> (default 12).
type Registry struct {
	mu      sync.Mutex
	clients map[int64]Client
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[int64]Client)}
}

// ClientFor returns (and caches) the RPC client for a chain ID.
func (r *Registry) ClientFor(chainID int64) (Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if client, ok := r.clients[chainID]; ok {
		return client, nil
	}
	url := env.GetEnv(fmt.Sprintf("CHAIN_RPC_URL_%d", chainID), "")
	if url == "" {
		return nil, fmt.Errorf("no RPC endpoint configured for chain %d", chainID)
	}
	client := NewRPCClient(url)
	r.clients[chainID] = client
	return client, nil
}

// Register installs a client for a chain ID. Used by tests and custom
// wiring.
func (r *Registry) Register(chainID int64, client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[chainID] = client
}

// ConfirmationDepth returns the minimum confirmations required on a chain.
func (r *Registry) ConfirmationDepth(chainID int64) uint64 {
	depth := env.GetEnvInt(fmt.Sprintf("CHAIN_CONFIRMATION_DEPTH_%d", chainID), 12)
	if depth < 1 {
		depth = 1
	}
	return uint64(depth)
}

// TokenContract returns the ERC-20 contract that settles a currency on a
// chain, from TOKEN_CONTRACT_<id>_<CURRENCY>. Empty means no contract is
// configured and settlement cannot be verified on that chain.
func (r *Registry) TokenContract(chainID int64, currency string) string {
	key := fmt.Sprintf("TOKEN_CONTRACT_%d_%s", chainID, strings.ToUpper(currency))
	return strings.ToLower(env.GetEnv(key, ""))
}

// TokenDecimals returns a currency's on-chain decimal scale, from
// TOKEN_DECIMALS_<CURRENCY>. USDC and EURC both use 6.
func (r *Registry) TokenDecimals(currency string) int32 {
	return int32(env.GetEnvInt(fmt.Sprintf("TOKEN_DECIMALS_%s", strings.ToUpper(currency)), 6))
}
