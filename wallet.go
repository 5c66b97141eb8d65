package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gemini-wallet/bridge/pkg/log"
	"github.com/gemini-wallet/bridge/pkg/storage"
	"github.com/gemini-wallet/bridge/pkg/wire"
)

// Storage keys of the persisted session state.
const (
	storeKeyAccounts = "accounts"
	storeKeyChain    = "chain"
	storeKeyBatches  = "batches"
)

// BatchStatus is the lifecycle state of one call batch.
type BatchStatus string

const (
	BatchStatusPending   BatchStatus = "pending"
	BatchStatusConfirmed BatchStatus = "confirmed"
	BatchStatusFailed    BatchStatus = "failed"
	BatchStatusReverted  BatchStatus = "reverted"
)

// statusCode maps a batch status to its EIP-5792 numeric status code.
func (s BatchStatus) statusCode() int {
	switch s {
	case BatchStatusConfirmed:
		return 200
	case BatchStatusFailed:
		return 400
	case BatchStatusReverted:
		return 500
	default:
		return 100
	}
}

// BatchMetadata tracks one EIP-5792 batched-call submission. Batches are
// persisted as a map keyed by batch id. Status only ever moves from pending
// to a terminal state.
type BatchMetadata struct {
	ID           string                     `json:"id"`
	ChainID      uint64                     `json:"chainId"`
	From         string                     `json:"from"`
	Calls        []wire.Call                `json:"calls"`
	Hash         string                     `json:"hash,omitempty"`
	Status       BatchStatus                `json:"status"`
	CreatedAt    time.Time                  `json:"createdAt"`
	Capabilities map[string]json.RawMessage `json:"capabilities,omitempty"`
}

// SendCallsParams are the EIP-5792 wallet_sendCalls parameters.
type SendCallsParams struct {
	Version string `json:"version,omitempty"`
	// ChainID is hex-encoded per the RPC convention and decoded before it is
	// compared against the session chain.
	ChainID      string                     `json:"chainId" validate:"required,startswith=0x"`
	From         string                     `json:"from,omitempty" validate:"omitempty,eth_addr"`
	Calls        []wire.Call                `json:"calls"`
	Capabilities map[string]json.RawMessage `json:"capabilities,omitempty"`
}

// SendCallsResult is the wallet_sendCalls return value. Transaction hashes
// travel under the caip345 capability key.
type SendCallsResult struct {
	ID           string            `json:"id"`
	Capabilities CallsCapabilities `json:"capabilities"`
}

// CallsCapabilities is the capability section of a SendCallsResult.
type CallsCapabilities struct {
	CAIP345 CAIP345Capability `json:"caip345"`
}

// CAIP345Capability reports the transaction hashes a batch was submitted
// under.
type CAIP345Capability struct {
	TransactionHashes []string `json:"transactionHashes"`
}

// CallsStatusResult is the wallet_getCallsStatus return value.
type CallsStatusResult struct {
	Version string `json:"version"`
	ID      string `json:"id"`
	ChainID string `json:"chainId"`
	// Status is 100 while pending, 200 confirmed, 400 failed offchain,
	// 500 reverted onchain.
	Status   int            `json:"status"`
	Atomic   bool           `json:"atomic"`
	Receipts []BatchReceipt `json:"receipts,omitempty"`
}

// BatchReceipt is the receipt detail included once a batch transaction
// is mined.
type BatchReceipt struct {
	Logs            []BatchReceiptLog `json:"logs"`
	Status          string            `json:"status"`
	BlockHash       string            `json:"blockHash"`
	BlockNumber     string            `json:"blockNumber"`
	GasUsed         string            `json:"gasUsed"`
	TransactionHash string            `json:"transactionHash"`
}

// BatchReceiptLog is one log entry of a BatchReceipt.
type BatchReceiptLog struct {
	Address string   `json:"address"`
	Topics  []string `json:"topics"`
	Data    string   `json:"data"`
}

// ChainCapability is the per-chain entry of a wallet_getCapabilities result.
type ChainCapability struct {
	AtomicBatch      CapabilityFlag `json:"atomicBatch"`
	PaymasterService CapabilityFlag `json:"paymasterService"`
}

// CapabilityFlag marks one capability as supported or not.
type CapabilityFlag struct {
	Supported bool `json:"supported"`
}

// ReceiptClient is the slice of an Ethereum RPC client the session needs for
// batch status lookups. *ethclient.Client satisfies it.
type ReceiptClient interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// ReceiptDialer opens a ReceiptClient against the given RPC endpoint.
type ReceiptDialer func(ctx context.Context, rpcURL string) (ReceiptClient, error)

func dialEthReceipts(ctx context.Context, rpcURL string) (ReceiptClient, error) {
	return ethclient.DialContext(ctx, rpcURL)
}

// WalletConfig assembles a Wallet session.
type WalletConfig struct {
	// Communicator is the popup messaging engine (required).
	Communicator *Communicator
	// Store persists the session state. Defaults to an in-memory store.
	Store storage.Store
	// Chains is the locally supported chain set. Defaults to the built-in
	// registry.
	Chains *ChainRegistry
	// DefaultChainID is the chain used when nothing is persisted yet.
	// Defaults to mainnet.
	DefaultChainID uint64
	// ReceiptDialer opens RPC clients for receipt lookups. Defaults to
	// go-ethereum's ethclient.
	ReceiptDialer ReceiptDialer
	// Logger defaults to a noop logger.
	Logger log.Logger
	// Metrics defaults to a privately registered set.
	Metrics *Metrics
}

// Wallet is the session state machine: it owns the persisted chain and
// account state and turns each wallet operation into one round trip through
// the Communicator.
//
// State is hydrated from storage asynchronously at construction; every
// public method first awaits hydration. The zero accounts list means the
// session is disconnected.
type Wallet struct {
	comm     *Communicator
	store    storage.Store
	chains   *ChainRegistry
	dial     ReceiptDialer
	lg       log.Logger
	metrics  *Metrics
	validate *validator.Validate

	hydrated chan struct{}

	// mu protects accounts and chain.
	mu       sync.Mutex
	accounts []string
	chain    Chain

	// batchMu serializes batch-map read-modify-write cycles.
	batchMu sync.Mutex
}

// NewWallet creates a Wallet session and starts hydrating it from storage.
func NewWallet(cfg WalletConfig) *Wallet {
	if cfg.Store == nil {
		cfg.Store = storage.NewMemoryStore()
	}
	if cfg.Chains == nil {
		cfg.Chains = NewChainRegistry()
	}
	if cfg.DefaultChainID == 0 {
		cfg.DefaultChainID = 1
	}
	if cfg.ReceiptDialer == nil {
		cfg.ReceiptDialer = dialEthReceipts
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNoopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetricsWithRegistry(prometheus.NewRegistry())
	}

	w := &Wallet{
		comm:     cfg.Communicator,
		store:    cfg.Store,
		chains:   cfg.Chains,
		dial:     cfg.ReceiptDialer,
		lg:       cfg.Logger.WithName("wallet"),
		metrics:  cfg.Metrics,
		validate: validator.New(),
		hydrated: make(chan struct{}),
	}

	go w.hydrate(cfg.DefaultChainID)
	return w
}

// hydrate loads the persisted chain and accounts. Storage failures degrade to
// the default state rather than leaving the session unusable.
func (w *Wallet) hydrate(defaultChainID uint64) {
	defer close(w.hydrated)

	ctx := context.Background()

	chain, ok := w.chains.Get(defaultChainID)
	if !ok {
		chain = Chain{ID: defaultChainID}
	}
	if found, err := storage.LoadObject(ctx, w.store, storeKeyChain, &chain); err != nil {
		w.lg.Warn("failed to load persisted chain", "error", err)
	} else if found {
		w.lg.Debug("restored chain", "chainId", chain.ID)
	}

	var accounts []string
	if found, err := storage.LoadObject(ctx, w.store, storeKeyAccounts, &accounts); err != nil {
		w.lg.Warn("failed to load persisted accounts", "error", err)
	} else if found && len(accounts) > 0 {
		w.lg.Debug("restored accounts", "count", len(accounts))
	}

	w.mu.Lock()
	w.chain = chain
	w.accounts = accounts
	w.mu.Unlock()
	w.comm.SetChainID(chain.ID)
}

// awaitHydration blocks until the persisted state finished loading.
func (w *Wallet) awaitHydration(ctx context.Context) error {
	select {
	case <-w.hydrated:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Accounts returns the connected accounts, empty when disconnected.
func (w *Wallet) Accounts(ctx context.Context) ([]string, error) {
	if err := w.awaitHydration(ctx); err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.accounts))
	copy(out, w.accounts)
	return out, nil
}

// Connected reports whether an account is connected.
func (w *Wallet) Connected(ctx context.Context) (bool, error) {
	accounts, err := w.Accounts(ctx)
	if err != nil {
		return false, err
	}
	return len(accounts) > 0, nil
}

// ActiveChain returns the session's current chain.
func (w *Wallet) ActiveChain(ctx context.Context) (Chain, error) {
	if err := w.awaitHydration(ctx); err != nil {
		return Chain{}, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.chain, nil
}

func (w *Wallet) chainID() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.chain.ID
}

// Connect asks the wallet UI for an account and persists the result.
// Returns the connected accounts.
func (w *Wallet) Connect(ctx context.Context) ([]string, error) {
	if err := w.awaitHydration(ctx); err != nil {
		return nil, err
	}

	req, err := wire.NewRequest(wire.EventConnect, w.chainID(), "", nil)
	if err != nil {
		return nil, err
	}
	resp, err := w.comm.PostRequestAndWaitForResponse(ctx, req)
	if err != nil {
		return nil, err
	}

	var data wire.ConnectResponseData
	if err := resp.DecodeData(&data); err != nil {
		return nil, err
	}
	if data.Error != "" {
		return nil, fmt.Errorf("connect rejected: %s", data.Error)
	}

	var accounts []string
	if data.Address != "" {
		accounts = []string{data.Address}
	}

	w.mu.Lock()
	w.accounts = accounts
	w.mu.Unlock()
	if err := storage.StoreObject(ctx, w.store, storeKeyAccounts, accounts); err != nil {
		return nil, err
	}
	w.lg.Info("connected", "accounts", len(accounts))
	return accounts, nil
}

// Disconnect clears the connected accounts in memory and storage. It does
// not tear down the popup; that is the Communicator's concern.
func (w *Wallet) Disconnect(ctx context.Context) error {
	if err := w.awaitHydration(ctx); err != nil {
		return err
	}

	w.mu.Lock()
	w.accounts = nil
	w.mu.Unlock()
	if err := w.store.RemoveItem(ctx, storeKeyAccounts); err != nil {
		return err
	}
	w.lg.Info("disconnected")
	return nil
}

// SwitchChain moves the session to the given chain.
//
// Chains in the local registry switch without any popup round trip and the
// call returns nil, the EIP-3326 success convention. Anything else is
// delegated to the wallet UI, whose refusal (or silence on the reason) comes
// back as an error.
func (w *Wallet) SwitchChain(ctx context.Context, id uint64, rpcURL string) error {
	if err := w.awaitHydration(ctx); err != nil {
		return err
	}

	if chain, ok := w.chains.Get(id); ok {
		if rpcURL != "" {
			chain.RPCURL = rpcURL
		}
		return w.setChain(ctx, chain)
	}

	req, err := wire.NewRequest(wire.EventSwitchChain, id, "", wire.SwitchChainRequestData{
		ChainID: id,
		RPCURL:  rpcURL,
	})
	if err != nil {
		return err
	}
	resp, err := w.comm.PostRequestAndWaitForResponse(ctx, req)
	if err != nil {
		return err
	}

	var data wire.SwitchChainResponseData
	if err := resp.DecodeData(&data); err != nil {
		return err
	}
	if data.Error == "" {
		data.Error = "Unsupported chain."
	}
	return fmt.Errorf("%s", data.Error)
}

func (w *Wallet) setChain(ctx context.Context, chain Chain) error {
	w.mu.Lock()
	w.chain = chain
	w.mu.Unlock()
	w.comm.SetChainID(chain.ID)
	if err := storage.StoreObject(ctx, w.store, storeKeyChain, chain); err != nil {
		return err
	}
	w.lg.Info("switched chain", "chainId", chain.ID)
	return nil
}

// SendTransaction runs one transaction round trip through the popup. The
// response payload is returned as-is; wallet-side rejections travel in its
// Error field and are mapped to protocol errors by the provider facade.
func (w *Wallet) SendTransaction(ctx context.Context, params json.RawMessage) (wire.OperationResponseData, error) {
	return w.operationRoundTrip(ctx, wire.EventSendTransaction, params)
}

// SignData runs one personal-signature round trip through the popup.
func (w *Wallet) SignData(ctx context.Context, params json.RawMessage) (wire.OperationResponseData, error) {
	return w.operationRoundTrip(ctx, wire.EventSignData, params)
}

// SignTypedData runs one EIP-712 signature round trip through the popup.
func (w *Wallet) SignTypedData(ctx context.Context, params json.RawMessage) (wire.OperationResponseData, error) {
	return w.operationRoundTrip(ctx, wire.EventSignTypedData, params)
}

func (w *Wallet) operationRoundTrip(ctx context.Context, event wire.Event, params json.RawMessage) (wire.OperationResponseData, error) {
	if err := w.awaitHydration(ctx); err != nil {
		return wire.OperationResponseData{}, err
	}

	req, err := wire.NewRequest(event, w.chainID(), "", params)
	if err != nil {
		return wire.OperationResponseData{}, err
	}
	resp, err := w.comm.PostRequestAndWaitForResponse(ctx, req)
	if err != nil {
		return wire.OperationResponseData{}, err
	}

	var data wire.OperationResponseData
	if err := resp.DecodeData(&data); err != nil {
		return wire.OperationResponseData{}, err
	}
	return data, nil
}

// SendCalls submits an EIP-5792 call batch.
//
// The batch chain must match the session chain and at least one call must be
// present; both are checked before anything is sent or persisted. The batch
// is tracked as pending from before the popup round trip, so a crash between
// submit and response leaves an honest record behind.
func (w *Wallet) SendCalls(ctx context.Context, params SendCallsParams) (*SendCallsResult, error) {
	if err := w.awaitHydration(ctx); err != nil {
		return nil, err
	}

	if len(params.Calls) == 0 {
		return nil, ErrNoCalls
	}
	batchChainID, err := hexutil.DecodeUint64(params.ChainID)
	if err != nil {
		return nil, fmt.Errorf("invalid batch chain id %q: %w", params.ChainID, err)
	}
	if batchChainID != w.chainID() {
		return nil, ErrChainMismatch
	}
	if err := w.validate.Struct(params); err != nil {
		return nil, fmt.Errorf("invalid batch params: %w", err)
	}

	from := params.From
	if from == "" {
		w.mu.Lock()
		if len(w.accounts) > 0 {
			from = w.accounts[0]
		}
		w.mu.Unlock()
	}

	meta := &BatchMetadata{
		ID:           newBatchID(),
		ChainID:      batchChainID,
		From:         from,
		Calls:        params.Calls,
		Status:       BatchStatusPending,
		CreatedAt:    time.Now().UTC(),
		Capabilities: params.Capabilities,
	}
	if err := w.putBatch(ctx, meta); err != nil {
		return nil, err
	}
	w.metrics.BatchesSubmitted.Inc()
	w.lg.Info("batch submitted", "batchId", meta.ID, "calls", len(meta.Calls))

	req, err := wire.NewRequest(wire.EventSendBatchCalls, batchChainID, "", wire.BatchCallsRequestData{
		BatchID:      meta.ID,
		From:         from,
		Calls:        params.Calls,
		Capabilities: params.Capabilities,
	})
	if err != nil {
		return nil, err
	}

	resp, err := w.comm.PostRequestAndWaitForResponse(ctx, req)
	if err != nil {
		w.failBatch(ctx, meta)
		return nil, err
	}

	var data wire.BatchCallsResponseData
	if err := resp.DecodeData(&data); err != nil {
		w.failBatch(ctx, meta)
		return nil, err
	}
	if data.Error != "" {
		w.failBatch(ctx, meta)
		return nil, fmt.Errorf("batch rejected: %s", data.Error)
	}

	meta.Hash = data.Hash
	if err := w.putBatch(ctx, meta); err != nil {
		return nil, err
	}

	return &SendCallsResult{
		ID: meta.ID,
		Capabilities: CallsCapabilities{
			CAIP345: CAIP345Capability{TransactionHashes: []string{data.Hash}},
		},
	}, nil
}

func (w *Wallet) failBatch(ctx context.Context, meta *BatchMetadata) {
	meta.Status = BatchStatusFailed
	if err := w.putBatch(ctx, meta); err != nil {
		w.lg.Warn("failed to persist batch failure", "batchId", meta.ID, "error", err)
	}
	w.metrics.BatchesFailed.Inc()
}

// GetCallsStatus reports the status of a call batch.
//
// With a known transaction hash and a configured RPC endpoint it queries the
// chain for a receipt and derives confirmed or reverted from it, persisting
// the transition. A missing or unreachable receipt degrades to the stored
// status rather than failing the call.
func (w *Wallet) GetCallsStatus(ctx context.Context, batchID string) (*CallsStatusResult, error) {
	if err := w.awaitHydration(ctx); err != nil {
		return nil, err
	}

	meta, ok, err := w.getBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrBatchNotFound
	}

	result := &CallsStatusResult{
		Version: "1.0",
		ID:      meta.ID,
		ChainID: hexutil.EncodeUint64(meta.ChainID),
		Atomic:  true,
	}

	if meta.Hash != "" {
		if receipt := w.fetchReceipt(ctx, meta); receipt != nil {
			status := BatchStatusConfirmed
			if receipt.Status != types.ReceiptStatusSuccessful {
				status = BatchStatusReverted
			}
			if meta.Status != status {
				meta.Status = status
				if err := w.putBatch(ctx, meta); err != nil {
					return nil, err
				}
			}
			result.Receipts = []BatchReceipt{newBatchReceipt(receipt)}
		}
	}

	result.Status = meta.Status.statusCode()
	return result, nil
}

// fetchReceipt queries the batch chain's RPC endpoint for a transaction
// receipt. All failures degrade to nil: no receipt yet.
func (w *Wallet) fetchReceipt(ctx context.Context, meta *BatchMetadata) *types.Receipt {
	rpcURL := ""
	if chain, ok := w.chains.Get(meta.ChainID); ok {
		rpcURL = chain.RPCURL
	}
	w.mu.Lock()
	if w.chain.ID == meta.ChainID && w.chain.RPCURL != "" {
		rpcURL = w.chain.RPCURL
	}
	w.mu.Unlock()
	if rpcURL == "" {
		return nil
	}

	client, err := w.dial(ctx, rpcURL)
	if err != nil {
		w.lg.Debug("receipt client dial failed", "rpcUrl", rpcURL, "error", err)
		return nil
	}

	receipt, err := client.TransactionReceipt(ctx, common.HexToHash(meta.Hash))
	if err != nil {
		w.lg.Debug("receipt not available", "batchId", meta.ID, "error", err)
		return nil
	}
	return receipt
}

func newBatchReceipt(receipt *types.Receipt) BatchReceipt {
	logs := make([]BatchReceiptLog, 0, len(receipt.Logs))
	for _, l := range receipt.Logs {
		topics := make([]string, 0, len(l.Topics))
		for _, t := range l.Topics {
			topics = append(topics, t.Hex())
		}
		logs = append(logs, BatchReceiptLog{
			Address: l.Address.Hex(),
			Topics:  topics,
			Data:    hexutil.Encode(l.Data),
		})
	}

	blockNumber := ""
	if receipt.BlockNumber != nil {
		blockNumber = hexutil.EncodeBig(receipt.BlockNumber)
	}
	return BatchReceipt{
		Logs:            logs,
		Status:          hexutil.EncodeUint64(receipt.Status),
		BlockHash:       receipt.BlockHash.Hex(),
		BlockNumber:     blockNumber,
		GasUsed:         hexutil.EncodeUint64(receipt.GasUsed),
		TransactionHash: receipt.TxHash.Hex(),
	}
}

// ShowCallsStatus asks the popup to open the given batch's activity view.
// Fire-and-forget after the batch is confirmed to exist.
func (w *Wallet) ShowCallsStatus(ctx context.Context, batchID string) error {
	if err := w.awaitHydration(ctx); err != nil {
		return err
	}

	_, ok, err := w.getBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrBatchNotFound
	}

	msg, err := wire.NewMessage(wire.EventOpenSettings, w.chainID(), "", wire.ShowBatchData{BatchID: batchID})
	if err != nil {
		return err
	}
	return w.comm.PostMessage(ctx, msg)
}

// OpenSettings asks the popup to open its settings view. Fire-and-forget.
func (w *Wallet) OpenSettings(ctx context.Context) error {
	if err := w.awaitHydration(ctx); err != nil {
		return err
	}

	msg, err := wire.NewMessage(wire.EventOpenSettings, w.chainID(), "", nil)
	if err != nil {
		return err
	}
	return w.comm.PostMessage(ctx, msg)
}

// GetCapabilities declares per-chain EIP-5792 capabilities, keyed by hex
// chain id. No popup round trip. With no chain ids requested, the whole
// registry is reported.
func (w *Wallet) GetCapabilities(chainIDs ...uint64) map[string]ChainCapability {
	if len(chainIDs) == 0 {
		chainIDs = w.chains.IDs()
	}

	out := make(map[string]ChainCapability, len(chainIDs))
	for _, id := range chainIDs {
		out[hexutil.EncodeUint64(id)] = ChainCapability{
			AtomicBatch:      CapabilityFlag{Supported: w.chains.Supported(id)},
			PaymasterService: CapabilityFlag{Supported: false},
		}
	}
	return out
}

// loadBatches reads the persisted batch map. Absent key means no batches yet.
func (w *Wallet) loadBatches(ctx context.Context) (map[string]*BatchMetadata, error) {
	batches := make(map[string]*BatchMetadata)
	if _, err := storage.LoadObject(ctx, w.store, storeKeyBatches, &batches); err != nil {
		return nil, err
	}
	return batches, nil
}

func (w *Wallet) getBatch(ctx context.Context, id string) (*BatchMetadata, bool, error) {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()

	batches, err := w.loadBatches(ctx)
	if err != nil {
		return nil, false, err
	}
	meta, ok := batches[id]
	return meta, ok, nil
}

// putBatch writes one batch entry back through a full map read-modify-write
// cycle, serialized by batchMu.
func (w *Wallet) putBatch(ctx context.Context, meta *BatchMetadata) error {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()

	batches, err := w.loadBatches(ctx)
	if err != nil {
		return err
	}
	batches[meta.ID] = meta
	return storage.StoreObject(ctx, w.store, storeKeyBatches, batches)
}

// newBatchID generates a batch identifier: a random UUID, with a
// timestamp+random composite as the fallback when randomness is exhausted.
func newBatchID() string {
	id, err := uuid.NewRandom()
	if err != nil {
		return fmt.Sprintf("%d-%06d", time.Now().UnixNano(), rand.Intn(1000000))
	}
	return id.String()
}
