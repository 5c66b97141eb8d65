package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gemini-wallet/bridge/pkg/log"
	"github.com/gemini-wallet/bridge/pkg/popup"
	"github.com/gemini-wallet/bridge/pkg/storage"
)

// Provider event names, per EIP-1193.
const (
	EventAccountsChanged = "accountsChanged"
	EventChainChanged    = "chainChanged"
	EventDisconnected    = "disconnect"
)

// Methods permitted while no account is connected. Everything else fails
// with an unauthorized error, which also disconnects the session.
var disconnectedAllowList = map[string]bool{
	"eth_requestAccounts": true,
	"eth_accounts":        true,
	"eth_chainId":         true,
	"net_version":         true,
}

// RPCRequest is the generic request object handed to Provider.Request.
type RPCRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// EventCallback receives provider event payloads: []string for
// accountsChanged, a hex chain id string for chainChanged, a *ProviderError
// for disconnect.
type EventCallback func(payload any)

// ProviderConfig assembles a Provider together with its Communicator and
// Wallet session.
type ProviderConfig struct {
	// WalletURL is where popup windows are opened (required).
	WalletURL string
	// AppOrigin identifies the embedding application (required).
	AppOrigin string
	// AppName and AppLogoURL describe the application to the wallet UI.
	AppName    string
	AppLogoURL string

	// Opener creates popup windows. Defaults to a WebSocket opener.
	Opener popup.Opener
	// Store persists session state. Defaults to an in-memory store.
	Store storage.Store
	// Chains is the locally supported chain set.
	Chains *ChainRegistry
	// DefaultChainID is the chain used before anything is persisted.
	DefaultChainID uint64
	// ReceiptDialer overrides the batch-status RPC client, for tests.
	ReceiptDialer ReceiptDialer
	// Logger defaults to a noop logger.
	Logger log.Logger
	// Metrics defaults to a privately registered set.
	Metrics *Metrics
}

// Provider is the EIP-1193 facade over the wallet session: it validates
// generic {method, params} requests, dispatches them to session operations,
// normalizes errors to EIP-1193/JSON-RPC codes, and emits provider events.
//
// Methods the facade does not special-case fall through as direct JSON-RPC
// calls against the active chain's RPC endpoint.
type Provider struct {
	comm    *Communicator
	wallet  *Wallet
	chains  *ChainRegistry
	lg      log.Logger
	metrics *Metrics

	subMu  sync.Mutex
	subs   map[string]map[uint64]EventCallback
	nextID uint64

	rpcMu      sync.Mutex
	rpcClients map[string]*rpc.Client
}

// NewProvider creates the provider stack: a Communicator bound to the wallet
// URL, a Wallet session hydrating from the store, and the facade on top.
func NewProvider(cfg ProviderConfig) *Provider {
	if cfg.Logger == nil {
		cfg.Logger = log.NewNoopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetricsWithRegistry(prometheus.NewRegistry())
	}
	if cfg.Chains == nil {
		cfg.Chains = NewChainRegistry()
	}

	p := &Provider{
		chains:     cfg.Chains,
		lg:         cfg.Logger.WithName("provider"),
		metrics:    cfg.Metrics,
		subs:       make(map[string]map[uint64]EventCallback),
		rpcClients: make(map[string]*rpc.Client),
	}

	p.comm = NewCommunicator(CommunicatorConfig{
		WalletURL:    cfg.WalletURL,
		AppOrigin:    cfg.AppOrigin,
		AppName:      cfg.AppName,
		AppLogoURL:   cfg.AppLogoURL,
		Opener:       cfg.Opener,
		OnDisconnect: p.handlePopupDisconnect,
		Logger:       cfg.Logger,
		Metrics:      cfg.Metrics,
	})
	p.wallet = NewWallet(WalletConfig{
		Communicator:   p.comm,
		Store:          cfg.Store,
		Chains:         cfg.Chains,
		DefaultChainID: cfg.DefaultChainID,
		ReceiptDialer:  cfg.ReceiptDialer,
		Logger:         cfg.Logger,
		Metrics:        cfg.Metrics,
	})
	return p
}

// Wallet exposes the underlying session.
func (p *Provider) Wallet() *Wallet {
	return p.wallet
}

// Communicator exposes the underlying messaging engine.
func (p *Provider) Communicator() *Communicator {
	return p.comm
}

// On subscribes a callback to a provider event. The returned function
// unsubscribes it.
func (p *Provider) On(event string, cb EventCallback) func() {
	p.subMu.Lock()
	defer p.subMu.Unlock()

	p.nextID++
	id := p.nextID
	if p.subs[event] == nil {
		p.subs[event] = make(map[uint64]EventCallback)
	}
	p.subs[event][id] = cb

	return func() {
		p.subMu.Lock()
		defer p.subMu.Unlock()
		delete(p.subs[event], id)
	}
}

func (p *Provider) emit(event string, payload any) {
	p.subMu.Lock()
	cbs := make([]EventCallback, 0, len(p.subs[event]))
	for _, cb := range p.subs[event] {
		cbs = append(cbs, cb)
	}
	p.subMu.Unlock()

	for _, cb := range cbs {
		cb(payload)
	}
}

// Request dispatches one {method, params} request.
//
// While no account is connected only the request-accounts and read-only
// chain methods are allowed; anything else fails unauthorized and implicitly
// disconnects the session so the next call starts clean.
func (p *Provider) Request(ctx context.Context, req RPCRequest) (any, error) {
	p.metrics.ProviderRequests.WithLabelValues(req.Method).Inc()

	result, err := p.dispatch(ctx, req)
	if err != nil {
		err = p.normalizeError(err)
		var pe *ProviderError
		if errors.As(err, &pe) {
			p.metrics.ProviderErrors.WithLabelValues(strconv.Itoa(pe.Code)).Inc()
		}
		p.lg.Debug("request failed", "method", req.Method, "error", err)
		return nil, err
	}
	return result, nil
}

func (p *Provider) dispatch(ctx context.Context, req RPCRequest) (any, error) {
	connected, err := p.wallet.Connected(ctx)
	if err != nil {
		return nil, err
	}
	if !connected && !disconnectedAllowList[req.Method] {
		p.Disconnect(ctx)
		return nil, ErrUnauthorized
	}

	switch req.Method {
	case "eth_requestAccounts":
		accounts, err := p.wallet.Connect(ctx)
		if err != nil {
			return nil, err
		}
		p.emit(EventAccountsChanged, accounts)
		return accounts, nil

	case "eth_accounts":
		return p.wallet.Accounts(ctx)

	case "eth_chainId":
		chain, err := p.wallet.ActiveChain(ctx)
		if err != nil {
			return nil, err
		}
		return hexutil.EncodeUint64(chain.ID), nil

	case "net_version":
		chain, err := p.wallet.ActiveChain(ctx)
		if err != nil {
			return nil, err
		}
		return strconv.FormatUint(chain.ID, 10), nil

	case "eth_sendTransaction":
		var tx json.RawMessage
		if err := decodeParams(req.Params, &tx); err != nil {
			return nil, err
		}
		data, err := p.wallet.SendTransaction(ctx, tx)
		if err != nil {
			return nil, err
		}
		if data.Error != "" {
			return nil, NewProviderError(CodeTransactionRejected, data.Error)
		}
		return data.Hash, nil

	case "personal_sign":
		data, err := p.wallet.SignData(ctx, req.Params)
		if err != nil {
			return nil, err
		}
		if data.Error != "" {
			return nil, NewProviderError(CodeUserRejected, data.Error)
		}
		return data.Signature, nil

	case "eth_signTypedData", "eth_signTypedData_v4":
		data, err := p.wallet.SignTypedData(ctx, req.Params)
		if err != nil {
			return nil, err
		}
		if data.Error != "" {
			return nil, NewProviderError(CodeUserRejected, data.Error)
		}
		return data.Signature, nil

	case "wallet_switchEthereumChain":
		var params struct {
			ChainID string `json:"chainId"`
		}
		if err := decodeParams(req.Params, &params); err != nil {
			return nil, err
		}
		id, err := hexutil.DecodeUint64(params.ChainID)
		if err != nil {
			return nil, NewProviderError(CodeInvalidParams, fmt.Sprintf("invalid chain id %q", params.ChainID))
		}
		if err := p.wallet.SwitchChain(ctx, id, ""); err != nil {
			return nil, err
		}
		p.emit(EventChainChanged, hexutil.EncodeUint64(id))
		// EIP-3326: success is a null result.
		return nil, nil

	case "wallet_sendCalls":
		var params SendCallsParams
		if err := decodeParams(req.Params, &params); err != nil {
			return nil, err
		}
		return p.wallet.SendCalls(ctx, params)

	case "wallet_getCallsStatus":
		var batchID string
		if err := decodeParams(req.Params, &batchID); err != nil {
			return nil, err
		}
		return p.wallet.GetCallsStatus(ctx, batchID)

	case "wallet_showCallsStatus":
		var batchID string
		if err := decodeParams(req.Params, &batchID); err != nil {
			return nil, err
		}
		return nil, p.wallet.ShowCallsStatus(ctx, batchID)

	case "wallet_getCapabilities":
		ids, err := decodeCapabilityParams(req.Params)
		if err != nil {
			return nil, err
		}
		return p.wallet.GetCapabilities(ids...), nil

	default:
		return p.fallthroughRPC(ctx, req)
	}
}

// Disconnect clears the session, tears down the popup and emits the
// disconnect event.
func (p *Provider) Disconnect(ctx context.Context) {
	if err := p.wallet.Disconnect(ctx); err != nil {
		p.lg.Warn("error clearing session on disconnect", "error", err)
	}
	p.comm.Disconnect()
	p.emit(EventDisconnected, ErrDisconnected)
}

// handlePopupDisconnect runs when the popup itself signals disconnection.
// The Communicator tears the popup down afterwards, so only the session and
// the subscribers are handled here.
func (p *Provider) handlePopupDisconnect() {
	if err := p.wallet.Disconnect(context.Background()); err != nil {
		p.lg.Warn("error clearing session on popup disconnect", "error", err)
	}
	p.emit(EventDisconnected, ErrDisconnected)
}

// fallthroughRPC forwards a method the facade does not special-case directly
// to the active chain's JSON-RPC endpoint.
func (p *Provider) fallthroughRPC(ctx context.Context, req RPCRequest) (any, error) {
	chain, err := p.wallet.ActiveChain(ctx)
	if err != nil {
		return nil, err
	}
	if chain.RPCURL == "" {
		return nil, ErrMissingRPCURL
	}

	client, err := p.rpcClient(ctx, chain.RPCURL)
	if err != nil {
		return nil, err
	}

	var args []any
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &args); err != nil {
			return nil, NewProviderError(CodeInvalidParams, "params must be an array")
		}
	}

	var result json.RawMessage
	if err := client.CallContext(ctx, &result, req.Method, args...); err != nil {
		return nil, err
	}
	return result, nil
}

// rpcClient returns a cached JSON-RPC client for the given endpoint.
func (p *Provider) rpcClient(ctx context.Context, rpcURL string) (*rpc.Client, error) {
	p.rpcMu.Lock()
	defer p.rpcMu.Unlock()

	if client, ok := p.rpcClients[rpcURL]; ok {
		return client, nil
	}
	client, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	p.rpcClients[rpcURL] = client
	return client, nil
}

// normalizeError maps internal failures onto the EIP-1193/JSON-RPC error
// surface. ProviderErrors pass through untouched, context cancellation stays
// a context error so callers can tell their own deadline from a protocol
// failure.
func (p *Provider) normalizeError(err error) error {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, ErrNoCalls), errors.Is(err, ErrChainMismatch):
		return NewProviderError(CodeInvalidParams, err.Error())
	case errors.Is(err, ErrBatchNotFound):
		return NewProviderError(CodeInvalidParams, "Unknown batch id.")
	case errors.Is(err, popup.ErrPopupBlocked):
		return NewProviderError(CodeUserRejected, "Popup blocked.")
	default:
		return NewProviderError(CodeInternal, err.Error())
	}
}

// decodeParams unmarshals the leading entries of a JSON-RPC params array
// into the given targets.
func decodeParams(raw json.RawMessage, targets ...any) error {
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return NewProviderError(CodeInvalidParams, "params must be an array")
	}
	if len(elems) < len(targets) {
		return NewProviderError(CodeInvalidParams,
			fmt.Sprintf("expected %d params, got %d", len(targets), len(elems)))
	}
	for i, target := range targets {
		if err := json.Unmarshal(elems[i], target); err != nil {
			return NewProviderError(CodeInvalidParams, err.Error())
		}
	}
	return nil
}

// decodeCapabilityParams reads the optional wallet_getCapabilities params:
// an address (ignored, the session has one account) and an optional list of
// hex chain ids.
func decodeCapabilityParams(raw json.RawMessage) ([]uint64, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, NewProviderError(CodeInvalidParams, "params must be an array")
	}
	if len(elems) < 2 {
		return nil, nil
	}

	var hexIDs []string
	if err := json.Unmarshal(elems[1], &hexIDs); err != nil {
		return nil, NewProviderError(CodeInvalidParams, "chain ids must be an array of hex strings")
	}
	ids := make([]uint64, 0, len(hexIDs))
	for _, h := range hexIDs {
		id, err := hexutil.DecodeUint64(h)
		if err != nil {
			return nil, NewProviderError(CodeInvalidParams, fmt.Sprintf("invalid chain id %q", h))
		}
		ids = append(ids, id)
	}
	return ids, nil
}
