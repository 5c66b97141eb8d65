package wire

import "encoding/json"

// AppContextData is the payload of EventPopupAppContext. It introduces the
// embedding application to a freshly loaded popup.
type AppContextData struct {
	// AppName is the human-readable name of the embedding application.
	AppName string `json:"appName"`
	// AppLogoURL optionally points at a logo the popup can display.
	AppLogoURL string `json:"appLogoUrl,omitempty"`
	// Origin is the application's origin, as validated by the popup.
	Origin string `json:"origin"`
	// SDKVersion identifies the bridge build for compatibility checks.
	SDKVersion string `json:"sdkVersion"`
	// ChainID is the session's active chain at popup-open time.
	ChainID uint64 `json:"chainId"`
}

// ConnectResponseData is the payload of the response to EventConnect.
type ConnectResponseData struct {
	// Address is the connected account, empty if the wallet reported none.
	Address string `json:"address,omitempty"`
	// Error carries a wallet-side connection failure.
	Error string `json:"error,omitempty"`
}

// OperationResponseData is the payload shape shared by transaction and
// signature responses. Exactly one of Hash/Signature is populated on
// success; Error is populated when the wallet declined the operation.
type OperationResponseData struct {
	// Hash is the transaction hash, for EventSendTransactionResponse.
	Hash string `json:"hash,omitempty"`
	// Signature is the produced signature, for the signing responses.
	Signature string `json:"signature,omitempty"`
	// Error carries a wallet-side rejection ("user denied signature", ...).
	Error string `json:"error,omitempty"`
}

// SwitchChainRequestData is the payload of EventSwitchChain. It is only sent
// for chains outside the SDK's supported set; supported chains switch locally
// without a popup round trip.
type SwitchChainRequestData struct {
	// ChainID is the target chain.
	ChainID uint64 `json:"chainId"`
	// RPCURL optionally proposes an RPC endpoint for the target chain.
	RPCURL string `json:"rpcUrl,omitempty"`
}

// SwitchChainResponseData is the payload of EventSwitchChainResponse.
type SwitchChainResponseData struct {
	// Error is the wallet's reason for refusing the switch, empty on success.
	Error string `json:"error,omitempty"`
}

// Call is one entry of an EIP-5792 call batch.
// Hex quantities are carried as 0x-prefixed strings and are not interpreted
// by the bridge.
type Call struct {
	To    string `json:"to,omitempty"`
	Data  string `json:"data,omitempty"`
	Value string `json:"value,omitempty"`
}

// BatchCallsRequestData is the payload of EventSendBatchCalls.
type BatchCallsRequestData struct {
	// BatchID is the SDK-generated identifier tracking this batch.
	BatchID string `json:"batchId"`
	// From is the sending account.
	From string `json:"from"`
	// Calls is the ordered list of calls to submit atomically.
	Calls []Call `json:"calls"`
	// Capabilities carries the EIP-5792 capability parameters as-is.
	Capabilities map[string]json.RawMessage `json:"capabilities,omitempty"`
}

// BatchCallsResponseData is the payload of the EventSendBatchCalls response.
type BatchCallsResponseData struct {
	// Hash is the transaction hash the batch was submitted under.
	Hash string `json:"hash,omitempty"`
	// Error carries a wallet-side rejection of the batch.
	Error string `json:"error,omitempty"`
}

// ShowBatchData is the payload of EventOpenSettings when pointing the popup
// at a specific call batch's activity view.
type ShowBatchData struct {
	BatchID string `json:"batchId"`
}
