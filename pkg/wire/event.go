package wire

// Event identifies the operation or lifecycle signal a Message carries.
// It is the discriminant of the message union: event-specific payloads in
// Message.Data must only be decoded after checking the Event value.
type Event string

const (
	// EventPopupLoaded is announced by the popup once its document finished
	// loading and it is ready to receive requests. The popup picks the
	// request id; the SDK answers with EventPopupAppContext under the same id.
	EventPopupLoaded Event = "POPUP_LOADED"
	// EventPopupUnloaded is announced by the popup when its window is being
	// torn down. Receiving it cancels all in-flight requests.
	EventPopupUnloaded Event = "POPUP_UNLOADED"
	// EventPopupAppContext carries the application metadata (name, origin,
	// SDK version, active chain) from the SDK to a freshly loaded popup.
	EventPopupAppContext Event = "POPUP_APP_CONTEXT"

	// EventConnect requests a wallet connection; the response carries the
	// connected account address.
	EventConnect Event = "SDK_CONNECT"
	// EventDisconnect signals session termination, in either direction.
	EventDisconnect Event = "SDK_DISCONNECT"

	// EventSendTransaction requests signing and broadcasting a transaction.
	EventSendTransaction Event = "SDK_SEND_TRANSACTION"
	// EventSendTransactionResponse carries the transaction hash or an error.
	EventSendTransactionResponse Event = "SDK_SEND_TRANSACTION_RESPONSE"
	// EventSignData requests a personal-message signature.
	EventSignData Event = "SDK_SIGN_DATA"
	// EventSignDataResponse carries the signature or an error.
	EventSignDataResponse Event = "SDK_SIGN_DATA_RESPONSE"
	// EventSignTypedData requests an EIP-712 typed-data signature.
	EventSignTypedData Event = "SDK_SIGN_TYPED_DATA"
	// EventSignTypedDataResponse carries the signature or an error.
	EventSignTypedDataResponse Event = "SDK_SIGN_TYPED_DATA_RESPONSE"
	// EventSwitchChain asks the wallet to switch to a chain the SDK does not
	// support locally.
	EventSwitchChain Event = "SDK_SWITCH_CHAIN"
	// EventSwitchChainResponse reports the outcome of a switch request.
	EventSwitchChainResponse Event = "SDK_SWITCH_CHAIN_RESPONSE"
	// EventSendBatchCalls submits an EIP-5792 call batch. The response reuses
	// the same event tag and is matched by request id alone.
	EventSendBatchCalls Event = "SDK_SEND_BATCH_CALLS"
	// EventOpenSettings asks the popup to open its settings view.
	// Fire-and-forget; no response is produced.
	EventOpenSettings Event = "SDK_OPEN_SETTINGS"
)

// String returns the string representation of the event.
func (e Event) String() string {
	return string(e)
}

// responseEvents maps request events to the event tag their response carries.
// Events absent from the map either expect no response or respond under the
// request's own tag.
var responseEvents = map[Event]Event{
	EventPopupLoaded:     EventPopupAppContext,
	EventSendTransaction: EventSendTransactionResponse,
	EventSignData:        EventSignDataResponse,
	EventSignTypedData:   EventSignTypedDataResponse,
	EventSwitchChain:     EventSwitchChainResponse,
}

// ResponseEvent returns the event tag a response to e is expected to carry.
// For events without a dedicated response tag it returns e itself.
func (e Event) ResponseEvent() Event {
	if res, ok := responseEvents[e]; ok {
		return res
	}
	return e
}
