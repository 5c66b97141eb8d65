package wire

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Message is the wire unit exchanged between the SDK and the popup.
//
// The JSON representation is a flat object:
//
//	{
//	  "event": "SDK_CONNECT",
//	  "requestId": "7f9c...",
//	  "chainId": 1,
//	  "origin": "https://app.example.com",
//	  "data": {...}
//	}
//
// Every request that expects a reply carries a request id unique within the
// popup's lifetime; the matching response carries the identical id. Data is
// an event-specific payload, opaque to the transport.
type Message struct {
	// Event identifies the operation or lifecycle signal.
	Event Event `json:"event"`
	// RequestID is the opaque correlation token pairing a request with its
	// response. Empty on fire-and-forget messages.
	RequestID string `json:"requestId,omitempty"`
	// ChainID is the chain the message applies to.
	ChainID uint64 `json:"chainId"`
	// Origin is the sender's origin (scheme://host[:port]).
	Origin string `json:"origin"`
	// Data holds the event-specific payload. Decode it with DecodeData only
	// after checking Event.
	Data json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a fire-and-forget Message with the given event, chain id,
// origin and payload. The payload may be nil.
//
// Returns an error if the payload cannot be marshaled to JSON.
func NewMessage(event Event, chainID uint64, origin string, data any) (Message, error) {
	raw, err := EncodeData(data)
	if err != nil {
		return Message{}, err
	}

	return Message{
		Event:   event,
		ChainID: chainID,
		Origin:  origin,
		Data:    raw,
	}, nil
}

// NewRequest creates a Message carrying a freshly generated request id.
// Request ids are random UUIDs, which makes simultaneous outstanding
// requests distinguishable without any shared counter.
func NewRequest(event Event, chainID uint64, origin string, data any) (Message, error) {
	msg, err := NewMessage(event, chainID, origin, data)
	if err != nil {
		return Message{}, err
	}

	msg.RequestID = uuid.NewString()
	return msg, nil
}

// NewResponse creates a Message answering the given request: it carries the
// request's response event tag and the identical request id.
func NewResponse(req Message, origin string, data any) (Message, error) {
	msg, err := NewMessage(req.Event.ResponseEvent(), req.ChainID, origin, data)
	if err != nil {
		return Message{}, err
	}

	msg.RequestID = req.RequestID
	return msg, nil
}

// IsResponseTo reports whether m correlates to the given request.
// Correlation is by request id alone; the event tag is not consulted, so a
// single pending listener per request id is sufficient regardless of whether
// the wallet responds under a dedicated response tag.
func (m Message) IsResponseTo(req Message) bool {
	return req.RequestID != "" && m.RequestID == req.RequestID
}

// DecodeData unmarshals the event-specific payload into v.
// v should be a pointer to the payload struct matching m.Event.
func (m Message) DecodeData(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("message %s has no data", m.Event)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("error decoding %s data: %w", m.Event, err)
	}
	return nil
}

// Err extracts an operation-level error carried inside the message payload.
// Wallet-side failures (rejected signature, declined transaction) travel as
// data inside a normal response message rather than as transport failures;
// this helper surfaces them as a Go error.
//
// Returns nil if the payload has no "error" key.
func (m Message) Err() error {
	if len(m.Data) == 0 {
		return nil
	}

	var partial struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(m.Data, &partial); err != nil {
		return nil
	}
	if partial.Error == "" {
		return nil
	}
	return fmt.Errorf("%s", partial.Error)
}

// EncodeData marshals an event payload to its raw JSON form.
// A nil payload encodes to an absent data field.
func EncodeData(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("error encoding message data: %w", err)
	}
	return raw, nil
}
