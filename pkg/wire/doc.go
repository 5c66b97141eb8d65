// Package wire defines the message schema exchanged between the SDK side of
// the wallet bridge and the popup hosting the wallet UI.
//
// # Message Format
//
// Every message is a flat JSON object with an event tag, an optional request
// correlation id, the applicable chain id, the sender's origin, and an
// event-specific data payload:
//
//	{
//	  "event": "SDK_SIGN_DATA",
//	  "requestId": "9b2d6f0e-...",
//	  "chainId": 1,
//	  "origin": "https://app.example.com",
//	  "data": {"address": "0xabc...", "message": "0x..."}
//	}
//
// The event tag is the discriminant of the union: consumers must check Event
// before decoding Data into one of the payload structs in this package.
//
// # Correlation
//
// Requests that expect a reply carry a request id generated by the sender
// (a random UUID). The matching response carries the identical id, possibly
// under a dedicated response event tag (see Event.ResponseEvent). Matching is
// by request id alone, so concurrent outstanding requests never collide.
//
// # Errors
//
// Wallet-side failures are not transport failures: they travel inside a
// normal response message under the payload's "error" key. Message.Err
// extracts them.
package wire
