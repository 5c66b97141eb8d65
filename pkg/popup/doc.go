// Package popup manages the wallet UI window the bridge talks to.
//
// A Popup is a narrow handle: it reports its origin and open/closed state,
// moves wire messages in and out, and can be focused and closed. All protocol
// state (request correlation, origin filtering, cancellation) lives above it
// in the Communicator.
//
// Two implementations are provided:
//
//   - WebsocketOpener: the production transport. The wallet UI runs in a
//     separate context reachable over a duplex WebSocket link; opening the
//     popup dials the wallet URL, and closing either side tears the link
//     down. A refused handshake surfaces as ErrPopupBlocked, the moral
//     equivalent of a browser blocking the window.
//
//   - PipeOpener / NewPipe: an in-process pair for tests and embedded
//     wallets. The remote end plays the wallet: it observes what the SDK
//     posted and injects inbound messages, including messages with spoofed
//     origins to exercise origin validation.
//
// A Communicator holds at most one live popup. Reuse-or-reopen policy is the
// Communicator's job; openers create a fresh window on every Open call.
package popup
