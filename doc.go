// Package bridge implements the cross-context wallet popup protocol: a
// Communicator that opens a wallet popup and exchanges correlated
// request/response messages with it, a Wallet session state machine on top
// (connect, disconnect, chain switching, EIP-5792 call batches), and an
// EIP-1193 Provider facade translating generic {method, params} requests
// into session operations and JSON-RPC error codes.
package bridge
