package bridge

import (
	"errors"
	"fmt"
)

// EIP-1193 / JSON-RPC error codes surfaced by the provider facade.
const (
	CodeUserRejected        = 4001
	CodeUnauthorized        = 4100
	CodeUnsupportedMethod   = 4200
	CodeDisconnected        = 4900
	CodeTransactionRejected = -32003
	CodeInvalidParams       = -32602
	CodeInternal            = -32603
)

// ProviderError is the error shape handed to provider consumers: a numeric
// EIP-1193/JSON-RPC code plus a human-readable message.
type ProviderError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
}

// Is makes two provider errors comparable by code, so that
// errors.Is(err, ErrUserRejected) works on wrapped instances.
func (e *ProviderError) Is(target error) bool {
	var pe *ProviderError
	if !errors.As(target, &pe) {
		return false
	}
	return e.Code == pe.Code
}

// NewProviderError creates a ProviderError with the given code and message.
func NewProviderError(code int, message string) *ProviderError {
	return &ProviderError{Code: code, Message: message}
}

var (
	// ErrUserRejected is the uniform error applied to every pending listener
	// when the popup unloads or the session disconnects mid-flight.
	ErrUserRejected = NewProviderError(CodeUserRejected, "User rejected request.")
	// ErrUnauthorized is returned when an operation requires a connected
	// account and none is present.
	ErrUnauthorized = NewProviderError(CodeUnauthorized, "Unauthorized - no account connected.")
	// ErrUnsupportedMethod is returned for methods the provider neither
	// handles nor forwards.
	ErrUnsupportedMethod = NewProviderError(CodeUnsupportedMethod, "Method not supported.")
	// ErrDisconnected is returned when the provider has no usable chain.
	ErrDisconnected = NewProviderError(CodeDisconnected, "Provider is disconnected.")
)

// Wallet-session errors that are not part of the provider surface.
var (
	// ErrPopupHandleLost reports a popup handle that disappeared between a
	// supposedly successful load and its use.
	ErrPopupHandleLost = fmt.Errorf("popup handle lost after load")
	// ErrBatchNotFound reports an unknown call-batch id.
	ErrBatchNotFound = fmt.Errorf("call batch not found")
	// ErrChainMismatch reports a batch whose chain does not match the
	// session's active chain.
	ErrChainMismatch = fmt.Errorf("batch chain does not match active chain")
	// ErrNoCalls reports an empty call batch.
	ErrNoCalls = fmt.Errorf("batch contains no calls")
	// ErrMissingRPCURL reports an active chain without a configured RPC
	// endpoint.
	ErrMissingRPCURL = fmt.Errorf("no RPC URL configured for active chain")
)
