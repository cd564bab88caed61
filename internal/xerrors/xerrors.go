// Package xerrors defines the proxy's error taxonomy: a single structured
// error type carried over JSON-RPC error.data, so buyers see the same
// error envelope on both sides of the proxy.
package xerrors

import "fmt"

// Code enumerates the proxy-level error classes.
type Code string

const (
	CodeInvalidURL          Code = "INVALID_URL"
	CodeInvalidProtocol     Code = "INVALID_PROTOCOL"
	CodeUpstreamUnreachable Code = "UPSTREAM_UNREACHABLE"
	CodeSessionNotFound     Code = "SESSION_NOT_FOUND"
	CodeBackpressure        Code = "TOO_MANY_PENDING_REQUESTS"
	CodePaymentRequired     Code = "PAYMENT_REQUIRED"
	CodePaymentDeclined     Code = "PAYMENT_DECLINED"
	CodePaymentInvalid      Code = "PAYMENT_INVALID"
	CodeWalletError         Code = "WALLET_ERROR"
	CodeTreasurerError      Code = "TREASURER_ERROR"
	CodeSettlementFailed    Code = "SETTLEMENT_FAILED"
	CodeInternal            Code = "INTERNAL_ERROR"

	// CodeProtocolViolation marks a settle-response that cannot be
	// correlated back to a request because the expected vendor meta field
	// is missing.
	CodeProtocolViolation Code = "PROTOCOL_VIOLATION"
	// CodeUnknownAuthorization marks a settle-response whose paymentId
	// does not match any authorization the middleware is tracking.
	CodeUnknownAuthorization Code = "UNKNOWN_AUTHORIZATION"
	// CodeUnsupportedScheme marks a PaymentRequirements whose scheme the
	// wallet does not know how to sign for.
	CodeUnsupportedScheme Code = "UNSUPPORTED_SCHEME"
	// CodeSigningFailed marks a failure while producing a signature.
	CodeSigningFailed Code = "SIGNING_FAILED"
	// CodeInvalidRequirements marks a PaymentRequirements that fails
	// Validate().
	CodeInvalidRequirements Code = "INVALID_REQUIREMENTS"
)

// ProxyError is the structured error the proxy attaches to JSON-RPC
// error.data and surfaces in HTTP error bodies.
type ProxyError struct {
	Code    Code                   `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`

	// cause is kept out of the wire representation but preserved for
	// %w-style unwrapping and logging.
	cause error
}

// Error implements error.
func (e *ProxyError) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause, if any.
func (e *ProxyError) Unwrap() error { return e.cause }

// New builds a ProxyError with no wrapped cause.
func New(code Code, message string) *ProxyError {
	return &ProxyError{Code: code, Message: message}
}

// Wrap builds a ProxyError wrapping an underlying cause.
func Wrap(code Code, message string, cause error) *ProxyError {
	return &ProxyError{Code: code, Message: message, cause: cause}
}

// WithDetails returns a copy of e with Details set.
func (e *ProxyError) WithDetails(details map[string]interface{}) *ProxyError {
	clone := *e
	clone.Details = details
	return &clone
}

// JSONRPCCode maps a ProxyError to a JSON-RPC error.code. The proxy reuses
// the JSON-RPC reserved server-error range (-32000 to -32099) rather than
// inventing overlapping application codes; URL validation errors map to the
// standard invalid-params code -32602.
func (e *ProxyError) JSONRPCCode() int {
	switch e.Code {
	case CodePaymentRequired:
		return -32001
	case CodePaymentDeclined:
		return -32002
	case CodePaymentInvalid:
		return -32003
	case CodeSettlementFailed:
		return -32004
	case CodeSessionNotFound:
		return -32005
	case CodeBackpressure:
		return -32006
	case CodeProtocolViolation:
		return -32007
	case CodeUnknownAuthorization:
		return -32008
	case CodeUnsupportedScheme:
		return -32009
	case CodeSigningFailed:
		return -32010
	case CodeInvalidRequirements:
		return -32011
	case CodeInvalidURL, CodeInvalidProtocol:
		return -32602
	default:
		return -32000
	}
}
