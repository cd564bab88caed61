// Package wallet signs x402 payment payloads on behalf of the buyer. Two
// implementations are provided: a plain EOA wallet and a smart-account
// wallet that wraps the same EOA signature in an ERC-1271 envelope.
package wallet

import (
	"context"
	"fmt"

	"github.com/x402-foundation/x402-mcp-proxy/internal/x402types"
)

// Wallet creates a signed payment payload for a single PaymentRequirements,
// already chosen by the treasurer, performing whatever signing that
// requirement's scheme/network demands.
type Wallet interface {
	// Address returns the wallet's on-chain address, used to populate the
	// authorization's "from" field and for logging.
	Address() string

	// CreatePayment signs req and returns a PaymentPayload ready to attach
	// to a retried tool call. Only the "exact" scheme over EIP-3009 is
	// currently supported; any other scheme returns an error.
	CreatePayment(ctx context.Context, req x402types.PaymentRequirements) (*x402types.PaymentPayload, error)

	// SignMessage signs an arbitrary message with the same key material
	// CreatePayment uses, for callers that need a wallet-signed proof of
	// address outside the payment flow (e.g. a Sign-In-With-Ethereum style
	// login). The returned signature is hex-encoded with a "0x" prefix.
	SignMessage(ctx context.Context, message []byte) (string, error)
}

// ErrUnsupportedScheme is returned when a wallet is asked to pay a
// PaymentRequirements whose scheme/network it cannot satisfy.
type ErrUnsupportedScheme struct {
	Scheme  string
	Network string
}

func (e *ErrUnsupportedScheme) Error() string {
	return fmt.Sprintf("wallet: unsupported scheme %q on network %q", e.Scheme, e.Network)
}
