// Package x402types holds the payment domain types shared by the wallet,
// treasurer, and x402 middleware: PaymentRequirements, PaymentPayload,
// Authorization, and the 402 payment-required error body. CAIP-2
// network-matching machinery is intentionally left out; this proxy only
// ever deals in the small set of EVM networks it signs for.
package x402types

import (
	"fmt"
	"math/big"
)

// ProtocolVersion is the x402 protocol version this proxy speaks.
const ProtocolVersion = 1

// PaymentRequirements describes one acceptable way to pay for a resource.
type PaymentRequirements struct {
	Scheme            string                 `json:"scheme"`
	Network           string                 `json:"network"`
	Asset             string                 `json:"asset"`
	PayTo             string                 `json:"payTo"`
	MaxAmountRequired string                 `json:"maxAmountRequired"`
	Resource          string                 `json:"resource,omitempty"`
	Description       string                 `json:"description,omitempty"`
	MimeType          string                 `json:"mimeType,omitempty"`
	MaxTimeoutSeconds int                    `json:"maxTimeoutSeconds"`
	Extra             map[string]interface{} `json:"extra,omitempty"`
}

// Validate checks the invariants this proxy places on PaymentRequirements.
func (r PaymentRequirements) Validate() error {
	if r.Scheme == "" {
		return fmt.Errorf("payment requirements: scheme must not be empty")
	}
	if r.Network == "" {
		return fmt.Errorf("payment requirements: network must not be empty")
	}
	amount, ok := new(big.Int).SetString(r.MaxAmountRequired, 10)
	if !ok {
		return fmt.Errorf("payment requirements: maxAmountRequired %q is not an integer", r.MaxAmountRequired)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("payment requirements: maxAmountRequired must be non-negative")
	}
	return nil
}

// ExactAuthorization is the ERC-3009 TransferWithAuthorization payload
// carried inside an "exact" scheme PaymentPayload.
type ExactAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// ExactPayload is the "exact" scheme payload shape.
type ExactPayload struct {
	Signature     string             `json:"signature"`
	Authorization ExactAuthorization `json:"authorization"`
}

// PaymentPayload is the signed payment a wallet produces for a single
// PaymentRequirements and attaches to a retried request.
type PaymentPayload struct {
	X402Version int          `json:"x402Version"`
	Scheme      string       `json:"scheme"`
	Network     string       `json:"network"`
	Payload     ExactPayload `json:"payload"`
}

// PaymentRequired is the structured body of a 402 JSON-RPC error's `data`.
type PaymentRequired struct {
	X402Version int                   `json:"x402Version"`
	Error       string                `json:"error,omitempty"`
	Accepts     []PaymentRequirements `json:"accepts"`
}

// SettleResponse is the settlement outcome reported in a successful
// response's `result._meta["x402/payment-response"]`.
type SettleResponse struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Transaction string `json:"transaction,omitempty"`
}

// Authorization binds a created payment to an opaque id so a later
// settle-response can be correlated back to the treasurer that approved it.
type Authorization struct {
	Payment         PaymentPayload
	AuthorizationID string
}

// Status is a treasurer lifecycle notification.
type Status string

const (
	StatusSending  Status = "sending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
	StatusDeclined Status = "declined"
	StatusError    Status = "error"
)
