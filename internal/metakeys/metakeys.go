// Package metakeys names the vendor `_meta` keys the proxy reads and writes
// on JSON-RPC requests and results, and the extraction helpers that pull
// typed payment data out of the loosely-typed `_meta` bag the MCP wire
// format carries.
package metakeys

import (
	"encoding/json"

	"github.com/x402-foundation/x402-mcp-proxy/internal/jsonrpc"
	"github.com/x402-foundation/x402-mcp-proxy/internal/x402types"
)

const (
	// Payment is the key under which a buyer attaches a signed payment to
	// a retried request's params._meta (client → server direction).
	Payment = "x402/payment"

	// PaymentResponse is the key under which settlement outcome is
	// reported back on a successful result's _meta (server → client).
	PaymentResponse = "x402/payment-response"

	// PaymentID correlates a created payment with the treasurer decision
	// that authorized it, added by the proxy itself rather than forwarded
	// from either peer.
	PaymentID = "x402-mcp-proxy/payment-id"

	// OriginalID records the buyer's original request id on a synthetic
	// retry request. The id translation of the retry's response itself
	// uses the middleware's pending-authorization record, not this key.
	OriginalID = "x402-mcp-proxy/original-id"

	// PaymentIdentifierExtra is the key an upstream may set inside a
	// PaymentRequirements' Extra map to request payment-identifier
	// correlation: an opaque id the proxy echoes back on the retry so the
	// upstream can correlate independently of its own vendor meta key.
	PaymentIdentifierExtra = "paymentIdentifier"

	// PaymentIdentifier is the key under which the proxy echoes back the
	// upstream's requested payment-identifier on a retry request's _meta.
	PaymentIdentifier = "x402/payment-identifier"
)

// PaymentRequiredCode is the JSON-RPC error code the upstream uses to
// signal that a tool call requires payment.
const PaymentRequiredCode = 402

// ExtractPayment reads a signed PaymentPayload from a request's _meta, if
// present. A malformed payload is reported as "no payment" rather than an
// error, matching the upstream's "invalid structure is not an error
// condition" treatment of this same extraction.
func ExtractPayment(meta jsonrpc.Meta) (*x402types.PaymentPayload, bool) {
	raw, ok := meta.Get(Payment)
	if !ok {
		return nil, false
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, false
	}
	var payload x402types.PaymentPayload
	if err := json.Unmarshal(b, &payload); err != nil {
		return nil, false
	}
	if payload.X402Version == 0 {
		return nil, false
	}
	return &payload, true
}

// AttachPayment returns a copy of meta with the payment payload attached,
// preserving any other keys already present.
func AttachPayment(meta jsonrpc.Meta, payload x402types.PaymentPayload) jsonrpc.Meta {
	out := meta.Clone()
	out[Payment] = payload
	return out
}

// AttachPaymentID returns a copy of meta with the proxy's correlation id
// for the authorizing treasurer decision attached.
func AttachPaymentID(meta jsonrpc.Meta, authorizationID string) jsonrpc.Meta {
	out := meta.Clone()
	out[PaymentID] = authorizationID
	return out
}

// ExtractPaymentID reads back the authorization correlation id attached by
// AttachPaymentID.
func ExtractPaymentID(meta jsonrpc.Meta) (string, bool) {
	raw, ok := meta.Get(PaymentID)
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	return s, ok
}

// AttachOriginalID returns a copy of meta recording the buyer's original
// request id under OriginalID.
func AttachOriginalID(meta jsonrpc.Meta, originalID string) jsonrpc.Meta {
	out := meta.Clone()
	out[OriginalID] = originalID
	return out
}

// ExtractPaymentIdentifier reads a requested payment-identifier id out of a
// PaymentRequirements' Extra map, if the upstream asked for one.
func ExtractPaymentIdentifier(extra map[string]interface{}) (string, bool) {
	raw, ok := extra[PaymentIdentifierExtra]
	if !ok {
		return "", false
	}
	m, ok := raw.(map[string]interface{})
	if !ok {
		return "", false
	}
	id, ok := m["id"].(string)
	return id, ok
}

// AttachPaymentIdentifier returns a copy of meta with the upstream-requested
// payment-identifier echoed back under PaymentIdentifier, for a retry
// request's _meta.
func AttachPaymentIdentifier(meta jsonrpc.Meta, id string) jsonrpc.Meta {
	out := meta.Clone()
	out[PaymentIdentifier] = id
	return out
}

// ExtractOriginalID reads back the original id recorded by AttachOriginalID.
func ExtractOriginalID(meta jsonrpc.Meta) (string, bool) {
	raw, ok := meta.Get(OriginalID)
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	return s, ok
}

// ExtractPaymentRequired extracts a PaymentRequired body from a JSON-RPC
// error's data field, the shape the upstream attaches when a tool call
// needs payment.
func ExtractPaymentRequired(data json.RawMessage) (*x402types.PaymentRequired, bool) {
	if len(data) == 0 {
		return nil, false
	}
	var probe struct {
		X402Version int               `json:"x402Version"`
		Accepts     []json.RawMessage `json:"accepts"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, false
	}
	if probe.X402Version == 0 || len(probe.Accepts) == 0 {
		return nil, false
	}
	var pr x402types.PaymentRequired
	if err := json.Unmarshal(data, &pr); err != nil {
		return nil, false
	}
	return &pr, true
}

// AttachPaymentResponse returns a copy of meta with a settlement outcome
// attached under the response-direction key.
func AttachPaymentResponse(meta jsonrpc.Meta, resp x402types.SettleResponse) jsonrpc.Meta {
	out := meta.Clone()
	out[PaymentResponse] = resp
	return out
}

// ExtractPaymentResponse reads a settlement outcome back out of a result's
// _meta.
func ExtractPaymentResponse(meta jsonrpc.Meta) (*x402types.SettleResponse, bool) {
	raw, ok := meta.Get(PaymentResponse)
	if !ok {
		return nil, false
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, false
	}
	var resp x402types.SettleResponse
	if err := json.Unmarshal(b, &resp); err != nil {
		return nil, false
	}
	return &resp, true
}
