// Package treasurer decides whether to pay for a tool call that comes back
// 402, and reports what happened afterward. A Treasurer never signs
// anything itself; that is the Wallet's job. It only picks which
// PaymentRequirements (if any) to satisfy and is notified of the outcome.
package treasurer

import (
	"context"

	"github.com/x402-foundation/x402-mcp-proxy/internal/x402types"
)

// Decision is a Treasurer's answer to OnPaymentRequired: either an index
// into the offered PaymentRequirements to pay, or a decline.
type Decision struct {
	// Accept, when true, selects Accepts[Index] to pay. When false, the
	// bridge relays the original 402 back to the buyer unmodified.
	Accept bool
	Index  int
}

// Declined is the zero-value convenience Decision meaning "do not pay".
var Declined = Decision{Accept: false}

// Treasurer governs payment policy. One Treasurer is shared by every bridge
// session in the process, so implementations must be safe for concurrent
// use.
type Treasurer interface {
	// OnPaymentRequired is called once per 402 response the upstream
	// sends, with the full set of PaymentRequirements it offered. The
	// returned Decision selects one (or declines all).
	OnPaymentRequired(ctx context.Context, accepts []x402types.PaymentRequirements) (Decision, error)

	// OnStatus reports a lifecycle event for a payment previously
	// authorized by OnPaymentRequired (or the decline itself). Delivery is
	// best-effort: implementations must not block the bridge's message
	// loop waiting for this to be acknowledged.
	OnStatus(ctx context.Context, authorizationID string, status x402types.Status, details map[string]interface{})
}
