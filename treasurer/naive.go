package treasurer

import (
	"context"
	"math/big"

	"github.com/x402-foundation/x402-mcp-proxy/internal/x402types"
)

// NaiveTreasurer always accepts the cheapest offered PaymentRequirements,
// optionally capped by a maximum amount. It never calls out to any remote
// policy service; OnStatus is a no-op.
type NaiveTreasurer struct {
	// MaxAmount caps what this treasurer will auto-approve, in the asset's
	// atomic units. Zero means unlimited.
	MaxAmount int64
}

// NewNaiveTreasurer builds a NaiveTreasurer with the given cap (0 for no
// cap).
func NewNaiveTreasurer(maxAmount int64) *NaiveTreasurer {
	return &NaiveTreasurer{MaxAmount: maxAmount}
}

// OnPaymentRequired implements Treasurer.
func (t *NaiveTreasurer) OnPaymentRequired(ctx context.Context, accepts []x402types.PaymentRequirements) (Decision, error) {
	if len(accepts) == 0 {
		return Declined, nil
	}

	best := -1
	var bestAmount *big.Int
	for i, req := range accepts {
		// A requirement whose maxAmountRequired doesn't parse as a
		// non-negative atomic-unit integer is never payable; skip it rather
		// than erroring the whole decision.
		if err := req.Validate(); err != nil {
			continue
		}
		amount, _ := new(big.Int).SetString(req.MaxAmountRequired, 10)
		if t.MaxAmount > 0 && amount.Cmp(big.NewInt(t.MaxAmount)) > 0 {
			continue
		}
		if bestAmount == nil || amount.Cmp(bestAmount) < 0 {
			best = i
			bestAmount = amount
		}
	}

	if best < 0 {
		return Declined, nil
	}
	return Decision{Accept: true, Index: best}, nil
}

// OnStatus implements Treasurer as a no-op; the naive treasurer has no
// remote counterpart to notify.
func (t *NaiveTreasurer) OnStatus(ctx context.Context, authorizationID string, status x402types.Status, details map[string]interface{}) {
}
