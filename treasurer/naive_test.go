package treasurer

import (
	"context"
	"testing"

	"github.com/x402-foundation/x402-mcp-proxy/internal/x402types"
)

func TestNaiveTreasurer_PicksCheapest(t *testing.T) {
	tr := NewNaiveTreasurer(0)
	accepts := []x402types.PaymentRequirements{
		{Scheme: "exact", Network: "base-sepolia", MaxAmountRequired: "500"},
		{Scheme: "exact", Network: "base-sepolia", MaxAmountRequired: "100"},
		{Scheme: "exact", Network: "base-sepolia", MaxAmountRequired: "900"},
	}

	decision, err := tr.OnPaymentRequired(context.Background(), accepts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Accept {
		t.Fatal("expected accept")
	}
	if decision.Index != 1 {
		t.Errorf("expected index 1 (cheapest), got %d", decision.Index)
	}
}

func TestNaiveTreasurer_DeclinesWhenNoneFitCap(t *testing.T) {
	tr := NewNaiveTreasurer(50)
	accepts := []x402types.PaymentRequirements{
		{Scheme: "exact", Network: "base-sepolia", MaxAmountRequired: "500"},
	}

	decision, err := tr.OnPaymentRequired(context.Background(), accepts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Accept {
		t.Error("expected decline when every option exceeds the cap")
	}
}

func TestNaiveTreasurer_DeclinesOnEmptyAccepts(t *testing.T) {
	tr := NewNaiveTreasurer(0)
	decision, err := tr.OnPaymentRequired(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Accept {
		t.Error("expected decline on empty accepts")
	}
}

func TestNaiveTreasurer_OnStatusIsNoOp(t *testing.T) {
	tr := NewNaiveTreasurer(0)
	// Must not panic or block.
	tr.OnStatus(context.Background(), "pay_test", x402types.StatusAccepted, nil)
}
