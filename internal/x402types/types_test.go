package x402types

import "testing"

func TestPaymentRequirements_Validate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		req     PaymentRequirements
		wantErr bool
	}{
		{
			name: "valid",
			req: PaymentRequirements{
				Scheme: "exact", Network: "base-sepolia", MaxAmountRequired: "1000",
			},
		},
		{
			name: "zero amount is valid",
			req: PaymentRequirements{
				Scheme: "exact", Network: "base-sepolia", MaxAmountRequired: "0",
			},
		},
		{
			name:    "missing scheme",
			req:     PaymentRequirements{Network: "base-sepolia", MaxAmountRequired: "100"},
			wantErr: true,
		},
		{
			name:    "missing network",
			req:     PaymentRequirements{Scheme: "exact", MaxAmountRequired: "100"},
			wantErr: true,
		},
		{
			name:    "non-integer amount",
			req:     PaymentRequirements{Scheme: "exact", Network: "base-sepolia", MaxAmountRequired: "1.5"},
			wantErr: true,
		},
		{
			name:    "empty amount",
			req:     PaymentRequirements{Scheme: "exact", Network: "base-sepolia", MaxAmountRequired: ""},
			wantErr: true,
		},
		{
			name:    "negative amount",
			req:     PaymentRequirements{Scheme: "exact", Network: "base-sepolia", MaxAmountRequired: "-1"},
			wantErr: true,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.req.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected an error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
