package remittance_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/xraph/remittance"
	"github.com/xraph/remittance/store/memory"
	"github.com/xraph/remittance/types"
)

// TestDocumentationExamples verifies that the examples in the package
// documentation behave as described.
func TestDocumentationExamples(t *testing.T) {
	t.Run("QuickStartExample", func(t *testing.T) {
		// Memory store for demo, use PostgreSQL in production
		store := memory.New()

		l := remittance.New(store,
			remittance.WithLogger(slog.Default()),
			remittance.WithOwner("treasury-admin"),
		)

		ctx := context.Background()
		if err := l.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer l.Stop()

		p, err := l.SendPayment(ctx, "alice", remittance.SendRequest{
			Recipient:     "bob",
			PaymentID:     "pay-1",
			Currency:      "USDC",
			Amount:        50_000_000,
			AttachedValue: 50_000_000,
		})
		if err != nil {
			t.Fatal(err)
		}
		if p.NetAmount != 49_500_000 || p.FeeAmount != 500_000 {
			t.Fatalf("split = %d/%d, want 49500000/500000", p.NetAmount, p.FeeAmount)
		}

		if _, err := l.ClaimPayment(ctx, "bob", "pay-1"); err != nil {
			t.Fatal(err)
		}

		// A second claim is rejected with a stable code.
		_, err = l.ClaimPayment(ctx, "bob", "pay-1")
		if !errors.Is(err, remittance.ErrAlreadyClaimed) || remittance.CodeOf(err) != "AlreadyClaimed" {
			t.Fatalf("second claim: %v", err)
		}

		w, err := l.Withdraw(ctx, "treasury-admin", 500_000)
		if err != nil {
			t.Fatal(err)
		}
		if w.BalanceAfter != 0 {
			t.Fatalf("balance after = %d", w.BalanceAfter)
		}
	})

	t.Run("AmountExamples", func(t *testing.T) {
		if got := types.Amount(1_000_000).Format(6); got != "1.000000" {
			t.Fatalf("Format = %q", got)
		}
		a, err := remittance.ParseAmount("0.01", 6)
		if err != nil || a != remittance.DefaultMinAmount {
			t.Fatalf("ParseAmount = %d, %v", a, err)
		}
		net, cut := remittance.SplitFee(10_001, 3)
		if net != 9_700 || cut != 301 {
			t.Fatalf("SplitFee = %d/%d", net, cut)
		}
	})
}
