package custody

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVaultTransfer(t *testing.T) {
	ctx := context.Background()
	v := NewVault()

	require.NoError(t, v.Transfer(ctx, Transfer{Reference: "claim:pay-1", To: "bob", Amount: 500}))
	require.NoError(t, v.Transfer(ctx, Transfer{Reference: "claim:pay-2", To: "bob", Amount: 250}))
	assert.EqualValues(t, 750, v.BalanceOf("bob"))
	assert.Len(t, v.Transfers(), 2)
}

func TestVaultDeduplicatesReference(t *testing.T) {
	ctx := context.Background()
	v := NewVault()
	tr := Transfer{Reference: "claim:pay-1", To: "bob", Amount: 500}

	require.NoError(t, v.Transfer(ctx, tr))
	require.NoError(t, v.Transfer(ctx, tr))
	assert.EqualValues(t, 500, v.BalanceOf("bob"))
	assert.Len(t, v.Transfers(), 1)
}

func TestVaultFailure(t *testing.T) {
	ctx := context.Background()
	v := NewVault()
	boom := errors.New("rail down")
	v.FailWith(func(Transfer) error { return boom })

	err := v.Transfer(ctx, Transfer{Reference: "withdraw:1", To: "owner", Amount: 5})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, v.BalanceOf("owner"))

	v.FailWith(nil)
	require.NoError(t, v.Transfer(ctx, Transfer{Reference: "withdraw:1", To: "owner", Amount: 5}))
	assert.EqualValues(t, 5, v.BalanceOf("owner"))
}

func TestTransferValidate(t *testing.T) {
	tests := []struct {
		name string
		tr   Transfer
		ok   bool
	}{
		{"valid", Transfer{Reference: "r", To: "a", Amount: 1}, true},
		{"zero amount", Transfer{Reference: "r", To: "a"}, true},
		{"no reference", Transfer{To: "a", Amount: 1}, false},
		{"no destination", Transfer{Reference: "r", Amount: 1}, false},
		{"negative", Transfer{Reference: "r", To: "a", Amount: -1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tr.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestTransfererFunc(t *testing.T) {
	var got Transfer
	f := TransfererFunc(func(_ context.Context, t Transfer) error {
		got = t
		return nil
	})
	require.NoError(t, f.Transfer(context.Background(), Transfer{Reference: "x"}))
	assert.Equal(t, "x", got.Reference)
}
