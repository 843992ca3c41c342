package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAmountArithmetic(t *testing.T) {
	tests := []struct {
		name   string
		op     func() (Amount, bool)
		want   Amount
		wantOK bool
	}{
		{"Add", func() (Amount, bool) { return Amount(100).Add(200) }, 300, true},
		{"Add overflow", func() (Amount, bool) { return MaxAmount.Add(1) }, 0, false},
		{"Add zero at max", func() (Amount, bool) { return MaxAmount.Add(0) }, MaxAmount, true},
		{"Sub", func() (Amount, bool) { return Amount(500).Sub(200) }, 300, true},
		{"Sub to zero", func() (Amount, bool) { return Amount(10).Sub(10) }, 0, true},
		{"Sub below zero", func() (Amount, bool) { return Amount(10).Sub(11) }, 0, false},
		{"Sum", func() (Amount, bool) { return Sum(1, 2, 3, 4) }, 10, true},
		{"Sum overflow", func() (Amount, bool) { return Sum(MaxAmount, 1) }, 0, false},
		{"Sum empty", func() (Amount, bool) { return Sum() }, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.op()
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAmountMulDiv(t *testing.T) {
	tests := []struct {
		name     string
		amount   Amount
		num, den int64
		want     Amount
	}{
		{"one percent off", 1_000_000, 99, 100, 990_000},
		{"floors", 10_001, 99, 100, 9_900},
		{"identity", 12345, 100, 100, 12345},
		{"zero multiplier", 12345, 0, 100, 0},
		{"max amount does not overflow", MaxAmount, 99, 100, 9_131_138_316_486_228_048},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.amount.MulDiv(tt.num, tt.den))
		})
	}
}

func TestAmountMulDivPanics(t *testing.T) {
	assert.Panics(t, func() { Amount(1).MulDiv(1, 0) })
	assert.Panics(t, func() { Amount(1).MulDiv(101, 100) })
	assert.Panics(t, func() { Amount(1).MulDiv(-1, 100) })
	assert.Panics(t, func() { Amount(-1).MulDiv(1, 100) })
}

func TestAmountFormat(t *testing.T) {
	tests := []struct {
		amount   Amount
		decimals int32
		want     string
	}{
		{990_000, 6, "0.990000"},
		{1_000_000, 6, "1.000000"},
		{4900, 2, "49.00"},
		{100, 0, "100"},
		{0, 2, "0.00"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.amount.Format(tt.decimals))
		})
	}
}

func TestParseAmount(t *testing.T) {
	got, err := ParseAmount("1", 6)
	require.NoError(t, err)
	assert.Equal(t, Amount(1_000_000), got)

	got, err = ParseAmount("0.01", 6)
	require.NoError(t, err)
	assert.Equal(t, Amount(10_000), got)

	for _, bad := range []string{"", "abc", "-1", "0.0000001", "99999999999999999999"} {
		t.Run(bad, func(t *testing.T) {
			_, err := ParseAmount(bad, 6)
			assert.Error(t, err)
		})
	}
}

func TestEntity(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600))
	e := NewEntity(at)
	assert.Equal(t, time.UTC, e.CreatedAt.Location())
	assert.True(t, e.CreatedAt.Equal(at))
	assert.Equal(t, e.CreatedAt, e.UpdatedAt)

	later := at.Add(time.Hour)
	e.Touch(later)
	assert.True(t, e.UpdatedAt.Equal(later))
	assert.Equal(t, time.Hour, e.AgeAt(later))
}
