// Package types provides common types used across the remittance ledger.
package types

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/shopspring/decimal"
)

// Amount is a quantity of the ledger's native asset in its smallest unit.
// All arithmetic is integer-only. A valid Amount is never negative.
//
// Examples at six decimals:
//   - Amount(1_000_000) = 1.000000
//   - Amount(10_000) = 0.010000
type Amount int64

// MaxAmount is the largest representable Amount.
const MaxAmount Amount = math.MaxInt64

// Int64 returns the amount as an int64.
func (a Amount) Int64() int64 { return int64(a) }

// IsZero returns true if the amount is zero.
func (a Amount) IsZero() bool { return a == 0 }

// IsNegative returns true if the amount is below zero.
func (a Amount) IsNegative() bool { return a < 0 }

// Add returns a+b. The second result is false when the sum overflows.
func (a Amount) Add(b Amount) (Amount, bool) {
	if b > 0 && a > MaxAmount-b {
		return 0, false
	}
	return a + b, true
}

// Sub returns a-b. The second result is false when the result would be negative.
func (a Amount) Sub(b Amount) (Amount, bool) {
	if b > a {
		return 0, false
	}
	return a - b, true
}

// MulDiv returns floor(a * num / den) computed with a 128-bit intermediate,
// so it cannot overflow for any non-negative a. It panics when den is not
// positive, num is negative, or num exceeds den.
func (a Amount) MulDiv(num, den int64) Amount {
	if den <= 0 {
		panic("amount: non-positive divisor")
	}
	if num < 0 || num > den {
		panic(fmt.Sprintf("amount: multiplier %d/%d out of range", num, den))
	}
	if a < 0 {
		panic("amount: negative amount")
	}
	hi, lo := bits.Mul64(uint64(a), uint64(num))
	q, _ := bits.Div64(hi, lo, uint64(den))
	return Amount(q)
}

// Format renders the amount in major units with a fixed number of decimals.
// Format(6) on Amount(990_000) returns "0.990000".
func (a Amount) Format(decimals int32) string {
	return decimal.New(int64(a), -decimals).StringFixed(decimals)
}

// String returns the amount in smallest units.
func (a Amount) String() string {
	return fmt.Sprintf("%d", int64(a))
}

// ParseAmount parses a major-unit decimal string ("1.5") into an Amount with
// the given number of decimals. Values with more precision than decimals,
// negative values and values beyond MaxAmount are rejected.
func ParseAmount(s string, decimals int32) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("amount: parse %q: %w", s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("amount: parse %q: negative value", s)
	}
	units := d.Shift(decimals)
	if !units.IsInteger() {
		return 0, fmt.Errorf("amount: parse %q: more than %d decimals", s, decimals)
	}
	if units.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, fmt.Errorf("amount: parse %q: out of range", s)
	}
	return Amount(units.IntPart()), nil
}

// Sum adds amounts. The second result is false when the total overflows.
func Sum(values ...Amount) (Amount, bool) {
	var total Amount
	for _, v := range values {
		var ok bool
		if total, ok = total.Add(v); !ok {
			return 0, false
		}
	}
	return total, true
}
