package remittance

import (
	"github.com/xraph/remittance/access"
	"github.com/xraph/remittance/fee"
	"github.com/xraph/remittance/types"
)

// Re-export common types for convenience so users don't have to import the
// leaf packages for everyday calls.

// Amount is re-exported from types package.
type Amount = types.Amount

// Entity is re-exported from types package.
type Entity = types.Entity

// Principal is re-exported from access package.
type Principal = access.Principal

// Role is re-exported from access package.
type Role = access.Role

// FeePercentage is re-exported from fee package.
type FeePercentage = fee.Percentage

// OwnerRole is the administrative role.
const OwnerRole = access.OwnerRole

// Re-export helpers
var (
	ParseAmount = types.ParseAmount
	SplitFee    = fee.Split
	NewEntity   = types.NewEntity
)
