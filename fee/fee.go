// Package fee computes the treasury's cut of a payment.
package fee

import "github.com/xraph/remittance/types"

// Percentage is a whole-number fee rate in [0, 100].
type Percentage int

const (
	Default Percentage = 1
	Max     Percentage = 100
)

func (p Percentage) Valid() bool { return p >= 0 && p <= Max }

func (p Percentage) Int() int { return int(p) }

// Split divides gross into the recipient's net amount and the fee residual.
// net is floor(gross*(100-p)/100), so the residual absorbs any rounding and
// net+fee always equals gross. p must be valid and gross non-negative.
func Split(gross types.Amount, p Percentage) (net, fee types.Amount) {
	net = gross.MulDiv(int64(Max-p), int64(Max))
	return net, gross - net
}
