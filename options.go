package remittance

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/xraph/remittance/access"
	"github.com/xraph/remittance/clock"
	"github.com/xraph/remittance/custody"
	"github.com/xraph/remittance/fee"
	"github.com/xraph/remittance/plugin"
	"github.com/xraph/remittance/types"
)

const (
	// DefaultMinAmount is 0.01 of a six-decimal asset.
	DefaultMinAmount types.Amount = 10_000
	// DefaultMaxAmount is 100 of a six-decimal asset.
	DefaultMaxAmount types.Amount = 100_000_000
	// DefaultPaymentDuration is the claim window of a new payment.
	DefaultPaymentDuration = 7 * 24 * time.Hour

	// maxBound keeps gross*100 inside int64.
	maxBound types.Amount = math.MaxInt64 / 100
)

// Option configures a Ledger instance.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger == nil {
			return
		}
		l.logger = logger
		l.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(l *Ledger) {
		if err := l.plugins.Register(p); err != nil {
			l.logger.Warn("plugin registration failed", "plugin", p.Name(), "error", err)
		}
	}
}

// WithPluginTimeout bounds each plugin hook call.
func WithPluginTimeout(d time.Duration) Option {
	return func(l *Ledger) {
		l.plugins.WithTimeout(d)
	}
}

// WithClock sets the time source used for createdAt and expiry checks.
func WithClock(c clock.Clock) Option {
	return func(l *Ledger) {
		if c != nil {
			l.clock = c
		}
	}
}

// WithTransferer sets the value-transfer substrate used by claims and
// withdrawals. The default is an in-process custody.Vault.
func WithTransferer(t custody.Transferer) Option {
	return func(l *Ledger) {
		if t != nil {
			l.transferer = t
		}
	}
}

// WithOwner names the principal granted OWNER_ROLE when Start initializes an
// empty store. It is ignored for a store that already holds ledger state.
func WithOwner(p access.Principal) Option {
	return func(l *Ledger) {
		l.owner = p
	}
}

// WithAmountBounds sets the inclusive gross amount range of a payment.
func WithAmountBounds(minAmount, maxAmount types.Amount) Option {
	return func(l *Ledger) {
		if minAmount <= 0 || maxAmount < minAmount || maxAmount > maxBound {
			l.configErr = invalid("amount_bounds",
				fmt.Sprintf("need 0 < min <= max <= %d, got [%d, %d]", maxBound, minAmount, maxAmount))
			return
		}
		l.minAmount = minAmount
		l.maxAmount = maxAmount
	}
}

// WithPaymentDuration sets the claim window of new payments.
func WithPaymentDuration(d time.Duration) Option {
	return func(l *Ledger) {
		if d <= 0 {
			l.configErr = invalid("payment_duration", "must be positive")
			return
		}
		l.paymentDuration = d
	}
}

// WithDefaultFeePercentage sets the fee rate written when Start initializes
// an empty store.
func WithDefaultFeePercentage(p fee.Percentage) Option {
	return func(l *Ledger) {
		if !p.Valid() {
			l.configErr = fmt.Errorf("%w: default %d", ErrInvalidFeePercentage, p)
			return
		}
		l.defaultFee = p
	}
}

// WithSkipMigrate makes Start assume the schema already exists.
func WithSkipMigrate() Option {
	return func(l *Ledger) {
		l.skipMigrate = true
	}
}
