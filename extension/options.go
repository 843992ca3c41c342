package extension

import (
	"time"

	"github.com/xraph/remittance"
	"github.com/xraph/remittance/custody"
	"github.com/xraph/remittance/plugin"
	"github.com/xraph/remittance/store"
	"github.com/xraph/remittance/store/backend"
)

// Option configures the Remittance Forge extension.
type Option func(*Extension)

// WithStore sets the store for the ledger engine. It takes precedence over
// the configured store driver.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithTransferer sets the value-transfer substrate for claims and
// withdrawals.
func WithTransferer(t custody.Transferer) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, remittance.WithTransferer(t))
	}
}

// WithLedgerOption passes a remittance.Option through to the underlying engine.
func WithLedgerOption(opt remittance.Option) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, opt)
	}
}

// WithPlugin registers a ledger plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, remittance.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableRoutes prevents building the HTTP handler.
func WithDisableRoutes() Option {
	return func(e *Extension) { e.config.DisableRoutes = true }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithBasePath sets the URL prefix for remittance routes.
func WithBasePath(path string) Option {
	return func(e *Extension) { e.config.BasePath = path }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithOwner names the principal granted OWNER_ROLE on an empty store.
func WithOwner(owner string) Option {
	return func(e *Extension) { e.config.Owner = owner }
}

// WithDefaultFeePercentage sets the fee rate written on an empty store.
func WithDefaultFeePercentage(pct int) Option {
	return func(e *Extension) { e.config.DefaultFeePercentage = &pct }
}

// WithAmountBounds sets the inclusive gross amount range of a payment.
func WithAmountBounds(minAmount, maxAmount int64) Option {
	return func(e *Extension) {
		e.config.MinAmount = minAmount
		e.config.MaxAmount = maxAmount
	}
}

// WithPaymentDuration sets the claim window of new payments.
func WithPaymentDuration(d time.Duration) Option {
	return func(e *Extension) { e.config.PaymentDuration = d }
}

// WithStoreConfig selects the store backend opened on Register when no
// store was passed with WithStore.
func WithStoreConfig(cfg backend.Config) Option {
	return func(e *Extension) { e.config.Store = cfg }
}

// WithJWTSecret sets the HMAC secret that verifies bearer tokens.
func WithJWTSecret(secret string) Option {
	return func(e *Extension) { e.config.JWTSecret = secret }
}
