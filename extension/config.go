package extension

import (
	"time"

	"github.com/xraph/remittance"
	"github.com/xraph/remittance/access"
	"github.com/xraph/remittance/api"
	"github.com/xraph/remittance/fee"
	"github.com/xraph/remittance/plugin"
	"github.com/xraph/remittance/store/backend"
	"github.com/xraph/remittance/types"
)

// Config holds the Remittance extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.remittance" or "remittance" keys).
type Config struct {
	// DisableRoutes prevents building the HTTP handler.
	DisableRoutes bool `json:"disable_routes" mapstructure:"disable_routes" yaml:"disable_routes"`

	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// BasePath is the URL prefix for remittance routes (default: "/remittance").
	BasePath string `json:"base_path" mapstructure:"base_path" yaml:"base_path"`

	// Owner is granted OWNER_ROLE when the store is initialized. Required
	// for an empty store.
	Owner string `json:"owner" mapstructure:"owner" yaml:"owner"`

	// DefaultFeePercentage is the fee rate written when the store is
	// initialized (default: 1). A pointer so that 0 can be configured.
	DefaultFeePercentage *int `json:"default_fee_percentage" mapstructure:"default_fee_percentage" yaml:"default_fee_percentage"`

	// MinAmount and MaxAmount bound the gross amount of a payment, in
	// smallest currency units (default: 10000 and 100000000).
	MinAmount int64 `json:"min_amount" mapstructure:"min_amount" yaml:"min_amount"`
	MaxAmount int64 `json:"max_amount" mapstructure:"max_amount" yaml:"max_amount"`

	// PaymentDuration is the claim window of a new payment (default: 168h).
	PaymentDuration time.Duration `json:"payment_duration" mapstructure:"payment_duration" yaml:"payment_duration"`

	// PluginTimeout bounds each plugin hook call (default: 5s).
	PluginTimeout time.Duration `json:"plugin_timeout" mapstructure:"plugin_timeout" yaml:"plugin_timeout"`

	// Store selects the backend when no store was passed with WithStore.
	Store backend.Config `json:"store" mapstructure:"store" yaml:"store"`

	// Decimals is the major-unit scale of the native asset, used for
	// amount_decimal request fields and human-readable reports (default: 6).
	Decimals int32 `json:"decimals" mapstructure:"decimals" yaml:"decimals"`

	// JWTSecret verifies bearer tokens on the HTTP routes.
	JWTSecret string `json:"jwt_secret" mapstructure:"jwt_secret" yaml:"jwt_secret"`

	// JWTIssuer, when set, must match the iss claim of bearer tokens.
	JWTIssuer string `json:"jwt_issuer" mapstructure:"jwt_issuer" yaml:"jwt_issuer"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	pct := fee.Default.Int()
	return Config{
		BasePath:             "/remittance",
		DefaultFeePercentage: &pct,
		MinAmount:            int64(remittance.DefaultMinAmount),
		MaxAmount:            int64(remittance.DefaultMaxAmount),
		PaymentDuration:      remittance.DefaultPaymentDuration,
		PluginTimeout:        plugin.DefaultTimeout,
		Decimals:             api.DefaultDecimals,
		Store:                backend.Config{Driver: backend.DriverMemory},
	}
}

// LedgerOptions converts the engine settings of c into remittance options.
// Zero values leave the engine defaults in place.
func (c Config) LedgerOptions() []remittance.Option {
	var opts []remittance.Option

	if c.Owner != "" {
		opts = append(opts, remittance.WithOwner(access.Principal(c.Owner)))
	}
	if c.DefaultFeePercentage != nil {
		opts = append(opts, remittance.WithDefaultFeePercentage(fee.Percentage(*c.DefaultFeePercentage)))
	}
	if c.MinAmount != 0 || c.MaxAmount != 0 {
		opts = append(opts, remittance.WithAmountBounds(types.Amount(c.MinAmount), types.Amount(c.MaxAmount)))
	}
	if c.PaymentDuration > 0 {
		opts = append(opts, remittance.WithPaymentDuration(c.PaymentDuration))
	}
	if c.PluginTimeout > 0 {
		opts = append(opts, remittance.WithPluginTimeout(c.PluginTimeout))
	}
	if c.DisableMigrate {
		opts = append(opts, remittance.WithSkipMigrate())
	}
	return opts
}
