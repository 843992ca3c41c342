// Package observability provides a metrics extension for the remittance
// ledger that records committed activity through a MetricFactory.
package observability

import (
	"context"
	"errors"

	"github.com/xraph/remittance"
	"github.com/xraph/remittance/access"
	"github.com/xraph/remittance/event"
	"github.com/xraph/remittance/fee"
	"github.com/xraph/remittance/payment"
	"github.com/xraph/remittance/plugin"
	"github.com/xraph/remittance/treasury"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                 = (*MetricsExtension)(nil)
	_ plugin.OnInit                 = (*MetricsExtension)(nil)
	_ plugin.OnPaymentSent          = (*MetricsExtension)(nil)
	_ plugin.OnPaymentClaimed       = (*MetricsExtension)(nil)
	_ plugin.OnFeePercentageChanged = (*MetricsExtension)(nil)
	_ plugin.OnPauseChanged         = (*MetricsExtension)(nil)
	_ plugin.OnWithdrawn            = (*MetricsExtension)(nil)
	_ plugin.OnRoleGranted          = (*MetricsExtension)(nil)
	_ plugin.OnRoleRevoked          = (*MetricsExtension)(nil)
	_ plugin.OnEventCommitted       = (*MetricsExtension)(nil)
	_ plugin.OnOperationRejected    = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records ledger metrics. Amounts are observed in smallest
// currency units.
type MetricsExtension struct {
	factory MetricFactory

	// Payment metrics
	PaymentsSent    Counter
	PaymentsClaimed Counter
	GrossAmount     Histogram
	NetAmount       Histogram
	FeeAmount       Histogram
	ClaimedAmount   Histogram

	// Administrative metrics
	FeeChanges  Counter
	FeeRate     Histogram
	Pauses      Counter
	Unpauses    Counter
	Withdrawals Counter
	Withdrawn   Histogram
	RoleGrants  Counter
	RoleRevokes Counter

	// Event log metrics
	EventsCommitted Counter

	// Error metrics
	Rejected         Counter
	Unauthorized     Counter
	TransferFailures Counter
	InternalFailures Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use NewPrometheusFactory for a Prometheus registry.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		PaymentsSent:    factory.Counter("remittance.payment.sent"),
		PaymentsClaimed: factory.Counter("remittance.payment.claimed"),
		GrossAmount:     factory.Histogram("remittance.payment.gross_amount"),
		NetAmount:       factory.Histogram("remittance.payment.net_amount"),
		FeeAmount:       factory.Histogram("remittance.payment.fee_amount"),
		ClaimedAmount:   factory.Histogram("remittance.payment.claimed_amount"),

		FeeChanges:  factory.Counter("remittance.fee.changed"),
		FeeRate:     factory.Histogram("remittance.fee.percentage"),
		Pauses:      factory.Counter("remittance.ledger.paused"),
		Unpauses:    factory.Counter("remittance.ledger.unpaused"),
		Withdrawals: factory.Counter("remittance.treasury.withdrawals"),
		Withdrawn:   factory.Histogram("remittance.treasury.withdrawn_amount"),
		RoleGrants:  factory.Counter("remittance.role.granted"),
		RoleRevokes: factory.Counter("remittance.role.revoked"),

		EventsCommitted: factory.Counter("remittance.events.committed"),

		Rejected:         factory.Counter("remittance.operation.rejected"),
		Unauthorized:     factory.Counter("remittance.operation.unauthorized"),
		TransferFailures: factory.Counter("remittance.transfer.failures"),
		InternalFailures: factory.Counter("remittance.internal.failures"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ any) error {
	return nil
}

// ──────────────────────────────────────────────────
// Payment hooks
// ──────────────────────────────────────────────────

// OnPaymentSent implements plugin.OnPaymentSent.
func (m *MetricsExtension) OnPaymentSent(_ context.Context, p *payment.Payment) error {
	m.PaymentsSent.Inc()
	m.GrossAmount.Observe(float64(p.GrossAmount))
	m.NetAmount.Observe(float64(p.NetAmount))
	m.FeeAmount.Observe(float64(p.FeeAmount))
	return nil
}

// OnPaymentClaimed implements plugin.OnPaymentClaimed.
func (m *MetricsExtension) OnPaymentClaimed(_ context.Context, p *payment.Payment) error {
	m.PaymentsClaimed.Inc()
	m.ClaimedAmount.Observe(float64(p.NetAmount))
	return nil
}

// ──────────────────────────────────────────────────
// Administrative hooks
// ──────────────────────────────────────────────────

// OnFeePercentageChanged implements plugin.OnFeePercentageChanged.
func (m *MetricsExtension) OnFeePercentageChanged(_ context.Context, _ access.Principal, _, newPct fee.Percentage) error {
	m.FeeChanges.Inc()
	m.FeeRate.Observe(float64(newPct))
	return nil
}

// OnPauseChanged implements plugin.OnPauseChanged.
func (m *MetricsExtension) OnPauseChanged(_ context.Context, _ access.Principal, paused bool) error {
	if paused {
		m.Pauses.Inc()
	} else {
		m.Unpauses.Inc()
	}
	return nil
}

// OnWithdrawn implements plugin.OnWithdrawn.
func (m *MetricsExtension) OnWithdrawn(_ context.Context, w *treasury.Withdrawal) error {
	m.Withdrawals.Inc()
	m.Withdrawn.Observe(float64(w.Amount))
	return nil
}

// OnRoleGranted implements plugin.OnRoleGranted.
func (m *MetricsExtension) OnRoleGranted(_ context.Context, _ *access.Grant) error {
	m.RoleGrants.Inc()
	return nil
}

// OnRoleRevoked implements plugin.OnRoleRevoked.
func (m *MetricsExtension) OnRoleRevoked(_ context.Context, _ access.Role, _, _ access.Principal) error {
	m.RoleRevokes.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Event log and error hooks
// ──────────────────────────────────────────────────

// OnEventCommitted implements plugin.OnEventCommitted.
func (m *MetricsExtension) OnEventCommitted(_ context.Context, _ *event.Event) error {
	m.EventsCommitted.Inc()
	return nil
}

// OnOperationRejected implements plugin.OnOperationRejected.
func (m *MetricsExtension) OnOperationRejected(_ context.Context, _ string, _ access.Principal, err error) error {
	m.Rejected.Inc()
	switch {
	case remittance.IsAuthorization(err):
		m.Unauthorized.Inc()
	case errors.Is(err, remittance.ErrTransferFailed):
		m.TransferFailures.Inc()
	case remittance.KindOf(err) == remittance.KindInternal:
		m.InternalFailures.Inc()
	}
	return nil
}
